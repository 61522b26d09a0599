package model

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryReceipt is the backend's acknowledgment of one sent message.
type DeliveryReceipt struct {
	MessageID   string    `json:"messageId"`
	Destination string    `json:"destination"`
	Timestamp   time.Time `json:"timestamp"`
}

// SlotStage names the step at which a slot failed.
type SlotStage string

const (
	StagePick     SlotStage = "pick"
	StageQuestion SlotStage = "question"
	StageAnswer   SlotStage = "answer"
)

type SlotResult struct {
	Index      int              `json:"index"`
	QuestionID int              `json:"questionId,omitempty"`
	Question   *DeliveryReceipt `json:"question,omitempty"`
	Answer     *DeliveryReceipt `json:"answer,omitempty"`
	Stage      SlotStage        `json:"stage,omitempty"`
	Err        error            `json:"-"`
	Error      string           `json:"error,omitempty"`
}

func (r SlotResult) Succeeded() bool {
	return r.Err == nil && r.Question != nil && r.Answer != nil
}

// BatchReport 一次批量发送的结果
type BatchReport struct {
	RunID      string       `json:"runId"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	Total      int          `json:"total"`
	Slots      []SlotResult `json:"slots"`
}

func NewBatchReport(total int) *BatchReport {
	return &BatchReport{
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
		Total:     total,
		Slots:     make([]SlotResult, 0, total),
	}
}

func (b *BatchReport) SuccessCount() int {
	n := 0
	for _, s := range b.Slots {
		if s.Succeeded() {
			n++
		}
	}
	return n
}

// Succeeded is true only when every planned slot ran and succeeded.
func (b *BatchReport) Succeeded() bool {
	return len(b.Slots) == b.Total && b.SuccessCount() == b.Total
}

func (b *BatchReport) FailedSlots() []SlotResult {
	var failed []SlotResult
	for _, s := range b.Slots {
		if !s.Succeeded() {
			failed = append(failed, s)
		}
	}
	return failed
}
