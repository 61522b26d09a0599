package service

import (
	"context"
	"sync"
	"time"

	"mcq_bot/internal/model"
	"mcq_bot/internal/util"
	"mcq_bot/pkg/logger"
	"mcq_bot/pkg/monitoring"
	"mcq_bot/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Sender interface {
	Send(ctx context.Context, destination, text string) (model.DeliveryReceipt, error)
}

type QuestionPicker interface {
	Next() (model.Question, error)
}

type DispatchOptions struct {
	QuestionsChannel  string
	AnswersChannel    string
	DailyQuestions    int
	RevealDelay       time.Duration
	SlotDelay         time.Duration
	SendRatePerMinute int
}

// DispatchService runs a daily batch: each slot sends a question to the
// questions destination and, after the reveal delay, its answer to the
// answers destination. Slots run strictly one after another.
type DispatchService struct {
	sender    Sender
	picker    QuestionPicker
	formatter *MessageFormatter

	mu      sync.RWMutex
	opts    DispatchOptions
	limiter *rate.Limiter
	last    *model.BatchReport

	runMu sync.Mutex
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatchService(sender Sender, picker QuestionPicker, formatter *MessageFormatter, opts DispatchOptions) *DispatchService {
	if formatter == nil {
		formatter = NewMessageFormatter()
	}
	s := &DispatchService{
		sender:    sender,
		picker:    picker,
		formatter: formatter,
		sleep:     sleepContext,
	}
	s.UpdateOptions(opts)
	return s
}

// UpdateOptions swaps batch settings; a running batch keeps the ones it
// started with.
func (s *DispatchService) UpdateOptions(opts DispatchOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = opts
	s.limiter = newSendLimiter(opts.SendRatePerMinute)
}

func (s *DispatchService) Options() DispatchOptions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts
}

// LastReport is the report of the most recent finished batch, or nil.
func (s *DispatchService) LastReport() *model.BatchReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func newSendLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute)
}

// RunBatch returns the report even on failure. The error is a *util.BatchError
// when some slots failed, or the context error when the run was cut short.
func (s *DispatchService) RunBatch(ctx context.Context) (*model.BatchReport, error) {
	if !s.runMu.TryLock() {
		return nil, util.ErrBatchRunning
	}
	defer s.runMu.Unlock()

	s.mu.RLock()
	opts, limiter := s.opts, s.limiter
	s.mu.RUnlock()

	total := opts.DailyQuestions
	report := model.NewBatchReport(total)

	ctx, span := tracing.Tracer.Start(ctx, "batch.run", trace.WithAttributes(
		attribute.String("run.id", report.RunID),
		attribute.Int("run.total", total),
	))
	defer span.End()

	log := logger.Log.With(zap.String("runId", report.RunID))
	log.Info("开始发送每日题目", zap.Int("total", total))

	var runErr error
	for slot := 1; slot <= total; slot++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		report.Slots = append(report.Slots, s.runSlot(ctx, log, limiter, opts, slot, total))

		if slot < total {
			if err := s.sleep(ctx, opts.SlotDelay); err != nil {
				runErr = err
				break
			}
		}
	}

	report.FinishedAt = time.Now()
	monitoring.BatchDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	failed := len(report.FailedSlots())
	log.Info("每日题目发送结束",
		zap.Int("succeeded", report.SuccessCount()), zap.Int("failed", failed), zap.Int("total", total))

	if runErr != nil {
		span.SetStatus(codes.Error, runErr.Error())
		return report, runErr
	}
	if failed > 0 {
		err := &util.BatchError{Failed: failed, Total: total}
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}
	return report, nil
}

func (s *DispatchService) runSlot(ctx context.Context, log *zap.Logger, limiter *rate.Limiter, opts DispatchOptions, slot, total int) (result model.SlotResult) {
	ctx, span := tracing.Tracer.Start(ctx, "batch.slot", trace.WithAttributes(attribute.Int("slot", slot)))
	defer span.End()

	result.Index = slot
	defer func() {
		if result.Err != nil {
			result.Error = result.Err.Error()
			span.RecordError(result.Err)
			span.SetStatus(codes.Error, result.Error)
			monitoring.SlotResults.WithLabelValues("failed").Inc()
			log.Error("Slot failed", zap.Int("slot", slot), zap.Int("questionId", result.QuestionID),
				zap.String("stage", string(result.Stage)), zap.Error(result.Err))
			return
		}
		monitoring.SlotResults.WithLabelValues("succeeded").Inc()
	}()

	q, err := s.picker.Next()
	if err != nil {
		result.Stage, result.Err = model.StagePick, err
		return
	}
	result.QuestionID = q.ID
	span.SetAttributes(attribute.Int("question.id", q.ID))

	questionReceipt, err := s.send(ctx, limiter, opts.QuestionsChannel, s.formatter.RenderPrompt(q, slot, total), "question")
	if err != nil {
		result.Stage, result.Err = model.StageQuestion, err
		return
	}
	result.Question = &questionReceipt
	log.Info("题目已发送", zap.Int("slot", slot), zap.Int("questionId", q.ID), zap.String("messageId", questionReceipt.MessageID))

	if err := s.sleep(ctx, opts.RevealDelay); err != nil {
		result.Stage, result.Err = model.StageAnswer, err
		return
	}

	answerReceipt, err := s.send(ctx, limiter, opts.AnswersChannel, s.formatter.RenderReveal(q, slot, total), "answer")
	if err != nil {
		result.Stage, result.Err = model.StageAnswer, err
		return
	}
	result.Answer = &answerReceipt
	log.Info("答案已发送", zap.Int("slot", slot), zap.Int("questionId", q.ID), zap.String("messageId", answerReceipt.MessageID))
	return
}

func (s *DispatchService) send(ctx context.Context, limiter *rate.Limiter, destination, text, kind string) (model.DeliveryReceipt, error) {
	if err := limiter.Wait(ctx); err != nil {
		monitoring.MessagesSent.WithLabelValues(kind, "failed").Inc()
		return model.DeliveryReceipt{}, err
	}
	receipt, err := s.sender.Send(ctx, destination, text)
	if err != nil {
		monitoring.MessagesSent.WithLabelValues(kind, "failed").Inc()
		return model.DeliveryReceipt{}, err
	}
	monitoring.MessagesSent.WithLabelValues(kind, "sent").Inc()
	return receipt, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
