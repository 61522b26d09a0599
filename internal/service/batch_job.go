package service

import (
	"context"
	"sync/atomic"

	"mcq_bot/internal/model"
	"mcq_bot/internal/util"
	"mcq_bot/pkg/logger"

	"go.uber.org/zap"
)

type SessionConnector interface {
	Connect(ctx context.Context) (model.ConnectOutcome, error)
	State() model.SessionState
}

type BatchListener interface {
	OnBatchFinished(report *model.BatchReport)
}

// BatchJob runs a batch against the long-lived session in daemon mode. A
// session that has fallen to a terminal state is connected again first.
type BatchJob struct {
	ctx       context.Context
	session   SessionConnector
	dispatch  *DispatchService
	listeners []BatchListener
	running   atomic.Bool
}

// NewBatchJob: ctx bounds runs started through Start.
func NewBatchJob(ctx context.Context, session SessionConnector, dispatch *DispatchService, listeners ...BatchListener) *BatchJob {
	return &BatchJob{ctx: ctx, session: session, dispatch: dispatch, listeners: listeners}
}

// Run executes one batch synchronously.
func (j *BatchJob) Run(ctx context.Context) (*model.BatchReport, error) {
	if !j.running.CompareAndSwap(false, true) {
		return nil, util.ErrBatchRunning
	}
	defer j.running.Store(false)
	return j.run(ctx)
}

// Start launches a batch in the background and returns at once.
func (j *BatchJob) Start() error {
	if !j.running.CompareAndSwap(false, true) {
		return util.ErrBatchRunning
	}
	go func() {
		defer j.running.Store(false)
		if _, err := j.run(j.ctx); err != nil {
			logger.Log.Error("Batch run failed", zap.Error(err))
		}
	}()
	return nil
}

func (j *BatchJob) Running() bool {
	return j.running.Load()
}

func (j *BatchJob) LastReport() *model.BatchReport {
	return j.dispatch.LastReport()
}

func (j *BatchJob) run(ctx context.Context) (*model.BatchReport, error) {
	if j.session.State() != model.StateOpen {
		outcome, err := j.session.Connect(ctx)
		if err != nil {
			return nil, err
		}
		if outcome != model.OutcomeOpen {
			logger.Log.Warn("Skipping batch, session not open", zap.String("outcome", outcome.String()))
			return nil, util.ErrNotConnected
		}
	}

	report, err := j.dispatch.RunBatch(ctx)
	if report != nil {
		for _, l := range j.listeners {
			l.OnBatchFinished(report)
		}
	}
	return report, err
}
