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
	"go.uber.org/zap"
)

// Backend is the messaging transport. Implementations push lifecycle
// notifications through emit, from any goroutine, in the order they happen.
// Connect replaces any previous connection.
type Backend interface {
	Connect(ctx context.Context, creds model.Credentials, emit func(model.SessionEvent)) error
	Send(ctx context.Context, destination, text string) (model.DeliveryReceipt, error)
	Logout(ctx context.Context) error
	Close() error
}

type CredentialStore interface {
	Load() (model.Credentials, error)
	Save(creds model.Credentials) error
	Clear() error
}

// SessionObserver receives state changes and pairing codes. Callbacks run on
// the goroutine that delivered the event and must not block for long.
type SessionObserver interface {
	OnStateChange(from, to model.SessionState)
	OnPairingCode(code string)
}

type SessionOptions struct {
	MaxRetries     int
	ReconnectDelay time.Duration
	ConnectTimeout time.Duration
}

type SessionService struct {
	backend Backend
	creds   CredentialStore
	opts    SessionOptions

	// connMu serialises backend.Connect with the close that follows a
	// terminal failure.
	connMu sync.Mutex

	mu      sync.Mutex
	machine sessionMachine
	changed chan struct{}
	timer   *time.Timer
	// timerSeq identifies the armed reconnect timer; a callback carrying an
	// older value is stale.
	timerSeq  uint64
	gen       uint64
	connCtx   context.Context
	cancel    context.CancelFunc
	observers []SessionObserver
}

func NewSessionService(backend Backend, creds CredentialStore, opts SessionOptions) *SessionService {
	return &SessionService{
		backend: backend,
		creds:   creds,
		opts:    opts,
		machine: newSessionMachine(opts.MaxRetries),
		changed: make(chan struct{}),
	}
}

func (s *SessionService) Subscribe(o SessionObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *SessionService) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.state
}

// Connect starts the session if it is down and waits for it to open. When
// the wait bound elapses first the outcome is OutcomePending with a nil
// error: pairing may still complete later.
func (s *SessionService) Connect(ctx context.Context) (model.ConnectOutcome, error) {
	s.mu.Lock()
	step, ok := s.machine.fire(sessionInput{kind: inputInitiate})
	var gen uint64
	var connCtx context.Context
	var observers []SessionObserver
	if ok {
		gen, connCtx = s.applyLocked(step)
		observers = s.observersLocked()
	}
	s.mu.Unlock()

	if ok {
		logger.Log.Info("Connecting WhatsApp session", zap.Int("maxRetries", s.opts.MaxRetries))
		s.runEffects(step, model.SessionEvent{}, observers)
		s.dial(connCtx, gen)
	}

	timeout := time.NewTimer(s.opts.ConnectTimeout)
	defer timeout.Stop()

	for {
		s.mu.Lock()
		state := s.machine.state
		cause := s.machine.err
		changed := s.changed
		s.mu.Unlock()

		switch state {
		case model.StateOpen:
			return model.OutcomeOpen, nil
		case model.StateDisconnected:
			if cause == nil {
				cause = util.ErrNotConnected
			}
			return model.OutcomeFailed, cause
		}

		select {
		case <-changed:
		case <-timeout.C:
			logger.Log.Warn("Session not open before timeout",
				zap.Duration("timeout", s.opts.ConnectTimeout), zap.String("state", state.String()))
			return model.OutcomePending, nil
		case <-ctx.Done():
			return model.OutcomePending, ctx.Err()
		}
	}
}

func (s *SessionService) Send(ctx context.Context, destination, text string) (model.DeliveryReceipt, error) {
	if s.State() != model.StateOpen {
		return model.DeliveryReceipt{}, util.ErrNotConnected
	}

	ctx, span := tracing.Tracer.Start(ctx, "session.send")
	defer span.End()
	span.SetAttributes(attribute.String("destination", destination))

	receipt, err := s.backend.Send(ctx, destination, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return model.DeliveryReceipt{}, &util.DeliveryError{Destination: destination, Cause: err}
	}
	return receipt, nil
}

// Disconnect closes the transport without unlinking the device. Safe to call
// in any state.
func (s *SessionService) Disconnect() {
	s.mu.Lock()
	step, ok := s.machine.fire(sessionInput{kind: inputDisconnect})
	var observers []SessionObserver
	if ok {
		s.applyLocked(step)
		observers = s.observersLocked()
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	s.runEffects(step, model.SessionEvent{}, observers)
	if err := s.backend.Close(); err != nil {
		logger.Log.Warn("Close backend failed", zap.Error(err))
	}
	s.finishTeardown()
}

// Logout unlinks the device and clears the stored credentials. The session
// must be open.
func (s *SessionService) Logout(ctx context.Context) error {
	s.mu.Lock()
	step, ok := s.machine.fire(sessionInput{kind: inputLogout})
	var observers []SessionObserver
	if ok {
		s.applyLocked(step)
		observers = s.observersLocked()
	}
	s.mu.Unlock()
	if !ok {
		return util.ErrNotConnected
	}

	s.runEffects(step, model.SessionEvent{}, observers)
	err := s.backend.Logout(ctx)
	if err != nil {
		logger.Log.Error("Backend logout failed", zap.Error(err))
	}
	if cerr := s.creds.Clear(); cerr != nil {
		logger.Log.Error("Clear credentials failed", zap.Error(cerr))
	}
	s.finishTeardown()
	return err
}

func (s *SessionService) finishTeardown() {
	s.mu.Lock()
	step, ok := s.machine.fire(sessionInput{kind: inputTeardownDone})
	var observers []SessionObserver
	if ok {
		s.applyLocked(step)
		observers = s.observersLocked()
	}
	s.mu.Unlock()
	if ok {
		s.runEffects(step, model.SessionEvent{}, observers)
	}
}

// handle is the emit callback given to the backend for connection gen.
func (s *SessionService) handle(gen uint64, ev model.SessionEvent) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		logger.Log.Debug("Dropping event from stale connection", zap.String("event", ev.Kind.String()))
		return
	}
	step, ok := s.machine.fire(backendInput(ev))
	if !ok {
		state := s.machine.state
		s.mu.Unlock()
		logger.Log.Debug("Ignoring session event", zap.String("event", ev.Kind.String()), zap.String("state", state.String()))
		return
	}
	current, _ := s.applyLocked(step)
	observers := s.observersLocked()
	s.mu.Unlock()

	if ev.Kind == model.EventClosed {
		logger.Log.Warn("Session closed",
			zap.String("reason", ev.Reason.String()), zap.Error(ev.Err), zap.String("next", step.To.String()))
	}
	s.runEffects(step, ev, observers)

	// 终止状态下主动关闭底层连接，在新 goroutine 里避免阻塞 backend 的事件回调
	if step.To == model.StateDisconnected && step.Err != nil {
		go s.closeFailed(current)
	}
}

// closeFailed releases the transport of connection gen unless a newer
// connection has been dialled since.
func (s *SessionService) closeFailed(gen uint64) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.mu.Lock()
	stale := gen != s.gen
	s.mu.Unlock()
	if stale {
		logger.Log.Debug("Skip closing backend, a newer connection exists")
		return
	}
	if err := s.backend.Close(); err != nil {
		logger.Log.Debug("Close backend after terminal disconnect", zap.Error(err))
	}
}

func (s *SessionService) reconnectDue(seq uint64) {
	s.mu.Lock()
	if seq != s.timerSeq {
		s.mu.Unlock()
		logger.Log.Debug("Dropping stale reconnect timer")
		return
	}
	step, ok := s.machine.fire(sessionInput{kind: inputReconnectDue})
	if !ok {
		s.mu.Unlock()
		return
	}
	gen, connCtx := s.applyLocked(step)
	retries := s.machine.retries
	s.mu.Unlock()

	logger.Log.Info("Reconnecting WhatsApp session", zap.Int("attempt", retries), zap.Int("maxRetries", s.opts.MaxRetries))
	s.dial(connCtx, gen)
}

// dial runs one backend connection attempt. A failed call is fed back as a
// transient close so the retry budget applies.
func (s *SessionService) dial(ctx context.Context, gen uint64) {
	creds, err := s.creds.Load()
	if err != nil {
		logger.Log.Warn("Stored credentials unreadable, starting fresh pairing", zap.Error(err))
		creds = nil
	}

	s.connMu.Lock()
	err = s.backend.Connect(ctx, creds, func(ev model.SessionEvent) { s.handle(gen, ev) })
	s.connMu.Unlock()
	if err != nil {
		logger.Log.Error("Backend connect failed", zap.Error(err))
		s.handle(gen, model.ClosedEvent(model.ReasonConnectionClosed, err))
	}
}

// applyLocked performs the in-memory part of a transition: wake waiters,
// metrics, timers and the connection generation.
func (s *SessionService) applyLocked(step transition) (uint64, context.Context) {
	if step.From != step.To {
		close(s.changed)
		s.changed = make(chan struct{})
		monitoring.SessionTransitions.WithLabelValues(step.From.String(), step.To.String()).Inc()
		monitoring.SessionState.Set(float64(step.To))
	}

	switch step.Effect {
	case effectConnect:
		s.stopTimerLocked()
		s.cancelConnLocked()
		s.gen++
		s.connCtx, s.cancel = context.WithCancel(context.Background())
	case effectScheduleReconnect:
		s.stopTimerLocked()
		seq := s.timerSeq
		s.timer = time.AfterFunc(s.opts.ReconnectDelay, func() { s.reconnectDue(seq) })
		monitoring.SessionReconnects.Inc()
	case effectClose, effectLogout:
		s.stopTimerLocked()
		s.gen++
	}

	if step.To == model.StateDisconnected {
		s.stopTimerLocked()
		s.cancelConnLocked()
	}
	return s.gen, s.connCtx
}

func (s *SessionService) stopTimerLocked() {
	s.timerSeq++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *SessionService) cancelConnLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *SessionService) observersLocked() []SessionObserver {
	out := make([]SessionObserver, len(s.observers))
	copy(out, s.observers)
	return out
}

// runEffects does the I/O side of a transition, outside the lock and in
// event order.
func (s *SessionService) runEffects(step transition, ev model.SessionEvent, observers []SessionObserver) {
	switch step.Effect {
	case effectPersistCredentials:
		if err := s.creds.Save(ev.Credentials); err != nil {
			logger.Log.Error("Persist session credentials failed", zap.Error(err))
		} else {
			logger.Log.Debug("Session credentials saved")
		}
	case effectShowCode:
		for _, o := range observers {
			o.OnPairingCode(ev.Code)
		}
	}

	if step.From != step.To {
		logger.Log.Info("Session state changed",
			zap.String("from", step.From.String()), zap.String("to", step.To.String()), zap.Error(step.Err))
		for _, o := range observers {
			o.OnStateChange(step.From, step.To)
		}
	}
}
