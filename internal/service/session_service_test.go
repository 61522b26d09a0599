package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mcq_bot/internal/model"
	"mcq_bot/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend runs onConnect for every connection attempt. attempt counts
// from 1. live is the attempt whose connection is currently up. Close waits
// on closeGate when it is set.
type fakeBackend struct {
	mu        sync.Mutex
	onConnect func(attempt int, emit func(model.SessionEvent)) error
	closeGate chan struct{}
	connects  int
	live      int
	sends     []string
	closes    int
	logouts   int
	sendErr   error
	lastCreds model.Credentials
	lastEmit  func(model.SessionEvent)
}

func (b *fakeBackend) Connect(ctx context.Context, creds model.Credentials, emit func(model.SessionEvent)) error {
	b.mu.Lock()
	b.connects++
	n := b.connects
	b.live = n
	b.lastCreds = creds
	b.lastEmit = emit
	fn := b.onConnect
	b.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(n, emit)
}

func (b *fakeBackend) Send(ctx context.Context, destination, text string) (model.DeliveryReceipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return model.DeliveryReceipt{}, b.sendErr
	}
	b.sends = append(b.sends, destination+"|"+text)
	return model.DeliveryReceipt{MessageID: "m", Destination: destination, Timestamp: time.Now()}, nil
}

func (b *fakeBackend) Logout(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logouts++
	return nil
}

func (b *fakeBackend) Close() error {
	if b.closeGate != nil {
		<-b.closeGate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	b.live = 0
	return nil
}

func (b *fakeBackend) liveConnection() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

func (b *fakeBackend) counts() (connects, sends int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects, len(b.sends)
}

func (b *fakeBackend) emitter() func(model.SessionEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastEmit
}

type memCredentials struct {
	mu      sync.Mutex
	creds   model.Credentials
	saves   int
	cleared bool
	loadErr error
	saveErr error
}

func (m *memCredentials) Load() (model.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds, m.loadErr
}

func (m *memCredentials) Save(creds model.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.creds = append(model.Credentials(nil), creds...)
	return nil
}

func (m *memCredentials) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = nil
	m.cleared = true
	return nil
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []model.SessionState
	codes       []string
}

func (r *recordingObserver) OnStateChange(from, to model.SessionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, to)
}

func (r *recordingObserver) OnPairingCode(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, code)
}

func (r *recordingObserver) snapshot() ([]model.SessionState, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.SessionState(nil), r.transitions...), append([]string(nil), r.codes...)
}

func testSessionOptions() SessionOptions {
	return SessionOptions{MaxRetries: 3, ReconnectDelay: time.Millisecond, ConnectTimeout: 2 * time.Second}
}

func openImmediately(_ int, emit func(model.SessionEvent)) error {
	emit(model.OpenEvent())
	return nil
}

func TestSessionService_ConnectOpens(t *testing.T) {
	backend := &fakeBackend{onConnect: openImmediately}
	creds := &memCredentials{creds: model.Credentials(`{"jid":"1@s.whatsapp.net"}`)}
	svc := NewSessionService(backend, creds, testSessionOptions())
	obs := &recordingObserver{}
	svc.Subscribe(obs)

	outcome, err := svc.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeOpen, outcome)
	assert.Equal(t, model.StateOpen, svc.State())
	assert.Equal(t, creds.creds, backend.lastCreds)

	states, _ := obs.snapshot()
	assert.Equal(t, []model.SessionState{model.StateConnecting, model.StateOpen}, states)

	// already open: no second dial
	outcome, err = svc.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeOpen, outcome)
	connects, _ := backend.counts()
	assert.Equal(t, 1, connects)
}

func TestSessionService_SendRequiresOpen(t *testing.T) {
	backend := &fakeBackend{}
	svc := NewSessionService(backend, &memCredentials{}, SessionOptions{MaxRetries: 3, ConnectTimeout: 10 * time.Millisecond})

	_, err := svc.Send(context.Background(), "group", "hello")
	assert.ErrorIs(t, err, util.ErrNotConnected)

	// Connecting but never opened
	outcome, err := svc.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.OutcomePending, outcome)
	assert.Equal(t, model.StateConnecting, svc.State())

	_, err = svc.Send(context.Background(), "group", "hello")
	assert.ErrorIs(t, err, util.ErrNotConnected)
	_, sends := backend.counts()
	assert.Zero(t, sends, "backend must not be touched while not open")
}

func TestSessionService_SendWrapsBackendError(t *testing.T) {
	backend := &fakeBackend{onConnect: openImmediately, sendErr: errors.New("boom")}
	svc := NewSessionService(backend, &memCredentials{}, testSessionOptions())
	_, err := svc.Connect(context.Background())
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), "group", "hello")
	var de *util.DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "group", de.Destination)
}

func TestSessionService_RetryBudgetExhausted(t *testing.T) {
	backend := &fakeBackend{onConnect: func(_ int, emit func(model.SessionEvent)) error {
		emit(model.ClosedEvent(model.ReasonConnectionClosed, errors.New("stream error")))
		return nil
	}}
	svc := NewSessionService(backend, &memCredentials{}, testSessionOptions())

	outcome, err := svc.Connect(context.Background())
	assert.Equal(t, model.OutcomeFailed, outcome)
	assert.ErrorIs(t, err, util.ErrTransientDisconnect)
	assert.Equal(t, model.StateDisconnected, svc.State())

	connects, _ := backend.counts()
	assert.Equal(t, 1+3, connects, "initial attempt plus MaxRetries")
}

func TestSessionService_ConnectErrorCountsAsRetry(t *testing.T) {
	backend := &fakeBackend{onConnect: func(n int, emit func(model.SessionEvent)) error {
		if n < 3 {
			return errors.New("dial tcp: refused")
		}
		emit(model.OpenEvent())
		return nil
	}}
	svc := NewSessionService(backend, &memCredentials{}, testSessionOptions())

	outcome, err := svc.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeOpen, outcome)
	connects, _ := backend.counts()
	assert.Equal(t, 3, connects)
}

func TestSessionService_LoggedOutNoRetry(t *testing.T) {
	backend := &fakeBackend{onConnect: func(_ int, emit func(model.SessionEvent)) error {
		emit(model.ClosedEvent(model.ReasonLoggedOut, nil))
		return nil
	}}
	svc := NewSessionService(backend, &memCredentials{}, testSessionOptions())

	outcome, err := svc.Connect(context.Background())
	assert.Equal(t, model.OutcomeFailed, outcome)
	assert.ErrorIs(t, err, util.ErrLoggedOut)
	connects, _ := backend.counts()
	assert.Equal(t, 1, connects)
}

func TestSessionService_PairingPendingThenOpen(t *testing.T) {
	backend := &fakeBackend{onConnect: func(_ int, emit func(model.SessionEvent)) error {
		emit(model.PairingCodeEvent("2@abc"))
		return nil
	}}
	creds := &memCredentials{}
	svc := NewSessionService(backend, creds, SessionOptions{MaxRetries: 3, ConnectTimeout: 20 * time.Millisecond})
	obs := &recordingObserver{}
	svc.Subscribe(obs)

	outcome, err := svc.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.OutcomePending, outcome)
	assert.Equal(t, model.StatePairing, svc.State())

	_, codes := obs.snapshot()
	assert.Equal(t, []string{"2@abc"}, codes)

	// the user scans later
	emit := backend.emitter()
	emit(model.CredentialsEvent(model.Credentials(`{"jid":"x"}`)))
	emit(model.OpenEvent())

	assert.Equal(t, model.StateOpen, svc.State())
	creds.mu.Lock()
	assert.Equal(t, 1, creds.saves)
	assert.Equal(t, model.Credentials(`{"jid":"x"}`), creds.creds)
	creds.mu.Unlock()
}

func TestSessionService_ContextCancelled(t *testing.T) {
	svc := NewSessionService(&fakeBackend{}, &memCredentials{}, testSessionOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := svc.Connect(ctx)
	assert.Equal(t, model.OutcomePending, outcome)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSessionService_StaleEventsDropped(t *testing.T) {
	backend := &fakeBackend{onConnect: openImmediately}
	svc := NewSessionService(backend, &memCredentials{}, testSessionOptions())
	_, err := svc.Connect(context.Background())
	require.NoError(t, err)
	stale := backend.emitter()

	svc.Disconnect()
	assert.Equal(t, model.StateDisconnected, svc.State())

	_, err = svc.Connect(context.Background())
	require.NoError(t, err)

	// a close from the first connection must not disturb the second
	stale(model.ClosedEvent(model.ReasonLoggedOut, nil))
	assert.Equal(t, model.StateOpen, svc.State())
}

func TestSessionService_DisconnectIdempotent(t *testing.T) {
	backend := &fakeBackend{onConnect: openImmediately}
	svc := NewSessionService(backend, &memCredentials{}, testSessionOptions())

	svc.Disconnect()
	backend.mu.Lock()
	assert.Zero(t, backend.closes)
	backend.mu.Unlock()

	_, err := svc.Connect(context.Background())
	require.NoError(t, err)
	svc.Disconnect()
	svc.Disconnect()

	backend.mu.Lock()
	assert.Equal(t, 1, backend.closes)
	backend.mu.Unlock()
	assert.Equal(t, model.StateDisconnected, svc.State())
}

func TestSessionService_Logout(t *testing.T) {
	backend := &fakeBackend{onConnect: openImmediately}
	creds := &memCredentials{creds: model.Credentials("c")}
	svc := NewSessionService(backend, creds, testSessionOptions())

	assert.ErrorIs(t, svc.Logout(context.Background()), util.ErrNotConnected)

	_, err := svc.Connect(context.Background())
	require.NoError(t, err)
	require.NoError(t, svc.Logout(context.Background()))

	assert.Equal(t, model.StateDisconnected, svc.State())
	assert.True(t, creds.cleared)
	backend.mu.Lock()
	assert.Equal(t, 1, backend.logouts)
	backend.mu.Unlock()
}

func TestSessionService_UnreadableCredentialsStartFresh(t *testing.T) {
	backend := &fakeBackend{onConnect: openImmediately}
	creds := &memCredentials{creds: model.Credentials("junk"), loadErr: errors.New("corrupt")}
	svc := NewSessionService(backend, creds, testSessionOptions())

	_, err := svc.Connect(context.Background())
	require.NoError(t, err)
	assert.Nil(t, backend.lastCreds)
}

func TestSessionService_CredentialSaveFailureKeepsSession(t *testing.T) {
	backend := &fakeBackend{onConnect: openImmediately}
	creds := &memCredentials{creds: model.Credentials("old"), saveErr: errors.New("disk full")}
	svc := NewSessionService(backend, creds, testSessionOptions())

	_, err := svc.Connect(context.Background())
	require.NoError(t, err)

	backend.emitter()(model.CredentialsEvent(model.Credentials("new")))
	assert.Equal(t, model.StateOpen, svc.State())

	receipt, err := svc.Send(context.Background(), "group", "still here")
	require.NoError(t, err)
	assert.Equal(t, "group", receipt.Destination)

	creds.mu.Lock()
	assert.Equal(t, 1, creds.saves)
	assert.Equal(t, model.Credentials("old"), creds.creds)
	creds.mu.Unlock()
}

func TestSessionService_TerminalCloseSparesNewConnection(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeBackend{closeGate: gate, onConnect: func(n int, emit func(model.SessionEvent)) error {
		if n == 1 {
			emit(model.ClosedEvent(model.ReasonLoggedOut, nil))
			return nil
		}
		emit(model.OpenEvent())
		return nil
	}}
	svc := NewSessionService(backend, &memCredentials{}, testSessionOptions())

	outcome, err := svc.Connect(context.Background())
	assert.Equal(t, model.OutcomeFailed, outcome)
	require.ErrorIs(t, err, util.ErrLoggedOut)

	// the close of the failed connection is still in flight when the next
	// connect starts
	time.AfterFunc(20*time.Millisecond, func() { close(gate) })
	outcome, err = svc.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeOpen, outcome)

	assert.Never(t, func() bool { return backend.liveConnection() == 0 }, 100*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 2, backend.liveConnection())
	assert.Equal(t, model.StateOpen, svc.State())
}

func TestSessionService_StaleReconnectTimerIgnored(t *testing.T) {
	backend := &fakeBackend{onConnect: func(_ int, emit func(model.SessionEvent)) error {
		emit(model.ClosedEvent(model.ReasonConnectionClosed, errors.New("stream error")))
		return nil
	}}
	svc := NewSessionService(backend, &memCredentials{}, SessionOptions{
		MaxRetries: 3, ReconnectDelay: time.Hour, ConnectTimeout: 10 * time.Millisecond,
	})
	defer svc.Disconnect()

	outcome, err := svc.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.OutcomePending, outcome)

	svc.mu.Lock()
	stale := svc.timerSeq
	svc.mu.Unlock()

	svc.Disconnect()
	_, err = svc.Connect(context.Background())
	require.NoError(t, err)
	connects, _ := backend.counts()
	require.Equal(t, 2, connects)

	// a timer from before the disconnect fires late
	svc.reconnectDue(stale)
	connects, _ = backend.counts()
	assert.Equal(t, 2, connects)
	assert.Equal(t, model.StateConnecting, svc.State())

	svc.mu.Lock()
	current := svc.timerSeq
	svc.mu.Unlock()
	svc.reconnectDue(current)
	connects, _ = backend.counts()
	assert.Equal(t, 3, connects)
}
