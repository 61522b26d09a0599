package service

import (
	"errors"
	"testing"

	"mcq_bot/internal/model"
	"mcq_bot/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closed(reason model.DisconnectReason) sessionInput {
	return backendInput(model.ClosedEvent(reason, errors.New("closed")))
}

func mustFire(t *testing.T, m *sessionMachine, in sessionInput) transition {
	t.Helper()
	step, ok := m.fire(in)
	require.True(t, ok, "input %+v rejected in state %s", in, m.state)
	return step
}

func TestMachine_InitiateFromDisconnected(t *testing.T) {
	m := newSessionMachine(3)

	step := mustFire(t, &m, sessionInput{kind: inputInitiate})
	assert.Equal(t, model.StateDisconnected, step.From)
	assert.Equal(t, model.StateConnecting, step.To)
	assert.Equal(t, effectConnect, step.Effect)

	_, ok := m.fire(sessionInput{kind: inputInitiate})
	assert.False(t, ok, "initiate only valid from Disconnected")
}

func TestMachine_NeverOpensFromDisconnected(t *testing.T) {
	m := newSessionMachine(3)

	_, ok := m.fire(backendInput(model.OpenEvent()))
	assert.False(t, ok)
	assert.Equal(t, model.StateDisconnected, m.state)

	_, ok = m.fire(backendInput(model.PairingCodeEvent("code")))
	assert.False(t, ok)
	assert.Equal(t, model.StateDisconnected, m.state)
}

func TestMachine_PairingFlow(t *testing.T) {
	m := newSessionMachine(3)
	mustFire(t, &m, sessionInput{kind: inputInitiate})

	step := mustFire(t, &m, backendInput(model.PairingCodeEvent("ref-1")))
	assert.Equal(t, model.StatePairing, step.To)
	assert.Equal(t, effectShowCode, step.Effect)

	// rotated code
	step = mustFire(t, &m, backendInput(model.PairingCodeEvent("ref-2")))
	assert.Equal(t, model.StatePairing, step.From)
	assert.Equal(t, model.StatePairing, step.To)
	assert.Equal(t, effectShowCode, step.Effect)

	step = mustFire(t, &m, backendInput(model.CredentialsEvent(model.Credentials(`{}`))))
	assert.Equal(t, effectPersistCredentials, step.Effect)
	assert.Equal(t, model.StatePairing, step.To)

	step = mustFire(t, &m, backendInput(model.OpenEvent()))
	assert.Equal(t, model.StateOpen, step.To)
	assert.Equal(t, 0, m.retries)
}

func TestMachine_RetryBudget(t *testing.T) {
	m := newSessionMachine(3)
	mustFire(t, &m, sessionInput{kind: inputInitiate})

	for i := 1; i <= 3; i++ {
		step := mustFire(t, &m, closed(model.ReasonConnectionClosed))
		assert.Equal(t, model.StateConnecting, step.To)
		assert.Equal(t, effectScheduleReconnect, step.Effect)
		assert.Equal(t, i, m.retries)

		// duplicate close while the reconnect is pending does not count
		_, ok := m.fire(closed(model.ReasonConnectionClosed))
		assert.False(t, ok)

		mustFire(t, &m, sessionInput{kind: inputReconnectDue})
	}

	step := mustFire(t, &m, closed(model.ReasonConnectionClosed))
	assert.Equal(t, model.StateDisconnected, step.To)
	assert.ErrorIs(t, step.Err, util.ErrTransientDisconnect)
	assert.ErrorIs(t, m.err, util.ErrTransientDisconnect)

	_, ok := m.fire(sessionInput{kind: inputReconnectDue})
	assert.False(t, ok, "no reconnect after terminal state")
}

func TestMachine_OpenResetsRetries(t *testing.T) {
	m := newSessionMachine(1)
	mustFire(t, &m, sessionInput{kind: inputInitiate})
	mustFire(t, &m, closed(model.ReasonConnectionClosed))
	mustFire(t, &m, sessionInput{kind: inputReconnectDue})
	mustFire(t, &m, backendInput(model.OpenEvent()))
	assert.Equal(t, 0, m.retries)

	step := mustFire(t, &m, closed(model.ReasonConnectionReplaced))
	assert.Equal(t, model.StateConnecting, step.To, "budget restored after open")
}

func TestMachine_LoggedOutIsTerminal(t *testing.T) {
	m := newSessionMachine(3)
	mustFire(t, &m, sessionInput{kind: inputInitiate})
	mustFire(t, &m, backendInput(model.OpenEvent()))

	step := mustFire(t, &m, closed(model.ReasonLoggedOut))
	assert.Equal(t, model.StateDisconnected, step.To)
	assert.Equal(t, effectNone, step.Effect)
	assert.ErrorIs(t, step.Err, util.ErrLoggedOut)
	assert.Equal(t, 0, m.retries)
}

func TestMachine_PairingExpiry(t *testing.T) {
	m := newSessionMachine(1)
	mustFire(t, &m, sessionInput{kind: inputInitiate})
	mustFire(t, &m, backendInput(model.PairingCodeEvent("ref")))

	step := mustFire(t, &m, closed(model.ReasonTimedOut))
	assert.Equal(t, model.StateConnecting, step.To)
	mustFire(t, &m, sessionInput{kind: inputReconnectDue})
	mustFire(t, &m, backendInput(model.PairingCodeEvent("ref-2")))

	step = mustFire(t, &m, closed(model.ReasonTimedOut))
	assert.Equal(t, model.StateDisconnected, step.To)
	assert.ErrorIs(t, step.Err, util.ErrPairingExpired)
}

func TestMachine_ZeroRetries(t *testing.T) {
	m := newSessionMachine(0)
	mustFire(t, &m, sessionInput{kind: inputInitiate})

	step := mustFire(t, &m, closed(model.ReasonConnectionClosed))
	assert.Equal(t, model.StateDisconnected, step.To)
	assert.ErrorIs(t, step.Err, util.ErrTransientDisconnect)
}

func TestMachine_Logout(t *testing.T) {
	m := newSessionMachine(3)

	_, ok := m.fire(sessionInput{kind: inputLogout})
	assert.False(t, ok, "logout needs an open session")

	mustFire(t, &m, sessionInput{kind: inputInitiate})
	mustFire(t, &m, backendInput(model.OpenEvent()))

	step := mustFire(t, &m, sessionInput{kind: inputLogout})
	assert.Equal(t, model.StateClosing, step.To)
	assert.Equal(t, effectLogout, step.Effect)

	// a close while closing never retries
	step = mustFire(t, &m, closed(model.ReasonConnectionClosed))
	assert.Equal(t, model.StateDisconnected, step.To)
	assert.NoError(t, step.Err)

	_, ok = m.fire(sessionInput{kind: inputTeardownDone})
	assert.False(t, ok)
}

func TestMachine_Disconnect(t *testing.T) {
	m := newSessionMachine(3)

	_, ok := m.fire(sessionInput{kind: inputDisconnect})
	assert.False(t, ok, "disconnect is a no-op when already down")

	mustFire(t, &m, sessionInput{kind: inputInitiate})
	mustFire(t, &m, closed(model.ReasonConnectionClosed))
	require.True(t, m.pending)

	step := mustFire(t, &m, sessionInput{kind: inputDisconnect})
	assert.Equal(t, model.StateClosing, step.To)
	assert.Equal(t, effectClose, step.Effect)
	assert.False(t, m.pending)

	_, ok = m.fire(sessionInput{kind: inputReconnectDue})
	assert.False(t, ok)

	step = mustFire(t, &m, sessionInput{kind: inputTeardownDone})
	assert.Equal(t, model.StateDisconnected, step.To)
	assert.NoError(t, m.err)
}

func TestMachine_CredentialsIgnoredWhenDown(t *testing.T) {
	m := newSessionMachine(3)
	_, ok := m.fire(backendInput(model.CredentialsEvent(model.Credentials("x"))))
	assert.False(t, ok)
}

func TestMachine_InitiateClearsPreviousFailure(t *testing.T) {
	m := newSessionMachine(0)
	mustFire(t, &m, sessionInput{kind: inputInitiate})
	mustFire(t, &m, closed(model.ReasonBadSession))
	require.Error(t, m.err)

	mustFire(t, &m, sessionInput{kind: inputInitiate})
	assert.NoError(t, m.err)
	assert.Equal(t, 0, m.retries)
}
