package service

import (
	"mcq_bot/internal/model"
	"mcq_bot/internal/util"
)

type inputKind int

const (
	inputInitiate inputKind = iota
	inputBackend
	inputReconnectDue
	inputLogout
	inputDisconnect
	inputTeardownDone
)

// sessionInput is everything the session machine reacts to: backend events
// plus the few commands issued locally.
type sessionInput struct {
	kind  inputKind
	event model.SessionEvent
}

func backendInput(ev model.SessionEvent) sessionInput {
	return sessionInput{kind: inputBackend, event: ev}
}

type sessionEffect int

const (
	effectNone sessionEffect = iota
	effectConnect
	effectShowCode
	effectPersistCredentials
	effectScheduleReconnect
	effectClose
	effectLogout
)

// transition is the result of feeding one input to the machine.
type transition struct {
	From   model.SessionState
	To     model.SessionState
	Effect sessionEffect
	// Err is the cause when To is a terminal Disconnected.
	Err error
}

// sessionMachine holds the whole session lifecycle state, including the retry
// budget. It does no I/O; SessionService performs the effects it returns.
type sessionMachine struct {
	state      model.SessionState
	retries    int
	maxRetries int
	// pending is set while a reconnect timer is armed.
	pending bool
	err     error
}

func newSessionMachine(maxRetries int) sessionMachine {
	return sessionMachine{state: model.StateDisconnected, maxRetries: maxRetries}
}

// fire applies one input. ok is false when the input is not valid in the
// current state; the machine is then unchanged.
func (m *sessionMachine) fire(in sessionInput) (transition, bool) {
	from := m.state

	switch in.kind {
	case inputInitiate:
		if from != model.StateDisconnected {
			return transition{}, false
		}
		m.retries = 0
		m.pending = false
		m.err = nil
		return m.move(model.StateConnecting, effectConnect, nil), true

	case inputReconnectDue:
		if from != model.StateConnecting || !m.pending {
			return transition{}, false
		}
		m.pending = false
		return m.move(model.StateConnecting, effectConnect, nil), true

	case inputLogout:
		if from != model.StateOpen {
			return transition{}, false
		}
		return m.move(model.StateClosing, effectLogout, nil), true

	case inputDisconnect:
		if from == model.StateDisconnected || from == model.StateClosing {
			return transition{}, false
		}
		m.pending = false
		return m.move(model.StateClosing, effectClose, nil), true

	case inputTeardownDone:
		if from != model.StateClosing {
			return transition{}, false
		}
		return m.move(model.StateDisconnected, effectNone, nil), true

	case inputBackend:
		return m.fireBackend(in.event)
	}
	return transition{}, false
}

func (m *sessionMachine) fireBackend(ev model.SessionEvent) (transition, bool) {
	from := m.state

	switch ev.Kind {
	case model.EventPairingCode:
		if from != model.StateConnecting && from != model.StatePairing {
			return transition{}, false
		}
		return m.move(model.StatePairing, effectShowCode, nil), true

	case model.EventOpen:
		if from != model.StateConnecting && from != model.StatePairing {
			return transition{}, false
		}
		m.retries = 0
		m.pending = false
		return m.move(model.StateOpen, effectNone, nil), true

	case model.EventCredentialsUpdated:
		if from == model.StateDisconnected {
			return transition{}, false
		}
		return m.move(from, effectPersistCredentials, nil), true

	case model.EventClosed:
		switch from {
		case model.StateDisconnected:
			return transition{}, false
		case model.StateClosing:
			return m.move(model.StateDisconnected, effectNone, nil), true
		}
		// 已经在等待重连，重复的关闭事件不再消耗重试次数
		if from == model.StateConnecting && m.pending {
			return transition{}, false
		}
		if ev.Reason == model.ReasonLoggedOut {
			return m.move(model.StateDisconnected, effectNone, util.ErrLoggedOut), true
		}
		if m.retries < m.maxRetries {
			m.retries++
			m.pending = true
			return m.move(model.StateConnecting, effectScheduleReconnect, nil), true
		}
		cause := util.ErrTransientDisconnect
		if from == model.StatePairing && ev.Reason == model.ReasonTimedOut {
			cause = util.ErrPairingExpired
		}
		return m.move(model.StateDisconnected, effectNone, cause), true
	}
	return transition{}, false
}

func (m *sessionMachine) move(to model.SessionState, effect sessionEffect, cause error) transition {
	t := transition{From: m.state, To: to, Effect: effect, Err: cause}
	m.state = to
	if to == model.StateDisconnected {
		m.pending = false
		m.err = cause
	}
	return t
}
