package model

import "fmt"

// SessionState is the lifecycle state of the messaging session.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StatePairing
	StateOpen
	StateClosing
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StatePairing:
		return "pairing"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Credentials is the backend's authentication material. The session treats it
// as opaque bytes.
type Credentials []byte

// DisconnectReason mirrors the status codes the backend attaches to a close.
type DisconnectReason int

const (
	ReasonUnknown            DisconnectReason = 0
	ReasonLoggedOut          DisconnectReason = 401
	ReasonTimedOut           DisconnectReason = 408
	ReasonConnectionClosed   DisconnectReason = 428
	ReasonConnectionReplaced DisconnectReason = 440
	ReasonBadSession         DisconnectReason = 500
	ReasonRestartRequired    DisconnectReason = 515
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonLoggedOut:
		return "logged_out"
	case ReasonTimedOut:
		return "timed_out"
	case ReasonConnectionClosed:
		return "connection_closed"
	case ReasonConnectionReplaced:
		return "connection_replaced"
	case ReasonBadSession:
		return "bad_session"
	case ReasonRestartRequired:
		return "restart_required"
	}
	return fmt.Sprintf("unknown(%d)", int(r))
}

type SessionEventKind int

const (
	EventPairingCode SessionEventKind = iota + 1
	EventOpen
	EventCredentialsUpdated
	EventClosed
)

func (k SessionEventKind) String() string {
	switch k {
	case EventPairingCode:
		return "pairing_code"
	case EventOpen:
		return "open"
	case EventCredentialsUpdated:
		return "credentials_updated"
	case EventClosed:
		return "closed"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// SessionEvent is a notification pushed by the backend.
type SessionEvent struct {
	Kind        SessionEventKind
	Code        string           // EventPairingCode
	Credentials Credentials      // EventCredentialsUpdated
	Reason      DisconnectReason // EventClosed
	Err         error            // EventClosed, optional
}

func PairingCodeEvent(code string) SessionEvent {
	return SessionEvent{Kind: EventPairingCode, Code: code}
}

func OpenEvent() SessionEvent {
	return SessionEvent{Kind: EventOpen}
}

func CredentialsEvent(creds Credentials) SessionEvent {
	return SessionEvent{Kind: EventCredentialsUpdated, Credentials: creds}
}

func ClosedEvent(reason DisconnectReason, err error) SessionEvent {
	return SessionEvent{Kind: EventClosed, Reason: reason, Err: err}
}

// ConnectOutcome is what a bounded connect attempt produced.
type ConnectOutcome int

const (
	OutcomeOpen ConnectOutcome = iota
	OutcomePending
	OutcomeFailed
)

func (o ConnectOutcome) String() string {
	switch o {
	case OutcomeOpen:
		return "open"
	case OutcomePending:
		return "pending"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}
