package util

import (
	"errors"
	"fmt"
)

var (
	ErrPoolEmpty           = errors.New("question pool is empty")
	ErrCorruptData         = errors.New("corrupt data")
	ErrNotConnected        = errors.New("whatsapp session not connected")
	ErrDeliveryFailed      = errors.New("message delivery failed")
	ErrLoggedOut           = errors.New("session logged out")
	ErrPairingExpired      = errors.New("pairing code expired")
	ErrTransientDisconnect = errors.New("connection dropped")
	ErrQuestionNotFound    = errors.New("question not found")
	ErrNoPairingCode       = errors.New("no pairing code issued")
	ErrBatchRunning        = errors.New("a batch is already running")
)

// CorruptDataError reports a persisted file that exists but cannot be used.
type CorruptDataError struct {
	Path string
	Err  error
}

func (e *CorruptDataError) Error() string {
	return fmt.Sprintf("corrupt data in %s: %v", e.Path, e.Err)
}

func (e *CorruptDataError) Is(target error) bool { return target == ErrCorruptData }

func (e *CorruptDataError) Unwrap() error { return e.Err }

// DeliveryError wraps a backend rejection for one destination.
type DeliveryError struct {
	Destination string
	Cause       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed: %v", e.Destination, e.Cause)
}

func (e *DeliveryError) Is(target error) bool { return target == ErrDeliveryFailed }

func (e *DeliveryError) Unwrap() error { return e.Cause }

// BatchError is returned when at least one slot of a batch run failed.
type BatchError struct {
	Failed int
	Total  int
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch partially failed: %d/%d slots failed", e.Failed, e.Total)
}
