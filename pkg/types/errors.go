package types

import "errors"

// Transport errors. Components wrap these with fmt.Errorf("...: %w", err);
// callers match them with errors.Is.
var (
	ErrConnectionRefused = errors.New("connection refused")
	ErrPortClosed        = errors.New("port closed")
	ErrDeliveryFailed    = errors.New("delivery failed")
	ErrTabNotFound       = errors.New("tab not found")
	ErrInjectionDenied   = errors.New("injection denied")
	ErrSerialization     = errors.New("value is not structurally cloneable")
	ErrNoResult          = errors.New("no result")
	ErrTimeout           = errors.New("timed out waiting for reply")
	ErrDuplicateHandler  = errors.New("handler already registered")
	ErrContextNotRunning = errors.New("context not running")
	ErrInvalidEnvelope   = errors.New("invalid envelope")
)
