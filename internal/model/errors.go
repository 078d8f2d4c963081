package model

import "errors"

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrForbidden       = errors.New("not allowed to modify this message")
	ErrInvalidEvent    = errors.New("invalid event")
)

// InvalidEventError rejects an inbound event. Reason is sent back to the
// client as is.
type InvalidEventError struct {
	Reason string
}

func InvalidEvent(reason string) error {
	return &InvalidEventError{Reason: reason}
}

func (e *InvalidEventError) Error() string {
	return ErrInvalidEvent.Error() + ": " + e.Reason
}

func (e *InvalidEventError) Is(target error) bool {
	return target == ErrInvalidEvent
}
