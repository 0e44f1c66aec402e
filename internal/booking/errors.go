package booking

import (
	"errors"
	"fmt"
)

var (
	ErrMissingField         = errors.New("missing required field")
	ErrDuplicateStudent     = errors.New("student id already registered")
	ErrUnknownStudent       = errors.New("student not found")
	ErrNoLockerSelected     = errors.New("no locker selected")
	ErrNoFaceImage          = errors.New("no face image captured")
	ErrInvalidDuration      = errors.New("invalid duration")
	ErrNoStudent            = errors.New("no student signed in")
	ErrNoReservation        = errors.New("no reservation yet")
	ErrVerificationRejected = errors.New("face verification rejected")
)

// RejectionError is returned when the face service turns a capture down.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrVerificationRejected, e.Reason)
}

func (e *RejectionError) Is(target error) bool {
	return target == ErrVerificationRejected
}
