package audit

import "time"

// Event types published by the booking controller.
const (
	TypeStudentRegistered    = "student.registered"
	TypeStudentLoggedIn      = "student.logged_in"
	TypeVerificationRejected = "verification.rejected"
	TypeReservationCreated   = "reservation.created"
	TypeReservationCompleted = "reservation.completed"
	TypeReservationExpired   = "reservation.expired"
	TypeLockerAccess         = "locker.access"
	TypeSessionReset         = "session.reset"
)

// Event is one entry of the audit trail.
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	StudentID     string    `json:"student_id,omitempty"`
	LockerID      string    `json:"locker_id,omitempty"`
	ReservationID string    `json:"reservation_id,omitempty"`
	Allowed       bool      `json:"allowed"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Type      string
	StudentID string
	LockerID  string
	Limit     int
	Offset    int
}
