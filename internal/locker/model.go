package locker

import (
	"fmt"
	"time"
)

// Status is the state of a physical locker.
type Status string

const (
	StatusAvailable Status = "available"
	StatusOccupied  Status = "occupied"
	StatusReserved  Status = "reserved"
)

// Valid reports whether s is one of the known locker statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusOccupied, StatusReserved:
		return true
	}
	return false
}

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationCompleted ReservationStatus = "completed"
	ReservationExpired   ReservationStatus = "expired"
)

// Student is a registered identity.
type Student struct {
	ID           string    `json:"id"`
	StudentID    string    `json:"student_id"`
	FullName     string    `json:"full_name"`
	FaceImage    string    `json:"face_image,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Public returns a copy without the face payload.
func (s Student) Public() Student {
	s.FaceImage = ""
	return s
}

// Locker is a physical storage unit.
type Locker struct {
	ID            string     `json:"id"`
	Number        int        `json:"number"`
	Status        Status     `json:"status"`
	ReservedBy    string     `json:"reserved_by,omitempty"`
	ReservedUntil *time.Time `json:"reserved_until,omitempty"`
}

// Available reports whether the locker can be booked.
func (l Locker) Available() bool { return l.Status == StatusAvailable }

// Reservation binds one student to one locker for a time window.
type Reservation struct {
	ID           string            `json:"id"`
	LockerID     string            `json:"locker_id"`
	LockerNumber int               `json:"locker_number"`
	StudentID    string            `json:"student_id"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      time.Time         `json:"end_time"`
	Status       ReservationStatus `json:"status"`
}

// Duration is the booked window length.
func (r Reservation) Duration() time.Duration { return r.EndTime.Sub(r.StartTime) }

// LockerID builds the opaque id for a locker number.
func LockerID(number int) string { return fmt.Sprintf("locker-%d", number) }

// SeedLockers returns count lockers numbered 1..count, all available.
func SeedLockers(count int) []Locker {
	lockers := make([]Locker, count)
	for i := range lockers {
		lockers[i] = Locker{
			ID:     LockerID(i + 1),
			Number: i + 1,
			Status: StatusAvailable,
		}
	}
	return lockers
}
