package booking

import (
	"context"
	"fmt"

	"smartlocker/internal/audit"
	"smartlocker/internal/locker"
)

// Access denial reasons decided before the face is checked.
const (
	ReasonNoBookingFound     = "no_booking_found"
	ReasonOutsideAllowedTime = "outside_allowed_time"
)

// AccessDecision is the answer given at the cabinet.
type AccessDecision struct {
	Allow         bool   `json:"allow"`
	Reason        string `json:"reason,omitempty"`
	LockerNumber  int    `json:"locker_number"`
	StudentID     string `json:"student_id,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
}

// OpenLocker decides whether the person in front of locker number may open it:
// the locker needs an active reservation whose window contains now, and the
// face must be live and match the student holding that reservation.
func (s *Service) OpenLocker(ctx context.Context, number int, faceImage string) (AccessDecision, error) {
	if faceImage == "" {
		return AccessDecision{}, ErrNoFaceImage
	}

	s.mu.Lock()
	l, ok := s.store.LockerByNumber(number)
	if !ok {
		s.mu.Unlock()
		return AccessDecision{}, fmt.Errorf("%w: #%d", locker.ErrLockerNotFound, number)
	}
	r, booked := s.store.ActiveReservationFor(l.ID)
	now := s.now()
	s.mu.Unlock()

	d := AccessDecision{LockerNumber: l.Number}
	switch {
	case !booked:
		d.Reason = ReasonNoBookingFound
	case now.Before(r.StartTime) || !now.Before(r.EndTime):
		d.Reason = ReasonOutsideAllowedTime
	}
	if booked {
		d.StudentID = r.StudentID
		d.ReservationID = r.ID
	}

	if d.Reason == "" {
		reason, err := s.checkFace(ctx, r.StudentID, faceImage)
		if err != nil {
			return AccessDecision{}, err
		}
		d.Reason = reason
		d.Allow = reason == ""
	}

	s.metrics.RecordAccess(d.Allow, d.Reason)
	s.publish(ctx, audit.Event{
		Type:          audit.TypeLockerAccess,
		StudentID:     d.StudentID,
		LockerID:      l.ID,
		ReservationID: d.ReservationID,
		Allowed:       d.Allow,
		Reason:        d.Reason,
	})
	s.logger.InfoContext(ctx, "locker access decided", "locker", l.Number, "allow", d.Allow, "reason", d.Reason)
	return d, nil
}
