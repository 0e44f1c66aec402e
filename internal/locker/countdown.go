package locker

import (
	"fmt"
	"time"
)

// ExpiredLabel is shown instead of a clock once a reservation has run out.
const ExpiredLabel = "expired"

// Countdown describes the time left on a reservation.
type Countdown struct {
	ReservationID string        `json:"reservation_id"`
	LockerNumber  int           `json:"locker_number"`
	EndTime       time.Time     `json:"end_time"`
	Remaining     time.Duration `json:"remaining_ns"`
	Display       string        `json:"display"`
	Expired       bool          `json:"expired"`
	Warn          bool          `json:"warn"`
}

// CountdownFor computes the countdown of r at now. Warn is set while the
// remaining time is positive and no longer than warnBefore.
func CountdownFor(r Reservation, now time.Time, warnBefore time.Duration) Countdown {
	remaining := r.EndTime.Sub(now)
	c := Countdown{
		ReservationID: r.ID,
		LockerNumber:  r.LockerNumber,
		EndTime:       r.EndTime,
	}
	if remaining <= 0 {
		c.Expired = true
		c.Display = ExpiredLabel
		return c
	}
	c.Remaining = remaining
	c.Display = FormatClock(remaining)
	c.Warn = warnBefore > 0 && remaining <= warnBefore
	return c
}

// FormatClock renders d as HH:MM:SS, truncating sub-second precision.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
