package locker

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidTransition   = errors.New("invalid step transition")
	ErrUnknownStep         = errors.New("unknown step")
	ErrLockerNotFound      = errors.New("locker not found")
	ErrLockerUnavailable   = errors.New("locker not available")
	ErrReservationNotFound = errors.New("reservation not found")
)

// DefaultLockerCount is the number of lockers seeded when none is configured.
const DefaultLockerCount = 20

// DefaultDuration is the rental duration in hours selected after a reset.
const DefaultDuration = 1

// Store holds the whole wizard state. It is not safe for concurrent use;
// the owner serializes access.
type Store struct {
	currentStep        Step
	registeredStudents []Student
	currentStudent     *Student
	lockers            []Locker
	selectedLocker     *Locker
	reservations       []Reservation
	selectedDuration   int
}

// NewStore seeds lockerCount lockers numbered from 1.
func NewStore(lockerCount int) *Store {
	if lockerCount <= 0 {
		lockerCount = DefaultLockerCount
	}
	return &Store{
		currentStep:      StepRegister,
		lockers:          SeedLockers(lockerCount),
		selectedDuration: DefaultDuration,
	}
}

// State is a point-in-time copy of the store.
type State struct {
	CurrentStep        Step          `json:"current_step"`
	RegisteredStudents []Student     `json:"registered_students"`
	CurrentStudent     *Student      `json:"current_student"`
	Lockers            []Locker      `json:"lockers"`
	SelectedLocker     *Locker       `json:"selected_locker"`
	Reservations       []Reservation `json:"reservations"`
	SelectedDuration   int           `json:"selected_duration"`
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	return State{
		CurrentStep:        s.currentStep,
		RegisteredStudents: s.RegisteredStudents(),
		CurrentStudent:     s.CurrentStudent(),
		Lockers:            s.Lockers(),
		SelectedLocker:     s.SelectedLocker(),
		Reservations:       s.Reservations(),
		SelectedDuration:   s.selectedDuration,
	}
}

// CurrentStep returns the active wizard step.
func (s *Store) CurrentStep() Step { return s.currentStep }

// SetCurrentStep moves the wizard to step if the transition is allowed.
func (s *Store) SetCurrentStep(step Step) error {
	if !step.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}
	if !CanTransition(s.currentStep, step) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.currentStep, step)
	}
	s.currentStep = step
	return nil
}

// CurrentStudent returns the authenticated student, or nil.
func (s *Store) CurrentStudent() *Student {
	if s.currentStudent == nil {
		return nil
	}
	st := *s.currentStudent
	return &st
}

// SetCurrentStudent overwrites the active student; nil clears it.
func (s *Store) SetCurrentStudent(student *Student) {
	if student == nil {
		s.currentStudent = nil
		return
	}
	st := *student
	s.currentStudent = &st
}

// RegisteredStudents returns the registered students in insertion order.
func (s *Store) RegisteredStudents() []Student {
	out := make([]Student, len(s.registeredStudents))
	copy(out, s.registeredStudents)
	return out
}

// AddRegisteredStudent appends student. Callers check uniqueness first.
func (s *Store) AddRegisteredStudent(student Student) {
	s.registeredStudents = append(s.registeredStudents, student)
}

// FindStudent looks a student up by student identifier.
func (s *Store) FindStudent(studentID string) (Student, bool) {
	for _, st := range s.registeredStudents {
		if st.StudentID == studentID {
			return st, true
		}
	}
	return Student{}, false
}

// Lockers returns a copy of every locker ordered by number.
func (s *Store) Lockers() []Locker {
	out := make([]Locker, len(s.lockers))
	for i, l := range s.lockers {
		out[i] = cloneLocker(l)
	}
	return out
}

// Locker returns the locker with the given id.
func (s *Store) Locker(id string) (Locker, bool) {
	if i := s.lockerIndex(id); i >= 0 {
		return cloneLocker(s.lockers[i]), true
	}
	return Locker{}, false
}

// LockerByNumber returns the locker with the given display number.
func (s *Store) LockerByNumber(number int) (Locker, bool) {
	if number < 1 || number > len(s.lockers) {
		return Locker{}, false
	}
	return cloneLocker(s.lockers[number-1]), true
}

// AvailableCount returns how many lockers are available.
func (s *Store) AvailableCount() int {
	n := 0
	for _, l := range s.lockers {
		if l.Available() {
			n++
		}
	}
	return n
}

// SelectedLocker returns the selected locker, or nil.
func (s *Store) SelectedLocker() *Locker {
	if s.selectedLocker == nil {
		return nil
	}
	l := cloneLocker(*s.selectedLocker)
	return &l
}

// SetSelectedLocker overwrites the selection without checking availability.
func (s *Store) SetSelectedLocker(l *Locker) {
	if l == nil {
		s.selectedLocker = nil
		return
	}
	c := cloneLocker(*l)
	s.selectedLocker = &c
}

// UpdateLockerStatus replaces the status of the locker with lockerID.
// Unknown ids are ignored. ReservedBy and ReservedUntil are left as they are.
func (s *Store) UpdateLockerStatus(lockerID string, status Status) {
	if i := s.lockerIndex(lockerID); i >= 0 {
		s.lockers[i].Status = status
	}
}

// SelectedDuration returns the rental duration in hours.
func (s *Store) SelectedDuration() int { return s.selectedDuration }

// SetSelectedDuration overwrites the duration. Range checks belong to the caller.
func (s *Store) SetSelectedDuration(hours int) { s.selectedDuration = hours }

// Reservations returns every reservation in the order it was added.
func (s *Store) Reservations() []Reservation {
	out := make([]Reservation, len(s.reservations))
	copy(out, s.reservations)
	return out
}

// LatestReservation returns the most recently added reservation.
func (s *Store) LatestReservation() (Reservation, bool) {
	if len(s.reservations) == 0 {
		return Reservation{}, false
	}
	return s.reservations[len(s.reservations)-1], true
}

// Reservation returns the reservation with the given id.
func (s *Store) Reservation(id string) (Reservation, bool) {
	for _, r := range s.reservations {
		if r.ID == id {
			return r, true
		}
	}
	return Reservation{}, false
}

// AddReservation appends r without any checks.
func (s *Store) AddReservation(r Reservation) {
	s.reservations = append(s.reservations, r)
}

// CommitReservation books r.LockerID and appends r as one step.
// Nothing changes when the locker is missing or not available.
func (s *Store) CommitReservation(r Reservation) error {
	i := s.lockerIndex(r.LockerID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrLockerNotFound, r.LockerID)
	}
	if !s.lockers[i].Available() {
		return fmt.Errorf("%w: locker #%d is %s", ErrLockerUnavailable, s.lockers[i].Number, s.lockers[i].Status)
	}
	if r.Status == "" {
		r.Status = ReservationActive
	}
	r.LockerNumber = s.lockers[i].Number

	until := r.EndTime
	s.lockers[i].Status = StatusReserved
	s.lockers[i].ReservedBy = r.StudentID
	s.lockers[i].ReservedUntil = &until
	s.reservations = append(s.reservations, r)
	return nil
}

// ActiveReservationFor returns the active reservation holding lockerID.
func (s *Store) ActiveReservationFor(lockerID string) (Reservation, bool) {
	for i := len(s.reservations) - 1; i >= 0; i-- {
		r := s.reservations[i]
		if r.LockerID == lockerID && r.Status == ReservationActive {
			return r, true
		}
	}
	return Reservation{}, false
}

// ReleaseExpired marks active reservations ending at or before now as expired
// and frees their lockers when the locker still carries that booking.
func (s *Store) ReleaseExpired(now time.Time) []Reservation {
	var expired []Reservation
	for i := range s.reservations {
		r := &s.reservations[i]
		if r.Status != ReservationActive || r.EndTime.After(now) {
			continue
		}
		r.Status = ReservationExpired
		s.release(*r)
		expired = append(expired, *r)
	}
	return expired
}

// Complete marks an active reservation completed and frees its locker.
func (s *Store) Complete(reservationID string) (Reservation, error) {
	for i := range s.reservations {
		r := &s.reservations[i]
		if r.ID != reservationID {
			continue
		}
		if r.Status != ReservationActive {
			return *r, fmt.Errorf("%w: reservation is %s", ErrInvalidTransition, r.Status)
		}
		r.Status = ReservationCompleted
		s.release(*r)
		return *r, nil
	}
	return Reservation{}, fmt.Errorf("%w: %s", ErrReservationNotFound, reservationID)
}

// Reset returns the wizard to its first step and frees every locker.
// Registered students and reservation history are kept.
func (s *Store) Reset() {
	s.currentStep = StepRegister
	s.currentStudent = nil
	s.selectedLocker = nil
	s.selectedDuration = DefaultDuration
	for i := range s.lockers {
		s.lockers[i].Status = StatusAvailable
		s.lockers[i].ReservedBy = ""
		s.lockers[i].ReservedUntil = nil
	}
}

// release frees r's locker only while the locker still carries r. A locker
// rebooked after a Reset belongs to the newer reservation.
func (s *Store) release(r Reservation) {
	i := s.lockerIndex(r.LockerID)
	if i < 0 {
		return
	}
	l := &s.lockers[i]
	if l.Status != StatusReserved || l.ReservedBy != r.StudentID {
		return
	}
	if l.ReservedUntil == nil || !l.ReservedUntil.Equal(r.EndTime) {
		return
	}
	l.Status = StatusAvailable
	l.ReservedBy = ""
	l.ReservedUntil = nil
}

func (s *Store) lockerIndex(id string) int {
	for i := range s.lockers {
		if s.lockers[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneLocker(l Locker) Locker {
	if l.ReservedUntil != nil {
		t := *l.ReservedUntil
		l.ReservedUntil = &t
	}
	return l
}
