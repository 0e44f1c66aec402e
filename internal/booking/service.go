package booking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"smartlocker/internal/audit"
	"smartlocker/internal/faceclient"
	"smartlocker/internal/locker"
	"smartlocker/internal/metrics"
	"smartlocker/internal/queue"
	"smartlocker/internal/receipt"
)

// DefaultMaxDurationHours is the longest rental offered when none is configured.
const DefaultMaxDurationHours = 4

// DefaultWarnBefore is how close to the end the countdown raises its warning.
const DefaultWarnBefore = 10 * time.Second

const publishTimeout = 2 * time.Second

// Verifier is the face service as seen by the controller.
type Verifier interface {
	Enroll(ctx context.Context, studentID, name, image string) (*faceclient.EnrollResult, error)
	Liveness(ctx context.Context, image string) (*faceclient.LivenessResult, error)
	Verify(ctx context.Context, studentID, image string) (*faceclient.VerifyResult, error)
}

// Publisher receives audit events.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Options configures a Service. Zero values select defaults.
type Options struct {
	LockerCount      int
	MaxDurationHours int
	WarnBefore       time.Duration
	Events           Publisher
	Receipts         *receipt.Issuer
	Metrics          *metrics.Metrics
	Logger           *slog.Logger
	Now              func() time.Time
}

// Service drives the booking wizard over a single locker.Store.
type Service struct {
	mu       sync.Mutex
	store    *locker.Store
	verifier Verifier
	warned   map[string]bool

	events     Publisher
	receipts   *receipt.Issuer
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
	maxHours   int
	warnBefore time.Duration
}

// RegisterRequest carries the registration form.
type RegisterRequest struct {
	StudentID string
	FullName  string
	FaceImage string
}

// LoginRequest carries the login form.
type LoginRequest struct {
	StudentID string
	FaceImage string
}

// Confirmation is the result of a successful verification.
type Confirmation struct {
	Reservation locker.Reservation `json:"reservation"`
	Receipt     string             `json:"receipt,omitempty"`
}

// NewService creates a service with a freshly seeded store.
func NewService(verifier Verifier, opts Options) *Service {
	s := &Service{
		store:      locker.NewStore(opts.LockerCount),
		verifier:   verifier,
		warned:     make(map[string]bool),
		events:     opts.Events,
		receipts:   opts.Receipts,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		now:        opts.Now,
		maxHours:   opts.MaxDurationHours,
		warnBefore: opts.WarnBefore,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.maxHours <= 0 {
		s.maxHours = DefaultMaxDurationHours
	}
	if s.warnBefore <= 0 {
		s.warnBefore = DefaultWarnBefore
	}
	s.metrics.SetLockersAvailable(s.store.AvailableCount())
	return s
}

// MaxDurationHours is the longest duration SelectDuration accepts.
func (s *Service) MaxDurationHours() int { return s.maxHours }

// Register enrolls a new student and signs them in.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (locker.Student, error) {
	req.StudentID = strings.TrimSpace(req.StudentID)
	req.FullName = strings.TrimSpace(req.FullName)
	if req.StudentID == "" || req.FullName == "" {
		return locker.Student{}, fmt.Errorf("%w: student id and full name", ErrMissingField)
	}
	if req.FaceImage == "" {
		return locker.Student{}, ErrNoFaceImage
	}

	s.mu.Lock()
	err := s.checkRegisterable(req.StudentID)
	s.mu.Unlock()
	if err != nil {
		return locker.Student{}, err
	}

	started := s.now()
	res, err := s.verifier.Enroll(ctx, req.StudentID, req.FullName, req.FaceImage)
	if err != nil {
		return locker.Student{}, fmt.Errorf("enroll face: %w", err)
	}
	if !res.Success {
		reason := reasonOr(res.Reason, faceclient.ReasonNoFaceDetected)
		s.metrics.RecordVerification(false, reason, s.now().Sub(started))
		s.publish(ctx, audit.Event{Type: audit.TypeVerificationRejected, StudentID: req.StudentID, Reason: reason})
		return locker.Student{}, &RejectionError{Reason: reason}
	}
	s.metrics.RecordVerification(true, "", s.now().Sub(started))

	s.mu.Lock()
	if err := s.checkRegisterable(req.StudentID); err != nil {
		s.mu.Unlock()
		return locker.Student{}, err
	}
	student := locker.Student{
		ID:           uuid.NewString(),
		StudentID:    req.StudentID,
		FullName:     req.FullName,
		FaceImage:    req.FaceImage,
		RegisteredAt: s.now(),
	}
	s.store.AddRegisteredStudent(student)
	s.store.SetCurrentStudent(&student)
	err = s.store.SetCurrentStep(locker.StepBooking)
	s.mu.Unlock()
	if err != nil {
		return locker.Student{}, err
	}

	s.metrics.RecordStudentRegistration()
	s.publish(ctx, audit.Event{Type: audit.TypeStudentRegistered, StudentID: student.StudentID, Allowed: true})
	s.logger.InfoContext(ctx, "student registered", "student_id", student.StudentID)
	return student.Public(), nil
}

// Login verifies a registered student's face and signs them in.
func (s *Service) Login(ctx context.Context, req LoginRequest) (locker.Student, error) {
	req.StudentID = strings.TrimSpace(req.StudentID)
	if req.StudentID == "" {
		return locker.Student{}, fmt.Errorf("%w: student id", ErrMissingField)
	}
	if req.FaceImage == "" {
		return locker.Student{}, ErrNoFaceImage
	}

	s.mu.Lock()
	student, err := s.loginTarget(req.StudentID)
	s.mu.Unlock()
	if err != nil {
		s.metrics.RecordLogin(false)
		return locker.Student{}, err
	}

	if reason, err := s.checkFace(ctx, student.StudentID, req.FaceImage); err != nil {
		return locker.Student{}, err
	} else if reason != "" {
		s.metrics.RecordLogin(false)
		s.publish(ctx, audit.Event{Type: audit.TypeVerificationRejected, StudentID: student.StudentID, Reason: reason})
		return locker.Student{}, &RejectionError{Reason: reason}
	}

	s.mu.Lock()
	if _, err := s.loginTarget(req.StudentID); err != nil {
		s.mu.Unlock()
		return locker.Student{}, err
	}
	s.store.SetCurrentStudent(&student)
	err = s.store.SetCurrentStep(locker.StepBooking)
	s.mu.Unlock()
	if err != nil {
		return locker.Student{}, err
	}

	s.metrics.RecordLogin(true)
	s.publish(ctx, audit.Event{Type: audit.TypeStudentLoggedIn, StudentID: student.StudentID, Allowed: true})
	return student.Public(), nil
}

// SelectLocker stores the locker the student picked.
func (s *Service) SelectLocker(lockerID string) (locker.Locker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireStep(locker.StepBooking); err != nil {
		return locker.Locker{}, err
	}
	l, ok := s.store.Locker(lockerID)
	if !ok {
		return locker.Locker{}, fmt.Errorf("%w: %s", locker.ErrLockerNotFound, lockerID)
	}
	if !l.Available() {
		return locker.Locker{}, fmt.Errorf("%w: locker #%d is %s", locker.ErrLockerUnavailable, l.Number, l.Status)
	}
	s.store.SetSelectedLocker(&l)
	return l, nil
}

// SelectDuration stores the rental duration in hours.
func (s *Service) SelectDuration(hours int) error {
	if hours < 1 || hours > s.maxHours {
		return fmt.Errorf("%w: %d hours, choose 1 to %d", ErrInvalidDuration, hours, s.maxHours)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireStep(locker.StepBooking); err != nil {
		return err
	}
	s.store.SetSelectedDuration(hours)
	return nil
}

// Continue moves from locker selection to face confirmation.
func (s *Service) Continue() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireStep(locker.StepBooking); err != nil {
		return err
	}
	sel := s.store.SelectedLocker()
	if sel == nil {
		return ErrNoLockerSelected
	}
	if l, ok := s.store.Locker(sel.ID); !ok || !l.Available() {
		return fmt.Errorf("%w: locker #%d", locker.ErrLockerUnavailable, sel.Number)
	}
	return s.store.SetCurrentStep(locker.StepConfirm)
}

// Verify checks the captured face against the signed-in student and, when it
// matches, books the selected locker. A rejection leaves the state untouched.
func (s *Service) Verify(ctx context.Context, faceImage string) (Confirmation, error) {
	if faceImage == "" {
		return Confirmation{}, ErrNoFaceImage
	}

	s.mu.Lock()
	student, sel, err := s.confirmTarget()
	s.mu.Unlock()
	if err != nil {
		return Confirmation{}, err
	}

	reason, err := s.checkFace(ctx, student.StudentID, faceImage)
	if err != nil {
		return Confirmation{}, err
	}
	if reason != "" {
		s.publish(ctx, audit.Event{Type: audit.TypeVerificationRejected, StudentID: student.StudentID, LockerID: sel.ID, Reason: reason})
		return Confirmation{}, &RejectionError{Reason: reason}
	}

	s.mu.Lock()
	current, again, err := s.confirmTarget()
	if err == nil && (current.StudentID != student.StudentID || again.ID != sel.ID) {
		err = fmt.Errorf("%w: selection changed during verification", locker.ErrInvalidTransition)
	}
	if err != nil {
		s.mu.Unlock()
		return Confirmation{}, err
	}
	start := s.now()
	hours := s.store.SelectedDuration()
	r := locker.Reservation{
		ID:        uuid.NewString(),
		LockerID:  sel.ID,
		StudentID: student.StudentID,
		StartTime: start,
		EndTime:   start.Add(time.Duration(hours) * time.Hour),
		Status:    locker.ReservationActive,
	}
	if err := s.store.CommitReservation(r); err != nil {
		s.mu.Unlock()
		return Confirmation{}, err
	}
	r, _ = s.store.LatestReservation()
	err = s.store.SetCurrentStep(locker.StepSuccess)
	available := s.store.AvailableCount()
	s.mu.Unlock()
	if err != nil {
		return Confirmation{}, err
	}

	s.metrics.RecordReservation(hours)
	s.metrics.SetLockersAvailable(available)
	s.publish(ctx, audit.Event{Type: audit.TypeReservationCreated, StudentID: r.StudentID, LockerID: r.LockerID, ReservationID: r.ID, Allowed: true})
	s.logger.InfoContext(ctx, "reservation created",
		"reservation_id", r.ID, "locker", r.LockerNumber, "student_id", r.StudentID, "until", r.EndTime)

	conf := Confirmation{Reservation: r}
	if s.receipts != nil {
		code, err := s.receipts.Issue(r.StudentID, r.ID, r.LockerID, r.LockerNumber, r.StartTime, r.EndTime)
		if err != nil {
			s.logger.ErrorContext(ctx, "receipt not issued", "reservation_id", r.ID, "error", err)
		} else {
			conf.Receipt = code
		}
	}
	return conf, nil
}

// Reset returns the wizard to registration.
func (s *Service) Reset(ctx context.Context) {
	s.mu.Lock()
	s.store.Reset()
	available := s.store.AvailableCount()
	s.mu.Unlock()

	s.metrics.SetLockersAvailable(available)
	s.publish(ctx, audit.Event{Type: audit.TypeSessionReset})
}

// Countdown reports the time left on the latest reservation. Warn is raised
// only on the first call that sees the remaining time inside the warning window.
func (s *Service) Countdown() (locker.Countdown, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.store.LatestReservation()
	if !ok {
		return locker.Countdown{}, ErrNoReservation
	}
	c := locker.CountdownFor(r, s.now(), s.warnBefore)
	if c.Warn {
		if s.warned[r.ID] {
			c.Warn = false
		} else {
			s.warned[r.ID] = true
		}
	}
	return c, nil
}

// Complete closes an active reservation early and frees its locker.
func (s *Service) Complete(ctx context.Context, reservationID string) (locker.Reservation, error) {
	s.mu.Lock()
	r, err := s.store.Complete(reservationID)
	available := s.store.AvailableCount()
	s.mu.Unlock()
	if err != nil {
		return locker.Reservation{}, err
	}

	s.metrics.RecordReservationClosed(string(locker.ReservationCompleted), 1)
	s.metrics.SetLockersAvailable(available)
	s.publish(ctx, audit.Event{Type: audit.TypeReservationCompleted, StudentID: r.StudentID, LockerID: r.LockerID, ReservationID: r.ID})
	return r, nil
}

// ReleaseExpired expires every reservation whose window has passed.
func (s *Service) ReleaseExpired(ctx context.Context) []locker.Reservation {
	s.mu.Lock()
	expired := s.store.ReleaseExpired(s.now())
	available := s.store.AvailableCount()
	s.mu.Unlock()

	if len(expired) == 0 {
		return nil
	}
	s.metrics.RecordReservationClosed(string(locker.ReservationExpired), len(expired))
	s.metrics.SetLockersAvailable(available)
	for _, r := range expired {
		s.publish(ctx, audit.Event{Type: audit.TypeReservationExpired, StudentID: r.StudentID, LockerID: r.LockerID, ReservationID: r.ID})
	}
	return expired
}

// RunExpirySweeper calls ReleaseExpired every interval until ctx is done.
func (s *Service) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if expired := s.ReleaseExpired(ctx); len(expired) > 0 {
				s.logger.InfoContext(ctx, "reservations expired", "count", len(expired))
			}
		}
	}
}

// Receipt validates a receipt code and returns the reservation it names.
func (s *Service) Receipt(code string) (receipt.Claims, locker.Reservation, error) {
	if s.receipts == nil {
		return receipt.Claims{}, locker.Reservation{}, fmt.Errorf("%w: receipts disabled", locker.ErrReservationNotFound)
	}
	claims, err := s.receipts.Parse(code)
	if err != nil {
		return receipt.Claims{}, locker.Reservation{}, err
	}
	s.mu.Lock()
	r, ok := s.store.Reservation(claims.ReservationID)
	s.mu.Unlock()
	if !ok {
		return claims, locker.Reservation{}, fmt.Errorf("%w: %s", locker.ErrReservationNotFound, claims.ReservationID)
	}
	return claims, r, nil
}

// Snapshot returns a copy of the whole state with face payloads removed.
func (s *Service) Snapshot() locker.State {
	s.mu.Lock()
	st := s.store.Snapshot()
	s.mu.Unlock()
	for i := range st.RegisteredStudents {
		st.RegisteredStudents[i] = st.RegisteredStudents[i].Public()
	}
	if st.CurrentStudent != nil {
		p := st.CurrentStudent.Public()
		st.CurrentStudent = &p
	}
	return st
}

// Lockers returns every locker and the number still available.
func (s *Service) Lockers() ([]locker.Locker, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Lockers(), s.store.AvailableCount()
}

// Students returns the registered students without face payloads.
func (s *Service) Students() []locker.Student {
	s.mu.Lock()
	students := s.store.RegisteredStudents()
	s.mu.Unlock()
	for i := range students {
		students[i] = students[i].Public()
	}
	return students
}

// Reservations returns the reservation history.
func (s *Service) Reservations() []locker.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Reservations()
}

func (s *Service) checkRegisterable(studentID string) error {
	if _, exists := s.store.FindStudent(studentID); exists {
		return fmt.Errorf("%w: %s", ErrDuplicateStudent, studentID)
	}
	return s.requireStep(locker.StepRegister)
}

func (s *Service) loginTarget(studentID string) (locker.Student, error) {
	if err := s.requireStep(locker.StepRegister); err != nil {
		return locker.Student{}, err
	}
	st, ok := s.store.FindStudent(studentID)
	if !ok {
		return locker.Student{}, fmt.Errorf("%w: %s", ErrUnknownStudent, studentID)
	}
	return st, nil
}

func (s *Service) confirmTarget() (locker.Student, locker.Locker, error) {
	if err := s.requireStep(locker.StepConfirm); err != nil {
		return locker.Student{}, locker.Locker{}, err
	}
	st := s.store.CurrentStudent()
	if st == nil {
		return locker.Student{}, locker.Locker{}, ErrNoStudent
	}
	sel := s.store.SelectedLocker()
	if sel == nil {
		return locker.Student{}, locker.Locker{}, ErrNoLockerSelected
	}
	return *st, *sel, nil
}

func (s *Service) requireStep(want locker.Step) error {
	if cur := s.store.CurrentStep(); cur != want {
		return fmt.Errorf("%w: expected step %s, at %s", locker.ErrInvalidTransition, want, cur)
	}
	return nil
}

// checkFace runs liveness and then 1:1 verification. It returns the
// rejection reason, or "" when the face matches.
func (s *Service) checkFace(ctx context.Context, studentID, image string) (string, error) {
	started := s.now()
	live, err := s.verifier.Liveness(ctx, image)
	if err != nil {
		return "", fmt.Errorf("liveness check: %w", err)
	}
	if !live.IsLive {
		reason := reasonOr(live.Reason, faceclient.ReasonSpoofDetected)
		s.metrics.RecordVerification(false, reason, s.now().Sub(started))
		return reason, nil
	}
	res, err := s.verifier.Verify(ctx, studentID, image)
	if err != nil {
		return "", fmt.Errorf("face verification: %w", err)
	}
	if !res.Verified {
		reason := reasonOr(res.Reason, faceclient.ReasonUnknownPerson)
		s.metrics.RecordVerification(false, reason, s.now().Sub(started))
		return reason, nil
	}
	s.metrics.RecordVerification(true, "", s.now().Sub(started))
	return "", nil
}

func (s *Service) publish(ctx context.Context, evt audit.Event) {
	if s.events == nil {
		return
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = s.now().UTC()
	}
	msg, err := queue.Encode(evt.Type, evt)
	if err != nil {
		s.logger.ErrorContext(ctx, "encode audit event", "type", evt.Type, "error", err)
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.events.Publish(pctx, msg); err != nil {
		s.logger.WarnContext(ctx, "publish audit event", "type", evt.Type, "error", err)
	}
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
