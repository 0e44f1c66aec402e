package booking_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"smartlocker/internal/audit"
	"smartlocker/internal/booking"
	"smartlocker/internal/faceclient"
	"smartlocker/internal/locker"
	"smartlocker/internal/metrics"
	"smartlocker/internal/queue"
	"smartlocker/internal/receipt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVerifier struct {
	mu          sync.Mutex
	enrollFail  string
	livenessBad string
	verifyBad   string
	err         error
	calls       int
}

func (f *fakeVerifier) Enroll(_ context.Context, studentID, _, _ string) (*faceclient.EnrollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &faceclient.EnrollResult{StudentID: studentID, Success: f.enrollFail == "", Reason: f.enrollFail}, nil
}

func (f *fakeVerifier) Liveness(_ context.Context, _ string) (*faceclient.LivenessResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &faceclient.LivenessResult{IsLive: f.livenessBad == "", Reason: f.livenessBad}, nil
}

func (f *fakeVerifier) Verify(_ context.Context, studentID, _ string) (*faceclient.VerifyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &faceclient.VerifyResult{StudentID: studentID, Verified: f.verifyBad == "", Reason: f.verifyBad}, nil
}

func (f *fakeVerifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc      *booking.Service
	face     *fakeVerifier
	clock    *clock
	events   *queue.InMemory
	receipts *receipt.Issuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	issuer, err := receipt.NewIssuer("smartlocker", "test-key")
	require.NoError(t, err)
	f := &fixture{
		face:     &fakeVerifier{},
		clock:    &clock{t: time.Now().Truncate(time.Second)},
		events:   queue.NewInMemory(256),
		receipts: issuer,
	}
	f.svc = booking.NewService(f.face, booking.Options{
		LockerCount: 20,
		Events:      f.events,
		Receipts:    issuer,
		Metrics:     metrics.NewMock(),
		Now:         f.clock.Now,
	})
	return f
}

func (f *fixture) register(t *testing.T, id, name string) locker.Student {
	t.Helper()
	st, err := f.svc.Register(context.Background(), booking.RegisterRequest{StudentID: id, FullName: name, FaceImage: "face-" + id})
	require.NoError(t, err)
	return st
}

// book walks the wizard up to a committed reservation.
func (f *fixture) book(t *testing.T, id, lockerID string, hours int) booking.Confirmation {
	t.Helper()
	f.register(t, id, "Student "+id)
	_, err := f.svc.SelectLocker(lockerID)
	require.NoError(t, err)
	require.NoError(t, f.svc.SelectDuration(hours))
	require.NoError(t, f.svc.Continue())
	conf, err := f.svc.Verify(context.Background(), "capture")
	require.NoError(t, err)
	return conf
}

func (f *fixture) drainTypes() []string {
	var types []string
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n := f.events.Len()
	ch, _ := f.events.Consume(ctx)
	for i := 0; i < n; i++ {
		types = append(types, (<-ch).Type)
	}
	return types
}

func TestRegister(t *testing.T) {
	f := newFixture(t)

	st, err := f.svc.Register(context.Background(), booking.RegisterRequest{
		StudentID: "  S1 ",
		FullName:  " Test User ",
		FaceImage: "data:image/jpeg;base64,AAAA",
	})

	require.NoError(t, err)
	assert.Equal(t, "S1", st.StudentID)
	assert.Equal(t, "Test User", st.FullName)
	assert.NotEmpty(t, st.ID)
	assert.Empty(t, st.FaceImage, "face payload is not returned")

	snap := f.svc.Snapshot()
	assert.Equal(t, locker.StepBooking, snap.CurrentStep)
	require.NotNil(t, snap.CurrentStudent)
	assert.Equal(t, "S1", snap.CurrentStudent.StudentID)
	require.Len(t, snap.RegisteredStudents, 1)
	assert.Empty(t, snap.RegisteredStudents[0].FaceImage)
	assert.Equal(t, []string{audit.TypeStudentRegistered}, f.drainTypes())
}

func TestRegister_DuplicateRejectedBeforeStore(t *testing.T) {
	f := newFixture(t)
	f.register(t, "S1", "Test User")
	calls := f.face.callCount()

	_, err := f.svc.Register(context.Background(), booking.RegisterRequest{StudentID: "S1", FullName: "Test User", FaceImage: "img"})
	assert.ErrorIs(t, err, booking.ErrDuplicateStudent)

	f.svc.Reset(context.Background())
	_, err = f.svc.Register(context.Background(), booking.RegisterRequest{StudentID: "S1", FullName: "Someone Else", FaceImage: "img"})
	assert.ErrorIs(t, err, booking.ErrDuplicateStudent)

	assert.Len(t, f.svc.Students(), 1)
	assert.Equal(t, calls, f.face.callCount(), "face service not called for duplicates")
}

func TestRegister_InputErrorsDoNotMutate(t *testing.T) {
	tests := []struct {
		name    string
		req     booking.RegisterRequest
		wantErr error
	}{
		{name: "missing id", req: booking.RegisterRequest{FullName: "A", FaceImage: "img"}, wantErr: booking.ErrMissingField},
		{name: "blank name", req: booking.RegisterRequest{StudentID: "S1", FullName: "   ", FaceImage: "img"}, wantErr: booking.ErrMissingField},
		{name: "no face", req: booking.RegisterRequest{StudentID: "S1", FullName: "A"}, wantErr: booking.ErrNoFaceImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			before := f.svc.Snapshot()

			_, err := f.svc.Register(context.Background(), tt.req)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, before, f.svc.Snapshot())
			assert.Zero(t, f.face.callCount())
		})
	}
}

func TestRegister_EnrollRejected(t *testing.T) {
	f := newFixture(t)
	f.face.enrollFail = faceclient.ReasonNoFaceDetected

	_, err := f.svc.Register(context.Background(), booking.RegisterRequest{StudentID: "S1", FullName: "A", FaceImage: "img"})

	var rej *booking.RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, faceclient.ReasonNoFaceDetected, rej.Reason)
	assert.ErrorIs(t, err, booking.ErrVerificationRejected)
	assert.Empty(t, f.svc.Students())
	assert.Equal(t, locker.StepRegister, f.svc.Snapshot().CurrentStep)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	f.register(t, "S1", "Test User")
	f.svc.Reset(context.Background())

	st, err := f.svc.Login(context.Background(), booking.LoginRequest{StudentID: " S1 ", FaceImage: "img"})

	require.NoError(t, err)
	assert.Equal(t, "S1", st.StudentID)
	snap := f.svc.Snapshot()
	assert.Equal(t, locker.StepBooking, snap.CurrentStep)
	require.NotNil(t, snap.CurrentStudent)
	assert.Equal(t, "Test User", snap.CurrentStudent.FullName)
}

func TestLogin_Errors(t *testing.T) {
	t.Run("unknown student", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Login(context.Background(), booking.LoginRequest{StudentID: "nobody", FaceImage: "img"})
		assert.ErrorIs(t, err, booking.ErrUnknownStudent)
		assert.Nil(t, f.svc.Snapshot().CurrentStudent)
	})

	t.Run("missing id", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Login(context.Background(), booking.LoginRequest{StudentID: " ", FaceImage: "img"})
		assert.ErrorIs(t, err, booking.ErrMissingField)
	})

	t.Run("spoof", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "S1", "Test User")
		f.svc.Reset(context.Background())
		f.face.livenessBad = faceclient.ReasonSpoofDetected

		_, err := f.svc.Login(context.Background(), booking.LoginRequest{StudentID: "S1", FaceImage: "photo-of-photo"})

		var rej *booking.RejectionError
		require.ErrorAs(t, err, &rej)
		assert.Equal(t, faceclient.ReasonSpoofDetected, rej.Reason)
		assert.Equal(t, locker.StepRegister, f.svc.Snapshot().CurrentStep)
		assert.Nil(t, f.svc.Snapshot().CurrentStudent)
	})
}

func TestBookingFlow(t *testing.T) {
	f := newFixture(t)
	start := f.clock.Now()

	conf := f.book(t, "S1", "locker-5", 3)

	r := conf.Reservation
	assert.Equal(t, "locker-5", r.LockerID)
	assert.Equal(t, 5, r.LockerNumber)
	assert.Equal(t, "S1", r.StudentID)
	assert.Equal(t, locker.ReservationActive, r.Status)
	assert.True(t, r.StartTime.Equal(start))
	assert.True(t, r.EndTime.Equal(start.Add(3*time.Hour)))

	snap := f.svc.Snapshot()
	assert.Equal(t, locker.StepSuccess, snap.CurrentStep)
	lockers, available := f.svc.Lockers()
	assert.Equal(t, 19, available)
	assert.Equal(t, locker.StatusReserved, lockers[4].Status)
	assert.Equal(t, "S1", lockers[4].ReservedBy)

	claims, got, err := f.svc.Receipt(conf.Receipt)
	require.NoError(t, err)
	assert.Equal(t, r.ID, claims.ReservationID)
	assert.Equal(t, r, got)

	assert.Equal(t, []string{audit.TypeStudentRegistered, audit.TypeReservationCreated}, f.drainTypes())
}

func TestContinue_RequiresSelection(t *testing.T) {
	f := newFixture(t)
	f.register(t, "S1", "Test User")

	err := f.svc.Continue()

	assert.ErrorIs(t, err, booking.ErrNoLockerSelected)
	assert.Equal(t, locker.StepBooking, f.svc.Snapshot().CurrentStep)
}

func TestSelect_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SelectLocker("locker-1")
	assert.ErrorIs(t, err, locker.ErrInvalidTransition, "no student yet")

	f.register(t, "S1", "Test User")

	_, err = f.svc.SelectLocker("locker-99")
	assert.ErrorIs(t, err, locker.ErrLockerNotFound)

	for _, h := range []int{0, -1, 5} {
		assert.ErrorIs(t, f.svc.SelectDuration(h), booking.ErrInvalidDuration, h)
	}
	assert.Equal(t, 1, f.svc.Snapshot().SelectedDuration)

	require.NoError(t, f.svc.SelectDuration(4))
	assert.Equal(t, 4, f.svc.Snapshot().SelectedDuration)
}

func TestVerify_Errors(t *testing.T) {
	t.Run("no face image", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "S1", "Test User")
		_, _ = f.svc.SelectLocker("locker-1")
		require.NoError(t, f.svc.Continue())
		before := f.svc.Snapshot()

		_, err := f.svc.Verify(context.Background(), "")

		assert.ErrorIs(t, err, booking.ErrNoFaceImage)
		assert.Equal(t, before, f.svc.Snapshot())
	})

	t.Run("wrong step", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Verify(context.Background(), "img")
		assert.ErrorIs(t, err, locker.ErrInvalidTransition)
	})

	t.Run("rejected face leaves state untouched", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "S1", "Test User")
		_, _ = f.svc.SelectLocker("locker-1")
		require.NoError(t, f.svc.Continue())
		before := f.svc.Snapshot()
		f.face.verifyBad = faceclient.ReasonUnknownPerson

		_, err := f.svc.Verify(context.Background(), "someone-else")

		assert.ErrorIs(t, err, booking.ErrVerificationRejected)
		assert.Equal(t, before, f.svc.Snapshot())
	})

	t.Run("transport error", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "S1", "Test User")
		_, _ = f.svc.SelectLocker("locker-1")
		require.NoError(t, f.svc.Continue())
		before := f.svc.Snapshot()
		f.face.err = errors.New("connection refused")

		_, err := f.svc.Verify(context.Background(), "img")

		assert.ErrorContains(t, err, "connection refused")
		assert.Equal(t, before, f.svc.Snapshot())
	})
}

func TestReset_KeepsHistory(t *testing.T) {
	f := newFixture(t)
	f.book(t, "S1", "locker-5", 3)

	f.svc.Reset(context.Background())

	snap := f.svc.Snapshot()
	assert.Equal(t, locker.StepRegister, snap.CurrentStep)
	assert.Nil(t, snap.CurrentStudent)
	assert.Nil(t, snap.SelectedLocker)
	assert.Equal(t, 1, snap.SelectedDuration)
	assert.Len(t, snap.RegisteredStudents, 1)
	assert.Len(t, snap.Reservations, 1)
	_, available := f.svc.Lockers()
	assert.Equal(t, 20, available)
}

func TestCountdown(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Countdown()
	assert.ErrorIs(t, err, booking.ErrNoReservation)

	f.book(t, "S1", "locker-1", 1)

	c, err := f.svc.Countdown()
	require.NoError(t, err)
	assert.Equal(t, "01:00:00", c.Display)
	assert.False(t, c.Warn)

	f.clock.Advance(time.Hour - 10*time.Second)
	c, err = f.svc.Countdown()
	require.NoError(t, err)
	assert.Equal(t, "00:00:10", c.Display)
	assert.True(t, c.Warn)

	f.clock.Advance(time.Second)
	c, err = f.svc.Countdown()
	require.NoError(t, err)
	assert.False(t, c.Warn, "warning fires once")

	f.clock.Advance(9 * time.Second)
	c, err = f.svc.Countdown()
	require.NoError(t, err)
	assert.True(t, c.Expired)
	assert.Equal(t, locker.ExpiredLabel, c.Display)
}

func TestReleaseExpired(t *testing.T) {
	f := newFixture(t)
	f.book(t, "S1", "locker-1", 1)
	f.drainTypes()

	assert.Empty(t, f.svc.ReleaseExpired(context.Background()))

	f.clock.Advance(time.Hour)
	expired := f.svc.ReleaseExpired(context.Background())

	require.Len(t, expired, 1)
	assert.Equal(t, locker.ReservationExpired, f.svc.Reservations()[0].Status)
	_, available := f.svc.Lockers()
	assert.Equal(t, 20, available)
	assert.Equal(t, []string{audit.TypeReservationExpired}, f.drainTypes())
}

func TestRunExpirySweeper(t *testing.T) {
	f := newFixture(t)
	f.book(t, "S1", "locker-1", 1)
	f.clock.Advance(2 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.RunExpirySweeper(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return f.svc.Reservations()[0].Status == locker.ReservationExpired
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestComplete(t *testing.T) {
	f := newFixture(t)
	conf := f.book(t, "S1", "locker-8", 2)

	r, err := f.svc.Complete(context.Background(), conf.Reservation.ID)

	require.NoError(t, err)
	assert.Equal(t, locker.ReservationCompleted, r.Status)
	_, available := f.svc.Lockers()
	assert.Equal(t, 20, available)

	_, err = f.svc.Complete(context.Background(), "missing")
	assert.ErrorIs(t, err, locker.ErrReservationNotFound)
}

func TestOpenLocker(t *testing.T) {
	t.Run("allowed", func(t *testing.T) {
		f := newFixture(t)
		conf := f.book(t, "S1", "locker-4", 2)
		f.clock.Advance(time.Minute)

		d, err := f.svc.OpenLocker(context.Background(), 4, "img")

		require.NoError(t, err)
		assert.True(t, d.Allow)
		assert.Empty(t, d.Reason)
		assert.Equal(t, "S1", d.StudentID)
		assert.Equal(t, conf.Reservation.ID, d.ReservationID)
	})

	t.Run("no booking", func(t *testing.T) {
		f := newFixture(t)
		d, err := f.svc.OpenLocker(context.Background(), 4, "img")
		require.NoError(t, err)
		assert.False(t, d.Allow)
		assert.Equal(t, booking.ReasonNoBookingFound, d.Reason)
		assert.Zero(t, f.face.callCount())
	})

	t.Run("outside window", func(t *testing.T) {
		f := newFixture(t)
		f.book(t, "S1", "locker-4", 1)
		f.clock.Advance(time.Hour)

		d, err := f.svc.OpenLocker(context.Background(), 4, "img")

		require.NoError(t, err)
		assert.False(t, d.Allow)
		assert.Equal(t, booking.ReasonOutsideAllowedTime, d.Reason)
	})

	t.Run("spoof", func(t *testing.T) {
		f := newFixture(t)
		f.book(t, "S1", "locker-4", 1)
		f.face.livenessBad = faceclient.ReasonSpoofDetected

		d, err := f.svc.OpenLocker(context.Background(), 4, "img")

		require.NoError(t, err)
		assert.False(t, d.Allow)
		assert.Equal(t, faceclient.ReasonSpoofDetected, d.Reason)
	})

	t.Run("unknown person", func(t *testing.T) {
		f := newFixture(t)
		f.book(t, "S1", "locker-4", 1)
		f.face.verifyBad = faceclient.ReasonUnknownPerson

		d, err := f.svc.OpenLocker(context.Background(), 4, "img")

		require.NoError(t, err)
		assert.False(t, d.Allow)
		assert.Equal(t, faceclient.ReasonUnknownPerson, d.Reason)
	})

	t.Run("bad input", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.OpenLocker(context.Background(), 4, "")
		assert.ErrorIs(t, err, booking.ErrNoFaceImage)
		_, err = f.svc.OpenLocker(context.Background(), 21, "img")
		assert.ErrorIs(t, err, locker.ErrLockerNotFound)
	})
}

func TestReceipt_Unknown(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	code, err := f.receipts.Issue("S1", "ghost", "locker-1", 1, now, now.Add(time.Hour))
	require.NoError(t, err)

	_, _, err = f.svc.Receipt(code)

	assert.ErrorIs(t, err, locker.ErrReservationNotFound)
}
