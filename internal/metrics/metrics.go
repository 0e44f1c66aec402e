package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "smartlocker"

type Metrics struct {
	studentsRegistered  prometheus.Counter
	logins              *prometheus.CounterVec
	verifications       *prometheus.CounterVec
	verificationSeconds prometheus.Histogram
	reservationsCreated *prometheus.CounterVec
	reservationsClosed  *prometheus.CounterVec
	accessAttempts      *prometheus.CounterVec
	lockersAvailable    prometheus.Gauge
}

func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		studentsRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "students_registered_total",
			Help:      "Total number of students registered",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result",
		}, []string{"result"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "face_verifications_total",
			Help:      "Face verifications by result and rejection reason",
		}, []string{"result", "reason"}),
		verificationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "face_verification_duration_seconds",
			Help:      "Time spent waiting on the face service",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		}),
		reservationsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_created_total",
			Help:      "Reservations committed by booked hours",
		}, []string{"hours"}),
		reservationsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_closed_total",
			Help:      "Reservations closed by final status",
		}, []string{"status"}),
		accessAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locker_access_attempts_total",
			Help:      "Locker open attempts by decision and reason",
		}, []string{"allowed", "reason"}),
		lockersAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lockers_available",
			Help:      "Lockers currently available",
		}),
	}

	collectors := []prometheus.Collector{
		m.studentsRegistered, m.logins, m.verifications, m.verificationSeconds,
		m.reservationsCreated, m.reservationsClosed, m.accessAttempts, m.lockersAvailable,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) RecordStudentRegistration() {
	if m != nil && m.studentsRegistered != nil {
		m.studentsRegistered.Inc()
	}
}

func (m *Metrics) RecordLogin(ok bool) {
	if m != nil && m.logins != nil {
		m.logins.WithLabelValues(result(ok)).Inc()
	}
}

// RecordVerification counts one face check; reason is empty on success.
func (m *Metrics) RecordVerification(ok bool, reason string, took time.Duration) {
	if m == nil || m.verifications == nil {
		return
	}
	m.verifications.WithLabelValues(result(ok), reason).Inc()
	m.verificationSeconds.Observe(took.Seconds())
}

func (m *Metrics) RecordReservation(hours int) {
	if m != nil && m.reservationsCreated != nil {
		m.reservationsCreated.WithLabelValues(strconv.Itoa(hours)).Inc()
	}
}

func (m *Metrics) RecordReservationClosed(status string, n int) {
	if m != nil && m.reservationsClosed != nil && n > 0 {
		m.reservationsClosed.WithLabelValues(status).Add(float64(n))
	}
}

func (m *Metrics) RecordAccess(allowed bool, reason string) {
	if m != nil && m.accessAttempts != nil {
		m.accessAttempts.WithLabelValues(strconv.FormatBool(allowed), reason).Inc()
	}
}

func (m *Metrics) SetLockersAvailable(n int) {
	if m != nil && m.lockersAvailable != nil {
		m.lockersAvailable.Set(float64(n))
	}
}

// NewMock creates a no-op Metrics instance for testing.
func NewMock() *Metrics {
	return &Metrics{}
}

func result(ok bool) string {
	if ok {
		return "accepted"
	}
	return "rejected"
}
