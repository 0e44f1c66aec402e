package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"smartlocker/internal/api"
	"smartlocker/internal/audit"
	"smartlocker/internal/booking"
	"smartlocker/internal/faceclient"
	"smartlocker/internal/locker"
	"smartlocker/internal/queue"
	"smartlocker/internal/receipt"
	"smartlocker/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type env struct {
	router http.Handler
	face   *faceclient.Client
	events *queue.InMemory
	repo   *audit.Repository
}

func setup(t *testing.T) *env {
	t.Helper()
	db, err := store.NewDB(context.Background(), store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := audit.NewRepository(db.Client)
	require.NoError(t, repo.Migrate(context.Background()))

	issuer, err := receipt.NewIssuer("smartlocker", "test-key")
	require.NoError(t, err)

	e := &env{
		face:   faceclient.New("", true, 0),
		events: queue.NewInMemory(128),
		repo:   repo,
	}
	svc := booking.NewService(e.face, booking.Options{Events: e.events, Receipts: issuer})
	h := api.NewHandler(svc, repo, nil, map[string]api.HealthCheck{
		"db": db.Healthy,
	})
	e.router = api.NewRouter(h, api.RouterConfig{})
	return e
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func (e *env) registerAndBook(t *testing.T) map[string]any {
	t.Helper()
	w := e.do(t, http.MethodPost, "/v1/students/register", gin.H{"student_id": "S1", "full_name": "Test User", "face_image": "img"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = e.do(t, http.MethodPut, "/v1/session/locker", gin.H{"number": 5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = e.do(t, http.MethodPut, "/v1/session/duration", gin.H{"hours": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = e.do(t, http.MethodPost, "/v1/session/continue", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = e.do(t, http.MethodPost, "/v1/session/verify", gin.H{"face_image": "img"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var out map[string]any
	decode(t, w, &out)
	return out
}

func TestHealth(t *testing.T) {
	e := setup(t)
	w := e.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","db":true}`, w.Body.String())
}

func TestBookingOverHTTP(t *testing.T) {
	e := setup(t)

	conf := e.registerAndBook(t)
	res := conf["reservation"].(map[string]any)
	assert.Equal(t, "locker-5", res["locker_id"])
	assert.Equal(t, float64(5), res["locker_number"])
	code, _ := conf["receipt"].(string)
	require.NotEmpty(t, code)

	var lockers struct {
		Total     int             `json:"total"`
		Available int             `json:"available"`
		Lockers   []locker.Locker `json:"lockers"`
	}
	decode(t, e.do(t, http.MethodGet, "/v1/lockers", nil), &lockers)
	assert.Equal(t, 20, lockers.Total)
	assert.Equal(t, 19, lockers.Available)
	assert.Equal(t, locker.StatusReserved, lockers.Lockers[4].Status)

	var session locker.State
	decode(t, e.do(t, http.MethodGet, "/v1/session", nil), &session)
	assert.Equal(t, locker.StepSuccess, session.CurrentStep)
	assert.Equal(t, 2, session.SelectedDuration)

	var cd locker.Countdown
	w := e.do(t, http.MethodGet, "/v1/session/countdown", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &cd)
	assert.False(t, cd.Expired)
	assert.Regexp(t, `^0[12]:[0-5]\d:[0-5]\d$`, cd.Display)

	w = e.do(t, http.MethodGet, "/v1/receipts/"+code, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = e.do(t, http.MethodGet, "/v1/receipts/garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodPost, "/v1/lockers/5/access", gin.H{"face_image": "img"})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = e.do(t, http.MethodPost, "/v1/lockers/6/access", gin.H{"face_image": "img"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), booking.ReasonNoBookingFound)

	w = e.do(t, http.MethodPost, "/v1/session/reset", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	decode(t, e.do(t, http.MethodGet, "/v1/session", nil), &session)
	assert.Equal(t, locker.StepRegister, session.CurrentStep)
	assert.Len(t, session.Reservations, 1)
	assert.Len(t, session.RegisteredStudents, 1)
}

func TestErrorMapping(t *testing.T) {
	e := setup(t)
	register := gin.H{"student_id": "S1", "full_name": "Test User", "face_image": "img"}

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"invalid body", http.MethodPost, "/v1/students/register", gin.H{"student_id": "S2"}, http.StatusBadRequest},
		{"no face on register", http.MethodPost, "/v1/students/register", gin.H{"student_id": "S2", "full_name": "X"}, http.StatusBadRequest},
		{"register", http.MethodPost, "/v1/students/register", register, http.StatusCreated},
		{"duplicate", http.MethodPost, "/v1/students/register", register, http.StatusConflict},
		{"continue without locker", http.MethodPost, "/v1/session/continue", nil, http.StatusBadRequest},
		{"unknown locker", http.MethodPut, "/v1/session/locker", gin.H{"locker_id": "locker-99"}, http.StatusNotFound},
		{"bad duration", http.MethodPut, "/v1/session/duration", gin.H{"hours": 9}, http.StatusBadRequest},
		{"verify too early", http.MethodPost, "/v1/session/verify", gin.H{"face_image": "img"}, http.StatusConflict},
		{"no countdown yet", http.MethodGet, "/v1/session/countdown", nil, http.StatusNotFound},
		{"complete unknown", http.MethodPost, "/v1/reservations/nope/complete", nil, http.StatusNotFound},
		{"bad locker number", http.MethodPost, "/v1/lockers/abc/access", gin.H{"face_image": "img"}, http.StatusBadRequest},
		{"reset", http.MethodPost, "/v1/session/reset", nil, http.StatusOK},
		{"login unknown", http.MethodPost, "/v1/students/login", gin.H{"student_id": "S9", "face_image": "img"}, http.StatusNotFound},
		{"login", http.MethodPost, "/v1/students/login", gin.H{"student_id": "S1", "face_image": "img"}, http.StatusOK},
	}
	for _, tt := range tests {
		w := e.do(t, tt.method, tt.path, tt.body)
		assert.Equal(t, tt.want, w.Code, "%s: %s", tt.name, w.Body.String())
	}
}

func TestStudents_OmitFaceImage(t *testing.T) {
	e := setup(t)
	e.do(t, http.MethodPost, "/v1/students/register", gin.H{"student_id": "S1", "full_name": "Test User", "face_image": "secret-face"})

	w := e.do(t, http.MethodGet, "/v1/students", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Test User")
	assert.NotContains(t, w.Body.String(), "secret-face")
}

func TestExportReservations(t *testing.T) {
	e := setup(t)
	e.registerAndBook(t)

	w := e.do(t, http.MethodGet, "/v1/reservations/export", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "reservations.xlsx")
	f, err := excelize.OpenReader(w.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Reservations")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestAudit(t *testing.T) {
	e := setup(t)
	e.registerAndBook(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = audit.NewSink(e.repo, nil).Run(ctx, e.events) }()

	require.Eventually(t, func() bool {
		var out struct {
			Events []audit.Event `json:"events"`
		}
		w := e.do(t, http.MethodGet, "/v1/audit?student_id=S1", nil)
		if w.Code != http.StatusOK {
			return false
		}
		_ = json.Unmarshal(w.Body.Bytes(), &out)
		return len(out.Events) == 2
	}, 2*time.Second, 20*time.Millisecond)
}
