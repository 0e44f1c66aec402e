package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"smartlocker/internal/audit"
	"smartlocker/internal/booking"
	"smartlocker/internal/locker"
	"smartlocker/internal/report"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) bool

// Handler serves the booking service over HTTP.
type Handler struct {
	service  *booking.Service
	audit    *audit.Repository
	validate *validator.Validate
	logger   *slog.Logger
	checks   map[string]HealthCheck
}

// NewHandler wires the booking service to HTTP. auditRepo may be nil when
// the audit database is not configured.
func NewHandler(service *booking.Service, auditRepo *audit.Repository, logger *slog.Logger, checks map[string]HealthCheck) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:  service,
		audit:    auditRepo,
		validate: validator.New(),
		logger:   logger,
		checks:   checks,
	}
}

type registerRequest struct {
	StudentID string `json:"student_id" validate:"required,max=64"`
	FullName  string `json:"full_name" validate:"required,max=128"`
	FaceImage string `json:"face_image"`
}

type loginRequest struct {
	StudentID string `json:"student_id" validate:"required,max=64"`
	FaceImage string `json:"face_image"`
}

type selectLockerRequest struct {
	LockerID string `json:"locker_id" validate:"required_without=Number"`
	Number   int    `json:"number" validate:"omitempty,gte=1"`
}

type durationRequest struct {
	Hours int `json:"hours" validate:"required"`
}

type faceRequest struct {
	FaceImage string `json:"face_image"`
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.GET("/session", h.GetSession)
	router.PUT("/session/locker", h.SelectLocker)
	router.PUT("/session/duration", h.SelectDuration)
	router.POST("/session/continue", h.Continue)
	router.POST("/session/verify", h.Verify)
	router.GET("/session/countdown", h.Countdown)
	router.POST("/session/reset", h.Reset)

	router.GET("/students", h.ListStudents)
	router.POST("/students/register", h.Register)
	router.POST("/students/login", h.Login)

	router.GET("/lockers", h.ListLockers)
	router.POST("/lockers/:number/access", h.OpenLocker)

	router.GET("/reservations", h.ListReservations)
	router.GET("/reservations/export", h.ExportReservations)
	router.POST("/reservations/:id/complete", h.CompleteReservation)

	router.GET("/receipts/:code", h.CheckReceipt)
	router.GET("/audit", h.ListAudit)
}

func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.checks {
		ok := check(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func (h *Handler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Snapshot())
}

func (h *Handler) ListStudents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"students": h.service.Students()})
}

func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if !h.bind(c, &req) {
		return
	}
	student, err := h.service.Register(c.Request.Context(), booking.RegisterRequest{
		StudentID: req.StudentID,
		FullName:  req.FullName,
		FaceImage: req.FaceImage,
	})
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"student": student, "step": locker.StepBooking})
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if !h.bind(c, &req) {
		return
	}
	student, err := h.service.Login(c.Request.Context(), booking.LoginRequest{StudentID: req.StudentID, FaceImage: req.FaceImage})
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"student": student, "step": locker.StepBooking})
}

func (h *Handler) ListLockers(c *gin.Context) {
	lockers, available := h.service.Lockers()
	c.JSON(http.StatusOK, gin.H{"lockers": lockers, "total": len(lockers), "available": available})
}

func (h *Handler) SelectLocker(c *gin.Context) {
	var req selectLockerRequest
	if !h.bind(c, &req) {
		return
	}
	id := req.LockerID
	if id == "" {
		id = locker.LockerID(req.Number)
	}
	l, err := h.service.SelectLocker(id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"selected_locker": l})
}

func (h *Handler) SelectDuration(c *gin.Context) {
	var req durationRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.service.SelectDuration(req.Hours); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"selected_duration": req.Hours})
}

func (h *Handler) Continue(c *gin.Context) {
	if err := h.service.Continue(); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"step": locker.StepConfirm})
}

func (h *Handler) Verify(c *gin.Context) {
	var req faceRequest
	if !h.bind(c, &req) {
		return
	}
	conf, err := h.service.Verify(c.Request.Context(), req.FaceImage)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conf)
}

func (h *Handler) Countdown(c *gin.Context) {
	cd, err := h.service.Countdown()
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, cd)
}

func (h *Handler) Reset(c *gin.Context) {
	h.service.Reset(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"step": locker.StepRegister})
}

func (h *Handler) OpenLocker(c *gin.Context) {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid locker number"})
		return
	}
	var req faceRequest
	if !h.bind(c, &req) {
		return
	}
	d, err := h.service.OpenLocker(c.Request.Context(), number, req.FaceImage)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	status := http.StatusOK
	if !d.Allow {
		status = http.StatusForbidden
	}
	c.JSON(status, d)
}

func (h *Handler) ListReservations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"reservations": h.service.Reservations()})
}

func (h *Handler) ExportReservations(c *gin.Context) {
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", `attachment; filename="reservations.xlsx"`)
	if err := report.Write(c.Writer, h.service.Reservations()); err != nil {
		h.logger.ErrorContext(c.Request.Context(), "export reservations", "error", err)
		c.AbortWithStatus(http.StatusInternalServerError)
	}
}

func (h *Handler) CompleteReservation(c *gin.Context) {
	r, err := h.service.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reservation": r})
}

func (h *Handler) CheckReceipt(c *gin.Context) {
	claims, r, err := h.service.Receipt(c.Param("code"))
	if err != nil {
		if errors.Is(err, locker.ErrReservationNotFound) {
			h.handleServiceError(c, err)
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid receipt"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "student_id": claims.Subject, "reservation": r})
}

func (h *Handler) ListAudit(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit store not configured"})
		return
	}
	f := audit.Filter{
		Type:      c.Query("type"),
		StudentID: c.Query("student_id"),
		LockerID:  c.Query("locker_id"),
	}
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			f.Limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			f.Offset = parsed
		}
	}
	events, err := h.audit.List(c.Request.Context(), f)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func (h *Handler) handleServiceError(c *gin.Context, err error) {
	ctx := c.Request.Context()
	var rej *booking.RejectionError
	switch {
	case errors.As(err, &rej):
		h.logger.InfoContext(ctx, "verification rejected", "reason", rej.Reason)
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "reason": rej.Reason})
	case errors.Is(err, booking.ErrMissingField),
		errors.Is(err, booking.ErrNoFaceImage),
		errors.Is(err, booking.ErrNoLockerSelected),
		errors.Is(err, booking.ErrInvalidDuration):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, booking.ErrUnknownStudent),
		errors.Is(err, booking.ErrNoReservation),
		errors.Is(err, locker.ErrLockerNotFound),
		errors.Is(err, locker.ErrReservationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, booking.ErrDuplicateStudent),
		errors.Is(err, booking.ErrNoStudent),
		errors.Is(err, locker.ErrLockerUnavailable),
		errors.Is(err, locker.ErrInvalidTransition),
		errors.Is(err, locker.ErrUnknownStep):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.ErrorContext(ctx, "request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
