package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/vigil/internal/db"
	"github.com/lalithlochan/vigil/internal/delivery"
	"github.com/lalithlochan/vigil/internal/metrics"
	"github.com/lalithlochan/vigil/internal/redis"
	"github.com/lalithlochan/vigil/internal/schedule"
)

// idempotencyScope namespaces Idempotency-Key values for schedule requests.
const idempotencyScope = "notifications"

// Reminders is the schedule surface the handlers drive.
type Reminders interface {
	ScheduleNextReminder(ctx context.Context, settings schedule.UserSettings) (*db.ScheduledNotification, error)
	CancelDailyReminder(ctx context.Context) error
	CancelType(ctx context.Context, t db.NotificationType) error
	ScheduleOneShot(ctx context.Context, req schedule.OneShot, quiet schedule.QuietHours) (*db.ScheduledNotification, error)
	SendTestNotification(ctx context.Context) (*db.ScheduledNotification, error)
	TriggerBackgroundCheck(ctx context.Context)
	GetScheduledNotifications(ctx context.Context) ([]*db.ScheduledNotification, error)
	GetPendingNotifications(ctx context.Context) ([]*db.ScheduledNotification, error)
	Permission(ctx context.Context) (delivery.Permission, error)
	SetPermission(ctx context.Context, p delivery.Permission) error
}

// ScheduleRequest is the body of POST /v1/notifications. The quiet-hours
// fields are the user's current settings and are snapshotted into the entry.
type ScheduleRequest struct {
	schedule.OneShot
	QuietHours bool   `json:"quiet_hours"`
	QuietStart string `json:"quiet_start,omitempty"`
	QuietEnd   string `json:"quiet_end,omitempty"`
}

// NotificationResponse is returned after scheduling an entry.
type NotificationResponse struct {
	ID           string     `json:"id"`
	ScheduleTime *time.Time `json:"schedule_time,omitempty"`
}

// SettingsResponse is returned after the reminder settings change.
type SettingsResponse struct {
	Scheduled    bool                       `json:"scheduled"`
	Notification *db.ScheduledNotification `json:"notification,omitempty"`
}

// PermissionBody is the request and response body of /v1/permission.
type PermissionBody struct {
	Permission delivery.Permission `json:"permission"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	reminders   Reminders
	idempotency *redis.IdempotencyService // nil if Redis not configured
	writes      *redis.WriteLimiter       // nil if Redis not configured
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, reminders Reminders) *Handler {
	return &Handler{
		logger:    logger,
		reminders: reminders,
	}
}

// NewHandlerWithIdempotency creates a handler that honors Idempotency-Key on
// schedule requests.
func NewHandlerWithIdempotency(logger *zap.Logger, reminders Reminders, idempotency *redis.IdempotencyService) *Handler {
	h := NewHandler(logger, reminders)
	h.idempotency = idempotency
	return h
}

// WithWriteLimit caps schedule writes per client and scope. Reads are not
// limited.
func (h *Handler) WithWriteLimit(limiter *redis.WriteLimiter) *Handler {
	h.writes = limiter
	return h
}

func (h *Handler) limit(sc func(*http.Request) string) func(http.Handler) http.Handler {
	return WriteLimit(h.writes, h.logger, ClientKeyFunc, sc)
}

// Routes registers the /v1 endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	daily := h.limit(scope(string(db.TypeDailyReminder)))
	r.With(daily).Put("/reminders/settings", h.UpdateReminderSettings)
	r.With(daily).Delete("/reminders/daily", h.CancelDailyReminder)

	// the one-shot type is in the body, so one-shots share a scope
	r.With(h.limit(scope("one-shot"))).Post("/notifications", h.ScheduleNotification)
	r.Get("/notifications", h.ListNotifications)
	r.Get("/notifications/pending", h.ListPendingNotifications)
	r.With(h.limit(scope(string(db.TypeAdminTest)))).Post("/notifications/test", h.SendTestNotification)
	r.With(h.limit(typeParamScope)).Delete("/notifications/types/{type}", h.CancelNotificationType)

	r.Get("/permission", h.GetPermission)
	r.With(h.limit(scope("permission"))).Put("/permission", h.SetPermission)

	r.With(h.limit(scope("background-check"))).Post("/background-check", h.TriggerBackgroundCheck)
}

// UpdateReminderSettings handles PUT /v1/reminders/settings
func (h *Handler) UpdateReminderSettings(w http.ResponseWriter, r *http.Request) {
	var settings schedule.UserSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	entry, err := h.reminders.ScheduleNextReminder(r.Context(), settings)
	if err != nil {
		h.writeServiceError(w, "failed to update reminder settings", err)
		return
	}

	writeJSON(w, http.StatusOK, SettingsResponse{Scheduled: entry != nil, Notification: entry})
}

// CancelDailyReminder handles DELETE /v1/reminders/daily
func (h *Handler) CancelDailyReminder(w http.ResponseWriter, r *http.Request) {
	if err := h.reminders.CancelDailyReminder(r.Context()); err != nil {
		h.writeServiceError(w, "failed to cancel daily reminder", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ScheduleNotification handles POST /v1/notifications
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) ScheduleNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	idempotencyKey := r.Header.Get("Idempotency-Key")

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, idempotencyScope, idempotencyKey)
		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another request with this idempotency key is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		} else if cached != nil {
			metrics.RecordIdempotencyHit()
			w.Header().Set("X-Idempotency-Replayed", "true")
			writeJSON(w, cached.StatusCode, NotificationResponse{ID: cached.NotificationID})
			return
		}
	}

	quiet := schedule.QuietHours{Enabled: req.QuietHours, Start: req.QuietStart, End: req.QuietEnd}
	entry, err := h.reminders.ScheduleOneShot(ctx, req.OneShot, quiet)
	if err != nil {
		h.releaseIdempotencyKey(ctx, idempotencyKey)
		h.writeServiceError(w, "failed to schedule notification", err)
		return
	}

	if idempotencyKey != "" && h.idempotency != nil {
		result := &redis.IdempotencyResult{
			NotificationID: entry.ID,
			StatusCode:     http.StatusCreated,
		}
		if err := h.idempotency.Store(ctx, idempotencyScope, idempotencyKey, result, redis.IdempotencyTTL); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	writeJSON(w, http.StatusCreated, NotificationResponse{ID: entry.ID, ScheduleTime: &entry.ScheduleTime})
}

// SendTestNotification handles POST /v1/notifications/test
func (h *Handler) SendTestNotification(w http.ResponseWriter, r *http.Request) {
	entry, err := h.reminders.SendTestNotification(r.Context())
	if err != nil {
		h.writeServiceError(w, "failed to send test notification", err)
		return
	}
	writeJSON(w, http.StatusCreated, NotificationResponse{ID: entry.ID, ScheduleTime: &entry.ScheduleTime})
}

// CancelNotificationType handles DELETE /v1/notifications/types/{type}
func (h *Handler) CancelNotificationType(w http.ResponseWriter, r *http.Request) {
	t := db.NotificationType(chi.URLParam(r, "type"))
	if err := h.reminders.CancelType(r.Context(), t); err != nil {
		h.writeServiceError(w, "failed to cancel notifications", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListNotifications handles GET /v1/notifications
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	all, err := h.reminders.GetScheduledNotifications(r.Context())
	if err != nil {
		h.writeServiceError(w, "failed to list notifications", err)
		return
	}
	writeList(w, all)
}

// ListPendingNotifications handles GET /v1/notifications/pending
func (h *Handler) ListPendingNotifications(w http.ResponseWriter, r *http.Request) {
	pending, err := h.reminders.GetPendingNotifications(r.Context())
	if err != nil {
		h.writeServiceError(w, "failed to list pending notifications", err)
		return
	}
	writeList(w, pending)
}

// GetPermission handles GET /v1/permission
func (h *Handler) GetPermission(w http.ResponseWriter, r *http.Request) {
	p, err := h.reminders.Permission(r.Context())
	if err != nil {
		h.writeServiceError(w, "failed to read notification permission", err)
		return
	}
	writeJSON(w, http.StatusOK, PermissionBody{Permission: p})
}

// SetPermission handles PUT /v1/permission
func (h *Handler) SetPermission(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Permission string `json:"permission"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	p, err := delivery.ParsePermission(body.Permission)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid permission",
			"permission must be one of: granted, denied, default")
		return
	}

	if err := h.reminders.SetPermission(r.Context(), p); err != nil {
		h.writeServiceError(w, "failed to record notification permission", err)
		return
	}
	writeJSON(w, http.StatusOK, PermissionBody{Permission: p})
}

// TriggerBackgroundCheck handles POST /v1/background-check
func (h *Handler) TriggerBackgroundCheck(w http.ResponseWriter, r *http.Request) {
	h.reminders.TriggerBackgroundCheck(r.Context())
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) releaseIdempotencyKey(ctx context.Context, key string) {
	if key == "" || h.idempotency == nil {
		return
	}
	if err := h.idempotency.Release(ctx, idempotencyScope, key); err != nil {
		h.logger.Warn("failed to release idempotency key",
			zap.Error(err),
			zap.String("idempotency_key", key),
		)
	}
}

// writeServiceError maps the error taxonomy onto problem+json responses.
func (h *Handler) writeServiceError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, delivery.ErrPermission):
		h.writeError(w, http.StatusForbidden, "permission_required",
			"Notifications are not enabled",
			"Enable notifications for this app manually in your browser or device settings.")

	case errors.Is(err, schedule.ErrInvalidTimeOfDay),
		errors.Is(err, schedule.ErrInvalidEntry),
		errors.Is(err, schedule.ErrPastScheduleTime):
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification settings", err.Error())

	case errors.Is(err, db.ErrStorage):
		h.logger.Error(msg, zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "Schedule store unavailable", "")

	default:
		h.logger.Error(msg, zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Unexpected error", "")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	writeProblem(w, ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func writeProblem(w http.ResponseWriter, e ErrorResponse) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(e)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeList(w http.ResponseWriter, ns []*db.ScheduledNotification) {
	if ns == nil {
		ns = []*db.ScheduledNotification{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  ns,
		"count": len(ns),
	})
}
