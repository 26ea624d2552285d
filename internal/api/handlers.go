// Package api exposes the HTTP surface: the Drive push-notification
// webhook that schedules debounced reconciliation passes, and a health
// endpoint.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/coupon-sync/internal/domain"
	"github.com/ignite/coupon-sync/internal/pkg/httputil"
	"github.com/ignite/coupon-sync/internal/pkg/logger"
	"github.com/ignite/coupon-sync/internal/scheduler"
)

// Drive push-notification headers. The payload body is empty; everything
// arrives in headers.
const (
	headerChannelID     = "X-Goog-Channel-ID"
	headerResourceID    = "X-Goog-Resource-ID"
	headerResourceState = "X-Goog-Resource-State"
)

// ChannelLookup resolves a push channel back to its watched file.
type ChannelLookup interface {
	GetByChannelID(ctx context.Context, channelID string) (*domain.SheetWatch, error)
}

// TaskScheduler queues debounced reconciliation tasks.
type TaskScheduler interface {
	Schedule(ctx context.Context, kind, fileID string, delay time.Duration) (string, error)
}

// Handlers holds the webhook and health handlers.
type Handlers struct {
	watches   ChannelLookup
	tasks     TaskScheduler
	debounce  time.Duration
	db        *sql.DB
	rdb       *redis.Client
	startTime time.Time
}

// NewHandlers creates the handler set. db and rdb feed the health check
// and may be nil.
func NewHandlers(watches ChannelLookup, tasks TaskScheduler, debounce time.Duration, db *sql.DB, rdb *redis.Client) *Handlers {
	return &Handlers{
		watches:   watches,
		tasks:     tasks,
		debounce:  debounce,
		db:        db,
		rdb:       rdb,
		startTime: time.Now(),
	}
}

// HandleSheetChange receives Drive push notifications. Every accepted
// notification schedules (or re-schedules) one reconciliation task for
// the file, so a burst of edits collapses into a single pass after the
// sheet goes quiet.
func (h *Handlers) HandleSheetChange(w http.ResponseWriter, r *http.Request) {
	channelID := r.Header.Get(headerChannelID)
	state := r.Header.Get(headerResourceState)

	if channelID == "" {
		httputil.Error(w, http.StatusBadRequest, "missing channel id header")
		return
	}

	// Drive sends a "sync" message when a channel is first registered.
	// Acknowledge it without scheduling anything.
	if state == "sync" {
		w.WriteHeader(http.StatusOK)
		return
	}

	watch, err := h.watches.GetByChannelID(r.Context(), channelID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if watch == nil {
		// A 404 tells Drive to stop delivering on this stale channel.
		logger.Warn("notification from unknown channel",
			"channel_id", channelID, "resource_id", r.Header.Get(headerResourceID))
		httputil.Error(w, http.StatusNotFound, "unknown channel")
		return
	}

	taskID, err := h.tasks.Schedule(r.Context(), scheduler.KindSync, watch.FileID, h.debounce)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	logger.Debug("scheduled sheet sync", "file_id", watch.FileID,
		"task_id", taskID, "state", state)
	w.WriteHeader(http.StatusOK)
}

// ComponentCheck reports the health of one dependency.
type ComponentCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthStatus is the health endpoint's response body.
type HealthStatus struct {
	Status string                    `json:"status"`
	Uptime string                    `json:"uptime"`
	Checks map[string]ComponentCheck `json:"checks"`
}

// HealthCheck pings the database and Redis and reports per-component
// status. Unconfigured dependencies report as such without degrading
// overall health.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := HealthStatus{
		Status: "healthy",
		Uptime: time.Since(h.startTime).Round(time.Second).String(),
		Checks: map[string]ComponentCheck{},
	}

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			status.Status = "unhealthy"
			status.Checks["database"] = ComponentCheck{Status: "down", Message: err.Error()}
		} else {
			status.Checks["database"] = ComponentCheck{Status: "up"}
		}
	} else {
		status.Checks["database"] = ComponentCheck{Status: "not_configured"}
	}

	if h.rdb != nil {
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			if status.Status == "healthy" {
				status.Status = "degraded"
			}
			status.Checks["redis"] = ComponentCheck{Status: "down", Message: err.Error()}
		} else {
			status.Checks["redis"] = ComponentCheck{Status: "up"}
		}
	} else {
		status.Checks["redis"] = ComponentCheck{Status: "not_configured"}
	}

	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	httputil.JSON(w, code, status)
}
