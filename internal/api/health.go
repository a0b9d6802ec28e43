package api

import (
	"net/http"
	"time"

	"github.com/0xmukeshr/snaptok-redefine/internal/analyze"
	"github.com/0xmukeshr/snaptok-redefine/internal/telemetry"
)

// HealthResponse reports overall service health and per-component checks.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

// HealthHandler serves the unauthenticated health endpoint.
type HealthHandler struct {
	telemetry *telemetry.Publisher
	watcher   *analyze.ArtifactWatcher
	s3Enabled bool
	version   string
	startTime time.Time
}

func NewHealthHandler(tel *telemetry.Publisher, watcher *analyze.ArtifactWatcher, s3Enabled bool, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		telemetry: tel,
		watcher:   watcher,
		s3Enabled: s3Enabled,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"

	if h.telemetry != nil {
		if h.telemetry.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			status = "degraded"
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	if h.watcher != nil {
		checks["artifact_watcher"] = "watching"
	} else {
		checks["artifact_watcher"] = "not_configured"
	}

	if h.s3Enabled {
		checks["raw_upload"] = "ok"
	} else {
		checks["raw_upload"] = "not_configured"
	}

	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	})
}
