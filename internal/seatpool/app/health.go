package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/store"
	"github.com/aussiebroadwan/seatpool/pkg/httpx"
	"github.com/aussiebroadwan/seatpool/pkg/slogx"
)

type HealthChecks struct {
	Database string `json:"database"`
	Ledger   string `json:"ledger,omitempty"`
}

type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// LivezHandler always answers 200 while the process is up.
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}

// ReadyzHandler pings the pool database and, when it is separate, the ledger.
func ReadyzHandler(startTime time.Time, version string, pool store.Store, ledger store.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &HealthChecks{Database: "ok"}
		status := "ok"
		code := http.StatusOK

		if err := pool.Ping(r.Context()); err != nil {
			checks.Database = "error: " + err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		if ledger != nil {
			checks.Ledger = "ok"
			if err := ledger.Ping(r.Context()); err != nil {
				checks.Ledger = "error: " + err.Error()
				status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}

		httpx.WriteJSON(w, code, HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}

// NewHealthHandler routes /livez and /readyz. ledger is nil when invite
// requests share the pool database.
func NewHealthHandler(startTime time.Time, version string, pool store.Store, ledger store.Ledger, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", LivezHandler(startTime, version))
	mux.HandleFunc("GET /readyz", ReadyzHandler(startTime, version, pool, ledger))
	return slogx.HTTPMiddleware(logger)(mux)
}
