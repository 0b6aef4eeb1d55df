package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/joseph-ayodele/docs-ocr-ingest/internal/core/async"
)

// StatsSource exposes per-family poller counters.
type StatsSource interface {
	Stats() []async.Stats
}

// ReportSource renders the XLSX status report.
type ReportSource interface {
	StatusReportXLSX(ctx context.Context) ([]byte, error)
}

// Pinger checks database connectivity.
type Pinger func(ctx context.Context) error

// StatusHandler serves the daemon's HTTP status endpoints.
type StatusHandler struct {
	stats  StatsSource
	report ReportSource
	ping   Pinger
	logger *slog.Logger
}

func NewStatusHandler(stats StatsSource, report ReportSource, ping Pinger, logger *slog.Logger) *StatusHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusHandler{stats: stats, report: report, ping: ping, logger: logger}
}

// Routes mounts /healthz, /status, /status/report.xlsx and /status/{family}.
func (h *StatusHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.healthz)
	r.Route("/status", func(sr chi.Router) {
		sr.Get("/", h.status)
		sr.Get("/report.xlsx", h.reportXLSX)
		sr.Get("/{family}", h.familyStatus)
	})
	return r
}

type statusResponse struct {
	Families []async.Stats `json:"families"`
}

func (h *StatusHandler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			h.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *StatusHandler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Families: h.stats.Stats()})
}

func (h *StatusHandler) familyStatus(w http.ResponseWriter, r *http.Request) {
	family := chi.URLParam(r, "family")
	for _, st := range h.stats.Stats() {
		if st.Family == family {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown family " + family})
}

func (h *StatusHandler) reportXLSX(w http.ResponseWriter, r *http.Request) {
	if h.report == nil {
		http.Error(w, "report not configured", http.StatusNotImplemented)
		return
	}
	b, err := h.report.StatusReportXLSX(r.Context())
	if err != nil {
		h.logger.Error("status report failed", "error", err, "request_id", middleware.GetReqID(r.Context()))
		http.Error(w, "report failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="ocr-status.xlsx"`)
	_, _ = w.Write(b)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
