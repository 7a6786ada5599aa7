// Package admin serves the local HTTP control and diagnostics surface.
package admin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"codeberg.org/mutker/hmsd/internal/daemon"
	"codeberg.org/mutker/hmsd/internal/errors"
	"codeberg.org/mutker/hmsd/internal/logger"
	"codeberg.org/mutker/hmsd/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	requestTimeout = 30 * time.Second
	maxRequestBody = 64 << 10
)

// Daemon is the part of *daemon.Daemon the admin surface drives
type Daemon interface {
	Start(ctx context.Context) error
	Stop()
	Restart(ctx context.Context) error
	ReloadSettings()
	State() daemon.State
	GeoIPServiceSelected() string
	GeoIPServicesURLMap() map[string]string
	CollectorIDs() []string
	ValidateConsent(consent map[string]bool) error
}

// Store is the part of *telemetry.Store the admin surface drives
type Store interface {
	RetrieveSettings(ctx context.Context) (*telemetry.Record, error)
	RetrieveOrBuild(ctx context.Context) (*telemetry.Record, error)
	Enable(ctx context.Context, consent map[string]bool) (*telemetry.Record, error)
	Disable(ctx context.Context, consent map[string]bool) (*telemetry.Record, error)
	Save(ctx context.Context, rec *telemetry.Record) error
}

type Handler struct {
	daemon  Daemon
	store   Store
	metrics http.Handler
}

// New returns the admin handler; metrics may be nil to leave /metrics unrouted
func New(d Daemon, store Store, metrics http.Handler) *Handler {
	return &Handler{
		daemon:  d,
		store:   store,
		metrics: metrics,
	}
}

type statusResponse struct {
	State      string            `json:"state"`
	Collectors []string          `json:"collectors"`
	Record     *telemetry.Record `json:"record"`
}

type geoIPResponse struct {
	Selected string            `json:"selected"`
	URLs     map[string]string `json:"urls"`
}

type consentRequest struct {
	Consent map[string]bool `json:"consent"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Route("/telemetry", func(r chi.Router) {
		r.Get("/status", h.handleStatus)
		r.Get("/geoip", h.handleGeoIP)
		r.Post("/start", h.handleStart)
		r.Post("/stop", h.handleStop)
		r.Post("/restart", h.handleRestart)
		r.Post("/reload", h.handleReload)
		r.Post("/enable", h.handleEnable)
		r.Post("/disable", h.handleDisable)
	})

	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	return r
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		State:      h.daemon.State().String(),
		Collectors: h.daemon.CollectorIDs(),
	}

	rec, err := h.store.RetrieveSettings(r.Context())
	switch {
	case err == nil:
		resp.Record = rec
	case !errors.HasCode(err, telemetry.ErrSettingsNotFound):
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGeoIP(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, geoIPResponse{
		Selected: h.daemon.GeoIPServiceSelected(),
		URLs:     h.daemon.GeoIPServicesURLMap(),
	})
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := h.daemon.Start(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStop(w http.ResponseWriter, _ *http.Request) {
	h.daemon.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRestart(w http.ResponseWriter, r *http.Request) {
	if err := h.daemon.Restart(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReload(w http.ResponseWriter, _ *http.Request) {
	h.daemon.ReloadSettings()
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleEnable(w http.ResponseWriter, r *http.Request) {
	req, err := decodeConsent(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Consent) == 0 {
		writeError(w, http.StatusBadRequest, errors.New().WithMessage(ErrBadRequest, "consent is required"))
		return
	}

	// Before the first discovery there is nothing to validate against
	if err := h.daemon.ValidateConsent(req.Consent); errors.IsConfiguration(err) {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec, err := h.store.Enable(r.Context(), req.Consent)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.save(w, r, rec)
}

func (h *Handler) handleDisable(w http.ResponseWriter, r *http.Request) {
	req, err := decodeConsent(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	consent := req.Consent
	if consent == nil {
		current, err := h.store.RetrieveOrBuild(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		consent = current.Consent
	}

	rec, err := h.store.Disable(r.Context(), consent)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.save(w, r, rec)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request, rec *telemetry.Record) {
	if err := h.store.Save(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	logger.Info().
		Bool("active", rec.Active).
		Str("request_id", middleware.GetReqID(r.Context())).
		Msg("Telemetry consent updated")

	writeJSON(w, http.StatusOK, rec)
}

// decodeConsent accepts an empty body as an empty request
func decodeConsent(r *http.Request) (consentRequest, error) {
	var req consentRequest

	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req)
	if err != nil && err != io.EOF {
		return req, errors.New().Wrap(ErrBadRequest, err)
	}

	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug().Err(err).Msg("Failed to write admin response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	code := errors.CodeOf(err)
	if code == "" {
		code = errors.ErrInternal
	}

	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("code", string(code)).Msg("Admin request failed")
	}

	writeJSON(w, status, errorResponse{
		Error:   string(code),
		Message: err.Error(),
	})
}
