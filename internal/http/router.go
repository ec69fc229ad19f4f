package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"live-transcription-service/internal/models"
	"live-transcription-service/internal/notify"
	"live-transcription-service/internal/observability"
	"live-transcription-service/internal/observability/logging"
	"live-transcription-service/internal/observability/metrics"
	"live-transcription-service/internal/service/audio"
	"live-transcription-service/internal/service/session"
	"live-transcription-service/internal/storage"
)

// Deps are the services behind the control surface. Broker and Hub are
// optional; their websocket routes are only mounted when set.
type Deps struct {
	Registry *session.Registry
	Store    *storage.Store
	Broker   *audio.Broker
	Hub      *notify.Hub
	Metrics  *metrics.Metrics
	Ready    func() bool
}

type router struct {
	deps   Deps
	logger zerolog.Logger
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(deps Deps) http.Handler {
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	h := &router{deps: deps, logger: logging.WithComponent("http")}

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(withSentryRecovery)
	r.Use(observability.RequestLogger(deps.Metrics))

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if deps.Ready != nil && !deps.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		if deps.Hub != nil {
			r.Get("/notifications", deps.Hub.ServeWS)
		}
		r.Route("/sessions/{tenantId}", func(r chi.Router) {
			r.Get("/", h.status)
			r.Delete("/", h.teardown)
			r.Post("/start", h.start)
			r.Post("/stop", h.stop)
			r.Post("/query", h.query)
			r.Get("/transcript", h.transcript)
			r.Get("/qa", h.qa)
			r.Get("/action-items", h.actionItems)
			r.Get("/meeting-minutes", h.meetingMinutes)
			if deps.Broker != nil {
				r.Get("/audio", h.audioIngest)
			}
		})
	})

	return r
}

func (h *router) start(w http.ResponseWriter, req *http.Request) {
	tenantID := chi.URLParam(req, "tenantId")
	if err := h.deps.Registry.Start(req.Context(), tenantID); err != nil {
		h.fail(w, req, err, "start session")
		return
	}
	st, err := h.deps.Registry.Status(tenantID)
	if err != nil {
		h.fail(w, req, err, "session status")
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

func (h *router) stop(w http.ResponseWriter, req *http.Request) {
	stopped := h.deps.Registry.Stop(chi.URLParam(req, "tenantId"))
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (h *router) teardown(w http.ResponseWriter, req *http.Request) {
	removed := h.deps.Registry.Teardown(chi.URLParam(req, "tenantId"))
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (h *router) status(w http.ResponseWriter, req *http.Request) {
	st, err := h.deps.Registry.Status(chi.URLParam(req, "tenantId"))
	if err != nil {
		h.fail(w, req, err, "session status")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type transcriptResponse struct {
	TenantID string                     `json:"tenantId"`
	Lines    []string                   `json:"lines"`
	Segments []models.TranscriptSegment `json:"segments,omitempty"`
}

func (h *router) transcript(w http.ResponseWriter, req *http.Request) {
	tenantID := chi.URLParam(req, "tenantId")
	resp := transcriptResponse{TenantID: tenantID}

	segments, err := h.deps.Registry.Transcript(tenantID)
	if err == nil {
		resp.Segments = segments
		resp.Lines, err = h.deps.Registry.TranscriptLines(tenantID)
	} else if h.fallback(err) {
		resp.Lines, err = h.deps.Store.ReadTranscript(tenantID)
	}
	if err != nil {
		h.fail(w, req, err, "read transcript")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *router) qa(w http.ResponseWriter, req *http.Request) {
	tenantID := chi.URLParam(req, "tenantId")
	entries, err := h.deps.Registry.QA(tenantID)
	if h.fallback(err) {
		entries, err = h.deps.Store.ReadQA(tenantID)
	}
	if err != nil {
		h.fail(w, req, err, "read q&a")
		return
	}
	if entries == nil {
		entries = []models.QAEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *router) actionItems(w http.ResponseWriter, req *http.Request) {
	tenantID := chi.URLParam(req, "tenantId")
	text, err := h.deps.Registry.ActionItems(tenantID)
	if h.fallback(err) {
		text, err = h.deps.Store.ReadActionItems(tenantID)
	}
	if err != nil {
		h.fail(w, req, err, "read action items")
		return
	}
	writeJSON(w, http.StatusOK, models.ActionItems{ActionItems: text})
}

func (h *router) meetingMinutes(w http.ResponseWriter, req *http.Request) {
	tenantID := chi.URLParam(req, "tenantId")
	text, err := h.deps.Registry.MeetingMinutes(tenantID)
	if h.fallback(err) {
		text, err = h.deps.Store.ReadMeetingMinutes(tenantID)
	}
	if err != nil {
		h.fail(w, req, err, "read meeting minutes")
		return
	}
	writeJSON(w, http.StatusOK, models.MeetingMinutes{MeetingMinutes: text})
}

type queryRequest struct {
	Query string `json:"query"`
}

func (h *router) query(w http.ResponseWriter, req *http.Request) {
	var body queryRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	answer, err := h.deps.Registry.Query(req.Context(), chi.URLParam(req, "tenantId"), body.Query)
	if err != nil {
		h.fail(w, req, err, "answer query")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"query": body.Query, "answer": answer})
}

// audioIngest forwards binary websocket frames into the tenant's push source.
func (h *router) audioIngest(w http.ResponseWriter, req *http.Request) {
	tenantID := chi.URLParam(req, "tenantId")
	if !h.deps.Broker.Active(tenantID) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no active session for tenant"})
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("tenantId", tenantID).Msg("Audio websocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := logging.WithTenant(tenantID)
	logger.Info().Msg("Audio ingest connected")

	var frames, dropped int
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			logger.Info().Int("frames", frames).Int("dropped", dropped).Msg("Audio ingest disconnected")
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		switch err := h.deps.Broker.Push(tenantID, data); {
		case err == nil:
			frames++
		case errors.Is(err, audio.ErrBufferFull):
			dropped++
		default:
			logger.Info().Err(err).Int("frames", frames).Msg("Audio ingest closed, run ended")
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session stopped"),
				time.Now().Add(time.Second))
			return
		}
	}
}

// fallback reports whether err means the tenant has no live session and the
// durable files should be served instead.
func (h *router) fallback(err error) bool {
	return h.deps.Store != nil && errors.Is(err, session.ErrUnknownTenant)
}

func (h *router) fail(w http.ResponseWriter, req *http.Request, err error, msg string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", req.URL.Path).Msg(msg)
		captureError(req, err, msg)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, session.ErrUnknownTenant), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidTenant), errors.Is(err, session.ErrEmptyQuery):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
