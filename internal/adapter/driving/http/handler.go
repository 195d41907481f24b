package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Wyydra/rendezvous/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/rendezvous/internal/config"
	"github.com/Wyydra/rendezvous/internal/core/domain"
	"github.com/Wyydra/rendezvous/internal/core/port"
	"github.com/Wyydra/rendezvous/internal/core/service"
	pkglog "github.com/Wyydra/rendezvous/internal/log"
)

type Handler struct {
	Signal      *service.SignalService
	Coordinator *service.Coordinator
	Directory   port.SessionDirectory
	Hub         *ws.Hub

	cfg      *config.Config
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	conns    sync.WaitGroup
}

func NewHandler(signal *service.SignalService, coordinator *service.Coordinator, directory port.SessionDirectory, hub *ws.Hub, cfg *config.Config, logger zerolog.Logger) *Handler {
	h := &Handler{
		Signal:      signal,
		Coordinator: coordinator,
		Directory:   directory,
		Hub:         hub,
		cfg:         cfg,
		logger:      logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Drain waits for every websocket handler to finish its disconnect cleanup.
// http.Server.Shutdown does not track hijacked connections.
func (h *Handler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(pkglog.HTTPMiddleware(h.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Get("/ws", h.ServeWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/rooms", h.listRooms)
		r.Get("/rooms/{sessionID}", h.getRoom)
		r.Get("/sessions/{sessionID}", h.getSession)
		r.Get("/ice-servers", h.iceServers)
	})

	if dir := h.cfg.Server.StaticDir; dir != "" {
		r.Handle("/*", http.FileServer(http.Dir(dir)))
	}

	return r
}

// checkOrigin allows every origin when no allow-list is configured.
// Requests without an Origin header are not from browsers and pass.
func (h *Handler) checkOrigin(r *http.Request) bool {
	allowed := h.cfg.Server.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(allowed, origin)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": h.Hub.Len(),
		"rooms":       len(h.Coordinator.Rooms()),
	})
}

func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rooms": h.Coordinator.Rooms()})
}

func (h *Handler) getRoom(w http.ResponseWriter, r *http.Request) {
	id := domain.SessionID(chi.URLParam(r, "sessionID"))
	snap, ok := h.Coordinator.Room(id)
	if !ok {
		writeError(w, http.StatusNotFound, domain.ErrCodeNotFound, "room not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type sessionResponse struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	BroadcasterID string     `json:"broadcaster_id,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	id := domain.SessionID(chi.URLParam(r, "sessionID"))
	rec, err := h.Directory.Get(r.Context(), id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, domain.ErrCodeNotFound, "session not found")
		return
	}
	if err != nil {
		l := pkglog.Ctx(r.Context())
		l.Error().Err(err).Str(pkglog.FieldSessionID, id.String()).Msg("failed to read session")
		writeError(w, http.StatusInternalServerError, domain.ErrCodeInternalError, "failed to read session")
		return
	}

	resp := sessionResponse{
		ID:            rec.ID.String(),
		Status:        string(rec.Status),
		BroadcasterID: rec.BroadcasterID.String(),
	}
	if !rec.StartedAt.IsZero() {
		resp.StartedAt = &rec.StartedAt
	}
	if !rec.EndedAt.IsZero() {
		resp.EndedAt = &rec.EndedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) iceServers(w http.ResponseWriter, r *http.Request) {
	servers := h.cfg.WebRTC.ICEServers
	if servers == nil {
		servers = []config.ICEServerConfig{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ice_servers": servers})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}
