package http

import (
	"context"
	"net/http"

	"github.com/Wyydra/rendezvous/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/rendezvous/internal/core/domain"
	pkglog "github.com/Wyydra/rendezvous/internal/log"
)

// ServeWS upgrades the request and runs the connection until it closes.
// Inbound frames are handled in order on this goroutine.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := pkglog.Ctx(r.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.conns.Add(1)
	defer h.conns.Done()

	id := domain.NewConnectionID()
	l := pkglog.Ctx(r.Context()).With().Str(pkglog.FieldConnID, id.String()).Logger()
	// The connection outlives any deadline the request may carry.
	ctx := pkglog.WithLogger(context.WithoutCancel(r.Context()), l)

	client := ws.NewClient(id, conn, h.cfg.WebSocket, l)
	h.Hub.Register(client)
	h.Signal.Connect(ctx, id)
	l.Info().Msg("client connected")

	defer func() {
		h.Signal.Disconnect(ctx, id)
		h.Hub.Unregister(client)
		l.Info().Msg("client disconnected")
	}()

	go client.WritePump()

	client.ReadPump(func(data []byte) {
		ev, err := ws.DecodeEvent(data)
		if err != nil {
			h.Signal.Reject(ctx, id, domain.ErrCodeBadRequest, err)
			return
		}
		if err := h.Signal.Handle(ctx, id, ev); err != nil {
			l.Debug().Err(err).Str(pkglog.FieldEvent, string(ev.Type)).Msg("event rejected")
		}
	})
}
