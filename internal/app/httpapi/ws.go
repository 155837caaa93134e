package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flowforge/platform/internal/app/gate"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cookie auth already ran in the gate; cross-origin pages cannot read the
	// session cookie, so the origin check defers to CORS policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket joins the caller to their org's room and streams bus events
// until the connection drops.
func (h *handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	principal, _ := gate.PrincipalFrom(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	sub := h.Hub.Subscribe(principal.OrgID)
	defer h.Hub.Unsubscribe(sub)
	defer conn.Close()

	// Reader: discard inbound frames, notice the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
