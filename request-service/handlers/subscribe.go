package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Subscribe upgrades to a websocket and pushes every visible change to the
// caller's requests, or to one request when {requestID} is set.
func (h *RequestHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := session(r)
	requestID := mux.Vars(r)["requestID"]

	// Authorization failures are reported before the upgrade so the client
	// still sees a status code.
	updates, err := h.service.Subscribe(ctx, sess, requestID)
	if err != nil {
		h.writeError(w, r, "Failed to subscribe", err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "userID", sess.UserID, "error", err)
		return
	}
	defer conn.Close()

	go func() {
		defer cancel()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case req, ok := <-updates:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(req); err != nil {
				h.logger.Info("Subscriber went away", "userID", sess.UserID, "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.logger.Info("Ping failed", "userID", sess.UserID, "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
