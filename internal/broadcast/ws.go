package broadcast

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"call-signaling/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Gateway streams one user's channel to a websocket client. Clients only
// listen; anything they send besides control frames is ignored.
type Gateway struct {
	sub      Subscriber
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewGateway accepts every origin when checkOrigin is nil.
func NewGateway(sub Subscriber, checkOrigin func(*http.Request) bool, log *slog.Logger) *Gateway {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Gateway{
		sub: sub,
		log: logger.OrDiscard(log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Serve upgrades the request and blocks until the client goes away or ctx
// is done. userID must already be authenticated.
func (g *Gateway) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, userID string) {
	channel := UserChannel(userID)
	l := g.log.With("user_id", userID, "channel", channel)

	sub, err := g.sub.Subscribe(ctx, channel)
	if err != nil {
		l.Error("realtime subscribe failed", "err", err)
		http.Error(w, "realtime unavailable", http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		l.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	l.Debug("realtime client connected")

	gone := make(chan struct{})
	go g.readLoop(conn, l, gone)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-gone:
			l.Debug("realtime client disconnected")
			return
		case env, ok := <-sub.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "stream closed"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				l.Warn("realtime write failed", "err", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop keeps pong handling alive and reports when the peer is gone.
func (g *Gateway) readLoop(conn *websocket.Conn, l *slog.Logger, gone chan<- struct{}) {
	defer close(gone)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Warn("unexpected websocket close", "err", err)
			}
			return
		}
	}
}
