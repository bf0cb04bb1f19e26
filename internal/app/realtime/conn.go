package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marcelojr/crowdpulse/internal/app/polling"
	"github.com/marcelojr/crowdpulse/internal/domain"
)

const (
	sendBuffer   = 32
	writeTimeout = 10 * time.Second
	pongTimeout  = 75 * time.Second
	pingInterval = 60 * time.Second
)

// SessionDirectory resolves the session a connection wants to subscribe to,
// either by id (consoles) or by the short audience join code.
type SessionDirectory interface {
	GetSession(ctx context.Context, id domain.SessionID) (domain.Session, error)
	ResolveJoinCode(ctx context.Context, code string) (domain.Session, error)
}

// ServeWS upgrades a request to a websocket subscription. Query parameters:
// session (id) or code (join code), and role (audience|overlay|dashboard|moderator).
// Subscribers are push-only; inbound frames beyond control messages are ignored.
func ServeWS(hub *Hub, dir SessionDirectory, logger *slog.Logger) http.HandlerFunc {
	upgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// The audience joins from arbitrary origins by design.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	return func(w http.ResponseWriter, r *http.Request) {
		session, err := resolveSession(r, dir)
		if err != nil {
			if errors.Is(err, polling.ErrSessionNotFound) || errors.Is(err, domain.ErrNotFound) {
				http.Error(w, "session not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		kind := roomForRole(r.URL.Query().Get("role"))

		wc, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "err", err)
			return
		}

		c := hub.Join(r.Context(), session.ID, kind)
		go writePump(wc, c, logger)
		readPump(wc)
		hub.Leave(c)
	}
}

func resolveSession(r *http.Request, dir SessionDirectory) (domain.Session, error) {
	q := r.URL.Query()
	if code := q.Get("code"); code != "" {
		return dir.ResolveJoinCode(r.Context(), code)
	}
	if id := q.Get("session"); id != "" {
		return dir.GetSession(r.Context(), domain.SessionID(id))
	}
	return domain.Session{}, errors.New("session or code query parameter required")
}

// roomForRole maps connect-time roles onto rooms: only pollster consoles get
// the moderator room, everything else (voters, overlay, dashboard) shares the
// audience room.
func roomForRole(role string) RoomKind {
	if role == "moderator" {
		return RoomModerator
	}
	return RoomAudience
}

// readPump drains inbound frames until the peer goes away. Subscribers never
// send application data; reading is only for close/pong handling.
func readPump(wc *websocket.Conn) {
	wc.SetReadLimit(512)
	_ = wc.SetReadDeadline(time.Now().Add(pongTimeout))
	wc.SetPongHandler(func(string) error {
		return wc.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := wc.NextReader(); err != nil {
			return
		}
	}
}

func writePump(wc *websocket.Conn, c *client, logger *slog.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		wc.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				_ = wc.SetWriteDeadline(time.Now().Add(writeTimeout))
				_ = wc.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := wc.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Warn("websocket write failed", "err", err)
				return
			}
		case <-ticker.C:
			_ = wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := wc.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}
