package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"cyberdash/internal/dashboard"
	"cyberdash/internal/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 << 10
)

// Client message types.
const (
	msgFilter  = "filter"
	msgView    = "view"
	msgRefresh = "refresh"
)

// wsMessage is one control change sent by the client.
type wsMessage struct {
	Type      string              `json:"type"`
	Selection *models.Selection   `json:"selection,omitempty"`
	View      *models.ViewRequest `json:"view,omitempty"`
}

// wsFrame is one server push.
type wsFrame struct {
	Type   string                    `json:"type"`
	Bundle *models.DashboardResponse `json:"bundle,omitempty"`
	Error  *APIError                 `json:"error,omitempty"`
}

// WithAllowedOrigins restricts websocket upgrades to the listed origins;
// "*" allows any.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Handler) { h.origins = origins }
}

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(h.origins) == 0 ||
				slices.Contains(h.origins, "*") || slices.Contains(h.origins, origin)
		},
	}
}

// ServeWS runs one interactive session over a websocket. The connection's
// read loop is the session's only writer: each client message triggers
// exactly one recompute whose bundle is pushed before the next message is
// read.
func (h *Handler) ServeWS(c echo.Context) error {
	conn, err := h.upgrader().Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return nil
	}
	defer conn.Close()

	h.recorder.SessionOpened()
	defer h.recorder.SessionClosed()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wc := &wsConn{conn: conn}
	publisher := dashboard.PublisherFunc(func(_ context.Context, b *dashboard.Bundle) error {
		resp := toResponse(b, h.previewLimit)
		return wc.write(wsFrame{Type: "bundle", Bundle: &resp})
	})

	source := h.current().table
	sess := dashboard.NewSession(source, h.sessionOptions(dashboard.WithPublisher(publisher))...)
	logger := h.logger.With(slog.String("session_id", sess.ID()), slog.String("remote_addr", c.RealIP()))
	logger.Info("session opened")
	defer logger.Info("session closed")

	if _, err := sess.Refresh(ctx); err != nil {
		return nil
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
	go wc.ping(ctx)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", slog.Any("error", err))
			}
			return nil
		}

		// Follow reloads, keeping the client's controls.
		if latest := h.current().table; latest.Generation() != source.Generation() {
			source = latest
			sess = dashboard.NewSession(source, h.sessionOptions(
				dashboard.WithPublisher(publisher),
				dashboard.WithView(sess.View()),
				dashboard.WithPredicates(sess.Predicates()),
			)...)
		}

		if err := h.handleMessage(ctx, c, sess, data); err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				if werr := wc.write(wsFrame{Type: "error", Error: apiErr}); werr != nil {
					return nil
				}
				continue
			}
			logger.Warn("publish failed", slog.Any("error", err))
			return nil
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, c echo.Context, sess *dashboard.Session, data []byte) error {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return invalidRequest("malformed message")
	}

	var err error
	switch msg.Type {
	case msgFilter:
		if msg.Selection == nil {
			return invalidRequest("filter message without selection")
		}
		if verr := c.Validate(msg.Selection); verr != nil {
			return verr
		}
		_, err = sess.Select(ctx, *msg.Selection)
	case msgView:
		if msg.View == nil {
			return invalidRequest("view message without view")
		}
		if verr := c.Validate(msg.View); verr != nil {
			return verr
		}
		_, err = sess.SetView(ctx, dashboard.ParseView(msg.View.Name, msg.View.Country))
	case msgRefresh:
		_, err = sess.Refresh(ctx)
	default:
		return invalidRequest("unknown message type " + msg.Type)
	}
	return err
}

// wsConn serializes frames onto the connection. Only the read loop calls
// write; pings go through WriteControl, which may run concurrently.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) write(f wsFrame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, payload)
}

func (w *wsConn) ping(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
