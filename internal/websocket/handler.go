package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"pollcast/internal/session"
)

// Options configures the upgrade handler. Zero values select defaults.
type Options struct {
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	BufferSize        int
	MaxMessageSize    int64
	TrustProxyHeaders bool
	Logger            *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Handler upgrades HTTP requests and runs one session per connection
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from business logic;
// everything past framing is delegated to the session and its engine
type Handler struct {
	engine   session.Engine
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(engine session.Engine, opts Options) *Handler {
	opts.applyDefaults()
	return &Handler{
		engine: engine,
		opts:   opts,
		logger: opts.Logger.With("component", "websocket"),
		upgrader: websocket.Upgrader{
			// FUNCTIONAL DISCOVERY: Polls are shared by link, so any origin may connect
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// HandleWebSocket upgrades the request and starts the connection's read pump.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	remoteAddr := SourceAddress(r, h.opts.TrustProxyHeaders)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response
		h.logger.Warn("websocket upgrade failed", "remote_addr", remoteAddr, "error", err)
		return
	}

	conn := NewConnection(ws, remoteAddr, h.opts.BufferSize, h.opts.WriteTimeout)
	h.logger.Info("connection opened", "connection_id", conn.ID(), "remote_addr", remoteAddr)

	go h.handleConnection(conn)
}

// handleConnection manages the connection lifecycle with heartbeat monitoring
// ARCHITECTURAL DISCOVERY: Single goroutine per connection reads frames in order,
// so a client's join is always applied before its following vote
func (h *Handler) handleConnection(conn *Connection) {
	sess := session.New(conn, h.engine, h.logger)
	defer func() {
		// FUNCTIONAL DISCOVERY: Leave rooms before closing so no broadcast
		// targets a dead handle
		sess.Disconnect()
		_ = conn.Close()
		h.logger.Info("connection closed", "connection_id", conn.ID())
	}()

	ws := conn.conn
	ws.SetReadLimit(h.opts.MaxMessageSize)
	if err := ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		h.logger.Warn("failed to set read deadline", "error", err)
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	go h.heartbeat(conn)

	ctx := context.Background()
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Info("websocket read error", "connection_id", conn.ID(), "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		// Rejections were already reported to the client by the session
		if err := sess.HandleFrame(ctx, data); err != nil && !errors.Is(err, session.ErrSessionDisconnected) {
			h.logger.Debug("frame rejected", "connection_id", conn.ID(), "error", err)
		}
	}
}

// heartbeat pings the peer until the connection closes
func (h *Handler) heartbeat(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}

// SourceAddress returns the client address used for rate limiting: the
// first X-Forwarded-For hop when proxy headers are trusted, otherwise the
// host part of the TCP peer address.
func SourceAddress(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
