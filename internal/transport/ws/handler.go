// Package ws serves the realtime channel: presence, cell lock advisories,
// remote updates and chat over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"gridsync/internal/celllock"
	"gridsync/internal/platform/middleware"
	"gridsync/internal/presence"
	"gridsync/internal/scope"
	dErrors "gridsync/pkg/domain-errors"
	"gridsync/pkg/platform/httputil"
	"gridsync/pkg/platform/middleware/metadata"
	"gridsync/pkg/requestcontext"
)

const maxChatText = 2000

// Registry is the presence registry.
type Registry interface {
	Join(conn presence.Conn, group string) bool
	Leave(conn presence.Conn)
	BroadcastTo(ctx context.Context, msgType string, groups []string, frame []byte)
}

// LockRelay relays cell lock advisories.
type LockRelay interface {
	Lock(ctx context.Context, sc scope.Scope, connID string, a celllock.Advisory)
	Unlock(ctx context.Context, sc scope.Scope, connID string, w celllock.Withdrawal)
	ReleaseConn(ctx context.Context, connID string) int
}

type Config struct {
	SendBuffer      int
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	MaxMessageBytes int64
	// AllowedOrigin restricts the Origin header; empty or "*" allows any.
	AllowedOrigin string
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongWait <= c.PingInterval {
		c.PongWait = 2 * c.PingInterval
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 << 10
	}
	return c
}

type Handler struct {
	validator middleware.TokenValidator
	registry  Registry
	locks     LockRelay
	logger    *slog.Logger
	cfg       Config
	upgrader  websocket.Upgrader
	sessions  sync.WaitGroup

	mu      sync.Mutex
	live    map[string]*conn
	closing bool
}

func NewHandler(validator middleware.TokenValidator, registry Registry, locks LockRelay, logger *slog.Logger, cfg Config) *Handler {
	cfg = cfg.withDefaults()
	h := &Handler{
		validator: validator,
		registry:  registry,
		locks:     locks,
		logger:    logger,
		cfg:       cfg,
		live:      make(map[string]*conn),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Register mounts GET /ws.
func (h *Handler) Register(r chi.Router) {
	r.With(middleware.RequestID, metadata.ClientMetadata).Get("/ws", h.ServeHTTP)
}

// Shutdown closes every live connection and waits for their cleanup, or for
// ctx to end. Hijacked connections are invisible to http.Server.Shutdown.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	for _, c := range h.live {
		c.close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.cfg.AllowedOrigin == "" || h.cfg.AllowedOrigin == "*" {
		return true
	}
	return r.Header.Get("Origin") == h.cfg.AllowedOrigin
}

// ServeHTTP authenticates, resolves the scope once and upgrades.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = middleware.BearerToken(r)
	}
	if token == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing token"))
		return
	}
	claims, err := h.validator.ValidateToken(token)
	if err != nil {
		h.logger.WarnContext(ctx, "websocket rejected - invalid token",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Invalid or expired token"))
		return
	}
	sc, err := scope.Resolve(claims)
	if err != nil {
		h.logger.WarnContext(ctx, "websocket rejected - invalid claim",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	if !h.admit() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "server is shutting down"))
		return
	}
	defer h.sessions.Done()

	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(ctx, "websocket upgrade failed",
			"request_id", requestID,
			"error", err,
		)
		return
	}

	id := uuid.NewString()
	client := metadata.ParseUserAgent(requestcontext.UserAgent(ctx))
	c := newConn(id, sc, presence.ConnInfo{
		ID:          id,
		ActorID:     sc.ActorID,
		Login:       sc.Login,
		Role:        sc.Role,
		DistrictID:  sc.DistrictID,
		Browser:     client.Browser,
		OS:          client.OS,
		ConnectedAt: time.Now().UTC(),
	}, socket, h.cfg)

	h.serve(requestcontext.WithConnectionID(context.WithoutCancel(ctx), id), c)
}

// admit counts a session unless Shutdown has begun. The count and the
// closing flag share h.mu so Shutdown never waits on a session it cannot see.
func (h *Handler) admit() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.sessions.Add(1)
	return true
}

func (h *Handler) serve(ctx context.Context, c *conn) {
	var writer sync.WaitGroup
	h.mu.Lock()
	h.live[c.id] = c
	closing := h.closing
	h.mu.Unlock()
	if closing {
		// admitted before Shutdown swept h.live
		c.close()
	}
	defer func() {
		h.mu.Lock()
		delete(h.live, c.id)
		h.mu.Unlock()
	}()

	writer.Add(1)
	go func() {
		defer writer.Done()
		c.writePump()
	}()

	home := presence.HomeGroup(c.scope)
	h.registry.Join(c, home)
	h.reply(c, presence.TypeJoined, map[string]any{"room": home, "connection_id": c.id})
	h.logger.InfoContext(ctx, "websocket connected",
		"connection_id", c.id,
		"actor_id", c.scope.ActorID,
		"room", home,
		"client_ip", requestcontext.ClientIP(ctx),
	)

	c.readPump(func(frame []byte) { h.dispatch(ctx, c, frame) })

	h.registry.Leave(c)
	released := h.locks.ReleaseConn(ctx, c.id)
	c.close()
	writer.Wait()
	h.logger.InfoContext(ctx, "websocket disconnected",
		"connection_id", c.id,
		"actor_id", c.scope.ActorID,
		"released_locks", released,
	)
}

func (h *Handler) dispatch(ctx context.Context, c *conn, frame []byte) {
	env, err := presence.Decode(frame)
	if err != nil {
		h.replyError(c, "malformed message")
		return
	}

	switch env.Type {
	case presence.TypeJoinRoom:
		var room string
		if err := json.Unmarshal(env.Data, &room); err != nil {
			h.replyError(c, "join_room expects a room name")
			return
		}
		if !mayJoin(c.scope, room) {
			h.logger.WarnContext(ctx, "join_room refused",
				"connection_id", c.id,
				"actor_id", c.scope.ActorID,
				"room", room,
			)
			h.replyError(c, "room not available")
			return
		}
		h.registry.Join(c, room)
		h.reply(c, presence.TypeJoined, map[string]any{"room": room, "connection_id": c.id})

	case presence.TypeJoinChat:
		h.registry.Join(c, presence.ChatGroup)
		h.reply(c, presence.TypeJoined, map[string]any{"room": presence.ChatGroup, "connection_id": c.id})

	case presence.TypeSendMessage:
		var msg struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			h.replyError(c, "send_message expects {text}")
			return
		}
		text := strings.TrimSpace(msg.Text)
		if text == "" || utf8.RuneCountInString(text) > maxChatText {
			h.replyError(c, "message text is empty or too long")
			return
		}
		out, err := presence.Encode(presence.TypeReceiveMessage, map[string]any{
			"user": c.scope.Login,
			"text": text,
			"at":   time.Now().UTC(),
		})
		if err != nil {
			return
		}
		h.registry.BroadcastTo(ctx, presence.TypeReceiveMessage, []string{presence.ChatGroup}, out)

	case presence.TypeLockCell:
		var a celllock.Advisory
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return
		}
		h.locks.Lock(ctx, c.scope, c.id, a)

	case presence.TypeUnlockCell:
		var w celllock.Withdrawal
		if err := json.Unmarshal(env.Data, &w); err != nil {
			return
		}
		h.locks.Unlock(ctx, c.scope, c.id, w)

	case presence.TypeDataUpdated:
		// remote_update is emitted by the server after commit; client echoes
		// are not relayed.

	default:
		h.replyError(c, "unknown message type")
	}
}

// mayJoin allows a connection into its home group, and an administrator into
// any district group.
func mayJoin(sc scope.Scope, room string) bool {
	if room == presence.HomeGroup(sc) {
		return true
	}
	return sc.IsAdmin() && strings.HasPrefix(room, "district_")
}

func (h *Handler) reply(c *conn, msgType string, data any) {
	frame, err := presence.Encode(msgType, data)
	if err != nil {
		return
	}
	c.Send(frame)
}

func (h *Handler) replyError(c *conn, message string) {
	h.reply(c, presence.TypeError, map[string]string{"message": message})
}
