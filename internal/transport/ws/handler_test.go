package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridsync/internal/celllock"
	"gridsync/internal/presence"
	"gridsync/internal/scope"
)

type tokenTable map[string]scope.Claims

func (t tokenTable) ValidateToken(token string) (scope.Claims, error) {
	c, ok := t[token]
	if !ok {
		return scope.Claims{}, errors.New("unknown token")
	}
	return c, nil
}

func district(v int64) *int64 { return &v }

var tokens = tokenTable{
	"alice": {ActorID: 10, Login: "alice", Role: "manager", DistrictID: district(3)},
	"bob":   {ActorID: 11, Login: "bob", Role: "executor", DistrictID: district(3)},
	"carol": {ActorID: 12, Login: "carol", Role: "inspector", DistrictID: district(5)},
	"root":  {ActorID: 1, Login: "root", Role: "admin"},
	"nodis": {ActorID: 13, Login: "nodis", Role: "manager"},
}

type server struct {
	url      string
	registry *presence.Registry
	relay    *celllock.Relay
	handler  *Handler
}

func newServer(t *testing.T) *server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := presence.NewRegistry(presence.WithLogger(logger))
	relay := celllock.NewRelay(registry, celllock.WithLogger(logger))
	h := NewHandler(tokens, registry, relay, logger, Config{PingInterval: time.Second})

	r := chi.NewRouter()
	h.Register(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return &server{
		url:      "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		registry: registry,
		relay:    relay,
		handler:  h,
	}
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
}

func (s *server) dial(t *testing.T, token string) *client {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(s.url+"?token="+token, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	c := &client{t: t, ws: ws}
	t.Cleanup(func() { _ = ws.Close() })
	joined := c.expect(presence.TypeJoined)
	require.NotEmpty(t, joined["room"])
	return c
}

func (c *client) send(msgType string, data any) {
	c.t.Helper()
	frame, err := presence.Encode(msgType, data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, frame))
}

// expect reads frames until one of msgType arrives.
func (c *client) expect(msgType string) map[string]any {
	c.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(c.t, c.ws.SetReadDeadline(deadline))
		_, frame, err := c.ws.ReadMessage()
		require.NoError(c.t, err, "waiting for %s", msgType)
		env, err := presence.Decode(frame)
		require.NoError(c.t, err)
		if env.Type != msgType {
			continue
		}
		var data map[string]any
		require.NoError(c.t, json.Unmarshal(env.Data, &data))
		return data
	}
}

// expectNothing asserts no frame of msgType arrives within d.
func (c *client) expectNothing(msgType string, d time.Duration) {
	c.t.Helper()
	deadline := time.Now().Add(d)
	for {
		require.NoError(c.t, c.ws.SetReadDeadline(deadline))
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			var netErr interface{ Timeout() bool }
			require.True(c.t, errors.As(err, &netErr) && netErr.Timeout(), "unexpected error %v", err)
			return
		}
		env, _ := presence.Decode(frame)
		require.NotEqual(c.t, msgType, env.Type, "unexpected %s", msgType)
	}
}

func TestUpgradeRequiresValidToken(t *testing.T) {
	s := newServer(t)

	for _, token := range []string{"", "forged", "nodis"} {
		_, resp, err := websocket.DefaultDialer.Dial(s.url+"?token="+token, nil)
		require.Error(t, err, token)
		require.NotNil(t, resp, token)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, token)
		_ = resp.Body.Close()
	}
}

func TestBearerHeaderIsAccepted(t *testing.T) {
	s := newServer(t)
	header := http.Header{"Authorization": []string{"Bearer alice"}}
	ws, resp, err := websocket.DefaultDialer.Dial(s.url, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer ws.Close()
	c := &client{t: t, ws: ws}
	assert.Equal(t, "district_3", c.expect(presence.TypeJoined)["room"])
}

func TestLockRelayedToDistrictPeersAndAdmins(t *testing.T) {
	s := newServer(t)
	alice := s.dial(t, "alice")
	bob := s.dial(t, "bob")
	root := s.dial(t, "root")
	carol := s.dial(t, "carol")

	alice.send(presence.TypeLockCell, map[string]any{"rowId": 7, "field": "status", "districtId": 3})

	for _, c := range []*client{alice, bob, root} {
		got := c.expect(presence.TypeCellLocked)
		assert.Equal(t, float64(7), got["rowId"])
		assert.Equal(t, "alice", got["holderName"])
		assert.Equal(t, float64(10), got["holderId"])
	}
	carol.expectNothing(presence.TypeCellLocked, 100*time.Millisecond)
}

func TestDoubleLockBothRelayed(t *testing.T) {
	s := newServer(t)
	alice := s.dial(t, "alice")
	bob := s.dial(t, "bob")
	root := s.dial(t, "root")

	alice.send(presence.TypeLockCell, map[string]any{"rowId": 7, "field": "status", "districtId": 3})
	assert.Equal(t, "alice", root.expect(presence.TypeCellLocked)["holderName"])
	bob.send(presence.TypeLockCell, map[string]any{"rowId": 7, "field": "status", "districtId": 3})
	assert.Equal(t, "bob", root.expect(presence.TypeCellLocked)["holderName"])
}

func TestDisconnectWithdrawsLocks(t *testing.T) {
	s := newServer(t)
	alice := s.dial(t, "alice")
	bob := s.dial(t, "bob")

	alice.send(presence.TypeLockCell, map[string]any{"rowId": 7, "field": "amount", "districtId": 3})
	bob.expect(presence.TypeCellLocked)

	require.NoError(t, alice.ws.Close())

	got := bob.expect(presence.TypeCellUnlocked)
	assert.Equal(t, float64(7), got["rowId"])
	assert.Equal(t, celllock.ReasonDisconnected, got["reason"])
	assert.Eventually(t, func() bool { return s.registry.Members("district_3") == 1 }, time.Second, 10*time.Millisecond)
	assert.Empty(t, s.relay.Leases())
}

func TestJoinRoomIsScoped(t *testing.T) {
	s := newServer(t)
	alice := s.dial(t, "alice")
	carol := s.dial(t, "carol")
	root := s.dial(t, "root")

	alice.send(presence.TypeJoinRoom, "district_5")
	assert.Equal(t, "room not available", alice.expect(presence.TypeError)["message"])

	root.send(presence.TypeJoinRoom, "district_5")
	assert.Equal(t, "district_5", root.expect(presence.TypeJoined)["room"])

	carol.send(presence.TypeLockCell, map[string]any{"rowId": 9, "field": "status", "districtId": 5})
	alice.expectNothing(presence.TypeCellLocked, 100*time.Millisecond)
	root.expect(presence.TypeCellLocked)
}

func TestChat(t *testing.T) {
	s := newServer(t)
	alice := s.dial(t, "alice")
	carol := s.dial(t, "carol")

	alice.send(presence.TypeJoinChat, nil)
	alice.expect(presence.TypeJoined)
	carol.send(presence.TypeJoinChat, nil)
	carol.expect(presence.TypeJoined)

	carol.send(presence.TypeSendMessage, map[string]any{"text": "  good morning  ", "user": "spoofed"})
	for _, c := range []*client{alice, carol} {
		got := c.expect(presence.TypeReceiveMessage)
		assert.Equal(t, "carol", got["user"])
		assert.Equal(t, "good morning", got["text"])
	}

	carol.send(presence.TypeSendMessage, map[string]any{"text": "   "})
	carol.expect(presence.TypeError)
}

func TestClientDataUpdatedIsNotRelayed(t *testing.T) {
	s := newServer(t)
	alice := s.dial(t, "alice")
	bob := s.dial(t, "bob")

	alice.send(presence.TypeDataUpdated, map[string]any{"id": 7, "field": "amount", "value": 1, "districtId": 3})
	bob.expectNothing(presence.TypeRemoteUpdate, 100*time.Millisecond)
}

func TestUnknownTypeGetsError(t *testing.T) {
	s := newServer(t)
	alice := s.dial(t, "alice")
	alice.send("reboot", nil)
	assert.Equal(t, "unknown message type", alice.expect(presence.TypeError)["message"])
}

func TestMayJoin(t *testing.T) {
	admin := scope.Scope{ActorID: 1, Role: scope.RoleAdmin}
	manager := scope.Scope{ActorID: 2, Role: scope.RoleManager, DistrictID: district(3)}

	assert.True(t, mayJoin(manager, "district_3"))
	assert.False(t, mayJoin(manager, "district_4"))
	assert.False(t, mayJoin(manager, presence.AdminGroup))
	assert.True(t, mayJoin(admin, presence.AdminGroup))
	assert.True(t, mayJoin(admin, "district_4"))
	assert.False(t, mayJoin(admin, presence.ChatGroup))
}

func TestShutdownClosesLiveSessions(t *testing.T) {
	s := newServer(t)
	alice := s.dial(t, "alice")
	alice.send(presence.TypeLockCell, map[string]any{"rowId": 7, "field": "status", "districtId": 3})
	alice.expect(presence.TypeCellLocked)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.handler.Shutdown(ctx))

	assert.Zero(t, s.registry.Members("district_3"))
	assert.Empty(t, s.relay.Leases())
}

func TestUpgradeRefusedAfterShutdown(t *testing.T) {
	s := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.handler.Shutdown(ctx))

	_, resp, err := websocket.DefaultDialer.Dial(s.url+"?token=alice", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	_ = resp.Body.Close()

	// nothing was admitted, so a second Shutdown returns at once
	require.NoError(t, s.handler.Shutdown(ctx))
}
