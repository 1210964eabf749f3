package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridsync/internal/presence"
	"gridsync/internal/presence/presencetest"
	"gridsync/internal/scope"
	"gridsync/pkg/testutil"
)

type stubValidator struct{ claims scope.Claims }

func (s stubValidator) ValidateToken(string) (scope.Claims, error) { return s.claims, nil }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestHealthAndReadiness(t *testing.T) {
	ok := Check{Name: "database", Ping: func(context.Context) error { return nil }}
	down := Check{Name: "redis", Ping: func(context.Context) error { return errors.New("refused") }}

	testutil.Given(t, "all dependencies up", func(t *testing.T) {
		r := NewRouter(discard(), []Check{ok})
		testutil.AssertStatusOK(t, testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/healthz")))
		rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/readyz"))
		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "database", "ok")
	})

	testutil.Given(t, "one dependency down", func(t *testing.T) {
		r := NewRouter(discard(), []Check{ok, down})
		rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/readyz"))
		testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
		testutil.AssertJSONContains(t, rr, "redis", "unavailable")
	})

	testutil.Given(t, "a metrics scrape", func(t *testing.T) {
		r := NewRouter(discard(), nil)
		testutil.AssertStatusOK(t, testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/metrics")))
	})
}

func TestSessionEndpoints(t *testing.T) {
	d3 := int64(3)
	registry := presence.NewRegistry()
	registry.Join(presencetest.NewConn("a", testutil.ManagerScope(3)), "district_3")
	registry.Join(presencetest.NewConn("b", testutil.ManagerScope(5)), "district_5")

	manager := scope.Claims{ActorID: 42, Login: "m.ivanova", Role: "manager", DistrictID: &d3}
	r := NewRouter(discard(), nil, NewSessionHandler(stubValidator{claims: manager}, registry, discard(), nil))

	authed := func(path string) *http.Request {
		req := testutil.NewRequest(t, http.MethodGet, path)
		req.Header.Set("Authorization", "Bearer x")
		return req
	}

	rr := testutil.DoRequest(r, authed("/api/auth/me"))
	testutil.AssertStatusOK(t, rr)
	me := testutil.UnmarshalResponse[map[string]any](t, rr)
	assert.Equal(t, float64(42), (*me)["id"])
	assert.Equal(t, "manager", (*me)["role"])
	assert.Equal(t, "district_3", (*me)["room"])

	rr = testutil.DoRequest(r, authed("/api/presence"))
	testutil.AssertStatusOK(t, rr)
	roster := testutil.UnmarshalResponse[[]presence.ConnInfo](t, rr)
	require.Len(t, *roster, 1)
	assert.Equal(t, "a", (*roster)[0].ID)

	rr = testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/api/auth/me"))
	testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
}
