//go:build integration

package backplane_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridsync/internal/presence"
	"gridsync/internal/presence/backplane"
	"gridsync/internal/presence/presencetest"
	gtestutil "gridsync/pkg/testutil"
	"gridsync/pkg/testutil/containers"
)

func TestBackplaneAgainstRealRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rc := containers.GetManager().GetRedis(t)
	opts, err := redis.ParseURL(rc.Addr)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := func() (*presence.Registry, *backplane.Redis) {
		client := redis.NewClient(opts)
		t.Cleanup(func() { _ = client.Close() })
		bp := backplane.NewRedis(client, "gridsync:presence:it", nil, nil)
		reg := presence.NewRegistry(presence.WithBackplane(bp))
		go func() { _ = bp.Run(ctx, reg) }()
		select {
		case <-bp.Ready():
		case <-time.After(5 * time.Second):
			t.Fatal("backplane did not subscribe")
		}
		return reg, bp
	}
	regA, _ := start()
	regB, _ := start()

	sender := presencetest.NewConn("sender", gtestutil.ManagerScope(3))
	peer := presencetest.NewConn("peer", gtestutil.ManagerScope(3))
	outsider := presencetest.NewConn("outsider", gtestutil.ManagerScope(5))
	regA.Join(sender, "district_3")
	regB.Join(peer, "district_3")
	regB.Join(outsider, "district_5")

	frame, err := presence.Encode(presence.TypeCellLocked, map[string]any{"rowId": 7, "field": "status"})
	require.NoError(t, err)
	regA.BroadcastTo(ctx, presence.TypeCellLocked, []string{"district_3", presence.AdminGroup}, frame)

	assert.Eventually(t, func() bool { return peer.Count() == 1 }, 5*time.Second, 20*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, sender.Count())
	assert.Equal(t, 1, peer.Count())
	assert.Zero(t, outsider.Count())
}
