package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-appkit/log"
)

func TestSweeperRun(t *testing.T) {
	ctx := context.Background()

	t.Run("removes members with no safety key", func(t *testing.T) {
		store := newFakeStore()
		g := NewGuard(store, NewDefaultTierTable(), log.NewDisabledLogger())

		// One live job, one orphan whose safety key expired and whose expiry
		// event was lost.
		_, err := g.CheckAndReserve(ctx, "u1", 50, "LIVE")
		require.NoError(t, err)
		require.NoError(t, store.SetAdd(ctx, "user:u1:SMALL:jobs", "ORPHAN"))

		metrics := &countingMetrics{}
		sw := NewSweeperWithOpts(store, log.NewDisabledLogger(), SweeperOpts{Metrics: metrics})
		require.NoError(t, sw.Run(ctx))

		members := store.setMembersSnapshot("user:u1:SMALL:jobs")
		require.Contains(t, members, "LIVE")
		require.NotContains(t, members, "ORPHAN")
		require.Equal(t, 1, metrics.orphans)
	})

	t.Run("sweeps multiple users and tiers", func(t *testing.T) {
		store := newFakeStore()
		require.NoError(t, store.SetAdd(ctx, "user:u1:SMALL:jobs", "A"))
		require.NoError(t, store.SetAdd(ctx, "user:u2:XL:jobs", "B"))
		// u3's job is alive.
		require.NoError(t, store.SetAdd(ctx, "user:u3:LARGE:jobs", "C"))
		require.NoError(t, store.SetWithTTL(ctx, "job:u3:LARGE:C", "LARGE", time.Hour))

		sw := NewSweeper(store, log.NewDisabledLogger())
		require.NoError(t, sw.Run(ctx))

		require.Empty(t, store.setMembersSnapshot("user:u1:SMALL:jobs"))
		require.Empty(t, store.setMembersSnapshot("user:u2:XL:jobs"))
		require.Contains(t, store.setMembersSnapshot("user:u3:LARGE:jobs"), "C")
	})

	t.Run("empty store is a no-op", func(t *testing.T) {
		store := newFakeStore()
		sw := NewSweeper(store, log.NewDisabledLogger())
		require.NoError(t, sw.Run(ctx))
	})
}
