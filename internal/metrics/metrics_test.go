package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/paircomms/msg-gateway/internal/db"
)

func TestPGXPoolStats_CountersTakeDeltas(t *testing.T) {
	pool := db.StartTestPostgres(t)
	m := NewPGXPoolStats(pool)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := pool.Exec(ctx, `SELECT 1`)
		require.NoError(t, err)
	}

	m.collect()
	first := testutil.ToFloat64(m.acquireCount)
	require.Greater(t, first, 0.0)

	// A tick with no pool activity must add nothing.
	m.collect()
	require.Equal(t, first, testutil.ToFloat64(m.acquireCount))

	_, err := pool.Exec(ctx, `SELECT 1`)
	require.NoError(t, err)
	m.collect()

	// The counter tracks the pool's cumulative total, not a multiple of it.
	require.InDelta(t, float64(pool.Stat().AcquireCount()), testutil.ToFloat64(m.acquireCount), 0.5)
}
