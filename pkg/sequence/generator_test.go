package sequence

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newGenerator(t *testing.T) (*RedisGenerator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	fixed := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	return &RedisGenerator{rdb: rdb, now: func() time.Time { return fixed }}, mr
}

func TestNextExpirationRunCode(t *testing.T) {
	g, mr := newGenerator(t)
	ctx := context.Background()

	first, err := g.NextExpirationRunCode(ctx)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(first, "EXP-240309-001"), first)

	second, err := g.NextExpirationRunCode(ctx)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(second, "EXP-240309-002"), second)

	require.True(t, mr.Exists("seq:loyalty:EXP:240309"))
	require.Positive(t, mr.TTL("seq:loyalty:EXP:240309"))
}

func TestPrefixesUseSeparateCounters(t *testing.T) {
	g, _ := newGenerator(t)
	ctx := context.Background()

	_, err := g.NextExpirationRunCode(ctx)
	require.NoError(t, err)

	req, err := g.NextRequestCode(ctx)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(req, "REQ-240309-001"), req)
}
