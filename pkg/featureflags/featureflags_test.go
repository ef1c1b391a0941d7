package featureflags

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"smallbiznis-loyalty/pkg/config"
)

func TestDisabledBackendReturnsFallback(t *testing.T) {
	ff := ProvideFeatureFlag(FeatureParams{Config: &config.Config{}})

	require.True(t, ff.IsEnabled(context.Background(), PointsExpiration, true))
	require.False(t, ff.IsEnabled(context.Background(), PointsExpiration, false))

	flags, err := ff.Features(context.Background(), "anyone")
	require.NoError(t, err)
	require.Empty(t, flags)
}

func TestStatic(t *testing.T) {
	ff := Static{PointsExpiration: false}

	require.False(t, ff.IsEnabled(context.Background(), PointsExpiration, true))
	require.True(t, ff.IsEnabled(context.Background(), "unknown", true))
}
