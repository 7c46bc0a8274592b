package obs_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/obs"
)

func TestDomainMetricsRecordOutcomes(t *testing.T) {
	obs.MustRegisterDomainMetrics("toko", prometheus.NewRegistry())

	before := testutil.ToFloat64(obs.PriceResolutionsTotal.WithLabelValues("promo_tier"))
	obs.ObservePriceResolution("promo_tier")
	require.Equal(t, before+1, testutil.ToFloat64(obs.PriceResolutionsTotal.WithLabelValues("promo_tier")))

	passes := testutil.ToFloat64(obs.CartSyncPassesTotal.WithLabelValues("ok"))
	obs.ObserveSyncPass("ok", 3*time.Millisecond)
	require.Equal(t, passes+1, testutil.ToFloat64(obs.CartSyncPassesTotal.WithLabelValues("ok")))

	updates := testutil.ToFloat64(obs.CartSyncLineUpdatesTotal)
	obs.AddSyncLineUpdates(2)
	obs.AddSyncLineUpdates(0)
	require.Equal(t, updates+2, testutil.ToFloat64(obs.CartSyncLineUpdatesTotal))

	sessions := testutil.ToFloat64(obs.CartSyncActiveSessions)
	obs.AddActiveSyncSessions(1)
	obs.AddActiveSyncSessions(-1)
	require.Equal(t, sessions, testutil.ToFloat64(obs.CartSyncActiveSessions))
}

func TestDomainMetricsRegistrationIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs.MustRegisterDomainMetrics("toko", reg)
	require.NotPanics(t, func() { obs.MustRegisterDomainMetrics("toko", reg) })
}
