package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestSettlementMetricsRecordBlock(t *testing.T) {
	m := Settlement()
	require.Same(t, m, Settlement())

	before := testutil.ToFloat64(m.distributed)
	m.RecordTick("settled")
	m.ObserveBlock(12, 3, 900, 50, 1, 2, 40*time.Millisecond)

	require.Equal(t, float64(1), testutil.ToFloat64(m.ticks.WithLabelValues("settled")))
	require.Equal(t, before+900, testutil.ToFloat64(m.distributed))
	require.Equal(t, float64(12), testutil.ToFloat64(m.lastBlock))
	require.Equal(t, float64(3), testutil.ToFloat64(m.participants))
}

func TestSettleDurationHistogram(t *testing.T) {
	m := Settlement()
	var before, after dto.Metric
	require.NoError(t, m.duration.Write(&before))

	m.ObserveBlock(13, 1, 10, 0, 0, 0, 250*time.Millisecond)

	require.NoError(t, m.duration.Write(&after))
	require.Equal(t, before.GetHistogram().GetSampleCount()+1, after.GetHistogram().GetSampleCount())
	require.InDelta(t, before.GetHistogram().GetSampleSum()+0.25, after.GetHistogram().GetSampleSum(), 1e-9)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *SettlementMetrics
	m.RecordTick("failed")
	m.ObserveBlock(1, 1, 1, 0, 0, 0, time.Second)

	var api *apiMetrics
	api.Observe("/v1/blocks", 200, time.Millisecond)
	api.RecordThrottle("/v1/blocks")

	var hooks *webhookMetrics
	hooks.RecordDelivery("block.settled", "delivered")
}
