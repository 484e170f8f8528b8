package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSession_Counters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Renewal(ResultOK)
	m.Renewal(ResultOK)
	m.Shared()
	m.Renewal(ResultFailed)
	m.Cleared(ReasonRenewalFailed)
	m.RetryLimitReached()

	require.Equal(t, 2.0, testutil.ToFloat64(m.renewals.WithLabelValues(ResultOK)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.renewals.WithLabelValues(ResultFailed)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.shared))
	require.Equal(t, 1.0, testutil.ToFloat64(m.cleared.WithLabelValues(ReasonRenewalFailed)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.retries))

	n, err := testutil.GatherAndCount(reg, "photostamp_session_renewals_total")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestSession_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Session
	require.NotPanics(t, func() {
		m.Renewal(ResultOK)
		m.Shared()
		m.Cleared(ReasonLogout)
		m.RetryLimitReached()
	})
}
