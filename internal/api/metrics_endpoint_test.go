package api

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetricsEndpoint(t *testing.T) {
	require.Equal(t, "/metrics", metricsEndpoint(""))
	require.Equal(t, "/internal/metrics", metricsEndpoint("internal/metrics"))
	require.Equal(t, "/prom", metricsEndpoint(" /prom "))
}
