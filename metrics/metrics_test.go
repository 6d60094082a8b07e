package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/blocknative/devnode/metrics"
)

func TestHandlerExposesRegistered(t *testing.T) {
	t.Parallel()

	m := metrics.NewMetrics()
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "devnode",
		Subsystem: "test",
		Name:      "hits",
		Help:      "test counter",
	})
	require.NoError(t, m.Register(c))
	require.Error(t, m.Register(c))
	c.Add(3)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.Contains(w.Body.String(), "devnode_test_hits 3"))
}
