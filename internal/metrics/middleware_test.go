package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareCountsByStatus(t *testing.T) {
	Init()
	counts := map[string]float64{}
	for _, code := range []string{"200", "503"} {
		counts[code] = testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, code))
	}

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/session", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	for _, path := range []string{"/api/session", "/api/session", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
	}

	require.InDelta(t, 2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200"))-counts["200"], 0)
	require.InDelta(t, 1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "503"))-counts["503"], 0)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}
