package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"udl/pkg/observability"
)

func TestMetrics_CountsByRoutePattern(t *testing.T) {
	// Arrange
	m := observability.NewMetrics("test")
	router := chi.NewRouter()
	router.Use(Metrics(m))
	router.Get("/things/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	// Act: two ids, one route pattern
	for _, id := range []string{"a", "b"} {
		resp, err := http.Get(server.URL + "/things/" + id)
		require.NoError(t, err)
		resp.Body.Close()
	}

	// Assert: counted under the pattern, not the concrete paths
	counter := m.HTTPRequests.WithLabelValues("GET", "/things/{id}", "200")
	assert.Equal(t, 2.0, testutil.ToFloat64(counter))
}

func TestMetrics_CountsMissesUnderRawPath(t *testing.T) {
	m := observability.NewMetrics("test")
	router := chi.NewRouter()
	router.Use(Metrics(m))
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	resp, err := http.Get(server.URL + "/nowhere")
	require.NoError(t, err)
	resp.Body.Close()

	counter := m.HTTPRequests.WithLabelValues("GET", "/nowhere", "404")
	assert.Equal(t, 1.0, testutil.ToFloat64(counter))
}
