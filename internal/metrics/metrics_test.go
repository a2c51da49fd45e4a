package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware_LabelsWithRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/v1/markets/{marketID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Distinct market ids must collapse into one label value.
	for _, id := range []string{"m-1", "m-2", "m-3"} {
		req := httptest.NewRequest("GET", "/api/v1/markets/"+id, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
	}

	got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/markets/{marketID}", "200"))
	if got != 3 {
		t.Errorf("expected 3 requests under the route pattern label, got %v", got)
	}
}
