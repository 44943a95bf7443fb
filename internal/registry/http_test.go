package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ratchet/internal/errors"
)

func TestHTTPSourceDiscoverAndLoad(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Metadata{{Name: "addNumbers", Version: "1"}})
	})
	mux.HandleFunc("/tasks/addNumbers", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(httpTaskDoc{Name: "addNumbers", Version: "1", Script: "(input) => input.a + input.b"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := NewHTTPSource(HTTPConfig{BaseURL: srv.URL})
	metas, err := src.Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(metas) != 1 || metas[0].SourceOrigin != "http" {
		t.Fatalf("expected one http-origin task, got %+v", metas)
	}

	def, err := src.Load(context.Background(), "addNumbers")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if def.Script != "(input) => input.a + input.b" {
		t.Fatalf("unexpected script: %q", def.Script)
	}
}

func TestHTTPSourceBearerAuthHeader(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]Metadata{})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := NewHTTPSource(HTTPConfig{BaseURL: srv.URL, Auth: AuthBearer, BearerToken: "secret-token"})
	if _, err := src.Discover(context.Background()); err != nil {
		t.Fatalf("discover: %v", err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
}

func TestHTTPSourceHealthCheckFailsOnServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := NewHTTPSource(HTTPConfig{BaseURL: srv.URL})
	if err := src.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected a 503 health check to report an error")
	}
}

func TestHTTPSourceCircuitBreakerTripsAfterRepeatedFailures(t *testing.T) {
	var hits int
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := NewHTTPSource(HTTPConfig{BaseURL: srv.URL, MaxRetries: 1})
	src.breaker = errors.NewCircuitBreaker("test", errors.CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Hour,
	})

	for i := 0; i < 2; i++ {
		if _, err := src.Discover(context.Background()); err == nil {
			t.Fatal("expected discovery against a 500 endpoint to fail")
		}
	}
	hitsAfterTrip := hits
	if _, err := src.Discover(context.Background()); err == nil {
		t.Fatal("expected the tripped breaker to keep failing fast")
	}
	if hits != hitsAfterTrip {
		t.Fatalf("expected the tripped breaker to short-circuit before hitting the server, hits went from %d to %d", hitsAfterTrip, hits)
	}
}
