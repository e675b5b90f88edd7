package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gcsops/crm-pipeline/internal/testutil"
	"github.com/gcsops/crm-pipeline/pkg/cache"
	"github.com/gcsops/crm-pipeline/pkg/crm"
	"github.com/gcsops/crm-pipeline/pkg/pipeline"
)

func newTestPipeline(t *testing.T, mock *testutil.MockCRM) *pipeline.Pipeline {
	t.Helper()

	pipe, err := pipeline.New(pipeline.Config{
		CRM: crm.Config{
			BaseURL: mock.URL(),
			Token:   "test-token",
		},
		OwnerIDs: []string{"58"},
	})
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}
	return pipe
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestMetricsHandler(t *testing.T) {
	mock := testutil.NewMockCRM()
	defer mock.Close()
	mock.AddUser("58", "Jane", "Smith")
	mock.AddDeal("d1", "58")
	mock.AddDealTask("d1", testutil.Record{
		"id": "t1", "parent_id": "d1", "status": 1, "duedate": nil,
	})

	handler := metricsHandler(newTestPipeline(t, mock))

	t.Run("computed", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/metrics", nil)
		w := httptest.NewRecorder()

		handler(w, req)

		resp := w.Result()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", resp.StatusCode)
		}
		if got := resp.Header.Get("X-Cache"); got != "MISS" {
			t.Errorf("Expected X-Cache MISS on first request, got %q", got)
		}

		var result cache.Result
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if len(result.Payload) != 1 {
			t.Errorf("Expected 1 accumulator, got %d", len(result.Payload))
		}
	})

	t.Run("cached", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/metrics", nil)
		w := httptest.NewRecorder()

		handler(w, req)

		resp := w.Result()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", resp.StatusCode)
		}
		if got := resp.Header.Get("X-Cache"); got != "HIT" {
			t.Errorf("Expected X-Cache HIT on second request, got %q", got)
		}
	})
}

func TestMetricsHandler_UpstreamFailure(t *testing.T) {
	mock := testutil.NewMockCRM()
	defer mock.Close()
	mock.AddUser("58", "Jane", "Smith")
	mock.FailPath("/deals", 500)

	handler := metricsHandler(newTestPipeline(t, mock))

	req := httptest.NewRequest("GET", "/api/v1/metrics", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mock := testutil.NewMockCRM()
	defer mock.Close()

	// Creating a pipeline registers all metrics
	_ = newTestPipeline(t, mock)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler := promhttp.Handler()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	bodyStr := string(body)

	// Just verify we get prometheus output format
	if !strings.Contains(bodyStr, "# HELP") || !strings.Contains(bodyStr, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}

	if !strings.Contains(bodyStr, "crm_limiter_active") {
		t.Error("Expected metrics output to contain crm_limiter_active")
	}
}
