package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/codelake/codelake/internal/assist"
	"github.com/codelake/codelake/internal/generator"
	"github.com/codelake/codelake/internal/log"
	"github.com/codelake/codelake/internal/planner"
	"github.com/codelake/codelake/internal/retrieval"
	"github.com/codelake/codelake/internal/session"
)

type stubRetriever struct {
	result *retrieval.Result
	err    error
}

func (s *stubRetriever) Retrieve(context.Context, string) (*retrieval.Result, error) {
	return s.result, s.err
}

type stubPlanner struct {
	plan *planner.Plan
	err  error
}

func (s *stubPlanner) Plan(context.Context, string, string) (*planner.Plan, error) {
	return s.plan, s.err
}

type stubGenerator struct {
	result *generator.Result
	err    error
}

func (s *stubGenerator) Generate(context.Context, *planner.Plan, string, string) (*generator.Result, error) {
	return s.result, s.err
}

func newTestServer(t *testing.T, r assist.Retriever, p assist.Planner, g assist.Generator, burst int) *httptest.Server {
	t.Helper()

	assistant, err := assist.New(r, p, g,
		session.NewManager(session.MemoryConfig{}), nil, assist.Timeouts{}, log.NewNop())
	if err != nil {
		t.Fatalf("assist.New: %v", err)
	}

	srv, err := NewServer(ServerConfig{
		Logger:    log.NewNop(),
		Assistant: assistant,
		RateBurst: burst,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func workingStubs() (*stubRetriever, *stubPlanner, *stubGenerator) {
	r := &stubRetriever{result: &retrieval.Result{Confidence: 0.9}}
	p := &stubPlanner{plan: &planner.Plan{Tasks: []planner.SubTask{
		{ID: "task-1", Description: "Create the client"},
	}}}
	g := &stubGenerator{result: &generator.Result{
		Code:       "client := s3.New()",
		Confidence: 0.9,
		Complete:   true,
		Fragments:  []generator.Fragment{{TaskID: "task-1"}},
	}}
	return r, p, g
}

func TestGenerateEndpoint(t *testing.T) {
	r, p, g := workingStubs()
	ts := newTestServer(t, r, p, g, 100)

	resp, err := http.Post(ts.URL+"/api/v1/generate", "application/json",
		strings.NewReader(`{"message": "write code to list buckets"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Code != "client := s3.New()" {
		t.Errorf("code = %q", body.Code)
	}
	if !body.Complete {
		t.Error("complete should be true")
	}
	if body.SessionID == "" {
		t.Error("session_id should be assigned")
	}
}

func TestGenerateMissingMessage(t *testing.T) {
	r, p, g := workingStubs()
	ts := newTestServer(t, r, p, g, 100)

	resp, err := http.Post(ts.URL+"/api/v1/generate", "application/json",
		strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGenerateInvalidSessionID(t *testing.T) {
	r, p, g := workingStubs()
	ts := newTestServer(t, r, p, g, 100)

	resp, err := http.Post(ts.URL+"/api/v1/generate", "application/json",
		strings.NewReader(`{"message": "generate code", "session_id": "not-a-uuid"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGenerateRetrievalUnavailable(t *testing.T) {
	r := &stubRetriever{err: retrieval.ErrUnavailable}
	_, p, g := workingStubs()
	ts := newTestServer(t, r, p, g, 100)

	resp, err := http.Post(ts.URL+"/api/v1/generate", "application/json",
		strings.NewReader(`{"message": "generate code"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestGenerateMalformedPlan(t *testing.T) {
	r, _, g := workingStubs()
	p := &stubPlanner{err: planner.ErrMalformedPlan}
	ts := newTestServer(t, r, p, g, 100)

	resp, err := http.Post(ts.URL+"/api/v1/generate", "application/json",
		strings.NewReader(`{"message": "generate code"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	r, p, g := workingStubs()
	ts := newTestServer(t, r, p, g, 100)

	for _, path := range []string{"/health", "/ready"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestRateLimiting(t *testing.T) {
	r, p, g := workingStubs()
	ts := newTestServer(t, r, p, g, 1)

	// First request consumes the only token.
	resp, err := http.Post(ts.URL+"/api/v1/generate", "application/json",
		strings.NewReader(`{"message": "generate code"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/api/v1/generate", "application/json",
		strings.NewReader(`{"message": "generate code"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", resp.StatusCode)
	}

	// Health probes bypass the limiter.
	resp, err = http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}
}

func TestSessionEndpointsDisabledWithoutStore(t *testing.T) {
	r, p, g := workingStubs()
	ts := newTestServer(t, r, p, g, 100)

	resp, err := http.Get(ts.URL + "/api/v1/sessions")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when session store is not configured", resp.StatusCode)
	}
}
