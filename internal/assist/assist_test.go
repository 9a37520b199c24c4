package assist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/codelake/codelake/internal/generator"
	"github.com/codelake/codelake/internal/knowledge"
	"github.com/codelake/codelake/internal/log"
	"github.com/codelake/codelake/internal/planner"
	"github.com/codelake/codelake/internal/retrieval"
	"github.com/codelake/codelake/internal/session"
)

type stubRetriever struct {
	result *retrieval.Result
	err    error
	query  string
}

func (s *stubRetriever) Retrieve(_ context.Context, query string) (*retrieval.Result, error) {
	s.query = query
	return s.result, s.err
}

type stubPlanner struct {
	plan    *planner.Plan
	err     error
	request string
}

func (s *stubPlanner) Plan(_ context.Context, request, _ string) (*planner.Plan, error) {
	s.request = request
	return s.plan, s.err
}

type stubGenerator struct {
	result *generator.Result
	err    error
}

func (s *stubGenerator) Generate(context.Context, *planner.Plan, string, string) (*generator.Result, error) {
	return s.result, s.err
}

type recordingStore struct {
	turns []session.Turn
	err   error
}

func (r *recordingStore) AppendTurn(_ context.Context, turn session.Turn) (*session.Turn, error) {
	r.turns = append(r.turns, turn)
	return &turn, r.err
}

func localResult(id string, similarity float32) knowledge.Result {
	return knowledge.Result{
		Chunk: knowledge.Chunk{
			ID:       id,
			Content:  "documentation for " + id,
			Metadata: map[string]string{knowledge.MetaSource: knowledge.SourceLocal},
		},
		Similarity: similarity,
	}
}

func newAssistant(t *testing.T, r Retriever, p Planner, g Generator, store TurnStore) *Assistant {
	t.Helper()
	a, err := New(r, p, g, session.NewManager(session.MemoryConfig{}), store, Timeouts{}, log.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestHandleFullPipeline(t *testing.T) {
	retriever := &stubRetriever{result: &retrieval.Result{
		Results:    []knowledge.Result{localResult("aws:s3/list_buckets", 0.9)},
		Confidence: 0.9,
	}}
	plan := &planner.Plan{Tasks: []planner.SubTask{
		{ID: "task-1", Description: "Create the S3 client"},
		{ID: "task-2", Description: "List the buckets", DependsOn: []string{"task-1"}},
	}}
	gen := &stubGenerator{result: &generator.Result{
		Code:        "client := s3.New()\n\nclient.ListBuckets()",
		Explanation: "Creates a client and lists buckets.",
		Fragments:   []generator.Fragment{{TaskID: "task-1"}, {TaskID: "task-2"}},
		Confidence:  0.85,
		Complete:    true,
	}}
	store := &recordingStore{}
	a := newAssistant(t, retriever, &stubPlanner{plan: plan}, gen, store)

	resp, err := a.Handle(context.Background(), Request{
		SessionID: uuid.New(),
		Message:   "write code to list my S3 buckets",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !resp.Complete {
		t.Error("response should be complete")
	}
	if len(resp.PlanSteps) != 2 || resp.PlanSteps[0] != "Create the S3 client" {
		t.Errorf("plan steps = %v", resp.PlanSteps)
	}
	if !strings.Contains(resp.Code, "ListBuckets") {
		t.Errorf("code = %q", resp.Code)
	}
	if len(resp.Sources) != 1 || resp.Sources[0] != "aws:s3/list_buckets" {
		t.Errorf("sources = %v", resp.Sources)
	}
	if resp.FallbackUsed || resp.Degraded {
		t.Error("no fallback expected for a confident retrieval")
	}

	// The turn was persisted.
	if len(store.turns) != 1 {
		t.Fatalf("persisted turns = %d, want 1", len(store.turns))
	}
	if store.turns[0].Request != "write code to list my S3 buckets" || !store.turns[0].Complete {
		t.Errorf("persisted turn = %+v", store.turns[0])
	}
}

func TestHandleEmptyStoreUsesWebFallback(t *testing.T) {
	webChunk := knowledge.Result{Chunk: knowledge.Chunk{
		Content: "web docs for a brand new SDK",
		Metadata: map[string]string{
			knowledge.MetaSource: knowledge.SourceWeb,
			knowledge.MetaPath:   "https://docs.example.com/new-sdk",
		},
	}}
	retriever := &stubRetriever{result: &retrieval.Result{
		Results:      []knowledge.Result{webChunk},
		Confidence:   0,
		FallbackUsed: true,
	}}
	plan := &planner.Plan{Tasks: []planner.SubTask{{ID: "task-1", Description: "Call the new API"}}}
	gen := &stubGenerator{result: &generator.Result{
		Code: "newsdk.Call()", Complete: true, Confidence: 0.6,
		Fragments: []generator.Fragment{{TaskID: "task-1"}},
	}}
	a := newAssistant(t, retriever, &stubPlanner{plan: plan}, gen, nil)

	resp, err := a.Handle(context.Background(), Request{Message: "show me how to call the new API"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !resp.FallbackUsed {
		t.Error("FallbackUsed should surface from retrieval")
	}
	if len(resp.Sources) != 1 || resp.Sources[0] != "https://docs.example.com/new-sdk" {
		t.Errorf("sources = %v, want the web URL", resp.Sources)
	}
	if !resp.Complete {
		t.Error("response should be complete")
	}
}

func TestHandlePartialGeneration(t *testing.T) {
	retriever := &stubRetriever{result: &retrieval.Result{
		Results:    []knowledge.Result{localResult("doc", 0.8)},
		Confidence: 0.8,
	}}
	plan := &planner.Plan{Tasks: []planner.SubTask{
		{ID: "task-1", Description: "first"},
		{ID: "task-2", Description: "second"},
		{ID: "task-3", Description: "third"},
	}}
	partial := &generator.Result{
		Code:      "step one code",
		Fragments: []generator.Fragment{{TaskID: "task-1", Code: "step one code"}},
		Complete:  false,
	}
	gen := &stubGenerator{
		result: partial,
		err:    fmt.Errorf("%w: task %q: model refused", generator.ErrIncomplete, "task-2"),
	}
	store := &recordingStore{}
	a := newAssistant(t, retriever, &stubPlanner{plan: plan}, gen, store)

	resp, err := a.Handle(context.Background(), Request{Message: "generate the three step thing"})
	if err != nil {
		t.Fatalf("Handle should not fail on incomplete generation: %v", err)
	}
	if resp.Complete {
		t.Error("response must be flagged incomplete")
	}
	if resp.Code != "step one code" {
		t.Errorf("code = %q, want the partial fragment", resp.Code)
	}
	// Incomplete turns are still recorded.
	if len(store.turns) != 1 || store.turns[0].Complete {
		t.Errorf("persisted turns = %+v", store.turns)
	}
}

func TestHandleConversationalMessage(t *testing.T) {
	retriever := &stubRetriever{}
	a := newAssistant(t, retriever, &stubPlanner{}, &stubGenerator{}, nil)

	resp, err := a.Handle(context.Background(), Request{Message: "thanks!"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.Code != "" {
		t.Errorf("code = %q, want empty for conversational message", resp.Code)
	}
	if resp.Explanation == "" {
		t.Error("conversational reply should carry guidance text")
	}
	if retriever.query != "" {
		t.Error("pipeline should not run for conversational messages")
	}
}

// chatFunc adapts a function to the Completer interface.
type chatFunc func(ctx context.Context, prompt string) (string, error)

func (f chatFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func TestHandleConversationalWithChat(t *testing.T) {
	var gotPrompt string
	chat := chatFunc(func(_ context.Context, prompt string) (string, error) {
		gotPrompt = prompt
		return "Hello! Describe what you want to build.", nil
	})

	a, err := New(&stubRetriever{}, &stubPlanner{}, &stubGenerator{},
		session.NewManager(session.MemoryConfig{}), nil, Timeouts{}, log.NewNop(), WithChat(chat))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := a.Handle(context.Background(), Request{Message: "thanks!"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.Explanation != "Hello! Describe what you want to build." {
		t.Errorf("explanation = %q, want the model reply", resp.Explanation)
	}
	if !strings.Contains(gotPrompt, "thanks!") {
		t.Errorf("chat prompt should carry the message, got: %s", gotPrompt)
	}

	// The exchange lands in session memory so later requests see it.
	mem := a.memory.Get(resp.SessionID)
	if mem.Len() != 1 {
		t.Errorf("memory turns = %d, want 1", mem.Len())
	}
}

func TestHandleConversationalChatFailureFallsBack(t *testing.T) {
	chat := chatFunc(func(context.Context, string) (string, error) {
		return "", errors.New("model offline")
	})
	a, err := New(&stubRetriever{}, &stubPlanner{}, &stubGenerator{},
		session.NewManager(session.MemoryConfig{}), nil, Timeouts{}, log.NewNop(), WithChat(chat))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := a.Handle(context.Background(), Request{Message: "thanks!"})
	if err != nil {
		t.Fatalf("chat failure must not fail the request: %v", err)
	}
	if resp.Explanation != notCodeRequestReply {
		t.Errorf("explanation = %q, want the fixed hint", resp.Explanation)
	}
}

func TestHandleRetrievalUnavailable(t *testing.T) {
	retriever := &stubRetriever{err: retrieval.ErrUnavailable}
	a := newAssistant(t, retriever, &stubPlanner{}, &stubGenerator{}, nil)

	_, err := a.Handle(context.Background(), Request{Message: "generate something"})
	if !errors.Is(err, retrieval.ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestHandleMalformedPlan(t *testing.T) {
	retriever := &stubRetriever{result: &retrieval.Result{}}
	p := &stubPlanner{err: planner.ErrMalformedPlan}
	a := newAssistant(t, retriever, p, &stubGenerator{}, nil)

	_, err := a.Handle(context.Background(), Request{Message: "generate something"})
	if !errors.Is(err, planner.ErrMalformedPlan) {
		t.Errorf("error = %v, want ErrMalformedPlan", err)
	}
}

func TestHandleFeedsHistoryToFollowUps(t *testing.T) {
	retriever := &stubRetriever{result: &retrieval.Result{
		Results:    []knowledge.Result{localResult("doc", 0.9)},
		Confidence: 0.9,
	}}
	p := &stubPlanner{plan: &planner.Plan{Tasks: []planner.SubTask{{ID: "task-1", Description: "do it"}}}}
	gen := &stubGenerator{result: &generator.Result{
		Code: "client.ListBuckets()", Complete: true,
		Fragments: []generator.Fragment{{TaskID: "task-1", Code: "client.ListBuckets()"}},
	}}
	a := newAssistant(t, retriever, p, gen, nil)

	sessionID := uuid.New()
	if _, err := a.Handle(context.Background(), Request{
		SessionID: sessionID, Message: "write code to list buckets",
	}); err != nil {
		t.Fatalf("first Handle: %v", err)
	}

	if _, err := a.Handle(context.Background(), Request{
		SessionID: sessionID, Message: "now show me how to add pagination",
	}); err != nil {
		t.Fatalf("second Handle: %v", err)
	}

	if !strings.Contains(p.request, "write code to list buckets") {
		t.Error("follow-up planning request should carry the earlier request")
	}
	if !strings.Contains(p.request, "client.ListBuckets()") {
		t.Error("follow-up planning request should carry the earlier code")
	}
	if !strings.Contains(p.request, "now show me how to add pagination") {
		t.Error("follow-up planning request should carry the current message")
	}
}

func TestHandleSessionIsolation(t *testing.T) {
	retriever := &stubRetriever{result: &retrieval.Result{}}
	p := &stubPlanner{plan: &planner.Plan{Tasks: []planner.SubTask{{ID: "task-1", Description: "do it"}}}}
	gen := &stubGenerator{result: &generator.Result{
		Code: "x", Complete: true, Fragments: []generator.Fragment{{TaskID: "task-1"}},
	}}
	a := newAssistant(t, retriever, p, gen, nil)

	if _, err := a.Handle(context.Background(), Request{
		SessionID: uuid.New(), Message: "generate thing one",
	}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	// A different session must not see the first session's history.
	if _, err := a.Handle(context.Background(), Request{
		SessionID: uuid.New(), Message: "generate thing two",
	}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if strings.Contains(p.request, "thing one") {
		t.Error("second session's planning request leaked first session's history")
	}
}

func TestHandleAssignsSessionID(t *testing.T) {
	retriever := &stubRetriever{result: &retrieval.Result{}}
	p := &stubPlanner{plan: &planner.Plan{Tasks: []planner.SubTask{{ID: "task-1", Description: "do it"}}}}
	gen := &stubGenerator{result: &generator.Result{Complete: true, Code: "x"}}
	a := newAssistant(t, retriever, p, gen, nil)

	resp, err := a.Handle(context.Background(), Request{Message: "generate something"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.SessionID == uuid.Nil {
		t.Error("a session ID should be assigned when none is given")
	}
}

func TestIsCodeRequest(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"write code to list my S3 buckets", true},
		{"how do I upload a file?", true},
		{"show me an example", true},
		{"implement retry logic", true},
		{"thanks!", false},
		{"good morning", false},
	}
	for _, tt := range tests {
		if got := IsCodeRequest(tt.message); got != tt.want {
			t.Errorf("IsCodeRequest(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}

func TestBuildDocContextDeduplicates(t *testing.T) {
	results := []knowledge.Result{
		localResult("a", 0.9),
		localResult("a", 0.8), // same content
		localResult("b", 0.7),
	}
	docContext, sources := buildDocContext(results)
	if strings.Count(docContext, "documentation for a") != 1 {
		t.Errorf("duplicate content not removed:\n%s", docContext)
	}
	if len(sources) != 2 {
		t.Errorf("sources = %v, want 2", sources)
	}
	// Order preserved.
	if !strings.Contains(docContext, "--- From a ---") {
		t.Errorf("context missing labels:\n%s", docContext)
	}
}
