// Package assist runs the request pipeline: classify the message,
// retrieve documentation, plan sub-tasks, generate code, and record
// the turn in session memory. Each stage runs under its own timeout
// so a stuck stage cannot consume the whole request budget.
package assist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codelake/codelake/internal/generator"
	"github.com/codelake/codelake/internal/planner"
	"github.com/codelake/codelake/internal/retrieval"
	"github.com/codelake/codelake/internal/session"
)

// notCodeRequestReply is returned for conversational messages that
// don't ask for code.
const notCodeRequestReply = "I generate SDK code from documentation. " +
	"Describe what you want to build, for example: \"write code to list my S3 buckets\"."

// historyTurns is how many recent turns feed into planning.
const historyTurns = 3

// chatPrompt answers conversational messages with session history for
// context. %s placeholders: (1) history block, (2) current message.
const chatPrompt = `You are an SDK code generation assistant. The user sent a conversational message rather than a code request. Reply briefly and helpfully. If they seem to want code, tell them to describe what they want to build.

%s
User: %s`

// Retriever fetches documentation context for a request.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (*retrieval.Result, error)
}

// Completer generates plain text replies for conversational messages.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Planner decomposes a request into sub-tasks.
type Planner interface {
	Plan(ctx context.Context, request, docContext string) (*planner.Plan, error)
}

// Generator produces code for a plan.
type Generator interface {
	Generate(ctx context.Context, plan *planner.Plan, request, docContext string) (*generator.Result, error)
}

// TurnStore optionally persists turns beyond process lifetime.
type TurnStore interface {
	AppendTurn(ctx context.Context, turn session.Turn) (*session.Turn, error)
}

// Timeouts bound each pipeline stage.
type Timeouts struct {
	Retrieve time.Duration // Default 30s
	Plan     time.Duration // Default 60s
	Generate time.Duration // Default 300s
}

func (t *Timeouts) applyDefaults() {
	if t.Retrieve <= 0 {
		t.Retrieve = 30 * time.Second
	}
	if t.Plan <= 0 {
		t.Plan = 60 * time.Second
	}
	if t.Generate <= 0 {
		t.Generate = 300 * time.Second
	}
}

// Request is one user message within a session.
type Request struct {
	SessionID uuid.UUID
	Message   string
}

// Response is the pipeline's answer.
type Response struct {
	SessionID   uuid.UUID
	Code        string
	Explanation string
	PlanSteps   []string
	Sources     []string
	MissingInfo []string
	Suggestions []string
	Confidence  float64
	// Complete is false when generation stopped before finishing the plan.
	Complete bool
	// Degraded is true when web fallback was needed but unavailable.
	Degraded bool
	// FallbackUsed is true when web results supplemented local ones.
	FallbackUsed bool
}

// Assistant wires the pipeline stages together.
type Assistant struct {
	retriever Retriever
	planner   Planner
	generator Generator
	chat      Completer // nil falls back to a canned reply
	memory    *session.Manager
	store     TurnStore // nil disables persistence
	timeouts  Timeouts
	logger    *slog.Logger
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithChat enables model-backed replies for conversational messages.
// Without it such messages get a fixed usage hint.
func WithChat(c Completer) Option {
	return func(a *Assistant) { a.chat = c }
}

// New creates an Assistant. store may be nil; turns then live only in
// process memory.
func New(retriever Retriever, p Planner, g Generator, memory *session.Manager, store TurnStore, timeouts Timeouts, logger *slog.Logger, opts ...Option) (*Assistant, error) {
	if retriever == nil || p == nil || g == nil {
		return nil, errors.New("retriever, planner, and generator are required")
	}
	if memory == nil {
		return nil, errors.New("session memory manager is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeouts.applyDefaults()

	a := &Assistant{
		retriever: retriever,
		planner:   p,
		generator: g,
		memory:    memory,
		store:     store,
		timeouts:  timeouts,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Handle runs one request through the pipeline. Retrieval and
// planning failures abort the request; an incomplete generation does
// not, it returns the partial code with Complete set to false.
func (a *Assistant) Handle(ctx context.Context, req Request) (*Response, error) {
	if req.Message == "" {
		return nil, errors.New("message is required")
	}
	if req.SessionID == uuid.Nil {
		req.SessionID = uuid.New()
	}

	logger := a.logger.With("session_id", req.SessionID)

	if !IsCodeRequest(req.Message) {
		logger.Debug("message classified as conversational")
		return a.converse(ctx, req), nil
	}

	// Retrieval stage.
	retrieveCtx, cancelRetrieve := context.WithTimeout(ctx, a.timeouts.Retrieve)
	retrieved, err := a.retriever.Retrieve(retrieveCtx, req.Message)
	cancelRetrieve()
	if err != nil {
		return nil, fmt.Errorf("retrieving documentation: %w", err)
	}

	docContext, sources := buildDocContext(retrieved.Results)

	// Fold recent history into the planning request so follow-ups can
	// build on earlier turns.
	mem := a.memory.Get(req.SessionID)
	planRequest := req.Message
	if history := buildHistoryContext(mem.Recent(historyTurns)); history != "" {
		planRequest = history + "\nCurrent request: " + req.Message
	}

	// Planning stage.
	planCtx, cancelPlan := context.WithTimeout(ctx, a.timeouts.Plan)
	plan, err := a.planner.Plan(planCtx, planRequest, docContext)
	cancelPlan()
	if err != nil {
		return nil, fmt.Errorf("planning request: %w", err)
	}

	// Generation stage.
	generateCtx, cancelGenerate := context.WithTimeout(ctx, a.timeouts.Generate)
	genResult, genErr := a.generator.Generate(generateCtx, plan, planRequest, docContext)
	cancelGenerate()
	if genErr != nil && !errors.Is(genErr, generator.ErrIncomplete) {
		return nil, fmt.Errorf("generating code: %w", genErr)
	}
	if genResult == nil {
		return nil, fmt.Errorf("generating code: %w", genErr)
	}
	if genErr != nil {
		logger.Warn("generation incomplete",
			"fragments", len(genResult.Fragments), "planned", len(plan.Tasks), "error", genErr)
	}

	resp := &Response{
		SessionID:    req.SessionID,
		Code:         genResult.Code,
		Explanation:  genResult.Explanation,
		PlanSteps:    plan.Steps(),
		Sources:      sources,
		MissingInfo:  genResult.MissingInfo,
		Suggestions:  genResult.Suggestions,
		Confidence:   genResult.Confidence,
		Complete:     genResult.Complete,
		Degraded:     retrieved.Degraded,
		FallbackUsed: retrieved.FallbackUsed,
	}

	a.recordTurn(ctx, mem, req, resp)

	logger.Info("request handled",
		"plan_tasks", len(plan.Tasks),
		"complete", resp.Complete,
		"fallback", resp.FallbackUsed,
		"confidence", resp.Confidence)
	return resp, nil
}

// converse answers a non-code message. With a chat completer the model
// replies using session history; any failure degrades to the fixed
// usage hint rather than erroring a message that needs no pipeline.
func (a *Assistant) converse(ctx context.Context, req Request) *Response {
	resp := &Response{
		SessionID:   req.SessionID,
		Explanation: notCodeRequestReply,
		Complete:    true,
	}
	if a.chat == nil {
		return resp
	}

	mem := a.memory.Get(req.SessionID)
	history := buildHistoryContext(mem.Recent(historyTurns))
	if history == "" {
		history = "(no earlier turns)"
	}

	chatCtx, cancel := context.WithTimeout(ctx, a.timeouts.Plan)
	defer cancel()
	text, err := a.chat.Complete(chatCtx, fmt.Sprintf(chatPrompt, history, req.Message))
	if err != nil {
		a.logger.Warn("conversational reply failed, using fixed hint",
			"session_id", req.SessionID, "error", err)
		return resp
	}

	resp.Explanation = text
	a.recordTurn(ctx, mem, req, resp)
	return resp
}

// recordTurn appends the exchange to session memory and, when a store
// is configured, persists it. Persistence failures are logged, not
// propagated; the user already has their answer.
func (a *Assistant) recordTurn(ctx context.Context, mem *session.Memory, req Request, resp *Response) {
	turn := session.Turn{
		SessionID:   req.SessionID,
		Request:     req.Message,
		PlanSteps:   resp.PlanSteps,
		Code:        resp.Code,
		Explanation: resp.Explanation,
		Complete:    resp.Complete,
	}

	mem.Append(turn)

	if a.store != nil {
		if _, err := a.store.AppendTurn(ctx, turn); err != nil {
			a.logger.Warn("failed to persist turn",
				"session_id", req.SessionID, "error", err)
		}
	}
}
