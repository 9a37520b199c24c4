// Package planner decomposes a code request into an ordered list of
// sub-tasks. The LLM proposes the decomposition as JSON; this package
// owns validation: a plan is only accepted when it has at least one
// task, unique task IDs, and dependencies that reference earlier tasks
// only.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrMalformedPlan signals that the model produced an unusable plan
// twice in a row.
var ErrMalformedPlan = errors.New("malformed plan")

// MaxTasks caps plan size. Requests needing more decomposition than
// this are better served by splitting the request itself.
const MaxTasks = 10

// maxPlanResponseBytes limits LLM response size before JSON parsing (32 KB).
const maxPlanResponseBytes = 32 * 1024

// Completer is the text generation behavior the planner depends on.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// SubTask is one unit of the decomposed request.
type SubTask struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Components  []string `json:"sdk_components,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
}

// Plan is an ordered task list. Order is execution order; DependsOn
// only ever references tasks earlier in the list.
type Plan struct {
	Tasks []SubTask
}

// Steps returns the task descriptions in execution order.
func (p *Plan) Steps() []string {
	steps := make([]string, len(p.Tasks))
	for i, t := range p.Tasks {
		steps[i] = t.Description
	}
	return steps
}

// planningPrompt asks for a JSON task decomposition. %s placeholders:
// (1) documentation context, (2) the user request.
const planningPrompt = `You are a task planner for SDK code generation. Break the user's request into small, ordered sub-tasks.

Rules:
- Each sub-task should produce one coherent piece of code
- List sub-tasks in the order they must be implemented
- A sub-task may depend only on sub-tasks listed before it
- Use short lowercase IDs like "task-1", "task-2"
- Name the SDK components (clients, operations, types) each sub-task touches
- Maximum %d sub-tasks; prefer fewer

Relevant SDK documentation:
%s

User request:
%s

Output format: JSON array only, no prose.
Example: [{"id": "task-1", "description": "Create the S3 client", "sdk_components": ["s3.Client"], "depends_on": []}]`

// strictRetrySuffix is appended on the second attempt after a parse or
// validation failure.
const strictRetrySuffix = `

Your previous answer was not a valid JSON task array. Respond with ONLY the JSON array. No markdown fences, no explanation, no trailing text.`

// Planner turns requests into validated plans.
type Planner struct {
	llm    Completer
	logger *slog.Logger
}

// New creates a Planner.
func New(llm Completer, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{llm: llm, logger: logger}
}

// Plan decomposes the request into sub-tasks, grounding the
// decomposition in the retrieved documentation context. A malformed
// model response is retried once with a stricter prompt; a second
// failure returns ErrMalformedPlan. A successful return always holds
// at least one task.
func (p *Planner) Plan(ctx context.Context, request, docContext string) (*Plan, error) {
	prompt := fmt.Sprintf(planningPrompt, MaxTasks, docContext, request)

	plan, err := p.attempt(ctx, prompt)
	if err == nil {
		return plan, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("planning: %w", ctx.Err())
	}

	p.logger.Warn("plan attempt failed, retrying with strict prompt", "error", err)

	plan, retryErr := p.attempt(ctx, prompt+strictRetrySuffix)
	if retryErr == nil {
		return plan, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("planning: %w", ctx.Err())
	}
	return nil, fmt.Errorf("%w: %v", ErrMalformedPlan, retryErr)
}

func (p *Planner) attempt(ctx context.Context, prompt string) (*Plan, error) {
	raw, err := p.llm.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generating plan: %w", err)
	}

	text := strings.TrimSpace(raw)
	if len(text) > maxPlanResponseBytes {
		return nil, fmt.Errorf("plan response too large: %d bytes", len(text))
	}
	text = stripCodeFences(text)

	var tasks []SubTask
	if err := json.Unmarshal([]byte(text), &tasks); err != nil {
		return nil, fmt.Errorf("parsing plan: %w (raw: %q)", err, truncate(text, 200))
	}

	if err := validate(tasks); err != nil {
		return nil, err
	}

	p.logger.Debug("plan accepted", "task_count", len(tasks))
	return &Plan{Tasks: tasks}, nil
}

// validate enforces the plan invariants: non-empty, bounded size,
// unique non-empty IDs, non-empty descriptions, and dependencies that
// reference strictly earlier tasks.
func validate(tasks []SubTask) error {
	if len(tasks) == 0 {
		return errors.New("plan has no tasks")
	}
	if len(tasks) > MaxTasks {
		return fmt.Errorf("plan has %d tasks, maximum is %d", len(tasks), MaxTasks)
	}

	seen := make(map[string]bool, len(tasks))
	for i, t := range tasks {
		if t.ID == "" {
			return fmt.Errorf("task %d has empty ID", i)
		}
		if t.Description == "" {
			return fmt.Errorf("task %q has empty description", t.ID)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task ID %q", t.ID)
		}
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("task %q depends on %q, which is not an earlier task", t.ID, dep)
			}
		}
		seen[t.ID] = true
	}
	return nil
}

// stripCodeFences removes ```json ... ``` wrapping from LLM output.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

// truncate shortens s to at most n bytes for logging.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
