// Package generator produces code for a validated plan, one sub-task
// at a time. Execution is strictly sequential so each task sees the
// code its predecessors produced. A task that keeps failing stops the
// run; everything generated so far is still returned, flagged
// incomplete.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codelake/codelake/internal/planner"
)

// ErrIncomplete signals that generation stopped before finishing the
// plan. The returned Result still carries the completed fragments.
var ErrIncomplete = errors.New("generation incomplete")

// maxTaskResponseBytes limits LLM response size before parsing (256 KB).
const maxTaskResponseBytes = 256 * 1024

// Completer is the text generation behavior the generator depends on.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// DocFinder looks up documentation for a single SDK component,
// enriching a task's context beyond the shared retrieval pass.
type DocFinder interface {
	FindComponentDocs(ctx context.Context, component string) (string, error)
}

// Option configures a Generator.
type Option func(*Generator)

// WithDocFinder enables per-component documentation lookup.
func WithDocFinder(f DocFinder) Option {
	return func(g *Generator) { g.docs = f }
}

// Fragment is the output of one completed sub-task.
type Fragment struct {
	TaskID      string
	Description string
	Code        string
	Explanation string
	Confidence  float64
}

// Result is the aggregate outcome of a generation run.
type Result struct {
	// Code is all fragment code joined in plan order.
	Code string
	// Explanation is the per-fragment explanations joined in order.
	Explanation string
	// Fragments holds per-task outputs for the tasks that completed.
	Fragments []Fragment
	// MissingInfo collects information the model said it lacked.
	MissingInfo []string
	// Suggestions collects follow-up suggestions from the model.
	Suggestions []string
	// Confidence is the mean fragment confidence, 0 when none completed.
	Confidence float64
	// Complete reports whether every planned task produced a fragment.
	Complete bool
}

// taskOutput mirrors the JSON shape the model is asked to produce.
type taskOutput struct {
	Code        string   `json:"code"`
	Explanation string   `json:"explanation"`
	Confidence  float64  `json:"confidence"`
	MissingInfo []string `json:"missing_info,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// taskPrompt asks for one sub-task's code as JSON. %s placeholders:
// (1) user request, (2) task description, (3) SDK components,
// (4) documentation context, (5) code from earlier tasks.
const taskPrompt = `You are an SDK code generation assistant. Implement ONE sub-task of a larger request.

Rules:
- Generate only the code for this sub-task, building on the earlier code
- Use the SDK exactly as the documentation describes; do not invent APIs
- If the documentation lacks something you need, say so in missing_info
- Rate your confidence 0.0-1.0 based on how well the documentation covers the task

Overall request:
%s

Current sub-task:
%s

SDK components involved: %s

Relevant SDK documentation:
%s

Code from earlier sub-tasks:
%s

Output format: JSON object only.
Example: {"code": "client := s3.NewFromConfig(cfg)", "explanation": "Creates the client.", "confidence": 0.9, "missing_info": [], "suggestions": []}`

// Generator executes plans task by task.
type Generator struct {
	llm    Completer
	docs   DocFinder // nil disables per-component lookup
	retry  RetryConfig
	logger *slog.Logger
}

// New creates a Generator.
func New(llm Completer, retry RetryConfig, logger *slog.Logger, opts ...Option) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if retry.MaxRetries < 0 {
		retry.MaxRetries = 0
	}
	if retry.InitialInterval <= 0 {
		retry = DefaultRetryConfig()
	}
	g := &Generator{llm: llm, retry: retry, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate runs the plan's tasks in order and aggregates their
// outputs. When a task exhausts its retry budget the run stops there:
// the partial Result is returned together with an error wrapping
// ErrIncomplete, and Result.Complete is false.
func (g *Generator) Generate(ctx context.Context, plan *planner.Plan, request, docContext string) (*Result, error) {
	if plan == nil || len(plan.Tasks) == 0 {
		return nil, errors.New("plan has no tasks")
	}

	result := &Result{}
	var priorCode strings.Builder

	for i, task := range plan.Tasks {
		g.logger.Info("generating sub-task",
			"task_id", task.ID, "position", i+1, "total", len(plan.Tasks))

		frag, out, err := g.runTask(ctx, task, request, docContext, priorCode.String())
		if err != nil {
			g.logger.Warn("sub-task failed, stopping generation",
				"task_id", task.ID, "completed", len(result.Fragments), "error", err)
			finalize(result)
			return result, fmt.Errorf("%w: task %q: %v", ErrIncomplete, task.ID, err)
		}

		result.Fragments = append(result.Fragments, *frag)
		result.MissingInfo = append(result.MissingInfo, out.MissingInfo...)
		result.Suggestions = append(result.Suggestions, out.Suggestions...)
		if frag.Code != "" {
			priorCode.WriteString(frag.Code)
			priorCode.WriteString("\n\n")
		}
	}

	result.Complete = true
	finalize(result)

	g.logger.Info("generation completed",
		"fragments", len(result.Fragments), "confidence", result.Confidence)
	return result, nil
}

// runTask generates one fragment, retrying transient model errors.
func (g *Generator) runTask(ctx context.Context, task planner.SubTask, request, docContext, priorCode string) (*Fragment, taskOutput, error) {
	components := strings.Join(task.Components, ", ")
	if components == "" {
		components = "(unspecified)"
	}
	if priorCode == "" {
		priorCode = "(none yet)"
	}

	docs := docContext
	if extra := g.componentDocs(ctx, task.Components); extra != "" {
		if docs != "" {
			docs += "\n\n"
		}
		docs += extra
	}

	prompt := fmt.Sprintf(taskPrompt, request, task.Description, components, docs, priorCode)

	raw, err := completeWithRetry(ctx, g.llm, prompt, g.retry, g.logger)
	if err != nil {
		return nil, taskOutput{}, err
	}

	out := parseTaskOutput(raw)
	if out.Code == "" && out.Explanation == "" {
		return nil, taskOutput{}, fmt.Errorf("empty response for task %q", task.ID)
	}

	return &Fragment{
		TaskID:      task.ID,
		Description: task.Description,
		Code:        out.Code,
		Explanation: out.Explanation,
		Confidence:  out.Confidence,
	}, out, nil
}

// componentDocs looks up documentation per SDK component, deduplicated
// by content. Lookup failures degrade to the shared context only.
func (g *Generator) componentDocs(ctx context.Context, components []string) string {
	if g.docs == nil || len(components) == 0 {
		return ""
	}

	seen := make(map[string]struct{}, len(components))
	var sb strings.Builder
	for _, component := range components {
		text, err := g.docs.FindComponentDocs(ctx, component)
		if err != nil {
			g.logger.Warn("component doc lookup failed", "component", component, "error", err)
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		fmt.Fprintf(&sb, "--- Component: %s ---\n%s\n\n", component, text)
	}
	return strings.TrimSpace(sb.String())
}

// parseTaskOutput parses the model's JSON. A response that is not
// valid JSON is treated as raw code with middling confidence rather
// than discarded; models drop the wrapper more often than they drop
// the code.
func parseTaskOutput(raw string) taskOutput {
	text := strings.TrimSpace(raw)
	if len(text) > maxTaskResponseBytes {
		text = text[:maxTaskResponseBytes]
	}
	text = stripCodeFences(text)

	var out taskOutput
	if err := json.Unmarshal([]byte(text), &out); err == nil {
		out.Confidence = clampConfidence(out.Confidence)
		return out
	}

	return taskOutput{Code: text, Confidence: 0.5}
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// finalize computes the aggregate fields from the completed fragments.
func finalize(r *Result) {
	var codes, explanations []string
	var confidenceSum float64
	for _, f := range r.Fragments {
		if f.Code != "" {
			codes = append(codes, f.Code)
		}
		if f.Explanation != "" {
			explanations = append(explanations, fmt.Sprintf("%s: %s", f.Description, f.Explanation))
		}
		confidenceSum += f.Confidence
	}
	r.Code = strings.Join(codes, "\n\n")
	r.Explanation = strings.Join(explanations, "\n")
	if len(r.Fragments) > 0 {
		r.Confidence = confidenceSum / float64(len(r.Fragments))
	}
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
