// Package oracle is the boundary to the text-generation service that both
// writes and judges ideas. The search core only sees the Oracle interface;
// everything provider-shaped (HTTP clients, prompts, score parsing, rate
// limits) stays on this side of the line.
package oracle

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/ideaforge/internal/directive"
	"github.com/mohammad-safakhou/ideaforge/internal/problem"
)

// GenerateRequest carries everything the oracle needs to produce a new idea:
// the problem framing, the lineage of ideas the new one descends from
// (oldest first, empty when expanding the root), and the creative directive
// to apply.
type GenerateRequest struct {
	Problem     string
	Constraints string
	Lineage     []string
	Directive   directive.Directive
}

// Evaluation is the scored outcome of judging one idea. Scores are
// normalized to [0,1]; Aggregate is the mean over criteria. Raw preserves
// the oracle's reasoning text.
type Evaluation struct {
	Criteria  map[string]float64
	Aggregate float64
	Raw       string
}

// Oracle generates candidate ideas and evaluates them. Implementations are
// stochastic: identical requests may return different results. Calls must
// honor ctx cancellation and apply their own timeout.
type Oracle interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	Evaluate(ctx context.Context, idea string, criteria []problem.Criterion) (Evaluation, error)
}

// GenerationError marks a transient failure to produce an idea. The search
// aborts the current iteration and moves on; only a run of consecutive
// failures is fatal.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string { return fmt.Sprintf("generation failed: %v", e.Err) }
func (e *GenerationError) Unwrap() error { return e.Err }

// EvaluationError marks a transient failure to score an idea.
type EvaluationError struct {
	Err error
}

func (e *EvaluationError) Error() string { return fmt.Sprintf("evaluation failed: %v", e.Err) }
func (e *EvaluationError) Unwrap() error { return e.Err }
