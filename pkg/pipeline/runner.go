package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/queryhive/queryhive/pkg/models"
)

// Node is one pipeline stage. Nodes mutate the state and report how the run
// should proceed.
type Node interface {
	Name() string
	Run(ctx context.Context, state *State) Outcome
}

// RunError is the classified failure of a pipeline run.
type RunError struct {
	Kind models.ErrorKind
	Node string
	Err  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("pipeline node %s: %s: %v", e.Node, e.Kind, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Runner executes nodes in order. A node that fails terminates the run; a
// cancelled or expired context terminates it with a timeout classification.
type Runner struct {
	nodes  []Node
	logger *slog.Logger
}

// NewRunner creates a runner over an ordered node list.
func NewRunner(nodes []Node, logger *slog.Logger) *Runner {
	return &Runner{nodes: nodes, logger: logger.With("component", "pipeline")}
}

// Run drives the state through every node. On a cache hit the answer nodes
// observe state.FromCache and skip themselves, so the node order is the same
// on both paths.
func (r *Runner) Run(ctx context.Context, state *State) error {
	for _, node := range r.nodes {
		if err := ctx.Err(); err != nil {
			return &RunError{Kind: models.ErrKindTimeout, Node: node.Name(), Err: err}
		}

		start := time.Now()
		outcome := node.Run(ctx, state)
		elapsed := time.Since(start)

		switch outcome.kind {
		case outcomeContinue:
			r.logger.Debug("node finished", "run_id", state.RunID, "node", node.Name(), "elapsed", elapsed)
		case outcomeSkip:
			r.logger.Debug("node skipped", "run_id", state.RunID, "node", node.Name())
		case outcomeFail:
			kind, err := outcome.Error()
			if ctx.Err() != nil {
				kind = models.ErrKindTimeout
			}
			r.logger.Warn("node failed", "run_id", state.RunID, "node", node.Name(), "error_kind", kind, "error", err)
			return &RunError{Kind: kind, Node: node.Name(), Err: err}
		}
	}
	return nil
}
