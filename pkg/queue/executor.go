package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/queryhive/queryhive/pkg/engine"
	"github.com/queryhive/queryhive/pkg/models"
	"github.com/queryhive/queryhive/pkg/pipeline"
	"github.com/queryhive/queryhive/pkg/registry"
)

// BundleLoader resolves a run's agent and its connection.
type BundleLoader interface {
	LoadAgentBundle(ctx context.Context, agentID string) (models.Agent, models.Connection, error)
}

// PipelineExecutor is the production RunExecutor: it resolves the agent
// bundle, opens the target database, and drives the run pipeline.
type PipelineExecutor struct {
	loader   BundleLoader
	engines  *engine.Manager
	registry *registry.Registry
	runner   *pipeline.Runner
	logger   *slog.Logger

	// connection id@version → registry ref, so repeat runs against the same
	// connection reuse one handle reference.
	mu   sync.Mutex
	refs map[string]string
}

// NewPipelineExecutor wires the executor.
func NewPipelineExecutor(loader BundleLoader, engines *engine.Manager, reg *registry.Registry, runner *pipeline.Runner, logger *slog.Logger) *PipelineExecutor {
	return &PipelineExecutor{
		loader:   loader,
		engines:  engines,
		registry: reg,
		runner:   runner,
		logger:   logger.With("component", "executor"),
		refs:     make(map[string]string),
	}
}

// Execute processes one claimed run end to end and returns its terminal
// state. Returns nil only when shutdown interrupted the run before it could
// terminate; the worker then leaves the row for redelivery.
func (e *PipelineExecutor) Execute(ctx context.Context, run *models.Run) *ExecutionResult {
	agent, conn, err := e.loadBundle(ctx, run.AgentID)
	if err != nil {
		return failure(models.ErrKindInternal, fmt.Errorf("loading agent %s: %w", run.AgentID, err))
	}

	handle, err := e.engines.Open(ctx, conn.Kind, conn.Payload)
	if err != nil {
		return failure(models.ErrKindConnect, err)
	}
	ref := e.engineRef(conn, handle)

	state := &pipeline.State{
		RunID:          run.ID,
		OwnerUserID:    run.OwnerUserID,
		ChatSessionID:  run.ChatSessionID,
		Agent:          agent,
		ConnectionKind: conn.Kind,
		SchemaVersion:  fmt.Sprintf("%s@%d", conn.ID, conn.Version),
		EngineRef:      ref,
		Question:       run.Question,
	}

	if err := e.runner.Run(ctx, state); err != nil {
		var runErr *pipeline.RunError
		if errors.As(err, &runErr) {
			if runErr.Kind == models.ErrKindTimeout && errors.Is(ctx.Err(), context.Canceled) {
				// Shutdown, not the per-run deadline: no terminal write, the
				// run is redelivered to another worker.
				return nil
			}
			return failure(runErr.Kind, runErr)
		}
		return failure(models.ErrKindInternal, err)
	}

	return &ExecutionResult{
		Status: models.RunStatusSuccess,
		Result: state.Result(),
	}
}

// agentBundle is the cached resolution of an agent and its connection,
// parked in the registry between runs of the same agent.
type agentBundle struct {
	agent models.Agent
	conn  models.Connection
}

// loadBundle returns the agent bundle for a run, from the registry when a
// prior run already resolved it. Agent and connection mutations drop the
// registry entry, so a hit is always current.
func (e *PipelineExecutor) loadBundle(ctx context.Context, agentID string) (models.Agent, models.Connection, error) {
	if obj, err := e.registry.Get(registry.CategoryAgentBundle, agentID); err == nil {
		if b, ok := obj.(agentBundle); ok {
			return b.agent, b.conn, nil
		}
	}

	agent, conn, err := e.loader.LoadAgentBundle(ctx, agentID)
	if err != nil {
		return models.Agent{}, models.Connection{}, err
	}
	e.registry.PutKeyed(registry.CategoryAgentBundle, agentID, agentBundle{agent: agent, conn: conn})
	return agent, conn, nil
}

func failure(kind models.ErrorKind, err error) *ExecutionResult {
	return &ExecutionResult{
		Status:       models.RunStatusFailure,
		ErrorKind:    kind,
		ErrorMessage: err.Error(),
	}
}

// engineRef returns the registry reference for a connection's handle,
// registering it on first use. A version bump registers a fresh reference
// and drops the stale one.
func (e *PipelineExecutor) engineRef(conn models.Connection, handle *engine.Handle) string {
	key := fmt.Sprintf("%s@%d", conn.ID, conn.Version)

	e.mu.Lock()
	defer e.mu.Unlock()
	if ref, ok := e.refs[key]; ok {
		return ref
	}
	// Drop refs for older versions of the same connection.
	for k, ref := range e.refs {
		if k != key && len(k) > len(conn.ID) && k[:len(conn.ID)] == conn.ID {
			e.registry.Drop(registry.CategoryEngine, ref)
			delete(e.refs, k)
		}
	}
	ref := e.registry.Put(registry.CategoryEngine, handle)
	e.refs[key] = ref
	return ref
}
