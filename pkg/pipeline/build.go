package pipeline

import (
	"log/slog"

	"github.com/queryhive/queryhive/pkg/cache"
	"github.com/queryhive/queryhive/pkg/llm"
	"github.com/queryhive/queryhive/pkg/registry"
)

// Deps carries everything the standard pipeline needs. History and Cache may
// be nil; the corresponding nodes skip themselves.
type Deps struct {
	Registry *registry.Registry
	LLM      llm.Client
	History  HistoryService
	Cache    *cache.Manager
	Logger   *slog.Logger
}

// Build assembles the standard run pipeline in its canonical node order.
func Build(d Deps) *Runner {
	nodes := []Node{
		ValidateInput{},
		CheckCache{Cache: d.Cache},
		HistoryRetrieve{History: d.History},
		PrepareContext{Registry: d.Registry},
		ProcessInitialContext{LLM: d.LLM, Logger: d.Logger},
		ProcessQuery{Registry: d.Registry, LLM: d.LLM, Logger: d.Logger},
		RefineResponse{LLM: d.LLM, Logger: d.Logger},
		FormatResponse{},
		HistoryCapture{History: d.History, Logger: d.Logger},
		CacheStore{Cache: d.Cache},
	}
	return NewRunner(nodes, d.Logger)
}
