package history

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/queryhive/queryhive/pkg/config"
	"github.com/queryhive/queryhive/pkg/embedding"
	"github.com/queryhive/queryhive/pkg/models"
)

// Last-interaction messages outrank every retrieval hit so the immediately
// preceding exchange is always present in context.
const (
	lastInteractionUserScore      = 1.1
	lastInteractionAssistantScore = 1.05

	// lexicalThreshold is the minimum token-overlap ratio for a lexical
	// fallback hit.
	lexicalThreshold = 0.2
)

type storage interface {
	Capture(ctx context.Context, sessionID string, runID *string, question, answer, sqlQuery string) (string, string, error)
	RecentMessages(ctx context.Context, sessionID string, n int) ([]models.Message, error)
	LastInteraction(ctx context.Context, sessionID string) ([]models.Message, error)
	SemanticSearch(ctx context.Context, userID, agentID string, vector []float32, limit int, threshold float64) ([]models.ScoredMessage, error)
	LexicalCandidates(ctx context.Context, userID, agentID string, limit int) ([]models.Message, error)
}

type enqueuer interface {
	Enqueue(messageID string)
}

// Service is the chat-memory facade used by the pipeline. Retrieval methods
// are total: on any failure they log and return what they have, so memory
// problems degrade answers instead of failing runs.
type Service struct {
	store    storage
	embedder embedding.Embedder
	queue    enqueuer
	cfg      config.HistoryConfig
	logger   *slog.Logger
}

// NewService wires the history service. embedder and queue may be nil when
// embeddings are disabled; retrieval then uses the lexical path only.
func NewService(store *Store, embedder embedding.Embedder, queue enqueuer, cfg config.HistoryConfig, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		embedder: embedder,
		queue:    queue,
		cfg:      cfg,
		logger:   logger.With("component", "history"),
	}
}

// Capture persists a finished interaction pair and schedules both messages
// for embedding.
func (s *Service) Capture(ctx context.Context, sessionID string, runID *string, question, answer, sqlQuery string) error {
	userID, assistantID, err := s.store.Capture(ctx, sessionID, runID, question, answer, sqlQuery)
	if err != nil {
		return err
	}
	if s.queue != nil {
		s.queue.Enqueue(userID)
		s.queue.Enqueue(assistantID)
	}
	return nil
}

// Recent returns the session's trailing messages in chronological order.
// Total: returns nil on failure.
func (s *Service) Recent(ctx context.Context, sessionID string) []models.Message {
	if sessionID == "" {
		return nil
	}
	msgs, err := s.store.RecentMessages(ctx, sessionID, s.cfg.RecentN)
	if err != nil {
		s.logger.Warn("recent messages lookup failed", "session_id", sessionID, "error", err)
		return nil
	}
	return msgs
}

// Relevant retrieves past messages related to the question across all of the
// user's sessions with the agent. Semantic search runs first; when it cannot
// run or finds nothing, lexical token overlap over recent candidates takes
// over. The last interaction of the current session is always included, above
// every retrieval hit. Total: failures degrade to fewer results.
func (s *Service) Relevant(ctx context.Context, userID, agentID, sessionID, question string) []models.ScoredMessage {
	var results []models.ScoredMessage

	if sessionID != "" {
		pair, err := s.store.LastInteraction(ctx, sessionID)
		if err != nil {
			s.logger.Warn("last interaction lookup failed", "session_id", sessionID, "error", err)
		} else if len(pair) == 2 {
			results = append(results,
				models.ScoredMessage{Message: pair[0], Score: lastInteractionUserScore, Source: models.SourceLastInteraction},
				models.ScoredMessage{Message: pair[1], Score: lastInteractionAssistantScore, Source: models.SourceLastInteraction},
			)
		}
	}

	hits := s.semantic(ctx, userID, agentID, question)
	if len(hits) == 0 {
		hits = s.lexical(ctx, userID, agentID, question)
	}
	results = append(results, hits...)

	results = dedupe(results)
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > s.cfg.MaxMessages {
		results = results[:s.cfg.MaxMessages]
	}
	return results
}

func (s *Service) semantic(ctx context.Context, userID, agentID, question string) []models.ScoredMessage {
	if s.embedder == nil {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, question)
	if err != nil {
		s.logger.Warn("question embedding failed, falling back to lexical", "error", err)
		return nil
	}
	hits, err := s.store.SemanticSearch(ctx, userID, agentID, vec, s.cfg.SimilarTopK, s.cfg.SimilarityThreshold)
	if err != nil {
		s.logger.Warn("semantic search failed, falling back to lexical", "error", err)
		return nil
	}
	return hits
}

func (s *Service) lexical(ctx context.Context, userID, agentID, question string) []models.ScoredMessage {
	candidates, err := s.store.LexicalCandidates(ctx, userID, agentID, s.cfg.LexicalScanLimit)
	if err != nil {
		s.logger.Warn("lexical candidate scan failed", "error", err)
		return nil
	}
	queryTokens := tokenize(question)
	if len(queryTokens) == 0 {
		return nil
	}

	var hits []models.ScoredMessage
	for _, m := range candidates {
		score := overlapScore(queryTokens, tokenize(m.Content))
		if score >= lexicalThreshold {
			hits = append(hits, models.ScoredMessage{Message: m, Score: score, Source: models.SourceLexical})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > s.cfg.SimilarTopK {
		hits = hits[:s.cfg.SimilarTopK]
	}
	return hits
}

// dedupe keeps the highest-scored occurrence of each (role, content prefix)
// pair, preserving order otherwise.
func dedupe(msgs []models.ScoredMessage) []models.ScoredMessage {
	sorted := make([]models.ScoredMessage, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	seen := make(map[string]bool, len(sorted))
	out := sorted[:0]
	for _, m := range sorted {
		key := dedupeKey(m.Role, m.Content)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out
}

func dedupeKey(role models.MessageRole, content string) string {
	prefix := content
	if len(prefix) > 100 {
		prefix = prefix[:100]
	}
	return string(role) + "|" + prefix
}

func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len(w) > 2 {
			tokens[w] = true
		}
	}
	return tokens
}

// overlapScore is the fraction of query tokens present in the candidate.
func overlapScore(query, candidate map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	matched := 0
	for t := range query {
		if candidate[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(query))
}
