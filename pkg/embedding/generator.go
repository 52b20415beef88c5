package embedding

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Store is the persistence surface the generator needs: read back message
// text and write finished vectors.
type Store interface {
	MessageContent(ctx context.Context, messageID string) (string, error)
	SaveEmbedding(ctx context.Context, messageID string, vector []float32) error
	MessagesWithoutEmbedding(ctx context.Context, limit int) ([]string, error)
}

const (
	queueSize       = 256
	generateRetries = 2
	backfillBatch   = 100
)

// Generator embeds messages asynchronously. History capture enqueues message
// ids and continues; embedding failures never surface into the capture path.
// On start it backfills messages that were captured while embedding was
// unavailable.
type Generator struct {
	embedder Embedder
	store    Store
	logger   *slog.Logger

	queue  chan string
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewGenerator creates a generator. Start must be called before Enqueue has
// any effect.
func NewGenerator(embedder Embedder, store Store, logger *slog.Logger) *Generator {
	return &Generator{
		embedder: embedder,
		store:    store,
		logger:   logger.With("component", "embedding_generator"),
		queue:    make(chan string, queueSize),
	}
}

// Start launches the worker goroutine and schedules a backfill pass.
func (g *Generator) Start(ctx context.Context) {
	ctx, g.cancel = context.WithCancel(ctx)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.backfill(ctx)
		g.run(ctx)
	}()
}

// Stop drains the worker and waits for it to exit.
func (g *Generator) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
}

// Enqueue schedules a message for embedding. Drops the id when the queue is
// full; the backfill pass picks dropped messages up later.
func (g *Generator) Enqueue(messageID string) {
	select {
	case g.queue <- messageID:
	default:
		g.logger.Warn("embedding queue full, deferring to backfill", "message_id", messageID)
	}
}

func (g *Generator) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case messageID := <-g.queue:
			g.process(ctx, messageID)
		}
	}
}

func (g *Generator) process(ctx context.Context, messageID string) {
	content, err := g.store.MessageContent(ctx, messageID)
	if err != nil {
		g.logger.Warn("failed to load message for embedding", "message_id", messageID, "error", err)
		return
	}

	var vec []float32
	for attempt := 0; attempt <= generateRetries; attempt++ {
		vec, err = g.embedder.Embed(ctx, content)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return
		}
		time.Sleep(time.Duration(attempt+1) * time.Second)
	}
	if err != nil {
		g.logger.Warn("giving up on message embedding", "message_id", messageID, "error", err)
		return
	}

	if err := g.store.SaveEmbedding(ctx, messageID, vec); err != nil {
		g.logger.Warn("failed to persist embedding", "message_id", messageID, "error", err)
	}
}

// backfill embeds messages that have no stored vector yet, in batches, until
// none remain or the context ends.
func (g *Generator) backfill(ctx context.Context) {
	for {
		ids, err := g.store.MessagesWithoutEmbedding(ctx, backfillBatch)
		if err != nil {
			g.logger.Warn("embedding backfill scan failed", "error", err)
			return
		}
		if len(ids) == 0 {
			return
		}
		g.logger.Info("backfilling message embeddings", "count", len(ids))
		for _, id := range ids {
			if ctx.Err() != nil {
				return
			}
			g.process(ctx, id)
		}
		if len(ids) < backfillBatch {
			return
		}
	}
}
