// Package coordinator drives chunk extraction against the chunk ledger.
// It owns the chunk state machine: PENDING chunks are handed to a bounded
// worker pool, graph writes are committed durably before a chunk is marked
// PROCESSED, and FAILED chunks are retried in later passes until the retry
// budget runs out. Because every write below it is an idempotent upsert,
// the coordinator can be killed at any point and rerun without duplicating
// graph state.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/okkerlund/strata/extract"
	"github.com/okkerlund/strata/store"
)

// Config controls the worker pool and retry behaviour.
type Config struct {
	// Workers is the number of concurrent extraction workers.
	Workers int
	// MaxRetries is the per-chunk attempt budget. A chunk whose
	// retry_count reaches this stays FAILED permanently.
	MaxRetries int
	// RateLimit caps extraction calls per second across all workers.
	// Zero means unlimited.
	RateLimit float64
	// ChunkTimeout bounds a single chunk's extraction call.
	ChunkTimeout time.Duration
	// RetryBackoff is the base delay between retry passes; it doubles
	// each pass.
	RetryBackoff time.Duration
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		MaxRetries:   3,
		RateLimit:    2,
		ChunkTimeout: 90 * time.Second,
		RetryBackoff: 2 * time.Second,
	}
}

// Summary reports what one coordinator run did.
type Summary struct {
	Processed int
	Failed    int
	// Exhausted lists chunk ids whose retry budget ran out. The run is
	// still considered complete; exhausted chunks are an operator signal,
	// not a fatal error.
	Exhausted []string
	// SalientEntityIDs are the CORE/IMPORTANT entity ids reported by this
	// run's commits, deduplicated and sorted. Cost-incurring stages after
	// extraction take this set as-is; salience is decided once, at commit.
	SalientEntityIDs []int64
}

// Coordinator processes a document's PENDING chunks to completion.
type Coordinator struct {
	store     *store.Store
	extractor extract.Extractor
	cfg       Config
	limiter   *rate.Limiter
}

// New builds a Coordinator. Zero-value config fields get defaults.
func New(st *store.Store, ex extract.Extractor, cfg Config) *Coordinator {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = def.ChunkTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	return &Coordinator{
		store:     st,
		extractor: ex,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, cfg.Workers),
	}
}

// Run processes every PENDING chunk of the document, then retries FAILED
// chunks in backoff-separated passes while any retry budget remains.
// Chunks already PROCESSED are never touched, which is what makes a rerun
// after a crash a cheap resume instead of a reindex.
func (c *Coordinator) Run(ctx context.Context, docID string) (*Summary, error) {
	summary := &Summary{}
	salient := make(map[int64]struct{})

	for pass := 0; pass <= c.cfg.MaxRetries; pass++ {
		if pass > 0 {
			requeued, err := c.requeueFailed(ctx, docID)
			if err != nil {
				return summary, err
			}
			if requeued == 0 {
				break
			}
			backoff := c.cfg.RetryBackoff * time.Duration(1<<(pass-1))
			slog.Info("coordinator: retry pass",
				"doc_id", docID, "pass", pass, "requeued", requeued, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return summary, ctx.Err()
			}
		}

		pending, err := c.pendingChunks(ctx, docID)
		if err != nil {
			return summary, err
		}
		if len(pending) == 0 {
			break
		}

		processed, failed, salientIDs, err := c.processPass(ctx, pending)
		summary.Processed += processed
		summary.Failed += failed
		for _, id := range salientIDs {
			salient[id] = struct{}{}
		}
		if err != nil {
			return summary, err
		}
	}

	summary.SalientEntityIDs = make([]int64, 0, len(salient))
	for id := range salient {
		summary.SalientEntityIDs = append(summary.SalientEntityIDs, id)
	}
	sort.Slice(summary.SalientEntityIDs, func(i, j int) bool {
		return summary.SalientEntityIDs[i] < summary.SalientEntityIDs[j]
	})

	exhausted, err := c.store.ExhaustedChunks(ctx, docID, c.cfg.MaxRetries)
	if err != nil {
		return summary, fmt.Errorf("listing exhausted chunks: %w", err)
	}
	summary.Exhausted = exhausted
	// Failures that were later retried successfully should not inflate
	// the final count; what matters is what stayed failed.
	summary.Failed = len(exhausted)

	if len(exhausted) > 0 {
		slog.Warn("coordinator: run finished with exhausted chunks",
			"doc_id", docID, "exhausted", len(exhausted))
	}
	return summary, nil
}

// chunkOutcome is one worker's result: whether the chunk committed, and
// the salient entity ids its commit reported.
type chunkOutcome struct {
	ok      bool
	salient []int64
}

// processPass runs one worker-pool pass over the given chunks. Individual
// chunk failures are recorded in the ledger and do not abort the pass;
// only context cancellation does.
func (c *Coordinator) processPass(ctx context.Context, chunks []store.Chunk) (processed, failed int, salient []int64, err error) {
	results := make(chan chunkOutcome, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)

	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			if err := c.limiter.Wait(gctx); err != nil {
				return err
			}
			ids, err := c.processChunk(gctx, chunk)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Warn("coordinator: chunk failed",
					"chunk_id", chunk.ChunkID, "retry_count", chunk.RetryCount, "error", err)
				if merr := c.store.MarkChunkFailed(gctx, chunk.DocID, chunk.ChunkID, err.Error()); merr != nil {
					return fmt.Errorf("recording chunk failure: %w", merr)
				}
				results <- chunkOutcome{}
				return nil
			}
			results <- chunkOutcome{ok: true, salient: ids}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return processed, failed, salient, err
	}
	close(results)
	for out := range results {
		if out.ok {
			processed++
			salient = append(salient, out.salient...)
		} else {
			failed++
		}
	}
	return processed, failed, salient, nil
}

// processChunk extracts one chunk, commits its output, and returns the
// salient entity ids the commit reported. The order is load-bearing:
// graph writes commit before the PROCESSED mark, so a crash between the
// two leaves a PENDING chunk whose rerun merely replays idempotent
// upserts.
func (c *Coordinator) processChunk(ctx context.Context, chunk store.Chunk) ([]int64, error) {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.ChunkTimeout)
	defer cancel()

	res, err := c.extractor.Extract(cctx, chunk.Text, chunk.Subject)
	if err != nil {
		return nil, fmt.Errorf("extracting: %w", err)
	}

	entities := make([]store.EntityInput, len(res.Entities))
	for i, e := range res.Entities {
		entities[i] = store.EntityInput{
			Name:        e.Name,
			EntityType:  e.Type,
			Description: e.Description,
			Salience:    e.Salience,
		}
	}
	rels := make([]store.RelationshipInput, len(res.Relationships))
	for i, r := range res.Relationships {
		rels[i] = store.RelationshipInput{
			Source:      r.Source,
			Target:      r.Target,
			RelType:     r.Type,
			Description: r.Description,
		}
	}

	commit, err := c.store.CommitExtraction(ctx, chunk.DocID, chunk.SectionID, entities, rels)
	if err != nil {
		return nil, fmt.Errorf("committing extraction: %w", err)
	}
	if err := c.store.MarkChunkProcessed(ctx, chunk.DocID, chunk.ChunkID); err != nil {
		return nil, fmt.Errorf("marking chunk processed: %w", err)
	}
	return commit.SalientEntityIDs, nil
}

// pendingChunks loads the document's chunks still awaiting processing.
func (c *Coordinator) pendingChunks(ctx context.Context, docID string) ([]store.Chunk, error) {
	all, err := c.store.ChunksByDoc(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("loading chunks: %w", err)
	}
	var pending []store.Chunk
	for _, chunk := range all {
		if chunk.Status == store.StatusPending {
			pending = append(pending, chunk)
		}
	}
	return pending, nil
}

// requeueFailed flips FAILED chunks with remaining retry budget back to
// PENDING and reports how many were requeued.
func (c *Coordinator) requeueFailed(ctx context.Context, docID string) (int, error) {
	all, err := c.store.ChunksByDoc(ctx, docID)
	if err != nil {
		return 0, fmt.Errorf("loading chunks: %w", err)
	}
	requeued := 0
	for _, chunk := range all {
		if chunk.Status != store.StatusFailed || chunk.RetryCount >= c.cfg.MaxRetries {
			continue
		}
		if err := c.store.MarkChunkPending(ctx, docID, chunk.ChunkID); err != nil {
			return requeued, fmt.Errorf("requeueing chunk %s: %w", chunk.ChunkID, err)
		}
		requeued++
	}
	return requeued, nil
}
