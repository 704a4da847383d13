// Package ingest embeds per-variant documents and stores the vectors so they
// can later be loaded as an evaluation corpus.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	"github.com/doujins-org/embedeval/corpus"
	"github.com/doujins-org/embedeval/embedder"
	"github.com/doujins-org/embedeval/internal/textnormalize"
)

// Document is the text of one entity under one variant, e.g. the decompiled
// body of function "main" from the O0_split build of "ls".
type Document struct {
	Group   string `json:"group,omitempty"`
	ID      string `json:"id"`
	Variant string `json:"variant"`
	Text    string `json:"text"`
}

func (d Document) Key() corpus.Key { return corpus.Key{Group: d.Group, ID: d.ID} }

// Storage persists one embedding. pg.PostgresStorage implements it.
type Storage interface {
	UpsertVector(ctx context.Context, key corpus.Key, variant string, model string, embedding []float32) error
}

// Filter returns the keys among keys that still need an embedding for variant.
// pg.FilterMissingVectors fits this shape once bound to a pool and schema.
type Filter func(ctx context.Context, variant string, model string, keys []corpus.Key) ([]corpus.Key, error)

type Options struct {
	// BatchSize is the number of documents per embedding request.
	BatchSize int

	MaxConcurrentEmbeds  int
	MaxRequestsPerSecond float64 // 0 = unlimited

	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// Bypass entity ids are never embedded. nil means corpus.DefaultBypass.
	Bypass []string
	// SkipExisting, when set, drops documents that already have a vector.
	SkipExisting Filter
	// RawText embeds documents as given instead of normalizing them first.
	RawText bool

	Logger *slog.Logger
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.BatchSize <= 0 {
		out.BatchSize = 25
	}
	if out.MaxConcurrentEmbeds <= 0 {
		out.MaxConcurrentEmbeds = 8
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 5
	}
	if out.BackoffBase <= 0 {
		out.BackoffBase = time.Second
	}
	if out.BackoffMax <= 0 {
		out.BackoffMax = time.Minute
	}
	if out.Bypass == nil {
		out.Bypass = corpus.DefaultBypass
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// Stats counts what a Run did with its documents.
type Stats struct {
	Documents int
	Bypassed  int
	Empty     int
	Existing  int
	Embedded  int
	Requests  int
	Retries   int
}

type Ingester struct {
	emb   embedder.Embedder
	store Storage
	cfg   Options

	mu  sync.Mutex
	rng *rand.Rand
}

func New(emb embedder.Embedder, store Storage, opts Options) (*Ingester, error) {
	if emb == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if strings.TrimSpace(emb.Model()) == "" {
		return nil, fmt.Errorf("embedder model is required")
	}
	return &Ingester{
		emb:   emb,
		store: store,
		cfg:   opts.withDefaults(),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Run embeds docs in batches of BatchSize and stores every vector under the
// embedder's model. The first batch that still fails after retries cancels
// the rest and is returned.
func (in *Ingester) Run(ctx context.Context, docs []Document) (Stats, error) {
	cfg := in.cfg
	model := in.emb.Model()
	stats := Stats{Documents: len(docs)}

	todo, err := in.selectDocuments(ctx, docs, &stats)
	if err != nil {
		return stats, err
	}
	if len(todo) == 0 {
		cfg.Logger.Info("nothing to ingest", "documents", stats.Documents, "model", model)
		return stats, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	tokens := makeTokenBucket(ctx, cfg.MaxRequestsPerSecond, cfg.MaxConcurrentEmbeds)

	var embedded, requests, retries atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.MaxConcurrentEmbeds)

	for start := 0; start < len(todo); start += cfg.BatchSize {
		end := start + cfg.BatchSize
		if end > len(todo) {
			end = len(todo)
		}
		chunk := todo[start:end]
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-tokens:
			}

			texts := make([]string, len(chunk))
			for i, d := range chunk {
				texts[i] = d.Text
			}
			vecs, attempts, err := in.embedWithRetry(gctx, texts)
			requests.Add(int64(attempts))
			retries.Add(int64(attempts - 1))
			if err != nil {
				return fmt.Errorf("embed %s[%s]..: %w", chunk[0].Key(), chunk[0].Variant, err)
			}
			for i, d := range chunk {
				if err := in.store.UpsertVector(gctx, d.Key(), d.Variant, model, vecs[i]); err != nil {
					return fmt.Errorf("store %s[%s]: %w", d.Key(), d.Variant, err)
				}
				embedded.Add(1)
			}
			cfg.Logger.Debug("batch ingested", "first", chunk[0].Key().String(), "size", len(chunk))
			return nil
		})
	}
	err = g.Wait()

	stats.Embedded = int(embedded.Load())
	stats.Requests = int(requests.Load())
	stats.Retries = int(retries.Load())
	if err != nil {
		cfg.Logger.Error("ingest failed", "model", model, "embedded", stats.Embedded, "err", err)
		return stats, err
	}
	cfg.Logger.Info("ingest finished",
		"model", model, "documents", stats.Documents, "embedded", stats.Embedded,
		"bypassed", stats.Bypassed, "empty", stats.Empty, "existing", stats.Existing, "retries", stats.Retries)
	return stats, nil
}

func (in *Ingester) selectDocuments(ctx context.Context, docs []Document, stats *Stats) ([]Document, error) {
	cfg := in.cfg
	bypass := make(map[string]struct{}, len(cfg.Bypass))
	for _, b := range cfg.Bypass {
		bypass[b] = struct{}{}
	}

	var out []Document
	for _, d := range docs {
		if strings.TrimSpace(d.ID) == "" || strings.TrimSpace(d.Variant) == "" {
			return nil, fmt.Errorf("document %q/%q: id and variant are required", d.ID, d.Variant)
		}
		if _, skip := bypass[d.ID]; skip {
			stats.Bypassed++
			continue
		}
		if !cfg.RawText {
			d.Text = textnormalize.Code(d.Text)
		}
		if strings.TrimSpace(d.Text) == "" {
			stats.Empty++
			continue
		}
		out = append(out, d)
	}
	if cfg.SkipExisting == nil || len(out) == 0 {
		return out, nil
	}

	// Group by variant so each lookup is one query.
	byVariant := map[string][]corpus.Key{}
	var variants []string
	for _, d := range out {
		if _, ok := byVariant[d.Variant]; !ok {
			variants = append(variants, d.Variant)
		}
		byVariant[d.Variant] = append(byVariant[d.Variant], d.Key())
	}
	need := map[string]map[corpus.Key]struct{}{}
	for _, v := range variants {
		missing, err := cfg.SkipExisting(ctx, v, in.emb.Model(), byVariant[v])
		if err != nil {
			return nil, fmt.Errorf("filter existing %s: %w", v, err)
		}
		set := make(map[corpus.Key]struct{}, len(missing))
		for _, k := range missing {
			set[k] = struct{}{}
		}
		need[v] = set
	}

	kept := out[:0]
	for _, d := range out {
		if _, ok := need[d.Variant][d.Key()]; ok {
			kept = append(kept, d)
			continue
		}
		stats.Existing++
	}
	return kept, nil
}

func (in *Ingester) embedWithRetry(ctx context.Context, texts []string) ([][]float32, int, error) {
	cfg := in.cfg
	for attempt := 1; ; attempt++ {
		vecs, err := in.emb.EmbedTexts(ctx, texts)
		if err == nil {
			if len(vecs) != len(texts) {
				return nil, attempt, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vecs))
			}
			return vecs, attempt, nil
		}
		if ctx.Err() != nil {
			return nil, attempt, ctx.Err()
		}
		if attempt >= cfg.MaxAttempts || !isRetryable(err) {
			return nil, attempt, err
		}

		backoff := in.addJitter(expBackoff(cfg.BackoffBase, attempt, cfg.BackoffMax))
		cfg.Logger.Warn("embedding request failed, retrying",
			"attempt", attempt, "backoff", backoff, "rate_limited", isRateLimit(err), "err", err)
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, attempt, ctx.Err()
		case <-t.C:
		}
	}
}

func isRateLimit(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429
	}
	return false
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode == 408 {
			return true
		}
		return apiErr.HTTPStatusCode >= 500 && apiErr.HTTPStatusCode <= 599
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode == 408 {
			return true
		}
		return reqErr.HTTPStatusCode >= 500 && reqErr.HTTPStatusCode <= 599
	}
	return true
}

func expBackoff(base time.Duration, attempt int, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := math.Pow(2, float64(attempt-1))
	d := time.Duration(float64(base) * mult)
	if d > max {
		return max
	}
	return d
}

func (in *Ingester) addJitter(d time.Duration) time.Duration {
	if d < 4 {
		return d
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	// Up to 25% jitter.
	return d + time.Duration(in.rng.Int63n(int64(d/4)))
}

// makeTokenBucket refills at rps until ctx ends. With rps <= 0 the returned
// channel is closed, so receives never block.
func makeTokenBucket(ctx context.Context, rps float64, burst int) <-chan struct{} {
	if rps <= 0 {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	ch := make(chan struct{}, burst)
	for i := 0; i < burst; i++ {
		ch <- struct{}{}
	}
	interval := time.Duration(float64(time.Second) / rps)
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	t := time.NewTicker(interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()
	return ch
}
