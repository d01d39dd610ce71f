package question

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"

	"github.com/gokatarajesh/quizforge/internal/cache"
	"github.com/gokatarajesh/quizforge/internal/metrics"
	"github.com/gokatarajesh/quizforge/internal/quiz"
)

// DedupOptions tunes DedupGenerator.
type DedupOptions struct {
	Cache          cache.Cache
	CacheTTL       time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	AttemptTimeout time.Duration
	Metrics        *metrics.Metrics
}

// DedupGenerator wraps an upstream Generator. Identical requests in flight
// share one call, successful results are cached for CacheTTL, and failures
// are retried with exponential backoff before surfacing as
// quiz.ErrUpstreamGeneration.
type DedupGenerator struct {
	next     Generator
	cache    cache.Cache
	ttl      time.Duration
	group    singleflight.Group
	attempts int
	base     time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

var _ Generator = (*DedupGenerator)(nil)

func NewDedupGenerator(next Generator, opts DedupOptions, logger zerolog.Logger) *DedupGenerator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 200 * time.Millisecond
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 6 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 2 * time.Minute
	}
	return &DedupGenerator{
		next:     next,
		cache:    opts.Cache,
		ttl:      opts.CacheTTL,
		attempts: opts.MaxAttempts,
		base:     opts.BackoffBase,
		timeout:  opts.AttemptTimeout,
		metrics:  opts.Metrics,
		logger:   logger.With().Str("component", "question_generator").Logger(),
	}
}

// RequestKey identifies a request by content, difficulty and constraints.
// Type and avoid order do not matter.
func RequestKey(req GenerateRequest) string {
	types := make([]string, 0, len(req.AllowedTypes))
	for _, t := range req.AllowedTypes {
		types = append(types, string(t))
	}
	sort.Strings(types)
	avoid := append([]string(nil), req.Avoid...)
	sort.Strings(avoid)

	payload, _ := json.Marshal(struct {
		Content    string   `json:"c"`
		Difficulty string   `json:"d"`
		Types      []string `json:"t"`
		Avoid      []string `json:"a"`
	}{req.Content, string(req.Difficulty), types, avoid})
	sum := sha256.Sum256(payload)
	return "gen:" + hex.EncodeToString(sum[:])
}

func (d *DedupGenerator) Generate(ctx context.Context, req GenerateRequest) (Generated, error) {
	key := RequestKey(req)

	if g, ok := d.cached(ctx, key); ok {
		d.metrics.GeneratorCall(metrics.OutcomeCached, 0)
		return g, nil
	}

	// The shared call outlives any single caller so a disconnecting client
	// does not fail the others waiting on it.
	ch := d.group.DoChan(key, func() (any, error) {
		g, err := d.generateWithRetry(context.WithoutCancel(ctx), req)
		if err != nil {
			return nil, err
		}
		d.store(context.WithoutCancel(ctx), key, g)
		return g, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Generated{}, res.Err
		}
		if res.Shared {
			d.metrics.GeneratorCall(metrics.OutcomeShared, 0)
		}
		return cloneGenerated(res.Val.(Generated)), nil
	case <-ctx.Done():
		return Generated{}, fmt.Errorf("%w: %v", quiz.ErrUpstreamGeneration, ctx.Err())
	}
}

func (d *DedupGenerator) generateWithRetry(ctx context.Context, req GenerateRequest) (Generated, error) {
	backoff := retry.WithMaxRetries(uint64(d.attempts-1), retry.NewExponential(d.base))

	var (
		out     Generated
		attempt int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		start := time.Now()
		g, err := d.next.Generate(attemptCtx, req)
		if err == nil {
			g, err = Normalize(g, req.AllowedTypes)
		}
		elapsed := time.Since(start).Seconds()
		if err != nil {
			d.metrics.GeneratorCall(metrics.OutcomeError, elapsed)
			d.logger.Warn().Err(err).
				Int("attempt", attempt).
				Int("max_attempts", d.attempts).
				Str("difficulty", string(req.Difficulty)).
				Msg("generator attempt failed")
			return retry.RetryableError(err)
		}
		d.metrics.GeneratorCall(metrics.OutcomeOK, elapsed)
		out = g
		return nil
	})
	if err != nil {
		return Generated{}, fmt.Errorf("%w: after %d attempts: %v", quiz.ErrUpstreamGeneration, attempt, err)
	}
	return out, nil
}

func (d *DedupGenerator) cached(ctx context.Context, key string) (Generated, bool) {
	if d.cache == nil {
		return Generated{}, false
	}
	data, ok, err := d.cache.Get(ctx, key)
	if err != nil {
		d.logger.Warn().Err(err).Msg("generator cache read failed")
		return Generated{}, false
	}
	if !ok {
		return Generated{}, false
	}
	var g Generated
	if err := json.Unmarshal(data, &g); err != nil {
		return Generated{}, false
	}
	return g, true
}

func (d *DedupGenerator) store(ctx context.Context, key string, g Generated) {
	if d.cache == nil {
		return
	}
	data, err := json.Marshal(g)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, key, data, d.ttl); err != nil {
		d.logger.Warn().Err(err).Msg("generator cache write failed")
	}
}

func cloneGenerated(g Generated) Generated {
	g.Choices = append([]quiz.Choice(nil), g.Choices...)
	g.CorrectAnswer = append([]string(nil), g.CorrectAnswer...)
	return g
}
