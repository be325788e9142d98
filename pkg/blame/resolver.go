package blame

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

// DefaultWorkers bounds concurrent lookups when no worker count is configured.
const DefaultWorkers = 8

// LookupFunc observes one finished provider lookup. It may be called concurrently.
type LookupFunc func(k Key, elapsed time.Duration, err error)

// Resolver fills a Cache with every requested key using a bounded worker pool.
type Resolver struct {
	provider Provider
	logger   *slog.Logger
	onLookup LookupFunc
	workers  int
}

// NewResolver creates a Resolver. workers <= 0 uses DefaultWorkers.
func NewResolver(logger *slog.Logger, provider Provider, workers int) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Resolver{
		provider: provider,
		logger:   logger.With("component", "blame"),
		workers:  workers,
	}
}

// OnLookup registers fn to be called after every provider lookup.
func (r *Resolver) OnLookup(fn LookupFunc) {
	r.onLookup = fn
}

// Resolve looks up every key missing from c. The first failing lookup cancels
// the remaining ones and is returned.
func (r *Resolver) Resolve(ctx context.Context, keys []Key, c *Cache) error {
	var todo []Key
	for _, k := range keys {
		if _, ok := c.Get(k.Path, k.Commit); !ok {
			todo = append(todo, k)
		}
	}
	if len(todo) == 0 {
		return nil
	}

	pool, err := ants.NewPool(min(r.workers, len(todo)))
	if err != nil {
		return fmt.Errorf("creating blame worker pool: %w", err)
	}
	defer pool.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	r.logger.Info("Resolving blame", "lookups", len(todo), "workers", pool.Cap())
	start := time.Now()

	for _, k := range todo {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			if err := r.lookup(ctx, k, c); err != nil {
				fail(err)
			}
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			fail(fmt.Errorf("submitting blame lookup for %s: %w", k, err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("resolving blame: %w", err)
	}

	r.logger.Info("Blame resolved", "lookups", len(todo), "duration", time.Since(start))
	return nil
}

func (r *Resolver) lookup(ctx context.Context, k Key, c *Cache) error {
	start := time.Now()
	f, err := r.provider.Blame(ctx, k.Path, k.Commit)
	if r.onLookup != nil {
		r.onLookup(k, time.Since(start), err)
	}
	if err != nil {
		r.logger.Error("Blame lookup failed", "file", k.Path, "commit", k.Commit, "error", err)
		return fmt.Errorf("blame %s: %w", k, err)
	}
	if f == nil {
		return fmt.Errorf("blame %s: %w", k, ErrNotAvailable)
	}

	c.Put(k.Path, k.Commit, f)
	r.logger.Debug("Blame lookup", "file", k.Path, "commit", k.Commit, "lines", f.LineCount)
	return nil
}
