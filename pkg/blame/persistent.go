package blame

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/codeGROOVE-dev/marvin/pkg/cache"
)

const keyPrefix = "blame/v2/"

// pinnedRe matches revisions that always name the same content: an object id,
// optionally followed by parent or ancestor selectors.
var pinnedRe = regexp.MustCompile(`^[0-9a-f]{7,40}(?:[\^~][0-9]*)*$`)

// Scoped is a Provider that can name the repository it blames.
type Scoped interface {
	Provider
	Scope() string
}

// Persistent wraps a Provider with a persistent cache.Store.
type Persistent struct {
	next   Provider
	store  cache.Store
	logger *slog.Logger
	onHit  func(cache.HitType)
	scope  string
}

// NewPersistent returns a Provider that consults store before next. Entries are
// keyed by scope as well as path and commit, so providers for different
// repositories can share one store.
func NewPersistent(logger *slog.Logger, scope string, next Provider, store cache.Store) *Persistent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persistent{
		next:   next,
		store:  store,
		scope:  scope,
		logger: logger.With("component", "blame", "scope", scope),
	}
}

// storeKey quotes each part so no path or revision can collide with another scope.
func (p *Persistent) storeKey(path, commit string) string {
	return fmt.Sprintf("%s%q %q %q", keyPrefix, p.scope, path, commit)
}

// OnCacheResult registers fn to be called with the outcome of every cache lookup.
func (p *Persistent) OnCacheResult(fn func(cache.HitType)) {
	p.onHit = fn
}

// Blame implements Provider.
func (p *Persistent) Blame(ctx context.Context, path, commit string) (*File, error) {
	key := p.storeKey(path, commit)

	var f File
	hit := p.store.Load(key, &f)
	if p.onHit != nil {
		p.onHit(hit)
	}
	if hit != cache.Miss {
		p.logger.Debug("Blame cache hit", "file", path, "commit", commit, "source", string(hit))
		return &f, nil
	}

	resolved, err := p.next.Blame(ctx, path, commit)
	if err != nil {
		return nil, err
	}

	ttl := cache.TTLMovingRef
	if pinnedRe.MatchString(commit) {
		ttl = cache.TTLBlame
	}
	if err := p.store.Store(key, resolved, ttl); err != nil {
		p.logger.Warn("Failed to persist blame (continuing)", "file", path, "commit", commit, "error", err)
	}
	return resolved, nil
}
