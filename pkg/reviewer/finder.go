package reviewer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/marvin/pkg/blame"
	"github.com/codeGROOVE-dev/marvin/pkg/types"
)

// Finder runs the full recommendation pipeline over a parsed diff.
type Finder struct {
	resolver *blame.Resolver
	expander *Expander
	logger   *slog.Logger
	exclude  map[string]bool
	skipBots bool
}

// Config holds configuration for the reviewer finder.
type Config struct {
	Exclude  []string // user names never recommended
	Workers  int      // concurrent blame lookups
	SkipBots bool     // drop automation accounts from the candidates
}

// New creates a Finder resolving blame through provider.
func New(logger *slog.Logger, provider blame.Provider, cfg Config) *Finder {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Finder{
		resolver: blame.NewResolver(logger, provider, cfg.Workers),
		expander: NewExpander(logger),
		logger:   logger.With("component", "reviewer"),
		exclude:  make(map[string]bool),
		skipBots: cfg.SkipBots,
	}
	for _, name := range cfg.Exclude {
		f.exclude[strings.ToLower(name)] = true
	}
	return f
}

// Resolver exposes the blame resolver so callers can observe lookups.
func (f *Finder) Resolver() *blame.Resolver {
	return f.resolver
}

// Recommendation is the outcome of one Find call. Ranking holds every author in
// ascending order; Candidates is Ranking without the excluded users.
type Recommendation struct {
	Result     *types.ParseResult `json:"result" yaml:"result"`
	Ranking    []Score            `json:"ranking" yaml:"ranking"`
	Candidates []Score            `json:"candidates" yaml:"candidates"`
	Excluded   []string           `json:"excluded,omitempty" yaml:"excluded,omitempty"`
	Blame      *blame.Cache       `json:"-" yaml:"-"`
}

// Top returns the strongest candidate.
func (r *Recommendation) Top() (Score, bool) {
	if len(r.Candidates) == 0 {
		return Score{}, false
	}
	return r.Candidates[len(r.Candidates)-1], true
}

// Find resolves blame for every change in result, attributes authors,
// discovers interesting context lines and ranks the authors.
// Users named in exclude (typically the change author) are left out of the candidates.
func (f *Finder) Find(ctx context.Context, result *types.ParseResult, exclude ...string) (*Recommendation, error) {
	if result == nil {
		return nil, fmt.Errorf("parse result cannot be nil")
	}

	start := time.Now()
	keys := blame.KeysFor(result)
	f.logger.Info("Finding reviewers", "files", len(result.Files), "changes", result.Len(), "lookups", len(keys))

	run := blame.NewCache()
	if err := f.resolver.Resolve(ctx, keys, run); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBlameUnavailable, err)
	}

	if err := Attribute(result, run); err != nil {
		return nil, err
	}
	if err := f.expander.Expand(result, run); err != nil {
		return nil, err
	}

	ranking, err := Rank(result)
	if err != nil {
		return nil, err
	}

	rec := &Recommendation{
		Result:  result,
		Ranking: ranking,
		Blame:   run,
	}
	rec.Candidates, rec.Excluded = f.filter(ranking, exclude)

	if top, ok := rec.Top(); ok {
		f.logger.Info("Reviewer found", "user", top.UserName, "score", top.Score,
			"candidates", len(rec.Candidates), "duration", time.Since(start))
	} else {
		f.logger.Info("No suitable reviewers found", "authors", len(ranking), "excluded", len(rec.Excluded))
	}
	return rec, nil
}

// filter drops excluded users and, when configured, bots. Order is preserved.
func (f *Finder) filter(ranking []Score, extra []string) (kept []Score, dropped []string) {
	skip := make(map[string]bool, len(extra))
	for _, name := range extra {
		skip[strings.ToLower(name)] = true
	}

	kept = make([]Score, 0, len(ranking))
	for _, s := range ranking {
		lower := strings.ToLower(s.UserName)
		switch {
		case s.UserName == "":
			f.logger.Info("Filtered (no user name)", "score", s.Score)
		case f.exclude[lower] || skip[lower]:
			f.logger.Info("Filtered (excluded)", "username", s.UserName)
		case f.skipBots && IsBot(s.UserName):
			f.logger.Info("Filtered (is bot)", "username", s.UserName)
		default:
			kept = append(kept, s)
			continue
		}
		dropped = append(dropped, s.UserName)
	}
	return kept, dropped
}
