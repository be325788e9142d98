// Package metrics tracks service counters and serves /metrics and /healthz.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codeGROOVE-dev/marvin/pkg/blame"
	"github.com/codeGROOVE-dev/marvin/pkg/cache"
)

// Analysis outcomes.
const (
	OutcomeRecommended = "recommended"
	OutcomeNoCandidate = "no_candidate"
	OutcomeError       = "error"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 10 * time.Second
	serverIdleTimeout  = 60 * time.Second
	shutdownTimeout    = 5 * time.Second

	// DefaultStaleAfter is how long /healthz tolerates an event stream being down.
	DefaultStaleAfter = 15 * time.Minute
)

// Collector tracks metrics for the health and metrics endpoints.
type Collector struct {
	lastRun           time.Time
	registry          *prometheus.Registry
	analyses          *prometheus.CounterVec
	lookups           *prometheus.CounterVec
	cacheResults      *prometheus.CounterVec
	lookupDuration    prometheus.Histogram
	uniqueOrgs        map[string]bool
	uniquePRsSeen     map[string]bool
	uniquePRsAssigned map[string]bool
	streams           map[string]streamState // by org
	staleAfter        time.Duration
	totalRuns         int64
	mu                sync.RWMutex
}

// streamState is the connection state of one org's event stream and when it
// last changed.
type streamState struct {
	since     time.Time
	connected bool
}

// NewCollector creates a collector with its own Prometheus registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marvin",
			Name:      "analyses_total",
			Help:      "Reviewer analyses by outcome.",
		}, []string{"outcome"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marvin",
			Name:      "blame_lookups_total",
			Help:      "Blame provider lookups by result.",
		}, []string{"result"}),
		cacheResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marvin",
			Name:      "blame_cache_results_total",
			Help:      "Persistent blame cache lookups by hit type.",
		}, []string{"hit"}),
		lookupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "marvin",
			Name:      "blame_lookup_seconds",
			Help:      "Duration of blame provider lookups.",
			Buckets:   prometheus.DefBuckets,
		}),
		uniqueOrgs:        make(map[string]bool),
		uniquePRsSeen:     make(map[string]bool),
		uniquePRsAssigned: make(map[string]bool),
		streams:           make(map[string]streamState),
		staleAfter:        DefaultStaleAfter,
	}
	c.registry.MustRegister(c.analyses, c.lookups, c.cacheResults, c.lookupDuration)
	return c
}

// RecordOrg records an organization being watched.
func (c *Collector) RecordOrg(org string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uniqueOrgs[org] = true
}

// SetStreamState records whether org's event stream is connected. The first
// call for an org registers it as watched.
func (c *Collector) SetStreamState(org string, connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.streams[org]; ok && s.connected == connected {
		return
	}
	c.streams[org] = streamState{since: time.Now(), connected: connected}
}

// downFor returns the longest time any watched stream has been disconnected.
// The caller holds mu.
func (c *Collector) downFor(now time.Time) (longest time.Duration, connected int) {
	for _, s := range c.streams {
		if s.connected {
			connected++
			continue
		}
		longest = max(longest, now.Sub(s.since))
	}
	return longest, connected
}

// RecordPRSeen records a pull request that was analyzed.
func (c *Collector) RecordPRSeen(owner, repo string, prNumber int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uniquePRsSeen[fmt.Sprintf("%s/%s#%d", owner, repo, prNumber)] = true
}

// RecordPRAssigned records a pull request that got a reviewer requested.
func (c *Collector) RecordPRAssigned(owner, repo string, prNumber int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uniquePRsAssigned[fmt.Sprintf("%s/%s#%d", owner, repo, prNumber)] = true
}

// RecordAnalysis counts one finished analysis and marks a completed run.
// Runs are reported by /healthz but do not affect its status: a watcher
// with no pull request activity is idle, not stuck.
func (c *Collector) RecordAnalysis(outcome string) {
	c.analyses.WithLabelValues(outcome).Inc()
	if outcome == OutcomeError {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRun = time.Now()
	c.totalRuns++
}

// ObserveLookup has the signature of blame.LookupFunc.
func (c *Collector) ObserveLookup(_ blame.Key, elapsed time.Duration, err error) {
	result := "ok"
	switch {
	case errors.Is(err, blame.ErrNotAvailable):
		result = "not_available"
	case err != nil:
		result = "error"
	}
	c.lookups.WithLabelValues(result).Inc()
	c.lookupDuration.Observe(elapsed.Seconds())
}

// ObserveCache counts one persistent cache lookup.
func (c *Collector) ObserveCache(hit cache.HitType) {
	c.cacheResults.WithLabelValues(string(hit)).Inc()
}

// Stats represents collected metrics.
type Stats struct {
	LastRun     time.Time
	DownFor     time.Duration // longest current event stream outage
	Orgs        int
	Connected   int
	PRsSeen     int
	PRsAssigned int
	TotalRuns   int64
}

// Stats returns the current statistics.
func (c *Collector) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	down, connected := c.downFor(time.Now())
	return Stats{
		DownFor:     down,
		Connected:   connected,
		Orgs:        len(c.uniqueOrgs),
		PRsSeen:     len(c.uniquePRsSeen),
		PRsAssigned: len(c.uniquePRsAssigned),
		LastRun:     c.lastRun,
		TotalRuns:   c.totalRuns,
	}
}

// Handler serves /metrics, /healthz and a plain index.
func (c *Collector) Handler(logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		stats := c.Stats()

		status := "ok"
		statusCode := http.StatusOK
		if stats.DownFor > c.staleAfter {
			status = "stale"
			statusCode = http.StatusServiceUnavailable
		}

		response := fmt.Sprintf("%s - %d organizations watched, %d streams connected, %d PRs seen, %d PRs assigned (last run: %s, total runs: %d)\n",
			status, stats.Orgs, stats.Connected, stats.PRsSeen, stats.PRsAssigned, stats.LastRun.Format(time.RFC3339), stats.TotalRuns)

		w.WriteHeader(statusCode)
		if _, err := w.Write([]byte(response)); err != nil {
			logger.Error("Failed to write health response", "error", err)
		}
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if _, err := w.Write([]byte("marvin\nHealth endpoint: /healthz\nMetrics endpoint: /metrics\n")); err != nil {
			logger.Error("Failed to write response", "error", err)
		}
	})
	return mux
}

// Serve runs the metrics server on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      c.Handler(logger),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}()

	logger.Info("Starting metrics server", "component", "server", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
