package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/codeGROOVE-dev/sprinkler/pkg/client"
	"github.com/spf13/cobra"

	"github.com/codeGROOVE-dev/marvin/pkg/github"
	"github.com/codeGROOVE-dev/marvin/pkg/types"
)

const (
	eventChannelSize      = 100              // Buffer size for event channel
	eventDedupWindow      = 5 * time.Second  // Time window for deduplicating events
	eventMapMaxSize       = 1000             // Maximum entries in event dedup map
	eventMapCleanupAge    = 1 * time.Hour    // Age threshold for cleaning up old entries
	prMaxRetries          = 3                // Max retries for PR processing
	prMaxDelay            = 10 * time.Second // Max delay between retries
	connectionHealthCheck = 2 * time.Minute  // Log connection health every 2 minutes
	maxReconnectAttempts  = 100              // Max outer reconnection attempts
	reconnectBackoff      = 30 * time.Second // Initial backoff between reconnection attempts
	maxReconnectBackoff   = 5 * time.Minute
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		orgs   []string
		assign bool
		addr   string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Suggest reviewers for pull requests as they are opened or updated",
		Long: "Subscribe to pull request events for each organization and suggest,\n" +
			"or with --assign request, a reviewer for every open pull request without one.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()
			if cmd.Flags().Changed("org") {
				a.cfg.Watch.Orgs = orgs
			}
			if cmd.Flags().Changed("assign") {
				a.cfg.Watch.Assign = assign
			}
			if cmd.Flags().Changed("metrics-addr") {
				a.cfg.Metrics.Addr = addr
			}
			return a.watch(cmd.Context())
		},
	}
	cmd.Flags().StringSliceVar(&orgs, "org", nil, "organizations to watch (default all app installations)")
	cmd.Flags().BoolVar(&assign, "assign", false, "request reviews instead of only logging suggestions")
	cmd.Flags().StringVar(&addr, "metrics-addr", "", "listen address for /metrics and /healthz")
	return cmd
}

func (a *app) watch(ctx context.Context) error {
	gh, err := github.New(ctx, a.githubConfig())
	if err != nil {
		return fmt.Errorf("creating GitHub client: %w", err)
	}

	orgs := a.cfg.Watch.Orgs
	if len(orgs) == 0 {
		if orgs, err = gh.ListAppInstallations(ctx); err != nil {
			return fmt.Errorf("failed to list app installations: %w", err)
		}
	}
	if len(orgs) == 0 {
		return errors.New("no organizations to watch")
	}

	if a.cfg.Metrics.Addr != "" {
		go func() {
			if err := a.metrics.Serve(ctx, a.cfg.Metrics.Addr, a.logger); err != nil {
				a.logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	w := &watcher{app: a, client: gh, assign: a.cfg.Watch.Assign}
	var wg sync.WaitGroup
	for _, org := range orgs {
		a.metrics.RecordOrg(org)
		m := newOrgMonitor(w, org, a.cfg.Watch.ServerURL)
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.run(ctx)
		}()
	}

	a.logger.Warn("Watching for pull request events", "orgs", orgs, "assign", w.assign)
	wg.Wait()
	return nil
}

// watcher reviews pull requests announced by the org monitors.
type watcher struct {
	app    *app
	client github.API
	mu     sync.Mutex // serializes reviews; the client's current org is shared
	assign bool
}

// processPullRequest reviews one pull request and reports whether a reviewer was requested.
func (w *watcher) processPullRequest(ctx context.Context, owner, repo string, number int) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.client.SetCurrentOrg(owner)
	defer w.client.SetCurrentOrg("")

	logger := w.app.logger.With("owner", owner, "repo", repo, "pr", number)

	pr, err := w.client.PullRequest(ctx, owner, repo, number)
	if err != nil {
		return false, fmt.Errorf("failed to fetch PR: %w", err)
	}
	if reason := skipReason(pr); reason != "" {
		logger.Debug("Skipping PR", "reason", reason)
		return false, nil
	}

	rec, err := w.app.reviewFetched(ctx, w.client, pr)
	if err != nil {
		return false, err
	}
	top, ok := rec.Top()
	if !ok {
		logger.Info("No suitable reviewers found", "authors", len(rec.Ranking))
		return false, nil
	}

	if !w.assign {
		logger.Info("Would assign reviewer (dry-run)", "reviewer", top.UserName, "score", top.Score)
		return false, nil
	}
	if err := w.client.AddReviewers(ctx, owner, repo, number, []string{top.UserName}); err != nil {
		return false, err
	}
	w.app.metrics.RecordPRAssigned(owner, repo, number)
	logger.Info("Assigned reviewer", "reviewer", top.UserName, "score", top.Score)
	return true, nil
}

// skipReason explains why pr needs no reviewer, or returns "".
func skipReason(pr *types.PullRequest) string {
	switch {
	case pr.State != "" && pr.State != "open":
		return "not open"
	case pr.Draft:
		return "draft"
	case len(pr.Reviewers) > 0:
		return "has reviewers"
	}
	return ""
}

// orgMonitor manages the event subscription for a single org.
type orgMonitor struct {
	lastConnectedAt   time.Time
	lastEventAt       time.Time
	watcher           *watcher
	logger            *slog.Logger
	eventChan         chan string          // PR URLs that need processing
	lastEventMap      map[string]time.Time // last event per URL, for dedup
	org               string
	serverURL         string
	reconnectAttempts int
	mu                sync.RWMutex
	isConnected       bool
}

func newOrgMonitor(w *watcher, org, serverURL string) *orgMonitor {
	if serverURL == "" {
		serverURL = "wss://" + client.DefaultServerAddress + "/ws"
	}
	return &orgMonitor{
		watcher:      w,
		logger:       w.app.logger.With("component", "sprinkler", "org", org),
		eventChan:    make(chan string, eventChannelSize),
		lastEventMap: make(map[string]time.Time),
		org:          org,
		serverURL:    serverURL,
	}
}

// run processes events and keeps the subscription alive until ctx is done.
func (m *orgMonitor) run(ctx context.Context) {
	m.watcher.app.metrics.SetStreamState(m.org, false)
	go m.processEvents(ctx)
	go m.monitorHealth(ctx)
	m.manageConnection(ctx)
}

// manageConnection restarts the client when it gives up. The client reconnects
// on its own; this only handles fatal exits.
func (m *orgMonitor) manageConnection(ctx context.Context) {
	for ctx.Err() == nil {
		err := m.connect(ctx)
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return
		}

		backoff := 5 * time.Second
		if err != nil {
			m.mu.Lock()
			m.reconnectAttempts++
			attempts := m.reconnectAttempts
			m.mu.Unlock()

			if attempts >= maxReconnectAttempts {
				m.logger.Error("Max reconnection attempts reached, giving up", "attempts", attempts)
				return
			}
			backoff = min(reconnectBackoff*time.Duration(attempts), maxReconnectBackoff)
			m.logger.Warn("Event client gave up, will restart after backoff", "attempt", attempts, "backoff", backoff, "error", err)
		} else {
			m.mu.Lock()
			m.reconnectAttempts = 0
			m.mu.Unlock()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (m *orgMonitor) connect(ctx context.Context) error {
	cfg := client.Config{
		ServerURL:    m.serverURL,
		Organization: m.org,
		TokenProvider: func() (string, error) {
			token, err := m.watcher.client.TokenFor(ctx, m.org)
			if err != nil {
				return "", fmt.Errorf("failed to get token: %w", err)
			}
			return token, nil
		},
		EventTypes: []string{"pull_request"},
		OnConnect: func() {
			m.mu.Lock()
			m.isConnected = true
			m.lastConnectedAt = time.Now()
			m.mu.Unlock()
			m.watcher.app.metrics.SetStreamState(m.org, true)
			m.logger.Info("Event stream connected")
		},
		OnDisconnect: func(err error) {
			m.mu.Lock()
			wasConnected := m.isConnected
			m.isConnected = false
			m.mu.Unlock()
			m.watcher.app.metrics.SetStreamState(m.org, false)
			if err != nil && !errors.Is(err, context.Canceled) && wasConnected {
				m.logger.Warn("Event stream disconnected", "error", err)
			}
		},
		OnEvent: m.handleEvent,
	}

	wsClient, err := client.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer wsClient.Stop()

	start := time.Now()
	if err := wsClient.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Warn("Event client stopped with error", "uptime", time.Since(start).Round(time.Second), "error", err)
		return err
	}
	m.logger.Info("Event client stopped", "uptime", time.Since(start).Round(time.Second))
	return nil
}

func (m *orgMonitor) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(connectionHealthCheck)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			connected, lastConnected, lastEvent := m.isConnected, m.lastConnectedAt, m.lastEventAt
			m.mu.RUnlock()

			switch {
			case connected:
				var sinceEvent time.Duration
				if !lastEvent.IsZero() {
					sinceEvent = time.Since(lastEvent)
				}
				m.logger.Info("Health check - connected",
					"connected_for", time.Since(lastConnected).Round(time.Second),
					"time_since_last_event", sinceEvent.Round(time.Second))
			case !lastConnected.IsZero():
				m.logger.Warn("Health check - disconnected", "disconnected_for", time.Since(lastConnected).Round(time.Second))
			default:
				m.logger.Info("Health check - not yet connected")
			}
		}
	}
}

// handleEvent queues pull request events for this org, dropping repeats
// within eventDedupWindow.
func (m *orgMonitor) handleEvent(event client.Event) {
	if event.Type != "pull_request" {
		return
	}
	if event.URL == "" {
		m.logger.Warn("Received PR event with empty URL")
		return
	}

	owner, _, _, err := github.ParsePullRequestURL(event.URL)
	if err != nil {
		m.logger.Warn("Ignoring event with unparseable URL", "url", event.URL, "error", err)
		return
	}
	if owner != m.org {
		m.logger.Debug("Ignoring event for different org", "event_org", owner)
		return
	}

	m.mu.Lock()
	now := time.Now()
	if last, ok := m.lastEventMap[event.URL]; ok && now.Sub(last) < eventDedupWindow {
		m.mu.Unlock()
		return
	}
	m.lastEventMap[event.URL] = now
	m.lastEventAt = now

	if len(m.lastEventMap) > eventMapMaxSize {
		cutoff := now.Add(-eventMapCleanupAge)
		for url, ts := range m.lastEventMap {
			if ts.Before(cutoff) {
				delete(m.lastEventMap, url)
			}
		}
	}
	m.mu.Unlock()

	select {
	case m.eventChan <- event.URL:
		m.logger.Info("PR event received", "url", event.URL)
	default:
		m.logger.Warn("Event channel full, dropping event", "url", event.URL)
	}
}

func (m *orgMonitor) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case prURL := <-m.eventChan:
			m.processEvent(ctx, prURL)
		}
	}
}

func (m *orgMonitor) processEvent(ctx context.Context, prURL string) {
	start := time.Now()
	owner, repo, number, err := github.ParsePullRequestURL(prURL)
	if err != nil {
		m.logger.Warn("Failed to parse PR URL", "url", prURL, "error", err)
		return
	}

	var assigned bool
	err = retry.Do(func() error {
		var err error
		assigned, err = m.watcher.processPullRequest(ctx, owner, repo, number)
		return err
	},
		retry.Attempts(prMaxRetries),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxDelay(prMaxDelay),
		retry.OnRetry(func(n uint, err error) {
			m.logger.Info("Retrying PR processing", "attempt", n+1, "repo", repo, "pr", number, "error", err)
		}),
		retry.Context(ctx),
	)
	if err != nil {
		m.logger.Error("Failed to process PR after retries",
			"repo", repo, "pr", number, "elapsed", time.Since(start).Round(time.Millisecond), "error", err)
		return
	}
	m.logger.Info("Processed PR", "repo", repo, "pr", number, "assigned", assigned,
		"elapsed", time.Since(start).Round(time.Millisecond))
}
