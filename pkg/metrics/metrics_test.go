package metrics

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/codeGROOVE-dev/marvin/pkg/blame"
	"github.com/codeGROOVE-dev/marvin/pkg/cache"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCollector_Stats(t *testing.T) {
	c := NewCollector()
	c.RecordOrg("codeGROOVE-dev")
	c.RecordOrg("codeGROOVE-dev")
	c.RecordPRSeen("codeGROOVE-dev", "marvin", 1)
	c.RecordPRSeen("codeGROOVE-dev", "marvin", 1)
	c.RecordPRSeen("codeGROOVE-dev", "marvin", 2)
	c.RecordPRAssigned("codeGROOVE-dev", "marvin", 2)
	c.RecordAnalysis(OutcomeRecommended)
	c.RecordAnalysis(OutcomeError)

	stats := c.Stats()
	if stats.Orgs != 1 {
		t.Errorf("expected 1 org, got %d", stats.Orgs)
	}
	if stats.PRsSeen != 2 {
		t.Errorf("expected 2 PRs seen, got %d", stats.PRsSeen)
	}
	if stats.PRsAssigned != 1 {
		t.Errorf("expected 1 PR assigned, got %d", stats.PRsAssigned)
	}
	if stats.TotalRuns != 1 {
		t.Errorf("expected failed analyses to not count as runs, got %d", stats.TotalRuns)
	}
	if got := promtest.ToFloat64(c.analyses.WithLabelValues(OutcomeError)); got != 1 {
		t.Errorf("expected 1 error analysis, got %v", got)
	}
}

func TestCollector_ObserveLookup(t *testing.T) {
	c := NewCollector()
	var fn blame.LookupFunc = c.ObserveLookup

	k := blame.Key{Path: "main.go", Commit: "c1"}
	fn(k, 10*time.Millisecond, nil)
	fn(k, time.Millisecond, fmt.Errorf("mock: %w", blame.ErrNotAvailable))
	fn(k, time.Millisecond, errors.New("boom"))

	for result, want := range map[string]float64{"ok": 1, "not_available": 1, "error": 1} {
		if got := promtest.ToFloat64(c.lookups.WithLabelValues(result)); got != want {
			t.Errorf("expected %v %s lookups, got %v", want, result, got)
		}
	}
	if got := promtest.CollectAndCount(c.lookupDuration); got != 1 {
		t.Errorf("expected one histogram series, got %d", got)
	}
}

func TestCollector_ObserveCache(t *testing.T) {
	c := NewCollector()
	c.ObserveCache(cache.HitMemory)
	c.ObserveCache(cache.Miss)
	c.ObserveCache(cache.Miss)

	if got := promtest.ToFloat64(c.cacheResults.WithLabelValues("miss")); got != 2 {
		t.Errorf("expected 2 misses, got %v", got)
	}
	if got := promtest.ToFloat64(c.cacheResults.WithLabelValues("memory")); got != 1 {
		t.Errorf("expected 1 memory hit, got %v", got)
	}
}

func healthz(t *testing.T, c *Collector) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler(quietLogger()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	return rec.Code, rec.Body.String()
}

func TestHandler_Healthz(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(c *Collector)
		code   int
		status string
	}{
		{
			name:   "nothing watched",
			setup:  func(*Collector) {},
			code:   http.StatusOK,
			status: "ok",
		},
		{
			name: "idle but connected",
			setup: func(c *Collector) {
				c.RecordAnalysis(OutcomeRecommended)
				c.lastRun = time.Now().Add(-10 * DefaultStaleAfter)
				c.streams["octo"] = streamState{since: time.Now().Add(-10 * DefaultStaleAfter), connected: true}
			},
			code:   http.StatusOK,
			status: "ok",
		},
		{
			name: "briefly disconnected",
			setup: func(c *Collector) {
				c.SetStreamState("octo", false)
			},
			code:   http.StatusOK,
			status: "ok",
		},
		{
			name: "disconnected too long",
			setup: func(c *Collector) {
				c.SetStreamState("octo", true)
				c.streams["other"] = streamState{since: time.Now().Add(-2 * DefaultStaleAfter)}
			},
			code:   http.StatusServiceUnavailable,
			status: "stale",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCollector()
			tt.setup(c)
			code, body := healthz(t, c)
			if code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, code)
			}
			if !strings.HasPrefix(body, tt.status) {
				t.Errorf("expected %s status, got %q", tt.status, body)
			}
		})
	}
}

func TestSetStreamState_KeepsSinceWhileUnchanged(t *testing.T) {
	c := NewCollector()
	c.SetStreamState("octo", false)
	first := c.streams["octo"].since

	c.SetStreamState("octo", false)
	if got := c.streams["octo"].since; !got.Equal(first) {
		t.Errorf("expected outage start to be kept, got %v then %v", first, got)
	}

	c.SetStreamState("octo", true)
	if s := c.Stats(); s.Connected != 1 || s.DownFor != 0 {
		t.Errorf("expected one connected stream and no outage, got %+v", s)
	}
}

func TestHandler_Metrics(t *testing.T) {
	c := NewCollector()
	c.RecordAnalysis(OutcomeRecommended)

	rec := httptest.NewRecorder()
	c.Handler(quietLogger()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `marvin_analyses_total{outcome="recommended"} 1`) {
		t.Errorf("expected analyses counter in output, got:\n%s", rec.Body.String())
	}
}

func TestHandler_NotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	NewCollector().Handler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", http.NoBody))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
