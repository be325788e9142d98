package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/sprinkler/pkg/client"

	"github.com/codeGROOVE-dev/marvin/pkg/blame"
	"github.com/codeGROOVE-dev/marvin/pkg/config"
	"github.com/codeGROOVE-dev/marvin/pkg/metrics"
	"github.com/codeGROOVE-dev/marvin/pkg/types"
)

const userDiff = `diff --git a/app/models/user.rb b/app/models/user.rb
index 1111111..2222222 100644
--- a/app/models/user.rb
+++ b/app/models/user.rb
@@ -3,3 +3,3 @@ class User
   validates :email, presence: true
-  validates :name, presence: true
+  validates :name, length: { maximum: 50 }
 end
`

func userBlame(commit string) *blame.File {
	lines := []struct{ text, author string }{
		{"class User", "alice"},
		{"  include Validations", "dave"},
		{"  validates :email, presence: true", "bob"},
		{"  validates :name, length: { maximum: 50 }", "carol"},
		{"end", "alice"},
	}
	f := &blame.File{
		Path:      "app/models/user.rb",
		Commit:    commit,
		Authors:   make(map[int]types.Author),
		Lines:     make(map[int]string),
		LineCount: len(lines),
	}
	for i, l := range lines {
		f.Lines[i+1] = l.text
		f.Authors[i+1] = types.Author{UserName: l.author, Timestamp: time.Date(2015, 11, 3, 10, 0, 0, 0, time.UTC)}
	}
	return f
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

// execute runs the root command with a config that disables the disk cache.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cfgPath := writeFile(t, "marvin.yaml", "cache:\n  enabled: false\n")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseCmd_JSON(t *testing.T) {
	out, err := execute(t, userDiff, "parse", "-o", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result types.ParseResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decoding output: %v\n%s", err, out)
	}
	fcs, ok := result.Files["app/models/user.rb"]
	if !ok {
		t.Fatalf("expected user.rb in result, got %v", result.Paths())
	}
	if _, ok := fcs.Modified[4]; !ok {
		t.Errorf("expected modified line 4, got %v", types.SortedLines(fcs.Modified))
	}
}

func TestParseCmd_Table(t *testing.T) {
	path := writeFile(t, "user.diff", userDiff)
	out, err := execute(t, "", "parse", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "1 line changes in 1 files") {
		t.Errorf("expected summary line, got:\n%s", out)
	}
}

func TestParseCmd_MissingFile(t *testing.T) {
	if _, err := execute(t, "", "parse", filepath.Join(t.TempDir(), "missing.diff")); err == nil {
		t.Error("expected error for missing diff file")
	}
}

func TestRecommendCmd_Fixtures(t *testing.T) {
	data, err := json.Marshal([]*blame.File{userBlame("2222222")})
	if err != nil {
		t.Fatalf("encoding fixtures: %v", err)
	}
	fixtures := writeFile(t, "blame.json", string(data))

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"strongest author", nil, "carol"},
		{"change author excluded", []string{"--author", "carol"}, "bob"},
		{"configured exclusion", []string{"--exclude", "carol,bob"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"recommend", "-o", "json", "--blame-fixtures", fixtures}, tt.args...)
			out, err := execute(t, userDiff, args...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var doc struct {
				Reviewer string `json:"reviewer"`
			}
			if err := json.Unmarshal([]byte(out), &doc); err != nil {
				t.Fatalf("decoding output: %v\n%s", err, out)
			}
			if doc.Reviewer != tt.want {
				t.Errorf("expected reviewer %q, got %q", tt.want, doc.Reviewer)
			}
		})
	}
}

func TestRecommendCmd_AssignNeedsPullRequest(t *testing.T) {
	if _, err := execute(t, userDiff, "recommend", "--assign"); err == nil {
		t.Error("expected error for --assign without a pull request")
	}
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs([]string{"version"})
	root.SetOut(&out)
	if err := root.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := out.String(); got != "marvin dev\n" {
		t.Errorf("expected version line, got %q", got)
	}
}

func TestRootFlagsOverrides(t *testing.T) {
	root := newRootCmd()
	if err := root.ParseFlags([]string{"-o", "yaml", "--no-cache", "--workers", "3", "--include-bots"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var flags rootFlags
	flags.format, flags.noCache, flags.workers, flags.includeBots = "yaml", true, 3, true
	got := flags.overrides(root)

	want := map[string]any{
		"output.format":    "yaml",
		"cache.enabled":    false,
		"review.workers":   3,
		"review.skip_bots": false,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d overrides, got %v", len(want), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("override %s: expected %v, got %v", k, v, got[k])
		}
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		verbosity int
		level     slog.Level
	}{
		{0, slog.LevelWarn},
		{1, slog.LevelInfo},
		{2, slog.LevelDebug},
		{5, slog.LevelDebug},
	}
	for _, tt := range tests {
		logger := newLogger(io.Discard, tt.verbosity)
		if !logger.Enabled(context.Background(), tt.level) {
			t.Errorf("verbosity %d: expected %s enabled", tt.verbosity, tt.level)
		}
		if tt.level > slog.LevelDebug && logger.Enabled(context.Background(), tt.level-4) {
			t.Errorf("verbosity %d: expected level below %s disabled", tt.verbosity, tt.level)
		}
	}
}

func TestIsPullRequestRef(t *testing.T) {
	existing := writeFile(t, "change.diff", userDiff)
	tests := []struct {
		arg  string
		want bool
	}{
		{"https://github.com/codeGROOVE-dev/marvin/pull/12", true},
		{"codeGROOVE-dev/marvin#12", true},
		{"change.diff", false},
		{existing, false},
		{"-", false},
	}
	for _, tt := range tests {
		if got := isPullRequestRef(tt.arg); got != tt.want {
			t.Errorf("isPullRequestRef(%q) = %v, expected %v", tt.arg, got, tt.want)
		}
	}
}

func TestSkipReason(t *testing.T) {
	tests := []struct {
		name string
		pr   types.PullRequest
		want string
	}{
		{"open", types.PullRequest{State: "open"}, ""},
		{"closed", types.PullRequest{State: "closed"}, "not open"},
		{"draft", types.PullRequest{State: "open", Draft: true}, "draft"},
		{"reviewed", types.PullRequest{State: "open", Reviewers: []string{"bob"}}, "has reviewers"},
	}
	for _, tt := range tests {
		if got := skipReason(&tt.pr); got != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.name, tt.want, got)
		}
	}
}

// fakeGitHub serves one pull request and records review requests.
type fakeGitHub struct {
	pr       *types.PullRequest
	files    map[blame.Key]*blame.File
	assigned []string
	org      string
}

func (f *fakeGitHub) SetCurrentOrg(org string) { f.org = org }

func (*fakeGitHub) IsUserAccount(string) bool { return false }

func (*fakeGitHub) Token(context.Context) (string, error) { return "token", nil }

func (*fakeGitHub) TokenFor(context.Context, string) (string, error) { return "token", nil }

func (f *fakeGitHub) PullRequest(context.Context, string, string, int) (*types.PullRequest, error) {
	pr := *f.pr
	return &pr, nil
}

func (*fakeGitHub) PullRequestDiff(context.Context, string, string, int, string) (string, error) {
	return userDiff, nil
}

func (f *fakeGitHub) AddReviewers(_ context.Context, _, _ string, _ int, reviewers []string) error {
	f.assigned = append(f.assigned, reviewers...)
	return nil
}

func (f *fakeGitHub) Blame(_ context.Context, _, _, path, commit string) (*blame.File, error) {
	if file, ok := f.files[blame.Key{Path: path, Commit: commit}]; ok {
		return file, nil
	}
	return nil, blame.ErrNotAvailable
}

func (*fakeGitHub) ListAppInstallations(context.Context) ([]string, error) {
	return []string{"codeGROOVE-dev"}, nil
}

func newTestApp() *app {
	return &app{
		cfg: &config.Config{
			Review: config.ReviewConfig{SkipBots: true},
			Output: config.OutputConfig{Format: config.FormatJSON},
		},
		logger:  quietLogger(),
		metrics: metrics.NewCollector(),
	}
}

func newFakeGitHub(pr types.PullRequest) *fakeGitHub {
	f := userBlame("2222222")
	return &fakeGitHub{
		pr:    &pr,
		files: map[blame.Key]*blame.File{{Path: f.Path, Commit: f.Commit}: f},
	}
}

func TestWatcher_ProcessPullRequest(t *testing.T) {
	pr := types.PullRequest{
		Owner: "codeGROOVE-dev", Repository: "marvin", Number: 7, State: "open",
		Author: "dave", HeadSHA: "2222222", MergeBase: "1111111",
	}

	tests := []struct {
		name         string
		pr           types.PullRequest
		assign       bool
		wantAssigned []string
	}{
		{"assigns strongest author", pr, true, []string{"carol"}},
		{"dry run", pr, false, nil},
		{"author is skipped", func() types.PullRequest { p := pr; p.Author = "carol"; return p }(), true, []string{"bob"}},
		{"draft", func() types.PullRequest { p := pr; p.Draft = true; return p }(), true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gh := newFakeGitHub(tt.pr)
			a := newTestApp()
			w := &watcher{app: a, client: gh, assign: tt.assign}

			assigned, err := w.processPullRequest(context.Background(), "codeGROOVE-dev", "marvin", 7)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if assigned != (len(tt.wantAssigned) > 0) {
				t.Errorf("expected assigned=%v, got %v", len(tt.wantAssigned) > 0, assigned)
			}
			if strings.Join(gh.assigned, ",") != strings.Join(tt.wantAssigned, ",") {
				t.Errorf("expected reviewers %v, got %v", tt.wantAssigned, gh.assigned)
			}
			if gh.org != "" {
				t.Errorf("expected current org reset, got %q", gh.org)
			}
		})
	}
}

func TestWatcher_ProcessPullRequest_BlameUnavailable(t *testing.T) {
	gh := newFakeGitHub(types.PullRequest{Owner: "o", Repository: "r", Number: 1, State: "open", HeadSHA: "3333333"})
	a := newTestApp()
	w := &watcher{app: a, client: gh, assign: true}

	if _, err := w.processPullRequest(context.Background(), "o", "r", 1); err == nil {
		t.Fatal("expected error when blame is unavailable")
	}
	if len(gh.assigned) != 0 {
		t.Errorf("expected no review request, got %v", gh.assigned)
	}
}

func TestOrgMonitor_HandleEvent(t *testing.T) {
	w := &watcher{app: newTestApp()}
	m := newOrgMonitor(w, "codeGROOVE-dev", "")

	if !strings.HasPrefix(m.serverURL, "wss://") {
		t.Errorf("expected default server URL, got %q", m.serverURL)
	}

	url := "https://github.com/codeGROOVE-dev/marvin/pull/7"
	m.handleEvent(client.Event{Type: "pull_request", URL: url})
	m.handleEvent(client.Event{Type: "pull_request", URL: url})
	m.handleEvent(client.Event{Type: "push", URL: url})
	m.handleEvent(client.Event{Type: "pull_request", URL: "https://github.com/other/marvin/pull/7"})
	m.handleEvent(client.Event{Type: "pull_request", URL: "not a url"})
	m.handleEvent(client.Event{Type: "pull_request"})

	if got := len(m.eventChan); got != 1 {
		t.Fatalf("expected 1 queued event after dedup and filtering, got %d", got)
	}
	if got := <-m.eventChan; got != url {
		t.Errorf("expected %s queued, got %s", url, got)
	}
}
