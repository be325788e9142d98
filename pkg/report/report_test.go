package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/codeGROOVE-dev/marvin/pkg/reviewer"
	"github.com/codeGROOVE-dev/marvin/pkg/types"
)

func init() {
	color.NoColor = true //nolint:reassign // plain output for assertions
}

var now = time.Date(2016, 1, 10, 12, 0, 0, 0, time.UTC)

func sampleResult() *types.ParseResult {
	result := types.NewParseResult()
	fcs := types.NewFileChangeSet("app/models/user.rb")
	fcs.Modified[4] = &types.LineChange{
		Path: "app/models/user.rb", Line: 4, Type: types.Modified, Commit: "2222222",
		Author: &types.Author{UserName: "carol", Timestamp: now.Add(-72 * time.Hour)},
	}
	fcs.Interesting[3] = &types.LineChange{
		Path: "app/models/user.rb", Line: 3, Type: types.Interesting, Commit: "2222222",
		Author: &types.Author{UserName: "bob"},
	}
	result.Files[fcs.Path] = fcs
	result.Renames = []types.Rename{{From: "lib/a.rb", To: "lib/b.rb"}}
	result.Anomalies = []types.Anomaly{{Kind: types.MalformedHeader, Path: "x.rb", Detail: "missing +++ line", Line: 9}}
	return result
}

func sampleRecommendation() *reviewer.Recommendation {
	return &reviewer.Recommendation{
		Result:     sampleResult(),
		Ranking:    []reviewer.Score{{UserName: "bob", Score: 1}, {UserName: "carol", Score: 3}},
		Candidates: []reviewer.Score{{UserName: "bob", Score: 1}},
		Excluded:   []string{"carol"},
	}
}

func newWriter(t *testing.T, format string) (*Writer, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	w, err := New(&buf, format)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.now = func() time.Time { return now }
	return w, &buf
}

func TestNew_UnknownFormat(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestRecommendation_Table(t *testing.T) {
	w, buf := newWriter(t, FormatTable)

	if err := w.Recommendation(sampleRecommendation(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"Suggested reviewer: bob",
		"excluded",
		"3.00",
		"2 authors",
		"interesting",
		"3 days ago",
		"warning: malformed_header at diff line 9",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}

	ranking := w.rankingTable(sampleRecommendation())
	if strings.Index(ranking, "carol") > strings.Index(ranking, "bob") {
		t.Errorf("expected the strongest author listed first, got:\n%s", ranking)
	}
}

func TestRecommendation_NoCandidates(t *testing.T) {
	w, buf := newWriter(t, FormatTable)

	if err := w.Recommendation(&reviewer.Recommendation{Result: types.NewParseResult()}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "No suitable reviewer found") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestRecommendation_JSON(t *testing.T) {
	w, buf := newWriter(t, FormatJSON)

	if err := w.Recommendation(sampleRecommendation(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var doc struct {
		Reviewer string           `json:"reviewer"`
		Ranking  []reviewer.Score `json:"ranking"`
		Result   json.RawMessage  `json:"result"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if doc.Reviewer != "bob" || len(doc.Ranking) != 2 {
		t.Errorf("unexpected document %+v", doc)
	}
	if doc.Result != nil {
		t.Errorf("expected no change model without showChanges, got %s", doc.Result)
	}
}

func TestRecommendation_YAML(t *testing.T) {
	w, buf := newWriter(t, FormatYAML)

	if err := w.Recommendation(sampleRecommendation(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("invalid YAML: %v\n%s", err, buf.String())
	}
	if doc["reviewer"] != "bob" {
		t.Errorf("expected reviewer bob, got %v", doc["reviewer"])
	}
	if !strings.Contains(buf.String(), "type: modified") {
		t.Errorf("expected change types by name, got:\n%s", buf.String())
	}
}

func TestParseResult_Table(t *testing.T) {
	w, buf := newWriter(t, FormatTable)

	if err := w.ParseResult(sampleResult()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"1 line changes in 1 files", "app/models/user.rb", "modified", "renamed lib/a.rb => lib/b.rb"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestParseResult_JSON(t *testing.T) {
	w, buf := newWriter(t, FormatJSON)

	if err := w.ParseResult(sampleResult()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got types.ParseResult
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	c := got.Files["app/models/user.rb"].Modified[4]
	if c == nil || c.Type != types.Modified || c.Commit != "2222222" {
		t.Errorf("expected modified line 4 to survive the dump, got %+v", c)
	}
}
