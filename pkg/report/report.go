// Package report renders parse results and reviewer recommendations as
// terminal tables, JSON or YAML.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"

	"github.com/codeGROOVE-dev/marvin/pkg/reviewer"
	"github.com/codeGROOVE-dev/marvin/pkg/types"
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Writer renders to one output stream in one format.
type Writer struct {
	out    io.Writer
	now    func() time.Time
	format string
}

// New returns a Writer for format.
func New(out io.Writer, format string) (*Writer, error) {
	switch format {
	case FormatTable, FormatJSON, FormatYAML:
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
	return &Writer{out: out, format: format, now: time.Now}, nil
}

// recommendationDoc is the JSON and YAML shape of a recommendation.
type recommendationDoc struct {
	Reviewer   string             `json:"reviewer,omitempty" yaml:"reviewer,omitempty"`
	Ranking    []reviewer.Score   `json:"ranking" yaml:"ranking"`
	Candidates []reviewer.Score   `json:"candidates" yaml:"candidates"`
	Excluded   []string           `json:"excluded,omitempty" yaml:"excluded,omitempty"`
	Anomalies  []types.Anomaly    `json:"anomalies,omitempty" yaml:"anomalies,omitempty"`
	Result     *types.ParseResult `json:"result,omitempty" yaml:"result,omitempty"`
}

// Recommendation renders rec. With showChanges the attributed change model is included.
func (w *Writer) Recommendation(rec *reviewer.Recommendation, showChanges bool) error {
	doc := recommendationDoc{
		Ranking:    rec.Ranking,
		Candidates: rec.Candidates,
		Excluded:   rec.Excluded,
	}
	if top, ok := rec.Top(); ok {
		doc.Reviewer = top.UserName
	}
	if rec.Result != nil {
		doc.Anomalies = rec.Result.Anomalies
		if showChanges {
			doc.Result = rec.Result
		}
	}

	if w.format != FormatTable {
		return w.dump(doc)
	}

	if doc.Reviewer != "" {
		color.New(color.FgGreen, color.Bold).Fprintf(w.out, "Suggested reviewer: %s\n", doc.Reviewer)
	} else {
		color.New(color.FgYellow).Fprintln(w.out, "No suitable reviewer found")
	}

	if len(rec.Ranking) > 0 {
		fmt.Fprintln(w.out, w.rankingTable(rec))
	}
	if doc.Result != nil {
		fmt.Fprintln(w.out, w.changesTable(doc.Result, true))
	}
	if len(doc.Anomalies) > 0 {
		w.anomalies(doc.Anomalies)
	}
	return nil
}

// ParseResult renders the change model of result.
func (w *Writer) ParseResult(result *types.ParseResult) error {
	if w.format != FormatTable {
		return w.dump(result)
	}

	fmt.Fprintf(w.out, "%s line changes in %s files\n",
		humanize.Comma(int64(result.Len())), humanize.Comma(int64(len(result.Files))))
	if result.Len() > 0 {
		fmt.Fprintln(w.out, w.changesTable(result, false))
	}
	for _, r := range result.Renames {
		fmt.Fprintf(w.out, "renamed %s => %s\n", r.From, r.To)
	}
	if len(result.Anomalies) > 0 {
		w.anomalies(result.Anomalies)
	}
	return nil
}

func (w *Writer) dump(v any) error {
	switch w.format {
	case FormatJSON:
		enc := json.NewEncoder(w.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("format %q cannot be dumped", w.format)
	}
}

func (w *Writer) rankingTable(rec *reviewer.Recommendation) string {
	excluded := make(map[string]bool, len(rec.Excluded))
	for _, name := range rec.Excluded {
		excluded[name] = true
	}

	tbl := newTable()
	tbl.AppendHeader(table.Row{"#", "Reviewer", "Score", ""})
	// Strongest first for reading; Ranking itself is ascending.
	for i := len(rec.Ranking) - 1; i >= 0; i-- {
		s := rec.Ranking[i]
		note := ""
		if excluded[s.UserName] {
			note = "excluded"
		}
		tbl.AppendRow(table.Row{len(rec.Ranking) - i, s.UserName, strconv.FormatFloat(s.Score, 'f', 2, 64), note})
	}
	tbl.AppendFooter(table.Row{"", fmt.Sprintf("%d authors", len(rec.Ranking)), "", ""})
	return tbl.Render()
}

func (w *Writer) changesTable(result *types.ParseResult, withAuthors bool) string {
	kinds := []types.ChangeType{types.Added, types.Deleted, types.Modified, types.Interesting}

	tbl := newTable()
	if withAuthors {
		tbl.AppendHeader(table.Row{"File", "Line", "Type", "Commit", "Author", "Last touched"})
	} else {
		tbl.AppendHeader(table.Row{"File", "Line", "Type", "Commit"})
	}
	for _, c := range result.Changes(kinds...) {
		row := table.Row{c.Path, c.Line, c.Type.String(), c.Commit}
		if withAuthors {
			author, when := "", ""
			if c.Author != nil {
				author = c.Author.UserName
				if !c.Author.Timestamp.IsZero() {
					when = humanize.RelTime(c.Author.Timestamp, w.now(), "ago", "from now")
				}
			}
			row = append(row, author, when)
		}
		tbl.AppendRow(row)
	}
	return tbl.Render()
}

func (w *Writer) anomalies(list []types.Anomaly) {
	warn := color.New(color.FgYellow)
	for _, a := range list {
		warn.Fprintf(w.out, "warning: %s at diff line %d: %s\n", a.Kind, a.Line, a.Detail)
	}
}

func newTable() table.Writer {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Format.Footer = text.FormatDefault
	return tbl
}
