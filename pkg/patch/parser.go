// Package patch turns unified diffs and format-patch series into per-line change records.
package patch

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/codeGROOVE-dev/marvin/pkg/types"
)

// ParentSuffix marks the parent revision of a commit, in git revision syntax.
const ParentSuffix = "^"

// ErrOverlappingChange is returned when two hunks or two patches record a change
// at the same line of the same file. Such diffs are not supported.
var ErrOverlappingChange = errors.New("overlapping change")

const maxLineSize = 16 << 20

var (
	fileHeaderRe   = regexp.MustCompile(`^diff --git (\S.*) (\S.*)$`)
	seriesHeaderRe = regexp.MustCompile(`^From ([0-9a-f]{40}) (.*)$`)
	seriesDateRe   = regexp.MustCompile(`^[A-Z][a-z]{2} [A-Z][a-z]{2} [ 0-9]?[0-9] [0-9]{2}:[0-9]{2}:[0-9]{2} [0-9]{4}$`)
	indexRe        = regexp.MustCompile(`^index ([0-9a-f]{7,40})\.\.([0-9a-f]{7,40})`)
	hunkHeaderRe   = regexp.MustCompile(`^@@ -([0-9]+)(?:,([0-9]+))? \+([0-9]+)(?:,([0-9]+))? @@`)
)

// extendedHeaders are the git header lines that may follow `diff --git`.
var extendedHeaders = []string{
	"new file mode ",
	"deleted file mode ",
	"old mode ",
	"new mode ",
	"similarity index ",
	"dissimilarity index ",
	"rename from ",
	"rename to ",
	"copy from ",
	"copy to ",
	"index ",
}

// Options supplies the commit context for diffs that carry no patch-series header.
type Options struct {
	BeforeCommit string // revision the diff applies to
	AfterCommit  string // revision the diff produces
}

// Parser parses diffs. It is safe for concurrent use; every call owns its state.
type Parser struct {
	logger *slog.Logger
	opts   Options
}

// New creates a Parser. A nil logger uses slog.Default().
func New(logger *slog.Logger, opts Options) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		logger: logger.With("component", "patch"),
		opts:   opts,
	}
}

// Parse parses diff lines with default options.
func Parse(lines []string) (*types.ParseResult, error) {
	return New(nil, Options{}).Parse(lines)
}

// ParseReader reads r to EOF and parses it.
func (p *Parser) ParseReader(r io.Reader) (*types.ParseResult, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading diff: %w", err)
	}
	return p.Parse(lines)
}

// Parse parses diff lines. Empty or unrecognized input yields an empty result.
// Malformed headers and hunk arithmetic mismatches are logged and recorded as
// anomalies; only overlapping changes are fatal.
func (p *Parser) Parse(lines []string) (*types.ParseResult, error) {
	r := &run{
		parser: p,
		lines:  lines,
		result: types.NewParseResult(),
	}
	if err := r.parse(); err != nil {
		return nil, err
	}
	return r.result, nil
}

// run is the file-level state of one Parse call.
type run struct {
	parser *Parser
	result *types.ParseResult
	cur    *section
	series string // commit announced by the latest `From <sha>` header
	lines  []string
	idx    int
}

func (r *run) parse() error {
	for r.idx < len(r.lines) {
		line := trimEOL(r.lines[r.idx])

		switch {
		case seriesHeaderRe.MatchString(line):
			r.seriesHeader(line)
			r.idx++
		case strings.HasPrefix(line, "diff --git "):
			if err := r.fileHeader(line); err != nil {
				return err
			}
		case r.cur != nil && hunkHeaderRe.MatchString(line):
			if err := r.hunk(line); err != nil {
				return err
			}
		default:
			if r.cur != nil {
				r.between(line)
			}
			r.idx++
		}
	}
	return r.flush()
}

// seriesHeader sets the after-commit context without ending the file section.
func (r *run) seriesHeader(line string) {
	m := seriesHeaderRe.FindStringSubmatch(line)
	r.series = m[1]
	if r.cur != nil {
		r.cur.preamble = true
	}
	if !seriesDateRe.MatchString(m[2]) {
		r.anomaly(types.MalformedHeader, "patch series header has an unrecognized date: "+m[2])
	}
	r.parser.logger.Debug("Patch series commit", "commit", r.series, "line", r.idx+1)
}

// fileHeader flushes the current section and consumes the extended header block.
func (r *run) fileHeader(line string) error {
	if err := r.flush(); err != nil {
		return err
	}

	oldPath, newPath := splitHeaderPaths(line)
	r.cur = newSection(newPath)
	if oldPath != "" && oldPath != newPath {
		r.cur.oldPath = oldPath
	}
	r.parser.logger.Debug("File section", "file", newPath, "line", r.idx+1)
	r.idx++

	sawIndex := false
	for r.idx < len(r.lines) {
		ext := trimEOL(r.lines[r.idx])
		if !isExtendedHeader(ext) {
			break
		}
		switch {
		case strings.HasPrefix(ext, "new file mode "):
			r.cur.isNew = true
		case strings.HasPrefix(ext, "deleted file mode "):
			r.cur.isRemoved = true
		case strings.HasPrefix(ext, "rename from "):
			r.cur.oldPath = strings.TrimPrefix(ext, "rename from ")
		case strings.HasPrefix(ext, "rename to "):
			r.cur.path = strings.TrimPrefix(ext, "rename to ")
		case strings.HasPrefix(ext, "index "):
			sawIndex = true
			if m := indexRe.FindStringSubmatch(ext); m != nil {
				r.cur.indexBefore, r.cur.indexAfter = m[1], m[2]
			} else {
				r.anomaly(types.MalformedHeader, "unrecognized index line: "+ext)
			}
		}
		r.idx++
	}

	if !sawIndex {
		r.anomaly(types.MalformedHeader, "file header is not followed by an index line")
	}
	return nil
}

// between handles lines of a file section that are outside any hunk.
func (r *run) between(line string) {
	s := r.cur
	if s.hunks == 0 {
		if after, ok := strings.CutPrefix(line, "+++ "); ok && after != "/dev/null" {
			s.path = strings.TrimPrefix(after, "b/")
		}
		return
	}
	if s.preamble || isSignature(line) {
		return
	}
	if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") {
		r.anomaly(types.HunkArithmeticMismatch, "change line outside of any hunk range: "+line)
	}
}

// hunk consumes one hunk header and its body.
func (r *run) hunk(header string) error {
	s := r.cur
	m := hunkHeaderRe.FindStringSubmatch(header)
	h := hunkCursor{
		before: atoi(m[1]),
		after:  atoi(m[3]),
	}
	h.beforeFinish = h.before + count(m[2])
	h.afterFinish = h.after + count(m[4])

	s.hunks++
	s.pending = make(map[int][]int)
	r.idx++

	beforeCommit, afterCommit := r.beforeCommit(), r.afterCommit()

	for r.idx < len(r.lines) {
		line := trimEOL(r.lines[r.idx])

		if hunkHeaderRe.MatchString(line) || strings.HasPrefix(line, "diff --git ") {
			break
		}
		if h.done() {
			break
		}
		if seriesHeaderRe.MatchString(line) {
			// The blank separator line before the next patch was counted as context.
			h.before--
			h.after--
			break
		}

		switch {
		case strings.HasPrefix(line, "+"):
			if err := s.add(h.after, afterCommit); err != nil {
				return err
			}
			h.after++
		case strings.HasPrefix(line, "-"):
			if err := s.remove(h.before, h.after, beforeCommit, afterCommit); err != nil {
				return err
			}
			h.before++
		case strings.HasPrefix(line, `\`):
			// "\ No newline at end of file"
		default:
			h.before++
			h.after++
		}
		r.idx++
	}

	if !h.done() && !s.isNew && !s.isRemoved {
		detail := fmt.Sprintf("hunk %q ended at -%d +%d, expected -%d +%d",
			header, h.before, h.after, h.beforeFinish, h.afterFinish)
		r.anomaly(types.HunkArithmeticMismatch, detail)
	}
	return nil
}

// flush coalesces the current section and merges it into the result.
// Deletions of a renamed file are filed under the old path, where their
// before-lines and commits can be blamed.
func (r *run) flush() error {
	s := r.cur
	if s == nil {
		return nil
	}

	for _, line := range s.coalesce() {
		r.anomaly(types.ShadowedDeletion, fmt.Sprintf("deleted line %d dropped: the same line number is modified", line))
	}
	r.cur = nil

	if s.renamed() {
		r.result.Renames = append(r.result.Renames, types.Rename{From: s.oldPath, To: s.path})
	}

	for _, kind := range []types.ChangeType{types.Added, types.Deleted, types.Modified} {
		path := s.path
		if kind == types.Deleted && s.renamed() {
			path = s.oldPath
		}
		src := s.kind(kind)
		if len(src) == 0 {
			continue
		}
		fcs := r.fileSet(path)
		for _, line := range types.SortedLines(src) {
			if existing, ok := fcs.Changed(line); ok {
				return fmt.Errorf("%w: %s line %d already recorded as %s at %s by an earlier patch",
					ErrOverlappingChange, path, line, existing.Type, existing.Commit)
			}
			c := src[line]
			c.Path = path
			fcs.Kind(kind)[line] = c
		}
	}

	fcs := r.fileSet(s.path)
	fcs.New = fcs.New || s.isNew
	fcs.Removed = fcs.Removed || s.isRemoved

	r.parser.logger.Debug("File section parsed",
		"file", s.path, "added", len(s.added), "deleted", len(s.deleted), "modified", len(s.modified))
	return nil
}

// fileSet returns the change set for path, creating it.
func (r *run) fileSet(path string) *types.FileChangeSet {
	fcs, ok := r.result.Files[path]
	if !ok {
		fcs = types.NewFileChangeSet(path)
		r.result.Files[path] = fcs
	}
	return fcs
}

// afterCommit resolves the revision that added and modified lines belong to.
func (r *run) afterCommit() string {
	switch {
	case r.series != "":
		return r.series
	case r.parser.opts.AfterCommit != "":
		return r.parser.opts.AfterCommit
	default:
		return r.cur.indexAfter
	}
}

// beforeCommit resolves the revision that deleted lines belong to.
func (r *run) beforeCommit() string {
	switch {
	case r.series != "":
		return r.series + ParentSuffix
	case r.parser.opts.BeforeCommit != "":
		return r.parser.opts.BeforeCommit
	case r.cur.indexBefore != "":
		return r.cur.indexBefore
	}
	if after := r.afterCommit(); after != "" {
		return after + ParentSuffix
	}
	return ""
}

func (r *run) anomaly(kind types.AnomalyKind, detail string) {
	a := types.Anomaly{Kind: kind, Detail: detail, Line: r.idx + 1}
	if r.cur != nil {
		a.Path = r.cur.path
	}
	r.result.Anomalies = append(r.result.Anomalies, a)

	switch kind {
	case types.MalformedHeader:
		r.parser.logger.Error("Malformed diff header (continuing)", "file", a.Path, "line", a.Line, "detail", detail)
	case types.ShadowedDeletion:
		r.parser.logger.Warn("Deletion shadowed by a modification (continuing)", "file", a.Path, "line", a.Line, "detail", detail)
	default:
		r.parser.logger.Warn("Hunk arithmetic mismatch (continuing)", "file", a.Path, "line", a.Line, "detail", detail)
	}
}

// hunkCursor tracks the before and after positions inside one hunk.
type hunkCursor struct {
	before       int
	after        int
	beforeFinish int
	afterFinish  int
}

func (h hunkCursor) done() bool {
	return h.before == h.beforeFinish && h.after == h.afterFinish
}

func splitHeaderPaths(line string) (oldPath, newPath string) {
	rest := strings.TrimPrefix(line, "diff --git ")
	if i := strings.LastIndex(rest, " b/"); i >= 0 {
		return strings.TrimPrefix(rest[:i], "a/"), rest[i+len(" b/"):]
	}
	if m := fileHeaderRe.FindStringSubmatch(line); m != nil {
		return strings.TrimPrefix(m[1], "a/"), strings.TrimPrefix(m[2], "b/")
	}
	return "", rest
}

func isExtendedHeader(line string) bool {
	for _, prefix := range extendedHeaders {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// isSignature matches the `-- ` separator git format-patch writes before its version trailer.
func isSignature(line string) bool {
	return line == "-- " || line == "--"
}

func trimEOL(line string) string {
	return strings.TrimRight(line, "\r\n")
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// count parses an optional hunk range length; an omitted length means one line.
func count(s string) int {
	if s == "" {
		return 1
	}
	return atoi(s)
}
