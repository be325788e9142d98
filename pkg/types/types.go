// Package types contains shared data structures used across the reviewer system.
//
//nolint:revive // "types" is a standard Go package name for shared data structures
package types

import (
	"fmt"
	"sort"
	"time"
)

// ChangeType classifies a single line record.
type ChangeType int

// Line change kinds.
const (
	Added ChangeType = iota + 1
	Deleted
	Modified
	Interesting
)

// String returns the lowercase name of the change type.
func (t ChangeType) String() string {
	switch t {
	case Added:
		return "added"
	case Deleted:
		return "deleted"
	case Modified:
		return "modified"
	case Interesting:
		return "interesting"
	default:
		return fmt.Sprintf("ChangeType(%d)", int(t))
	}
}

// MarshalText implements encoding.TextMarshaler so YAML and JSON dumps carry names.
func (t ChangeType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ChangeType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "added":
		*t = Added
	case "deleted":
		*t = Deleted
	case "modified":
		*t = Modified
	case "interesting":
		*t = Interesting
	default:
		return fmt.Errorf("unknown change type %q", string(text))
	}
	return nil
}

// Author is the blame record of a single line.
// Scoring compares authors by UserName only.
type Author struct {
	Timestamp     time.Time `json:"timestamp" yaml:"timestamp"`
	ShortHash     string    `json:"short_hash" yaml:"short_hash"`
	CommitURL     string    `json:"commit_url,omitempty" yaml:"commit_url,omitempty"`
	AvatarURL     string    `json:"avatar_url,omitempty" yaml:"avatar_url,omitempty"`
	CommitMessage string    `json:"commit_message,omitempty" yaml:"commit_message,omitempty"`
	UserName      string    `json:"user_name" yaml:"user_name"`
}

// LineChange is one line-level change record.
// Line refers to the after revision for Added, Modified and Interesting,
// and to the before revision for Deleted. An empty Commit means unknown.
type LineChange struct {
	Author *Author    `json:"author,omitempty" yaml:"author,omitempty"`
	Path   string     `json:"path" yaml:"path"`
	Commit string     `json:"commit,omitempty" yaml:"commit,omitempty"`
	Line   int        `json:"line" yaml:"line"`
	Type   ChangeType `json:"type" yaml:"type"`
}

// Equal reports structural equality, including the attached author.
func (c *LineChange) Equal(o *LineChange) bool {
	if c == nil || o == nil {
		return c == o
	}
	if c.Line != o.Line || c.Type != o.Type || c.Path != o.Path || c.Commit != o.Commit {
		return false
	}
	if c.Author == nil || o.Author == nil {
		return c.Author == o.Author
	}
	return *c.Author == *o.Author
}

// String renders a compact description for logs and test failures.
func (c *LineChange) String() string {
	return fmt.Sprintf("%s:%d %s@%s", c.Path, c.Line, c.Type, c.Commit)
}

// FileChangeSet holds every change recorded for one file path.
type FileChangeSet struct {
	Added       map[int]*LineChange `json:"added,omitempty" yaml:"added,omitempty"`
	Deleted     map[int]*LineChange `json:"deleted,omitempty" yaml:"deleted,omitempty"`
	Modified    map[int]*LineChange `json:"modified,omitempty" yaml:"modified,omitempty"`
	Interesting map[int]*LineChange `json:"interesting,omitempty" yaml:"interesting,omitempty"`
	Path        string              `json:"path" yaml:"path"`
	New         bool                `json:"new,omitempty" yaml:"new,omitempty"`
	Removed     bool                `json:"removed,omitempty" yaml:"removed,omitempty"`
}

// NewFileChangeSet returns an empty change set for path.
func NewFileChangeSet(path string) *FileChangeSet {
	return &FileChangeSet{
		Path:        path,
		Added:       make(map[int]*LineChange),
		Deleted:     make(map[int]*LineChange),
		Modified:    make(map[int]*LineChange),
		Interesting: make(map[int]*LineChange),
	}
}

// Kind returns the map holding changes of type t.
func (f *FileChangeSet) Kind(t ChangeType) map[int]*LineChange {
	switch t {
	case Added:
		return f.Added
	case Deleted:
		return f.Deleted
	case Modified:
		return f.Modified
	case Interesting:
		return f.Interesting
	default:
		return nil
	}
}

// Changed returns the Added, Deleted or Modified record at line, if any.
func (f *FileChangeSet) Changed(line int) (*LineChange, bool) {
	for _, m := range []map[int]*LineChange{f.Added, f.Deleted, f.Modified} {
		if c, ok := m[line]; ok {
			return c, true
		}
	}
	return nil, false
}

// Len returns the number of Added, Deleted and Modified records.
func (f *FileChangeSet) Len() int {
	return len(f.Added) + len(f.Deleted) + len(f.Modified)
}

// Changes returns the records of the given kinds ordered by kind, then line.
// With no kinds it returns Added, Deleted and Modified.
func (f *FileChangeSet) Changes(kinds ...ChangeType) []*LineChange {
	if len(kinds) == 0 {
		kinds = []ChangeType{Added, Deleted, Modified}
	}
	var out []*LineChange
	for _, k := range kinds {
		m := f.Kind(k)
		for _, line := range SortedLines(m) {
			out = append(out, m[line])
		}
	}
	return out
}

// SortedLines returns the keys of m in ascending order.
func SortedLines(m map[int]*LineChange) []int {
	lines := make([]int, 0, len(m))
	for line := range m {
		lines = append(lines, line)
	}
	sort.Ints(lines)
	return lines
}

// Rename records a path relation announced by a diff header.
// The deletion-only change set on From and the addition-only change set on To
// are kept separate.
type Rename struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// AnomalyKind names a non-fatal parse condition.
type AnomalyKind string

// Non-fatal conditions reported by the patch parser.
const (
	MalformedHeader        AnomalyKind = "malformed_header"
	HunkArithmeticMismatch AnomalyKind = "hunk_arithmetic_mismatch"
	ShadowedDeletion       AnomalyKind = "shadowed_deletion" // a deletion shared its line number with a modification
)

// Anomaly is a non-fatal condition observed while parsing.
type Anomaly struct {
	Kind   AnomalyKind `json:"kind" yaml:"kind"`
	Path   string      `json:"path,omitempty" yaml:"path,omitempty"`
	Detail string      `json:"detail" yaml:"detail"`
	Line   int         `json:"line" yaml:"line"` // 1-based position in the diff input
}

// ParseResult is the change model built from one diff.
type ParseResult struct {
	Files     map[string]*FileChangeSet `json:"files" yaml:"files"`
	Renames   []Rename                  `json:"renames,omitempty" yaml:"renames,omitempty"`
	Anomalies []Anomaly                 `json:"anomalies,omitempty" yaml:"anomalies,omitempty"`
}

// NewParseResult returns an empty result.
func NewParseResult() *ParseResult {
	return &ParseResult{Files: make(map[string]*FileChangeSet)}
}

// Paths returns the file paths in ascending order.
func (r *ParseResult) Paths() []string {
	paths := make([]string, 0, len(r.Files))
	for p := range r.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Changes returns every record of the given kinds across all files, ordered by
// path, kind and line. With no kinds it returns Added, Deleted and Modified.
func (r *ParseResult) Changes(kinds ...ChangeType) []*LineChange {
	var out []*LineChange
	for _, p := range r.Paths() {
		out = append(out, r.Files[p].Changes(kinds...)...)
	}
	return out
}

// Len returns the number of Added, Deleted and Modified records.
func (r *ParseResult) Len() int {
	n := 0
	for _, f := range r.Files {
		n += f.Len()
	}
	return n
}

// PullRequest represents a GitHub pull request.
type PullRequest struct {
	Title      string
	State      string
	Author     string
	Repository string
	Owner      string
	HeadSHA    string
	BaseSHA    string
	MergeBase  string // merge-base of head and base; the before revision of the PR diff
	Reviewers  []string
	Number     int
	Draft      bool
}
