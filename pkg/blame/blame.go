// Package blame resolves per-line authorship and content of files at given revisions.
package blame

import (
	"context"
	"errors"
	"sort"

	"github.com/codeGROOVE-dev/marvin/pkg/types"
)

// ErrNotAvailable is returned by providers when the requested revision of a
// file cannot be located.
var ErrNotAvailable = errors.New("blame not available")

// Provider returns blame and content for one file at one revision.
// An empty commit means the provider's default revision.
type Provider interface {
	Blame(ctx context.Context, path, commit string) (*File, error)
}

// File is the blame of one file at one revision.
type File struct {
	Authors   map[int]types.Author `json:"authors"`
	Lines     map[int]string       `json:"lines"`
	Path      string               `json:"path"`
	Commit    string               `json:"commit"`
	LineCount int                  `json:"line_count"`
}

// Author returns the blame record of line.
func (f *File) Author(line int) (types.Author, bool) {
	a, ok := f.Authors[line]
	return a, ok
}

// Text returns the literal content of line.
func (f *File) Text(line int) (string, bool) {
	s, ok := f.Lines[line]
	return s, ok
}

// Contains reports whether line lies within [1, LineCount].
func (f *File) Contains(line int) bool {
	return line >= 1 && line <= f.LineCount
}

// Key identifies one blame lookup.
type Key struct {
	Path   string `json:"path"`
	Commit string `json:"commit"`
}

func (k Key) String() string {
	return k.Path + "@" + k.Commit
}

// KeysFor returns the distinct (path, commit) pairs referenced by the Added,
// Deleted and Modified records of result, sorted by path then commit.
func KeysFor(result *types.ParseResult) []Key {
	seen := make(map[Key]bool)
	var keys []Key
	for _, c := range result.Changes() {
		k := Key{Path: c.Path, Commit: c.Commit}
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Commit < keys[j].Commit
	})
}
