package reviewer

import (
	"fmt"
	"log/slog"

	"github.com/codeGROOVE-dev/marvin/pkg/blame"
	"github.com/codeGROOVE-dev/marvin/pkg/types"
)

// Expander discovers interesting unchanged lines adjacent to each change.
type Expander struct {
	logger *slog.Logger
}

// NewExpander creates an Expander. A nil logger uses slog.Default().
func NewExpander(logger *slog.Logger) *Expander {
	if logger == nil {
		logger = slog.Default()
	}
	return &Expander{logger: logger.With("component", "expand")}
}

// Expand replaces every file's Interesting set with the lines found by probing
// backward and forward from each Added, Deleted and Modified record.
// A probe stops without a result on a line already changed at the same commit
// or when it leaves the file; it stops with a result on the first line whose
// content is not in the skip set.
func (e *Expander) Expand(result *types.ParseResult, src BlameSource) error {
	for _, path := range result.Paths() {
		fcs := result.Files[path]
		fcs.Interesting = make(map[int]*types.LineChange)

		for _, c := range fcs.Changes() {
			f, err := blameFor(src, c)
			if err != nil {
				return err
			}
			for _, step := range []int{-1, 1} {
				line, ok := probe(fcs, c, f, step)
				if !ok {
					continue
				}
				a, ok := f.Author(line)
				if !ok {
					return fmt.Errorf("%w: interesting line %s:%d at %s", ErrMissingAuthor, path, line, c.Commit)
				}
				fcs.Interesting[line] = &types.LineChange{
					Author: &a,
					Path:   path,
					Commit: c.Commit,
					Line:   line,
					Type:   types.Interesting,
				}
				e.logger.Debug("Interesting line", "file", path, "commit", c.Commit, "line", line, "from", c.Line)
			}
		}
	}
	return nil
}

// probe walks from c.Line in steps of step and returns the interesting line found.
func probe(fcs *types.FileChangeSet, c *types.LineChange, f *blame.File, step int) (int, bool) {
	for pos := c.Line + step; f.Contains(pos); pos += step {
		if other, ok := fcs.Changed(pos); ok && other.Commit == c.Commit {
			return 0, false
		}
		if text, ok := f.Text(pos); ok && interesting(text) {
			return pos, true
		}
	}
	return 0, false
}
