package reviewer

import (
	"errors"
	"fmt"

	"github.com/codeGROOVE-dev/marvin/pkg/blame"
	"github.com/codeGROOVE-dev/marvin/pkg/types"
)

var (
	// ErrBlameUnavailable means blame for a referenced (path, commit) was never resolved.
	ErrBlameUnavailable = errors.New("blame unavailable")

	// ErrMissingAuthor means a change reached scoring without an attributed author.
	ErrMissingAuthor = errors.New("missing author")
)

// BlameSource is the read side of a resolved blame run.
type BlameSource interface {
	Get(path, commit string) (*blame.File, bool)
}

var _ BlameSource = (*blame.Cache)(nil)

// Attribute attaches an author from src to every Added, Deleted and Modified record.
func Attribute(result *types.ParseResult, src BlameSource) error {
	for _, c := range result.Changes() {
		f, err := blameFor(src, c)
		if err != nil {
			return err
		}
		a, ok := f.Author(c.Line)
		if !ok {
			return fmt.Errorf("%w: no blame for %s", ErrMissingAuthor, c)
		}
		c.Author = &a
	}
	return nil
}

func blameFor(src BlameSource, c *types.LineChange) (*blame.File, error) {
	f, ok := src.Get(c.Path, c.Commit)
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", ErrBlameUnavailable, c.Path, c.Commit)
	}
	return f, nil
}
