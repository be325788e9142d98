package patch

import (
	"fmt"

	"github.com/codeGROOVE-dev/marvin/pkg/types"
)

// section is the change state of one `diff --git` block.
//
// Transitions:
//
//	'+' at after-line a, pending removal queued at a  -> retract the deletion, Modified(a)
//	'+' at after-line a                               -> Added(a)
//	'-' at before-line b, Added already at a          -> retract the addition, Modified(a)
//	'-' at before-line b                              -> Deleted(b), queue b under a
//	flush                                             -> Added(k)+Deleted(k) become Modified(k);
//	                                                     Deleted(k) shadowed by Modified(k) is dropped
//	                                                     unless the section is a rename
//
// Added and Modified are keyed by after-line, Deleted by before-line. In a
// rename, Deleted lines belong to oldPath and never shadow anything.
type section struct {
	added    map[int]*types.LineChange
	deleted  map[int]*types.LineChange
	modified map[int]*types.LineChange

	// pending maps an after-line to the before-lines removed while the after
	// cursor stood there, oldest first. It is reset for every hunk.
	pending map[int][]int

	path        string
	oldPath     string
	indexBefore string
	indexAfter  string
	hunks       int
	isNew       bool
	isRemoved   bool
	preamble    bool // a patch-series header followed this section's hunks
}

func newSection(path string) *section {
	return &section{
		path:     path,
		added:    make(map[int]*types.LineChange),
		deleted:  make(map[int]*types.LineChange),
		modified: make(map[int]*types.LineChange),
		pending:  make(map[int][]int),
	}
}

func (s *section) kind(t types.ChangeType) map[int]*types.LineChange {
	switch t {
	case types.Added:
		return s.added
	case types.Deleted:
		return s.deleted
	case types.Modified:
		return s.modified
	default:
		return nil
	}
}

// add handles a '+' body line at after-line a.
func (s *section) add(a int, commit string) error {
	if queue := s.pending[a]; len(queue) > 0 {
		b := queue[0]
		s.pending[a] = queue[1:]
		delete(s.deleted, b)
		return s.record(types.Modified, a, commit)
	}
	return s.record(types.Added, a, commit)
}

// remove handles a '-' body line at before-line b while the after cursor is at a.
func (s *section) remove(b, a int, beforeCommit, afterCommit string) error {
	if _, ok := s.added[a]; ok {
		delete(s.added, a)
		return s.record(types.Modified, a, afterCommit)
	}
	if err := s.record(types.Deleted, b, beforeCommit); err != nil {
		return err
	}
	s.pending[a] = append(s.pending[a], b)
	return nil
}

// record stores a change, failing when a previous hunk already claimed the line.
func (s *section) record(t types.ChangeType, line int, commit string) error {
	var taken bool
	if t == types.Deleted {
		_, taken = s.deleted[line]
	} else {
		_, inAdded := s.added[line]
		_, inModified := s.modified[line]
		taken = inAdded || inModified
	}
	if taken {
		return fmt.Errorf("%w: %s line %d is changed by more than one hunk", ErrOverlappingChange, s.path, line)
	}

	s.kind(t)[line] = &types.LineChange{
		Line:   line,
		Type:   t,
		Path:   s.path,
		Commit: commit,
	}
	return nil
}

// renamed reports whether the before and after paths differ.
func (s *section) renamed() bool {
	return s.oldPath != "" && s.oldPath != s.path
}

// coalesce merges additions and deletions left on the same line key and
// returns the before-lines of deletions dropped in favor of a modification.
func (s *section) coalesce() (shadowed []int) {
	for line, a := range s.added {
		if _, ok := s.deleted[line]; !ok {
			continue
		}
		delete(s.added, line)
		delete(s.deleted, line)
		s.modified[line] = &types.LineChange{
			Line:   line,
			Type:   types.Modified,
			Path:   s.path,
			Commit: a.Commit,
		}
	}
	s.pending = nil
	if s.renamed() {
		return nil
	}
	for _, line := range types.SortedLines(s.deleted) {
		if _, ok := s.modified[line]; ok {
			delete(s.deleted, line)
			shadowed = append(shadowed, line)
		}
	}
	return shadowed
}
