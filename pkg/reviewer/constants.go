// Package reviewer attributes changed lines to their authors and ranks reviewer candidates.
package reviewer

import "github.com/codeGROOVE-dev/marvin/pkg/types"

// Relevance weights per change kind.
const (
	weightDeleted     = 2.0
	weightModified    = 3.0
	weightAdded       = 1.0
	weightInteresting = 1.0

	// lowSignalDivisor scales down changes to documentation and config files.
	lowSignalDivisor = 3.0
)

// lowSignalSuffixes are matched case-sensitively against the end of the path.
var lowSignalSuffixes = []string{".conf", ".txt", ".md", ".cfg"}

// skipContent is the set of trimmed line contents that never count as interesting.
var skipContent = map[string]bool{
	"":      true,
	"{":     true,
	"}":     true,
	"begin": true,
	"end":   true,
}

// scoredKinds lists every change kind that contributes to a ranking.
var scoredKinds = []types.ChangeType{types.Added, types.Deleted, types.Modified, types.Interesting}
