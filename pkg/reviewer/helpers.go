package reviewer

import (
	"sort"
	"strings"

	"github.com/codeGROOVE-dev/marvin/pkg/types"
)

// scoreAggregator accumulates scores per user name.
type scoreAggregator map[string]float64

func (sa scoreAggregator) add(user string, score float64) {
	sa[user] += score
}

// ranked returns the scores in ascending order, ties broken by user name.
func (sa scoreAggregator) ranked() []Score {
	out := make([]Score, 0, len(sa))
	for user, score := range sa {
		out = append(out, Score{UserName: user, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].UserName < out[j].UserName
	})
	return out
}

// Weight returns the relevance of one change of kind t to the file at path.
func Weight(path string, t types.ChangeType) float64 {
	var w float64
	switch t {
	case types.Deleted:
		w = weightDeleted
	case types.Modified:
		w = weightModified
	case types.Added:
		w = weightAdded
	case types.Interesting:
		w = weightInteresting
	default:
		return 0
	}
	if isLowSignal(path) {
		w /= lowSignalDivisor
	}
	return w
}

func isLowSignal(path string) bool {
	for _, suffix := range lowSignalSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// interesting reports whether a line's content carries review signal.
func interesting(text string) bool {
	return !skipContent[strings.TrimSpace(text)]
}
