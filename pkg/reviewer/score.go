package reviewer

import (
	"fmt"

	"github.com/codeGROOVE-dev/marvin/pkg/types"
)

// Score is one reviewer candidate's accumulated relevance.
type Score struct {
	UserName string  `json:"user_name" yaml:"user_name"`
	Score    float64 `json:"score" yaml:"score"`
}

// Rank folds every attributed change of result into per-author scores,
// returned in ascending order so the strongest candidate is last. Equal scores
// are ordered by user name. Every change must carry an author.
func Rank(result *types.ParseResult) ([]Score, error) {
	agg := make(scoreAggregator)
	for _, c := range result.Changes(scoredKinds...) {
		if c.Author == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingAuthor, c)
		}
		agg.add(c.Author.UserName, Weight(c.Path, c.Type))
	}
	return agg.ranked(), nil
}
