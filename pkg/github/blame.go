package github

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/marvin/pkg/blame"
	"github.com/codeGROOVE-dev/marvin/pkg/types"
)

// defaultRevision is blamed when no commit is given.
const defaultRevision = "HEAD"

const blameQuery = `query($owner: String!, $repo: String!, $expr: String!, $path: String!, $blobExpr: String!) {
  repository(owner: $owner, name: $repo) {
    commit: object(expression: $expr) {
      ... on Commit {
        blame(path: $path) {
          ranges {
            startingLine
            endingLine
            commit {
              oid
              abbreviatedOid
              url
              messageHeadline
              committedDate
              author {
                name
                avatarUrl
                user {
                  login
                }
              }
            }
          }
        }
      }
    }
    blob: object(expression: $blobExpr) {
      ... on Blob {
        text
        isBinary
      }
    }
  }
}`

type blameRange struct {
	Commit struct {
		CommittedDate   time.Time `json:"committedDate"`
		OID             string    `json:"oid"`
		AbbreviatedOID  string    `json:"abbreviatedOid"`
		URL             string    `json:"url"`
		MessageHeadline string    `json:"messageHeadline"`
		Author          struct {
			User *struct {
				Login string `json:"login"`
			} `json:"user"`
			Name      string `json:"name"`
			AvatarURL string `json:"avatarUrl"`
		} `json:"author"`
	} `json:"commit"`
	StartingLine int `json:"startingLine"`
	EndingLine   int `json:"endingLine"`
}

type blameResponse struct {
	Data struct {
		Repository *struct {
			Commit *struct {
				Blame *struct {
					Ranges []blameRange `json:"ranges"`
				} `json:"blame"`
			} `json:"commit"`
			Blob *struct {
				Text     *string `json:"text"`
				IsBinary bool    `json:"isBinary"`
			} `json:"blob"`
		} `json:"repository"`
	} `json:"data"`
}

// Blame returns per-line authorship and content of path at commit in owner/repo.
// An empty commit blames HEAD. Revisions or paths GitHub cannot resolve yield
// blame.ErrNotAvailable.
func (c *Client) Blame(ctx context.Context, owner, repo, path, commit string) (*blame.File, error) {
	expr := commit
	if expr == "" {
		expr = defaultRevision
	}

	var resp blameResponse
	err := c.graphQL(ctx, blameQuery, map[string]any{
		"owner":    owner,
		"repo":     repo,
		"expr":     expr,
		"path":     path,
		"blobExpr": expr + ":" + path,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("blame %s@%s: %w", path, expr, err)
	}

	r := resp.Data.Repository
	switch {
	case r == nil:
		return nil, fmt.Errorf("repository %s/%s: %w", owner, repo, blame.ErrNotAvailable)
	case r.Commit == nil || r.Commit.Blame == nil:
		return nil, fmt.Errorf("revision %s: %w", expr, blame.ErrNotAvailable)
	case r.Blob == nil || r.Blob.Text == nil || r.Blob.IsBinary:
		return nil, fmt.Errorf("%s@%s has no text content: %w", path, expr, blame.ErrNotAvailable)
	}

	f := newBlameFile(path, commit, *r.Blob.Text, r.Commit.Blame.Ranges)
	c.log().Debug("Fetched blame", "component", "blame", "file", path, "commit", expr,
		"lines", f.LineCount, "ranges", len(r.Commit.Blame.Ranges))
	return f, nil
}

// newBlameFile merges blob text with blame ranges.
func newBlameFile(path, commit, text string, ranges []blameRange) *blame.File {
	lines := splitLines(text)
	f := &blame.File{
		Path:      path,
		Commit:    commit,
		LineCount: len(lines),
		Lines:     make(map[int]string, len(lines)),
		Authors:   make(map[int]types.Author, len(lines)),
	}
	for i, l := range lines {
		f.Lines[i+1] = l
	}

	for _, rg := range ranges {
		a := types.Author{
			Timestamp:     rg.Commit.CommittedDate,
			ShortHash:     rg.Commit.AbbreviatedOID,
			CommitURL:     rg.Commit.URL,
			AvatarURL:     rg.Commit.Author.AvatarURL,
			CommitMessage: rg.Commit.MessageHeadline,
			UserName:      rg.Commit.Author.Name,
		}
		if u := rg.Commit.Author.User; u != nil && u.Login != "" {
			a.UserName = u.Login
		}
		for line := rg.StartingLine; line <= rg.EndingLine; line++ {
			if f.Contains(line) {
				f.Authors[line] = a
			}
		}
	}
	return f
}

// splitLines splits text into lines without their terminators.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(text, "\n")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// BlameClient fetches blame for files in any repository.
type BlameClient interface {
	Blame(ctx context.Context, owner, repo, path, commit string) (*blame.File, error)
}

// BlameSource adapts a BlameClient to blame.Provider for one repository.
type BlameSource struct {
	client BlameClient
	owner  string
	repo   string
}

// NewBlameSource returns a blame.Provider for owner/repo.
func NewBlameSource(client BlameClient, owner, repo string) *BlameSource {
	return &BlameSource{client: client, owner: owner, repo: repo}
}

// Blame implements blame.Provider.
func (s *BlameSource) Blame(ctx context.Context, path, commit string) (*blame.File, error) {
	return s.client.Blame(ctx, s.owner, s.repo, path, commit)
}

// Scope names the repository as owner/repo on GitHub.
func (s *BlameSource) Scope() string {
	return "github:" + s.owner + "/" + s.repo
}

var _ blame.Scoped = (*BlameSource)(nil)
