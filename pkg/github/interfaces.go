package github

import (
	"context"
	"net/http"

	"github.com/codeGROOVE-dev/marvin/pkg/blame"
	"github.com/codeGROOVE-dev/marvin/pkg/types"
)

// HTTPDoer is the part of *http.Client the API client needs. Tests swap in a mock.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// API is what the CLI and the watcher use from GitHub.
type API interface {
	// Credentials. Under app auth, org selects the installation.
	SetCurrentOrg(org string)
	IsUserAccount(account string) bool
	Token(ctx context.Context) (string, error)
	TokenFor(ctx context.Context, org string) (string, error)
	ListAppInstallations(ctx context.Context) ([]string, error)

	// Pull requests and their diffs.
	PullRequest(ctx context.Context, owner, repo string, number int) (*types.PullRequest, error)
	PullRequestDiff(ctx context.Context, owner, repo string, number int, format string) (string, error)
	AddReviewers(ctx context.Context, owner, repo string, prNumber int, reviewers []string) error

	// Blame of path as of commit, via GraphQL.
	Blame(ctx context.Context, owner, repo, path, commit string) (*blame.File, error)
}

var _ API = (*Client)(nil)
