package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/codeGROOVE-dev/marvin/pkg/types"
)

// Media types for PR diffs.
const (
	acceptDiff  = "application/vnd.github.v3.diff"
	acceptPatch = "application/vnd.github.v3.patch"
)

// Diff formats accepted by PullRequestDiff.
const (
	FormatDiff  = "diff"  // one combined diff from merge base to head
	FormatPatch = "patch" // a series of per-commit patches
)

// ErrInvalidPullRequestURL is returned by ParsePullRequestURL.
var ErrInvalidPullRequestURL = errors.New("invalid pull request reference")

// PullRequest fetches a single pull request and the merge base of its head and base.
func (c *Client) PullRequest(ctx context.Context, owner, repo string, prNumber int) (*types.PullRequest, error) {
	c.log().Info("Fetching PR details", "component", "api", "owner", owner, "repo", repo, "pr", prNumber)
	apiURL := fmt.Sprintf("%s/repos/%s/%s/pulls/%d", apiBaseURL, owner, repo, prNumber)
	resp, err := c.doRequest(ctx, http.MethodGet, apiURL, acceptJSON, nil) //nolint:bodyclose // closed by drainAndCloseBody
	if err != nil {
		return nil, err
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get PR (status %d)", resp.StatusCode)
	}

	var prData struct {
		Title string `json:"title"`
		State string `json:"state"`
		User  struct {
			Login string `json:"login"`
		} `json:"user"`
		Head struct {
			SHA string `json:"sha"`
		} `json:"head"`
		Base struct {
			SHA string `json:"sha"`
		} `json:"base"`
		RequestedReviewers []struct {
			Login string `json:"login"`
		} `json:"requested_reviewers"`
		Number int  `json:"number"`
		Draft  bool `json:"draft"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&prData); err != nil {
		return nil, fmt.Errorf("failed to decode pull request: %w", err)
	}

	reviewers := make([]string, 0, len(prData.RequestedReviewers))
	for _, reviewer := range prData.RequestedReviewers {
		reviewers = append(reviewers, reviewer.Login)
	}

	pr := &types.PullRequest{
		Number:     prData.Number,
		Title:      prData.Title,
		State:      prData.State,
		Draft:      prData.Draft,
		Author:     prData.User.Login,
		Repository: repo,
		Owner:      owner,
		HeadSHA:    prData.Head.SHA,
		BaseSHA:    prData.Base.SHA,
		Reviewers:  reviewers,
	}

	mergeBase, err := c.mergeBase(ctx, owner, repo, pr.BaseSHA, pr.HeadSHA)
	if err != nil {
		// The base tip is close enough for blame when the compare API is unavailable
		c.log().Warn("Failed to get merge base for PR (degrading gracefully)", "pr", prNumber, "error", err)
		mergeBase = pr.BaseSHA
	}
	pr.MergeBase = mergeBase

	return pr, nil
}

// mergeBase returns the merge-base commit of base and head.
func (c *Client) mergeBase(ctx context.Context, owner, repo, base, head string) (string, error) {
	if base == "" || head == "" {
		return "", errors.New("base and head are required")
	}
	apiURL := fmt.Sprintf("%s/repos/%s/%s/compare/%s...%s", apiBaseURL, owner, repo, base, head)
	resp, err := c.doRequest(ctx, http.MethodGet, apiURL, acceptJSON, nil) //nolint:bodyclose // closed by drainAndCloseBody
	if err != nil {
		return "", err
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to compare %s...%s (status %d)", base, head, resp.StatusCode)
	}

	var compare struct {
		MergeBaseCommit struct {
			SHA string `json:"sha"`
		} `json:"merge_base_commit"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&compare); err != nil {
		return "", fmt.Errorf("failed to decode comparison: %w", err)
	}
	if compare.MergeBaseCommit.SHA == "" {
		return "", errors.New("comparison has no merge base")
	}
	return compare.MergeBaseCommit.SHA, nil
}

// PullRequestDiff returns the raw diff of a pull request in the given format
// (FormatDiff or FormatPatch).
func (c *Client) PullRequestDiff(ctx context.Context, owner, repo string, prNumber int, format string) (string, error) {
	var accept string
	switch format {
	case FormatDiff, "":
		accept = acceptDiff
	case FormatPatch:
		accept = acceptPatch
	default:
		return "", fmt.Errorf("unsupported diff format %q", format)
	}

	c.log().Info("Fetching PR diff", "component", "api", "owner", owner, "repo", repo, "pr", prNumber, "format", format)
	apiURL := fmt.Sprintf("%s/repos/%s/%s/pulls/%d", apiBaseURL, owner, repo, prNumber)
	resp, err := c.doRequest(ctx, http.MethodGet, apiURL, accept, nil) //nolint:bodyclose // closed by drainAndCloseBody
	if err != nil {
		return "", err
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to get PR diff (status %d)", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read PR diff: %w", err)
	}
	return string(body), nil
}

// ParsePullRequestURL parses "owner/repo#123", "owner/repo/pull/123" or a
// github.com pull request URL.
func ParsePullRequestURL(ref string) (owner, repo string, number int, err error) {
	ref = strings.TrimSpace(ref)
	if u, perr := url.Parse(ref); perr == nil && u.Host != "" {
		if u.Host != "github.com" && u.Host != "www.github.com" {
			return "", "", 0, fmt.Errorf("%w: unsupported host %q", ErrInvalidPullRequestURL, u.Host)
		}
		ref = strings.Trim(u.Path, "/")
	}

	var parts []string
	if i := strings.Index(ref, "#"); i != -1 {
		parts = append(strings.Split(ref[:i], "/"), "pull", ref[i+1:])
	} else {
		parts = strings.Split(ref, "/")
	}

	if len(parts) < 4 || (parts[2] != "pull" && parts[2] != "pulls") {
		return "", "", 0, fmt.Errorf("%w: %q", ErrInvalidPullRequestURL, ref)
	}
	owner, repo = parts[0], parts[1]
	if owner == "" || repo == "" {
		return "", "", 0, fmt.Errorf("%w: %q", ErrInvalidPullRequestURL, ref)
	}
	number, err = strconv.Atoi(parts[3])
	if err != nil || number <= 0 {
		return "", "", 0, fmt.Errorf("%w: bad number in %q", ErrInvalidPullRequestURL, ref)
	}
	return owner, repo, number, nil
}
