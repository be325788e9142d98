// Package github provides GitHub API client functionality.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const (
	apiBaseURL        = "https://api.github.com"
	acceptJSON        = "application/vnd.github.v3+json"
	defaultHTTPTimout = 30 * time.Second
)

// Client handles all GitHub API interactions.
type Client struct {
	jwtExpiry     time.Time
	httpClient    HTTPDoer
	logger        *slog.Logger
	installations map[string]*installation // by account login
	key           *appKey
	token         string // personal access token, or the current app JWT
	currentOrg    string
	retry         retryPolicy
	tokenMutex    sync.RWMutex
	isAppAuth     bool
}

// Config holds configuration for creating a new GitHub client.
type Config struct {
	HTTPClient  HTTPDoer     // nil builds an http.Client with HTTPTimeout
	Logger      *slog.Logger // nil uses slog.Default()
	AppID       string
	AppKeyPath  string
	Token       string // Personal access token (for non-app auth)
	HTTPTimeout time.Duration
	UseAppAuth  bool
}

// New creates a new GitHub API client using a personal token, `gh auth token`,
// or GitHub App authentication.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = defaultHTTPTimout
		}
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	if cfg.UseAppAuth {
		return newAppAuthClient(ctx, cfg)
	}
	return newPersonalTokenClient(ctx, cfg)
}

// SetCurrentOrg sets the current organization being processed.
func (c *Client) SetCurrentOrg(org string) {
	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()
	c.currentOrg = org
}

// IsUserAccount checks if the given account is a user account (not an organization).
func (c *Client) IsUserAccount(account string) bool {
	c.tokenMutex.RLock()
	defer c.tokenMutex.RUnlock()
	inst, ok := c.installations[account]
	return ok && inst.kind == "User"
}

// Token returns the current GitHub token for external use (e.g., sprinkler).
// For App authentication with a currentOrg set, returns the installation token.
// Otherwise returns the base token (JWT or personal access token).
func (c *Client) Token(ctx context.Context) (string, error) {
	c.tokenMutex.RLock()
	org := c.currentOrg
	c.tokenMutex.RUnlock()
	return c.TokenFor(ctx, org)
}

// TokenFor returns the token for org without changing the current org.
func (c *Client) TokenFor(ctx context.Context, org string) (string, error) {
	if c.isAppAuth && org != "" {
		return c.getInstallationToken(ctx, org)
	}
	c.tokenMutex.RLock()
	defer c.tokenMutex.RUnlock()
	return c.token, nil
}

func (c *Client) log() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// drainAndCloseBody drains and closes an HTTP response body to prevent resource leaks.
func drainAndCloseBody(body io.ReadCloser) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		slog.Warn("Failed to drain response body", "error", err)
	}
	if err := body.Close(); err != nil {
		slog.Warn("Failed to close response body", "error", err)
	}
}

// authToken returns the token requests should carry.
func (c *Client) authToken(ctx context.Context) string {
	c.tokenMutex.RLock()
	token, org := c.token, c.currentOrg
	c.tokenMutex.RUnlock()

	if !c.isAppAuth || org == "" {
		return token
	}
	installToken, err := c.getInstallationToken(ctx, org)
	if err != nil {
		// Graceful degradation: try with JWT token
		c.log().Warn("Failed to get installation token, attempting with JWT (may have limited access)", "org", org, "error", err)
		return token
	}
	c.log().Debug("Using installation token for org", "org", org)
	return installToken
}

// doRequest makes an HTTP request to the GitHub API with retry logic.
// Rate limits and server errors are retried; the caller owns the response body.
func (c *Client) doRequest(ctx context.Context, method, apiURL, accept string, body any) (*http.Response, error) {
	if c.isAppAuth {
		if err := c.refreshJWTIfNeeded(); err != nil {
			return nil, fmt.Errorf("failed to refresh JWT: %w", err)
		}
	}

	sanitizedURL := sanitizeURLForLogging(apiURL)
	c.log().Info("HTTP request", "component", "http", "method", method, "url", sanitizedURL)

	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	var resp *http.Response
	err := c.retry.do(ctx, c.log(), fmt.Sprintf("%s %s", method, sanitizedURL), func() error {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}

		req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		if c.isAppAuth {
			req.Header.Set("Authorization", "Bearer "+c.authToken(ctx))
		} else {
			req.Header.Set("Authorization", "token "+c.authToken(ctx))
		}
		req.Header.Set("Accept", accept)
		if method == http.MethodPatch || method == http.MethodPost || method == http.MethodPut {
			req.Header.Set("Content-Type", "application/json")
		}

		localResp, err := c.httpClient.Do(req) //nolint:bodyclose // body is closed here on retry or passed to caller
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if localResp.StatusCode == http.StatusTooManyRequests {
			drainAndCloseBody(localResp.Body)
			c.log().Warn("Rate limited - will retry with backoff", "method", method, "url", sanitizedURL, "status", 429)
			return fmt.Errorf("http %d: rate limited", localResp.StatusCode)
		}

		if localResp.StatusCode >= http.StatusInternalServerError && localResp.StatusCode < 600 {
			drainAndCloseBody(localResp.Body)
			c.log().Warn("Server error - will retry with backoff", "method", method, "url", sanitizedURL, "status", localResp.StatusCode)
			return fmt.Errorf("http %d: server error", localResp.StatusCode)
		}

		resp = localResp
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.log().Info("HTTP response", "component", "http", "method", method, "url", sanitizedURL, "status", resp.StatusCode)
	return resp, nil
}

// Retry constants.
const (
	maxRetryAttempts  = 25              // Maximum retry attempts for API calls
	initialRetryDelay = 1 * time.Second // Initial delay for retry attempts
	maxRetryDelay     = 2 * time.Minute // Maximum delay cap
)

// retryPolicy configures API retries. The zero value uses the constants above.
type retryPolicy struct {
	attempts uint
	delay    time.Duration
	maxDelay time.Duration
}

func (p retryPolicy) do(ctx context.Context, logger *slog.Logger, operation string, fn func() error) error {
	attempts, delay, maxDelay := p.attempts, p.delay, p.maxDelay
	if attempts == 0 {
		attempts = maxRetryAttempts
	}
	if delay <= 0 {
		delay = initialRetryDelay
	}
	if maxDelay <= 0 {
		maxDelay = maxRetryDelay
	}

	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.MaxDelay(maxDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(delay/4),
		retry.OnRetry(func(n uint, err error) {
			logger.Info("Retry attempt", "component", "retry", "operation", operation, "attempt", n+1, "max_attempts", attempts, "error", err)
		}),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
	)
}

// retryable reports whether err is a rate limit, server error or transient network failure.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "rate limited") ||
		strings.Contains(errStr, "server error") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "EOF")
}

// sanitizeURLForLogging removes query parameters that may carry secrets.
func sanitizeURLForLogging(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil {
		return apiURL
	}
	q := u.Query()
	for _, key := range []string{"access_token", "token", "client_secret"} {
		if q.Has(key) {
			q.Set(key, "REDACTED")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// AddReviewers adds reviewers to a pull request.
func (c *Client) AddReviewers(ctx context.Context, owner, repo string, prNumber int, reviewers []string) error {
	apiURL := fmt.Sprintf("%s/repos/%s/%s/pulls/%d/requested_reviewers", apiBaseURL, owner, repo, prNumber)

	payload := map[string]any{
		"reviewers": reviewers,
	}

	resp, err := c.doRequest(ctx, http.MethodPost, apiURL, acceptJSON, payload) //nolint:bodyclose // closed by drainAndCloseBody
	if err != nil {
		return fmt.Errorf("failed to add reviewers: %w", err)
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to add reviewers: status %d (could not read body: %w)", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to add reviewers: status %d: %s", resp.StatusCode, string(body))
	}

	c.log().Info("Added reviewers to PR", "owner", owner, "repo", repo, "pr", prNumber, "reviewers", reviewers)
	return nil
}
