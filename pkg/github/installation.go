package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	installationsPerPage = 100
	// Installation tokens are renewed this long before GitHub expires them.
	installationTokenMargin = 5 * time.Minute
)

// installation is one account the app is installed on.
type installation struct {
	expiry time.Time
	token  string
	kind   string // "Organization" or "User"
	id     int
}

// installationJSON is the REST shape of an app installation.
type installationJSON struct {
	Account struct {
		Login string `json:"login"`
		Type  string `json:"type"`
	} `json:"account"`
	ID int `json:"id"`
}

// appRequest sends a request authenticated as the app itself. It bypasses
// doRequest, whose auth path would ask for an installation token.
func (c *Client) appRequest(ctx context.Context, method, apiURL string, wantStatus int, out any) error {
	if err := c.refreshJWTIfNeeded(); err != nil {
		return fmt.Errorf("failed to refresh JWT: %w", err)
	}
	c.tokenMutex.RLock()
	jwtToken := c.token
	c.tokenMutex.RUnlock()

	return c.retry.do(ctx, c.log(), method+" "+sanitizeURLForLogging(apiURL), func() error {
		req, err := http.NewRequestWithContext(ctx, method, apiURL, http.NoBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+jwtToken)
		req.Header.Set("Accept", acceptJSON)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer drainAndCloseBody(resp.Body)

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("http %d: rate limited", resp.StatusCode)
		case resp.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("http %d: server error", resp.StatusCode)
		case resp.StatusCode != wantStatus:
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("status %d (could not read body: %w)", resp.StatusCode, err)
			}
			return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
}

// getInstallationToken returns a cached or newly created installation token for org.
// Orgs not seen by ListAppInstallations are looked up on demand.
func (c *Client) getInstallationToken(ctx context.Context, org string) (string, error) {
	if !c.isAppAuth {
		return c.token, nil
	}
	if org == "" {
		return "", errors.New("organization name cannot be empty")
	}

	c.tokenMutex.RLock()
	inst := c.installations[org]
	var id int
	if inst != nil {
		if inst.token != "" && time.Now().Before(inst.expiry) {
			token := inst.token
			c.tokenMutex.RUnlock()
			return token, nil
		}
		id = inst.id
	}
	c.tokenMutex.RUnlock()

	if id == 0 {
		found, err := c.findInstallation(ctx, org)
		if err != nil {
			return "", err
		}
		id = found.id
	}

	c.log().Info("Creating installation access token", "component", "auth", "org", org, "installation_id", id)
	var tokenResp struct {
		ExpiresAt time.Time `json:"expires_at"`
		Token     string    `json:"token"`
	}
	apiURL := fmt.Sprintf("%s/app/installations/%d/access_tokens", apiBaseURL, id)
	if err := c.appRequest(ctx, http.MethodPost, apiURL, http.StatusCreated, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to create installation token for %s: %w", org, err)
	}
	if tokenResp.Token == "" {
		return "", errors.New("received empty installation token")
	}

	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()
	inst = c.installationFor(org, id)
	inst.token = tokenResp.Token
	inst.expiry = tokenResp.ExpiresAt.Add(-installationTokenMargin)

	c.log().Info("Created installation access token", "component", "auth", "org", org, "expires_at", tokenResp.ExpiresAt.Format(time.RFC3339))
	return inst.token, nil
}

// findInstallation looks up the app installation on one account.
func (c *Client) findInstallation(ctx context.Context, account string) (*installation, error) {
	var found installationJSON
	apiURL := fmt.Sprintf("%s/users/%s/installation", apiBaseURL, url.PathEscape(account))
	if err := c.appRequest(ctx, http.MethodGet, apiURL, http.StatusOK, &found); err != nil {
		return nil, fmt.Errorf("no installation found for %s (is the app installed?): %w", account, err)
	}

	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()
	inst := c.installationFor(account, found.ID)
	inst.kind = found.Account.Type
	return inst, nil
}

// installationFor returns the record for account, creating it. Callers hold tokenMutex.
func (c *Client) installationFor(account string, id int) *installation {
	if c.installations == nil {
		c.installations = make(map[string]*installation)
	}
	inst, ok := c.installations[account]
	if !ok {
		inst = &installation{}
		c.installations[account] = inst
	}
	inst.id = id
	return inst
}

// ListAppInstallations returns all accounts where this GitHub app is installed.
func (c *Client) ListAppInstallations(ctx context.Context) ([]string, error) {
	if !c.isAppAuth {
		return nil, errors.New("app installations can only be listed with GitHub App authentication")
	}

	c.log().Info("Fetching GitHub App installations", "component", "api")
	var all []installationJSON
	for page := 1; ; page++ {
		var batch []installationJSON
		apiURL := fmt.Sprintf("%s/app/installations?per_page=%d&page=%d", apiBaseURL, installationsPerPage, page)
		if err := c.appRequest(ctx, http.MethodGet, apiURL, http.StatusOK, &batch); err != nil {
			return nil, fmt.Errorf("failed to list app installations: %w", err)
		}
		all = append(all, batch...)
		if len(batch) < installationsPerPage {
			break
		}
	}

	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()
	accounts := make([]string, 0, len(all))
	for _, ij := range all {
		login := ij.Account.Login
		accounts = append(accounts, login)
		c.installationFor(login, ij.ID).kind = ij.Account.Type
		c.log().Debug("Found installation", "component", "app", "account", login, "type", ij.Account.Type, "id", ij.ID)
	}
	c.log().Info("Found installations", "component", "app", "count", len(accounts))
	return accounts, nil
}
