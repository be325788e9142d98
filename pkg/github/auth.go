package github

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Authentication constants.
const (
	maxTokenLength     = 100 // Maximum expected length for GitHub tokens
	minTokenLength     = 40  // Minimum expected length for GitHub tokens
	classicTokenLength = 40  // Length of classic GitHub tokens
	maxAppID           = 999999999
	filePermReadOnly   = 0o400
	filePermOwnerRW    = 0o600
	jwtLifetime        = 10 * time.Minute // GitHub rejects longer-lived app JWTs
	jwtRefreshAfter    = 9 * time.Minute
	jwtClockSkew       = 60 * time.Second
)

// appKey is the identity of a GitHub App: its ID and RSA signing key, given
// inline or as a file that is re-read on every refresh.
type appKey struct {
	appID string
	path  string
	pem   []byte
}

// resolveAppKey reads the app identity from cfg, then GITHUB_APP_ID,
// GITHUB_APP_KEY (key content) and GITHUB_APP_KEY_PATH.
func resolveAppKey(cfg Config) (*appKey, error) {
	k := &appKey{appID: cfg.AppID, path: cfg.AppKeyPath}
	if k.appID == "" {
		k.appID = os.Getenv("GITHUB_APP_ID")
	}
	if k.path == "" {
		if content := os.Getenv("GITHUB_APP_KEY"); content != "" {
			k.pem = []byte(content)
			cfg.Logger.Info("Using GITHUB_APP_KEY environment variable", "component", "auth", "bytes", len(k.pem))
		} else {
			k.path = os.Getenv("GITHUB_APP_KEY_PATH")
		}
	}
	if k.path != "" {
		cfg.Logger.Info("Using private key file", "component", "auth", "path", k.path)
	}

	if k.appID == "" {
		return nil, errors.New("GitHub App ID is required: set github.app_id or GITHUB_APP_ID")
	}
	if err := validateAppID(k.appID); err != nil {
		return nil, err
	}
	if len(k.pem) == 0 && k.path == "" {
		return nil, errors.New("GitHub App private key is required: set github.app_key_path, " +
			"GITHUB_APP_KEY (key content) or GITHUB_APP_KEY_PATH (file path)")
	}
	return k, nil
}

// read returns the PEM bytes of the key.
func (k *appKey) read() ([]byte, error) {
	data := k.pem
	if len(data) == 0 {
		if k.path == "" {
			return nil, errors.New("no private key provided (neither content nor path)")
		}
		var err error
		if data, err = readPrivateKeyFile(k.path); err != nil {
			return nil, err
		}
	}
	if !bytes.Contains(data, []byte("BEGIN RSA PRIVATE KEY")) &&
		!bytes.Contains(data, []byte("BEGIN PRIVATE KEY")) {
		return nil, errors.New("private key does not appear to be a valid PEM private key")
	}
	return data, nil
}

// sign returns an app JWT valid from now.
func (k *appKey) sign(now time.Time) (string, error) {
	data, err := k.read()
	if err != nil {
		return "", err
	}
	return signAppJWT(k.appID, data, now)
}

// signAppJWT signs the RS256 JWT GitHub expects from an app. The issue time is
// backdated to tolerate clock drift.
func signAppJWT(appID string, privateKey []byte, now time.Time) (string, error) {
	block, _ := pem.Decode(privateKey)
	if block == nil {
		return "", errors.New("failed to parse PEM block containing the private key")
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		parsed, err8 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err8 != nil {
			return "", fmt.Errorf("failed to parse private key: %w", err8)
		}
		var ok bool
		if key, ok = parsed.(*rsa.PrivateKey); !ok {
			return "", errors.New("private key is not RSA")
		}
	}

	claims := jwt.RegisteredClaims{
		Issuer:    appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-jwtClockSkew)),
		ExpiresAt: jwt.NewNumericDate(now.Add(jwtLifetime)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

// newAppAuthClient creates a GitHub client with App authentication.
func newAppAuthClient(_ context.Context, cfg Config) (*Client, error) {
	key, err := resolveAppKey(cfg)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	token, err := key.sign(now)
	if err != nil {
		return nil, fmt.Errorf("failed to generate JWT: %w", err)
	}
	cfg.Logger.Info("Generated JWT for GitHub App", "component", "auth", "app_id", key.appID)

	return &Client{
		httpClient:    cfg.HTTPClient,
		logger:        cfg.Logger,
		key:           key,
		token:         token,
		jwtExpiry:     now.Add(jwtRefreshAfter),
		installations: make(map[string]*installation),
		isAppAuth:     true,
	}, nil
}

// newPersonalTokenClient creates a GitHub client with personal token authentication.
func newPersonalTokenClient(ctx context.Context, cfg Config) (*Client, error) {
	token, source, err := personalToken(ctx, cfg.Token)
	if err != nil {
		return nil, err
	}
	if err := validateToken(token); err != nil {
		return nil, fmt.Errorf("token from %s: %w", source, err)
	}
	cfg.Logger.Info("Using personal access token authentication", "component", "auth", "source", source)

	return &Client{
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		token:      token,
	}, nil
}

// personalToken returns the first token found in configured, GITHUB_TOKEN
// and `gh auth token`, and where it came from.
func personalToken(ctx context.Context, configured string) (token, source string, err error) {
	if configured != "" {
		return configured, "config", nil
	}
	if env := os.Getenv("GITHUB_TOKEN"); env != "" {
		return env, "GITHUB_TOKEN", nil
	}
	out, err := exec.CommandContext(ctx, "gh", "auth", "token").Output()
	if err != nil {
		return "", "", fmt.Errorf("no GitHub token configured and `gh auth token` failed: %w", err)
	}
	return strings.TrimSpace(string(out)), "gh", nil
}

// validateAppID validates the GitHub App ID.
func validateAppID(appID string) error {
	n, err := strconv.Atoi(appID)
	if err != nil {
		return fmt.Errorf("GitHub App ID must be numeric: %w", err)
	}
	if n <= 0 || n > maxAppID {
		return errors.New("GitHub App ID out of valid range")
	}
	return nil
}

// readPrivateKeyFile reads a private key file, which must be absolute and 0600 or 0400.
func readPrivateKeyFile(keyPath string) ([]byte, error) {
	cleanPath := filepath.Clean(keyPath)
	if !filepath.IsAbs(cleanPath) {
		return nil, errors.New("private key path must be absolute")
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("cannot access private key file: %w", err)
	}
	if info.IsDir() {
		return nil, errors.New("private key path must be a file, not a directory")
	}
	if perm := info.Mode().Perm(); perm != filePermOwnerRW && perm != filePermReadOnly {
		return nil, fmt.Errorf("private key file has insecure permissions %04o (must be 0600 or 0400)", perm)
	}
	return os.ReadFile(cleanPath)
}

// validateToken checks the shape of a personal access token.
func validateToken(token string) error {
	if token == "" {
		return errors.New("no GitHub token found")
	}
	if len(token) > maxTokenLength || len(token) < minTokenLength {
		return errors.New("invalid token length")
	}
	for _, prefix := range []string{"ghp_", "gho_", "ghu_", "ghs_", "ghr_", "github_pat_"} {
		if strings.HasPrefix(token, prefix) {
			return nil
		}
	}

	// Classic tokens are 40 lowercase hex characters
	if len(token) != classicTokenLength {
		return errors.New("invalid token format")
	}
	for _, r := range token {
		if (r < 'a' || r > 'f') && (r < '0' || r > '9') {
			return errors.New("invalid classic token format")
		}
	}
	return nil
}

// refreshJWTIfNeeded re-signs the app JWT shortly before it expires.
func (c *Client) refreshJWTIfNeeded() error {
	if !c.isAppAuth {
		return nil
	}

	c.tokenMutex.RLock()
	fresh := time.Now().Before(c.jwtExpiry)
	c.tokenMutex.RUnlock()
	if fresh {
		return nil
	}

	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()
	now := time.Now()
	if now.Before(c.jwtExpiry) {
		return nil
	}
	if c.key == nil {
		return errors.New("no private key available for JWT refresh")
	}

	token, err := c.key.sign(now)
	if err != nil {
		return fmt.Errorf("failed to generate JWT for refresh: %w", err)
	}
	c.token = token
	c.jwtExpiry = now.Add(jwtRefreshAfter)
	c.log().Info("Refreshed GitHub App JWT", "component", "auth")
	return nil
}
