package forwarder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/pbrresearch/datalogger/internal/infrastructure/config"
)

// tokenSource supplies bearer tokens for collector requests.
//
// Two modes, chosen by configuration:
//   - Static: a pre-issued token from config, never refreshed.
//   - Login: credentials are exchanged at the collector's login endpoint
//     for a token, which is cached until Invalidate is called (typically
//     after a 401).
//
// Thread Safety:
//   - All methods are safe for concurrent use; workers sharing one
//     forwarder share one cached token.
type tokenSource struct {
	cfg    config.CollectorAuthConfig
	client *http.Client

	mu    sync.Mutex
	token string
}

// newTokenSource creates a token source from collector auth config.
func newTokenSource(cfg config.CollectorAuthConfig, client *http.Client) *tokenSource {
	return &tokenSource{
		cfg:    cfg,
		client: client,
	}
}

// Token returns a bearer token for the Authorization header.
//
// Static tokens are returned as-is. In login mode the cached token is
// returned if present, otherwise a login round-trip is performed.
// An empty token with no login URL configured yields an empty string,
// meaning the collector is unauthenticated.
func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	if ts.cfg.Token != "" {
		return ts.cfg.Token, nil
	}
	if ts.cfg.LoginURL == "" {
		return "", nil
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" {
		return ts.token, nil
	}

	token, err := ts.login(ctx)
	if err != nil {
		return "", err
	}
	ts.token = token
	return token, nil
}

// Invalidate discards the cached token so the next Token call performs
// a fresh login. No-op for static tokens.
func (ts *tokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.mu.Unlock()
}

// login exchanges credentials for a token at the collector's login
// endpoint. The endpoint accepts form-encoded email and password and
// responds with a JSON document carrying the token.
func (ts *tokenSource) login(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("email", ts.cfg.Email)
	form.Set("password", ts.cfg.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.cfg.LoginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: building login request: %w", ErrAuthFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: login request: %w", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: login returned %d", ErrAuthFailed, resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decoding login response: %w", ErrAuthFailed, err)
	}
	if body.Token == "" {
		return "", fmt.Errorf("%w: login response carried no token", ErrAuthFailed)
	}

	return body.Token, nil
}
