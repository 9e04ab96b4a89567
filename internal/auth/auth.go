// Package auth talks to the backend's authentication endpoints and keeps the
// session cookies in step with what the backend issues.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/martinmaurice/erpgate/pkg/config"
	"github.com/martinmaurice/erpgate/pkg/session"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	RefreshOutcomeSuccess   = "success"
	RefreshOutcomeNoToken   = "no_token"
	RefreshOutcomeFailed    = "failed"
	maxTokenResponseBytes   = 1 << 20
	jsonContentType         = "application/json"
	authorizationHeaderName = "Authorization"
)

var (
	ErrNoRefreshToken = errors.New("no refresh token")
	ErrRefreshFailed  = errors.New("token refresh failed")
	ErrLoginFailed    = errors.New("login response carried no access token")
)

type Refresher interface {
	Refresh(ctx context.Context, store session.Store) (string, error)
}

// RefreshObserver is told the outcome of every refresh attempt.
type RefreshObserver func(outcome string)

type Client struct {
	httpClient  *http.Client
	backendURL  string
	paths       config.BackendConfig
	appIDHeader string
	appID       string
	cookies     session.Cookies
	timeout     time.Duration
	observe     RefreshObserver
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithAppID(header, value string) Option {
	return func(c *Client) {
		c.appIDHeader = header
		c.appID = value
	}
}

func WithCookies(cookies session.Cookies) Option {
	return func(c *Client) {
		c.cookies = cookies
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

func WithRefreshObserver(observe RefreshObserver) Option {
	return func(c *Client) {
		c.observe = observe
	}
}

func New(backendURL string, paths config.BackendConfig, opts ...Option) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		backendURL: strings.TrimRight(backendURL, "/"),
		paths:      paths,
		cookies:    session.DefaultCookies(),
		timeout:    15 * time.Second,
		observe:    func(string) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type tokenPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    any    `json:"expires_in"`
}

// tokenResponse accepts the token pair either at the top level or inside the
// backend's {"data": ...} envelope.
type tokenResponse struct {
	tokenPayload
	Data *tokenPayload `json:"data"`
}

func (r tokenResponse) tokens() tokenPayload {
	if r.AccessToken == "" && r.Data != nil {
		return *r.Data
	}
	return r.tokenPayload
}

// lifetime is expires_in when it is a positive number of seconds, zero
// otherwise so the cookie default applies.
func (p tokenPayload) lifetime() time.Duration {
	seconds, ok := p.ExpiresIn.(float64)
	if !ok || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

func decodeTokens(body io.Reader) (tokenPayload, error) {
	var resp tokenResponse
	if err := json.NewDecoder(io.LimitReader(body, maxTokenResponseBytes)).Decode(&resp); err != nil {
		return tokenPayload{}, err
	}
	return resp.tokens(), nil
}

func (c *Client) newRequest(ctx context.Context, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.backendURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", jsonContentType)
	if c.appIDHeader != "" {
		req.Header.Set(c.appIDHeader, c.appID)
	}
	return req, nil
}

func (c *Client) storeTokens(store session.Store, tokens tokenPayload) {
	store.Set(c.cookies.Access, tokens.AccessToken, tokens.lifetime())
	if tokens.RefreshToken != "" {
		store.Set(c.cookies.Refresh, tokens.RefreshToken, 0)
	}
}

// Refresh trades the refresh cookie for a new access token and rotates the
// cookies. It never retries. Any failure past the missing-token check ends
// the session by clearing both cookies.
func (c *Client) Refresh(ctx context.Context, store session.Store) (string, error) {
	logger := slog.With("component", "token_refresh")

	refreshToken, ok := store.Get(c.cookies.Refresh.Name)
	if !ok {
		c.observe(RefreshOutcomeNoToken)
		return "", ErrNoRefreshToken
	}

	fail := func(reason string, err error) (string, error) {
		logger.Warn("token refresh failed", "reason", reason, "error", err)
		c.cookies.ClearAll(store)
		c.observe(RefreshOutcomeFailed)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrRefreshFailed, reason, err)
		}
		return "", fmt.Errorf("%w: %s", ErrRefreshFailed, reason)
	}

	payload, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return fail("encode request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, c.paths.RefreshPath, bytes.NewReader(payload))
	if err != nil {
		return fail("build request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail("backend unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(fmt.Sprintf("backend status %d", resp.StatusCode), nil)
	}

	tokens, err := decodeTokens(resp.Body)
	if err != nil {
		return fail("malformed response", err)
	}
	if tokens.AccessToken == "" {
		return fail("response carried no access token", nil)
	}

	c.storeTokens(store, tokens)
	c.observe(RefreshOutcomeSuccess)
	logger.Debug("token refreshed", "rotated_refresh_token", tokens.RefreshToken != "")
	return tokens.AccessToken, nil
}

// BackendResponse is a backend reply relayed to the browser untouched.
type BackendResponse struct {
	Status      int
	ContentType string
	Body        []byte
}

// Login forwards the credentials body as is. On success the issued tokens go
// into cookies and a nil response is returned; any other backend reply comes
// back verbatim for the caller to relay.
func (c *Client) Login(ctx context.Context, store session.Store, credentials []byte) (*BackendResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, c.paths.LoginPath, bytes.NewReader(credentials))
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
		if err != nil {
			return nil, err
		}
		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = jsonContentType
		}
		return &BackendResponse{Status: resp.StatusCode, ContentType: contentType, Body: body}, nil
	}

	tokens, err := decodeTokens(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	if tokens.AccessToken == "" {
		return nil, ErrLoginFailed
	}

	c.storeTokens(store, tokens)
	return nil, nil
}

// Logout tells the backend, best effort, and always clears the cookies.
func (c *Client) Logout(ctx context.Context, store session.Store) {
	defer c.cookies.ClearAll(store)

	accessToken, ok := store.Get(c.cookies.Access.Name)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, c.paths.LogoutPath, http.NoBody)
	if err != nil {
		slog.Warn("could not build logout request", "error", err)
		return
	}
	req.Header.Set(authorizationHeaderName, "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Warn("backend logout failed", "error", err)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
