// Package proxy forwards browser requests to a backend API. An authenticated
// target injects the session's bearer token, refreshes it when it is missing
// or rejected, and retries the call exactly once after a refresh.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"github.com/gin-gonic/gin"
	"github.com/martinmaurice/erpgate/internal/auth"
	"github.com/martinmaurice/erpgate/pkg/apierror"
	"github.com/martinmaurice/erpgate/pkg/enum"
	"github.com/martinmaurice/erpgate/pkg/session"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultTimeout      = 15 * time.Second
	DefaultMaxBodyBytes = 1 << 20
	PathParam           = "path"

	defaultContentType = "application/json"
)

type Target struct {
	Name          string
	BaseURL       string
	Authenticated bool
}

type Handler struct {
	target         Target
	base           *url.URL
	httpClient     *http.Client
	refresher      auth.Refresher
	cookies        session.Cookies
	appIDHeader    string
	appID          string
	timeout        time.Duration
	maxBodyBytes   int64
	observeBackend func(stage string, d time.Duration)
}

type Option func(*Handler)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(h *Handler) {
		h.httpClient = httpClient
	}
}

func WithRefresher(refresher auth.Refresher) Option {
	return func(h *Handler) {
		h.refresher = refresher
	}
}

func WithCookies(cookies session.Cookies) Option {
	return func(h *Handler) {
		h.cookies = cookies
	}
}

func WithAppID(header, value string) Option {
	return func(h *Handler) {
		h.appIDHeader = header
		h.appID = value
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		h.timeout = timeout
	}
}

func WithMaxBodyBytes(maxBodyBytes int64) Option {
	return func(h *Handler) {
		h.maxBodyBytes = maxBodyBytes
	}
}

func WithBackendObserver(observe func(stage string, d time.Duration)) Option {
	return func(h *Handler) {
		h.observeBackend = observe
	}
}

func New(target Target, opts ...Option) (*Handler, error) {
	base, err := url.Parse(target.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid %s base url: %w", target.Name, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid %s base url %q: scheme and host are required", target.Name, target.BaseURL)
	}

	h := &Handler{
		target:         target,
		base:           base,
		httpClient:     http.DefaultClient,
		cookies:        session.DefaultCookies(),
		timeout:        DefaultTimeout,
		maxBodyBytes:   DefaultMaxBodyBytes,
		observeBackend: func(string, time.Duration) {},
	}
	for _, opt := range opts {
		opt(h)
	}

	if target.Authenticated && h.refresher == nil {
		return nil, fmt.Errorf("%s target is authenticated but has no token refresher", target.Name)
	}
	return h, nil
}

// ValidPath rejects paths that could walk out of the proxied prefix.
func ValidPath(path string) bool {
	return !strings.Contains(path, "..") && !strings.Contains(path, "//")
}

type outboundRequest struct {
	method      string
	url         string
	contentType string
	body        []byte
}

type backendResponse struct {
	status      int
	contentType string
	body        []byte
}

func (h *Handler) targetURL(path string, query url.Values) string {
	u := *h.base
	u.Path = strings.TrimRight(h.base.Path, "/") + path
	u.RawPath = ""

	// rebuilt value by value rather than reusing the raw inbound query
	params := url.Values{}
	for key, values := range query {
		for _, value := range values {
			params.Add(key, value)
		}
	}
	u.RawQuery = params.Encode()
	u.Fragment = ""
	return u.String()
}

func (h *Handler) readBody(r *http.Request) ([]byte, error) {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return nil, nil
	}
	if r.ContentLength > h.maxBodyBytes {
		return nil, apierror.PayloadTooLarge
	}
	if r.Body == nil {
		return []byte{}, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if int64(len(body)) > h.maxBodyBytes {
		return nil, apierror.PayloadTooLarge
	}
	return body, nil
}

// forward performs one backend call under its own timeout and reads the
// whole response before that timeout fires.
func (h *Handler) forward(ctx context.Context, stage enum.Stage, req outboundRequest, token string) (*backendResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}

	outbound, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierror.BackendUnreachable, err)
	}
	if token != "" {
		outbound.Header.Set("Authorization", "Bearer "+token)
	}
	if h.appIDHeader != "" {
		outbound.Header.Set(h.appIDHeader, h.appID)
	}
	if req.contentType != "" {
		outbound.Header.Set("Content-Type", req.contentType)
	}

	started := time.Now()
	defer func() {
		h.observeBackend(stage.String(), time.Since(started))
	}()

	resp, err := h.httpClient.Do(outbound)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	return &backendResponse{
		status:      resp.StatusCode,
		contentType: contentType,
		body:        respBody,
	}, nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", apierror.BackendTimeout, err)
	}
	return fmt.Errorf("%w: %v", apierror.BackendUnreachable, err)
}

func (h *Handler) fail(c *gin.Context, logger *slog.Logger, stage enum.Stage, err error) {
	logger.Info("proxy request rejected", "stage", stage.String(), "error", err)
	apierror.Abort(c, err)
}

// Handle runs the request through path validation, token acquisition,
// forwarding and at most one refresh-and-retry. Rate limiting happens in
// middleware before it.
func (h *Handler) Handle(c *gin.Context) {
	logger := slog.With("handler", h.target.Name, "method", c.Request.Method)
	ctx := c.Request.Context()

	path := c.Param(PathParam)
	if !ValidPath(path) {
		h.fail(c, logger, enum.StagePathValidate, apierror.InvalidPath)
		return
	}
	logger = logger.With("path", path)

	store := session.NewCookieStore(c.Writer, c.Request)

	var token string
	if h.target.Authenticated {
		var ok bool
		token, ok = store.Get(h.cookies.Access.Name)
		if !ok {
			refreshed, err := h.refresher.Refresh(ctx, store)
			if err != nil {
				h.fail(c, logger, enum.StageEnsureToken, fmt.Errorf("%w: %v", apierror.Unauthorized, err))
				return
			}
			token = refreshed
		}
	}

	body, err := h.readBody(c.Request)
	if err != nil {
		h.fail(c, logger, enum.StageForward, err)
		return
	}

	req := outboundRequest{
		method:      c.Request.Method,
		url:         h.targetURL(path, c.Request.URL.Query()),
		contentType: c.GetHeader("Content-Type"),
		body:        body,
	}

	resp, err := h.forward(ctx, enum.StageForward, req, token)
	if err != nil {
		h.fail(c, logger, enum.StageForward, err)
		return
	}

	if resp.status == http.StatusUnauthorized && h.target.Authenticated {
		refreshed, err := h.refresher.Refresh(ctx, store)
		if err != nil {
			h.fail(c, logger, enum.StageRetryWithRefresh, fmt.Errorf("%w: %v", apierror.SessionExpired, err))
			return
		}

		// the retried response is returned as is, whatever its status
		resp, err = h.forward(ctx, enum.StageRetryWithRefresh, req, refreshed)
		if err != nil {
			h.fail(c, logger, enum.StageRetryWithRefresh, err)
			return
		}
	}

	logger.Debug("proxied", "stage", enum.StageRespond.String(), "status", resp.status)
	c.Data(resp.status, resp.contentType, resp.body)
}
