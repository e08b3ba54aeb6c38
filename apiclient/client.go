// Package apiclient is the HTTP client every backend call goes through. It
// attaches the session's bearer token and, on a 401, refreshes the session
// once and replays the request.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/imhotep-client/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	LoginPath   = "/api/auth/login/"
	LogoutPath  = "/api/auth/logout/"
	RefreshPath = "/api/auth/token/refresh/"

	RequestIDHeader = "X-Request-ID"
)

// Paths whose 401 means bad credentials, not an expired access token.
var noReplayPaths = []string{LoginPath, LogoutPath, RefreshPath}

// Session is the part of session.Manager the client depends on.
type Session interface {
	AccessToken() string
	RefreshStaleToken(ctx context.Context, stale string) (string, error)
}

type Client struct {
	baseURL    string
	session    Session
	httpClient *http.Client
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = mt
	}
}

func New(baseURL string, sess Session, options ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		session: sess,
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	c.logger = c.logger.With().Str("component", "apiclient").Logger()
	return c
}

// BaseURL returns the backend root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// NewRequest builds a request against the backend. A non-nil body is sent
// as JSON and can be replayed.
func (c *Client) NewRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("[apiclient NewRequest] encode body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("[apiclient NewRequest] %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Do sends req with the current access token. A 401 outside the auth
// endpoints triggers one refresh and one replay; the replay's response is
// returned whatever its status. The caller closes the response body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	requestID := req.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := c.logger.With().Str("request_id", requestID).Str("method", req.Method).Str("path", req.URL.Path).Logger()

	token := c.session.AccessToken()
	resp, err := c.httpClient.Do(authorize(req, req.Body, token, requestID))
	if err != nil {
		return nil, fmt.Errorf("[apiclient Do] %s %s: %w", req.Method, req.URL.Path, err)
	}
	logger.Debug().Int("status", resp.StatusCode).Msg("response")

	if resp.StatusCode != http.StatusUnauthorized || !replayable(req) {
		return resp, nil
	}

	var body io.ReadCloser
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		logger.Warn().Msg("request body cannot be rewound, not replaying")
		return resp, nil
	}
	if req.GetBody != nil {
		if body, err = req.GetBody(); err != nil {
			logger.Err(err).Msg("request body cannot be rewound, not replaying")
			return resp, nil
		}
	}
	discard(resp)

	fresh, err := c.session.RefreshStaleToken(req.Context(), token)
	if err != nil {
		if body != nil {
			_ = body.Close()
		}
		c.metrics.Replayed("error")
		logger.Warn().Err(err).Msg("refresh after 401 failed")
		return nil, fmt.Errorf("[apiclient Do] %s %s: %w", req.Method, req.URL.Path, err)
	}

	resp, err = c.httpClient.Do(authorize(req, body, fresh, requestID))
	if err != nil {
		c.metrics.Replayed("error")
		return nil, fmt.Errorf("[apiclient Do] replay %s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.metrics.Replayed("unauthorized")
	} else {
		c.metrics.Replayed("ok")
	}
	logger.Debug().Int("status", resp.StatusCode).Msg("replayed response")
	return resp, nil
}

// GetJSON issues a GET and decodes a 2xx body into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	req, err := c.NewRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, out)
}

// PostJSON sends in as a JSON body and decodes a 2xx body into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	req, err := c.NewRequest(ctx, http.MethodPost, path, nil, in)
	if err != nil {
		return err
	}
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("[apiclient] read %s response: %w", resp.Request.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{StatusCode: resp.StatusCode, Path: resp.Request.URL.Path, Body: raw}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("[apiclient] decode %s response: %w", resp.Request.URL.Path, err)
	}
	return nil
}

func authorize(req *http.Request, body io.ReadCloser, token, requestID string) *http.Request {
	out := req.Clone(req.Context())
	out.Body = body
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	} else {
		out.Header.Del("Authorization")
	}
	out.Header.Set(RequestIDHeader, requestID)
	return out
}

func replayable(req *http.Request) bool {
	for _, p := range noReplayPaths {
		if strings.HasSuffix(req.URL.Path, p) {
			return false
		}
	}
	return true
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
