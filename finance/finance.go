// Package finance connects the signed-in account to Imhotep Finance using an
// OAuth2 authorization code flow with PKCE. The backend holds the client
// credentials and performs the code exchange; this package owns the verifier
// and drives the redirect.
package finance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/imhotep-client/apiclient"
	"github.com/jrsteele09/imhotep-client/internal/errors"
	"github.com/jrsteele09/imhotep-client/pkce"
	"github.com/jrsteele09/imhotep-client/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	AuthorizeURLPath = "/api/finance/imhotep/authorize-url/"
	CallbackPath     = "/api/finance/imhotep/callback/"
	StatusPath       = "/api/finance/imhotep/status/"
	CurrenciesPath   = "/api/finance/imhotep/currencies/"
)

// DefaultCurrencies is served when the backend cannot list currencies.
var DefaultCurrencies = []string{"USD", "EUR", "GBP", "EGP"}

// API is the subset of apiclient.Client used here.
type API interface {
	GetJSON(ctx context.Context, path string, query url.Values, out any) error
	PostJSON(ctx context.Context, path string, in, out any) error
}

// Authenticator reports whether there is a signed-in user.
type Authenticator interface {
	IsAuthenticated() bool
}

// Navigator sends the user agent to the authorization URL.
type Navigator interface {
	Open(url string) error
}

type NavigatorFunc func(url string) error

func (f NavigatorFunc) Open(url string) error { return f(url) }

// ConnectionStatus mirrors the backend status payload. Scopes is the space
// separated grant string.
type ConnectionStatus struct {
	Connected  bool       `json:"connected"`
	TokenValid bool       `json:"token_valid"`
	Scopes     string     `json:"scopes"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

// Usable is true when the connection exists and its token has not expired.
func (s ConnectionStatus) Usable() bool {
	return s.Connected && s.TokenValid
}

func (s ConnectionStatus) ScopeList() []string {
	return strings.Fields(s.Scopes)
}

// CallbackResult is the exchange response. Raw holds the body exactly as the
// backend sent it.
type CallbackResult struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Scopes    string          `json:"scopes"`
	ExpiresAt *time.Time      `json:"expires_at"`
	Raw       json.RawMessage `json:"-"`
}

type Connector struct {
	api       API
	auth      Authenticator
	verifiers storage.Store
	navigator Navigator
	logger    zerolog.Logger

	mu         sync.RWMutex
	status     ConnectionStatus
	statusErr  error
	currencies []string
}

type Option func(*Connector)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Connector) {
		c.logger = logger
	}
}

// New builds a Connector. verifiers should be session scoped; a durable
// store would keep verifiers across restarts.
func New(api API, auth Authenticator, verifiers storage.Store, navigator Navigator, options ...Option) *Connector {
	c := &Connector{
		api:       api,
		auth:      auth,
		verifiers: verifiers,
		navigator: navigator,
		logger:    log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "finance").Logger()
	return c
}

// BeginConnection creates a fresh verifier, asks the backend for an
// authorization URL bound to its challenge and opens it.
func (c *Connector) BeginConnection(ctx context.Context) error {
	pair := pkce.NewPair()
	if err := c.verifiers.Set(ctx, storage.KeyFinanceCodeVerifier, pair.Verifier); err != nil {
		return errors.Wrapf(err, "[finance BeginConnection] store verifier")
	}

	var body struct {
		AuthorizeURL string `json:"authorize_url"`
	}
	err := c.api.GetJSON(ctx, AuthorizeURLPath, pair.Query(), &body)
	if err == nil && body.AuthorizeURL == "" {
		err = fmt.Errorf("empty authorize_url")
	}
	if err != nil {
		c.discardVerifier(ctx)
		return fmt.Errorf("[finance BeginConnection] %w: %w", errors.ErrAuthorizationURLUnavailable, err)
	}

	c.logger.Info().Msg("opening Imhotep Finance authorization page")
	if err := c.navigator.Open(body.AuthorizeURL); err != nil {
		c.discardVerifier(ctx)
		return errors.Wrapf(err, "[finance BeginConnection] open authorization url")
	}
	return nil
}

// CompleteConnection finishes the flow with the redirect parameters. The
// stored verifier is gone when it returns, whatever the outcome.
func (c *Connector) CompleteConnection(ctx context.Context, code, errParam, errDescription string) (*CallbackResult, error) {
	if errParam != "" {
		c.discardVerifier(ctx)
		return nil, errors.NewExternalAuthorizationError(errParam, errDescription)
	}
	if code == "" {
		c.discardVerifier(ctx)
		return nil, fmt.Errorf("[finance CompleteConnection]: %w", errors.ErrMissingAuthorizationCode)
	}

	verifier, err := c.verifiers.Get(ctx, storage.KeyFinanceCodeVerifier)
	c.discardVerifier(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = errors.ErrMissingCodeVerifier
		}
		return nil, fmt.Errorf("[finance CompleteConnection] %w: %w", errors.ErrExchangeFailed, err)
	}

	var raw json.RawMessage
	payload := map[string]string{"code": code, "code_verifier": verifier}
	if err := c.api.PostJSON(ctx, CallbackPath, payload, &raw); err != nil {
		var httpErr *apiclient.HTTPError
		if errors.As(err, &httpErr) {
			result := decodeCallback(httpErr.Body)
			if result.Message == "" {
				result.Message = httpErr.Message()
			}
			return result, fmt.Errorf("[finance CompleteConnection] %w: %w", errors.ErrExchangeFailed, err)
		}
		return nil, fmt.Errorf("[finance CompleteConnection] %w: %w", errors.ErrExchangeFailed, err)
	}

	result := decodeCallback(raw)
	if !result.Success {
		msg := result.Message
		if msg == "" {
			msg = "backend did not confirm the connection"
		}
		return result, fmt.Errorf("[finance CompleteConnection] %w: %s", errors.ErrExchangeFailed, msg)
	}

	if _, err := c.RefreshStatus(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("status refresh after connecting failed")
	}
	c.logger.Info().Str("scopes", result.Scopes).Msg("connected to Imhotep Finance")
	return result, nil
}

// Status returns the last status fetched by RefreshStatus and the error it
// reported, if any.
func (c *Connector) Status() (ConnectionStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status, c.statusErr
}

// RefreshStatus fetches the connection status. Signed out users get the zero
// status without a request. A 401 is returned but not kept as the visible
// error since the session layer already deals with it.
func (c *Connector) RefreshStatus(ctx context.Context) (ConnectionStatus, error) {
	if !c.auth.IsAuthenticated() {
		c.mu.Lock()
		c.status, c.statusErr = ConnectionStatus{}, nil
		c.mu.Unlock()
		return ConnectionStatus{}, nil
	}

	var status ConnectionStatus
	if err := c.api.GetJSON(ctx, StatusPath, nil, &status); err != nil {
		var httpErr *apiclient.HTTPError
		c.mu.Lock()
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized {
			c.statusErr = nil
		} else {
			c.statusErr = fmt.Errorf("[finance RefreshStatus] unable to check Imhotep Finance connection: %w", err)
		}
		c.mu.Unlock()
		return ConnectionStatus{}, errors.Wrapf(err, "[finance RefreshStatus]")
	}

	c.mu.Lock()
	c.status, c.statusErr = status, nil
	c.mu.Unlock()
	return status, nil
}

// Currencies lists the currencies Imhotep Finance accepts. The first
// successful answer is cached; failures fall back to DefaultCurrencies.
func (c *Connector) Currencies(ctx context.Context) []string {
	c.mu.RLock()
	cached := c.currencies
	c.mu.RUnlock()
	if len(cached) > 0 {
		return append([]string(nil), cached...)
	}

	var body struct {
		Currencies []string `json:"currencies"`
	}
	if err := c.api.GetJSON(ctx, CurrenciesPath, nil, &body); err != nil {
		c.logger.Warn().Err(err).Msg("listing currencies failed, using defaults")
		return append([]string(nil), DefaultCurrencies...)
	}

	c.mu.Lock()
	c.currencies = body.Currencies
	c.mu.Unlock()
	return append([]string(nil), body.Currencies...)
}

func (c *Connector) discardVerifier(ctx context.Context) {
	// Detached: the verifier must go even if the caller's context is done.
	if err := c.verifiers.Delete(context.WithoutCancel(ctx), storage.KeyFinanceCodeVerifier); err != nil {
		c.logger.Err(err).Msg("discarding code verifier")
	}
}

func decodeCallback(raw []byte) *CallbackResult {
	result := &CallbackResult{Raw: append(json.RawMessage(nil), raw...)}
	if err := json.Unmarshal(raw, result); err != nil {
		result.Message = strings.TrimSpace(string(raw))
	}
	return result
}
