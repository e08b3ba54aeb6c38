// Package signin turns credentials into a session: username/password login,
// Google sign-in through the backend, and logout.
package signin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/jrsteele09/imhotep-client/apiclient"
	"github.com/jrsteele09/imhotep-client/internal/errors"
	"github.com/jrsteele09/imhotep-client/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	GoogleURLPath          = "/api/auth/google/url/"
	GoogleAuthenticatePath = "/api/auth/google/authenticate/"

	// Platform values understood by the Google URL endpoint.
	PlatformDesktop = "desktop"
	PlatformWeb     = "web"

	emailNotVerified = "Email not verified"
)

// API is the subset of apiclient.Client used here.
type API interface {
	GetJSON(ctx context.Context, path string, query url.Values, out any) error
	PostJSON(ctx context.Context, path string, in, out any) error
}

// Session is the part of session.Manager that sign-in writes to.
type Session interface {
	Login(ctx context.Context, tokens session.Tokens, user *session.User) error
	Logout(ctx context.Context) error
	RefreshToken() string
}

// LoginError is a rejected sign-in. Info carries a secondary backend message
// when it differs from the main one.
type LoginError struct {
	StatusCode        int
	Message           string
	Info              string
	NeedsVerification bool
}

func (e *LoginError) Error() string {
	return e.Message
}

type tokenResponse struct {
	Access    string        `json:"access"`
	Refresh   string        `json:"refresh"`
	User      *session.User `json:"user"`
	IsNewUser bool          `json:"is_new_user"`
}

type Service struct {
	api     API
	session Session
	logger  zerolog.Logger
}

type Option func(*Service)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(api API, sess Session, options ...Option) *Service {
	s := &Service{api: api, session: sess, logger: log.Logger}
	for _, opt := range options {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "signin").Logger()
	return s
}

// Login signs in with a username or email and a password.
func (s *Service) Login(ctx context.Context, username, password string) (*session.User, error) {
	var resp tokenResponse
	err := s.api.PostJSON(ctx, apiclient.LoginPath, map[string]string{"username": username, "password": password}, &resp)
	if err != nil {
		return nil, loginError(err)
	}
	if err := s.install(ctx, resp); err != nil {
		return nil, errors.Wrapf(err, "[signin Login]")
	}
	return resp.User, nil
}

// GoogleAuthURL asks the backend for the Google consent URL for platform.
func (s *Service) GoogleAuthURL(ctx context.Context, platform string) (string, error) {
	var resp struct {
		AuthURL string `json:"auth_url"`
	}
	if err := s.api.GetJSON(ctx, GoogleURLPath, url.Values{"platform": {platform}}, &resp); err != nil {
		return "", fmt.Errorf("[signin GoogleAuthURL] %w: %w", errors.ErrAuthorizationURLUnavailable, err)
	}
	if resp.AuthURL == "" {
		return "", fmt.Errorf("[signin GoogleAuthURL] empty auth_url: %w", errors.ErrAuthorizationURLUnavailable)
	}
	return resp.AuthURL, nil
}

// GoogleAuthenticate exchanges the code Google redirected back with. The
// bool reports whether the backend created a new account.
func (s *Service) GoogleAuthenticate(ctx context.Context, code string) (*session.User, bool, error) {
	if code == "" {
		return nil, false, fmt.Errorf("[signin GoogleAuthenticate]: %w", errors.ErrMissingAuthorizationCode)
	}
	var resp tokenResponse
	if err := s.api.PostJSON(ctx, GoogleAuthenticatePath, map[string]string{"code": code}, &resp); err != nil {
		return nil, false, fmt.Errorf("[signin GoogleAuthenticate] %w: %w", errors.ErrExchangeFailed, err)
	}
	if err := s.install(ctx, resp); err != nil {
		return nil, false, errors.Wrapf(err, "[signin GoogleAuthenticate]")
	}
	return resp.User, resp.IsNewUser, nil
}

// Logout tells the backend to revoke the refresh token, then clears the
// local session. The local session is cleared even if the backend call fails.
func (s *Service) Logout(ctx context.Context) error {
	if refresh := s.session.RefreshToken(); refresh != "" {
		if err := s.api.PostJSON(ctx, apiclient.LogoutPath, map[string]string{"refresh": refresh}, nil); err != nil {
			s.logger.Warn().Err(err).Msg("backend logout failed, clearing local session anyway")
		}
	}
	return s.session.Logout(ctx)
}

func (s *Service) install(ctx context.Context, resp tokenResponse) error {
	if resp.User == nil {
		return fmt.Errorf("response carried no user: %w", errors.ErrInvalidSession)
	}
	if err := s.session.Login(ctx, session.Tokens{Access: resp.Access, Refresh: resp.Refresh}, resp.User); err != nil {
		return err
	}
	s.logger.Info().Str("username", resp.User.Username).Bool("new_user", resp.IsNewUser).Msg("signed in")
	return nil
}

func loginError(err error) error {
	var httpErr *apiclient.HTTPError
	if !errors.As(err, &httpErr) {
		return errors.Wrapf(err, "[signin Login]")
	}

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = httpErr.Decode(&body)

	le := &LoginError{StatusCode: httpErr.StatusCode}
	switch {
	case body.Error != "":
		le.Message = body.Error
		le.NeedsVerification = body.Error == emailNotVerified
		if body.Message != "" && body.Message != body.Error {
			le.Info = body.Message
		}
	case body.Message != "":
		le.Message = body.Message
	case httpErr.StatusCode == http.StatusUnauthorized:
		le.Message = "Invalid credentials"
	case httpErr.StatusCode >= http.StatusInternalServerError:
		le.Message = "Server error. Please try again later."
	default:
		le.Message = "Login failed"
	}
	return le
}
