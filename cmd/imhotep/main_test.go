package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jrsteele09/imhotep-client/internal/config"
	apperrors "github.com/jrsteele09/imhotep-client/internal/errors"
	"github.com/stretchr/testify/require"
)

func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"access":"a1","refresh":"r1","user":{"id":4,"username":"khufu","first_name":"Khufu"}}`)
	})
	mux.HandleFunc("/api/auth/logout/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/auth/google/url/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"auth_url":"https://accounts.example/o/oauth2/auth"}`)
	})
	mux.HandleFunc("/api/finance/imhotep/authorize-url/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"authorize_url":"https://finance.example/authorize"}`)
	})
	mux.HandleFunc("/api/finance/imhotep/callback/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"message":"Connected to Imhotep Finance successfully.","scopes":"transactions:write"}`)
	})
	mux.HandleFunc("/api/finance/imhotep/status/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"connected":true,"token_valid":true,"scopes":"transactions:write","expires_at":null}`)
	})
	mux.HandleFunc("/api/finance/imhotep/currencies/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// redirectingNavigator stands in for the browser and the provider: it
// immediately sends the user back to the loopback address.
type redirectingNavigator struct {
	addr  string
	query string
}

func (n redirectingNavigator) Open(string) error {
	go func() {
		resp, err := http.Get("http://" + n.addr + "/callback?" + n.query)
		if err == nil {
			_ = resp.Body.Close()
		}
	}()
	return nil
}

func newTestApp(t *testing.T, backend string, query string) (*app, *bytes.Buffer) {
	t.Helper()
	addr := freeAddr(t)
	c, err := config.FromValues(config.Values{
		AppName:      "Imhotep",
		APIURL:       backend,
		HTTPTimeout:  5 * time.Second,
		CallbackAddr: addr,
		Store: config.StoreValues{
			Backend:   config.StoreFile,
			TokenFile: filepath.Join(t.TempDir(), "session.json"),
		},
	})
	require.NoError(t, err)

	var out bytes.Buffer
	a, err := newApp(context.Background(), c, &out, redirectingNavigator{addr: addr, query: query})
	require.NoError(t, err)
	t.Cleanup(a.close)
	return a, &out
}

func TestLoginWhoamiLogout(t *testing.T) {
	ctx := context.Background()
	srv := fakeBackend(t)
	a, out := newTestApp(t, srv.URL, "")

	require.ErrorIs(t, a.dispatch(ctx, "whoami", nil), apperrors.ErrNotAuthenticated)

	require.NoError(t, a.dispatch(ctx, "login", []string{"-u", "khufu", "-p", "giza"}))
	require.Contains(t, out.String(), "Signed in as khufu")

	out.Reset()
	require.NoError(t, a.dispatch(ctx, "whoami", nil))
	require.Contains(t, out.String(), "khufu (id 4)")
	require.Contains(t, out.String(), "name:     Khufu")

	require.NoError(t, a.dispatch(ctx, "logout", nil))
	require.False(t, a.session.IsAuthenticated())
}

func TestSessionSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	srv := fakeBackend(t)
	tokenFile := filepath.Join(t.TempDir(), "session.json")
	c, err := config.FromValues(config.Values{
		APIURL:      srv.URL,
		HTTPTimeout: time.Second,
		Store:       config.StoreValues{Backend: config.StoreFile, TokenFile: tokenFile, Passphrase: "sphinx"},
	})
	require.NoError(t, err)

	first, err := newApp(ctx, c, io.Discard, nil)
	require.NoError(t, err)
	require.NoError(t, first.dispatch(ctx, "login", []string{"-u", "khufu", "-p", "giza"}))

	raw, err := os.ReadFile(tokenFile)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "refresh_token")

	second, err := newApp(ctx, c, io.Discard, nil)
	require.NoError(t, err)
	require.True(t, second.session.IsAuthenticated())
	require.Equal(t, "a1", second.session.AccessToken())
}

func TestLoginNeedsCredentials(t *testing.T) {
	srv := fakeBackend(t)
	a, _ := newTestApp(t, srv.URL, "")
	err := a.dispatch(context.Background(), "login", []string{"-u", "khufu"})
	require.ErrorIs(t, err, apperrors.ErrInvalidRequest)
}

func TestFinanceConnect(t *testing.T) {
	ctx := context.Background()
	srv := fakeBackend(t)

	t.Run("connects", func(t *testing.T) {
		a, out := newTestApp(t, srv.URL, "code=finance-code")
		require.NoError(t, a.dispatch(ctx, "login", []string{"-u", "khufu", "-p", "giza"}))

		require.NoError(t, a.dispatch(ctx, "finance-connect", nil))
		require.Contains(t, out.String(), "Connected to Imhotep Finance successfully.")

		out.Reset()
		require.NoError(t, a.dispatch(ctx, "finance-status", nil))
		require.Contains(t, out.String(), "Granted scopes: transactions:write")
	})

	t.Run("user declines", func(t *testing.T) {
		a, _ := newTestApp(t, srv.URL, "error=access_denied&error_description=User%2520declined")
		require.NoError(t, a.dispatch(ctx, "login", []string{"-u", "khufu", "-p", "giza"}))

		err := a.dispatch(ctx, "finance-connect", nil)
		require.EqualError(t, err, "User declined")
	})

	t.Run("requires a session", func(t *testing.T) {
		a, _ := newTestApp(t, srv.URL, "code=x")
		require.ErrorIs(t, a.dispatch(ctx, "finance-connect", nil), apperrors.ErrNotAuthenticated)
	})
}

func TestGoogleLoginDeclined(t *testing.T) {
	ctx := context.Background()
	srv := fakeBackend(t)

	t.Run("description is decoded like the finance flow", func(t *testing.T) {
		a, _ := newTestApp(t, srv.URL, "error=access_denied&error_description=User%2520declined")
		err := a.dispatch(ctx, "google-login", nil)
		var authErr *apperrors.ExternalAuthorizationError
		require.ErrorAs(t, err, &authErr)
		require.Equal(t, "access_denied", authErr.Code)
		require.EqualError(t, err, "User declined")
		require.False(t, a.session.IsAuthenticated())
	})

	t.Run("falls back to the error code", func(t *testing.T) {
		a, _ := newTestApp(t, srv.URL, "error=access_denied")
		require.EqualError(t, a.dispatch(ctx, "google-login", nil), "access_denied")
	})
}

func TestCurrenciesFallBack(t *testing.T) {
	srv := fakeBackend(t)
	a, out := newTestApp(t, srv.URL, "")
	require.NoError(t, a.dispatch(context.Background(), "currencies", nil))
	require.Equal(t, "USD EUR GBP EGP", strings.TrimSpace(out.String()))
}

func TestMetricsFile(t *testing.T) {
	srv := fakeBackend(t)
	a, _ := newTestApp(t, srv.URL, "")
	path := filepath.Join(t.TempDir(), "imhotep.prom")
	require.NoError(t, a.writeMetrics(path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "imhotep_session_refresh_requests_total 0")
}

func TestUnknownCommand(t *testing.T) {
	srv := fakeBackend(t)
	a, _ := newTestApp(t, srv.URL, "")
	require.ErrorContains(t, a.dispatch(context.Background(), "pyramid", nil), "unknown command")
}
