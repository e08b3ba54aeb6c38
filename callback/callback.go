// Package callback receives the OAuth2 redirect on a loopback address, the
// way a desktop client captures an authorization code without a deep link.
package callback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultAddr = "127.0.0.1:0"
	Path        = "/callback"
)

// Params are the query parameters the provider redirected back with.
type Params struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Receiver serves a single redirect. Later hits are answered but ignored.
type Receiver struct {
	listener net.Listener
	server   *http.Server
	logger   zerolog.Logger

	once    sync.Once
	results chan Params
}

type Option func(*Receiver)

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Receiver) {
		r.logger = logger
	}
}

// Listen binds addr and starts serving. Use DefaultAddr for a random port.
func Listen(addr string, options ...Option) (*Receiver, error) {
	if addr == "" {
		addr = DefaultAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("[callback Listen] %s: %w", addr, err)
	}

	r := &Receiver{
		listener: ln,
		logger:   log.Logger,
		results:  make(chan Params, 1),
	}
	for _, opt := range options {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "callback").Logger()
	r.server = &http.Server{Handler: r.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := r.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Err(err).Msg("loopback server stopped")
		}
	}()
	r.logger.Debug().Str("addr", ln.Addr().String()).Msg("waiting for redirect")
	return r, nil
}

// RedirectURL is the URL to register as the OAuth2 redirect_uri.
func (r *Receiver) RedirectURL() string {
	return "http://" + r.listener.Addr().String() + Path
}

// Handler exposes the router, mainly for tests.
func (r *Receiver) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer, noStore)
	router.Get(Path, r.handleCallback)
	return router
}

// Wait blocks until the redirect arrives or ctx is done.
func (r *Receiver) Wait(ctx context.Context) (Params, error) {
	select {
	case p := <-r.results:
		return p, nil
	case <-ctx.Done():
		return Params{}, ctx.Err()
	}
}

func (r *Receiver) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if r.server == nil {
		return r.listener.Close()
	}
	if err := r.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("[callback Close] %w", err)
	}
	return nil
}

func (r *Receiver) handleCallback(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	p := Params{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}

	delivered := false
	r.once.Do(func() {
		r.results <- p
		delivered = true
	})

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	switch {
	case !delivered:
		w.WriteHeader(http.StatusConflict)
		_, _ = fmt.Fprintln(w, "This sign-in was already handled. You can close this window.")
	case p.Error != "":
		_, _ = fmt.Fprintln(w, "Authorization was not completed. Return to the terminal for details.")
	default:
		_, _ = fmt.Fprintln(w, "Authorization received. You can close this window and return to the terminal.")
	}
}

// noStore keeps the authorization code out of caches and Referer headers.
func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
