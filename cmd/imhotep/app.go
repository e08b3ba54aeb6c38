package main

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/jrsteele09/imhotep-client/apiclient"
	"github.com/jrsteele09/imhotep-client/finance"
	"github.com/jrsteele09/imhotep-client/internal/config"
	"github.com/jrsteele09/imhotep-client/internal/metrics"
	"github.com/jrsteele09/imhotep-client/session"
	"github.com/jrsteele09/imhotep-client/signin"
	"github.com/jrsteele09/imhotep-client/storage"
	"github.com/jrsteele09/imhotep-client/storage/filestore"
	"github.com/jrsteele09/imhotep-client/storage/redisstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// app is one CLI invocation's object graph.
type app struct {
	cfg       config.Config
	out       io.Writer
	navigator finance.Navigator

	registry *prometheus.Registry
	session  *session.Manager
	client   *apiclient.Client
	signin   *signin.Service
	finance  *finance.Connector

	closers []func() error
}

func newApp(ctx context.Context, c config.Config, out io.Writer, nav finance.Navigator) (*app, error) {
	a := &app{cfg: c, out: out, navigator: nav, registry: prometheus.NewRegistry()}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	mt := metrics.New(a.registry)
	httpClient := &http.Client{Timeout: c.GetHTTPTimeout()}

	a.session = session.New(store, apiclient.NewRefresher(c.GetAPIURL(), httpClient), session.WithMetrics(mt))
	if err := a.session.Hydrate(ctx); err != nil {
		a.close()
		return nil, err
	}
	a.client = apiclient.New(c.GetAPIURL(), a.session, apiclient.WithHTTPClient(httpClient), apiclient.WithMetrics(mt))
	a.signin = signin.New(a.client, a.session)
	// The verifier only has to survive until this process receives the redirect.
	a.finance = finance.New(a.client, a.session, storage.NewInMemory(), nav)
	return a, nil
}

func (a *app) openStore(ctx context.Context) (storage.Store, error) {
	switch a.cfg.GetStoreBackend() {
	case config.StoreMemory:
		return storage.NewInMemory(), nil
	case config.StoreRedis:
		s, closeFn, err := redisstore.Dial(ctx, a.cfg.GetRedisURL(), a.cfg.GetRedisPrefix(), a.cfg.GetRedisTTL())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closeFn)
		return s, nil
	default:
		path := a.cfg.GetTokenFile()
		if path == "" {
			path = filestore.DefaultPath("imhotep")
		}
		var opts []filestore.Option
		if pass := a.cfg.GetStorePassphrase(); pass != "" {
			opts = append(opts, filestore.WithPassphrase(pass))
		}
		s, err := filestore.New(path, opts...)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("path", s.Path()).Bool("encrypted", len(opts) > 0).Msg("session file")
		return s, nil
	}
}

func (a *app) close() {
	for _, fn := range a.closers {
		if err := fn(); err != nil {
			log.Err(err).Msg("closing store")
		}
	}
}

func (a *app) writeMetrics(path string) error {
	if err := prometheus.WriteToTextfile(path, a.registry); err != nil {
		return fmt.Errorf("[imhotep writeMetrics] %w", err)
	}
	return nil
}
