package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/hirechat/internal/engine"
	"github.com/roach88/hirechat/internal/realtime"
	"github.com/roach88/hirechat/internal/restapi"
	"github.com/roach88/hirechat/internal/store"
	"github.com/roach88/hirechat/internal/telemetry"
)

// session wires the cache, REST client, hub connection and engine for one
// command run.
type session struct {
	opts    *RootOptions
	logger  *slog.Logger
	metrics *telemetry.Metrics
	store   *store.Store
	api     *restapi.Client
	hub     *realtime.Manager
	engine  *engine.Engine
}

// openCache opens the configured SQLite cache.
func (o *RootOptions) openCache() (*store.Store, error) {
	st, err := store.Open(o.Config.DB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open cache", err)
	}
	return st, nil
}

// openSession builds everything a command needs to talk to the server. The
// hub is not connected until connect is called.
func (o *RootOptions) openSession() (*session, error) {
	cfg := o.Config
	if err := cfg.RequireRemote(); err != nil {
		return nil, WrapExitError(ExitCommandError, "incomplete configuration", err)
	}
	policy, err := engine.ParseEditPolicy(cfg.EditPolicy)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	logger := slog.Default()
	metrics := telemetry.NewMetrics()

	api, err := restapi.New(cfg.APIURL, cfg.Token,
		restapi.WithLogger(logger),
		restapi.WithMetrics(metrics),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	st, err := o.openCache()
	if err != nil {
		return nil, err
	}

	hub := realtime.NewManager(
		&realtime.WebSocketDialer{URL: cfg.HubURL, Token: cfg.Token},
		realtime.WithLogger(logger),
		realtime.WithMetrics(metrics),
		realtime.WithBackoff(realtime.Backoff{
			Initial:     cfg.Reconnect.Initial,
			Max:         cfg.Reconnect.Max,
			MaxAttempts: cfg.Reconnect.MaxAttempts,
		}),
	)

	eng := engine.New(hub, api, st, cfg.Participant(),
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
		engine.WithPageSize(cfg.PageSize),
		engine.WithDraftDelay(cfg.DraftDelay),
		engine.WithEditPolicy(policy),
	)

	return &session{
		opts:    o,
		logger:  logger,
		metrics: metrics,
		store:   st,
		api:     api,
		hub:     hub,
		engine:  eng,
	}, nil
}

// connect opens the hub connection. A failed first attempt leaves the
// manager retrying in the background.
func (s *session) connect(ctx context.Context) error {
	if err := s.hub.Start(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to connect to hub", err)
	}
	return nil
}

func (s *session) Close() error {
	s.engine.Close()
	s.hub.Stop()
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}
	return nil
}
