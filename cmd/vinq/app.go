package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/vinq/internal/api"
	"github.com/kalambet/vinq/internal/auth"
	"github.com/kalambet/vinq/internal/config"
	"github.com/kalambet/vinq/internal/predict"
	"github.com/kalambet/vinq/internal/predlog"
	"github.com/kalambet/vinq/internal/storage"
	"github.com/kalambet/vinq/internal/web"
)

// app wires the long-lived components shared by the HTTP and MCP servers.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	store   *storage.Store
	log     *predlog.Log
	service *predict.Service
	auth    *auth.Authenticator
}

func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	logger.Debug("storage opened", "path", store.Path(), "persist_predictions", cfg.Storage.PersistPredictions)

	var sink predlog.Sink
	if cfg.Storage.PersistPredictions {
		sink = store
	}
	plog := predlog.New(cfg.Predlog.Capacity, sink)

	svc, err := predict.New(predict.Options{
		Path:         cfg.Model.Path,
		BatchWorkers: cfg.Predict.BatchWorkers,
		CacheSize:    cfg.Predict.CacheSize,
		Log:          plog,
		Logger:       logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	if cfg.InsecureSecret() {
		logger.Warn("using the built-in JWT secret; set VINQ_JWT_SECRET before exposing the server")
	}
	authn, err := auth.New(store, auth.Options{
		Secret:   []byte(cfg.Auth.JWTSecret),
		TokenTTL: cfg.Auth.TokenTTL,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	if cfg.Auth.SeedDemoUsers {
		if _, err := authn.SeedDemoUsers(); err != nil {
			store.Close()
			return nil, err
		}
	}

	return &app{cfg: cfg, logger: logger, store: store, log: plog, service: svc, auth: authn}, nil
}

func (a *app) router() http.Handler {
	deps := api.Deps{
		Service: a.service,
		Log:     a.log,
		Auth:    a.auth,
		Index:   web.Handler(),
		Logger:  a.logger,
	}
	if a.cfg.Storage.PersistPredictions {
		deps.History = a.store
	}
	return api.NewRouter(deps)
}

func (a *app) mcpDeps() api.MCPDeps {
	return api.MCPDeps{Service: a.service, Log: a.log, Version: version}
}

func (a *app) Close() error {
	return a.store.Close()
}
