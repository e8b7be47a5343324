// Package app ties the dashboard together: it owns the authentication flow,
// the teacher registry, the data loaders, and the per-page dashboard
// sessions.
package app

import (
	"errors"
	"log/slog"
	"time"

	"mathgamified/internal/docstore"
	"mathgamified/internal/events"
	"mathgamified/internal/identity"
	"mathgamified/internal/loader"
	"mathgamified/internal/media"
	"mathgamified/internal/presence"
)

// Config wires the application's backends. Docs and Provider are required;
// everything else degrades gracefully when absent.
type Config struct {
	Docs              docstore.Store
	Provider          identity.Provider
	PresenceCache     *presence.Cache
	Screenshots       *media.Screenshots
	Events            *events.Publisher
	Logger            *slog.Logger
	HeartbeatInterval time.Duration
}

// App holds process-wide dependencies shared by every dashboard session.
type App struct {
	docs     docstore.Store
	provider identity.Provider
	cache    *presence.Cache
	events   *events.Publisher
	logger   *slog.Logger
	interval time.Duration

	teachers *registry

	Threads     *loader.Threads
	Leaderboard *loader.Leaderboard
	Quizzes     *loader.Quizzes
	Points      *loader.Points
}

// New validates the config and builds the application.
func New(cfg Config) (*App, error) {
	if cfg.Docs == nil {
		return nil, errors.New("app: document store is required")
	}
	if cfg.Provider == nil {
		return nil, errors.New("app: identity provider is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		docs:        cfg.Docs,
		provider:    cfg.Provider,
		cache:       cfg.PresenceCache,
		events:      cfg.Events,
		logger:      logger,
		interval:    cfg.HeartbeatInterval,
		teachers:    &registry{docs: cfg.Docs, logger: logger},
		Threads:     loader.NewThreads(cfg.Docs, cfg.Screenshots, logger),
		Leaderboard: loader.NewLeaderboard(cfg.Docs, logger),
		Quizzes:     loader.NewQuizzes(cfg.Docs, cfg.Events, logger),
		Points:      loader.NewPoints(cfg.Docs, logger),
	}, nil
}
