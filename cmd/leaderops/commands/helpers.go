package commands

import (
	"database/sql"
	"time"

	"github.com/arii/leaderops/config"
	"github.com/arii/leaderops/db"
	"github.com/arii/leaderops/errors"
	"github.com/arii/leaderops/index"
	"github.com/arii/leaderops/logger"
	"github.com/arii/leaderops/review"
	"github.com/arii/leaderops/session"
)

// openStore opens the correlation index database and wraps it in a
// Store. Callers own closing the returned *sql.DB.
func openStore(cfg *config.Config) (*index.Store, *sql.DB, error) {
	database, err := db.OpenWithMigrations(cfg.Index.Path, logger.Logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open correlation index")
	}
	return index.NewStore(database, logger.Logger), database, nil
}

func newReviewClient(cfg *config.Config) *review.GHClient {
	return review.NewGHClient(cfg.Repo.Slug, logger.Logger)
}

// newSessionClient returns nil when no session service is configured;
// callers treat that as "feature off".
func newSessionClient(cfg *config.Config) *session.Client {
	if cfg.Session.BaseURL == "" || cfg.Session.APIKey == "" {
		return nil
	}
	return session.NewClient(
		cfg.Session.BaseURL,
		cfg.Session.APIKey,
		cfg.Session.Source,
		time.Duration(cfg.Session.TimeoutSeconds)*time.Second,
		logger.Logger,
		session.WithPollInterval(time.Duration(cfg.Session.PollSeconds)*time.Second),
	)
}

// requireSessionClient is for commands that cannot run without one.
func requireSessionClient(cfg *config.Config) (*session.Client, error) {
	c := newSessionClient(cfg)
	if c == nil {
		return nil, errors.New("session service not configured: set session.base_url and LEADEROPS_SESSION_API_KEY")
	}
	return c, nil
}
