package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"shopfloor/internal/config"
	"shopfloor/internal/db"
	"shopfloor/internal/engine"
	"shopfloor/internal/migrate"
	"shopfloor/internal/repo"
)

// ResolveConfig picks the effective site config: the workspace shopfloor.yml
// when present, then the copy stored by a previous run, then the defaults.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, string, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, "", err
	}
	if cfg != nil {
		return cfg, config.Path(workspace), nil
	}
	cfg, err = r.GetSiteConfig(ctx)
	if err == nil {
		return cfg, "database", nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, "", fmt.Errorf("load stored config: %w", err)
	}
	return config.Default("shopfloor"), "defaults", nil
}

// Open opens and migrates the workspace database, resolves the config and
// returns an engine bootstrapped against it.
func Open(ctx context.Context, workspace string, log *logrus.Entry) (*sql.DB, engine.Engine, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, engine.Engine{}, err
	}
	if log == nil {
		log = logrus.WithField("component", "engine")
	}
	if err := migrate.Up(ctx, conn, log.WithField("component", "migrate")); err != nil {
		conn.Close()
		return nil, engine.Engine{}, fmt.Errorf("migrate: %w", err)
	}
	cfg, source, err := ResolveConfig(ctx, workspace, repo.Repo{DB: conn})
	if err != nil {
		conn.Close()
		return nil, engine.Engine{}, err
	}
	eng := engine.New(conn, cfg)
	eng.Logger = log
	eng, err = eng.Bootstrap(ctx)
	if err != nil {
		conn.Close()
		return nil, engine.Engine{}, err
	}
	eng.Logger.WithFields(logrus.Fields{
		"site":   cfg.Site.Name,
		"source": source,
		"roles":  len(eng.Matrix.Roles()),
	}).Debug("workspace ready")
	return conn, eng, nil
}
