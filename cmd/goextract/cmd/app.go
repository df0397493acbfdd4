package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/dbsmedya/goextract/internal/config"
	"github.com/dbsmedya/goextract/internal/database"
	"github.com/dbsmedya/goextract/internal/extractor"
	"github.com/dbsmedya/goextract/internal/heap/sim"
	"github.com/dbsmedya/goextract/internal/lock"
	"github.com/dbsmedya/goextract/internal/logger"
	"github.com/dbsmedya/goextract/internal/manifest"
	"github.com/dbsmedya/goextract/internal/schema"
	"github.com/dbsmedya/goextract/internal/sink"
)

// app holds the collaborators shared by the commands that touch output.
type app struct {
	cfg   *config.Config
	log   *logger.Logger
	reg   *schema.Registry
	sink  sink.Store
	store manifest.Store
	db    *database.Manager // nil for file sinks
}

// loadRegistry compiles the configured schema, or the built-in one.
func loadRegistry(cfg *config.Config) (*schema.Registry, error) {
	if cfg.Schema.Path == "" {
		return schema.Default()
	}
	reg, err := schema.Load(cfg.Schema.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	return reg, nil
}

// openApp connects the sink and run ledger described by cfg.
func openApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	reg, err := loadRegistry(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, reg: reg}

	switch cfg.Sink.Type {
	case "sql":
		a.db = database.NewManager(&cfg.Sink)
		if err := a.db.Connect(ctx); err != nil {
			return nil, err
		}
		s, err := sink.NewSQLSink(a.db.DB, cfg.Sink.Table, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := s.InitializeTables(ctx); err != nil {
			a.Close()
			return nil, err
		}
		a.sink = s
	default:
		s, err := sink.NewFileSink(cfg.Output.Directory, log)
		if err != nil {
			return nil, err
		}
		a.sink = s
	}

	switch cfg.Manifest.Type {
	case "sql":
		if a.db == nil {
			a.Close()
			return nil, fmt.Errorf("the sql manifest requires the sql sink")
		}
		st, err := manifest.NewSQLStore(a.db.DB, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := st.InitializeTables(ctx); err != nil {
			a.Close()
			return nil, err
		}
		a.store = st
	default:
		a.store = manifest.NewFileStore(cfg.Manifest.Path)
	}
	return a, nil
}

// engine builds an extraction engine attached to the configured snapshot.
func (a *app) engine(progress extractor.ProgressFunc) (*extractor.Engine, error) {
	snapshot := a.cfg.Source.Snapshot
	return extractor.NewEngine(extractor.EngineOptions{
		Config:   a.cfg,
		Registry: a.reg,
		Sink:     a.sink,
		Store:    a.store,
		Logger:   a.log,
		Progress: progress,
		Open: func(context.Context) (extractor.Source, error) {
			if snapshot == "" {
				return nil, fmt.Errorf("no heap snapshot configured (source.snapshot or --snapshot)")
			}
			h, err := sim.LoadSnapshot(snapshot)
			if err != nil {
				return nil, err
			}
			return h, nil
		},
	})
}

// usesMySQL reports whether runs must be serialized through the advisory lock.
func (a *app) usesMySQL() bool {
	return a.db != nil && a.db.Driver() == database.DriverMySQL
}

// exclusive runs fn under the cross-process run lock when the sink is a
// shared MySQL database, and directly otherwise.
func (a *app) exclusive(ctx context.Context, fn func() error) error {
	if !a.usesMySQL() {
		return fn()
	}
	scope := a.cfg.Sink.Database.Database
	err := lock.NewRunLock(a.db.DB, scope).WithLock(ctx, lock.TimeoutShort, fn)
	if errors.Is(err, lock.ErrLockTimeout) {
		return fmt.Errorf("another instance is extracting into %s: %w", scope, err)
	}
	return err
}

// Close releases the sink and the database connection.
func (a *app) Close() error {
	var err error
	if a.sink != nil {
		err = multierr.Append(err, a.sink.Close())
	}
	if a.db != nil {
		err = multierr.Append(err, a.db.Close())
	}
	return err
}
