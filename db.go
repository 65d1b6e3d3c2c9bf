// Package reindeer is the embedded, entity-oriented document store: an
// ordered key-value engine underneath, with identity, sibling/child/free
// relations and per-edge deletion policies on top. Open a DB, then build
// an entity.Facade per record type against it.
package reindeer

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kittclouds/reindeer/internal/kv"
	"github.com/kittclouds/reindeer/pkg/dbconfig"
	"github.com/kittclouds/reindeer/pkg/dbmetrics"
	"github.com/kittclouds/reindeer/pkg/family"
	"github.com/kittclouds/reindeer/pkg/relation"
)

// DB bundles the ordered key-value engine with the family catalog and
// relation engine every entity.Facade needs to be opened against.
type DB struct {
	Engine   kv.Engine
	Families *family.Catalog
	Registry *relation.Registry
	Relation *relation.Engine
	Metrics  *dbmetrics.Metrics
	Log      *zap.Logger

	// SessionID correlates every log line from one open DB handle,
	// useful when several processes share the same underlying file
	// across a restart.
	SessionID string

	cfg dbconfig.Config
}

// Open opens (creating if necessary) a reindeer database at cfg.Path.
func Open(cfg dbconfig.Config) (*DB, error) {
	sessionID := uuid.New().String()

	log, err := buildLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("reindeer: open: %w", err)
	}
	log = log.With(zap.String("session_id", sessionID))

	engine, err := kv.OpenBolt(cfg.Path, kv.Options{
		ReadOnly: cfg.ReadOnly,
		Timeout:  cfg.OpenTimeout,
		Log:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("reindeer: open: %w", err)
	}

	catalog, err := family.Open(engine, cfg.FamilyCacheSize)
	if err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("reindeer: open: %w", err)
	}

	registry := relation.NewRegistry()
	relEngine, err := relation.Open(engine, catalog, registry)
	if err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("reindeer: open: %w", err)
	}

	var metrics *dbmetrics.Metrics
	if cfg.Metrics.Enabled {
		metrics = dbmetrics.New(cfg.Metrics.Namespace)
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				_ = engine.Close()
				return nil, fmt.Errorf("reindeer: open: %w", err)
			}
		}
		catalog.SetMetrics(metrics)
		relEngine.SetMetrics(metrics)
	}

	return &DB{
		Engine:    engine,
		Families:  catalog,
		Registry:  registry,
		Relation:  relEngine,
		Metrics:   metrics,
		Log:       log,
		SessionID: sessionID,
		cfg:       cfg,
	}, nil
}

// Close releases the underlying engine handle.
func (db *DB) Close() error {
	if err := db.Engine.Close(); err != nil {
		return fmt.Errorf("reindeer: close: %w", err)
	}
	return nil
}

func buildLogger(cfg dbconfig.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		zcfg.Level = lvl
	}
	return zcfg.Build()
}
