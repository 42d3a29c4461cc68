package daemon

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mcstaff/staffledger/internal/app/ledger"
	"github.com/mcstaff/staffledger/internal/domain"
	"github.com/mcstaff/staffledger/internal/infra/observability"
	"github.com/mcstaff/staffledger/internal/infra/sqlite"
)

// Daemon bundles the long-lived components built from a Config.
type Daemon struct {
	Config Config
	DB     *sqlite.DB
	Ledger *ledger.Ledger
	Tracer *observability.Tracer
	Log    *zap.Logger

	table      domain.ThresholdTable
	violations []domain.Violation
}

// New validates cfg, opens the database, seeds the rank and violation tables
// if the database has none yet, and builds the ledger. Close must be called.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Daemon, error) {
	if log == nil {
		log = zap.NewNop()
	}
	table, violations, err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	db, err := sqlite.Open(cfg.StorageDir())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := db.SeedIfEmpty(ctx, table, violations); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed tables: %w", err)
	}

	tracer := observability.NewTracer(observability.DefaultTracerConfig())
	l := ledger.New(db, cfg.LedgerPolicy(),
		ledger.WithLogger(log.Named("ledger")),
		ledger.WithTracer(tracer),
	)

	log.Debug("ledger ready",
		zap.String("db", db.Path()),
		zap.Int("ranks", table.Len()),
		zap.Int("violations", len(violations)),
		zap.Bool("auto_promote", cfg.Policy.AutoPromote))

	return &Daemon{
		Config:     cfg,
		DB:         db,
		Ledger:     l,
		Tracer:     tracer,
		Log:        log,
		table:      table,
		violations: violations,
	}, nil
}

// ApplyTables overwrites the stored rank and violation tables with the
// configured ones. serve calls it once at startup.
func (d *Daemon) ApplyTables(ctx context.Context) error {
	if err := d.DB.SeedRankThresholds(ctx, d.table); err != nil {
		return fmt.Errorf("apply rank thresholds: %w", err)
	}
	if err := d.DB.SeedViolations(ctx, d.violations); err != nil {
		return fmt.Errorf("apply violations: %w", err)
	}
	d.Log.Info("tables applied",
		zap.Int("ranks", d.table.Len()),
		zap.Int("violations", len(d.violations)))
	return nil
}

// Close releases the database.
func (d *Daemon) Close() error {
	return d.DB.Close()
}
