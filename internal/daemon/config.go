// Package daemon holds the staffledger process configuration and the wiring
// that turns it into a running ledger.
package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mcstaff/staffledger/internal/app/ledger"
	"github.com/mcstaff/staffledger/internal/domain"
)

// Config is the on-disk configuration (config.toml).
type Config struct {
	API     APIConfig     `toml:"api"`
	Storage StorageConfig `toml:"storage"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
	Policy  PolicyConfig  `toml:"policy"`

	Ranks      []domain.RankThreshold `toml:"ranks"`
	Violations []domain.Violation     `toml:"violations"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig configures persistence. Path is the directory holding
// ledger.db; empty means the staffledger home.
type StorageConfig struct {
	Path string `toml:"path"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level  string `toml:"level"`  // debug|info|warn|error
	Format string `toml:"format"` // json|console
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// PolicyConfig mirrors ledger.Policy in TOML form.
type PolicyConfig struct {
	AutoPromote     bool          `toml:"auto_promote"`
	ExemptRanks     []domain.Rank `toml:"exempt_ranks"`
	PromoterRanks   []domain.Rank `toml:"promoter_ranks"`
	ReinstaterRanks []domain.Rank `toml:"reinstater_ranks"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	p := ledger.DefaultPolicy()
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8470,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{Enabled: true},
		Policy: PolicyConfig{
			AutoPromote:     p.AutoPromote,
			ExemptRanks:     p.ExemptRanks,
			PromoterRanks:   p.PromoterRanks,
			ReinstaterRanks: p.ReinstaterRanks,
		},
		Ranks:      domain.DefaultThresholds(),
		Violations: domain.DefaultViolations(),
	}
}

// Home returns the staffledger data directory: $STAFFLEDGER_HOME, or
// ~/.staffledger.
func Home() string {
	if h := os.Getenv("STAFFLEDGER_HOME"); h != "" {
		return h
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".staffledger"
	}
	return filepath.Join(dir, ".staffledger")
}

// DefaultConfigPath returns <home>/config.toml.
func DefaultConfigPath() string {
	return filepath.Join(Home(), "config.toml")
}

// Load reads path over the defaults. A missing file yields the defaults.
// Tables present in the file replace the default tables wholesale.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultConfigPath()
	}

	var file Config
	md, err := toml.DecodeFile(path, &file)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
	}

	// Decode again over the defaults so unset scalar keys keep their default.
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	if md.IsDefined("ranks") {
		cfg.Ranks = file.Ranks
	}
	if md.IsDefined("violations") {
		cfg.Violations = file.Violations
	}
	if md.IsDefined("policy", "exempt_ranks") {
		cfg.Policy.ExemptRanks = file.Policy.ExemptRanks
	}
	if md.IsDefined("policy", "promoter_ranks") {
		cfg.Policy.PromoterRanks = file.Policy.PromoterRanks
	}
	if md.IsDefined("policy", "reinstater_ranks") {
		cfg.Policy.ReinstaterRanks = file.Policy.ReinstaterRanks
	}
	return cfg, nil
}

// Validate checks the configuration and returns the tables it describes.
func (c Config) Validate() (domain.ThresholdTable, []domain.Violation, error) {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return domain.ThresholdTable{}, nil, fmt.Errorf("config: api.port %d out of range", c.API.Port)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return domain.ThresholdTable{}, nil, fmt.Errorf("config: log.level: %w", err)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return domain.ThresholdTable{}, nil, fmt.Errorf("config: log.format %q must be json or console", c.Log.Format)
	}
	for _, ranks := range [][]domain.Rank{c.Policy.ExemptRanks, c.Policy.PromoterRanks, c.Policy.ReinstaterRanks} {
		for _, r := range ranks {
			if !r.Active() {
				return domain.ThresholdTable{}, nil, fmt.Errorf("config: policy: %w: %s", domain.ErrInvalidRank, r)
			}
		}
	}

	table, err := domain.NewThresholdTable(c.Ranks)
	if err != nil {
		return domain.ThresholdTable{}, nil, fmt.Errorf("config: ranks: %w", err)
	}

	seen := make(map[string]bool, len(c.Violations))
	violations := make([]domain.Violation, 0, len(c.Violations))
	for _, v := range c.Violations {
		nv, err := domain.NewViolation(v.ID, v.DisplayName, v.PointsDeduction)
		if err != nil {
			return domain.ThresholdTable{}, nil, fmt.Errorf("config: violations: %w", err)
		}
		if seen[nv.ID] {
			return domain.ThresholdTable{}, nil, fmt.Errorf("config: violations: %w: duplicate id %q", domain.ErrInvalidViolation, nv.ID)
		}
		seen[nv.ID] = true
		violations = append(violations, nv)
	}
	return table, violations, nil
}

// LedgerPolicy converts the policy section.
func (c Config) LedgerPolicy() ledger.Policy {
	return ledger.Policy{
		AutoPromote:     c.Policy.AutoPromote,
		ExemptRanks:     c.Policy.ExemptRanks,
		PromoterRanks:   c.Policy.PromoterRanks,
		ReinstaterRanks: c.Policy.ReinstaterRanks,
	}
}

// StorageDir returns the directory the sqlite database lives in.
func (c Config) StorageDir() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	return Home()
}

// Addr returns host:port for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// NewLogger builds the process logger. verbose forces debug level.
func (c Config) NewLogger(verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if strings.EqualFold(c.Log.Format, "console") {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
