// Package cli implements the staffledger command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mcstaff/staffledger/internal/daemon"
	"github.com/mcstaff/staffledger/internal/domain"
)

var (
	configPath string
	verbose    bool
	jsonOutput bool

	cfg    daemon.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "staffledger",
	Short: "Staff rank and points ledger for a Minecraft server",
	Long: `staffledger keeps every staff member's points balance, applies violation
deductions and credits, and moves members between ranks as their balance
crosses the configured thresholds. A member whose balance reaches zero is
removed from the roster.

Data lives in $STAFFLEDGER_HOME (default ~/.staffledger).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = daemon.Load(configPath)
		if err != nil {
			return err
		}
		logger, err = cfg.NewLogger(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.toml (default $STAFFLEDGER_HOME/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// openDaemon builds the ledger from the loaded config.
func openDaemon(ctx context.Context) (*daemon.Daemon, error) {
	return daemon.New(ctx, cfg, logger)
}

// resolveMember accepts a member id or a username.
func resolveMember(ctx context.Context, d *daemon.Daemon, ref string) (*domain.Member, error) {
	m, err := d.Ledger.GetMember(ctx, ref)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, domain.ErrMemberNotFound) {
		return nil, err
	}
	return d.Ledger.GetMemberByUsername(ctx, ref)
}

// resolveActor turns a --by flag into a member id. Empty means System.
func resolveActor(ctx context.Context, d *daemon.Daemon, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	m, err := resolveMember(ctx, d, ref)
	if err != nil {
		return "", fmt.Errorf("--by %s: %w", ref, err)
	}
	return m.ID, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printMember prints a one-line member summary, or JSON with --json.
func printMember(w io.Writer, m *domain.Member) error {
	if jsonOutput {
		return printJSON(w, m)
	}
	points := fmt.Sprint(m.Points)
	if m.Unbounded {
		points = "∞"
	}
	_, err := fmt.Fprintf(w, "%s  %-16s %-14s %6s pts\n", m.ID, m.Username, m.Rank, points)
	return err
}
