package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mcstaff/staffledger/internal/domain"
)

// ─── Ledger Commands ────────────────────────────────────────────────────────
// deduct, credit, promote and reinstate. MEMBER and --by accept an id or a
// username.

func init() {
	rootCmd.AddCommand(deductCmd)
	rootCmd.AddCommand(creditCmd)
	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(reinstateCmd)

	deductCmd.Flags().String("reason", "", "Reason (default: the violation name)")
	deductCmd.Flags().String("by", "", "Acting member (default: System)")
	creditCmd.Flags().String("reason", "", "Reason")
	creditCmd.Flags().String("by", "", "Awarding member (default: System)")
	promoteCmd.Flags().String("by", "", "Promoting member")
	reinstateCmd.Flags().String("by", "", "Reinstating member")
	_ = promoteCmd.MarkFlagRequired("by")
	_ = reinstateCmd.MarkFlagRequired("by")
}

// ─── deduct ─────────────────────────────────────────────────────────────────

var deductCmd = &cobra.Command{
	Use:   "deduct MEMBER VIOLATION",
	Short: "Apply a violation's point deduction",
	Long: `Deducts the violation's points and re-evaluates the member's rank.
A balance of zero or less removes the member. Run 'staffledger violations'
for the list of violation ids.`,
	Args: cobra.ExactArgs(2),
	RunE: runDeduct,
}

func runDeduct(cmd *cobra.Command, args []string) error {
	reason, _ := cmd.Flags().GetString("reason")
	by, _ := cmd.Flags().GetString("by")

	ctx := cmd.Context()
	d, err := openDaemon(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	m, err := resolveMember(ctx, d, args[0])
	if err != nil {
		return err
	}
	actor, err := resolveActor(ctx, d, by)
	if err != nil {
		return err
	}
	before := m.Rank
	m, err = d.Ledger.ApplyDeduction(ctx, m.ID, args[1], reason, actor)
	if err != nil {
		return err
	}
	if err := printMember(cmd.OutOrStdout(), m); err != nil {
		return err
	}
	printTransition(cmd, before, m.Rank)
	return nil
}

// ─── credit ─────────────────────────────────────────────────────────────────

var creditCmd = &cobra.Command{
	Use:   "credit MEMBER AMOUNT",
	Short: "Award points to a member",
	Args:  cobra.ExactArgs(2),
	RunE:  runCredit,
}

func runCredit(cmd *cobra.Command, args []string) error {
	reason, _ := cmd.Flags().GetString("reason")
	by, _ := cmd.Flags().GetString("by")
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", domain.ErrInvalidAmount, args[1])
	}

	ctx := cmd.Context()
	d, err := openDaemon(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	m, err := resolveMember(ctx, d, args[0])
	if err != nil {
		return err
	}
	actor, err := resolveActor(ctx, d, by)
	if err != nil {
		return err
	}
	before := m.Rank
	m, err = d.Ledger.ApplyCredit(ctx, m.ID, amount, reason, actor)
	if err != nil {
		return err
	}
	if err := printMember(cmd.OutOrStdout(), m); err != nil {
		return err
	}
	printTransition(cmd, before, m.Rank)
	return nil
}

// ─── promote ────────────────────────────────────────────────────────────────

var promoteCmd = &cobra.Command{
	Use:   "promote MEMBER RANK",
	Short: "Promote a member to a higher rank",
	Args:  cobra.ExactArgs(2),
	RunE:  runPromote,
}

func runPromote(cmd *cobra.Command, args []string) error {
	by, _ := cmd.Flags().GetString("by")
	rank, err := domain.ParseRank(args[1])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	d, err := openDaemon(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	m, err := resolveMember(ctx, d, args[0])
	if err != nil {
		return err
	}
	actor, err := resolveActor(ctx, d, by)
	if err != nil {
		return err
	}
	m, err = d.Ledger.Promote(ctx, m.ID, rank, actor)
	if err != nil {
		return err
	}
	return printMember(cmd.OutOrStdout(), m)
}

// ─── reinstate ──────────────────────────────────────────────────────────────

var reinstateCmd = &cobra.Command{
	Use:   "reinstate MEMBER",
	Short: "Bring a removed member back at the lowest rank",
	Args:  cobra.ExactArgs(1),
	RunE:  runReinstate,
}

func runReinstate(cmd *cobra.Command, args []string) error {
	by, _ := cmd.Flags().GetString("by")

	ctx := cmd.Context()
	d, err := openDaemon(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	m, err := resolveMember(ctx, d, args[0])
	if err != nil {
		return err
	}
	actor, err := resolveActor(ctx, d, by)
	if err != nil {
		return err
	}
	m, err = d.Ledger.Reinstate(ctx, m.ID, actor)
	if err != nil {
		return err
	}
	return printMember(cmd.OutOrStdout(), m)
}

// printTransition notes a rank change below the member line.
func printTransition(cmd *cobra.Command, from, to domain.Rank) {
	if jsonOutput || from == to {
		return
	}
	out := cmd.OutOrStdout()
	switch {
	case to == domain.RankRemoved:
		fmt.Fprintf(out, "Removed from the roster (was %s).\n", from)
	case to.Above(from):
		fmt.Fprintf(out, "Promoted: %s -> %s\n", from, to)
	default:
		fmt.Fprintf(out, "Demoted: %s -> %s\n", from, to)
	}
}
