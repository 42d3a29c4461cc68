package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mcstaff/staffledger/internal/domain"
)

// ─── Roster Commands ────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(memberCmd)
	memberCmd.AddCommand(memberAddCmd)
	memberCmd.AddCommand(memberListCmd)
	memberCmd.AddCommand(memberShowCmd)
	memberCmd.AddCommand(memberHistoryCmd)

	memberAddCmd.Flags().StringP("rank", "r", domain.RankJrSupporter.String(), "Starting rank")
	memberAddCmd.Flags().String("by", "", "Acting member (id or username)")
	memberListCmd.Flags().BoolP("all", "a", false, "Include removed members")
}

var memberCmd = &cobra.Command{
	Use:   "member",
	Short: "Manage the staff roster",
}

// ─── member add ─────────────────────────────────────────────────────────────

var memberAddCmd = &cobra.Command{
	Use:   "add USERNAME",
	Short: "Add a staff member at their rank's starting points",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemberAdd,
}

func runMemberAdd(cmd *cobra.Command, args []string) error {
	rankFlag, _ := cmd.Flags().GetString("rank")
	by, _ := cmd.Flags().GetString("by")
	rank, err := domain.ParseRank(rankFlag)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	d, err := openDaemon(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	actor, err := resolveActor(ctx, d, by)
	if err != nil {
		return err
	}
	m, err := d.Ledger.AddMember(ctx, args[0], rank, actor)
	if err != nil {
		return err
	}
	return printMember(cmd.OutOrStdout(), m)
}

// ─── member list ────────────────────────────────────────────────────────────

var memberListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the roster, most senior first",
	Args:  cobra.NoArgs,
	RunE:  runMemberList,
}

func runMemberList(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")

	ctx := cmd.Context()
	d, err := openDaemon(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	members, err := d.Ledger.ListMembers(ctx, all)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, members)
	}
	if len(members) == 0 {
		fmt.Fprintln(out, "No staff members.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERNAME\tRANK\tPOINTS")
	for _, m := range members {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", m.ID, m.Username, m.Rank, m.Points)
	}
	return tw.Flush()
}

// ─── member show ────────────────────────────────────────────────────────────

var memberShowCmd = &cobra.Command{
	Use:   "show MEMBER",
	Short: "Show a member by id or username",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemberShow,
}

func runMemberShow(cmd *cobra.Command, args []string) error {
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
	return printMember(cmd.OutOrStdout(), m)
}

// ─── member history ─────────────────────────────────────────────────────────

var memberHistoryCmd = &cobra.Command{
	Use:   "history MEMBER",
	Short: "Show a member's points history, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemberHistory,
}

func runMemberHistory(cmd *cobra.Command, args []string) error {
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
	history, err := d.Ledger.GetHistory(ctx, m.ID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, history)
	}
	if len(history) == 0 {
		fmt.Fprintf(out, "No history for %s.\n", m.Username)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tWHEN\tAMOUNT\tREASON\tBY")
	for _, e := range history {
		fmt.Fprintf(tw, "%d\t%s\t%+d\t%s\t%s\n", e.Seq, e.Timestamp.Format("2006-01-02 15:04"), e.Amount, e.Reason, e.AwardedBy)
	}
	return tw.Flush()
}
