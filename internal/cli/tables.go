package cli

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(violationsCmd)
	rootCmd.AddCommand(ranksCmd)
	rootCmd.AddCommand(activityCmd)

	activityCmd.Flags().IntP("limit", "n", 20, "Number of records")
}

// ─── violations ─────────────────────────────────────────────────────────────

var violationsCmd = &cobra.Command{
	Use:   "violations",
	Short: "List violations and their point deductions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := openDaemon(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		table, err := d.Ledger.Violations(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, table)
		}

		ids := make([]string, 0, len(table))
		for id := range table {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tDEDUCTION")
		for _, id := range ids {
			v := table[id]
			fmt.Fprintf(tw, "%s\t%s\t%d\n", v.ID, v.DisplayName, v.PointsDeduction)
		}
		return tw.Flush()
	},
}

// ─── ranks ──────────────────────────────────────────────────────────────────

var ranksCmd = &cobra.Command{
	Use:   "ranks",
	Short: "Show the rank threshold table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := openDaemon(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		table, err := d.Ledger.Thresholds(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, table.Rows())
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "RANK\tFLOOR\tSTART\tEXEMPT")
		for _, row := range table.Rows() {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%v\n", row.Rank, row.MinPoints, row.StartingPoints, row.Exempt)
		}
		return tw.Flush()
	},
}

// ─── activity ───────────────────────────────────────────────────────────────

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Show the most recent ledger activity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		ctx := cmd.Context()
		d, err := openDaemon(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		records, err := d.Ledger.Activity(ctx, limit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, records)
		}
		if len(records) == 0 {
			fmt.Fprintln(out, "No activity yet.")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "WHEN\tKIND\tMEMBER\tAMOUNT\tBALANCE\tDETAIL")
		for _, rec := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%+d\t%d\t%s\n",
				rec.Timestamp.Format("2006-01-02 15:04"), rec.Kind, rec.MemberID, rec.Amount, rec.Balance, rec.Description)
		}
		return tw.Flush()
	},
}
