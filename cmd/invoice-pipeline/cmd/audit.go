package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit <invoice-id|order-id>",
	Short: "Show the audit trail of an invoice",
	Long: `List every recorded lifecycle step of an invoice, newest first.

Examples:
  invoice-pipeline audit order-1001
  invoice-pipeline audit 3f0c1a4e-7c52-4d7e-9a51-2f1b8f0d9c11 -f json`,
	Args: cobra.ExactArgs(1),
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	id, err := resolveInvoice(ctx, a, args[0])
	if err != nil {
		return err
	}
	entries, err := a.Audit.ListByInvoice(ctx, id)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return writeJSON(os.Stdout, entries)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTION\tUSER\tSTATE")
	fmt.Fprintln(tw, "----\t------\t----\t-----")
	for _, e := range entries {
		user := "-"
		if e.UserID != nil {
			user = *e.UserID
		}
		state := "-"
		if len(e.NewState) > 0 {
			state = string(e.NewState)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Timestamp.Local().Format(time.DateTime), e.Action, user, state)
	}
	return tw.Flush()
}
