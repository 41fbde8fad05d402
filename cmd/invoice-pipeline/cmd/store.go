package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rezonia/invoice-pipeline/internal/model"
)

// StoreOutput is one stored invoice in command output
type StoreOutput struct {
	Invoice *model.Invoice `json:"invoice"`
	Created bool           `json:"created"`
}

var storeCmd = &cobra.Command{
	Use:   "store <order-id>...",
	Short: "Issue and archive invoices for orders",
	Long: `Assemble, render and upload the PDF and XRechnung artifacts for each order.

Repeated runs reuse the existing invoice and overwrite its artifacts.

Examples:
  invoice-pipeline store order-1001
  invoice-pipeline store order-1001 order-1003 -f json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStore,
}

func init() {
	rootCmd.AddCommand(storeCmd)
}

func runStore(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	results := make([]StoreOutput, 0, len(args))
	for _, orderID := range args {
		res, err := a.Storage.StoreInvoice(ctx, orderID, cliActor())
		if err != nil {
			return fmt.Errorf("order %s: %w", orderID, err)
		}
		results = append(results, StoreOutput{Invoice: res.Invoice, Created: res.Created})
	}

	if outputFormat == "json" {
		return writeJSON(os.Stdout, results)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tINVOICE\tNUMBER\tSTATUS\tGROSS\tCREATED")
	fmt.Fprintln(tw, "-----\t-------\t------\t------\t-----\t-------")
	for _, r := range results {
		inv := r.Invoice
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s %s\t%t\n",
			inv.OrderID, inv.ID, inv.InvoiceNumber, inv.Status, inv.GrossAmount.StringFixed(2), inv.Currency, r.Created)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, r := range results {
		printVerbose("%s\n  pdf: %s\n  xml: %s\n", r.Invoice.InvoiceNumber, r.Invoice.PDFURL, r.Invoice.XMLURL)
	}
	return nil
}
