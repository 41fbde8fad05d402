package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rezonia/invoice-pipeline/internal/model"
)

var (
	validationType string
)

// ValidateOutput is the outcome of one validate run
type ValidateOutput struct {
	InvoiceID string                    `json:"invoice_id"`
	Status    model.Status              `json:"status"`
	Passed    bool                      `json:"passed"`
	Results   []*model.ValidationResult `json:"results"`
}

var validateCmd = &cobra.Command{
	Use:   "validate <invoice-id|order-id>",
	Short: "Run compliance checks against a stored invoice",
	Long: `Run the XRechnung, GoBD, format and tax checks against a stored invoice.

Every check is recorded. Only a full run where all checks pass moves the
invoice to "validated"; a single --type run never changes its status.
An order id stores the invoice first when needed.

Examples:
  invoice-pipeline validate order-1001
  invoice-pipeline validate 3f0c1a4e-7c52-4d7e-9a51-2f1b8f0d9c11 --type gobd`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&validationType, "type", "t", "", "Run a single check (xrechnung, gobd, format, tax)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var typ model.ValidationType
	if validationType != "" {
		parsed, err := model.ParseValidationType(validationType)
		if err != nil {
			return err
		}
		typ = parsed
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	id, err := resolveInvoice(ctx, a, args[0])
	if err != nil {
		return err
	}

	out := ValidateOutput{InvoiceID: id.String()}
	if typ == "" {
		report, err := a.Compliance.ValidateInvoiceAll(ctx, id, cliActor())
		if err != nil {
			return err
		}
		out.Status = report.Invoice.Status
		out.Passed = report.Passed
		out.Results = report.Results
	} else {
		result, err := a.Compliance.ValidateInvoice(ctx, id, typ, cliActor())
		if err != nil {
			return err
		}
		inv, err := a.Store.Invoices.GetByID(ctx, id)
		if err != nil {
			return err
		}
		out.Status = inv.Status
		out.Passed = result.Passed
		out.Results = []*model.ValidationResult{result}
	}

	if outputFormat == "json" {
		if err := writeJSON(os.Stdout, out); err != nil {
			return err
		}
	} else {
		fmt.Printf("Invoice %s (%s)\n", out.InvoiceID, out.Status)
		for _, r := range out.Results {
			if r.Passed {
				fmt.Printf("✓ %s: PASSED\n", r.ValidationType)
			} else {
				fmt.Printf("✗ %s: FAILED\n", r.ValidationType)
			}
			for _, e := range r.ErrorMessages {
				fmt.Printf("  - %s\n", e)
			}
			for _, w := range r.WarningMessages {
				fmt.Printf("  ⚠ %s\n", w)
			}
		}
	}

	if !out.Passed {
		return fmt.Errorf("validation failed for invoice %s", out.InvoiceID)
	}
	return nil
}
