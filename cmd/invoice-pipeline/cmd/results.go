package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rezonia/invoice-pipeline/internal/model"
	"github.com/rezonia/invoice-pipeline/internal/repository"
)

var (
	resultsType    string
	resultsPassed  string
	resultsInvoice string
	resultsSince   string
	resultsUntil   string
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Query recorded validation results",
	Long: `List validation results across invoices, newest first.

Dates are YYYY-MM-DD or RFC 3339 timestamps; a day given to --until covers
the whole day.

Examples:
  invoice-pipeline results --passed=false
  invoice-pipeline results --type xrechnung --since 2026-10-01`,
	Args: cobra.NoArgs,
	RunE: runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)

	resultsCmd.Flags().StringVarP(&resultsType, "type", "t", "", "Only this check (xrechnung, gobd, format, tax)")
	resultsCmd.Flags().StringVar(&resultsPassed, "passed", "", "Only passing (true) or failing (false) results")
	resultsCmd.Flags().StringVar(&resultsInvoice, "invoice", "", "Only results for this invoice id")
	resultsCmd.Flags().StringVar(&resultsSince, "since", "", "Earliest validation date")
	resultsCmd.Flags().StringVar(&resultsUntil, "until", "", "Latest validation date")
}

func buildFilter() (repository.ValidationFilter, error) {
	var filter repository.ValidationFilter

	if resultsType != "" {
		typ, err := model.ParseValidationType(resultsType)
		if err != nil {
			return filter, err
		}
		filter.ValidationType = &typ
	}
	switch strings.ToLower(resultsPassed) {
	case "":
	case "true", "yes", "1":
		passed := true
		filter.Passed = &passed
	case "false", "no", "0":
		passed := false
		filter.Passed = &passed
	default:
		return filter, fmt.Errorf("invalid --passed value %q", resultsPassed)
	}
	if resultsInvoice != "" {
		id, err := uuid.Parse(resultsInvoice)
		if err != nil {
			return filter, fmt.Errorf("invalid --invoice: %w", err)
		}
		filter.InvoiceID = &id
	}
	if resultsSince != "" {
		t, err := parseDay(resultsSince, false)
		if err != nil {
			return filter, fmt.Errorf("invalid --since: %w", err)
		}
		filter.StartDate = &t
	}
	if resultsUntil != "" {
		t, err := parseDay(resultsUntil, true)
		if err != nil {
			return filter, fmt.Errorf("invalid --until: %w", err)
		}
		filter.EndDate = &t
	}
	return filter, nil
}

func parseDay(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, v, time.Local)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return t, nil
}

func runResults(cmd *cobra.Command, args []string) error {
	filter, err := buildFilter()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	results, err := a.Compliance.GetAllValidationResults(ctx, filter)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return writeJSON(os.Stdout, results)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tINVOICE\tTYPE\tPASSED\tERRORS\tWARNINGS")
	fmt.Fprintln(tw, "----\t-------\t----\t------\t------\t--------")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\t%d\n",
			r.ValidationDate.Local().Format(time.DateTime), r.InvoiceID, r.ValidationType, r.Passed,
			len(r.ErrorMessages), len(r.WarningMessages))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d result(s)\n", len(results))
	return nil
}
