package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rezonia/invoice-pipeline/internal/config"
	"github.com/rezonia/invoice-pipeline/internal/delivery"
)

// ClassifyOutput reports how one address is routed
type ClassifyOutput struct {
	Address    string `json:"address"`
	Government bool   `json:"government"`
}

var classifyCmd = &cobra.Command{
	Use:   "classify <address>...",
	Short: "Check which addresses are treated as public-sector recipients",
	Long: `Classify email addresses against the configured government domain suffixes.

Public-sector recipients receive a follow-up XRechnung export and, when a
signing key is configured, require a signed invoice.

Examples:
  invoice-pipeline classify amt@hamburg.de info@example.com`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	suffixes := cfg.GovernmentSuffixes
	if len(suffixes) == 0 {
		suffixes = delivery.DefaultGovernmentSuffixes
	}
	printVerbose("Using %d government suffixes\n", len(suffixes))

	out := make([]ClassifyOutput, 0, len(args))
	for _, addr := range args {
		out = append(out, ClassifyOutput{Address: addr, Government: delivery.IsGovernmentDomain(addr, suffixes)})
	}

	if outputFormat == "json" {
		return writeJSON(os.Stdout, out)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tGOVERNMENT")
	for _, o := range out {
		fmt.Fprintf(tw, "%s\t%t\n", o.Address, o.Government)
	}
	return tw.Flush()
}
