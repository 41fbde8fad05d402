package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rezonia/invoice-pipeline/internal/app"
	"github.com/rezonia/invoice-pipeline/internal/audit"
	"github.com/rezonia/invoice-pipeline/internal/config"
)

var (
	version = "1.0.0"

	// Global flags
	configPath   string
	verbose      bool
	outputFormat string
	actorID      string
)

var rootCmd = &cobra.Command{
	Use:   "invoice-pipeline",
	Short: "Issue, archive, validate and deliver marketplace invoices",
	Long: `Invoice Pipeline turns completed orders into German e-invoices.

For every order it renders a PDF and an XRechnung (UBL 2.1) export, stores
both in a private bucket, runs the XRechnung, GoBD, format and tax checks,
and delivers the invoice by email or SMS. Public-sector recipients also get
the structured export on its own a few minutes later.

Configuration is read from --config (YAML), then .env, then INVOICE_*
environment variables.

Examples:
  # Start the HTTP API
  invoice-pipeline serve

  # Issue and archive the invoice for an order
  invoice-pipeline store order-1001

  # Run every compliance check
  invoice-pipeline validate order-1001

  # Mail the invoice to a public authority and wait for the follow-up
  invoice-pipeline send email order-1003 amt@hamburg.de --wait`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return checkFormat()
	},
}

// Execute runs the root command; SIGINT and SIGTERM cancel its context
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Config file (env: INVOICE_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "table", "Output format (json, table)")
	rootCmd.PersistentFlags().StringVar(&actorID, "actor", "", "User id recorded in audit entries (env: INVOICE_ACTOR)")

	cobra.OnInitialize(initConfig)
}

func initConfig() {
	if !rootCmd.PersistentFlags().Changed("config") {
		if path := os.Getenv("INVOICE_CONFIG"); path != "" {
			configPath = path
		}
	}
	if actorID == "" {
		actorID = os.Getenv("INVOICE_ACTOR")
	}
}

// openApp loads configuration and wires the pipeline. Logs go to stderr so
// stdout stays machine readable.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Debug = cfg.Debug || verbose
	printVerbose("Loaded config from %s (storage: %s)\n", configPath, cfg.StorageBackend)
	return app.New(ctx, cfg, app.WithLogger(app.NewLogger(os.Stderr, verbose)))
}

func closeApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		printVerbose("shutdown: %v\n", err)
	}
}

func cliActor() audit.Actor {
	return audit.Actor{UserID: actorID, UserAgent: "invoice-pipeline/" + version}
}

// resolveInvoice accepts an invoice id, or an order id whose invoice is
// stored first when needed
func resolveInvoice(ctx context.Context, a *app.App, ref string) (uuid.UUID, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return id, nil
	}
	res, err := a.Storage.StoreInvoice(ctx, ref, cliActor())
	if err != nil {
		return uuid.Nil, err
	}
	printVerbose("Resolved order %s to invoice %s\n", ref, res.Invoice.ID)
	return res.Invoice.ID, nil
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func checkFormat() error {
	switch outputFormat {
	case "json", "table":
		return nil
	}
	return fmt.Errorf("unsupported output format: %s", outputFormat)
}

func printVerbose(format string, args ...any) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
