package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/invoice-pipeline/internal/server"
)

var (
	serverAddr   string
	serverDebug  bool
	readTimeout  time.Duration
	writeTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the HTTP API server.

The API provides endpoints for:
  - POST /api/v1/orders/:order_id/invoice          - Issue and store an invoice
  - POST /api/v1/orders/:order_id/invoice/email    - Email an invoice
  - GET  /api/v1/invoices/:id                      - Invoice with latest results
  - POST /api/v1/invoices/:id/validate[/:type]     - Run compliance checks
  - POST /api/v1/invoices/:id/sms                  - SMS notification, optional PIN
  - POST /api/v1/invoices/:id/retrieve             - Redeem a PIN for download links
  - GET  /api/v1/invoices/:id/audit                - Audit trail
  - GET  /api/v1/validation-results                - Dashboard query
  - GET  /files/:bucket/*key                       - Signed downloads (filesystem storage)
  - GET  /health                                   - Health check

Examples:
  # Start server on the configured port
  invoice-pipeline serve

  # Start on a custom address in debug mode
  invoice-pipeline serve --address :9090 --debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverAddr, "address", "", "Server listen address (default from config)")
	serveCmd.Flags().BoolVar(&serverDebug, "debug", false, "Enable debug mode")
	serveCmd.Flags().DurationVar(&readTimeout, "read-timeout", 30*time.Second, "HTTP read timeout")
	serveCmd.Flags().DurationVar(&writeTimeout, "write-timeout", 2*time.Minute, "HTTP write timeout")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	addr := serverAddr
	if addr == "" {
		addr = a.Config.Address()
	}
	srv := server.NewServer(&server.Config{
		Address:         addr,
		CORSOrigins:     a.Config.CORSOrigins,
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,
		ShutdownTimeout: 10 * time.Second,
		Debug:           serverDebug || a.Config.Debug,
	}, a)

	fmt.Printf("Starting server on %s\n", addr)
	return srv.Run(ctx)
}
