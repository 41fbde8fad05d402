package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/invoice-pipeline/internal/delivery"
)

var (
	waitFollowUp bool
	smsPhone     string
	smsPIN       bool
)

// EmailOutput is the outcome of send email
type EmailOutput struct {
	InvoiceID   string     `json:"invoice_id"`
	Number      string     `json:"invoice_number"`
	Recipient   string     `json:"recipient"`
	Government  bool       `json:"government"`
	FollowUpAt  *time.Time `json:"follow_up_at,omitempty"`
	FollowUpRan bool       `json:"follow_up_sent,omitempty"`
}

// SMSOutput is the outcome of send sms
type SMSOutput struct {
	InvoiceID    string     `json:"invoice_id"`
	Phone        string     `json:"phone"`
	PINIssued    bool       `json:"pin_issued"`
	PINExpiresAt *time.Time `json:"pin_expires_at,omitempty"`
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Deliver invoices by email or SMS",
}

var sendEmailCmd = &cobra.Command{
	Use:   "email <order-id> <address>",
	Short: "Mail the PDF and XRechnung export to a recipient",
	Long: `Mail both artifacts of an order's invoice, storing them first when needed.

Public-sector recipients get the XRechnung export again on its own after the
configured follow-up delay. The follow-up runs in this process, so pass --wait
to keep the command alive until it has been sent.

Examples:
  invoice-pipeline send email order-1001 einkauf@muster-handel.de
  invoice-pipeline send email order-1003 amt@hamburg.de --wait`,
	Args: cobra.ExactArgs(2),
	RunE: runSendEmail,
}

var sendSMSCmd = &cobra.Command{
	Use:   "sms <invoice-id|order-id>",
	Short: "Text the recipient that an invoice is ready",
	Long: `Send a notification-only SMS to the recipient's phone, or to --phone.

With --pin the text carries a one-time retrieval PIN that can be exchanged
for download links.

Examples:
  invoice-pipeline send sms order-1001
  invoice-pipeline send sms order-1001 --phone +4915112345678 --pin`,
	Args: cobra.ExactArgs(1),
	RunE: runSendSMS,
}

func init() {
	sendCmd.AddCommand(sendEmailCmd)
	sendCmd.AddCommand(sendSMSCmd)
	rootCmd.AddCommand(sendCmd)

	sendEmailCmd.Flags().BoolVar(&waitFollowUp, "wait", false, "Wait for the scheduled follow-up send")
	sendSMSCmd.Flags().StringVar(&smsPhone, "phone", "", "Override the recipient phone number")
	sendSMSCmd.Flags().BoolVar(&smsPIN, "pin", false, "Issue a one-time retrieval PIN")
}

func runSendEmail(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	res, err := a.Delivery.SendInvoiceEmail(ctx, args[0], args[1], cliActor())
	if err != nil {
		return err
	}

	out := EmailOutput{
		InvoiceID:  res.Invoice.ID.String(),
		Number:     res.Invoice.InvoiceNumber,
		Recipient:  res.Recipient,
		Government: res.Government,
	}
	if res.FollowUp != nil {
		due := res.FollowUp.Due()
		out.FollowUpAt = &due
		if waitFollowUp {
			printVerbose("Waiting for follow-up at %s\n", due.Format(time.RFC3339))
			if err := waitFor(cmd, res.FollowUp); err != nil {
				return err
			}
			out.FollowUpRan = true
		}
	}

	if outputFormat == "json" {
		return writeJSON(os.Stdout, out)
	}

	fmt.Printf("Sent %s to %s\n", out.Number, out.Recipient)
	if out.FollowUpAt != nil {
		if out.FollowUpRan {
			fmt.Println("Follow-up XRechnung export sent")
		} else {
			fmt.Printf("Follow-up XRechnung export scheduled for %s\n", out.FollowUpAt.Local().Format(time.DateTime))
			if !waitFollowUp {
				fmt.Println("Note: the follow-up is dropped when this command exits; use --wait")
			}
		}
	}
	return nil
}

func waitFor(cmd *cobra.Command, h *delivery.Handle) error {
	select {
	case <-h.Done():
		return nil
	case <-cmd.Context().Done():
		return cmd.Context().Err()
	}
}

func runSendSMS(cmd *cobra.Command, args []string) error {
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

	res, err := a.Delivery.SendInvoiceSMS(ctx, id, smsPhone, smsPIN, cliActor())
	if err != nil {
		return err
	}

	out := SMSOutput{
		InvoiceID:    res.Invoice.ID.String(),
		Phone:        delivery.MaskPhone(res.Phone),
		PINIssued:    res.PINIssued,
		PINExpiresAt: res.PINExpiresAt,
	}
	if outputFormat == "json" {
		return writeJSON(os.Stdout, out)
	}

	fmt.Printf("Sent SMS for invoice %s to %s\n", out.InvoiceID, out.Phone)
	if out.PINExpiresAt != nil {
		fmt.Printf("Retrieval PIN valid until %s\n", out.PINExpiresAt.Local().Format(time.DateTime))
	}
	return nil
}
