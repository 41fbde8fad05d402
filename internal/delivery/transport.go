package delivery

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"sync"

	"github.com/jordan-wright/email"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Attachment is a file attached to an outgoing mail
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message is an outgoing mail
type Message struct {
	To          []string
	Subject     string
	Text        string
	Attachments []Attachment
}

// Mailer dispatches mail. Implementations must not retry.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMSSender dispatches a text message. Implementations must not retry.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// SMTPConfig configures the SMTP relay
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends mail through an SMTP relay. Attachments are base64 encoded.
type SMTPMailer struct {
	addr string
	from string
	auth smtp.Auth
}

// NewSMTPMailer creates a mailer for cfg; auth is skipped without a username
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("smtp host and sender address are required")
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	m := &SMTPMailer{
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		from: cfg.From,
	}
	if cfg.Username != "" {
		m.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return m, nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := email.NewEmail()
	e.From = m.from
	e.To = msg.To
	e.Subject = msg.Subject
	e.Text = []byte(msg.Text)
	for _, att := range msg.Attachments {
		if _, err := e.Attach(bytes.NewReader(att.Content), att.Filename, att.ContentType); err != nil {
			return fmt.Errorf("attach %s: %w", att.Filename, err)
		}
	}
	return e.Send(m.addr, m.auth)
}

// TwilioSender sends SMS through the Twilio REST API
type TwilioSender struct {
	client *twilio.RestClient
	from   string
}

// NewTwilioSender creates an SMS sender for the given account
func NewTwilioSender(accountSID, authToken, from string) (*TwilioSender, error) {
	if accountSID == "" || authToken == "" || from == "" {
		return nil, fmt.Errorf("twilio account sid, auth token and sender number are required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioSender{client: client, from: from}, nil
}

func (s *TwilioSender) SendSMS(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)
	if _, err := s.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio create message: %w", err)
	}
	return nil
}

// LogTransport logs mail and SMS instead of sending them and keeps a copy of
// each. Used by the local profile and tests.
type LogTransport struct {
	logger *slog.Logger

	mu       sync.Mutex
	mails    []Message
	sms      []SMS
	failMail error
	failSMS  error
}

// SMS is a recorded text message
type SMS struct {
	To   string
	Body string
}

// NewLogTransport creates a logging transport
func NewLogTransport(logger *slog.Logger) *LogTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTransport{logger: logger.With("module", "delivery", "transport", "log")}
}

// FailMail makes subsequent mail sends return err; nil restores success
func (t *LogTransport) FailMail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failMail = err
}

// FailSMS makes subsequent SMS sends return err; nil restores success
func (t *LogTransport) FailSMS(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failSMS = err
}

func (t *LogTransport) Send(ctx context.Context, msg Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failMail != nil {
		return t.failMail
	}
	names := make([]string, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		names = append(names, att.Filename)
	}
	t.logger.InfoContext(ctx, "mail sent", "to", msg.To, "subject", msg.Subject, "attachments", names)
	t.mails = append(t.mails, msg)
	return nil
}

func (t *LogTransport) SendSMS(ctx context.Context, to, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failSMS != nil {
		return t.failSMS
	}
	t.logger.InfoContext(ctx, "sms sent", "to", to, "bytes", len(body))
	t.sms = append(t.sms, SMS{To: to, Body: body})
	return nil
}

// Mails returns the recorded mails
func (t *LogTransport) Mails() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Message(nil), t.mails...)
}

// SMSMessages returns the recorded text messages
func (t *LogTransport) SMSMessages() []SMS {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]SMS(nil), t.sms...)
}
