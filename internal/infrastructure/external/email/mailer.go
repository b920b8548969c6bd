package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/garyjia/po-workflow/internal/application/port"
)

// Config holds SMTP settings
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// Mailer implements port.SupplierMailer over SMTP
type Mailer struct {
	dialer *gomail.Dialer
	from   string
	send   func(m ...*gomail.Message) error
	logger *zap.Logger
}

var _ port.SupplierMailer = (*Mailer)(nil)

var htmlBody = template.Must(template.New("order").Parse(`<html>
	<head><meta charset="utf-8"><title>{{.Subject}}</title></head>
	<body>
		<p>Dear {{.SupplierName}},</p>
		<p>{{.Body}}</p>
		<p><a href="{{.Link}}" target="_blank">Open purchase order {{.OrderNumber}}</a></p>
		<p>This link is personal to your company and can be used once.</p>
	</body>
</html>`))

// NewMailer creates a new SMTP mailer
func NewMailer(cfg Config, logger *zap.Logger) *Mailer {
	smtpPort := cfg.Port
	if smtpPort == 0 {
		smtpPort = 587
	}

	dialer := gomail.NewDialer(cfg.Host, smtpPort, cfg.Username, cfg.Password)
	m := &Mailer{
		dialer: dialer,
		from:   cfg.From,
		logger: logger,
	}
	if cfg.FromName != "" {
		m.from = gomail.NewMessage().FormatAddress(cfg.From, cfg.FromName)
	}
	m.send = dialer.DialAndSend
	return m
}

// SendOrderEmail sends a supplier their order link as text and HTML
func (m *Mailer) SendOrderEmail(ctx context.Context, msg port.SupplierEmail) error {
	if msg.To == "" {
		return fmt.Errorf("recipient address cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	message, err := m.buildMessage(msg)
	if err != nil {
		return err
	}

	if err := m.send(message); err != nil {
		m.logger.Error("Failed to send order email",
			zap.String("to", msg.To),
			zap.String("order_number", msg.OrderNumber),
			zap.Error(err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Info("Order email sent",
		zap.String("to", msg.To),
		zap.String("order_number", msg.OrderNumber))
	return nil
}

func (m *Mailer) buildMessage(msg port.SupplierEmail) (*gomail.Message, error) {
	var html bytes.Buffer
	if err := htmlBody.Execute(&html, msg); err != nil {
		return nil, fmt.Errorf("failed to render email body: %w", err)
	}

	message := gomail.NewMessage()
	message.SetHeader("From", m.from)
	message.SetHeader("To", msg.To)
	message.SetHeader("Subject", msg.Subject)
	message.SetBody("text/plain", textBody(msg))
	message.AddAlternative("text/html", html.String())
	return message, nil
}

func textBody(msg port.SupplierEmail) string {
	return fmt.Sprintf("Dear %s,\n\n%s\n\n%s\n\nThis link is personal to your company and can be used once.\n",
		msg.SupplierName, msg.Body, msg.Link)
}
