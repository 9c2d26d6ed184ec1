package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
)

type sendMailFunc func(addr string, a sasl.Client, from string, to []string, r io.Reader) error

// EmailChannel sends alerts through an SMTP relay.
type EmailChannel struct {
	cfg      EmailConfig
	sendMail sendMailFunc
}

// NewEmailChannel creates an email channel
func NewEmailChannel(cfg EmailConfig) *EmailChannel {
	return &EmailChannel{cfg: cfg, sendMail: smtp.SendMail}
}

func (c *EmailChannel) Name() string {
	return "email"
}

func (c *EmailChannel) Dispatch(ctx context.Context, alert workflowv1.Alert) error {
	if len(c.cfg.To) == 0 {
		return fmt.Errorf("no recipients configured")
	}
	msg, err := c.message(alert)
	if err != nil {
		return err
	}

	var auth sasl.Client
	if c.cfg.Password != "" {
		username := c.cfg.Username
		if username == "" {
			username = c.cfg.From
		}
		auth = sasl.NewPlainClient("", username, c.cfg.Password)
	}

	if err := c.sendMail(c.cfg.SMTPServer, auth, c.cfg.From, c.cfg.To, msg); err != nil {
		return fmt.Errorf("sending mail via %s: %w", c.cfg.SMTPServer, err)
	}
	return nil
}

func (c *EmailChannel) message(alert workflowv1.Alert) (*bytes.Buffer, error) {
	buf := bytes.NewBufferString("From: " + c.cfg.From + "\r\n" +
		"To: " + strings.Join(c.cfg.To, ",") + "\r\n" +
		"Subject: [" + string(alert.Severity) + "] " + alert.AlertType + ": " + alert.Message + "\r\n" +
		"Content-Type: application/json; charset=utf-8\r\n" +
		"\r\n")

	encoder := json.NewEncoder(buf)
	encoder.SetIndent("", "    ")
	if err := encoder.Encode(alert); err != nil {
		return nil, err
	}
	return buf, nil
}
