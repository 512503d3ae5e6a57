// Package alert dispatches operator-facing notifications for the two
// alertable events in the platform: a high-drift query and an
// agent health-status transition. Both channels are optional and
// independently configured; either or both may be disabled.
package alert

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/ashita-ai/sqlsentry/internal/model"
)

const httpTimeout = 5 * time.Second

// Dispatcher fans an alert out to every configured sink. A nil sink (Slack
// webhook unset, SMTP host unset) is skipped, never treated as an error.
type Dispatcher struct {
	slackWebhookURL string

	smtpHost string
	smtpPort int
	smtpUser string
	smtpPass string
	fromAddr string
	toAddrs  []string

	logger *slog.Logger
}

// New builds a Dispatcher. Passing an empty slackWebhookURL disables Slack;
// passing an empty smtpHost disables email. A Dispatcher with both disabled
// still satisfies pipeline.Alerter — every call becomes a no-op logged at
// debug level.
func New(slackWebhookURL, smtpHost string, smtpPort int, smtpUser, smtpPass, fromAddr string, toAddrs []string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		slackWebhookURL: slackWebhookURL,
		smtpHost:        smtpHost,
		smtpPort:        smtpPort,
		smtpUser:        smtpUser,
		smtpPass:        smtpPass,
		fromAddr:        fromAddr,
		toAddrs:         toAddrs,
		logger:          logger,
	}
}

// HighDrift satisfies pipeline.Alerter. Fired once per anomalous query,
// with no additional rate limiting.
func (d *Dispatcher) HighDrift(ctx context.Context, agentType, queryID string, driftScore float64) error {
	title := fmt.Sprintf(":rotating_light: High drift detected for agent %q", agentType)
	text := fmt.Sprintf("query_id: %s\ndrift_score: %.4f", queryID, driftScore)
	return d.fanOut(ctx, title, text, fmt.Sprintf("High drift alert: agent=%s query_id=%s drift_score=%.4f", agentType, queryID, driftScore))
}

// HealthTransition fires when a scheduled health check observes a change
// from the previously recorded status; a steady state never alerts.
func (d *Dispatcher) HealthTransition(ctx context.Context, agentName string, from, to model.HealthStatus, detail string) error {
	title := fmt.Sprintf(":heartbeat: Agent %q health changed: %s -> %s", agentName, from, to)
	text := detail
	if text == "" {
		text = "(no detail)"
	}
	return d.fanOut(ctx, title, text, fmt.Sprintf("Health transition: agent=%s from=%s to=%s detail=%s", agentName, from, to, detail))
}

func (d *Dispatcher) fanOut(ctx context.Context, title, text, logLine string) error {
	var errs []error

	if d.slackWebhookURL != "" {
		if err := d.postSlack(ctx, title, text); err != nil {
			errs = append(errs, fmt.Errorf("alert: slack: %w", err))
		}
	}
	if d.smtpHost != "" && d.fromAddr != "" && len(d.toAddrs) > 0 {
		if err := d.sendEmail(title, text); err != nil {
			errs = append(errs, fmt.Errorf("alert: email: %w", err))
		}
	}
	if d.slackWebhookURL == "" && d.smtpHost == "" {
		d.logger.Debug("alert: no sink configured, dropping", "message", logLine)
		return nil
	}

	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("alert: %s", strings.Join(msgs, "; "))
}

func (d *Dispatcher) postSlack(ctx context.Context, title, text string) error {
	httpCtx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()
	msg := slack.WebhookMessage{
		Text: title,
		Attachments: []slack.Attachment{
			{Text: text, Color: "warning"},
		},
	}
	return slack.PostWebhookContext(httpCtx, d.slackWebhookURL, &msg)
}

// sendEmail delivers over SMTP: STARTTLS is mandatory before credentials
// cross the wire.
func (d *Dispatcher) sendEmail(subject, body string) error {
	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		d.fromAddr, strings.Join(d.toAddrs, ", "), subject, body,
	)
	addr := fmt.Sprintf("%s:%d", d.smtpHost, d.smtpPort)
	return sendMailTLS(addr, d.smtpHost, d.smtpUser, d.smtpPass, d.fromAddr, d.toAddrs, []byte(msg))
}

func sendMailTLS(addr, host, user, pass, from string, recipients []string, msg []byte) error {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("smtp: dial %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp: new client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("smtp: hello: %w", err)
	}

	if ok, _ := client.Extension("STARTTLS"); !ok {
		return fmt.Errorf("smtp: server %s does not support STARTTLS, refusing to send credentials", host)
	}
	tlsCfg := &tls.Config{ServerName: host} //nolint:gosec // ServerName is set, this is safe
	if err := client.StartTLS(tlsCfg); err != nil {
		return fmt.Errorf("smtp: starttls: %w", err)
	}

	if user != "" {
		if err := client.Auth(smtp.PlainAuth("", user, pass, host)); err != nil {
			return fmt.Errorf("smtp: auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp: mail from: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp: rcpt to %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp: data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp: close data: %w", err)
	}

	return client.Quit()
}
