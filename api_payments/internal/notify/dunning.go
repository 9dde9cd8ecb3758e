package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"frameworks/pkg/email"
	"frameworks/pkg/logging"
)

// Mailer delivers one HTML email.
type Mailer interface {
	SendMail(ctx context.Context, to, subject, htmlBody string) error
}

// DunningReminder is what a reminder email renders.
type DunningReminder struct {
	To             string
	Template       string
	SubscriptionID string
	PlanName       string
	RetryCount     int
	ManageURL      string
}

type DunningNotifier struct {
	sender     Mailer
	configured bool
	billingURL string
	logger     logging.Logger
}

func NewDunningNotifier(cfg email.Config, billingURL string, logger logging.Logger) *DunningNotifier {
	return &DunningNotifier{
		sender:     email.NewSender(cfg),
		configured: cfg.Configured(),
		billingURL: billingURL,
		logger:     logger,
	}
}

// NewDunningNotifierWithMailer is used by tests and alternative transports.
func NewDunningNotifierWithMailer(sender Mailer, billingURL string, logger logging.Logger) *DunningNotifier {
	return &DunningNotifier{sender: sender, configured: true, billingURL: billingURL, logger: logger}
}

func (n *DunningNotifier) IsConfigured() bool {
	return n.configured
}

// Send renders r with its template and mails it. An unconfigured notifier
// logs and returns nil.
func (n *DunningNotifier) Send(ctx context.Context, r DunningReminder) error {
	if !n.IsConfigured() {
		n.logger.WithField("template", r.Template).Warn("Email notifier not configured, skipping dunning reminder")
		return nil
	}
	if r.To == "" {
		return fmt.Errorf("dunning reminder recipient missing")
	}
	if r.ManageURL == "" && n.billingURL != "" {
		r.ManageURL = strings.TrimRight(n.billingURL, "/") + "/billing"
	}

	subject, body, err := renderDunning(r)
	if err != nil {
		return fmt.Errorf("render dunning email: %w", err)
	}
	if err := n.sender.SendMail(ctx, r.To, subject, body); err != nil {
		n.logger.WithFields(logging.Fields{
			"error":           err.Error(),
			"subscription_id": r.SubscriptionID,
			"template":        r.Template,
		}).Error("Failed to send dunning reminder")
		return err
	}

	n.logger.WithFields(logging.Fields{
		"subscription_id": r.SubscriptionID,
		"template":        r.Template,
		"retry_count":     r.RetryCount,
	}).Info("Dunning reminder sent")
	return nil
}

var dunningSubjects = map[string]string{
	"dunning_reminder_1": "Your payment didn't go through",
	"dunning_reminder_2": "Reminder: please update your payment method",
	"dunning_final":      "Final notice: your subscription will be canceled",
}

var dunningTemplate = template.Must(template.New("dunning").Parse(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Subject}}</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: {{if .Final}}#e74c3c{{else}}#2c3e50{{end}};">{{.Subject}}</h2>

        <p>Hello,</p>

        {{if .Final}}
        <p>We still could not collect the payment for your {{.PlanName}} subscription. This is our last reminder before the subscription is canceled.</p>
        {{else}}
        <p>We could not collect the latest payment for your {{.PlanName}} subscription. We'll retry automatically, but updating your payment method now avoids any interruption.</p>
        {{end}}

        {{if .ManageURL}}
        <p style="text-align: center; margin: 30px 0;">
            <a href="{{.ManageURL}}" style="background-color: #3498db; color: white; padding: 12px 24px; text-decoration: none; border-radius: 5px; display: inline-block;">Update Payment Method</a>
        </p>
        {{end}}

        <p style="color: #6c757d; font-size: 12px;">Subscription {{.SubscriptionID}}, reminder {{.RetryCount}}</p>
    </div>
</body>
</html>`))

func renderDunning(r DunningReminder) (string, string, error) {
	subject, ok := dunningSubjects[r.Template]
	if !ok {
		subject = "Action needed: payment failed"
	}
	if r.PlanName == "" {
		r.PlanName = "current"
	}

	var buf bytes.Buffer
	err := dunningTemplate.Execute(&buf, struct {
		DunningReminder
		Subject string
		Final   bool
	}{
		DunningReminder: r,
		Subject:         subject,
		Final:           strings.HasSuffix(r.Template, "_final"),
	})
	if err != nil {
		return "", "", err
	}
	return subject, buf.String(), nil
}
