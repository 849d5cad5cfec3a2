package notification

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"text/template"
	"time"

	"github.com/smukkama/demand-monitor/internal/protocol"
	"github.com/smukkama/demand-monitor/pkg/config"
)

// SendFunc matches smtp.SendMail
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends change digests by email
type EmailNotifier struct {
	config *config.SMTPConfig
	send   SendFunc
	now    func() time.Time
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.SMTPConfig) *EmailNotifier {
	return &EmailNotifier{config: cfg, send: smtp.SendMail, now: time.Now}
}

// WithSender replaces the SMTP transport
func (e *EmailNotifier) WithSender(send SendFunc) *EmailNotifier {
	e.send = send
	return e
}

var digestTemplate = template.Must(template.New("digest").Funcs(template.FuncMap{
	"day": func(t time.Time) string { return t.Format("2006-01-02") },
	"signed": func(f float64) string {
		return fmt.Sprintf("%+g", f)
	},
}).Parse(`
Travel Restriction Changes
==========================

Country: {{.Name}}
Reference date: {{day .Digest.ReferenceDate}}
Run: {{.Digest.RunID}}
{{if .Digest.Events}}
Policy changes
--------------
{{range .Digest.Events}}- {{day .Date}} {{.Column}}: {{.Previous}} -> {{.Current}} ({{.Type}}, {{signed .Magnitude}})
{{end}}{{end}}{{if .Digest.Borders}}
Border changes
--------------
{{range .Digest.Borders}}- Arrivals from {{.Origin}}: {{or .Previous "unknown"}} -> {{.Current}}
{{end}}{{end}}
---
Demand Monitor Notification System
`))

// Subject builds the subject line of a digest
func Subject(d *protocol.ChangeDigest) string {
	var parts []string
	if n := len(d.Events); n > 0 {
		parts = append(parts, fmt.Sprintf("%d policy change%s", n, plural(n)))
	}
	if n := len(d.Borders); n > 0 {
		parts = append(parts, fmt.Sprintf("%d border change%s", n, plural(n)))
	}
	return fmt.Sprintf("Restriction changes - %s: %s", displayName(d), strings.Join(parts, ", "))
}

// Render renders the plain-text body of a digest
func Render(d *protocol.ChangeDigest) (string, error) {
	var buf bytes.Buffer
	err := digestTemplate.Execute(&buf, struct {
		Name   string
		Digest *protocol.ChangeDigest
	}{displayName(d), d})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SendDigest mails one country digest. Empty digests are skipped.
func (e *EmailNotifier) SendDigest(d *protocol.ChangeDigest) error {
	if d.Empty() {
		return nil
	}
	body, err := Render(d)
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}
	return e.sendEmail(Subject(d), body)
}

// Backoff spaces delivery attempts: the wait starts at Initial and doubles
// up to Max
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff retries after a second, then up to every five minutes
var DefaultBackoff = Backoff{Initial: time.Second, Max: 5 * time.Minute}

// DeliverDigest sends a digest, retrying failed attempts until one succeeds
// or ctx is done. It only returns an error when ctx ends first.
func (e *EmailNotifier) DeliverDigest(ctx context.Context, d *protocol.ChangeDigest, b Backoff) error {
	wait := b.Initial
	for attempt := 1; ; attempt++ {
		err := e.SendDigest(d)
		if err == nil {
			return nil
		}
		fmt.Printf("Failed to send digest for %s (run %s, attempt %d), retrying in %s: %v\n", d.Country, d.RunID, attempt, wait, err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("digest for %s not delivered after %d attempts: %w", d.Country, attempt, ctx.Err())
		case <-timer.C:
		}
		if wait *= 2; b.Max > 0 && wait > b.Max {
			wait = b.Max
		}
	}
}

func (e *EmailNotifier) sendEmail(subject, body string) error {
	// Skip sending if SMTP is not configured
	if e.config.Username == "" || e.config.Password == "" {
		fmt.Printf("SMTP not configured, skipping email:\nSubject: %s\n%s\n", subject, body)
		return nil
	}

	message := fmt.Sprintf("From: %s\r\n", e.config.From)
	message += fmt.Sprintf("To: %s\r\n", e.config.To)
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += fmt.Sprintf("Date: %s\r\n", e.now().Format(time.RFC1123Z))
	message += "Content-Type: text/plain; charset=UTF-8\r\n"
	message += "\r\n"
	message += body

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	if err := e.send(addr, auth, e.config.From, recipients(e.config.To), []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	fmt.Printf("Email sent successfully: %s\n", subject)
	return nil
}

// TestConnection tests the SMTP connection
func (e *EmailNotifier) TestConnection() error {
	if e.config.Username == "" {
		return fmt.Errorf("SMTP not configured")
	}

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	fmt.Println("SMTP connection test successful")
	return nil
}

func displayName(d *protocol.ChangeDigest) string {
	if d.CountryName != "" {
		return fmt.Sprintf("%s (%s)", d.CountryName, d.Country)
	}
	return d.Country
}

func recipients(to string) []string {
	var out []string
	for _, addr := range strings.Split(to, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
