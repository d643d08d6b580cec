// Package email sends support notifications over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"net/smtp"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"
)

// ErrNotConfigured is returned when no SMTP host or sender is set. The
// message is logged instead of sent.
var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   SendFunc
	log    *zap.Logger
}

// NewService creates a new email service. Auth is only used when a username
// is set.
func NewService(config Config, logger *zap.Logger) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
		log:    logger,
	}
}

// WithSender replaces the SMTP transport.
func (s *Service) WithSender(send SendFunc) *Service {
	s.send = send
	return s
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}

	var msg bytes.Buffer
	s.writeHeaders(&msg, to, subject, "")
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	msg.WriteString(crlf(body))

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// SendHTMLEmail sends an HTML email with a plain text alternative.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody, replyTo string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}

	boundary := "boundary-grandfinale"

	var msg bytes.Buffer
	s.writeHeaders(&msg, to, subject, replyTo)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", crlf(textBody))
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", crlf(htmlBody))
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

func (s *Service) writeHeaders(msg *bytes.Buffer, to []string, subject, replyTo string) {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", headerValue(s.config.FromName), s.config.From)
	}
	fmt.Fprintf(msg, "To: %s\r\n", headerValue(strings.Join(to, ", ")))
	fmt.Fprintf(msg, "From: %s\r\n", from)
	if replyTo != "" {
		fmt.Fprintf(msg, "Reply-To: %s\r\n", headerValue(replyTo))
	}
	fmt.Fprintf(msg, "Subject: %s\r\n", headerValue(subject))
}

// SupportRequest is one message sent through the support contact form.
type SupportRequest struct {
	ID          string
	Name        string
	Email       string
	Subject     string
	Category    string
	Message     string
	UserID      string
	SubmittedAt time.Time
}

// SendSupportRequest notifies the support inbox. Without SMTP the request is
// logged and ErrNotConfigured returned.
func (s *Service) SendSupportRequest(to string, req SupportRequest) error {
	text, err := renderText(supportTextTemplate, req)
	if err != nil {
		return fmt.Errorf("render support text: %w", err)
	}

	if !s.IsConfigured() {
		s.log.Info("support request not mailed, smtp not configured",
			zap.String("request_id", req.ID),
			zap.String("to", to),
			zap.String("category", req.Category),
			zap.String("body", text),
		)
		return ErrNotConfigured
	}

	html, err := renderHTML(supportHTMLTemplate, req)
	if err != nil {
		return fmt.Errorf("render support html: %w", err)
	}
	subject := "The Grand Finale - Support Request: " + req.Subject
	return s.SendHTMLEmail([]string{to}, subject, text, html, req.Email)
}

func renderText(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderHTML(tmpl *htmltemplate.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// headerValue keeps user input on a single header line.
func headerValue(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

func crlf(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	return strings.ReplaceAll(body, "\n", "\r\n")
}

var supportTextTemplate = template.Must(template.New("support-text").Parse(`New Support Request Received

Request ID: {{.ID}}
Submitted: {{.SubmittedAt.Format "2006-01-02 15:04:05 MST"}}

User Information:
- Name: {{.Name}}
- Email: {{.Email}}
- User ID: {{if .UserID}}{{.UserID}}{{else}}Not logged in{{end}}

Request Details:
- Subject: {{.Subject}}
- Category: {{.Category}}
- Message:
{{.Message}}
`))

var supportHTMLTemplate = htmltemplate.Must(htmltemplate.New("support-html").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Support Request {{.ID}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #E4B64A; padding-bottom: 10px; margin-bottom: 20px; }
        .message { background: #f9f9f9; padding: 16px; border-radius: 4px; white-space: pre-wrap; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>New Support Request</h1>
    </div>

    <p><strong>Name:</strong> {{.Name}}<br>
    <strong>Email:</strong> {{.Email}}<br>
    <strong>User ID:</strong> {{if .UserID}}{{.UserID}}{{else}}Not logged in{{end}}</p>

    <p><strong>Subject:</strong> {{.Subject}}<br>
    <strong>Category:</strong> {{.Category}}</p>

    <div class="message">{{.Message}}</div>

    <div class="footer">
        <p>Request ID: {{.ID}}, submitted {{.SubmittedAt.Format "2006-01-02 15:04:05 MST"}}</p>
    </div>
</body>
</html>`))
