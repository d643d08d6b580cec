package email

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type sentMail struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	msg  string
}

func capture(svc *Service) *[]sentMail {
	var sent []sentMail
	svc.WithSender(func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		sent = append(sent, sentMail{addr: addr, auth: a, from: from, to: to, msg: string(msg)})
		return nil
	})
	return &sent
}

func configured() Config {
	return Config{
		Host:     "smtp.example.com",
		Port:     "587",
		From:     "noreply@example.com",
		FromName: "The Grand Finale",
	}
}

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing host", config: Config{Port: "587", From: "a@example.com"}, expected: false},
		{name: "missing port", config: Config{Host: "smtp.example.com", From: "a@example.com"}, expected: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: "587"}, expected: false},
		{name: "fully configured", config: configured(), expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config, nil)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestSendEmailNotConfigured(t *testing.T) {
	svc := NewService(Config{}, nil)
	sent := capture(svc)
	if err := svc.SendEmail([]string{"a@example.com"}, "hi", "body"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if len(*sent) != 0 {
		t.Fatalf("expected nothing sent, got %d", len(*sent))
	}
}

func TestSendEmailPlainText(t *testing.T) {
	svc := NewService(configured(), nil)
	sent := capture(svc)

	if err := svc.SendEmail([]string{"a@example.com", "b@example.com"}, "Hello", "line one\nline two"); err != nil {
		t.Fatalf("SendEmail: %v", err)
	}
	if len(*sent) != 1 {
		t.Fatalf("expected one message, got %d", len(*sent))
	}
	mail := (*sent)[0]
	if mail.addr != "smtp.example.com:587" {
		t.Errorf("unexpected server %q", mail.addr)
	}
	if mail.auth != nil {
		t.Error("expected no auth without a username")
	}
	for _, want := range []string{
		"To: a@example.com, b@example.com\r\n",
		"From: The Grand Finale <noreply@example.com>\r\n",
		"Subject: Hello\r\n",
		"line one\r\nline two",
	} {
		if !strings.Contains(mail.msg, want) {
			t.Errorf("message missing %q:\n%s", want, mail.msg)
		}
	}
}

func TestSendEmailUsesAuthWithUsername(t *testing.T) {
	cfg := configured()
	cfg.Username = "mailer"
	cfg.Password = "secret"
	svc := NewService(cfg, nil)
	sent := capture(svc)

	if err := svc.SendEmail([]string{"a@example.com"}, "x", "y"); err != nil {
		t.Fatalf("SendEmail: %v", err)
	}
	if (*sent)[0].auth == nil {
		t.Error("expected plain auth when a username is set")
	}
}

func supportRequest() SupportRequest {
	return SupportRequest{
		ID:          "sup_1",
		Name:        "Ada <script>",
		Email:       "ada@example.com",
		Subject:     "Cannot save\r\nBcc: everyone@example.com",
		Category:    "technical",
		Message:     "The finance page spins forever.",
		SubmittedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestSendSupportRequest(t *testing.T) {
	svc := NewService(configured(), zaptest.NewLogger(t))
	sent := capture(svc)

	if err := svc.SendSupportRequest("support@example.com", supportRequest()); err != nil {
		t.Fatalf("SendSupportRequest: %v", err)
	}
	mail := (*sent)[0]
	if len(mail.to) != 1 || mail.to[0] != "support@example.com" {
		t.Errorf("unexpected recipients %v", mail.to)
	}
	for _, want := range []string{
		"Reply-To: ada@example.com\r\n",
		"Subject: The Grand Finale - Support Request: Cannot save  Bcc: everyone@example.com\r\n",
		"Request ID: sup_1",
		"User ID: Not logged in",
		"2026-03-01 09:30:00 UTC",
		"The finance page spins forever.",
		"Ada &lt;script&gt;",
	} {
		if !strings.Contains(mail.msg, want) {
			t.Errorf("message missing %q:\n%s", want, mail.msg)
		}
	}
	headers, _, _ := strings.Cut(mail.msg, "\r\n\r\n")
	if strings.Contains(headers, "\r\nBcc:") {
		t.Errorf("subject must not inject headers:\n%s", headers)
	}
}

func TestSendSupportRequestWithoutSMTPLogsOnly(t *testing.T) {
	svc := NewService(Config{}, zaptest.NewLogger(t))
	sent := capture(svc)

	err := svc.SendSupportRequest("support@example.com", supportRequest())
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if len(*sent) != 0 {
		t.Fatal("expected nothing sent")
	}
}

func TestSendPropagatesTransportError(t *testing.T) {
	svc := NewService(configured(), nil)
	boom := errors.New("connection refused")
	svc.WithSender(func(string, smtp.Auth, string, []string, []byte) error { return boom })

	if err := svc.SendSupportRequest("support@example.com", supportRequest()); !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
}
