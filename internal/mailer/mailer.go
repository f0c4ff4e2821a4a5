// Package mailer delivers completion reports and assignment notices over
// SMTP. Delivery is always fire-and-forget: failures are logged with
// transport diagnostics and never propagate to the caller.
package mailer

import (
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"khyanalt/internal/config"
	"khyanalt/internal/logging"
)

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// Message is one outgoing email. HTMLBody is optional; when present the
// message goes out as multipart/alternative. Attachment is optional.
type Message struct {
	To             string
	Subject        string
	TextBody       string
	HTMLBody       string
	AttachmentName string
	Attachment     []byte
}

// Sender delivers messages. The SMTP implementation is process-wide; tests
// substitute their own.
type Sender interface {
	Send(msg *Message) error
}

// SMTPSender sends through a configured SMTP relay. The transport settings
// are resolved once on first use and cached for the process lifetime.
type SMTPSender struct {
	cfg  config.SMTPConfig
	once sync.Once
	auth smtp.Auth
}

// NewSMTPSender returns a sender over cfg.
func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) setup() {
	if s.cfg.Username != "" {
		s.auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
}

// Send delivers one message, honoring the configured connect/send timeout.
func (s *SMTPSender) Send(msg *Message) error {
	if !s.cfg.Enabled() {
		return fmt.Errorf("smtp transport not configured")
	}
	s.once.Do(s.setup)

	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	conn, err := net.DialTimeout("tcp", s.cfg.Addr(), timeout)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", s.cfg.Addr(), err)
	}
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return fmt.Errorf("smtp deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if s.cfg.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}
	if s.auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(s.auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}
	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(buildMIME(s.cfg.From, msg)); err != nil {
		w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	if err := client.Quit(); err != nil {
		logging.Get(logging.CategoryMailer).Debugf("smtp quit: %v", err)
	}
	return nil
}

// buildMIME assembles the RFC 2045 message: multipart/mixed around an
// optional multipart/alternative body plus the attachment.
func buildMIME(from string, msg *Message) []byte {
	var sb strings.Builder
	mixed := "mixed-" + uuid.NewString()
	alt := "alt-" + uuid.NewString()

	sb.WriteString("From: " + from + "\r\n")
	sb.WriteString("To: " + msg.To + "\r\n")
	sb.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: multipart/mixed; boundary=\"" + mixed + "\"\r\n\r\n")

	sb.WriteString("--" + mixed + "\r\n")
	if msg.HTMLBody != "" {
		sb.WriteString("Content-Type: multipart/alternative; boundary=\"" + alt + "\"\r\n\r\n")
		sb.WriteString("--" + alt + "\r\n")
		writeTextPart(&sb, "text/plain", msg.TextBody)
		sb.WriteString("--" + alt + "\r\n")
		writeTextPart(&sb, "text/html", msg.HTMLBody)
		sb.WriteString("--" + alt + "--\r\n")
	} else {
		writeTextPart(&sb, "text/plain", msg.TextBody)
	}

	if len(msg.Attachment) > 0 {
		name := msg.AttachmentName
		if name == "" {
			name = "report.docx"
		}
		sb.WriteString("--" + mixed + "\r\n")
		sb.WriteString("Content-Type: " + docxMIME + "; name=\"" + name + "\"\r\n")
		sb.WriteString("Content-Disposition: attachment; filename=\"" + name + "\"\r\n")
		sb.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
		writeBase64(&sb, msg.Attachment)
	}
	sb.WriteString("--" + mixed + "--\r\n")
	return []byte(sb.String())
}

func writeTextPart(sb *strings.Builder, ctype, body string) {
	sb.WriteString("Content-Type: " + ctype + "; charset=utf-8\r\n")
	sb.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
	writeBase64(sb, []byte(body))
}

// writeBase64 emits base64 content wrapped at 76 columns.
func writeBase64(sb *strings.Builder, data []byte) {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		sb.WriteString(encoded[:76] + "\r\n")
		encoded = encoded[76:]
	}
	sb.WriteString(encoded + "\r\n")
}
