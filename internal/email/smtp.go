package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"strings"

	"github.com/dropDatabas3/fedlogin/internal/i18n"
	"github.com/dropDatabas3/fedlogin/internal/observability/logger"
	mail "github.com/go-mail/mail"
)

// Dialer es lo que SMTPSender necesita de *mail.Dialer.
type Dialer interface {
	DialAndSend(m ...*mail.Message) error
}

// SMTPSender implementa Sender usando SMTP (go-mail).
type SMTPSender struct {
	bundle *i18n.Bundle
	dial   func(SMTPConfig) Dialer
}

// NewSMTPSender crea un SMTPSender que localiza el mensaje con bundle.
func NewSMTPSender(bundle *i18n.Bundle) *SMTPSender {
	return &SMTPSender{bundle: bundle, dial: newDialer}
}

func newDialer(cfg SMTPConfig) Dialer {
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	d := mail.NewDialer(cfg.Host, port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.InsecureSkipVerify, // solo dev
	}
	switch cfg.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.TLSConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
		d.StartTLSPolicy = mail.NoStartTLS
	default:
		// "auto"/"starttls": go-mail negocia STARTTLS si corresponde
	}
	return d
}

var htmlTpl = template.Must(template.New("activation").Parse(
	`<!doctype html><html><body><p>{{.Intro}}</p><p style="font-size:20px"><strong>{{.Code}}</strong></p></body></html>`,
))

// SendActivation arma el mensaje localizado y lo envía.
func (s *SMTPSender) SendActivation(ctx context.Context, msg ActivationMessage) error {
	log := logger.From(ctx).With(
		logger.Component("email.smtp"),
		logger.String("host", msg.SMTP.Host),
		logger.Int("port", msg.SMTP.Port),
		logger.Email(msg.To),
	)

	m, err := s.build(msg)
	if err != nil {
		log.Warn("activation email not built", logger.Err(err))
		return err
	}

	log.Debug("sending activation email", logger.String("tls_mode", msg.SMTP.TLSMode))
	if err := s.dial(msg.SMTP).DialAndSend(m); err != nil {
		log.Error("smtp send failed", logger.Err(err))
		return fmt.Errorf("%w: smtp send: %v", ErrNoEmailSent, err)
	}

	log.Info("activation email sent")
	return nil
}

func (s *SMTPSender) build(msg ActivationMessage) (*mail.Message, error) {
	switch {
	case strings.TrimSpace(msg.To) == "":
		return nil, fmt.Errorf("%w: missing recipient", ErrNoEmailSent)
	case strings.TrimSpace(msg.From) == "":
		return nil, fmt.Errorf("%w: missing sender", ErrNoEmailSent)
	case strings.TrimSpace(msg.SMTP.Host) == "":
		return nil, fmt.Errorf("%w: missing smtp host", ErrNoEmailSent)
	case msg.Code == "":
		return nil, fmt.Errorf("%w: missing code", ErrNoEmailSent)
	}

	subject := s.bundle.Lookup(msg.Locale, i18n.KeyActivationSubject)
	text := s.bundle.Format(msg.Locale, i18n.KeyActivationBody, msg.Code)

	var html bytes.Buffer
	intro := strings.TrimSuffix(strings.TrimSpace(s.bundle.Format(msg.Locale, i18n.KeyActivationBody, "")), ":")
	if err := htmlTpl.Execute(&html, struct{ Intro, Code string }{intro, msg.Code}); err != nil {
		return nil, fmt.Errorf("%w: render: %v", ErrNoEmailSent, err)
	}

	m := mail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", subject)
	// multipart/alternative (txt + html)
	m.SetBody("text/plain", text)
	m.AddAlternative("text/html", html.String())
	return m, nil
}
