// Package email delivers the activation code of the set-password step.
package email

import (
	"context"
	"errors"
)

// ErrNoEmailSent wraps every delivery failure, including invalid input.
var ErrNoEmailSent = errors.New("email: no email sent")

// SMTPConfig contiene la configuración para conectarse a un servidor SMTP.
type SMTPConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"` // default 587
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	TLSMode            string `yaml:"tls_mode"` // "auto" | "starttls" | "ssl" | "none"
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// ActivationMessage is one activation-code email.
type ActivationMessage struct {
	From   string
	To     string
	Code   string
	SMTP   SMTPConfig
	Locale string
}

// Sender delivers activation codes. Implementations return an error wrapping
// ErrNoEmailSent when the message was not handed to the mail server.
type Sender interface {
	SendActivation(ctx context.Context, msg ActivationMessage) error
}
