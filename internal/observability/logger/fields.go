package logger

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

// ─── HTTP ───

func RequestID(v string) zap.Field       { return zap.String("request_id", v) }
func Method(v string) zap.Field          { return zap.String("method", v) }
func Path(v string) zap.Field            { return zap.String("path", v) }
func Status(v int) zap.Field             { return zap.Int("status", v) }
func DurationMs(v int64) zap.Field       { return zap.Int64("duration_ms", v) }
func ClientIP(v string) zap.Field        { return zap.String("client_ip", v) }
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// ─── Login flow ───

// Provider identifica el identity provider configurado (google, github, ...).
func Provider(v string) zap.Field { return zap.String("provider", v) }

// AttemptID es el id de correlación de un intento de login.
func AttemptID(v string) zap.Field { return zap.String("attempt_id", v) }

// Step es el estado actual del state machine.
func Step(v string) zap.Field { return zap.String("step", v) }

func Realm(v string) zap.Field     { return zap.String("realm", v) }
func Principal(v string) zap.Field { return zap.String("principal", v) }

// Email agrega el email enmascarado, nunca el valor completo.
func Email(v string) zap.Field { return zap.String("email_masked", MaskEmail(v)) }

// ─── Sistema ───

func Component(v string) zap.Field { return zap.String("component", v) }
func Layer(v string) zap.Field     { return zap.String("layer", v) }
func Op(v string) zap.Field        { return zap.String("op", v) }
func Err(err error) zap.Field      { return zap.Error(err) }

// ─── Genéricos ───

func String(key, v string) zap.Field           { return zap.String(key, v) }
func Int(key string, v int) zap.Field          { return zap.Int(key, v) }
func Bool(key string, v bool) zap.Field        { return zap.Bool(key, v) }
func Any(key string, v any) zap.Field          { return zap.Any(key, v) }
func Strings(key string, v []string) zap.Field { return zap.Strings(key, v) }

// MaskEmail deja los primeros 2 caracteres y el dominio: jo***@example.com
func MaskEmail(email string) string {
	if len(email) < 3 {
		return "***"
	}
	at := strings.IndexByte(email, '@')
	if at < 2 {
		return email[:2] + "***"
	}
	return email[:2] + "***" + email[at:]
}
