package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dropDatabas3/fedlogin/internal/email"
	"github.com/dropDatabas3/fedlogin/internal/oauth/presets"
	"github.com/dropDatabas3/fedlogin/internal/profile"
	"github.com/dropDatabas3/fedlogin/internal/registration"
	"github.com/dropDatabas3/fedlogin/internal/security/secretbox"
	"github.com/dropDatabas3/fedlogin/internal/validation"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Addr           string `yaml:"addr"`
		CookieName     string `yaml:"cookie_name"`
		CookieDomain   string `yaml:"cookie_domain"`
		CookieSameSite string `yaml:"cookie_same_site"`
		CookieSecure   bool   `yaml:"cookie_secure"`
		SessionTTL     string `yaml:"session_ttl"`
		// TrustProxy toma la IP del cliente de X-Forwarded-For.
		TrustProxy bool `yaml:"trust_proxy"`
		// SessionKey (32 bytes en base64, hex o raw) cifra las sesiones
		// guardadas en cache. Vacío = sin cifrado.
		SessionKey string `yaml:"session_key"`
	} `yaml:"server"`

	Cache struct {
		Kind   string `yaml:"kind"` // memory | redis
		Prefix string `yaml:"prefix"`
		Redis  struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	Directory struct {
		Driver            string   `yaml:"driver"` // memory | postgres
		DSN               string   `yaml:"dsn"`
		AutoMigrate       bool     `yaml:"auto_migrate"`
		Realms            []string `yaml:"realms"`
		UsernameAttribute string   `yaml:"username_attribute"`
		Required          []string `yaml:"required"`
	} `yaml:"directory"`

	Rate struct {
		Enabled     bool   `yaml:"enabled"`
		MaxRequests int    `yaml:"max_requests"`
		Window      string `yaml:"window"`
	} `yaml:"rate"`

	SMTP email.SMTPConfig `yaml:"smtp"`

	// Registration firma el client token de la delegación. Compartido por
	// todos los providers.
	Registration struct {
		Secret   string `yaml:"secret"`
		Issuer   string `yaml:"issuer"`
		Audience string `yaml:"audience"`
		TTL      string `yaml:"ttl"`
	} `yaml:"registration"`

	Providers []Provider `yaml:"providers"`
}

// Provider es el bloque de configuración de un IdP.
type Provider struct {
	Name   string `yaml:"name"`
	Realm  string `yaml:"realm"`
	Issuer string `yaml:"issuer"`
	// Preset completa endpoints, scopes y mappings vacíos (google | github).
	Preset string `yaml:"preset"`

	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`

	// Overrides de discovery; obligatorios sin issuer (OAuth2 plano).
	AuthURL     string `yaml:"auth_url"`
	TokenURL    string `yaml:"token_url"`
	UserInfoURL string `yaml:"userinfo_url"`

	MixUpMitigation bool   `yaml:"mixup_mitigation"`
	TokenStrategy   string `yaml:"token_strategy"` // redirect | header
	TokenHeader     string `yaml:"token_header"`

	AccountMapper   profile.MapperConfig `yaml:"account_mapper"`
	AttributeMapper profile.MapperConfig `yaml:"attribute_mapper"`

	CreateAccount           bool   `yaml:"create_account"`
	PromptPassword          bool   `yaml:"prompt_password"`
	AnonymousUser           string `yaml:"anonymous_user"`
	UsernameAttribute       string `yaml:"username_attribute"`
	EmailAttribute          string `yaml:"email_attribute"`
	EmailFrom               string `yaml:"email_from"`
	SaveAttributesInSession bool   `yaml:"save_attributes_in_session"`

	Registration struct {
		URL   string `yaml:"url"`
		Param string `yaml:"param"`
	} `yaml:"registration"`
}

// Delegates reports whether account creation goes to the external service.
func (p Provider) Delegates() bool { return p.CreateAccount && p.Registration.URL != "" }

// Challenges reports whether account creation asks for a password and an
// activation code.
func (p Provider) Challenges() bool {
	return p.CreateAccount && p.Registration.URL == "" && p.PromptPassword
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodifica YAML, aplica defaults y después las variables FEDLOGIN_*.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	c.applyDefaults()
	c.applyEnvOverrides()
	return &c, nil
}

func (c *Config) applyDefaults() {
	// sane defaults
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.CookieName == "" {
		c.Server.CookieName = "fedlogin_session"
	}
	if c.Server.SessionTTL == "" {
		c.Server.SessionTTL = "15m"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "fedlogin"
	}
	if c.Cache.Memory.DefaultTTL == "" {
		c.Cache.Memory.DefaultTTL = "15m"
	}
	if c.Directory.Driver == "" {
		c.Directory.Driver = "memory"
	}
	if c.Rate.MaxRequests == 0 {
		c.Rate.MaxRequests = 30
	}
	if c.Rate.Window == "" {
		c.Rate.Window = "1m"
	}
	if c.Registration.TTL == "" {
		c.Registration.TTL = "10m"
	}
	for i := range c.Providers {
		p := &c.Providers[i]
		applyPreset(p)
		if p.Realm == "" {
			p.Realm = "/"
		}
		if p.TokenStrategy == "" {
			p.TokenStrategy = "redirect"
		}
	}
}

// ---- Helpers env ----

// applyPreset solo completa campos vacíos; el YAML siempre gana.
func applyPreset(p *Provider) {
	ps, ok := presets.Lookup(p.Preset)
	if !ok {
		return
	}
	// un preset OAuth2 plano no hereda issuer
	if p.Issuer == "" && p.AuthURL == "" {
		p.Issuer = ps.Issuer
	}
	if p.AuthURL == "" {
		p.AuthURL = ps.AuthURL
	}
	if p.TokenURL == "" {
		p.TokenURL = ps.TokenURL
	}
	if p.UserInfoURL == "" {
		p.UserInfoURL = ps.UserInfoURL
	}
	if len(p.Scopes) == 0 {
		p.Scopes = ps.Scopes
	}
	if len(p.AccountMapper.Mappings) == 0 {
		p.AccountMapper.Mappings = ps.AccountMappings
	}
	if len(p.AttributeMapper.Mappings) == 0 {
		p.AttributeMapper.Mappings = ps.AttributeMappings
	}
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// providerEnvKey: "my-idp" -> "FEDLOGIN_PROVIDER_MY_IDP_<SUFFIX>".
func providerEnvKey(name, suffix string) string {
	n := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
	return "FEDLOGIN_PROVIDER_" + n + "_" + suffix
}

// applyEnvOverrides: pisa el YAML con variables de entorno. Los secretos
// conviene pasarlos siempre por acá.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("FEDLOGIN_APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("FEDLOGIN_LOG_LEVEL"); ok {
		c.App.LogLevel = v
	}

	// SERVER
	if v, ok := getEnvStr("FEDLOGIN_SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("FEDLOGIN_SESSION_KEY"); ok {
		c.Server.SessionKey = v
	}
	if v, ok := getEnvBool("FEDLOGIN_TRUST_PROXY"); ok {
		c.Server.TrustProxy = v
	}
	if v, ok := getEnvBool("FEDLOGIN_COOKIE_SECURE"); ok {
		c.Server.CookieSecure = v
	}
	if v, ok := getEnvStr("FEDLOGIN_COOKIE_DOMAIN"); ok {
		c.Server.CookieDomain = v
	}

	// CACHE
	if v, ok := getEnvStr("FEDLOGIN_CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("FEDLOGIN_REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("FEDLOGIN_REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("FEDLOGIN_REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}

	// DIRECTORY
	if v, ok := getEnvStr("FEDLOGIN_DIRECTORY_DRIVER"); ok {
		c.Directory.Driver = v
	}
	if v, ok := getEnvStr("FEDLOGIN_DIRECTORY_DSN"); ok {
		c.Directory.DSN = v
	}
	if v, ok := getEnvBool("FEDLOGIN_DIRECTORY_AUTO_MIGRATE"); ok {
		c.Directory.AutoMigrate = v
	}
	if v, ok := getEnvCSV("FEDLOGIN_DIRECTORY_REALMS"); ok {
		c.Directory.Realms = v
	}

	// RATE
	if v, ok := getEnvBool("FEDLOGIN_RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvInt("FEDLOGIN_RATE_MAX_REQUESTS"); ok {
		c.Rate.MaxRequests = v
	}
	if v, ok := getEnvStr("FEDLOGIN_RATE_WINDOW"); ok {
		c.Rate.Window = v
	}

	// SMTP
	if v, ok := getEnvStr("FEDLOGIN_SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("FEDLOGIN_SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("FEDLOGIN_SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr("FEDLOGIN_SMTP_PASSWORD"); ok {
		c.SMTP.Password = v
	}
	if v, ok := getEnvStr("FEDLOGIN_SMTP_TLS_MODE"); ok {
		c.SMTP.TLSMode = v
	}

	// REGISTRATION
	if v, ok := getEnvStr("FEDLOGIN_REGISTRATION_SECRET"); ok {
		c.Registration.Secret = v
	}

	// PROVIDERS: solo secretos e ids, el resto vive en el YAML.
	for i := range c.Providers {
		p := &c.Providers[i]
		if v, ok := getEnvStr(providerEnvKey(p.Name, "CLIENT_ID")); ok {
			p.ClientID = v
		}
		if v, ok := getEnvStr(providerEnvKey(p.Name, "CLIENT_SECRET")); ok {
			p.ClientSecret = v
		}
	}
}

// Durations parseadas. Validate garantiza que son válidas.

func (c *Config) SessionTTL() time.Duration { return mustDur(c.Server.SessionTTL) }
func (c *Config) CacheTTL() time.Duration   { return mustDur(c.Cache.Memory.DefaultTTL) }
func (c *Config) RateWindow() time.Duration { return mustDur(c.Rate.Window) }
func (c *Config) RegistrationTTL() time.Duration {
	return mustDur(c.Registration.TTL)
}

func mustDur(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// Provider devuelve el bloque con ese nombre.
func (c *Config) Provider(name string) (Provider, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return Provider{}, false
}

// Validate junta todos los problemas de configuración en un solo error para
// que el arranque falle una vez con la lista completa.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	for name, v := range map[string]string{
		"server.session_ttl":       c.Server.SessionTTL,
		"cache.memory.default_ttl": c.Cache.Memory.DefaultTTL,
		"rate.window":              c.Rate.Window,
		"registration.ttl":         c.Registration.TTL,
	} {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			add("%s: invalid duration %q", name, v)
		}
	}

	if c.Server.SessionKey != "" {
		if _, err := secretbox.ParseKey(c.Server.SessionKey); err != nil {
			add("server.session_key: %v", err)
		}
	}

	switch c.Cache.Kind {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			add("cache.redis.addr required for redis cache")
		}
	default:
		add("cache.kind: unknown %q", c.Cache.Kind)
	}

	switch c.Directory.Driver {
	case "memory":
	case "postgres":
		if c.Directory.DSN == "" {
			add("directory.dsn required for postgres directory")
		}
	default:
		add("directory.driver: unknown %q", c.Directory.Driver)
	}

	if len(c.Providers) == 0 {
		add("providers: at least one provider required")
	}
	seen := map[string]bool{}
	for i, p := range c.Providers {
		where := fmt.Sprintf("providers[%d]", i)
		if p.Name == "" {
			add("%s.name required", where)
		} else {
			where = "providers." + p.Name
			if seen[p.Name] {
				add("%s: duplicated name", where)
			}
			seen[p.Name] = true
		}
		errs = append(errs, c.validateProvider(where, p)...)
	}
	return errors.Join(errs...)
}

func (c *Config) validateProvider(where string, p Provider) []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: %s", where, fmt.Sprintf(format, args...)))
	}

	if p.Preset != "" {
		if _, ok := presets.Lookup(p.Preset); !ok {
			add("preset: unknown %q (known: %s)", p.Preset, strings.Join(presets.Names(), ", "))
		}
	}
	for _, sc := range p.Scopes {
		if !validation.ValidScopeToken(sc) {
			add("scopes: invalid scope %q", sc)
		}
	}

	switch p.TokenStrategy {
	case "redirect":
		if p.ClientID == "" {
			add("client_id required")
		}
		if p.RedirectURL == "" {
			add("redirect_url required")
		}
	case "header":
	default:
		add("token_strategy: unknown %q", p.TokenStrategy)
	}
	if p.Issuer == "" && (p.AuthURL == "" || p.TokenURL == "" || p.UserInfoURL == "") {
		add("auth_url, token_url and userinfo_url required without issuer")
	}
	if p.MixUpMitigation && p.Issuer == "" {
		add("mixup_mitigation needs issuer")
	}
	if len(p.AccountMapper.Mappings) == 0 {
		add("account_mapper.mappings must not be empty")
	}
	if p.Delegates() && len(c.Registration.Secret) < registration.MinSecretLen {
		add("registration.url needs registration.secret of at least 32 bytes")
	}
	if p.Challenges() {
		if p.EmailAttribute == "" {
			add("prompt_password needs email_attribute")
		}
		if p.EmailFrom == "" {
			add("prompt_password needs email_from")
		}
		if c.SMTP.Host == "" {
			add("prompt_password needs smtp.host")
		}
	}
	return errs
}
