// Package app arma los componentes del servicio a partir de la configuración.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dropDatabas3/fedlogin/internal/account"
	"github.com/dropDatabas3/fedlogin/internal/account/pgdir"
	"github.com/dropDatabas3/fedlogin/internal/cache"
	"github.com/dropDatabas3/fedlogin/internal/config"
	"github.com/dropDatabas3/fedlogin/internal/email"
	httpx "github.com/dropDatabas3/fedlogin/internal/http"
	"github.com/dropDatabas3/fedlogin/internal/i18n"
	"github.com/dropDatabas3/fedlogin/internal/loginflow"
	"github.com/dropDatabas3/fedlogin/internal/metrics"
	"github.com/dropDatabas3/fedlogin/internal/oauth/oidcclient"
	"github.com/dropDatabas3/fedlogin/internal/observability/logger"
	"github.com/dropDatabas3/fedlogin/internal/profile"
	"github.com/dropDatabas3/fedlogin/internal/rate"
	"github.com/dropDatabas3/fedlogin/internal/registration"
	"github.com/dropDatabas3/fedlogin/internal/security/secretbox"
	"github.com/dropDatabas3/fedlogin/internal/session"
	pgmigrations "github.com/dropDatabas3/fedlogin/migrations/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// Container agrupa lo que el proceso necesita para servir.
type Container struct {
	Config   *config.Config
	Cache    cache.Client
	Sessions *session.Store
	Accounts account.Provider
	Limiter  rate.Limiter // nil si rate.enabled=false
	Tokens   *registration.Generator
	Flows    []*loginflow.Flow
	Handler  http.Handler

	closers []func()
}

// Options permite a los tests reemplazar piezas externas.
type Options struct {
	// Registry recibe las métricas; nil crea uno nuevo.
	Registry *prometheus.Registry
	// HTTPClient se usa contra los IdPs; nil usa http.DefaultClient.
	HTTPClient *http.Client
	// Email reemplaza el sender SMTP.
	Email email.Sender
	// Accounts reemplaza el directorio configurado.
	Accounts account.Provider
}

// Build valida cfg y construye todos los componentes. Ante un error libera
// lo que ya se había abierto.
func Build(ctx context.Context, cfg *config.Config, opts Options) (_ *Container, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.From(ctx).With(logger.Component("app"))

	c := &Container{Config: cfg}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	// cache + rate limiter (comparten el cliente redis)
	var rc *redis.Client
	switch cfg.Cache.Kind {
	case "redis":
		rc = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		perr := rc.Ping(pctx).Err()
		cancel()
		if perr != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("cache: redis ping failed: %w", perr)
		}
		c.Cache = cache.NewRedisFromClient(rc, cfg.Cache.Prefix)
	default:
		c.Cache = cache.NewMemory(cfg.Cache.Prefix, cfg.CacheTTL())
	}
	c.closers = append(c.closers, func() { _ = c.Cache.Close() })
	var sopts []session.StoreOption
	if cfg.Server.SessionKey != "" {
		key, kerr := secretbox.ParseKey(cfg.Server.SessionKey)
		if kerr != nil {
			return nil, kerr
		}
		box, kerr := secretbox.New(key)
		if kerr != nil {
			return nil, kerr
		}
		sopts = append(sopts, session.WithSealer(box))
	}
	c.Sessions = session.NewStore(c.Cache, cfg.SessionTTL(), sopts...)

	if cfg.Rate.Enabled {
		prefix := cfg.Cache.Prefix + ":rl:"
		if rc != nil {
			c.Limiter = rate.NewRedisLimiter(rc, prefix, cfg.Rate.MaxRequests, cfg.RateWindow())
		} else {
			c.Limiter = rate.NewMemoryLimiter(prefix, cfg.Rate.MaxRequests, cfg.RateWindow())
		}
	}

	checks := map[string]httpx.HealthCheck{"cache": c.Cache.Ping}

	// directorio
	switch {
	case opts.Accounts != nil:
		c.Accounts = opts.Accounts
	case cfg.Directory.Driver == "postgres":
		pm := pgdir.NewPoolManager()
		c.closers = append(c.closers, pm.CloseAll)
		pool, perr := pm.GetPool(ctx, cfg.Directory.DSN)
		if perr != nil {
			return nil, fmt.Errorf("directory: %w", perr)
		}
		if cfg.Directory.AutoMigrate {
			res, merr := pgdir.Migrate(ctx, pool, pgmigrations.DirectoryFS, pgmigrations.DirectoryDir)
			if merr != nil {
				return nil, fmt.Errorf("directory migrate: %w", merr)
			}
			log.Info("directory migrations",
				logger.Any("applied", res.Applied),
				logger.Int("skipped", len(res.Skipped)),
				logger.Duration(res.Duration))
		}
		c.Accounts = pgdir.New(pool, pgdir.Config{
			Realms:            cfg.Directory.Realms,
			UsernameAttribute: cfg.Directory.UsernameAttribute,
			Required:          cfg.Directory.Required,
		})
		checks["directory"] = pool.Ping
	default:
		mopts := []account.MemoryOption{account.WithRequired(cfg.Directory.Required...)}
		if len(cfg.Directory.Realms) > 0 {
			mopts = append(mopts, account.WithRealms(cfg.Directory.Realms...))
		}
		if cfg.Directory.UsernameAttribute != "" {
			mopts = append(mopts, account.WithUsernameAttribute(cfg.Directory.UsernameAttribute))
		}
		c.Accounts = account.NewMemory(mopts...)
	}

	if cfg.Registration.Secret != "" {
		if c.Tokens, err = NewTokenGenerator(cfg); err != nil {
			return nil, err
		}
	}

	bundle := i18n.Default()
	sender := opts.Email
	if sender == nil {
		sender = email.NewSMTPSender(bundle)
	}

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if err = metrics.Register(reg); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	metricsHandler, err := httpx.RegisterMetrics(reg, reg)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	for _, p := range cfg.Providers {
		f, ferr := c.buildFlow(p, opts.HTTPClient, sender, bundle)
		if ferr != nil {
			return nil, fmt.Errorf("providers.%s: %w", p.Name, ferr)
		}
		c.Flows = append(c.Flows, f)
		log.Info("provider ready",
			logger.Provider(p.Name),
			logger.Realm(p.Realm),
			logger.String("token_strategy", p.TokenStrategy),
			logger.Bool("create_account", p.CreateAccount))
	}

	auth := httpx.NewAuthHandler(c.Flows, c.Sessions, httpx.CookieConfig{
		Name:     cfg.Server.CookieName,
		Domain:   cfg.Server.CookieDomain,
		SameSite: cfg.Server.CookieSameSite,
		Secure:   cfg.Server.CookieSecure,
	}, bundle)
	c.Handler = httpx.NewRouter(httpx.RouterDeps{
		Auth:       auth,
		Metrics:    metricsHandler,
		Limiter:    c.Limiter,
		Checks:     checks,
		TrustProxy: cfg.Server.TrustProxy,
	})
	return c, nil
}

func (c *Container) buildFlow(p config.Provider, hc *http.Client, sender email.Sender, bundle *i18n.Bundle) (*loginflow.Flow, error) {
	client, err := oidcclient.New(oidcclient.Config{
		Issuer:       p.Issuer,
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  p.RedirectURL,
		Scopes:       p.Scopes,
		AuthURL:      p.AuthURL,
		TokenURL:     p.TokenURL,
		UserInfoURL:  p.UserInfoURL,
		HTTPClient:   hc,
	})
	if err != nil {
		return nil, err
	}
	strategy, err := loginflow.NewStrategy(loginflow.StrategyKind(p.TokenStrategy), client, loginflow.MixUpConfig{
		Enabled:  p.MixUpMitigation,
		ClientID: p.ClientID,
		Issuer:   p.Issuer,
	}, p.TokenHeader)
	if err != nil {
		return nil, err
	}
	norm, err := profile.NewNormalizer(p.AccountMapper, p.AttributeMapper)
	if err != nil {
		return nil, err
	}

	deps := loginflow.Deps{
		Config: loginflow.Config{
			Provider:                p.Name,
			Realm:                   p.Realm,
			CreateAccount:           p.CreateAccount,
			PromptPassword:          p.PromptPassword,
			RegistrationURL:         p.Registration.URL,
			AnonymousUser:           p.AnonymousUser,
			UsernameAttribute:       p.UsernameAttribute,
			EmailAttribute:          p.EmailAttribute,
			EmailFrom:               p.EmailFrom,
			SMTP:                    c.Config.SMTP,
			SaveAttributesInSession: p.SaveAttributesInSession,
		},
		Strategy:   strategy,
		OAuth:      client,
		Normalizer: norm,
		Accounts:   c.Accounts,
		Email:      sender,
		Messages:   bundle,
		Observer:   loginflow.MetricsObserver{},
	}
	if p.Delegates() {
		tokens := c.Tokens
		if p.Registration.Param != "" {
			// mismo secreto, distinto parámetro de query
			if tokens, err = newGenerator(c.Config, p.Registration.Param); err != nil {
				return nil, err
			}
		}
		deps.Tokens = tokens
	}
	return loginflow.New(deps)
}

// NewTokenGenerator construye el generador de client tokens compartido.
func NewTokenGenerator(cfg *config.Config) (*registration.Generator, error) {
	return newGenerator(cfg, "")
}

func newGenerator(cfg *config.Config, param string) (*registration.Generator, error) {
	if cfg.Registration.Secret == "" {
		return nil, errors.New("registration.secret required")
	}
	return registration.NewGenerator(registration.Config{
		Secret:   []byte(cfg.Registration.Secret),
		Issuer:   cfg.Registration.Issuer,
		Audience: cfg.Registration.Audience,
		TTL:      cfg.RegistrationTTL(),
		Param:    param,
	})
}

// Close libera pools y conexiones en orden inverso.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
