package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dropDatabas3/fedlogin/internal/app"
	"github.com/dropDatabas3/fedlogin/internal/config"
	httpx "github.com/dropDatabas3/fedlogin/internal/http"
	"github.com/dropDatabas3/fedlogin/internal/observability/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath string
		envFile string
	)
	root := &cobra.Command{
		Use:           "fedlogin",
		Short:         "Login federado contra IdPs OAuth2/OIDC",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env opcional: solo se carga si existe
			if envFile == "" {
				return nil
			}
			if _, err := os.Stat(envFile); err != nil {
				if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("env-file") {
					return nil
				}
				return err
			}
			return godotenv.Load(envFile)
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", envOr("FEDLOGIN_CONFIG", "configs/fedlogin.yaml"), "ruta del YAML (env FEDLOGIN_CONFIG)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "archivo .env con overrides FEDLOGIN_*")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", cfgPath, err)
		}
		return cfg, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newConfigCmd(load),
		newTokenCmd(load),
	)
	return root
}

type loader func() (*config.Config, error)

func newServeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servidor HTTP de login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel, ServiceName: "fedlogin"})
			defer func() { _ = logger.Sync() }()
			log := logger.L()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = logger.ToContext(ctx, log)

			c, err := app.Build(ctx, cfg, app.Options{})
			if err != nil {
				log.Error("startup failed", logger.Err(err))
				return err
			}
			defer c.Close()

			srv := httpx.NewServer(cfg.Server.Addr, c.Handler)
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info("listening", logger.String("addr", cfg.Server.Addr), logger.Int("providers", len(c.Flows)))
				return srv.Run(gctx)
			})
			if err := g.Wait(); err != nil {
				log.Error("server stopped", logger.Err(err))
				return err
			}
			log.Info("bye")
			return nil
		},
	}
}

func newConfigCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Operaciones sobre la configuración"}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Valida el YAML y lista los providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			printProviders(cmd.OutOrStdout(), cfg)
			return nil
		},
	})
	return cmd
}

func printProviders(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "config ok: %d provider(s), cache=%s directory=%s\n", len(cfg.Providers), cfg.Cache.Kind, cfg.Directory.Driver)
	for _, p := range cfg.Providers {
		mode := "none"
		switch {
		case p.Delegates():
			mode = "delegated"
		case p.Challenges():
			mode = "password"
		case p.CreateAccount:
			mode = "silent"
		}
		fmt.Fprintf(w, "  %-16s realm=%s strategy=%s create=%s mixup=%t\n", p.Name, p.Realm, p.TokenStrategy, mode, p.MixUpMitigation)
	}
}

func newTokenCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Client tokens de registro"}
	cmd.AddCommand(&cobra.Command{
		Use:   "inspect <token>",
		Short: "Verifica un client token y muestra sus claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			g, err := app.NewTokenGenerator(cfg)
			if err != nil {
				return err
			}
			claims, err := g.Parse(args[0])
			if err != nil {
				return fmt.Errorf("token inválido: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(claims)
		},
	})
	return cmd
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
