// Package logger provides the process-wide Zap logger used by fedlogin.
//
// # Design Decisions
//
//   - Singleton: una sola instancia global inicializada con Init().
//   - Context Scoping: cada request lleva su propio logger "scoped" con campos
//     del login en curso (provider, attempt_id, step) sin crear un nuevo core.
//   - Environments: "dev" usa consola con colores, "prod" usa JSON.
//
// # Usage
//
// Inicialización (una vez en cmd/fedlogin):
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})
//	defer logger.Sync()
//
// En el state machine:
//
//	log := logger.From(ctx).With(logger.Layer("flow"), logger.Component("loginflow.token"))
//	log.Info("account resolved", logger.Provider(p), logger.Principal(user))
package logger
