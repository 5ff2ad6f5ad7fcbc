package pgdir

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/dropDatabas3/fedlogin/internal/observability/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"
)

// PoolManager cachea pgxpools por hash del DSN. Varios providers pueden
// apuntar al mismo directorio y comparten el pool.
type PoolManager struct {
	pools sync.Map // hash(dsn) -> *pgxpool.Pool
	sf    singleflight.Group

	// MaxConns se aplica cuando el DSN no define pool_max_conns.
	MaxConns int32
}

// NewPoolManager crea un PoolManager vacío.
func NewPoolManager() *PoolManager {
	return &PoolManager{MaxConns: 10}
}

// GetPool devuelve el pool cacheado para dsn o lo crea.
func (m *PoolManager) GetPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	key := hashDSN(dsn)

	// Fast path
	if p, ok := m.pools.Load(key); ok {
		return p.(*pgxpool.Pool), nil
	}

	// singleflight evita crear dos pools para el mismo DSN en paralelo
	v, err, _ := m.sf.Do(key, func() (any, error) {
		if p, ok := m.pools.Load(key); ok {
			return p.(*pgxpool.Pool), nil
		}

		log := logger.From(ctx).With(logger.Component("pgdir.pool_manager"))

		cfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse dsn: %w", err)
		}
		if !strings.Contains(dsn, "pool_max_conns") && m.MaxConns > 0 {
			cfg.MaxConns = m.MaxConns
		}

		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create pool: %w", err)
		}

		// Log sin credenciales
		target := fmt.Sprintf("%s@%s:%d/%s", cfg.ConnConfig.User, cfg.ConnConfig.Host, cfg.ConnConfig.Port, cfg.ConnConfig.Database)
		log.Debug("created new pgxpool",
			logger.String("pool_key", key),
			logger.String("db_target", target),
		)

		m.pools.Store(key, pool)
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*pgxpool.Pool), nil
}

// CloseAll cierra todos los pools administrados.
func (m *PoolManager) CloseAll() {
	m.pools.Range(func(key, value any) bool {
		if p, ok := value.(*pgxpool.Pool); ok {
			p.Close()
		}
		m.pools.Delete(key)
		return true
	})
}

// hashDSN evita guardar el DSN (con password) como clave.
func hashDSN(dsn string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(dsn)))
	return base64.RawURLEncoding.EncodeToString(h[:])
}
