// Package pgdir is a Postgres-backed account directory. Users are stored with
// a jsonb attribute document and matched per attribute with jsonb_exists_any.
package pgdir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dropDatabas3/fedlogin/internal/account"
	"github.com/dropDatabas3/fedlogin/internal/observability/logger"
	"github.com/dropDatabas3/fedlogin/internal/profile"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by *pgxpool.Pool.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config configures a Directory.
type Config struct {
	// Realms restricts accepted realms; empty accepts any non-empty realm.
	Realms            []string
	UsernameAttribute string
	Required          []string
}

// Directory implements account.Provider on Postgres.
type Directory struct {
	db           Querier
	realms       map[string]bool
	usernameAttr string
	required     []string
}

var _ account.Provider = (*Directory)(nil)

// New wraps db. Run Migrate beforehand.
func New(db Querier, cfg Config) *Directory {
	d := &Directory{
		db:           db,
		usernameAttr: cfg.UsernameAttribute,
		required:     cfg.Required,
	}
	if d.usernameAttr == "" {
		d.usernameAttr = account.DefaultUsernameAttribute
	}
	if len(cfg.Realms) > 0 {
		d.realms = make(map[string]bool, len(cfg.Realms))
		for _, r := range cfg.Realms {
			d.realms[r] = true
		}
	}
	return d
}

func (d *Directory) checkRealm(realm string) error {
	if realm == "" {
		return fmt.Errorf("%w: empty", account.ErrInvalidRealm)
	}
	if d.realms != nil && !d.realms[realm] {
		return fmt.Errorf("%w: %q", account.ErrInvalidRealm, realm)
	}
	return nil
}

// buildFindQuery returns a query selecting at most two usernames in realm
// whose attributes intersect every queried attribute.
func buildFindQuery(realm string, attrs profile.Attributes) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT username FROM directory_user WHERE realm = $1`)
	args := []any{realm}
	for _, name := range attrs.Names() {
		args = append(args, name, attrs[name])
		n := len(args)
		sb.WriteString(" AND jsonb_exists_any(attributes -> $")
		sb.WriteString(strconv.Itoa(n - 1))
		sb.WriteString("::text")
		sb.WriteString(", $")
		sb.WriteString(strconv.Itoa(n))
		sb.WriteString("::text[])")
	}
	sb.WriteString(" ORDER BY username LIMIT 2")
	return sb.String(), args
}

func (d *Directory) FindUser(ctx context.Context, realm string, attrs profile.Attributes) (string, bool, error) {
	if err := d.checkRealm(realm); err != nil {
		return "", false, err
	}
	q, args := buildFindQuery(realm, attrs)
	rows, err := d.db.Query(ctx, q, args...)
	if err != nil {
		return "", false, fmt.Errorf("select user: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return "", false, fmt.Errorf("select user: %w", err)
	}
	switch len(names) {
	case 0:
		return "", false, nil
	case 1:
		return names[0], true, nil
	default:
		return "", false, fmt.Errorf("%w: %v", account.ErrAmbiguousMatch, names)
	}
}

func (d *Directory) ProvisionUser(ctx context.Context, realm string, attrs profile.Attributes) (string, error) {
	log := logger.From(ctx).With(logger.Layer("repository"), logger.Component("pgdir.directory"))

	if err := d.checkRealm(realm); err != nil {
		return "", err
	}
	username := attrs.First(d.usernameAttr)
	if username == "" {
		return "", fmt.Errorf("%w: %s", account.ErrMissingAttributes, d.usernameAttr)
	}
	for _, r := range d.required {
		if len(attrs[r]) == 0 {
			return "", fmt.Errorf("%w: %s", account.ErrMissingAttributes, r)
		}
	}

	doc, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("encode attributes: %w", err)
	}

	var created string
	err = d.db.QueryRow(ctx, `
		INSERT INTO directory_user (id, realm, username, attributes)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (realm, username) DO NOTHING
		RETURNING username
	`, uuid.New(), realm, username, string(doc)).Scan(&created)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", account.ErrAlreadyExists, username)
		}
		return "", fmt.Errorf("insert user: %w", err)
	}

	log.Debug("user created", logger.Realm(realm), logger.Principal(created))
	return created, nil
}
