package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	pgxPoolNewWithConfig   = pgxpool.NewWithConfig
	postgresConnectRetries = 30
	postgresRetryDelay     = 2 * time.Second
	postgresPingTimeout    = 2 * time.Second
	postgresSleep          = time.Sleep
)

// NewPostgresPool connects to postgres, retrying while the database comes up.
func NewPostgresPool(ctx context.Context, dsn string, requireTLS bool) (*pgxpool.Pool, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("DATABASE_URL required for postgres backend")
	}
	if requireTLS {
		if err := validatePostgresTLS(dsn); err != nil {
			return nil, err
		}
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 4
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute
	var lastErr error
	for i := 0; i < postgresConnectRetries; i++ {
		pool, err := pgxPoolNewWithConfig(ctx, cfg)
		if err != nil {
			lastErr = err
			postgresSleep(postgresRetryDelay)
			continue
		}
		ctxPing, cancel := context.WithTimeout(ctx, postgresPingTimeout)
		err = pool.Ping(ctxPing)
		cancel()
		if err == nil {
			return pool, nil
		}
		lastErr = err
		pool.Close()
		postgresSleep(postgresRetryDelay)
	}
	return nil, fmt.Errorf("db ping retries exhausted: %w", lastErr)
}

func validatePostgresTLS(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	sslmode := strings.ToLower(strings.TrimSpace(parsed.Query().Get("sslmode")))
	switch sslmode {
	case "verify-full", "verify-ca", "require":
		return nil
	case "allow", "disable", "prefer":
		return fmt.Errorf("DATABASE_REQUIRE_TLS=true but DATABASE_URL sslmode=%q is insecure", sslmode)
	default:
		return fmt.Errorf("DATABASE_REQUIRE_TLS=true requires explicit sslmode=require|verify-ca|verify-full")
	}
}

type snapshotDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresBackend keeps the snapshot as one jsonb row. The upsert is a single statement,
// so a reader sees either the previous or the new document.
type PostgresBackend struct {
	DB   snapshotDB
	Name string
}

func NewPostgresBackend(db snapshotDB, name string) *PostgresBackend {
	if strings.TrimSpace(name) == "" {
		name = "default"
	}
	return &PostgresBackend{DB: db, Name: name}
}

// EnsureSchema creates the snapshot table if it does not exist.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	_, err := b.DB.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS likegate_snapshots (
			name       text PRIMARY KEY,
			payload    jsonb NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)
	`)
	return err
}

func (b *PostgresBackend) Load(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := b.DB.QueryRow(ctx, `SELECT payload FROM likegate_snapshots WHERE name=$1`, b.Name).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (b *PostgresBackend) Save(ctx context.Context, data []byte) error {
	_, err := b.DB.Exec(ctx, `
		INSERT INTO likegate_snapshots(name, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET payload=EXCLUDED.payload, updated_at=now()
	`, b.Name, data)
	return err
}
