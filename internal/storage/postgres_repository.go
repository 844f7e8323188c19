package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed sql/stacks.sql
var stacksSchema string

// ErrPostgresUnavailable is returned when the repository is used after Close
// or was never connected.
var ErrPostgresUnavailable = errors.New("postgres repository unavailable")

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

var _ Repository = (*postgresRepository)(nil)

// NewPostgresRepository opens a Postgres-backed stack repository and creates
// its table when missing.
func NewPostgresRepository(ctx context.Context, dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if _, err := pool.Exec(ctx, stacksSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply stacks schema: %w", err)
	}
	return &postgresRepository{pool: pool, cfg: cfg}, nil
}

// acquire takes a pooled connection, giving up after AcquireTimeout when one
// is configured. The query itself runs under the caller's context only.
func (r *postgresRepository) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	if r == nil || r.pool == nil {
		return nil, ErrPostgresUnavailable
	}
	acquireCtx := ctx
	if r.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, r.cfg.AcquireTimeout)
		defer cancel()
	}
	conn, err := r.pool.Acquire(acquireCtx)
	if err != nil {
		return nil, fmt.Errorf("acquire postgres connection: %w", err)
	}
	return conn, nil
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return ErrPostgresUnavailable
	}
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) LoadStack(ctx context.Context, name string) (Stack, error) {
	conn, err := r.acquire(ctx)
	if err != nil {
		return Stack{}, err
	}
	defer conn.Release()
	var document []byte
	err = conn.QueryRow(ctx, `SELECT document FROM livefleet_stacks WHERE name = $1`, name).Scan(&document)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stack{}, fmt.Errorf("%s: %w", name, ErrStackNotFound)
	}
	if err != nil {
		return Stack{}, fmt.Errorf("load stack %s: %w", name, err)
	}
	var stack Stack
	if err := json.Unmarshal(document, &stack); err != nil {
		return Stack{}, fmt.Errorf("decode stack %s: %w", name, err)
	}
	return stack, nil
}

func (r *postgresRepository) SaveStack(ctx context.Context, stack Stack) error {
	if stack.Name == "" {
		return errors.New("stack name is required")
	}
	conn, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	saved := stack.Clone()
	saved.UpdatedAt = r.cfg.Clock()
	document, err := json.Marshal(saved)
	if err != nil {
		return fmt.Errorf("encode stack %s: %w", stack.Name, err)
	}
	_, err = conn.Exec(ctx, `
INSERT INTO livefleet_stacks (name, channel, updated_at, document)
VALUES ($1, $2, $3, $4)
ON CONFLICT (name) DO UPDATE
SET channel = EXCLUDED.channel, updated_at = EXCLUDED.updated_at, document = EXCLUDED.document`,
		saved.Name, saved.Channel, saved.UpdatedAt, document)
	if err != nil {
		return fmt.Errorf("save stack %s: %w", stack.Name, err)
	}
	return nil
}

func (r *postgresRepository) DeleteStack(ctx context.Context, name string) error {
	conn, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	if _, err := conn.Exec(ctx, `DELETE FROM livefleet_stacks WHERE name = $1`, name); err != nil {
		return fmt.Errorf("delete stack %s: %w", name, err)
	}
	return nil
}

func (r *postgresRepository) ListStacks(ctx context.Context) ([]string, error) {
	conn, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()
	rows, err := conn.Query(ctx, `SELECT name FROM livefleet_stacks ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list stacks: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list stacks: %w", err)
	}
	return names, nil
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Open chooses the Postgres repository when dsn is set and the JSON file
// repository otherwise.
func Open(ctx context.Context, dsn, path string, opts ...Option) (Repository, error) {
	if strings.TrimSpace(dsn) != "" {
		return NewPostgresRepository(ctx, dsn, opts...)
	}
	return NewJSONRepository(path, opts...)
}
