package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Config struct {
	host     string
	user     string
	password string
	port     string
	dbname   string
	sslmode  string
}

func (c Config) ConnStr() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", c.user, c.password, c.host, c.port, c.dbname, c.sslmode)
}

func NewConfig(host, user, password, port, dbname, sslmode string) Config {
	return Config{
		host:     host,
		user:     user,
		password: password,
		port:     port,
		dbname:   dbname,
		sslmode:  sslmode,
	}
}

func NewPool(ctx context.Context, config Config) (*pgxpool.Pool, error) {
	p, err := pgxpool.New(ctx, config.ConnStr())
	if err != nil {
		return nil, err
	}

	err = p.Ping(ctx)
	if err != nil {
		return nil, err
	}

	return p, nil
}

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrAlreadyExists  = errors.New("device already exists")
	ErrTransient      = errors.New("transient storage error")
)

const touchCoalesceWindow = 1 * time.Second

type Storage struct {
	pool *pgxpool.Pool

	touchGate *touchGate
}

func NewWithPool(pool *pgxpool.Pool) *Storage {
	return &Storage{pool: pool, touchGate: newTouchGate(touchCoalesceWindow)}
}

func New(ctx context.Context, config Config) (*Storage, error) {
	pool, err := NewPool(ctx, config)
	if err != nil {
		return nil, err
	}

	return NewWithPool(pool), nil
}

func (s *Storage) Initialize(ctx context.Context) error {
	return s.createTables(ctx)
}

func (s *Storage) createTables(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS devices (
			id			BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			name		TEXT	NOT NULL,
			api_key		TEXT	NOT NULL,
			device_type	TEXT	NOT NULL DEFAULT '',
			status		TEXT	NOT NULL DEFAULT 'active',
			firmware	TEXT	NOT NULL DEFAULT '',
			hardware	TEXT	NOT NULL DEFAULT '',
			created_on	timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
			modified_on	timestamp with time zone NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_seen	timestamp with time zone NULL,
			CONSTRAINT uniq_devices_name UNIQUE (name)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS devices_api_key_idx ON devices (api_key);
		CREATE INDEX IF NOT EXISTS devices_status_idx ON devices (status);
	`)
	if err != nil {
		return err
	}

	return nil
}

func (s *Storage) Close() {
	s.pool.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// retry wraps an operation in the adapter retry policy: transient
// failures are retried at most three times with capped exponential
// backoff, anything else fails immediately.
func retry(ctx context.Context, op func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond

	return backoff.Retry(func() error {
		err := op(ctx)
		if err != nil && !errors.Is(err, ErrTransient) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 3), ctx))
}

// classify maps pgx errors onto the adapter error taxonomy. Anything
// that looks like a connectivity or serialization problem is
// transient and eligible for retry.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrAlreadyExists
		case "40001", "40P01", "53300", "55P03", "57P03":
			return fmt.Errorf("%w: %s", ErrTransient, pgErr.Message)
		}
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s", ErrTransient, err.Error())
	}

	return fmt.Errorf("%w: %s", ErrTransient, err.Error())
}
