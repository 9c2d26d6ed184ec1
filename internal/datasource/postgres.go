package datasource

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	ctrl "sigs.k8s.io/controller-runtime"
)

var log = ctrl.Log.WithName("datasource")

// Postgres is a DataSource backed by a sqlx connection pool.
type Postgres struct {
	db *sqlx.DB
}

// Open creates the connection pool described by cfg and verifies it with a ping.
func Open(ctx context.Context, cfg Config) (*Postgres, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, &DataAccessError{Op: "open", Err: err}
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	p := NewPostgres(db)
	if err := p.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("Connected to database", "maxOpenConns", cfg.MaxOpenConns)
	return p, nil
}

// NewPostgres wraps an existing pool
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// QueryRow implements DataSource
func (p *Postgres) QueryRow(ctx context.Context, query string, dest ...any) error {
	if err := p.db.QueryRowxContext(ctx, query).Scan(dest...); err != nil {
		return &DataAccessError{Op: "query", Err: err}
	}
	return nil
}

// Exec implements DataSource
func (p *Postgres) Exec(ctx context.Context, query string) error {
	res, err := p.db.ExecContext(ctx, query)
	if err != nil {
		return &DataAccessError{Op: "exec", Err: err}
	}
	if n, err := res.RowsAffected(); err == nil {
		log.V(1).Info("Statement executed", "rows", n)
	}
	return nil
}

// Ping checks that the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return &DataAccessError{Op: "ping", Err: fmt.Errorf("database unreachable: %w", err)}
	}
	return nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}
