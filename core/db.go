package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool with conservative defaults.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, errors.New("empty database dsn")
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	// Reasonable defaults for small services; callers can override if needed.
	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	// Validate connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// EnsureSchema creates the tables this service needs when they do not exist.
// It runs at startup and is idempotent, like BootstrapAdmin.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS users (
    id            UUID PRIMARY KEY,
    login         VARCHAR(100) NOT NULL UNIQUE,
    email         VARCHAR(100) NOT NULL UNIQUE,
    password_hash VARCHAR(255) NOT NULL,
    role          VARCHAR(20)  NOT NULL,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS livros (
    id                     UUID PRIMARY KEY,
    titulo                 VARCHAR(100) NOT NULL,
    autor                  VARCHAR(100) NOT NULL,
    genero                 TEXT,
    ano_publicacao         INT,
    quantidade_disponivel  INT NOT NULL CHECK (quantidade_disponivel >= 0),
    quantidade_total       INT NOT NULL CHECK (quantidade_total >= quantidade_disponivel),
    isbn                   TEXT UNIQUE,
    caminho_imagem_capa    TEXT,
    tags                   TEXT,
    status                 VARCHAR(20) NOT NULL,
    created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := db.Exec(ctx, ddl)
	return err
}
