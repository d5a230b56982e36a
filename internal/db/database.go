package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know about.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// InitDB opens the database for driver ("sqlite" or "postgres") and checks the connection.
func InitDB(driver, dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	conn, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == "sqlite" {
		// SQLite allows one writer at a time.
		conn.SetMaxOpenConns(1)
	}

	log.Info().Str("driver", driver).Msg("Database connection established")
	return conn, nil
}

// Migrate creates the tables used by the service if they do not exist yet.
func Migrate(conn *sqlx.DB) error {
	var stmts []string
	switch conn.DriverName() {
	case "postgres":
		stmts = postgresSchema
	case "sqlite":
		stmts = sqliteSchema
	default:
		return fmt.Errorf("no schema for driver %q", conn.DriverName())
	}

	for _, stmt := range stmts {
		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	log.Info().Int("statements", len(stmts)).Msg("Database migration completed")
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS companies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS review_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		company_id INTEGER NOT NULL,
		customer_phone TEXT NOT NULL,
		message_sid TEXT NOT NULL,
		responded BOOLEAN NOT NULL DEFAULT 0,
		response_sid TEXT,
		rating INTEGER CHECK (rating BETWEEN 1 AND 5),
		body TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_review_requests_open
		ON review_requests (customer_phone, responded, created_at)`,
	`CREATE TABLE IF NOT EXISTS reviews (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		company_id INTEGER,
		phone_from TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		rating INTEGER CHECK (rating BETWEEN 1 AND 5),
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reviews_company ON reviews (company_id, created_at)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS companies (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS review_requests (
		id BIGSERIAL PRIMARY KEY,
		company_id BIGINT NOT NULL,
		customer_phone TEXT NOT NULL,
		message_sid TEXT NOT NULL,
		responded BOOLEAN NOT NULL DEFAULT false,
		response_sid TEXT,
		rating SMALLINT CHECK (rating BETWEEN 1 AND 5),
		body TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_review_requests_open
		ON review_requests (customer_phone, responded, created_at)`,
	`CREATE TABLE IF NOT EXISTS reviews (
		id BIGSERIAL PRIMARY KEY,
		company_id BIGINT,
		phone_from TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		rating SMALLINT CHECK (rating BETWEEN 1 AND 5),
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reviews_company ON reviews (company_id, created_at)`,
}
