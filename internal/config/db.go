// internal/config/db.go
package config

import (
	"database/sql"

	_ "github.com/lib/pq"
)

// OpenDB connects to Postgres and verifies the connection. The handle is
// injected into repositories; there is no package-level DB.
func OpenDB(cfg *Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
