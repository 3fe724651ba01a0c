package store

import (
	"database/sql"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteStore opens (or creates) a local SQLite database and initializes the schema.
func NewSQLiteStore(dataSourceName string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, errors.Wrap(err, "could not open database")
	}

	// SQLite allows a single writer; pragmas below then apply to the one pooled connection.
	db.SetMaxOpenConns(1)

	// Manually enable foreign keys and WAL mode
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to enable foreign keys")
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to enable WAL mode")
	}
	return newSQLStore(db, dialectSQLite, logger)
}
