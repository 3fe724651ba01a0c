package store

import (
	"database/sql"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// NewPostgresStore connects to a hosted PostgreSQL database through pgx and initializes the schema.
func NewPostgresStore(databaseURL string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "could not open database")
	}
	return newSQLStore(db, dialectPostgres, logger)
}
