// Package store is the idempotent upsert repository. Every write is either a
// single INSERT ... ON CONFLICT DO UPDATE on the entity's natural key, or a
// dedup-checked variant for payments where distinct provider object kinds
// intentionally share no natural key.
package store

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"bursar/pkg/logging"
	"bursar/pkg/models"
)

// Action describes what an upsert did.
type Action string

const (
	ActionInserted Action = "inserted"
	ActionUpdated  Action = "updated"
	ActionUpgraded Action = "upgraded"
	ActionSkipped  Action = "skipped"
)

// Repository executes all entity reads and writes.
type Repository struct {
	db     *sql.DB
	logger logging.Logger
}

// NewRepository returns a repository over the given database handle.
func NewRepository(db *sql.DB, logger logging.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// isUniqueViolation reports whether an error is a Postgres unique constraint
// violation, the one conflict the repository retries once.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// conflictErr wraps a persistent unique violation in the domain taxonomy.
func conflictErr(err error) error {
	if isUniqueViolation(err) {
		return errors.Join(models.ErrStoreConflict, err)
	}
	return err
}
