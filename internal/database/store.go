package database

import "github.com/jmoiron/sqlx"

// Store wraps the database handle with the query methods the tracking core
// consumes. Services depend on narrow interfaces satisfied by this type so
// tests can swap in fakes.
type Store struct {
	DB *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{DB: db}
}
