package uicc

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLiteIdentityStore implements IdentityStore using the card_ids table.
type SQLiteIdentityStore struct {
	db *sql.DB
}

// NewSQLiteIdentityStore creates a new SQLite-backed identity store.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteIdentityStore(db *sql.DB) *SQLiteIdentityStore {
	return &SQLiteIdentityStore{db: db}
}

// LoadAll returns every identifier and its public card ID.
func (s *SQLiteIdentityStore) LoadAll(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT identifier, card_id FROM card_ids")
	if err != nil {
		return nil, fmt.Errorf("querying card ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]int)
	for rows.Next() {
		var identifier string
		var id int
		if err := rows.Scan(&identifier, &id); err != nil {
			return nil, fmt.Errorf("scanning card id: %w", err)
		}
		ids[identifier] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating card ids: %w", err)
	}
	return ids, nil
}

// Insert stores a new mapping. The table's uniqueness constraints reject
// a reused identifier or card ID.
func (s *SQLiteIdentityStore) Insert(ctx context.Context, identifier string, cardID int) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO card_ids (identifier, card_id) VALUES (?, ?)",
		identifier,
		cardID,
	)
	if err != nil {
		return fmt.Errorf("inserting card id: %w", err)
	}
	return nil
}
