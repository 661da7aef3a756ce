package uuidmap

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/database"
)

// SQLiteStore keeps the map in the uuid_map table, one row per device,
// scoped by instance. The schema comes from the migrations package.
type SQLiteStore struct {
	db       *database.DB
	instance string
}

// NewSQLiteStore returns a store for instance backed by db.
func NewSQLiteStore(db *database.DB, instance string) *SQLiteStore {
	return &SQLiteStore{db: db, instance: instance}
}

// Load returns every row for the instance. An instance with no rows
// reports fs.ErrNotExist, matching FileStore before its first save.
func (s *SQLiteStore) Load(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT uuid, internal_id FROM uuid_map WHERE instance = ?", s.instance,
	)
	if err != nil {
		return nil, fmt.Errorf("querying uuid map: %w", err)
	}
	defer rows.Close()

	uuids := make(map[string]string)
	for rows.Next() {
		var uuid, internalID string
		if err := rows.Scan(&uuid, &internalID); err != nil {
			return nil, fmt.Errorf("scanning uuid map row: %w", err)
		}
		uuids[uuid] = internalID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating uuid map: %w", err)
	}

	if len(uuids) == 0 {
		return nil, fmt.Errorf("uuid map for %s: %w", s.instance, fs.ErrNotExist)
	}
	return uuids, nil
}

// Save replaces the instance's rows with uuids in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, uuids map[string]string) error {
	if err := validate(uuids); err != nil {
		return err
	}

	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM uuid_map WHERE instance = ?", s.instance); err != nil {
			return fmt.Errorf("clearing uuid map: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO uuid_map (instance, uuid, internal_id) VALUES (?, ?, ?)",
		)
		if err != nil {
			return fmt.Errorf("preparing uuid map insert: %w", err)
		}
		defer stmt.Close()

		for uuid, internalID := range uuids {
			if _, err := stmt.ExecContext(ctx, s.instance, uuid, internalID); err != nil {
				return fmt.Errorf("inserting uuid %s: %w", uuid, err)
			}
		}
		return nil
	})
}
