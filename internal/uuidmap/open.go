package uuidmap

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-bus/migrations"
)

// ErrUnknownBackend is returned for a registry backend Open does not support.
var ErrUnknownBackend = errors.New("uuidmap: unknown registry backend")

// Open returns the store selected by cfg.Registry.Backend for cfg.Instance.
// The returned close function releases the backend and is never nil.
func Open(ctx context.Context, cfg *config.Config) (Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Registry.Backend {
	case config.RegistryJSON, "":
		return NewFileStore(cfg.Registry.UUIDMapDir, cfg.Instance), noop, nil

	case config.RegistrySQLite:
		db, err := database.Open(cfg.Registry.Database)
		if err != nil {
			return nil, noop, err
		}
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			db.Close() //nolint:errcheck // Migration error takes precedence
			return nil, noop, fmt.Errorf("migrating registry database: %w", err)
		}
		return NewSQLiteStore(db, cfg.Instance), db.Close, nil
	}
	return nil, noop, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Registry.Backend)
}
