package uuidmap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

// ErrInvalidMap is returned when a loaded or saved map is not a bijection.
var ErrInvalidMap = errors.New("uuidmap: map is not one-to-one")

// Store loads and saves a uuid to internal id map.
//
// Load returns an error wrapping fs.ErrNotExist when nothing has been
// saved yet.
type Store interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, uuids map[string]string) error
}

// IsNotExist reports whether err means no map has been saved yet.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// validate checks that no internal id appears under two uuids.
func validate(uuids map[string]string) error {
	seen := make(map[string]string, len(uuids))
	for uuid, internalID := range uuids {
		if uuid == "" {
			return fmt.Errorf("%w: empty uuid", ErrInvalidMap)
		}
		if other, dup := seen[internalID]; dup {
			return fmt.Errorf("%w: internal id %q maps to %s and %s", ErrInvalidMap, internalID, other, uuid)
		}
		seen[internalID] = uuid
	}
	return nil
}
