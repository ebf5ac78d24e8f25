package factory

import (
	"fmt"

	"github.com/flockd/flockd/internal/config"
	"github.com/flockd/flockd/internal/store"
	"github.com/flockd/flockd/internal/store/postgres"
	"github.com/flockd/flockd/internal/store/sqlite"
)

// New builds a store from configuration. An empty type disables persistence
// and returns a nil Store.
func New(cfg config.Store) (store.Store, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "sqlite":
		return sqlite.New(cfg.DSN)
	case "postgres":
		return postgres.New(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}
