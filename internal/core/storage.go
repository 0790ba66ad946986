package core

import (
	"context"
	"fmt"
	"os"

	"obsstore/internal/infra/persistence/memory"
	"obsstore/internal/infra/persistence/postgres"
	"obsstore/internal/infra/persistence/sqlite"
	"obsstore/pkg/domain"
)

// StorageDriver identifies a concrete storage gateway implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageConfig selects and locates the gateway.
type StorageConfig struct {
	Driver     StorageDriver
	SQLitePath string
	// PostgresDSN is used when Driver is postgres.
	PostgresDSN string
}

// StorageConfigFromEnv reads the storage selection from the environment.
//
//	OBSSTORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	OBSSTORE_SQLITE_PATH: path to sqlite file (default ./obsstore.db)
//	OBSSTORE_POSTGRES_DSN: postgres DSN when driver=postgres
func StorageConfigFromEnv() StorageConfig {
	return StorageConfig{
		Driver:      StorageDriver(os.Getenv("OBSSTORE_STORAGE_DRIVER")),
		SQLitePath:  os.Getenv("OBSSTORE_SQLITE_PATH"),
		PostgresDSN: os.Getenv("OBSSTORE_POSTGRES_DSN"),
	}
}

// OpenGateway opens the configured gateway. An empty driver selects sqlite.
func OpenGateway(ctx context.Context, cfg StorageConfig) (domain.Gateway, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
