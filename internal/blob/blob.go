// Package blob selects the object store series archives are written to.
// Callers depend on the aliases below rather than on the backends.
package blob

import (
	"context"
	"fmt"
	"os"
	"strings"

	"obsstore/internal/blob/core"
	"obsstore/internal/infra/blob/fs"
	memorystore "obsstore/internal/infra/blob/memory"
	infraS3 "obsstore/internal/infra/blob/s3"
)

type (
	Driver           = core.Driver
	PutOptions       = core.PutOptions
	SignedURLOptions = core.SignedURLOptions
	Info             = core.Info
	Store            = core.Store
	S3Config         = infraS3.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrUnsupported = core.ErrUnsupported
	ErrExists      = core.ErrExists
	ErrNotFound    = core.ErrNotFound
)

// Config selects and locates a blob store.
type Config struct {
	Driver Driver
	// Root is the directory used by the filesystem driver.
	Root string
	S3   S3Config
}

// ConfigFromEnv reads the blob selection from the environment.
//
//	OBSSTORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	OBSSTORE_BLOB_FS_ROOT: directory when driver=fs (default ./archive)
//	OBSSTORE_BLOB_S3_BUCKET, OBSSTORE_BLOB_S3_REGION, OBSSTORE_BLOB_S3_ENDPOINT,
//	OBSSTORE_BLOB_S3_PATH_STYLE: bucket settings when driver=s3
func ConfigFromEnv() Config {
	return Config{
		Driver: Driver(os.Getenv("OBSSTORE_BLOB_DRIVER")),
		Root:   os.Getenv("OBSSTORE_BLOB_FS_ROOT"),
		S3: S3Config{
			Bucket:    os.Getenv("OBSSTORE_BLOB_S3_BUCKET"),
			Region:    os.Getenv("OBSSTORE_BLOB_S3_REGION"),
			Endpoint:  os.Getenv("OBSSTORE_BLOB_S3_ENDPOINT"),
			PathStyle: strings.EqualFold(os.Getenv("OBSSTORE_BLOB_S3_PATH_STYLE"), "true"),
		},
	}
}

// Open constructs the configured store. An empty driver selects fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		store, err := fs.New(cfg.Root)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverS3:
		store, err := infraS3.New(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverMemory:
		return memorystore.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
