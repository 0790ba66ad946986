// Package config loads obsstore settings from an optional YAML file and the
// OBSSTORE_* environment. Environment values win over the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"obsstore/internal/blob"
	"obsstore/internal/core"
)

// Config is the full runtime configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Streaming StreamingConfig `yaml:"streaming"`
	Blob      BlobConfig      `yaml:"blob"`
	Log       LogConfig       `yaml:"log"`
}

// StorageConfig selects the observation gateway.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path,omitempty"`
	PostgresDSN string `yaml:"postgres_dsn,omitempty"`
}

// StreamingConfig bounds series reads.
type StreamingConfig struct {
	ChunkSize         int  `yaml:"chunk_size"`
	MaxReturnedValues int  `yaml:"max_returned_values"`
	GuardUnchunked    bool `yaml:"guard_unchunked"`
}

// BlobConfig selects the archive store.
type BlobConfig struct {
	Driver string       `yaml:"driver"`
	Root   string       `yaml:"root,omitempty"`
	S3     BlobS3Config `yaml:"s3,omitempty"`
}

// BlobS3Config locates the archive bucket. Credentials come from the AWS
// chain.
type BlobS3Config struct {
	Bucket    string `yaml:"bucket,omitempty"`
	Region    string `yaml:"region,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	PathStyle bool   `yaml:"path_style,omitempty"`
}

// LogConfig controls the CLI logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in settings.
func Default() Config {
	s := core.DefaultStreamingConfig()
	return Config{
		Storage: StorageConfig{Driver: string(core.StorageSQLite), SQLitePath: "./obsstore.db"},
		Streaming: StreamingConfig{
			ChunkSize:         s.ChunkSize,
			MaxReturnedValues: s.MaxReturnedValues,
			GuardUnchunked:    s.GuardUnchunked,
		},
		Blob: BlobConfig{Driver: string(blob.DriverFilesystem), Root: "./archive"},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults, applies the environment and
// validates. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	flag := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}
	str("OBSSTORE_STORAGE_DRIVER", &c.Storage.Driver)
	str("OBSSTORE_SQLITE_PATH", &c.Storage.SQLitePath)
	str("OBSSTORE_POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("OBSSTORE_BLOB_DRIVER", &c.Blob.Driver)
	str("OBSSTORE_BLOB_FS_ROOT", &c.Blob.Root)
	str("OBSSTORE_BLOB_S3_BUCKET", &c.Blob.S3.Bucket)
	str("OBSSTORE_BLOB_S3_REGION", &c.Blob.S3.Region)
	str("OBSSTORE_BLOB_S3_ENDPOINT", &c.Blob.S3.Endpoint)
	str("OBSSTORE_LOG_LEVEL", &c.Log.Level)
	str("OBSSTORE_LOG_FORMAT", &c.Log.Format)
	return errors.Join(
		num("OBSSTORE_STREAMING_CHUNK_SIZE", &c.Streaming.ChunkSize),
		num("OBSSTORE_STREAMING_MAX_VALUES", &c.Streaming.MaxReturnedValues),
		flag("OBSSTORE_STREAMING_GUARD_UNCHUNKED", &c.Streaming.GuardUnchunked),
		flag("OBSSTORE_BLOB_S3_PATH_STYLE", &c.Blob.S3.PathStyle),
	)
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	switch core.StorageDriver(c.Storage.Driver) {
	case core.StorageMemory, core.StorageSQLite:
	case core.StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage: postgres driver requires postgres_dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage: unknown driver %q", c.Storage.Driver))
	}
	if c.Streaming.MaxReturnedValues < 0 {
		errs = append(errs, errors.New("streaming: max_returned_values must not be negative"))
	}
	switch blob.Driver(c.Blob.Driver) {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob: s3 driver requires a bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("blob: unknown driver %q", c.Blob.Driver))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log: unknown format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// StorageSettings converts to the gateway selection.
func (c Config) StorageSettings() core.StorageConfig {
	return core.StorageConfig{
		Driver:      core.StorageDriver(c.Storage.Driver),
		SQLitePath:  c.Storage.SQLitePath,
		PostgresDSN: c.Storage.PostgresDSN,
	}
}

// StreamingSettings converts to the service streaming options.
func (c Config) StreamingSettings() core.StreamingConfig {
	return core.StreamingConfig{
		ChunkSize:         c.Streaming.ChunkSize,
		MaxReturnedValues: c.Streaming.MaxReturnedValues,
		GuardUnchunked:    c.Streaming.GuardUnchunked,
	}
}

// BlobSettings converts to the blob store selection.
func (c Config) BlobSettings() blob.Config {
	return blob.Config{
		Driver: blob.Driver(c.Blob.Driver),
		Root:   c.Blob.Root,
		S3: blob.S3Config{
			Bucket:    c.Blob.S3.Bucket,
			Region:    c.Blob.S3.Region,
			Endpoint:  c.Blob.S3.Endpoint,
			PathStyle: c.Blob.S3.PathStyle,
		},
	}
}

// ParseLevel maps a level name to slog.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("log: unknown level %q", name)
	}
	return level, nil
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
