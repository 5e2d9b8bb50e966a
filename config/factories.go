package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/mwantia/vstore"
	"github.com/mwantia/vstore/backend"
	"github.com/mwantia/vstore/backend/cloud"
	"github.com/mwantia/vstore/backend/local"
	"github.com/mwantia/vstore/backend/s3"
	"github.com/mwantia/vstore/data"
	"github.com/mwantia/vstore/extraction"
	"github.com/mwantia/vstore/log"
	"github.com/mwantia/vstore/metadata"
	"github.com/mwantia/vstore/metadata/consul"
	"github.com/mwantia/vstore/metadata/memory"
	"github.com/mwantia/vstore/metadata/postgres"
	"github.com/mwantia/vstore/metadata/sqlite"
)

type sqliteConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type postgresConfig struct {
	DSN string `mapstructure:"dsn" validate:"required"`
}

// decode converts a loosely typed section, so environment strings work for numbers and lists.
func decode(input map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}

	return decoder.Decode(input)
}

// NewLogger builds the root logger.
func NewLogger(cfg LoggingConfig) (*log.Logger, error) {
	level, err := log.Parse(cfg.Level)
	if err != nil {
		return nil, err
	}

	return log.New(log.Options{
		Name:       "vstore",
		Level:      level,
		File:       cfg.File,
		NoColor:    cfg.NoColor,
		JSON:       cfg.JSON,
		NoTerminal: cfg.NoTerminal,
	}), nil
}

// NewBackend builds the storage backend selected by cfg.Type. The backend is not opened.
func NewBackend(cfg BackendConfig) (backend.StorageBackend, error) {
	switch cfg.Type {
	case "local":
		var c local.Config
		if err := decodeSection("local", cfg.Local, &c); err != nil {
			return nil, data.NewError(data.KindConfiguration, "init", "", err)
		}
		storage, err := local.NewLocalBackend(&c)
		if err != nil {
			return nil, err
		}
		return storage, nil

	case "cloud":
		var c cloud.Config
		if err := decodeSection("cloud", cfg.Cloud, &c); err != nil {
			return nil, data.NewError(data.KindConfiguration, "init", "", err)
		}
		storage, err := cloud.NewCloudBackend(&c)
		if err != nil {
			return nil, err
		}
		return storage, nil

	case "s3":
		var c s3.Config
		if err := decodeSection("s3", cfg.S3, &c); err != nil {
			return nil, data.NewError(data.KindConfiguration, "init", "", err)
		}
		storage, err := s3.NewS3Backend(&c)
		if err != nil {
			return nil, err
		}
		return storage, nil

	default:
		return nil, data.NewError(data.KindConfiguration, "init", "", fmt.Errorf("unknown backend type '%s'", cfg.Type))
	}
}

// NewRecordStore builds the record store selected by cfg.Type, nil when metadata is disabled.
func NewRecordStore(ctx context.Context, cfg MetadataConfig) (metadata.RecordStore, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Type {
	case "memory":
		return memory.NewStore(), nil

	case "sqlite":
		var c sqliteConfig
		if err := decodeSection("sqlite", cfg.SQLite, &c); err != nil {
			return nil, err
		}
		store, err := sqlite.NewStore(c.Path)
		if err != nil {
			return nil, err
		}
		return store, nil

	case "postgres":
		var c postgresConfig
		if err := decodeSection("postgres", cfg.Postgres, &c); err != nil {
			return nil, err
		}
		store, err := postgres.NewStore(ctx, c.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil

	case "consul":
		var c consul.Config
		if err := decodeSection("consul", cfg.Consul, &c); err != nil {
			return nil, err
		}
		store, err := consul.NewStore(&c)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown metadata store type '%s'", cfg.Type)
	}
}

// NewManager builds the backend and record store and composes them into a manager.
// The manager still needs to be opened.
func NewManager(ctx context.Context, cfg *Config, logger *log.Logger) (*vstore.Manager, error) {
	if cfg == nil {
		return nil, data.NewError(data.KindConfiguration, "init", "", errors.New("config is required"))
	}
	if logger == nil {
		logger = log.NewDiscard()
	}

	storage, err := NewBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}

	store, err := NewRecordStore(ctx, cfg.Metadata)
	if err != nil {
		return nil, data.NewError(data.KindConfiguration, "init", "", err)
	}

	opts := []vstore.Option{
		vstore.WithLogger(logger),
		vstore.WithHasher(cfg.Hashing.Algorithm),
		vstore.WithMergeStrategy(extraction.Strategy(cfg.Tracking.MergeStrategy)),
		vstore.WithRecorderRetry(max(cfg.Tracking.RetryAttempts, 1), cfg.Tracking.RetryDelay),
		vstore.WithQueueSize(cfg.Tracking.QueueSize),
	}
	if store != nil {
		opts = append(opts, vstore.WithRecordStore(store))
	}
	if cfg.Tracking.AwaitRecording {
		opts = append(opts, vstore.WithAwaitRecording())
	}
	if cfg.Tracking.SoftDelete {
		opts = append(opts, vstore.WithSoftDelete())
	}

	return vstore.NewManager(storage, opts...)
}
