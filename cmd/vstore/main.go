package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"

	"github.com/mwantia/vstore"
	"github.com/mwantia/vstore/config"
	"github.com/mwantia/vstore/data"
	"github.com/mwantia/vstore/log"
	"github.com/mwantia/vstore/metadata"
	"github.com/spf13/cobra"
)

// errFailed marks a command whose failure was already written as a result.
var errFailed = errors.New("command failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "vstore",
		Short:         "Tracked file storage on local, cloud and s3 backends",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "path to the config file")

	root.AddCommand(
		newListCommand(),
		newTreeCommand(),
		newStatCommand(),
		newMkdirCommand(),
		newRmdirCommand(),
		newPutCommand(),
		newGetCommand(),
		newMoveCommand(),
		newRemoveCommand(),
		newRenameCommand(),
		newRefsCommand(),
		newOrphansCommand(),
		newRecordCommand(),
		newSoftDeleteCommand(),
		newRestoreCommand(),
		newVerifyCommand(),
		newChangedCommand(),
		newMigrateCommand(),
	)

	return root
}

// emit writes the outcome of a command as a JSON result.
func emit[T any](cmd *cobra.Command, v T, err error) error {
	result := data.ResultOf(v, classify(err))

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if encodeErr := encoder.Encode(result); encodeErr != nil {
		return encodeErr
	}

	if !result.Success {
		return errFailed
	}
	return nil
}

// classify gives metadata failures a kind, so their message survives in the result.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, metadata.ErrRecordNotFound):
		return data.NewError(data.KindFileNotFound, "record", "", err)
	case errors.Is(err, vstore.ErrTrackingDisabled), errors.Is(err, vstore.ErrNoExtractor),
		errors.Is(err, metadata.ErrMigrationRequired):
		return data.NewError(data.KindConfiguration, "", "", err)
	default:
		return err
	}
}

// withManager loads the configuration and runs fn with an opened manager.
func withManager(cmd *cobra.Command, fn func(ctx context.Context, m *vstore.Manager) error) error {
	ctx := cmd.Context()
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return emit[any](cmd, nil, data.NewError(data.KindConfiguration, "config", configPath, err))
	}

	logger, err := newLogger(cmd, cfg.Logging)
	if err != nil {
		return emit[any](cmd, nil, data.NewError(data.KindConfiguration, "config", configPath, err))
	}
	defer logger.Close()

	m, err := config.NewManager(ctx, cfg, logger)
	if err != nil {
		return emit[any](cmd, nil, err)
	}
	if err := m.Open(ctx); err != nil {
		return emit[any](cmd, nil, err)
	}
	defer m.Close(context.WithoutCancel(ctx))

	return fn(ctx, m)
}

// newLogger keeps stdout free for results: terminal output goes to stderr.
func newLogger(cmd *cobra.Command, cfg config.LoggingConfig) (*log.Logger, error) {
	if cfg.File != "" {
		cfg.NoTerminal = true
		return config.NewLogger(cfg)
	}

	level, err := log.Parse(cfg.Level)
	if err != nil {
		return nil, err
	}
	return log.NewWriter(cmd.ErrOrStderr(), level).Named("vstore"), nil
}
