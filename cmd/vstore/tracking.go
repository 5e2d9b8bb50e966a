package main

import (
	"context"
	"errors"
	"time"

	"github.com/mwantia/vstore"
	"github.com/mwantia/vstore/data"
	"github.com/mwantia/vstore/refs"
	"github.com/spf13/cobra"
)

type removedResult struct {
	Removed int `json:"removed"`
}

type changedResult struct {
	Path    string `json:"path"`
	Changed bool   `json:"changed"`
}

func newRefsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refs",
		Short: "Manage references to tracked files",
	}
	cmd.AddCommand(newRefsAddCommand(), newRefsRemoveCommand(), newRefsListCommand(), newRefsFindCommand())

	return cmd
}

func newRefsAddCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Reference a file from an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := refs.Ref{}
			ref.EntityType, _ = cmd.Flags().GetString("entity-type")
			ref.EntityID, _ = cmd.Flags().GetString("entity-id")
			ref.Label, _ = cmd.Flags().GetString("label")
			ref.CreatedBy, _ = cmd.Flags().GetString("created-by")
			ref.Visibility, _ = cmd.Flags().GetString("visibility")

			return withManager(cmd, func(ctx context.Context, m *vstore.Manager) error {
				fileRef, err := m.AddRef(ctx, args[0], ref)
				return emit(cmd, fileRef, err)
			})
		},
	}
	cmd.Flags().String("entity-type", "", "type of the referencing entity")
	cmd.Flags().String("entity-id", "", "id of the referencing entity")
	cmd.Flags().String("label", "", "optional label")
	cmd.Flags().String("created-by", "", "optional creator")
	cmd.Flags().String("visibility", "", "optional visibility")
	cmd.MarkFlagRequired("entity-type")
	cmd.MarkFlagRequired("entity-id")

	return cmd
}

func newRefsRemoveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm [path] [ref-id]",
		Short: "Remove a reference by id, or every reference matching the criteria flags",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return emit[any](cmd, nil, data.NewError(data.KindInvalidPath, "unref", args[0], errors.New("ref id is required")))
			}

			criteria := refs.Criteria{}
			criteria.FileID, _ = cmd.Flags().GetString("file-id")
			criteria.ScopeID, _ = cmd.Flags().GetString("scope")
			criteria.EntityType, _ = cmd.Flags().GetString("entity-type")
			criteria.EntityID, _ = cmd.Flags().GetString("entity-id")

			return withManager(cmd, func(ctx context.Context, m *vstore.Manager) error {
				if len(args) == 2 {
					removed, err := m.RemoveRef(ctx, args[0], args[1])
					count := 0
					if removed {
						count = 1
					}
					return emit(cmd, removedResult{Removed: count}, err)
				}

				removed, err := m.RemoveRefsByCriteria(ctx, criteria)
				return emit(cmd, removedResult{Removed: removed}, err)
			})
		},
	}
	cmd.Flags().String("file-id", "", "only refs of this record")
	cmd.Flags().String("scope", "", "only refs of records in this scope")
	cmd.Flags().String("entity-type", "", "only refs of this entity type")
	cmd.Flags().String("entity-id", "", "only refs of this entity id")

	return cmd
}

func newRefsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <path>",
		Short: "List the references of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *vstore.Manager) error {
				fileRefs, err := m.Refs(ctx, args[0])
				return emit(cmd, fileRefs, err)
			})
		},
	}
}

func newRefsFindCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "find <entity-type> <entity-id>",
		Short: "List the records referenced by an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *vstore.Manager) error {
				records, err := m.FindByEntity(ctx, args[0], args[1])
				return emit(cmd, records, err)
			})
		},
	}
}

func newOrphansCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "List records without references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := refs.OrphanFilter{}
			filter.PathPrefix, _ = cmd.Flags().GetString("prefix")
			filter.ScopeID, _ = cmd.Flags().GetString("scope")
			filter.IncludeFolders, _ = cmd.Flags().GetBool("folders")
			if olderThan, _ := cmd.Flags().GetDuration("older-than"); olderThan > 0 {
				filter.ChangedBefore = time.Now().Add(-olderThan)
			}

			return withManager(cmd, func(ctx context.Context, m *vstore.Manager) error {
				records, err := m.FindOrphaned(ctx, filter)
				return emit(cmd, records, err)
			})
		},
	}
	cmd.Flags().String("prefix", "", "only records below this path")
	cmd.Flags().String("scope", "", "only records of this scope")
	cmd.Flags().Bool("folders", false, "include folder records")
	cmd.Flags().Duration("older-than", 0, "only records unchanged for this long")

	return cmd
}

func newRecordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "record <path>",
		Short: "Show the metadata record of a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *vstore.Manager) error {
				record, err := m.Record(ctx, args[0])
				return emit(cmd, record, err)
			})
		},
	}
}

func newSoftDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "soft-delete <path>",
		Short: "Mark a record deleted without touching the stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *vstore.Manager) error {
				record, err := m.SoftDelete(ctx, args[0])
				return emit(cmd, record, err)
			})
		},
	}
}

func newRestoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <path>",
		Short: "Restore a soft deleted record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *vstore.Manager) error {
				record, err := m.Restore(ctx, args[0])
				return emit(cmd, record, err)
			})
		},
	}
}

func newVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <path>",
		Short: "Check that the stored file of a record still exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *vstore.Manager) error {
				record, err := m.VerifyStorage(ctx, args[0])
				return emit(cmd, record, err)
			})
		},
	}
}

func newChangedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "changed <path>",
		Short: "Compare the stored file against its recorded hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *vstore.Manager) error {
				changed, err := m.CheckChanged(ctx, args[0])
				return emit(cmd, changedResult{Path: data.Normalize(args[0]), Changed: changed}, err)
			})
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Upgrade the record store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *vstore.Manager) error {
				if err := m.Migrate(ctx); err != nil {
					return emit[any](cmd, nil, err)
				}
				return emit(cmd, struct {
					Generation int `json:"generation"`
				}{Generation: int(m.Store().Generation())}, nil)
			})
		},
	}
}
