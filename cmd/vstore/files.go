package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/mwantia/vstore"
	"github.com/mwantia/vstore/data"
	"github.com/spf13/cobra"
)

type pathResult struct {
	Path string `json:"path"`
}

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/"
			if len(args) > 0 {
				path = args[0]
			}

			opts := &data.ListOptions{}
			opts.Recursive, _ = cmd.Flags().GetBool("recursive")
			opts.IncludeHidden, _ = cmd.Flags().GetBool("all")
			opts.Pattern, _ = cmd.Flags().GetString("pattern")

			return withManager(cmd, func(ctx context.Context, m *vstore.Manager) error {
				items, err := m.ListDirectory(ctx, path, opts)
				return emit(cmd, items, err)
			})
		},
	}
	cmd.Flags().BoolP("recursive", "r", false, "list subdirectories")
	cmd.Flags().BoolP("all", "a", false, "include hidden items")
	cmd.Flags().StringP("pattern", "p", "", "glob matched against item names")

	return cmd
}

func newTreeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree [path]",
		Short: "Show the folder tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/"
			if len(args) > 0 {
				path = args[0]
			}
			depth, _ := cmd.Flags().GetInt("depth")

			return withManager(cmd, func(ctx context.Context, m *vstore.Manager) error {
				tree, err := m.GetFolderTree(ctx, path, depth)
				return emit(cmd, tree, err)
			})
		},
	}
	cmd.Flags().IntP("depth", "d", 3, "maximum depth")

	return cmd
}

func newStatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Show a single item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *vstore.Manager) error {
				item, err := m.GetItem(ctx, args[0])
				return emit(cmd, item, err)
			})
		},
	}
}

func newMkdirCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a directory and its parents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *vstore.Manager) error {
				folder, err := m.CreateDirectory(ctx, args[0])
				return emit(cmd, folder, err)
			})
		},
	}
}

func newRmdirCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rmdir <path>",
		Short: "Remove a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recursive, _ := cmd.Flags().GetBool("recursive")

			return withManager(cmd, func(ctx context.Context, m *vstore.Manager) error {
				err := m.RemoveDirectory(ctx, args[0], recursive)
				return emit(cmd, pathResult{Path: data.Normalize(args[0])}, err)
			})
		},
	}
	cmd.Flags().BoolP("recursive", "r", false, "remove non-empty directories")

	return cmd
}

func newPutCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <local> <path>",
		Short: "Upload a local file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := writeOptions(cmd)
			if err != nil {
				return emit[any](cmd, nil, data.NewError(data.KindInvalidPath, "upload", args[1], err))
			}
			scope, _ := cmd.Flags().GetString("scope")
			uploader, _ := cmd.Flags().GetString("uploader")

			return withManager(cmd, func(ctx context.Context, m *vstore.Manager) error {
				if scope != "" {
					ctx = vstore.WithScope(ctx, scope)
				}
				if uploader != "" {
					ctx = vstore.WithUploader(ctx, uploader)
				}

				file, err := m.UploadFile(ctx, data.SourceFromPath(args[0]), args[1], opts)
				return emit(cmd, file, err)
			})
		},
	}
	cmd.Flags().BoolP("overwrite", "f", false, "replace an existing file")
	cmd.Flags().String("scope", "", "scope id of the record")
	cmd.Flags().String("uploader", "", "uploaded_by of the record")
	cmd.Flags().StringToString("meta", nil, "metadata stored with the object (key=value)")

	return cmd
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path> <local>",
		Short: "Download a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *vstore.Manager) error {
				download, err := m.DownloadFile(ctx, args[0], data.SinkToPath(args[1]), nil)
				return emit(cmd, download, err)
			})
		},
	}
}

func newMoveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mv <src> <dst>",
		Short: "Move a file or directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := writeOptions(cmd)
			if err != nil {
				return emit[any](cmd, nil, data.NewError(data.KindInvalidPath, "move", args[1], err))
			}

			return withManager(cmd, func(ctx context.Context, m *vstore.Manager) error {
				item, err := m.MoveItem(ctx, args[0], args[1], opts)
				return emit(cmd, item, err)
			})
		},
	}
	cmd.Flags().BoolP("overwrite", "f", false, "replace an existing destination")

	return cmd
}

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *vstore.Manager) error {
				err := m.DeleteFile(ctx, args[0])
				return emit(cmd, pathResult{Path: data.Normalize(args[0])}, err)
			})
		},
	}
}

func newRenameCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rename <path> <name>",
		Short: "Rename a file or directory in place",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := writeOptions(cmd)
			if err != nil {
				return emit[any](cmd, nil, data.NewError(data.KindInvalidPath, "rename", args[0], err))
			}

			return withManager(cmd, func(ctx context.Context, m *vstore.Manager) error {
				item, err := m.GetItem(ctx, args[0])
				if err != nil {
					return emit[any](cmd, nil, err)
				}

				if item.IsFolder() {
					folder, err := m.RenameFolder(ctx, args[0], args[1], opts)
					return emit(cmd, folder, err)
				}
				file, err := m.RenameFile(ctx, args[0], args[1], opts)
				return emit(cmd, file, err)
			})
		},
	}
	cmd.Flags().BoolP("overwrite", "f", false, "replace an existing item")

	return cmd
}

// writeOptions reads the shared write flags of cmd.
func writeOptions(cmd *cobra.Command) (*data.WriteOptions, error) {
	opts := &data.WriteOptions{}
	opts.Overwrite, _ = cmd.Flags().GetBool("overwrite")

	if cmd.Flags().Lookup("meta") != nil {
		meta, err := cmd.Flags().GetStringToString("meta")
		if err != nil {
			return nil, err
		}
		for key := range meta {
			if strings.TrimSpace(key) == "" {
				return nil, fmt.Errorf("empty metadata key")
			}
		}
		opts.Metadata = meta
	}

	return opts, nil
}
