package backend

import (
	"context"

	"github.com/mwantia/vstore/data"
)

// Lister is the part of StorageBackend the tree builder relies on.
type Lister interface {
	ListDirectory(ctx context.Context, path string, opts *data.ListOptions) ([]data.Item, error)
}

// BuildFolderTree walks the folders below path up to maxDepth levels, one listing per folder.
// A failed listing degrades that branch to no children, partial trees are a valid result.
func BuildFolderTree(ctx context.Context, lister Lister, path string, maxDepth, currentDepth int) []*data.TreeNode {
	nodes := make([]*data.TreeNode, 0)
	if currentDepth >= maxDepth || ctx.Err() != nil {
		return nodes
	}

	items, err := lister.ListDirectory(ctx, data.Normalize(path), &data.ListOptions{})
	if err != nil {
		return nodes
	}

	for _, item := range items {
		if !item.IsFolder() {
			continue
		}

		info := item.Info()
		nodes = append(nodes, &data.TreeNode{
			ID:       info.ID,
			Name:     info.Name,
			Path:     info.Path,
			Children: BuildFolderTree(ctx, lister, info.Path, maxDepth, currentDepth+1),
		})
	}

	return nodes
}
