package cloud

import (
	"context"
	"slices"
	"strings"

	"github.com/mwantia/vstore/backend"
	"github.com/mwantia/vstore/data"
)

// parentBatch caps the parents combined into a single search query.
const parentBatch = 50

// GetFolderTree loads the folders below path one level at a time, with one paginated
// query per level instead of one listing per folder. If a level query fails the tree
// is built from per-folder listings instead.
func (cb *CloudBackend) GetFolderTree(ctx context.Context, path string, depth int) ([]*data.TreeNode, error) {
	virtual := data.Normalize(path)

	service, err := cb.getService()
	if err != nil {
		return nil, err
	}

	root, err := cb.resolveFolder(ctx, service, "tree", virtual, false)
	if err != nil {
		return nil, err
	}

	children, err := cb.listLevels(ctx, service, root.ID, depth)
	if err != nil {
		return backend.BuildFolderTree(ctx, cb, virtual, depth, 0), nil
	}

	return buildTree(children, root.ID, virtual, depth, 0), nil
}

// listLevels maps folder ids to their child folders, down to depth levels below rootID.
func (cb *CloudBackend) listLevels(ctx context.Context, service itemService, rootID string, depth int) (map[string][]*remoteFile, error) {
	children := make(map[string][]*remoteFile)
	level := []string{rootID}

	for current := 0; current < depth && len(level) > 0; current++ {
		next := make([]string, 0)

		for batch := range slices.Chunk(level, parentBatch) {
			folders, err := cb.listAll(ctx, service, listQuery{ParentIDs: batch, FoldersOnly: true})
			if err != nil {
				return nil, err
			}

			for _, folder := range folders {
				for _, parent := range folder.Parents {
					if slices.Contains(batch, parent) {
						children[parent] = append(children[parent], folder)
					}
				}
				if !data.IsHidden(folder.Name) {
					next = append(next, folder.ID)
				}
			}
		}

		level = next
	}

	for _, list := range children {
		slices.SortFunc(list, func(a, b *remoteFile) int {
			return strings.Compare(a.Name, b.Name)
		})
	}

	return children, nil
}

func buildTree(children map[string][]*remoteFile, parentID, virtual string, maxDepth, currentDepth int) []*data.TreeNode {
	nodes := make([]*data.TreeNode, 0)
	if currentDepth >= maxDepth {
		return nodes
	}

	for _, folder := range children[parentID] {
		if data.IsHidden(folder.Name) {
			continue
		}

		p := data.Join(virtual, folder.Name)
		nodes = append(nodes, &data.TreeNode{
			ID:       folder.ID,
			Name:     folder.Name,
			Path:     p,
			Children: buildTree(children, folder.ID, p, maxDepth, currentDepth+1),
		})
	}

	return nodes
}
