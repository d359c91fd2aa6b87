// Package treeops implements the mutations the tree surface exposes:
// renaming nodes and deleting files or whole subtrees.
package treeops

import (
	"context"
	"errors"
	"strings"

	"github.com/dalemusser/codestrata/internal/app/store/node"
	"github.com/dalemusser/codestrata/internal/app/store/sourcecode"
	"github.com/dalemusser/codestrata/internal/domain/models"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

var (
	// ErrNotFound indicates the target node does not exist.
	ErrNotFound = errors.New("node not found")

	// ErrInvalidName indicates a rename target that is empty or contains
	// a path separator.
	ErrInvalidName = errors.New("invalid node name")
)

// Engine applies tree mutations. Sources may be nil when source-code
// records are not in play.
type Engine struct {
	Nodes   *node.Store
	Sources *sourcecode.Store
	Logger  *zap.Logger
}

// New creates an Engine.
func New(nodes *node.Store, sources *sourcecode.Store, logger *zap.Logger) *Engine {
	return &Engine{Nodes: nodes, Sources: sources, Logger: logger}
}

// Rename changes a node's display name and returns the updated node.
// Descendant paths are left as recorded at import time.
func (e *Engine) Rename(ctx context.Context, id, newName string) (*models.Node, error) {
	name := strings.TrimSpace(newName)
	if name == "" || strings.Contains(name, "/") {
		return nil, ErrInvalidName
	}

	if err := e.Nodes.Rename(ctx, id, name); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	n, err := e.Nodes.GetByID(ctx, id, false)
	if err != nil {
		return nil, err
	}

	e.Logger.Info("node renamed",
		zap.String("node_id", id),
		zap.String("name", name))
	return n, nil
}

// DeleteResult reports what a delete removed.
type DeleteResult struct {
	DeletedCount int64 `json:"deleted_count"`
	WasRoot      bool  `json:"was_root"`
}

// Delete removes a node. Folders cascade to their whole subtree; deleting
// a root folder also detaches it from any source-code record that pointed
// at it.
func (e *Engine) Delete(ctx context.Context, id string) (*DeleteResult, error) {
	n, err := e.Nodes.GetByID(ctx, id, false)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var count int64
	if n.IsFolder() {
		count, err = e.Nodes.DeleteSubtree(ctx, id)
	} else {
		err = e.Nodes.Delete(ctx, id)
		count = 1
	}
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if n.IsRoot && e.Sources != nil {
		// The subtree is already gone; a dangling pointer on the record
		// is worth a warning, not a failed delete.
		if err := e.Sources.DetachRoot(ctx, id); err != nil {
			e.Logger.Warn("failed to detach root from source codes",
				zap.String("root_id", id),
				zap.Error(err))
		}
	}

	e.Logger.Info("node deleted",
		zap.String("node_id", id),
		zap.String("type", string(n.Type)),
		zap.Int64("deleted", count))

	return &DeleteResult{DeletedCount: count, WasRoot: n.IsRoot}, nil
}
