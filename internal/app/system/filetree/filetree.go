// Package filetree reconstructs nested file trees from the flat node store.
//
// Two strategies exist because the backing store behaves differently at
// different tree sizes: a bulk fetch is fast when the store can return the
// whole subtree in one round trip, and a one-row-at-a-time walk with a
// per-row deadline survives stores that stall on individual blob-heavy
// rows. Build picks between them by node count.
package filetree

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/dalemusser/codestrata/internal/app/system/sizefmt"
	"github.com/dalemusser/codestrata/internal/domain/models"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Fetcher is the slice of the node store the builder needs. The retry pass
// after row timeouts runs against a second, freshly dialed Fetcher because
// the stalls track the connection, not the row.
type Fetcher interface {
	GetByID(ctx context.Context, id string, withContent bool) (*models.Node, error)
	ChildAt(ctx context.Context, parentID string, offset int64) (*models.Node, error)
	ChildIDAt(ctx context.Context, parentID string, offset int64) (string, error)
	ListBySourceCode(ctx context.Context, sourceCodeID string) ([]models.Node, error)
	ListByPathPrefix(ctx context.Context, prefix string) ([]models.Node, error)
	CountBySourceCode(ctx context.Context, sourceCodeID string) (int64, error)
	CountByPathPrefix(ctx context.Context, prefix string) (int64, error)
}

// Redial opens a fresh Fetcher on a new store connection. The returned
// close func disposes the connection when the retry pass is done.
type Redial func(ctx context.Context) (Fetcher, func(context.Context) error, error)

// TreeNode is one node of a reconstructed tree. Content is never carried
// in a tree; callers fetch it per file on demand.
type TreeNode struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Type          models.NodeType `json:"type"`
	Path          string          `json:"path"`
	Language      string          `json:"language,omitempty"`
	Size          int64           `json:"size"`
	SizeFormatted string          `json:"size_formatted"`
	IsRoot        bool            `json:"is_root"`
	ParentID      *string         `json:"parent_id"`
	Children      []*TreeNode     `json:"children"`
}

// Stats summarizes a build.
type Stats struct {
	TotalItems         int      `json:"total_items"`
	Folders            int      `json:"folders"`
	Files              int      `json:"files"`
	Orphans            int      `json:"orphans"`
	SkippedFiles       int      `json:"skipped_files"`
	Retried            int      `json:"retried"`
	TotalSize          int64    `json:"total_size"`
	TotalSizeFormatted string   `json:"total_size_formatted"`
	Languages          []string `json:"languages"`
	ElapsedMS          int64    `json:"elapsed_ms"`
}

const (
	// DefaultRowTimeout bounds every single-row fetch in the row-by-row
	// walk. The observed failure mode is a connection that stalls
	// indefinitely on specific rows, so the walk must abandon the fetch
	// and move on rather than wait.
	DefaultRowTimeout = 2 * time.Second

	// DefaultMaxChildren caps the children scanned per folder so corrupt
	// data cannot turn the walk into an endless loop.
	DefaultMaxChildren = 1000

	// DefaultBulkThreshold is the node count above which Build switches
	// from the bulk strategy to the row-by-row walk.
	DefaultBulkThreshold = 200
)

// Builder reconstructs trees from a Fetcher.
type Builder struct {
	fetcher Fetcher
	redial  Redial
	logger  *zap.Logger

	// Tunables, preset to the defaults above.
	RowTimeout    time.Duration
	MaxChildren   int64
	BulkThreshold int64
}

// NewBuilder creates a Builder. redial may be nil, in which case timed-out
// rows are reported as skipped without a retry pass.
func NewBuilder(f Fetcher, redial Redial, logger *zap.Logger) *Builder {
	return &Builder{
		fetcher:       f,
		redial:        redial,
		logger:        logger,
		RowTimeout:    DefaultRowTimeout,
		MaxChildren:   DefaultMaxChildren,
		BulkThreshold: DefaultBulkThreshold,
	}
}

// Build reconstructs the tree under rootID, choosing the bulk strategy for
// small trees and the row-by-row walk for large ones.
func (b *Builder) Build(ctx context.Context, rootID string) (*TreeNode, *Stats, error) {
	root, err := b.fetcher.GetByID(ctx, rootID, false)
	if err != nil {
		return nil, nil, err
	}

	count, err := b.countSubtree(ctx, root)
	if err != nil {
		// If even counting misbehaves, take the resilient path.
		b.logger.Warn("subtree count failed, using row-by-row walk",
			zap.String("root_id", rootID),
			zap.Error(err))
		return b.buildRowByRow(ctx, root)
	}

	if count <= b.BulkThreshold {
		return b.buildBulk(ctx, root)
	}
	return b.buildRowByRow(ctx, root)
}

// BuildBulk reconstructs the tree with one bulk metadata fetch.
func (b *Builder) BuildBulk(ctx context.Context, rootID string) (*TreeNode, *Stats, error) {
	root, err := b.fetcher.GetByID(ctx, rootID, false)
	if err != nil {
		return nil, nil, err
	}
	return b.buildBulk(ctx, root)
}

// BuildRowByRow reconstructs the tree one child per query with a per-row
// deadline, then retries timed-out rows on a fresh connection.
func (b *Builder) BuildRowByRow(ctx context.Context, rootID string) (*TreeNode, *Stats, error) {
	root, err := b.fetcher.GetByID(ctx, rootID, false)
	if err != nil {
		return nil, nil, err
	}
	return b.buildRowByRow(ctx, root)
}

func (b *Builder) countSubtree(ctx context.Context, root *models.Node) (int64, error) {
	if root.SourceCodeID != nil {
		return b.fetcher.CountBySourceCode(ctx, *root.SourceCodeID)
	}
	return b.fetcher.CountByPathPrefix(ctx, root.Path)
}

/* ------------------------------ Strategy A ------------------------------ */

func (b *Builder) buildBulk(ctx context.Context, root *models.Node) (*TreeNode, *Stats, error) {
	start := time.Now()

	var (
		nodes []models.Node
		err   error
	)
	if root.SourceCodeID != nil {
		nodes, err = b.fetcher.ListBySourceCode(ctx, *root.SourceCodeID)
	} else {
		// Legacy structures without a group key are scoped by path prefix.
		nodes, err = b.fetcher.ListByPathPrefix(ctx, root.Path)
	}
	if err != nil {
		return nil, nil, err
	}

	rootNode := toTreeNode(root)
	byID := map[string]*TreeNode{root.ID: rootNode}
	order := []string{root.ID}
	for i := range nodes {
		if _, ok := byID[nodes[i].ID]; ok {
			continue
		}
		byID[nodes[i].ID] = toTreeNode(&nodes[i])
		order = append(order, nodes[i].ID)
	}

	orphans := 0
	for _, id := range order {
		if id == root.ID {
			continue
		}
		tn := byID[id]
		if tn.ParentID != nil && *tn.ParentID != id {
			if parent, ok := byID[*tn.ParentID]; ok {
				parent.Children = append(parent.Children, tn)
				continue
			}
		}
		// Parent missing from the result set, or the node points at
		// itself: keep it visible under the root rather than dropping it.
		rootNode.Children = append(rootNode.Children, tn)
		orphans++
	}

	orphans += flattenUnreachable(rootNode, byID)

	sortChildren(rootNode)

	stats := collectStats(rootNode)
	stats.Orphans = orphans
	stats.ElapsedMS = time.Since(start).Milliseconds()

	b.logger.Info("tree built (bulk)",
		zap.String("root_id", root.ID),
		zap.Int("total_items", stats.TotalItems),
		zap.Int("orphans", orphans),
		zap.Int64("elapsed_ms", stats.ElapsedMS))

	return rootNode, stats, nil
}

// flattenUnreachable re-attaches any node the root cannot reach (a parent
// cycle among imported rows) directly under the root and returns how many
// nodes it moved. Cycle members lose their child links: the links are what
// made the component unreachable in the first place.
func flattenUnreachable(root *TreeNode, byID map[string]*TreeNode) int {
	reached := make(map[string]bool, len(byID))
	queue := []*TreeNode{root}
	reached[root.ID] = true
	for len(queue) > 0 {
		tn := queue[0]
		queue = queue[1:]
		for _, child := range tn.Children {
			if !reached[child.ID] {
				reached[child.ID] = true
				queue = append(queue, child)
			}
		}
	}

	var lost []*TreeNode
	for id, tn := range byID {
		if !reached[id] {
			lost = append(lost, tn)
		}
	}
	for _, tn := range lost {
		tn.Children = nil
	}
	for _, tn := range lost {
		root.Children = append(root.Children, tn)
	}
	return len(lost)
}

/* ------------------------------ Strategy B ------------------------------ */

// skippedRow records a child fetch that timed out: the offset where it
// happened, the parent it belongs under, and the row id when the cheap
// id-only query could still retrieve it.
type skippedRow struct {
	id       string
	parentID string
	offset   int64
}

func (b *Builder) buildRowByRow(ctx context.Context, root *models.Node) (*TreeNode, *Stats, error) {
	start := time.Now()

	rootNode := toTreeNode(root)
	var skipped []skippedRow

	// Explicit worklist instead of recursion: imported trees can be
	// pathologically deep.
	stack := []*TreeNode{rootNode}
	for len(stack) > 0 {
		folder := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		var offset int64
	children:
		for offset < b.MaxChildren {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}

			rowCtx, cancel := context.WithTimeout(ctx, b.RowTimeout)
			child, err := b.fetcher.ChildAt(rowCtx, folder.ID, offset)
			cancel()

			switch {
			case err == nil:
				tn := toTreeNode(child)
				folder.Children = append(folder.Children, tn)
				if child.IsFolder() {
					stack = append(stack, tn)
				}
				offset++

			case errors.Is(err, mongo.ErrNoDocuments):
				break children

			case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
				// The row stalled. Grab its id with the cheap id-only
				// query, then advance past it so the walk never hangs.
				row := skippedRow{parentID: folder.ID, offset: offset}
				idCtx, idCancel := context.WithTimeout(ctx, b.RowTimeout)
				if id, idErr := b.fetcher.ChildIDAt(idCtx, folder.ID, offset); idErr == nil {
					row.id = id
				}
				idCancel()

				b.logger.Warn("row fetch timed out",
					zap.String("parent_id", folder.ID),
					zap.Int64("offset", offset),
					zap.String("row_id", row.id))
				skipped = append(skipped, row)
				offset++

			default:
				if ctx.Err() != nil {
					return nil, nil, ctx.Err()
				}
				b.logger.Warn("row fetch failed, abandoning folder scan",
					zap.String("parent_id", folder.ID),
					zap.Int64("offset", offset),
					zap.Error(err))
				break children
			}
		}
	}

	recovered := b.retrySkipped(ctx, rootNode, skipped)

	sortChildren(rootNode)

	stats := collectStats(rootNode)
	stats.SkippedFiles = len(skipped) - recovered
	stats.Retried = recovered
	stats.ElapsedMS = time.Since(start).Milliseconds()

	b.logger.Info("tree built (row-by-row)",
		zap.String("root_id", root.ID),
		zap.Int("total_items", stats.TotalItems),
		zap.Int("skipped", stats.SkippedFiles),
		zap.Int("retried", recovered),
		zap.Int64("elapsed_ms", stats.ElapsedMS))

	return rootNode, stats, nil
}

// retrySkipped refetches timed-out rows on a freshly dialed connection and
// splices recovered nodes under their recorded parents. The working theory
// for the stalls is connection-level poisoning, so reusing the walk's
// connection would just time out again.
func (b *Builder) retrySkipped(ctx context.Context, root *TreeNode, skipped []skippedRow) int {
	if len(skipped) == 0 || b.redial == nil {
		return 0
	}

	fresh, closeFn, err := b.redial(ctx)
	if err != nil {
		b.logger.Warn("could not open fresh connection for retry", zap.Error(err))
		return 0
	}
	defer func() {
		if closeFn != nil {
			if err := closeFn(ctx); err != nil {
				b.logger.Warn("retry connection close failed", zap.Error(err))
			}
		}
	}()

	index := map[string]*TreeNode{}
	indexTree(root, index)

	recovered := 0
	for _, row := range skipped {
		if row.id == "" {
			continue
		}
		rowCtx, cancel := context.WithTimeout(ctx, b.RowTimeout)
		n, err := fresh.GetByID(rowCtx, row.id, false)
		cancel()
		if err != nil {
			b.logger.Warn("retry fetch failed",
				zap.String("row_id", row.id),
				zap.Error(err))
			continue
		}

		parent, ok := index[row.parentID]
		if !ok {
			continue
		}
		tn := toTreeNode(n)
		parent.Children = append(parent.Children, tn)
		index[tn.ID] = tn
		recovered++
	}

	return recovered
}

/* ------------------------------- Helpers -------------------------------- */

func toTreeNode(n *models.Node) *TreeNode {
	return &TreeNode{
		ID:            n.ID,
		Name:          n.Name,
		Type:          n.Type,
		Path:          n.Path,
		Language:      n.Language,
		Size:          n.Size,
		SizeFormatted: sizefmt.Format(n.Size),
		IsRoot:        n.IsRoot,
		ParentID:      n.ParentID,
	}
}

func indexTree(tn *TreeNode, index map[string]*TreeNode) {
	index[tn.ID] = tn
	for _, child := range tn.Children {
		indexTree(child, index)
	}
}

// sortChildren orders every folder's children folders-first, then by
// case-insensitive name.
func sortChildren(tn *TreeNode) {
	sort.SliceStable(tn.Children, func(i, j int) bool {
		a, b := tn.Children[i], tn.Children[j]
		if a.Type != b.Type {
			return a.Type == models.TypeFolder
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})
	for _, child := range tn.Children {
		sortChildren(child)
	}
}

func collectStats(root *TreeNode) *Stats {
	stats := &Stats{}
	langs := map[string]struct{}{}

	var walk func(tn *TreeNode)
	walk = func(tn *TreeNode) {
		stats.TotalItems++
		if tn.Type == models.TypeFolder {
			stats.Folders++
		} else {
			stats.Files++
			stats.TotalSize += tn.Size
			if tn.Language != "" {
				langs[tn.Language] = struct{}{}
			}
		}
		for _, child := range tn.Children {
			walk(child)
		}
	}
	walk(root)

	stats.Languages = make([]string, 0, len(langs))
	for lang := range langs {
		stats.Languages = append(stats.Languages, lang)
	}
	sort.Strings(stats.Languages)

	stats.TotalSizeFormatted = sizefmt.Format(stats.TotalSize)
	return stats
}
