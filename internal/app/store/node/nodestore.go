// Package node provides storage for file/folder tree nodes.
//
// Nodes are stored flat, one document per file or folder, linked by
// parent_id. Tree shape queries always exclude the content field by
// projection; content is fetched one node at a time on demand.
package node

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dalemusser/codestrata/internal/app/store/storeutil"
	"github.com/dalemusser/codestrata/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Store provides access to the nodes collection.
type Store struct {
	c      *mongo.Collection
	logger *zap.Logger
}

// New creates a new node store.
func New(db *mongo.Database, logger *zap.Logger) *Store {
	return &Store{
		c:      db.Collection("nodes"),
		logger: logger,
	}
}

// ErrRootNameRequired is returned by BulkInsert when no root folder name
// was supplied for the batch.
var ErrRootNameRequired = errors.New("root folder name is required")

// shapeProjection excludes the content blob from tree-shape queries.
var shapeProjection = bson.M{"content": 0}

// childSort orders folders before files, then case-insensitive name.
// Type is sorted descending because "folder" > "file" lexically.
var childSort = bson.D{{Key: "type", Value: -1}, {Key: "name_ci", Value: 1}}

// Item is one candidate node in a bulk insert batch. Path is the
// source-relative path (leading slash, root segment optional - it is
// stripped if it matches the batch root name).
type Item struct {
	Name     string
	Path     string
	Type     models.NodeType
	Language string
	Content  string
	Size     int64
}

// BulkInput contains the input for a bulk insert.
type BulkInput struct {
	RootName     string
	SourceCodeID *string
	Items        []Item
}

// BulkResult reports what a bulk insert actually did. Created includes the
// synthesized root; Files and Folders count only the items under it.
type BulkResult struct {
	Created   int
	Skipped   int
	Errors    int
	Files     int
	Folders   int
	RootID    string
	TotalSize int64
}

// BulkInsert creates a root folder plus a batch of nodes under it.
//
// Items are depth-sorted so parents land before children, parent linkage is
// resolved by matching each item's ancestor path against the batch (falling
// back to the root), and duplicate paths within the batch are skipped with a
// count. A single bad row never fails the batch; per-row insert errors are
// absorbed into the Errors count. After the batch lands, the root's size is
// stamped with the aggregated file total.
func (s *Store) BulkInsert(ctx context.Context, in BulkInput) (*BulkResult, error) {
	if strings.TrimSpace(in.RootName) == "" {
		return nil, ErrRootNameRequired
	}

	now := time.Now().UTC()
	res := &BulkResult{}

	rootID := models.NewNodeID(models.TypeFolder)
	rootPath := "/" + in.RootName
	root := models.Node{
		ID:           rootID,
		Name:         in.RootName,
		NameCI:       text.Fold(in.RootName),
		Type:         models.TypeFolder,
		Path:         rootPath,
		IsRoot:       true,
		SourceCodeID: in.SourceCodeID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := s.c.InsertOne(ctx, root); err != nil {
		return nil, err
	}
	res.RootID = rootID
	res.Created++

	// Path -> id for parent resolution; also the duplicate filter.
	idByPath := map[string]string{rootPath: rootID}

	// Shallow before deep, folders before files at equal depth, so a
	// folder item is inserted before anything that resolves to it.
	items := make([]Item, len(in.Items))
	copy(items, in.Items)
	sort.SliceStable(items, func(i, j int) bool {
		di, dj := pathDepth(items[i].Path), pathDepth(items[j].Path)
		if di != dj {
			return di < dj
		}
		return items[i].Type == models.TypeFolder && items[j].Type == models.TypeFile
	})

	for _, item := range items {
		parentID := rootID
		segs := pathSegments(item.Path)
		if len(segs) > 0 && segs[0] == in.RootName {
			segs = segs[1:]
		}
		if len(segs) == 0 {
			segs = []string{item.Name}
		}
		finalPath := rootPath + "/" + strings.Join(segs, "/")
		if len(segs) > 1 {
			parentPath := rootPath + "/" + strings.Join(segs[:len(segs)-1], "/")
			if id, ok := idByPath[parentPath]; ok {
				parentID = id
			}
		}

		if _, dup := idByPath[finalPath]; dup {
			s.logger.Debug("skipping duplicate path", zap.String("path", finalPath))
			res.Skipped++
			continue
		}

		size := item.Size
		if item.Type == models.TypeFile && size == 0 {
			size = int64(len(item.Content))
		}
		if item.Type == models.TypeFolder {
			size = 0
		}

		pid := parentID
		n := models.Node{
			ID:           models.NewNodeID(item.Type),
			Name:         item.Name,
			NameCI:       text.Fold(item.Name),
			Type:         item.Type,
			Path:         finalPath,
			ParentID:     &pid,
			Language:     item.Language,
			Content:      item.Content,
			Size:         size,
			SourceCodeID: in.SourceCodeID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		if _, err := s.c.InsertOne(ctx, n); err != nil {
			s.logger.Warn("bulk insert row failed",
				zap.String("path", finalPath),
				zap.Error(err))
			res.Errors++
			continue
		}

		idByPath[finalPath] = n.ID
		res.Created++
		if item.Type == models.TypeFolder {
			res.Folders++
		} else {
			res.Files++
			res.TotalSize += size
		}
	}

	if err := s.UpdateSize(ctx, rootID, res.TotalSize); err != nil {
		// The tree itself is intact; a stale root size can be restamped.
		s.logger.Warn("failed to stamp root size",
			zap.String("root_id", rootID),
			zap.Error(err))
	}

	s.logger.Info("bulk insert complete",
		zap.String("root_id", rootID),
		zap.Int("created", res.Created),
		zap.Int("skipped", res.Skipped),
		zap.Int("errors", res.Errors),
		zap.Int64("total_size", res.TotalSize))

	return res, nil
}

// GetByID retrieves a node by ID. Content is excluded unless withContent is
// set, since blobs can be large enough to stall the fetch.
func (s *Store) GetByID(ctx context.Context, id string, withContent bool) (*models.Node, error) {
	opts := options.FindOne()
	if !withContent {
		opts.SetProjection(shapeProjection)
	}
	var n models.Node
	if err := s.c.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&n); err != nil {
		return nil, err
	}
	return &n, nil
}

// ChildAt returns exactly one child of parentID at the given offset in
// child order (folders first, then case-insensitive name), content
// excluded. Returns mongo.ErrNoDocuments past the last child.
//
// The one-row contract exists so a caller can bound the latency of each
// fetch: a row with a huge content blob can stall an entire multi-row
// result set on some storage proxies.
func (s *Store) ChildAt(ctx context.Context, parentID string, offset int64) (*models.Node, error) {
	opts := options.FindOne().
		SetSort(childSort).
		SetSkip(offset).
		SetProjection(shapeProjection)
	var n models.Node
	if err := s.c.FindOne(ctx, bson.M{"parent_id": parentID}, opts).Decode(&n); err != nil {
		return nil, err
	}
	return &n, nil
}

// ChildIDAt is the id-only variant of ChildAt, cheap enough to succeed even
// when the full row fetch times out.
func (s *Store) ChildIDAt(ctx context.Context, parentID string, offset int64) (string, error) {
	opts := options.FindOne().
		SetSort(childSort).
		SetSkip(offset).
		SetProjection(bson.M{"_id": 1})
	var doc struct {
		ID string `bson:"_id"`
	}
	if err := s.c.FindOne(ctx, bson.M{"parent_id": parentID}, opts).Decode(&doc); err != nil {
		return "", err
	}
	return doc.ID, nil
}

// Roots returns the root-level nodes of a source-code group. Legacy rows
// identified roots either by a null parent or by the is_root flag, so both
// are checked.
func (s *Store) Roots(ctx context.Context, sourceCodeID string) ([]models.Node, error) {
	filter := bson.M{
		"source_code_id": sourceCodeID,
		"$or": []bson.M{
			{"parent_id": nil},
			{"is_root": true},
		},
	}
	return s.find(ctx, filter)
}

// ListBySourceCode returns every node in a source-code group, content
// excluded.
func (s *Store) ListBySourceCode(ctx context.Context, sourceCodeID string) ([]models.Node, error) {
	return s.find(ctx, bson.M{"source_code_id": sourceCodeID})
}

// ListByPathPrefix returns every node whose path starts with prefix,
// content excluded. Used for subtrees that predate source_code_id.
func (s *Store) ListByPathPrefix(ctx context.Context, prefix string) ([]models.Node, error) {
	return s.find(ctx, bson.M{"path": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}})
}

// ListBySourceCodePaged returns one page of a source-code group in child
// order, content excluded.
func (s *Store) ListBySourceCodePaged(ctx context.Context, sourceCodeID string, limit, page int64) ([]models.Node, error) {
	opts := storeutil.Paginate(limit, page).
		SetSort(childSort).
		SetProjection(shapeProjection)
	cursor, err := s.c.Find(ctx, bson.M{"source_code_id": sourceCodeID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var nodes []models.Node
	if err := cursor.All(ctx, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// CountBySourceCode returns the number of nodes in a source-code group.
func (s *Store) CountBySourceCode(ctx context.Context, sourceCodeID string) (int64, error) {
	return s.c.CountDocuments(ctx, bson.M{"source_code_id": sourceCodeID})
}

// CountByPathPrefix returns the number of nodes under a path prefix.
func (s *Store) CountByPathPrefix(ctx context.Context, prefix string) (int64, error) {
	return s.c.CountDocuments(ctx, bson.M{"path": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}})
}

func (s *Store) find(ctx context.Context, filter bson.M) ([]models.Node, error) {
	opts := options.Find().
		SetSort(childSort).
		SetProjection(shapeProjection)
	cursor, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var nodes []models.Node
	if err := cursor.All(ctx, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// Rename updates a node's name and updated_at. Descendant paths are NOT
// recomputed: the path field goes stale below a renamed folder. That
// matches the legacy dashboard's behavior, which readers of old data
// depend on; a migration would have to rewrite paths wholesale.
func (s *Store) Rename(ctx context.Context, id, newName string) error {
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"name":       newName,
		"name_ci":    text.Fold(newName),
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// Delete removes a single node row.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// DeleteSubtree removes a node and every node transitively reachable from
// it via parent_id, returning the number of rows removed.
//
// The descendant scan runs level by level with a visited set, so corrupt
// data with a parent cycle cannot loop forever. The root id goes into the
// same DeleteMany as its descendants: if the scan fails, nothing is
// deleted and the error carries a zero count rather than a silent success.
func (s *Store) DeleteSubtree(ctx context.Context, id string) (int64, error) {
	if _, err := s.GetByID(ctx, id, false); err != nil {
		return 0, err
	}

	visited := map[string]struct{}{id: {}}
	ids := []string{id}
	frontier := []string{id}

	for len(frontier) > 0 {
		cursor, err := s.c.Find(ctx,
			bson.M{"parent_id": bson.M{"$in": frontier}},
			options.Find().SetProjection(bson.M{"_id": 1}))
		if err != nil {
			return 0, err
		}

		var next []string
		for cursor.Next(ctx) {
			var doc struct {
				ID string `bson:"_id"`
			}
			if err := cursor.Decode(&doc); err != nil {
				cursor.Close(ctx)
				return 0, err
			}
			if _, seen := visited[doc.ID]; seen {
				continue
			}
			visited[doc.ID] = struct{}{}
			ids = append(ids, doc.ID)
			next = append(next, doc.ID)
		}
		if err := cursor.Err(); err != nil {
			cursor.Close(ctx)
			return 0, err
		}
		cursor.Close(ctx)
		frontier = next
	}

	res, err := s.c.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, err
	}

	s.logger.Info("subtree deleted",
		zap.String("node_id", id),
		zap.Int64("deleted", res.DeletedCount))

	return res.DeletedCount, nil
}

// UpdateSize stamps a node's size field. Used to record an imported root's
// aggregate size; it does not cascade.
func (s *Store) UpdateSize(ctx context.Context, id string, size int64) error {
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"size":       size,
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

func pathSegments(p string) []string {
	parts := strings.Split(p, "/")
	segs := parts[:0]
	for _, part := range parts {
		if part != "" {
			segs = append(segs, part)
		}
	}
	return segs
}

func pathDepth(p string) int {
	return len(pathSegments(p))
}
