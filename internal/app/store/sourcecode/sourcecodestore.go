// Package sourcecode provides storage for source-code group records.
package sourcecode

import (
	"context"
	"time"

	"github.com/dalemusser/codestrata/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store provides access to the source_codes collection.
type Store struct {
	c *mongo.Collection
}

// New creates a new source-code store.
func New(db *mongo.Database) *Store {
	return &Store{
		c: db.Collection("source_codes"),
	}
}

// CreateInput contains the input for creating a source-code record.
type CreateInput struct {
	Title       string
	Description string
}

// Create creates a new source-code record with no tree attached yet.
func (s *Store) Create(ctx context.Context, input CreateInput) (*models.SourceCode, error) {
	now := time.Now().UTC()
	sc := models.SourceCode{
		ID:          models.NewSourceCodeID(),
		Title:       input.Title,
		Description: input.Description,
		TotalSize:   "0 Bytes",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := s.c.InsertOne(ctx, sc); err != nil {
		return nil, err
	}

	return &sc, nil
}

// GetByID retrieves a source-code record by ID.
func (s *Store) GetByID(ctx context.Context, id string) (*models.SourceCode, error) {
	var sc models.SourceCode
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Exists reports whether a source-code record exists.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	count, err := s.c.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// List returns all source-code records, newest first.
func (s *Store) List(ctx context.Context) ([]models.SourceCode, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.c.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var scs []models.SourceCode
	if err := cursor.All(ctx, &scs); err != nil {
		return nil, err
	}
	return scs, nil
}

// TreeStats carries the denormalized counts stamped onto a source-code
// record after an import completes.
type TreeStats struct {
	RootFolderID string
	FileCount    int
	FolderCount  int
	TotalSize    string
}

// UpdateTreeStats records which root folder a source code owns and the
// file/folder counts under it.
func (s *Store) UpdateTreeStats(ctx context.Context, id string, stats TreeStats) error {
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"root_folder_id": stats.RootFolderID,
		"file_count":     stats.FileCount,
		"folder_count":   stats.FolderCount,
		"total_size":     stats.TotalSize,
		"updated_at":     time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// DetachRoot clears the root back-reference and zeroes the counts. Called
// when a root folder is deleted so the record does not dangle.
func (s *Store) DetachRoot(ctx context.Context, rootFolderID string) error {
	_, err := s.c.UpdateMany(ctx, bson.M{"root_folder_id": rootFolderID}, bson.M{"$set": bson.M{
		"root_folder_id": nil,
		"file_count":     0,
		"folder_count":   0,
		"total_size":     "0 Bytes",
		"updated_at":     time.Now().UTC(),
	}})
	return err
}

// Delete removes a source-code record.
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
