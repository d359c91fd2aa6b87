package sourcecode

import (
	"testing"

	"github.com/dalemusser/codestrata/internal/testutil"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestNew(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	if store == nil {
		t.Fatal("New() returned nil")
	}
}

func TestStore_Create(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	sc, err := store.Create(ctx, CreateInput{
		Title:       "Demo Project",
		Description: "Example import",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if sc.ID == "" {
		t.Error("ID should not be empty")
	}
	if len(sc.ID) != 8 {
		t.Errorf("ID length = %d, want 8", len(sc.ID))
	}
	if sc.Title != "Demo Project" {
		t.Errorf("Title = %q, want Demo Project", sc.Title)
	}
	if sc.TotalSize != "0 Bytes" {
		t.Errorf("TotalSize = %q, want 0 Bytes", sc.TotalSize)
	}
	if sc.RootFolderID != nil {
		t.Error("RootFolderID should be nil before a tree is attached")
	}
}

func TestStore_GetByID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	created, err := store.Create(ctx, CreateInput{Title: "Lookup"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	sc, err := store.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if sc.Title != "Lookup" {
		t.Errorf("Title = %q, want Lookup", sc.Title)
	}

	if _, err := store.GetByID(ctx, "MISSING1"); err != mongo.ErrNoDocuments {
		t.Errorf("GetByID(missing) error = %v, want mongo.ErrNoDocuments", err)
	}
}

func TestStore_Exists(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	created, err := store.Create(ctx, CreateInput{Title: "Exists"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	ok, err := store.Exists(ctx, created.ID)
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if !ok {
		t.Error("Exists() = false for a created record")
	}

	ok, err = store.Exists(ctx, "MISSING1")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if ok {
		t.Error("Exists() = true for a missing record")
	}
}

func TestStore_UpdateTreeStats(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	created, err := store.Create(ctx, CreateInput{Title: "Stats"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	err = store.UpdateTreeStats(ctx, created.ID, TreeStats{
		RootFolderID: "FD000001",
		FileCount:    3,
		FolderCount:  1,
		TotalSize:    "1.5 KB",
	})
	if err != nil {
		t.Fatalf("UpdateTreeStats() error = %v", err)
	}

	sc, err := store.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if sc.RootFolderID == nil || *sc.RootFolderID != "FD000001" {
		t.Errorf("RootFolderID = %v, want FD000001", sc.RootFolderID)
	}
	if sc.FileCount != 3 || sc.FolderCount != 1 {
		t.Errorf("counts = %d/%d, want 3/1", sc.FileCount, sc.FolderCount)
	}
	if sc.TotalSize != "1.5 KB" {
		t.Errorf("TotalSize = %q, want 1.5 KB", sc.TotalSize)
	}

	if err := store.UpdateTreeStats(ctx, "MISSING1", TreeStats{}); err != mongo.ErrNoDocuments {
		t.Errorf("UpdateTreeStats(missing) error = %v, want mongo.ErrNoDocuments", err)
	}
}

func TestStore_DetachRoot(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	created, err := store.Create(ctx, CreateInput{Title: "Detach"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.UpdateTreeStats(ctx, created.ID, TreeStats{
		RootFolderID: "FD000009",
		FileCount:    2,
		FolderCount:  1,
		TotalSize:    "12 Bytes",
	}); err != nil {
		t.Fatalf("UpdateTreeStats() error = %v", err)
	}

	if err := store.DetachRoot(ctx, "FD000009"); err != nil {
		t.Fatalf("DetachRoot() error = %v", err)
	}

	sc, err := store.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if sc.RootFolderID != nil {
		t.Errorf("RootFolderID = %v, want nil after detach", sc.RootFolderID)
	}
	if sc.FileCount != 0 || sc.FolderCount != 0 || sc.TotalSize != "0 Bytes" {
		t.Errorf("stats not zeroed: %d/%d/%q", sc.FileCount, sc.FolderCount, sc.TotalSize)
	}
}

func TestStore_List(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	for _, title := range []string{"first", "second", "third"} {
		if _, err := store.Create(ctx, CreateInput{Title: title}); err != nil {
			t.Fatalf("Create(%s) error = %v", title, err)
		}
	}

	scs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(scs) != 3 {
		t.Fatalf("List() returned %d records, want 3", len(scs))
	}
}

func TestStore_Delete(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	created, err := store.Create(ctx, CreateInput{Title: "Doomed"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := store.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.GetByID(ctx, created.ID); err != mongo.ErrNoDocuments {
		t.Errorf("GetByID(deleted) error = %v, want mongo.ErrNoDocuments", err)
	}
	if err := store.Delete(ctx, created.ID); err != mongo.ErrNoDocuments {
		t.Errorf("Delete(missing) error = %v, want mongo.ErrNoDocuments", err)
	}
}
