package statsapi

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	// Every new connection to :memory: is a fresh database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(setupTestDB(t))
	if err := s.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return s
}

func TestStore_AddAndLatest(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	snap, err := s.Add(ctx, map[string]int{"paper": 3, "container": 1, "other": 0})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if snap.ID == 0 {
		t.Error("expected ID to be assigned")
	}
	if snap.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	latest, err := s.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	got := latest.Counts()
	if got["paper"] != 3 || got["container"] != 1 || got["other"] != 0 || len(got) != 3 {
		t.Errorf("Latest counts: got %v", got)
	}
}

func TestStore_LatestEmpty(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.Latest(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ListOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		if _, err := s.Add(ctx, map[string]int{"paper": i}); err != nil {
			t.Fatalf("Add %d: %v", i, err)
		}
	}

	all, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 snapshots, got %d", len(all))
	}
	for i, snap := range all {
		if snap.Counts()["paper"] != i+1 {
			t.Errorf("snapshot %d: got %v", i, snap.Counts())
		}
	}

	last2, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("List limit: %v", err)
	}
	if len(last2) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(last2))
	}
	if last2[0].Counts()["paper"] != 3 || last2[1].Counts()["paper"] != 4 {
		t.Errorf("limited list should be newest two oldest first, got %v, %v",
			last2[0].Counts(), last2[1].Counts())
	}
}

func TestSnapshot_Flat(t *testing.T) {
	s := setupTestStore(t)
	snap, err := s.Add(context.Background(), map[string]int{"paper": 2})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	flat := snap.Flat()
	if flat["paper"] != 2 {
		t.Errorf("paper: got %v", flat["paper"])
	}
	if flat["_id"] != snap.ID {
		t.Errorf("_id: got %v", flat["_id"])
	}
	if _, ok := flat["createdAt"].(string); !ok {
		t.Errorf("createdAt should be a string, got %T", flat["createdAt"])
	}
}
