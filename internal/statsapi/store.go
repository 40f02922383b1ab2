package statsapi

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"
)

// ErrNotFound is returned when no snapshot exists.
var ErrNotFound = errors.New("not found")

// Store persists snapshots with gorm.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Snapshot{}, &Entry{})
}

// Add stores counts as a new snapshot. Entries are written in key order.
func (s *Store) Add(ctx context.Context, counts map[string]int) (*Snapshot, error) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	snap := &Snapshot{Entries: make([]Entry, 0, len(keys))}
	for _, k := range keys {
		snap.Entries = append(snap.Entries, Entry{Key: k, Count: counts[k]})
	}
	if err := s.db.WithContext(ctx).Create(snap).Error; err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}
	return snap, nil
}

// List returns snapshots oldest first. A positive limit keeps only the newest limit snapshots.
func (s *Store) List(ctx context.Context, limit int) ([]*Snapshot, error) {
	var snaps []*Snapshot
	q := s.db.WithContext(ctx).Preload("Entries")
	if limit > 0 {
		q = q.Order("id desc").Limit(limit)
	} else {
		q = q.Order("id asc")
	}
	if err := q.Find(&snaps).Error; err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	if limit > 0 {
		for i, j := 0, len(snaps)-1; i < j; i, j = i+1, j-1 {
			snaps[i], snaps[j] = snaps[j], snaps[i]
		}
	}
	return snaps, nil
}

// Latest returns the most recent snapshot, or ErrNotFound.
func (s *Store) Latest(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	err := s.db.WithContext(ctx).Preload("Entries").Order("id desc").First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return &snap, nil
}
