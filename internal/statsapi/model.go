// Package statsapi is the remote counting service: an append-only log of
// cumulative per-category usage snapshots.
package statsapi

import "time"

// Snapshot is one stored set of cumulative counts.
type Snapshot struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
	Entries   []Entry `gorm:"foreignKey:SnapshotID;constraint:OnDelete:CASCADE"`
}

// Entry is the count for one key within a snapshot.
type Entry struct {
	ID         uint   `gorm:"primaryKey"`
	SnapshotID uint   `gorm:"not null;index"`
	Key        string `gorm:"not null;size:64"`
	Count      int    `gorm:"not null"`
}

// Reserved response fields that are never treated as count keys.
const (
	fieldID        = "_id"
	fieldCreatedAt = "createdAt"
	fieldUpdatedAt = "updatedAt"
)

func reserved(key string) bool {
	return key == fieldID || key == fieldCreatedAt || key == fieldUpdatedAt
}

// Counts returns the snapshot's counts keyed by entry key.
func (s *Snapshot) Counts() map[string]int {
	out := make(map[string]int, len(s.Entries))
	for _, e := range s.Entries {
		out[e.Key] = e.Count
	}
	return out
}

// Flat renders the snapshot as a single JSON object: every count key at the
// top level next to _id, createdAt and updatedAt.
func (s *Snapshot) Flat() map[string]interface{} {
	out := make(map[string]interface{}, len(s.Entries)+3)
	for _, e := range s.Entries {
		out[e.Key] = e.Count
	}
	out[fieldID] = s.ID
	out[fieldCreatedAt] = s.CreatedAt.UTC().Format(time.RFC3339)
	out[fieldUpdatedAt] = s.UpdatedAt.UTC().Format(time.RFC3339)
	return out
}
