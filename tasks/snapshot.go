package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nomis52/provisiond/params"
	"github.com/peterbourgon/diskv/v3"
)

// ErrNoSnapshot is returned by SnapshotStore.Load when a user has no record.
var ErrNoSnapshot = errors.New("no app snapshot")

const snapshotKeyPrefix = "user-"

// Snapshot records the system apps present when deletion last ran for a
// user, along with what an update re-run needs to recompute the set.
type Snapshot struct {
	Variant    params.FlowVariant `json:"variant"`
	Admin      string             `json:"admin"`
	LeaveAll   bool               `json:"leave_all_system_apps_enabled"`
	Packages   []string           `json:"packages"`
	RecordedAt time.Time          `json:"recorded_at"`
}

// SnapshotStore persists one Snapshot per user. Writes go through a
// temporary file and a rename so a crash never leaves a partial record.
type SnapshotStore struct {
	kv *diskv.Diskv
}

// NewSnapshotStore stores snapshots below dir.
func NewSnapshotStore(dir string) *SnapshotStore {
	return &SnapshotStore{
		kv: diskv.New(diskv.Options{
			BasePath:     filepath.Join(dir, "snapshots"),
			TempDir:      filepath.Join(dir, "snapshots.tmp"),
			Transform:    func(string) []string { return []string{} },
			CacheSizeMax: 256 * 1024,
		}),
	}
}

func snapshotKey(userID int) string {
	return snapshotKeyPrefix + strconv.Itoa(userID)
}

// Load returns the snapshot of userID, or ErrNoSnapshot.
func (s *SnapshotStore) Load(userID int) (Snapshot, error) {
	key := snapshotKey(userID)
	raw, err := s.kv.Read(key)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading snapshot %s: %w", key, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot %s: %w", key, err)
	}
	return snap, nil
}

// Save replaces the snapshot of userID.
func (s *SnapshotStore) Save(userID int, snap Snapshot) error {
	snap.Packages = slices.Clone(snap.Packages)
	slices.Sort(snap.Packages)
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := s.kv.Write(snapshotKey(userID), raw); err != nil {
		return fmt.Errorf("writing snapshot for user %d: %w", userID, err)
	}
	return nil
}

// Delete removes the snapshot of userID. A missing record is not an error.
func (s *SnapshotStore) Delete(userID int) error {
	key := snapshotKey(userID)
	if !s.kv.Has(key) {
		return nil
	}
	return s.kv.Erase(key)
}

// Users returns the sorted ids of users with a snapshot.
func (s *SnapshotStore) Users() []int {
	cancel := make(chan struct{})
	defer close(cancel)

	var users []int
	for key := range s.kv.Keys(cancel) {
		id, err := strconv.Atoi(strings.TrimPrefix(key, snapshotKeyPrefix))
		if err != nil || !strings.HasPrefix(key, snapshotKeyPrefix) {
			continue
		}
		users = append(users, id)
	}
	slices.Sort(users)
	return users
}
