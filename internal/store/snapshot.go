package store

import (
	"encoding/json"
	"os"
)

// snapshotData is a point-in-time dump of every table, so recovery does
// not have to replay the WAL from the beginning of time.
type snapshotData struct {
	Baseline []BaselineRow `json:"baseline"`
	Detect   []DetectRow   `json:"detect"`
	Fine     []FineRow     `json:"fine"`
	Mark     []UploadMark  `json:"mark"`
	NextFineID int64       `json:"next_fine_id"`
}

// SnapshotManager persists and loads snapshotData to/from a single file.
type SnapshotManager struct {
	path string
}

func newSnapshotManager(path string) *SnapshotManager {
	return &SnapshotManager{path: path}
}

// save writes data atomically: write to a temp file, then rename over the
// real path, so a crash mid-write never leaves a half-written snapshot.
func (m *SnapshotManager) save(data snapshotData) error {
	buf, err := json.Marshal(data)
	if err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}

// load reads the snapshot, returning a zero-value snapshotData (not an
// error) if no snapshot has ever been written.
func (m *SnapshotManager) load() (snapshotData, error) {
	var data snapshotData
	buf, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return data, nil
		}
		return data, err
	}
	if err := json.Unmarshal(buf, &data); err != nil {
		return data, err
	}
	return data, nil
}
