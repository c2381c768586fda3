package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/clipy/download-manager/internal/domain"
)

// Checkpoint persists the task set to a JSON file so a restart can pick up
// where the previous process left off. Writes go through a temp file and
// rename so a crash mid-write never corrupts the previous checkpoint.
type Checkpoint struct {
	path string
}

// NewCheckpoint creates a checkpoint bound to the given file path.
func NewCheckpoint(path string) *Checkpoint {
	return &Checkpoint{path: filepath.Clean(path)}
}

// Save writes the given tasks to the checkpoint file.
func (c *Checkpoint) Save(tasks []domain.DownloadTask) error {
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// Load reads the checkpoint file. A missing or empty file yields no tasks.
func (c *Checkpoint) Load() ([]domain.DownloadTask, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var tasks []domain.DownloadTask
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return tasks, nil
}
