// local.go implements the filesystem archive backend.
package archive

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/propty-os/access-engine/internal/db/models"
)

// LocalStore writes batches under a base directory.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates the base directory if needed.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("archive base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

func (s *LocalStore) WriteBatch(_ context.Context, companyID, entityType string, logs []*models.ActivityLog) (string, error) {
	if len(logs) == 0 {
		return "", nil
	}

	data, err := encodeBatch(logs)
	if err != nil {
		return "", err
	}

	key := batchKey(companyID, entityType, time.Now())
	path := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create batch directory: %w", err)
	}

	// write-then-rename so export never observes a half-written batch
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write batch: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize batch: %w", err)
	}
	return key, nil
}

func (s *LocalStore) ReadAll(_ context.Context, companyID, entityType string) ([]*models.ActivityLog, error) {
	root := filepath.Join(s.basePath, companyID, entityType)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	var logs []*models.ActivityLog
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".ndjson") {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		batch, err := decodeBatch(f)
		if err != nil {
			return fmt.Errorf("batch %s: %w", path, err)
		}
		logs = append(logs, batch...)
		return nil
	})
	return logs, err
}

func (s *LocalStore) Purge(_ context.Context, companyID, entityType string, olderThan time.Time) error {
	root := filepath.Join(s.basePath, companyID, entityType)
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	cutoff := olderThan.Format(batchDateLayout)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		// date directories sort lexicographically in time order
		if entry.Name() < cutoff {
			if err := os.RemoveAll(filepath.Join(root, entry.Name())); err != nil {
				return fmt.Errorf("failed to purge batch directory %s: %w", entry.Name(), err)
			}
		}
	}
	return nil
}
