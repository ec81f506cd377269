// Package archive stores activity-log batches that the retention job has moved
// out of the online table. Batches are newline-delimited JSON under
// {company}/{entityType}/{date}/{batch}.ndjson so export can still read them
// until the hard-delete threshold purges the prefix.
//
// Two backends exist: local disk for single-node deployments and anything
// S3-compatible for everything else.
package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/propty-os/access-engine/internal/config"
	"github.com/propty-os/access-engine/internal/db/models"
)

// Store is the archive backend contract.
type Store interface {
	// WriteBatch persists one batch and returns its storage key.
	WriteBatch(ctx context.Context, companyID, entityType string, logs []*models.ActivityLog) (string, error)

	// ReadAll streams back every archived event for one company/entity type.
	ReadAll(ctx context.Context, companyID, entityType string) ([]*models.ActivityLog, error)

	// Purge removes batches whose batch date is older than the cutoff.
	Purge(ctx context.Context, companyID, entityType string, olderThan time.Time) error
}

// New builds the configured backend.
func New(cfg config.ArchiveConfig) (Store, error) {
	switch cfg.Backend {
	case "local", "":
		return NewLocalStore(cfg.Local.BasePath)
	case "s3":
		return NewS3Store(cfg.S3)
	}
	return nil, fmt.Errorf("unsupported archive backend: %s", cfg.Backend)
}

const batchDateLayout = "2006-01-02"

// batchKey yields {company}/{entityType}/{date}/{uuid}.ndjson.
func batchKey(companyID, entityType string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%s/%s.ndjson",
		companyID, entityType, at.Format(batchDateLayout), uuid.New().String())
}

// batchDate parses the date segment out of a batch key; zero time when the
// key does not follow the layout.
func batchDate(key, companyID, entityType string) time.Time {
	prefix := companyID + "/" + entityType + "/"
	if len(key) < len(prefix)+len(batchDateLayout) || key[:len(prefix)] != prefix {
		return time.Time{}
	}
	t, err := time.Parse(batchDateLayout, key[len(prefix):len(prefix)+len(batchDateLayout)])
	if err != nil {
		return time.Time{}
	}
	return t
}

// encodeBatch renders logs as newline-delimited JSON.
func encodeBatch(logs []*models.ActivityLog) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range logs {
		if err := enc.Encode(ev); err != nil {
			return nil, fmt.Errorf("failed to encode batch: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// decodeBatch parses a newline-delimited JSON stream back into events.
func decodeBatch(r io.Reader) ([]*models.ActivityLog, error) {
	var logs []*models.ActivityLog
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var ev models.ActivityLog
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode archived event: %w", err)
		}
		logs = append(logs, &ev)
	}
	return logs, scanner.Err()
}
