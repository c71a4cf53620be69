package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"conductor/internal/agent/ports"
	"conductor/internal/logging"
)

// FileStore persists engine records as JSON lines, one file per record kind.
// Appends are serialized; queries scan the relevant file. Implements
// ports.Store.
type FileStore struct {
	baseDir string
	logger  logging.Logger

	mu sync.Mutex
}

// NewFileStore opens (or creates) the store directory.
func NewFileStore(baseDir string, logger logging.Logger) (*FileStore, error) {
	if strings.HasPrefix(baseDir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		baseDir = filepath.Join(home, baseDir[2:])
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{
		baseDir: baseDir,
		logger:  logging.OrNop(logger),
	}, nil
}

// Persist appends one record to the kind's JSON-lines file.
func (s *FileStore) Persist(_ context.Context, kind ports.RecordKind, payload map[string]any) error {
	record := ports.StoredRecord{
		Kind:      kind,
		CreatedAt: time.Now(),
		Payload:   payload,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", kind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path(kind), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s log: %w", kind, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append %s record: %w", kind, err)
	}
	return nil
}

// Query scans records matching the filter, oldest first. An empty filter kind
// scans every kind file.
func (s *FileStore) Query(_ context.Context, filter ports.RecordFilter) ([]ports.StoredRecord, error) {
	kinds := []ports.RecordKind{filter.Kind}
	if filter.Kind == "" {
		kinds = []ports.RecordKind{
			ports.RecordKindToolExecution,
			ports.RecordKindReasoningStep,
			ports.RecordKindExecution,
			ports.RecordKindReport,
		}
	}

	var out []ports.StoredRecord
	for _, kind := range kinds {
		records, err := s.scan(kind, filter)
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			return out[:filter.Limit], nil
		}
	}
	return out, nil
}

func (s *FileStore) scan(kind ports.RecordKind, filter ports.RecordFilter) ([]ports.StoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path(kind))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s log: %w", kind, err)
	}
	defer f.Close()

	var out []ports.StoredRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record ports.StoredRecord
		if err := json.Unmarshal(line, &record); err != nil {
			// One corrupt line must not poison the whole log.
			s.logger.Warn("skipping corrupt %s record: %v", kind, err)
			continue
		}
		if !matches(record, filter) {
			continue
		}
		out = append(out, record)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s log: %w", kind, err)
	}
	return out, nil
}

func matches(record ports.StoredRecord, filter ports.RecordFilter) bool {
	if !filter.Since.IsZero() && record.CreatedAt.Before(filter.Since) {
		return false
	}
	if filter.WorkflowID != "" {
		if v, _ := record.Payload["workflow_id"].(string); v != filter.WorkflowID {
			return false
		}
	}
	if filter.TaskID != "" {
		if v, _ := record.Payload["task_id"].(string); v != filter.TaskID {
			return false
		}
	}
	return true
}

func (s *FileStore) path(kind ports.RecordKind) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%s.jsonl", kind))
}
