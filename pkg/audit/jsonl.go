package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// JSONL appends incidents to a local file, one JSON object per line.
// The default sink: no external dependencies, greppable, log-rotation
// friendly.
type JSONL struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONL opens (or creates) the audit log at path in append mode.
func NewJSONL(path string) (*JSONL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return &JSONL{file: f, enc: json.NewEncoder(f)}, nil
}

// RecordSecurityIncident writes one line. Serialized by a mutex so concurrent
// incidents never interleave within a line.
func (j *JSONL) RecordSecurityIncident(ctx context.Context, inc Incident) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(inc); err != nil {
		return fmt.Errorf("audit: write incident: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
