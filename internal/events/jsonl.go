package events

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// JSONLSink appends events to an append-only JSONL file, one JSON object per
// line. Best-effort: write failures are dropped so the verification pipeline
// never stalls on the audit trail.
type JSONLSink struct {
	path string
	mu   sync.Mutex
}

// NewJSONLSink creates a sink writing to path. The file is created lazily.
func NewJSONLSink(path string) *JSONLSink {
	return &JSONLSink{path: path}
}

// Publish implements Sink.
func (s *JSONLSink) Publish(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	data = append(data, '\n')
	f.Write(data)
}
