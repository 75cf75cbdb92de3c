package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Marker is the resumable checkpoint written when the pool stops early
// (credit exhaustion, breaker halt). The state store already holds every
// file's position; the marker only records why ingestion stopped so the
// operator and the next run can tell a pause from a finished batch.
type Marker struct {
	WrittenAt time.Time `json:"written_at"`
	Reason    string    `json:"reason"`
	Completed int       `json:"completed"`
	Remaining int       `json:"remaining"`
	NextPath  string    `json:"next_path,omitempty"`
}

// WriteMarker persists the marker atomically (write to temp, rename).
func WriteMarker(path string, m Marker) error {
	buf, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("write marker: marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write marker: rename: %w", err)
	}
	return nil
}

// ReadMarker loads a marker if one exists. Returns (nil, nil) when absent.
func ReadMarker(path string) (*Marker, error) {
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read marker: %w", err)
	}
	var m Marker
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, fmt.Errorf("read marker: unmarshal: %w", err)
	}
	return &m, nil
}

// ClearMarker removes a marker. Missing is not an error.
func ClearMarker(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear marker: %w", err)
	}
	return nil
}
