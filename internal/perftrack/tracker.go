// Package perftrack implements C10, the performance tracker: an
// append-only NDJSON log of models.DiffMetric plus windowed reporting.
// Grounded on the teacher's internal/diagnostics/cache_trace.go
// (CacheTrace/CacheTraceWriter): a mutex-guarded single writer
// appending one JSON object per line to an *os.File.
package perftrack

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/forgehq/forge/internal/models"
)

// Tracker satisfies patch.MetricsRecorder (Record(models.DiffMetric))
// and additionally offers Query/Report per spec.md §4.10.
type Tracker struct {
	mu     sync.Mutex
	path   string
	file   *os.File
}

// Open appends to (creating if absent) the NDJSON log at path.
func Open(path string) (*Tracker, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("perftrack: open %s: %w", path, err)
	}
	return &Tracker{path: path, file: f}, nil
}

// Record appends one DiffMetric as a single JSON line. Writes are
// serialized by the tracker's mutex, matching spec.md §5's
// "Performance log: single writer mutex." A marshal or write failure
// is swallowed after logging to stderr: losing one metric must never
// abort the patch invocation that produced it.
func (t *Tracker) Record(metric models.DiffMetric) {
	line, err := json.Marshal(metric)
	if err != nil {
		fmt.Fprintf(os.Stderr, "perftrack: encode metric: %v\n", err)
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.file.Write(append(line, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "perftrack: write metric: %v\n", err)
	}
}

// Close releases the underlying file handle.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}

// Query scans the log and returns up to max records with Timestamp >=
// since (the zero Time matches everything), most recent last. It reads
// the whole file; for the Report's "scan the tail" contract that's
// adequate at the sizes a single-process NDJSON log reaches.
func (t *Tracker) Query(since time.Time, max int) ([]models.DiffMetric, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.file.Sync(); err != nil {
		return nil, fmt.Errorf("perftrack: sync before read: %w", err)
	}
	f, err := os.Open(t.path)
	if err != nil {
		return nil, fmt.Errorf("perftrack: open for read: %w", err)
	}
	defer f.Close()

	var all []models.DiffMetric
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var m models.DiffMetric
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			continue // a partially-written last line from a crash is skipped, not fatal.
		}
		if !since.IsZero() && m.Timestamp.Before(since) {
			continue
		}
		all = append(all, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("perftrack: scan: %w", err)
	}

	if max > 0 && len(all) > max {
		all = all[len(all)-max:]
	}
	return all, nil
}
