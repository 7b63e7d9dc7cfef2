package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/maestroproj/maestro/pkg/config"
	"github.com/maestroproj/maestro/pkg/models"
)

// sweepEvery bounds how often the retention sweep lists the directory.
const sweepEvery = 32

// Writer persists query log records, one JSON file per request, named by
// timestamp and query ID. Each file is written to a temp path and renamed
// into place so readers never see a partial record.
type Writer struct {
	dir      string
	maxFiles int

	queue   chan *models.QueryLogRecord
	done    chan struct{}
	dropped atomic.Int64
	writes  int
}

// NewWriter creates the log directory and starts the background drain.
func NewWriter(cfg config.AuditSettings) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("audit directory not configured")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = config.DefaultAuditQueueSize
	}
	w := &Writer{
		dir:      cfg.Dir,
		maxFiles: cfg.MaxFiles,
		queue:    make(chan *models.QueryLogRecord, queueSize),
		done:     make(chan struct{}),
	}
	go w.drain()
	return w, nil
}

// Write enqueues a record without blocking. When the queue is full the
// record is dropped; the drop is logged and counted, never silent.
func (w *Writer) Write(rec *models.QueryLogRecord) {
	rec.UserQuery = Redact(rec.UserQuery)
	for i := range rec.AgentInteractions {
		rec.AgentInteractions[i].Input = Redact(rec.AgentInteractions[i].Input)
	}

	select {
	case w.queue <- rec:
	default:
		n := w.dropped.Add(1)
		slog.Warn("Audit queue full, dropping query log record",
			"query_id", rec.QueryID, "dropped_total", n)
	}
}

// Dropped returns the number of records dropped since start.
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

// Close stops accepting records and drains the queue, bounded by ctx.
func (w *Writer) Close(ctx context.Context) error {
	close(w.queue)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) drain() {
	defer close(w.done)
	for rec := range w.queue {
		if err := w.writeOne(rec); err != nil {
			slog.Error("Failed to write query log record",
				"query_id", rec.QueryID, "error", err)
		}
	}
}

// writeOne materializes a record to <timestamp>_<query_id>.json via a
// temp file and rename.
func (w *Writer) writeOne(rec *models.QueryLogRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	name := fmt.Sprintf("%s_%s.json",
		rec.Timestamp.UTC().Format("20060102T150405.000"), rec.QueryID)
	final := filepath.Join(w.dir, name)

	tmp, err := os.CreateTemp(w.dir, ".tmp-querylog-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to publish record: %w", err)
	}

	w.writes++
	if w.maxFiles > 0 && w.writes%sweepEvery == 0 {
		w.sweep()
	}
	return nil
}

// sweep removes the oldest records past the retention cap. File names
// start with the timestamp, so lexical order is age order.
func (w *Writer) sweep() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		slog.Warn("Audit retention sweep failed", "error", err)
		return
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	if len(names) <= w.maxFiles {
		return
	}

	sort.Strings(names)
	for _, name := range names[:len(names)-w.maxFiles] {
		if err := os.Remove(filepath.Join(w.dir, name)); err != nil {
			slog.Warn("Failed to remove expired query log", "file", name, "error", err)
		}
	}
	slog.Debug("Audit retention sweep complete",
		"removed", len(names)-w.maxFiles, "kept", w.maxFiles)
}

// NewRecord seeds a record with identity and timestamp.
func NewRecord(queryID, userID string, echo map[string]any, now time.Time) *models.QueryLogRecord {
	return &models.QueryLogRecord{
		QueryID:   queryID,
		Timestamp: now,
		UserID:    userID,
		UserQuery: echo,
	}
}
