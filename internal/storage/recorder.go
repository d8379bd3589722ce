package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/san-kum/stepd/internal/dispatch"
	"github.com/san-kum/stepd/internal/worker"
)

// Recorder is a worker.Observer that writes every job with at least one
// dynamics event to the store. Jobs without events leave nothing on disk.
type Recorder struct {
	store  *Store
	logger *slog.Logger

	mu     sync.Mutex
	traces map[string]*trace
}

var _ worker.Observer = (*Recorder)(nil)

type trace struct {
	meta RunMetadata
	file *os.File
	csv  *csv.Writer
}

type RecorderOption func(*Recorder)

func WithLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger
	}
}

func NewRecorder(store *Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{store: store, logger: slog.Default(), traces: make(map[string]*trace)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) JobStarted(ctx context.Context, job worker.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces[job.ID] = &trace{meta: RunMetadata{
		ID:        runID(job),
		JobID:     job.ID,
		RequestID: job.RequestID,
		Unit:      job.Script,
		Timestamp: job.StartedAt,
	}}
	return nil
}

func (r *Recorder) Dynamics(ctx context.Context, job worker.Job, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tr, ok := r.traces[job.ID]
	if !ok {
		return nil
	}
	if tr.csv == nil {
		if err := r.open(tr, data); err != nil {
			delete(r.traces, job.ID)
			return fmt.Errorf("storage: open trace %s: %w", tr.meta.ID, err)
		}
	}

	fields, _ := data.(map[string]any)
	row := make([]string, len(tr.meta.Columns))
	for i, col := range tr.meta.Columns {
		if v, ok := scalar(fields[col]); ok {
			row[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
	}
	tr.meta.Events++
	return tr.csv.Write(row)
}

func (r *Recorder) JobFinished(ctx context.Context, job worker.Job, out dispatch.Outcome, elapsed time.Duration) error {
	r.mu.Lock()
	tr, ok := r.traces[job.ID]
	delete(r.traces, job.ID)
	r.mu.Unlock()

	if !ok || tr.csv == nil {
		return nil
	}

	tr.csv.Flush()
	err := tr.csv.Error()
	if cerr := tr.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("storage: write trace %s: %w", tr.meta.ID, err)
	}

	tr.meta.Mode = out.Mode.String()
	if out.Unit != "" {
		tr.meta.Unit = out.Unit
	}
	tr.meta.Status = "ok"
	if out.Failed() {
		tr.meta.Status = "failed"
		if out.Err != nil {
			tr.meta.Error = out.Err.Error()
		}
	}
	if err := r.store.writeMetadata(&tr.meta); err != nil {
		return fmt.Errorf("storage: write metadata %s: %w", tr.meta.ID, err)
	}

	r.logger.Debug("trace recorded", "run_id", tr.meta.ID, "events", tr.meta.Events)
	return nil
}

// open creates the run directory and writes the CSV header. Columns are t
// followed by the sorted numeric scalar keys of the first event.
func (r *Recorder) open(tr *trace, first any) error {
	dir := filepath.Join(r.store.baseDir, tr.meta.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dir, seriesFile))
	if err != nil {
		return err
	}

	cols := []string{"t"}
	if fields, ok := first.(map[string]any); ok {
		keys := make([]string, 0, len(fields))
		for k, v := range fields {
			if _, ok := scalar(v); ok && k != "t" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		cols = append(cols, keys...)
	}

	w := csv.NewWriter(f)
	if err := w.Write(cols); err != nil {
		f.Close()
		return err
	}
	tr.meta.Columns = cols
	tr.file = f
	tr.csv = w
	return nil
}

func scalar(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}

func runID(job worker.Job) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, job.Script)
	if name == "" {
		name = "job"
	}
	id := job.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s_%s_%s", name, job.StartedAt.Format("20060102T150405"), id)
}
