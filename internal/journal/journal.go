// Package journal keeps a sqlite history of the jobs a worker has resolved.
package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/san-kum/stepd/internal/dispatch"
	"github.com/san-kum/stepd/internal/worker"
)

type Status string

const (
	StatusRunning Status = "running"
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusPartial Status = "partial"
)

var ErrNotFound = errors.New("journal: entry not found")

// Entry is one job. Results and Failures are only non-zero for sweeps.
type Entry struct {
	ID         string    `gorm:"primaryKey;size:36"`
	RequestID  string    `gorm:"size:255"`
	Unit       string    `gorm:"index;size:255"`
	Mode       string    `gorm:"size:20"`
	Status     Status    `gorm:"index;size:20;default:'running'"`
	Error      string    `gorm:"type:text"`
	Events     int       `gorm:"default:0"`
	Results    int       `gorm:"default:0"`
	Failures   int       `gorm:"default:0"`
	StartedAt  time.Time `gorm:"index"`
	DurationMs int64
}

// Journal implements worker.Observer on top of gorm.
type Journal struct {
	db *gorm.DB

	mu     sync.Mutex
	events map[string]int
}

var _ worker.Observer = (*Journal)(nil)

func New(db *gorm.DB) *Journal {
	return &Journal{db: db, events: make(map[string]int)}
}

// Open opens (or creates) the sqlite database at path and migrates it.
func Open(ctx context.Context, path string) (*Journal, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	j := New(db)
	if err := j.Migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return j, nil
}

func (j *Journal) Migrate(ctx context.Context) error {
	return j.db.WithContext(ctx).AutoMigrate(&Entry{})
}

func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (j *Journal) JobStarted(ctx context.Context, job worker.Job) error {
	j.mu.Lock()
	j.events[job.ID] = 0
	j.mu.Unlock()

	return j.db.WithContext(ctx).Create(&Entry{
		ID:        job.ID,
		RequestID: job.RequestID,
		Unit:      job.Script,
		Status:    StatusRunning,
		StartedAt: job.StartedAt,
	}).Error
}

// Dynamics only counts; the total is written when the job finishes.
func (j *Journal) Dynamics(ctx context.Context, job worker.Job, data any) error {
	j.mu.Lock()
	j.events[job.ID]++
	j.mu.Unlock()
	return nil
}

func (j *Journal) JobFinished(ctx context.Context, job worker.Job, out dispatch.Outcome, elapsed time.Duration) error {
	j.mu.Lock()
	events := j.events[job.ID]
	delete(j.events, job.ID)
	j.mu.Unlock()

	status := StatusOK
	switch {
	case out.Failed():
		status = StatusFailed
	case out.Failures > 0:
		status = StatusPartial
	}

	updates := map[string]any{
		"mode":        out.Mode.String(),
		"status":      string(status),
		"events":      events,
		"results":     out.Results,
		"failures":    out.Failures,
		"duration_ms": elapsed.Milliseconds(),
	}
	if out.Unit != "" {
		updates["unit"] = out.Unit
	}
	if out.Err != nil {
		updates["error"] = out.Err.Error()
	}

	result := j.db.WithContext(ctx).Model(&Entry{}).Where("id = ?", job.ID).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, job.ID)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	var entries []Entry
	q := j.db.WithContext(ctx).Order("started_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (j *Journal) Get(ctx context.Context, id string) (*Entry, error) {
	var entry Entry
	err := j.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
