// Package history keeps an audit trail of workflow runs in a SQLite database.
package history

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/deploymenttheory/go-workflow-runner/internal/engine"
	"github.com/deploymenttheory/go-workflow-runner/internal/secrets"
	errors "github.com/deploymenttheory/go-workflow-runner/internal/utils/errors"
	"github.com/deploymenttheory/go-workflow-runner/internal/utils/fsutil"
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 20

// Run is one recorded workflow run.
type Run struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	RunID      string    `gorm:"type:text;uniqueIndex;not null"`
	Workflow   string    `gorm:"type:text;index;not null"`
	State      string    `gorm:"type:text;not null"`
	ExitCode   int       `gorm:"not null"`
	Error      string    `gorm:"type:text"`
	StartedAt  time.Time `gorm:"index"`
	FinishedAt time.Time
	Steps      []StepRun `gorm:"foreignKey:RunID;references:RunID;constraint:OnDelete:CASCADE"`
}

// StepRun is the recorded outcome of one step of a run.
type StepRun struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	RunID      string `gorm:"type:text;index;not null"`
	Position   int    `gorm:"not null"`
	Name       string `gorm:"type:text;not null"`
	State      string `gorm:"type:text;not null"`
	When       string `gorm:"type:text"`
	SkipReason string `gorm:"type:text"`
	ExitCode   int
	Error      string            `gorm:"type:text"`
	Outputs    map[string]string `gorm:"serializer:json"`
	StartedAt  time.Time
	FinishedAt time.Time
	DurationMs int64
}

// Duration is how long the run took.
func (r *Run) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store reads and writes run history.
type Store struct {
	db *gorm.DB

	// Masker, when set, hides secret values before anything is persisted.
	Masker *secrets.Masker
}

// Open opens or creates the database at path and migrates its schema.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := fsutil.CreateDirIfNotExists(filepath.Dir(path)); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.AutoMigrate(&Run{}, &StepRun{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record stores result and its steps in a single transaction.
func (s *Store) Record(ctx context.Context, result *engine.RunResult) error {
	if result == nil {
		return fmt.Errorf("%w: nil run result", errors.ErrInvalidArgument)
	}

	run := Run{
		RunID:      result.RunID,
		Workflow:   result.Workflow,
		State:      string(result.State),
		ExitCode:   result.ExitCode(),
		Error:      s.errorText(result.Err),
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
		Steps:      make([]StepRun, 0, len(result.Steps)),
	}
	for _, step := range result.Steps {
		run.Steps = append(run.Steps, StepRun{
			RunID:      result.RunID,
			Position:   step.Index,
			Name:       step.Name,
			State:      string(step.State),
			When:       string(step.When),
			SkipReason: step.SkipReason,
			ExitCode:   step.ExitCode,
			Error:      s.errorText(step.Err),
			Outputs:    s.outputs(step.Outputs),
			StartedAt:  step.StartedAt,
			FinishedAt: step.FinishedAt,
			DurationMs: step.Duration().Milliseconds(),
		})
	}

	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		return fmt.Errorf("failed to record run %s: %w", result.RunID, err)
	}
	return nil
}

// List returns the most recent runs, newest first. An empty workflow lists
// runs of every workflow.
func (s *Store) List(ctx context.Context, workflow string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := s.db.WithContext(ctx).Order("started_at DESC").Order("id DESC").Limit(limit)
	if workflow != "" {
		query = query.Where("workflow = ?", workflow)
	}

	var runs []Run
	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// Get returns a run together with its steps in execution order.
func (s *Store) Get(ctx context.Context, runID string) (*Run, error) {
	var run Run
	err := s.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("run_id = ?", runID).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", errors.ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return &run, nil
}

func (s *Store) errorText(err error) string {
	if err == nil {
		return ""
	}
	return s.Masker.Mask(err.Error())
}

// outputs drops the raw stdout and stderr copies, which are large and
// already summarised by log.
func (s *Store) outputs(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if k == "stdout" || k == "stderr" {
			continue
		}
		out[k] = s.Masker.Mask(v)
	}
	return out
}
