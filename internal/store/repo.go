package store

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Repo struct {
	db *gorm.DB
}

// Options selects the database. Driver is "postgres" or "sqlite"; an empty
// DSN for postgres is assembled from the individual fields.
type Options struct {
	Driver   string
	DSN      string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

func (o Options) postgresDSN() string {
	if o.DSN != "" {
		return o.DSN
	}
	sslMode := o.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC", o.Host, o.User, o.Password, o.Name, o.Port, sslMode)
}

func Open(o Options) (*gorm.DB, error) {
	gormLogger := logger.New(
		log.New(os.Stdout, "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	cfg := &gorm.Config{DisableForeignKeyConstraintWhenMigrating: true, Logger: gormLogger}
	switch strings.ToLower(strings.TrimSpace(o.Driver)) {
	case "", "sqlite":
		dsn := o.DSN
		if dsn == "" {
			dsn = "file:beyflow.db?cache=shared"
		}
		return gorm.Open(sqlite.Open(dsn), cfg)
	case "postgres", "postgresql":
		return gorm.Open(postgres.New(postgres.Config{DSN: o.postgresDSN()}), cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", o.Driver)
	}
}

func New(db *gorm.DB) (*Repo, error) {
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &Repo{db: db}, nil
}

func ensureSchema(db *gorm.DB) error {
	m := db.Migrator()
	for _, t := range []struct {
		model any
		name  string
	}{
		{&Workflow{}, "workflows"},
		{&WorkflowRun{}, "workflow_runs"},
		{&WorkflowRunStep{}, "workflow_run_steps"},
	} {
		if m.HasTable(t.model) {
			continue
		}
		if err := m.CreateTable(t.model); err != nil {
			return fmt.Errorf("create table %s: %w", t.name, err)
		}
	}
	if !m.HasIndex(&WorkflowRun{}, "WorkflowID") {
		if err := m.CreateIndex(&WorkflowRun{}, "WorkflowID"); err != nil {
			return fmt.Errorf("create index workflow_runs.workflow_id: %w", err)
		}
	}
	if !m.HasIndex(&WorkflowRunStep{}, "RunID") {
		if err := m.CreateIndex(&WorkflowRunStep{}, "RunID"); err != nil {
			return fmt.Errorf("create index workflow_run_steps.run_id: %w", err)
		}
	}
	return nil
}

func (r *Repo) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	var rows []Workflow
	if err := r.db.WithContext(ctx).Order("created_at desc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repo) GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	var w Workflow
	if err := r.db.WithContext(ctx).First(&w, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *Repo) CreateWorkflow(ctx context.Context, w *Workflow) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(w).Error
}

func (r *Repo) UpdateWorkflow(ctx context.Context, w *Workflow) error {
	return r.db.WithContext(ctx).Save(w).Error
}

// DeleteWorkflow removes the workflow and its run history.
func (r *Repo) DeleteWorkflow(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var runIDs []uuid.UUID
		if err := tx.Model(&WorkflowRun{}).Where("workflow_id = ?", id).Pluck("id", &runIDs).Error; err != nil {
			return err
		}
		if len(runIDs) > 0 {
			if err := tx.Where("run_id IN ?", runIDs).Delete(&WorkflowRunStep{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("workflow_id = ?", id).Delete(&WorkflowRun{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&Workflow{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

func (r *Repo) SetWorkflowEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	res := r.db.WithContext(ctx).Model(&Workflow{}).Where("id = ?", id).Update("enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *Repo) CreateRun(ctx context.Context, run *WorkflowRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	return r.db.WithContext(ctx).Create(run).Error
}

// FinishRun records the terminal state of a run.
func (r *Repo) FinishRun(ctx context.Context, runID uuid.UUID, out RunOutcome) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":         out.Status,
		"finished_at":    &now,
		"error":          out.Error,
		"failed_node":    out.FailedNode,
		"nodes_executed": out.NodesExecuted,
		"duration_ms":    out.Duration.Milliseconds(),
	}
	if len(out.Result) > 0 {
		updates["result"] = out.Result
	}
	return r.db.WithContext(ctx).Model(&WorkflowRun{}).Where("id = ?", runID).Updates(updates).Error
}

func (r *Repo) CreateStep(ctx context.Context, step *WorkflowRunStep) error {
	if step.ID == uuid.Nil {
		step.ID = uuid.New()
	}
	if step.StartedAt.IsZero() {
		step.StartedAt = time.Now().UTC()
	}
	if step.Status == "" {
		step.Status = RunRunning
	}
	return r.db.WithContext(ctx).Create(step).Error
}

func (r *Repo) FinishStep(ctx context.Context, stepID uuid.UUID, out StepOutcome) error {
	now := time.Now().UTC()
	updates := map[string]any{"status": out.Status, "finished_at": &now, "error": out.Error, "duration_ms": out.Duration.Milliseconds()}
	if len(out.Output) > 0 {
		updates["output"] = out.Output
	}
	return r.db.WithContext(ctx).Model(&WorkflowRunStep{}).Where("id = ?", stepID).Updates(updates).Error
}

func (r *Repo) ListRuns(ctx context.Context, workflowID uuid.UUID, limit int) ([]WorkflowRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []WorkflowRun
	q := r.db.WithContext(ctx).Where("workflow_id = ?", workflowID).Order("started_at desc").Limit(limit)
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repo) GetRunWithSteps(ctx context.Context, runID uuid.UUID) (*WorkflowRun, []WorkflowRunStep, error) {
	var run WorkflowRun
	if err := r.db.WithContext(ctx).First(&run, "id = ?", runID).Error; err != nil {
		return nil, nil, err
	}
	var steps []WorkflowRunStep
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("started_at asc").Find(&steps).Error; err != nil {
		return &run, nil, err
	}
	return &run, steps, nil
}

// PruneRuns deletes finished runs (and their steps) that ended before cutoff.
func (r *Repo) PruneRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var runIDs []uuid.UUID
		if err := tx.Model(&WorkflowRun{}).Where("finished_at IS NOT NULL AND finished_at < ?", cutoff).Pluck("id", &runIDs).Error; err != nil {
			return err
		}
		if len(runIDs) == 0 {
			return nil
		}
		if err := tx.Where("run_id IN ?", runIDs).Delete(&WorkflowRunStep{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", runIDs).Delete(&WorkflowRun{})
		deleted = res.RowsAffected
		return res.Error
	})
	return deleted, err
}
