package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/slok/taskvisor/internal/journal"
	"github.com/slok/taskvisor/internal/journal/sqlite/migrations"
	"github.com/slok/taskvisor/internal/log"
	"github.com/slok/taskvisor/internal/model"
)

// JournalConfig is the configuration of the SQLite journal.
type JournalConfig struct {
	DBPath string
	Logger log.Logger
}

func (c *JournalConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "journal.SQLite"})
	return nil
}

// Journal is a SQLite implementation of journal.Journal.
type Journal struct {
	db     *sql.DB
	logger log.Logger
}

var _ journal.Journal = &Journal{}

// NewJournal opens the journal database, applying the schema migrations.
func NewJournal(ctx context.Context, cfg JournalConfig) (*Journal, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	schema, err := migrations.NewSchema(migrations.SchemaConfig{DB: db, Logger: cfg.Logger})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create journal schema: %w", err)
	}
	version, err := schema.Ensure()
	if err != nil {
		db.Close()
		return nil, err
	}

	cfg.Logger.Debugf("SQLite journal (schema v%d) initialized at %s", version, cfg.DBPath)

	return &Journal{db: db, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error { return j.db.Close() }

// BeginRun records a run and its pending steps in a single transaction.
func (j *Journal) BeginRun(ctx context.Context, phase model.Phase, name string, steps []model.Step) (*model.Run, error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Truncate(time.Second)
	run := &model.Run{
		ID:        ulid.Make().String(),
		Phase:     phase,
		Name:      name,
		CreatedAt: now,
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO runs (id, phase, name, created_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Phase, run.Name, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("could not insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO steps (id, run_id, sequence, service, name, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, '', ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("could not prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, s := range steps {
		step := model.Step{
			ID:        ulid.Make().String(),
			RunID:     run.ID,
			Sequence:  i + 1,
			Service:   s.Service,
			Name:      s.Name,
			Status:    model.StepStatusPending,
			CreatedAt: now,
		}
		_, err := stmt.ExecContext(ctx, step.ID, step.RunID, step.Sequence, step.Service, step.Name, step.Status, now.Unix())
		if err != nil {
			return nil, fmt.Errorf("could not insert step: %w", err)
		}
		run.Steps = append(run.Steps, step)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("could not commit transaction: %w", err)
	}

	j.logger.Debugf("Run %s of %s recorded with %d steps", run.ID, phase, len(steps))
	return run, nil
}

// CompleteStep marks a step as done.
func (j *Journal) CompleteStep(ctx context.Context, stepID string) error {
	if err := j.updateStep(ctx, stepID, model.StepStatusDone, ""); err != nil {
		return err
	}
	j.logger.Debugf("Completed step: %s", stepID)
	return nil
}

// FailStep marks a step as failed with an error message.
func (j *Journal) FailStep(ctx context.Context, stepID string, stepErr error) error {
	errMsg := ""
	if stepErr != nil {
		errMsg = stepErr.Error()
	}
	if err := j.updateStep(ctx, stepID, model.StepStatusFailed, errMsg); err != nil {
		return err
	}
	j.logger.Debugf("Failed step: %s (error: %s)", stepID, errMsg)
	return nil
}

func (j *Journal) updateStep(ctx context.Context, stepID string, status model.StepStatus, errMsg string) error {
	result, err := j.db.ExecContext(ctx, `UPDATE steps SET status = ?, error = ? WHERE id = ?`, status, errMsg, stepID)
	if err != nil {
		return fmt.Errorf("could not update step: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("step %s: %w", stepID, model.ErrNotFound)
	}

	return nil
}

// Progress returns the completion progress of a run.
func (j *Journal) Progress(ctx context.Context, runID string) (*model.RunProgress, error) {
	var exists int
	err := j.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, runID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", runID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query run: %w", err)
	}

	query := `
		SELECT
			COUNT(*) as total,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) as done,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) as failed
		FROM steps
		WHERE run_id = ?
	`
	var p model.RunProgress
	err = j.db.QueryRowContext(ctx, query, model.StepStatusDone, model.StepStatusFailed, runID).Scan(&p.Total, &p.Done, &p.Failed)
	if err != nil {
		return nil, fmt.Errorf("could not query progress: %w", err)
	}

	return &p, nil
}

// ListRuns returns the recorded runs with their steps.
func (j *Journal) ListRuns(ctx context.Context) ([]model.Run, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT r.id, r.phase, r.name, r.created_at,
			s.id, s.sequence, s.service, s.name, s.status, s.error, s.created_at
		FROM runs r
		LEFT JOIN steps s ON s.run_id = r.id
		ORDER BY r.id ASC, s.sequence ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("could not query runs: %w", err)
	}
	defer rows.Close()

	runs := []model.Run{}
	for rows.Next() {
		var (
			r             model.Run
			runCreatedAt  int64
			stepID        sql.NullString
			stepSequence  sql.NullInt64
			stepService   sql.NullString
			stepName      sql.NullString
			stepStatus    sql.NullString
			stepError     sql.NullString
			stepCreatedAt sql.NullInt64
		)
		err := rows.Scan(&r.ID, &r.Phase, &r.Name, &runCreatedAt,
			&stepID, &stepSequence, &stepService, &stepName, &stepStatus, &stepError, &stepCreatedAt)
		if err != nil {
			return nil, fmt.Errorf("could not scan run: %w", err)
		}

		if len(runs) == 0 || runs[len(runs)-1].ID != r.ID {
			r.CreatedAt = time.Unix(runCreatedAt, 0).UTC()
			runs = append(runs, r)
		}
		if !stepID.Valid {
			continue
		}

		last := &runs[len(runs)-1]
		last.Steps = append(last.Steps, model.Step{
			ID:        stepID.String,
			RunID:     r.ID,
			Sequence:  int(stepSequence.Int64),
			Service:   stepService.String,
			Name:      stepName.String,
			Status:    model.StepStatus(stepStatus.String),
			Error:     stepError.String,
			CreatedAt: time.Unix(stepCreatedAt.Int64, 0).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not iterate runs: %w", err)
	}

	return runs, nil
}
