package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS runs (
    id BIGSERIAL PRIMARY KEY,
    uid TEXT NOT NULL UNIQUE,
    parent_uid TEXT,
    agent_name TEXT NOT NULL,
    agent_path TEXT,
    model TEXT,
    label TEXT,
    concurrency INTEGER NOT NULL DEFAULT 1,
    total_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
    ctime TIMESTAMPTZ NOT NULL,
    mtime TIMESTAMPTZ NOT NULL,
    start TIMESTAMPTZ,
    ba_start TIMESTAMPTZ,
    ba_end TIMESTAMPTZ,
    tasks_start TIMESTAMPTZ,
    tasks_end TIMESTAMPTZ,
    aa_start TIMESTAMPTZ,
    aa_end TIMESTAMPTZ,
    "end" TIMESTAMPTZ,
    end_state TEXT,
    end_err_id TEXT
);

CREATE TABLE IF NOT EXISTS tasks (
    id BIGSERIAL PRIMARY KEY,
    uid TEXT NOT NULL UNIQUE,
    run_id BIGINT NOT NULL REFERENCES runs(id),
    idx INTEGER NOT NULL,
    label TEXT,
    model_ov TEXT,
    input_content TEXT,
    output_content TEXT,
    tk_prompt_total BIGINT NOT NULL DEFAULT 0,
    tk_prompt_cached BIGINT NOT NULL DEFAULT 0,
    tk_prompt_cache_creation BIGINT NOT NULL DEFAULT 0,
    tk_completion_total BIGINT NOT NULL DEFAULT 0,
    tk_completion_reasoning BIGINT NOT NULL DEFAULT 0,
    cost DOUBLE PRECISION NOT NULL DEFAULT 0,
    ctime TIMESTAMPTZ NOT NULL,
    mtime TIMESTAMPTZ NOT NULL,
    start TIMESTAMPTZ,
    data_start TIMESTAMPTZ,
    data_end TIMESTAMPTZ,
    ai_start TIMESTAMPTZ,
    ai_end TIMESTAMPTZ,
    output_start TIMESTAMPTZ,
    output_end TIMESTAMPTZ,
    "end" TIMESTAMPTZ,
    end_state TEXT,
    end_err_id TEXT,
    end_skip_reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_run ON tasks(run_id);

CREATE TABLE IF NOT EXISTS run_steps (
    id BIGSERIAL PRIMARY KEY,
    run_id BIGINT NOT NULL REFERENCES runs(id),
    task_id BIGINT REFERENCES tasks(id),
    stage TEXT NOT NULL,
    step TEXT NOT NULL,
    message TEXT,
    ctime TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_steps_run ON run_steps(run_id);

CREATE TABLE IF NOT EXISTS pins (
    id BIGSERIAL PRIMARY KEY,
    run_id BIGINT NOT NULL REFERENCES runs(id),
    task_id BIGINT NOT NULL DEFAULT 0,
    iden TEXT NOT NULL,
    priority DOUBLE PRECISION NOT NULL DEFAULT 0,
    content TEXT,
    ctime TIMESTAMPTZ NOT NULL,
    mtime TIMESTAMPTZ NOT NULL,
    UNIQUE(run_id, task_id, iden)
);

CREATE TABLE IF NOT EXISTS err_records (
    id TEXT PRIMARY KEY,
    run_id BIGINT REFERENCES runs(id),
    task_id BIGINT REFERENCES tasks(id),
    stage TEXT,
    content TEXT NOT NULL,
    ctime TIMESTAMPTZ NOT NULL
);
`

// NewPostgresTracker connects a tracker to the Postgres database described by
// dsn. Meant for shared deployments where several machines inspect the same
// run history; semantics are identical to the SQLite tracker.
func NewPostgresTracker(dsn string) (*PostgresTracker, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if _, err := pool.Exec(context.Background(), pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &PostgresTracker{pool: pool}, nil
}

// PostgresTracker implements Tracker on a pgx connection pool.
type PostgresTracker struct {
	pool *pgxpool.Pool
}

func (t *PostgresTracker) Close() error {
	t.pool.Close()
	return nil
}

// =============================================================================
// Run lifecycle
// =============================================================================

func (t *PostgresTracker) CreateRun(nr NewRun) (*Run, error) {
	now := time.Now()
	uid := uuid.NewString()
	concurrency := nr.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	var id int64
	err := t.pool.QueryRow(context.Background(),
		`INSERT INTO runs (uid, parent_uid, agent_name, agent_path, model, label, concurrency, ctime, mtime)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		uid, nr.ParentUID, nr.AgentName, nr.AgentPath, nr.Model, nr.Label, concurrency, now, now,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return &Run{
		ID:          id,
		UID:         uid,
		ParentUID:   nr.ParentUID,
		AgentName:   nr.AgentName,
		AgentPath:   nr.AgentPath,
		Model:       nr.Model,
		Label:       nr.Label,
		Concurrency: concurrency,
		CTime:       now,
		MTime:       now,
	}, nil
}

func (t *PostgresTracker) StepRunStart(runID int64) error {
	return t.stepRun(runID, "start", StageRun, "run_start", "Run started")
}

func (t *PostgresTracker) StepRunBAStart(runID int64) error {
	return t.stepRun(runID, "ba_start", StageBeforeAll, "ba_start", "Before All started")
}

func (t *PostgresTracker) StepRunBAEnd(runID int64) error {
	return t.stepRun(runID, "ba_end", StageBeforeAll, "ba_end", "Before All ended")
}

func (t *PostgresTracker) StepRunTasksStart(runID int64) error {
	return t.stepRun(runID, "tasks_start", StageRun, "tasks_start", "Tasks started")
}

func (t *PostgresTracker) StepRunTasksEnd(runID int64) error {
	return t.stepRun(runID, "tasks_end", StageRun, "tasks_end", "Tasks ended")
}

func (t *PostgresTracker) StepRunAAStart(runID int64) error {
	return t.stepRun(runID, "aa_start", StageAfterAll, "aa_start", "After All started")
}

func (t *PostgresTracker) StepRunAAEnd(runID int64) error {
	return t.stepRun(runID, "aa_end", StageAfterAll, "aa_end", "After All ended")
}

func (t *PostgresTracker) StepRunEndOk(runID int64) error {
	ctx := context.Background()
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	if _, err := tx.Exec(ctx,
		`UPDATE runs SET end_state = $1 WHERE id = $2 AND end_state IS NULL`,
		EndStateOk, runID,
	); err != nil {
		return fmt.Errorf("run end ok: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE runs SET "end" = $1, mtime = $2 WHERE id = $3`, now, now, runID); err != nil {
		return fmt.Errorf("run end ok: %w", err)
	}
	if err := pgAppendStep(ctx, tx, runID, nil, StageRun, "run_end_ok", "Run ended Ok", now); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (t *PostgresTracker) StepRunEndErr(runID int64, stage Stage, errContent string) (string, error) {
	ctx := context.Background()
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	errID := uuid.NewString()
	tag, err := tx.Exec(ctx,
		`UPDATE runs SET end_state = $1, end_err_id = $2 WHERE id = $3 AND end_state IS NULL`,
		EndStateErr, errID, runID,
	)
	if err != nil {
		return "", fmt.Errorf("run end err: %w", err)
	}
	if tag.RowsAffected() > 0 {
		if _, err := tx.Exec(ctx,
			`INSERT INTO err_records (id, run_id, stage, content, ctime) VALUES ($1, $2, $3, $4, $5)`,
			errID, runID, stage, errContent, now,
		); err != nil {
			return "", fmt.Errorf("run err record: %w", err)
		}
	} else {
		errID = ""
	}
	if _, err := tx.Exec(ctx, `UPDATE runs SET "end" = $1, mtime = $2 WHERE id = $3`, now, now, runID); err != nil {
		return "", fmt.Errorf("run end err: %w", err)
	}
	if err := pgAppendStep(ctx, tx, runID, nil, stage, "run_end_err", errContent, now); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return errID, nil
}

func (t *PostgresTracker) SetRunModel(runID int64, model string) error {
	_, err := t.pool.Exec(context.Background(),
		`UPDATE runs SET model = $1, mtime = $2 WHERE id = $3`, model, time.Now(), runID)
	return err
}

func (t *PostgresTracker) AddRunCost(runID int64, delta float64) error {
	_, err := t.pool.Exec(context.Background(),
		`UPDATE runs SET total_cost = total_cost + $1, mtime = $2 WHERE id = $3`,
		delta, time.Now(), runID,
	)
	return err
}

// =============================================================================
// Task lifecycle
// =============================================================================

func (t *PostgresTracker) CreateTask(nt NewTask) (*Task, error) {
	now := time.Now()
	uid := uuid.NewString()
	var id int64
	err := t.pool.QueryRow(context.Background(),
		`INSERT INTO tasks (uid, run_id, idx, label, input_content, ctime, mtime)
         VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		uid, nt.RunID, nt.Idx, nt.Label, nt.InputContent, now, now,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return &Task{
		ID:           id,
		UID:          uid,
		RunID:        nt.RunID,
		Idx:          nt.Idx,
		Label:        nt.Label,
		InputContent: nt.InputContent,
		CTime:        now,
		MTime:        now,
	}, nil
}

func (t *PostgresTracker) StepTaskStart(taskID int64) error {
	return t.stepTask(taskID, "start", StageRun, "task_start", "Task started")
}

func (t *PostgresTracker) StepTaskDataStart(taskID int64) error {
	return t.stepTask(taskID, "data_start", StageData, "data_start", "Data stage started")
}

func (t *PostgresTracker) StepTaskDataEnd(taskID int64) error {
	return t.stepTask(taskID, "data_end", StageData, "data_end", "Data stage ended")
}

func (t *PostgresTracker) StepTaskAiStart(taskID int64) error {
	return t.stepTask(taskID, "ai_start", StageAi, "ai_start", "Ai stage started")
}

func (t *PostgresTracker) StepTaskAiEnd(taskID int64) error {
	return t.stepTask(taskID, "ai_end", StageAi, "ai_end", "Ai stage ended")
}

func (t *PostgresTracker) StepTaskOutputStart(taskID int64) error {
	return t.stepTask(taskID, "output_start", StageOutput, "output_start", "Output stage started")
}

func (t *PostgresTracker) StepTaskOutputEnd(taskID int64) error {
	return t.stepTask(taskID, "output_end", StageOutput, "output_end", "Output stage ended")
}

func (t *PostgresTracker) StepTaskEndOk(taskID int64) error {
	ctx := context.Background()
	runID, err := t.taskRunID(ctx, taskID)
	if err != nil {
		return err
	}
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET end_state = $1 WHERE id = $2 AND end_state IS NULL`,
		EndStateOk, taskID,
	); err != nil {
		return fmt.Errorf("task end ok: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE tasks SET "end" = $1, mtime = $2 WHERE id = $3`, now, now, taskID); err != nil {
		return fmt.Errorf("task end ok: %w", err)
	}
	if err := pgAppendStep(ctx, tx, runID, &taskID, StageRun, "task_end_ok", "Task ended Ok", now); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (t *PostgresTracker) StepTaskEndErr(taskID int64, stage Stage, errContent string) (string, error) {
	ctx := context.Background()
	runID, err := t.taskRunID(ctx, taskID)
	if err != nil {
		return "", err
	}
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	errID := uuid.NewString()
	tag, err := tx.Exec(ctx,
		`UPDATE tasks SET end_state = $1, end_err_id = $2 WHERE id = $3 AND end_state IS NULL`,
		EndStateErr, errID, taskID,
	)
	if err != nil {
		return "", fmt.Errorf("task end err: %w", err)
	}
	if tag.RowsAffected() > 0 {
		if _, err := tx.Exec(ctx,
			`INSERT INTO err_records (id, run_id, task_id, stage, content, ctime) VALUES ($1, $2, $3, $4, $5, $6)`,
			errID, runID, taskID, stage, errContent, now,
		); err != nil {
			return "", fmt.Errorf("task err record: %w", err)
		}
	} else {
		errID = ""
	}
	if _, err := tx.Exec(ctx, `UPDATE tasks SET "end" = $1, mtime = $2 WHERE id = $3`, now, now, taskID); err != nil {
		return "", fmt.Errorf("task end err: %w", err)
	}
	if err := pgAppendStep(ctx, tx, runID, &taskID, stage, "task_end_err", errContent, now); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return errID, nil
}

func (t *PostgresTracker) StepTaskEndSkip(taskID int64, idx int, reason string) error {
	ctx := context.Background()
	runID, err := t.taskRunID(ctx, taskID)
	if err != nil {
		return err
	}
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET end_state = $1, end_skip_reason = $2 WHERE id = $3 AND end_state IS NULL`,
		EndStateSkip, reason, taskID,
	); err != nil {
		return fmt.Errorf("task end skip: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE tasks SET "end" = $1, mtime = $2 WHERE id = $3`, now, now, taskID); err != nil {
		return fmt.Errorf("task end skip: %w", err)
	}
	msg := fmt.Sprintf("Task skipped (input index: %d)", idx)
	if reason != "" {
		msg = fmt.Sprintf("Task skipped (input index: %d): %s", idx, reason)
	}
	if err := pgAppendStep(ctx, tx, runID, &taskID, StageData, "task_end_skip", msg, now); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (t *PostgresTracker) SetTaskModelOv(taskID int64, model string) error {
	_, err := t.pool.Exec(context.Background(),
		`UPDATE tasks SET model_ov = $1, mtime = $2 WHERE id = $3`, model, time.Now(), taskID)
	return err
}

func (t *PostgresTracker) SetTaskOutput(taskID int64, outputJSON string) error {
	_, err := t.pool.Exec(context.Background(),
		`UPDATE tasks SET output_content = $1, mtime = $2 WHERE id = $3`, outputJSON, time.Now(), taskID)
	return err
}

func (t *PostgresTracker) RecordTaskUsage(taskID int64, usage TokenUsage, cost float64) error {
	_, err := t.pool.Exec(context.Background(),
		`UPDATE tasks SET tk_prompt_total = $1, tk_prompt_cached = $2, tk_prompt_cache_creation = $3,
             tk_completion_total = $4, tk_completion_reasoning = $5, cost = $6, mtime = $7 WHERE id = $8`,
		usage.PromptTotal, usage.PromptCached, usage.PromptCacheCreation,
		usage.CompletionTotal, usage.CompletionReasoning, cost, time.Now(), taskID,
	)
	return err
}

func (t *PostgresTracker) CancelAllNotEndedForRun(runID int64) (int64, error) {
	ctx := context.Background()
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	tag, err := tx.Exec(ctx,
		`UPDATE tasks SET end_state = $1, "end" = $2, mtime = $3 WHERE run_id = $4 AND end_state IS NULL`,
		EndStateCancel, now, now, runID,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel tasks: %w", err)
	}
	n := tag.RowsAffected()
	msg := fmt.Sprintf("Cancelled %d task(s) not yet ended", n)
	if err := pgAppendStep(ctx, tx, runID, nil, StageRun, "cancel_tasks", msg, now); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return n, nil
}

// =============================================================================
// Reads
// =============================================================================

func (t *PostgresTracker) GetRun(runID int64) (*Run, error) {
	row := t.pool.QueryRow(context.Background(), `SELECT `+runCols+` FROM runs WHERE id = $1`, runID)
	return scanRun(row)
}

func (t *PostgresTracker) GetRunByUID(uid string) (*Run, error) {
	row := t.pool.QueryRow(context.Background(), `SELECT `+runCols+` FROM runs WHERE uid = $1`, uid)
	return scanRun(row)
}

func (t *PostgresTracker) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := t.pool.Query(context.Background(),
		`SELECT `+runCols+` FROM runs ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (t *PostgresTracker) ListTasksForRun(runID int64) ([]Task, error) {
	rows, err := t.pool.Query(context.Background(),
		`SELECT `+taskCols+` FROM tasks WHERE run_id = $1 ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		tk, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *tk)
	}
	return tasks, rows.Err()
}

func (t *PostgresTracker) ListStepsForRun(runID int64) ([]RunStep, error) {
	rows, err := t.pool.Query(context.Background(),
		`SELECT id, run_id, task_id, stage, step, message, ctime FROM run_steps WHERE run_id = $1 ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []RunStep
	for rows.Next() {
		var s RunStep
		var taskID *int64
		var msg *string
		if err := rows.Scan(&s.ID, &s.RunID, &taskID, &s.Stage, &s.Step, &msg, &s.CTime); err != nil {
			return nil, err
		}
		s.TaskID = taskID
		if msg != nil {
			s.Message = *msg
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// =============================================================================
// Pins and errors
// =============================================================================

func (t *PostgresTracker) UpsertPin(np NewPin) error {
	now := time.Now()
	taskID := int64(0)
	if np.TaskID != nil {
		taskID = *np.TaskID
	}
	_, err := t.pool.Exec(context.Background(),
		`INSERT INTO pins (run_id, task_id, iden, priority, content, ctime, mtime) VALUES ($1, $2, $3, $4, $5, $6, $7)
         ON CONFLICT (run_id, task_id, iden) DO UPDATE SET
             priority = EXCLUDED.priority,
             content = EXCLUDED.content,
             mtime = EXCLUDED.mtime`,
		np.RunID, taskID, np.Iden, np.Priority, np.Content, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert pin: %w", err)
	}
	return nil
}

func (t *PostgresTracker) ListPinsForRun(runID int64) ([]Pin, error) {
	rows, err := t.pool.Query(context.Background(),
		`SELECT id, run_id, task_id, iden, priority, content, ctime, mtime FROM pins WHERE run_id = $1 ORDER BY priority DESC, id`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pins []Pin
	for rows.Next() {
		var p Pin
		var taskID int64
		var content *string
		if err := rows.Scan(&p.ID, &p.RunID, &taskID, &p.Iden, &p.Priority, &content, &p.CTime, &p.MTime); err != nil {
			return nil, err
		}
		if taskID != 0 {
			p.TaskID = &taskID
		}
		if content != nil {
			p.Content = *content
		}
		pins = append(pins, p)
	}
	return pins, rows.Err()
}

func (t *PostgresTracker) GetErr(id string) (*ErrRecord, error) {
	var e ErrRecord
	var runID, taskID *int64
	var stage *string
	err := t.pool.QueryRow(context.Background(),
		`SELECT id, run_id, task_id, stage, content, ctime FROM err_records WHERE id = $1`,
		id,
	).Scan(&e.ID, &runID, &taskID, &stage, &e.Content, &e.CTime)
	if err != nil {
		return nil, fmt.Errorf("get err record: %w", err)
	}
	e.RunID = runID
	e.TaskID = taskID
	if stage != nil {
		e.Stage = Stage(*stage)
	}
	return &e, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (t *PostgresTracker) stepRun(runID int64, col string, stage Stage, step, msg string) error {
	ctx := context.Background()
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`UPDATE runs SET %s = $1, mtime = $2 WHERE id = $3`, col),
		now, now, runID,
	); err != nil {
		return fmt.Errorf("step %s: %w", step, err)
	}
	if err := pgAppendStep(ctx, tx, runID, nil, stage, step, msg, now); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (t *PostgresTracker) stepTask(taskID int64, col string, stage Stage, step, msg string) error {
	ctx := context.Background()
	runID, err := t.taskRunID(ctx, taskID)
	if err != nil {
		return err
	}
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`UPDATE tasks SET %s = $1, mtime = $2 WHERE id = $3`, col),
		now, now, taskID,
	); err != nil {
		return fmt.Errorf("step %s: %w", step, err)
	}
	if err := pgAppendStep(ctx, tx, runID, &taskID, stage, step, msg, now); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (t *PostgresTracker) taskRunID(ctx context.Context, taskID int64) (int64, error) {
	var runID int64
	if err := t.pool.QueryRow(ctx, `SELECT run_id FROM tasks WHERE id = $1`, taskID).Scan(&runID); err != nil {
		return 0, fmt.Errorf("task %d run: %w", taskID, err)
	}
	return runID, nil
}

func pgAppendStep(ctx context.Context, tx pgx.Tx, runID int64, taskID *int64, stage Stage, step, msg string, now time.Time) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO run_steps (run_id, task_id, stage, step, message, ctime) VALUES ($1, $2, $3, $4, $5, $6)`,
		runID, taskID, stage, step, msg, now,
	); err != nil {
		return fmt.Errorf("append step %s: %w", step, err)
	}
	return nil
}
