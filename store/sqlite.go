package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uid TEXT NOT NULL UNIQUE,
    parent_uid TEXT,
    agent_name TEXT NOT NULL,
    agent_path TEXT,
    model TEXT,
    label TEXT,
    concurrency INTEGER NOT NULL DEFAULT 1,
    total_cost REAL NOT NULL DEFAULT 0,
    ctime DATETIME NOT NULL,
    mtime DATETIME NOT NULL,
    start DATETIME,
    ba_start DATETIME,
    ba_end DATETIME,
    tasks_start DATETIME,
    tasks_end DATETIME,
    aa_start DATETIME,
    aa_end DATETIME,
    "end" DATETIME,
    end_state TEXT,
    end_err_id TEXT
);

CREATE TABLE IF NOT EXISTS tasks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uid TEXT NOT NULL UNIQUE,
    run_id INTEGER NOT NULL REFERENCES runs(id),
    idx INTEGER NOT NULL,
    label TEXT,
    model_ov TEXT,
    input_content TEXT,
    output_content TEXT,
    tk_prompt_total INTEGER NOT NULL DEFAULT 0,
    tk_prompt_cached INTEGER NOT NULL DEFAULT 0,
    tk_prompt_cache_creation INTEGER NOT NULL DEFAULT 0,
    tk_completion_total INTEGER NOT NULL DEFAULT 0,
    tk_completion_reasoning INTEGER NOT NULL DEFAULT 0,
    cost REAL NOT NULL DEFAULT 0,
    ctime DATETIME NOT NULL,
    mtime DATETIME NOT NULL,
    start DATETIME,
    data_start DATETIME,
    data_end DATETIME,
    ai_start DATETIME,
    ai_end DATETIME,
    output_start DATETIME,
    output_end DATETIME,
    "end" DATETIME,
    end_state TEXT,
    end_err_id TEXT,
    end_skip_reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_run ON tasks(run_id);

CREATE TABLE IF NOT EXISTS run_steps (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL REFERENCES runs(id),
    task_id INTEGER REFERENCES tasks(id),
    stage TEXT NOT NULL,
    step TEXT NOT NULL,
    message TEXT,
    ctime DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_steps_run ON run_steps(run_id);

CREATE TABLE IF NOT EXISTS pins (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL REFERENCES runs(id),
    task_id INTEGER NOT NULL DEFAULT 0,
    iden TEXT NOT NULL,
    priority REAL NOT NULL DEFAULT 0,
    content TEXT,
    ctime DATETIME NOT NULL,
    mtime DATETIME NOT NULL,
    UNIQUE(run_id, task_id, iden)
);

CREATE TABLE IF NOT EXISTS err_records (
    id TEXT PRIMARY KEY,
    run_id INTEGER REFERENCES runs(id),
    task_id INTEGER REFERENCES tasks(id),
    stage TEXT,
    content TEXT NOT NULL,
    ctime DATETIME NOT NULL
);
`

const runCols = `id, uid, parent_uid, agent_name, agent_path, model, label, concurrency, total_cost,
    ctime, mtime, start, ba_start, ba_end, tasks_start, tasks_end, aa_start, aa_end, "end", end_state, end_err_id`

const taskCols = `id, uid, run_id, idx, label, model_ov, input_content, output_content,
    tk_prompt_total, tk_prompt_cached, tk_prompt_cache_creation, tk_completion_total, tk_completion_reasoning,
    cost, ctime, mtime, start, data_start, data_end, ai_start, ai_end, output_start, output_end,
    "end", end_state, end_err_id, end_skip_reason`

// NewSQLiteTracker opens (or creates) a SQLite-backed tracker at the given path.
func NewSQLiteTracker(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

// SQLiteTracker implements Tracker on a single SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}

// =============================================================================
// Run lifecycle
// =============================================================================

func (t *SQLiteTracker) CreateRun(nr NewRun) (*Run, error) {
	now := time.Now()
	uid := uuid.NewString()
	concurrency := nr.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	res, err := t.db.Exec(
		`INSERT INTO runs (uid, parent_uid, agent_name, agent_path, model, label, concurrency, ctime, mtime)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uid, nr.ParentUID, nr.AgentName, nr.AgentPath, nr.Model, nr.Label, concurrency, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create run id: %w", err)
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

func (t *SQLiteTracker) StepRunStart(runID int64) error {
	return t.stepRun(runID, "start", StageRun, "run_start", "Run started")
}

func (t *SQLiteTracker) StepRunBAStart(runID int64) error {
	return t.stepRun(runID, "ba_start", StageBeforeAll, "ba_start", "Before All started")
}

func (t *SQLiteTracker) StepRunBAEnd(runID int64) error {
	return t.stepRun(runID, "ba_end", StageBeforeAll, "ba_end", "Before All ended")
}

func (t *SQLiteTracker) StepRunTasksStart(runID int64) error {
	return t.stepRun(runID, "tasks_start", StageRun, "tasks_start", "Tasks started")
}

func (t *SQLiteTracker) StepRunTasksEnd(runID int64) error {
	return t.stepRun(runID, "tasks_end", StageRun, "tasks_end", "Tasks ended")
}

func (t *SQLiteTracker) StepRunAAStart(runID int64) error {
	return t.stepRun(runID, "aa_start", StageAfterAll, "aa_start", "After All started")
}

func (t *SQLiteTracker) StepRunAAEnd(runID int64) error {
	return t.stepRun(runID, "aa_end", StageAfterAll, "aa_end", "After All ended")
}

func (t *SQLiteTracker) StepRunEndOk(runID int64) error {
	tx, err := t.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.Exec(
		`UPDATE runs SET end_state = ? WHERE id = ? AND end_state IS NULL`,
		EndStateOk, runID,
	); err != nil {
		return fmt.Errorf("run end ok: %w", err)
	}
	if _, err := tx.Exec(`UPDATE runs SET "end" = ?, mtime = ? WHERE id = ?`, now, now, runID); err != nil {
		return fmt.Errorf("run end ok: %w", err)
	}
	if err := appendStep(tx, runID, nil, StageRun, "run_end_ok", "Run ended Ok", now); err != nil {
		return err
	}
	return tx.Commit()
}

func (t *SQLiteTracker) StepRunEndErr(runID int64, stage Stage, errContent string) (string, error) {
	tx, err := t.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	now := time.Now()
	errID := uuid.NewString()
	// First writer wins the end state; later callers only refresh the end timestamp.
	res, err := tx.Exec(
		`UPDATE runs SET end_state = ?, end_err_id = ? WHERE id = ? AND end_state IS NULL`,
		EndStateErr, errID, runID,
	)
	if err != nil {
		return "", fmt.Errorf("run end err: %w", err)
	}
	won, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("run end err: %w", err)
	}
	if won > 0 {
		if _, err := tx.Exec(
			`INSERT INTO err_records (id, run_id, stage, content, ctime) VALUES (?, ?, ?, ?, ?)`,
			errID, runID, stage, errContent, now,
		); err != nil {
			return "", fmt.Errorf("run err record: %w", err)
		}
	} else {
		errID = ""
	}
	if _, err := tx.Exec(`UPDATE runs SET "end" = ?, mtime = ? WHERE id = ?`, now, now, runID); err != nil {
		return "", fmt.Errorf("run end err: %w", err)
	}
	if err := appendStep(tx, runID, nil, stage, "run_end_err", errContent, now); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return errID, nil
}

func (t *SQLiteTracker) SetRunModel(runID int64, model string) error {
	_, err := t.db.Exec(`UPDATE runs SET model = ?, mtime = ? WHERE id = ?`, model, time.Now(), runID)
	return err
}

// AddRunCost accrues a task's cost into the run total. The increment happens
// in SQL so concurrent pipelines never lose updates.
func (t *SQLiteTracker) AddRunCost(runID int64, delta float64) error {
	_, err := t.db.Exec(
		`UPDATE runs SET total_cost = total_cost + ?, mtime = ? WHERE id = ?`,
		delta, time.Now(), runID,
	)
	return err
}

// =============================================================================
// Task lifecycle
// =============================================================================

func (t *SQLiteTracker) CreateTask(nt NewTask) (*Task, error) {
	now := time.Now()
	uid := uuid.NewString()
	res, err := t.db.Exec(
		`INSERT INTO tasks (uid, run_id, idx, label, input_content, ctime, mtime) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uid, nt.RunID, nt.Idx, nt.Label, nt.InputContent, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create task id: %w", err)
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

func (t *SQLiteTracker) StepTaskStart(taskID int64) error {
	return t.stepTask(taskID, "start", StageRun, "task_start", "Task started")
}

func (t *SQLiteTracker) StepTaskDataStart(taskID int64) error {
	return t.stepTask(taskID, "data_start", StageData, "data_start", "Data stage started")
}

func (t *SQLiteTracker) StepTaskDataEnd(taskID int64) error {
	return t.stepTask(taskID, "data_end", StageData, "data_end", "Data stage ended")
}

func (t *SQLiteTracker) StepTaskAiStart(taskID int64) error {
	return t.stepTask(taskID, "ai_start", StageAi, "ai_start", "Ai stage started")
}

func (t *SQLiteTracker) StepTaskAiEnd(taskID int64) error {
	return t.stepTask(taskID, "ai_end", StageAi, "ai_end", "Ai stage ended")
}

func (t *SQLiteTracker) StepTaskOutputStart(taskID int64) error {
	return t.stepTask(taskID, "output_start", StageOutput, "output_start", "Output stage started")
}

func (t *SQLiteTracker) StepTaskOutputEnd(taskID int64) error {
	return t.stepTask(taskID, "output_end", StageOutput, "output_end", "Output stage ended")
}

func (t *SQLiteTracker) StepTaskEndOk(taskID int64) error {
	runID, err := t.taskRunID(taskID)
	if err != nil {
		return err
	}
	tx, err := t.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.Exec(
		`UPDATE tasks SET end_state = ? WHERE id = ? AND end_state IS NULL`,
		EndStateOk, taskID,
	); err != nil {
		return fmt.Errorf("task end ok: %w", err)
	}
	if _, err := tx.Exec(`UPDATE tasks SET "end" = ?, mtime = ? WHERE id = ?`, now, now, taskID); err != nil {
		return fmt.Errorf("task end ok: %w", err)
	}
	if err := appendStep(tx, runID, &taskID, StageRun, "task_end_ok", "Task ended Ok", now); err != nil {
		return err
	}
	return tx.Commit()
}

func (t *SQLiteTracker) StepTaskEndErr(taskID int64, stage Stage, errContent string) (string, error) {
	runID, err := t.taskRunID(taskID)
	if err != nil {
		return "", err
	}
	tx, err := t.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	now := time.Now()
	errID := uuid.NewString()
	res, err := tx.Exec(
		`UPDATE tasks SET end_state = ?, end_err_id = ? WHERE id = ? AND end_state IS NULL`,
		EndStateErr, errID, taskID,
	)
	if err != nil {
		return "", fmt.Errorf("task end err: %w", err)
	}
	won, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("task end err: %w", err)
	}
	if won > 0 {
		if _, err := tx.Exec(
			`INSERT INTO err_records (id, run_id, task_id, stage, content, ctime) VALUES (?, ?, ?, ?, ?, ?)`,
			errID, runID, taskID, stage, errContent, now,
		); err != nil {
			return "", fmt.Errorf("task err record: %w", err)
		}
	} else {
		errID = ""
	}
	if _, err := tx.Exec(`UPDATE tasks SET "end" = ?, mtime = ? WHERE id = ?`, now, now, taskID); err != nil {
		return "", fmt.Errorf("task end err: %w", err)
	}
	if err := appendStep(tx, runID, &taskID, stage, "task_end_err", errContent, now); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return errID, nil
}

func (t *SQLiteTracker) StepTaskEndSkip(taskID int64, idx int, reason string) error {
	runID, err := t.taskRunID(taskID)
	if err != nil {
		return err
	}
	tx, err := t.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.Exec(
		`UPDATE tasks SET end_state = ?, end_skip_reason = ? WHERE id = ? AND end_state IS NULL`,
		EndStateSkip, reason, taskID,
	); err != nil {
		return fmt.Errorf("task end skip: %w", err)
	}
	if _, err := tx.Exec(`UPDATE tasks SET "end" = ?, mtime = ? WHERE id = ?`, now, now, taskID); err != nil {
		return fmt.Errorf("task end skip: %w", err)
	}
	msg := fmt.Sprintf("Task skipped (input index: %d)", idx)
	if reason != "" {
		msg = fmt.Sprintf("Task skipped (input index: %d): %s", idx, reason)
	}
	if err := appendStep(tx, runID, &taskID, StageData, "task_end_skip", msg, now); err != nil {
		return err
	}
	return tx.Commit()
}

func (t *SQLiteTracker) SetTaskModelOv(taskID int64, model string) error {
	_, err := t.db.Exec(`UPDATE tasks SET model_ov = ?, mtime = ? WHERE id = ?`, model, time.Now(), taskID)
	return err
}

func (t *SQLiteTracker) SetTaskOutput(taskID int64, outputJSON string) error {
	_, err := t.db.Exec(`UPDATE tasks SET output_content = ?, mtime = ? WHERE id = ?`, outputJSON, time.Now(), taskID)
	return err
}

func (t *SQLiteTracker) RecordTaskUsage(taskID int64, usage TokenUsage, cost float64) error {
	_, err := t.db.Exec(
		`UPDATE tasks SET tk_prompt_total = ?, tk_prompt_cached = ?, tk_prompt_cache_creation = ?,
             tk_completion_total = ?, tk_completion_reasoning = ?, cost = ?, mtime = ? WHERE id = ?`,
		usage.PromptTotal, usage.PromptCached, usage.PromptCacheCreation,
		usage.CompletionTotal, usage.CompletionReasoning, cost, time.Now(), taskID,
	)
	return err
}

func (t *SQLiteTracker) CancelAllNotEndedForRun(runID int64) (int64, error) {
	tx, err := t.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := time.Now()
	res, err := tx.Exec(
		`UPDATE tasks SET end_state = ?, "end" = ?, mtime = ? WHERE run_id = ? AND end_state IS NULL`,
		EndStateCancel, now, now, runID,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel tasks: %w", err)
	}
	msg := fmt.Sprintf("Cancelled %d task(s) not yet ended", n)
	if err := appendStep(tx, runID, nil, StageRun, "cancel_tasks", msg, now); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// =============================================================================
// Reads
// =============================================================================

func (t *SQLiteTracker) GetRun(runID int64) (*Run, error) {
	row := t.db.QueryRow(`SELECT `+runCols+` FROM runs WHERE id = ?`, runID)
	return scanRun(row)
}

func (t *SQLiteTracker) GetRunByUID(uid string) (*Run, error) {
	row := t.db.QueryRow(`SELECT `+runCols+` FROM runs WHERE uid = ?`, uid)
	return scanRun(row)
}

func (t *SQLiteTracker) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := t.db.Query(`SELECT `+runCols+` FROM runs ORDER BY id DESC LIMIT ?`, limit)
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

func (t *SQLiteTracker) ListTasksForRun(runID int64) ([]Task, error) {
	rows, err := t.db.Query(`SELECT `+taskCols+` FROM tasks WHERE run_id = ? ORDER BY idx`, runID)
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

func (t *SQLiteTracker) ListStepsForRun(runID int64) ([]RunStep, error) {
	rows, err := t.db.Query(
		`SELECT id, run_id, task_id, stage, step, message, ctime FROM run_steps WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []RunStep
	for rows.Next() {
		var s RunStep
		var taskID sql.NullInt64
		var msg sql.NullString
		if err := rows.Scan(&s.ID, &s.RunID, &taskID, &s.Stage, &s.Step, &msg, &s.CTime); err != nil {
			return nil, err
		}
		if taskID.Valid {
			s.TaskID = &taskID.Int64
		}
		if msg.Valid {
			s.Message = msg.String
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// =============================================================================
// Pins and errors
// =============================================================================

func (t *SQLiteTracker) UpsertPin(np NewPin) error {
	now := time.Now()
	// task_id 0 marks a run-scoped pin; NULL would make the unique key useless.
	taskID := int64(0)
	if np.TaskID != nil {
		taskID = *np.TaskID
	}
	_, err := t.db.Exec(
		`INSERT INTO pins (run_id, task_id, iden, priority, content, ctime, mtime) VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(run_id, task_id, iden) DO UPDATE SET
             priority = excluded.priority,
             content = excluded.content,
             mtime = excluded.mtime`,
		np.RunID, taskID, np.Iden, np.Priority, np.Content, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert pin: %w", err)
	}
	return nil
}

func (t *SQLiteTracker) ListPinsForRun(runID int64) ([]Pin, error) {
	rows, err := t.db.Query(
		`SELECT id, run_id, task_id, iden, priority, content, ctime, mtime FROM pins WHERE run_id = ? ORDER BY priority DESC, id`,
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
		var content sql.NullString
		if err := rows.Scan(&p.ID, &p.RunID, &taskID, &p.Iden, &p.Priority, &content, &p.CTime, &p.MTime); err != nil {
			return nil, err
		}
		if taskID != 0 {
			p.TaskID = &taskID
		}
		if content.Valid {
			p.Content = content.String
		}
		pins = append(pins, p)
	}
	return pins, rows.Err()
}

func (t *SQLiteTracker) GetErr(id string) (*ErrRecord, error) {
	var e ErrRecord
	var runID, taskID sql.NullInt64
	var stage sql.NullString
	err := t.db.QueryRow(
		`SELECT id, run_id, task_id, stage, content, ctime FROM err_records WHERE id = ?`,
		id,
	).Scan(&e.ID, &runID, &taskID, &stage, &e.Content, &e.CTime)
	if err != nil {
		return nil, fmt.Errorf("get err record: %w", err)
	}
	if runID.Valid {
		e.RunID = &runID.Int64
	}
	if taskID.Valid {
		e.TaskID = &taskID.Int64
	}
	if stage.Valid {
		e.Stage = Stage(stage.String)
	}
	return &e, nil
}

// =============================================================================
// Helpers
// =============================================================================

// stepRun updates one run timestamp column and appends the step entry in a
// single transaction. col is always an internal constant, never user input.
func (t *SQLiteTracker) stepRun(runID int64, col string, stage Stage, step, msg string) error {
	tx, err := t.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.Exec(
		fmt.Sprintf(`UPDATE runs SET %s = ?, mtime = ? WHERE id = ?`, col),
		now, now, runID,
	); err != nil {
		return fmt.Errorf("step %s: %w", step, err)
	}
	if err := appendStep(tx, runID, nil, stage, step, msg, now); err != nil {
		return err
	}
	return tx.Commit()
}

func (t *SQLiteTracker) stepTask(taskID int64, col string, stage Stage, step, msg string) error {
	runID, err := t.taskRunID(taskID)
	if err != nil {
		return err
	}
	tx, err := t.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.Exec(
		fmt.Sprintf(`UPDATE tasks SET %s = ?, mtime = ? WHERE id = ?`, col),
		now, now, taskID,
	); err != nil {
		return fmt.Errorf("step %s: %w", step, err)
	}
	if err := appendStep(tx, runID, &taskID, stage, step, msg, now); err != nil {
		return err
	}
	return tx.Commit()
}

func (t *SQLiteTracker) taskRunID(taskID int64) (int64, error) {
	var runID int64
	if err := t.db.QueryRow(`SELECT run_id FROM tasks WHERE id = ?`, taskID).Scan(&runID); err != nil {
		return 0, fmt.Errorf("task %d run: %w", taskID, err)
	}
	return runID, nil
}

func appendStep(tx *sql.Tx, runID int64, taskID *int64, stage Stage, step, msg string, now time.Time) error {
	if _, err := tx.Exec(
		`INSERT INTO run_steps (run_id, task_id, stage, step, message, ctime) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, taskID, stage, step, msg, now,
	); err != nil {
		return fmt.Errorf("append step %s: %w", step, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var parentUID, agentPath, model, label, endState, endErrID sql.NullString
	var start, baStart, baEnd, tasksStart, tasksEnd, aaStart, aaEnd, end sql.NullTime

	err := row.Scan(
		&r.ID, &r.UID, &parentUID, &r.AgentName, &agentPath, &model, &label, &r.Concurrency, &r.TotalCost,
		&r.CTime, &r.MTime, &start, &baStart, &baEnd, &tasksStart, &tasksEnd, &aaStart, &aaEnd,
		&end, &endState, &endErrID,
	)
	if err != nil {
		return nil, err
	}

	if parentUID.Valid {
		r.ParentUID = &parentUID.String
	}
	if agentPath.Valid {
		r.AgentPath = agentPath.String
	}
	if model.Valid {
		r.Model = model.String
	}
	if label.Valid {
		r.Label = label.String
	}
	r.Start = nullTime(start)
	r.BAStart = nullTime(baStart)
	r.BAEnd = nullTime(baEnd)
	r.TasksStart = nullTime(tasksStart)
	r.TasksEnd = nullTime(tasksEnd)
	r.AAStart = nullTime(aaStart)
	r.AAEnd = nullTime(aaEnd)
	r.End = nullTime(end)
	if endState.Valid {
		es := EndState(endState.String)
		r.EndState = &es
	}
	if endErrID.Valid {
		r.EndErrID = &endErrID.String
	}
	return &r, nil
}

func scanTask(row rowScanner) (*Task, error) {
	var tk Task
	var label, modelOv, inputContent, outputContent, endState, endErrID, endSkipReason sql.NullString
	var start, dataStart, dataEnd, aiStart, aiEnd, outputStart, outputEnd, end sql.NullTime

	err := row.Scan(
		&tk.ID, &tk.UID, &tk.RunID, &tk.Idx, &label, &modelOv, &inputContent, &outputContent,
		&tk.Usage.PromptTotal, &tk.Usage.PromptCached, &tk.Usage.PromptCacheCreation,
		&tk.Usage.CompletionTotal, &tk.Usage.CompletionReasoning,
		&tk.Cost, &tk.CTime, &tk.MTime, &start, &dataStart, &dataEnd, &aiStart, &aiEnd,
		&outputStart, &outputEnd, &end, &endState, &endErrID, &endSkipReason,
	)
	if err != nil {
		return nil, err
	}

	if label.Valid {
		tk.Label = &label.String
	}
	if modelOv.Valid {
		tk.ModelOv = &modelOv.String
	}
	if inputContent.Valid {
		tk.InputContent = &inputContent.String
	}
	if outputContent.Valid {
		tk.OutputContent = &outputContent.String
	}
	tk.Start = nullTime(start)
	tk.DataStart = nullTime(dataStart)
	tk.DataEnd = nullTime(dataEnd)
	tk.AiStart = nullTime(aiStart)
	tk.AiEnd = nullTime(aiEnd)
	tk.OutputStart = nullTime(outputStart)
	tk.OutputEnd = nullTime(outputEnd)
	tk.End = nullTime(end)
	if endState.Valid {
		es := EndState(endState.String)
		tk.EndState = &es
	}
	if endErrID.Valid {
		tk.EndErrID = &endErrID.String
	}
	if endSkipReason.Valid {
		tk.EndSkipReason = &endSkipReason.String
	}
	return &tk, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if t.Valid {
		return &t.Time
	}
	return nil
}
