package instancelog

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS instance_log (
	id            TEXT PRIMARY KEY,
	agent_name    TEXT NOT NULL,
	agent_version TEXT NOT NULL,
	task_id       TEXT NOT NULL,
	task_name     TEXT NOT NULL,
	state         TEXT NOT NULL,
	fuel_limit    INTEGER NOT NULL,
	fuel_consumed INTEGER NOT NULL,
	gpu_device    INTEGER,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_instance_log_task_id ON instance_log(task_id);
CREATE INDEX IF NOT EXISTS idx_instance_log_created_at ON instance_log(created_at);
`

// logOp is one unit of serialized work pushed onto the write queue.
// Exactly one of commit/update/deleteTaskID is set; done carries the
// result back to the caller that enqueued the op.
type logOp struct {
	commit       *CreateInstanceLog
	update       *UpdateInstanceLog
	deleteTaskID string
	done         chan error
}

// Log is the durable lifecycle journal. All writes flow through a
// single queue drained by one worker goroutine, which gives every
// write a total order without callers contending directly on the
// database/sql connection's own locking.
type Log struct {
	db    *sql.DB
	queue *queue.Queue
	mu    sync.Mutex // guards reads (Get), which bypass the write queue

	closeOnce sync.Once
	done      chan struct{}
}

// Open creates or opens the instance log database at <dir>/<name>,
// running the schema migration, and starts the write-serialization
// worker.
func Open(dir, name string) (*Log, error) {
	path := filepath.Join(dir, name)
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open instance log: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate instance log schema: %w", err)
	}

	l := &Log{
		db:    db,
		queue: queue.New(16),
		done:  make(chan struct{}),
	}
	go l.drain()
	return l, nil
}

// drain is the single worker that serializes every write against the
// database connection, in submission order.
func (l *Log) drain() {
	for {
		items, err := l.queue.Get(1)
		if err != nil {
			// Queue was disposed by Close.
			return
		}
		op := items[0].(*logOp)
		op.done <- l.apply(op)
	}
}

func (l *Log) apply(op *logOp) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case op.commit != nil:
		c := op.commit
		_, err := l.db.Exec(
			`INSERT INTO instance_log
				(id, agent_name, agent_version, task_id, task_name, state, fuel_limit, fuel_consumed)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), c.AgentName, c.AgentVersion, c.TaskID, c.TaskName,
			string(c.State), c.FuelLimit, c.FuelConsumed,
		)
		if err != nil {
			return fmt.Errorf("commit instance log row for task %q: %w", c.TaskID, err)
		}
		return nil
	case op.update != nil:
		u := op.update

		var current State
		var fuelConsumed uint64
		err := l.db.QueryRow(
			`SELECT state, fuel_consumed FROM instance_log WHERE task_id = ?
			 ORDER BY created_at DESC, rowid DESC LIMIT 1`,
			u.TaskID,
		).Scan(&current, &fuelConsumed)
		if err != nil {
			return fmt.Errorf("update instance log row for task %q: %w", u.TaskID, err)
		}
		// Created -> Running -> {Completed, Failed, Interrupted} is
		// the only legal sequence. A same-state rewrite (e.g. a second
		// Running update) is not a transition.
		if current != u.State && !current.CanTransition(u.State) {
			return fmt.Errorf("update instance log row for task %q: illegal transition %s -> %s", u.TaskID, current, u.State)
		}
		// fuel_consumed is monotonically non-decreasing across
		// updates for a fixed task id.
		if u.FuelConsumed < fuelConsumed {
			return fmt.Errorf("update instance log row for task %q: fuel_consumed decreased (%d -> %d)", u.TaskID, fuelConsumed, u.FuelConsumed)
		}

		res, err := l.db.Exec(
			`UPDATE instance_log SET state = ?, fuel_consumed = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE task_id = ? AND id = (
				SELECT id FROM instance_log WHERE task_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1
			 )`,
			string(u.State), u.FuelConsumed, u.TaskID, u.TaskID,
		)
		if err != nil {
			return fmt.Errorf("update instance log row for task %q: %w", u.TaskID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("update instance log row for task %q: no matching row", u.TaskID)
		}
		return nil
	case op.deleteTaskID != "":
		_, err := l.db.Exec(`DELETE FROM instance_log WHERE task_id = ?`, op.deleteTaskID)
		if err != nil {
			return fmt.Errorf("delete instance log rows for task %q: %w", op.deleteTaskID, err)
		}
		return nil
	default:
		return fmt.Errorf("instance log: empty operation")
	}
}

func (l *Log) submit(op *logOp) error {
	op.done = make(chan error, 1)
	if err := l.queue.Put(op); err != nil {
		return fmt.Errorf("instance log closed: %w", err)
	}
	return <-op.done
}

// Commit inserts a row for a newly created task. Exactly one row is
// inserted per task id; subsequent state changes go through Update.
func (l *Log) Commit(row CreateInstanceLog) error {
	return l.submit(&logOp{commit: &row})
}

// Update sets state and fuel_consumed for the most recent row with
// the given task id.
func (l *Log) Update(row UpdateInstanceLog) error {
	return l.submit(&logOp{update: &row})
}

// Get returns every row for task id, newest first. Reads bypass the
// write queue since they don't need to be ordered against each other,
// only against the writes that preceded them; the mutex the worker
// holds serializes that.
func (l *Log) Get(taskID string) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.Query(
		`SELECT id, agent_name, agent_version, task_id, task_name, state,
		        fuel_limit, fuel_consumed, gpu_device, created_at, updated_at
		 FROM instance_log WHERE task_id = ? ORDER BY created_at DESC, rowid DESC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query instance log for task %q: %w", taskID, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var state string
		var gpu sql.NullInt64
		if err := rows.Scan(&r.ID, &r.AgentName, &r.AgentVersion, &r.TaskID, &r.TaskName,
			&state, &r.FuelLimit, &r.FuelConsumed, &gpu, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan instance log row: %w", err)
		}
		r.State = State(state)
		if gpu.Valid {
			v := uint32(gpu.Int64)
			r.GPUDevice = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Delete removes every row for task id.
func (l *Log) Delete(taskID string) error {
	return l.submit(&logOp{deleteTaskID: taskID})
}

// Close stops the write worker and closes the underlying database
// connection. Safe to call more than once.
func (l *Log) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.queue.Dispose()
		err = l.db.Close()
	})
	return err
}
