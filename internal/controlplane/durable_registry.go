package controlplane

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/tallr-dev/tallrd/internal/log"
)

// durableSchema is the registry's single table: one JSON blob per task,
// keyed by id. A full relational shape isn't warranted for a
// process-restart cache, so no migration tool manages this; a single
// CREATE TABLE IF NOT EXISTS is the whole schema lifecycle.
const durableSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	data TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// DurableRegistry wraps an in-memory Registry with a SQLite-backed mirror,
// so a supervisor restart doesn't lose in-progress task state. Every
// Put/Update writes through to a `tasks` row; on construction, rows
// already on disk are loaded back into the in-memory layer.
type DurableRegistry struct {
	mem Registry
	db  *sql.DB
	mu  sync.Mutex
}

// NewDurableRegistry opens (creating if absent) the SQLite database at
// path and restores any tasks already persisted there.
func NewDurableRegistry(ctx context.Context, path string) (*DurableRegistry, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open durable registry db: %w", err)
	}
	if _, err := db.ExecContext(ctx, durableSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create durable registry schema: %w", err)
	}

	r := &DurableRegistry{mem: NewInMemoryRegistry(), db: db}
	if err := r.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *DurableRegistry) load(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, "SELECT data FROM tasks")
	if err != nil {
		return fmt.Errorf("loading durable tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	restored := 0
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return fmt.Errorf("scanning durable task row: %w", err)
		}
		var task Task
		if err := json.Unmarshal([]byte(data), &task); err != nil {
			log.Warn(log.CatState, "skipping corrupt durable task row", "error", err)
			continue
		}
		if err := r.mem.Put(ctx, &task); err != nil {
			return fmt.Errorf("restoring durable task %s: %w", task.ID, err)
		}
		restored++
	}
	log.Info(log.CatState, "restored tasks from durable registry", "count", restored)
	return rows.Err()
}

func (r *DurableRegistry) persist(ctx context.Context, task *Task) {
	data, err := json.Marshal(task)
	if err != nil {
		log.Warn(log.CatState, "encoding task for durable registry failed", "taskId", task.ID, "error", err)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO tasks (id, data, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		string(task.ID), string(data))
	if err != nil {
		log.Warn(log.CatState, "durable registry write-through failed", "taskId", task.ID, "error", err)
	}
}

func (r *DurableRegistry) Put(ctx context.Context, task *Task) error {
	if err := r.mem.Put(ctx, task); err != nil {
		return err
	}
	r.persist(ctx, task)
	return nil
}

func (r *DurableRegistry) Get(ctx context.Context, id TaskID) (*Task, error) {
	return r.mem.Get(ctx, id)
}

func (r *DurableRegistry) Update(ctx context.Context, id TaskID, fn func(*Task) error) (*Task, error) {
	task, err := r.mem.Update(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	r.persist(ctx, task)
	return task, nil
}

func (r *DurableRegistry) List(ctx context.Context, q ListQuery) ([]*Task, error) {
	return r.mem.List(ctx, q)
}

func (r *DurableRegistry) Remove(ctx context.Context, id TaskID) error {
	if err := r.mem.Remove(ctx, id); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", string(id))
	return err
}

func (r *DurableRegistry) Count(ctx context.Context) (int, error) {
	return r.mem.Count(ctx)
}

// Close releases the underlying database handle.
func (r *DurableRegistry) Close() error {
	return r.db.Close()
}
