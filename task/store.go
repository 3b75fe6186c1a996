package task

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	priority    INTEGER NOT NULL DEFAULT 0,
	due         TEXT,
	tags        TEXT NOT NULL DEFAULT '[]',
	depends_on  TEXT NOT NULL DEFAULT '[]',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);
`

// dueLayout is the on-disk format for due dates. Only the calendar date is
// significant.
const dueLayout = "2006-01-02"

// SQLiteStore persists tasks in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the tasks table exists. The caller is responsible for calling Close.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w: %v", dbPath, ErrStorage, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w: %v", ErrStorage, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Create persists a new task, assigning ID, CreatedAt, and UpdatedAt as
// needed. A pre-set ID is honored (import path) but must not collide.
func (s *SQLiteStore) Create(t *Task) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	} else {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM tasks WHERE id = ?`, t.ID).Scan(&exists)
		if err == nil {
			return "", fmt.Errorf("create task %s: %w", t.ID, ErrConflict)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("create task %s: %w: %v", t.ID, ErrStorage, err)
		}
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	tags, _ := json.Marshal(t.Tags)
	dependsOn, _ := json.Marshal(t.DependsOn)

	_, err := s.db.Exec(`
		INSERT INTO tasks
			(id, title, description, status, priority, due, tags, depends_on, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.Description, string(t.Status), t.Priority,
		nullDue(t.Due), string(tags), string(dependsOn),
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert task: %w: %v", ErrStorage, err)
	}
	return t.ID, nil
}

// Get retrieves a task by ID.
func (s *SQLiteStore) Get(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT * FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w: %v", id, ErrStorage, err)
	}
	return t, nil
}

// Update saves changes to an existing task, bumping UpdatedAt.
func (s *SQLiteStore) Update(t *Task) error {
	t.UpdatedAt = time.Now().UTC()
	tags, _ := json.Marshal(t.Tags)
	dependsOn, _ := json.Marshal(t.DependsOn)

	res, err := s.db.Exec(`
		UPDATE tasks SET
			title=?, description=?, status=?, priority=?, due=?, tags=?, depends_on=?, updated_at=?
		WHERE id=?`,
		t.Title, t.Description, string(t.Status), t.Priority,
		nullDue(t.Due), string(tags), string(dependsOn),
		t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w: %v", ErrStorage, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task: %w: %v", ErrStorage, err)
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

// List returns all tasks ordered by ascending ID.
func (s *SQLiteStore) List() ([]*Task, error) {
	rows, err := s.db.Query(`SELECT * FROM tasks ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w: %v", ErrStorage, err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w: %v", ErrStorage, err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w: %v", ErrStorage, err)
	}
	return tasks, nil
}

// Delete removes a task by ID.
func (s *SQLiteStore) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w: %v", ErrStorage, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task: %w: %v", ErrStorage, err)
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*Task, error) {
	var t Task
	var status, tagsJSON, dependsOnJSON string
	var due sql.NullString

	err := s.Scan(
		&t.ID, &t.Title, &t.Description, &status, &t.Priority,
		&due, &tagsJSON, &dependsOnJSON,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = Status(status)
	_ = json.Unmarshal([]byte(tagsJSON), &t.Tags)
	_ = json.Unmarshal([]byte(dependsOnJSON), &t.DependsOn)

	if due.Valid {
		d, err := time.Parse(dueLayout, due.String)
		if err != nil {
			return nil, fmt.Errorf("parse due %q: %v", due.String, err)
		}
		t.Due = &d
	}
	return &t, nil
}

func nullDue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(dueLayout)
}
