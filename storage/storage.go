package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/baidenprynce9-wq/codealpha-tasks/domain"
)

var (
	// ErrNotFound is returned when the requested row does not exist or is
	// not visible to the caller.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the caller lacks project membership or
	// ownership for the requested mutation.
	ErrForbidden = errors.New("forbidden")
	// ErrDuplicate is returned for unique-constraint violations such as an
	// already registered email or an existing project member.
	ErrDuplicate = errors.New("already exists")
)

// Storage provides access to the relational mutation store. It is the
// single source of truth; broadcast events are derived from rows it has
// already committed.
type Storage struct {
	db *sql.DB
}

// New opens the sqlite database at path and ensures the schema exists.
func New(path string) (*Storage, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := createTables(db); err != nil {
		return nil, err
	}
	return &Storage{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Storage) Close() error { return s.db.Close() }

func createTables(db *sql.DB) error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        name TEXT NOT NULL,
        email TEXT NOT NULL UNIQUE,
        password_hash TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS projects (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        name TEXT NOT NULL,
        description TEXT NOT NULL DEFAULT '',
        owner_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS project_members (
        project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
        user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        role TEXT NOT NULL DEFAULT 'member',
        PRIMARY KEY (project_id, user_id)
    );

    CREATE TABLE IF NOT EXISTS tasks (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
        title TEXT NOT NULL,
        description TEXT NOT NULL DEFAULT '',
        status TEXT NOT NULL DEFAULT 'todo',
        priority TEXT NOT NULL DEFAULT 'medium',
        assignee_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS comments (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        task_id INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
        user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        content TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    `
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateUser registers a new account. Duplicate emails yield ErrDuplicate.
func (s *Storage) CreateUser(ctx context.Context, name, email, passwordHash string) (domain.User, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, email, password_hash) VALUES (?, ?, ?)`,
		name, email, passwordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.User{}, ErrDuplicate
		}
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.User{}, err
	}
	return domain.User{ID: id, Name: name, Email: email}, nil
}

// UserByEmail returns the user and its password hash for credential checks.
func (s *Storage) UserByEmail(ctx context.Context, email string) (domain.User, string, error) {
	var u domain.User
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.Name, &u.Email, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, "", ErrNotFound
	}
	if err != nil {
		return domain.User{}, "", fmt.Errorf("select user: %w", err)
	}
	return u, hash, nil
}

// CreateProject inserts a project and records the owner as its first member.
func (s *Storage) CreateProject(ctx context.Context, ownerID int64, name, description string) (domain.Project, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO projects (name, description, owner_id) VALUES (?, ?, ?)`,
		name, description, ownerID)
	if err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Project{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO project_members (project_id, user_id, role) VALUES (?, ?, 'owner')`,
		id, ownerID); err != nil {
		return domain.Project{}, fmt.Errorf("insert owner membership: %w", err)
	}

	var p domain.Project
	err = tx.QueryRowContext(ctx,
		`SELECT id, name, description, owner_id, created_at FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Description, &p.OwnerID, &p.CreatedAt)
	if err != nil {
		return domain.Project{}, fmt.Errorf("select project: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ProjectsForUser lists every project the user is a member of.
func (s *Storage) ProjectsForUser(ctx context.Context, userID int64) ([]domain.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.name, p.description, p.owner_id, p.created_at
         FROM projects p
         JOIN project_members pm ON p.id = pm.project_id
         WHERE pm.user_id = ?
         ORDER BY p.created_at DESC, p.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("select projects: %w", err)
	}
	defer rows.Close()

	projects := []domain.Project{}
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.OwnerID, &p.CreatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ProjectForMember returns the project only when userID is a member of it.
func (s *Storage) ProjectForMember(ctx context.Context, projectID, userID int64) (domain.Project, error) {
	var p domain.Project
	err := s.db.QueryRowContext(ctx,
		`SELECT p.id, p.name, p.description, p.owner_id, p.created_at
         FROM projects p
         JOIN project_members pm ON p.id = pm.project_id
         WHERE p.id = ? AND pm.user_id = ?`, projectID, userID).
		Scan(&p.ID, &p.Name, &p.Description, &p.OwnerID, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Project{}, ErrNotFound
	}
	if err != nil {
		return domain.Project{}, fmt.Errorf("select project: %w", err)
	}
	return p, nil
}

// DeleteProject removes a project and, via foreign keys, its members,
// tasks and comments. Only the owner may delete.
func (s *Storage) DeleteProject(ctx context.Context, projectID, ownerID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM projects WHERE id = ? AND owner_id = ?`, projectID, ownerID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrForbidden
	}
	return nil
}

// AddMember invites the user with the given email. Only the owner may
// invite; duplicate memberships are rejected.
func (s *Storage) AddMember(ctx context.Context, projectID, ownerID int64, email, role string) error {
	var owned int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM projects WHERE id = ? AND owner_id = ?`, projectID, ownerID).Scan(&owned)
	if err != nil {
		return fmt.Errorf("check owner: %w", err)
	}
	if owned == 0 {
		return ErrForbidden
	}

	var userID int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE email = ?`, email).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("select user: %w", err)
	}

	if role == "" {
		role = "member"
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO project_members (project_id, user_id, role) VALUES (?, ?, ?)`,
		projectID, userID, role); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// IsMember reports whether the user belongs to the project.
func (s *Storage) IsMember(ctx context.Context, projectID, userID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM project_members WHERE project_id = ? AND user_id = ?`,
		projectID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return n > 0, nil
}

const taskColumns = `t.id, t.project_id, t.title, t.description, t.status, t.priority,
        t.assignee_id, COALESCE(u.name, ''), t.created_at`

func scanTask(row interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status,
		&t.Priority, &t.AssigneeID, &t.AssigneeName, &t.CreatedAt)
	return t, err
}

func (s *Storage) taskByID(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, taskID int64) (domain.Task, error) {
	t, err := scanTask(q.QueryRowContext(ctx,
		`SELECT `+taskColumns+`
         FROM tasks t LEFT JOIN users u ON t.assignee_id = u.id
         WHERE t.id = ?`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, ErrNotFound
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("select task: %w", err)
	}
	return t, nil
}

// InsertTask creates a task and returns the committed row. The caller
// must be a member of the project.
func (s *Storage) InsertTask(ctx context.Context, projectID, userID int64, title, description, priority string) (domain.Task, error) {
	member, err := s.IsMember(ctx, projectID, userID)
	if err != nil {
		return domain.Task{}, err
	}
	if !member {
		return domain.Task{}, ErrForbidden
	}
	if priority == "" {
		priority = domain.PriorityMedium
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (project_id, title, description, priority) VALUES (?, ?, ?, ?)`,
		projectID, title, description, priority)
	if err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Task{}, err
	}
	return s.taskByID(ctx, s.db, id)
}

// TasksForProject returns the project's tasks, newest first, with the
// assignee display name joined in. The caller must be a member.
func (s *Storage) TasksForProject(ctx context.Context, projectID, userID int64) ([]domain.Task, error) {
	member, err := s.IsMember(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrForbidden
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+`
         FROM tasks t LEFT JOIN users u ON t.assignee_id = u.id
         WHERE t.project_id = ?
         ORDER BY t.created_at DESC, t.id DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("select tasks: %w", err)
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTask applies a partial update with coalesce semantics: fields the
// caller did not provide keep their stored value. It returns the row as
// actually persisted, so concurrent writers resolve to last-writer-observed.
func (s *Storage) UpdateTask(ctx context.Context, taskID, userID int64, upd domain.TaskUpdate) (domain.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	var member int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM tasks t
         JOIN project_members pm ON t.project_id = pm.project_id
         WHERE t.id = ? AND pm.user_id = ?`, taskID, userID).Scan(&member)
	if err != nil {
		return domain.Task{}, fmt.Errorf("check task access: %w", err)
	}
	if member == 0 {
		return domain.Task{}, ErrForbidden
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE tasks
         SET title       = COALESCE(?, title),
             description = COALESCE(?, description),
             status      = COALESCE(?, status),
             priority    = COALESCE(?, priority),
             assignee_id = COALESCE(?, assignee_id)
         WHERE id = ?`,
		upd.Title, upd.Description, upd.Status, upd.Priority, upd.AssigneeID, taskID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("update task: %w", err)
	}

	t, err := s.taskByID(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// DeleteTask removes the task and returns the deleted row so the caller
// can address the owning project's room.
func (s *Storage) DeleteTask(ctx context.Context, taskID, userID int64) (domain.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := s.taskByID(ctx, tx, taskID)
	if errors.Is(err, ErrNotFound) {
		return domain.Task{}, ErrForbidden
	}
	if err != nil {
		return domain.Task{}, err
	}
	var member int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM project_members WHERE project_id = ? AND user_id = ?`,
		t.ProjectID, userID).Scan(&member)
	if err != nil {
		return domain.Task{}, fmt.Errorf("check task access: %w", err)
	}
	if member == 0 {
		return domain.Task{}, ErrForbidden
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID); err != nil {
		return domain.Task{}, fmt.Errorf("delete task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// InsertComment appends a comment and returns the committed row joined
// with the author name, plus the task's project id for room addressing.
func (s *Storage) InsertComment(ctx context.Context, taskID, userID int64, content string) (domain.Comment, int64, error) {
	var projectID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT t.project_id FROM tasks t
         JOIN project_members pm ON t.project_id = pm.project_id
         WHERE t.id = ? AND pm.user_id = ?`, taskID, userID).Scan(&projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Comment{}, 0, ErrForbidden
	}
	if err != nil {
		return domain.Comment{}, 0, fmt.Errorf("check comment access: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO comments (task_id, user_id, content) VALUES (?, ?, ?)`,
		taskID, userID, content)
	if err != nil {
		return domain.Comment{}, 0, fmt.Errorf("insert comment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Comment{}, 0, err
	}

	var c domain.Comment
	err = s.db.QueryRowContext(ctx,
		`SELECT c.id, c.task_id, c.user_id, u.name, c.content, c.created_at
         FROM comments c JOIN users u ON c.user_id = u.id
         WHERE c.id = ?`, id).
		Scan(&c.ID, &c.TaskID, &c.UserID, &c.UserName, &c.Content, &c.CreatedAt)
	if err != nil {
		return domain.Comment{}, 0, fmt.Errorf("select comment: %w", err)
	}
	return c, projectID, nil
}

// CommentsForTask returns the task's comments, oldest first.
func (s *Storage) CommentsForTask(ctx context.Context, taskID, userID int64) ([]domain.Comment, error) {
	var member int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM tasks t
         JOIN project_members pm ON t.project_id = pm.project_id
         WHERE t.id = ? AND pm.user_id = ?`, taskID, userID).Scan(&member)
	if err != nil {
		return nil, fmt.Errorf("check comment access: %w", err)
	}
	if member == 0 {
		return nil, ErrForbidden
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.task_id, c.user_id, u.name, c.content, c.created_at
         FROM comments c JOIN users u ON c.user_id = u.id
         WHERE c.task_id = ?
         ORDER BY c.created_at ASC, c.id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("select comments: %w", err)
	}
	defer rows.Close()

	comments := []domain.Comment{}
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.UserID, &c.UserName, &c.Content, &c.CreatedAt); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}
