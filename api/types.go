package api

import (
	"context"

	"github.com/baidenprynce9-wq/codealpha-tasks/domain"
)

// Storage abstracts the relational mutation store for handlers. It is
// the single source of truth; every broadcast event is built from a row
// it has already committed.
type Storage interface {
	CreateUser(ctx context.Context, name, email, passwordHash string) (domain.User, error)
	UserByEmail(ctx context.Context, email string) (domain.User, string, error)

	CreateProject(ctx context.Context, ownerID int64, name, description string) (domain.Project, error)
	ProjectsForUser(ctx context.Context, userID int64) ([]domain.Project, error)
	ProjectForMember(ctx context.Context, projectID, userID int64) (domain.Project, error)
	DeleteProject(ctx context.Context, projectID, ownerID int64) error
	AddMember(ctx context.Context, projectID, ownerID int64, email, role string) error

	InsertTask(ctx context.Context, projectID, userID int64, title, description, priority string) (domain.Task, error)
	TasksForProject(ctx context.Context, projectID, userID int64) ([]domain.Task, error)
	UpdateTask(ctx context.Context, taskID, userID int64, upd domain.TaskUpdate) (domain.Task, error)
	DeleteTask(ctx context.Context, taskID, userID int64) (domain.Task, error)

	InsertComment(ctx context.Context, taskID, userID int64, content string) (domain.Comment, int64, error)
	CommentsForTask(ctx context.Context, taskID, userID int64) ([]domain.Comment, error)
}

// Publisher fans a committed domain event out to a room. Publish is
// fire-and-forget: it never blocks and never fails the HTTP response.
type Publisher interface {
	Publish(room string, ev domain.Event)
}

// Authenticator is implemented by types able to extract user IDs from
// Authorization headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (int64, error)
}

// Deduper prevents reprocessing of repeated mutation requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID int64, key string) (bool, error)
	// Remove deletes a previously added key, used when the store write fails.
	Remove(ctx context.Context, userID int64, key string) error
}
