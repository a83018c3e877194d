package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

const (
	TaskCreated  = "task_created"
	TaskUpdated  = "task_updated"
	TaskDeleted  = "task_deleted"
	CommentAdded = "comment_added"

	// JoinProject is the only client-to-server control message.
	JoinProject = "join_project"
)

// Event is an immutable snapshot of a committed mutation, pushed to every
// connection in the owning project's room. The payload is the full
// post-mutation row, except TaskDeleted which carries only the task id.
type Event struct {
	Type    string                 `json:"type"`
	Payload sonic.NoCopyRawMessage `json:"payload"`
}

// NewTaskCreated builds a task_created event from the committed row.
func NewTaskCreated(t Task) (Event, error) { return newEvent(TaskCreated, t) }

// NewTaskUpdated builds a task_updated event from the post-update row.
func NewTaskUpdated(t Task) (Event, error) { return newEvent(TaskUpdated, t) }

// NewTaskDeleted builds a task_deleted event carrying only the identifier.
func NewTaskDeleted(taskID int64) (Event, error) { return newEvent(TaskDeleted, taskID) }

// NewCommentAdded builds a comment_added event from the committed row,
// including the joined author display name.
func NewCommentAdded(c Comment) (Event, error) { return newEvent(CommentAdded, c) }

func newEvent(typ string, payload any) (Event, error) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Event{Type: typ, Payload: data}, nil
}

// RoomKey returns the broadcast room key for a project.
func RoomKey(projectID int64) string {
	return "project_" + strconv.FormatInt(projectID, 10)
}

// ParseID decodes an identifier that may arrive as a JSON number or a
// JSON string. The task_deleted payload and the join_project control
// message both historically carried either shape, so consumers must
// coerce before comparing against local int64 keys.
func ParseID(raw []byte) (int64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return 0, fmt.Errorf("empty identifier")
	}
	if s[0] == '"' {
		var str string
		if err := sonic.Unmarshal(raw, &str); err != nil {
			return 0, fmt.Errorf("parse identifier: %w", err)
		}
		s = str
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse identifier %q: %w", s, err)
	}
	return id, nil
}
