// Package board maintains a client-side replica of a project's task
// list, reconciling an initial bulk fetch with realtime push events.
//
// Events and fetches race: the websocket join happens before the task
// fetch returns, so a push may describe a row the bulk response also
// contains, or delete a row the replica has never seen. Board resolves
// both by treating every event as an upsert or tombstone keyed by task
// id. All methods must be called from a single goroutine.
package board

import (
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/baidenprynce9-wq/codealpha-tasks/domain"
)

// Board is the reconciled replica of one project's tasks.
type Board struct {
	logger *log.Logger

	tasks []domain.Task
	index map[int64]int

	// tombstones remembers task_deleted events that arrived before the
	// bulk fetch, so Bootstrap can skip rows deleted mid-flight.
	tombstones map[int64]struct{}
	booted     bool

	openTaskID int64
	comments   []domain.Comment
}

// New returns an empty Board. Events applied before Bootstrap are
// retained and win over the rows the bulk fetch later delivers.
func New(logger *log.Logger) *Board {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Board{
		logger:     logger,
		index:      make(map[int64]int),
		tombstones: make(map[int64]struct{}),
	}
}

// Tasks returns the current task list in display order. The returned
// slice is a copy.
func (b *Board) Tasks() []domain.Task {
	out := make([]domain.Task, len(b.tasks))
	copy(out, b.tasks)
	return out
}

// Task returns the replica's row for id, if present.
func (b *Board) Task(id int64) (domain.Task, bool) {
	i, ok := b.index[id]
	if !ok {
		return domain.Task{}, false
	}
	return b.tasks[i], true
}

// Comments returns the open task's comment list. Empty when no task is
// open.
func (b *Board) Comments() []domain.Comment {
	out := make([]domain.Comment, len(b.comments))
	copy(out, b.comments)
	return out
}

// Bootstrap merges the bulk-fetched rows into the replica. Rows already
// known from events win; rows deleted while the fetch was in flight are
// skipped. The remaining fetched rows keep their fetch order, after any
// event-sourced rows.
func (b *Board) Bootstrap(rows []domain.Task) {
	for _, row := range rows {
		if _, dead := b.tombstones[row.ID]; dead {
			continue
		}
		if _, known := b.index[row.ID]; known {
			continue
		}
		b.index[row.ID] = len(b.tasks)
		b.tasks = append(b.tasks, row)
	}
	b.booted = true
	b.tombstones = make(map[int64]struct{})
}

// Apply folds one push event into the replica. Unknown event types are
// logged and skipped so newer servers do not break older watchers.
// Applying the same event twice leaves the replica unchanged.
func (b *Board) Apply(ev domain.Event) {
	switch ev.Type {
	case domain.TaskCreated:
		var t domain.Task
		if err := sonic.Unmarshal(ev.Payload, &t); err != nil {
			b.logger.Warnf("bad %s payload: %v", ev.Type, err)
			return
		}
		b.upsert(t, true)
	case domain.TaskUpdated:
		var t domain.Task
		if err := sonic.Unmarshal(ev.Payload, &t); err != nil {
			b.logger.Warnf("bad %s payload: %v", ev.Type, err)
			return
		}
		b.upsert(t, false)
	case domain.TaskDeleted:
		id, err := domain.ParseID(ev.Payload)
		if err != nil {
			b.logger.Warnf("bad %s payload: %v", ev.Type, err)
			return
		}
		b.remove(id)
	case domain.CommentAdded:
		var c domain.Comment
		if err := sonic.Unmarshal(ev.Payload, &c); err != nil {
			b.logger.Warnf("bad %s payload: %v", ev.Type, err)
			return
		}
		if b.openTaskID != 0 && c.TaskID == b.openTaskID {
			b.comments = append(b.comments, c)
		}
	default:
		b.logger.Debugf("ignoring event type %q", ev.Type)
	}
}

// upsert replaces the row when the id is known, otherwise inserts it.
// front controls where unknown rows land: task_created rows go first to
// match the server's created_at DESC ordering, task_updated rows for
// tasks we never saw go last.
func (b *Board) upsert(t domain.Task, front bool) {
	if i, ok := b.index[t.ID]; ok {
		b.tasks[i] = t
		return
	}
	if front {
		b.tasks = append([]domain.Task{t}, b.tasks...)
		for id, i := range b.index {
			b.index[id] = i + 1
		}
		b.index[t.ID] = 0
		return
	}
	b.index[t.ID] = len(b.tasks)
	b.tasks = append(b.tasks, t)
}

func (b *Board) remove(id int64) {
	i, ok := b.index[id]
	if !ok {
		if !b.booted {
			b.tombstones[id] = struct{}{}
		}
		return
	}
	b.tasks = append(b.tasks[:i], b.tasks[i+1:]...)
	delete(b.index, id)
	for tid, j := range b.index {
		if j > i {
			b.index[tid] = j - 1
		}
	}
	if b.openTaskID == id {
		b.CloseTask()
	}
}

// OptimisticUpdate applies a partial update locally before the server
// confirms it. The authoritative task_updated event later overwrites
// the row with whatever the server committed.
func (b *Board) OptimisticUpdate(taskID int64, upd domain.TaskUpdate) {
	i, ok := b.index[taskID]
	if !ok {
		return
	}
	b.tasks[i] = b.tasks[i].Merge(upd)
}

// OptimisticRemove drops the row locally before the server confirms the
// delete. The later task_deleted event is then a no-op.
func (b *Board) OptimisticRemove(taskID int64) {
	b.remove(taskID)
}

// OpenTask marks a task as open and installs its fetched comment
// history. Subsequent comment_added events for this task are appended;
// events for other tasks are dropped.
func (b *Board) OpenTask(id int64, comments []domain.Comment) {
	b.openTaskID = id
	b.comments = append([]domain.Comment(nil), comments...)
}

// CloseTask clears the open task and its comments.
func (b *Board) CloseTask() {
	b.openTaskID = 0
	b.comments = nil
}
