package board

import (
	"io"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/baidenprynce9-wq/codealpha-tasks/domain"
)

func newTestBoard(t *testing.T) *Board {
	t.Helper()
	logger := log.New()
	logger.SetOutput(io.Discard)
	return New(logger)
}

func task(id int64, title string) domain.Task {
	return domain.Task{ID: id, ProjectID: 1, Title: title, Status: domain.StatusTodo, Priority: domain.PriorityMedium}
}

func mustEvent(t *testing.T, build func() (domain.Event, error)) domain.Event {
	t.Helper()
	ev, err := build()
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	return ev
}

func created(t *testing.T, row domain.Task) domain.Event {
	return mustEvent(t, func() (domain.Event, error) { return domain.NewTaskCreated(row) })
}

func updated(t *testing.T, row domain.Task) domain.Event {
	return mustEvent(t, func() (domain.Event, error) { return domain.NewTaskUpdated(row) })
}

func deleted(t *testing.T, id int64) domain.Event {
	return mustEvent(t, func() (domain.Event, error) { return domain.NewTaskDeleted(id) })
}

func titles(b *Board) []string {
	tasks := b.Tasks()
	out := make([]string, len(tasks))
	for i, tk := range tasks {
		out[i] = tk.Title
	}
	return out
}

func assertTitles(t *testing.T, b *Board, want ...string) {
	t.Helper()
	got := titles(b)
	if len(got) != len(want) {
		t.Fatalf("titles = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("titles = %v, want %v", got, want)
		}
	}
}

func TestCreatedInsertsAtFront(t *testing.T) {
	b := newTestBoard(t)
	b.Bootstrap([]domain.Task{task(1, "old")})

	b.Apply(created(t, task(2, "new")))

	assertTitles(t, b, "new", "old")
}

func TestApplyIsIdempotent(t *testing.T) {
	b := newTestBoard(t)
	b.Bootstrap(nil)

	ev := created(t, task(1, "once"))
	b.Apply(ev)
	b.Apply(ev)

	assertTitles(t, b, "once")
}

func TestUpdatedReplacesById(t *testing.T) {
	b := newTestBoard(t)
	b.Bootstrap([]domain.Task{task(1, "a"), task(2, "b")})

	row := task(2, "b2")
	row.Status = domain.StatusDone
	b.Apply(updated(t, row))

	assertTitles(t, b, "a", "b2")
	got, ok := b.Task(2)
	if !ok || got.Status != domain.StatusDone {
		t.Fatalf("task 2 = %+v, want status done", got)
	}
}

func TestUpdatedForUnknownTaskInserts(t *testing.T) {
	// A task_updated can arrive for a row created after our bulk fetch
	// whose task_created we missed.
	b := newTestBoard(t)
	b.Bootstrap([]domain.Task{task(1, "a")})

	b.Apply(updated(t, task(9, "late")))

	if _, ok := b.Task(9); !ok {
		t.Fatal("unknown updated task should be inserted")
	}
}

func TestDeletedRemovesById(t *testing.T) {
	b := newTestBoard(t)
	b.Bootstrap([]domain.Task{task(1, "a"), task(2, "b"), task(3, "c")})

	b.Apply(deleted(t, 2))

	assertTitles(t, b, "a", "c")
	if _, ok := b.Task(2); ok {
		t.Fatal("deleted task still present")
	}
}

func TestDeletedUnknownIdIsNoop(t *testing.T) {
	b := newTestBoard(t)
	b.Bootstrap([]domain.Task{task(1, "a")})

	b.Apply(deleted(t, 99))

	assertTitles(t, b, "a")
}

func TestDeletedAcceptsStringPayload(t *testing.T) {
	b := newTestBoard(t)
	b.Bootstrap([]domain.Task{task(7, "doomed")})

	b.Apply(domain.Event{Type: domain.TaskDeleted, Payload: []byte(`"7"`)})

	if _, ok := b.Task(7); ok {
		t.Fatal("string-id delete not applied")
	}
}

func TestBootstrapEventRowsWin(t *testing.T) {
	// The websocket join precedes the bulk fetch, so an update can land
	// before the fetched rows do. The fresher event row must survive.
	b := newTestBoard(t)
	b.Apply(updated(t, task(1, "fresh")))

	b.Bootstrap([]domain.Task{task(1, "stale"), task(2, "b")})

	got, _ := b.Task(1)
	if got.Title != "fresh" {
		t.Fatalf("task 1 title = %q, want event row to win", got.Title)
	}
	if _, ok := b.Task(2); !ok {
		t.Fatal("fetched row missing")
	}
}

func TestBootstrapSkipsTombstonedRows(t *testing.T) {
	// A delete that arrives before the bulk fetch must suppress the
	// stale fetched row.
	b := newTestBoard(t)
	b.Apply(deleted(t, 2))

	b.Bootstrap([]domain.Task{task(1, "a"), task(2, "zombie")})

	assertTitles(t, b, "a")
}

func TestOptimisticUpdateOverwrittenByServerEvent(t *testing.T) {
	b := newTestBoard(t)
	b.Bootstrap([]domain.Task{task(1, "a")})

	status := domain.StatusDone
	b.OptimisticUpdate(1, domain.TaskUpdate{Status: &status})
	got, _ := b.Task(1)
	if got.Status != domain.StatusDone {
		t.Fatalf("optimistic status = %q", got.Status)
	}

	// Server committed something else; its event is authoritative.
	row := task(1, "a")
	row.Status = domain.StatusInProgress
	b.Apply(updated(t, row))

	got, _ = b.Task(1)
	if got.Status != domain.StatusInProgress {
		t.Fatalf("status = %q, want server row to win", got.Status)
	}
}

func TestOptimisticRemoveMakesDeleteEventNoop(t *testing.T) {
	b := newTestBoard(t)
	b.Bootstrap([]domain.Task{task(1, "a"), task(2, "b")})

	b.OptimisticRemove(2)
	b.Apply(deleted(t, 2))

	assertTitles(t, b, "a")
}

func TestCommentsScopedToOpenTask(t *testing.T) {
	b := newTestBoard(t)
	b.Bootstrap([]domain.Task{task(1, "a"), task(2, "b")})
	b.OpenTask(1, []domain.Comment{{ID: 1, TaskID: 1, Content: "first"}})

	matching := mustEvent(t, func() (domain.Event, error) {
		return domain.NewCommentAdded(domain.Comment{ID: 2, TaskID: 1, Content: "second"})
	})
	other := mustEvent(t, func() (domain.Event, error) {
		return domain.NewCommentAdded(domain.Comment{ID: 3, TaskID: 2, Content: "elsewhere"})
	})
	b.Apply(matching)
	b.Apply(other)

	comments := b.Comments()
	if len(comments) != 2 {
		t.Fatalf("comments = %d, want 2", len(comments))
	}
	if comments[1].Content != "second" {
		t.Fatalf("appended comment = %q", comments[1].Content)
	}
}

func TestCommentsDroppedWhenNoTaskOpen(t *testing.T) {
	b := newTestBoard(t)
	b.Bootstrap([]domain.Task{task(1, "a")})

	ev := mustEvent(t, func() (domain.Event, error) {
		return domain.NewCommentAdded(domain.Comment{ID: 1, TaskID: 1, Content: "x"})
	})
	b.Apply(ev)

	if len(b.Comments()) != 0 {
		t.Fatal("comment retained with no open task")
	}
}

func TestCloseTaskClearsComments(t *testing.T) {
	b := newTestBoard(t)
	b.OpenTask(1, []domain.Comment{{ID: 1, TaskID: 1}})
	b.CloseTask()

	if len(b.Comments()) != 0 {
		t.Fatal("comments survive CloseTask")
	}
}

func TestUnknownEventTypeIgnored(t *testing.T) {
	b := newTestBoard(t)
	b.Bootstrap([]domain.Task{task(1, "a")})

	b.Apply(domain.Event{Type: "project_archived", Payload: []byte(`{}`)})

	assertTitles(t, b, "a")
}

// Two replicas watch the same room. One performs mutations with
// optimistic application, the other only consumes events. After a
// create, a partial update and a delete both must hold the same list.
func TestTwoClientsConverge(t *testing.T) {
	actor := newTestBoard(t)
	watcher := newTestBoard(t)
	actor.Bootstrap([]domain.Task{task(1, "keep")})
	watcher.Bootstrap([]domain.Task{task(1, "keep")})

	broadcast := func(ev domain.Event) {
		actor.Apply(ev)
		watcher.Apply(ev)
	}

	// Create: the actor has no optimistic insert, both learn via the event.
	row := task(2, "draft")
	broadcast(created(t, row))

	// Partial update: actor applies optimistically, server commits and
	// broadcasts the full row.
	title := "final"
	actor.OptimisticUpdate(2, domain.TaskUpdate{Title: &title})
	committed := row
	committed.Title = title
	broadcast(updated(t, committed))

	// Delete: actor removes optimistically, event removes it everywhere.
	actor.OptimisticRemove(1)
	broadcast(deleted(t, 1))

	assertTitles(t, actor, "final")
	assertTitles(t, watcher, "final")

	at, wt := actor.Tasks(), watcher.Tasks()
	if len(at) != 1 || len(wt) != 1 {
		t.Fatalf("replicas diverged: actor=%+v watcher=%+v", at, wt)
	}
	if at[0].ID != wt[0].ID || at[0].Title != wt[0].Title || at[0].Status != wt[0].Status {
		t.Fatalf("replicas diverged: actor=%+v watcher=%+v", at[0], wt[0])
	}
}
