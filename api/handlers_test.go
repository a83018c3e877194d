package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/baidenprynce9-wq/codealpha-tasks/domain"
	"github.com/baidenprynce9-wq/codealpha-tasks/storage"
)

type mockStore struct {
	Storage

	insertTask func(ctx context.Context, projectID, userID int64, title, description, priority string) (domain.Task, error)
	updateTask func(ctx context.Context, taskID, userID int64, upd domain.TaskUpdate) (domain.Task, error)
	deleteTask func(ctx context.Context, taskID, userID int64) (domain.Task, error)
	insertComm func(ctx context.Context, taskID, userID int64, content string) (domain.Comment, int64, error)
}

func (m *mockStore) InsertTask(ctx context.Context, projectID, userID int64, title, description, priority string) (domain.Task, error) {
	return m.insertTask(ctx, projectID, userID, title, description, priority)
}

func (m *mockStore) UpdateTask(ctx context.Context, taskID, userID int64, upd domain.TaskUpdate) (domain.Task, error) {
	return m.updateTask(ctx, taskID, userID, upd)
}

func (m *mockStore) DeleteTask(ctx context.Context, taskID, userID int64) (domain.Task, error) {
	return m.deleteTask(ctx, taskID, userID)
}

func (m *mockStore) InsertComment(ctx context.Context, taskID, userID int64, content string) (domain.Comment, int64, error) {
	return m.insertComm(ctx, taskID, userID, content)
}

type mockAuth struct {
	userID int64
	err    error
}

func (m *mockAuth) UserIDFromAuthHeader(string) (int64, error) { return m.userID, m.err }

type published struct {
	room string
	ev   domain.Event
}

type mockPublisher struct {
	events []published
}

func (m *mockPublisher) Publish(room string, ev domain.Event) {
	m.events = append(m.events, published{room: room, ev: ev})
}

type mockDeduper struct {
	added   bool
	addErr  error
	removed []string
}

func (m *mockDeduper) Add(ctx context.Context, userID int64, key string) (bool, error) {
	return m.added, m.addErr
}

func (m *mockDeduper) Remove(ctx context.Context, userID int64, key string) error {
	m.removed = append(m.removed, key)
	return nil
}

func testLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func doRequest(t *testing.T, h echo.HandlerFunc, method, path, body string, params map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer x.y.z")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	names := make([]string, 0, len(params))
	values := make([]string, 0, len(params))
	for k, v := range params {
		names = append(names, k)
		values = append(values, v)
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	if err := h(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	return rec
}

func TestCreateTaskPublishesCommittedRow(t *testing.T) {
	committed := domain.Task{
		ID:        7,
		ProjectID: 3,
		Title:     "write docs",
		Status:    domain.StatusTodo,
		Priority:  domain.PriorityHigh,
	}
	store := &mockStore{
		insertTask: func(ctx context.Context, projectID, userID int64, title, description, priority string) (domain.Task, error) {
			if projectID != 3 || userID != 11 || title != "write docs" || priority != "high" {
				t.Fatalf("unexpected insert args: %d %d %q %q", projectID, userID, title, priority)
			}
			return committed, nil
		},
	}
	pub := &mockPublisher{}

	rec := doRequest(t, createTask(store, pub, &mockAuth{userID: 11}, nil, testLogger()),
		http.MethodPost, "/api/tasks", `{"project_id":3,"title":"write docs","priority":"high"}`, nil)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if len(pub.events) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.events))
	}
	if pub.events[0].room != "project_3" {
		t.Fatalf("room = %q, want project_3", pub.events[0].room)
	}
	if pub.events[0].ev.Type != domain.TaskCreated {
		t.Fatalf("event type = %q", pub.events[0].ev.Type)
	}
	var got domain.Task
	if err := sonic.Unmarshal(pub.events[0].ev.Payload, &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got.ID != committed.ID || got.Title != committed.Title {
		t.Fatalf("payload = %+v, want committed row", got)
	}
}

func TestCreateTaskStoreFailureDoesNotPublish(t *testing.T) {
	store := &mockStore{
		insertTask: func(ctx context.Context, projectID, userID int64, title, description, priority string) (domain.Task, error) {
			return domain.Task{}, storage.ErrForbidden
		},
	}
	pub := &mockPublisher{}

	rec := doRequest(t, createTask(store, pub, &mockAuth{userID: 11}, nil, testLogger()),
		http.MethodPost, "/api/tasks", `{"project_id":3,"title":"x"}`, nil)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if len(pub.events) != 0 {
		t.Fatalf("published %d events after store failure, want 0", len(pub.events))
	}
}

func TestCreateTaskUnauthorized(t *testing.T) {
	pub := &mockPublisher{}
	rec := doRequest(t, createTask(&mockStore{}, pub, &mockAuth{err: errMissingAuthorization}, nil, testLogger()),
		http.MethodPost, "/api/tasks", `{"project_id":3,"title":"x"}`, nil)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(pub.events) != 0 {
		t.Fatalf("published events without auth")
	}
}

func TestCreateTaskRejectsInvalidPriority(t *testing.T) {
	rec := doRequest(t, createTask(&mockStore{}, &mockPublisher{}, &mockAuth{userID: 1}, nil, testLogger()),
		http.MethodPost, "/api/tasks", `{"project_id":3,"title":"x","priority":"urgent"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateTaskDuplicateIdempotencyKey(t *testing.T) {
	store := &mockStore{
		insertTask: func(ctx context.Context, projectID, userID int64, title, description, priority string) (domain.Task, error) {
			t.Fatal("store called for duplicate request")
			return domain.Task{}, nil
		},
	}
	h := createTask(store, &mockPublisher{}, &mockAuth{userID: 11}, &mockDeduper{added: false}, testLogger())

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{"project_id":3,"title":"x"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer x.y.z")
	req.Header.Set(idempotencyHeader, "key-1")
	rec := httptest.NewRecorder()
	if err := h(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestCreateTaskReleasesKeyOnStoreFailure(t *testing.T) {
	store := &mockStore{
		insertTask: func(ctx context.Context, projectID, userID int64, title, description, priority string) (domain.Task, error) {
			return domain.Task{}, errors.New("disk full")
		},
	}
	deduper := &mockDeduper{added: true}
	h := createTask(store, &mockPublisher{}, &mockAuth{userID: 11}, deduper, testLogger())

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{"project_id":3,"title":"x"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer x.y.z")
	req.Header.Set(idempotencyHeader, "key-2")
	rec := httptest.NewRecorder()
	if err := h(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if len(deduper.removed) != 1 || deduper.removed[0] != "key-2" {
		t.Fatalf("removed keys = %v, want [key-2]", deduper.removed)
	}
}

func TestUpdateTaskPublishesPersistedRow(t *testing.T) {
	// The store applies the partial update and returns the full row; the
	// broadcast must carry that row, not the request fields.
	persisted := domain.Task{
		ID:        4,
		ProjectID: 9,
		Title:     "existing title",
		Status:    domain.StatusDone,
		Priority:  domain.PriorityLow,
	}
	store := &mockStore{
		updateTask: func(ctx context.Context, taskID, userID int64, upd domain.TaskUpdate) (domain.Task, error) {
			if taskID != 4 {
				t.Fatalf("taskID = %d, want 4", taskID)
			}
			if upd.Status == nil || *upd.Status != domain.StatusDone {
				t.Fatalf("update missing status field: %+v", upd)
			}
			if upd.Title != nil {
				t.Fatalf("title should be absent, got %q", *upd.Title)
			}
			return persisted, nil
		},
	}
	pub := &mockPublisher{}

	rec := doRequest(t, updateTask(store, pub, &mockAuth{userID: 11}, nil, testLogger()),
		http.MethodPut, "/api/tasks/4", `{"status":"done"}`, map[string]string{"id": "4"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if len(pub.events) != 1 || pub.events[0].ev.Type != domain.TaskUpdated {
		t.Fatalf("events = %+v, want one task_updated", pub.events)
	}
	if pub.events[0].room != "project_9" {
		t.Fatalf("room = %q, want project_9", pub.events[0].room)
	}
	var got domain.Task
	if err := sonic.Unmarshal(pub.events[0].ev.Payload, &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got.Title != "existing title" {
		t.Fatalf("payload title = %q, want persisted value", got.Title)
	}
}

func TestUpdateTaskRejectsInvalidStatus(t *testing.T) {
	rec := doRequest(t, updateTask(&mockStore{}, &mockPublisher{}, &mockAuth{userID: 1}, nil, testLogger()),
		http.MethodPut, "/api/tasks/4", `{"status":"archived"}`, map[string]string{"id": "4"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDeleteTaskPublishesBareID(t *testing.T) {
	store := &mockStore{
		deleteTask: func(ctx context.Context, taskID, userID int64) (domain.Task, error) {
			return domain.Task{ID: taskID, ProjectID: 5}, nil
		},
	}
	pub := &mockPublisher{}

	rec := doRequest(t, deleteTask(store, pub, &mockAuth{userID: 11}, testLogger()),
		http.MethodDelete, "/api/tasks/42", "", map[string]string{"id": "42"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(pub.events) != 1 || pub.events[0].ev.Type != domain.TaskDeleted {
		t.Fatalf("events = %+v, want one task_deleted", pub.events)
	}
	if string(pub.events[0].ev.Payload) != "42" {
		t.Fatalf("payload = %s, want bare 42", pub.events[0].ev.Payload)
	}
	if pub.events[0].room != "project_5" {
		t.Fatalf("room = %q, want project_5", pub.events[0].room)
	}
}

func TestDeleteTaskNotFound(t *testing.T) {
	store := &mockStore{
		deleteTask: func(ctx context.Context, taskID, userID int64) (domain.Task, error) {
			return domain.Task{}, storage.ErrNotFound
		},
	}
	pub := &mockPublisher{}

	rec := doRequest(t, deleteTask(store, pub, &mockAuth{userID: 11}, testLogger()),
		http.MethodDelete, "/api/tasks/42", "", map[string]string{"id": "42"})

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if len(pub.events) != 0 {
		t.Fatalf("published events for missing task")
	}
}

func TestAddCommentPublishesToOwningProjectRoom(t *testing.T) {
	store := &mockStore{
		insertComm: func(ctx context.Context, taskID, userID int64, content string) (domain.Comment, int64, error) {
			return domain.Comment{ID: 1, TaskID: taskID, UserID: userID, UserName: "ada", Content: content}, 8, nil
		},
	}
	pub := &mockPublisher{}

	rec := doRequest(t, addComment(store, pub, &mockAuth{userID: 11}, nil, testLogger()),
		http.MethodPost, "/api/comments", `{"task_id":6,"content":"looks good"}`, nil)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if len(pub.events) != 1 || pub.events[0].ev.Type != domain.CommentAdded {
		t.Fatalf("events = %+v, want one comment_added", pub.events)
	}
	if pub.events[0].room != "project_8" {
		t.Fatalf("room = %q, want project_8", pub.events[0].room)
	}
	var got domain.Comment
	if err := sonic.Unmarshal(pub.events[0].ev.Payload, &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got.UserName != "ada" {
		t.Fatalf("payload user_name = %q, want joined author name", got.UserName)
	}
}

func TestStorageErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{storage.ErrForbidden, http.StatusForbidden},
		{storage.ErrNotFound, http.StatusNotFound},
		{storage.ErrDuplicate, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		if err := storageErrorResponse(c, testLogger(), tc.err); err != nil {
			t.Fatalf("storageErrorResponse: %v", err)
		}
		if rec.Code != tc.want {
			t.Fatalf("status for %v = %d, want %d", tc.err, rec.Code, tc.want)
		}
	}
}

func TestDecodeBodyRejectsUnknownFields(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"x","bogus":1}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	var body createTaskRequest
	if err := decodeBody(c, &body); err == nil {
		t.Fatal("expected error for unknown field")
	}
}
