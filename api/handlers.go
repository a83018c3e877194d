package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/baidenprynce9-wq/codealpha-tasks/domain"
	"github.com/baidenprynce9-wq/codealpha-tasks/storage"
)

const maxBodySize = 1 << 20

// idempotencyHeader carries an optional client-chosen key; repeating a
// mutation with the same key is rejected instead of re-executed.
const idempotencyHeader = "Idempotency-Key"

type errorResponse struct {
	Message string `json:"message"`
}

// Register wires up all API routes on the provided Echo instance. The
// websocket endpoint is registered separately in main, next to the hub
// it needs.
func Register(e *echo.Echo, store Storage, hub Publisher, auth *Auth, deduper Deduper, logger *log.Logger) {
	e.POST("/api/auth/register", registerUser(store, auth, logger))
	e.POST("/api/auth/login", loginUser(store, auth, logger))

	e.GET("/api/projects", listProjects(store, auth, logger))
	e.POST("/api/projects", createProject(store, auth, logger))
	e.GET("/api/projects/:id", getProject(store, auth, logger))
	e.DELETE("/api/projects/:id", deleteProject(store, auth, logger))
	e.POST("/api/projects/:id/members", addMember(store, auth, logger))

	e.GET("/api/tasks/project/:projectId", getTasks(store, auth, logger))
	e.POST("/api/tasks", createTask(store, hub, auth, deduper, logger))
	e.PUT("/api/tasks/:id", updateTask(store, hub, auth, deduper, logger))
	e.DELETE("/api/tasks/:id", deleteTask(store, hub, auth, logger))

	e.GET("/api/comments/task/:taskId", getComments(store, auth, logger))
	e.POST("/api/comments", addComment(store, hub, auth, deduper, logger))

	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func pathID(c echo.Context, name string) (int64, error) {
	return strconv.ParseInt(c.Param(name), 10, 64)
}

func storageErrorResponse(c echo.Context, logger *log.Logger, err error) error {
	switch {
	case errors.Is(err, storage.ErrForbidden):
		return c.JSON(http.StatusForbidden, errorResponse{Message: "unauthorized"})
	case errors.Is(err, storage.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Message: "not found"})
	case errors.Is(err, storage.ErrDuplicate):
		return c.JSON(http.StatusConflict, errorResponse{Message: "already exists"})
	default:
		logger.Errorf("storage: %v", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Message: "server error"})
	}
}

// claimIdempotency records the request's idempotency key, if any. It
// returns conflict=true when the key was already seen, and a release
// function that frees the key again when the store write fails. Redis
// outages degrade to processing the request without deduplication.
func claimIdempotency(ctx context.Context, c echo.Context, deduper Deduper, userID int64, logger *log.Logger) (release func(), conflict bool) {
	release = func() {}
	key := c.Request().Header.Get(idempotencyHeader)
	if key == "" || deduper == nil {
		return release, false
	}
	added, err := deduper.Add(ctx, userID, key)
	if err != nil {
		logger.Warnf("idempotency check unavailable: %v", err)
		return release, false
	}
	if !added {
		return release, true
	}
	return func() {
		if err := deduper.Remove(ctx, userID, key); err != nil {
			logger.Errorf("idempotency rollback failed for key %s: %v", key, err)
		}
	}, false
}

// publish builds-and-broadcasts in one place so every mutation handler
// follows the same contract: the event goes out only after the store
// commit, and a broadcast problem can never fail the response.
func publish(hub Publisher, logger *log.Logger, room string, ev domain.Event, evErr error) {
	if evErr != nil {
		logger.Errorf("build event: %v", evErr)
		return
	}
	hub.Publish(room, ev)
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func createProject(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Message: err.Error()})
		}
		var req createProjectRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid body"})
		}
		if req.Name == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "name is required"})
		}
		p, err := store.CreateProject(ctx, userID, req.Name, req.Description)
		if err != nil {
			return storageErrorResponse(c, logger, err)
		}
		return c.JSON(http.StatusCreated, p)
	}
}

func listProjects(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Message: err.Error()})
		}
		projects, err := store.ProjectsForUser(ctx, userID)
		if err != nil {
			return storageErrorResponse(c, logger, err)
		}
		return c.JSON(http.StatusOK, projects)
	}
}

func getProject(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Message: err.Error()})
		}
		projectID, err := pathID(c, "id")
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid project id"})
		}
		p, err := store.ProjectForMember(ctx, projectID, userID)
		if err != nil {
			return storageErrorResponse(c, logger, err)
		}
		return c.JSON(http.StatusOK, p)
	}
}

func deleteProject(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Message: err.Error()})
		}
		projectID, err := pathID(c, "id")
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid project id"})
		}
		if err := store.DeleteProject(ctx, projectID, userID); err != nil {
			return storageErrorResponse(c, logger, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"message": "project deleted"})
	}
}

type addMemberRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func addMember(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Message: err.Error()})
		}
		projectID, err := pathID(c, "id")
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid project id"})
		}
		var req addMemberRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid body"})
		}
		if req.Email == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "email is required"})
		}
		if err := store.AddMember(ctx, projectID, userID, req.Email, req.Role); err != nil {
			return storageErrorResponse(c, logger, err)
		}
		return c.JSON(http.StatusCreated, map[string]string{"message": "member added"})
	}
}

func getTasks(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Message: err.Error()})
		}
		projectID, err := pathID(c, "projectId")
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid project id"})
		}
		tasks, err := store.TasksForProject(ctx, projectID, userID)
		if err != nil {
			return storageErrorResponse(c, logger, err)
		}
		return c.JSON(http.StatusOK, tasks)
	}
}

type createTaskRequest struct {
	ProjectID   int64  `json:"project_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

func createTask(store Storage, hub Publisher, auth Authenticator, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMutationMetrics(ctx, logger, "POST /api/tasks")
		c.SetRequest(c.Request().WithContext(spanCtx))
		ctx = spanCtx
		defer func() { metrics.Log(c.Response().Status, err) }()

		authStart := time.Now()
		userID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.JSON(http.StatusUnauthorized, errorResponse{Message: authErr.Error()})
			return err
		}

		var req createTaskRequest
		if decErr := decodeBody(c, &req); decErr != nil {
			metrics.SetErrorStage("decode")
			err = c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid body"})
			return err
		}
		if req.ProjectID == 0 || req.Title == "" {
			metrics.SetErrorStage("validate")
			err = c.JSON(http.StatusBadRequest, errorResponse{Message: "project_id and title are required"})
			return err
		}
		if req.Priority != "" && !domain.ValidPriority(req.Priority) {
			metrics.SetErrorStage("validate")
			err = c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid priority"})
			return err
		}

		release, conflict := claimIdempotency(ctx, c, deduper, userID, logger)
		if conflict {
			err = c.JSON(http.StatusConflict, errorResponse{Message: "duplicate request"})
			return err
		}

		storeStart := time.Now()
		task, storeErr := store.InsertTask(ctx, req.ProjectID, userID, req.Title, req.Description, req.Priority)
		metrics.ObserveStore(time.Since(storeStart))
		if storeErr != nil {
			release()
			metrics.SetErrorStage("store")
			err = storageErrorResponse(c, logger, storeErr)
			return err
		}

		publishStart := time.Now()
		ev, evErr := domain.NewTaskCreated(task)
		publish(hub, logger, domain.RoomKey(task.ProjectID), ev, evErr)
		metrics.ObservePublish(time.Since(publishStart))

		err = c.JSON(http.StatusCreated, task)
		return err
	}
}

func updateTask(store Storage, hub Publisher, auth Authenticator, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMutationMetrics(ctx, logger, "PUT /api/tasks/:id")
		c.SetRequest(c.Request().WithContext(spanCtx))
		ctx = spanCtx
		defer func() { metrics.Log(c.Response().Status, err) }()

		authStart := time.Now()
		userID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.JSON(http.StatusUnauthorized, errorResponse{Message: authErr.Error()})
			return err
		}

		taskID, idErr := pathID(c, "id")
		if idErr != nil {
			metrics.SetErrorStage("validate")
			err = c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid task id"})
			return err
		}
		var upd domain.TaskUpdate
		if decErr := decodeBody(c, &upd); decErr != nil {
			metrics.SetErrorStage("decode")
			err = c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid body"})
			return err
		}
		if !upd.Validate() {
			metrics.SetErrorStage("validate")
			err = c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid status or priority"})
			return err
		}

		release, conflict := claimIdempotency(ctx, c, deduper, userID, logger)
		if conflict {
			err = c.JSON(http.StatusConflict, errorResponse{Message: "duplicate request"})
			return err
		}

		storeStart := time.Now()
		task, storeErr := store.UpdateTask(ctx, taskID, userID, upd)
		metrics.ObserveStore(time.Since(storeStart))
		if storeErr != nil {
			release()
			metrics.SetErrorStage("store")
			err = storageErrorResponse(c, logger, storeErr)
			return err
		}

		// The event carries the row as persisted, not the request payload,
		// so concurrent writers converge on what the store actually holds.
		publishStart := time.Now()
		ev, evErr := domain.NewTaskUpdated(task)
		publish(hub, logger, domain.RoomKey(task.ProjectID), ev, evErr)
		metrics.ObservePublish(time.Since(publishStart))

		err = c.JSON(http.StatusOK, task)
		return err
	}
}

func deleteTask(store Storage, hub Publisher, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMutationMetrics(ctx, logger, "DELETE /api/tasks/:id")
		c.SetRequest(c.Request().WithContext(spanCtx))
		ctx = spanCtx
		defer func() { metrics.Log(c.Response().Status, err) }()

		authStart := time.Now()
		userID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.JSON(http.StatusUnauthorized, errorResponse{Message: authErr.Error()})
			return err
		}
		taskID, idErr := pathID(c, "id")
		if idErr != nil {
			metrics.SetErrorStage("validate")
			err = c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid task id"})
			return err
		}

		storeStart := time.Now()
		task, storeErr := store.DeleteTask(ctx, taskID, userID)
		metrics.ObserveStore(time.Since(storeStart))
		if storeErr != nil {
			metrics.SetErrorStage("store")
			err = storageErrorResponse(c, logger, storeErr)
			return err
		}

		publishStart := time.Now()
		ev, evErr := domain.NewTaskDeleted(task.ID)
		publish(hub, logger, domain.RoomKey(task.ProjectID), ev, evErr)
		metrics.ObservePublish(time.Since(publishStart))

		err = c.JSON(http.StatusOK, map[string]string{"message": "task deleted"})
		return err
	}
}

func getComments(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Message: err.Error()})
		}
		taskID, err := pathID(c, "taskId")
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid task id"})
		}
		comments, err := store.CommentsForTask(ctx, taskID, userID)
		if err != nil {
			return storageErrorResponse(c, logger, err)
		}
		return c.JSON(http.StatusOK, comments)
	}
}

type addCommentRequest struct {
	TaskID  int64  `json:"task_id"`
	Content string `json:"content"`
}

func addComment(store Storage, hub Publisher, auth Authenticator, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMutationMetrics(ctx, logger, "POST /api/comments")
		c.SetRequest(c.Request().WithContext(spanCtx))
		ctx = spanCtx
		defer func() { metrics.Log(c.Response().Status, err) }()

		authStart := time.Now()
		userID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.JSON(http.StatusUnauthorized, errorResponse{Message: authErr.Error()})
			return err
		}

		var req addCommentRequest
		if decErr := decodeBody(c, &req); decErr != nil {
			metrics.SetErrorStage("decode")
			err = c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid body"})
			return err
		}
		if req.TaskID == 0 || req.Content == "" {
			metrics.SetErrorStage("validate")
			err = c.JSON(http.StatusBadRequest, errorResponse{Message: "task_id and content are required"})
			return err
		}

		release, conflict := claimIdempotency(ctx, c, deduper, userID, logger)
		if conflict {
			err = c.JSON(http.StatusConflict, errorResponse{Message: "duplicate request"})
			return err
		}

		storeStart := time.Now()
		comment, projectID, storeErr := store.InsertComment(ctx, req.TaskID, userID, req.Content)
		metrics.ObserveStore(time.Since(storeStart))
		if storeErr != nil {
			release()
			metrics.SetErrorStage("store")
			err = storageErrorResponse(c, logger, storeErr)
			return err
		}

		publishStart := time.Now()
		ev, evErr := domain.NewCommentAdded(comment)
		publish(hub, logger, domain.RoomKey(projectID), ev, evErr)
		metrics.ObservePublish(time.Since(publishStart))

		err = c.JSON(http.StatusCreated, comment)
		return err
	}
}
