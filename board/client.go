package board

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/baidenprynce9-wq/codealpha-tasks/domain"
)

const dialTimeout = 10 * time.Second

// Client connects a Board to a server: it bulk-fetches the task list
// over HTTP, joins the project's room over websocket, and folds every
// push into the replica. Its mutation helpers apply the change
// optimistically and let the authoritative event overwrite it.
type Client struct {
	baseURL   string
	token     string
	projectID int64
	http      *http.Client
	logger    *log.Logger

	mu    sync.Mutex
	board *Board

	conn *websocket.Conn
}

// NewClient creates a client for one project. baseURL is the server
// root, e.g. "http://localhost:8080".
func NewClient(baseURL, token string, projectID int64, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		projectID: projectID,
		http:      &http.Client{Timeout: dialTimeout},
		logger:    logger,
		board:     New(logger),
	}
}

// Tasks returns a snapshot of the reconciled task list.
func (c *Client) Tasks() []domain.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.board.Tasks()
}

// Comments returns a snapshot of the open task's comments.
func (c *Client) Comments() []domain.Comment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.board.Comments()
}

// Run connects, joins the project room, bulk-fetches the task list and
// then applies pushes until ctx is cancelled or the connection drops.
// The join goes out before the fetch so no event can fall between them.
func (c *Client) Run(ctx context.Context) error {
	wsURL, err := c.websocketURL()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	c.conn = conn
	defer conn.Close()

	join := fmt.Sprintf(`{"type":"join_project","payload":%d}`, c.projectID)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(join)); err != nil {
		return fmt.Errorf("join project %d: %w", c.projectID, err)
	}

	rows, err := c.FetchTasks(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.board.Bootstrap(rows)
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read push: %w", err)
		}
		var ev domain.Event
		if err := sonic.Unmarshal(data, &ev); err != nil {
			c.logger.Warnf("bad push frame: %v", err)
			continue
		}
		c.mu.Lock()
		c.board.Apply(ev)
		c.mu.Unlock()
	}
}

func (c *Client) websocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	return u.String(), nil
}

// FetchTasks bulk-fetches the project's task list.
func (c *Client) FetchTasks(ctx context.Context) ([]domain.Task, error) {
	var rows []domain.Task
	err := c.do(ctx, http.MethodGet, "/api/tasks/project/"+strconv.FormatInt(c.projectID, 10), nil, &rows)
	return rows, err
}

// FetchProject fetches the project row, verifying membership.
func (c *Client) FetchProject(ctx context.Context) (domain.Project, error) {
	var p domain.Project
	err := c.do(ctx, http.MethodGet, "/api/projects/"+strconv.FormatInt(c.projectID, 10), nil, &p)
	return p, err
}

// CreateTask posts a new task. The created row reaches the replica via
// the task_created push, so there is no optimistic insert.
func (c *Client) CreateTask(ctx context.Context, title, description, priority string) (domain.Task, error) {
	body := map[string]any{
		"project_id":  c.projectID,
		"title":       title,
		"description": description,
	}
	if priority != "" {
		body["priority"] = priority
	}
	var t domain.Task
	err := c.do(ctx, http.MethodPost, "/api/tasks", body, &t)
	return t, err
}

// UpdateTask applies the partial update locally, then sends it. The
// server's task_updated event overwrites the optimistic row with the
// committed one.
func (c *Client) UpdateTask(ctx context.Context, taskID int64, upd domain.TaskUpdate) (domain.Task, error) {
	c.mu.Lock()
	c.board.OptimisticUpdate(taskID, upd)
	c.mu.Unlock()

	var t domain.Task
	err := c.do(ctx, http.MethodPut, "/api/tasks/"+strconv.FormatInt(taskID, 10), upd, &t)
	return t, err
}

// DeleteTask removes the row locally, then sends the delete. The later
// task_deleted push is a no-op for this client.
func (c *Client) DeleteTask(ctx context.Context, taskID int64) error {
	c.mu.Lock()
	c.board.OptimisticRemove(taskID)
	c.mu.Unlock()

	return c.do(ctx, http.MethodDelete, "/api/tasks/"+strconv.FormatInt(taskID, 10), nil, nil)
}

// OpenTask fetches a task's comment history and scopes subsequent
// comment_added pushes to it.
func (c *Client) OpenTask(ctx context.Context, taskID int64) ([]domain.Comment, error) {
	var comments []domain.Comment
	if err := c.do(ctx, http.MethodGet, "/api/comments/task/"+strconv.FormatInt(taskID, 10), nil, &comments); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.board.OpenTask(taskID, comments)
	c.mu.Unlock()
	return comments, nil
}

// CloseTask clears the open task.
func (c *Client) CloseTask() {
	c.mu.Lock()
	c.board.CloseTask()
	c.mu.Unlock()
}

// AddComment posts a comment on the given task.
func (c *Client) AddComment(ctx context.Context, taskID int64, content string) (domain.Comment, error) {
	body := map[string]any{"task_id": taskID, "content": content}
	var com domain.Comment
	err := c.do(ctx, http.MethodPost, "/api/comments", body, &com)
	return com, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return sonic.ConfigStd.NewDecoder(resp.Body).Decode(out)
}
