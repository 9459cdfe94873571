package hub

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/ananta888/hubgate/pkg/credential"
	gwerrors "github.com/ananta888/hubgate/pkg/errors"
	"github.com/ananta888/hubgate/pkg/eventstream"
	"github.com/ananta888/hubgate/pkg/gateway"
)

// ListTasks returns every task. Reads are served from the short-lived cache;
// refetch after a mutation may still see the old list until it expires.
func (c *Client) ListTasks(ctx context.Context, opts ...gateway.CallOption) ([]Task, error) {
	var tasks []Task
	err := c.gw.Get(ctx, c.baseURL, routeTasks, &tasks,
		withDefaults(opts, gateway.WithCache(tasksCacheTag, 0))...)
	return tasks, err
}

// GetTask fetches one task.
func (c *Client) GetTask(ctx context.Context, id string, opts ...gateway.CallOption) (Task, error) {
	route, err := taskRoute(id)
	if err != nil {
		return Task{}, err
	}
	var task Task
	err = c.gw.Get(ctx, c.baseURL, route, &task, opts...)
	return task, err
}

// CreateTask submits a new task.
func (c *Client) CreateTask(ctx context.Context, body any, opts ...gateway.CallOption) (Task, error) {
	var task Task
	err := c.gw.Post(ctx, c.baseURL, routeTasks, body, &task, opts...)
	return task, err
}

// PatchTask applies a partial update and returns the updated task.
func (c *Client) PatchTask(ctx context.Context, id string, patch any, opts ...gateway.CallOption) (Task, error) {
	route, err := taskRoute(id)
	if err != nil {
		return Task{}, err
	}
	var task Task
	err = c.gw.Patch(ctx, c.baseURL, route, patch, &task, opts...)
	return task, err
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, id string, opts ...gateway.CallOption) error {
	route, err := taskRoute(id)
	if err != nil {
		return err
	}
	_, err = c.gw.Do(ctx, http.MethodDelete, c.baseURL, route, nil, opts...)
	return err
}

// TaskLogs tails a task's log with replay suppression. The log may live on
// a worker; pass its base URL or "" for the hub.
func (c *Client) TaskLogs(ctx context.Context, baseURL, id string, explicit credential.Credential) (*eventstream.Subscription, error) {
	if baseURL == "" {
		baseURL = c.baseURL
	}
	return c.events.TaskLogs(ctx, baseURL, id, explicit,
		eventstream.WithDeduper(eventstream.NewDeduper(0)))
}

func taskRoute(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", gwerrors.New(gwerrors.ErrCodeInvalidInput, "task id is required")
	}
	return routeTasks + "/" + url.PathEscape(id), nil
}
