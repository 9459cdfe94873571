// Package hub is the typed surface of the hub's HTTP API: system status,
// tasks, generation and the shared system-event feed.
package hub

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/ananta888/hubgate/pkg/chatstream"
	"github.com/ananta888/hubgate/pkg/eventstream"
	"github.com/ananta888/hubgate/pkg/gateway"
	"github.com/ananta888/hubgate/pkg/logging"
)

// Routes on the hub.
const (
	routeAgents       = "/api/system/agents"
	routeStats        = "/api/system/stats"
	routeStatsHistory = "/api/system/stats/history"
	routeAuditLogs    = "/api/system/audit-logs"
	routeAuditAnalyze = "/api/system/audit/analyze"
	routeTasks        = "/tasks"
	routeHealth       = "/health"
)

// Timeouts for calls slower than the gateway default.
const (
	AnalyzeTimeout  = 60 * time.Second
	GenerateTimeout = 120 * time.Second
)

const tasksCacheTag = "tasks"

// Options configures a Client. BaseURL is required; the collaborators
// default to zero-configuration instances.
type Options struct {
	BaseURL string
	Gateway *gateway.Gateway
	Events  *eventstream.Client
	Chat    *chatstream.Reader
	Logger  *logging.Logger
}

// Client talks to one hub.
type Client struct {
	baseURL string
	gw      *gateway.Gateway
	events  *eventstream.Client
	chat    *chatstream.Reader
	logger  *logging.Logger
}

// New builds a Client from opts.
func New(opts Options) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		gw:      opts.Gateway,
		events:  opts.Events,
		chat:    opts.Chat,
		logger:  logging.OrNop(opts.Logger).Named(logging.ComponentHub),
	}
	if c.gw == nil {
		c.gw = gateway.New(gateway.Options{Logger: opts.Logger})
	}
	if c.events == nil {
		c.events = eventstream.New(eventstream.Options{Resolver: c.gw.Resolver(), Logger: opts.Logger})
	}
	if c.chat == nil {
		c.chat = chatstream.NewReader(chatstream.Options{Resolver: c.gw.Resolver(), Logger: opts.Logger})
	}
	return c
}

// BaseURL returns the hub address.
func (c *Client) BaseURL() string { return c.baseURL }

// Gateway returns the underlying request gateway.
func (c *Client) Gateway() *gateway.Gateway { return c.gw }

// Agent is one registered worker.
type Agent struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Role   string `json:"role,omitempty"`
	Status string `json:"status,omitempty"`
}

// Stats is a hub metrics snapshot. Its shape belongs to the hub.
type Stats map[string]any

// AuditEntry is one audit log record.
type AuditEntry map[string]any

// Task is a hub task. Fields not modelled here survive in Raw.
type Task struct {
	ID            string          `json:"id"`
	Title         string          `json:"title,omitempty"`
	Description   string          `json:"description,omitempty"`
	Status        string          `json:"status,omitempty"`
	AssignedAgent string          `json:"assigned_agent_url,omitempty"`
	Raw           json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the full record alongside the modelled fields.
func (t *Task) UnmarshalJSON(data []byte) error {
	type plain Task
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = Task(p)
	t.Raw = append(json.RawMessage(nil), bytes.TrimSpace(data)...)
	return nil
}

// Health is the result of a liveness check.
type Health struct {
	Status string          `json:"status"`
	Raw    json.RawMessage `json:"-"`
}
