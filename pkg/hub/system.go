package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/ananta888/hubgate/pkg/gateway"
)

// ListAgents returns the registered workers.
func (c *Client) ListAgents(ctx context.Context, opts ...gateway.CallOption) ([]Agent, error) {
	var agents []Agent
	err := c.gw.Get(ctx, c.baseURL, routeAgents, &agents, withDefaults(opts, gateway.WithRetry(false))...)
	return agents, err
}

// Stats returns the current metrics snapshot.
func (c *Client) Stats(ctx context.Context, opts ...gateway.CallOption) (Stats, error) {
	var stats Stats
	err := c.gw.Get(ctx, c.baseURL, routeStats, &stats, withDefaults(opts, gateway.WithRetry(false))...)
	return stats, err
}

// StatsHistory returns past metrics snapshots, oldest first.
func (c *Client) StatsHistory(ctx context.Context, opts ...gateway.CallOption) ([]Stats, error) {
	var history []Stats
	err := c.gw.Get(ctx, c.baseURL, routeStatsHistory, &history, withDefaults(opts, gateway.WithRetry(false))...)
	return history, err
}

// AuditLogs pages through the audit log. Non-positive limit uses 100.
func (c *Client) AuditLogs(ctx context.Context, limit, offset int, opts ...gateway.CallOption) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	q.Set("offset", fmt.Sprint(offset))

	var entries []AuditEntry
	err := c.gw.Get(ctx, c.baseURL, routeAuditLogs+"?"+q.Encode(), &entries, withDefaults(opts, gateway.WithRetry(false))...)
	return entries, err
}

// AnalyzeAuditLogs asks the hub to summarize the most recent entries. The
// analysis runs a model on the hub and gets a longer budget.
func (c *Client) AnalyzeAuditLogs(ctx context.Context, limit int, opts ...gateway.CallOption) (json.RawMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	route := fmt.Sprintf("%s?limit=%d", routeAuditAnalyze, limit)
	return c.gw.Do(ctx, "POST", c.baseURL, route, struct{}{},
		withDefaults(opts, gateway.WithTimeout(AnalyzeTimeout))...)
}

// Health checks baseURL anonymously. An empty baseURL checks the hub.
func (c *Client) Health(ctx context.Context, baseURL string) (Health, error) {
	if baseURL == "" {
		baseURL = c.baseURL
	}
	raw, err := c.gw.Do(ctx, "GET", baseURL, routeHealth, nil, gateway.Anonymous(), gateway.WithRetry(false))
	if err != nil {
		return Health{}, err
	}
	h := Health{Raw: raw}
	if len(raw) > 0 && json.Unmarshal(raw, &h) != nil {
		var status string
		if json.Unmarshal(raw, &status) == nil {
			h.Status = status
		}
	}
	return h, nil
}

// withDefaults puts defaults ahead of caller options so callers win.
func withDefaults(opts []gateway.CallOption, defaults ...gateway.CallOption) []gateway.CallOption {
	return append(defaults, opts...)
}
