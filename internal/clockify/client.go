// Package clockify talks to the Clockify REST API: it lists billable
// projects for enrichment, lists the owner's existing time entries to seed
// the timeline, and commits new time entries.
package clockify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	appLog "timeledger/internal/log"
	"timeledger/internal/model"
)

const maxErrorBody = 512

// Options configures a Client.
type Options struct {
	BaseURL     string
	WorkspaceID string
	UserID      string
	APIKey      string
	PageSize    int
	MaxPages    int
	Timeout     time.Duration
}

// Client is a minimal Clockify API client.
type Client struct {
	http *http.Client
	opts Options
	now  func() time.Time
}

func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" || opts.WorkspaceID == "" {
		return nil, errors.New("clockify: base url and workspace id are required")
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 3000
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Client{
		http: &http.Client{Timeout: opts.Timeout},
		opts: opts,
		now:  time.Now,
	}, nil
}

// APIError is a non-2xx response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("clockify: HTTP %d: %s", e.Status, e.Body)
}

type timeInterval struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end"`
}

type timeEntry struct {
	ID           string       `json:"id"`
	Description  string       `json:"description"`
	ProjectID    string       `json:"projectId"`
	TaskID       string       `json:"taskId"`
	TimeInterval timeInterval `json:"timeInterval"`
}

type newTimeEntry struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description"`
	ProjectID   string    `json:"projectId"`
	TaskID      string    `json:"taskId,omitempty"`
	Billable    bool      `json:"billable"`
}

// ListProjects returns the workspace's projects with their tasks, reading
// pages 1..MaxPages and stopping early at a short page.
func (c *Client) ListProjects(ctx context.Context) ([]model.Project, error) {
	var out []model.Project
	for page := 1; page <= c.opts.MaxPages; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("page-size", strconv.Itoa(c.opts.PageSize))
		q.Set("hydrated", "true")

		var batch []model.Project
		if err := c.do(ctx, http.MethodGet, c.workspacePath("/projects"), q, nil, &batch); err != nil {
			return nil, fmt.Errorf("list projects page %d: %w", page, err)
		}
		out = append(out, batch...)
		if len(batch) < c.opts.PageSize {
			break
		}
		if page == c.opts.MaxPages {
			appLog.Warn("clockify: project listing truncated", "max_pages", c.opts.MaxPages, "page_size", c.opts.PageSize)
		}
	}
	appLog.Info("clockify: projects listed", "count", len(out))
	return out, nil
}

// Existing returns the owner's time entries overlapping [from, to] as
// intervals. A running entry counts as ending now.
func (c *Client) Existing(ctx context.Context, from, to time.Time) ([]model.Interval, error) {
	if c.opts.UserID == "" {
		return nil, errors.New("clockify: user id is required to list time entries")
	}
	var out []model.Interval
	for page := 1; page <= c.opts.MaxPages; page++ {
		q := url.Values{}
		q.Set("start", from.UTC().Format(time.RFC3339))
		q.Set("end", to.UTC().Format(time.RFC3339))
		q.Set("page", strconv.Itoa(page))
		q.Set("page-size", strconv.Itoa(c.opts.PageSize))

		var batch []timeEntry
		if err := c.do(ctx, http.MethodGet, c.workspacePath("/user/"+url.PathEscape(c.opts.UserID)+"/time-entries"), q, nil, &batch); err != nil {
			return nil, fmt.Errorf("list time entries page %d: %w", page, err)
		}
		for _, e := range batch {
			end := c.now()
			if e.TimeInterval.End != nil {
				end = *e.TimeInterval.End
			}
			if !end.After(e.TimeInterval.Start) {
				continue
			}
			out = append(out, model.Interval{Start: e.TimeInterval.Start, End: end})
		}
		if len(batch) < c.opts.PageSize {
			break
		}
		if page == c.opts.MaxPages {
			appLog.Warn("clockify: time entries truncated; later entries are not seeded",
				"max_pages", c.opts.MaxPages,
				"page_size", c.opts.PageSize,
				"from", from.Format(time.RFC3339),
				"to", to.Format(time.RFC3339),
			)
		}
	}
	return out, nil
}

// Commit creates a time entry for a.
func (c *Client) Commit(ctx context.Context, a model.LoggedActivity) error {
	body := newTimeEntry{
		Start:       a.Start.UTC(),
		End:         a.End.UTC(),
		Description: a.Label,
		ProjectID:   a.ProjectID,
		TaskID:      a.TaskID,
		Billable:    true,
	}
	var created timeEntry
	if err := c.do(ctx, http.MethodPost, c.workspacePath("/time-entries"), nil, body, &created); err != nil {
		return err
	}
	appLog.Debug("clockify: time entry created", "id", created.ID, "project", a.ProjectID)
	return nil
}

func (c *Client) workspacePath(p string) string {
	return "/workspaces/" + url.PathEscape(c.opts.WorkspaceID) + p
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	u := c.opts.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", c.opts.APIKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
