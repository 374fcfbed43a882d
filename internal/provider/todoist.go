package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

const (
	// SourceTodoist is the source name of the Todoist adapter.
	SourceTodoist = "todoist"

	todoistBaseURL = "https://api.todoist.com"

	todoistTimeout = 30 * time.Second

	// todoistPageSize is the number of tasks requested per page.
	todoistPageSize = 200
)

// Todoist fetches tasks from the Todoist API. Todoist has no focus
// session concept, so this adapter does not implement SessionAdapter.
type Todoist struct {
	baseURL string
	tokens  TokenProvider
	client  *http.Client
}

// NewTodoist creates a Todoist adapter.
func NewTodoist(tokens TokenProvider, client *http.Client) *Todoist {
	return &Todoist{
		baseURL: todoistBaseURL,
		tokens:  tokens,
		client:  client,
	}
}

// NewTodoistWithBaseURL creates an adapter against a custom base URL
// (for testing against a local server).
func NewTodoistWithBaseURL(baseURL string, tokens TokenProvider, client *http.Client) *Todoist {
	t := NewTodoist(tokens, client)
	t.baseURL = baseURL
	return t
}

// Source implements Adapter.
func (t *Todoist) Source() string {
	return SourceTodoist
}

type todoistTask struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	ParentID  string `json:"parent_id"`
	Content   string `json:"content"`
	UpdatedAt string `json:"updated_at"`
}

type todoistTasksPage struct {
	Results    []todoistTask `json:"results"`
	NextCursor string        `json:"next_cursor"`
}

// FetchTasks implements Adapter. Pages through the task list using
// Todoist's cursor pagination until the cursor runs out.
func (t *Todoist) FetchTasks(ctx context.Context, userID string) ([]RawTask, error) {
	ts, err := t.tokens.TokenSource(ctx, userID, SourceTodoist)
	if err != nil {
		return nil, fmt.Errorf("failed to get todoist token for %s: %w", userID, err)
	}
	if t.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, t.client)
	}
	httpClient := oauth2.NewClient(ctx, ts)

	var (
		tasks  []RawTask
		cursor string
	)
	for {
		page, err := t.fetchPage(ctx, httpClient, cursor)
		if err != nil {
			return nil, err
		}

		for _, raw := range page.Results {
			task := RawTask{
				ID:        raw.ID,
				ParentID:  raw.ParentID,
				ProjectID: raw.ProjectID,
				Title:     raw.Content,
			}
			if raw.UpdatedAt != "" {
				if mt, err := time.Parse(time.RFC3339, raw.UpdatedAt); err == nil {
					task.ModifiedTime = &mt
				}
			}
			tasks = append(tasks, task)
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	return tasks, nil
}

func (t *Todoist) fetchPage(ctx context.Context, client *http.Client, cursor string) (*todoistTasksPage, error) {
	ctx, cancel := context.WithTimeout(ctx, todoistTimeout)
	defer cancel()

	query := url.Values{}
	query.Set("limit", fmt.Sprint(todoistPageSize))
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/api/v1/tasks?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch todoist tasks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	var page todoistTasksPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode todoist tasks: %w", err)
	}

	return &page, nil
}
