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
	// SourceTickTick is the source name of the TickTick adapter.
	SourceTickTick = "ticktick"

	tickTickBaseURL = "https://api.ticktick.com"

	// tickTickTimeout bounds each TickTick API call. Timeouts surface as
	// ordinary fetch errors to the engine.
	tickTickTimeout = 30 * time.Second

	// tickTickTimeLayout is TickTick's timestamp format.
	tickTickTimeLayout = "2006-01-02T15:04:05.000-0700"
)

// TickTick fetches tasks and focus sessions from the TickTick API.
//
// Task fetching walks the user's projects and pages through each
// project's task data; session fetching pulls the pomodoro/focus
// timeline. Both return normalized entities.
type TickTick struct {
	baseURL string
	tokens  TokenProvider
	client  *http.Client
}

// NewTickTick creates a TickTick adapter. If client is nil,
// http.DefaultClient's transport is used under the OAuth client.
func NewTickTick(tokens TokenProvider, client *http.Client) *TickTick {
	return &TickTick{
		baseURL: tickTickBaseURL,
		tokens:  tokens,
		client:  client,
	}
}

// NewTickTickWithBaseURL creates an adapter against a custom base URL
// (for testing against a local server).
func NewTickTickWithBaseURL(baseURL string, tokens TokenProvider, client *http.Client) *TickTick {
	t := NewTickTick(tokens, client)
	t.baseURL = baseURL
	return t
}

// Source implements Adapter.
func (t *TickTick) Source() string {
	return SourceTickTick
}

type ticktickProject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ticktickTask struct {
	ID           string `json:"id"`
	ProjectID    string `json:"projectId"`
	ParentID     string `json:"parentId"`
	Title        string `json:"title"`
	ModifiedTime string `json:"modifiedTime"`
}

type ticktickProjectData struct {
	Tasks []ticktickTask `json:"tasks"`
}

type ticktickPomo struct {
	ID        string `json:"id"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Timezone  string `json:"timezone"`
	Tasks     []struct {
		TaskID    string `json:"taskId"`
		Title     string `json:"title"`
		ProjectID string `json:"projectId"`
		Duration  int64  `json:"duration"` // seconds
	} `json:"tasks"`
}

// FetchTasks implements Adapter. It lists the user's projects, then
// fetches each project's tasks, so the returned slice is the complete
// current snapshot.
func (t *TickTick) FetchTasks(ctx context.Context, userID string) ([]RawTask, error) {
	httpClient, err := t.httpClient(ctx, userID)
	if err != nil {
		return nil, err
	}

	var projects []ticktickProject
	if err := t.getJSON(ctx, httpClient, "/open/v1/project", nil, &projects); err != nil {
		return nil, fmt.Errorf("failed to list ticktick projects: %w", err)
	}

	var tasks []RawTask
	for _, project := range projects {
		var data ticktickProjectData
		path := fmt.Sprintf("/open/v1/project/%s/data", url.PathEscape(project.ID))
		if err := t.getJSON(ctx, httpClient, path, nil, &data); err != nil {
			return nil, fmt.Errorf("failed to fetch ticktick project %s: %w", project.ID, err)
		}

		for _, raw := range data.Tasks {
			task := RawTask{
				ID:        raw.ID,
				ParentID:  raw.ParentID,
				ProjectID: raw.ProjectID,
				Title:     raw.Title,
			}
			if raw.ModifiedTime != "" {
				if mt, err := time.Parse(tickTickTimeLayout, raw.ModifiedTime); err == nil {
					task.ModifiedTime = &mt
				}
			}
			tasks = append(tasks, task)
		}
	}

	return tasks, nil
}

// FetchSessions implements SessionAdapter.
func (t *TickTick) FetchSessions(ctx context.Context, userID string, since time.Time) ([]RawSession, error) {
	httpClient, err := t.httpClient(ctx, userID)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("from", since.UTC().Format(time.RFC3339))

	var pomos []ticktickPomo
	if err := t.getJSON(ctx, httpClient, "/open/v1/pomodoros", query, &pomos); err != nil {
		return nil, fmt.Errorf("failed to fetch ticktick focus sessions: %w", err)
	}

	sessions := make([]RawSession, 0, len(pomos))
	for _, pomo := range pomos {
		start, err := time.Parse(tickTickTimeLayout, pomo.StartTime)
		if err != nil {
			return nil, fmt.Errorf("invalid session start time %q: %w", pomo.StartTime, err)
		}
		end, err := time.Parse(tickTickTimeLayout, pomo.EndTime)
		if err != nil {
			return nil, fmt.Errorf("invalid session end time %q: %w", pomo.EndTime, err)
		}

		session := RawSession{
			ID:        pomo.ID,
			StartTime: start,
			EndTime:   end,
			Timezone:  pomo.Timezone,
		}
		for _, st := range pomo.Tasks {
			session.Tasks = append(session.Tasks, SessionTask{
				TaskID:      st.TaskID,
				Title:       st.Title,
				ProjectID:   st.ProjectID,
				DurationSec: st.Duration,
			})
		}
		sessions = append(sessions, session)
	}

	return sessions, nil
}

func (t *TickTick) httpClient(ctx context.Context, userID string) (*http.Client, error) {
	ts, err := t.tokens.TokenSource(ctx, userID, SourceTickTick)
	if err != nil {
		return nil, fmt.Errorf("failed to get ticktick token for %s: %w", userID, err)
	}
	if t.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, t.client)
	}
	return oauth2.NewClient(ctx, ts), nil
}

func (t *TickTick) getJSON(ctx context.Context, client *http.Client, path string, query url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, tickTickTimeout)
	defer cancel()

	u := t.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
