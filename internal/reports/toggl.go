package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/thisshopissogay/shop/internal/platform/httpx"
)

// TogglClient reads time entries from the Toggl Track v9 API.
type TogglClient struct {
	baseURL     string
	token       string
	workspaceID int64
	httpClient  *http.Client
}

// NewTogglClient constructs a client. A zero workspaceID counts every workspace.
func NewTogglClient(baseURL, token string, workspaceID int64) *TogglClient {
	return &TogglClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		workspaceID: workspaceID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type timeEntry struct {
	ID          int64  `json:"id"`
	WorkspaceID int64  `json:"workspace_id"`
	Duration    int64  `json:"duration"`
	Description string `json:"description"`
}

// TrackedSeconds sums finished entries that started within [from, to).
// Running entries report a negative duration and are skipped.
func (c *TogglClient) TrackedSeconds(ctx context.Context, from, to time.Time) (int64, error) {
	q := url.Values{}
	q.Set("start_date", from.UTC().Format(time.RFC3339))
	q.Set("end_date", to.UTC().Format(time.RFC3339))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/me/time_entries?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	req.SetBasicAuth(c.token, "api_token")
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: toggl: %v", httpx.ErrUpstream, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("%w: toggl returned status %d", httpx.ErrUpstream, resp.StatusCode)
	}
	var entries []timeEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return 0, fmt.Errorf("reports: decode time entries: %w", err)
	}
	var total int64
	for _, e := range entries {
		if e.Duration < 0 {
			continue
		}
		if c.workspaceID != 0 && e.WorkspaceID != c.workspaceID {
			continue
		}
		total += e.Duration
	}
	return total, nil
}
