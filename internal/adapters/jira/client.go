package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Client struct {
	baseURL string
	token   string
	email   string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient targets one Jira site. When email is set the token is sent as
// basic auth (cloud API token), otherwise as a bearer PAT (server/DC).
func NewClient(domain, email, token string, timeout time.Duration, log zerolog.Logger) *Client {
	base := strings.TrimRight(domain, "/")
	if base != "" && !strings.HasPrefix(base, "http") {
		base = "https://" + base
	}
	return &Client{
		baseURL: base,
		token:   token,
		email:   email,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// BrowseURL returns the human link for an issue key.
func (c *Client) BrowseURL(key string) string {
	return c.baseURL + "/browse/" + url.PathEscape(key)
}

func (c *Client) apiURL(path string, q url.Values) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := c.baseURL + path
	if len(q) > 0 {
		u = u + "?" + q.Encode()
	}
	return u
}

func (c *Client) authorize(req *http.Request) {
	if c.email != "" {
		req.SetBasicAuth(c.email, c.token)
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
}

func (c *Client) doJSON(ctx context.Context, u string, out any) error {
	if c.baseURL == "" {
		return errors.New("jira: empty base url")
	}
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		c.authorize(req)
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
		} else {
			b, rerr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if rerr != nil {
				return rerr
			}
			if resp.StatusCode >= 300 {
				// retry on 429/5xx only
				apiErr := fmt.Errorf("jira api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
				if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
					lastErr = apiErr
				} else {
					return apiErr
				}
			} else {
				return json.Unmarshal(b, out)
			}
		}
		time.Sleep(time.Duration(300*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

// Myself verifies the credentials; invalid tokens fail fast here instead of
// half-way through a sprint fetch.
func (c *Client) Myself(ctx context.Context) error {
	var out map[string]any
	if err := c.doJSON(ctx, c.apiURL("/rest/api/2/myself", nil), &out); err != nil {
		return fmt.Errorf("jira auth: %w", err)
	}
	return nil
}

type Sprint struct {
	ID        int64
	Name      string
	StartDate *time.Time
	EndDate   *time.Time
}

// ActiveSprint returns the board's single active sprint, or nil when the
// board has none.
func (c *Client) ActiveSprint(ctx context.Context, boardID int64) (*Sprint, error) {
	if boardID <= 0 {
		return nil, errors.New("jira: invalid board id")
	}
	q := url.Values{}
	q.Set("state", "active")
	path := "/rest/agile/1.0/board/" + strconv.FormatInt(boardID, 10) + "/sprint"
	var out struct {
		Values []struct {
			ID        int64  `json:"id"`
			Name      string `json:"name"`
			StartDate string `json:"startDate"`
			EndDate   string `json:"endDate"`
		} `json:"values"`
	}
	if err := c.doJSON(ctx, c.apiURL(path, q), &out); err != nil {
		return nil, err
	}
	if len(out.Values) == 0 {
		return nil, nil
	}
	v := out.Values[0]
	return &Sprint{
		ID:        v.ID,
		Name:      v.Name,
		StartDate: parseTimeUTC(v.StartDate),
		EndDate:   parseTimeUTC(v.EndDate),
	}, nil
}

type Field struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Fields lists all field definitions, used to resolve custom field ids
// (story points) by display name.
func (c *Client) Fields(ctx context.Context) ([]Field, error) {
	var out []Field
	if err := c.doJSON(ctx, c.apiURL("/rest/api/2/field", nil), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Change is one changelog item: a field that moved from From to To at At.
type Change struct {
	At    time.Time
	Field string
	From  string
	To    string
}

type Issue struct {
	Key     string
	Status  string
	Fields  map[string]any
	Changes []Change
}

// SprintIssues pages through the sprint's issues with the changelog expanded.
func (c *Client) SprintIssues(ctx context.Context, sprintID int64) ([]Issue, error) {
	if sprintID <= 0 {
		return nil, errors.New("jira: invalid sprint id")
	}
	path := "/rest/agile/1.0/sprint/" + strconv.FormatInt(sprintID, 10) + "/issue"
	var issues []Issue
	startAt := 0
	for {
		q := url.Values{}
		q.Set("expand", "changelog")
		q.Set("fields", "*all")
		q.Set("maxResults", "50")
		if startAt > 0 {
			q.Set("startAt", strconv.Itoa(startAt))
		}
		var page map[string]any
		if err := c.doJSON(ctx, c.apiURL(path, q), &page); err != nil {
			return nil, err
		}
		arr, _ := page["issues"].([]any)
		if len(arr) == 0 {
			break
		}
		for _, it := range arr {
			im, _ := it.(map[string]any)
			if im == nil {
				continue
			}
			issues = append(issues, parseIssue(im))
		}
		if len(arr) < 50 {
			break
		}
		startAt += len(arr)
	}
	return issues, nil
}

func parseIssue(im map[string]any) Issue {
	fields, _ := im["fields"].(map[string]any)
	iss := Issue{Key: toStrAny(im["key"]), Fields: fields}
	if st, ok := fields["status"].(map[string]any); ok {
		iss.Status = toStrAny(st["name"])
	}
	if ch, ok := im["changelog"].(map[string]any); ok {
		if hs, ok := ch["histories"].([]any); ok {
			for _, h0 := range hs {
				hv, _ := h0.(map[string]any)
				if hv == nil {
					continue
				}
				at := parseTimeUTC(toStrAny(hv["created"]))
				if at == nil {
					continue
				}
				items, _ := hv["items"].([]any)
				for _, it0 := range items {
					itm, _ := it0.(map[string]any)
					if itm == nil {
						continue
					}
					iss.Changes = append(iss.Changes, Change{
						At:    *at,
						Field: toStrAny(itm["field"]),
						From:  toStrAny(itm["fromString"]),
						To:    toStrAny(itm["toString"]),
					})
				}
			}
		}
	}
	return iss
}

func parseTimeUTC(s string) *time.Time {
	if s == "" {
		return nil
	}
	layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000-0700", "2006-01-02T15:04:05-0700"}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			tt := t.UTC()
			return &tt
		}
	}
	return nil
}

func toStrAny(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
