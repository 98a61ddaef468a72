package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/nudgebot-dev/nudgebot/internal/tracing"
	"github.com/nudgebot-dev/nudgebot/pkg/config"
	"github.com/nudgebot-dev/nudgebot/pkg/observability"
)

const (
	notionBaseURL    = "https://api.notion.com/v1"
	notionMaxRetries = 3

	// The public API allows an average of three requests per second.
	requestsPerSecond = 3
)

// Store is the task-store surface the rest of the system depends on.
// *Client implements it against the live API; MemoryStore implements it
// in-process for tests.
type Store interface {
	CreateTask(ctx context.Context, f Fields) (*Record, error)
	Query(ctx context.Context, q Query) (*Page, error)
	UpdateTask(ctx context.Context, id string, f Fields) (*Record, error)
	GetTask(ctx context.Context, id string) (*Record, error)
	ListBlocks(ctx context.Context, id, cursor string) (*BlockPage, error)
	AppendBlocks(ctx context.Context, id string, blocks []Block) (int, error)
	PageText(ctx context.Context, id string) (string, error)
}

// Client talks to the Notion API for one task database.
type Client struct {
	token      string
	version    string
	databaseID string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client for the configured database.
func NewClient(cfg config.NotionConfig) *Client {
	return &Client{
		token:      cfg.Token,
		version:    cfg.Version,
		databaseID: cfg.DatabaseID,
		baseURL:    notionBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
	}
}

// NewClientWithBaseURL creates a client against a custom endpoint (useful for testing)
func NewClientWithBaseURL(cfg config.NotionConfig, baseURL string) *Client {
	c := NewClient(cfg)
	c.baseURL = baseURL
	return c
}

// CreateTask writes a new record. Title is required; status defaults to TODO.
func (c *Client) CreateTask(ctx context.Context, f Fields) (*Record, error) {
	if f.Title == nil || *f.Title == "" {
		return nil, NewStoreError(ErrCodeInvalidRequest, "title is required", nil)
	}
	if f.Status == nil {
		f.Status = String(StatusTodo)
	}

	body := map[string]any{
		"parent":     map[string]any{"database_id": c.databaseID},
		"properties": buildProperties(f),
	}
	var page pageObject
	if err := c.do(ctx, http.MethodPost, "/pages", body, &page); err != nil {
		return nil, err
	}
	return recordFromPage(&page), nil
}

// Query runs one filtered, sorted page query against the database.
func (c *Client) Query(ctx context.Context, q Query) (*Page, error) {
	body := map[string]any{}
	if f := q.filter(); f != nil {
		body["filter"] = f
	}
	if q.SortBy != "" {
		dir := "descending"
		if q.SortAscending {
			dir = "ascending"
		}
		body["sorts"] = []any{map[string]any{"property": q.SortBy, "direction": dir}}
	}
	if q.PageSize > 0 {
		body["page_size"] = q.PageSize
	}
	if q.StartCursor != "" {
		body["start_cursor"] = q.StartCursor
	}

	var resp struct {
		Results    []pageObject `json:"results"`
		NextCursor string       `json:"next_cursor"`
		HasMore    bool         `json:"has_more"`
	}
	path := fmt.Sprintf("/databases/%s/query", c.databaseID)
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}

	page := &Page{NextCursor: resp.NextCursor, HasMore: resp.HasMore}
	for i := range resp.Results {
		page.Records = append(page.Records, *recordFromPage(&resp.Results[i]))
	}
	return page, nil
}

// UpdateTask applies a partial update; only non-nil fields are written.
func (c *Client) UpdateTask(ctx context.Context, id string, f Fields) (*Record, error) {
	props := buildProperties(f)
	if len(props) == 0 {
		return nil, NewStoreError(ErrCodeInvalidRequest, "no fields to update", nil)
	}
	var page pageObject
	if err := c.do(ctx, http.MethodPatch, "/pages/"+url.PathEscape(id), map[string]any{"properties": props}, &page); err != nil {
		return nil, err
	}
	return recordFromPage(&page), nil
}

// GetTask fetches one record by id.
func (c *Client) GetTask(ctx context.Context, id string) (*Record, error) {
	var page pageObject
	if err := c.do(ctx, http.MethodGet, "/pages/"+url.PathEscape(id), nil, &page); err != nil {
		return nil, err
	}
	return recordFromPage(&page), nil
}

// ListBlocks fetches one page of a record's child blocks.
func (c *Client) ListBlocks(ctx context.Context, id, cursor string) (*BlockPage, error) {
	path := "/blocks/" + url.PathEscape(id) + "/children?page_size=100"
	if cursor != "" {
		path += "&start_cursor=" + url.QueryEscape(cursor)
	}

	var resp struct {
		Results    []blockObject `json:"results"`
		NextCursor string        `json:"next_cursor"`
		HasMore    bool          `json:"has_more"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	out := &BlockPage{NextCursor: resp.NextCursor, HasMore: resp.HasMore}
	for i := range resp.Results {
		if b, ok := resp.Results[i].toBlock(); ok {
			out.Blocks = append(out.Blocks, b)
		}
	}
	return out, nil
}

// AppendBlocks appends typed content blocks to a record body and returns the
// count appended.
func (c *Client) AppendBlocks(ctx context.Context, id string, blocks []Block) (int, error) {
	children := make([]any, 0, len(blocks))
	for _, b := range blocks {
		child, err := blockToWire(b)
		if err != nil {
			return 0, err
		}
		children = append(children, child)
	}

	var resp struct {
		Results []json.RawMessage `json:"results"`
	}
	path := "/blocks/" + url.PathEscape(id) + "/children"
	if err := c.do(ctx, http.MethodPatch, path, map[string]any{"children": children}, &resp); err != nil {
		return 0, err
	}
	return len(resp.Results), nil
}

// PageText reads the full body of a record as plain text, paginating through
// its child blocks.
func (c *Client) PageText(ctx context.Context, id string) (string, error) {
	var out string
	cursor := ""
	for page := 0; page < 10; page++ {
		bp, err := c.ListBlocks(ctx, id, cursor)
		if err != nil {
			return "", err
		}
		for _, b := range bp.Blocks {
			if b.Type == BlockDivider {
				out += "---\n"
				continue
			}
			if b.Text != "" {
				out += b.Text + "\n"
			}
		}
		if !bp.HasMore || bp.NextCursor == "" {
			break
		}
		cursor = bp.NextCursor
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	ctx, span := tracing.StartSpan(ctx, "notion.request", map[string]any{"method": method, "path": path})
	defer span.End()

	started := time.Now()
	err := c.roundTrip(ctx, method, path, body, result)
	observability.RecordStoreRequest(method, storeStatus(err), time.Since(started))
	if err != nil {
		span.SetError(err)
	}
	return err
}

func storeStatus(err error) string {
	if err == nil {
		return "ok"
	}
	var serr *StoreError
	if errors.As(err, &serr) {
		return serr.Code
	}
	return "error"
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, result any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	var lastErr *StoreError
	for attempt := 0; attempt < notionMaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			if lastErr != nil && lastErr.RetryAfter > 0 {
				delay = lastErr.RetryAfter
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Notion-Version", c.version)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = NewStoreError(ErrCodeNetwork, err.Error(), err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			err = json.NewDecoder(resp.Body).Decode(result)
			_ = resp.Body.Close()
			if err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}

		serr := c.handleErrorResponse(resp)
		_ = resp.Body.Close()
		if !serr.IsRetryable() {
			return serr
		}
		lastErr = serr
	}
	return lastErr
}

func (c *Client) handleErrorResponse(resp *http.Response) *StoreError {
	body, _ := io.ReadAll(resp.Body)

	message := string(body)
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		message = errResp.Message
	}

	code := ErrCodeServerError
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		code = ErrCodeRateLimited
	case resp.StatusCode == http.StatusNotFound:
		code = ErrCodeNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		code = ErrCodeAuthentication
	case resp.StatusCode == http.StatusBadRequest:
		code = ErrCodeInvalidRequest
	}

	serr := &StoreError{Code: code, Message: message, StatusCode: resp.StatusCode}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.ParseFloat(ra, 64); err == nil && secs > 0 {
			serr.RetryAfter = time.Duration(secs * float64(time.Second))
		}
	}
	return serr
}
