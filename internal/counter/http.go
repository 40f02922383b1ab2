package counter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sweeney/waste-sorter/internal/logic"
)

// DefaultHTTPTimeout bounds every request to the stats API.
const DefaultHTTPTimeout = 10 * time.Second

// HTTPClient talks to the stats API.
// GET returns stored snapshots in creation order, newest N with ?limit=N;
// POST stores a new one.
// Merging happens client side: Post reads the latest snapshot and adds delta.
type HTTPClient struct {
	httpClient *http.Client
	url        string
	keys       KeyMap
}

// NewHTTPClient creates a client for the stats endpoint at url.
func NewHTTPClient(url string, keys KeyMap, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		url:        url,
		keys:       keys,
	}
}

// Latest returns the newest stored snapshot, or zero counts if none exist.
func (c *HTTPClient) Latest(ctx context.Context) (logic.Counts, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("limit", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get counts: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("get counts: %w", err)
	}

	var entries []map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode counts: %w", err)
	}
	if len(entries) == 0 {
		return c.keys.Decode(nil), nil
	}
	return c.decodeEntry(entries[len(entries)-1])
}

// Post stores latest + delta and returns what the server stored.
func (c *HTTPClient) Post(ctx context.Context, delta logic.Counts) (logic.Counts, error) {
	prev, err := c.Latest(ctx)
	if err != nil {
		return nil, err
	}
	merged := Merge(prev, delta)

	body, err := json.Marshal(c.keys.Encode(merged))
	if err != nil {
		return nil, fmt.Errorf("encode counts: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post counts: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("post counts: %w", err)
	}

	var entry map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		// Stored, but the echo is unreadable; the merged value is what we sent.
		return merged, nil
	}
	return c.decodeEntry(entry)
}

// decodeEntry extracts the numeric count fields of a stored snapshot.
// Other fields (ids, timestamps) are ignored.
func (c *HTTPClient) decodeEntry(entry map[string]json.RawMessage) (logic.Counts, error) {
	obj := make(map[string]int, len(entry))
	for k, raw := range entry {
		if _, known := c.keys.toCategory[k]; !known {
			continue
		}
		var v int
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode field %q: %w", k, err)
		}
		obj[k] = v
	}
	return c.keys.Decode(obj), nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
}
