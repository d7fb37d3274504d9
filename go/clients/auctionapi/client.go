package auctionapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bidhaus/bidhaus/go/internal/auction"
)

// Client is the HTTP client for the auction REST surface: one-shot reads,
// listing, creation and patching. The real-time side goes over the room
// channel, not through here.
type Client struct {
	baseURL string
	http    *http.Client
	headers map[string]string
}

// NewClient creates an API client for the given base URL, e.g.
// "http://localhost:8080".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: make(map[string]string),
	}
}

// SetHeader sets a header on every request, e.g. the identity headers.
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// SetTimeout overrides the per-request timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.http.Timeout = timeout
}

// envelope is the API's response wrapper: {status, message, data}.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("auctionapi: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("auctionapi: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("auctionapi: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("auctionapi: read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("auctionapi: decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Status {
		msg := env.Message
		if msg == "" {
			msg = string(raw)
		}
		return fmt.Errorf("auctionapi: %s %s: HTTP %d: %s", method, endpoint, resp.StatusCode, msg)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("auctionapi: decode data: %w", err)
		}
	}
	return nil
}

// GetAuction fetches one auction by id. Implements the sync engine's Fetcher.
func (c *Client) GetAuction(ctx context.Context, id string) (*auction.Snapshot, error) {
	var snap auction.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/auctions/"+url.PathEscape(id), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListAuctions fetches a paginated, filtered, sorted page of auctions.
func (c *Client) ListAuctions(ctx context.Context, params auction.ListParams) (*auction.Page, error) {
	q := url.Values{}
	if params.Page > 0 {
		q.Set("page", strconv.Itoa(params.Page))
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Search != "" {
		q.Set("search", params.Search)
	}
	if params.Status != "" {
		q.Set("status", params.Status)
	}
	if params.Category != "" {
		q.Set("category", params.Category)
	}
	if params.SortBy != "" {
		q.Set("sortBy", params.SortBy)
	}
	if params.SortOrder != "" {
		q.Set("sortOrder", params.SortOrder)
	}

	endpoint := "/api/auctions"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var page auction.Page
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// CreateAuction creates an auction. The server forces the phase to pending and
// attributes it to the identity headers.
func (c *Client) CreateAuction(ctx context.Context, req auction.CreateRequest) (*auction.Snapshot, error) {
	var snap auction.Snapshot
	if err := c.do(ctx, http.MethodPost, "/api/auctions", req, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// UpdateAuction patches an auction's fields. The server permits this only
// while the auction is pending and only for its creator.
func (c *Client) UpdateAuction(ctx context.Context, id string, patch auction.Patch) (*auction.Snapshot, error) {
	var snap auction.Snapshot
	if err := c.do(ctx, http.MethodPatch, "/api/auctions/"+url.PathEscape(id), patch, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
