// Package storage talks to the object storage REST API that holds product images.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/thisshopissogay/shop/internal/platform/httpx"
)

// ErrNotFound indicates a missing object.
var ErrNotFound = errors.New("storage: object not found")

// Object is one entry of a bucket listing.
type Object struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Client wraps the storage object endpoints with a service key.
type Client struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

// NewClient constructs a new client.
func NewClient(baseURL, serviceKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *Client) objectURL(bucket, name string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, url.PathEscape(bucket), escapePath(name))
}

// PublicURL returns the unauthenticated URL of an object in a public bucket.
func (c *Client) PublicURL(bucket, name string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, url.PathEscape(bucket), escapePath(name))
}

// Download fetches an object body.
func (c *Client) Download(ctx context.Context, bucket, name string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.objectURL(bucket, name), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if err := checkStatus(resp, "download "+bucket+"/"+name); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

// Upload writes an object, replacing any existing one with the same name.
func (c *Client) Upload(ctx context.Context, bucket, name, contentType string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.objectURL(bucket, name), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")
	req.Header.Set("Cache-Control", "max-age=3600")
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	return checkStatus(resp, "upload "+bucket+"/"+name)
}

// Remove deletes objects from a bucket. Missing objects are ignored by the API.
func (c *Client) Remove(ctx context.Context, bucket string, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	body, err := json.Marshal(map[string][]string{"prefixes": names})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s", c.baseURL, url.PathEscape(bucket))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	return checkStatus(resp, "remove from "+bucket)
}

// List returns every object at the root of a bucket, following offset pagination.
func (c *Client) List(ctx context.Context, bucket string) ([]Object, error) {
	const pageSize = 1000
	endpoint := fmt.Sprintf("%s/storage/v1/object/list/%s", c.baseURL, url.PathEscape(bucket))
	var out []Object
	for offset := 0; ; offset += pageSize {
		body, err := json.Marshal(map[string]any{
			"prefix": "",
			"limit":  pageSize,
			"offset": offset,
			"sortBy": map[string]string{"column": "name", "order": "asc"},
		})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		page, err := c.listPage(req, bucket)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
	}
}

func (c *Client) listPage(req *http.Request, bucket string) ([]Object, error) {
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if err := checkStatus(resp, "list "+bucket); err != nil {
		return nil, err
	}
	var page []Object
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("storage: decode listing: %w", err)
	}
	return page, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("apikey", c.serviceKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: storage: %v", httpx.ErrUpstream, err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response, op string) error {
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: storage %s returned status %d: %s", httpx.ErrUpstream, op, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func escapePath(name string) string {
	parts := strings.Split(strings.TrimLeft(name, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
