package carrier

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
)

const (
	pageSize     = 100
	maxPages     = 500
	errorBodyMax = 4 << 10
)

// ErrRejected indicates the carrier refused to create an order.
var ErrRejected = errors.New("carrier: order rejected")

// Client wraps interactions with the Click & Drop API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs a new client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type ordersPage struct {
	Orders            []Order `json:"orders"`
	ContinuationToken string  `json:"continuationToken"`
}

// ListOrders returns every order created between from and to, following the
// continuation token until the carrier stops returning one.
func (c *Client) ListOrders(ctx context.Context, from, to time.Time) ([]Order, error) {
	var (
		out   []Order
		token string
	)
	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		q.Set("startDateTime", from.UTC().Format(time.RFC3339))
		q.Set("endDateTime", to.UTC().Format(time.RFC3339))
		q.Set("pageSize", fmt.Sprint(pageSize))
		if token != "" {
			q.Set("continuationToken", token)
		}
		var resp ordersPage
		if err := c.do(ctx, http.MethodGet, "/orders/full?"+q.Encode(), nil, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Orders...)
		if resp.ContinuationToken == "" || resp.ContinuationToken == token {
			return out, nil
		}
		token = resp.ContinuationToken
	}
	return nil, fmt.Errorf("carrier: list orders exceeded %d pages", maxPages)
}

type createRequest struct {
	Items []NewOrder `json:"items"`
}

type createResponse struct {
	SuccessCount  int            `json:"successCount"`
	ErrorsCount   int            `json:"errorsCount"`
	CreatedOrders []CreatedOrder `json:"createdOrders"`
	FailedOrders  []struct {
		Errors []struct {
			ErrorCode    int    `json:"errorCode"`
			ErrorMessage string `json:"errorMessage"`
		} `json:"errors"`
	} `json:"failedOrders"`
}

// CreateOrder submits one order.
func (c *Client) CreateOrder(ctx context.Context, order NewOrder) (CreatedOrder, error) {
	order.OrderReference = TruncateReference(order.OrderReference)
	var resp createResponse
	if err := c.do(ctx, http.MethodPost, "/orders", createRequest{Items: []NewOrder{order}}, &resp); err != nil {
		return CreatedOrder{}, err
	}
	if len(resp.CreatedOrders) == 0 {
		var msgs []string
		for _, f := range resp.FailedOrders {
			for _, e := range f.Errors {
				msgs = append(msgs, fmt.Sprintf("%d %s", e.ErrorCode, e.ErrorMessage))
			}
		}
		return CreatedOrder{}, fmt.Errorf("%w: %s", ErrRejected, strings.Join(msgs, "; "))
	}
	return resp.CreatedOrders[0], nil
}

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("carrier: %s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyMax))
		return fmt.Errorf("carrier: %s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
