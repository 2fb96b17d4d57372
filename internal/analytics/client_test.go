package analytics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func captureServer(t *testing.T, status int, into *map[string]any, query *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, into); err != nil {
			t.Errorf("decode body: %v", err)
		}
		*query = r.URL.RawQuery
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTrackPurchaseWithoutClientIDSendsNull(t *testing.T) {
	var body map[string]any
	var query string
	srv := captureServer(t, http.StatusNoContent, &body, &query)
	c := NewClient(srv.URL, "G-TEST", "secret")

	err := c.TrackPurchase(context.Background(), nil, Purchase{
		TransactionID: "cs_1",
		Value:         21.00,
		Currency:      "GBP",
		Items:         []Item{{ItemID: "1", ItemName: "Pin", Price: 4.50, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("track purchase: %v", err)
	}
	if v, ok := body["client_id"]; !ok || v != nil {
		t.Fatalf("expected client_id null, got %#v", body["client_id"])
	}
	events := body["events"].([]any)
	first := events[0].(map[string]any)
	if first["name"] != EventPurchase {
		t.Fatalf("unexpected event name %v", first["name"])
	}
	params := first["params"].(map[string]any)
	if params["transaction_id"] != "cs_1" {
		t.Fatalf("unexpected params %v", params)
	}
	if query != "api_secret=secret&measurement_id=G-TEST" {
		t.Fatalf("unexpected query %q", query)
	}
}

func TestTrackSearchWithClientID(t *testing.T) {
	var body map[string]any
	var query string
	srv := captureServer(t, http.StatusNoContent, &body, &query)
	id := "123.456"

	if err := NewClient(srv.URL, "G-TEST", "secret").TrackSearch(context.Background(), &id, "flags"); err != nil {
		t.Fatalf("track search: %v", err)
	}
	if body["client_id"] != "123.456" {
		t.Fatalf("unexpected client id %v", body["client_id"])
	}
	params := body["events"].([]any)[0].(map[string]any)["params"].(map[string]any)
	if params["search_term"] != "flags" {
		t.Fatalf("unexpected params %v", params)
	}
}

func TestCollectorErrorStatus(t *testing.T) {
	var body map[string]any
	var query string
	srv := captureServer(t, http.StatusBadRequest, &body, &query)
	if err := NewClient(srv.URL, "G-TEST", "secret").TrackSearch(context.Background(), nil, "x"); err == nil {
		t.Fatal("expected error on 400")
	}
}

func TestDisabledClientIsNoop(t *testing.T) {
	if err := NewClient("http://127.0.0.1:1", "", "").TrackSearch(context.Background(), nil, "x"); err != nil {
		t.Fatalf("disabled client should not send: %v", err)
	}
}
