package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSendPostsBatch(t *testing.T) {
	var got Batch
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Options{Endpoint: srv.URL, Key: "k1", Timeout: 2 * time.Second}, nil)
	b := Batch{
		Recipients: []string{"u1", "u2"},
		Title:      "New likes",
		Body:       "Alice liked your message",
		Link:       "app://room/r1",
	}
	if err := c.Send(context.Background(), b); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if auth != "key=k1" {
		t.Fatalf("authorization header: %q", auth)
	}
	if got.ID == "" {
		t.Fatalf("batch id must be assigned")
	}
	if len(got.Recipients) != 2 || got.Title != "New likes" || got.Link != "app://room/r1" {
		t.Fatalf("batch: %+v", got)
	}
}

func TestSendKeepsCallerBatchID(t *testing.T) {
	var got Batch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	c := NewClient(Options{Endpoint: srv.URL, Timeout: 2 * time.Second}, nil)
	if err := c.Send(context.Background(), Batch{ID: "b-7", Recipients: []string{"u1"}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.ID != "b-7" {
		t.Fatalf("batch id: %q", got.ID)
	}
}

func TestSendDisabledIsNoOp(t *testing.T) {
	c := NewClient(Options{}, nil)
	if c.Enabled() {
		t.Fatalf("client without endpoint must be disabled")
	}
	if err := c.Send(context.Background(), Batch{Recipients: []string{"u1"}, Title: "x"}); err != nil {
		t.Fatalf("disabled send must succeed: %v", err)
	}
}

func TestSendEmptyRecipientsIsNoOp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected for empty recipients")
	}))
	defer srv.Close()

	c := NewClient(Options{Endpoint: srv.URL, Timeout: 2 * time.Second}, nil)
	if err := c.Send(context.Background(), Batch{Title: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestSendRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(Options{Endpoint: srv.URL, Timeout: 2 * time.Second}, nil)
	err := c.Send(context.Background(), Batch{Recipients: []string{"u1"}, Title: "x"})
	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("want ErrDispatchFailed, got %v", err)
	}
}

func TestSendUnreachableEndpoint(t *testing.T) {
	c := NewClient(Options{Endpoint: "http://127.0.0.1:1/push", Timeout: 500 * time.Millisecond}, nil)
	err := c.Send(context.Background(), Batch{Recipients: []string{"u1"}, Title: "x"})
	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("want ErrDispatchFailed, got %v", err)
	}
}
