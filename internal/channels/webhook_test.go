package channels

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestWebhookPostsContent(t *testing.T) {
	var mu sync.Mutex
	var bodies []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(func() []string { return []string{srv.URL, "", srv.URL + "/second"} }, testLogger())
	if err := n.Notify(context.Background(), "PERMISSION REQUIRED"); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(bodies))
	}
	if bodies[0]["content"] != "PERMISSION REQUIRED" {
		t.Errorf("content = %q", bodies[0]["content"])
	}
}

func TestWebhookFailureIsolated(t *testing.T) {
	var hits int
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer bad.Close()

	n := NewWebhookNotifier(func() []string { return []string{bad.URL, good.URL} }, testLogger())
	err := n.Notify(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("expected status error, got %v", err)
	}
	if hits != 1 {
		t.Errorf("good endpoint hits = %d, want 1", hits)
	}
}

type mockHTTPClient struct {
	DoFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.DoFunc(req)
}

func TestWebhookClientError(t *testing.T) {
	client := &mockHTTPClient{DoFunc: func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}}
	n := NewWebhookNotifierWithClient(func() []string { return []string{"http://hook.invalid"} }, client, testLogger())

	if err := n.Notify(context.Background(), "x"); err == nil {
		t.Error("expected error")
	}
}

func TestWebhookReadsURLsEachCall(t *testing.T) {
	var urls []string
	var calls int
	client := &mockHTTPClient{DoFunc: func(req *http.Request) (*http.Response, error) {
		calls++
		return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(""))}, nil
	}}
	n := NewWebhookNotifierWithClient(func() []string { return urls }, client, testLogger())

	n.Notify(context.Background(), "first")
	urls = []string{"http://a.example", "http://b.example"}
	n.Notify(context.Background(), "second")

	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
