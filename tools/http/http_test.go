package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPRequestBasicGET(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello from test server"))
	}))
	defer srv.Close()

	tool := New()
	args, _ := json.Marshal(map[string]string{"url": srv.URL})
	result, err := tool.Execute(context.Background(), "http_request", args)
	if err != nil {
		t.Fatal(err)
	}
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if result.Content == "" {
		t.Error("expected content")
	}
}

func TestHTTPRequestMethodAndHeaders(t *testing.T) {
	var gotMethod, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Test")
		w.WriteHeader(201)
	}))
	defer srv.Close()

	tool := New()
	args, _ := json.Marshal(map[string]any{
		"method":  "POST",
		"url":     srv.URL,
		"headers": map[string]string{"X-Test": "abc"},
		"body":    `{"k":"v"}`,
	})
	result, err := tool.Execute(context.Background(), "http_request", args)
	if err != nil {
		t.Fatal(err)
	}
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if gotMethod != "POST" {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	if gotHeader != "abc" {
		t.Errorf("header = %q, want abc", gotHeader)
	}
}

func TestHTTPRequestMissingURL(t *testing.T) {
	tool := New()
	args, _ := json.Marshal(map[string]string{})
	result, _ := tool.Execute(context.Background(), "http_request", args)
	if result.Error == "" {
		t.Error("expected error for missing url")
	}
}

func TestHTTPRequestTruncation(t *testing.T) {
	bigContent := make([]byte, 10000)
	for i := range bigContent {
		bigContent[i] = 'A'
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bigContent)
	}))
	defer srv.Close()

	tool := New()
	args, _ := json.Marshal(map[string]string{"url": srv.URL})
	result, _ := tool.Execute(context.Background(), "http_request", args)
	if len(result.Content) > maxResultContent+100 {
		t.Errorf("content not truncated: %d", len(result.Content))
	}
}
