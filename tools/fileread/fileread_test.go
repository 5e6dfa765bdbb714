package fileread

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestToolExecuteHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Report</title></head><body><article><h1>Report</h1><p>` +
			`Quarterly earnings rose sharply across every region this period, driven by strong demand.` +
			`</p></article></body></html>`))
	}))
	defer srv.Close()

	tool := New()
	args, _ := json.Marshal(map[string]string{"url": srv.URL})
	result, err := tool.Execute(context.Background(), "read_url", args)
	if err != nil {
		t.Fatal(err)
	}
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if result.Content == "" {
		t.Error("expected extracted content")
	}
}

func TestToolExecuteMissingURL(t *testing.T) {
	tool := New()
	args, _ := json.Marshal(map[string]string{})
	result, err := tool.Execute(context.Background(), "read_url", args)
	if err != nil {
		t.Fatal(err)
	}
	if result.Error == "" {
		t.Error("expected error for missing url")
	}
}

func TestToolExecuteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	tool := New()
	args, _ := json.Marshal(map[string]string{"url": srv.URL})
	result, err := tool.Execute(context.Background(), "read_url", args)
	if err != nil {
		t.Fatal(err)
	}
	if result.Error == "" {
		t.Error("expected error for 404 response")
	}
}

func TestToolExecutePDFByExtension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a real pdf"))
	}))
	defer srv.Close()

	tool := New()
	args, _ := json.Marshal(map[string]string{"url": srv.URL + "/doc.pdf"})
	result, err := tool.Execute(context.Background(), "read_url", args)
	if err != nil {
		t.Fatal(err)
	}
	if result.Error == "" {
		t.Error("expected error for malformed pdf")
	}
}

func TestDefinitions(t *testing.T) {
	tool := New()
	defs := tool.Definitions()
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	if defs[0].Name != "read_url" {
		t.Errorf("expected name 'read_url', got %q", defs[0].Name)
	}
}
