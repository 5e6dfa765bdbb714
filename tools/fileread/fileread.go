// Package fileread lets a running Task pull external HTML/PDF content into
// its context mid-run, via the standard Tool interface so it reaches the
// agent the same way any other tool result does.
package fileread

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"

	oasis "github.com/nevindra/aicode"
)

// Tool fetches a URL and extracts readable plain text from HTML or PDF.
type Tool struct {
	client *http.Client
}

// Compile-time interface check.
var _ oasis.Tool = (*Tool)(nil)

// New creates a fileread Tool with a bounded HTTP client.
func New() *Tool {
	return &Tool{client: &http.Client{Timeout: 20 * time.Second}}
}

func (t *Tool) Definitions() []oasis.ToolDefinition {
	return []oasis.ToolDefinition{{
		Name:        "read_url",
		Description: "Fetch a URL and extract its readable text content. Handles HTML pages (stripping nav/ads via readability) and PDF documents.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","description":"URL to fetch"}},"required":["url"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (oasis.ToolResult, error) {
	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return oasis.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.URL == "" {
		return oasis.ToolResult{Error: "url is required"}, nil
	}

	text, err := t.Read(ctx, params.URL)
	if err != nil {
		return oasis.ToolResult{Error: err.Error()}, nil
	}
	return oasis.ToolResult{Content: text}, nil
}

// Read fetches rawURL and returns its extracted plain text, dispatching on
// Content-Type to either the HTML readability path or the PDF extractor.
func (t *Tool) Read(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("fileread: build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; OasisAgent/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fileread: fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fileread: %s returned status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20)) // 20MB
	if err != nil {
		return "", fmt.Errorf("fileread: read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/pdf") || strings.HasSuffix(strings.ToLower(rawURL), ".pdf") {
		return extractPDF(body)
	}
	return extractHTML(body, rawURL)
}

func extractHTML(body []byte, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("fileread: parse url %s: %w", rawURL, err)
	}
	article, err := readability.FromReader(strings.NewReader(string(body)), parsed)
	if err != nil {
		return "", fmt.Errorf("fileread: extract readable content: %w", err)
	}
	title := strings.TrimSpace(article.Title)
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return "", fmt.Errorf("fileread: no readable content found at %s", rawURL)
	}
	if title != "" {
		return title + "\n\n" + text, nil
	}
	return text, nil
}

func extractPDF(body []byte) (string, error) {
	if len(body) == 0 {
		return "", fmt.Errorf("fileread: empty PDF content")
	}
	r, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("fileread: open pdf: %w", err)
	}

	var out strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if pageText == "" {
			continue
		}
		if out.Len() > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString(strings.TrimSpace(pageText))
	}
	return strings.TrimSpace(out.String()), nil
}
