package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	oasis "github.com/nevindra/aicode"
	"github.com/nevindra/aicode/ingest"
)

// Tool performs web searches via the Brave Search API, fetching and
// ranking result pages by keyword overlap with the query.
type Tool struct {
	braveAPIKey string
	httpClient  *http.Client
}

// New creates a search Tool backed by a Brave Search API key.
func New(braveAPIKey string) *Tool {
	return &Tool{
		braveAPIKey: braveAPIKey,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

type braveResult struct {
	Title   string
	URL     string
	Snippet string
}

type rankedResult struct {
	Result braveResult
	Text   string // snippet plus fetched excerpt, trimmed for display
	Score  float64
}

func (t *Tool) Definitions() []oasis.ToolDefinition {
	return []oasis.ToolDefinition{{
		Name:        "web_search",
		Description: "Search the web for current/real-time information. Use for recent events, news, prices, weather, or anything that requires up-to-date data.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Search query optimized for search engines"}},"required":["query"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (oasis.ToolResult, error) {
	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return oasis.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}

	content, err := t.Search(ctx, params.Query)
	if err != nil {
		return oasis.ToolResult{Error: err.Error()}, nil
	}

	return oasis.ToolResult{Content: content}, nil
}

// Search runs a Brave web search, fetches the top pages, and ranks them
// by keyword overlap with query so the most relevant excerpts surface first.
func (t *Tool) Search(ctx context.Context, query string) (string, error) {
	results, err := t.braveSearch(ctx, query, 8)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return fmt.Sprintf("No results found for %q.", query), nil
	}

	withContent := t.fetchAndExtract(ctx, results)
	ranked := rankByKeywordOverlap(query, withContent)

	return formatRankedResults(ranked), nil
}

func (t *Tool) braveSearch(ctx context.Context, query string, count int) ([]braveResult, error) {
	u := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d",
		url.QueryEscape(query), count)

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.braveAPIKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave search error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("brave API %d: %s", resp.StatusCode, string(body))
	}

	var data struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("brave parse error: %w", err)
	}

	var results []braveResult
	for _, r := range data.Web.Results {
		results = append(results, braveResult{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Description,
		})
	}
	return results, nil
}

func (t *Tool) fetchAndExtract(ctx context.Context, results []braveResult) []rankedResult {
	out := make([]rankedResult, len(results))
	var wg sync.WaitGroup

	for i, r := range results {
		out[i] = rankedResult{Result: r, Text: r.Snippet}
		wg.Add(1)
		go func(idx int, u string) {
			defer wg.Done()
			fetchCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
			defer cancel()

			req, err := http.NewRequestWithContext(fetchCtx, "GET", u, nil)
			if err != nil {
				return
			}
			req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; OasisBot/1.0)")

			resp, err := t.httpClient.Do(req)
			if err != nil {
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 400 {
				return
			}

			body, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10)) // 512KB
			if err != nil {
				return
			}

			text := ingest.StripHTML(string(body))
			if len(text) > 1500 {
				text = text[:1500]
			}
			if text != "" {
				out[idx].Text = out[idx].Result.Snippet + "\n" + text
			}
		}(i, r.URL)
	}
	wg.Wait()

	return out
}

// rankByKeywordOverlap scores each result by how many distinct query terms
// appear in its text, favoring matches in the title. There is no embedding
// provider in this runtime, so ranking falls back to lexical overlap rather
// than semantic similarity.
func rankByKeywordOverlap(query string, results []rankedResult) []rankedResult {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return results
	}

	for i := range results {
		results[i].Score = overlapScore(terms, results[i].Result.Title, results[i].Text)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	log.Printf(" [search] ranked %d results, top score %.2f", len(results), results[0].Score)

	return results
}

func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	seen := make(map[string]bool, len(fields))
	var terms []string
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()")
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}

func overlapScore(terms []string, title, text string) float64 {
	lowerTitle := strings.ToLower(title)
	lowerText := strings.ToLower(text)

	var score float64
	for _, term := range terms {
		if strings.Contains(lowerTitle, term) {
			score += 2
		}
		score += float64(strings.Count(lowerText, term))
	}
	return score / float64(len(terms))
}

func formatRankedResults(ranked []rankedResult) string {
	var out strings.Builder

	limit := 8
	if len(ranked) < limit {
		limit = len(ranked)
	}

	for i := 0; i < limit; i++ {
		r := ranked[i]
		fmt.Fprintf(&out, "[%d] (score: %.2f) %s\n%s\n%s\n\n", i+1, r.Score, r.Result.Title, r.Result.URL, r.Text)
	}

	return out.String()
}
