package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"freshcheck/internal/domain"
)

var testContext = domain.DomainContext{
	Description:    "Mortgage rate guides",
	EntityTypes:    "interest rates, dates",
	StalenessRules: "older than 6 months",
}

func TestParseDocument(t *testing.T) {
	t.Parallel()

	html := `<html><head><title> Rates  Guide </title><meta name="description" content="Current rates"></head>
	<body><nav>Menu</nav><h1>Mortgage Rates</h1><p>Rates were 3% in 2021.</p>
	<ul><li>Fixed: 3%</li></ul><h2>History</h2><script>var x = 1;</script></body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	page := ParseDocument("https://a.test", doc)
	if page.Title != "Rates Guide" {
		t.Fatalf("unexpected title %q", page.Title)
	}
	if page.MetaDescription != "Current rates" {
		t.Fatalf("unexpected description %q", page.MetaDescription)
	}
	if len(page.Headings.H1) != 1 || page.Headings.H1[0] != "Mortgage Rates" || len(page.Headings.H2) != 1 {
		t.Fatalf("unexpected headings %+v", page.Headings)
	}
	if !strings.Contains(page.Content, "# Mortgage Rates") || !strings.Contains(page.Content, "- Fixed: 3%") {
		t.Fatalf("unexpected content %q", page.Content)
	}
	if strings.Contains(page.Content, "Menu") || strings.Contains(page.Content, "var x") {
		t.Fatalf("navigation or script leaked into content: %q", page.Content)
	}
}

func TestParseDocumentTitleFallbacks(t *testing.T) {
	t.Parallel()

	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(`<html><body><h1>Only Heading</h1></body></html>`))
	if got := ParseDocument("u", doc).Title; got != "Only Heading" {
		t.Fatalf("expected h1 fallback, got %q", got)
	}
	doc, _ = goquery.NewDocumentFromReader(strings.NewReader(`<html><body><p>text</p></body></html>`))
	if got := ParseDocument("u", doc).Title; got != untitledPage {
		t.Fatalf("expected untitled, got %q", got)
	}
}

func TestHTMLExtractorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<html><head><title>Ok</title></head><body><p>hello</p></body></html>`)
	}))
	defer srv.Close()

	x := NewHTMLExtractor(srv.Client(), "")
	page, err := x.Extract(context.Background(), srv.URL+"/page")
	if err != nil || page.Title != "Ok" {
		t.Fatalf("extract: %+v %v", page, err)
	}
	if _, err := x.Extract(context.Background(), srv.URL+"/missing"); err == nil {
		t.Fatalf("expected error for 404")
	}
}

func chatServer(t *testing.T, reply func(req chatRequest) chatResponse) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reply(req))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func answer(content string, citations ...string) chatResponse {
	var resp chatResponse
	resp.Choices = append(resp.Choices, struct {
		Message Message `json:"message"`
	}{Message: Message{Role: "assistant", Content: content}})
	resp.Citations = citations
	return resp
}

func TestChatClientNotConfigured(t *testing.T) {
	t.Parallel()

	c := NewChatClient("https://llm.test/v1/chat/completions", "m", "", time.Second)
	if _, err := c.Complete(context.Background(), Message{Role: "user", Content: "hi"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestLLMDetectorParsesIssues(t *testing.T) {
	t.Parallel()

	var prompt string
	srv := chatServer(t, func(req chatRequest) chatResponse {
		prompt = req.Messages[0].Content
		return answer("Here you go:\n" + `[{"description":"Old rate","flaggedText":"3% in 2021","contextExcerpt":"Rates were **3% in 2021**.","reasoning":"Older than 6 months"}]` + "\nDone.")
	})
	d := LLMDetector{
		Chat:     NewChatClient(srv.URL, "m", "test-key", time.Second),
		MaxChars: 10,
		Now:      func() time.Time { return time.Date(2025, 12, 28, 0, 0, 0, 0, time.UTC) },
	}
	issues, err := d.Detect(context.Background(), Page{URL: "https://a.test", Title: "Rates", Content: "0123456789ABCDEF"}, testContext)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(issues))
	}
	if !regexp.MustCompile(`^issue_[0-9a-f]{8}$`).MatchString(issues[0].ID) {
		t.Fatalf("unexpected id %s", issues[0].ID)
	}
	if issues[0].Status != domain.IssueOpen || issues[0].ContextExcerpt == nil {
		t.Fatalf("unexpected issue %+v", issues[0])
	}
	if !strings.Contains(prompt, "0123456789") || strings.Contains(prompt, "ABCDEF") {
		t.Fatalf("content not truncated in prompt")
	}
	if !strings.Contains(prompt, "December 28, 2025") {
		t.Fatalf("reference date missing from prompt")
	}
}

func TestParseIssuesWithoutArray(t *testing.T) {
	t.Parallel()

	if got := ParseIssues("nothing stale here"); len(got) != 0 {
		t.Fatalf("expected no issues, got %d", len(got))
	}
	if got := ParseIssues("[not json]"); len(got) != 0 {
		t.Fatalf("expected no issues for malformed json, got %d", len(got))
	}
}

func TestResearchFallsBackToCitations(t *testing.T) {
	t.Parallel()

	var searchQuery string
	search := chatServer(t, func(req chatRequest) chatResponse {
		searchQuery = req.Messages[len(req.Messages)-1].Content
		return answer("no json", "https://www.census.gov/data", "https://bls.gov/x", "c", "d", "e", "f")
	})
	r := LLMResearcher{Search: NewChatClient(search.URL, "sonar", "test-key", time.Second)}
	sources, err := r.Research(context.Background(), domain.Issue{ID: "issue_1", FlaggedText: `"3%" rate`}, testContext)
	if err != nil {
		t.Fatalf("research: %v", err)
	}
	if !strings.HasSuffix(searchQuery, "current 3% rate") {
		t.Fatalf("expected fallback query, got %q", searchQuery)
	}
	if len(sources) != DefaultMaxSources {
		t.Fatalf("expected %d sources, got %d", DefaultMaxSources, len(sources))
	}
	if sources[0].Domain != "www.census.gov" || sources[0].Confidence != "Medium" || sources[0].IsAccepted {
		t.Fatalf("unexpected source %+v", sources[0])
	}
}

func TestResearchUsesGeneratedQuery(t *testing.T) {
	t.Parallel()

	query := chatServer(t, func(req chatRequest) chatResponse {
		return answer(`"2025 average mortgage rate Freddie Mac"`)
	})
	var searchQuery string
	search := chatServer(t, func(req chatRequest) chatResponse {
		searchQuery = req.Messages[len(req.Messages)-1].Content
		return answer(`[{"url":"https://freddiemac.com/pmms","title":"PMMS","snippet":"6.2%","date":"2025-11-01","confidence":"high"}]`)
	})
	r := LLMResearcher{
		Query:  NewChatClient(query.URL, "m", "test-key", time.Second),
		Search: NewChatClient(search.URL, "sonar", "test-key", time.Second),
	}
	sources, err := r.Research(context.Background(), domain.Issue{ID: "issue_1", FlaggedText: "3%"}, testContext)
	if err != nil {
		t.Fatalf("research: %v", err)
	}
	if !strings.HasSuffix(searchQuery, "2025 average mortgage rate Freddie Mac") {
		t.Fatalf("unexpected search query %q", searchQuery)
	}
	if len(sources) != 1 || sources[0].Confidence != "High" || sources[0].PublicationDate == nil {
		t.Fatalf("unexpected sources %+v", sources)
	}
}

type stubExtractor struct {
	delay time.Duration
}

func (s stubExtractor) Extract(ctx context.Context, url string) (Page, error) {
	if strings.Contains(url, "down") {
		return Page{}, errors.New("unable to access: 503")
	}
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return Page{}, ctx.Err()
	}
	return Page{URL: url, Title: "T " + url, Content: "text"}, nil
}

type stubDetector struct {
	calls atomic.Int32
	err   error
}

func (s *stubDetector) Detect(ctx context.Context, page Page, dc domain.DomainContext) ([]domain.Issue, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return []domain.Issue{{ID: NewIssueID(), Description: "stale", Status: domain.IssueOpen}}, nil
}

func TestPipelinePreservesOrder(t *testing.T) {
	t.Parallel()

	p := Pipeline{Extractor: stubExtractor{}, Detector: &stubDetector{}, Concurrency: 3}
	urls := []string{"https://a.test", "https://down.test", "https://c.test", "https://a.test"}
	results, err := p.Analyze(context.Background(), urls, testContext)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(results) != len(urls) {
		t.Fatalf("expected %d results, got %d", len(urls), len(results))
	}
	for i, res := range results {
		if res.URL != urls[i] {
			t.Fatalf("result %d out of order: %s", i, res.URL)
		}
	}
	if results[1].Status != domain.ResultFailed || results[1].Title != FailedTitle || len(results[1].Issues) != 0 {
		t.Fatalf("unexpected failed result %+v", results[1])
	}
	if results[0].Status != domain.ResultSuccess || results[0].IssueCount != 1 {
		t.Fatalf("unexpected success result %+v", results[0])
	}
}

func TestPipelineFailsBatchWhenUnconfigured(t *testing.T) {
	t.Parallel()

	p := Pipeline{Extractor: stubExtractor{}, Detector: &stubDetector{err: fmt.Errorf("detect: %w", ErrNotConfigured)}}
	if _, err := p.Analyze(context.Background(), []string{"https://a.test"}, testContext); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestPipelineDeadline(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	p := Pipeline{Extractor: stubExtractor{delay: time.Second}, Detector: &stubDetector{}, Concurrency: 2}
	if _, err := p.Analyze(ctx, []string{"https://a.test", "https://b.test"}, testContext); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}
