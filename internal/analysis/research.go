package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"freshcheck/internal/domain"
)

// DefaultMaxSources caps the candidates returned by research.
const DefaultMaxSources = 5

const researchSystemPrompt = `You are a research assistant for a content audit tool. Find high-authority sources that correct outdated facts.

Prefer official government data, academic institutions and primary industry reports.
Exclude forums, social media, opinion blogs and user-generated content.
Prefer sources published within the last 12 months.

Return ONLY a JSON array:
[{"url": "direct link", "title": "page title", "snippet": "direct quote proving the fact", "date": "YYYY-MM-DD if known", "confidence": "High or Medium"}]
Limit the answer to the 3-5 best sources.`

// LLMResearcher generates a search query with one chat model and asks a
// search-backed chat model for sources.
type LLMResearcher struct {
	Query      Completer
	Search     Completer
	MaxSources int
	Logger     *slog.Logger
	Now        func() time.Time
}

type researchedSource struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	Date       string `json:"date"`
	Confidence string `json:"confidence"`
}

func (r LLMResearcher) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Research returns up to MaxSources unaccepted candidates for the issue.
func (r LLMResearcher) Research(ctx context.Context, issue domain.Issue, dc domain.DomainContext) ([]domain.SuggestedSource, error) {
	if r.Search == nil {
		return nil, fmt.Errorf("research: %w", ErrNotConfigured)
	}
	query := r.query(ctx, issue, dc)
	out, err := r.Search.Complete(ctx,
		Message{Role: "system", Content: researchSystemPrompt},
		Message{Role: "user", Content: "Find authoritative sources for: " + query},
	)
	if err != nil {
		return nil, fmt.Errorf("research %s: %w", issue.ID, err)
	}
	limit := r.MaxSources
	if limit <= 0 {
		limit = DefaultMaxSources
	}
	return ParseSources(out, limit), nil
}

// query asks the model for a concise search query, falling back to the flagged text.
func (r LLMResearcher) query(ctx context.Context, issue domain.Issue, dc domain.DomainContext) string {
	fallback := "current " + strings.ReplaceAll(issue.FlaggedText, `"`, "")
	if r.Query == nil {
		return fallback
	}
	var b strings.Builder
	b.WriteString("You help find current, authoritative information.\n\n")
	fmt.Fprintf(&b, "Current date: %s\n\n", r.now().Format("January 2, 2006"))
	fmt.Fprintf(&b, "Domain context:\n- Description: %s\n- Entity types: %s\n- Staleness rules: %s\n\n",
		dc.Description, dc.EntityTypes, dc.StalenessRules)
	fmt.Fprintf(&b, "Issue:\n- Description: %s\n- Flagged text: %s\n- Reasoning: %s\n\n",
		sanitize(issue.Description), sanitize(issue.FlaggedText), sanitize(issue.Reasoning))
	b.WriteString("Write one targeted search query (under 15 words) that finds the most current official data resolving this issue. ")
	b.WriteString("Prefer primary sources and include time qualifiers. Return only the query text.")

	out, err := r.Query.Complete(ctx, Message{Role: "user", Content: b.String()})
	if err != nil || strings.TrimSpace(out.Content) == "" {
		if r.Logger != nil {
			r.Logger.Warn("research query generation failed", "issue_id", issue.ID, "err", err)
		}
		return fallback
	}
	return strings.Trim(strings.TrimSpace(out.Content), `"`)
}

// sanitize bounds user-derived prompt input and strips quotes and newlines.
func sanitize(s string) string {
	s = truncate(s, 500)
	return strings.NewReplacer(`"`, " ", "\n", " ", "\r", " ").Replace(s)
}

// ParseSources reads the JSON source list from a search answer, falling back to the
// provider citations when the answer has none.
func ParseSources(out Completion, limit int) []domain.SuggestedSource {
	sources := []domain.SuggestedSource{}
	if raw, ok := jsonArray(out.Content); ok {
		var items []researchedSource
		if err := json.Unmarshal([]byte(raw), &items); err == nil {
			for _, it := range items {
				if len(sources) == limit {
					break
				}
				src := domain.SuggestedSource{
					URL:        strings.TrimSpace(it.URL),
					Title:      strings.TrimSpace(it.Title),
					Snippet:    strings.TrimSpace(it.Snippet),
					Domain:     hostOf(it.URL),
					Confidence: normalizeConfidence(it.Confidence),
				}
				if d := strings.TrimSpace(it.Date); d != "" {
					src.PublicationDate = &d
				}
				sources = append(sources, src)
			}
		}
	}
	if len(sources) > 0 {
		return sources
	}
	for _, c := range out.Citations {
		if len(sources) == limit {
			break
		}
		host := hostOf(c)
		title := host
		if title == "" {
			title = "Source"
		}
		sources = append(sources, domain.SuggestedSource{
			URL:        c,
			Title:      title,
			Domain:     host,
			Confidence: "Medium",
		})
	}
	return sources
}

func hostOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return u.Host
}

func normalizeConfidence(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "high":
		return "High"
	case "low":
		return "Low"
	default:
		return "Medium"
	}
}
