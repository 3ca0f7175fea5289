package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"freshcheck/internal/domain"
)

// DefaultMaxContentChars bounds the page text sent to the model.
const DefaultMaxContentChars = 8000

// Completer is the part of ChatClient the detector and researcher need.
type Completer interface {
	Complete(ctx context.Context, messages ...Message) (Completion, error)
}

// LLMDetector asks a chat model for stale statements and parses its JSON answer.
type LLMDetector struct {
	Chat     Completer
	MaxChars int
	Now      func() time.Time
}

type detectedIssue struct {
	Description    string `json:"description"`
	FlaggedText    string `json:"flaggedText"`
	ContextExcerpt string `json:"contextExcerpt"`
	Reasoning      string `json:"reasoning"`
}

func (d LLMDetector) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Detect returns the issues found in page. An answer without a parsable JSON array
// means no issues.
func (d LLMDetector) Detect(ctx context.Context, page Page, dc domain.DomainContext) ([]domain.Issue, error) {
	if d.Chat == nil {
		return nil, fmt.Errorf("detector: %w", ErrNotConfigured)
	}
	limit := d.MaxChars
	if limit <= 0 {
		limit = DefaultMaxContentChars
	}
	content := truncate(page.Content, limit)

	out, err := d.Chat.Complete(ctx, Message{Role: "user", Content: detectionPrompt(d.now(), page, content, dc)})
	if err != nil {
		return nil, fmt.Errorf("detect %s: %w", page.URL, err)
	}
	return ParseIssues(out.Content), nil
}

// ParseIssues extracts detected issues from a model answer and gives each a fresh id.
func ParseIssues(answer string) []domain.Issue {
	raw, ok := jsonArray(answer)
	if !ok {
		return []domain.Issue{}
	}
	var items []detectedIssue
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return []domain.Issue{}
	}
	issues := make([]domain.Issue, 0, len(items))
	for _, it := range items {
		issue := domain.Issue{
			ID:          NewIssueID(),
			Description: strings.TrimSpace(it.Description),
			FlaggedText: strings.TrimSpace(it.FlaggedText),
			Reasoning:   strings.TrimSpace(it.Reasoning),
			Status:      domain.IssueOpen,
		}
		if excerpt := strings.TrimSpace(it.ContextExcerpt); excerpt != "" {
			issue.ContextExcerpt = &excerpt
		}
		issues = append(issues, issue)
	}
	return issues
}

// NewIssueID returns an id of the form issue_<8 hex>.
func NewIssueID() string {
	return "issue_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func detectionPrompt(now time.Time, page Page, content string, dc domain.DomainContext) string {
	today := now.Format("January 2, 2006")
	var b strings.Builder
	fmt.Fprintf(&b, "You audit web content for stale, time-sensitive information.\n\n")
	fmt.Fprintf(&b, "Reference date: %s (year %d).\n\n", today, now.Year())
	b.WriteString("Process:\n")
	b.WriteString("1. Find every absolute or relative date reference.\n")
	b.WriteString("2. When a month or day appears without a year, infer the year from the title, headings, byline or nearby text. Do not assume a past year.\n")
	b.WriteString("3. Compute the age of each statement relative to the reference date.\n")
	fmt.Fprintf(&b, "4. Apply the staleness rules %q using their plain-language meaning relative to the reference date. Future dates are current and must not be flagged.\n\n", dc.StalenessRules)
	b.WriteString("Do not flag clearly historical statements such as founding dates in a company history.\n\n")
	b.WriteString("Domain context:\n")
	fmt.Fprintf(&b, "- Description: %s\n", dc.Description)
	fmt.Fprintf(&b, "- Entity types to check: %s\n", dc.EntityTypes)
	fmt.Fprintf(&b, "- Staleness rules: %s\n\n", dc.StalenessRules)
	fmt.Fprintf(&b, "Page title: %s\n", page.Title)
	fmt.Fprintf(&b, "Page URL: %s\n\n", page.URL)
	b.WriteString("Content:\n")
	b.WriteString(content)
	b.WriteString("\n\nReturn ONLY a JSON array. Each element has the fields:\n")
	b.WriteString(`{"description": "what is stale", "flaggedText": "exact quote from the content", `)
	b.WriteString(`"contextExcerpt": "the sentence before, the sentence with the stale text wrapped in **bold**, and the sentence after", `)
	b.WriteString(`"reasoning": "why it is stale under the rules"}`)
	b.WriteString("\nReturn [] when nothing is stale.\n")
	return b.String()
}
