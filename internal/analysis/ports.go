// Package analysis wraps the external collaborators that turn a batch of URLs into
// detection results: page extraction, LLM staleness detection and source research.
package analysis

import (
	"context"
	"errors"

	"freshcheck/internal/domain"
)

// ErrNotConfigured marks a collaborator that cannot run at all, such as an LLM client
// without an API key. The pipeline fails the whole batch on it instead of per URL.
var ErrNotConfigured = errors.New("collaborator not configured")

// Page is the extracted, analysis-ready form of a fetched URL.
type Page struct {
	URL             string
	Title           string
	MetaDescription string
	Headings        domain.Headings
	Content         string
}

// Extractor fetches a URL and returns its readable content.
type Extractor interface {
	Extract(ctx context.Context, url string) (Page, error)
}

// Detector finds stale statements in a page under a domain context.
type Detector interface {
	Detect(ctx context.Context, page Page, dc domain.DomainContext) ([]domain.Issue, error)
}

// Researcher proposes replacement sources for a detected issue.
type Researcher interface {
	Research(ctx context.Context, issue domain.Issue, dc domain.DomainContext) ([]domain.SuggestedSource, error)
}

// Analyzer turns a batch of URLs into one result per URL, in input order.
type Analyzer interface {
	Analyze(ctx context.Context, urls []string, dc domain.DomainContext) ([]domain.DetectionResult, error)
}
