package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"freshcheck/internal/domain"
)

// FailedTitle is the title recorded for pages that could not be fetched.
const FailedTitle = "Failed to Access"

// Pipeline analyzes URLs concurrently and keeps results in input order.
type Pipeline struct {
	Extractor   Extractor
	Detector    Detector
	Concurrency int
	Logger      *slog.Logger
}

var _ Analyzer = Pipeline{}

// Analyze returns one result per URL. Per-URL failures become failed results; only
// cancellation, deadlines or an unconfigured collaborator fail the batch.
func (p Pipeline) Analyze(ctx context.Context, urls []string, dc domain.DomainContext) ([]domain.DetectionResult, error) {
	if p.Extractor == nil || p.Detector == nil {
		return nil, fmt.Errorf("pipeline: %w", ErrNotConfigured)
	}
	results := make([]domain.DetectionResult, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	limit := p.Concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, u := range urls {
		g.Go(func() error {
			res, err := p.analyzeOne(gctx, u, dc)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p Pipeline) analyzeOne(ctx context.Context, url string, dc domain.DomainContext) (domain.DetectionResult, error) {
	page, err := p.Extractor.Extract(ctx, url)
	if err != nil {
		if fatal(ctx, err) {
			return domain.DetectionResult{}, err
		}
		p.log().Warn("page extraction failed", "url", url, "err", err)
		return failedResult(url, FailedTitle, err), nil
	}
	issues, err := p.Detector.Detect(ctx, page, dc)
	if err != nil {
		if fatal(ctx, err) {
			return domain.DetectionResult{}, err
		}
		p.log().Warn("staleness detection failed", "url", url, "err", err)
		res := failedResult(url, page.Title, fmt.Errorf("analysis failed: %w", err))
		res.MetaDescription = page.MetaDescription
		return res, nil
	}
	if issues == nil {
		issues = []domain.Issue{}
	}
	headings := page.Headings
	return domain.DetectionResult{
		URL:             url,
		Title:           page.Title,
		Status:          domain.ResultSuccess,
		Issues:          issues,
		IssueCount:      len(issues),
		MetaDescription: page.MetaDescription,
		Headings:        &headings,
	}, nil
}

func (p Pipeline) log() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, ErrNotConfigured) || ctx.Err() != nil
}

func failedResult(url, title string, err error) domain.DetectionResult {
	return domain.DetectionResult{
		URL:    url,
		Title:  title,
		Status: domain.ResultFailed,
		Issues: []domain.Issue{},
		Error:  err.Error(),
	}
}
