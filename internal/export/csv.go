// Package export renders analysis runs for download.
package export

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"freshcheck/internal/domain"
)

// NoIssuesText fills the description cell of a page without issues.
const NoIssuesText = "No issues found."

var header = []string{"URL", "Page Title", "Issue Count", "Issue Description", "Flagged Text", "Reasoning"}

// Filename returns the attachment name used for a run export.
func Filename(runID string) string {
	return fmt.Sprintf("analysis_%s.csv", runID)
}

// WriteRunCSV writes one row per (url, issue) pair. Every field is quoted.
func WriteRunCSV(w io.Writer, run domain.AnalysisRun) error {
	bw := bufio.NewWriter(w)
	if err := writeRow(bw, header); err != nil {
		return err
	}
	for _, res := range run.Results {
		count := strconv.Itoa(len(res.Issues))
		if len(res.Issues) == 0 {
			reason := ""
			if res.Status == domain.ResultFailed {
				reason = res.Error
			}
			if err := writeRow(bw, []string{res.URL, res.Title, count, NoIssuesText, "", reason}); err != nil {
				return err
			}
			continue
		}
		for _, issue := range res.Issues {
			row := []string{
				res.URL,
				res.Title,
				count,
				StripMarkdown(issue.Description),
				StripMarkdown(issue.FlaggedText),
				reasoningCell(issue),
			}
			if err := writeRow(bw, row); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

func reasoningCell(issue domain.Issue) string {
	reason := StripMarkdown(issue.Reasoning)
	var refs []string
	for _, s := range issue.SuggestedSources {
		if !s.IsAccepted {
			continue
		}
		title := StripMarkdown(s.Title)
		if title == "" {
			title = "Source"
		}
		refs = append(refs, fmt.Sprintf("%s (%s)", title, s.URL))
	}
	if len(refs) == 0 {
		return reason
	}
	return reason + "\nSources: " + strings.Join(refs, "; ")
}

func writeRow(w *bufio.Writer, fields []string) error {
	for i, f := range fields {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if _, err := w.WriteString(`"` + strings.ReplaceAll(f, `"`, `""`) + `"`); err != nil {
			return err
		}
	}
	_, err := w.WriteString("\r\n")
	return err
}

var markdownRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile("```[\\s\\S]*?```"), ""},
	{regexp.MustCompile("`([^`]+)`"), "$1"},
	{regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`), "$1"},
	{regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`), "$1"},
	{regexp.MustCompile(`\*\*([^*]+)\*\*`), "$1"},
	{regexp.MustCompile(`__([^_]+)__`), "$1"},
	{regexp.MustCompile(`\*([^*]+)\*`), "$1"},
	{regexp.MustCompile(`\b_([^_]+)_\b`), "$1"},
	{regexp.MustCompile(`(?m)^#{1,6}\s+`), ""},
	{regexp.MustCompile(`(?m)^[-*_]{3,}$`), ""},
	{regexp.MustCompile(`(?m)^>\s+`), ""},
	{regexp.MustCompile(`\n{3,}`), "\n\n"},
	{regexp.MustCompile(` {2,}`), " "},
}

// StripMarkdown removes common inline and block markdown so cells read as plain text.
func StripMarkdown(s string) string {
	if s == "" {
		return ""
	}
	for _, r := range markdownRules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return strings.TrimSpace(s)
}
