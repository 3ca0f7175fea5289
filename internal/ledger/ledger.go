// Package ledger holds the issue status machine shared by detected issues and manual tasks.
package ledger

import (
	"strings"
	"time"

	"freshcheck/internal/domain"
)

var transitions = map[string][]string{
	domain.IssueOpen:      {domain.IssueAssigned},
	domain.IssueAssigned:  {domain.IssueCompleted},
	domain.IssueCompleted: {domain.IssueAssigned},
}

// ValidStatus reports whether s is a known issue status.
func ValidStatus(s string) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether an issue may move from one status to another.
// Staying in the same status is always allowed.
func CanTransition(from, to string) bool {
	if from == to {
		return ValidStatus(to)
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Apply merges patch onto issue and stamps assignment and completion times.
// assignedAt is written once; completedAt is cleared when a completed issue is reopened.
func Apply(issue domain.Issue, patch domain.IssuePatch, now time.Time) (domain.Issue, error) {
	stamp := now.UTC().Format(time.RFC3339)
	from := issue.Status
	if from == "" {
		from = domain.IssueOpen
	}

	target := from
	if patch.Status != nil {
		target = strings.TrimSpace(*patch.Status)
		if !ValidStatus(target) {
			return issue, domain.ValidationError{Field: "status", Reason: "must be one of open, assigned, completed"}
		}
	}

	if patch.AssignedTo != nil {
		issue.AssignedTo = optional(*patch.AssignedTo)
	}
	if patch.AssignedWriterID != nil {
		issue.AssignedWriterID = optional(*patch.AssignedWriterID)
	}
	if patch.GoogleDocURL != nil {
		issue.GoogleDocURL = optional(*patch.GoogleDocURL)
	}
	if patch.DueDate != nil {
		issue.DueDate = optional(*patch.DueDate)
	}

	// Naming an assignee on an open issue assigns it.
	if patch.Status == nil && from == domain.IssueOpen && issue.AssignedTo != nil && (patch.AssignedTo != nil || patch.AssignedWriterID != nil) {
		target = domain.IssueAssigned
	}

	if !CanTransition(from, target) {
		return issue, domain.TransitionError{From: from, To: target}
	}
	if target == domain.IssueAssigned && issue.AssignedTo == nil {
		return issue, domain.ValidationError{Field: "assignedTo", Reason: "required when status is assigned"}
	}

	if target != from {
		switch target {
		case domain.IssueAssigned:
			if issue.AssignedAt == nil {
				issue.AssignedAt = &stamp
			}
			if from == domain.IssueCompleted {
				issue.CompletedAt = nil
			}
		case domain.IssueCompleted:
			issue.CompletedAt = &stamp
		}
	}
	issue.Status = target
	return issue, nil
}

// NormalizeDetected prepares a freshly detected issue for storage.
func NormalizeDetected(issue domain.Issue) domain.Issue {
	issue.Status = domain.IssueOpen
	issue.AssignedTo = nil
	issue.AssignedWriterID = nil
	issue.AssignedAt = nil
	issue.CompletedAt = nil
	issue.SuggestedSources = nil
	return issue
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
