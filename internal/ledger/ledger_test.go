package ledger

import (
	"errors"
	"testing"
	"time"

	"freshcheck/internal/domain"
)

func ptr(s string) *string { return &s }

func TestApplyAssignStampsOnce(t *testing.T) {
	first := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	second := first.Add(2 * time.Hour)
	issue := domain.Issue{ID: "issue_1", Status: domain.IssueOpen}

	issue, err := Apply(issue, domain.IssuePatch{Status: ptr(domain.IssueAssigned), AssignedTo: ptr("Sarah")}, first)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	issue, err = Apply(issue, domain.IssuePatch{AssignedTo: ptr("Mike")}, second)
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if issue.AssignedTo == nil || *issue.AssignedTo != "Mike" {
		t.Fatalf("expected Mike, got %v", issue.AssignedTo)
	}
	if issue.AssignedAt == nil || *issue.AssignedAt != first.Format(time.RFC3339) {
		t.Fatalf("assignedAt moved: %v", issue.AssignedAt)
	}
}

func TestApplyAssigneeImpliesAssigned(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	issue, err := Apply(domain.Issue{Status: domain.IssueOpen}, domain.IssuePatch{AssignedTo: ptr("Sarah")}, now)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if issue.Status != domain.IssueAssigned || issue.AssignedAt == nil {
		t.Fatalf("expected assigned with timestamp, got %+v", issue)
	}
}

func TestApplyRejectsAssignWithoutAssignee(t *testing.T) {
	_, err := Apply(domain.Issue{Status: domain.IssueOpen}, domain.IssuePatch{Status: ptr(domain.IssueAssigned)}, time.Now())
	var ve domain.ValidationError
	if !errors.As(err, &ve) || ve.Field != "assignedTo" {
		t.Fatalf("expected assignedTo validation error, got %v", err)
	}
}

func TestApplyTransitions(t *testing.T) {
	cases := []struct {
		from, to string
		ok       bool
	}{
		{domain.IssueOpen, domain.IssueAssigned, true},
		{domain.IssueOpen, domain.IssueCompleted, false},
		{domain.IssueAssigned, domain.IssueCompleted, true},
		{domain.IssueAssigned, domain.IssueOpen, false},
		{domain.IssueCompleted, domain.IssueAssigned, true},
		{domain.IssueCompleted, domain.IssueOpen, false},
		{domain.IssueAssigned, domain.IssueAssigned, true},
	}
	for _, tc := range cases {
		issue := domain.Issue{Status: tc.from, AssignedTo: ptr("Sarah")}
		_, err := Apply(issue, domain.IssuePatch{Status: ptr(tc.to)}, time.Now())
		if tc.ok && err != nil {
			t.Fatalf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		if !tc.ok && !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("%s -> %s: expected transition error, got %v", tc.from, tc.to, err)
		}
	}
}

func TestApplyReopenClearsCompletedAt(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	issue := domain.Issue{Status: domain.IssueOpen}
	issue, _ = Apply(issue, domain.IssuePatch{Status: ptr(domain.IssueAssigned), AssignedTo: ptr("Sarah")}, t0)
	issue, _ = Apply(issue, domain.IssuePatch{Status: ptr(domain.IssueCompleted)}, t0.Add(time.Hour))
	if issue.CompletedAt == nil {
		t.Fatalf("completedAt not stamped")
	}
	issue, err := Apply(issue, domain.IssuePatch{Status: ptr(domain.IssueAssigned)}, t0.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if issue.CompletedAt != nil {
		t.Fatalf("expected completedAt cleared on reopen, got %s", *issue.CompletedAt)
	}
	if *issue.AssignedAt != t0.Format(time.RFC3339) {
		t.Fatalf("assignedAt changed on reopen: %s", *issue.AssignedAt)
	}
	issue, _ = Apply(issue, domain.IssuePatch{Status: ptr(domain.IssueCompleted)}, t0.Add(3*time.Hour))
	if issue.CompletedAt == nil || *issue.CompletedAt != t0.Add(3*time.Hour).Format(time.RFC3339) {
		t.Fatalf("expected completedAt re-stamped, got %v", issue.CompletedAt)
	}
}

func TestApplyUnknownStatus(t *testing.T) {
	_, err := Apply(domain.Issue{Status: domain.IssueOpen}, domain.IssuePatch{Status: ptr("archived")}, time.Now())
	var ve domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
