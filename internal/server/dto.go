package server

import (
	"freshcheck/internal/domain"
	"freshcheck/internal/engine"
)

// Request payloads

type DomainContextRequest struct {
	Description    string `json:"description" example:"Consumer credit card reviews"`
	EntityTypes    string `json:"entityTypes" example:"APR, annual fees, sign-up bonuses"`
	StalenessRules string `json:"stalenessRules" example:"Rates older than six months are stale"`
}

func (r DomainContextRequest) input() engine.DomainContextInput {
	return engine.DomainContextInput{
		Description:    r.Description,
		EntityTypes:    r.EntityTypes,
		StalenessRules: r.StalenessRules,
	}
}

type StartRunRequest struct {
	URLs          []string             `json:"urls"`
	DomainContext DomainContextRequest `json:"domainContext"`
}

type UpdateIssueRequest struct {
	Status           *string `json:"status,omitempty" enum:"open,assigned,completed"`
	AssignedTo       *string `json:"assignedTo,omitempty"`
	AssignedWriterID *string `json:"assignedWriterId,omitempty"`
	GoogleDocURL     *string `json:"googleDocUrl,omitempty"`
	DueDate          *string `json:"dueDate,omitempty"`
}

func (r UpdateIssueRequest) patch() domain.IssuePatch {
	return domain.IssuePatch{
		Status:           r.Status,
		AssignedTo:       r.AssignedTo,
		AssignedWriterID: r.AssignedWriterID,
		GoogleDocURL:     r.GoogleDocURL,
		DueDate:          r.DueDate,
	}
}

type CreateManualTaskRequest struct {
	Title        string `json:"title"`
	WriterID     string `json:"writerId,omitempty"`
	WriterName   string `json:"writerName,omitempty"`
	GoogleDocURL string `json:"googleDocUrl,omitempty"`
	DueDate      string `json:"dueDate,omitempty"`
}

type SaveSourcesRequest struct {
	Sources []domain.SuggestedSource `json:"sources"`
}

type WriterRequest struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

type DevLoginRequest struct {
	Email string `json:"email" example:"editor@example.com"`
	Name  string `json:"name,omitempty"`
}

// Responses

type RunListResponse struct {
	Runs []domain.RunSummary `json:"runs"`
}

type IssueListResponse struct {
	Issues []domain.WorkItem `json:"issues"`
}

type SourcesResponse struct {
	Sources []domain.SuggestedSource `json:"sources"`
}

type ContextListResponse struct {
	Contexts []domain.DomainContext `json:"contexts"`
}

type WriterListResponse struct {
	Writers []domain.Writer `json:"writers"`
}

type DevLoginResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"userId"`
	ExpiresAt string `json:"expiresAt" format:"date-time"`
}

type MeResponse struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Source string `json:"source" enum:"jwt,api_key"`
}

type DeletedResponse struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

// RunStreamEvent is the data frame of the run SSE stream.
type RunStreamEvent struct {
	RunID         string `json:"runId"`
	Status        string `json:"status"`
	URLCount      int    `json:"urlCount"`
	TotalIssues   int    `json:"totalIssues"`
	FailureReason string `json:"failureReason,omitempty"`
	CompletedAt   string `json:"completedAt,omitempty"`
}

func runStreamEvent(run domain.AnalysisRun) RunStreamEvent {
	evt := RunStreamEvent{
		RunID:         run.ID,
		Status:        run.Status,
		URLCount:      run.URLCount,
		TotalIssues:   run.TotalIssues,
		FailureReason: run.FailureReason,
	}
	if run.CompletedAt != nil {
		evt.CompletedAt = *run.CompletedAt
	}
	return evt
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
