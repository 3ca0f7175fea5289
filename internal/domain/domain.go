package domain

import "strings"

const (
	RunProcessing = "processing"
	RunCompleted  = "completed"
	RunFailed     = "failed"

	ResultSuccess = "success"
	ResultFailed  = "failed"

	IssueOpen      = "open"
	IssueAssigned  = "assigned"
	IssueCompleted = "completed"

	KindDetected = "detected"
	KindManual   = "manual"
)

// MaxRunURLs bounds a single submission.
const MaxRunURLs = 20

// MaxRecentContexts is the per-user recency cap of saved domain contexts.
const MaxRecentContexts = 5

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"createdAt" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"keyHash"`
	CreatedAt string `json:"createdAt" format:"date-time"`
}

// DomainContext describes what a batch of pages is about and what counts as stale.
type DomainContext struct {
	ID             string `json:"id"`
	Description    string `json:"description"`
	EntityTypes    string `json:"entityTypes"`
	StalenessRules string `json:"stalenessRules"`
	Timestamp      string `json:"timestamp" format:"date-time"`
}

type SuggestedSource struct {
	URL             string  `json:"url"`
	Title           string  `json:"title"`
	Snippet         string  `json:"snippet"`
	PublicationDate *string `json:"publicationDate,omitempty"`
	Domain          string  `json:"domain,omitempty"`
	Confidence      string  `json:"confidence,omitempty" enum:"High,Medium,Low"`
	IsAccepted      bool    `json:"isAccepted"`
}

type Issue struct {
	ID               string            `json:"id"`
	Description      string            `json:"description"`
	FlaggedText      string            `json:"flaggedText"`
	Reasoning        string            `json:"reasoning"`
	ContextExcerpt   *string           `json:"contextExcerpt,omitempty"`
	Status           string            `json:"status" enum:"open,assigned,completed"`
	AssignedTo       *string           `json:"assignedTo,omitempty"`
	AssignedWriterID *string           `json:"assignedWriterId,omitempty"`
	AssignedAt       *string           `json:"assignedAt,omitempty" format:"date-time"`
	CompletedAt      *string           `json:"completedAt,omitempty" format:"date-time"`
	GoogleDocURL     *string           `json:"googleDocUrl,omitempty"`
	DueDate          *string           `json:"dueDate,omitempty"`
	SuggestedSources []SuggestedSource `json:"suggestedSources,omitempty"`
}

// IssuePatch is a shallow patch; nil fields are left untouched and empty
// strings clear optional fields.
type IssuePatch struct {
	Status           *string
	AssignedTo       *string
	AssignedWriterID *string
	GoogleDocURL     *string
	DueDate          *string
}

type Headings struct {
	H1 []string `json:"h1,omitempty"`
	H2 []string `json:"h2,omitempty"`
	H3 []string `json:"h3,omitempty"`
	H4 []string `json:"h4,omitempty"`
}

// DetectionResult is the analysis outcome for one submitted URL.
type DetectionResult struct {
	URL             string    `json:"url"`
	Title           string    `json:"title"`
	Status          string    `json:"status" enum:"success,failed"`
	Issues          []Issue   `json:"issues"`
	IssueCount      int       `json:"issueCount"`
	Error           string    `json:"error,omitempty"`
	MetaDescription string    `json:"metaDescription,omitempty"`
	Headings        *Headings `json:"headings,omitempty"`
}

type AnalysisRun struct {
	ID            string            `json:"id"`
	UserID        string            `json:"userId"`
	Timestamp     string            `json:"timestamp" format:"date-time"`
	URLCount      int               `json:"urlCount"`
	TotalIssues   int               `json:"totalIssues"`
	Status        string            `json:"status" enum:"processing,completed,failed"`
	DomainContext DomainContext     `json:"domainContext"`
	URLs          []string          `json:"urls"`
	Results       []DetectionResult `json:"results"`
	FailureReason string            `json:"failureReason,omitempty"`
	CompletedAt   *string           `json:"completedAt,omitempty" format:"date-time"`
}

// Terminal reports whether the run can no longer change status.
func (r AnalysisRun) Terminal() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}

type RunSummary struct {
	ID                 string `json:"id"`
	Timestamp          string `json:"timestamp" format:"date-time"`
	URLCount           int    `json:"urlCount"`
	TotalIssues        int    `json:"totalIssues"`
	Status             string `json:"status" enum:"processing,completed,failed"`
	ContextDescription string `json:"contextDescription"`
}

type Writer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	CreatedAt string `json:"createdAt" format:"date-time"`
}

// ManualTask is writer-directed work that is not tied to a detected issue.
type ManualTask struct {
	ID               string  `json:"id"`
	UserID           string  `json:"userId"`
	Title            string  `json:"title"`
	Status           string  `json:"status" enum:"open,assigned,completed"`
	AssignedTo       string  `json:"assignedTo"`
	AssignedWriterID *string `json:"assignedWriterId,omitempty"`
	AssignedAt       *string `json:"assignedAt,omitempty" format:"date-time"`
	CompletedAt      *string `json:"completedAt,omitempty" format:"date-time"`
	GoogleDocURL     *string `json:"googleDocUrl,omitempty"`
	DueDate          *string `json:"dueDate,omitempty"`
	CreatedAt        string  `json:"createdAt" format:"date-time"`
}

// ManualTaskReasoning is the fixed reasoning shown for manual tasks in the ledger.
const ManualTaskReasoning = "Manual task assignment"

// AsIssue renders the task through the same shape as a detected issue.
func (t ManualTask) AsIssue() Issue {
	var assignee *string
	if name := strings.TrimSpace(t.AssignedTo); name != "" {
		assignee = &name
	}
	return Issue{
		ID:               t.ID,
		Description:      t.Title,
		FlaggedText:      "",
		Reasoning:        ManualTaskReasoning,
		Status:           t.Status,
		AssignedTo:       assignee,
		AssignedWriterID: t.AssignedWriterID,
		AssignedAt:       t.AssignedAt,
		CompletedAt:      t.CompletedAt,
		GoogleDocURL:     t.GoogleDocURL,
		DueDate:          t.DueDate,
	}
}

// WorkItem is one entry of the unified issue ledger: a detected issue or a manual task.
type WorkItem struct {
	Kind      string `json:"kind" enum:"detected,manual"`
	RunID     string `json:"runId,omitempty"`
	URL       string `json:"url,omitempty"`
	PageTitle string `json:"pageTitle"`
	Issue     Issue  `json:"issue"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	UserID     string `json:"userId,omitempty"`
	EntityKind string `json:"entityKind"`
	EntityID   string `json:"entityId,omitempty"`
	Payload    string `json:"payload"`
}
