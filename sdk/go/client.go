// Package sdk is a Go client for the Freshcheck HTTP API.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnauthenticated is returned, wrapping the *APIError, when the API answers 401.
var ErrUnauthenticated = errors.New("unauthenticated")

// Client is a Freshcheck HTTP API client. Set BearerToken or APIKey.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  30 * time.Second,
	}
}

type DomainContext struct {
	ID             string `json:"id,omitempty"`
	Description    string `json:"description"`
	EntityTypes    string `json:"entityTypes"`
	StalenessRules string `json:"stalenessRules"`
	Timestamp      string `json:"timestamp,omitempty"`
}

type Source struct {
	URL             string  `json:"url"`
	Title           string  `json:"title"`
	Snippet         string  `json:"snippet"`
	PublicationDate *string `json:"publicationDate,omitempty"`
	Domain          string  `json:"domain,omitempty"`
	Confidence      string  `json:"confidence,omitempty"`
	IsAccepted      bool    `json:"isAccepted"`
}

type Issue struct {
	ID               string   `json:"id"`
	Description      string   `json:"description"`
	FlaggedText      string   `json:"flaggedText"`
	Reasoning        string   `json:"reasoning"`
	ContextExcerpt   *string  `json:"contextExcerpt,omitempty"`
	Status           string   `json:"status"`
	AssignedTo       *string  `json:"assignedTo,omitempty"`
	AssignedWriterID *string  `json:"assignedWriterId,omitempty"`
	AssignedAt       *string  `json:"assignedAt,omitempty"`
	CompletedAt      *string  `json:"completedAt,omitempty"`
	GoogleDocURL     *string  `json:"googleDocUrl,omitempty"`
	DueDate          *string  `json:"dueDate,omitempty"`
	SuggestedSources []Source `json:"suggestedSources,omitempty"`
}

type Result struct {
	URL             string  `json:"url"`
	Title           string  `json:"title"`
	Status          string  `json:"status"`
	Issues          []Issue `json:"issues"`
	IssueCount      int     `json:"issueCount"`
	Error           string  `json:"error,omitempty"`
	MetaDescription string  `json:"metaDescription,omitempty"`
}

type Run struct {
	ID            string        `json:"id"`
	UserID        string        `json:"userId"`
	Timestamp     string        `json:"timestamp"`
	URLCount      int           `json:"urlCount"`
	TotalIssues   int           `json:"totalIssues"`
	Status        string        `json:"status"`
	DomainContext DomainContext `json:"domainContext"`
	URLs          []string      `json:"urls"`
	Results       []Result      `json:"results"`
	FailureReason string        `json:"failureReason,omitempty"`
	CompletedAt   *string       `json:"completedAt,omitempty"`
}

// Terminal reports whether the run has finished.
func (r Run) Terminal() bool {
	return r.Status == "completed" || r.Status == "failed"
}

type RunSummary struct {
	ID                 string `json:"id"`
	Timestamp          string `json:"timestamp"`
	URLCount           int    `json:"urlCount"`
	TotalIssues        int    `json:"totalIssues"`
	Status             string `json:"status"`
	ContextDescription string `json:"contextDescription"`
}

type RunHandle struct {
	RunID    string `json:"runId"`
	Status   string `json:"status"`
	URLCount int    `json:"urlCount"`
}

// WorkItem is one ledger entry; Kind is "detected" or "manual".
type WorkItem struct {
	Kind      string `json:"kind"`
	RunID     string `json:"runId,omitempty"`
	URL       string `json:"url,omitempty"`
	PageTitle string `json:"pageTitle"`
	Issue     Issue  `json:"issue"`
}

type Writer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	CreatedAt string `json:"createdAt"`
}

type Me struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Source string `json:"source"`
}

type DevLogin struct {
	Token     string `json:"token"`
	UserID    string `json:"userId"`
	ExpiresAt string `json:"expiresAt"`
}

// IssuePatch leaves nil fields untouched; empty strings clear optional fields.
type IssuePatch struct {
	Status           *string `json:"status,omitempty"`
	AssignedTo       *string `json:"assignedTo,omitempty"`
	AssignedWriterID *string `json:"assignedWriterId,omitempty"`
	GoogleDocURL     *string `json:"googleDocUrl,omitempty"`
	DueDate          *string `json:"dueDate,omitempty"`
}

type ManualTask struct {
	Title        string `json:"title"`
	WriterID     string `json:"writerId,omitempty"`
	WriterName   string `json:"writerName,omitempty"`
	GoogleDocURL string `json:"googleDocUrl,omitempty"`
	DueDate      string `json:"dueDate,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

type unauthenticatedError struct{ api *APIError }

func (e unauthenticatedError) Error() string { return e.api.Error() }
func (e unauthenticatedError) Unwrap() []error {
	return []error{ErrUnauthenticated, e.api}
}

// DevLogin mints a token for email on servers with dev login enabled and stores it
// as the client's bearer token.
func (c *Client) DevLogin(ctx context.Context, email, name string) (DevLogin, error) {
	var resp DevLogin
	err := c.do(ctx, http.MethodPost, "auth/dev/login", map[string]string{"email": email, "name": name}, &resp)
	if err == nil {
		c.BearerToken = resp.Token
	}
	return resp, err
}

func (c *Client) Me(ctx context.Context) (Me, error) {
	var resp Me
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

// StartRun submits up to 20 urls for background analysis.
func (c *Client) StartRun(ctx context.Context, urls []string, dc DomainContext) (RunHandle, error) {
	body := map[string]any{
		"urls": urls,
		"domainContext": map[string]string{
			"description":    dc.Description,
			"entityTypes":    dc.EntityTypes,
			"stalenessRules": dc.StalenessRules,
		},
	}
	var resp RunHandle
	err := c.do(ctx, http.MethodPost, "analysis/start", body, &resp)
	return resp, err
}

func (c *Client) ListRuns(ctx context.Context) ([]RunSummary, error) {
	var resp struct {
		Runs []RunSummary `json:"runs"`
	}
	err := c.do(ctx, http.MethodGet, "analysis/runs", nil, &resp)
	return resp.Runs, err
}

func (c *Client) GetRun(ctx context.Context, runID string) (Run, error) {
	var resp Run
	err := c.do(ctx, http.MethodGet, "analysis/runs/"+url.PathEscape(runID), nil, &resp)
	return resp, err
}

func (c *Client) DeleteRun(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodDelete, "analysis/runs/"+url.PathEscape(runID), nil, nil)
}

// ExportRun returns the run's CSV export.
func (c *Client) ExportRun(ctx context.Context, runID string) ([]byte, error) {
	var buf bytes.Buffer
	err := c.do(ctx, http.MethodGet, "analysis/runs/"+url.PathEscape(runID)+"/export", nil, &buf)
	return buf.Bytes(), err
}

// UpdateIssue patches a detected issue. pageURL may be empty.
func (c *Client) UpdateIssue(ctx context.Context, runID, pageURL, issueID string, patch IssuePatch) (Issue, error) {
	endpoint := fmt.Sprintf("analysis/runs/%s/issues/%s", url.PathEscape(runID), url.PathEscape(issueID))
	if pageURL != "" {
		endpoint += "?url=" + url.QueryEscape(pageURL)
	}
	var resp Issue
	err := c.do(ctx, http.MethodPatch, endpoint, patch, &resp)
	return resp, err
}

// ListIssues returns the ledger; status may be empty for all.
func (c *Client) ListIssues(ctx context.Context, status string) ([]WorkItem, error) {
	endpoint := "analysis/issues"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Issues []WorkItem `json:"issues"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Issues, err
}

func (c *Client) ResearchIssue(ctx context.Context, runID, issueID string) ([]Source, error) {
	var resp struct {
		Sources []Source `json:"sources"`
	}
	endpoint := fmt.Sprintf("analysis/runs/%s/issues/%s/research", url.PathEscape(runID), url.PathEscape(issueID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp.Sources, err
}

// SaveSources stores the accepted sources on the issue; unaccepted ones are dropped.
func (c *Client) SaveSources(ctx context.Context, runID, issueID string, sources []Source) (Issue, error) {
	var resp Issue
	endpoint := fmt.Sprintf("analysis/runs/%s/issues/%s/sources", url.PathEscape(runID), url.PathEscape(issueID))
	err := c.do(ctx, http.MethodPut, endpoint, map[string]any{"sources": sources}, &resp)
	return resp, err
}

func (c *Client) CreateManualTask(ctx context.Context, task ManualTask) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodPost, "analysis/manual-task", task, &resp)
	return resp, err
}

func (c *Client) UpdateManualTask(ctx context.Context, taskID string, patch IssuePatch) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodPatch, "analysis/manual-tasks/"+url.PathEscape(taskID), patch, &resp)
	return resp, err
}

func (c *Client) ListContexts(ctx context.Context) ([]DomainContext, error) {
	var resp struct {
		Contexts []DomainContext `json:"contexts"`
	}
	err := c.do(ctx, http.MethodGet, "contexts", nil, &resp)
	return resp.Contexts, err
}

func (c *Client) SaveContext(ctx context.Context, dc DomainContext) (DomainContext, error) {
	body := map[string]string{
		"description":    dc.Description,
		"entityTypes":    dc.EntityTypes,
		"stalenessRules": dc.StalenessRules,
	}
	var resp DomainContext
	err := c.do(ctx, http.MethodPost, "contexts", body, &resp)
	return resp, err
}

func (c *Client) ListWriters(ctx context.Context) ([]Writer, error) {
	var resp struct {
		Writers []Writer `json:"writers"`
	}
	err := c.do(ctx, http.MethodGet, "writers", nil, &resp)
	return resp.Writers, err
}

func (c *Client) CreateWriter(ctx context.Context, name, email string) (Writer, error) {
	body := map[string]string{"name": name}
	if email != "" {
		body["email"] = email
	}
	var resp Writer
	err := c.do(ctx, http.MethodPost, "writers", body, &resp)
	return resp, err
}

// UpdateWriter changes the non-nil fields.
func (c *Client) UpdateWriter(ctx context.Context, writerID string, name, email *string) (Writer, error) {
	body := map[string]*string{}
	if name != nil {
		body["name"] = name
	}
	if email != nil {
		body["email"] = email
	}
	var resp Writer
	err := c.do(ctx, http.MethodPatch, "writers/"+url.PathEscape(writerID), body, &resp)
	return resp, err
}

func (c *Client) DeleteWriter(ctx context.Context, writerID string) error {
	return c.do(ctx, http.MethodDelete, "writers/"+url.PathEscape(writerID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	switch dst := out.(type) {
	case nil:
		return nil
	case *bytes.Buffer:
		_, err := io.Copy(dst, resp.Body)
		return err
	default:
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &envelope) == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Details = envelope.Error.Details
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return unauthenticatedError{api: apiErr}
	}
	return apiErr
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
