package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"freshcheck/internal/config"
	"freshcheck/internal/db"
	"freshcheck/internal/domain"
	"freshcheck/internal/engine"
	"freshcheck/internal/migrate"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// stubAnalyzer reports issues[url] issues per page; urls in failed come back failed.
type stubAnalyzer struct {
	issues  map[string]int
	failed  map[string]bool
	release chan struct{}
}

func (s stubAnalyzer) Analyze(ctx context.Context, urls []string, dc domain.DomainContext) ([]domain.DetectionResult, error) {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make([]domain.DetectionResult, len(urls))
	for i, u := range urls {
		if s.failed[u] {
			out[i] = domain.DetectionResult{URL: u, Title: "Failed to Access", Status: domain.ResultFailed, Error: "fetch: 404"}
			continue
		}
		res := domain.DetectionResult{URL: u, Title: "Page " + u, Status: domain.ResultSuccess}
		for n := 0; n < s.issues[u]; n++ {
			res.Issues = append(res.Issues, domain.Issue{
				Description: fmt.Sprintf("stale fact %d", n),
				FlaggedText: "in 2021",
				Reasoning:   "outdated",
				Status:      domain.IssueCompleted,
			})
		}
		out[i] = res
	}
	return out, nil
}

type stubResearcher struct{}

func (stubResearcher) Research(ctx context.Context, issue domain.Issue, dc domain.DomainContext) ([]domain.SuggestedSource, error) {
	return []domain.SuggestedSource{
		{URL: "https://a.example/report", Title: "A", Domain: "a.example", Confidence: "High", IsAccepted: true},
		{URL: "https://b.example/post", Title: "B", Domain: "b.example", Confidence: "Medium"},
	}, nil
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Clock  *clock
	UserID string
}

func newTestEnv(t *testing.T, analyzer stubAnalyzer) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	eng := engine.New(conn, config.Default())
	eng.Now = clk.Now
	eng.Analyzer = analyzer
	eng.Researcher = stubResearcher{}
	ctx := context.Background()
	u, err := eng.CreateUser(ctx, "Editor@Example.com", "Editor")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Clock: clk, UserID: u.ID}
}

var sampleContext = engine.DomainContextInput{
	Description:    "Consumer credit card reviews",
	EntityTypes:    "APR, annual fees, bonuses",
	StalenessRules: "Rates older than 6 months are stale",
}

func (env testEnv) startAndWait(t *testing.T, urls ...string) domain.AnalysisRun {
	t.Helper()
	h, err := env.Engine.StartRun(env.Ctx, env.UserID, urls, sampleContext)
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if h.Status != domain.RunProcessing || h.URLCount != len(urls) {
		t.Fatalf("unexpected handle %+v", h)
	}
	if err := env.Engine.Wait(env.Ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	run, err := env.Engine.GetRun(env.Ctx, env.UserID, h.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	return run
}

func urlsN(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://site.example/page-%d", i)
	}
	return out
}

func TestStartRunValidation(t *testing.T) {
	env := newTestEnv(t, stubAnalyzer{})
	var verr domain.ValidationError

	_, err := env.Engine.StartRun(env.Ctx, env.UserID, nil, sampleContext)
	if !errors.As(err, &verr) || verr.Field != "urls" {
		t.Fatalf("expected urls validation error, got %v", err)
	}
	_, err = env.Engine.StartRun(env.Ctx, env.UserID, urlsN(21), sampleContext)
	if !errors.As(err, &verr) || verr.Field != "urls" {
		t.Fatalf("expected 21 urls to be rejected, got %v", err)
	}
	_, err = env.Engine.StartRun(env.Ctx, env.UserID, []string{"https://ok.example", "notaurl"}, sampleContext)
	if !errors.As(err, &verr) || verr.Field != "urls[1]" {
		t.Fatalf("expected urls[1] error, got %v", err)
	}
	blanks := []struct {
		field string
		blank func(*engine.DomainContextInput)
	}{
		{"description", func(in *engine.DomainContextInput) { in.Description = "" }},
		{"entityTypes", func(in *engine.DomainContextInput) { in.EntityTypes = " \t" }},
		{"stalenessRules", func(in *engine.DomainContextInput) { in.StalenessRules = "   " }},
	}
	for _, tc := range blanks {
		in := sampleContext
		tc.blank(&in)
		_, err = env.Engine.StartRun(env.Ctx, env.UserID, urlsN(1), in)
		if !errors.As(err, &verr) || verr.Field != tc.field {
			t.Fatalf("expected %s error, got %v", tc.field, err)
		}
	}

	runs, err := env.Engine.ListRuns(env.Ctx, env.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Fatalf("rejected submissions must not persist runs, got %d", len(runs))
	}
	contexts, _ := env.Engine.ListContexts(env.Ctx, env.UserID)
	if len(contexts) != 0 {
		t.Fatalf("rejected submissions must not persist contexts, got %d", len(contexts))
	}

	run := env.startAndWait(t, urlsN(20)...)
	if run.URLCount != 20 || len(run.Results) != 20 {
		t.Fatalf("expected 20 results, got %d/%d", run.URLCount, len(run.Results))
	}
}

func TestRunCompletionMerge(t *testing.T) {
	urls := []string{"https://a.example/one", "https://b.example/two", "https://c.example/gone"}
	env := newTestEnv(t, stubAnalyzer{
		issues: map[string]int{urls[0]: 2, urls[1]: 1},
		failed: map[string]bool{urls[2]: true},
	})
	run := env.startAndWait(t, urls...)

	if run.Status != domain.RunCompleted || run.CompletedAt == nil {
		t.Fatalf("expected completed run, got %s", run.Status)
	}
	if run.TotalIssues != 3 {
		t.Fatalf("expected 3 total issues, got %d", run.TotalIssues)
	}
	sum := 0
	ids := map[string]bool{}
	for i, res := range run.Results {
		if res.URL != urls[i] {
			t.Fatalf("result %d out of order: %s", i, res.URL)
		}
		if res.IssueCount != len(res.Issues) {
			t.Fatalf("issueCount mismatch for %s", res.URL)
		}
		sum += res.IssueCount
		for _, issue := range res.Issues {
			if issue.Status != domain.IssueOpen {
				t.Fatalf("detected issues must start open, got %s", issue.Status)
			}
			if issue.ID == "" || ids[issue.ID] {
				t.Fatalf("issue ids must be unique and set: %q", issue.ID)
			}
			ids[issue.ID] = true
		}
	}
	if sum != run.TotalIssues {
		t.Fatalf("totalIssues %d != sum %d", run.TotalIssues, sum)
	}
	if run.Results[2].Status != domain.ResultFailed || run.Results[2].IssueCount != 0 {
		t.Fatalf("failed page should carry no issues: %+v", run.Results[2])
	}

	summaries, err := env.Engine.ListRuns(env.Ctx, env.UserID)
	if err != nil || len(summaries) != 1 {
		t.Fatalf("list runs: %v %d", err, len(summaries))
	}
	if summaries[0].ContextDescription != sampleContext.Description || summaries[0].TotalIssues != 3 {
		t.Fatalf("unexpected summary %+v", summaries[0])
	}
}

func TestDuplicateURLsProduceOneResultEach(t *testing.T) {
	u := "https://dup.example/page"
	env := newTestEnv(t, stubAnalyzer{issues: map[string]int{u: 1}})
	run := env.startAndWait(t, u, u)
	if len(run.Results) != 2 || run.URLCount != 2 || run.TotalIssues != 2 {
		t.Fatalf("expected two results for duplicate urls, got %d results, total %d", len(run.Results), run.TotalIssues)
	}
}

func TestUnavailableAnalyzerFailsRun(t *testing.T) {
	env := newTestEnv(t, stubAnalyzer{})
	env.Engine.Analyzer = nil
	run := env.startAndWait(t, urlsN(2)...)
	if run.Status != domain.RunFailed || run.FailureReason != "analysis service unavailable" {
		t.Fatalf("expected failed run, got %s %q", run.Status, run.FailureReason)
	}
	if len(run.Results) != 0 || run.TotalIssues != 0 {
		t.Fatalf("failed run must have no results")
	}
}

func TestCompleteRunOnTerminalRun(t *testing.T) {
	u := "https://a.example/one"
	env := newTestEnv(t, stubAnalyzer{issues: map[string]int{u: 1}})
	run := env.startAndWait(t, u)

	_, err := env.Engine.CompleteRun(env.Ctx, run.ID, []domain.DetectionResult{{URL: u, Status: domain.ResultSuccess}})
	if !errors.Is(err, domain.ErrRunTerminal) {
		t.Fatalf("expected ErrRunTerminal, got %v", err)
	}
	if err := env.Engine.FailRun(env.Ctx, run.ID, "late"); !errors.Is(err, domain.ErrRunTerminal) {
		t.Fatalf("expected ErrRunTerminal from FailRun, got %v", err)
	}
	again, _ := env.Engine.GetRun(env.Ctx, env.UserID, run.ID)
	if again.TotalIssues != 1 || len(again.Results[0].Issues) != 1 {
		t.Fatalf("terminal run must be unchanged")
	}
}

func TestCompleteRunRejectsMismatchedResults(t *testing.T) {
	release := make(chan struct{})
	env := newTestEnv(t, stubAnalyzer{release: release})
	defer func() {
		close(release)
		env.Engine.Wait(env.Ctx)
	}()
	urls := urlsN(2)
	h, err := env.Engine.StartRun(env.Ctx, env.UserID, urls, sampleContext)
	if err != nil {
		t.Fatal(err)
	}
	var verr domain.ValidationError
	_, err = env.Engine.CompleteRun(env.Ctx, h.RunID, []domain.DetectionResult{{URL: urls[0], Status: domain.ResultSuccess}})
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for short results, got %v", err)
	}
	_, err = env.Engine.CompleteRun(env.Ctx, h.RunID, []domain.DetectionResult{
		{URL: urls[1], Status: domain.ResultSuccess},
		{URL: urls[0], Status: domain.ResultSuccess},
	})
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for reordered results, got %v", err)
	}
}

func TestDeleteProcessingRunDropsResults(t *testing.T) {
	release := make(chan struct{})
	env := newTestEnv(t, stubAnalyzer{release: release})
	h, err := env.Engine.StartRun(env.Ctx, env.UserID, urlsN(1), sampleContext)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteRun(env.Ctx, env.UserID, h.RunID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	close(release)
	if err := env.Engine.Wait(env.Ctx); err != nil {
		t.Fatal(err)
	}
	var nf domain.NotFoundError
	if _, err := env.Engine.GetRun(env.Ctx, env.UserID, h.RunID); !errors.As(err, &nf) {
		t.Fatalf("expected deleted run to stay gone, got %v", err)
	}
}

func TestSweepStuckRuns(t *testing.T) {
	release := make(chan struct{})
	env := newTestEnv(t, stubAnalyzer{release: release})
	h, err := env.Engine.StartRun(env.Ctx, env.UserID, urlsN(1), sampleContext)
	if err != nil {
		t.Fatal(err)
	}
	swept, err := env.Engine.SweepStuckRuns(env.Ctx)
	if err != nil || len(swept) != 0 {
		t.Fatalf("fresh run must not be swept: %v %v", swept, err)
	}
	env.Clock.Advance(11 * time.Minute)
	swept, err = env.Engine.SweepStuckRuns(env.Ctx)
	if err != nil || len(swept) != 1 || swept[0] != h.RunID {
		t.Fatalf("expected run to be swept: %v %v", swept, err)
	}
	close(release)
	env.Engine.Wait(env.Ctx)

	run, _ := env.Engine.GetRun(env.Ctx, env.UserID, h.RunID)
	if run.Status != domain.RunFailed || run.FailureReason != "analysis timed out" || len(run.Results) != 0 {
		t.Fatalf("swept run must stay failed without results: %+v", run)
	}
}

func TestWaitForRun(t *testing.T) {
	release := make(chan struct{})
	env := newTestEnv(t, stubAnalyzer{release: release})
	h, err := env.Engine.StartRun(env.Ctx, env.UserID, urlsN(1), sampleContext)
	if err != nil {
		t.Fatal(err)
	}
	policy := engine.PollPolicy{Interval: 5 * time.Millisecond, MaxInterval: 10 * time.Millisecond, Multiplier: 2, MaxDuration: 50 * time.Millisecond}
	if _, err := env.Engine.WaitForRun(env.Ctx, env.UserID, h.RunID, policy); !errors.Is(err, engine.ErrPollTimeout) {
		t.Fatalf("expected poll timeout, got %v", err)
	}
	close(release)
	policy.MaxDuration = 5 * time.Second
	run, err := env.Engine.WaitForRun(env.Ctx, env.UserID, h.RunID, policy)
	if err != nil || run.Status != domain.RunCompleted {
		t.Fatalf("expected completed run, got %v %v", run.Status, err)
	}
}

func TestPollPolicyBackoff(t *testing.T) {
	p := engine.PollPolicy{Interval: time.Second, MaxInterval: 3 * time.Second, Multiplier: 2}
	d := p.Next(time.Second)
	if d != 2*time.Second {
		t.Fatalf("expected 2s, got %s", d)
	}
	if d = p.Next(d); d != 3*time.Second {
		t.Fatalf("expected cap at 3s, got %s", d)
	}
}

func firstIssue(t *testing.T, run domain.AnalysisRun) (string, domain.Issue) {
	t.Helper()
	for _, res := range run.Results {
		if len(res.Issues) > 0 {
			return res.URL, res.Issues[0]
		}
	}
	t.Fatalf("run has no issues")
	return "", domain.Issue{}
}

func strp(s string) *string { return &s }

func TestReassignmentKeepsAssignedAt(t *testing.T) {
	u := "https://a.example/one"
	env := newTestEnv(t, stubAnalyzer{issues: map[string]int{u: 1}})
	run := env.startAndWait(t, u)
	url, issue := firstIssue(t, run)

	sarah, err := env.Engine.UpdateIssue(env.Ctx, env.UserID, run.ID, url, issue.ID, domain.IssuePatch{AssignedTo: strp("Sarah")})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if sarah.Status != domain.IssueAssigned || sarah.AssignedAt == nil {
		t.Fatalf("assignee on open issue should assign it: %+v", sarah)
	}
	env.Clock.Advance(time.Hour)
	mike, err := env.Engine.UpdateIssue(env.Ctx, env.UserID, run.ID, "", issue.ID, domain.IssuePatch{AssignedTo: strp("Mike")})
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if *mike.AssignedTo != "Mike" || *mike.AssignedAt != *sarah.AssignedAt {
		t.Fatalf("reassignment must keep assignedAt: %v vs %v", *mike.AssignedAt, *sarah.AssignedAt)
	}
	after, _ := env.Engine.GetRun(env.Ctx, env.UserID, run.ID)
	if after.TotalIssues != run.TotalIssues {
		t.Fatalf("ledger updates must not change totalIssues")
	}
}

func TestReopenClearsCompletedAt(t *testing.T) {
	u := "https://a.example/one"
	env := newTestEnv(t, stubAnalyzer{issues: map[string]int{u: 1}})
	run := env.startAndWait(t, u)
	url, issue := firstIssue(t, run)

	if _, err := env.Engine.UpdateIssue(env.Ctx, env.UserID, run.ID, url, issue.ID, domain.IssuePatch{Status: strp("completed")}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("open -> completed must be rejected, got %v", err)
	}
	var verr domain.ValidationError
	if _, err := env.Engine.UpdateIssue(env.Ctx, env.UserID, run.ID, url, issue.ID, domain.IssuePatch{Status: strp("assigned")}); !errors.As(err, &verr) {
		t.Fatalf("assigned without assignee must be rejected, got %v", err)
	}

	if _, err := env.Engine.UpdateIssue(env.Ctx, env.UserID, run.ID, url, issue.ID, domain.IssuePatch{AssignedTo: strp("Sarah")}); err != nil {
		t.Fatal(err)
	}
	done, err := env.Engine.UpdateIssue(env.Ctx, env.UserID, run.ID, url, issue.ID, domain.IssuePatch{Status: strp("completed")})
	if err != nil || done.CompletedAt == nil {
		t.Fatalf("complete: %v", err)
	}
	reopened, err := env.Engine.UpdateIssue(env.Ctx, env.UserID, run.ID, url, issue.ID, domain.IssuePatch{Status: strp("assigned")})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.CompletedAt != nil || reopened.AssignedAt == nil {
		t.Fatalf("reopen must clear completedAt and keep assignedAt: %+v", reopened)
	}
}

func TestUpdateIssueNotFound(t *testing.T) {
	u := "https://a.example/one"
	env := newTestEnv(t, stubAnalyzer{issues: map[string]int{u: 1}})
	run := env.startAndWait(t, u)
	_, issue := firstIssue(t, run)
	var nf domain.NotFoundError
	patch := domain.IssuePatch{AssignedTo: strp("Sarah")}

	if _, err := env.Engine.UpdateIssue(env.Ctx, env.UserID, "missing", u, issue.ID, patch); !errors.As(err, &nf) || nf.Kind != "run" {
		t.Fatalf("expected run not found, got %v", err)
	}
	if _, err := env.Engine.UpdateIssue(env.Ctx, env.UserID, run.ID, "https://other.example", issue.ID, patch); !errors.As(err, &nf) || nf.Kind != "result" {
		t.Fatalf("expected result not found, got %v", err)
	}
	if _, err := env.Engine.UpdateIssue(env.Ctx, env.UserID, run.ID, u, "issue_nope", patch); !errors.As(err, &nf) || nf.Kind != "issue" {
		t.Fatalf("expected issue not found, got %v", err)
	}
	if _, err := env.Engine.UpdateIssue(env.Ctx, "someone-else", run.ID, u, issue.ID, patch); !errors.As(err, &nf) {
		t.Fatalf("runs must not resolve for other users, got %v", err)
	}
}

func TestListIssuesWithManualTasks(t *testing.T) {
	u := "https://a.example/one"
	env := newTestEnv(t, stubAnalyzer{issues: map[string]int{u: 2}})
	run := env.startAndWait(t, u)
	url, issue := firstIssue(t, run)
	if _, err := env.Engine.UpdateIssue(env.Ctx, env.UserID, run.ID, url, issue.ID, domain.IssuePatch{AssignedTo: strp("Sarah")}); err != nil {
		t.Fatal(err)
	}
	task, err := env.Engine.CreateManualTask(env.Ctx, env.UserID, engine.ManualTaskInput{Title: "Refresh the fees table", WriterName: "Mike"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Status != domain.IssueAssigned || task.AssignedAt == nil || *task.AssignedTo != "Mike" {
		t.Fatalf("manual task should start assigned: %+v", task)
	}

	all, err := env.Engine.ListIssues(env.Ctx, env.UserID, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 items, got %d", len(all))
	}
	last := all[2]
	if last.Kind != domain.KindManual || last.PageTitle != engine.ManualTaskPageTitle || last.Issue.ID != task.ID {
		t.Fatalf("manual task should follow detected issues: %+v", last)
	}
	if all[0].Kind != domain.KindDetected || all[0].RunID != run.ID || all[0].URL != url {
		t.Fatalf("unexpected detected item %+v", all[0])
	}

	assigned, err := env.Engine.ListIssues(env.Ctx, env.UserID, domain.IssueAssigned)
	if err != nil {
		t.Fatal(err)
	}
	if len(assigned) != 2 {
		t.Fatalf("expected 2 assigned items, got %d", len(assigned))
	}
	for _, item := range assigned {
		if item.Issue.Status != domain.IssueAssigned {
			t.Fatalf("filter leaked %s", item.Issue.Status)
		}
	}
	var verr domain.ValidationError
	if _, err := env.Engine.ListIssues(env.Ctx, env.UserID, "done"); !errors.As(err, &verr) {
		t.Fatalf("expected invalid status error, got %v", err)
	}

	done, err := env.Engine.UpdateManualTask(env.Ctx, env.UserID, task.ID, domain.IssuePatch{Status: strp("completed")})
	if err != nil || done.CompletedAt == nil {
		t.Fatalf("complete task: %v", err)
	}
}

func TestManualTaskReopenRequiresAssignee(t *testing.T) {
	env := newTestEnv(t, stubAnalyzer{})
	task, err := env.Engine.CreateManualTask(env.Ctx, env.UserID, engine.ManualTaskInput{Title: "Refresh the fees table", WriterName: "Mike"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	done, err := env.Engine.UpdateManualTask(env.Ctx, env.UserID, task.ID, domain.IssuePatch{Status: strp("completed"), AssignedTo: strp("")})
	if err != nil {
		t.Fatalf("complete task: %v", err)
	}
	if done.AssignedTo != nil {
		t.Fatalf("cleared assignee should be omitted, got %q", *done.AssignedTo)
	}

	var verr domain.ValidationError
	_, err = env.Engine.UpdateManualTask(env.Ctx, env.UserID, task.ID, domain.IssuePatch{Status: strp("assigned")})
	if !errors.As(err, &verr) || verr.Field != "assignedTo" {
		t.Fatalf("expected assignedTo validation error, got %v", err)
	}

	items, err := env.Engine.ListIssues(env.Ctx, env.UserID, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Issue.Status != domain.IssueCompleted || items[0].Issue.AssignedTo != nil {
		t.Fatalf("rejected reopen must leave the task untouched: %+v", items)
	}

	reopened, err := env.Engine.UpdateManualTask(env.Ctx, env.UserID, task.ID, domain.IssuePatch{Status: strp("assigned"), AssignedTo: strp("Ana")})
	if err != nil {
		t.Fatalf("reopen with assignee: %v", err)
	}
	if reopened.Status != domain.IssueAssigned || *reopened.AssignedTo != "Ana" || reopened.CompletedAt != nil {
		t.Fatalf("unexpected reopened task %+v", reopened)
	}
}

func TestManualTaskValidation(t *testing.T) {
	env := newTestEnv(t, stubAnalyzer{})
	var verr domain.ValidationError
	if _, err := env.Engine.CreateManualTask(env.Ctx, env.UserID, engine.ManualTaskInput{Title: "x"}); !errors.As(err, &verr) {
		t.Fatalf("expected writer required, got %v", err)
	}
	if _, err := env.Engine.CreateManualTask(env.Ctx, env.UserID, engine.ManualTaskInput{WriterName: "Mike"}); !errors.As(err, &verr) || verr.Field != "title" {
		t.Fatalf("expected title required, got %v", err)
	}
	var nf domain.NotFoundError
	if _, err := env.Engine.CreateManualTask(env.Ctx, env.UserID, engine.ManualTaskInput{Title: "x", WriterID: "nope"}); !errors.As(err, &nf) {
		t.Fatalf("expected unknown writer to be not found, got %v", err)
	}
}

func TestWriterDirectory(t *testing.T) {
	env := newTestEnv(t, stubAnalyzer{})
	w, err := env.Engine.CreateWriter(env.Ctx, env.UserID, engine.WriterInput{Name: strp("Sarah Lee"), Email: strp("sarah@example.com")})
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	var verr domain.ValidationError
	if _, err := env.Engine.CreateWriter(env.Ctx, env.UserID, engine.WriterInput{Name: strp("Sarah Lee"), Email: strp("other@example.com")}); !errors.As(err, &verr) || verr.Field != "name" {
		t.Fatalf("expected duplicate name error, got %v", err)
	}
	if _, err := env.Engine.CreateWriter(env.Ctx, env.UserID, engine.WriterInput{Name: strp("Bob"), Email: strp("not-an-email")}); !errors.As(err, &verr) || verr.Field != "email" {
		t.Fatalf("expected email error, got %v", err)
	}

	task, err := env.Engine.CreateManualTask(env.Ctx, env.UserID, engine.ManualTaskInput{Title: "Update", WriterID: w.ID})
	if err != nil {
		t.Fatal(err)
	}
	if *task.AssignedTo != "Sarah Lee" || task.AssignedWriterID == nil || *task.AssignedWriterID != w.ID {
		t.Fatalf("task should link to writer: %+v", task)
	}
	if _, err := env.Engine.UpdateWriter(env.Ctx, env.UserID, w.ID, engine.WriterInput{Name: strp("Sarah Park")}); err != nil {
		t.Fatalf("rename: %v", err)
	}
	items, _ := env.Engine.ListIssues(env.Ctx, env.UserID, "")
	if len(items) != 1 || *items[0].Issue.AssignedTo != "Sarah Park" {
		t.Fatalf("rename should show through linked work: %+v", items)
	}
	if err := env.Engine.DeleteWriter(env.Ctx, env.UserID, w.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	items, _ = env.Engine.ListIssues(env.Ctx, env.UserID, "")
	if items[0].Issue.AssignedWriterID != nil || *items[0].Issue.AssignedTo != "Sarah Park" {
		t.Fatalf("deleted writer should detach and keep name: %+v", items[0].Issue)
	}
	writers, _ := env.Engine.ListWriters(env.Ctx, env.UserID)
	if len(writers) != 0 {
		t.Fatalf("expected empty roster, got %d", len(writers))
	}
}

func TestContextRecency(t *testing.T) {
	env := newTestEnv(t, stubAnalyzer{})
	for i := 0; i < 6; i++ {
		in := sampleContext
		in.Description = fmt.Sprintf("ctx-%d", i)
		if _, err := env.Engine.SaveContext(env.Ctx, env.UserID, in); err != nil {
			t.Fatal(err)
		}
	}
	got, err := env.Engine.ListContexts(env.Ctx, env.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != domain.MaxRecentContexts || got[0].Description != "ctx-5" || got[4].Description != "ctx-1" {
		t.Fatalf("sixth context should evict the oldest: %+v", got)
	}
}

func TestResearchAndSaveSources(t *testing.T) {
	u := "https://a.example/one"
	env := newTestEnv(t, stubAnalyzer{issues: map[string]int{u: 1}})
	run := env.startAndWait(t, u)
	_, issue := firstIssue(t, run)

	sources, err := env.Engine.ResearchIssue(env.Ctx, env.UserID, run.ID, issue.ID)
	if err != nil {
		t.Fatalf("research: %v", err)
	}
	if len(sources) != 2 || sources[0].IsAccepted {
		t.Fatalf("research results come back unaccepted: %+v", sources)
	}
	sources[1].IsAccepted = true
	saved, err := env.Engine.SaveSources(env.Ctx, env.UserID, run.ID, issue.ID, sources)
	if err != nil {
		t.Fatalf("save sources: %v", err)
	}
	if len(saved.SuggestedSources) != 1 || saved.SuggestedSources[0].URL != "https://b.example/post" {
		t.Fatalf("only accepted sources are kept: %+v", saved.SuggestedSources)
	}
	again, _ := env.Engine.GetRun(env.Ctx, env.UserID, run.ID)
	if len(again.Results[0].Issues[0].SuggestedSources) != 1 {
		t.Fatalf("sources should persist on the issue")
	}
}

func TestAPIKeys(t *testing.T) {
	env := newTestEnv(t, stubAnalyzer{})
	raw, key, err := env.Engine.CreateAPIKey(env.Ctx, env.UserID, "ci")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if raw == "" || key.KeyHash == raw {
		t.Fatalf("raw key must not be stored")
	}
	keys, _ := env.Engine.ListAPIKeys(env.Ctx, env.UserID)
	if len(keys) != 1 {
		t.Fatalf("expected one key, got %d", len(keys))
	}
	if err := env.Engine.RevokeAPIKey(env.Ctx, env.UserID, key.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	var nf domain.NotFoundError
	if err := env.Engine.RevokeAPIKey(env.Ctx, env.UserID, key.ID); !errors.As(err, &nf) {
		t.Fatalf("expected not found on second revoke, got %v", err)
	}
	var verr domain.ValidationError
	if _, err := env.Engine.CreateUser(env.Ctx, "editor@example.com", ""); !errors.As(err, &verr) {
		t.Fatalf("duplicate email must be rejected, got %v", err)
	}
}
