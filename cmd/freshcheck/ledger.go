package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"freshcheck/internal/domain"
	"freshcheck/internal/engine"
)

func issueCmd() *cobra.Command {
	i := &cobra.Command{
		Use:   "issue",
		Short: "Work the issue ledger",
		Long:  "The ledger lists detected issues from completed runs together with manual tasks. Issues move open -> assigned -> completed; completed can be reopened.",
	}
	i.AddCommand(issueListCmd())
	i.AddCommand(issueUpdateCmd())
	i.AddCommand(issueResearchCmd())
	return i
}

func issueListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				items, err := e.ListIssues(ctx, userID, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable([]any{"Kind", "Run", "Issue", "Page", "Status", "Assignee", "Due", "Description"})
				for _, it := range items {
					tw.AppendRow([]any{
						it.Kind, it.RunID, it.Issue.ID, truncate(it.PageTitle, 30), it.Issue.Status,
						str(it.Issue.AssignedTo), str(it.Issue.DueDate), truncate(it.Issue.Description, 50),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (open, assigned, completed)")
	return cmd
}

// issuePatchFlags binds the shared ledger patch flags.
type issuePatchFlags struct {
	status, assignee, writerID, doc, due string
}

func (f *issuePatchFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.status, "status", "", "new status (open, assigned, completed)")
	cmd.Flags().StringVar(&f.assignee, "assign", "", "assignee display name; empty clears")
	cmd.Flags().StringVar(&f.writerID, "writer-id", "", "assign to a writer from the directory")
	cmd.Flags().StringVar(&f.doc, "doc", "", "working document url; empty clears")
	cmd.Flags().StringVar(&f.due, "due", "", "due date YYYY-MM-DD; empty clears")
}

func (f *issuePatchFlags) patch(cmd *cobra.Command) domain.IssuePatch {
	return domain.IssuePatch{
		Status:           changedString(cmd, "status", f.status),
		AssignedTo:       changedString(cmd, "assign", f.assignee),
		AssignedWriterID: changedString(cmd, "writer-id", f.writerID),
		GoogleDocURL:     changedString(cmd, "doc", f.doc),
		DueDate:          changedString(cmd, "due", f.due),
	}
}

func issueUpdateCmd() *cobra.Command {
	var (
		url   string
		flags issuePatchFlags
	)
	cmd := &cobra.Command{
		Use:   "update <run-id> <issue-id>",
		Short: "Change an issue's status, assignment, document or due date",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				issue, err := e.UpdateIssue(ctx, userID, args[0], url, args[1], flags.patch(cmd))
				if err != nil {
					return err
				}
				return printIssue(issue)
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "page url of the issue (optional)")
	flags.bind(cmd)
	return cmd
}

func printIssue(issue domain.Issue) error {
	if viper.GetBool("json") {
		return printJSON(issue)
	}
	tw := newTable([]any{"ID", "Status", "Assignee", "Assigned", "Completed", "Due", "Doc"})
	tw.AppendRow([]any{
		issue.ID, issue.Status, str(issue.AssignedTo), agoPtr(issue.AssignedAt),
		agoPtr(issue.CompletedAt), str(issue.DueDate), str(issue.GoogleDocURL),
	})
	tw.Render()
	return nil
}

func issueResearchCmd() *cobra.Command {
	var accept []int
	cmd := &cobra.Command{
		Use:   "research <run-id> <issue-id>",
		Short: "Find current sources for an issue; --accept saves the chosen ones",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				sources, err := e.ResearchIssue(ctx, userID, args[0], args[1])
				if err != nil {
					return err
				}
				if len(accept) > 0 {
					chosen := make([]domain.SuggestedSource, 0, len(accept))
					for _, n := range accept {
						if n < 1 || n > len(sources) {
							return fmt.Errorf("--accept %d: only %d source(s) found", n, len(sources))
						}
						src := sources[n-1]
						src.IsAccepted = true
						chosen = append(chosen, src)
					}
					issue, err := e.SaveSources(ctx, userID, args[0], args[1], chosen)
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(issue)
					}
					fmt.Printf("saved %d source(s) on issue %s\n", len(issue.SuggestedSources), issue.ID)
					return nil
				}
				if viper.GetBool("json") {
					return printJSON(sources)
				}
				tw := newTable([]any{"#", "Title", "Domain", "Date", "Confidence", "URL"})
				for i, s := range sources {
					tw.AppendRow([]any{i + 1, truncate(s.Title, 40), s.Domain, str(s.PublicationDate), s.Confidence, s.URL})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntSliceVar(&accept, "accept", nil, "1-based numbers of sources to save")
	return cmd
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Manual tasks in the issue ledger"}
	t.AddCommand(taskCreateCmd())
	t.AddCommand(taskUpdateCmd())
	return t
}

func taskCreateCmd() *cobra.Command {
	var in engine.ManualTaskInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a manual task assigned to a writer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				issue, err := e.CreateManualTask(ctx, userID, in)
				if err != nil {
					return err
				}
				return printIssue(issue)
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "task title")
	cmd.Flags().StringVar(&in.WriterID, "writer-id", "", "writer from the directory")
	cmd.Flags().StringVar(&in.WriterName, "writer-name", "", "free-form writer name")
	cmd.Flags().StringVar(&in.GoogleDocURL, "doc", "", "working document url")
	cmd.Flags().StringVar(&in.DueDate, "due", "", "due date YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var flags issuePatchFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a manual task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				issue, err := e.UpdateManualTask(ctx, userID, args[0], flags.patch(cmd))
				if err != nil {
					return err
				}
				return printIssue(issue)
			})
		},
	}
	flags.bind(cmd)
	return cmd
}
