package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"freshcheck/internal/app"
	"freshcheck/internal/domain"
	"freshcheck/internal/engine"
	"freshcheck/internal/export"
)

func runCmd() *cobra.Command {
	r := &cobra.Command{
		Use:   "run",
		Short: "Start and inspect analysis runs",
		Long:  "A run analyzes up to 20 URLs against a domain context. Results are kept in submission order, one per URL.",
	}
	r.AddCommand(runStartCmd())
	r.AddCommand(runListCmd())
	r.AddCommand(runGetCmd())
	r.AddCommand(runDeleteCmd())
	r.AddCommand(runExportCmd())
	return r
}

func runStartCmd() *cobra.Command {
	var (
		urls    []string
		file    string
		dc      engine.DomainContextInput
		timeout time.Duration
		wait    bool
	)
	cmd := &cobra.Command{
		Use:   "start [url...]",
		Short: "Analyze URLs; --wait polls until the run finishes and prints it",
		RunE: func(cmd *cobra.Command, args []string) error {
			all := append(append([]string{}, urls...), args...)
			if file != "" {
				fromFile, err := readURLFile(file)
				if err != nil {
					return err
				}
				all = append(all, fromFile...)
			}
			ref, err := userRef()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Engine.GetUser(ctx, ref)
				if err != nil {
					return err
				}
				handle, err := a.Engine.StartRun(ctx, u.ID, all, dc)
				if err != nil {
					return err
				}
				if !wait {
					if err := printJSONOrTable(handle); err != nil {
						return err
					}
					// Analysis runs in-process; drain it before exiting.
					return a.Engine.Wait(ctx)
				}
				if !viper.GetBool("json") {
					fmt.Printf("run %s started with %d url(s)\n", handle.RunID, handle.URLCount)
				}
				policy := engine.PollPolicyFromConfig(a.Config.Polling)
				if timeout > 0 {
					policy.MaxDuration = timeout
				}
				run, err := a.Engine.WaitForRun(ctx, u.ID, handle.RunID, policy)
				if err != nil {
					return err
				}
				return printRun(run)
			})
		},
	}
	cmd.Flags().StringSliceVar(&urls, "url", nil, "page url (repeatable)")
	cmd.Flags().StringVar(&file, "file", "", "file with one url per line")
	cmd.Flags().StringVar(&dc.Description, "description", "", "what the pages are about")
	cmd.Flags().StringVar(&dc.EntityTypes, "entities", "", "entity types to check")
	cmd.Flags().StringVar(&dc.StalenessRules, "rules", "", "what counts as stale")
	cmd.Flags().BoolVar(&wait, "wait", true, "poll until the run is completed or failed")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "maximum wait (defaults to polling.max_duration)")
	for _, name := range []string{"description", "entities", "rules"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, scanner.Err()
}

func runListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				runs, err := e.ListRuns(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := newTable([]any{"ID", "Started", "Status", "URLs", "Issues", "Context"})
				for _, r := range runs {
					tw.AppendRow([]any{r.ID, ago(r.Timestamp), r.Status, r.URLCount, r.TotalIssues, truncate(r.ContextDescription, 40)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func runGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a run with its results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				run, err := e.GetRun(ctx, userID, args[0])
				if err != nil {
					return err
				}
				return printRun(run)
			})
		},
	}
}

func printRun(run domain.AnalysisRun) error {
	if viper.GetBool("json") {
		return printJSON(run)
	}
	fmt.Printf("Run %s: %s, %d url(s), %d issue(s), started %s\n",
		run.ID, run.Status, run.URLCount, run.TotalIssues, ago(run.Timestamp))
	if run.FailureReason != "" {
		fmt.Println("Failure:", run.FailureReason)
	}
	if len(run.Results) == 0 {
		return nil
	}
	tw := newTable([]any{"URL", "Title", "Status", "Issues"})
	for _, res := range run.Results {
		title := res.Title
		if res.Status == domain.ResultFailed && res.Error != "" {
			title = res.Error
		}
		tw.AppendRow([]any{truncate(res.URL, 60), truncate(title, 40), res.Status, res.IssueCount})
	}
	tw.Render()
	return nil
}

func runDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				if err := e.DeleteRun(ctx, userID, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func runExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a run's issues as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				run, err := e.GetRun(ctx, userID, args[0])
				if err != nil {
					return err
				}
				if out == "-" {
					return export.WriteRunCSV(os.Stdout, run)
				}
				path := out
				if path == "" {
					path = export.Filename(run.ID)
				}
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				if err := export.WriteRunCSV(f, run); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Println("wrote", path)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file, - for stdout")
	return cmd
}
