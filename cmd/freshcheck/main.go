package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"freshcheck/internal/app"
	"freshcheck/internal/config"
	"freshcheck/internal/db"
	"freshcheck/internal/engine"
)

var rootCmd = &cobra.Command{
	Use:   "freshcheck",
	Short: "Freshcheck CLI",
	Long: `Freshcheck audits web pages for outdated statements and tracks the fixes.
Core concepts:
- Run: one submission of up to 20 URLs with a domain context; analysis happens in the background.
- Domain context: what the pages are about, which entities matter and what counts as stale.
- Issue: a flagged statement on a page; it moves open -> assigned -> completed.
- Manual task: writer work that is not tied to a detected issue; it shares the issue ledger.
- Writers: the people issues are assigned to.
- Sources: research results you accept as evidence for an issue.
- Workspace: the .freshcheck directory holding the database; freshcheck.yml sits next to it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FRESHCHECK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().StringP("user", "u", "", "acting user (email or id)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("jwt-secret", "", "JWT signing secret")
	rootCmd.PersistentFlags().String("llm-api-key", "", "API key for the detection model")
	rootCmd.PersistentFlags().String("research-api-key", "", "API key for the research model")
	for _, name := range []string{"workspace", "json", "user", "log-level", "jwt-secret", "llm-api-key", "research-api-key"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(writerCmd())
	rootCmd.AddCommand(contextCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(serveCmd())
}

// loadConfig reads freshcheck.yml, falling back to defaults, and applies flag and
// FRESHCHECK_* overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("jwt-secret"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := viper.GetString("llm-api-key"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := viper.GetString("research-api-key"); v != "" {
		cfg.Research.APIKey = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	return cfg, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(viper.GetString("workspace"), cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Engine)
	})
}

func userRef() (string, error) {
	ref := strings.TrimSpace(viper.GetString("user"))
	if ref == "" {
		return "", fmt.Errorf("--user (or FRESHCHECK_USER) is required")
	}
	return ref, nil
}

// withUser resolves --user (or FRESHCHECK_USER) before running fn.
func withUser(ctx context.Context, fn func(ctx context.Context, e engine.Engine, userID string) error) error {
	ref, err := userRef()
	if err != nil {
		return err
	}
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		u, err := e.GetUser(ctx, ref)
		if err != nil {
			return err
		}
		return fn(ctx, e, u.ID)
	})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

// ago renders an RFC3339 stamp as relative time, leaving unparsable values as-is.
func ago(ts string) string {
	if ts == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}

func agoPtr(ts *string) string {
	if ts == nil {
		return ""
	}
	return ago(*ts)
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// changedString returns a pointer to v when the flag was set, so empty values clear fields.
func changedString(cmd *cobra.Command, name, v string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
