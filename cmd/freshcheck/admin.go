package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"freshcheck/internal/app"
	"freshcheck/internal/config"
	"freshcheck/internal/db"
	"freshcheck/internal/engine"
	"freshcheck/internal/migrate"
)

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage freshcheck.yml",
		Long:  "freshcheck.yml holds server, auth, analysis, research, polling, webhook, logging and metrics settings. Secrets can also come from FRESHCHECK_* environment variables.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default freshcheck.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			masked := *cfg
			masked.Auth.JWTSecret = mask(cfg.Auth.JWTSecret)
			masked.LLM.APIKey = mask(cfg.LLM.APIKey)
			masked.Research.APIKey = mask(cfg.Research.APIKey)
			masked.Webhooks.Secret = mask(cfg.Webhooks.Secret)
			return printJSON(masked)
		},
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate freshcheck.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	m := &cobra.Command{Use: "migrate", Short: "Database schema"}
	m.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending schema versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			st, err := migrate.Inspect(conn)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(st)
			}
			tw := newTable([]any{"Current", "Latest", "Pending"})
			tw.AppendRow([]any{st.Current, st.Latest, st.Pending})
			tw.Render()
			return nil
		},
	})
	m.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Println("schema up to date")
			return nil
		},
	})
	return m
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users, tokens and API keys"}
	u.AddCommand(userCreateCmd())
	u.AddCommand(userListCmd())
	u.AddCommand(userTokenCmd())
	u.AddCommand(apiKeyCmd())
	return u
}

func userCreateCmd() *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				user, err := e.CreateUser(ctx, email, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(user)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				users, err := e.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := newTable([]any{"ID", "Email", "Name", "Created"})
				for _, u := range users {
					tw.AppendRow([]any{u.ID, u.Email, u.Name, ago(u.CreatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func userTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for --user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := userRef()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Engine.GetUser(ctx, ref)
				if err != nil {
					return err
				}
				token, exp, err := a.Auth.IssueToken(u.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"token": token, "userId": u.ID, "expiresAt": exp.UTC().Format(time.RFC3339)})
				}
				fmt.Println(token)
				return nil
			})
		},
	}
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "api-key", Short: "Manage API keys for --user"}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the raw key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				raw, key, err := e.CreateAPIKey(ctx, userID, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "key": raw})
				}
				fmt.Printf("%s\n(id %s; store it now, it cannot be shown again)\n", raw, key.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")

	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				keys, err := e.ListAPIKeys(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable([]any{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow([]any{k.ID, k.Name, ago(k.CreatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				if err := e.RevokeAPIKey(ctx, userID, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	}

	k.AddCommand(create, list, revoke)
	return k
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var evtType string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events for --user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				events, err := e.Repo.LatestEvents(ctx, userID, evtType, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable([]any{"ID", "When", "Type", "Entity", "Entity ID"})
				for _, evt := range events {
					tw.AppendRow([]any{evt.ID, ago(evt.TS), evt.Type, evt.EntityKind, evt.EntityID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	l.AddCommand(tail)
	return l
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail runs stuck in processing past analysis.max_run_duration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				swept, err := e.SweepStuckRuns(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"swept": swept})
				}
				fmt.Printf("swept %d run(s)\n", len(swept))
				for _, id := range swept {
					fmt.Println(" ", id)
				}
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with the stuck-run sweeper and webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.Auth.Secret == "" {
					return fmt.Errorf("auth.jwt_secret (or FRESHCHECK_JWT_SECRET) is required for bearer auth")
				}
				listen := addr
				if listen == "" {
					listen = viper.GetString("addr")
				}
				if listen == "" {
					listen = a.Config.Server.Addr
				}
				fmt.Printf("Serving Freshcheck API on http://%s%s (OpenAPI at %s/openapi.json, docs at /docs)\n",
					listen, a.Config.Server.BasePath, a.Config.Server.BasePath)
				return a.Serve(ctx, listen)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	return cmd
}
