package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"freshcheck/internal/domain"
	"freshcheck/internal/engine"
)

func writerCmd() *cobra.Command {
	w := &cobra.Command{Use: "writer", Short: "Manage the writer directory"}
	w.AddCommand(writerAddCmd())
	w.AddCommand(writerListCmd())
	w.AddCommand(writerUpdateCmd())
	w.AddCommand(writerDeleteCmd())
	return w
}

func printWriter(w domain.Writer) error {
	if viper.GetBool("json") {
		return printJSON(w)
	}
	tw := newTable([]any{"ID", "Name", "Email", "Added"})
	tw.AppendRow([]any{w.ID, w.Name, w.Email, ago(w.CreatedAt)})
	tw.Render()
	return nil
}

func writerAddCmd() *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a writer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				w, err := e.CreateWriter(ctx, userID, engine.WriterInput{
					Name:  &name,
					Email: changedString(cmd, "email", email),
				})
				if err != nil {
					return err
				}
				return printWriter(w)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "writer name (unique)")
	cmd.Flags().StringVar(&email, "email", "", "writer email")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func writerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List writers by name",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				writers, err := e.ListWriters(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(writers)
				}
				tw := newTable([]any{"ID", "Name", "Email", "Added"})
				for _, w := range writers {
					tw.AppendRow([]any{w.ID, w.Name, w.Email, ago(w.CreatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func writerUpdateCmd() *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Rename a writer or change their email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				w, err := e.UpdateWriter(ctx, userID, args[0], engine.WriterInput{
					Name:  changedString(cmd, "name", name),
					Email: changedString(cmd, "email", email),
				})
				if err != nil {
					return err
				}
				return printWriter(w)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&email, "email", "", "new email; empty clears")
	return cmd
}

func writerDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a writer; existing assignments keep the name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				if err := e.DeleteWriter(ctx, userID, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func contextCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "context",
		Short: "Saved domain contexts",
		Long:  "The five most recently used domain contexts are kept per user; saving the same description again moves it to the front.",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved contexts, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				items, err := e.ListContexts(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable([]any{"ID", "Used", "Description", "Entities", "Rules"})
				for _, dc := range items {
					tw.AppendRow([]any{dc.ID, ago(dc.Timestamp), truncate(dc.Description, 40), truncate(dc.EntityTypes, 30), truncate(dc.StalenessRules, 30)})
				}
				tw.Render()
				return nil
			})
		},
	}

	var in engine.DomainContextInput
	save := &cobra.Command{
		Use:   "save",
		Short: "Save a domain context",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				dc, err := e.SaveContext(ctx, userID, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(dc)
			})
		},
	}
	save.Flags().StringVar(&in.Description, "description", "", "what the pages are about")
	save.Flags().StringVar(&in.EntityTypes, "entities", "", "entity types to check")
	save.Flags().StringVar(&in.StalenessRules, "rules", "", "what counts as stale")
	_ = save.MarkFlagRequired("description")

	c.AddCommand(list, save)
	return c
}
