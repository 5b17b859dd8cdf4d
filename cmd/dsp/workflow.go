package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rmarronnier/docusphere-sub011/internal/domain"
	"github.com/rmarronnier/docusphere-sub011/internal/engine"
	"github.com/rmarronnier/docusphere-sub011/internal/workflow"
)

func statusCmd() *cobra.Command {
	st := &cobra.Command{
		Use:   "status",
		Short: "Inspect or change domain statuses",
	}
	st.AddCommand(statusShowCmd())
	st.AddCommand(statusSetCmd())
	return st
}

func statusShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <kind> <id>",
		Short: "Show an entity's statuses and the workflow moves it allows",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0], args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				ent, err := e.Repo.LoadWorkflowEntity(ctx, ref)
				if err != nil {
					return err
				}
				return printEntity(ent)
			})
		},
	}
}

func statusSetCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "set <kind> <id> <status>",
		Short: "Set an entity's domain status",
		Long: `Set the business status of an entity (for example blocked, under_review, approved).
When the new status projects onto a different workflow status, the workflow move
must be allowed by the transition table and is recorded in the history.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0], args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				ent, err := e.SetDomainStatus(ctx, ref, args[2], actorID(), notes)
				if err != nil {
					return err
				}
				return printEntity(ent)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "notes recorded with the change")
	return cmd
}

type entityView struct {
	Kind           string                  `json:"kind"`
	ID             string                  `json:"id"`
	ProjectID      string                  `json:"project_id"`
	Status         string                  `json:"status"`
	WorkflowStatus domain.WorkflowStatus   `json:"workflow_status"`
	Allowed        []domain.WorkflowStatus `json:"allowed"`
}

func printEntity(ent workflow.Entity) error {
	ref := ent.Ref()
	v := entityView{
		Kind:           ref.Kind,
		ID:             ref.ID,
		ProjectID:      ref.ProjectID,
		Status:         ent.DomainStatus(),
		WorkflowStatus: ent.CurrentWorkflowStatus(),
		Allowed:        workflow.Allowed(ent.CurrentWorkflowStatus()),
	}
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Printf("%s %s (project %s)\n", v.Kind, v.ID, v.ProjectID)
	fmt.Printf("  status:   %s\n", v.Status)
	fmt.Printf("  workflow: %s\n", v.WorkflowStatus)
	if len(v.Allowed) == 0 {
		fmt.Println("  allowed:  none (final)")
	} else {
		fmt.Printf("  allowed:  %v\n", v.Allowed)
	}
	return nil
}

func transitionCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "transition <kind> <id> <to>",
		Short: "Move an entity to another workflow status",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0], args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				tr, err := e.Transition(ctx, ref, domain.WorkflowStatus(args[2]), actorID(), notes)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tr)
				}
				fmt.Printf("%s: %s -> %s\n", tr.Entity, tr.FromStatus, tr.ToStatus)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "notes recorded with the transition")
	return cmd
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <kind> <id>",
		Short: "Show the workflow transitions of an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0], args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.History(ctx, ref, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"At", "From", "To", "Actor", "Notes"})
				for _, tr := range items {
					tw.AppendRow(table.Row{tr.OccurredAt, tr.FromStatus, tr.ToStatus, tr.ActorID, tr.Notes})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max transitions")
	return cmd
}
