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
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	var start, end string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.StartDate, err = parseDateFlag("start", start); err != nil {
				return err
			}
			if opts.EndDate, err = parseDateFlag("end", end); err != nil {
				return err
			}
			opts.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				p, err := e.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "project id (random UUID if omitted)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Status, "status", "", "domain status (default planning)")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Workflow", "Start", "End"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.WorkflowStatus, formatDate(p.StartDate), formatDate(p.EndDate)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e *engine.Engine, p domain.Project) error {
				return printJSONOrTable(p)
			})
		},
	}
}

func phaseCmd() *cobra.Command {
	ph := &cobra.Command{
		Use:   "phase",
		Short: "Manage phases",
		Long:  "Phases form the ordered chain of a project (studies, permits, construction, reception, delivery). Their order is the critical path.",
	}
	ph.AddCommand(phaseAddCmd())
	ph.AddCommand(phaseListCmd())
	return ph
}

func phaseAddCmd() *cobra.Command {
	var opts engine.PhaseCreateOptions
	var start, end string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Append a phase to the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.StartDate, err = parseDateFlag("start", start); err != nil {
				return err
			}
			if opts.EndDate, err = parseDateFlag("end", end); err != nil {
				return err
			}
			opts.ActorID = actorID()
			return withProject(cmd.Context(), func(ctx context.Context, e *engine.Engine, p domain.Project) error {
				opts.ProjectID = p.ID
				ph, err := e.CreatePhase(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(ph)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "phase id (random UUID if omitted)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "phase name")
	cmd.Flags().StringVar(&opts.PhaseType, "type", domain.PhaseOther, "phase type (studies, permits, construction, reception, delivery, other)")
	cmd.Flags().IntVar(&opts.Position, "position", 0, "position in the chain (default: after the last phase)")
	cmd.Flags().StringVar(&opts.Status, "status", "", "domain status (default pending)")
	cmd.Flags().Float64Var(&opts.CompletionPercentage, "completion", 0, "manual completion percentage for phases without tasks")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func phaseListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List phases with their tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e *engine.Engine, p domain.Project) error {
				phases, err := e.Repo.LoadPhases(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(phases)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "ID", "Name", "Type", "Status", "Workflow", "Start", "End", "Tasks", "Milestones"})
				for _, ph := range phases {
					tw.AppendRow(table.Row{ph.Position, ph.ID, ph.Name, ph.PhaseType, ph.Status, ph.WorkflowStatus,
						formatDate(ph.StartDate), formatDate(ph.EndDate), len(ph.Tasks), len(ph.Milestones)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Manage tasks"}
	t.AddCommand(taskAddCmd())
	return t
}

func taskAddCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var start, end string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task to a phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.StartDate, err = parseDateFlag("start", start); err != nil {
				return err
			}
			if opts.EndDate, err = parseDateFlag("end", end); err != nil {
				return err
			}
			opts.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (random UUID if omitted)")
	cmd.Flags().StringVar(&opts.PhaseID, "phase", "", "phase id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "task name")
	cmd.Flags().StringVar(&opts.StakeholderID, "stakeholder", "", "assigned stakeholder id")
	cmd.Flags().StringVar(&opts.Priority, "priority", domain.PriorityNormal, "priority (low, normal, high, urgent)")
	cmd.Flags().Float64Var(&opts.EstimatedHours, "hours", 0, "estimated hours")
	cmd.Flags().StringVar(&opts.Status, "status", "", "domain status (default pending)")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("phase")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func milestoneCmd() *cobra.Command {
	m := &cobra.Command{Use: "milestone", Short: "Manage milestones"}
	m.AddCommand(milestoneAddCmd())
	return m
}

func milestoneAddCmd() *cobra.Command {
	var opts engine.MilestoneCreateOptions
	var target string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a milestone to a phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.TargetDate, err = parseDateFlag("target", target); err != nil {
				return err
			}
			opts.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				m, err := e.CreateMilestone(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "milestone id (random UUID if omitted)")
	cmd.Flags().StringVar(&opts.PhaseID, "phase", "", "phase id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "milestone name")
	cmd.Flags().StringVar(&target, "target", "", "target date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&opts.Critical, "critical", false, "mark as critical")
	cmd.Flags().StringVar(&opts.Status, "status", "", "domain status (default pending)")
	_ = cmd.MarkFlagRequired("phase")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func stakeholderCmd() *cobra.Command {
	s := &cobra.Command{Use: "stakeholder", Short: "Manage stakeholders"}
	s.AddCommand(stakeholderAddCmd())
	return s
}

func stakeholderAddCmd() *cobra.Command {
	var opts engine.StakeholderCreateOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a stakeholder to the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = actorID()
			return withProject(cmd.Context(), func(ctx context.Context, e *engine.Engine, p domain.Project) error {
				opts.ProjectID = p.ID
				s, err := e.CreateStakeholder(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "stakeholder id (random UUID if omitted)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "name")
	cmd.Flags().StringVar(&opts.Role, "role", "", "role (architect, contractor, ...)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func permitCmd() *cobra.Command {
	p := &cobra.Command{Use: "permit", Short: "Manage permits"}
	p.AddCommand(permitAddCmd())
	return p
}

func permitAddCmd() *cobra.Command {
	var opts engine.PermitCreateOptions
	var expiry string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a permit to the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.ExpiryDate, err = parseDateFlag("expiry", expiry); err != nil {
				return err
			}
			opts.ActorID = actorID()
			return withProject(cmd.Context(), func(ctx context.Context, e *engine.Engine, p domain.Project) error {
				opts.ProjectID = p.ID
				permit, err := e.CreatePermit(ctx, opts)
				if err != nil {
					return err
				}
				if !viper.GetBool("json") && permit.ExpiryDate == nil {
					fmt.Fprintln(os.Stderr, "note: permits without an expiry date never raise expiry alerts")
				}
				return printJSONOrTable(permit)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "permit id (random UUID if omitted)")
	cmd.Flags().StringVar(&opts.PermitType, "type", "", "permit type (urban_planning, construction, demolition, ...)")
	cmd.Flags().StringVar(&opts.Status, "status", "", "domain status (default draft)")
	cmd.Flags().StringVar(&expiry, "expiry", "", "expiry date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}
