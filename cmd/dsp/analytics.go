package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rmarronnier/docusphere-sub011/internal/domain"
	"github.com/rmarronnier/docusphere-sub011/internal/engine"
	"github.com/rmarronnier/docusphere-sub011/internal/schedule"
)

func reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Progress report for the active project",
		Long:  "Weighted progress, per-phase completion, key metrics, alerts, critical path and workload recommendations in one report.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e *engine.Engine, p domain.Project) error {
				r, err := e.Report(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(r)
				}
				m := r.KeyMetrics
				fmt.Printf("Project %s (%s), generated %s\n", p.Name, p.ID, r.GeneratedAt.Format("2006-01-02 15:04"))
				fmt.Printf("  overall progress: %.2f%%  time elapsed: %.2f%%  health: %s (SPI %.2f)\n",
					r.OverallProgress, m.TimeProgress, m.ScheduleHealth, m.SchedulePerformance)
				fmt.Printf("  phases %d/%d  tasks %d/%d (%d overdue)  milestones %d/%d (%d overdue)\n",
					m.CompletedPhases, m.TotalPhases, m.CompletedTasks, m.TotalTasks, m.OverdueTasks,
					m.CompletedMilestones, m.TotalMilestones, m.OverdueMilestones)
				fmt.Printf("  estimated hours %.1f across %d stakeholders, critical path %d days\n",
					m.EstimatedHours, m.Stakeholders, m.CriticalPathDays)

				ids := make([]string, 0, len(r.PhasesProgress))
				for id := range r.PhasesProgress {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Phase", "Completion %"})
				for _, id := range ids {
					tw.AppendRow(table.Row{id, fmt.Sprintf("%.2f", r.PhasesProgress[id])})
				}
				tw.Render()
				if len(r.Alerts) > 0 {
					renderAlerts(r.Alerts)
				}
				for _, rec := range r.ResourceRecommendations.Recommendations {
					fmt.Printf("  [%s] %s\n", rec.Kind, rec.Message)
				}
				return nil
			})
		},
	}
}

func alertsCmd() *cobra.Command {
	var minType string
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Delay, window and permit expiry alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e *engine.Engine, p domain.Project) error {
				alerts, err := e.Alerts(ctx, p.ID)
				if err != nil {
					return err
				}
				alerts = filterAlerts(alerts, schedule.AlertType(minType))
				if viper.GetBool("json") {
					return printJSON(alerts)
				}
				if len(alerts) == 0 {
					fmt.Println("no alerts")
					return nil
				}
				renderAlerts(alerts)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&minType, "min", "", "minimum severity (info, warning, danger)")
	return cmd
}

var severity = map[schedule.AlertType]int{
	schedule.AlertInfo:    0,
	schedule.AlertWarning: 1,
	schedule.AlertDanger:  2,
}

func filterAlerts(alerts []schedule.Alert, floorType schedule.AlertType) []schedule.Alert {
	if floorType == "" {
		return alerts
	}
	floor := severity[floorType]
	out := alerts[:0:0]
	for _, a := range alerts {
		if severity[a.Type] >= floor {
			out = append(out, a)
		}
	}
	return out
}

func renderAlerts(alerts []schedule.Alert) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Type", "Category", "Subject", "Due", "Days", "Message"})
	for _, a := range alerts {
		tw.AppendRow(table.Row{strings.ToUpper(string(a.Type)), a.Category, a.Subject, formatDate(a.DueAt), a.Days, a.Message})
	}
	tw.Render()
}

func criticalPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "critical-path",
		Short: "Show the phase chain and its duration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e *engine.Engine, p domain.Project) error {
				cp, err := e.CriticalPath(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cp)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Phase", "Type", "Start", "End", "Days", "Slack", "Note"})
				for _, s := range cp.Steps {
					days := fmt.Sprint(s.DurationDays)
					if s.Indeterminate {
						days = "?"
					}
					slack := "-"
					if s.SlackDays != nil {
						slack = fmt.Sprint(*s.SlackDays)
					}
					tw.AppendRow(table.Row{s.Position, s.Name, s.PhaseType, formatDate(s.StartDate), formatDate(s.EndDate), days, slack, s.Note})
				}
				total := fmt.Sprint(cp.TotalDays)
				if cp.Indeterminate {
					total += " (lower bound)"
				}
				tw.AppendFooter(table.Row{"", "Total", "", "", "", total, "", ""})
				tw.Render()
				return nil
			})
		},
	}
}

func workloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workload",
		Short: "Stakeholder workload and reassignment recommendations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e *engine.Engine, p domain.Project) error {
				plan, err := e.Workload(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(plan)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Stakeholder", "Name", "Hours", "Tasks"})
				for _, l := range plan.Workloads {
					tw.AppendRow(table.Row{l.StakeholderID, l.Name, fmt.Sprintf("%.1f", l.WorkloadHours), l.TaskCount})
				}
				tw.AppendFooter(table.Row{"", "avg / stddev", fmt.Sprintf("%.1f / %.1f", plan.AverageHours, plan.StdDevHours), ""})
				tw.Render()
				for _, rec := range plan.Recommendations {
					line := fmt.Sprintf("[%s] %s", rec.Kind, rec.Message)
					if len(rec.SuggestedTasks) > 0 {
						line += fmt.Sprintf(" (tasks: %s)", strings.Join(rec.SuggestedTasks, ", "))
					}
					fmt.Println(line)
				}
				return nil
			})
		},
	}
}
