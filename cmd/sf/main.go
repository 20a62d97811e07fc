package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shopfloor/internal/app"
	"shopfloor/internal/config"
	"shopfloor/internal/db"
	"shopfloor/internal/domain"
	"shopfloor/internal/engine"
	"shopfloor/internal/engine/auth"
	"shopfloor/internal/filter"
	"shopfloor/internal/repo"
	"shopfloor/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sf",
	Short: "Shopfloor CLI",
	Long: `Shopfloor tracks a production site's daily management board.
- KPIs: measured values against a target; status (success, warning, danger) and trend are derived from every recorded value.
- Actions: dated to-dos that move todo -> in_progress -> done; operators may only tick them done or reopen them.
- Problems: reported issues that move open -> in_progress -> resolved and can be escalated once.
- Roles: admin, manager, team_leader and operator; shopfloor.yml decides what each may do.
- Event log: every change is recorded, view it with 'sf log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setupLogging(viper.GetString("log-level"), viper.GetString("log-format")); err != nil {
			return err
		}
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SHOPFLOOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("role", string(auth.RoleAdmin), "role to act as")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	for _, name := range []string{"workspace", "json", "role", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func setupLogging(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	logrus.SetOutput(os.Stderr)
	switch format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(kpiCmd())
	rootCmd.AddCommand(actionCmd())
	rootCmd.AddCommand(problemCmd())
	rootCmd.AddCommand(workstationCmd())
	rootCmd.AddCommand(categoryCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(prioritiesCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(matrixCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var site string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default shopfloor.yml and initialize the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(site)), 0o644); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if viper.GetBool("json") {
					return printJSON(map[string]any{"config": path, "site": e.Config.Site.Name})
				}
				fmt.Printf("Initialized %s for site %q\n", path, e.Config.Site.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&site, "site", "shopfloor", "site name")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func kpiCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "kpi", Short: "Manage KPIs"}
	cmd.AddCommand(kpiListCmd())
	cmd.AddCommand(kpiShowCmd())
	cmd.AddCommand(kpiCreateCmd())
	cmd.AddCommand(kpiRecordCmd())
	cmd.AddCommand(kpiDeleteCmd())
	return cmd
}

func kpiListCmd() *cobra.Command {
	var c filter.Criteria
	var workstation string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List KPIs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				kpis, err := e.ListKPIs(ctx, engine.KPIListOptions{Criteria: c, WorkstationID: workstation, Role: currentRole()})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(kpis)
				}
				tw := newTable("ID", "Name", "Category", "Current", "Target", "Status", "Trend")
				for _, k := range kpis {
					tw.AppendRow(table.Row{k.ID, k.Name, k.Category, formatValue(k.CurrentValue, k.Unit), formatValue(k.TargetValue, k.Unit), k.Status, k.Trend})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&c.Category, "category", "", "category filter")
	cmd.Flags().StringVar(&c.Status, "status", "", "status filter (success, warning, danger)")
	cmd.Flags().StringVar(&c.Search, "q", "", "search name and description")
	cmd.Flags().StringVar(&workstation, "workstation", "", "workstation filter")
	return cmd
}

func kpiShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a KPI with its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, err := e.KPIReport(ctx, args[0], currentRole())
				if err != nil {
					return err
				}
				return printJSONOrTable(report)
			})
		},
	}
}

func kpiCreateCmd() *cobra.Command {
	var opts engine.KPICreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a KPI",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.Role = currentRole()
				k, err := e.CreateKPI(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(k)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "KPI id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "KPI name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category code")
	cmd.Flags().Float64Var(&opts.CurrentValue, "current", 0, "current value")
	cmd.Flags().Float64Var(&opts.TargetValue, "target", 0, "target value")
	cmd.Flags().StringVar(&opts.Unit, "unit", "", "unit")
	cmd.Flags().StringVar(&opts.Direction, "direction", "", "higher_is_better or lower_is_better")
	cmd.Flags().Float64Var(&opts.Tolerance, "tolerance", 0, "tolerance around the target")
	cmd.Flags().StringVar(&opts.Frequency, "frequency", "", "daily, weekly or monthly")
	cmd.Flags().StringVar(&opts.WorkstationID, "workstation", "", "workstation id")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func kpiRecordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "record <id> <value>",
		Short: "Record a new KPI value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[1], err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				k, err := e.RecordKPIValue(ctx, args[0], value, currentRole())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(k)
				}
				fmt.Printf("%s: %s (%s, %s)\n", k.Name, formatValue(k.CurrentValue, k.Unit), k.Status, k.Trend)
				return nil
			})
		},
	}
}

func kpiDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a KPI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteKPI(ctx, args[0], currentRole())
			})
		},
	}
}

func actionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "action", Short: "Manage actions"}
	cmd.AddCommand(actionListCmd())
	cmd.AddCommand(actionCreateCmd())
	cmd.AddCommand(actionStatusCmd())
	cmd.AddCommand(actionToggleCmd())
	cmd.AddCommand(actionDeleteCmd())
	return cmd
}

func actionListCmd() *cobra.Command {
	var opts engine.ActionListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.Role = currentRole()
				actions, err := e.ListActions(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(actions)
				}
				tw := newTable("ID", "Title", "Priority", "Status", "Category", "Due", "Assignee")
				for _, a := range actions {
					tw.AppendRow(table.Row{a.ID, a.Title, a.Priority, a.Status, a.Category, a.DueDate, a.Assignee})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Criteria.Category, "category", "", "category filter")
	cmd.Flags().StringVar(&opts.Criteria.Priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&opts.Criteria.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&opts.Criteria.Search, "q", "", "search title and description")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.WorkstationID, "workstation", "", "workstation filter")
	return cmd
}

func actionCreateCmd() *cobra.Command {
	var opts engine.ActionCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an action",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.Role = currentRole()
				if opts.DueDate == "" {
					opts.DueDate = e.Today()
				}
				a, err := e.CreateAction(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "action id (generated when empty)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "low, medium or high")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category code")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (YYYY-MM-DD, defaults to today)")
	cmd.Flags().StringVar(&opts.Assignee, "assignee", "", "assignee")
	cmd.Flags().StringVar(&opts.WorkstationID, "workstation", "", "workstation id")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func actionStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <todo|in_progress|done>",
		Short: "Move an action to a status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.TransitionAction(ctx, args[0], domain.ActionStatus(args[1]), currentRole())
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func actionToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Tick an action done, or reopen it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.ToggleAction(ctx, args[0], currentRole())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(a)
				}
				fmt.Printf("%s is now %s\n", a.Title, a.Status)
				return nil
			})
		},
	}
}

func actionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteAction(ctx, args[0], currentRole())
			})
		},
	}
}

func problemCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "problem", Short: "Manage problems"}
	cmd.AddCommand(problemListCmd())
	cmd.AddCommand(problemCreateCmd())
	cmd.AddCommand(problemStatusCmd())
	cmd.AddCommand(problemEscalateCmd())
	cmd.AddCommand(problemDeleteCmd())
	cmd.AddCommand(problemBoardCmd())
	return cmd
}

func problemListCmd() *cobra.Command {
	var opts engine.ProblemListOptions
	var escalated string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			if escalated != "" {
				v, err := strconv.ParseBool(escalated)
				if err != nil {
					return fmt.Errorf("invalid --escalated %q", escalated)
				}
				opts.Escalated = &v
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.Role = currentRole()
				problems, err := e.ListProblems(ctx, opts)
				if err != nil {
					return err
				}
				return printProblems(problems)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Criteria.Category, "category", "", "category filter")
	cmd.Flags().StringVar(&opts.Criteria.Priority, "severity", "", "severity filter")
	cmd.Flags().StringVar(&opts.Criteria.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&opts.Criteria.Search, "q", "", "search title and description")
	cmd.Flags().StringVar(&opts.WorkstationID, "workstation", "", "workstation filter")
	cmd.Flags().StringVar(&escalated, "escalated", "", "true or false")
	return cmd
}

func problemCreateCmd() *cobra.Command {
	var opts engine.ProblemCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Report a problem",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.Role = currentRole()
				p, err := e.CreateProblem(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "problem id (generated when empty)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category code")
	cmd.Flags().StringVar(&opts.Severity, "severity", "", "low, medium or high")
	cmd.Flags().StringVar(&opts.WorkstationID, "workstation", "", "workstation id")
	cmd.Flags().StringVar(&opts.Assignee, "assignee", "", "assignee")
	cmd.Flags().StringVar(&opts.ReportedBy, "reported-by", "", "reporter (defaults to the role)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func problemStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <open|in_progress|resolved>",
		Short: "Move a problem to a status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.TransitionProblem(ctx, args[0], domain.ProblemStatus(args[1]), currentRole())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func problemEscalateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "escalate <id>",
		Short: "Escalate a problem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.EscalateProblem(ctx, args[0], currentRole())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func problemDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a problem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteProblem(ctx, args[0], currentRole())
			})
		},
	}
}

func problemBoardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Show unresolved problems, escalated and severe first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, open, err := e.ProblemBoard(ctx, currentRole())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"counts": counts, "open": open})
				}
				fmt.Printf("open %d  in progress %d  escalated %d  high severity %d\n",
					counts.Open, counts.InProgress, counts.Escalated, counts.HighSeverity)
				return printProblems(open)
			})
		},
	}
}

func printProblems(problems []domain.Problem) error {
	if viper.GetBool("json") {
		return printJSON(problems)
	}
	tw := newTable("ID", "Title", "Severity", "Status", "Escalated", "Category", "Reported by")
	for _, p := range problems {
		tw.AppendRow(table.Row{p.ID, p.Title, p.Severity, p.Status, p.Escalated, p.Category, p.ReportedBy})
	}
	tw.Render()
	return nil
}

func workstationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "workstation", Short: "Manage machines and stations"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List workstations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListWorkstations(ctx, "", currentRole())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Kind", "Status", "Location")
				for _, w := range items {
					tw.AppendRow(table.Row{w.ID, w.Name, w.Kind, w.Status, w.Location})
				}
				tw.Render()
				return nil
			})
		},
	})
	var opts engine.WorkstationCreateOptions
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a workstation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.Role = currentRole()
				w, err := e.CreateWorkstation(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	create.Flags().StringVar(&opts.ID, "id", "", "workstation id (generated when empty)")
	create.Flags().StringVar(&opts.Name, "name", "", "name")
	create.Flags().StringVar(&opts.Kind, "kind", "", "machine or station")
	create.Flags().StringVar(&opts.Location, "location", "", "location")
	_ = create.MarkFlagRequired("name")
	cmd.AddCommand(create)
	cmd.AddCommand(&cobra.Command{
		Use:   "status <id> <operational|maintenance|down>",
		Short: "Change workstation status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.SetWorkstationStatus(ctx, args[0], domain.WorkstationStatus(args[1]), currentRole())
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	})
	return cmd
}

func categoryCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "category", Short: "Manage categories"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List categories in display order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cats, err := e.ListCategories(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cats)
				}
				tw := newTable("Order", "Code", "Name", "Color")
				for _, c := range cats {
					tw.AppendRow(table.Row{c.DisplayOrder, c.Code, c.Name, c.Color})
				}
				tw.Render()
				return nil
			})
		},
	})
	var opts engine.CategoryCreateOptions
	create := &cobra.Command{
		Use:   "create",
		Short: "Create or refresh a category",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.Role = currentRole()
				c, err := e.CreateCategory(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	create.Flags().StringVar(&opts.Code, "code", "", "category code")
	create.Flags().StringVar(&opts.Name, "name", "", "display name")
	create.Flags().StringVar(&opts.Color, "color", "", "hex color")
	create.Flags().IntVar(&opts.DisplayOrder, "order", 0, "display order")
	_ = create.MarkFlagRequired("code")
	_ = create.MarkFlagRequired("name")
	cmd.AddCommand(create)
	return cmd
}

func dashboardCmd() *cobra.Command {
	var byCategory bool
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show the site overview",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if byCategory {
					return printCategoryStats(ctx, e)
				}
				d, err := e.Dashboard(ctx, currentRole())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("%s\n\n", d.Site)
				tw := newTable("", "Total", "Breakdown")
				k := d.Stats.KPIs
				tw.AppendRow(table.Row{"KPIs", k.Total, fmt.Sprintf("%d success, %d warning, %d danger (%.0f%% on target)", k.Success, k.Warning, k.Danger, d.SuccessRate)})
				a := d.Stats.Actions
				tw.AppendRow(table.Row{"Actions", a.Total, fmt.Sprintf("%d todo, %d in progress, %d done", a.Todo, a.InProgress, a.Done)})
				p := d.Stats.Problems
				tw.AppendRow(table.Row{"Problems", p.Total, fmt.Sprintf("%d open, %d in progress, %d resolved, %d escalated", p.Open, p.InProgress, p.Resolved, p.Escalated)})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&byCategory, "by-category", false, "KPI status counts per category code")
	return cmd
}

func printCategoryStats(ctx context.Context, e engine.Engine) error {
	counts, err := e.CategoryStats(ctx, currentRole())
	if err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(counts)
	}
	codes := make([]string, 0, len(counts))
	for code := range counts {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	tw := newTable("Category", "Total", "Success", "Warning", "Danger")
	for _, code := range codes {
		c := counts[code]
		tw.AppendRow(table.Row{code, c.Total, c.Success, c.Warning, c.Danger})
	}
	tw.Render()
	return nil
}

func prioritiesCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "priorities",
		Short: "Show urgent, due and completed actions for a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.TodayPriorities(ctx, date, currentRole())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				tw := newTable("Bucket", "ID", "Title", "Priority", "Due")
				for _, bucket := range []struct {
					name    string
					actions []domain.Action
				}{
					{"urgent", p.Urgent},
					{"due today", p.DueToday},
					{"completed", p.CompletedToday},
				} {
					for _, a := range bucket.actions {
						tw.AppendRow(table.Row{bucket.name, a.ID, a.Title, a.Priority, a.DueDate})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to report (YYYY-MM-DD, defaults to today)")
	return cmd
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show what the current role may do",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.WhoAmI(currentRole()))
			})
		},
	}
}

func matrixCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "matrix",
		Aliases: []string{"roles"},
		Short:   "Show the enforced permission matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				roles, err := e.Roles(currentRole())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(roles)
				}
				tw := newTable("Role", "Label", "Permissions")
				for _, r := range roles {
					perms := make([]string, 0, len(r.Permissions))
					for _, p := range r.Permissions {
						perms = append(perms, string(p))
					}
					tw.AppendRow(table.Row{r.Role, r.Label, strings.Join(perms, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect site config",
		Long:  "shopfloor.yml holds the site name, role permissions, KPI thresholds, categories and webhooks. The last loaded copy is kept in the database.",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if viper.GetBool("json") {
					return printJSON(e.Config)
				}
				shown := *e.Config
				shown.Webhooks = make([]config.WebhookConfig, len(e.Config.Webhooks))
				for i, hook := range e.Config.Webhooks {
					if hook.Secret != "" {
						hook.Secret = "********"
					}
					shown.Webhooks[i] = hook
				}
				out, err := shown.ToYAML()
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			})
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate shopfloor.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				msg := ""
				if err != nil {
					msg = err.Error()
				}
				return printJSON(map[string]any{"ok": err == nil, "error": msg})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every create, update, status change, escalation and deletion, newest first.",
	}
	var f repo.EventFilters
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evts, err := e.ListEvents(ctx, f, currentRole())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable("ID", "Time", "Type", "Entity", "Role", "Payload")
				for _, evt := range evts {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + "/" + evt.EntityID, evt.Role, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	tail.Flags().StringVar(&f.Type, "type", "", "event type filter")
	tail.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	log.AddCommand(tail)
	return log
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var keyRole, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key bound to a role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, plain, err := e.CreateAPIKey(ctx, auth.Role(keyRole), name, currentRole())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "role": key.Role, "key": plain})
				}
				fmt.Printf("API key %s for role %s (shown once):\n%s\n", key.ID, key.Role, plain)
				return nil
			})
		},
	}
	create.Flags().StringVar(&keyRole, "key-role", "", "role the key acts as")
	create.Flags().StringVar(&name, "name", "", "label")
	_ = create.MarkFlagRequired("key-role")
	cmd.AddCommand(create)
	var filterRole string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.ListAPIKeys(ctx, filterRole, currentRole())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Role", "Name", "Created")
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Role, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&filterRole, "key-role", "", "role filter")
	cmd.AddCommand(list)
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteAPIKey(ctx, args[0], currentRole())
			})
		},
	})
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			log := logrus.WithField("component", "server")
			conn, e, err := app.Open(ctx, viper.GetString("workspace"), logrus.WithField("component", "engine"))
			if err != nil {
				return err
			}
			defer conn.Close()
			authCfg := server.AuthConfig{
				JWTSecret:          viper.GetString("jwt-secret"),
				AllowDevRoleHeader: devHeader,
				Logger:             logrus.WithField("component", "auth"),
			}
			if authCfg.JWTSecret == "" && !devHeader {
				return fmt.Errorf("SHOPFLOOR_JWT_SECRET is required for bearer auth (or pass --dev-role-header)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Logger: log})
			if err != nil {
				return err
			}
			server.StartWebhooks(ctx, e.Config, e.Repo, logrus.WithField("component", "webhooks"))
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdown)
			}()
			log.WithFields(logrus.Fields{"addr": addr, "base_path": basePath, "site": e.Config.Site.Name}).Info("serving")
			fmt.Printf("Serving Shopfloor API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&devHeader, "dev-role-header", false, "DEV ONLY: trust the X-Role header without credentials")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

// --- helpers ---

func currentRole() auth.Role {
	return auth.Role(strings.TrimSpace(viper.GetString("role")))
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, e, err := app.Open(ctx, viper.GetString("workspace"), logrus.WithField("component", "engine"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func formatValue(v float64, unit string) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if unit == "" {
		return s
	}
	return s + " " + unit
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
