package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"braindump/internal/config"
	"braindump/internal/daily"
	"braindump/internal/db"
	"braindump/internal/domain"
	"braindump/internal/engine"
	"braindump/internal/migrate"
	"braindump/internal/proposal"
	"braindump/internal/repo"
	"braindump/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bd",
	Short: "Braindump CLI",
	Long: `Braindump captures tasks and schedules them around your real calendar.
Core concepts:
- Workspace: your .braindump directory holding the database; preferences live in the DB and are imported from braindump.yml.
- Tasks: things to do, with priority, type, and a time estimate; statuses go inbox -> scheduled -> done (or dropped).
- Calendars: imported ICS snapshots; availability is the intersection of free time across every calendar within working hours.
- Suggestions: scored candidate slots for one task on one date.
- Proposals: a reviewable batch schedule over the coming days; approve, tweak, or reject each placement, then confirm.
- Displacements: a high-priority task may bump a lower-priority planned one, but only with your explicit approval.
- Event log: diary of changes, view with 'bd log tail'.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BRAINDUMP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("profile", "", "profile id (defaults to actor id)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("profile", rootCmd.PersistentFlags().Lookup("profile"))
}

func registerCommands() {
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(calendarCmd())
	rootCmd.AddCommand(availabilityCmd())
	rootCmd.AddCommand(suggestCmd())
	rootCmd.AddCommand(proposeCmd())
	rootCmd.AddCommand(proposalCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(prefsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func profileID() string {
	if p := strings.TrimSpace(viper.GetString("profile")); p != "" {
		return p
	}
	return viper.GetString("actor-id")
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks flow inbox -> scheduled -> done. A scheduled task can bounce back to inbox, and done or dropped tasks can be reopened.",
	}
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDoneCmd())
	return task
}

func taskAddCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Capture a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Title = args[0]
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (optional, random UUID if omitted)")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "notes")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority (high, medium, low)")
	cmd.Flags().StringVar(&opts.TaskType, "type", "", "task type (deep_work, admin, call, errand)")
	cmd.Flags().IntVar(&opts.TimeEstimateMinutes, "estimate", 0, "time estimate in minutes")
	return cmd
}

func taskListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Priority", "Type", "Status", "Scheduled"})
				for _, t := range tasks {
					scheduled := ""
					if t.ScheduledStart != nil && t.ScheduledEnd != nil {
						scheduled = fmt.Sprintf("%s - %s",
							t.ScheduledStart.Format("Mon 02 Jan 15:04"),
							t.ScheduledEnd.Format("15:04"))
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Priority, t.TaskType, t.Status, scheduled})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (inbox, scheduled, done, dropped)")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, notes, priority, taskType, status string
	var estimate int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskUpdateOptions{
				ID:      args[0],
				Status:  status,
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("notes") {
				opts.Notes = &notes
			}
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			if cmd.Flags().Changed("type") {
				opts.TaskType = &taskType
			}
			if cmd.Flags().Changed("estimate") {
				opts.TimeEstimateMinutes = &estimate
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (high, medium, low)")
	cmd.Flags().StringVar(&taskType, "type", "", "task type")
	cmd.Flags().IntVar(&estimate, "estimate", 0, "time estimate in minutes")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	return cmd
}

func taskDoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Complete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CompleteTask(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func calendarCmd() *cobra.Command {
	cal := &cobra.Command{
		Use:   "calendar",
		Short: "Manage calendar snapshots",
		Long:  "Calendars are read-mostly ICS imports. Each import replaces that calendar's cached events over the import range.",
	}
	cal.AddCommand(calendarImportCmd())
	cal.AddCommand(calendarListCmd())
	return cal
}

func calendarImportCmd() *cobra.Command {
	var opts engine.ImportCalendarOptions
	var filePath, from string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import an ICS file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			opts.Body = data
			opts.ActorID = viper.GetString("actor-id")
			if from != "" {
				opts.From, err = time.Parse("2006-01-02", from)
				if err != nil {
					return fmt.Errorf("invalid --from date: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.ImportCalendar(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				fmt.Printf("Imported %d events into calendar %s\n", len(events), opts.CalendarID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.CalendarID, "id", "", "calendar id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "calendar display name")
	cmd.Flags().StringVar(&opts.SourceURL, "source-url", "", "source URL for reference")
	cmd.Flags().StringVar(&filePath, "file", "", "path to ICS file")
	cmd.Flags().StringVar(&from, "from", "", "import range start (YYYY-MM-DD, defaults to today)")
	cmd.Flags().IntVar(&opts.Days, "days", 0, "import range length in days")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func calendarListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List calendars",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListCalendars(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Primary", "Refreshed"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Name, c.Primary, c.RefreshedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func availabilityCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "availability",
		Short: "Show free and busy slots for a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if date == "" {
					date = e.Now().In(e.Config.Location()).Format("2006-01-02")
				}
				window, err := e.Availability(ctx, date)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(window)
				}
				printWindow(window)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD, defaults to today)")
	return cmd
}

func suggestCmd() *cobra.Command {
	var date string
	var count int
	cmd := &cobra.Command{
		Use:   "suggest <task-id>",
		Short: "Score candidate slots for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if date == "" {
					date = e.Now().In(e.Config.Location()).Format("2006-01-02")
				}
				suggestions, err := e.Suggest(ctx, taskID, date, count)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(suggestions)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Slot", "Score", "Reasoning"})
				for i, s := range suggestions {
					tw.AppendRow(table.Row{i, formatSlot(s.Slot), s.Score, s.Reasoning})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD, defaults to today)")
	cmd.Flags().IntVar(&count, "count", 0, "number of suggestions")
	return cmd
}

func proposeCmd() *cobra.Command {
	var taskIDs []string
	var from string
	cmd := &cobra.Command{
		Use:   "propose",
		Short: "Build a schedule proposal",
		Long:  "Plans unscheduled tasks (or the given --task ids) over the coming days and opens a review cycle. Nothing touches the calendar until you confirm.",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.BuildProposalOptions{
				TaskIDs: taskIDs,
				ActorID: viper.GetString("actor-id"),
			}
			if from != "" {
				t, err := time.Parse("2006-01-02", from)
				if err != nil {
					return fmt.Errorf("invalid --from date: %w", err)
				}
				opts.From = t
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.BuildProposal(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p.ScheduleProposal)
				}
				printProposal(p.ScheduleProposal)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&taskIDs, "task", []string{}, "task id to schedule (repeatable, defaults to all unscheduled)")
	cmd.Flags().StringVar(&from, "from", "", "horizon start (YYYY-MM-DD, defaults to now)")
	return cmd
}

func proposalCmd() *cobra.Command {
	prop := &cobra.Command{
		Use:   "proposal",
		Short: "Review and confirm proposals",
	}
	prop.AddCommand(proposalShowCmd())
	prop.AddCommand(proposalApproveCmd())
	prop.AddCommand(proposalApproveAllCmd())
	prop.AddCommand(proposalRejectAllCmd())
	prop.AddCommand(proposalDisplacementsCmd())
	prop.AddCommand(proposalConfirmCmd())
	prop.AddCommand(proposalRejectCmd())
	return prop
}

func proposalShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetProposal(id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p.ScheduleProposal)
				}
				printProposal(p.ScheduleProposal)
				fmt.Printf("Status: %s\n", p.Status())
				return nil
			})
		},
	}
	return cmd
}

func proposalApproveCmd() *cobra.Command {
	var approve, reject bool
	var slot int
	cmd := &cobra.Command{
		Use:   "approve <id> <task-id>",
		Short: "Approve or reject one placement",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == reject {
				return fmt.Errorf("exactly one of --yes or --no is required")
			}
			patch := proposal.ApprovalPatch{}
			approved := approve
			patch.Approved = &approved
			if cmd.Flags().Changed("slot") {
				patch.SelectedSlotIndex = &slot
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SetApproval(args[0], args[1], patch)
				if err != nil {
					return err
				}
				return printJSONOrTable(p.ScheduleProposal)
			})
		},
	}
	cmd.Flags().BoolVar(&approve, "yes", false, "approve the placement")
	cmd.Flags().BoolVar(&reject, "no", false, "reject the placement")
	cmd.Flags().IntVar(&slot, "slot", 0, "pick an alternative suggestion index")
	return cmd
}

func proposalApproveAllCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve-all <id>",
		Short: "Approve every placement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.ApproveAll(args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p.ScheduleProposal)
			})
		},
	}
	return cmd
}

func proposalRejectAllCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject-all <id>",
		Short: "Reject every placement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.RejectAll(args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p.ScheduleProposal)
			})
		},
	}
	return cmd
}

func proposalDisplacementsCmd() *cobra.Command {
	var approve bool
	cmd := &cobra.Command{
		Use:   "displacements <id>",
		Short: "Approve or withdraw displacement approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SetDisplacementsApproved(args[0], approve)
				if err != nil {
					return err
				}
				return printJSONOrTable(p.ScheduleProposal)
			})
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the displacements")
	return cmd
}

func proposalConfirmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "confirm <id>",
		Short: "Confirm approved placements and write the calendar",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID := viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				instructions, err := e.ConfirmProposal(ctx, args[0], actorID)
				if err != nil {
					return err
				}
				applied, err := e.ApplyPendingOps(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"instructions": instructions,
						"applied_ops":  applied,
					})
				}
				for _, in := range instructions {
					if in.Slot != nil {
						fmt.Printf("%s task=%s %s\n", in.Op, in.TaskID, formatSlot(*in.Slot))
					} else {
						fmt.Printf("%s event=%s\n", in.Op, in.EventID)
					}
				}
				fmt.Printf("Applied %d calendar ops\n", applied)
				return nil
			})
		},
	}
	return cmd
}

func proposalRejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID := viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RejectProposal(ctx, args[0], actorID)
			})
		},
	}
	return cmd
}

func summaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show today's free time and inbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				window, inbox, err := e.DailySummary(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"window": window, "inbox": inbox})
				}
				printWindow(window)
				fmt.Printf("Inbox: %d task(s)\n", len(inbox))
				for _, t := range inbox {
					fmt.Printf("  %s [%s] %s\n", t.ID, t.Priority, t.Title)
				}
				return nil
			})
		},
	}
	return cmd
}

func prefsCmd() *cobra.Command {
	prefs := &cobra.Command{
		Use:   "prefs",
		Short: "Inspect scheduling preferences",
		Long:  "Preferences live in the DB per profile: working hours, task type rules, buffers, call slots, protected slots, and proposal knobs. Import from braindump.yml.",
	}
	prefs.AddCommand(prefsShowCmd())
	prefs.AddCommand(prefsImportCmd())
	prefs.AddCommand(prefsValidateCmd())
	return prefs
}

func prefsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func prefsImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import preferences from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			target := cfg.Profile.ID
			if target == "" {
				target = profileID()
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertProfileConfig(ctx, target, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML preferences")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func prefsValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("preferences OK")
			return nil
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: task changes, imports, proposals, and calendar writes.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.ListEvents(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, ev := range events {
					entity := ev.EntityKind
					if ev.EntityID != "" {
						entity += "/" + ev.EntityID
					}
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, entity, ev.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				authCfg := server.AuthConfig{
					JWTSecret:     os.Getenv("BRAINDUMP_JWT_SECRET"),
					AllowDevLogin: devLogin,
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("BRAINDUMP_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				digest, err := daily.New(e)
				if err != nil {
					return err
				}
				digest.Start()
				defer digest.Stop()
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Braindump API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable the unauthenticated dev token endpoint")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		cfg, err := resolveConfig(ctx, r)
		if err != nil {
			return err
		}
		e := engine.New(r.DB, cfg)
		return fn(ctx, e)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

// resolveConfig prefers the DB-stored profile config, then braindump.yml in
// the workspace, then built-in defaults. A YAML file found on first use is
// imported so later runs hit the DB path.
func resolveConfig(ctx context.Context, r repo.Repo) (*config.Config, error) {
	profile := profileID()
	cfg, err := r.GetProfileConfig(ctx, profile)
	if err == nil && cfg != nil {
		return cfg, nil
	}
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	cfg, err = config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default(profile)
	}
	if cfg.Profile.ID == "" {
		cfg.Profile.ID = profile
	}
	if err := r.UpsertProfileConfig(ctx, cfg.Profile.ID, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printWindow(w domain.AvailabilityWindow) {
	fmt.Printf("%s  working %s-%s  free %dm  busy %dm\n",
		w.Date, w.WorkingStart, w.WorkingEnd, w.TotalFreeMinutes, w.TotalBusyMinutes)
	for _, s := range w.Slots {
		marker := "busy"
		if s.Available {
			marker = "free"
		}
		fmt.Printf("  %s  %s - %s\n", marker, s.Start.Format("15:04"), s.End.Format("15:04"))
	}
}

func printProposal(p domain.ScheduleProposal) {
	fmt.Printf("Proposal %s (expires %s)\n%s\n", p.ID, p.ExpiresAt.Format(time.RFC3339), p.Summary)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Task", "Status", "Recommended", "Score"})
	for _, a := range p.Assignments {
		slot, score := "", ""
		if a.Status == domain.AssignmentProposed && len(a.Suggestions) > 0 {
			s := a.Suggestions[a.RecommendedSlotIndex]
			slot = formatSlot(s.Slot)
			score = fmt.Sprint(s.Score)
		}
		tw.AppendRow(table.Row{a.TaskID, a.Status, slot, score})
	}
	tw.Render()
	for _, d := range p.Displacements {
		target := "unschedule"
		if d.ProposedSlot != nil {
			target = "move to " + formatSlot(*d.ProposedSlot)
		}
		fmt.Printf("Displacement: event %s  %s  (%s)\n", d.EventID, target, d.Reason)
	}
}

func formatSlot(s domain.TimeSlot) string {
	return fmt.Sprintf("%s - %s", s.Start.Format("Mon 02 Jan 15:04"), s.End.Format("15:04"))
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
