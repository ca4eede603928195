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

	"pactline/internal/config"
	"pactline/internal/db"
	"pactline/internal/domain"
	"pactline/internal/evaluate"
	"pactline/internal/lifecycle"
	"pactline/internal/logging"
	"pactline/internal/migrate"
	"pactline/internal/notify"
	"pactline/internal/repo"
	"pactline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pactline",
	Short: "Pactline CLI",
	Long: `Pactline runs mutual-accountability pacts: two friends commit to the
same daily goal, and a shared streak advances only on days where both
meet their target. One miss breaks the streak for both.

- Users live in a directory with an IANA timezone; days are judged on
  each participant's local calendar.
- A pact starts as an invitation; it only becomes active when the
  invited friend accepts.
- Progress arrives as telemetry reports ('pactline report'); the
  evaluation sweep settles each finished day once both sides are known
  or the grace window runs out.
- The event log is the audit trail; view it with 'pactline log tail'.`,
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
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PACTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "acting user identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
}

func registerCommands() {
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(friendCmd())
	rootCmd.AddCommand(pactCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
}

// deps bundles everything a command needs against one open database.
type deps struct {
	Repo      repo.Repo
	Config    *config.Config
	Lifecycle lifecycle.Manager
	Evaluator *evaluate.Engine
}

func withDeps(ctx context.Context, fn func(context.Context, deps) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.Logging.Level)
	d := deps{
		Repo:      repo.Repo{DB: conn},
		Config:    cfg,
		Lifecycle: lifecycle.New(conn, cfg, nil, notify.Log{Logger: logger}),
		Evaluator: evaluate.New(conn, cfg, nil, notify.Log{Logger: logger}, logger),
	}
	return fn(ctx, d)
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage user profiles"}
	user.AddCommand(userAddCmd())
	user.AddCommand(userShowCmd())
	return user
}

func userAddCmd() *cobra.Command {
	var id, name, tz string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a user profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			if tz != "" {
				if _, err := time.LoadLocation(tz); err != nil {
					return fmt.Errorf("invalid timezone %q", tz)
				}
			}
			return withDeps(cmd.Context(), func(ctx context.Context, d deps) error {
				u := domain.UserProfile{
					ID:          id,
					DisplayName: name,
					Timezone:    tz,
					CreatedAt:   time.Now().UTC().Format(time.RFC3339),
				}
				if err := d.Repo.UpsertUser(ctx, u); err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&tz, "timezone", "", "IANA timezone (empty means UTC)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func userShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a user profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(ctx context.Context, d deps) error {
				u, err := d.Repo.GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func friendCmd() *cobra.Command {
	friend := &cobra.Command{Use: "friend", Short: "Manage friendships"}
	friend.AddCommand(friendAddCmd())
	friend.AddCommand(friendListCmd())
	return friend
}

func friendAddCmd() *cobra.Command {
	var friendID string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Link the acting user with a friend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if friendID == "" {
				return fmt.Errorf("--friend required")
			}
			userID := viper.GetString("user-id")
			if friendID == userID {
				return fmt.Errorf("cannot befriend yourself")
			}
			return withDeps(cmd.Context(), func(ctx context.Context, d deps) error {
				for _, id := range []string{userID, friendID} {
					if _, err := d.Repo.GetUser(ctx, id); err != nil {
						return fmt.Errorf("user %s: %w", id, err)
					}
				}
				return d.Repo.AddFriendship(ctx, userID, friendID, time.Now().UTC().Format(time.RFC3339))
			})
		},
	}
	cmd.Flags().StringVar(&friendID, "friend", "", "friend user id")
	return cmd
}

func friendListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List friends of the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(ctx context.Context, d deps) error {
				friends, err := d.Repo.ListFriends(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(friends)
				}
				t := newTable("ID", "NAME", "TIMEZONE")
				for _, u := range friends {
					t.AppendRow(table.Row{u.ID, u.DisplayName, u.Timezone})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
	return cmd
}

func pactCmd() *cobra.Command {
	pact := &cobra.Command{
		Use:   "pact",
		Short: "Manage pacts",
		Long:  "A pact pairs the acting user with a friend on one daily commitment. It starts pending, activates on acceptance, and from then on every finished day either advances or breaks the shared streak.",
	}
	pact.AddCommand(pactCreateCmd())
	pact.AddCommand(pactRespondCmd())
	pact.AddCommand(pactCancelCmd())
	pact.AddCommand(pactEndCmd())
	pact.AddCommand(pactShowCmd())
	pact.AddCommand(pactListCmd())
	pact.AddCommand(pactLedgerCmd())
	return pact
}

func pactCreateCmd() *cobra.Command {
	var partner, ctype, desc string
	var target int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Propose a pact to a friend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if partner == "" {
				return fmt.Errorf("--partner required")
			}
			return withDeps(cmd.Context(), func(ctx context.Context, d deps) error {
				p, err := d.Lifecycle.Create(ctx, lifecycle.CreateOptions{
					Initiator:         viper.GetString("user-id"),
					Partner:           partner,
					CommitmentType:    ctype,
					TargetValue:       target,
					CustomDescription: desc,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&partner, "partner", "", "friend to invite")
	cmd.Flags().StringVar(&ctype, "type", "daily_tasks", "commitment type (daily_tasks, focus_time, goal_progress, custom)")
	cmd.Flags().IntVar(&target, "target", 0, "daily target (0 uses the type default)")
	cmd.Flags().StringVar(&desc, "description", "", "description (required for custom commitments)")
	return cmd
}

func pactRespondCmd() *cobra.Command {
	var decline bool
	cmd := &cobra.Command{
		Use:   "respond <pact-id>",
		Short: "Accept or decline an invitation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(ctx context.Context, d deps) error {
				p, err := d.Lifecycle.Respond(ctx, args[0], viper.GetString("user-id"), !decline)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().BoolVar(&decline, "decline", false, "decline instead of accept")
	return cmd
}

func pactCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <pact-id>",
		Short: "Withdraw a pending invitation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(ctx context.Context, d deps) error {
				p, err := d.Lifecycle.Cancel(ctx, args[0], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func pactEndCmd() *cobra.Command {
	var mutual bool
	cmd := &cobra.Command{
		Use:   "end <pact-id>",
		Short: "End an active pact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(ctx context.Context, d deps) error {
				p, err := d.Lifecycle.End(ctx, args[0], viper.GetString("user-id"), mutual)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().BoolVar(&mutual, "mutual", false, "both participants agreed to end")
	return cmd
}

func pactShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <pact-id>",
		Short: "Show a pact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(ctx context.Context, d deps) error {
				p, err := d.Lifecycle.CurrentState(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func pactListCmd() *cobra.Command {
	var status string
	var mine bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(ctx context.Context, d deps) error {
				f := repo.PactFilters{Status: status, Limit: limit}
				if mine {
					f.ParticipantID = viper.GetString("user-id")
				}
				pacts, err := d.Repo.ListPacts(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(pacts)
				}
				t := newTable("ID", "A", "B", "TYPE", "TARGET", "STATUS", "STREAK", "BEST")
				for _, p := range pacts {
					t.AppendRow(table.Row{p.ID, p.ParticipantA, p.ParticipantB, p.CommitmentType, p.TargetValue, p.Status, p.StreakCount, p.LongestStreak})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().BoolVar(&mine, "mine", false, "only pacts of the acting user")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func pactLedgerCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "ledger <pact-id>",
		Short: "Show the pact's settled days",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(ctx context.Context, d deps) error {
				entries, err := d.Lifecycle.LedgerHistory(ctx, args[0], limit, "", "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				t := newTable("DATE", "PARTICIPANT", "PROGRESS", "MET")
				for _, e := range entries {
					t.AppendRow(table.Row{e.Date, e.ParticipantID, e.ProgressValue, e.MetTarget})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 30, "max rows")
	return cmd
}

func reportCmd() *cobra.Command {
	var ctype, date string
	var value int
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report daily progress for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				date = time.Now().Format("2006-01-02")
			}
			return withDeps(cmd.Context(), func(ctx context.Context, d deps) error {
				rep, err := d.Evaluator.Report(ctx, viper.GetString("user-id"), ctype, date, value)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	cmd.Flags().StringVar(&ctype, "type", "daily_tasks", "commitment type")
	cmd.Flags().StringVar(&date, "date", "", "local date YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&value, "value", 0, "progress value")
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one evaluation sweep over all active pacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(ctx context.Context, d deps) error {
				return d.Evaluator.Sweep(ctx)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var pactID, evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(ctx context.Context, d deps) error {
				events, err := d.Repo.LatestEvents(ctx, n, pactID, evtType)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&pactID, "pact", "", "pact id filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noSweeper bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server and evaluation sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			logger := logging.Setup(cfg.Logging.Level)
			r := repo.Repo{DB: conn}

			jwtSecret := cfg.Auth.JWTSecret
			if env := os.Getenv("PACTLINE_JWT_SECRET"); env != "" {
				jwtSecret = env
			}
			if jwtSecret == "" && !cfg.Auth.AllowLegacyUserHeader {
				return fmt.Errorf("jwt secret required: set auth.jwt_secret or PACTLINE_JWT_SECRET")
			}

			notifier := notify.Dispatcher(notify.Log{Logger: logger})
			if notify.StartWebhookDispatcher(cmd.Context(), r, cfg.Webhooks, logger) {
				logger.Info("webhook dispatcher running", "endpoints", len(cfg.Webhooks))
			}
			lc := lifecycle.New(conn, cfg, nil, notifier)
			ev := evaluate.New(conn, cfg, nil, notifier, logger)
			if !noSweeper {
				go ev.Run(cmd.Context())
			}

			handler, err := server.New(server.Config{
				Lifecycle: lc,
				Evaluator: ev,
				Repo:      r,
				BasePath:  basePath,
				Auth: server.AuthConfig{
					JWTSecret:             jwtSecret,
					AllowLegacyUserHeader: cfg.Auth.AllowLegacyUserHeader,
					Logger:                logger,
				},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Pactline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&noSweeper, "no-sweeper", false, "disable the background evaluation sweeper")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default pactline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

// --- helpers ---

func newTable(headers ...any) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(headers))
	return t
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
