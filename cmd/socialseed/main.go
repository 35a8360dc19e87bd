package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/daironpf/socialseed/internal/config"
	"github.com/daironpf/socialseed/internal/notify"
	"github.com/daironpf/socialseed/internal/seed"
	"github.com/daironpf/socialseed/internal/server"
	"github.com/daironpf/socialseed/internal/social"
	"github.com/daironpf/socialseed/pkg/models"
)

var (
	version   = "dev"
	cfgFile   string
	dbPath    string
	logFormat string
	logLevel  string
	logger    *slog.Logger
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "socialseed",
		Short: "SocialSeed social relationship engine",
		Long:  "Follow and friendship graph with exactly consistent denormalized counters.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseLogLevel(logLevel)
			if err != nil {
				return err
			}
			opts := &slog.HandlerOptions{Level: level}
			switch logFormat {
			case "json":
				logger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
			case "text":
				logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
			default:
				return fmt.Errorf("invalid --log-format %q (use: text, json)", logFormat)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./socialseed.yaml)")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides config)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log output format (text, json)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		serveCmd(),
		seedCmd(),
		usersCmd(),
		relCmd(),
		statsCmd(),
		versionCmd(),
		completionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStore opens the configured relationship store. When Neo4j is
// enabled but unreachable it falls back to SQLite so the CLI still
// works against the local file.
func openStore() (social.RelationshipStore, *config.Config) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.Error("loading config", "error", err)
		os.Exit(1)
	}

	if cfg.Storage.Neo4j.Enabled {
		store, err := social.NewNeo4jStore(
			cfg.Storage.Neo4j.URI,
			cfg.Storage.Neo4j.Username,
			cfg.Storage.Neo4j.Password,
			logger,
		)
		if err == nil {
			if err := store.Init(context.Background()); err != nil {
				logger.Error("initializing graph database", "error", err)
				os.Exit(1)
			}
			logger.Info("neo4j connected", "uri", cfg.Storage.Neo4j.URI)
			return store, cfg
		}
		logger.Warn("neo4j unavailable, using sqlite store", "error", err)
	}

	path := cfg.Storage.Path
	if dbPath != "" {
		path = dbPath
	}

	store, err := social.NewSQLiteStore(path)
	if err != nil {
		logger.Error("opening database", "error", err)
		os.Exit(1)
	}
	if err := store.Init(context.Background()); err != nil {
		logger.Error("initializing database", "error", err)
		os.Exit(1)
	}

	return store, cfg
}

// newGuard builds the guarded engine with notification fan-out wired
// to every committed mutation.
func newGuard(store social.RelationshipStore, cfg *config.Config) *social.Guard {
	guard := social.NewGuard(store, logger, cfg.Engine.RetryAttempts)

	var notifiers []notify.Notifier
	if cfg.Notify.Stdout.Enabled {
		notifiers = append(notifiers, notify.NewStdoutNotifier())
	}
	if cfg.Notify.Webhook.Enabled && cfg.Notify.Webhook.URL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.Notify.Webhook.URL, cfg.Notify.Webhook.Headers))
	}
	if len(notifiers) == 0 {
		return guard
	}

	multi := notify.NewMulti(notifiers...)
	guard.OnApplied(func(ctx context.Context, out social.Outcome) {
		event := notify.Event{
			EventType: string(out.Op),
			ActorID:   out.UserA,
			TargetID:  out.UserB,
			Message:   out.String(),
			Timestamp: time.Now(),
		}
		if err := multi.Send(ctx, event); err != nil {
			logger.Warn("notification delivery failed", "op", out.Op, "error", err)
		}
	})
	return guard
}

// --- serve ---

func serveCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relationship API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, cfg := openStore()
			guard := newGuard(store, cfg)

			if listen == "" {
				listen = cfg.Server.Listen
			}

			srv := server.New(store, guard, logger, listen, cfg.Server.APIToken, cfg.Server.CORSOrigin, cfg.Server.PageSize)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			// On-startup fixture load into an empty store
			if cfg.Seed.File != "" {
				count, err := store.CountUsers(ctx)
				if err != nil {
					logger.Error("checking store before seeding", "error", err)
				} else if count == 0 {
					loader := seed.NewLoader(store, guard, logger)
					if _, err := loader.LoadFile(ctx, cfg.Seed.File); err != nil {
						logger.Error("startup seeding failed", "file", cfg.Seed.File, "error", err)
					}
				}
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
				_ = store.Close()
			}()

			return srv.Start()
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config or :8080)")
	return cmd
}

// --- seed ---

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixture-file>",
		Short: "Load users and relationships from a YAML fixture file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg := openStore()
			defer store.Close() //nolint:errcheck // best-effort cleanup

			loader := seed.NewLoader(store, newGuard(store, cfg), logger)
			res, err := loader.LoadFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Seeded %d users, %d follows, %d requests, %d friendships\n",
				res.Users, res.Follows, res.Requests, res.Friendships)
			return nil
		},
	}
}

// --- users ---

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage users",
	}
	cmd.AddCommand(usersListCmd(), usersAddCmd(), usersShowCmd(), usersRmCmd())
	return cmd
}

func usersListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users with their relationship counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _ := openStore()
			defer store.Close() //nolint:errcheck // best-effort cleanup

			users, err := store.ListUsers(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tUSERNAME\tFOLLOWERS\tFOLLOWING\tFRIENDS\tPENDING")
			for _, u := range users {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\n",
					u.ID, u.UserName, u.FollowersCount, u.FollowingCount, u.FriendCount, u.FriendRequestCount)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum users to list")
	return cmd
}

func usersAddCmd() *cobra.Command {
	var email, fullName string

	cmd := &cobra.Command{
		Use:   "add <user-name>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _ := openStore()
			defer store.Close() //nolint:errcheck // best-effort cleanup

			user := models.SocialUser{
				ID:        uuid.NewString(),
				UserName:  args[0],
				Email:     email,
				FullName:  fullName,
				CreatedAt: time.Now().UTC(),
			}
			if err := store.CreateUser(cmd.Context(), user); err != nil {
				return err
			}

			fmt.Printf("Created user %s (%s)\n", user.UserName, user.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&fullName, "full-name", "", "display name")
	return cmd
}

func usersShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show a user with counters and relationship lists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _ := openStore()
			defer store.Close() //nolint:errcheck // best-effort cleanup
			ctx := cmd.Context()

			user, err := store.GetUser(ctx, args[0])
			if err != nil {
				return err
			}
			if user == nil {
				return fmt.Errorf("user %s not found", args[0])
			}

			fmt.Printf("User: %s\n", user.UserName)
			fmt.Printf("  ID:        %s\n", user.ID)
			fmt.Printf("  Email:     %s\n", user.Email)
			fmt.Printf("  Created:   %s\n", user.CreatedAt.Format("2006-01-02"))
			fmt.Printf("  Followers: %d\n", user.FollowersCount)
			fmt.Printf("  Following: %d\n", user.FollowingCount)
			fmt.Printf("  Friends:   %d\n", user.FriendCount)
			fmt.Printf("  Pending:   %d\n", user.FriendRequestCount)

			friends, _ := store.Friends(ctx, user.ID, 20)
			if len(friends) > 0 {
				fmt.Printf("\nFriends:\n")
				for _, f := range friends {
					fmt.Printf("  %s (%s)\n", f.UserName, f.ID)
				}
			}

			incoming, _ := store.IncomingRequests(ctx, user.ID, 20)
			if len(incoming) > 0 {
				fmt.Printf("\nPending requests from:\n")
				for _, f := range incoming {
					fmt.Printf("  %s (%s)\n", f.UserName, f.ID)
				}
			}

			return nil
		},
	}
}

func usersRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <user-id>",
		Short: "Delete a user and all incident relationships",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _ := openStore()
			defer store.Close() //nolint:errcheck // best-effort cleanup
			ctx := cmd.Context()

			exists, err := store.UserExists(ctx, args[0])
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("user %s not found", args[0])
			}

			if err := store.DeleteUser(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted user %s\n", args[0])
			return nil
		},
	}
}

// --- rel ---

func relCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rel",
		Short: "Mutate relationships between users",
	}
	cmd.AddCommand(
		relOpCmd("follow <user-id> <target-id>", "Follow a user",
			func(g *social.Guard, ctx context.Context, a, b string) social.Outcome { return g.Follow(ctx, a, b) }),
		relOpCmd("unfollow <user-id> <target-id>", "Stop following a user",
			func(g *social.Guard, ctx context.Context, a, b string) social.Outcome { return g.Unfollow(ctx, a, b) }),
		relOpCmd("request <user-id> <target-id>", "Send a friendship request",
			func(g *social.Guard, ctx context.Context, a, b string) social.Outcome {
				return g.RequestFriendship(ctx, a, b)
			}),
		relOpCmd("cancel <user-id> <target-id>", "Cancel a sent friendship request",
			func(g *social.Guard, ctx context.Context, a, b string) social.Outcome {
				return g.CancelRequest(ctx, a, b)
			}),
		relOpCmd("accept <user-id> <requester-id>", "Accept a received friendship request",
			func(g *social.Guard, ctx context.Context, a, b string) social.Outcome {
				return g.AcceptRequest(ctx, a, b)
			}),
		relOpCmd("unfriend <user-id> <friend-id>", "Delete a friendship",
			func(g *social.Guard, ctx context.Context, a, b string) social.Outcome {
				return g.DeleteFriendship(ctx, a, b)
			}),
	)
	return cmd
}

func relOpCmd(use, short string, op func(*social.Guard, context.Context, string, string) social.Outcome) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg := openStore()
			defer store.Close() //nolint:errcheck // best-effort cleanup

			out := op(newGuard(store, cfg), cmd.Context(), args[0], args[1])
			fmt.Println(out)
			if !out.OK() {
				return fmt.Errorf("operation not applied")
			}
			return nil
		},
	}
}

// --- stats ---

func statsCmd() *cobra.Command {
	var audit bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show graph statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _ := openStore()
			defer store.Close() //nolint:errcheck // best-effort cleanup
			ctx := cmd.Context()

			users, _ := store.CountUsers(ctx)
			follows, _ := store.CountEdges(ctx, models.EdgeFollows)
			requests, _ := store.CountEdges(ctx, models.EdgeFriendRequest)
			friendships, _ := store.CountEdges(ctx, models.EdgeFriendOf)

			fmt.Printf("Graph Summary\n")
			fmt.Printf("  Users:            %d\n", users)
			fmt.Printf("  Follow edges:     %d\n", follows)
			fmt.Printf("  Pending requests: %d\n", requests)
			fmt.Printf("  Friendships:      %d\n", friendships)

			if audit {
				auditor, ok := store.(social.CounterAuditor)
				if !ok {
					return fmt.Errorf("counter audit not supported by this store")
				}
				mismatches, err := auditor.CheckCounters(ctx)
				if err != nil {
					return err
				}
				if len(mismatches) == 0 {
					fmt.Printf("\nCounter audit: all counters consistent\n")
					return nil
				}
				fmt.Printf("\nCounter audit: %d mismatch(es)\n", len(mismatches))
				for _, m := range mismatches {
					fmt.Printf("  %s\n", m)
				}
				return fmt.Errorf("counter invariant violated")
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&audit, "audit", false, "verify stored counters against derived edge counts")
	return cmd
}

// --- version ---

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("socialseed %s\n", version)
		},
	}
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid --log-level %q (use: debug, info, warn, error)", s)
	}
}

func completionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for socialseed.

To load completions:

Bash:
  $ source <(socialseed completion bash)

Zsh:
  $ socialseed completion zsh > "${fpath[1]}/_socialseed"

Fish:
  $ socialseed completion fish | source

PowerShell:
  PS> socialseed completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
}
