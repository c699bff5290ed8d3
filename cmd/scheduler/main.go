// Package main is the entry point for the quantix scheduler.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/limiquantix/quantix-sched/internal/config"
	"github.com/limiquantix/quantix-sched/internal/domain"
	"github.com/limiquantix/quantix-sched/internal/metrics"
	"github.com/limiquantix/quantix-sched/internal/repository/etcd"
	"github.com/limiquantix/quantix-sched/internal/repository/postgres"
	"github.com/limiquantix/quantix-sched/internal/repository/redis"
	"github.com/limiquantix/quantix-sched/internal/scheduler"
	"github.com/limiquantix/quantix-sched/internal/server"
	"github.com/limiquantix/quantix-sched/internal/server/middleware"
	"github.com/limiquantix/quantix-sched/internal/store"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// dialRetryInterval is the pause between attempts to reach an unavailable store at start.
const dialRetryInterval = 5 * time.Second

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "quantix-sched",
	Short: "Quantix scheduler - periodic VM placement",
	Long: `quantix-sched periodically fetches the pending VMs, hosts and users from the
resource store, matches every VM against the hosts that satisfy its requirements,
ranks them with the configured policies and dispatches each VM to its best host.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"quantix-sched version %s\nCommit: %s\nBuilt: %s\n",
		version, commit, buildDate,
	))

	rootCmd.PersistentFlags().String("config", "", "Path to config file")

	runCmd.Flags().String("log-level", "", "Override logging.level (debug, info, warn, error)")
	tokenCmd.Flags().String("subject", "admin", "Subject of the issued token")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkConfigCmd)
	rootCmd.AddCommand(tokenCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("quantix-sched")
		fmt.Println("Version:", version)
		fmt.Println("Commit:", commit)
		fmt.Println("Build Date:", buildDate)
	},
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		s := cfg.Scheduler
		fmt.Println("Configuration is valid")
		fmt.Printf("  Store:         %s (%s)\n", cfg.Store.Endpoint, cfg.Store.Protocol)
		fmt.Printf("  Interval:      %s\n", s.Interval)
		fmt.Printf("  Limits:        max_vms=%d max_dispatch=%d max_host=%d\n", s.MaxVMs, s.MaxDispatch, s.MaxHost)
		fmt.Printf("  Authorization: %s\n", s.Authorization)
		for _, p := range s.Policies {
			fmt.Printf("  Policy:        %s (weight %g)\n", p.Name, p.Weight)
		}
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the admin API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		subject, _ := cmd.Flags().GetString("subject")

		token, expiresAt, err := middleware.NewJWTManager(cfg.Auth).Generate(subject)
		if err != nil {
			return err
		}
		fmt.Println(token)
		fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.Format(time.RFC3339))
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Logging.Level = level
		}

		logger := setupLogger(cfg.Logging)
		defer logger.Sync()

		logger.Info("Starting quantix scheduler",
			zap.String("version", version),
			zap.String("commit", commit),
		)
		server.Version = version

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return run(ctx, cfg, logger)
	},
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	client, err := dialStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	opts := []server.ServerOption{server.WithStore(client)}
	var reporters []scheduler.Reporter

	// Leader election
	var leader scheduler.LeaderChecker
	if cfg.Etcd.Enabled {
		etcdClient, err := etcd.NewClient(cfg.Etcd, logger)
		if err != nil {
			return err
		}
		defer etcdClient.Close()

		l := etcdClient.CampaignForLeader(ctx, instanceID(), func(isLeader bool) {
			metrics.SetLeader(isLeader)
			if isLeader {
				logger.Info("This instance is now the leader")
			} else {
				logger.Info("This instance is now a follower")
			}
		})
		defer func() {
			resignCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.Resign(resignCtx); err != nil {
				logger.Warn("Failed to resign leadership", zap.Error(err))
			}
		}()

		leader = l
		reporters = append(reporters, l)
		opts = append(opts, server.WithEtcd(etcdClient))
	}

	if cfg.Redis.Enabled {
		cache, err := redis.NewCache(cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer cache.Close()

		reporters = append(reporters, cache)
		opts = append(opts, server.WithRedis(cache))
	}

	if cfg.Database.Enabled {
		db, err := postgres.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		journal := postgres.NewJournal(db, logger)
		reporters = append(reporters, journal)
		opts = append(opts, server.WithPostgreSQL(db), server.WithJournal(journal))
	}

	sched, err := scheduler.New(cfg.Scheduler, client, leader, logger)
	if err != nil {
		return err
	}

	cycles := server.NewCyclesHandler(0, logger)
	sched.AddReporter(cycles)
	for _, r := range reporters {
		sched.AddReporter(r)
	}

	errCh := make(chan error, 1)
	if cfg.Server.Enabled {
		srv := server.New(cfg, sched, cycles, logger, opts...)
		go func() {
			errCh <- srv.Run(ctx)
		}()
	}

	schedErr := make(chan error, 1)
	go func() {
		schedErr <- sched.Run(ctx)
	}()

	select {
	case err := <-schedErr:
		if err != nil {
			return err
		}
	case err := <-errCh:
		if err != nil {
			return err
		}
		// The server only returns cleanly on shutdown.
		if err := <-schedErr; err != nil {
			return err
		}
	}

	if cfg.Server.Enabled {
		// Wait for the admin server to drain.
		if err := <-errCh; err != nil {
			logger.Warn("Admin server shutdown failed", zap.Error(err))
		}
	}

	logger.Info("Goodbye!")
	return nil
}

// dialStore connects to the resource store. An unreachable store is retried until ctx is
// cancelled; rejected credentials and bad configuration are fatal.
func dialStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*store.Client, error) {
	for {
		client, err := store.Dial(ctx, cfg, logger)
		if err == nil {
			return client, nil
		}
		if errors.Is(err, domain.ErrAuth) || errors.Is(err, domain.ErrConfiguration) {
			return nil, fmt.Errorf("failed to connect to resource store: %w", err)
		}

		logger.Warn("Resource store unavailable, retrying",
			zap.String("endpoint", cfg.Endpoint),
			zap.Duration("retry_in", dialRetryInterval),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialRetryInterval):
		}
	}
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "quantix-sched"
	}
	return host + "-" + uuid.NewString()[:8]
}

// setupLogger configures the zap logger based on configuration.
func setupLogger(cfg config.LoggingConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	zapConfig.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapConfig.Build()
	if err != nil {
		panic("Failed to create logger: " + err.Error())
	}

	return logger
}
