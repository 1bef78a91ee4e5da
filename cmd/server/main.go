package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inventory-backend/internal/auth"
	"inventory-backend/internal/catalog"
	"inventory-backend/internal/config"
	"inventory-backend/internal/cyclecount"
	"inventory-backend/internal/database"
	"inventory-backend/internal/notify"
	"inventory-backend/internal/ratelimit"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
)

var (
	rootCmd = &cobra.Command{
		Use:   "inventory-server",
		Short: "Inventory backend with the cycle count workflow",
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE:  runMigrate,
	}
)

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *logrus.Logger) {
	cfg := config.Load(config.NewLogger("info"))
	return cfg, config.NewLogger(cfg.LogLevel)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logg := loadConfig()

	db, err := database.Open(postgres.Open(cfg.DatabaseDSN))
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}
	logg.Info("migration complete")
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logg := loadConfig()
	db := database.Init(cfg, logg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifiers := notify.Fanout{notify.NewLogNotifier(logg)}
	opts := []cyclecount.Option{cyclecount.WithABC(cfg.ABC)}

	var rdb *redis.Client
	if cfg.RedisAddress != "" {
		client, err := notify.Connect(ctx, cfg.RedisAddress)
		if err != nil {
			// counts keep working without redis, only events and the generate lock are lost
			logg.WithError(err).Warn("redis unavailable, continuing without it")
		} else {
			rdb = client
			notifiers = append(notifiers, notify.NewRedisNotifier(rdb, cfg.NotifyChannel))
			opts = append(opts, cyclecount.WithLocker(redislock.New(rdb)))
			logg.WithField("addr", cfg.RedisAddress).Info("connected to redis")
		}
	}
	opts = append(opts, cyclecount.WithNotifier(notifiers))

	svc := cyclecount.NewService(db, catalog.NewStore(db), auth.NewRoleAuthorizer(db), logg, opts...)

	ratelimit.Init(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer ratelimit.Reset()

	app := newApp(cfg, db, logg, svc)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logg.WithField("port", cfg.HTTPPort).Info("server listening")
		return app.Listen(":" + cfg.HTTPPort)
	})
	g.Go(func() error {
		<-gctx.Done()
		logg.Info("shutting down")
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	err := g.Wait()
	if rdb != nil {
		_ = rdb.Close()
	}
	if sqlDB, dbErr := db.DB(); dbErr == nil {
		_ = sqlDB.Close()
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
