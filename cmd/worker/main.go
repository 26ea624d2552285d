// Command worker runs the background reconciliation worker and the
// watch renewer. Without Redis the worker still sweeps open batches on
// a timer; it just cannot drain the webhook task queue.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/coupon-sync/internal/config"
	"github.com/ignite/coupon-sync/internal/mailer"
	"github.com/ignite/coupon-sync/internal/mailgun"
	"github.com/ignite/coupon-sync/internal/pkg/logger"
	"github.com/ignite/coupon-sync/internal/reconcile"
	"github.com/ignite/coupon-sync/internal/repository/postgres"
	"github.com/ignite/coupon-sync/internal/scheduler"
	"github.com/ignite/coupon-sync/internal/sheets"
	"github.com/ignite/coupon-sync/internal/worker"
)

// emptyQueue stands in for the Redis task queue when Redis is disabled.
type emptyQueue struct{}

func (emptyQueue) Due(context.Context) ([]scheduler.Task, error) { return nil, nil }

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		logger.SetLevel(logger.DEBUG)
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	db, err := openDB(cfg.Database)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	var rdb *redis.Client
	var tasks worker.TaskQueue = emptyQueue{}
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("redis: %v", err)
		}
		tasks = scheduler.New(rdb)
	} else {
		logger.Warn("redis disabled, running in sweep-only mode with advisory locks")
	}

	store := postgres.NewStore(db)
	sheetsClient := sheets.NewClient(cfg.Sheets)
	mailgunClient := mailgun.NewClient(cfg.Mailgun)

	orchestrator := reconcile.NewOrchestrator(
		store,
		sheetsClient,
		reconcile.NewEventFetcher(&reconcile.MailgunEventLog{Client: mailgunClient}),
		mailer.NewSender(cfg.Mailgun, mailgunClient),
		reconcile.Options{
			GracePeriod: cfg.Reconcile.GracePeriod(),
			SendCatchUp: true,
		},
	)

	reconciler := worker.NewReconcileWorker(db, store, orchestrator, tasks, cfg.Reconcile)
	if rdb != nil {
		reconciler.SetRedisClient(rdb)
	}
	if err := reconciler.Start(); err != nil {
		log.Fatalf("starting reconcile worker: %v", err)
	}

	renewer := worker.NewWatchRenewer(
		postgres.NewWatchStore(db),
		sheets.NewWatchService(cfg.Sheets, sheetsClient),
		cfg.Sheets,
	)
	if err := renewer.Start(); err != nil {
		log.Fatalf("starting watch renewer: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	renewer.Stop()
	reconciler.Stop()
}

func openDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return db, db.PingContext(ctx)
}
