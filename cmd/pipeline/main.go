package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/demand-monitor/internal/geo"
	"github.com/smukkama/demand-monitor/internal/pipeline"
	"github.com/smukkama/demand-monitor/internal/queue"
	"github.com/smukkama/demand-monitor/internal/schedule"
	"github.com/smukkama/demand-monitor/internal/store"
	"github.com/smukkama/demand-monitor/internal/store/postgres"
	"github.com/smukkama/demand-monitor/internal/store/sqlite"
	"github.com/smukkama/demand-monitor/pkg/config"
)

const commandSchedule = "schedule"

const usage = `Usage: pipeline <command> [-reference YYYY-MM-DD]

Commands:
  run           build series and scorecards, diff restrictions, publish changes
  restrictions  diff restrictions and publish changes only
  schedule      keep running: restrictions on an interval, run once a day
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(2)
	}
	command := os.Args[1]
	switch command {
	case pipeline.CommandRun, pipeline.CommandRestrictions, commandSchedule:
	default:
		fmt.Printf("Unknown command %q\n\n%s", command, usage)
		os.Exit(2)
	}
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	reference := fs.String("reference", "", "reference date (default today, UTC)")
	_ = fs.Parse(os.Args[2:])

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	refDay, err := pipeline.ReferenceDay(*reference, time.Now())
	if err != nil {
		log.Fatalf("%v", err)
	}

	fmt.Printf("Starting Demand Monitor pipeline (%s, reference %s)...\n", command, refDay.Format("2006-01-02"))

	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	opts := pipeline.Options{Store: st, CacheVersion: cfg.Redis.GeoCacheVersion}
	if cfg.Redis.GeoCacheTTL > 0 {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		opts.Cache = geo.NewCache(client, cfg.Redis.GeoCacheTTL)
		fmt.Println("Reference cache enabled")
	}
	if cfg.Kafka.Enabled {
		publisher := queue.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicChanges, cfg.Kafka.TopicRuns)
		defer publisher.Close()
		opts.Publisher = publisher
		fmt.Println("Kafka publisher initialized")
	}

	runner, err := pipeline.New(cfg.Pipeline, opts)
	if err != nil {
		log.Fatalf("Invalid pipeline configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if command == commandSchedule {
		runSchedule(ctx, runner, cfg.Schedule)
		return
	}

	var res *pipeline.Result
	if command == pipeline.CommandRun {
		res, err = runner.Run(ctx, refDay)
	} else {
		res, err = runner.Restrictions(ctx, refDay)
	}
	if err != nil {
		log.Fatalf("Pipeline %s failed: %v", command, err)
	}

	fmt.Printf("\n✓ Run %s succeeded\n", res.RunID)
	for _, path := range res.Outputs {
		fmt.Printf("✓ Wrote %s\n", path)
	}
	fmt.Printf("✓ %d change digest(s), %d warning(s)\n", len(res.Digests), len(res.Warnings))
}

func runSchedule(ctx context.Context, runner *pipeline.Runner, cfg config.ScheduleConfig) {
	s := schedule.New()
	now := time.Now()
	task := func(name string, fn func(context.Context, time.Time) (*pipeline.Result, error)) func(context.Context) {
		return func(ctx context.Context) {
			res, err := fn(ctx, time.Now())
			if err != nil {
				log.Printf("Scheduled %s run failed: %v\n", name, err)
				return
			}
			fmt.Printf("✓ Scheduled %s run %s succeeded (%d change digest(s))\n", name, res.RunID, len(res.Digests))
		}
	}
	if err := s.Every(pipeline.CommandRestrictions, now, cfg.RestrictionsEvery, task(pipeline.CommandRestrictions, runner.Restrictions)); err != nil {
		log.Fatalf("Failed to schedule restrictions: %v", err)
	}
	if err := s.Every(pipeline.CommandRun, schedule.NextDaily(now, cfg.RunHour), 24*time.Hour, task(pipeline.CommandRun, runner.Run)); err != nil {
		log.Fatalf("Failed to schedule run: %v", err)
	}

	fmt.Println("\n✓ Scheduler is running")
	fmt.Printf("✓ Restrictions every %s, full run daily at %02d:00 UTC\n", cfg.RestrictionsEvery, cfg.RunHour)
	fmt.Println("✓ Press Ctrl+C to stop")

	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Scheduler stopped: %v", err)
	}
	fmt.Println("\nShutting down gracefully...")
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		db, err := postgres.Connect(cfg.Database.ConnectionString())
		if err != nil {
			return nil, err
		}
		if err := db.RunMigrations(cfg.Database.MigrationsDir); err != nil {
			db.Close()
			return nil, err
		}
		fmt.Println("Connected to PostgreSQL")
		return postgres.New(db), nil
	case config.StorageSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
			return nil, err
		}
		s, err := sqlite.New(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		fmt.Printf("Using SQLite store at %s\n", cfg.Storage.SQLitePath)
		return s, nil
	default:
		return &store.NopStore{}, nil
	}
}
