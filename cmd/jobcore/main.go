// Command jobcore runs one orchestration instance: the HTTP submission API,
// the worker pool and the reclaimer. Every flag can also be set through a
// JOBCORE_* environment variable (e.g. -lease-duration as
// JOBCORE_LEASE_DURATION); flags win over the environment.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/RezaEskandarii/jobcore/analyzer"
	"github.com/RezaEskandarii/jobcore/jobmanager"
	"github.com/RezaEskandarii/jobcore/types/config"
)

type flags struct {
	instance    string
	storage     string
	queue       string
	analyzerURL string
	analyzerKey string
	logLevel    string
	logFormat   string

	lease          time.Duration
	sweep          time.Duration
	maxAttempts    int
	workers        int
	analyzeTimeout time.Duration
	grace          time.Duration
	orphanAge      time.Duration
	batchSize      int
	rateLimit      float64
	httpPort       uint

	postgresURL   string
	sqlitePath    string
	redisAddr     string
	redisPassword string
	redisDB       int
	mongoURI      string
	pebbleDir     string
	amqpURL       string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "jobcore:", err)
		os.Exit(1)
	}
}

func run() error {
	f, err := parseFlags(flag.CommandLine, os.Args[1:], os.LookupEnv)
	if err != nil {
		return err
	}

	logger, err := newLogger(f.logLevel, f.logFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	cfg, err := buildConfig(f)
	if err != nil {
		return err
	}
	if f.analyzerURL == "" {
		return errors.New("analyzer-url is required")
	}
	var analyzerOpts []analyzer.HTTPOption
	if f.analyzerKey != "" {
		analyzerOpts = append(analyzerOpts, analyzer.WithHeader("Authorization", "Bearer "+f.analyzerKey))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := jobmanager.New(ctx, cfg, analyzer.NewHTTPAnalyzer(f.analyzerURL, analyzerOpts...), jobmanager.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := core.Close(); err != nil {
			logger.Error("close", slog.String("error", err.Error()))
		}
	}()

	return core.Run(ctx)
}

func parseFlags(fs *flag.FlagSet, args []string, lookupEnv func(string) (string, bool)) (*flags, error) {
	f := &flags{}
	fs.StringVar(&f.instance, "instance", hostname(), "instance name, prefix of worker ids")
	fs.StringVar(&f.storage, "storage", "", "storage driver: memory|postgres|sqlite|redis|mongo|pebble (default: implied by the connection flags, else memory)")
	fs.StringVar(&f.queue, "queue", "", "queue driver: memory|redis|rabbitmq|postgres-notify (default: implied by -amqp-url, else memory)")
	fs.StringVar(&f.analyzerURL, "analyzer-url", "", "endpoint the payload is POSTed to for analysis")
	fs.StringVar(&f.analyzerKey, "analyzer-key", "", "bearer token sent to the analyzer")
	fs.StringVar(&f.logLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&f.logFormat, "log-format", "text", "text|json")

	fs.DurationVar(&f.lease, "lease-duration", config.DefaultLeaseDuration, "how long a claim stays exclusive")
	fs.DurationVar(&f.sweep, "sweep-interval", config.DefaultSweepInterval, "reclaimer period, below lease-duration")
	fs.IntVar(&f.maxAttempts, "max-attempts", config.DefaultMaxAttempts, "expired claims tolerated per job")
	fs.IntVar(&f.workers, "workers", config.DefaultWorkerCount, "concurrent workers")
	fs.DurationVar(&f.analyzeTimeout, "analyze-timeout", 0, "bound on one analysis (default lease-duration)")
	fs.DurationVar(&f.grace, "shutdown-grace", config.DefaultShutdownGracePeriod, "time in-flight analyses get on shutdown")
	fs.DurationVar(&f.orphanAge, "orphan-age", 0, "re-enqueue PENDING jobs untouched this long (0 means twice the lease, negative disables)")
	fs.IntVar(&f.batchSize, "sweep-batch", config.DefaultSweepBatchSize, "max orphans re-enqueued per sweep")
	fs.Float64Var(&f.rateLimit, "rate-limit", 0, "max analyses per second across the pool (0 unlimited)")
	fs.UintVar(&f.httpPort, "http-port", 8080, "submission API port (0 disables)")

	fs.StringVar(&f.postgresURL, "postgres-url", "", "PostgreSQL connection URL")
	fs.StringVar(&f.sqlitePath, "sqlite-path", "", "SQLite database file")
	fs.StringVar(&f.redisAddr, "redis-addr", "", "Redis address host:port")
	fs.StringVar(&f.redisPassword, "redis-password", "", "Redis password")
	fs.IntVar(&f.redisDB, "redis-db", 0, "Redis database number")
	fs.StringVar(&f.mongoURI, "mongo-uri", "", "MongoDB connection URI")
	fs.StringVar(&f.pebbleDir, "pebble-dir", "", "Pebble data directory")
	fs.StringVar(&f.amqpURL, "amqp-url", "", "RabbitMQ URL")

	// environment first so explicit flags override it
	var envErr error
	fs.VisitAll(func(fl *flag.Flag) {
		name := "JOBCORE_" + strings.ToUpper(strings.ReplaceAll(fl.Name, "-", "_"))
		if v, ok := lookupEnv(name); ok && envErr == nil {
			if err := fl.Value.Set(v); err != nil {
				envErr = fmt.Errorf("%s: %w", name, err)
			}
		}
	})
	if envErr != nil {
		return nil, envErr
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

func buildConfig(f *flags) (*config.JobCoreConfig, error) {
	opts := []config.Option{
		config.WithLeaseDuration(f.lease),
		config.WithSweepInterval(f.sweep),
		config.WithMaxAttempts(f.maxAttempts),
		config.WithWorkerCount(f.workers),
		config.WithShutdownGracePeriod(f.grace),
		config.WithSweepBatchSize(f.batchSize),
		config.WithAnalyzeRateLimit(f.rateLimit),
		config.WithHTTPPort(f.httpPort),
	}
	switch {
	case f.orphanAge > 0:
		opts = append(opts, config.WithOrphanRescue(f.orphanAge, f.batchSize))
	case f.orphanAge < 0:
		opts = append(opts, config.WithoutOrphanRescue())
	}
	if f.analyzeTimeout > 0 {
		opts = append(opts, config.WithAnalyzeTimeout(f.analyzeTimeout))
	}
	if f.postgresURL != "" {
		opts = append(opts, config.WithPostgresConfig(config.PostgresConfig{ConnectionUrl: f.postgresURL}))
	}
	if f.sqlitePath != "" {
		opts = append(opts, config.WithSQLiteConfig(config.SQLiteConfig{Path: f.sqlitePath}))
	}
	if f.redisAddr != "" {
		opts = append(opts, config.WithRedisConfig(config.RedisConfig{Address: f.redisAddr, Password: f.redisPassword, DB: f.redisDB}))
	}
	if f.mongoURI != "" {
		opts = append(opts, config.WithMongoConfig(config.MongoConfig{URI: f.mongoURI}))
	}
	if f.pebbleDir != "" {
		opts = append(opts, config.WithPebbleConfig(config.PebbleConfig{Dir: f.pebbleDir}))
	}
	if f.amqpURL != "" {
		opts = append(opts, config.WithRabbitMQConfig(config.RabbitMQConfig{URL: f.amqpURL}))
	}
	// explicit driver choices last, so they win over what the driver configs imply
	if f.storage != "" {
		storage, ok := config.ParseStorageDriver(f.storage)
		if !ok {
			return nil, fmt.Errorf("unknown storage driver %q", f.storage)
		}
		opts = append(opts, config.WithStorageDriver(storage))
	}
	if f.queue != "" {
		queue, ok := config.ParseQueueDriver(f.queue)
		if !ok {
			return nil, fmt.Errorf("unknown queue driver %q", f.queue)
		}
		opts = append(opts, config.WithQueueDriver(queue))
	}

	return config.NewJobCoreConfig(f.instance, opts...)
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log-level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func hostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "jobcore"
}
