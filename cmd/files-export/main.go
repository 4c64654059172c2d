// Command files-export lists every file of a storage project and writes the
// listing to a delimited text file.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/storage-files-export/internal/config"
	"github.com/Sternrassler/storage-files-export/pkg/client"
	"github.com/Sternrassler/storage-files-export/pkg/export"
	"github.com/Sternrassler/storage-files-export/pkg/logging"
	"github.com/Sternrassler/storage-files-export/pkg/metrics"
	"github.com/Sternrassler/storage-files-export/pkg/pagination"
	"github.com/alecthomas/kingpin/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			log.Error().Err(err).Msg("Export failed")
		}
		stop()
		os.Exit(1)
	}
}

// errUsage marks command line errors already reported by kingpin.
var errUsage = errors.New("usage error")

// flags holds command line values; zero values mean "not given".
type flags struct {
	configFile  string
	target      string
	limit       int
	separator   string
	output      string
	credentials string
	timeout     time.Duration
	rps         float64
	userAgent   string
	redisAddr   string
	redisDB     int
	cacheTTL    time.Duration
	pushGateway string
	logLevel    string

	insecure, insecureSet   bool
	silent, silentSet       bool
	logPretty, logPrettySet bool
}

func parseFlags(args []string, stderr io.Writer) (*flags, error) {
	f := &flags{}

	app := kingpin.New("files-export", "Export the storage files listing to a delimited text file.")
	app.UsageWriter(stderr)
	app.ErrorWriter(stderr)
	app.HelpFlag.Short('h')

	app.Flag("config.file", "YAML configuration file.").Envar("FILES_EXPORT_CONFIG").StringVar(&f.configFile)
	app.Flag("url", "Listing endpoint URL.").Envar("FILES_EXPORT_URL").StringVar(&f.target)
	app.Flag("limit", "Page size (items per request).").Envar("FILES_EXPORT_LIMIT").IntVar(&f.limit)
	app.Flag("sep", `Output field separator; "tab" or "\t" for a tab.`).StringVar(&f.separator)
	app.Flag("output", "Output file.").Short('o').StringVar(&f.output)
	app.Flag("credentials", "JSON file with request headers.").Envar("FILES_EXPORT_CREDENTIALS").StringVar(&f.credentials)
	app.Flag("insecure", "Skip TLS certificate verification.").IsSetByUser(&f.insecureSet).BoolVar(&f.insecure)
	app.Flag("silent", "Do not warn when TLS verification is skipped.").IsSetByUser(&f.silentSet).BoolVar(&f.silent)
	app.Flag("timeout", "Per-request timeout.").DurationVar(&f.timeout)
	app.Flag("rps", "Maximum requests per second (0 = unlimited).").Float64Var(&f.rps)
	app.Flag("user-agent", "User-Agent header.").StringVar(&f.userAgent)
	app.Flag("redis.addr", "Redis address for the page cache (host:port).").Envar("FILES_EXPORT_REDIS_ADDR").StringVar(&f.redisAddr)
	app.Flag("redis.db", "Redis database number.").IntVar(&f.redisDB)
	app.Flag("cache.ttl", "Cache lifetime of pages without an Expires header.").DurationVar(&f.cacheTTL)
	app.Flag("push.gateway", "Pushgateway URL for run metrics.").Envar("FILES_EXPORT_PUSHGATEWAY").StringVar(&f.pushGateway)
	app.Flag("log.level", "Log level (debug, info, warn, error).").StringVar(&f.logLevel)
	app.Flag("log.pretty", "Human readable logs.").IsSetByUser(&f.logPrettySet).BoolVar(&f.logPretty)

	if _, err := app.Parse(args); err != nil {
		app.Errorf("%s, try --help", err)
		return nil, errUsage
	}
	return f, nil
}

// resolve builds the effective configuration: defaults, then the config
// file, then command line flags.
func (f *flags) resolve() (config.Config, error) {
	cfg := config.Default()
	if f.configFile != "" {
		var err error
		if cfg, err = config.Load(f.configFile); err != nil {
			return cfg, err
		}
	}

	if f.target != "" {
		cfg.Target = f.target
	}
	if f.limit != 0 {
		cfg.PageSize = f.limit
	}
	if f.separator != "" {
		cfg.Separator = f.separator
	}
	if cfg.Separator == `\t` || cfg.Separator == "tab" {
		cfg.Separator = "\t"
	}
	if f.output != "" {
		cfg.Output = f.output
	}
	if f.credentials != "" {
		cfg.Credentials = f.credentials
	}
	if f.insecureSet {
		cfg.Insecure = f.insecure
	}
	if f.silentSet {
		cfg.Silent = f.silent
	}
	if f.timeout != 0 {
		cfg.Timeout = f.timeout
	}
	if f.rps != 0 {
		cfg.RequestsPerSecond = f.rps
	}
	if f.userAgent != "" {
		cfg.UserAgent = f.userAgent
	}
	if f.redisAddr != "" {
		cfg.Redis.Addr = f.redisAddr
	}
	if f.redisDB != 0 {
		cfg.Redis.DB = f.redisDB
	}
	if f.cacheTTL != 0 {
		cfg.CacheTTL = f.cacheTTL
	}
	if f.pushGateway != "" {
		cfg.PushGateway = f.pushGateway
	}
	if f.logLevel != "" {
		level, err := logging.ParseLevel(f.logLevel)
		if err != nil {
			return cfg, fmt.Errorf("invalid --log.level: %w", err)
		}
		cfg.Log.Level = level
	}
	if f.logPrettySet {
		cfg.Log.Pretty = f.logPretty
	}

	return cfg, cfg.Validate()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	f, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := f.resolve()
	if err != nil {
		return err
	}

	cfg.Log.Output = stderr
	rootLogger := logging.Setup(cfg.Log)
	logger := logging.NewLogger("files-export")

	if cfg.PushGateway != "" {
		defer func() {
			pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if pushErr := metrics.Push(pushCtx, cfg.PushGateway, metrics.DefaultJob, nil); pushErr != nil {
				logger.Warn().Err(pushErr).Msg("Failed to push metrics")
				return
			}
			logger.Info().Str("gateway", cfg.PushGateway).Msg("Metrics pushed")
		}()
	}

	headers, err := config.LoadCredentials(cfg.Credentials)
	if err != nil {
		return err
	}

	clientCfg := client.DefaultConfig(headers)
	clientCfg.UserAgent = cfg.UserAgent
	clientCfg.Timeout = cfg.Timeout
	clientCfg.InsecureSkipVerify = cfg.Insecure
	clientCfg.Silent = cfg.Silent
	clientCfg.RequestsPerSecond = cfg.RequestsPerSecond
	clientCfg.CacheTTL = cfg.CacheTTL

	if cfg.Redis.Addr != "" {
		redisClient := connectRedis(ctx, cfg.Redis, logger)
		if redisClient != nil {
			defer redisClient.Close()
			clientCfg.Redis = redisClient
		}
	}

	apiClient, err := client.New(clientCfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer apiClient.Close()

	paginator := pagination.NewPaginator(apiClient, rootLogger)
	items, err := paginator.FetchAll(ctx, cfg.Target, cfg.PageSize)
	if err != nil {
		return err
	}

	rows, err := export.Persist(items, cfg.Separator, cfg.Output)
	if err != nil {
		return fmt.Errorf("store result: %w", err)
	}

	logger.Info().
		Str("output", cfg.Output).
		Int("rows", rows).
		Msg("Output written")
	fmt.Fprintf(stdout, "Successfully stored %s with %d rows.\n", cfg.Output, rows)

	return nil
}

// connectRedis returns nil when Redis is unreachable; the export then runs
// without the page cache.
func connectRedis(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) *redis.Client {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("Redis unavailable - page cache disabled")
		redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Addr).Msg("Page cache enabled")
	return redisClient
}
