package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Sternrassler/transfix-export/internal/config"
	"github.com/Sternrassler/transfix-export/internal/ui"
	"github.com/Sternrassler/transfix-export/pkg/archive"
	"github.com/Sternrassler/transfix-export/pkg/cache"
	"github.com/Sternrassler/transfix-export/pkg/client"
	"github.com/Sternrassler/transfix-export/pkg/enrich"
	"github.com/Sternrassler/transfix-export/pkg/enumerate"
	"github.com/Sternrassler/transfix-export/pkg/export"
	"github.com/Sternrassler/transfix-export/pkg/logging"
	"github.com/Sternrassler/transfix-export/pkg/pool"
	"github.com/Sternrassler/transfix-export/pkg/progress"
	"github.com/Sternrassler/transfix-export/pkg/ratelimit"
	"github.com/Sternrassler/transfix-export/pkg/store"
)

// logFileName receives the logs while the terminal view owns the screen.
const logFileName = "transfix-export.log"

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Export jobs into a zip archive",
		Long: `Walks the archive day by day, resolves job details in batches, downloads
every image, enriches it with metadata and streams it into a zip archive.

Press q (or send SIGINT) once to stop after the units in flight; the archive
is still written. Press it again to abort immediately.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configFile, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(viper.New(), cmd.Flags(), configFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			interactive := !cfg.NoTUI && isatty.IsTerminal(os.Stdout.Fd())
			closeLog, err := setupLogging(cfg, interactive)
			if err != nil {
				return err
			}
			defer closeLog()

			summary, path, err := runExport(cmd.Context(), cfg, interactive)
			printSummary(cmd.OutOrStdout(), summary, path)
			return err
		},
	}
	addRunFlags(cmd.Flags())
	return cmd
}

func addRunFlags(f *pflag.FlagSet) {
	d := config.Defaults()

	f.String("base-url", d.BaseURL, "archive API base URL")
	f.String("auth-cookie", "", "Cookie header sent to the archive API")
	f.String("user-agent", d.UserAgent, "User-Agent header")

	f.String("from", "", "first day to export (YYYY-MM-DD)")
	f.String("to", "", "last day to export (YYYY-MM-DD)")
	f.StringSlice("days", nil, "explicit days to export (YYYY-MM-DD, repeatable)")
	f.StringSlice("job-ids", nil, "export these jobs instead of walking days (repeatable)")
	f.StringSlice("day-filter", nil, "extra day listing query parameter as key=value, e.g. userId=<uuid> (repeatable)")
	f.StringSlice("job-types", nil, "only export jobs of these types")
	f.String("split", d.Split, "split composite images (none|all|grids)")
	f.Int("batch-size", d.BatchSize, "job ids per detail request")
	f.Bool("oldest-first", false, "walk days from oldest to newest")

	f.Int("concurrency", d.Concurrency, "parallel workers")
	f.Duration("unit-timeout", d.UnitTimeout, "time limit per exported file")

	f.StringP("output-dir", "o", d.OutputDir, "directory receiving the archive")
	f.String("archive-name", "", "archive name without .zip (default transfixExport_<date>_<ms>)")
	f.String("enrich-url", "", "metadata enrichment service endpoint (default: store payloads unchanged)")

	f.String("redis-addr", "", "Redis address for the record cache and shared rate limit state")
	f.Int("redis-db", 0, "Redis database")

	f.String("minio-endpoint", "", "upload the finished archive to this S3-compatible endpoint")
	f.String("minio-bucket", "", "upload bucket")
	f.String("minio-prefix", "", "object name prefix")
	f.String("minio-access-key", "", "upload access key")
	f.String("minio-secret-key", "", "upload secret key")
	f.Bool("minio-ssl", false, "use TLS for uploads")

	f.Bool("no-tui", false, "log progress instead of showing the terminal view")
	f.String("metrics-addr", "", "serve /metrics, /health, /ready and /status on this address")
}

func setupLogging(cfg config.Config, interactive bool) (func(), error) {
	lc := logging.DefaultConfig()
	lc.Level = logging.LogLevel(cfg.LogLevel)
	lc.Pretty = cfg.LogPretty

	if !interactive {
		logging.Setup(lc)
		return func() {}, nil
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(cfg.OutputDir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	lc.Output = f
	lc.Pretty = false
	logging.Setup(lc)
	return func() { f.Close() }, nil
}

// components are the wired dependencies of one run.
type components struct {
	redis    *redis.Client
	store    enumerate.RecordStore
	client   *client.Client
	enricher enrich.Enricher
	sink     *archive.ZipSink
}

func (c *components) close() {
	if c.client != nil {
		c.client.Close()
	}
	if c.redis != nil {
		c.redis.Close()
	}
}

func wire(ctx context.Context, cfg config.Config) (*components, error) {
	logger := logging.NewLogger("cli")
	c := &components{}

	var limitStore ratelimit.StateStore = ratelimit.NewMemoryStore()
	if cfg.RedisAddr != "" {
		c.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := c.redis.Ping(ctx).Err(); err != nil {
			c.close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")
		limitStore = ratelimit.NewRedisStore(c.redis)
	}
	limiter := ratelimit.NewTracker(limitStore, logging.NewLogger("ratelimit"))

	storeCfg := store.DefaultConfig(cfg.BaseURL, cfg.UserAgent)
	storeCfg.AuthCookie = cfg.AuthCookie
	storeCfg.RateLimiter = limiter
	httpStore, err := store.NewHTTPStore(storeCfg)
	if err != nil {
		c.close()
		return nil, err
	}
	c.store = httpStore
	if c.redis != nil {
		c.store = store.NewCachedStore(httpStore, cache.NewManager(c.redis, cache.DefaultConfig()))
	}

	clientCfg := client.DefaultConfig(cfg.UserAgent)
	clientCfg.AuthCookie = cfg.AuthCookie
	if u, err := url.Parse(cfg.BaseURL); err == nil && u.Hostname() != "" {
		clientCfg.CookieHosts = []string{u.Hostname()}
	}
	clientCfg.RateLimiter = limiter
	c.client, err = client.New(clientCfg)
	if err != nil {
		c.close()
		return nil, err
	}

	if cfg.EnrichURL != "" {
		c.enricher = enrich.NewHTTPEnricher(c.client, cfg.EnrichURL)
	} else {
		c.enricher = enrich.NewPassthrough()
	}

	var opts []archive.FileOption
	if cfg.MinioEndpoint != "" {
		up, err := archive.NewMinioUploader(
			archive.WithEndpoint(cfg.MinioEndpoint),
			archive.WithBucket(cfg.MinioBucket),
			archive.WithPrefix(cfg.MinioPrefix),
			archive.WithAccessKey(cfg.MinioAccessKey),
			archive.WithSecretKey(cfg.MinioSecretKey),
			archive.WithSSL(cfg.MinioSSL),
			archive.WithCreateBucket(true),
		)
		if err != nil {
			c.close()
			return nil, err
		}
		opts = append(opts, archive.WithUploader(up, 0))
	}

	name := cfg.ArchiveName
	if name == "" {
		name = archive.DefaultName(time.Now())
	}
	c.sink, err = archive.NewFileSink(cfg.OutputDir, name, opts...)
	if err != nil {
		c.close()
		return nil, err
	}
	return c, nil
}

// runExport performs one export and returns its summary and archive path.
func runExport(ctx context.Context, cfg config.Config, interactive bool) (export.Summary, string, error) {
	logger := logging.NewLogger("cli")
	logger.Debug().Interface("config", cfg.Redacted()).Msg("Configuration loaded")

	ctx, hardCancel := context.WithCancel(ctx)
	defer hardCancel()

	c, err := wire(ctx, cfg)
	if err != nil {
		return export.Summary{}, "", err
	}
	defer c.close()

	state := progress.NewState()

	poolCfg := pool.DefaultConfig()
	poolCfg.Concurrency = cfg.Concurrency
	poolCfg.UnitTimeout = cfg.UnitTimeout
	exporter := export.New(c.store, c.client, c.enricher, c.sink, state, export.Config{
		Enumerate: cfg.Enumerate(),
		Pool:      poolCfg,
	})
	// The run exists before anything can cancel it.
	if _, err := exporter.Prepare(); err != nil {
		return export.Summary{}, "", err
	}

	if cfg.MetricsAddr != "" {
		srvCtx, stopServer := context.WithCancel(context.Background())
		done := serve(srvCtx, cfg.MetricsAddr, newRouter(state, c.redis), logger)
		defer func() {
			stopServer()
			<-done
		}()
	}

	stopSignals := notifySignals(state, hardCancel, logger)
	defer stopSignals()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if interactive {
			if err := ui.Run(state, hardCancel); err != nil {
				logger.Error().Err(err).Msg("Terminal view failed")
			}
			return
		}
		ui.LogProgress(ctx, state, logging.NewLogger("progress"), 5*time.Second)
	}()

	summary, err := exporter.Run(ctx)
	wg.Wait()
	return summary, c.sink.Path(), err
}

func printSummary(w io.Writer, s export.Summary, path string) {
	if s.RunID == "" {
		return
	}
	fmt.Fprintf(w, "Run:       %s\n", s.RunID)
	fmt.Fprintf(w, "Status:    %s\n", s.Status)
	fmt.Fprintf(w, "Exported:  %d\n", s.Succeeded)
	if s.Failed > 0 {
		fmt.Fprintf(w, "Failed:    %d (see errors.jsonl in the archive)\n", s.Failed)
	}
	if s.Skipped > 0 {
		fmt.Fprintf(w, "Skipped:   %d\n", s.Skipped)
	}
	fmt.Fprintf(w, "Duration:  %s\n", s.Duration.Round(time.Millisecond))
	if path != "" {
		fmt.Fprintf(w, "Archive:   %s\n", path)
	}
	if s.Status == progress.StatusCanceled {
		fmt.Fprintln(w, "The export was cancelled; the archive holds the files exported so far.")
	}
}
