// Feedbackd serves employee feedback analytics over HTTP: correlation and
// feature importance training, sentiment trends and dashboard snapshots.
//
// Configuration comes from built-in defaults, an optional YAML file and
// environment variables. See internal/config for the keys.
//
// Usage:
//
//	# Start with defaults (sqlite under ~/.local/share/feedbackd)
//	feedbackd
//
//	# Use an explicit config file and override the port
//	SERVER_HTTP_PORT=9090 feedbackd -config /etc/feedbackd/config.yaml
//
//	# Print version information
//	feedbackd version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedbackd/internal/config"
	"github.com/fyrsmithlabs/feedbackd/internal/correlation"
	"github.com/fyrsmithlabs/feedbackd/internal/dashboard"
	"github.com/fyrsmithlabs/feedbackd/internal/events"
	httpserver "github.com/fyrsmithlabs/feedbackd/internal/http"
	"github.com/fyrsmithlabs/feedbackd/internal/importance"
	"github.com/fyrsmithlabs/feedbackd/internal/logging"
	"github.com/fyrsmithlabs/feedbackd/internal/sentiment"
	"github.com/fyrsmithlabs/feedbackd/internal/services"
	"github.com/fyrsmithlabs/feedbackd/internal/store"
	"github.com/fyrsmithlabs/feedbackd/internal/telemetry"
	"github.com/fyrsmithlabs/feedbackd/internal/training"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default ~/.config/feedbackd/config.yaml)")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  feedbackd [-config path]   Start the feedbackd server\n")
			fmt.Fprintf(os.Stderr, "  feedbackd version          Show version information\n")
			os.Exit(1)
		}
	}

	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("feedbackd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires every component from cfg, serves until ctx is cancelled, then
// shuts down in reverse order.
func run(ctx context.Context, cfg *config.Config) error {
	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, cfg.Logging.OTEL))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zl := logger.Underlying()

	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Errors("problems", h.Problems))
	}

	logger.Info(ctx, "starting feedbackd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("events", cfg.Events.Enabled),
		zap.Bool("telemetry", tel.IsEnabled()))

	deps, err := initDependencies(ctx, cfg, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	orch, err := initTraining(ctx, cfg, deps, tel, zl)
	if err != nil {
		return err
	}
	// Let an in-flight run persist before the store closes.
	defer orch.Wait()

	if cfg.Training.Schedule != "" {
		sched, err := training.NewScheduler(cfg.Training.Schedule, orch, zl.Named("scheduler"))
		if err != nil {
			return fmt.Errorf("failed to create training scheduler: %w", err)
		}
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start training scheduler: %w", err)
		}
		defer func() {
			_ = sched.Stop()
		}()
		logger.Info(ctx, "training scheduler started",
			zap.String("schedule", cfg.Training.Schedule),
			zap.Time("next", sched.Next()))
	}

	builder, err := dashboard.NewBuilder(deps.classifier, zl.Named("dashboard"),
		dashboard.WithOptions(dashboardOptions(cfg.Dashboard)))
	if err != nil {
		return fmt.Errorf("failed to create dashboard builder: %w", err)
	}

	svc, err := services.New(services.Options{
		Records:   deps.store,
		Trainer:   orch,
		Dashboard: builder,
	}, zl)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	srv, err := httpserver.NewServer(svc, zl.Named("http"), &httpserver.Config{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		TrainRatePerMinute: cfg.Server.TrainRatePerMinute,
		MaxImportBytes:     cfg.Server.MaxImportBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	lc, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(lc, tel.LoggerProvider())
}

// dependencies holds the infrastructure that outlives a single request.
type dependencies struct {
	store      store.Store
	classifier *sentiment.CachingClassifier
	watcher    *sentiment.LexiconWatcher
	natsConn   *nats.Conn
	publisher  *events.Publisher
	logger     *zap.Logger
}

// Close releases resources in reverse order of acquisition.
func (d *dependencies) Close() {
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.natsConn != nil {
		if err := d.natsConn.Drain(); err != nil {
			d.natsConn.Close()
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("failed to close store", zap.Error(err))
		}
	}
}

func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	d := &dependencies{logger: logger}

	if cfg.Store.Driver == config.DriverSQLite {
		if err := config.EnsureDataDir(cfg.Store.Path); err != nil {
			return nil, err
		}
	}
	st, err := store.Open(cfg.Store.Driver, cfg.Store.Path, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	d.store = st
	logger.Info("store opened", zap.String("driver", cfg.Store.Driver), zap.String("path", cfg.Store.Path))

	if err := initSentiment(ctx, cfg.Sentiment, d); err != nil {
		d.Close()
		return nil, err
	}

	if cfg.Events.Enabled {
		nc, err := nats.Connect(cfg.Events.NATSURL.Value(),
			nats.Name("feedbackd"),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
		)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		d.natsConn = nc

		pub, err := events.NewPublisher(nc, logger.Named("events"), events.WithSubjectPrefix(cfg.Events.SubjectPrefix))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to create event publisher: %w", err)
		}
		d.publisher = pub
		logger.Info("training events enabled", zap.String("subject_prefix", cfg.Events.SubjectPrefix))
	}

	return d, nil
}

func initSentiment(ctx context.Context, cfg config.SentimentConfig, d *dependencies) error {
	lex := sentiment.DefaultLexicon()
	if cfg.LexiconPath != "" {
		loaded, err := sentiment.LoadLexicon(cfg.LexiconPath)
		if err != nil {
			return fmt.Errorf("failed to load lexicon: %w", err)
		}
		lex = loaded
	}
	base := sentiment.NewLexiconClassifier(lex)

	cc, err := sentiment.NewCachingClassifier(base, cfg.CacheSize, d.logger.Named("sentiment"))
	if err != nil {
		return fmt.Errorf("failed to create classifier: %w", err)
	}
	d.classifier = cc

	if cfg.WatchLexicon {
		w, err := sentiment.NewLexiconWatcher(cfg.LexiconPath, base, d.logger.Named("lexicon"), cc.Purge)
		if err != nil {
			return fmt.Errorf("failed to create lexicon watcher: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			w.Stop()
			return err
		}
		d.watcher = w
	}
	return nil
}

func initTraining(ctx context.Context, cfg *config.Config, deps *dependencies, tel *telemetry.Telemetry, logger *zap.Logger) (*training.Orchestrator, error) {
	t := cfg.Training
	corr, err := correlation.NewEngine(logger.Named("correlation"),
		correlation.WithMinSamples(t.MinSamples),
		correlation.WithTertile(t.Tertile),
		correlation.WithMaxKeywords(t.MaxKeywords),
		correlation.WithMinTopicTerms(t.MinTopicTerms),
		correlation.WithTermFloor(t.TermFrequencyFloor),
		correlation.WithCommonSections(t.CommonSections),
		correlation.WithSeedBoost(t.SeedBoost),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create correlation engine: %w", err)
	}
	imp, err := importance.NewEngine(corr, logger.Named("importance"))
	if err != nil {
		return nil, fmt.Errorf("failed to create importance engine: %w", err)
	}

	td := training.Deps{
		Records:      deps.store,
		Results:      deps.store,
		Correlations: corr,
		Importances:  imp,
	}
	if deps.publisher != nil {
		td.Notifier = deps.publisher
	}

	orch, err := training.NewOrchestrator(td, logger.Named("training"),
		training.WithPhaseTimeout(t.PhaseTimeout.Duration()),
		training.WithTracer(tel.Tracer("github.com/fyrsmithlabs/feedbackd/internal/training")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create training orchestrator: %w", err)
	}
	if err := orch.Restore(ctx); err != nil {
		logger.Warn("failed to restore previous training results", zap.Error(err))
	}
	return orch, nil
}

func dashboardOptions(c config.DashboardConfig) dashboard.Options {
	opts := dashboard.DefaultOptions()
	opts.HighBar = c.HighBar
	opts.LowBar = c.LowBar
	opts.CorrelationThreshold = c.CorrelationInsightThreshold
	opts.MaxInsights = c.MaxInsights
	opts.Forecast.Window = time.Duration(c.ForecastDays) * 24 * time.Hour
	opts.Forecast.Horizon = c.ForecastHorizon
	return opts
}
