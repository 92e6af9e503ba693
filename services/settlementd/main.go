package settlementd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"idlechain/observability"
	"idlechain/observability/logging"
	telemetry "idlechain/observability/otel"
	"idlechain/services/settlementd/config"
	"idlechain/services/settlementd/emission"
	"idlechain/services/settlementd/models"
	"idlechain/services/settlementd/query"
	"idlechain/services/settlementd/scheduler"
	"idlechain/services/settlementd/server"
	"idlechain/services/settlementd/settlement"
	"idlechain/services/settlementd/webhooks"
)

// Main initialises and runs the settlement daemon.
func Main() error {
	var (
		cfgPath string
		once    bool
	)
	flag.StringVar(&cfgPath, "config", "", "path to settlementd configuration")
	flag.BoolVar(&once, "once", false, "settle a single block and exit")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Setup("settlementd", cfg.Environment, logWriter(cfg.Log), logging.ParseLevel(cfg.Log.Level))
	logger.Info("configuration loaded",
		slog.String("listen", cfg.ListenAddress),
		slog.String("driver", cfg.Database.Driver),
		slog.String("dsn", logging.MaskDSN(cfg.Database.DSN)),
		slog.Duration("interval", cfg.Settlement.Interval.Duration),
		slog.Bool("once", once),
		logging.Secret("webhook_secret", cfg.Webhook.Secret))

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "settlementd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Enabled,
		Traces:      cfg.Telemetry.Enabled,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	if err := models.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	engine, err := buildEmission(cfg.Settlement)
	if err != nil {
		return err
	}

	settlerOpts := []settlement.Option{
		settlement.WithLogger(logger),
		settlement.WithTimeout(cfg.Settlement.Timeout.Duration),
		settlement.WithMetrics(observability.Settlement()),
	}
	var dispatcher *webhooks.Dispatcher
	if endpoint := strings.TrimSpace(cfg.Webhook.Endpoint); endpoint != "" {
		dispatcher, err = webhooks.NewDispatcher(endpoint, []byte(cfg.Webhook.Secret),
			webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, 0, 0),
			webhooks.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("init webhooks: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := dispatcher.Close(ctx); err != nil {
				logger.Warn("webhook dispatcher did not drain", slog.Any("error", err))
			}
		}()
		settlerOpts = append(settlerOpts, settlement.WithNotifier(dispatcher))
	}
	settler, err := settlement.NewSettler(db, engine, settlerOpts...)
	if err != nil {
		return err
	}

	lease, err := scheduler.NewLeaseLock(db, cfg.Settlement.LeaseName, cfg.Settlement.LeaseTTL.Duration)
	if err != nil {
		return err
	}
	sched, err := scheduler.NewScheduler(scheduler.Config{
		Pipeline:      settler,
		Interval:      cfg.Settlement.Interval.Duration,
		SettleOnStart: cfg.Settlement.SettleOnStart,
		Lock:          lease,
		Logger:        logger,
		Metrics:       observability.Settlement(),
	})
	if err != nil {
		return err
	}

	if once {
		outcome, err := sched.Tick(context.Background())
		logger.Info("single settlement finished", slog.String("outcome", string(outcome)))
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("database handle: %w", err)
	}
	api, err := server.New(server.Config{
		Reader: query.New(db),
		RateLimit: server.RateLimit{
			RequestsPerMinute: float64(cfg.RateLimit.RequestsPerMinute),
			Burst:             cfg.RateLimit.Burst,
		},
		Ready:  sqlDB.PingContext,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      api.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		sched.Start(stopCtx)
	}()

	errs := make(chan error, 1)
	go func() {
		logger.Info("settlementd listening", slog.String("addr", cfg.ListenAddress))
		errs <- httpServer.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-stopCtx.Done():
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		_ = httpServer.Close()
		if serveErr == nil {
			serveErr = err
		}
	}
	<-schedulerDone
	return serveErr
}

func logWriter(cfg config.LogConfig) io.Writer {
	if strings.TrimSpace(cfg.File) == "" {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	maxOpen := cfg.MaxOpenConns
	if cfg.Driver == "sqlite" {
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

func buildEmission(cfg config.SettlementConfig) (*emission.Engine, error) {
	var (
		schedule *emission.Schedule
		err      error
	)
	if path := strings.TrimSpace(cfg.ScheduleFile); path != "" {
		schedule, err = emission.LoadSchedule(path)
	} else {
		schedule, err = emission.Fixed(cfg.BlockReward)
	}
	if err != nil {
		return nil, fmt.Errorf("emission schedule: %w", err)
	}
	return emission.NewEngine(schedule, cfg.MaxSupply)
}
