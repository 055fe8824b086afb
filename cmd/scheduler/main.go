package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/cleaning-scheduler/internal/application"
	"github.com/example/cleaning-scheduler/internal/calendar"
	"github.com/example/cleaning-scheduler/internal/config"
	httptransport "github.com/example/cleaning-scheduler/internal/http"
	"github.com/example/cleaning-scheduler/internal/lock"
	"github.com/example/cleaning-scheduler/internal/logging"
	"github.com/example/cleaning-scheduler/internal/notify"
	"github.com/example/cleaning-scheduler/internal/persistence/memory"
	"github.com/example/cleaning-scheduler/internal/persistence/sqlstore"
	"github.com/example/cleaning-scheduler/internal/recurrence"
	"github.com/example/cleaning-scheduler/internal/scheduler"
)

const serviceName = "cleaning-scheduler"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-token" {
		if err := hashToken(os.Stdout, os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

// hashToken prints the argon2id hash to put into CLEANING_CRON_TOKEN_HASH.
func hashToken(out io.Writer, args []string) error {
	if len(args) != 1 || args[0] == "" {
		return errors.New("usage: scheduler hash-token <token>")
	}
	hash, err := application.CreateTokenHash(args[0], application.DefaultArgon2idParams)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           app.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			zap.String("addr", server.Addr),
			zap.String("db_driver", cfg.DBDriver),
			zap.String("default_timezone", cfg.DefaultTimeZone),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("http server stopped")
	return nil
}

// app is the wired process: the HTTP handler plus everything that has to be
// closed on shutdown.
type app struct {
	handler http.Handler
	closers []func() error
	logger  *zap.Logger
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("failed to release resource", zap.Error(err))
		}
	}
}

type backend struct {
	repos  application.Repositories
	health func(ctx context.Context) error
	close  func() error
}

func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (backend, error) {
	var (
		pool *sqlstore.ConnectionPool
		err  error
	)
	switch cfg.DBDriver {
	case config.DriverMemory:
		logger.Warn("using in-memory storage; data is lost on restart")
		storage := memory.New()
		return backend{
			repos: application.Repositories{
				Objects:    storage,
				TechCards:  storage,
				Tasks:      storage,
				Checklists: storage,
				Tx:         storage,
			},
			health: storage.Ping,
			close:  storage.Close,
		}, nil
	case config.DriverPostgres:
		pool, err = sqlstore.OpenPostgres(ctx, cfg.DBDSN)
	default:
		pool, err = sqlstore.OpenSQLite(ctx, sqlstore.DefaultSQLiteConfig(cfg.DBDSN))
	}
	if err != nil {
		return backend{}, fmt.Errorf("open %s storage: %w", cfg.DBDriver, err)
	}

	store := sqlstore.NewStore(pool, sqlstore.DefaultRetryConfig())
	if err := store.Migrate(ctx, logger); err != nil {
		_ = store.Close()
		return backend{}, fmt.Errorf("apply migrations: %w", err)
	}
	return backend{
		repos: application.Repositories{
			Objects:    store.Objects(),
			TechCards:  store.TechCards(),
			Tasks:      store.Tasks(),
			Checklists: store.Checklists(),
			Tx:         store,
		},
		health: store.Ping,
		close:  store.Close,
	}, nil
}

// buildNotifier always logs events; a configured webhook receives them too.
func buildNotifier(cfg config.Config, logger *zap.Logger) (notify.Notifier, error) {
	logNotifier := notify.NewLogNotifier(logger)
	if cfg.WebhookURL == "" {
		return logNotifier, nil
	}
	webhook, err := notify.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookTimeout, logger)
	if err != nil {
		return nil, err
	}
	return notify.Multi{logNotifier, webhook}, nil
}

// buildLocker returns a Redis-backed lock when CLEANING_REDIS_ADDR is set so
// replicas do not generate the same checklists twice.
func buildLocker(ctx context.Context, cfg config.Config) (lock.Locker, func() error, error) {
	if cfg.RedisAddr == "" {
		return lock.NewLocalLocker(), func() error { return nil }, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	return lock.NewRedisLocker(client, serviceName+":"), client.Close, nil
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{logger: logger}

	store, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.close)

	adapter, err := calendar.NewAdapter(cfg.DefaultTimeZone, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("calendar adapter: %w", err)
	}
	generator := scheduler.NewGenerator(recurrence.NewEngine(0), adapter)

	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("notifier: %w", err)
	}

	locker, closeLocker, err := buildLocker(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closeLocker)

	now := time.Now
	tasks := application.NewTaskService(store.repos, generator, notifier, uuid.NewString, now, logger)
	calendarService := application.NewCalendarService(store.repos, generator, adapter, now, logger)
	checklists := application.NewChecklistGenerator(store.repos, generator, adapter, locker, cfg.AutogenLockTTL, notifier, uuid.NewString, now, logger)

	cron := application.NewCronAuthorizer(cfg.CronTokenHash)
	if !cron.Enabled() {
		logger.Info("cron token authentication disabled; auto-generation requires an ADMIN caller")
	}

	a.handler = httptransport.NewRouter(httptransport.RouterConfig{
		Calendar:   httptransport.NewCalendarHandler(calendarService, logger),
		Tasks:      httptransport.NewTaskHandler(tasks, logger),
		Checklists: httptransport.NewChecklistHandler(checklists, cron, logger),
		Health:     store.health,
		Logger:     logger,
		Middleware: []func(http.Handler) http.Handler{
			httptransport.Recover(logger),
			httptransport.RequestLogger(logger),
		},
	})
	return a, nil
}
