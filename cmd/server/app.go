package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/bookpush/internal/config"
	"github.com/phrazzld/bookpush/internal/domain"
	"github.com/phrazzld/bookpush/internal/platform/fetch"
	"github.com/phrazzld/bookpush/internal/platform/mail"
	"github.com/phrazzld/bookpush/internal/platform/memory"
	"github.com/phrazzld/bookpush/internal/platform/payload"
	"github.com/phrazzld/bookpush/internal/platform/postgres"
	"github.com/phrazzld/bookpush/internal/platform/redisq"
	"github.com/phrazzld/bookpush/internal/platform/remote"
	"github.com/phrazzld/bookpush/internal/platform/render"
	"github.com/phrazzld/bookpush/internal/service"
	"github.com/phrazzld/bookpush/internal/service/auth"
	"github.com/phrazzld/bookpush/internal/store"
	"github.com/phrazzld/bookpush/internal/task"
)

// application holds the shared dependencies of the server and releases them
// on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	db    *sql.DB
	redis goredis.UniversalClient

	submissions store.SubmissionStore
	books       store.BookStore
	jobs        task.JobStore
	queue       task.Queue

	dispatcher  *task.Dispatcher
	coordinator *task.Coordinator

	submissionService service.SubmissionService
	jwtService        auth.JWTService
}

// newApplication builds every component from cfg and starts the dispatcher.
// Without database.url the stores live in memory; queue.backend selects the
// job queue.
func newApplication(ctx context.Context, cfg *config.Config, l *slog.Logger) (*application, error) {
	app := &application{config: cfg, logger: l}

	if err := app.setupStores(ctx); err != nil {
		app.close()
		return nil, err
	}
	if err := app.setupQueue(ctx); err != nil {
		app.close()
		return nil, err
	}

	decoder, err := payload.NewDecoder(cfg.Payload.SecretKey)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("failed to initialize payload decoder: %w", err)
	}

	if cfg.Auth.JWTSecret != "" {
		app.jwtService, err = auth.NewJWTService(cfg.Auth)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
		}
		l.Info("client token authentication enabled")
	}

	registry := app.newRegistry()
	app.dispatcher = task.NewDispatcher(registry, app.jobs, app.queue, task.DispatcherConfig{
		WorkerCount:           cfg.Task.WorkerCount,
		StuckJobAge:           cfg.Task.StuckJobAge,
		StuckJobCheckInterval: cfg.Task.StuckJobCheckInterval,
	}, l)

	app.coordinator = task.NewCoordinator(
		app.dispatcher,
		app.submissions,
		app.books,
		task.NewGate(app.books, app.submissions, l),
		render.HTMLRenderer{},
		render.NewCommandConverter(cfg.Converter, l),
		task.CoordinatorConfig{
			DataDir:          cfg.Storage.DataDir,
			OutDir:           cfg.Storage.OutDir,
			CoverDir:         cfg.Storage.CoverDir,
			CoverURLTemplate: cfg.Storage.CoverURLTemplate,
		},
		l,
	)

	app.submissionService, err = service.NewSubmissionService(app.submissions, decoder, app.coordinator, l)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("failed to create submission service: %w", err)
	}

	// Coordinator runs do not survive a restart; jobs do
	orphaned, err := app.coordinator.FailOrphaned(ctx, app.jobs)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("failed to sweep orphaned submissions: %w", err)
	}
	if orphaned > 0 {
		l.Warn("marked orphaned submissions as error", "count", orphaned)
	}

	if err := app.dispatcher.Start(); err != nil {
		app.close()
		return nil, fmt.Errorf("failed to start dispatcher: %w", err)
	}

	l.Info("application initialized",
		"worker_count", cfg.Task.WorkerCount,
		"max_attempts", cfg.Task.MaxAttempts)
	return app, nil
}

func (app *application) setupStores(ctx context.Context) error {
	if app.config.Database.URL == "" {
		app.logger.Warn("database.url not set, using in-memory stores")
		app.submissions = memory.NewSubmissionStore(app.logger)
		app.books = memory.NewBookStore(app.logger)
		app.jobs = task.NewMemoryJobStore()
		return nil
	}

	db, err := postgres.Open(ctx, app.config.Database.URL)
	if err != nil {
		return err
	}
	app.db = db
	if err := postgres.Migrate(ctx, db, "up", app.logger); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	app.submissions = postgres.NewSubmissionStore(db, app.logger)
	app.books = postgres.NewBookStore(db, app.logger)
	app.jobs = postgres.NewJobStore(db, app.logger)
	app.logger.Info("postgres stores initialized")
	return nil
}

func (app *application) setupQueue(ctx context.Context) error {
	qcfg := app.config.Queue
	if qcfg.Backend != "redis" {
		app.queue = task.NewMemoryQueue(app.config.Task.QueueSize, app.logger)
		return nil
	}

	client := goredis.NewUniversalClient(&goredis.UniversalOptions{Addrs: []string{qcfg.RedisAddr}})
	app.redis = client
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	app.queue = redisq.New(client, redisq.Config{
		KeyPrefix:    qcfg.RedisKeyPrefix,
		PollInterval: qcfg.PollInterval,
	}, app.logger)
	app.logger.Info("redis job queue initialized", "key_prefix", qcfg.RedisKeyPrefix)
	return nil
}

// newRegistry binds the three job kinds to their collaborators. Only notify
// jobs decide the status of a submission.
func (app *application) newRegistry() *task.Registry {
	cfg := app.config
	l := app.logger

	var opts []task.HookOption
	if cfg.Callback.URL != "" {
		opts = append(opts, task.WithTerminalCallback(app.reportStatus))
	}

	return task.NewRegistry(
		task.RemoteCallDefinition(
			remote.NewClient(cfg.Fetch.Timeout, cfg.Callback.SuccessStatus, l),
			task.RetryPolicyFromConfig(task.KindRemoteCall, cfg.Task),
			task.LogHooks(l),
		),
		task.AssetFetchDefinition(
			fetch.NewClient(cfg.Fetch, l),
			task.RetryPolicyFromConfig(task.KindAssetFetch, cfg.Task),
			task.LogHooks(l),
		),
		task.NotifyDefinition(
			mail.NewSMTPDeliverer(cfg.Mail, l),
			task.RetryPolicyFromConfig(task.KindNotify, cfg.Task),
			task.StatusHooks(app.submissions, l, opts...),
		),
	)
}

const reportSubmitWait = time.Second

// reportStatus submits a remote_call job that tells callback.url about a
// finished submission.
func (app *application) reportStatus(ctx context.Context, submissionID string, status domain.SubmissionStatus) {
	job, err := task.NewJob(task.KindRemoteCall, task.RemoteCallPayload{
		StatusTargetID: submissionID,
		URL:            app.config.Callback.URL,
		Form: map[string]string{
			"id":     submissionID,
			"status": string(status),
		},
	})
	if err != nil {
		app.logger.Error("failed to build status report", "submission_id", submissionID, "error", err)
		return
	}
	// Runs on a worker: do not wait long for room in a full queue. The job is
	// persisted either way.
	ctx, cancel := context.WithTimeout(ctx, reportSubmitWait)
	defer cancel()
	if _, err := app.dispatcher.Submit(ctx, job); err != nil {
		app.logger.Error("failed to submit status report",
			"submission_id", submissionID,
			"callback_host", callbackHost(app.config.Callback.URL),
			"error", err)
	}
}

func callbackHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

// close releases connections. The dispatcher must already be stopped.
func (app *application) close() {
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("failed to close redis client", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database connection", "error", err)
		}
	}
}
