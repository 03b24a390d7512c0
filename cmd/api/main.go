package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-todo-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-todo-go/internal/notify"
	notifyrepo "github.com/ovaphlow/pitchfork/service-todo-go/internal/notify/repo"
	"github.com/ovaphlow/pitchfork/service-todo-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-todo-go/internal/session"
	sessionrepo "github.com/ovaphlow/pitchfork/service-todo-go/internal/session/repo"
	"github.com/ovaphlow/pitchfork/service-todo-go/internal/setting"
	settingrepo "github.com/ovaphlow/pitchfork/service-todo-go/internal/setting/repo"
	"github.com/ovaphlow/pitchfork/service-todo-go/internal/task"
	taskrepo "github.com/ovaphlow/pitchfork/service-todo-go/internal/task/repo"
	"github.com/ovaphlow/pitchfork/service-todo-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-todo-go/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-todo-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-todo-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-todo-go/pkg/utilities"
)

const sessionPurgeInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// init logger
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	for _, w := range cfg.Warnings {
		sugar.Warn(w)
	}
	sugar.Infow("starting", "app", cfg.AppName, "env", cfg.AppEnv)

	if err := run(cfg, sugar); err != nil {
		sugar.Errorw("exiting", "err", err)
		_ = lg.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, sugar *zap.SugaredLogger) error {
	ctx := context.Background()

	// init db
	dbCfg, err := database.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("db config: %w", err)
	}
	sqlDB, err := database.Connect(dbCfg)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer sqlDB.Close()
	if err := database.Migrate(ctx, sqlDB, sugar); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	// wrap with sqlx for convenience in repos
	db := sqlx.NewDb(sqlDB, "postgres")

	ids, err := utilities.NewIDGenerator(cfg.SnowflakeNode)
	if err != nil {
		return fmt.Errorf("id generator: %w", err)
	}
	tokens, err := token.NewService(cfg.Secret)
	if err != nil {
		return fmt.Errorf("token service: %w", err)
	}

	// outgoing mail
	queue, closeQueue, err := newQueue(ctx, cfg, sugar)
	if err != nil {
		return err
	}
	defer closeQueue()
	sender, err := newSender(cfg, sugar)
	if err != nil {
		return err
	}
	renderer, err := notify.NewRenderer()
	if err != nil {
		return fmt.Errorf("templates: %w", err)
	}
	deliveries := notifyrepo.NewDeliveryRepo(db)
	dispatcher := notify.NewDispatcher(queue, renderer, cfg.AppName, sugar)
	worker := notify.NewWorker(queue, sender, deliveries, ids.Next, cfg.NotifyMaxAttempts, sugar, notify.WithRetryDelay(cfg.NotifyRetryDelay))

	// domain services
	users := userrepo.NewUserRepo(db)
	refresh := sessionrepo.NewRefreshRepo(db)
	userSvc := user.NewUserService(users, user.BcryptHasher{Cost: cfg.BcryptCost}, tokens, dispatcher, ids, user.Config{
		BaseURL:        cfg.BaseURL,
		Leeway:         cfg.TokenLeeway,
		ConfirmTTL:     cfg.ConfirmTokenTTL,
		ResetTTL:       cfg.ResetTokenTTL,
		ChangeEmailTTL: cfg.ChangeEmailTokenTTL,
		MaxFailed:      cfg.MaxFailedLogins,
		LockMinutes:    cfg.LockMinutes,
	}, sugar)
	sessionSvc := session.NewService(tokens, refresh, users, session.Config{
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
		Leeway:     cfg.TokenLeeway,
	})
	taskSvc := task.NewService(taskrepo.NewTaskRepo(db), ids)
	settingSvc := setting.NewService(settingrepo.NewRepo(db))

	if cfg.AdminEmail != "" {
		created, err := userSvc.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword)
		if err != nil {
			return fmt.Errorf("ensure admin: %w", err)
		}
		if created {
			sugar.Infow("created admin account", "email", cfg.AdminEmail)
		}
	}

	origins, err := cfg.OriginPatterns()
	if err != nil {
		return err
	}
	validate := utilities.NewValidator()
	handler := router.RegisterRoutes(router.Deps{
		Logger:     sugar,
		DB:         db,
		Auth:       sessionSvc,
		Users:      user.NewHandler(userSvc, sessionSvc, validate, sugar),
		Sessions:   session.NewHandler(sessionSvc, sugar),
		Tasks:      task.NewHandler(taskSvc, validate, sugar),
		Settings:   setting.NewHandler(settingSvc, sugar),
		Deliveries: notify.NewDeliveryHandler(deliveries, sugar),
		Origins:    origins,
	})

	// background work stops when bgCtx is cancelled
	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		if err := worker.RunPool(bgCtx, cfg.NotifyWorkers); err != nil {
			sugar.Errorw("mail workers stopped", "err", err)
		}
	}()
	go session.PurgeLoop(bgCtx, refresh, sessionPurgeInterval, sugar)

	// mount http server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		sugar.Infow("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	wait := gfshutdown.GracefulShutdown(ctx, cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"http": func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
		"mail-workers": func(ctx context.Context) error {
			stopBackground()
			select {
			case <-workersDone:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case code := <-wait:
		sugar.Infow("goodbye", "code", code)
		if code != 0 {
			return fmt.Errorf("shutdown finished with code %d", code)
		}
		return nil
	}
}

// newQueue prefers redis so queued mail survives restarts; without REDIS_URL the
// queue lives in memory.
func newQueue(ctx context.Context, cfg config.Config, sugar *zap.SugaredLogger) (notify.Queue, func(), error) {
	if cfg.RedisURL == "" {
		sugar.Info("REDIS_URL not set, using in-memory mail queue")
		return notify.NewMemoryQueue(cfg.NotifyQueueSize), func() {}, nil
	}
	client, err := notify.ConnectRedis(ctx, cfg.RedisURL, cfg.RedisRetryAttempts, cfg.RedisRetryInterval)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return notify.NewRedisQueue(client, cfg.NotifyQueueKey), func() { _ = client.Close() }, nil
}

func newSender(cfg config.Config, sugar *zap.SugaredLogger) (notify.Sender, error) {
	if cfg.MailDriver == config.MailDriverPostmark {
		s, err := notify.NewPostmarkSender(cfg.PostmarkServerToken, cfg.PostmarkAccountToken, cfg.SenderEmail, cfg.SupportEmail)
		if err != nil {
			return nil, fmt.Errorf("postmark: %w", err)
		}
		return s, nil
	}
	return notify.NewLogSender(sugar), nil
}
