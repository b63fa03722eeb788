package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"link-platform/internal/auth"
	"link-platform/internal/calls"
	"link-platform/internal/changefeed"
	"link-platform/internal/config"
	"link-platform/internal/conversations"
	"link-platform/internal/httpapi"
	"link-platform/internal/jobs"
	"link-platform/internal/media"
	"link-platform/internal/messages"
	"link-platform/internal/notify"
	"link-platform/internal/reporting"
	"link-platform/migrations"
	"link-platform/pkg/logger"
	"link-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "api")
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("api stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}
	mediaIssuer, err := media.NewIssuer(cfg.Media)
	if err != nil {
		return err
	}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := utils.ApplyMigrations(ctx, db, migrations.FS, log); err != nil {
		return err
	}

	pool, err := utils.OpenPgxPool(ctx, cfg.PostgresDSN(), 0, 0)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := jobs.Migrate(ctx, pool); err != nil {
		return err
	}

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
	if err != nil {
		return err
	}
	defer rdb.Close()

	feed := changefeed.NewRedisFeed(rdb, cfg.ChangeFeed.StreamMaxLen, log)

	subs := notify.NewPostgresSubscriptions(db)
	deliverer := notify.NewDeliverer(subs, notify.NewWebPushSender(cfg.Push), log)

	// The sweep job needs the call service and the call service needs the queue
	// as its dispatcher; the closure breaks the cycle.
	var callSvc *calls.Service
	queue, err := jobs.New(pool, deliverer, jobs.ExpirerFunc(func(ctx context.Context) (int, error) {
		return callSvc.ExpireRinging(ctx)
	}), jobs.Config{SweepInterval: cfg.Calls.SweepInterval}, log)
	if err != nil {
		return err
	}

	dispatcher := pushDispatcher(cfg, queue, deliverer, log)

	msgRepo := messages.NewPostgresRepo(db)
	convs := conversations.NewService(conversations.NewPostgresRepo(db), msgRepo, log)
	callSvc = calls.NewService(calls.NewPostgresRepo(db), convs, feed, dispatcher, log, calls.Options{
		RingTimeout: cfg.Calls.RingTimeout,
		SweepGrace:  cfg.Calls.SweepGrace,
	})

	h := httpapi.Handlers{
		Auth:          authManager,
		Calls:         callSvc,
		Messages:      messages.NewService(msgRepo, convs, feed, dispatcher, log),
		Conversations: convs,
		Reports:       reporting.NewService(callSvc),
		Media:         mediaIssuer,
		Push:          subs,
		DevLogin:      !cfg.IsProduction(),
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, h, auth.RequireAccessToken(authManager), healthCheck(db, rdb))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := queue.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return queue.Stop(stopCtx)
	})
	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		return nil
	})

	return g.Wait()
}

// pushDispatcher picks how notifications leave the request path.
func pushDispatcher(cfg config.Config, queue *jobs.Queue, deliverer *notify.Deliverer, log *slog.Logger) notify.Dispatcher {
	switch {
	case !cfg.PushEnabled():
		log.Warn("push not configured, notifications are discarded")
		return notify.Discard{Log: log}
	case cfg.Push.Delivery == config.PushDeliveryDirect:
		log.Info("push delivered directly, without retries")
		return notify.NewDirect(deliverer, log)
	default:
		return queue
	}
}
