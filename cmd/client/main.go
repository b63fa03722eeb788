package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"link-platform/internal/apiclient"
	"link-platform/internal/changefeed"
	"link-platform/pkg/logger"
	"link-platform/pkg/utils"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var flags struct {
	api           string
	redisAddr     string
	redisPassword string
	user          string
	token         string
	refreshToken  string
	env           string
}

var rootCmd = &cobra.Command{
	Use:           "link-client",
	Short:         "Terminal client for calls and chat",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.api, "api", envOr("LINK_API", "http://localhost:8080"), "API base URL")
	pf.StringVar(&flags.redisAddr, "redis", envOr("LINK_REDIS", "localhost:6379"), "change feed redis address")
	pf.StringVar(&flags.redisPassword, "redis-password", os.Getenv("LINK_REDIS_PASSWORD"), "change feed redis password")
	pf.StringVar(&flags.user, "user", os.Getenv("LINK_USER"), "user id to act as")
	pf.StringVar(&flags.token, "token", os.Getenv("LINK_TOKEN"), "access token; empty uses the development login")
	pf.StringVar(&flags.refreshToken, "refresh-token", os.Getenv("LINK_REFRESH_TOKEN"), "refresh token used when --token expires")
	pf.StringVar(&flags.env, "env", envOr("APP_ENV", "dev"), "log environment")
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// session is the signed-in user plus the transports a command needs.
type session struct {
	userID string
	api    *apiclient.Client
	log    *slog.Logger
	rdb    *redis.Client
	feed   *changefeed.RedisFeed
}

func (s *session) Close() {
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
}

// openSession signs in; withFeed also connects the change feed.
func openSession(ctx context.Context, withFeed bool) (*session, error) {
	if flags.user == "" {
		return nil, fmt.Errorf("--user is required")
	}
	log := logger.NewWriter(os.Stderr, flags.env, "client").With("user_id", flags.user)
	s := &session{userID: flags.user, log: log}

	if flags.token != "" {
		s.api = apiclient.New(flags.api, flags.token, nil).WithRefreshToken(flags.refreshToken)
	} else {
		// The client keeps the refresh token and renews the access token on 401.
		c, _, err := apiclient.Login(ctx, flags.api, flags.user, nil)
		if err != nil {
			return nil, fmt.Errorf("login: %w", err)
		}
		s.api = c
	}

	if withFeed {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: flags.redisAddr, Password: flags.redisPassword})
		if err != nil {
			return nil, err
		}
		s.rdb = rdb
		s.feed = changefeed.NewRedisFeed(rdb, 0, log)
	}
	return s, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
