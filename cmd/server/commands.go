package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"coursehub/internal/auth"
	"coursehub/internal/config"
	"coursehub/internal/db"
	clog "coursehub/internal/log"
	"coursehub/internal/notify"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// buildServeCmd 启动 HTTP 与实时 hub，SIGINT/SIGTERM 时优雅停服。
func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the real-time hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func buildMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			clog.Init(cfg.Env)
			gdb, err := db.Connect(cfg.DatabaseDSN)
			if err != nil {
				return errors.Wrap(err, "db connect")
			}
			if err := db.Migrate(gdb); err != nil {
				return errors.Wrap(err, "db migrate")
			}
			log.Info().Msg("migrations applied")
			return nil
		},
	}
}

// buildTokenCmd 为指定用户签发访问 token，便于本地联调。
func buildTokenCmd() *cobra.Command {
	var ttl int
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an access token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			uid, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || uid == 0 {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			if ttl <= 0 {
				ttl = cfg.AccessTokenTTLMinutes
			}
			tok, err := auth.GenerateAccessToken(uint(uid), cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().IntVar(&ttl, "ttl", 0, "Token lifetime in minutes (default ACCESS_TOKEN_TTL_MINUTES)")
	return cmd
}

// buildPublishCmd 向通知频道发布一条事件，模拟课程资料或测验服务。
func buildPublishCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "publish <material_published|test_published|test_graded>",
		Short: "Publish a notification to the Redis channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.RedisURL == "" {
				return errors.New("REDIS_URL is not set")
			}
			var raw []byte
			var err error
			if file == "-" {
				raw, err = io.ReadAll(cmd.InOrStdin())
			} else {
				raw, err = os.ReadFile(file)
			}
			if err != nil {
				return errors.Wrap(err, "read payload")
			}
			if !json.Valid(raw) {
				return errors.New("payload is not valid JSON")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()
			client, err := notify.NewRedisClient(ctx, cfg.RedisURL)
			if err != nil {
				return errors.Wrap(err, "redis connect")
			}
			defer client.Close()
			return notify.Publish(ctx, client, cfg.NotifyChannel, args[0], json.RawMessage(raw))
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON payload file, - for stdin")
	return cmd
}
