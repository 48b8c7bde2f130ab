package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"coursehub/internal/config"
	"coursehub/internal/db"
	clog "coursehub/internal/log"
	"coursehub/internal/notify"
	"coursehub/internal/server"
	"coursehub/internal/service"
	"coursehub/internal/store"
	"coursehub/internal/ws"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout  = 10 * time.Second
	shutdownTimeout = 15 * time.Second
)

// runServe 加载配置、初始化日志、连接数据库并启动服务。
func runServe(ctx context.Context) error {
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		return err
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		return errors.Wrap(err, "db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		return errors.Wrap(err, "db migrate")
	}

	st := store.NewGormStore(gdb)
	policy := service.NewAccessPolicy(st)
	rooms := service.NewRoomService(st, policy)
	messages := service.NewMessageService(st, policy)
	hub := ws.NewHub(policy, rooms, messages, ws.Options{
		Workers:        cfg.HubWorkers,
		HandlerTimeout: time.Duration(cfg.HubHandlerTimeoutSecs) * time.Second,
		TypingTTL:      time.Duration(cfg.TypingTTLSeconds) * time.Second,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RedisURL != "" {
		pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
		client, err := notify.NewRedisClient(pingCtx, cfg.RedisURL)
		cancel()
		if err != nil {
			return errors.Wrap(err, "redis connect")
		}
		defer client.Close()
		bridge := notify.NewBridge(client, cfg.NotifyChannel, notify.NewNotifier(hub, st))
		go func() {
			if err := bridge.Run(ctx); err != nil {
				log.Error().Err(err).Msg("notification bridge stopped")
			}
		}()
	} else {
		log.Info().Msg("REDIS_URL not set, notification bridge disabled")
	}

	engine, stopRouter := server.SetupRouter(cfg, server.Services{
		Users:    service.NewUserService(st),
		Rooms:    rooms,
		Messages: messages,
		Hub:      hub,
	})
	defer stopRouter()
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			hub.Close()
			return errors.Wrap(err, "server run")
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// 先关闭 hub，连接的写协程会发送 close 帧，读协程随之退出。
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server shutdown")
	}
	log.Info().Msg("server stopped")
	return nil
}
