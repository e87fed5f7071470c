// Микросервис пуш-уведомлений (Web Push): подписки в Redis (или в памяти без REDIS_URL), отправка через VAPID.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatline/internal/config"
	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/middleware"
	"github.com/chatline/internal/push"
	"github.com/chatline/internal/startup"
	"github.com/chatline/internal/storage/memory"
)

func main() {
	logger.SetPrefix("push")
	genVAPID := flag.Bool("gen-vapid", false, "print a new VAPID key pair and exit")
	flag.Parse()

	if *genVAPID {
		keys, err := push.GenerateVAPIDKeys()
		if err != nil {
			logger.Fatalf("generate VAPID: %v", err)
		}
		logger.Infof("VAPID_PUBLIC_KEY=%s", keys.PublicKey)
		logger.Infof("VAPID_PRIVATE_KEY=%s", keys.PrivateKey)
		logger.Flush(time.Second)
		return
	}

	logger.Info("starting push service")
	cfg := config.LoadPush()
	keys := &push.VAPIDKeys{PublicKey: cfg.VAPIDPublicKey, PrivateKey: cfg.VAPIDPrivateKey}
	if !keys.Complete() {
		loaded, err := push.EnsureVAPIDKeys("")
		if err != nil {
			logger.Infof("VAPID: не удалось загрузить/сгенерировать ключи: %v — push отключены", err)
		} else {
			keys = loaded
		}
	}
	if !keys.Complete() {
		logger.Info("VAPID keys not set — подписки сохраняются, отправка не выполняется")
	}

	var store push.SubscriptionStore
	if cfg.RedisURL != "" {
		rdb, err := startup.ConnectRedis(context.Background(), cfg.RedisURL, 30*time.Second)
		if err != nil {
			logger.Fatalf("%v", err)
		}
		defer rdb.Close()
		store = rdb
	} else {
		logger.Info("REDIS_URL not set — подписки хранятся в памяти")
		store = memory.NewPushSubscriptions()
	}

	s := push.NewServer(store, keys, cfg.VAPIDSubscriber)
	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      middleware.InternalOnly(cfg.InternalSecret)(s.Routes()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("push server listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("push server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
	logger.Info("push server stopped")
	logger.Flush(time.Second)
}
