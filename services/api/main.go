package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/chatline/internal/auth"
	"github.com/chatline/internal/config"
	"github.com/chatline/internal/handler"
	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/middleware"
	"github.com/chatline/internal/push"
	"github.com/chatline/internal/repository"
	"github.com/chatline/internal/service"
	"github.com/chatline/internal/startup"
	"github.com/chatline/internal/storage"
	"github.com/chatline/internal/storage/memory"
	"github.com/chatline/internal/ws"
	"github.com/chatline/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	inMemory := flag.Bool("memory", false, "keep all data in memory (no database)")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()

	var store *storage.Store
	if *inMemory {
		store = memory.New().Store()
		logger.Info("using in-memory datastore")
	} else {
		if *dev {
			db, url, err := startup.EmbeddedPostgres()
			if err != nil {
				logger.Fatalf("embedded postgres: %v", err)
			}
			cfg.Database.URL = url
			defer func() {
				logger.Info("stopping embedded postgres...")
				if err := db.Stop(); err != nil {
					logger.Errorf("embedded postgres stop: %v", err)
				}
			}()
		}

		poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
		if err != nil {
			logger.Fatalf("parse db config: %v", err)
		}
		poolCfg.MaxConns = int32(cfg.DBMaxConnections())
		poolCfg.MinConns = 2

		pool, err := startup.ConnectDB(context.Background(), poolCfg, 60*time.Second)
		if err != nil {
			logger.Fatalf("%v", err)
		}
		defer pool.Close()

		migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = startup.Migrate(migrateCtx, pool, migrations.Files)
		migrateCancel()
		if err != nil {
			logger.Fatalf("migrations: %v", err)
		}
		if *migrate {
			return
		}
		store = &storage.Store{
			Users:    repository.NewUserRepository(pool),
			Chats:    repository.NewChatRepository(pool),
			Messages: repository.NewMessageRepository(pool),
		}
		logger.Info("database connected, migrations applied")
	}

	// После рестарта ни у кого нет открытых сокетов.
	resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := store.Users.ResetOnline(resetCtx); err != nil {
		logger.Errorf("reset online status: %v", err)
	}
	resetCancel()

	authSvc := service.NewAuthService(store.Users, auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL))
	chatSvc := service.NewChatService(store)
	pushClient := push.NewClient(cfg.PushServiceURL).WithSecret(cfg.InternalSecret)

	var notifier ws.PushNotifier
	if pushClient.Enabled() {
		notifier = pushClient
	}
	hub := ws.NewHub(chatSvc, store.Users, ws.NewPresence(time.Now), ws.Limits{
		MaxConns:       cfg.MaxWSConnections,
		SendBuffer:     cfg.WSSendBufferSize,
		MaxMessageSize: int64(cfg.WSMaxMessageSize),
		PongWait:       time.Duration(cfg.WSPongTimeout) * time.Second,
		WriteWait:      time.Duration(cfg.WSWriteTimeout) * time.Second,
		TypingTimeout:  cfg.TypingTimeout,
		TypingSweep:    cfg.TypingSweep,
	}, notifier)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	if cfg.RedisURL != "" {
		rdb, err := startup.ConnectRedis(hubCtx, cfg.RedisURL, 30*time.Second)
		if err != nil {
			logger.Fatalf("%v", err)
		}
		defer rdb.Close()
		if err := hub.UseBus(hubCtx, rdb); err != nil {
			logger.Fatalf("redis bus: %v", err)
		}
		logger.Info("relay bus: redis pub/sub")
	}

	var hubWg sync.WaitGroup
	hubWg.Add(2)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()
	go func() {
		defer hubWg.Done()
		hub.RunTypingSweeper(hubCtx)
	}()

	r := handler.NewRouter(handler.Deps{
		Config:        cfg,
		Auth:          authSvc,
		Chats:         chatSvc,
		Hub:           hub,
		Push:          pushClient,
		RateLimitIP:   middleware.NewRateLimiter(200, time.Minute),
		RateLimitUser: middleware.NewRateLimiter(100, time.Minute),
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
	logger.Flush(time.Second)
}
