package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parlorhq/parlor/internal/ai"
	"github.com/parlorhq/parlor/internal/chat"
	"github.com/parlorhq/parlor/internal/config"
	"github.com/parlorhq/parlor/internal/db"
	"github.com/parlorhq/parlor/internal/httpapi"
	"github.com/parlorhq/parlor/internal/image"
	"github.com/parlorhq/parlor/internal/logger"
	"github.com/parlorhq/parlor/internal/service"
	"github.com/parlorhq/parlor/internal/store/rabbitmq"
	"github.com/parlorhq/parlor/internal/store/redisstore"
	"github.com/parlorhq/parlor/internal/ws"
)

func main() {
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	log := logger.L.With("component", "server")

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Error("connect database", "error", err)
		os.Exit(1)
	}
	if err := chat.Migrate(gdb); err != nil {
		log.Error("migrate database", "error", err)
		os.Exit(1)
	}

	policy := chat.KeepLastChat
	if cfg.AllowEmptyChats {
		policy = chat.AllowEmpty
	}
	store := chat.NewStore(gdb, policy)

	providers := ai.NewRegistry()
	providers.Register("openai", ai.NewOpenAIProvider(cfg.OpenAIBaseURL))

	images := image.NewGenerator(cfg.OpenAIBaseURL)
	hub := ws.NewHub(logger.L)

	var rds *redisstore.Store
	if cfg.RedisAddr != "" {
		rds = redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger.L)
		defer rds.Close()
	}

	// The async image path needs both a queue and a server-side API key;
	// without them requests are generated inline.
	var jobs service.JobQueue
	if cfg.RabbitURL != "" && cfg.OpenAIAPIKey != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Error("connect rabbitmq", "error", err)
			os.Exit(1)
		}
		defer pub.Close()
		jobs = pub
	}

	svc := service.New(service.Config{
		Store:         store,
		Providers:     providers,
		Images:        images,
		Broadcaster:   hub,
		Jobs:          jobs,
		ServerAPIKey:  cfg.OpenAIAPIKey,
		PublicBaseURL: cfg.PublicBaseURL,
		Logger:        logger.L,
	})

	router := httpapi.NewRouter(store, cfg, rds, hub, svc)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Worker-side mutations arrive as redis notices; resync everyone.
	if rds != nil {
		go func() {
			for n := range rds.SubscribeNotices(ctx) {
				switch n.Kind {
				case redisstore.NoticeSync:
					svc.Resync(ctx, n.ChatID)
				case redisstore.NoticeDone:
					hub.GenerationComplete()
				case redisstore.NoticeError:
					hub.Error(n.Message)
				}
			}
		}()
	}

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "error", err)
	}
}
