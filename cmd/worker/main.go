package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/parlorhq/parlor/internal/chat"
	"github.com/parlorhq/parlor/internal/config"
	"github.com/parlorhq/parlor/internal/db"
	"github.com/parlorhq/parlor/internal/image"
	"github.com/parlorhq/parlor/internal/logger"
	"github.com/parlorhq/parlor/internal/service"
	"github.com/parlorhq/parlor/internal/store/rabbitmq"
	"github.com/parlorhq/parlor/internal/store/redisstore"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	log := logger.L.With("component", "worker")

	if cfg.OpenAIAPIKey == "" {
		log.Error("OPENAI_API_KEY is required for the image worker")
		os.Exit(1)
	}
	if cfg.RabbitURL == "" {
		log.Error("RABBIT_URL is required for the image worker")
		os.Exit(1)
	}

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Error("connect database", "error", err)
		os.Exit(1)
	}
	if err := chat.Migrate(gdb); err != nil {
		log.Error("migrate database", "error", err)
		os.Exit(1)
	}
	store := chat.NewStore(gdb, chat.KeepLastChat)

	var notifier service.Notifier
	if cfg.RedisAddr != "" {
		rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger.L)
		defer rds.Close()
		notifier = rds
	}

	runner := service.NewImageJobRunner(
		store,
		image.NewGenerator(cfg.OpenAIBaseURL),
		notifier,
		cfg.OpenAIAPIKey,
		cfg.PublicBaseURL,
		logger.L,
	)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Error("rabbit dial", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Error("rabbit channel", "error", err)
		os.Exit(1)
	}
	defer ch.Close()

	// Full topology, shared with the publisher: either side may start
	// first, and nacked jobs need the DLQ to exist to land anywhere.
	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Error("declare topology", "error", err)
		os.Exit(1)
	}

	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Error("qos", "error", err)
		os.Exit(1)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Error("consume", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var m rabbitmq.ImageJobMessage
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
					log.Warn("bad message", "worker", workerID, "error", err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := runner.Run(ctx, m.JobID); err != nil {
					log.Warn("job failed", "worker", workerID, "job_id", m.JobID, "cost", time.Since(start), "error", err)
					// The job row already records the failure; do not requeue.
					_ = d.Nack(false, false)
					continue
				}

				log.Info("job done", "worker", workerID, "job_id", m.JobID, "cost", time.Since(start))
				if err := d.Ack(false); err != nil {
					log.Warn("ack failed", "worker", workerID, "job_id", m.JobID, "error", err)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}
