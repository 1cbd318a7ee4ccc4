package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"telegram-audio-bot/bot"
	"telegram-audio-bot/cache"
	"telegram-audio-bot/extractor"
	"telegram-audio-bot/queue"
	"telegram-audio-bot/storage"
	"telegram-audio-bot/utils"
	"telegram-audio-bot/workers"
)

type consumer interface {
	Start(ctx context.Context) error
}

func main() {
	config, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := utils.NewLogger(config)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.NewDatabase(config.DatabasePath)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()
	errorStore := storage.NewErrorStore(db)

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatalf("Failed to connect to Redis at %s: %v", config.RedisAddr, err)
	}

	artifacts, err := storage.NewArtifactStore(ctx, storage.ArtifactConfig{
		Bucket:          config.S3Bucket,
		Region:          config.S3Region,
		Endpoint:        config.S3Endpoint,
		AccessKeyID:     config.S3AccessKeyID,
		SecretAccessKey: config.S3SecretAccessKey,
	}, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize artifact store: %v", err)
	}

	contentCache := cache.NewCache(rdb, config.CacheNamespace, logger)
	ytdlp := extractor.NewYTDLP(config.YTDLPPath, config.WorkDir, contentCache, logger)

	telegramBot, err := bot.NewTelegramBot(config, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize Telegram bot: %v", err)
	}

	downloads, consumers := buildTransport(rdb, config, logger, telegramBot, ytdlp, artifacts, errorStore)

	dispatcher := bot.NewDispatcher(telegramBot, downloads, ytdlp, config, logger)
	replayer := bot.NewReplayer(errorStore, downloads, telegramBot, logger)
	telegramBot.SetDispatcher(dispatcher)
	telegramBot.SetReplayer(replayer)

	for _, c := range consumers {
		c := c
		go func() {
			if err := c.Start(ctx); err != nil {
				logger.WithError(err).Error("Consumer stopped with error")
			}
		}()
	}

	go telegramBot.Start(ctx)

	logger.Info("Audio bot started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, shutting down gracefully...")
	telegramBot.Stop()
	cancel()
	logger.Info("Audio bot stopped")
}

// buildTransport wires the two pipeline stages to their transport. The
// grouped stream queue is the default; USE_TOPIC swaps in fan-out
// pub/sub for deployments where every instance should see every job.
func buildTransport(
	rdb redis.UniversalClient,
	config *utils.Config,
	logger *utils.Logger,
	telegramBot *bot.TelegramBot,
	ytdlp *extractor.YTDLP,
	artifacts *storage.ArtifactStore,
	errorStore *storage.ErrorStore,
) (downloads queue.Enqueuer, consumers []consumer) {
	var deliveries queue.Enqueuer
	if config.UseTopic {
		deliveries = queue.NewTopicQueue(rdb, config.DeliveriesStream, logger)
		downloads = queue.NewTopicQueue(rdb, config.DownloadsStream, logger)
	} else {
		deliveries = queue.NewStreamQueue(rdb, config.DeliveriesStream, 0, logger)
		downloads = queue.NewStreamQueue(rdb, config.DownloadsStream, config.DedupWindow, logger)
	}

	downloadWorker := workers.NewDownloadWorker(ytdlp, artifacts, deliveries, config.MaxFileSizeBytes, logger)
	deliveryWorker := workers.NewDeliveryWorker(telegramBot, artifacts, errorStore, utils.DefaultRetryPolicy(), logger)

	if config.UseTopic {
		consumers = []consumer{
			queue.NewTopicConsumer(rdb, config.DownloadsStream, downloadWorker, logger),
			queue.NewTopicConsumer(rdb, config.DeliveriesStream, deliveryWorker, logger),
		}
	} else {
		consumers = []consumer{
			queue.NewStreamConsumer(rdb, config.DownloadsStream, config.ConsumerGroup, config.ConsumerName, downloadWorker, logger),
			queue.NewStreamConsumer(rdb, config.DeliveriesStream, config.ConsumerGroup, config.ConsumerName, deliveryWorker, logger),
		}
	}
	return downloads, consumers
}
