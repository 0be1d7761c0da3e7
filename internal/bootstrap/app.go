package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"glucomate/internal/ai"
	"glucomate/internal/app"
	"glucomate/internal/cache"
	"glucomate/internal/config"
	"glucomate/internal/model"
	"glucomate/internal/ocr"
	mysqlClient "glucomate/internal/platform/mysql"
	rabbitmqClient "glucomate/internal/platform/rabbitmq"
	redisClient "glucomate/internal/platform/redis"
	"glucomate/internal/repository"
	"glucomate/internal/speech"
	"glucomate/internal/store"
	"glucomate/internal/worker"
)

const kvPrefix = "glucomate:"

// App holds process-wide resources. Redis and MQConn are nil when the
// corresponding backend is not configured.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	MySQL         *gorm.DB
	Redis         *redis.Client
	MQConn        *amqp.Connection
	MessageWorker *worker.MessagePersistWorker

	KV           store.KVStore
	Publisher    app.AsyncMessagePublisher
	HistoryCache app.HistoryCache
	LLM          *ai.OpenAICompatibleClient
	OCR          *ocr.Client
	Speech       *speech.Client

	StartedAt time.Time
	closers   []func() error
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, StartedAt: time.Now()}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN(), a.Logger)
	if err != nil {
		return err
	}
	a.MySQL = mysqlDB
	a.onClose(func() error {
		sqlDB, err := mysqlDB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	if err := mysqlDB.AutoMigrate(&model.User{}, &model.Session{}, &model.Message{}, &model.GlucoseRecord{}); err != nil {
		return fmt.Errorf("auto migrate tables failed: %w", err)
	}

	if err := a.initStore(ctx); err != nil {
		return err
	}
	if err := a.initMessaging(ctx); err != nil {
		return err
	}

	a.LLM = ai.NewOpenAICompatibleClient(a.Logger,
		ai.WithStreamTimeouts(cfg.LLM.FirstByteTimeout(), cfg.LLM.IdleTimeout()),
	)
	a.OCR = ocr.NewClient(ocr.Config{
		Endpoint:  cfg.OCR.Endpoint,
		Region:    cfg.OCR.Region,
		SecretID:  cfg.OCR.SecretID,
		SecretKey: cfg.OCR.SecretKey,
		Action:    cfg.OCR.Action,
		Version:   cfg.OCR.Version,
	}, a.Logger)
	tokens := speech.NewTokenCache(
		speech.NewClientCredentialsSource(cfg.Speech.TokenURL, cfg.Speech.APIKey, cfg.Speech.SecretKey),
		time.Duration(cfg.Speech.TokenMarginSecond)*time.Second,
	)
	a.Speech = speech.NewClient(speech.Config{
		RecognizeURL: cfg.Speech.RecognizeURL,
		DevPID:       cfg.Speech.DevPID,
		CUID:         cfg.Speech.CUID,
	}, tokens, a.Logger)

	return nil
}

// initStore connects Redis for the redis backend; the memory backend keeps
// blobs in process and runs without a history cache.
func (a *App) initStore(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Store.Backend {
	case "memory":
		a.KV = store.NewMemoryKV()
		a.Logger.Warn("using in-memory kv store, data is lost on restart")
		return nil
	case "redis", "":
	default:
		return fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	a.Redis = redisCli
	a.onClose(redisCli.Close)
	a.KV = store.NewRedisKV(redisCli, kvPrefix)
	a.HistoryCache = cache.NewHistoryCache(
		redisCli,
		time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)
	return nil
}

// initMessaging queues message writes through RabbitMQ when a URL is set,
// otherwise writes them synchronously.
func (a *App) initMessaging(ctx context.Context) error {
	cfg := a.Config
	persister := worker.NewPersister(
		repository.NewMessageRepository(a.MySQL),
		repository.NewSessionRepository(a.MySQL),
	)

	if cfg.RabbitMQ.URL == "" {
		a.Publisher = worker.NewDirectPublisher(persister)
		a.Logger.Info("rabbitmq not configured, persisting messages synchronously")
		return nil
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return err
	}
	a.MQConn = mqConn
	a.onClose(mqConn.Close)

	messageWorker := worker.NewMessagePersistWorker(mqConn, persister, cfg.RabbitMQ.MessagePersistQueue, a.Logger)
	if err := messageWorker.Start(ctx); err != nil {
		return fmt.Errorf("start message worker failed: %w", err)
	}
	a.MessageWorker = messageWorker
	a.onClose(func() error {
		messageWorker.Close()
		return nil
	})

	publisher := rabbitmqClient.NewMessagePublisher(mqConn, cfg.RabbitMQ.MessagePersistQueue)
	a.Publisher = publisher
	a.onClose(publisher.Close)
	return nil
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var closeErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close resource failed", zap.Error(err))
			closeErr = err
		}
	}
	a.closers = nil
	return closeErr
}
