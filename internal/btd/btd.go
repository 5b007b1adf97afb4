package btd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quant/api"
	"quant/config"
	"quant/fetcher"
	"quant/logging"
	"quant/metrics"
	"quant/notify"
	"quant/store"
	"quant/task"
)

func Run(args []string) int {
	flags := flag.NewFlagSet("btd", flag.ContinueOnError)
	flags.SetOutput(os.Stderr)

	var configPath string
	flags.StringVar(&configPath, "config", "", "配置文件路径(YAML格式)，默认优先使用 ./config.yaml")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if configPath == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			configPath = "config.yaml"
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] %v\n", err)
		return 1
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	a, err := build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return 1
	}

	logger.Info("=== A股回测服务 (btd) ===",
		zap.Int("port", cfg.Server.Port),
		zap.Int("workers", cfg.Server.Workers),
		zap.String("data_source", cfg.Data.Source),
		zap.String("storage", cfg.Storage.Driver),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Start() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	code := 0
	select {
	case <-sigChan:
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
			code = 1
		}
	}

	logger.Info("正在关闭服务...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	logger.Info("服务已关闭")
	return code
}

// app 组装好的服务
type app struct {
	server  *api.Server
	manager *task.Manager
	closers []func() error
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			_ = a.closeAll()
		}
	}()

	src, err := fetcher.Open(cfg.Data.Source, cfg.Data.Dir, cfg.Data.Encoding, cfg.Data.CacheDir, logger)
	if err != nil {
		return nil, err
	}

	var tasks store.TaskStore
	switch cfg.Storage.Driver {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		tasks = store.NewRedisTaskStore(client, cfg.Redis.Prefix, cfg.Redis.TTL)
	default:
		tasks = store.NewMemoryTaskStore()
	}

	mt := metrics.New(nil)
	opts := []task.Option{
		task.WithLogger(logger),
		task.WithMetrics(mt),
		task.WithWorkers(cfg.Server.Workers),
	}

	if cfg.Storage.SQLitePath != "" {
		sink, err := store.NewSQLiteResultStore(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, sink.Close)
		opts = append(opts, task.WithResultSink(sink))
	}

	notifiers := notify.Multi{notify.LogNotifier{Logger: logger}}
	if len(cfg.Kafka.Brokers) > 0 {
		kn, err := notify.NewKafkaNotifier(notify.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic}, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, kn.Close)
		notifiers = append(notifiers, kn)
	}
	opts = append(opts, task.WithNotifier(notifiers))

	a.manager = task.NewManager(tasks, src, opts...)
	a.server = api.NewServer(a.manager, cfg.Server.Port, mt, logger)
	ok = true
	return a, nil
}

// shutdown 先停 HTTP，再等任务结束，最后释放连接
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.manager.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *app) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
