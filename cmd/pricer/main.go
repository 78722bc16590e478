// 文件: cmd/pricer/main.go
// 期权定价服务
//
// 用法:
//
//	pricer -config configs/pricer.yaml
//
// 所有配置项都可以用 PRICER_ 前缀的环境变量覆盖，例如 PRICER_SERVER_ADDR=:9090
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/api"
	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/config"
	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/kafka"
	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/logger"
	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/metrics"
	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/nats"
	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/options"
	"github.com/Gabrielcmunoz/calcula-opcoes/pkg/quote"
)

func main() {
	configPath := flag.String("config", "", "path to config file (yaml/toml/json)")
	flag.Parse()

	// 1. 配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 日志
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("pricer exited", zap.Error(err))
		os.Exit(1)
	}
	log.Info("pricer stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 指标
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, cfg.Metrics.Namespace)

	// 4. 定价引擎
	var engineOpts []options.SimulatorOption
	if cfg.Simulation.Estimator == config.EstimatorLSM {
		engineOpts = append(engineOpts, options.WithAmericanEstimator(options.NewLongstaffSchwartz()))
	}
	engine := options.NewEngine(engineOpts...)

	ids, err := quote.NewIDGenerator(cfg.Snowflake.NodeID)
	if err != nil {
		return err
	}

	svcOpts := []quote.Option{
		quote.WithLogger(log),
		quote.WithMetrics(m),
		quote.WithLimits(quote.Limits{
			MaxPathCount:   cfg.Simulation.MaxPathCount,
			MaxStepCount:   cfg.Simulation.MaxStepCount,
			MaxSamplePaths: cfg.Simulation.MaxSamples,
			Workers:        cfg.Simulation.Workers,
			BatchSize:      cfg.Simulation.BatchSize,
		}),
	}

	// 5. 存储: MySQL (可选) + Redis (可选)
	var repo quote.Repository = quote.NewMemoryRepository(0)
	if cfg.MySQL.DSN != "" {
		db, err := quote.OpenMySQL(cfg.MySQL.DSN, cfg.MySQL.AutoMigrate)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		repo = quote.NewMySQLRepository(db)
		log.Info("quote history in mysql")
	} else {
		log.Info("mysql dsn empty, quote history kept in memory")
	}

	if cfg.Redis.Addr != "" {
		rds := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rds.Close()
		if err := rds.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
		}
		repo = quote.NewCachedRepository(repo, rds)
		svcOpts = append(svcOpts, quote.WithResultCache(quote.NewRedisResultCache(rds), cfg.Redis.TTL))
		log.Info("redis cache enabled", zap.String("addr", cfg.Redis.Addr))
	}
	svcOpts = append(svcOpts, quote.WithRepository(repo))

	// 6. 事件
	publisher, err := newPublisher(cfg, m, log)
	if err != nil {
		return err
	}
	if publisher != nil {
		defer publisher.Close()
		svcOpts = append(svcOpts, quote.WithPublisher(publisher, cfg.Events.QuoteTopic))
	}

	svc := quote.NewService(engine, ids, svcOpts...)

	// 7. 定价请求消费者
	if cfg.Events.ConsumeRequests {
		consumer, err := newRequestConsumer(cfg, svc, m, log)
		if err != nil {
			return err
		}
		if consumer != nil {
			defer consumer.Stop()
		}
	}

	// 8. HTTP
	gin.SetMode(cfg.Server.Mode)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewRouter(api.NewHandler(svc, log), m, reg, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 9. 优雅退出
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newPublisher(cfg *config.Config, m *metrics.Metrics, log *zap.Logger) (quote.EventPublisher, error) {
	switch cfg.Events.Backend {
	case config.BackendKafka:
		pcfg := kafka.DefaultProducerConfig(cfg.Events.KafkaBrokers)
		pcfg.OnError = func(string, error) { m.PublishErrors.Inc() }
		producer, err := kafka.NewProducer(pcfg, log)
		if err != nil {
			return nil, err
		}
		log.Info("quote events -> kafka", zap.Strings("brokers", cfg.Events.KafkaBrokers), zap.String("topic", cfg.Events.QuoteTopic))
		return quote.NewKafkaPublisher(producer), nil

	case config.BackendNats:
		pub, err := nats.NewPublisher(cfg.Events.NatsURL, log)
		if err != nil {
			return nil, err
		}
		log.Info("quote events -> nats", zap.String("url", cfg.Events.NatsURL), zap.String("subject", cfg.Events.QuoteTopic))
		return quote.NewNatsPublisher(pub), nil
	}
	return nil, nil
}

func newRequestConsumer(cfg *config.Config, svc *quote.Service, m *metrics.Metrics, log *zap.Logger) (*quote.RequestConsumer, error) {
	switch cfg.Events.Backend {
	case config.BackendKafka:
		return quote.NewKafkaRequestConsumer(svc, cfg.Events.KafkaBrokers, cfg.Events.ConsumerGroup, cfg.Events.RequestTopic, m, log)
	case config.BackendNats:
		return quote.NewNatsRequestConsumer(svc, cfg.Events.NatsURL, cfg.Events.RequestTopic, m, log)
	}
	log.Warn("consume_requests set but events backend is none")
	return nil, nil
}
