// 文件: pkg/config/config.go
// 服务配置
//
// 优先级: 环境变量 (PRICER_ 前缀) > 配置文件 (yaml) > 默认值
// 例: PRICER_REDIS_ADDR=10.0.0.2:6379 覆盖 redis.addr

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalid 配置校验失败
var ErrInvalid = errors.New("invalid config")

// EnvPrefix 环境变量前缀
const EnvPrefix = "PRICER"

// 事件后端
const (
	BackendNone  = "none"
	BackendNats  = "nats"
	BackendKafka = "kafka"
)

// 美式期权估计器
const (
	EstimatorPathwiseMax = "pathwise-max"
	EstimatorLSM         = "lsm"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	MySQL      MySQLConfig      `mapstructure:"mysql"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Events     EventsConfig     `mapstructure:"events"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Snowflake  SnowflakeConfig  `mapstructure:"snowflake"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Mode            string        `mapstructure:"mode"` // gin: debug / release / test
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json / console
}

// MySQLConfig DSN 为空时不落库
type MySQLConfig struct {
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// RedisConfig Addr 为空时不启用缓存
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"` // 定价结果缓存时间
}

type EventsConfig struct {
	Backend       string   `mapstructure:"backend"` // none / nats / kafka
	NatsURL       string   `mapstructure:"nats_url"`
	KafkaBrokers  []string `mapstructure:"kafka_brokers"`
	QuoteTopic    string   `mapstructure:"quote_topic"`   // 报价事件
	RequestTopic  string   `mapstructure:"request_topic"` // 定价请求 (消息驱动)
	ConsumerGroup string   `mapstructure:"consumer_group"`
	// ConsumeRequests 是否订阅定价请求
	ConsumeRequests bool `mapstructure:"consume_requests"`
}

// SimulationConfig 请求未指定时使用的模拟参数
type SimulationConfig struct {
	PathCount    int    `mapstructure:"path_count"`
	StepCount    int    `mapstructure:"step_count"`
	Workers      int    `mapstructure:"workers"`
	BatchSize    int    `mapstructure:"batch_size"`
	MaxPathCount int    `mapstructure:"max_path_count"` // 单次请求上限
	MaxStepCount int    `mapstructure:"max_step_count"`
	MaxSamples   int    `mapstructure:"max_sample_paths"` // /paths 单次返回上限
	Estimator    string `mapstructure:"estimator"` // pathwise-max / lsm
}

type SnowflakeConfig struct {
	NodeID int64 `mapstructure:"node_id"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

// =============================================================================
// 加载
// =============================================================================

// Load 读取配置文件 (path 为空时只用默认值和环境变量) 并校验
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.mode", "release")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("mysql.dsn", "")
	v.SetDefault("mysql.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 10*time.Minute)

	v.SetDefault("events.backend", BackendNone)
	v.SetDefault("events.nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("events.kafka_brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("events.quote_topic", "option.quotes")
	v.SetDefault("events.request_topic", "option.requests")
	v.SetDefault("events.consumer_group", "option-pricer")
	v.SetDefault("events.consume_requests", false)

	v.SetDefault("simulation.path_count", 50_000)
	v.SetDefault("simulation.step_count", 252)
	v.SetDefault("simulation.workers", 0)
	v.SetDefault("simulation.batch_size", 1024)
	v.SetDefault("simulation.max_path_count", 2_000_000)
	v.SetDefault("simulation.max_step_count", 5000)
	v.SetDefault("simulation.max_sample_paths", 1000)
	v.SetDefault("simulation.estimator", EstimatorLSM)

	v.SetDefault("snowflake.node_id", 0)
	v.SetDefault("metrics.namespace", "option_pricer")
}

// =============================================================================
// 校验
// =============================================================================

func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return invalid("server.addr", c.Server.Addr)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return invalid("log.format", c.Log.Format)
	}

	switch c.Events.Backend {
	case BackendNone:
	case BackendNats:
		if c.Events.NatsURL == "" {
			return invalid("events.nats_url", c.Events.NatsURL)
		}
	case BackendKafka:
		if len(c.Events.KafkaBrokers) == 0 {
			return invalid("events.kafka_brokers", c.Events.KafkaBrokers)
		}
	default:
		return invalid("events.backend", c.Events.Backend)
	}
	if c.Events.Backend != BackendNone && (c.Events.QuoteTopic == "" || c.Events.RequestTopic == "") {
		return invalid("events.quote_topic", c.Events.QuoteTopic)
	}

	s := c.Simulation
	if s.PathCount < 1 {
		return invalid("simulation.path_count", s.PathCount)
	}
	if s.StepCount < 1 {
		return invalid("simulation.step_count", s.StepCount)
	}
	if s.Workers < 0 {
		return invalid("simulation.workers", s.Workers)
	}
	if s.BatchSize < 0 {
		return invalid("simulation.batch_size", s.BatchSize)
	}
	if s.MaxPathCount < s.PathCount {
		return invalid("simulation.max_path_count", s.MaxPathCount)
	}
	if s.MaxStepCount < s.StepCount {
		return invalid("simulation.max_step_count", s.MaxStepCount)
	}
	if s.MaxSamples < 1 {
		return invalid("simulation.max_sample_paths", s.MaxSamples)
	}
	switch s.Estimator {
	case EstimatorPathwiseMax, EstimatorLSM:
	default:
		return invalid("simulation.estimator", s.Estimator)
	}

	// 雪花算法节点 ID 10 位
	if c.Snowflake.NodeID < 0 || c.Snowflake.NodeID > 1023 {
		return invalid("snowflake.node_id", c.Snowflake.NodeID)
	}
	if c.Redis.TTL < 0 {
		return invalid("redis.ttl", c.Redis.TTL)
	}
	return nil
}

func invalid(key string, value any) error {
	return fmt.Errorf("%w: %s=%v", ErrInvalid, key, value)
}
