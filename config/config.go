// Package config 回测服务配置 (优先级: 环境变量 > 配置文件 > 默认值)
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "QUANT"

// Config 服务配置
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Data    DataConfig    `mapstructure:"data"`
	Storage StorageConfig `mapstructure:"storage"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
}

type ServerConfig struct {
	// HTTP 服务端口
	Port int `mapstructure:"port"`
	// 同时执行的回测任务数
	Workers int `mapstructure:"workers"`
	// 优雅关闭等待时间
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DataConfig 行情来源: eastmoney | csv；cache_dir 非空时启用 parquet 缓存
type DataConfig struct {
	Source   string `mapstructure:"source"`
	Dir      string `mapstructure:"dir"`
	Encoding string `mapstructure:"encoding"`
	CacheDir string `mapstructure:"cache_dir"`
}

type StorageConfig struct {
	// memory | redis
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 19527)
	v.SetDefault("server.workers", 4)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("data.source", "eastmoney")
	v.SetDefault("data.dir", "data")
	v.SetDefault("data.encoding", "utf-8")
	v.SetDefault("data.cache_dir", "")
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.sqlite_path", "")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "quant:")
	v.SetDefault("redis.ttl", 7*24*time.Hour)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "quant.backtest.events")
}

// Load 读取配置文件，path 为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	// QUANT_KAFKA_BROKERS=a:9092,b:9092
	cfg.Kafka.Brokers = splitList(strings.Join(cfg.Kafka.Brokers, ","))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.Workers <= 0 {
		errs = append(errs, fmt.Errorf("server.workers must be positive: %d", c.Server.Workers))
	}
	switch c.Data.Source {
	case "eastmoney", "csv":
	default:
		errs = append(errs, fmt.Errorf("unknown data.source %q", c.Data.Source))
	}
	switch c.Storage.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
