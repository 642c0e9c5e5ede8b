package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"notifyhub/pkg/config"
)

type StreamConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	PollBatch         int           `yaml:"poll_batch"`
	PollErrorBackoff  time.Duration `yaml:"poll_error_backoff"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	StaleAfter        time.Duration `yaml:"stale_after"`
	SeenCapacity      int           `yaml:"seen_capacity"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	// 每个 IP 建立流连接的速率限制
	OpenRatePerSecond float64 `yaml:"open_rate_per_second"`
	OpenBurst         int     `yaml:"open_burst"`
}

type QueueConfig struct {
	KeyPrefix string `yaml:"key_prefix"`
	MaxLength int64  `yaml:"max_length"`
}

type PubSubConfig struct {
	// none / amqp / redis
	Backend   string        `yaml:"backend"`
	Namespace string        `yaml:"namespace"`
	Timeout   time.Duration `yaml:"timeout"`
	Breaker   struct {
		FailureThreshold int           `yaml:"failure_threshold"`
		OpenTimeout      time.Duration `yaml:"open_timeout"`
	} `yaml:"breaker"`
}

type ConsumerConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxRetries int64         `yaml:"max_retries"`
	RetryTTL   time.Duration `yaml:"retry_ttl"`
}

type DedupConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type Config struct {
	ServiceName string              `yaml:"service_name"`
	LogLevel    string              `yaml:"log_level"`
	DB          config.DBConfig     `yaml:"db"`
	Redis       config.RedisConfig  `yaml:"redis"`
	MQ          config.MQConfig     `yaml:"mq"`
	JWT         config.JWTConfig    `yaml:"jwt"`
	Server      config.ServerConfig `yaml:"server"`
	OTel        config.OTelConfig   `yaml:"otel"`
	Stream      StreamConfig        `yaml:"stream"`
	Queue       QueueConfig         `yaml:"queue"`
	PubSub      PubSubConfig        `yaml:"pubsub"`
	Consumer    ConsumerConfig      `yaml:"consumer"`
	Dedup       DedupConfig         `yaml:"dedup"`
}

func Load() *Config {
	// 使用统一配置中心
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	cfg, err := LoadFrom(env, configDir)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// LoadFrom reads <dir>/base.yaml merged with <dir>/<env>.yaml, then applies
// environment overrides and defaults.
func LoadFrom(env, dir string) (*Config, error) {
	var cfg Config
	if err := config.LoadInto(env, dir, &cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖（优先级最高）
	cfg.DB.ApplyEnv()
	cfg.Redis.ApplyEnv()
	cfg.MQ.ApplyEnv()
	cfg.JWT.ApplyEnv()
	cfg.Server.ApplyEnv()
	cfg.OTel.ApplyEnv()

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "notifyhub"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Server.Port == "" {
		c.Server.Port = ":8085"
	}

	s := &c.Stream
	if s.PollInterval <= 0 {
		s.PollInterval = time.Second
	}
	if s.PollBatch <= 0 {
		s.PollBatch = 10
	}
	if s.PollErrorBackoff <= 0 {
		s.PollErrorBackoff = 5 * time.Second
	}
	if s.HeartbeatInterval <= 0 {
		s.HeartbeatInterval = 30 * time.Second
	}
	if s.SweepInterval <= 0 {
		s.SweepInterval = time.Minute
	}
	if s.StaleAfter <= 0 {
		s.StaleAfter = 5 * time.Minute
	}
	if s.SeenCapacity <= 0 {
		s.SeenCapacity = 256
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = 10 * time.Second
	}
	if s.OpenRatePerSecond <= 0 {
		s.OpenRatePerSecond = 1
	}
	if s.OpenBurst <= 0 {
		s.OpenBurst = 5
	}

	if c.Queue.KeyPrefix == "" {
		c.Queue.KeyPrefix = "notify:queue"
	}

	p := &c.PubSub
	if p.Backend == "" {
		p.Backend = "none"
	}
	if p.Namespace == "" {
		p.Namespace = "private"
	}
	if p.Timeout <= 0 {
		p.Timeout = 5 * time.Second
	}
	if p.Breaker.FailureThreshold <= 0 {
		p.Breaker.FailureThreshold = 5
	}
	if p.Breaker.OpenTimeout <= 0 {
		p.Breaker.OpenTimeout = 30 * time.Second
	}

	if c.Consumer.MaxRetries <= 0 {
		c.Consumer.MaxRetries = 3
	}
	if c.Consumer.RetryTTL <= 0 {
		c.Consumer.RetryTTL = time.Hour
	}
	if c.Dedup.TTL <= 0 {
		c.Dedup.TTL = 24 * time.Hour
	}
}

func (c *Config) validate() error {
	switch c.PubSub.Backend {
	case "none", "amqp", "redis":
	default:
		return fmt.Errorf("unknown pubsub backend %q", c.PubSub.Backend)
	}
	if c.JWT.Secret == "" || strings.Contains(c.JWT.Secret, "${") {
		return fmt.Errorf("jwt.secret is required")
	}
	if (c.PubSub.Backend == "amqp" || c.Consumer.Enabled) && c.MQ.URL == "" {
		return fmt.Errorf("mq.url is required when amqp is used")
	}
	return nil
}
