package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// DBConfig PostgreSQL 连接配置
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	// disable / require / verify-full，空值为 disable
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
	// 超过该耗时的查询记慢查询日志，0 使用默认 100ms
	SlowQuery time.Duration `yaml:"slow_query"`
}

// DSN 生成 pgx 可解析的连接串，用户名和密码会被转义
func (c DBConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}

func (c *DBConfig) ApplyEnv() {
	envString("DB_HOST", &c.Host)
	envInt("DB_PORT", &c.Port)
	envString("DB_USER", &c.User)
	envString("DB_PASSWORD", &c.Password)
	envString("DB_NAME", &c.Name)
	envString("DB_SSLMODE", &c.SSLMode)
}

type MQConfig struct {
	URL string `yaml:"url"`
}

func (c *MQConfig) ApplyEnv() {
	envString("MQ_URL", &c.URL)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (c *RedisConfig) ApplyEnv() {
	envString("REDIS_ADDR", &c.Addr)
	envString("REDIS_PASSWORD", &c.Password)
	envInt("REDIS_DB", &c.DB)
}

// JWTConfig 校验 stream 连接 token 的 HS256 密钥
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

func (c *JWTConfig) ApplyEnv() {
	envString("JWT_SECRET", &c.Secret)
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

func (c *ServerConfig) ApplyEnv() {
	envString("SERVER_PORT", &c.Port)
}

// OTelConfig 链路追踪配置
type OTelConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// ApplyEnv 设置了 OTLP endpoint 即视为启用
func (c *OTelConfig) ApplyEnv() {
	if envString("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Endpoint) {
		c.Enabled = true
	}
}

// envString 覆盖 dst 并报告环境变量是否存在
func envString(key string, dst *string) bool {
	v := os.Getenv(key)
	if v == "" {
		return false
	}
	*dst = v
	return true
}

// envInt 非法数字保持原值
func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
