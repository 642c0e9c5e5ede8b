package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

type testConfig struct {
	Redis  RedisConfig  `yaml:"redis"`
	JWT    JWTConfig    `yaml:"jwt"`
	Server ServerConfig `yaml:"server"`
}

func TestLoadIntoMergesEnvironmentFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
redis:
  addr: localhost:6379
  db: 0
server:
  port: ":8085"
jwt:
  secret: ${NOTIFYHUB_TEST_SECRET}
`)
	writeFile(t, dir, "staging.yaml", `
redis:
  addr: redis.staging:6379
`)
	writeFile(t, dir, "secrets.env", `
# comment
NOTIFYHUB_TEST_SECRET="from-secrets"
`)

	var cfg testConfig
	if err := LoadInto("staging", dir, &cfg); err != nil {
		t.Fatalf("LoadInto: %v", err)
	}

	if cfg.Redis.Addr != "redis.staging:6379" {
		t.Errorf("redis.addr = %q, want redis.staging:6379", cfg.Redis.Addr)
	}
	if cfg.Server.Port != ":8085" {
		t.Errorf("server.port = %q, want :8085", cfg.Server.Port)
	}
	if cfg.JWT.Secret != "from-secrets" {
		t.Errorf("jwt.secret = %q, want from-secrets", cfg.JWT.Secret)
	}
}

func TestLoadConfigSystemEnvWinsOverSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "jwt:\n  secret: ${NOTIFYHUB_TEST_SECRET2}\n")
	writeFile(t, dir, "secrets.env", "NOTIFYHUB_TEST_SECRET2=file\n")
	t.Setenv("NOTIFYHUB_TEST_SECRET2", "system")

	var cfg testConfig
	if err := LoadInto("", dir, &cfg); err != nil {
		t.Fatalf("LoadInto: %v", err)
	}
	if cfg.JWT.Secret != "system" {
		t.Errorf("jwt.secret = %q, want system", cfg.JWT.Secret)
	}
}

func TestLoadConfigMissingBase(t *testing.T) {
	if _, err := LoadConfig("local", t.TempDir()); err == nil {
		t.Fatal("expected error for missing base.yaml")
	}
}

func TestSubstituteStringKeepsUnknownPlaceholder(t *testing.T) {
	got := substituteString("redis://${UNKNOWN_VAR}:6379", map[string]string{})
	if got != "redis://${UNKNOWN_VAR}:6379" {
		t.Errorf("got %q", got)
	}
}

func TestRedisApplyEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("REDIS_DB", "3")

	cfg := RedisConfig{Addr: "localhost:6379"}
	cfg.ApplyEnv()

	if cfg.Addr != "cache:6380" || cfg.DB != 3 {
		t.Errorf("got %+v", cfg)
	}
}

func TestDBApplyEnvIgnoresBadPort(t *testing.T) {
	t.Setenv("DB_PORT", "not-a-port")
	t.Setenv("DB_SSLMODE", "require")

	cfg := DBConfig{Port: 5432}
	cfg.ApplyEnv()

	if cfg.Port != 5432 || cfg.SSLMode != "require" {
		t.Errorf("got %+v", cfg)
	}
}

func TestOTelApplyEnvEnables(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	var cfg OTelConfig
	cfg.ApplyEnv()
	if !cfg.Enabled || cfg.Endpoint != "collector:4317" {
		t.Errorf("got %+v", cfg)
	}
}

func TestDBConfigDSNEscapesCredentials(t *testing.T) {
	cfg := DBConfig{Host: "db", Port: 5432, User: "notify", Password: "p@ss/word", Name: "notifyhub"}
	want := "postgres://notify:p%40ss%2Fword@db:5432/notifyhub?sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}

	cfg.SSLMode = "verify-full"
	if got := cfg.DSN(); got != "postgres://notify:p%40ss%2Fword@db:5432/notifyhub?sslmode=verify-full" {
		t.Errorf("DSN = %q", got)
	}
}
