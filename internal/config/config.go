package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	Env      string
	HTTPAddr string
	DBPath   string

	RedisAddr string
	RedisDB   int

	// Kafka：通知事件写入 EventTopic，订单事件从 OrderTopic 消费
	KafkaBrokers  []string
	EventTopic    string
	OrderTopic    string
	OrderGroupID  string
	KafkaDisabled bool

	// 秒杀准入
	ReserveRateLimit  int
	ReserveRateWindow time.Duration
	TicketTTL         time.Duration
	HoldTTL           time.Duration

	// 拼团互斥锁
	GroupLockTTL  time.Duration
	GroupLockWait time.Duration

	// 后台任务
	SweepInterval time.Duration
	SweepBatch    int
	RelayInterval time.Duration

	// 活动日按该时区划分
	Location *time.Location

	// 管理接口的简单管理员令牌（demo 级别保护）
	AdminToken string
}

// Load 读取并校验配置，缺失时使用默认值。存在 .env 时先加载。
func Load() (AppConfig, error) {
	_ = godotenv.Load()

	cfg := AppConfig{
		Env:               getEnv("ENV", "development"),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		DBPath:            getEnv("DB_PATH", "salesync.db"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:      splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		EventTopic:        getEnv("KAFKA_EVENT_TOPIC", "salesync-events"),
		OrderTopic:        getEnv("KAFKA_ORDER_TOPIC", "order-events"),
		OrderGroupID:      getEnv("KAFKA_ORDER_GROUP_ID", "salesync-order-consumer"),
		KafkaDisabled:     getEnv("KAFKA_DISABLED", "false") == "true",
		ReserveRateLimit:  1000,
		ReserveRateWindow: time.Second,
		TicketTTL:         24 * time.Hour,
		HoldTTL:           30 * time.Minute,
		GroupLockTTL:      5 * time.Second,
		GroupLockWait:     3 * time.Second,
		SweepInterval:     30 * time.Second,
		SweepBatch:        100,
		RelayInterval:     500 * time.Millisecond,
		AdminToken:        getEnv("ADMIN_TOKEN", "dev-admin-token"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	rateLimit, err := getEnvInt("RESERVE_RATE_LIMIT", cfg.ReserveRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid RESERVE_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("RESERVE_RATE_LIMIT must be > 0")
	}
	cfg.ReserveRateLimit = rateLimit

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"RESERVE_RATE_WINDOW", &cfg.ReserveRateWindow},
		{"TICKET_TTL", &cfg.TicketTTL},
		{"HOLD_TTL", &cfg.HoldTTL},
		{"GROUP_LOCK_TTL", &cfg.GroupLockTTL},
		{"GROUP_LOCK_WAIT", &cfg.GroupLockWait},
		{"SWEEP_INTERVAL", &cfg.SweepInterval},
		{"RELAY_INTERVAL", &cfg.RelayInterval},
	}
	for _, d := range durations {
		v, err := getEnvDuration(d.env, *d.dst)
		if err != nil {
			return AppConfig{}, fmt.Errorf("invalid %s: %w", d.env, err)
		}
		if v <= 0 {
			return AppConfig{}, fmt.Errorf("%s must be > 0", d.env)
		}
		*d.dst = v
	}

	if cfg.SweepBatch, err = getEnvInt("SWEEP_BATCH", cfg.SweepBatch); err != nil {
		return AppConfig{}, fmt.Errorf("invalid SWEEP_BATCH: %w", err)
	}
	if cfg.SweepBatch <= 0 {
		return AppConfig{}, fmt.Errorf("SWEEP_BATCH must be > 0")
	}

	loc, err := time.LoadLocation(getEnv("ACTIVITY_TZ", "Asia/Shanghai"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid ACTIVITY_TZ: %w", err)
	}
	cfg.Location = loc

	if !cfg.KafkaDisabled {
		if len(cfg.KafkaBrokers) == 0 {
			return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
		}
		if cfg.EventTopic == "" || cfg.OrderTopic == "" {
			return AppConfig{}, fmt.Errorf("KAFKA_EVENT_TOPIC and KAFKA_ORDER_TOPIC must not be empty")
		}
		if cfg.OrderGroupID == "" {
			return AppConfig{}, fmt.Errorf("KAFKA_ORDER_GROUP_ID must not be empty")
		}
	}

	return cfg, nil
}

// IsDev 开发环境使用可读日志。
func (c AppConfig) IsDev() bool { return c.Env == "development" }

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// getEnvDuration 读取 time.ParseDuration 格式的时长，如 "30s"、"24h"。
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
