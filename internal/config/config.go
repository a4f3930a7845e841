// Package config содержит логику чтения конфигурации сервиса лояльности.
package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress          = "localhost:8080"
	defaultKafkaTopic          = "loyalty.events"
	defaultLeaderboardInterval = time.Minute
	defaultEngagementInterval  = time.Hour
)

// Config содержит параметры конфигурации сервиса лояльности.
type Config struct {
	RunAddress          string        `env:"RUN_ADDRESS"`
	DatabaseURI         string        `env:"DATABASE_URI"`
	NotifyAddress       string        `env:"NOTIFY_ADDRESS"`
	RedisAddress        string        `env:"REDIS_ADDRESS"`
	KafkaBrokers        []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic          string        `env:"KAFKA_TOPIC"`
	AdminPINHash        string        `env:"ADMIN_PIN_HASH"`
	AuthSecret          string        `env:"AUTH_SECRET"`
	LeaderboardInterval time.Duration `env:"LEADERBOARD_INTERVAL"`
	EngagementInterval  time.Duration `env:"ENGAGEMENT_INTERVAL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	envCfg := Config{}
	if err := env.Parse(&envCfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}
	var brokers string

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory store when empty")
	flag.StringVar(&cfg.NotifyAddress, "n", "", "notification webhook address")
	flag.StringVar(&cfg.RedisAddress, "R", "", "redis address for leaderboard publication")
	flag.StringVar(&brokers, "k", "", "comma separated kafka brokers")
	flag.StringVar(&cfg.KafkaTopic, "t", defaultKafkaTopic, "kafka topic for change events")
	flag.DurationVar(&cfg.LeaderboardInterval, "l", defaultLeaderboardInterval, "leaderboard rebuild interval")
	flag.DurationVar(&cfg.EngagementInterval, "e", defaultEngagementInterval, "engagement recompute interval")

	flag.Parse()

	cfg.KafkaBrokers = splitList(brokers)

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.NotifyAddress != "" {
		cfg.NotifyAddress = envCfg.NotifyAddress
	}
	if envCfg.RedisAddress != "" {
		cfg.RedisAddress = envCfg.RedisAddress
	}
	if len(envCfg.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = splitList(strings.Join(envCfg.KafkaBrokers, ","))
	}
	if envCfg.KafkaTopic != "" {
		cfg.KafkaTopic = envCfg.KafkaTopic
	}
	if envCfg.LeaderboardInterval != 0 {
		cfg.LeaderboardInterval = envCfg.LeaderboardInterval
	}
	if envCfg.EngagementInterval != 0 {
		cfg.EngagementInterval = envCfg.EngagementInterval
	}
	cfg.AdminPINHash = envCfg.AdminPINHash
	cfg.AuthSecret = envCfg.AuthSecret

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.KafkaTopic == "" {
		cfg.KafkaTopic = defaultKafkaTopic
	}

	return cfg, nil
}

func splitList(s string) []string {
	var res []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			res = append(res, part)
		}
	}
	return res
}
