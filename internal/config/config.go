// Package config содержит логику чтения конфигурации сервиса бронирования.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const dotEnvFile = ".env"

// Config содержит параметры конфигурации сервиса бронирования.
type Config struct {
	RunAddress      string `env:"RUN_ADDRESS"`
	APIURL          string `env:"API_URL"`
	DatabaseURI     string `env:"DATABASE_URI"`
	RedisAddr       string `env:"REDIS_ADDR"`
	KafkaBrokers    string `env:"KAFKA_BROKERS"`
	KafkaTopic      string `env:"KAFKA_TOPIC" envDefault:"booking-payment-outcomes"`
	CheckoutBaseURL string `env:"CHECKOUT_BASE_URL" envDefault:"https://pay.payos.vn/web"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`

	PollInterval   time.Duration `env:"POLL_INTERVAL" envDefault:"3s"`
	PaymentTimeout time.Duration `env:"PAYMENT_TIMEOUT" envDefault:"5m"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	CatalogTTL     time.Duration `env:"CATALOG_TTL" envDefault:"5m"`
}

// Brokers возвращает список брокеров Kafka.
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Parse считывает конфигурацию из .env, флагов командной строки и переменных окружения.
// Переменные окружения важнее флагов.
func Parse() (*Config, error) {
	return parse(dotEnvFile)
}

func parse(dotEnvPath string) (*Config, error) {
	// Уже выставленные переменные окружения .env не перетирает.
	if err := godotenv.Load(dotEnvPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", dotEnvPath, err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envAPIURL := cfg.APIURL
	envDatabaseURI := cfg.DatabaseURI
	envRedisAddr := cfg.RedisAddr
	envKafkaBrokers := cfg.KafkaBrokers

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.APIURL, "u", "", "booking backend base URL")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI of the outcome journal")
	flag.StringVar(&cfg.RedisAddr, "c", "", "redis address for the catalog cache")
	flag.StringVar(&cfg.KafkaBrokers, "k", "", "comma-separated kafka brokers for outcome events")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envAPIURL != "" {
		cfg.APIURL = envAPIURL
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisAddr != "" {
		cfg.RedisAddr = envRedisAddr
	}
	if envKafkaBrokers != "" {
		cfg.KafkaBrokers = envKafkaBrokers
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if cfg.APIURL == "" {
		return nil, errors.New("API_URL (-u) is required")
	}
	if cfg.PollInterval <= 0 || cfg.PaymentTimeout <= 0 {
		return nil, errors.New("POLL_INTERVAL and PAYMENT_TIMEOUT must be positive")
	}

	return cfg, nil
}
