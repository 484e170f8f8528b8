// config предоставляет структуру конфигурации клиента и функции
// загрузки из файла/переменных окружения с предсказуемым приоритетом.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Драйверы хранилища сессии.
const (
	DriverFile  = "file"
	DriverRedis = "redis"
)

// Config — корневая конфигурация клиента.
// Источники значений (по убыванию приоритета):
//  1. явный путь через флаг --config;
//  2. путь в переменной окружения CONFIG_PATH;
//  3. файл local.yaml из рабочей директории;
//  4. переменные окружения (cleanenv).
type Config struct {
	Env      string        `yaml:"env" env:"ENV" env-default:"local"`
	API      APIConfig     `yaml:"api"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
	Renewal  RenewalConfig `yaml:"renewal"`
	Storage  StorageConfig `yaml:"storage"`
	S3       S3Config      `yaml:"s3"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// APIConfig — адрес удалённого REST API.
type APIConfig struct {
	BaseURL   string `yaml:"base_url" env:"API_BASE_URL" env-required:"true"`
	UserAgent string `yaml:"user_agent" env:"API_USER_AGENT" env-default:"photostamp-session/1.0"`
}

// TimeoutConfig — сетевые таймауты обоих HTTP-клиентов.
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect" env:"TIMEOUT_CONNECT" env-default:"30s"`
	Read    time.Duration `yaml:"read" env:"TIMEOUT_READ" env-default:"30s"`
	Write   time.Duration `yaml:"write" env:"TIMEOUT_WRITE" env-default:"30s"`
}

// RenewalConfig — параметры продления сессии.
type RenewalConfig struct {
	MaxRetries int `yaml:"max_retries" env:"RENEWAL_MAX_RETRIES" env-default:"3"`
}

// StorageConfig — локальное хранилище пары токенов.
type StorageConfig struct {
	Driver     string      `yaml:"driver" env:"STORAGE_DRIVER" env-default:"file"`
	Path       string      `yaml:"path" env:"STORAGE_PATH" env-default:"./.photostamp/session.json"`
	Passphrase string      `yaml:"passphrase" env:"STORAGE_PASSPHRASE"`
	RedisURL   string      `yaml:"redis_url" env:"STORAGE_REDIS_URL"`
	Prefix     string      `yaml:"prefix" env:"STORAGE_PREFIX" env-default:"photostamp:session:"`
	Argon      ArgonConfig `yaml:"argon"`
}

// ArgonConfig — параметры вывода ключа argon2id.
type ArgonConfig struct {
	Time      uint32 `yaml:"time" env:"ARGON_TIME" env-default:"1"`
	MemoryKiB uint32 `yaml:"memory_kib" env:"ARGON_MEMORY_KIB" env-default:"65536"`
	Threads   uint8  `yaml:"threads" env:"ARGON_THREADS" env-default:"4"`
}

// S3Config — dev-подписчик загрузок (MinIO). Пустой Endpoint отключает его.
type S3Config struct {
	Endpoint   string        `yaml:"endpoint" env:"S3_ENDPOINT"`
	AccessKey  string        `yaml:"access_key" env:"S3_ACCESS_KEY"`
	SecretKey  string        `yaml:"secret_key" env:"S3_SECRET_KEY"`
	Bucket     string        `yaml:"bucket" env:"S3_BUCKET" env-default:"photos"`
	Region     string        `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	PresignTTL time.Duration `yaml:"presign_ttl" env:"S3_PRESIGN_TTL" env-default:"10m"`
}

// MetricsConfig — HTTP-эндпоинт /metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"METRICS_ENABLED" env-default:"false"`
	Host    string `yaml:"host" env:"METRICS_HOST" env-default:"127.0.0.1"`
	Port    string `yaml:"port" env:"METRICS_PORT" env-default:"9464"`
}

// Addr возвращает адрес в формате host:port.
func (m MetricsConfig) Addr() string {
	return net.JoinHostPort(m.Host, m.Port)
}

// MustLoad — обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
// После чтения файла ENV-переменные накладываются поверх значений из YAML.
func Load(path string) (*Config, error) {
	var cfg Config

	tryRead := func(p string) (*Config, error) {
		if p == "" {
			return nil, fmt.Errorf("empty config path")
		}

		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		if err := cfg.validate(); err != nil {
			return nil, err
		}

		return &cfg, nil
	}

	// 1) Явный путь.
	if path != "" {
		return tryRead(path)
	}

	// 2) CONFIG_PATH.
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return tryRead(envPath)
	}

	// 3) ./local.yaml.
	if _, err := os.Stat("local.yaml"); err == nil {
		return tryRead("local.yaml")
	}

	// 4) Только ENV.
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Renewal.MaxRetries <= 0 {
		c.Renewal.MaxRetries = 3
	}

	if c.Storage.Passphrase == "" {
		return fmt.Errorf("storage.passphrase is required")
	}

	switch c.Storage.Driver {
	case DriverFile:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for driver %q", DriverFile)
		}
	case DriverRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("storage.redis_url is required for driver %q", DriverRedis)
		}
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", DriverFile, DriverRedis, c.Storage.Driver)
	}

	if c.Timeouts.Connect <= 0 || c.Timeouts.Read <= 0 || c.Timeouts.Write <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}

	return nil
}
