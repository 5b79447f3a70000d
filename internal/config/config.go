package config

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env        string           `yaml:"env" env-default:"development"` // environment
	HTTPServer HTTPServerConfig `yaml:"http_server"`
	Database   DatabaseConfig   `yaml:"database"`
	JWT        JWTConfig        `yaml:"jwt"`
	Migrations MigrationsConfig `yaml:"migrations"`
	Redis      RedisConfig      `yaml:"redis"`
	Checkout   CheckoutConfig   `yaml:"checkout"`
	Notify     NotifyConfig     `yaml:"notify"`
}

// HTTPServerConfig структура http сервера
type HTTPServerConfig struct {
	Address     string        `yaml:"address" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// DatabaseConfig структура по работе с БД
type DatabaseConfig struct {
	Host     string `yaml:"host" env-default:"localhost"`
	Port     int    `yaml:"port" env-default:"5432"`
	User     string `yaml:"user" env-required:"true"`
	Password string `yaml:"-" env:"DB_PASSWORD" env-required:"true"`
	Name     string `yaml:"name" env-required:"true"`
}

// JWTConfig настройка jwt
type JWTConfig struct {
	Secret   string `yaml:"-" env:"JWT_SECRET" env-required:"true"`
	TokenTTL int    `yaml:"token_ttl" env-default:"60"`
}

type MigrationsConfig struct {
	Path string `yaml:"path" env-default:"./migrations"`
}

// RedisConfig — хранилище гостевых корзин
type RedisConfig struct {
	Address  string        `yaml:"address" env-default:"localhost:6379"`
	Password string        `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env-default:"0"`
	CartTTL  time.Duration `yaml:"cart_ttl" env-default:"720h"`
}

// CheckoutConfig управляет оформлением заказа. Флаги сформулированы как отключения:
// по умолчанию остаток списывается, а купленные позиции удаляются из корзины
// в той же транзакции, что и создание заказа.
// LockTimeout — сколько транзакция ждёт блокировку строки товара, прежде чем отказать.
type CheckoutConfig struct {
	SkipStockReservation bool          `yaml:"skip_stock_reservation"`
	KeepPurchasedItems   bool          `yaml:"keep_purchased_items"`
	Currency             string        `yaml:"currency" env-default:"EUR"`
	MaxLines             int           `yaml:"max_lines" env-default:"100"`
	LockTimeout          time.Duration `yaml:"lock_timeout" env-default:"5s"`
}

// NotifyConfig — отправка уведомлений о заказах (log, sendgrid или kafka).
type NotifyConfig struct {
	Driver         string        `yaml:"driver" env-default:"log"`
	FromEmail      string        `yaml:"from_email" env-default:"orders@example.com"`
	FromName       string        `yaml:"from_name" env-default:"Storefront"`
	SendGridAPIKey string        `yaml:"-" env:"SENDGRID_API_KEY"`
	Timeout        time.Duration `yaml:"timeout" env-default:"10s"`
	MaxInFlight    int64         `yaml:"max_in_flight" env-default:"32"`
	KafkaBrokers   []string      `yaml:"kafka_brokers"`
	KafkaTopic     string        `yaml:"kafka_topic" env-default:"order-notifications"`
}

// MustLoad - если не загружаем - паникуем
func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		log.Fatal("CONFIG_PATH not exists")
	}
	return MustLoadByPath(configPath)
}

func fetchConfigPath() string {
	var path string

	flag.StringVar(&path, "config", "", "path to config file")
	flag.Parse()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	return path
}

func MustLoadByPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file not found: " + configPath)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("can't read config file %s: %v", configPath, err)
	}

	return &cfg
}
