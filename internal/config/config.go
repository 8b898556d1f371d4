package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env"
)

type Config struct {
	HTTPAddress string `env:"BRIDGE_HTTP_ADDRESS" envDefault:":8080"`

	DBHost     string `env:"BRIDGE_DB_HOST" envDefault:"localhost"`
	DBPort     int    `env:"BRIDGE_DB_PORT" envDefault:"5432"`
	DBUser     string `env:"BRIDGE_DB_USER" envDefault:"user"`
	DBPassword string `env:"BRIDGE_DB_PASSWORD" envDefault:"password"`
	DBName     string `env:"BRIDGE_DB_NAME" envDefault:"shop_db"`
	DBSSLMode  string `env:"BRIDGE_DB_SSLMODE" envDefault:"disable"`

	// PublicBaseURL is where the processor sends the customer back to; it
	// must resolve to this service from the public internet.
	PublicBaseURL string `env:"BRIDGE_PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`

	ElepaySecretKey string `env:"ELEPAY_SECRET_KEY"`
	ElepayAPIHost   string `env:"ELEPAY_API_HOST" envDefault:"https://api.elepay.io"`
	ElepayAdminHost string `env:"ELEPAY_ADMIN_HOST" envDefault:"https://admin.elepay.io"`

	PaymentMethodsInfoURL string `env:"PAYMENT_METHODS_INFO_URL" envDefault:"https://resource.elecdn.com/payment-methods/meta.json"`
	Locale                string `env:"BRIDGE_LOCALE" envDefault:"ja"`

	ShopBaseURL     string `env:"SHOP_BASE_URL" envDefault:"http://localhost:8000"`
	ShopCompleteURL string `env:"SHOP_COMPLETE_URL" envDefault:"http://localhost:8000/shopping/complete"`
	ShopCartURL     string `env:"SHOP_CART_URL" envDefault:"http://localhost:8000/cart"`
	ShopErrorURL    string `env:"SHOP_ERROR_URL" envDefault:"http://localhost:8000/shopping/error"`

	KafkaBrokerURL      string `env:"KAFKA_BROKER_URL" envDefault:"localhost:9092"`
	KafkaOrderPaidTopic string `env:"KAFKA_ORDER_PAID_TOPIC" envDefault:"order_paid_events"`

	MigrationsPath     string        `env:"BRIDGE_MIGRATIONS_PATH" envDefault:"file://migrations"`
	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	OutboxPollTimeout  time.Duration `env:"OUTBOX_POLL_TIMEOUT" envDefault:"500ms"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.ElepaySecretKey == "" {
		return nil, fmt.Errorf("ENV ELEPAY_SECRET_KEY must be set")
	}
	return cfg, nil
}

func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func (c *Config) GetDBMigrationConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

func (c *Config) GetKafkaBrokers() []string {
	return strings.Split(c.KafkaBrokerURL, ",")
}
