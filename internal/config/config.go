package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config представляет структуру конфигурации для приложения.
type Config struct {
	App struct {
		Port string `mapstructure:"port"`
		Env  string `mapstructure:"env"`
	} `mapstructure:"app"`
	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
	} `mapstructure:"kafka"`
	Stripe struct {
		APIKey        string `mapstructure:"apiKey"`
		WebhookSecret string `mapstructure:"webhookSecret"`
		SuccessURL    string `mapstructure:"successUrl"`
		CancelURL     string `mapstructure:"cancelUrl"`
		Currency      string `mapstructure:"currency"`
	} `mapstructure:"stripe"`
	Auth struct {
		JWTSecret string `mapstructure:"jwtSecret"`
	} `mapstructure:"auth"`
	Progress struct {
		FlushInterval time.Duration `mapstructure:"flushInterval"`
		BatchSize     int           `mapstructure:"batchSize"`
		StoreTimeout  time.Duration `mapstructure:"storeTimeout"`
	} `mapstructure:"progress"`
	Sweeper struct {
		Interval     time.Duration `mapstructure:"interval"`
		StoreTimeout time.Duration `mapstructure:"storeTimeout"`
	} `mapstructure:"sweeper"`
}

// LoadConfig загружает конфигурацию из файла или переменных окружения.
func LoadConfig(path string) (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		// Файл .env опционален при локальной разработке
		_ = godotenv.Load(path)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.AutomaticEnv() // Чтение переменных окружения

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Конфиг-файл опционален: значения по умолчанию + переменные окружения
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("app.port", "8080")
	viper.SetDefault("app.env", "development")
	viper.SetDefault("stripe.currency", "myr")
	viper.SetDefault("progress.flushInterval", 5*time.Second)
	viper.SetDefault("progress.batchSize", 50)
	viper.SetDefault("progress.storeTimeout", 3*time.Second)
	viper.SetDefault("sweeper.interval", time.Minute)
	viper.SetDefault("sweeper.storeTimeout", 3*time.Second)
}
