package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL   string
	JWTSecret     []byte
	MessageSecret string
	RedisAddr     string
	RedisPassword string
	Port          string
}

// LoadConfig reads configuration from the environment, loading a local .env
// file first when one exists. RedisAddr is optional; when empty the server
// runs without the cross-node bridge and background push delivery.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		JWTSecret:     []byte(os.Getenv("JWT_SECRET")),
		MessageSecret: os.Getenv("MESSAGE_SECRET"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		Port:          os.Getenv("PORT"),
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.MessageSecret == "" {
		return nil, fmt.Errorf("MESSAGE_SECRET is required")
	}
	return cfg, nil
}
