// Package config loads application configuration from a YAML file with
// environment variable overrides. A .env file is honored in development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/LindemannRock/survey-campaigns/internal/phone"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Phone     PhoneConfig     `yaml:"phone"`
	Sites     SitesConfig     `yaml:"sites"`
	SMS       SMSConfig       `yaml:"sms"`
	Email     EmailConfig     `yaml:"email"`
	Shortener ShortenerConfig `yaml:"shortener"`
	Survey    SurveyConfig    `yaml:"survey"`
	Worker    WorkerConfig    `yaml:"worker"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PhoneConfig holds the numbering-plan rules for the deployment region.
type PhoneConfig struct {
	MinDigits   int    `yaml:"min_digits"`
	MaxDigits   int    `yaml:"max_digits"`
	CountryCode string `yaml:"country_code"`
}

// Rules converts the configured plan into phone validation rules.
func (p PhoneConfig) Rules() phone.Rules {
	return phone.Rules{MinDigits: p.MinDigits, MaxDigits: p.MaxDigits, CountryCode: p.CountryCode}
}

// SitesConfig maps import file language values to site ids.
type SitesConfig struct {
	LanguageMap map[string]int64 `yaml:"language_map"`
	DefaultSite int64            `yaml:"default_site"`
}

// SMSConfig holds the SMS gateway settings.
type SMSConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Language string `yaml:"language"`
	SenderID string `yaml:"sender_id"`
}

// EmailConfig holds the mail API settings and sender identity.
type EmailConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
	ReplyTo   string `yaml:"reply_to"`
}

// ShortenerConfig holds the link shortener settings.
type ShortenerConfig struct {
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`
}

// SurveyConfig holds the public survey link settings.
type SurveyConfig struct {
	BaseURL         string `yaml:"base_url"`
	DefaultLanguage string `yaml:"default_language"`
}

// WorkerConfig tunes the dispatch worker pool.
type WorkerConfig struct {
	NumWorkers int `yaml:"num_workers"`
}

// Load reads the YAML file at path and applies defaults. A missing file is
// not an error; defaults plus environment overrides still apply.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Phone.MinDigits == 0 {
		cfg.Phone.MinDigits = 8
	}
	if cfg.Phone.MaxDigits == 0 {
		cfg.Phone.MaxDigits = 13
	}
	if cfg.Phone.CountryCode == "" {
		cfg.Phone.CountryCode = "965"
	}
	if cfg.Sites.LanguageMap == nil {
		cfg.Sites.LanguageMap = map[string]int64{"en": 1, "ar": 2}
	}
	if cfg.Sites.DefaultSite == 0 {
		cfg.Sites.DefaultSite = 1
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.SMS.Language == "" {
		cfg.SMS.Language = "en"
	}
	if cfg.Survey.DefaultLanguage == "" {
		cfg.Survey.DefaultLanguage = "en"
	}
	if cfg.Worker.NumWorkers == 0 {
		cfg.Worker.NumWorkers = 4
	}

	return &cfg, nil
}

// LoadFromEnv loads the YAML file then applies environment overrides.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env if present (development convenience)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = n
		}
	}
	if endpoint := os.Getenv("SMS_GATEWAY_ENDPOINT"); endpoint != "" {
		cfg.SMS.Endpoint = endpoint
	}
	if apiKey := os.Getenv("SMS_GATEWAY_API_KEY"); apiKey != "" {
		cfg.SMS.APIKey = apiKey
	}
	if senderID := os.Getenv("SMS_SENDER_ID"); senderID != "" {
		cfg.SMS.SenderID = senderID
	}
	if apiKey := os.Getenv("SPARKPOST_API_KEY"); apiKey != "" {
		cfg.Email.APIKey = apiKey
	}
	if baseURL := os.Getenv("SPARKPOST_BASE_URL"); baseURL != "" {
		cfg.Email.BaseURL = baseURL
	}
	if token := os.Getenv("BITLY_TOKEN"); token != "" {
		cfg.Shortener.Token = token
	}
	if baseURL := os.Getenv("SURVEY_BASE_URL"); baseURL != "" {
		cfg.Survey.BaseURL = baseURL
	}

	return cfg, nil
}
