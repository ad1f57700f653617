package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	IdentityServiceURL string `yaml:"identityServiceURL"`
	IdentityJWKSURL    string `yaml:"identityJWKSURL"`
	IdentityAPIKey     string `yaml:"identityAPIKey"`
	JWTIssuer          string `yaml:"jwtIssuer"`
	JWTAudience        string `yaml:"jwtAudience"`
	JWTLeewaySeconds   int    `yaml:"jwtLeewaySeconds"`

	GeminiAPIKey    string `yaml:"geminiAPIKey"`
	GenerationModel string `yaml:"generationModel"`

	ClipDropAPIKey  string `yaml:"clipDropAPIKey"`
	ClipDropBaseURL string `yaml:"clipDropBaseURL"`

	CDNBaseURL string `yaml:"cdnBaseURL"`
	CDNAPIKey  string `yaml:"cdnAPIKey"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`

	UploadDir         string   `yaml:"uploadDir"`
	MaxUploadBytes    int64    `yaml:"maxUploadBytes"`
	AllowedExtensions []string `yaml:"allowedExtensions"`

	GenerateRateLimitPerMinute int `yaml:"generateRateLimitPerMinute"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("IDENTITY_SERVICE_URL"); v != "" {
		cfg.IdentityServiceURL = v
	}
	if v := os.Getenv("IDENTITY_JWKS_URL"); v != "" {
		cfg.IdentityJWKSURL = v
	}
	if v := os.Getenv("IDENTITY_API_KEY"); v != "" {
		cfg.IdentityAPIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv("GEMINI_GENERATION_MODEL"); v != "" {
		cfg.GenerationModel = v
	}
	if v := os.Getenv("CLIPDROP_API_KEY"); v != "" {
		cfg.ClipDropAPIKey = v
	}
	if v := os.Getenv("CDN_API_KEY"); v != "" {
		cfg.CDNAPIKey = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("GENERATE_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GenerateRateLimitPerMinute = n
		}
	}

	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.GenerateRateLimitPerMinute <= 0 {
		cfg.GenerateRateLimitPerMinute = 30
	}
	if cfg.AMQPExchange == "" {
		cfg.AMQPExchange = "craftai.events"
	}
	if cfg.MinioBucket == "" {
		cfg.MinioBucket = "craftai"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.IdentityServiceURL == "" {
		return errors.New("config: identityServiceURL is required (set in config.yaml)")
	}
	if cfg.IdentityJWKSURL == "" {
		return errors.New("config: identityJWKSURL is required (set in config.yaml)")
	}
	if cfg.GeminiAPIKey == "" {
		return errors.New("config: geminiAPIKey is required (set in config.yaml or GEMINI_API_KEY)")
	}
	if cfg.GenerationModel == "" {
		return errors.New("config: generationModel is required (set in config.yaml)")
	}
	if cfg.ClipDropAPIKey == "" {
		return errors.New("config: clipDropAPIKey is required (set in config.yaml or CLIPDROP_API_KEY)")
	}
	if cfg.CDNBaseURL == "" {
		return errors.New("config: cdnBaseURL is required (set in config.yaml)")
	}
	if cfg.CDNAPIKey == "" {
		return errors.New("config: cdnAPIKey is required (set in config.yaml or CDN_API_KEY)")
	}
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml)")
	}
	if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
		return errors.New("config: minio credentials are required (set in config.yaml or MINIO_ACCESS_KEY/MINIO_SECRET_KEY)")
	}
	return nil
}
