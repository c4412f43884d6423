package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
	Database     DatabaseConfig     `yaml:"database"`
	JWT          JWTConfig          `yaml:"jwt"`
	Redis        RedisConfig        `yaml:"redis"`
	Alipay       AlipayConfig       `yaml:"alipay"`
	Storage      StorageConfig      `yaml:"storage"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
}

type ServerConfig struct {
	Host         string   `yaml:"host"`
	Port         string   `yaml:"port"`
	Mode         string   `yaml:"mode"`          // debug, release, test
	AllowOrigins []string `yaml:"allow_origins"` // empty allows any origin
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

type JWTConfig struct {
	Secret     string `yaml:"secret"`
	ExpireHour int    `yaml:"expire_hour"`
}

// RedisConfig backs the payment task queue and the ephemeral cache.
// When disabled, notifications are reconciled inline and the cache is in-process.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AlipayConfig holds the page-pay gateway credentials. Missing keys are fatal at startup.
type AlipayConfig struct {
	AppID          string `yaml:"app_id"`
	NotifyURL      string `yaml:"notify_url"`
	ReturnURL      string `yaml:"return_url"`
	PrivateKeyPath string `yaml:"private_key_path"`
	PublicKeyPath  string `yaml:"public_key_path"`
	Sandbox        bool   `yaml:"sandbox"`
	Subject        string `yaml:"subject"`
}

// StorageConfig configures the S3-compatible object store used for project buckets.
type StorageConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	BucketPrefix string `yaml:"bucket_prefix"`
}

type HousekeepingConfig struct {
	Schedule            string `yaml:"schedule"` // cron expression
	LogRetentionDays    int    `yaml:"log_retention_days"`
	InviteRetentionDays int    `yaml:"invite_retention_days"`
}

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	var cfg *Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = DefaultConfig()
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}

		fileCfg := DefaultConfig()
		if err := yaml.Unmarshal(data, fileCfg); err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	cfg.overrideFromEnv()
	GlobalConfig = cfg
	return cfg, nil
}

// loadDotEnv reads ENV_FILE (default .env) into the process environment
// when it exists. Variables already set win over the file.
func loadDotEnv() error {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
			Mode: "debug",
		},
		Log: LogConfig{
			Level: "info",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "tracer.db",
		},
		JWT: JWTConfig{
			Secret:     "tracer-secret-key-change-in-production",
			ExpireHour: 24,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Alipay: AlipayConfig{
			Sandbox: true,
			Subject: "Tracer membership",
		},
		Storage: StorageConfig{
			Enabled:      false,
			Region:       "us-east-1",
			BucketPrefix: "tracer",
		},
		Housekeeping: HousekeepingConfig{
			Schedule:            "30 3 * * *",
			LogRetentionDays:    30,
			InviteRetentionDays: 7,
		},
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if origins := os.Getenv("ALLOW_ORIGINS"); origins != "" {
		c.Server.AllowOrigins = strings.Split(origins, ",")
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if appID := os.Getenv("ALIPAY_APP_ID"); appID != "" {
		c.Alipay.AppID = appID
	}
	if notifyURL := os.Getenv("ALIPAY_NOTIFY_URL"); notifyURL != "" {
		c.Alipay.NotifyURL = notifyURL
	}
	if returnURL := os.Getenv("ALIPAY_RETURN_URL"); returnURL != "" {
		c.Alipay.ReturnURL = returnURL
	}
	if path := os.Getenv("ALIPAY_PRIVATE_KEY_PATH"); path != "" {
		c.Alipay.PrivateKeyPath = path
	}
	if path := os.Getenv("ALIPAY_PUBLIC_KEY_PATH"); path != "" {
		c.Alipay.PublicKeyPath = path
	}
	if endpoint := os.Getenv("S3_ENDPOINT"); endpoint != "" {
		c.Storage.Enabled = true
		c.Storage.Endpoint = endpoint
	}
	if key := os.Getenv("S3_ACCESS_KEY"); key != "" {
		c.Storage.AccessKey = key
	}
	if secret := os.Getenv("S3_SECRET_KEY"); secret != "" {
		c.Storage.SecretKey = secret
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		// Password format: :password or user:password
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
