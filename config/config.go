package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EndpointEnv overrides converter.endpoint when set.
const EndpointEnv = "BOOKSCAN_CONVERTER_ENDPOINT"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Converter ConverterConfig `yaml:"converter"`
	Minio     MinioConfig     `yaml:"minio"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Users     []User          `yaml:"users"`
}

type ServerConfig struct {
	Port        int   `yaml:"port"`
	MaxUploadMB int64 `yaml:"max_upload_mb"`
	RateLimit   int   `yaml:"rate_limit"` // requests per minute per client IP
}

// ConverterConfig describes the remote video-to-PDF endpoint.
type ConverterConfig struct {
	Endpoint          string   `yaml:"endpoint"`
	TimeoutSeconds    int      `yaml:"timeout_seconds"`
	GeneratingDelayMS int      `yaml:"generating_delay_ms"`
	DefaultInterval   float64  `yaml:"default_interval"`
	DefaultQuality    string   `yaml:"default_quality"`
	Qualities         []string `yaml:"qualities"`
}

type MinioConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	UseSSL     bool   `yaml:"use_ssl"`
	Region     string `yaml:"region"`
	ExpireDays int    `yaml:"expire_days"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StoreConfig struct {
	MaxConversions int `yaml:"max_conversions"`
}

type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MaxExpireDays is the longest lifetime S3 and MinIO accept for a
// presigned URL.
const MaxExpireDays = 7

var (
	// ErrNoEndpoint is returned by Validate when no converter endpoint is configured.
	ErrNoEndpoint = errors.New("converter endpoint is not configured")
	// ErrExpireDays is returned by Validate for a download link lifetime
	// outside 1..MaxExpireDays.
	ErrExpireDays = fmt.Errorf("minio.expire_days must be between 1 and %d", MaxExpireDays)
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if env := os.Getenv(EndpointEnv); env != "" {
		cfg.Converter.Endpoint = env
	}

	cfg.SetDefaults()

	return &cfg, nil
}

// SetDefaults fills every zero value that has a sensible default.
func (c *Config) SetDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.MaxUploadMB == 0 {
		c.Server.MaxUploadMB = 500
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 100
	}
	c.Converter.SetDefaults()
	if c.Minio.Region == "" {
		c.Minio.Region = "us-east-1"
	}
	if c.Minio.ExpireDays == 0 {
		c.Minio.ExpireDays = 1
	}
	if c.Auth.TokenExpireHours == 0 {
		c.Auth.TokenExpireHours = 24
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Store.MaxConversions == 0 {
		c.Store.MaxConversions = 100
	}
}

func (c *ConverterConfig) SetDefaults() {
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 600
	}
	if c.GeneratingDelayMS == 0 {
		c.GeneratingDelayMS = 800
	}
	if c.DefaultInterval <= 0 {
		c.DefaultInterval = 2
	}
	if c.DefaultQuality == "" {
		c.DefaultQuality = "medium"
	}
	if len(c.Qualities) == 0 {
		c.Qualities = []string{"low", "medium", "high"}
	}
}

func (c *ConverterConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c *ConverterConfig) GeneratingDelay() time.Duration {
	return time.Duration(c.GeneratingDelayMS) * time.Millisecond
}

// Validate reports configuration the server cannot start without.
func (c *Config) Validate() error {
	if c.Converter.Endpoint == "" {
		return ErrNoEndpoint
	}
	if c.Minio.ExpireDays < 1 || c.Minio.ExpireDays > MaxExpireDays {
		return ErrExpireDays
	}
	return nil
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}
