package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Auth      AuthConfig      `yaml:"auth"`
	Users     []User          `yaml:"users"`
	Store     StoreConfig     `yaml:"store"`
	Storage   StorageConfig   `yaml:"storage"`
	Minio     MinioConfig     `yaml:"minio"`
	S3        S3Config        `yaml:"s3"`
	GCS       GCSConfig       `yaml:"gcs"`
	Upload    UploadConfig    `yaml:"upload"`
	AI        AIConfig        `yaml:"ai"`
	Extract   ExtractConfig   `yaml:"extract"`
	Mineru    MineruConfig    `yaml:"mineru"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Sweep     SweepConfig     `yaml:"sweep"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TrustedProxies  []string      `yaml:"trusted_proxies"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

// User is a statically configured account. Password may be a bcrypt hash
// or, for local setups, plain text.
type User struct {
	ID       string `yaml:"id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Tenant   string `yaml:"tenant"`
}

// StoreConfig selects the relational store for contract records.
type StoreConfig struct {
	Driver       string `yaml:"driver"` // memory, postgres, sqlite
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxContracts int    `yaml:"max_contracts"` // memory driver only, evicts settled records and their blobs, 0 = unlimited
}

// StorageConfig selects the blob store backend.
type StorageConfig struct {
	Backend      string        `yaml:"backend"` // minio, s3, gcs, memory
	SignedURLTTL time.Duration `yaml:"signed_url_ttl"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // optional, for MinIO/LocalStack
}

type GCSConfig struct {
	Bucket string `yaml:"bucket"`
}

type UploadConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`
}

// AIConfig configures the completion backend and the analysis worker pool.
type AIConfig struct {
	Provider          string        `yaml:"provider"` // gemini, vertex, openai
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"` // openai compatible endpoints
	Project           string        `yaml:"project"`  // vertex
	Location          string        `yaml:"location"` // vertex
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	MaxInputChars     int           `yaml:"max_input_chars"`
	Workers           int           `yaml:"workers"`
	QueueSize         int           `yaml:"queue_size"`
}

type ExtractConfig struct {
	Backend string `yaml:"backend"` // local, mineru
}

type MineruConfig struct {
	APIURL       string        `yaml:"api_url"`
	APIToken     string        `yaml:"api_token"`
	ModelVersion string        `yaml:"model_version"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxPolls     int           `yaml:"max_polls"`
}

// RateLimitConfig configures admission control. Policies are keyed by
// category name and merged over the built-in defaults.
type RateLimitConfig struct {
	Store    string                  `yaml:"store"` // memory, redis
	MaxKeys  int                     `yaml:"max_keys"`
	Redis    RedisConfig             `yaml:"redis"`
	Policies map[string]PolicyConfig `yaml:"policies"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type PolicyConfig struct {
	Window            time.Duration `yaml:"window"`
	MaxRequests       int           `yaml:"max_requests"`
	CountOnlyFailures bool          `yaml:"count_only_failures"`
	Message           string        `yaml:"message"`
	FailClosed        bool          `yaml:"fail_closed"`

	// set when the file names the flag, so false can override a default
	countOnlyFailuresSet bool
	failClosedSet        bool
}

// UnmarshalYAML decodes a policy and remembers which flags were given.
func (p *PolicyConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Window            time.Duration `yaml:"window"`
		MaxRequests       int           `yaml:"max_requests"`
		CountOnlyFailures *bool         `yaml:"count_only_failures"`
		Message           string        `yaml:"message"`
		FailClosed        *bool         `yaml:"fail_closed"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	*p = PolicyConfig{Window: raw.Window, MaxRequests: raw.MaxRequests, Message: raw.Message}
	if raw.CountOnlyFailures != nil {
		p.CountOnlyFailures = *raw.CountOnlyFailures
		p.countOnlyFailuresSet = true
	}
	if raw.FailClosed != nil {
		p.FailClosed = *raw.FailClosed
		p.failClosedSet = true
	}
	return nil
}

// SweepConfig controls recovery of contracts stuck in processing.
type SweepConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Interval     time.Duration `yaml:"interval"`
	StaleAfter   time.Duration `yaml:"stale_after"`
	AbandonAfter time.Duration `yaml:"abandon_after"`
	BatchSize    int           `yaml:"batch_size"`
}

// Rate limit policy names
const (
	PolicyAuth   = "auth"
	PolicyUpload = "upload"
	PolicyAI     = "ai"
	PolicyAPI    = "api"
	PolicyStrict = "strict"
)

// DefaultPolicies returns the built-in admission policies.
func DefaultPolicies() map[string]PolicyConfig {
	return map[string]PolicyConfig{
		PolicyAuth: {
			Window:            15 * time.Minute,
			MaxRequests:       5,
			CountOnlyFailures: true,
			Message:           "Too many authentication attempts. Please try again later.",
			FailClosed:        true,
		},
		PolicyUpload: {
			Window:      time.Hour,
			MaxRequests: 10,
			Message:     "Upload limit exceeded. Please try again later.",
		},
		PolicyAI: {
			Window:      15 * time.Minute,
			MaxRequests: 30,
			Message:     "AI request limit exceeded. Please slow down.",
		},
		PolicyAPI: {
			Window:      15 * time.Minute,
			MaxRequests: 100,
			Message:     "Too many requests. Please try again later.",
		},
		PolicyStrict: {
			Window:      time.Hour,
			MaxRequests: 5,
			Message:     "Operation limit exceeded. Please try again later.",
			FailClosed:  true,
		},
	}
}

// Load reads a YAML config file, expanding ${VAR} references from the
// environment, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 60 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Auth.TokenExpireHours == 0 {
		c.Auth.TokenExpireHours = 24
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Store.MaxOpenConns == 0 {
		c.Store.MaxOpenConns = 10
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "minio"
	}
	if c.Storage.SignedURLTTL == 0 {
		c.Storage.SignedURLTTL = time.Hour
	}
	if c.S3.Region == "" {
		c.S3.Region = "us-east-1"
	}
	if c.Upload.MaxBytes == 0 {
		c.Upload.MaxBytes = 10 << 20
	}
	if c.AI.Provider == "" {
		c.AI.Provider = "gemini"
	}
	if c.AI.Model == "" {
		switch c.AI.Provider {
		case "openai":
			c.AI.Model = "gpt-4o"
		default:
			c.AI.Model = "gemini-1.5-pro"
		}
	}
	if c.AI.Timeout == 0 {
		c.AI.Timeout = 60 * time.Second
	}
	if c.AI.RequestsPerSecond == 0 {
		c.AI.RequestsPerSecond = 2
	}
	if c.AI.MaxInputChars == 0 {
		c.AI.MaxInputChars = 200_000
	}
	if c.AI.Workers == 0 {
		c.AI.Workers = 4
	}
	if c.AI.QueueSize == 0 {
		c.AI.QueueSize = 100
	}
	if c.Extract.Backend == "" {
		c.Extract.Backend = "local"
	}
	if c.Mineru.ModelVersion == "" {
		c.Mineru.ModelVersion = "vlm"
	}
	if c.Mineru.PollInterval == 0 {
		c.Mineru.PollInterval = 5 * time.Second
	}
	if c.Mineru.MaxPolls == 0 {
		c.Mineru.MaxPolls = 60
	}
	if c.RateLimit.Store == "" {
		c.RateLimit.Store = "memory"
	}
	if c.RateLimit.MaxKeys == 0 {
		c.RateLimit.MaxKeys = 100_000
	}
	if c.RateLimit.Redis.Prefix == "" {
		c.RateLimit.Redis.Prefix = "rl:"
	}
	policies := DefaultPolicies()
	for name, p := range c.RateLimit.Policies {
		base, ok := policies[name]
		if !ok {
			policies[name] = p
			continue
		}
		if p.Window != 0 {
			base.Window = p.Window
		}
		if p.MaxRequests != 0 {
			base.MaxRequests = p.MaxRequests
		}
		if p.Message != "" {
			base.Message = p.Message
		}
		if p.countOnlyFailuresSet {
			base.CountOnlyFailures = p.CountOnlyFailures
		}
		if p.failClosedSet {
			base.FailClosed = p.FailClosed
		}
		policies[name] = base
	}
	c.RateLimit.Policies = policies
	if c.Sweep.Interval == 0 {
		c.Sweep.Interval = 5 * time.Minute
	}
	if c.Sweep.StaleAfter == 0 {
		c.Sweep.StaleAfter = 15 * time.Minute
	}
	if c.Sweep.AbandonAfter == 0 {
		c.Sweep.AbandonAfter = 24 * time.Hour
	}
	if c.Sweep.BatchSize == 0 {
		c.Sweep.BatchSize = 50
	}
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	switch c.Storage.Backend {
	case "memory":
	case "minio":
		if c.Minio.Endpoint == "" || c.Minio.Bucket == "" {
			return fmt.Errorf("minio.endpoint and minio.bucket are required")
		}
	case "s3":
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket is required")
		}
	case "gcs":
		if c.GCS.Bucket == "" {
			return fmt.Errorf("gcs.bucket is required")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.Storage.Backend)
	}
	switch c.AI.Provider {
	case "gemini", "openai":
	case "vertex":
		if c.AI.Project == "" || c.AI.Location == "" {
			return fmt.Errorf("ai.project and ai.location are required for vertex")
		}
	default:
		return fmt.Errorf("unsupported ai provider: %s", c.AI.Provider)
	}
	switch c.RateLimit.Store {
	case "memory":
	case "redis":
		if c.RateLimit.Redis.Addr == "" {
			return fmt.Errorf("rate_limit.redis.addr is required")
		}
	default:
		return fmt.Errorf("unsupported rate limit store: %s", c.RateLimit.Store)
	}
	for name, p := range c.RateLimit.Policies {
		if p.Window <= 0 || p.MaxRequests <= 0 {
			return fmt.Errorf("rate limit policy %q needs a positive window and max_requests", name)
		}
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
