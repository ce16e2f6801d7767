package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	StorageMongo  = "mongodb"
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

type Config struct {
	Env      string         `yaml:"env" env:"ENV" env-default:"local"`
	Storage  StorageConfig  `yaml:"storage"`
	Tokens   TokensConfig   `yaml:"tokens"`
	Password PasswordConfig `yaml:"password"`
	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Cookies  CookiesConfig  `yaml:"cookies"`
	Redis    RedisConfig    `yaml:"redis"`
	Media    MediaConfig    `yaml:"media"`
}

type StorageConfig struct {
	Type    string        `yaml:"type" env:"STORAGE_TYPE" env-default:"sqlite"`
	Path    string        `yaml:"path" env:"STORAGE_PATH" env-default:"./storage/accounts.db"`
	Timeout time.Duration `yaml:"timeout" env:"STORAGE_TIMEOUT" env-default:"5s"`
	Mongo   MongoConfig   `yaml:"mongo"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" env:"MONGO_URI"`
	Database string `yaml:"database" env:"MONGO_DATABASE" env-default:"accounts"`
}

type TokensConfig struct {
	AccessSecret  string        `yaml:"access_secret" env:"ACCESS_TOKEN_SECRET" env-required:"true"`
	AccessTTL     time.Duration `yaml:"access_ttl" env:"ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshSecret string        `yaml:"refresh_secret" env:"REFRESH_TOKEN_SECRET" env-required:"true"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl" env:"REFRESH_TOKEN_TTL" env-default:"240h"`
	Issuer        string        `yaml:"issuer" env:"TOKEN_ISSUER" env-default:"accounts"`
}

type PasswordConfig struct {
	Algorithm  string `yaml:"algorithm" env:"PASSWORD_ALGORITHM" env-default:"bcrypt"`
	BcryptCost int    `yaml:"bcrypt_cost" env:"PASSWORD_BCRYPT_COST" env-default:"10"`
}

type HTTPConfig struct {
	Port           int           `yaml:"port" env:"HTTP_PORT" env-default:"8000"`
	Timeout        time.Duration `yaml:"timeout" env:"HTTP_TIMEOUT" env-default:"10s"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
	CORSOrigins    []string      `yaml:"cors_origins" env:"CORS_ORIGINS" env-separator:","`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" env:"HTTP_MAX_UPLOAD_BYTES" env-default:"10485760"`
}

type GRPCConfig struct {
	Port int `yaml:"port" env:"GRPC_PORT" env-default:"44044"`
}

type CookiesConfig struct {
	Secure   bool   `yaml:"secure" env:"COOKIE_SECURE" env-default:"true"`
	SameSite string `yaml:"same_site" env:"COOKIE_SAME_SITE" env-default:"lax"`
	Domain   string `yaml:"domain" env:"COOKIE_DOMAIN"`
}

// RedisConfig configures login throttling. An empty Addr disables it.
type RedisConfig struct {
	Addr             string        `yaml:"addr" env:"REDIS_ADDR"`
	Password         string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB               int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	MaxLoginAttempts int           `yaml:"max_login_attempts" env:"REDIS_MAX_LOGIN_ATTEMPTS" env-default:"5"`
	LoginCooldown    time.Duration `yaml:"login_cooldown" env:"REDIS_LOGIN_COOLDOWN" env-default:"15m"`
}

type MediaConfig struct {
	StagingDir string   `yaml:"staging_dir" env:"MEDIA_STAGING_DIR" env-default:"./public/temp"`
	S3         S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint" env:"S3_ENDPOINT"`
	Region    string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	Bucket    string `yaml:"bucket" env:"S3_BUCKET"`
	AccessKey string `yaml:"access_key" env:"S3_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"S3_SECRET_KEY"`
	PublicURL string `yaml:"public_url" env:"S3_PUBLIC_URL"`
	KeyPrefix string `yaml:"key_prefix" env:"S3_KEY_PREFIX" env-default:"avatars"`
}

// MustLoad loads the config from the path given by the --config flag or the
// CONFIG_PATH environment variable and panics on failure.
func MustLoad() *Config {
	path := fetchConfigPath()
	if path == "" {
		panic("config path is empty")
	}

	cfg, err := Load(path)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	return cfg
}

// Load reads the YAML file at path. Variables from a .env file in the
// working directory, when present, take part in environment overrides.
func Load(path string) (*Config, error) {
	const op = "config.Load"

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: .env: %w", op, err)
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%s: config file not found: %w", op, err)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Type {
	case StorageMongo:
		if c.Storage.Mongo.URI == "" {
			return errors.New("storage.mongo.uri is required for mongodb storage")
		}
	case StorageSQLite:
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for sqlite storage")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}

	if c.Tokens.AccessSecret == c.Tokens.RefreshSecret {
		return errors.New("tokens.access_secret and tokens.refresh_secret must differ")
	}

	return nil
}

// fetchConfigPath fetches config path from command line flag or environment variable.
// Priority: flag > env > default.
// Default value is empty string.
func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
