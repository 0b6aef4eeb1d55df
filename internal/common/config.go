package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/docs-ocr-ingest/constants"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	OCR      OCRConfig
	Storage  StorageConfig
	Pollers  []FamilyConfig
	Backfill BackfillConfig
	LogLevel string
	// LogFormat is "json" or "text".
	LogFormat string
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // "postgres" or "sqlite"
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
	AutoMigrate      bool
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string
	HTTPAddr string
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Binary    string
	Language  string
	ExtraArgs []string
	// WorkDir is the root of the input/, output/ and logs/ scratch directories.
	WorkDir         string
	ConverterBinary string
	PassTimeout     time.Duration
}

// InputDir, OutputDir and LogsDir are the per-run scratch locations under WorkDir.
func (c OCRConfig) InputDir() string  { return filepath.Join(c.WorkDir, "input") }
func (c OCRConfig) OutputDir() string { return filepath.Join(c.WorkDir, "output") }
func (c OCRConfig) LogsDir() string   { return filepath.Join(c.WorkDir, "logs") }

// StorageConfig holds the settings of every storage backend.
type StorageConfig struct {
	LocalRoot    string
	AWSRegion    string
	AWSAccessKey string
	AWSSecretKey string
	AWSEndpoint  string
	GCSEnabled   bool
}

// FamilyConfig configures the poller of one document family.
type FamilyConfig struct {
	Name      string
	Enabled   bool
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
}

// BackfillConfig holds the reconciler switch.
type BackfillConfig struct {
	Enabled bool
}

// LoadConfig loads configuration from the environment, after reading an optional .env file.
// When OCR_FAMILIES_FILE is set, the per-family poller settings come from that file.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			Driver:           getEnv("DB_DRIVER", "postgres"),
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 10),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
			AutoMigrate:      getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			GRPCAddr: getEnv("GRPC_ADDR", ":8080"),
			HTTPAddr: getEnv("HTTP_ADDR", ":8081"),
		},
		OCR: OCRConfig{
			Binary:          getEnv("OCR_BINARY", "ocrmypdf"),
			Language:        getEnv("OCR_LANGUAGE", "eng"),
			ExtraArgs:       getEnvAsList("OCR_EXTRA_ARGS", nil),
			WorkDir:         getEnv("OCR_WORK_DIR", "./tmp/ocr"),
			ConverterBinary: getEnv("OFFICE_CONVERTER", ""),
			PassTimeout:     getEnvAsDuration("OCR_PASS_TIMEOUT", 10*time.Minute),
		},
		Storage: StorageConfig{
			LocalRoot:    getEnv("STORAGE_LOCAL_ROOT", "./data"),
			AWSRegion:    getEnv("AWS_REGION", "us-east-2"),
			AWSAccessKey: getEnv("AWS_ACCESS_KEY", ""),
			AWSSecretKey: getEnv("AWS_SECRET_KEY", ""),
			AWSEndpoint:  getEnv("AWS_ENDPOINT", ""),
			GCSEnabled:   getEnvAsBool("GCS_ENABLED", false),
		},
		Backfill: BackfillConfig{
			Enabled: getEnvAsBool("OCR_BACKFILL_ENABLED", false),
		},
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	cfg.Pollers = defaultFamilies()
	if path := getEnv("OCR_FAMILIES_FILE", ""); path != "" {
		families, err := LoadFamiliesFile(path)
		if err != nil {
			return nil, NewAppError(CodeConfig, "load OCR_FAMILIES_FILE", err)
		}
		cfg.Pollers = families
	}
	return cfg, nil
}

// defaultFamilies builds one enabled poller per known family from the OCR_POLL_* variables.
func defaultFamilies() []FamilyConfig {
	interval := getEnvAsDuration("OCR_POLL_INTERVAL", 30*time.Second)
	batch := getEnvAsInt("OCR_POLL_BATCH_SIZE", 5)
	backoff := getEnvAsDuration("OCR_POLL_BACKOFF", 5*time.Second)
	enabled := getEnvAsList("OCR_FAMILIES", constants.Families)

	on := make(map[string]bool, len(enabled))
	for _, f := range enabled {
		on[f] = true
	}
	out := make([]FamilyConfig, 0, len(constants.Families))
	for _, f := range constants.Families {
		out = append(out, FamilyConfig{
			Name:      f,
			Enabled:   on[f],
			Interval:  interval,
			BatchSize: batch,
			Backoff:   backoff,
		})
	}
	return out
}

// EnabledFamilies returns the poller settings whose Enabled flag is set.
func (c *Config) EnabledFamilies() []FamilyConfig {
	var out []FamilyConfig
	for _, f := range c.Pollers {
		if f.Enabled {
			out = append(out, f)
		}
	}
	return out
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma or whitespace separated value.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return NewAppError(CodeConfig, fmt.Sprintf("DB_DRIVER %q is not supported", c.Database.Driver), ErrInvalidInput)
	}
	if c.Database.DSN == "" {
		return NewAppError(CodeConfig, "DB_URL is required", ErrInvalidInput)
	}
	if c.OCR.Binary == "" {
		return NewAppError(CodeConfig, "OCR_BINARY is required", ErrInvalidInput)
	}
	if c.OCR.WorkDir == "" {
		return NewAppError(CodeConfig, "OCR_WORK_DIR is required", ErrInvalidInput)
	}
	for _, f := range c.Pollers {
		if !isKnownFamily(f.Name) {
			return NewAppError(CodeConfig, fmt.Sprintf("unknown family %q", f.Name), ErrInvalidInput)
		}
		if f.Enabled && (f.BatchSize <= 0 || f.Interval <= 0) {
			return NewAppError(CodeConfig, fmt.Sprintf("family %q needs a positive batch size and interval", f.Name), ErrInvalidInput)
		}
	}
	return nil
}

func isKnownFamily(name string) bool {
	for _, f := range constants.Families {
		if f == name {
			return true
		}
	}
	return false
}
