package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	OCR        OCRConfig        `mapstructure:"ocr"`
	Azure      AzureConfig      `mapstructure:"azure"`
	Areas      []AreaConfig     `mapstructure:"areas"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// StorageConfig holds file storage configuration
type StorageConfig struct {
	UploadDir string `mapstructure:"upload_dir"`
}

// ExtractionConfig selects the extraction backend and its policy knobs.
// VATPercent is the flat rate used to back-derive base and tax amounts
// when a document only yields a total.
type ExtractionConfig struct {
	Backend       string  `mapstructure:"backend"`
	VATPercent    float64 `mapstructure:"vat_percent"`
	SearchablePDF bool    `mapstructure:"searchable_pdf"`
}

// OCRConfig holds local recognition configuration
type OCRConfig struct {
	Language string  `mapstructure:"language"`
	Scale    float64 `mapstructure:"scale"`
}

// AzureConfig holds Document Intelligence configuration
type AzureConfig struct {
	Endpoint               string        `mapstructure:"endpoint"`
	APIKey                 string        `mapstructure:"api_key"`
	ModelID                string        `mapstructure:"model_id"`
	APIVersion             string        `mapstructure:"api_version"`
	PollInterval           time.Duration `mapstructure:"poll_interval"`
	MaxAttempts            int           `mapstructure:"max_attempts"`
	SearchablePollInterval time.Duration `mapstructure:"searchable_poll_interval"`
	SearchableMaxAttempts  int           `mapstructure:"searchable_max_attempts"`
}

// AreaConfig is one entry of the Sical area reference list
type AreaConfig struct {
	Code string `mapstructure:"code"`
	Name string `mapstructure:"name"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 60*time.Second)

	// Database defaults
	viper.SetDefault("database.path", "data/facturas.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Storage defaults
	viper.SetDefault("storage.upload_dir", "data/uploads")

	// Extraction defaults
	viper.SetDefault("extraction.backend", "local")
	viper.SetDefault("extraction.vat_percent", 21.0)
	viper.SetDefault("extraction.searchable_pdf", false)

	// OCR defaults
	viper.SetDefault("ocr.language", "spa")
	viper.SetDefault("ocr.scale", 2.0)

	// Azure defaults
	viper.SetDefault("azure.model_id", "prebuilt-invoice")
	viper.SetDefault("azure.api_version", "2023-07-31")
	viper.SetDefault("azure.poll_interval", 1500*time.Millisecond)
	viper.SetDefault("azure.max_attempts", 20)
	viper.SetDefault("azure.searchable_poll_interval", 2*time.Second)
	viper.SetDefault("azure.searchable_max_attempts", 30)

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	// Sensitive credentials from environment
	viper.BindEnv("azure.endpoint", "AZURE_DOCUMENT_INTELLIGENCE_ENDPOINT")
	viper.BindEnv("azure.api_key", "AZURE_DOCUMENT_INTELLIGENCE_KEY")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Extraction.Backend {
	case "local", "remote":
	default:
		return fmt.Errorf("extraction.backend must be \"local\" or \"remote\"")
	}

	if c.Extraction.VATPercent < 0 || c.Extraction.VATPercent > 100 {
		return fmt.Errorf("extraction.vat_percent must be between 0 and 100")
	}

	// Azure credentials are only needed when the remote backend is active
	if c.Extraction.Backend == "remote" {
		if c.Azure.Endpoint == "" {
			return fmt.Errorf("azure.endpoint is required for the remote backend")
		}
		if c.Azure.APIKey == "" {
			return fmt.Errorf("azure.api_key is required for the remote backend")
		}
	}

	return nil
}
