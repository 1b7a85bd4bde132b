package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v2"
)

// Env holds the process level settings read from the environment.
type Env struct {
	ConfigPath       string `env:"CONFIG_PATH" envDefault:"config/config.yaml"`
	APIPort          int    `env:"API_PORT" envDefault:"8000"`
	AimlAPIKey       string `env:"AIMLAPI_KEY"`
	DatabaseURL      string `env:"DATABASE_URL"`
	OnnxRuntimeDylib string `env:"ONNX_RUNTIME_DYLIB"`
	Root             string `env:"ROOT" envDefault:"."`
}

func LoadEnv() (Env, error) {
	// Load .env file if it exists (useful for local development)
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	var cfg Env
	if err := env.Parse(&cfg); err != nil {
		return Env{}, fmt.Errorf("error parsing environment: %w", err)
	}
	return cfg, nil
}

type Config struct {
	API      APIConfig      `json:"api" yaml:"api" toml:"api"`
	Model    ModelConfig    `json:"model" yaml:"model" toml:"model"`
	Training TrainingConfig `json:"training" yaml:"training" toml:"training"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging" toml:"logging"`
	Serving  ServingConfig  `json:"serving" yaml:"serving" toml:"serving"`
	Storage  StorageConfig  `json:"storage" yaml:"storage" toml:"storage"`
	Database DatabaseConfig `json:"database" yaml:"database" toml:"database"`
}

type APIConfig struct {
	AimlAPIKey     string `json:"aimlapi_key" yaml:"aimlapi_key" toml:"aimlapi_key"`
	AimlAPIBaseURL string `json:"aimlapi_base_url" yaml:"aimlapi_base_url" toml:"aimlapi_base_url"`
	Model          string `json:"model" yaml:"model" toml:"model"`

	// Provider selects the chat completion client, "openai" or "langchain".
	Provider string `json:"provider" yaml:"provider" toml:"provider"`
}

type ModelConfig struct {
	BaseModel         string `json:"base_model" yaml:"base_model" toml:"base_model"`
	FinetunedModelDir string `json:"finetuned_model_dir" yaml:"finetuned_model_dir" toml:"finetuned_model_dir"`
	MaxLength         int    `json:"max_length" yaml:"max_length" toml:"max_length"`
}

type TrainingConfig struct {
	Epochs             int     `json:"epochs" yaml:"epochs" toml:"epochs"`
	BatchSize          int     `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	LearningRate       float64 `json:"learning_rate" yaml:"learning_rate" toml:"learning_rate"`
	SaveSteps          int     `json:"save_steps" yaml:"save_steps" toml:"save_steps"`
	SaveTotalLimit     int     `json:"save_total_limit" yaml:"save_total_limit" toml:"save_total_limit"`
	LoggingSteps       int     `json:"logging_steps" yaml:"logging_steps" toml:"logging_steps"`
	EvaluationStrategy string  `json:"evaluation_strategy" yaml:"evaluation_strategy" toml:"evaluation_strategy"`
	LoadBestModelAtEnd bool    `json:"load_best_model_at_end" yaml:"load_best_model_at_end" toml:"load_best_model_at_end"`
	MetricForBestModel string  `json:"metric_for_best_model" yaml:"metric_for_best_model" toml:"metric_for_best_model"`
	GreaterIsBetter    *bool   `json:"greater_is_better" yaml:"greater_is_better" toml:"greater_is_better"`
	Seed               *int    `json:"seed" yaml:"seed" toml:"seed"`
	DataCollator       string  `json:"data_collator" yaml:"data_collator" toml:"data_collator"`

	Backend          string   `json:"backend" yaml:"backend" toml:"backend"`
	Command          []string `json:"command" yaml:"command" toml:"command"`
	PluginPath       string   `json:"plugin_path" yaml:"plugin_path" toml:"plugin_path"`
	CleanupOnFailure *bool    `json:"cleanup_on_failure" yaml:"cleanup_on_failure" toml:"cleanup_on_failure"`
}

type LoggingConfig struct {
	LoggingDir string `json:"logging_dir" yaml:"logging_dir" toml:"logging_dir"`
}

type ServingConfig struct {
	UseCuda bool `json:"use_cuda" yaml:"use_cuda" toml:"use_cuda"`
}

type StorageConfig struct {
	Bucket          string `json:"bucket" yaml:"bucket" toml:"bucket"`
	S3Endpoint      string `json:"s3_endpoint" yaml:"s3_endpoint" toml:"s3_endpoint"`
	S3Region        string `json:"s3_region" yaml:"s3_region" toml:"s3_region"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id" toml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key" toml:"secret_access_key"`
	LocalDir        string `json:"local_dir" yaml:"local_dir" toml:"local_dir"`
}

type DatabaseConfig struct {
	URL string `json:"url" yaml:"url" toml:"url"`
}

// Load reads a configuration document based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("empty config path")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config %s: %w", path, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".json":
		err = json.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		return nil, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing config %s: %w", path, err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

const (
	DefaultBaseModel         = "gpt2"
	DefaultFinetunedModelDir = "models"
	DefaultLoggingDir        = "logs"
	DefaultAimlAPIBaseURL    = "https://api.aimlapi.com/v1"
)

func (c *Config) applyDefaults() {
	if c.API.AimlAPIBaseURL == "" {
		c.API.AimlAPIBaseURL = DefaultAimlAPIBaseURL
	}
	if c.Model.BaseModel == "" {
		c.Model.BaseModel = DefaultBaseModel
	}
	if c.Model.FinetunedModelDir == "" {
		c.Model.FinetunedModelDir = DefaultFinetunedModelDir
	}
	if c.Logging.LoggingDir == "" {
		c.Logging.LoggingDir = DefaultLoggingDir
	}
}

// ApplyEnv lets the environment override secrets from the document.
func (c *Config) ApplyEnv(e Env) {
	if e.AimlAPIKey != "" {
		c.API.AimlAPIKey = e.AimlAPIKey
	}
	if e.DatabaseURL != "" {
		c.Database.URL = e.DatabaseURL
	}
}

// CleanupOnFailureOrDefault treats an unset cleanup_on_failure as true.
func (t TrainingConfig) CleanupOnFailureOrDefault() bool {
	if t.CleanupOnFailure == nil {
		return true
	}
	return *t.CleanupOnFailure
}
