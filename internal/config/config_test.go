package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"finetune-pipeline/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
api:
  aimlapi_key: secret
  model: my-model
model:
  base_model: distilgpt2
  finetuned_model_dir: /models
training:
  epochs: 2
  batch_size: 8
  learning_rate: 0.0001
  greater_is_better: false
  command: ["python", "train.py"]
  cleanup_on_failure: false
logging:
  logging_dir: /logs
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.API.AimlAPIKey)
	assert.Equal(t, "my-model", cfg.API.Model)
	assert.Equal(t, config.DefaultAimlAPIBaseURL, cfg.API.AimlAPIBaseURL)
	assert.Equal(t, "distilgpt2", cfg.Model.BaseModel)
	assert.Equal(t, "/models", cfg.Model.FinetunedModelDir)
	assert.Equal(t, 2, cfg.Training.Epochs)
	assert.Equal(t, 8, cfg.Training.BatchSize)
	assert.InDelta(t, 0.0001, cfg.Training.LearningRate, 1e-12)
	require.NotNil(t, cfg.Training.GreaterIsBetter)
	assert.False(t, *cfg.Training.GreaterIsBetter)
	assert.Nil(t, cfg.Training.Seed)
	assert.Equal(t, []string{"python", "train.py"}, cfg.Training.Command)
	assert.False(t, cfg.Training.CleanupOnFailureOrDefault())
	assert.Equal(t, "/logs", cfg.Logging.LoggingDir)
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{"model": {"base_model": "m2", "max_length": 128}, "training": {"seed": 7}}`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "m2", cfg.Model.BaseModel)
	assert.Equal(t, 128, cfg.Model.MaxLength)
	require.NotNil(t, cfg.Training.Seed)
	assert.Equal(t, 7, *cfg.Training.Seed)
	assert.True(t, cfg.Training.CleanupOnFailureOrDefault())
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[model]
base_model = "m3"

[serving]
use_cuda = true

[storage]
bucket = "artifacts"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "m3", cfg.Model.BaseModel)
	assert.True(t, cfg.Serving.UseCuda)
	assert.Equal(t, "artifacts", cfg.Storage.Bucket)
	assert.Equal(t, config.DefaultFinetunedModelDir, cfg.Model.FinetunedModelDir)
	assert.Equal(t, config.DefaultLoggingDir, cfg.Logging.LoggingDir)
}

func TestLoadErrors(t *testing.T) {
	_, err := config.Load("")
	assert.Error(t, err)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = config.Load(writeConfig(t, "config.txt", "not supported"))
	assert.Error(t, err)

	_, err = config.Load(writeConfig(t, "config.yaml", "model: [unterminated"))
	assert.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/etc/pipeline.yaml")
	t.Setenv("AIMLAPI_KEY", "from-env")
	t.Setenv("API_PORT", "9090")

	e, err := config.LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, "/etc/pipeline.yaml", e.ConfigPath)
	assert.Equal(t, 9090, e.APIPort)

	cfg := &config.Config{}
	cfg.API.AimlAPIKey = "from-file"
	cfg.ApplyEnv(e)
	assert.Equal(t, "from-env", cfg.API.AimlAPIKey)
}
