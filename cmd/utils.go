package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"finetune-pipeline/internal/config"
	"finetune-pipeline/internal/core/datagen"
	"finetune-pipeline/internal/core/finetune"
	"finetune-pipeline/internal/core/framework"
	"finetune-pipeline/internal/storage"

	ort "github.com/yalue/onnxruntime_go"
)

// LoadConfig reads the process environment and the configuration document it
// points at.
func LoadConfig() (config.Env, *config.Config, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return config.Env{}, nil, err
	}

	cfg, err := config.Load(env.ConfigPath)
	if err != nil {
		return config.Env{}, nil, err
	}
	cfg.ApplyEnv(env)

	return env, cfg, nil
}

// SetupLogging tees log output to <root>/<name> and stderr. The returned func
// closes the log file.
func SetupLogging(root, name string) (func(), error) {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(root, os.ModePerm); err != nil {
		return nil, fmt.Errorf("error creating directory for log file: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(root, name), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %w", err)
	}

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	return func() { f.Close() }, nil
}

// InitOnnx loads the ONNX Runtime shared library. The returned func tears the
// environment down.
func InitOnnx(dylib string) (func(), error) {
	if dylib == "" {
		return nil, fmt.Errorf("ONNX_RUNTIME_DYLIB must be set")
	}
	ort.SetSharedLibraryPath(dylib)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("could not init ONNX Runtime: %w", err)
	}

	return func() {
		if err := ort.DestroyEnvironment(); err != nil {
			slog.Error("error destroying onnx env", "error", err)
		}
	}, nil
}

func NewLLM(cfg *config.Config) (datagen.LLM, error) {
	return datagen.NewLLM(datagen.LLMConfig{
		Provider: cfg.API.Provider,
		APIKey:   cfg.API.AimlAPIKey,
		BaseURL:  cfg.API.AimlAPIBaseURL,
		Model:    cfg.API.Model,
	})
}

func NewOrchestrator(cfg *config.Config) (*finetune.Orchestrator, error) {
	fw, err := framework.New(framework.Options{
		Backend:    cfg.Training.Backend,
		Command:    cfg.Training.Command,
		PluginPath: cfg.Training.PluginPath,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating training framework: %w", err)
	}

	return &finetune.Orchestrator{
		Framework:     fw,
		LoadTokenizer: finetune.HFTokenizerLoader,
		Config:        cfg,
	}, nil
}

// NewPublisher returns nil when no artifact bucket is configured.
func NewPublisher(ctx context.Context, cfg *config.Config) (*storage.Publisher, error) {
	store, err := storage.NewObjectStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("error creating object store: %w", err)
	}
	if store == nil {
		return nil, nil
	}

	return storage.NewPublisher(ctx, store, cfg.Storage.Bucket)
}

// DatabaseURL defaults to a sqlite file under root.
func DatabaseURL(cfg *config.Config, root string) string {
	if cfg.Database.URL != "" {
		return cfg.Database.URL
	}
	return "sqlite://" + filepath.Join(root, "finetune.db")
}
