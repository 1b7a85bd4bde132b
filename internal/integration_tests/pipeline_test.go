package integrationtests

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	backend "finetune-pipeline/internal/api"
	"finetune-pipeline/internal/config"
	"finetune-pipeline/internal/core/datagen"
	"finetune-pipeline/internal/core/finetune"
	"finetune-pipeline/internal/core/framework"
	"finetune-pipeline/internal/core/preprocess"
	"finetune-pipeline/internal/core/serving"
	"finetune-pipeline/internal/database"
	"finetune-pipeline/internal/storage"
	"finetune-pipeline/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completion = `Sure! Here is the dataset you asked for:
[
    {"input": "What is a tort?", "output": "A civil wrong that causes harm."},
    {"input": "What is a contract?", "output": "A legally binding agreement."},
    {"input": "What is negligence?", "output": "A failure to take reasonable care."}
]`

const artifactBucket = "artifacts"

type artifactLoader struct{}

func (artifactLoader) LoadTokenizer(ctx context.Context, path string) (preprocess.Tokenizer, error) {
	if _, err := os.Stat(filepath.Join(path, preprocess.TokenizerFile)); err != nil {
		return nil, err
	}
	return byteTokenizer{}, nil
}

func (artifactLoader) LoadModel(ctx context.Context, path string) (serving.LanguageModel, error) {
	if _, err := os.Stat(filepath.Join(path, serving.ModelFile)); err != nil {
		return nil, err
	}
	return exclaimModel{}, nil
}

func TestTrainPublishPullPredict(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container backed pipeline test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := database.NewDatabase(setupPostgresContainer(t, ctx))
	require.NoError(t, err)

	store, err := storage.NewObjectStore(ctx, config.StorageConfig{
		Bucket:          artifactBucket,
		S3Endpoint:      setupMinioContainer(t, ctx),
		S3Region:        "us-east-1",
		AccessKeyID:     minioUsername,
		SecretAccessKey: minioPassword,
	})
	require.NoError(t, err)
	publisher, err := storage.NewPublisher(ctx, store, artifactBucket)
	require.NoError(t, err)

	llmServer := newCompletionServer(t, completion)
	llm, err := datagen.NewLLM(datagen.LLMConfig{APIKey: "test-key", BaseURL: llmServer.BaseURL(), Model: "test-model"})
	require.NoError(t, err)

	fw, err := framework.New(framework.Options{Command: []string{"sh", writeTrainerScript(t)}})
	require.NoError(t, err)
	defer fw.Close()

	cfg := &config.Config{}
	cfg.Model.BaseModel = "gpt2"
	cfg.Model.MaxLength = 32
	cfg.Training.Epochs = 1
	cfg.Training.BatchSize = 2

	orchestrator := &finetune.Orchestrator{
		Framework: fw,
		LoadTokenizer: func(ctx context.Context, name string) (preprocess.Tokenizer, error) {
			return byteTokenizer{}, nil
		},
		Config: cfg,
	}

	modelRoot := filepath.Join(t.TempDir(), "models")
	cache := serving.NewCache(artifactLoader{}, nil)
	defer cache.Close()

	service := backend.NewPipelineService(db, llm, orchestrator, cache, publisher, modelRoot)
	router := chi.NewRouter()
	service.AddRoutes(router)

	var trained api.TrainResponse
	require.NoError(t, httpRequest(router, "POST", "/train", api.TrainRequest{UseCase: "legal advice"}, &trained))
	assert.Equal(t, "fine-tuning completed", trained.Status)
	assert.Equal(t, filepath.Join(modelRoot, "finetuned_legal_advice"), trained.ModelPath)
	assert.Equal(t, 1, llmServer.Requests())

	var run api.TrainingRun
	require.NoError(t, httpRequest(router, "GET", fmt.Sprintf("/runs/%s", trained.RunId), nil, &run))
	assert.Equal(t, database.RunCompleted, run.Status)
	assert.Equal(t, 3, run.SampleCount)
	assert.Equal(t, map[string]float64{"train_loss": 0.75, "train_runtime": 2.5}, run.Metrics)
	assert.Equal(t, "s3://artifacts/models/finetuned_legal_advice", run.ArtifactURI)

	// Replace the local artifact with the published copy.
	require.NoError(t, os.RemoveAll(trained.ModelPath))
	require.NoError(t, publisher.Fetch(ctx, "finetuned_legal_advice", trained.ModelPath, false))
	assert.FileExists(t, filepath.Join(trained.ModelPath, finetune.MetricsFile))
	assert.FileExists(t, filepath.Join(trained.ModelPath, "job.json"))

	var predicted api.PredictResponse
	require.NoError(t, httpRequest(router, "POST", "/predict", api.PredictRequest{Prompt: "Define tort"}, &predicted))
	assert.Equal(t, "Define tort!", predicted.Prediction)
}
