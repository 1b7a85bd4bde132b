package framework_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"finetune-pipeline/internal/core/framework"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeTrainer = `#!/bin/sh
while [ $# -gt 0 ]; do
	case "$1" in
		--job) job="$2"; shift 2 ;;
		--result) result="$2"; shift 2 ;;
		--model-dir) model="$2"; shift 2 ;;
		*) shift ;;
	esac
done
mkdir -p "$model"
echo weights > "$model/model.onnx"
cp "$job" "$model/job.json"
echo '{"global_step": 3, "training_loss": 0.5, "metrics": {"train_runtime": 1.5}}' > "$result"
`

const failingTrainer = `#!/bin/sh
echo "CUDA out of memory" >&2
exit 3
`

func writeScript(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "trainer.sh")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0755))
	return path
}

func TestCommandFrameworkTrainAndSave(t *testing.T) {
	fw, err := framework.NewCommandFramework([]string{"sh", writeScript(t, fakeTrainer)})
	require.NoError(t, err)
	defer fw.Close()

	ctx := context.Background()

	model, err := fw.LoadModel(ctx, "gpt2")
	require.NoError(t, err)
	assert.Equal(t, "gpt2", model.Name)
	assert.Empty(t, model.Path)

	out, err := fw.Train(ctx, framework.TrainJob{
		Model:       model,
		Args:        framework.TrainingArguments{OutputDir: "out", NumTrainEpochs: 3, Seed: 42},
		Collator:    framework.Collator{Name: "DataCollatorForLanguageModeling"},
		DatasetPath: "/data/dataset.jsonl",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, out.GlobalStep)
	assert.Equal(t, 0.5, out.TrainingLoss)
	assert.Equal(t, map[string]float64{"train_runtime": 1.5}, out.Metrics)
	assert.Equal(t, "gpt2", out.Model.Name)
	require.DirExists(t, out.Model.Path)

	dest := filepath.Join(t.TempDir(), "artifact")
	require.NoError(t, fw.SaveModel(ctx, out.Model, dest))
	assert.FileExists(t, filepath.Join(dest, "model.onnx"))

	data, err := os.ReadFile(filepath.Join(dest, "job.json"))
	require.NoError(t, err)
	var job framework.TrainJob
	require.NoError(t, json.Unmarshal(data, &job))
	assert.Equal(t, "/data/dataset.jsonl", job.DatasetPath)
	assert.Equal(t, 42, job.Args.Seed)
	assert.Equal(t, "DataCollatorForLanguageModeling", job.Collator.Name)

	assert.NoDirExists(t, out.Model.Path)
	assert.NoDirExists(t, filepath.Dir(out.Model.Path))
}

func stagingDirs(t *testing.T, tmp string) []string {
	matches, err := filepath.Glob(filepath.Join(tmp, "train-job-*"))
	require.NoError(t, err)
	return matches
}

func TestCommandFrameworkRemovesStagingAfterSave(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	fw, err := framework.NewCommandFramework([]string{"sh", writeScript(t, fakeTrainer)})
	require.NoError(t, err)
	defer fw.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		out, err := fw.Train(ctx, framework.TrainJob{Model: framework.ModelRef{Name: "gpt2"}})
		require.NoError(t, err)
		assert.Len(t, stagingDirs(t, tmp), 1)

		dest := filepath.Join(t.TempDir(), "artifact")
		require.NoError(t, fw.SaveModel(ctx, out.Model, dest))
		assert.FileExists(t, filepath.Join(dest, "model.onnx"))
		assert.Empty(t, stagingDirs(t, tmp))
	}
}

func TestCommandFrameworkRemovesStagingOnFailure(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	fw, err := framework.NewCommandFramework([]string{"sh", writeScript(t, failingTrainer)})
	require.NoError(t, err)
	defer fw.Close()

	_, err = fw.Train(context.Background(), framework.TrainJob{Model: framework.ModelRef{Name: "gpt2"}})
	require.Error(t, err)
	assert.Empty(t, stagingDirs(t, tmp))
}

func TestCommandFrameworkCloseRemovesUnsavedStaging(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	fw, err := framework.NewCommandFramework([]string{"sh", writeScript(t, fakeTrainer)})
	require.NoError(t, err)

	_, err = fw.Train(context.Background(), framework.TrainJob{Model: framework.ModelRef{Name: "gpt2"}})
	require.NoError(t, err)
	require.Len(t, stagingDirs(t, tmp), 1)

	fw.Close()
	assert.Empty(t, stagingDirs(t, tmp))
}

func TestCommandFrameworkFailure(t *testing.T) {
	fw, err := framework.NewCommandFramework([]string{"sh", writeScript(t, failingTrainer)})
	require.NoError(t, err)
	defer fw.Close()

	_, err = fw.Train(context.Background(), framework.TrainJob{Model: framework.ModelRef{Name: "gpt2"}})
	require.Error(t, err)
	assert.ErrorContains(t, err, "CUDA out of memory")
}

func TestCommandFrameworkLocalModel(t *testing.T) {
	fw, err := framework.NewCommandFramework([]string{"true"})
	require.NoError(t, err)

	dir := t.TempDir()
	model, err := fw.LoadModel(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, dir, model.Path)

	_, err = fw.LoadModel(context.Background(), " ")
	assert.Error(t, err)
}

func TestCommandFrameworkSaveWithoutWeights(t *testing.T) {
	fw, err := framework.NewCommandFramework([]string{"true"})
	require.NoError(t, err)

	err = fw.SaveModel(context.Background(), framework.ModelRef{Name: "gpt2"}, t.TempDir())
	assert.Error(t, err)
}

func TestNewFramework(t *testing.T) {
	_, err := framework.New(framework.Options{Backend: "command"})
	assert.Error(t, err)

	_, err = framework.New(framework.Options{Backend: "plugin"})
	assert.Error(t, err)

	_, err = framework.New(framework.Options{Backend: "mystery", Command: []string{"true"}})
	assert.Error(t, err)

	fw, err := framework.New(framework.Options{Command: []string{"true"}})
	require.NoError(t, err)
	assert.IsType(t, &framework.CommandFramework{}, fw)
}
