package shared_test

import (
	"errors"
	"testing"

	"finetune-pipeline/plugin/shared"

	"github.com/hashicorp/go-plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTrainer struct {
	loaded string
	job    shared.TrainJob
	saved  shared.ModelRef
	dir    string
}

func (r *recordingTrainer) LoadModel(name string) (shared.ModelRef, error) {
	r.loaded = name
	return shared.ModelRef{Name: name, Path: "/weights/" + name}, nil
}

func (r *recordingTrainer) Train(job shared.TrainJob) (shared.TrainOutput, error) {
	r.job = job
	return shared.TrainOutput{
		Model:        shared.ModelRef{Name: job.Model.Name, Path: "/staging/model"},
		GlobalStep:   12,
		TrainingLoss: 1.25,
		Metrics:      map[string]float64{"eval_loss": 0.75},
		Predictions:  [][]int32{{1, 2}, {3}},
	}, nil
}

func (r *recordingTrainer) SaveModel(model shared.ModelRef, dir string) error {
	if dir == "" {
		return errors.New("no output dir")
	}
	r.saved, r.dir = model, dir
	return nil
}

func dispense(t *testing.T, impl shared.Trainer) shared.Trainer {
	client, _ := plugin.TestPluginRPCConn(t, map[string]plugin.Plugin{
		shared.PluginName: &shared.TrainerPlugin{Impl: impl},
	}, nil)
	t.Cleanup(func() { client.Close() })

	raw, err := client.Dispense(shared.PluginName)
	require.NoError(t, err)

	trainer, ok := raw.(shared.Trainer)
	require.True(t, ok)
	return trainer
}

func TestTrainerRPCRoundTrip(t *testing.T) {
	impl := &recordingTrainer{}
	trainer := dispense(t, impl)

	model, err := trainer.LoadModel("gpt2")
	require.NoError(t, err)
	assert.Equal(t, "gpt2", impl.loaded)
	assert.Equal(t, shared.ModelRef{Name: "gpt2", Path: "/weights/gpt2"}, model)

	greater := false
	job := shared.TrainJob{
		Model: model,
		Args: shared.TrainingArguments{
			OutputDir:               "models/finetuned_support",
			NumTrainEpochs:          3,
			PerDeviceTrainBatchSize: 4,
			LearningRate:            5e-5,
			EvaluationStrategy:      "epoch",
			LoadBestModelAtEnd:      true,
			MetricForBestModel:      "eval_loss",
			GreaterIsBetter:         &greater,
			Seed:                    42,
		},
		Collator:          shared.Collator{Name: "DataCollatorForLanguageModeling"},
		DatasetPath:       "/tmp/dataset.jsonl",
		TokenizerDir:      "/tmp/tokenizer",
		ReturnPredictions: true,
	}

	out, err := trainer.Train(job)
	require.NoError(t, err)
	assert.Equal(t, job, impl.job)
	require.NotNil(t, impl.job.Args.GreaterIsBetter)
	assert.False(t, *impl.job.Args.GreaterIsBetter)

	assert.Equal(t, 12, out.GlobalStep)
	assert.Equal(t, 1.25, out.TrainingLoss)
	assert.Equal(t, map[string]float64{"eval_loss": 0.75}, out.Metrics)
	assert.Equal(t, [][]int32{{1, 2}, {3}}, out.Predictions)
	assert.Equal(t, "/staging/model", out.Model.Path)

	require.NoError(t, trainer.SaveModel(out.Model, "models/finetuned_support"))
	assert.Equal(t, out.Model, impl.saved)
	assert.Equal(t, "models/finetuned_support", impl.dir)
}

func TestTrainerRPCError(t *testing.T) {
	trainer := dispense(t, &recordingTrainer{})

	err := trainer.SaveModel(shared.ModelRef{Name: "gpt2"}, "")
	require.Error(t, err)
	assert.ErrorContains(t, err, "no output dir")
}
