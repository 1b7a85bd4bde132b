package finetune

import (
	"finetune-pipeline/internal/config"
	"finetune-pipeline/internal/core/framework"
)

type TrainingArguments = framework.TrainingArguments

const (
	DefaultEvaluationStrategy = "no"
	DefaultSeed               = 42
)

// NewTrainingArguments maps the training section of the config onto the
// arguments passed to the framework. Optional keys fall back to the framework
// defaults.
func NewTrainingArguments(outputDir string, cfg *config.Config) TrainingArguments {
	training := cfg.Training

	args := TrainingArguments{
		OutputDir:               outputDir,
		NumTrainEpochs:          training.Epochs,
		PerDeviceTrainBatchSize: training.BatchSize,
		LearningRate:            training.LearningRate,
		SaveSteps:               training.SaveSteps,
		SaveTotalLimit:          training.SaveTotalLimit,
		LoggingDir:              cfg.Logging.LoggingDir,
		LoggingSteps:            training.LoggingSteps,
		EvaluationStrategy:      training.EvaluationStrategy,
		LoadBestModelAtEnd:      training.LoadBestModelAtEnd,
		MetricForBestModel:      training.MetricForBestModel,
		GreaterIsBetter:         training.GreaterIsBetter,
		Seed:                    DefaultSeed,
	}

	if args.EvaluationStrategy == "" {
		args.EvaluationStrategy = DefaultEvaluationStrategy
	}
	if training.Seed != nil {
		args.Seed = *training.Seed
	}

	return args
}
