package finetune

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"finetune-pipeline/internal/config"
	"finetune-pipeline/internal/core/framework"
	"finetune-pipeline/internal/core/preprocess"
	"finetune-pipeline/internal/core/types"
	"finetune-pipeline/pkg/api"
)

type Stage string

const (
	StageLoaded       Stage = "loaded"
	StagePreprocessed Stage = "preprocessed"
	StageTraining     Stage = "training"
	StageSaved        Stage = "saved"
)

type TokenizerLoader func(ctx context.Context, nameOrPath string) (preprocess.Tokenizer, error)

func HFTokenizerLoader(ctx context.Context, nameOrPath string) (preprocess.Tokenizer, error) {
	return preprocess.LoadTokenizer(ctx, nameOrPath)
}

type Orchestrator struct {
	Framework     framework.Framework
	LoadTokenizer TokenizerLoader
	Config        *config.Config

	// Observer, when set, is called as each stage is reached.
	Observer func(Stage)
}

type Result struct {
	OutputDir    string
	SampleCount  int
	GlobalStep   int
	TrainingLoss float64
	Metrics      map[string]float64
}

// FinetuneModel trains the configured base model on samples and writes the
// artifact to outputDir. It blocks until training and saving are done.
func (o *Orchestrator) FinetuneModel(ctx context.Context, samples []api.Sample, outputDir string, useCase string) (result *Result, err error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples to fine-tune on", types.ErrValidation)
	}

	created, err := ensureDir(outputDir)
	if err != nil {
		return nil, err
	}

	if created && o.Config.Training.CleanupOnFailureOrDefault() {
		defer func() {
			if err != nil {
				if rmErr := os.RemoveAll(outputDir); rmErr != nil {
					slog.Error("error removing partial artifact", "output_dir", outputDir, "error", rmErr)
				} else {
					slog.Info("removed partial artifact", "output_dir", outputDir)
				}
			}
		}()
	}

	baseModel := o.Config.Model.BaseModel

	slog.Info("loading tokenizer and model", "base_model", baseModel, "use_case", useCase)
	tok, err := o.LoadTokenizer(ctx, baseModel)
	if err != nil {
		return nil, fmt.Errorf("error loading tokenizer '%s': %w", baseModel, err)
	}
	defer tok.Close()

	model, err := o.Framework.LoadModel(ctx, baseModel)
	if err != nil {
		return nil, fmt.Errorf("error loading model '%s': %w", baseModel, err)
	}
	o.observe(StageLoaded)

	slog.Info("preprocessing data", "samples", len(samples))
	dataset, err := preprocess.Preprocess(samples, tok, o.Config.Model.MaxLength)
	if err != nil {
		return nil, fmt.Errorf("error preprocessing data: %w", err)
	}
	o.observe(StagePreprocessed)

	args := NewTrainingArguments(outputDir, o.Config)
	trainer := PrepareTrainer(o.Framework, model, tok, args, dataset, o.Config.Training.DataCollator)

	slog.Info("starting training", "output_dir", outputDir, "epochs", args.NumTrainEpochs)
	o.observe(StageTraining)
	out, err := trainer.Train(ctx)
	if err != nil {
		return nil, fmt.Errorf("error during fine-tuning: %w", err)
	}

	if err := trainer.SaveModel(ctx, out.Model, outputDir); err != nil {
		return nil, fmt.Errorf("error saving model: %w", err)
	}
	if err := tok.Save(outputDir); err != nil {
		return nil, fmt.Errorf("error saving tokenizer: %w", err)
	}
	slog.Info("model saved", "output_dir", outputDir)

	if len(out.Metrics) > 0 {
		if err := SaveTrainingMetrics(out.Metrics, outputDir); err != nil {
			return nil, err
		}
	}
	o.observe(StageSaved)

	return &Result{
		OutputDir:    outputDir,
		SampleCount:  dataset.Len(),
		GlobalStep:   out.GlobalStep,
		TrainingLoss: out.TrainingLoss,
		Metrics:      out.Metrics,
	}, nil
}

func (o *Orchestrator) observe(stage Stage) {
	if o.Observer != nil {
		o.Observer(stage)
	}
}

// ensureDir creates dir if needed and reports whether it had to.
func ensureDir(dir string) (bool, error) {
	_, err := os.Stat(dir)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("error checking output dir: %w", err)
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return false, fmt.Errorf("error creating output dir: %w", err)
	}
	return true, nil
}
