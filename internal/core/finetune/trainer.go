package finetune

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"finetune-pipeline/internal/core/framework"
	"finetune-pipeline/internal/core/preprocess"
)

const (
	CollatorLanguageModeling = "DataCollatorForLanguageModeling"
	CollatorDefault          = "default_data_collator"

	datasetFile = "dataset.jsonl"
)

// MetricsFunc computes evaluation metrics from predicted token ids.
type MetricsFunc func(predictions [][]int32) map[string]float64

type Trainer struct {
	fw             framework.Framework
	model          framework.ModelRef
	tok            preprocess.Tokenizer
	args           TrainingArguments
	dataset        *preprocess.Dataset
	collator       framework.Collator
	computeMetrics MetricsFunc
}

// ResolveCollator returns the causal language modeling collator when name is
// empty, otherwise the named collator.
func ResolveCollator(name string) framework.Collator {
	if name == "" || name == CollatorLanguageModeling {
		return framework.Collator{Name: CollatorLanguageModeling, MLM: false}
	}
	return framework.Collator{Name: name}
}

func PrepareTrainer(
	fw framework.Framework,
	model framework.ModelRef,
	tok preprocess.Tokenizer,
	args TrainingArguments,
	dataset *preprocess.Dataset,
	collator string,
) *Trainer {
	if collator == "" {
		slog.Info("using default data collator")
	}

	trainer := &Trainer{
		fw:       fw,
		model:    model,
		tok:      tok,
		args:     args,
		dataset:  dataset,
		collator: ResolveCollator(collator),
	}

	if args.EvaluationStrategy != DefaultEvaluationStrategy {
		trainer.computeMetrics = ComputeMetrics(tok)
	}

	return trainer
}

func (t *Trainer) Collator() framework.Collator {
	return t.collator
}

func (t *Trainer) HasMetrics() bool {
	return t.computeMetrics != nil
}

// Train stages the dataset and tokenizer for the framework and blocks until
// training completes.
func (t *Trainer) Train(ctx context.Context) (framework.TrainOutput, error) {
	staging, err := os.MkdirTemp("", "finetune-dataset-")
	if err != nil {
		return framework.TrainOutput{}, fmt.Errorf("error creating staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	datasetPath := filepath.Join(staging, datasetFile)
	if err := t.dataset.SaveJSONL(datasetPath); err != nil {
		return framework.TrainOutput{}, fmt.Errorf("error staging dataset: %w", err)
	}

	tokenizerDir := filepath.Join(staging, "tokenizer")
	if err := t.tok.Save(tokenizerDir); err != nil {
		return framework.TrainOutput{}, fmt.Errorf("error staging tokenizer: %w", err)
	}

	out, err := t.fw.Train(ctx, framework.TrainJob{
		Model:             t.model,
		Args:              t.args,
		Collator:          t.collator,
		DatasetPath:       datasetPath,
		TokenizerDir:      tokenizerDir,
		ReturnPredictions: t.computeMetrics != nil,
	})
	if err != nil {
		return framework.TrainOutput{}, err
	}

	if t.computeMetrics != nil && len(out.Predictions) > 0 {
		if out.Metrics == nil {
			out.Metrics = make(map[string]float64)
		}
		for name, value := range t.computeMetrics(out.Predictions) {
			out.Metrics[name] = value
		}
	}
	out.Predictions = nil

	return out, nil
}

func (t *Trainer) SaveModel(ctx context.Context, model framework.ModelRef, dir string) error {
	return t.fw.SaveModel(ctx, model, dir)
}

// ComputeMetrics reports avg_pred_length, the mean number of whitespace
// separated words in the decoded predictions.
func ComputeMetrics(tok preprocess.Tokenizer) MetricsFunc {
	return func(predictions [][]int32) map[string]float64 {
		if len(predictions) == 0 {
			return nil
		}

		total := 0
		for _, pred := range predictions {
			total += len(strings.Fields(tok.Decode(pred, true)))
		}

		return map[string]float64{"avg_pred_length": float64(total) / float64(len(predictions))}
	}
}
