package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"finetune-pipeline/cmd"
	"finetune-pipeline/internal/api"
	"finetune-pipeline/internal/config"
	"finetune-pipeline/internal/core/datagen"
	"finetune-pipeline/internal/core/finetune"
	"finetune-pipeline/internal/core/serving"
	"finetune-pipeline/internal/document_parsing"
	pkgapi "finetune-pipeline/pkg/api"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type cli struct {
	env config.Env
	cfg *config.Config
}

func main() {
	c := &cli{}

	root := &cobra.Command{
		Use:           "finetune",
		Short:         "Generate data for, fine-tune and query causal language models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load()
		},
	}

	root.AddCommand(c.generateCmd(), c.trainCmd(), c.predictCmd(), c.pullCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Fatalf("error: %v", err)
	}
}

func (c *cli) load() error {
	env, cfg, err := cmd.LoadConfig()
	if err != nil {
		return err
	}
	c.env, c.cfg = env, cfg
	return nil
}

func (c *cli) generateCmd() *cobra.Command {
	var useCase, out string
	var numSamples int
	var pdfs []string

	command := &cobra.Command{
		Use:     "generate",
		Short:   "Generate a synthetic dataset for a use case",
		Example: "  finetune generate --use-case \"customer support\" --out dataset.json",
		RunE: func(command *cobra.Command, args []string) error {
			samples, err := c.generate(command.Context(), useCase, numSamples, pdfs)
			if err != nil {
				return err
			}
			return writeDataset(samples, out)
		},
	}

	command.Flags().StringVar(&useCase, "use-case", "", "use case to generate data for")
	command.Flags().IntVar(&numSamples, "num-samples", datagen.DefaultNumSamples, "number of samples to request")
	command.Flags().StringSliceVar(&pdfs, "pdf", nil, "pdf files used to guide generation")
	command.Flags().StringVar(&out, "out", "", "write the dataset here instead of stdout")
	_ = command.MarkFlagRequired("use-case")

	return command
}

func (c *cli) generate(ctx context.Context, useCase string, numSamples int, pdfs []string) ([]pkgapi.Sample, error) {
	llm, err := cmd.NewLLM(c.cfg)
	if err != nil {
		return nil, err
	}

	opts := datagen.DatagenOpts{UseCase: useCase, NumSamples: numSamples}

	if len(pdfs) > 0 {
		texts := make([]string, 0, len(pdfs))
		for _, path := range pdfs {
			contents, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("error reading %s: %w", path, err)
			}
			text, err := document_parsing.PDFToText(contents)
			if err != nil {
				return nil, fmt.Errorf("failed to extract text from '%s': %w", path, err)
			}
			texts = append(texts, text)
		}
		opts.FewShotExamples = document_parsing.FewShotFromText(strings.Join(texts, "\n"))
	}

	return datagen.GenerateData(ctx, llm, opts)
}

func writeDataset(samples []pkgapi.Sample, out string) error {
	data, err := json.MarshalIndent(samples, "", "    ")
	if err != nil {
		return fmt.Errorf("error serializing dataset: %w", err)
	}
	if out == "" {
		_, err := fmt.Println(string(data))
		return err
	}
	return os.WriteFile(out, data, 0644)
}

func readDataset(path string) ([]pkgapi.Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading dataset: %w", err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("error parsing dataset %s: %w", path, err)
	}
	return datagen.ValidateSamples(raw)
}

var stageOrder = []finetune.Stage{finetune.StageLoaded, finetune.StagePreprocessed, finetune.StageTraining, finetune.StageSaved}

func (c *cli) trainCmd() *cobra.Command {
	var useCase, datasetPath, outputDir string

	command := &cobra.Command{
		Use:     "train",
		Short:   "Fine-tune the base model for a use case",
		Example: "  finetune train --use-case \"customer support\"\n  finetune train --use-case legal --dataset dataset.json",
		RunE: func(command *cobra.Command, args []string) error {
			ctx := command.Context()

			var samples []pkgapi.Sample
			var err error
			if datasetPath != "" {
				samples, err = readDataset(datasetPath)
			} else {
				samples, err = c.generate(ctx, useCase, datagen.DefaultNumSamples, nil)
			}
			if err != nil {
				return err
			}

			if outputDir == "" {
				outputDir = api.ModelOutputDir(c.cfg.Model.FinetunedModelDir, useCase)
			}

			orchestrator, err := cmd.NewOrchestrator(c.cfg)
			if err != nil {
				return err
			}
			defer orchestrator.Framework.Close()

			bar := progressbar.NewOptions(len(stageOrder),
				progressbar.OptionSetDescription("⏳ fine-tuning"),
				progressbar.OptionSetWidth(30),
				progressbar.OptionClearOnFinish(),
			)
			orchestrator.Observer = func(stage finetune.Stage) {
				bar.Describe(fmt.Sprintf("⏳ %s", stage))
				_ = bar.Add(1)
			}

			result, err := orchestrator.FinetuneModel(ctx, samples, outputDir, useCase)
			if err != nil {
				return err
			}
			_ = bar.Finish()

			slog.Info("fine-tuning completed", "model_path", result.OutputDir, "samples", result.SampleCount, "global_step", result.GlobalStep, "training_loss", result.TrainingLoss)

			publisher, err := cmd.NewPublisher(ctx, c.cfg)
			if err != nil {
				return err
			}
			if publisher != nil {
				if _, err := publisher.Publish(ctx, filepath.Base(outputDir), outputDir); err != nil {
					return err
				}
			}

			fmt.Println(result.OutputDir)
			return nil
		},
	}

	command.Flags().StringVar(&useCase, "use-case", "", "use case to fine-tune for")
	command.Flags().StringVar(&datasetPath, "dataset", "", "train on this dataset instead of generating one")
	command.Flags().StringVar(&outputDir, "output-dir", "", "artifact directory, defaults to <finetuned_model_dir>/finetuned_<use case>")
	_ = command.MarkFlagRequired("use-case")

	return command
}

func (c *cli) predictCmd() *cobra.Command {
	var prompt, modelPath string
	var maxLength int

	command := &cobra.Command{
		Use:   "predict",
		Short: "Generate text with a fine-tuned model",
		RunE: func(command *cobra.Command, args []string) error {
			ctx := command.Context()

			destroyOnnx, err := cmd.InitOnnx(c.env.OnnxRuntimeDylib)
			if err != nil {
				return err
			}
			defer destroyOnnx()

			if modelPath == "" {
				modelPath, err = serving.LatestModelPath(c.cfg.Model.FinetunedModelDir)
				if err != nil {
					return err
				}
			}

			cache := serving.NewCache(serving.OnnxLoader{UseCuda: c.cfg.Serving.UseCuda}, nil)
			defer cache.Close()

			server, err := serving.NewModelServer(ctx, modelPath, cache)
			if err != nil {
				return err
			}

			prediction, err := server.Predict(ctx, prompt, serving.PredictOptions{MaxLength: maxLength, NumReturnSequences: 1})
			if err != nil {
				return err
			}

			fmt.Println(prediction)
			return nil
		},
	}

	command.Flags().StringVar(&prompt, "prompt", "", "prompt to continue")
	command.Flags().StringVar(&modelPath, "model", "", "artifact directory, defaults to the latest fine-tuned model")
	command.Flags().IntVar(&maxLength, "max-length", serving.DefaultMaxLength, "maximum sequence length including the prompt")
	_ = command.MarkFlagRequired("prompt")

	return command
}

func (c *cli) pullCmd() *cobra.Command {
	var overwrite bool

	command := &cobra.Command{
		Use:   "pull <name>",
		Short: "Download a published artifact into the fine-tuned model directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			ctx := command.Context()

			publisher, err := cmd.NewPublisher(ctx, c.cfg)
			if err != nil {
				return err
			}
			if publisher == nil {
				return fmt.Errorf("no artifact storage configured, set storage.bucket")
			}

			dest := filepath.Join(c.cfg.Model.FinetunedModelDir, args[0])
			if err := publisher.Fetch(ctx, args[0], dest, overwrite); err != nil {
				return err
			}

			fmt.Println(dest)
			return nil
		},
	}

	command.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing local copy")

	return command
}
