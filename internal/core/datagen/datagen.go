package datagen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"finetune-pipeline/internal/core/types"
	"finetune-pipeline/pkg/api"
)

const DefaultNumSamples = 100

type DatagenOpts struct {
	UseCase         string
	NumSamples      int
	FewShotExamples []api.Sample
}

// GenerateData asks the llm for a dataset matching opts and salvages the
// samples from the completion. Exactly one request is made per call.
func GenerateData(ctx context.Context, llm LLM, opts DatagenOpts) ([]api.Sample, error) {
	prompt, err := buildPrompt(opts)
	if err != nil {
		return nil, err
	}

	slog.Info("generating synthetic data", "use_case", opts.UseCase, "num_samples", opts.NumSamples, "few_shot_examples", len(opts.FewShotExamples))

	response, err := llm.Generate(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrGeneration, err)
	}

	samples, err := ParseSamples(response)
	if err != nil {
		slog.Error("error parsing synthetic data", "use_case", opts.UseCase, "error", err)
		return nil, err
	}

	slog.Info("generated synthetic data", "use_case", opts.UseCase, "samples", len(samples))

	return samples, nil
}

func buildPrompt(opts DatagenOpts) (string, error) {
	fields := datasetPromptFields{
		UseCase:    opts.UseCase,
		NumSamples: opts.NumSamples,
	}
	if fields.NumSamples <= 0 {
		fields.NumSamples = DefaultNumSamples
	}

	if len(opts.FewShotExamples) > 0 {
		fewShot, err := json.MarshalIndent(opts.FewShotExamples, "", "    ")
		if err != nil {
			return "", fmt.Errorf("error serializing few shot examples: %w", err)
		}
		fields.FewShot = string(fewShot)
	}

	prompt := new(strings.Builder)
	if err := datasetPromptTmpl.Execute(prompt, fields); err != nil {
		return "", fmt.Errorf("error rendering dataset prompt: %w", err)
	}
	return prompt.String(), nil
}

// ParseSamples recovers the dataset from a raw completion and validates its
// structure.
func ParseSamples(response string) ([]api.Sample, error) {
	data, err := ParseResponse(strings.TrimSpace(response))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse the synthetic data from the API response: %w", types.ErrGeneration, err)
	}

	return ValidateSamples(data)
}

// ValidateSamples checks that data is a list of objects that each carry an
// "input" and an "output" key. Value types are not checked; non string values
// are rendered as text.
func ValidateSamples(data any) ([]api.Sample, error) {
	items, ok := data.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: the generated data is not a list of dictionaries", types.ErrValidation)
	}

	samples := make([]api.Sample, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: each data sample should be a dictionary (sample %d)", types.ErrValidation, i)
		}
		input, hasInput := obj["input"]
		output, hasOutput := obj["output"]
		if !hasInput || !hasOutput {
			return nil, fmt.Errorf("%w: each data sample must contain 'input' and 'output' keys (sample %d)", types.ErrValidation, i)
		}
		samples = append(samples, api.Sample{Input: stringValue(input), Output: stringValue(output)})
	}

	return samples, nil
}
