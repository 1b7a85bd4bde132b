package preprocess

import (
	"errors"
	"fmt"

	"finetune-pipeline/internal/core/types"
	"finetune-pipeline/pkg/api"
)

const (
	DefaultMaxLength = 512

	// IgnoreIndex marks label positions that are excluded from the loss.
	IgnoreIndex int32 = -100
)

var ErrNoPadToken = errors.New("tokenizer has no padding token")

// Preprocess tokenizes the inputs and outputs of a dataset into fixed length
// rows. Every sequence is truncated to maxLength and right padded with the
// pad token; padding positions in labels are replaced by IgnoreIndex.
func Preprocess(raw any, tok Tokenizer, maxLength int) (*Dataset, error) {
	samples, err := toSamples(raw)
	if err != nil {
		return nil, err
	}

	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	padID := tok.PadID()
	if padID < 0 {
		return nil, ErrNoPadToken
	}

	dataset := &Dataset{
		InputIDs:      make([][]int32, 0, len(samples)),
		AttentionMask: make([][]int32, 0, len(samples)),
		Labels:        make([][]int32, 0, len(samples)),
	}

	for _, sample := range samples {
		inputIds, mask := padTruncate(tok.Encode(sample.Input), maxLength, padID)
		labelIds, _ := padTruncate(tok.Encode(sample.Output), maxLength, padID)

		for i, id := range labelIds {
			if id == padID {
				labelIds[i] = IgnoreIndex
			}
		}

		dataset.InputIDs = append(dataset.InputIDs, inputIds)
		dataset.AttentionMask = append(dataset.AttentionMask, mask)
		dataset.Labels = append(dataset.Labels, labelIds)
	}

	return dataset, nil
}

func PreprocessSamples(samples []api.Sample, tok Tokenizer, maxLength int) (*Dataset, error) {
	return Preprocess(samples, tok, maxLength)
}

func padTruncate(ids []int32, maxLength int, padID int32) ([]int32, []int32) {
	if len(ids) > maxLength {
		ids = ids[:maxLength]
	}

	out := make([]int32, maxLength)
	mask := make([]int32, maxLength)
	copy(out, ids)
	for i := range out {
		if i < len(ids) {
			mask[i] = 1
		} else {
			out[i] = padID
		}
	}
	return out, mask
}

func toSamples(raw any) ([]api.Sample, error) {
	switch data := raw.(type) {
	case []api.Sample:
		return data, nil
	case []map[string]string:
		samples := make([]api.Sample, 0, len(data))
		for i, record := range data {
			input, ok := record["input"]
			if !ok {
				return nil, missingField(i, "input")
			}
			output, ok := record["output"]
			if !ok {
				return nil, missingField(i, "output")
			}
			samples = append(samples, api.Sample{Input: input, Output: output})
		}
		return samples, nil
	case []map[string]any:
		samples := make([]api.Sample, 0, len(data))
		for i, record := range data {
			sample, err := recordToSample(i, record)
			if err != nil {
				return nil, err
			}
			samples = append(samples, sample)
		}
		return samples, nil
	case []any:
		samples := make([]api.Sample, 0, len(data))
		for i, item := range data {
			record, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: record %d is not an object", types.ErrValidation, i)
			}
			sample, err := recordToSample(i, record)
			if err != nil {
				return nil, err
			}
			samples = append(samples, sample)
		}
		return samples, nil
	default:
		return nil, fmt.Errorf("%w: unsupported dataset type %T", types.ErrValidation, raw)
	}
}

func recordToSample(i int, record map[string]any) (api.Sample, error) {
	input, ok := record["input"].(string)
	if !ok {
		return api.Sample{}, missingField(i, "input")
	}
	output, ok := record["output"].(string)
	if !ok {
		return api.Sample{}, missingField(i, "output")
	}
	return api.Sample{Input: input, Output: output}, nil
}

func missingField(i int, field string) error {
	return fmt.Errorf("%w: record %d has no string field '%s'", types.ErrValidation, i, field)
}
