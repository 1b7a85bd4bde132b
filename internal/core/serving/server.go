package serving

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"finetune-pipeline/internal/core/types"
)

const (
	DefaultMaxLength         = 50
	DefaultNoRepeatNgramSize = 2
)

type PredictOptions struct {
	MaxLength          int
	NumReturnSequences int
}

func DefaultPredictOptions() PredictOptions {
	return PredictOptions{MaxLength: DefaultMaxLength, NumReturnSequences: 1}
}

type ModelServer struct {
	path   string
	handle *Handle
}

// NewModelServer binds a server to the artifact at path, loading it into the
// cache on first use.
func NewModelServer(ctx context.Context, path string, cache *Cache) (*ModelServer, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Error("model path does not exist", "path", path)
			return nil, fmt.Errorf("%w: model path %s does not exist", types.ErrNotFound, path)
		}
		return nil, fmt.Errorf("error checking model path: %w", err)
	}

	handle, err := cache.Get(ctx, path)
	if err != nil {
		slog.Error("failed to load model or tokenizer", "path", path, "error", err)
		return nil, err
	}

	return &ModelServer{path: path, handle: handle}, nil
}

func (s *ModelServer) Path() string {
	return s.path
}

// Predict generates a continuation of prompt. The returned text includes the
// prompt, special tokens are removed.
func (s *ModelServer) Predict(ctx context.Context, prompt string, opts PredictOptions) (string, error) {
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultMaxLength
	}
	if opts.NumReturnSequences <= 0 {
		opts.NumReturnSequences = 1
	}
	// Greedy decoding yields a single distinct sequence, and only the first
	// sequence is returned anyway.

	slog.Info("received prompt", "prompt", prompt)

	tok := s.handle.Tokenizer
	ids := tok.Encode(prompt)

	output, err := Generate(ctx, s.handle.Model, ids, GenerateOptions{
		MaxLength:         opts.MaxLength,
		NoRepeatNgramSize: DefaultNoRepeatNgramSize,
		EOSID:             tok.EOSID(),
	})
	if err != nil {
		slog.Error("prediction failed", "error", err)
		return "", err
	}

	prediction := tok.Decode(output, true)
	slog.Info("generated prediction", "prediction", prediction)

	return prediction, nil
}
