package serving

import (
	"context"

	"finetune-pipeline/internal/core/preprocess"
)

type Loader interface {
	LoadTokenizer(ctx context.Context, path string) (preprocess.Tokenizer, error)

	LoadModel(ctx context.Context, path string) (LanguageModel, error)
}

type OnnxLoader struct {
	UseCuda bool
}

func (l OnnxLoader) LoadTokenizer(ctx context.Context, path string) (preprocess.Tokenizer, error) {
	return preprocess.LoadTokenizerDir(path)
}

func (l OnnxLoader) LoadModel(ctx context.Context, path string) (LanguageModel, error) {
	return LoadOnnxModel(path, l.UseCuda)
}
