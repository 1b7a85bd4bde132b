package framework

import (
	"context"
	"fmt"

	"finetune-pipeline/plugin/shared"
)

type (
	ModelRef          = shared.ModelRef
	TrainingArguments = shared.TrainingArguments
	Collator          = shared.Collator
	TrainJob          = shared.TrainJob
	TrainOutput       = shared.TrainOutput
)

// Framework is the external training runtime. Weight loading, optimization
// and checkpointing all happen on its side.
type Framework interface {
	LoadModel(ctx context.Context, name string) (ModelRef, error)

	Train(ctx context.Context, job TrainJob) (TrainOutput, error)

	SaveModel(ctx context.Context, model ModelRef, dir string) error

	Close()
}

const (
	BackendCommand = "command"
	BackendPlugin  = "plugin"
)

type Options struct {
	Backend    string
	Command    []string
	PluginPath string
}

func New(opts Options) (Framework, error) {
	switch opts.Backend {
	case "", BackendCommand:
		return NewCommandFramework(opts.Command)
	case BackendPlugin:
		return NewPluginFramework(opts.PluginPath, opts.Command)
	default:
		return nil, fmt.Errorf("unknown training backend '%s'", opts.Backend)
	}
}
