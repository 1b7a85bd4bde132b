package shared

import (
	"net/rpc"

	"github.com/hashicorp/go-plugin"
)

const PluginName = "trainer"

// Handshake is shared by the host and the trainer plugin binary. A mismatch
// makes the host refuse to talk to the plugin.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "FINETUNE_TRAINER_PLUGIN",
	MagicCookieValue: "2f4cbe6c-9b43-4a9d-a7f5-6f0f0c0c2c71",
}

var PluginMap = map[string]plugin.Plugin{
	PluginName: &TrainerPlugin{},
}

type ModelRef struct {
	Name string `json:"name"`
	// Path is set once the model has weights on disk.
	Path string `json:"path,omitempty"`
}

type TrainingArguments struct {
	OutputDir               string  `json:"output_dir"`
	NumTrainEpochs          int     `json:"num_train_epochs"`
	PerDeviceTrainBatchSize int     `json:"per_device_train_batch_size"`
	LearningRate            float64 `json:"learning_rate"`
	SaveSteps               int     `json:"save_steps"`
	SaveTotalLimit          int     `json:"save_total_limit"`
	LoggingDir              string  `json:"logging_dir"`
	LoggingSteps            int     `json:"logging_steps"`
	EvaluationStrategy      string  `json:"evaluation_strategy"`
	LoadBestModelAtEnd      bool    `json:"load_best_model_at_end"`
	MetricForBestModel      string  `json:"metric_for_best_model,omitempty"`
	GreaterIsBetter         *bool   `json:"greater_is_better,omitempty"`
	Seed                    int     `json:"seed"`
}

type Collator struct {
	Name string `json:"name"`
	MLM  bool   `json:"mlm"`
}

type TrainJob struct {
	Model        ModelRef          `json:"model"`
	Args         TrainingArguments `json:"args"`
	Collator     Collator          `json:"collator"`
	DatasetPath  string            `json:"dataset_path"`
	TokenizerDir string            `json:"tokenizer_dir,omitempty"`

	// ReturnPredictions asks the trainer for evaluation predictions so that
	// metrics can be computed by the caller.
	ReturnPredictions bool `json:"return_predictions"`
}

type TrainOutput struct {
	Model        ModelRef           `json:"model"`
	GlobalStep   int                `json:"global_step"`
	TrainingLoss float64            `json:"training_loss"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
	Predictions  [][]int32          `json:"predictions,omitempty"`
}

// Trainer is the interface served by the trainer plugin.
type Trainer interface {
	LoadModel(name string) (ModelRef, error)

	Train(job TrainJob) (TrainOutput, error)

	SaveModel(model ModelRef, dir string) error
}

type TrainerPlugin struct {
	Impl Trainer
}

func (p *TrainerPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &RPCServer{Impl: p.Impl}, nil
}

func (*TrainerPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c}, nil
}
