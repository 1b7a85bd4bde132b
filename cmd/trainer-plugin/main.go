package main

import (
	"context"
	"encoding/json"
	"log"
	"os"

	"finetune-pipeline/internal/core/framework"
	"finetune-pipeline/plugin/shared"

	"github.com/hashicorp/go-plugin"
)

// commandTrainer serves a CommandFramework over the plugin protocol. The host
// owns cancellation by killing this process, so calls run without deadlines.
type commandTrainer struct {
	fw *framework.CommandFramework
}

func (c *commandTrainer) LoadModel(name string) (shared.ModelRef, error) {
	return c.fw.LoadModel(context.Background(), name)
}

func (c *commandTrainer) Train(job shared.TrainJob) (shared.TrainOutput, error) {
	return c.fw.Train(context.Background(), job)
}

func (c *commandTrainer) SaveModel(model shared.ModelRef, dir string) error {
	return c.fw.SaveModel(context.Background(), model, dir)
}

func main() {
	var command []string
	if err := json.Unmarshal([]byte(os.Getenv(framework.TrainerCommandEnv)), &command); err != nil {
		log.Fatalf("error parsing %s: %v", framework.TrainerCommandEnv, err)
	}

	fw, err := framework.NewCommandFramework(command)
	if err != nil {
		log.Fatalf("error creating trainer: %v", err)
	}
	defer fw.Close()

	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: shared.Handshake,
		Plugins: map[string]plugin.Plugin{
			shared.PluginName: &shared.TrainerPlugin{Impl: &commandTrainer{fw: fw}},
		},
	})
}
