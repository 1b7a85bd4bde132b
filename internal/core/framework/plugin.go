package framework

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"finetune-pipeline/plugin/shared"

	"github.com/hashicorp/go-plugin"
)

// TrainerCommandEnv carries the JSON encoded trainer command to the plugin
// process.
const TrainerCommandEnv = "FINETUNE_TRAINER_COMMAND"

// PluginFramework forwards every call to a trainer plugin process. Calls are
// serialized. Cancelling a call's context kills the plugin, and the next call
// launches a fresh one.
type PluginFramework struct {
	mu      sync.Mutex
	launch  launcher
	client  *plugin.Client
	trainer shared.Trainer
	closed  bool
}

// launcher starts a plugin and dispenses its trainer. The client is nil when
// there is no process to kill.
type launcher func() (*plugin.Client, shared.Trainer, error)

var _ Framework = (*PluginFramework)(nil)

func NewPluginFramework(pluginPath string, command []string) (*PluginFramework, error) {
	if pluginPath == "" {
		return nil, fmt.Errorf("trainer plugin path is not configured")
	}

	encoded, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("error encoding trainer command: %w", err)
	}

	return newPluginFramework(func() (*plugin.Client, shared.Trainer, error) {
		return launchPlugin(pluginPath, string(encoded))
	})
}

// newPluginFramework launches the first plugin eagerly so that a bad plugin
// path fails at startup.
func newPluginFramework(launch launcher) (*PluginFramework, error) {
	p := &PluginFramework{launch: launch}
	if err := p.start(); err != nil {
		return nil, err
	}
	return p, nil
}

func launchPlugin(pluginPath, encodedCommand string) (*plugin.Client, shared.Trainer, error) {
	cmd := exec.Command(pluginPath)
	cmd.Env = append(os.Environ(), TrainerCommandEnv+"="+encodedCommand)

	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  shared.Handshake,
		Plugins:          shared.PluginMap,
		Cmd:              cmd,
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("error establishing RPC connection: %w", err)
	}

	trainer, err := dispenseTrainer(rpcClient)
	if err != nil {
		client.Kill()
		return nil, nil, err
	}
	return client, trainer, nil
}

func dispenseTrainer(rpcClient plugin.ClientProtocol) (shared.Trainer, error) {
	raw, err := rpcClient.Dispense(shared.PluginName)
	if err != nil {
		return nil, fmt.Errorf("error dispensing '%s': %w", shared.PluginName, err)
	}

	trainer, ok := raw.(shared.Trainer)
	if !ok {
		return nil, fmt.Errorf("dispensed interface '%s' is not of expected type shared.Trainer (actual type: %T)", shared.PluginName, raw)
	}
	return trainer, nil
}

// start must be called with mu held, or before p is shared.
func (p *PluginFramework) start() error {
	client, trainer, err := p.launch()
	if err != nil {
		return err
	}
	p.client, p.trainer = client, trainer
	return nil
}

func (p *PluginFramework) LoadModel(ctx context.Context, name string) (ModelRef, error) {
	return call(ctx, p, func(t shared.Trainer) (ModelRef, error) {
		return t.LoadModel(name)
	})
}

func (p *PluginFramework) Train(ctx context.Context, job TrainJob) (TrainOutput, error) {
	return call(ctx, p, func(t shared.Trainer) (TrainOutput, error) {
		return t.Train(job)
	})
}

func (p *PluginFramework) SaveModel(ctx context.Context, model ModelRef, dir string) error {
	_, err := call(ctx, p, func(t shared.Trainer) (struct{}, error) {
		return struct{}{}, t.SaveModel(model, dir)
	})
	return err
}

func (p *PluginFramework) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.release()
}

func (p *PluginFramework) release() {
	if p.client != nil {
		p.client.Kill()
	}
	p.client = nil
	p.trainer = nil
}

func call[T any](ctx context.Context, p *PluginFramework, fn func(shared.Trainer) (T, error)) (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var zero T
	if p.closed {
		return zero, fmt.Errorf("trainer plugin is closed")
	}
	if p.trainer == nil {
		slog.Info("relaunching trainer plugin")
		if err := p.start(); err != nil {
			return zero, fmt.Errorf("error relaunching trainer plugin: %w", err)
		}
	}

	type result struct {
		value T
		err   error
	}

	done := make(chan result, 1)
	trainer := p.trainer
	go func() {
		v, err := fn(trainer)
		done <- result{value: v, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		p.release()
		return zero, fmt.Errorf("trainer plugin call cancelled: %w", ctx.Err())
	}
}
