package framework

import (
	"context"
	"sync"
	"testing"
	"time"

	"finetune-pipeline/plugin/shared"

	"github.com/hashicorp/go-plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingTrainer holds Train until release is closed.
type blockingTrainer struct {
	release chan struct{}
}

func (b *blockingTrainer) LoadModel(name string) (shared.ModelRef, error) {
	return shared.ModelRef{Name: name}, nil
}

func (b *blockingTrainer) Train(job shared.TrainJob) (shared.TrainOutput, error) {
	<-b.release
	return shared.TrainOutput{Model: job.Model, GlobalStep: 1}, nil
}

func (b *blockingTrainer) SaveModel(model shared.ModelRef, dir string) error {
	return nil
}

type testLauncher struct {
	t    *testing.T
	impl shared.Trainer

	mu       sync.Mutex
	launches int
}

func (l *testLauncher) launch() (*plugin.Client, shared.Trainer, error) {
	l.mu.Lock()
	l.launches++
	l.mu.Unlock()

	client, _ := plugin.TestPluginRPCConn(l.t, map[string]plugin.Plugin{
		shared.PluginName: &shared.TrainerPlugin{Impl: l.impl},
	}, nil)
	l.t.Cleanup(func() { client.Close() })

	trainer, err := dispenseTrainer(client)
	return nil, trainer, err
}

func (l *testLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

func newTestPluginFramework(t *testing.T) (*PluginFramework, *testLauncher) {
	impl := &blockingTrainer{release: make(chan struct{})}
	t.Cleanup(func() { close(impl.release) })

	l := &testLauncher{t: t, impl: impl}
	p, err := newPluginFramework(l.launch)
	require.NoError(t, err)
	return p, l
}

func TestPluginFrameworkForwardsCalls(t *testing.T) {
	p, l := newTestPluginFramework(t)
	defer p.Close()

	model, err := p.LoadModel(context.Background(), "gpt2")
	require.NoError(t, err)
	assert.Equal(t, "gpt2", model.Name)

	require.NoError(t, p.SaveModel(context.Background(), model, "out"))
	assert.Equal(t, 1, l.count())
}

func TestPluginFrameworkRelaunchesAfterCancel(t *testing.T) {
	p, l := newTestPluginFramework(t)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Train(ctx, TrainJob{Model: ModelRef{Name: "gpt2"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	model, err := p.LoadModel(context.Background(), "gpt2")
	require.NoError(t, err)
	assert.Equal(t, "gpt2", model.Name)
	assert.Equal(t, 2, l.count())

	_, err = p.LoadModel(context.Background(), "gpt2")
	require.NoError(t, err)
	assert.Equal(t, 2, l.count())
}

func TestPluginFrameworkClosed(t *testing.T) {
	p, l := newTestPluginFramework(t)
	p.Close()

	_, err := p.LoadModel(context.Background(), "gpt2")
	assert.ErrorContains(t, err, "trainer plugin is closed")
	assert.Equal(t, 1, l.count())
}

func TestNewPluginFrameworkBadPath(t *testing.T) {
	_, err := NewPluginFramework("", []string{"true"})
	assert.Error(t, err)

	_, err = NewPluginFramework("/nonexistent/trainer-plugin", []string{"true"})
	assert.Error(t, err)
}
