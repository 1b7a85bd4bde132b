package serving_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"finetune-pipeline/internal/core/preprocess"
	"finetune-pipeline/internal/core/serving"
	"finetune-pipeline/internal/core/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vocabSize = 10

// digitTokenizer maps each digit of the text to a token id. Id 0 is eos.
type digitTokenizer struct{}

func (digitTokenizer) Encode(text string) []int32 {
	ids := []int32{}
	for _, r := range text {
		if r >= '0' && r <= '9' {
			ids = append(ids, int32(r-'0'))
		}
	}
	return ids
}

func (digitTokenizer) Decode(ids []int32, skipSpecialTokens bool) string {
	var sb strings.Builder
	for _, id := range ids {
		if skipSpecialTokens && id == 0 {
			continue
		}
		sb.WriteString(fmt.Sprint(id))
	}
	return sb.String()
}

func (digitTokenizer) PadID() int32 { return 0 }

func (digitTokenizer) EOSID() int32 { return 0 }

func (digitTokenizer) Save(string) error { return nil }

func (digitTokenizer) Close() error { return nil }

// scriptedModel prefers the tokens of script in order, the last preference
// being strongest.
type scriptedModel struct {
	next func(ids []int32) []int32
}

func (m *scriptedModel) NextTokenLogits(ctx context.Context, ids []int32) ([]float32, error) {
	logits := make([]float32, vocabSize)
	for rank, id := range m.next(ids) {
		logits[id] = float32(10 - rank)
	}
	return logits, nil
}

func (m *scriptedModel) Close() error { return nil }

// alwaysModel always prefers the same tokens, first choice first.
func alwaysModel(prefs ...int32) *scriptedModel {
	return &scriptedModel{next: func([]int32) []int32 { return prefs }}
}

type countingLoader struct {
	model   serving.LanguageModel
	loads   atomic.Int32
	delay   time.Duration
	loadErr error
}

func (l *countingLoader) LoadTokenizer(ctx context.Context, path string) (preprocess.Tokenizer, error) {
	return digitTokenizer{}, nil
}

func (l *countingLoader) LoadModel(ctx context.Context, path string) (serving.LanguageModel, error) {
	l.loads.Add(1)
	time.Sleep(l.delay)
	if l.loadErr != nil {
		return nil, l.loadErr
	}
	return l.model, nil
}

func TestGenerateStopsAtMaxLength(t *testing.T) {
	out, err := serving.Generate(context.Background(), alwaysModel(3, 4, 5, 6, 7, 8, 9), []int32{1, 2}, serving.GenerateOptions{MaxLength: 6, EOSID: 0})
	require.NoError(t, err)
	assert.Len(t, out, 6)
	assert.Equal(t, []int32{1, 2}, out[:2])
}

func TestGenerateNoRepeatNgram(t *testing.T) {
	// Without the constraint the model would emit 3 forever.
	out, err := serving.Generate(context.Background(), alwaysModel(3, 4, 5), []int32{1}, serving.GenerateOptions{MaxLength: 6, NoRepeatNgramSize: 2, EOSID: 0})
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 3, 3, 4, 3, 5}, out)

	bigrams := map[[2]int32]bool{}
	for i := 0; i+1 < len(out); i++ {
		bigram := [2]int32{out[i], out[i+1]}
		assert.False(t, bigrams[bigram], "repeated bigram %v", bigram)
		bigrams[bigram] = true
	}
}

func TestGenerateStopsAtEOS(t *testing.T) {
	model := &scriptedModel{next: func(ids []int32) []int32 {
		if len(ids) >= 3 {
			return []int32{0}
		}
		return []int32{7}
	}}

	out, err := serving.Generate(context.Background(), model, []int32{1, 2}, serving.GenerateOptions{MaxLength: 50, EOSID: 0})
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2, 7, 0}, out)
}

func TestGeneratePromptLongerThanMaxLength(t *testing.T) {
	out, err := serving.Generate(context.Background(), alwaysModel(3), []int32{1, 2, 3}, serving.GenerateOptions{MaxLength: 2, EOSID: 0})
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2, 3}, out)
}

func TestGenerateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := serving.Generate(ctx, alwaysModel(3), []int32{1}, serving.GenerateOptions{MaxLength: 10})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewModelServerMissingPath(t *testing.T) {
	loader := &countingLoader{model: alwaysModel(3)}
	cache := serving.NewCache(loader, nil)

	_, err := serving.NewModelServer(context.Background(), filepath.Join(t.TempDir(), "missing"), cache)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, int32(0), loader.loads.Load())
}

func TestNewModelServerLoadError(t *testing.T) {
	loadErr := errors.New("bad model file")
	cache := serving.NewCache(&countingLoader{loadErr: loadErr}, nil)

	_, err := serving.NewModelServer(context.Background(), t.TempDir(), cache)
	assert.ErrorIs(t, err, loadErr)
	assert.Equal(t, 0, cache.Len())
}

func TestModelServerPredict(t *testing.T) {
	model := &scriptedModel{next: func(ids []int32) []int32 {
		if len(ids) >= 4 {
			return []int32{0}
		}
		return []int32{9}
	}}
	cache := serving.NewCache(&countingLoader{model: model}, nil)

	server, err := serving.NewModelServer(context.Background(), t.TempDir(), cache)
	require.NoError(t, err)

	prediction, err := server.Predict(context.Background(), "12", serving.DefaultPredictOptions())
	require.NoError(t, err)
	assert.Equal(t, "1299", prediction)
}

func TestCacheLoadsOncePerPath(t *testing.T) {
	loader := &countingLoader{model: alwaysModel(3), delay: 50 * time.Millisecond}
	reg := prometheus.NewRegistry()
	cache := serving.NewCache(loader, reg)

	path := t.TempDir()

	var wg sync.WaitGroup
	servers := make([]*serving.ModelServer, 8)
	for i := range servers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			server, err := serving.NewModelServer(context.Background(), path, cache)
			assert.NoError(t, err)
			servers[i] = server
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), loader.loads.Load())
	assert.Equal(t, 1, cache.Len())

	count, err := testutil.GatherAndCount(reg, "model_cache_lookups_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	other := t.TempDir()
	_, err = serving.NewModelServer(context.Background(), other, cache)
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.loads.Load())
	assert.Equal(t, 2, cache.Len())

	cache.Close()
	assert.Equal(t, 0, cache.Len())
}

func TestLatestModelPath(t *testing.T) {
	root := t.TempDir()

	now := time.Now()
	for i, name := range []string{"finetuned_a", "finetuned_b", "finetuned_c"} {
		dir := filepath.Join(root, name)
		require.NoError(t, os.Mkdir(dir, os.ModePerm))
		mtime := now.Add(time.Duration(i-5) * time.Hour)
		if name == "finetuned_b" {
			mtime = now
		}
		require.NoError(t, os.Chtimes(dir, mtime, mtime))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("newest but not a dir"), 0644))

	latest, err := serving.LatestModelPath(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "finetuned_b"), latest)
}

func TestLatestModelPathEmptyRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "file"), nil, 0644))

	_, err := serving.LatestModelPath(root)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestLatestModelPathMissingRoot(t *testing.T) {
	_, err := serving.LatestModelPath(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, types.ErrNotFound)
}
