package serving

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"finetune-pipeline/internal/core/preprocess"
	"finetune-pipeline/internal/core/utils"

	"github.com/prometheus/client_golang/prometheus"
)

// Handle is a loaded tokenizer and model pair.
type Handle struct {
	Tokenizer preprocess.Tokenizer
	Model     LanguageModel
}

func (h *Handle) Close() {
	if err := h.Model.Close(); err != nil {
		slog.Warn("error releasing model", "error", err)
	}
	if err := h.Tokenizer.Close(); err != nil {
		slog.Warn("error releasing tokenizer", "error", err)
	}
}

// Cache keeps one Handle per artifact path for the lifetime of the process.
// Concurrent first requests for the same path load it once.
type Cache struct {
	loader Loader
	locks  *utils.KeyedMutex

	mu      sync.RWMutex
	handles map[string]*Handle

	lookups *prometheus.CounterVec
}

func NewCache(loader Loader, reg prometheus.Registerer) *Cache {
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "model_cache_lookups_total",
		Help: "Model cache lookups by result.",
	}, []string{"result"})

	if reg != nil {
		reg.MustRegister(lookups)
	}

	return &Cache{
		loader:  loader,
		locks:   utils.NewKeyedMutex(),
		handles: make(map[string]*Handle),
		lookups: lookups,
	}
}

func (c *Cache) lookup(path string) (*Handle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handles[path]
	return h, ok
}

func (c *Cache) Get(ctx context.Context, path string) (*Handle, error) {
	if h, ok := c.lookup(path); ok {
		c.lookups.WithLabelValues("hit").Inc()
		slog.Info("loaded model from cache", "path", path)
		return h, nil
	}

	unlock := c.locks.Lock(path)
	defer unlock()

	// Another request may have finished loading while we waited.
	if h, ok := c.lookup(path); ok {
		c.lookups.WithLabelValues("hit").Inc()
		return h, nil
	}

	c.lookups.WithLabelValues("miss").Inc()

	tok, err := c.loader.LoadTokenizer(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("error loading tokenizer: %w", err)
	}

	model, err := c.loader.LoadModel(ctx, path)
	if err != nil {
		tok.Close()
		return nil, fmt.Errorf("error loading model: %w", err)
	}

	h := &Handle{Tokenizer: tok, Model: model}

	c.mu.Lock()
	c.handles[path] = h
	c.mu.Unlock()

	slog.Info("loaded and cached model", "path", path)

	return h, nil
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handles)
}

// Close releases every cached handle.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for path, h := range c.handles {
		h.Close()
		delete(c.handles, path)
	}
}
