// Package sentiment maps cleaned post text to a market sentiment label and
// a score in [-1, 1]. Models are external; this package owns the contract,
// the per-process model cache and the HTTP client that reaches them.
package sentiment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Label is the market reading of a text.
type Label string

const (
	Bullish Label = "Bullish"
	Bearish Label = "Bearish"
	Neutral Label = "Neutral"
)

const (
	ModelFinBERT    = "finbert"
	ModelCryptoBERT = "cryptobert"
)

// ErrUnknownModel is returned for a model key with no configured backing model.
var ErrUnknownModel = errors.New("unknown sentiment model")

// Result is the output of one analysis.
type Result struct {
	Label Label   `json:"label"`
	Score float64 `json:"score"`
}

// Scorer analyzes cleaned text. Implementations must be deterministic for
// identical input within one instance.
type Scorer interface {
	Analyze(ctx context.Context, text string) (Result, error)
}

// Factory builds the scorer for a model key. It is called at most once per
// key by a Registry.
type Factory func(model string) (Scorer, error)

// Registry lazily builds scorers and keeps them for the life of the process.
// Scorers hold no resources that need releasing, so there is no Close.
type Registry struct {
	mu      sync.Mutex
	factory Factory
	scorers map[string]Scorer
}

// NewRegistry creates a registry backed by factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory: factory,
		scorers: make(map[string]Scorer),
	}
}

// Get returns the scorer for model, building it on first use.
func (r *Registry) Get(model string) (Scorer, error) {
	key := strings.ToLower(strings.TrimSpace(model))
	if key == "" {
		key = ModelFinBERT
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.scorers[key]; ok {
		return s, nil
	}
	s, err := r.factory(key)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", key, err)
	}
	r.scorers[key] = s
	return s, nil
}

// Loaded lists the model keys built so far.
func (r *Registry) Loaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.scorers))
	for k := range r.scorers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
