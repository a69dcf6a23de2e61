package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Settings carries the source-specific part of the configuration.
type Settings struct {
	BaseURL    string
	ReplayFile string
	ClosedOnly bool
}

// Factory builds a Source. ctx bounds any background work the source starts.
type Factory func(ctx context.Context, s Settings) (Source, error)

// Registry maps data-source identifiers to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// DefaultRegistry returns a registry with the built-in sources:
// "binance" (REST polling), "binance-ws" (websocket klines) and "replay".
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister("binance", func(ctx context.Context, s Settings) (Source, error) {
		var opts []BinanceOption
		if s.ClosedOnly {
			opts = append(opts, WithClosedOnly())
		}
		return NewBinanceSource(s.BaseURL, opts...), nil
	})
	r.MustRegister("binance-ws", func(ctx context.Context, s Settings) (Source, error) {
		var opts []StreamOption
		if s.ClosedOnly {
			opts = append(opts, WithClosedKlinesOnly())
		}
		return NewStreamSource(ctx, s.BaseURL, opts...), nil
	})
	r.MustRegister("replay", func(ctx context.Context, s Settings) (Source, error) {
		if s.ReplayFile == "" {
			return nil, errors.New("replay source needs a replay file")
		}
		return NewReplaySource(s.ReplayFile)
	})
	return r
}

func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("source %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(fmt.Sprintf("failed to register source: %v", err))
	}
}

// New builds the source registered under name.
func (r *Registry) New(ctx context.Context, name string, s Settings) (Source, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown data source %q (known: %v)", name, r.List())
	}
	return f(ctx, s)
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
