package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Kind 策略类型。
type Kind string

const (
	KindTWAP   Kind = "twap"
	KindPair   Kind = "pair"
	KindHedger Kind = "hedger"
)

// Constructor builds one strategy instance from its typed config.
type Constructor func(config any, env Env) (Strategy, error)

// StrategyFactory creates strategy instances based on configuration.
type StrategyFactory struct {
	mu    sync.RWMutex
	ctors map[Kind]Constructor
}

// NewStrategyFactory creates a new StrategyFactory.
func NewStrategyFactory() *StrategyFactory {
	return &StrategyFactory{ctors: make(map[Kind]Constructor)}
}

// Register adds a constructor; registering the same kind twice replaces it.
func (f *StrategyFactory) Register(kind Kind, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctors[kind] = ctor
}

// CreateStrategy creates a strategy instance based on the type and configuration.
func (f *StrategyFactory) CreateStrategy(kind Kind, config any, env Env) (Strategy, error) {
	f.mu.RLock()
	ctor, ok := f.ctors[kind]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return ctor(config, env.WithDefaults())
}

// Kinds lists registered kinds.
func (f *StrategyFactory) Kinds() []Kind {
	f.mu.RLock()
	defer f.mu.RUnlock()
	kinds := make([]Kind, 0, len(f.ctors))
	for k := range f.ctors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
