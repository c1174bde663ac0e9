package taskqueue

import (
	"fmt"
	"sync"
)

// Strategy supplies the ORDER BY contract used by the claim query to pick the
// single best eligible task. Strategies carry no state and never see task
// data; adding a new ordering policy means implementing this interface and
// registering it, while the claim transaction itself never changes.
type Strategy interface {
	// Name identifies the strategy in the registry.
	Name() string

	// OrderBy returns the SQL ordering fragment (without the ORDER BY
	// keyword) applied to eligible queued tasks.
	OrderBy() string
}

// Built-in strategy names.
const (
	StrategyFIFO           = "fifo"
	StrategyLIFO           = "lifo"
	StrategyPriority       = "priority"
	StrategyWeightedRandom = "weighted-random"
)

var (
	strategyMu sync.RWMutex
	strategies = make(map[string]Strategy)
)

// RegisterStrategy adds a strategy to the registry. Registering a name twice
// returns ErrStrategyRegistered.
func RegisterStrategy(s Strategy) error {
	strategyMu.Lock()
	defer strategyMu.Unlock()

	if _, exists := strategies[s.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrStrategyRegistered, s.Name())
	}
	strategies[s.Name()] = s
	return nil
}

// StrategyByName resolves a registered strategy.
func StrategyByName(name string) (Strategy, error) {
	strategyMu.RLock()
	defer strategyMu.RUnlock()

	s, ok := strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return s, nil
}

// StrategyNames lists the registered strategies.
func StrategyNames() []string {
	strategyMu.RLock()
	defer strategyMu.RUnlock()

	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	return names
}

func init() {
	for _, s := range []Strategy{
		fifoStrategy{},
		lifoStrategy{},
		priorityStrategy{},
		weightedRandomStrategy{},
	} {
		if err := RegisterStrategy(s); err != nil {
			panic(err)
		}
	}
}

// fifoStrategy serves the oldest task first.
type fifoStrategy struct{}

func (fifoStrategy) Name() string    { return StrategyFIFO }
func (fifoStrategy) OrderBy() string { return "created_at ASC, priority DESC" }

// lifoStrategy serves the newest task first, favouring the latest
// user-triggered request over stale backlog.
type lifoStrategy struct{}

func (lifoStrategy) Name() string    { return StrategyLIFO }
func (lifoStrategy) OrderBy() string { return "created_at DESC, priority DESC" }

// priorityStrategy serves urgent work first, FIFO within a priority band.
type priorityStrategy struct{}

func (priorityStrategy) Name() string    { return StrategyPriority }
func (priorityStrategy) OrderBy() string { return "priority ASC, created_at ASC" }

// weightedRandomStrategy picks randomly among eligible tasks with
// inverse-priority weighting: each row draws a random key scaled by
// priority+1, so urgent rows tend to win without starving the rest of a hot
// priority band under contention.
type weightedRandomStrategy struct{}

func (weightedRandomStrategy) Name() string { return StrategyWeightedRandom }

func (weightedRandomStrategy) OrderBy() string {
	return "(priority + 1) * (1 + (abs(random()) % 1048576)) ASC, created_at ASC"
}
