// Package strategy defines the decision interface the engine drives and the
// registry of strategies compiled into the binary.
package strategy

import (
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rxtech-lab/argo-papertrade/internal/types"
	"github.com/rxtech-lab/argo-papertrade/internal/version"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Strategy turns a market snapshot into signals. Decide must not depend on
// anything but its arguments and the strategy's own indicator state, so that
// the same snapshot sequence yields the same signals in replay and live runs.
type Strategy interface {
	// Name returns the registry name of the strategy.
	Name() string
	// ContractVersion returns the semver of the strategy contract the
	// implementation was written against.
	ContractVersion() string
	// Decide is called after a primary bar closes. positions holds a copy of
	// every open position.
	Decide(ts time.Time, snapshot types.MarketSnapshot, positions map[types.PositionKey]types.Position) ([]types.Signal, error)
}

// Params is the free-form parameter block of a strategy in the run config.
type Params map[string]any

// Options configures a strategy instance.
type Options struct {
	Primary     types.Resolution
	Resolutions []types.Resolution
	Instruments []string
	Params      Params
}

// Factory creates a strategy from options.
type Factory func(opts Options) (Strategy, error)

// Registry maps strategy names to factories and checks contract versions.
type Registry struct {
	mu             sync.RWMutex
	factories      map[string]Factory
	engineContract string
}

// NewRegistry creates an empty registry for engineContract.
func NewRegistry(engineContract string) *Registry {
	return &Registry{
		mu:             sync.RWMutex{},
		factories:      make(map[string]Factory),
		engineContract: engineContract,
	}
}

// NewDefaultRegistry returns a registry holding the built-in strategies.
func NewDefaultRegistry() *Registry {
	registry := NewRegistry(version.StrategyContract)

	// Names are unique, so these cannot fail.
	_ = registry.Register(SMACrossoverName, NewSMACrossover)
	_ = registry.Register(OpeningPriceCrossoverName, NewOpeningPriceCrossover)

	return registry
}

// DefaultParams returns the default parameter struct of a built-in strategy.
func DefaultParams(name string) (any, bool) {
	switch name {
	case SMACrossoverName:
		return DefaultSMACrossoverParams(), true
	case OpeningPriceCrossoverName:
		return DefaultOpeningPriceCrossoverParams(), true
	default:
		return nil, false
	}
}

// Register adds factory under name.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return errors.New(errors.ErrCodeInvalidParameter, "strategy name and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return errors.Newf(errors.ErrCodeStrategyExists, "strategy %q is already registered", name)
	}

	r.factories[name] = factory

	return nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// Create builds the strategy registered under name and verifies its contract
// version against the engine's.
func (r *Registry) Create(name string, opts Options) (Strategy, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.Newf(errors.ErrCodeUnsupportedStrategy, "unknown strategy %q", name)
	}

	s, err := factory(opts)
	if err != nil {
		return nil, err
	}

	if err := version.CheckContract(r.engineContract, s.ContractVersion()); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeVersionMismatch, err, "strategy %q cannot be loaded", name)
	}

	return s, nil
}

// decodeParams overlays params onto out, which holds the defaults, and
// validates the result.
func decodeParams(name string, params Params, out any) error {
	if len(params) > 0 {
		raw, err := yaml.Marshal(map[string]any(params))
		if err != nil {
			return errors.Wrapf(errors.ErrCodeStrategyConfigError, err, "invalid %s params", name)
		}

		if err := yaml.Unmarshal(raw, out); err != nil {
			return errors.Wrapf(errors.ErrCodeStrategyConfigError, err, "invalid %s params", name)
		}
	}

	if err := validator.New().Struct(out); err != nil {
		return errors.Wrapf(errors.ErrCodeStrategyConfigError, err, "invalid %s params", name)
	}

	return nil
}

func primaryOrDefault(res types.Resolution) types.Resolution {
	if res == "" {
		return types.Resolution1m
	}

	return res
}
