package policy

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/rmappo/environment"
	G "gorgonia.org/gorgonia"
)

// Constructor adds an action head for the action space act to the
// graph of the embedding input
type Constructor func(input *G.Node, act environment.Spec,
	c Config) (Head, error)

// Environment names with registered action heads
const (
	MPESimpleSpread = "MPE-simple.spread"
	SISLMultiwalker = "SISL-multiwalker"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{
		MPESimpleSpread: NewForSpace,
		SISLMultiwalker: newMultiwalker,
	}
)

// Register registers the action head constructor for an environment
// name. Register panics if the name is already registered.
func Register(envName string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if ctor == nil {
		panic("register: nil constructor for " + envName)
	}
	if _, dup := registry[envName]; dup {
		panic("register: called twice for " + envName)
	}
	registry[envName] = ctor
}

// New adds the action head registered for envName to the graph of
// input
func New(envName string, input *G.Node, act environment.Spec,
	c Config) (Head, error) {
	registryMu.RLock()
	ctor, ok := registry[envName]
	registryMu.RUnlock()

	if !ok {
		return nil, errors.Wrapf(ErrUnknownEnv, "new: %q", envName)
	}
	return ctor(input, act, c)
}

// NewForSpace adds the action head suited to the cardinality of the
// action space: Categorical for Discrete, MultiCategorical for
// MultiDiscrete and DiagGaussian for Continuous actions
func NewForSpace(input *G.Node, act environment.Spec, c Config) (Head,
	error) {
	if act.Type != environment.Action {
		return nil, errors.Wrapf(ErrActions, "newForSpace: expected an "+
			"action specification but got %v", act.Type)
	}

	var head Head
	var err error
	switch act.Cardinality {
	case environment.Discrete:
		head, err = NewCategorical(input, act.Categories()[0], c)

	case environment.MultiDiscrete:
		head, err = NewMultiCategorical(input, act.Categories(), c)

	case environment.Continuous:
		head, err = NewDiagGaussian(input, act.Size(), nil, nil, c)

	default:
		return nil, errors.Wrapf(ErrActions, "newForSpace: unsupported "+
			"cardinality %v", act.Cardinality)
	}

	if err != nil {
		return nil, err
	}
	return head, nil
}

// newMultiwalker adds a DiagGaussian head whose actions are clipped to
// the bounds of the continuous action space
func newMultiwalker(input *G.Node, act environment.Spec, c Config) (Head,
	error) {
	if act.Cardinality != environment.Continuous {
		return nil, errors.Wrapf(ErrActions, "newMultiwalker: expected "+
			"continuous actions but got %v", act.Cardinality)
	}

	n := act.Size()
	low, high := make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		low[i], high[i] = act.LowerBound.AtVec(i), act.UpperBound.AtVec(i)
	}
	head, err := NewDiagGaussian(input, n, low, high, c)
	if err != nil {
		return nil, err
	}
	return head, nil
}
