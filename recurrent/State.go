package recurrent

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// State is the recurrent state carried between steps. It is one of
// NoState, StackedState or ModularState.
type State interface {
	Kind() Kind
	isState()
}

// NoState is the state of a disabled recurrent unit
type NoState struct{}

func (NoState) Kind() Kind { return Disabled }
func (NoState) isState()   {}

// StackedState is the state of a stack of GRU layers, of shape
// (batch, layers, hidden)
type StackedState struct {
	Hidden *tensor.Dense
}

func (StackedState) Kind() Kind { return Stacked }
func (StackedState) isState()   {}

// ModularState is the state of a modular cell. Hidden and Cell have
// shape (batch, units, hidden / units). Cell is nil for cells of GRU
// modules.
type ModularState struct {
	Hidden *tensor.Dense
	Cell   *tensor.Dense
}

// Kind returns ModularLSTM if the state has a cell sub-state and
// ModularGRU otherwise
func (m ModularState) Kind() Kind {
	if m.Cell != nil {
		return ModularLSTM
	}
	return ModularGRU
}
func (ModularState) isState() {}

// Packed returns the (batch, hidden) form of the state kept by rollout
// storage: the cell sub-state, or the hidden sub-state for GRU modules
func (m ModularState) Packed() *tensor.Dense {
	src := m.Cell
	if src == nil {
		src = m.Hidden
	}
	shape := src.Shape()
	packed := src.Clone().(*tensor.Dense)
	if err := packed.Reshape(shape[0], shape[1]*shape[2]); err != nil {
		panic(err)
	}
	return packed
}

// FromPacked rebuilds a ModularState of kind k from its packed
// (batch, hidden) form. For LSTM modules the hidden and cell sub-states
// are both views of packed, as rollout storage only keeps one of them.
// GRU modules get a nil cell.
func FromPacked(packed *tensor.Dense, k Kind, units int) (ModularState,
	error) {
	if k != ModularLSTM && k != ModularGRU {
		return ModularState{}, errors.Wrapf(ErrState,
			"fromPacked: %v states are not packed", k)
	}
	shape := packed.Shape()
	var batch, hidden int
	switch len(shape) {
	case 2:
		batch, hidden = shape[0], shape[1]
	case 3:
		if shape[1] != 1 {
			return ModularState{}, errors.Wrapf(ErrState,
				"fromPacked: expected shape (batch, 1, hidden) but got %v",
				shape)
		}
		batch, hidden = shape[0], shape[2]
	default:
		return ModularState{}, errors.Wrapf(ErrState,
			"fromPacked: invalid packed shape %v", shape)
	}
	if units <= 0 || hidden%units != 0 {
		return ModularState{}, errors.Wrapf(ErrUnitsDivisibility,
			"fromPacked: %d units for hidden size %d", units, hidden)
	}

	backing, ok := packed.Data().([]float64)
	if !ok {
		return ModularState{}, errors.Wrapf(ErrState,
			"fromPacked: expected Float64 data but got %v", packed.Dtype())
	}
	view := func() *tensor.Dense {
		return tensor.New(tensor.WithShape(batch, units, hidden/units),
			tensor.WithBacking(backing))
	}
	if k == ModularGRU {
		return ModularState{Hidden: view()}, nil
	}
	return ModularState{Hidden: view(), Cell: view()}, nil
}

// ZeroState returns the all-zero state of kind k for a batch
func ZeroState(k Kind, c Config, batch int) State {
	switch k {
	case Stacked:
		return StackedState{
			Hidden: tensor.New(tensor.WithShape(batch, c.Layers, c.HiddenSize),
				tensor.Of(tensor.Float64)),
		}
	case ModularLSTM, ModularGRU:
		units := c.Units
		s := ModularState{
			Hidden: tensor.New(tensor.WithShape(batch, units, c.HiddenSize/units),
				tensor.Of(tensor.Float64)),
		}
		if k == ModularLSTM {
			s.Cell = tensor.New(tensor.WithShape(batch, units,
				c.HiddenSize/units), tensor.Of(tensor.Float64))
		}
		return s
	default:
		return NoState{}
	}
}
