package recurrent

import (
	"github.com/pkg/errors"
	"github.com/samuelfneumann/rmappo/initwfn"
	"github.com/samuelfneumann/rmappo/network"
	"github.com/samuelfneumann/rmappo/utils/op"
	"github.com/samuelfneumann/rmappo/utils/tensorutils"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Config describes a recurrent unit
type Config struct {
	// Name prefixes the names of all nodes the unit adds to a graph
	Name string

	HiddenSize int

	// Layers is the number of GRU layers of a Stacked unit
	Layers int

	// Units is the number of modules of a modular cell and TopK the
	// number of modules that attend to the input each step
	Units int
	TopK  int

	// MaskModularState zeroes the state of a modular cell where the
	// reset mask is 0. Modular cells ignore reset masks otherwise.
	MaskModularState bool

	// Init creates the initializers of input projections and of the
	// weights of Stacked units
	Init initwfn.Factory

	// Seed seeds the Gaussian weights of the modules of a modular cell
	Seed uint64
}

// Unit is a recurrent memory unit in a computational graph built for
// a fixed batch of sequences of a fixed number of steps. Rows of inputs
// and outputs are ordered time-major: row t*batch+i is step t of
// sequence i.
//
// Usage: Fwd is called once when the graph is built. Before each run
// of the graph SetState binds the initial state and reset masks, and
// after the run State returns the state following the final step.
type Unit interface {
	network.Learnabler

	Kind() Kind

	// Fwd adds the unit to the graph of x, which must have shape
	// (steps*batch, inputs), and returns the output embedding of
	// shape (steps*batch, OutputSize())
	Fwd(x *G.Node) (*G.Node, error)

	// SetState binds the initial state and the reset masks, one per
	// row. A nil state is the zero state; nil masks never reset.
	SetState(s State, masks []float64) error

	// State returns the state after the final step of the last run
	State() (State, error)

	OutputSize() int
}

// New returns a new recurrent unit of kind k in the graph g for inputs
// of inputSize features
func New(g *G.ExprGraph, k Kind, c Config, batch, steps,
	inputSize int) (Unit, error) {
	if batch <= 0 || steps <= 0 {
		return nil, errors.Errorf("new: invalid batch %d and steps %d",
			batch, steps)
	}

	switch k {
	case Disabled:
		return &passThrough{size: inputSize, batch: batch, steps: steps}, nil

	case Stacked:
		s, err := newStackedGRU(g, c, batch, steps, inputSize)
		if err != nil {
			return nil, err
		}
		return s, nil

	case ModularLSTM, ModularGRU:
		m, err := newModularCell(g, k, c, batch, steps, inputSize)
		if err != nil {
			return nil, err
		}
		return m, nil

	default:
		return nil, errors.Wrapf(ErrInvalidRecurrence, "new: unknown kind %v",
			k)
	}
}

// passThrough is a disabled recurrent unit. The state given to it is
// returned unchanged.
type passThrough struct {
	size         int
	batch, steps int
	state        State
}

func (p *passThrough) Kind() Kind {
	return Disabled
}

func (p *passThrough) Fwd(x *G.Node) (*G.Node, error) {
	return x, nil
}

func (p *passThrough) SetState(s State, masks []float64) error {
	if _, err := checkMasks(masks, p.batch*p.steps); err != nil {
		return err
	}
	p.state = s
	return nil
}

func (p *passThrough) State() (State, error) {
	if p.state == nil {
		return NoState{}, nil
	}
	return p.state, nil
}

func (p *passThrough) OutputSize() int {
	return p.size
}

func (p *passThrough) Learnables() G.Nodes {
	return nil
}

// checkMasks validates reset masks, returning all ones if masks is nil
func checkMasks(masks []float64, rows int) ([]float64, error) {
	if masks == nil {
		ones := make([]float64, rows)
		for i := range ones {
			ones[i] = 1.0
		}
		return ones, nil
	}

	if len(masks) != rows {
		return nil, errors.Wrapf(ErrState, "expected %d masks but got %d",
			rows, len(masks))
	}
	out := make([]float64, rows)
	for i, m := range masks {
		if m != 0 && m != 1 {
			return nil, errors.Wrapf(ErrState, "mask %d is %v, not 0 or 1",
				i, m)
		}
		out[i] = m
	}
	return out, nil
}

// stateData returns the data of t after checking that it has shape
func stateData(t *tensor.Dense, shape ...int) ([]float64, error) {
	if t == nil {
		return nil, errors.Wrap(ErrState, "missing state tensor")
	}
	if !t.Shape().Eq(tensor.Shape(shape)) {
		return nil, errors.Wrapf(ErrState, "expected state of shape %v but "+
			"got %v", shape, t.Shape())
	}
	return tensorutils.Float64(t)
}

// readDense copies the value read from a node after a run into a new
// tensor of the given shape
func readDense(v G.Value, shape ...int) (*tensor.Dense, error) {
	if v == nil {
		return nil, errors.New("graph has not been run")
	}
	data, err := tensorutils.Float64(v.(tensor.Tensor))
	if err != nil {
		return nil, err
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)), nil
}

// stepInputs splits rows of x into the inputs of each step
func stepInputs(x *G.Node, batch, steps int) []*G.Node {
	if steps == 1 {
		return []*G.Node{x}
	}
	inputs := make([]*G.Node, steps)
	for t := range inputs {
		inputs[t] = op.Rows(x, t*batch, (t+1)*batch)
	}
	return inputs
}
