// Package policy implements the action heads of actors: distributions
// over actions parameterized by an embedding, selected by environment
// name.
package policy

import (
	"github.com/pkg/errors"
	"github.com/samuelfneumann/rmappo/initwfn"
	"github.com/samuelfneumann/rmappo/network"
	"github.com/samuelfneumann/rmappo/utils/tensorutils"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var (
	// ErrUnknownEnv is returned when no action head is registered for
	// an environment name
	ErrUnknownEnv = errors.New("unknown environment name")

	// ErrNoActiveAgents is returned when active masks exclude every row
	ErrNoActiveAgents = errors.New("no active agents")

	// ErrActions is returned for actions or availability masks that do
	// not fit the action space
	ErrActions = errors.New("invalid actions")
)

// Head is a distribution over actions computed from an embedding in a
// computational graph. Heads are built for a fixed number of rows.
//
// Before a run of the graph, SetAvailable, SetActions and
// SetActiveMasks bind the per-call inputs. After the run, Sample draws
// actions from the distribution while LogProbs and Entropy evaluate
// the bound actions.
type Head interface {
	network.Learnabler

	// SetAvailable binds the (rows, actions) availability mask of a
	// discrete head. A nil mask makes every action available.
	SetAvailable(available tensor.Tensor) error

	// SetActions binds the actions to evaluate, of shape (rows,
	// ActionDims()). Nil actions evaluate zeroes.
	SetActions(actions tensor.Tensor) error

	// SetActiveMasks binds one mask per row weighting the entropy. Nil
	// masks weight every row equally.
	SetActiveMasks(active []float64) error

	// Sample returns actions of shape (rows, ActionDims()) drawn from
	// the distribution of the last run, or its mode if deterministic,
	// together with their (rows, 1) log probabilities
	Sample(deterministic bool) (actions, logProbs *tensor.Dense, err error)

	// LogProbs returns the (rows, 1) log probabilities of the bound
	// actions in the last run
	LogProbs() (*tensor.Dense, error)

	// Entropy returns the active-mask weighted mean entropy of the
	// last run
	Entropy() (float64, error)

	LogProbNode() *G.Node
	EntropyNode() *G.Node
	ActionDims() int
}

// Config configures an action head
type Config struct {
	// Name prefixes the names of nodes added to the graph
	Name string

	// Gain scales the initial weights of the output layer
	Gain float64
	Init initwfn.Factory

	// UseActiveMasks weights the entropy by the active masks; if false
	// active masks are ignored
	UseActiveMasks bool

	// Seed seeds the sampling of actions
	Seed uint64
}

// activeEntropy holds the active mask weighting of per-row entropies
type activeEntropy struct {
	use    bool
	rows   int
	active *G.Node // (rows, 1)
	node   *G.Node
	value  G.Value
}

func newActiveEntropy(g *G.ExprGraph, name string, rows int,
	use bool) *activeEntropy {
	active := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(rows, 1),
		G.WithName(name+"ActiveMasks"),
		G.WithInit(G.Ones()),
	)
	return &activeEntropy{use: use, rows: rows, active: active}
}

// fwd adds sum(entropy ⊙ active) / sum(active) to the graph, where
// entropy holds the (rows, 1) entropy of each row
func (a *activeEntropy) fwd(entropy *G.Node) *G.Node {
	weighted := G.Must(G.HadamardProd(entropy, a.active))
	total := G.Must(G.Sum(weighted))
	count := G.Must(G.Sum(a.active))
	a.node = G.Must(G.HadamardDiv(total, count))
	G.Read(a.node, &a.value)
	return a.node
}

func (a *activeEntropy) set(active []float64) error {
	if active == nil || !a.use {
		ones := make([]float64, a.rows)
		for i := range ones {
			ones[i] = 1.0
		}
		return network.SetInput(a.active, ones)
	}

	if len(active) != a.rows {
		return errors.Wrapf(ErrActions, "expected %d active masks but got %d",
			a.rows, len(active))
	}
	sum := 0.0
	for _, m := range active {
		sum += m
	}
	if sum == 0 {
		return ErrNoActiveAgents
	}

	masks := make([]float64, len(active))
	copy(masks, active)
	return network.SetInput(a.active, masks)
}

func (a *activeEntropy) read() (float64, error) {
	return readScalar(a.value)
}

// readScalar reads a reduced value after a run. Full reductions produce
// scalar values rather than tensors.
func readScalar(v G.Value) (float64, error) {
	switch s := v.(type) {
	case nil:
		return 0, errors.New("entropy: graph has not been run")
	case *G.F64:
		return float64(*s), nil
	case *G.F32:
		return float64(*s), nil
	case tensor.Tensor:
		data, err := tensorutils.Float64(s)
		if err != nil {
			return 0, err
		}
		if len(data) == 0 {
			return 0, errors.New("entropy: empty value")
		}
		return data[0], nil
	default:
		return 0, errors.Errorf("entropy: unsupported value type %T", v)
	}
}

// readDense copies the value read from a node after a run
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
