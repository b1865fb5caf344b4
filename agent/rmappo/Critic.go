package rmappo

import (
	"github.com/pkg/errors"
	"github.com/samuelfneumann/rmappo/agent"
	"github.com/samuelfneumann/rmappo/environment"
	"github.com/samuelfneumann/rmappo/network"
	"github.com/samuelfneumann/rmappo/recurrent"
	"github.com/samuelfneumann/rmappo/utils/nancheck"
	"github.com/samuelfneumann/rmappo/value"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// criticSeedOffset separates the initialization streams of critics
// from those of actors sharing a seed
const criticSeedOffset = 1 << 20

// Critic is a value network mapping (centralized) observations to
// value estimates
type Critic struct {
	t      *trunk
	config Config
	kind   recurrent.Kind

	obsSpec environment.Spec

	head       *value.Head
	learnables G.Nodes
}

var _ agent.Critic = (*Critic)(nil)

// NewCritic returns a new Critic estimating the values of batches of
// batch observations
func NewCritic(c Config, obs environment.Spec, batch int) (*Critic, error) {
	return NewSequenceCritic(c, obs, batch, 1)
}

// NewSequenceCritic returns a new Critic estimating the values of
// batch sequences of steps observations each, ordered time-major
func NewSequenceCritic(c Config, obs environment.Spec, batch,
	steps int) (*Critic, error) {
	kind, err := c.validate()
	if err != nil {
		return nil, errors.Wrap(err, "newCritic")
	}

	init := c.initFactory(criticSeedOffset)
	t, features, err := newTrunk("Critic", c, kind, obs, batch, steps, init,
		c.Seed+criticSeedOffset)
	if err != nil {
		return nil, errors.Wrap(err, "newCritic")
	}

	popArt := value.DefaultPopArtConfig()
	popArt.PreserveOutputs = c.PopArtPreserveOutputs
	head, err := value.New(features, value.Config{
		Name:      "Critic",
		Init:      init,
		UsePopArt: c.UsePopArt,
		PopArt:    popArt,
	})
	if err != nil {
		return nil, errors.Wrap(err, "newCritic: could not create value head")
	}

	cr := &Critic{
		t:       t,
		config:  c,
		kind:    kind,
		obsSpec: obs,
		head:    head,
	}
	cr.learnables = append(t.learnables(), head.Learnables()...)
	t.compile(cr.learnables, c.EnvName)

	return cr, nil
}

// Estimate returns the value of each observation, normalized if PopArt
// is used, and the recurrent state after the final step
func (c *Critic) Estimate(obs tensor.Tensor, state recurrent.State,
	masks []float64) (agent.EstimateResult, error) {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()

	if err := c.t.bind(obs, state, masks); err != nil {
		return agent.EstimateResult{}, errors.Wrap(err, "estimate")
	}

	var result agent.EstimateResult
	err := c.t.run(func() error {
		var err error
		result.Values, err = c.head.Values()
		if err != nil {
			return err
		}
		result.State, err = c.t.rnn.State()
		return err
	})
	if err != nil {
		return agent.EstimateResult{}, errors.Wrap(err, "estimate")
	}
	return result, nil
}

// Denormalize maps value estimates back to the scale of returns. It is
// the identity if PopArt is not used.
func (c *Critic) Denormalize(values tensor.Tensor) (*tensor.Dense, error) {
	return c.head.Denormalize(values)
}

// UpdateNormalizer folds returns into the PopArt statistics
func (c *Critic) UpdateNormalizer(returns []float64) error {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	return errors.Wrap(c.head.Update(returns), "updateNormalizer")
}

// PopArt returns the PopArt normalizer, or nil if PopArt is not used
func (c *Critic) PopArt() *value.PopArt {
	return c.head.PopArt()
}

// ZeroState returns the initial recurrent state of a batch
func (c *Critic) ZeroState() recurrent.State {
	return recurrent.ZeroState(c.kind, recurrentConfig(c.config), c.t.batch)
}

// CloneWithBatch returns a copy of the critic, with equal weights, for
// batch sequences of steps observations. PopArt statistics are not
// shared with the copy.
func (c *Critic) CloneWithBatch(batch, steps int) (*Critic, error) {
	clone, err := NewSequenceCritic(c.config, c.obsSpec, batch, steps)
	if err != nil {
		return nil, errors.Wrap(err, "cloneWithBatch")
	}
	if err := clone.Set(c); err != nil {
		clone.Close()
		return nil, errors.Wrap(err, "cloneWithBatch")
	}
	clone.t.nan = c.t.nan
	return clone, nil
}

// Set sets the weights of the critic to those of source
func (c *Critic) Set(source network.Learnabler) error {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	return network.Set(c, source)
}

// Polyak moves the weights of the critic towards those of source by a
// step of size tau
func (c *Critic) Polyak(source network.Learnabler, tau float64) error {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	return network.Polyak(c, source, tau)
}

// SetNaNChecker sets the checker observations are reported to. A nil
// checker disables checks.
func (c *Critic) SetNaNChecker(checker *nancheck.Checker) {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	c.t.nan = checker
}

// Kind returns the kind of the critic's recurrent unit
func (c *Critic) Kind() recurrent.Kind {
	return c.kind
}

// BatchSize returns the number of sequences per call
func (c *Critic) BatchSize() int {
	return c.t.batch
}

// Steps returns the number of steps per sequence
func (c *Critic) Steps() int {
	return c.t.steps
}

// ValueNode returns the (rows, 1) node of value estimates
func (c *Critic) ValueNode() *G.Node {
	return c.head.Node()
}

func (c *Critic) Learnables() G.Nodes {
	return c.learnables
}

func (c *Critic) Model() []G.ValueGrad {
	return network.Model(c.learnables)
}

func (c *Critic) Graph() *G.ExprGraph {
	return c.t.g
}

func (c *Critic) Close() error {
	return c.t.close()
}
