// Package rmappo implements the actor and critic networks of
// recurrent multi-agent PPO.
//
// Each network is built once, for a fixed number of rows, into its own
// computational graph: observations are encoded by a convolutional
// encoder (images) or an MLP (vectors), optionally passed through a
// recurrent unit, and fed to an action head (actors) or a value head
// (critics). Calls on one network are serialized; use CloneWithBatch to
// run networks in parallel.
package rmappo

import (
	"github.com/pkg/errors"
	"github.com/samuelfneumann/rmappo/agent"
	"github.com/samuelfneumann/rmappo/environment"
	"github.com/samuelfneumann/rmappo/network"
	"github.com/samuelfneumann/rmappo/policy"
	"github.com/samuelfneumann/rmappo/recurrent"
	"github.com/samuelfneumann/rmappo/utils/nancheck"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Actor is a policy network mapping observations to actions
type Actor struct {
	t      *trunk
	config Config
	kind   recurrent.Kind

	obsSpec environment.Spec
	actSpec environment.Spec

	head       policy.Head
	learnables G.Nodes
}

var _ agent.Actor = (*Actor)(nil)

// NewActor returns a new Actor acting in batches of batch observations
func NewActor(c Config, obs, act environment.Spec, batch int) (*Actor,
	error) {
	return NewSequenceActor(c, obs, act, batch, 1)
}

// NewSequenceActor returns a new Actor evaluating batch sequences of
// steps observations each. Rows of inputs are ordered time-major. Only
// actors with a single step can Act.
func NewSequenceActor(c Config, obs, act environment.Spec, batch,
	steps int) (*Actor, error) {
	kind, err := c.validate()
	if err != nil {
		return nil, errors.Wrap(err, "newActor")
	}

	init := c.initFactory(0)
	t, features, err := newTrunk("Actor", c, kind, obs, batch, steps, init,
		c.Seed)
	if err != nil {
		return nil, errors.Wrap(err, "newActor")
	}

	head, err := policy.New(c.EnvName, features, act, policy.Config{
		Name:           "Actor",
		Gain:           c.Gain,
		Init:           init,
		UseActiveMasks: c.UsePolicyActiveMasks,
		Seed:           c.Seed,
	})
	if err != nil {
		return nil, errors.Wrap(err, "newActor: could not create action head")
	}

	a := &Actor{
		t:       t,
		config:  c,
		kind:    kind,
		obsSpec: obs,
		actSpec: act,
		head:    head,
	}
	a.learnables = append(t.learnables(), head.Learnables()...)
	t.compile(a.learnables, c.EnvName)

	return a, nil
}

// Act selects an action for each observation. Actions are sampled
// unless deterministic, in which case the mode of the distribution is
// taken. Masks reset the recurrent state of rows where they are 0 and
// may be nil; available masks unavailable discrete actions and may be
// nil. With recurrence disabled, state is returned unchanged.
func (a *Actor) Act(obs tensor.Tensor, state recurrent.State,
	masks []float64, available tensor.Tensor,
	deterministic bool) (agent.ActResult, error) {
	a.t.mu.Lock()
	defer a.t.mu.Unlock()

	if a.t.steps != 1 {
		return agent.ActResult{}, errors.Errorf("act: cannot act with a "+
			"sequence of %d steps", a.t.steps)
	}

	if err := a.t.bind(obs, state, masks); err != nil {
		return agent.ActResult{}, errors.Wrap(err, "act")
	}
	if err := a.head.SetAvailable(available); err != nil {
		return agent.ActResult{}, errors.Wrap(err, "act")
	}
	if err := a.head.SetActions(nil); err != nil {
		return agent.ActResult{}, errors.Wrap(err, "act")
	}
	if err := a.head.SetActiveMasks(nil); err != nil {
		return agent.ActResult{}, errors.Wrap(err, "act")
	}

	var result agent.ActResult
	err := a.t.run(func() error {
		var err error
		result.Actions, result.LogProbs, err = a.head.Sample(deterministic)
		if err != nil {
			return err
		}
		result.State, err = a.t.rnn.State()
		return err
	})
	if err != nil {
		return agent.ActResult{}, errors.Wrap(err, "act")
	}
	return result, nil
}

// Evaluate returns the log probabilities of actions under the policy
// and the entropy of the policy. With active masks enabled, the
// entropy averages only rows whose active mask is 1; active may be nil
// to weight all rows equally.
func (a *Actor) Evaluate(obs tensor.Tensor, state recurrent.State,
	actions tensor.Tensor, masks []float64, available tensor.Tensor,
	active []float64) (agent.EvalResult, error) {
	a.t.mu.Lock()
	defer a.t.mu.Unlock()

	if actions == nil {
		return agent.EvalResult{}, errors.Wrap(ErrShape, "evaluate: nil "+
			"actions")
	}
	if err := a.t.bind(obs, state, masks); err != nil {
		return agent.EvalResult{}, errors.Wrap(err, "evaluate")
	}
	if err := a.head.SetAvailable(available); err != nil {
		return agent.EvalResult{}, errors.Wrap(err, "evaluate")
	}
	if err := a.head.SetActions(actions); err != nil {
		return agent.EvalResult{}, errors.Wrap(err, "evaluate")
	}
	if err := a.head.SetActiveMasks(active); err != nil {
		return agent.EvalResult{}, errors.Wrap(err, "evaluate")
	}

	var result agent.EvalResult
	err := a.t.run(func() error {
		var err error
		result.LogProbs, err = a.head.LogProbs()
		if err != nil {
			return err
		}
		result.Entropy, err = a.head.Entropy()
		return err
	})
	if err != nil {
		return agent.EvalResult{}, errors.Wrap(err, "evaluate")
	}
	return result, nil
}

// ZeroState returns the initial recurrent state of a batch
func (a *Actor) ZeroState() recurrent.State {
	return recurrent.ZeroState(a.kind, recurrentConfig(a.config), a.t.batch)
}

// CloneWithBatch returns a copy of the actor, with equal weights, for
// batch sequences of steps observations
func (a *Actor) CloneWithBatch(batch, steps int) (*Actor, error) {
	clone, err := NewSequenceActor(a.config, a.obsSpec, a.actSpec, batch,
		steps)
	if err != nil {
		return nil, errors.Wrap(err, "cloneWithBatch")
	}
	if err := clone.Set(a); err != nil {
		clone.Close()
		return nil, errors.Wrap(err, "cloneWithBatch")
	}
	clone.t.nan = a.t.nan
	return clone, nil
}

// Set sets the weights of the actor to those of source
func (a *Actor) Set(source network.Learnabler) error {
	a.t.mu.Lock()
	defer a.t.mu.Unlock()
	return network.Set(a, source)
}

// Polyak moves the weights of the actor towards those of source by a
// step of size tau
func (a *Actor) Polyak(source network.Learnabler, tau float64) error {
	a.t.mu.Lock()
	defer a.t.mu.Unlock()
	return network.Polyak(a, source, tau)
}

// SetNaNChecker sets the checker observations are reported to. A nil
// checker disables checks.
func (a *Actor) SetNaNChecker(c *nancheck.Checker) {
	a.t.mu.Lock()
	defer a.t.mu.Unlock()
	a.t.nan = c
}

// Kind returns the kind of the actor's recurrent unit
func (a *Actor) Kind() recurrent.Kind {
	return a.kind
}

// BatchSize returns the number of sequences per call
func (a *Actor) BatchSize() int {
	return a.t.batch
}

// Steps returns the number of steps per sequence
func (a *Actor) Steps() int {
	return a.t.steps
}

// LogProbNode returns the node of the log probabilities of the
// evaluated actions
func (a *Actor) LogProbNode() *G.Node {
	return a.head.LogProbNode()
}

// EntropyNode returns the node of the active-mask weighted entropy
func (a *Actor) EntropyNode() *G.Node {
	return a.head.EntropyNode()
}

// Learnables returns the learnable nodes of the actor
func (a *Actor) Learnables() G.Nodes {
	return a.learnables
}

// Model returns the learnables as gradient-carrying values
func (a *Actor) Model() []G.ValueGrad {
	return network.Model(a.learnables)
}

// Graph returns the computational graph of the actor
func (a *Actor) Graph() *G.ExprGraph {
	return a.t.g
}

// Close releases the tape machine of the actor
func (a *Actor) Close() error {
	return a.t.close()
}
