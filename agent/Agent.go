// Package agent defines the contracts between the networks of a
// multi-agent PPO learner and the trainers that drive them
package agent

import (
	"github.com/samuelfneumann/rmappo/network"
	"github.com/samuelfneumann/rmappo/recurrent"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ActResult is the result of acting in a batch of observations
type ActResult struct {
	// Actions has shape (batch, action dimensions) and LogProbs has
	// shape (batch, 1)
	Actions  *tensor.Dense
	LogProbs *tensor.Dense

	// State is the recurrent state after the step
	State recurrent.State
}

// EvalResult is the evaluation of given actions under a policy
type EvalResult struct {
	// LogProbs has shape (rows, 1)
	LogProbs *tensor.Dense

	// Entropy is the active-mask weighted mean entropy of the policy
	Entropy float64
}

// EstimateResult is the result of estimating values
type EstimateResult struct {
	// Values has shape (rows, 1)
	Values *tensor.Dense

	// State is the recurrent state after the final step
	State recurrent.State
}

// Network is the part of an actor or critic seen by optimizers. The
// graph holds the learnables; trainers build losses over its nodes.
type Network interface {
	network.Learnabler
	Model() []G.ValueGrad
	Graph() *G.ExprGraph
	Close() error
}

// Actor is a policy network. Rows of observations, masks and actions
// are ordered time-major for sequences.
type Actor interface {
	Network

	// Act selects an action for each observation, sampling unless
	// deterministic, and returns the next recurrent state
	Act(obs tensor.Tensor, state recurrent.State, masks []float64,
		available tensor.Tensor, deterministic bool) (ActResult, error)

	// Evaluate returns the log probabilities of actions and the
	// entropy of the policy, weighting rows by active
	Evaluate(obs tensor.Tensor, state recurrent.State, actions tensor.Tensor,
		masks []float64, available tensor.Tensor,
		active []float64) (EvalResult, error)

	LogProbNode() *G.Node
	EntropyNode() *G.Node
}

// Critic is a value network
type Critic interface {
	Network

	// Estimate returns the value of each observation and the next
	// recurrent state
	Estimate(obs tensor.Tensor, state recurrent.State,
		masks []float64) (EstimateResult, error)

	// Denormalize maps estimates to the scale of returns
	Denormalize(values tensor.Tensor) (*tensor.Dense, error)

	ValueNode() *G.Node
}
