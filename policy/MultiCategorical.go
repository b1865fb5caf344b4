package policy

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/rmappo/network"
	"github.com/samuelfneumann/rmappo/utils/tensorutils"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// MultiCategorical is a product of independent Categorical
// distributions, one per action dimension. Log probabilities of the
// dimensions are summed and entropies averaged. Availability masks are
// not supported.
type MultiCategorical struct {
	heads []*Categorical
	rows  int

	logProb    *G.Node
	logProbVal G.Value
	entropy    *G.Node
	entropyVal G.Value
}

// NewMultiCategorical adds a MultiCategorical head to the graph of
// input, where dimension i of actions takes values in [0, nvec[i])
func NewMultiCategorical(input *G.Node, nvec []int,
	c Config) (*MultiCategorical, error) {
	if len(nvec) == 0 {
		return nil, errors.Wrap(ErrActions, "newMultiCategorical: no action "+
			"dimensions")
	}

	m := &MultiCategorical{rows: input.Shape()[0]}
	var logProbs, entropies G.Nodes
	for i, n := range nvec {
		sub := c
		sub.Name = fmt.Sprintf("%sDim%d", c.Name, i)
		sub.Seed = c.Seed + uint64(i)

		head, err := NewCategorical(input, n, sub)
		if err != nil {
			return nil, errors.Wrapf(err, "newMultiCategorical: dimension %d",
				i)
		}
		m.heads = append(m.heads, head)
		logProbs = append(logProbs, head.LogProbNode())
		entropies = append(entropies, head.EntropyNode())
	}

	m.logProb = sum(logProbs)
	m.entropy = G.Must(G.HadamardDiv(sum(entropies),
		G.NewConstant(float64(len(nvec)))))
	G.Read(m.logProb, &m.logProbVal)
	G.Read(m.entropy, &m.entropyVal)

	return m, nil
}

func sum(nodes G.Nodes) *G.Node {
	if len(nodes) == 1 {
		return nodes[0]
	}
	return G.Must(G.ReduceAdd(nodes))
}

// SetAvailable accepts only a nil mask
func (m *MultiCategorical) SetAvailable(available tensor.Tensor) error {
	if available != nil {
		return errors.Wrap(ErrActions, "setAvailable: availability masks "+
			"are not supported for multi-discrete actions")
	}
	for _, head := range m.heads {
		if err := head.SetAvailable(nil); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiCategorical) SetActions(actions tensor.Tensor) error {
	if actions == nil {
		for _, head := range m.heads {
			if err := head.SetActions(nil); err != nil {
				return err
			}
		}
		return nil
	}

	data, err := tensorutils.Float64(actions)
	if err != nil {
		return errors.Wrap(err, "setActions")
	}
	dims := len(m.heads)
	if len(data) != m.rows*dims {
		return errors.Wrapf(ErrActions, "setActions: expected (%d, %d) "+
			"actions but got shape %v", m.rows, dims, actions.Shape())
	}

	for i, head := range m.heads {
		oneHot := make([]float64, m.rows*head.numActions)
		if err := head.fillOneHot(oneHot, data, i, dims); err != nil {
			return errors.Wrapf(err, "setActions: dimension %d", i)
		}
		if err := network.SetInput(head.actions, oneHot); err != nil {
			return errors.Wrapf(err, "setActions: dimension %d", i)
		}
	}
	return nil
}

func (m *MultiCategorical) SetActiveMasks(active []float64) error {
	for _, head := range m.heads {
		if err := head.SetActiveMasks(active); err != nil {
			return err
		}
	}
	return nil
}

// Sample samples each dimension independently
func (m *MultiCategorical) Sample(deterministic bool) (*tensor.Dense,
	*tensor.Dense, error) {
	dims := len(m.heads)
	actions := make([]float64, m.rows*dims)
	logProbs := make([]float64, m.rows)

	for j, head := range m.heads {
		a, lp, err := head.Sample(deterministic)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "sample: dimension %d", j)
		}
		aData := a.Data().([]float64)
		lpData := lp.Data().([]float64)
		for i := 0; i < m.rows; i++ {
			actions[i*dims+j] = aData[i]
			logProbs[i] += lpData[i]
		}
	}

	return tensor.New(tensor.WithShape(m.rows, dims),
			tensor.WithBacking(actions)),
		tensor.New(tensor.WithShape(m.rows, 1), tensor.WithBacking(logProbs)),
		nil
}

func (m *MultiCategorical) LogProbs() (*tensor.Dense, error) {
	return readDense(m.logProbVal, m.rows, 1)
}

func (m *MultiCategorical) Entropy() (float64, error) {
	return readScalar(m.entropyVal)
}

func (m *MultiCategorical) LogProbNode() *G.Node {
	return m.logProb
}

func (m *MultiCategorical) EntropyNode() *G.Node {
	return m.entropy
}

func (m *MultiCategorical) ActionDims() int {
	return len(m.heads)
}

func (m *MultiCategorical) Learnables() G.Nodes {
	var learnables G.Nodes
	for _, head := range m.heads {
		learnables = append(learnables, head.Learnables()...)
	}
	return learnables
}
