// Package value implements the value head of critics: a linear
// projection of an embedding to a scalar value, optionally normalized
// with PopArt.
package value

import (
	"github.com/pkg/errors"
	"github.com/samuelfneumann/rmappo/initwfn"
	"github.com/samuelfneumann/rmappo/network"
	"github.com/samuelfneumann/rmappo/utils/tensorutils"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Config configures a value head
type Config struct {
	Name string
	Init initwfn.Factory

	// UsePopArt makes the head predict normalized values
	UsePopArt bool
	PopArt    PopArtConfig
}

// Head projects an embedding to one value per row
type Head struct {
	fc     *network.FCLayer
	rows   int
	popArt *PopArt

	values    *G.Node
	valuesVal G.Value
}

// New adds a value head to the graph of input, which must have shape
// (rows, features)
func New(input *G.Node, c Config) (*Head, error) {
	if len(input.Shape()) != 2 {
		return nil, errors.Errorf("new: expected matrix input but got shape "+
			"%v", input.Shape())
	}
	if c.Init == nil {
		return nil, errors.New("new: nil initializer factory")
	}

	rows, features := input.Shape()[0], input.Shape()[1]
	fc := network.NewFCLayer(input.Graph(), c.Name+"Value", features, 1,
		c.Init(1.0), nil)
	values, err := fc.Fwd(input)
	if err != nil {
		return nil, errors.Wrap(err, "new: could not compute values")
	}

	h := &Head{fc: fc, rows: rows, values: values}
	if c.UsePopArt {
		h.popArt, err = NewPopArt(c.PopArt)
		if err != nil {
			return nil, errors.Wrap(err, "new")
		}
	}
	G.Read(h.values, &h.valuesVal)

	return h, nil
}

// Node returns the (rows, 1) node of value estimates
func (h *Head) Node() *G.Node {
	return h.values
}

// Values returns the (rows, 1) value estimates of the last run. With
// PopArt these are normalized.
func (h *Head) Values() (*tensor.Dense, error) {
	if h.valuesVal == nil {
		return nil, errors.New("values: graph has not been run")
	}
	data, err := tensorutils.Float64(h.valuesVal.(tensor.Tensor))
	if err != nil {
		return nil, errors.Wrap(err, "values")
	}
	return tensor.New(tensor.WithShape(h.rows, 1), tensor.WithBacking(data)),
		nil
}

// PopArt returns the normalizer of the head, or nil if PopArt is not
// used
func (h *Head) PopArt() *PopArt {
	return h.popArt
}

// Denormalize maps value estimates back to the scale of returns. It is
// the identity without PopArt.
func (h *Head) Denormalize(values tensor.Tensor) (*tensor.Dense, error) {
	data, err := tensorutils.Float64(values)
	if err != nil {
		return nil, errors.Wrap(err, "denormalize")
	}
	if h.popArt != nil {
		data = h.popArt.Denormalize(data)
	}
	return tensor.New(tensor.WithShape(values.Shape()...),
		tensor.WithBacking(data)), nil
}

// Update folds returns into the PopArt statistics. If outputs are
// preserved, the weights of the head are rescaled so that denormalized
// estimates are unchanged by the update.
func (h *Head) Update(returns []float64) error {
	if h.popArt == nil {
		return errors.New("update: head does not use PopArt")
	}

	oldMean, oldStd, newMean, newStd, err := h.popArt.Update(returns)
	if err != nil {
		return errors.Wrap(err, "update")
	}
	if !h.popArt.config.PreserveOutputs {
		return nil
	}

	weights, err := tensorutils.Float64(h.fc.Weights().Value().(tensor.Tensor))
	if err != nil {
		return errors.Wrap(err, "update")
	}
	for i := range weights {
		weights[i] *= oldStd / newStd
	}

	bias, err := tensorutils.Float64(h.fc.Bias().Value().(tensor.Tensor))
	if err != nil {
		return errors.Wrap(err, "update")
	}
	for i := range bias {
		bias[i] = (oldStd*bias[i] + oldMean - newMean) / newStd
	}

	if err := network.SetInput(h.fc.Weights(), weights); err != nil {
		return errors.Wrap(err, "update")
	}
	return errors.Wrap(network.SetInput(h.fc.Bias(), bias), "update")
}

// Learnables returns the learnable nodes of the head
func (h *Head) Learnables() G.Nodes {
	return h.fc.Learnables()
}
