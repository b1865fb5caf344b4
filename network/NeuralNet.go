// Package network implements the feature encoders of actor and critic
// networks and helpers for moving weights between computational graphs.
package network

import (
	"github.com/pkg/errors"
	"github.com/samuelfneumann/rmappo/initwfn"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Learnabler is anything holding learnable weights in a graph
type Learnabler interface {
	Learnables() G.Nodes
}

// Encoder embeds a batch of observations into a flat feature vector
type Encoder interface {
	Learnabler

	// Fwd adds the forward pass of the encoder to the graph of obs.
	// The first dimension of obs is the batch dimension.
	Fwd(obs *G.Node) (*G.Node, error)

	// OutputSize returns the number of features of the embedding
	OutputSize() int
}

// EncoderConfig describes an Encoder
type EncoderConfig struct {
	Name string

	// HiddenSize and LayerN describe the hidden layers of the vector
	// encoder; the image encoder has a fixed architecture
	HiddenSize int
	LayerN     int

	UseFeatureNormalization bool
	UseReLU                 bool
}

// NewEncoder returns the Encoder suited to observations laid out as
// layout: a convolutional encoder for (channels, height, width) images
// and an MLP for flat vectors.
func NewEncoder(g *G.ExprGraph, layout []int, c EncoderConfig,
	init initwfn.Factory) (Encoder, error) {
	var e Encoder
	var err error
	switch len(layout) {
	case 3:
		e, err = NewConvEncoder(g, c.Name, layout[0], layout[1], layout[2],
			init)
	case 1:
		e, err = NewMLPBase(g, layout[0], c, init)
	default:
		return nil, errors.Errorf("newEncoder: cannot encode observations "+
			"of layout %v", layout)
	}

	if err != nil {
		return nil, err
	}
	return e, nil
}

// Set sets the weights of dest to be equal to the weights of source.
// Both must have the same architecture.
func Set(dest, source Learnabler) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	if len(nodes) != len(sourceNodes) {
		return errors.Errorf("set: cannot set %d learnables from %d",
			len(nodes), len(sourceNodes))
	}

	for i, destLearnable := range nodes {
		if !destLearnable.Shape().Eq(sourceNodes[i].Shape()) {
			return errors.Errorf("set: learnable %v has shape %v but "+
				"source has shape %v", destLearnable.Name(),
				destLearnable.Shape(), sourceNodes[i].Shape())
		}
		sourceWeights := sourceNodes[i].Value().(tensor.Tensor).Clone()
		if err := G.Let(destLearnable, sourceWeights); err != nil {
			return errors.Wrapf(err, "set: could not set %v",
				destLearnable.Name())
		}
	}
	return nil
}

// Polyak sets the weights of dest to be a polyak average between its
// existing weights and the weights of source:
//
//	dest = (1 - tau) * dest + tau * source
func Polyak(dest, source Learnabler, tau float64) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	if len(nodes) != len(sourceNodes) {
		return errors.Errorf("polyak: cannot average %d learnables with %d",
			len(nodes), len(sourceNodes))
	}

	for i := range nodes {
		weights := nodes[i].Value().(*tensor.Dense)
		sourceWeights := sourceNodes[i].Value().(*tensor.Dense)

		weights, err := weights.MulScalar(1-tau, true)
		if err != nil {
			return errors.Wrap(err, "polyak")
		}

		sourceWeights, err = sourceWeights.MulScalar(tau, true)
		if err != nil {
			return errors.Wrap(err, "polyak")
		}

		var newWeights *tensor.Dense
		newWeights, err = weights.Add(sourceWeights)
		if err != nil {
			return errors.Wrap(err, "polyak")
		}

		if err := G.Let(nodes[i], newWeights); err != nil {
			return errors.Wrap(err, "polyak")
		}
	}
	return nil
}

// Model returns the learnables as gradient-carrying values for solvers
func Model(learnables G.Nodes) []G.ValueGrad {
	var model []G.ValueGrad = make([]G.ValueGrad, len(learnables))
	for i, learnable := range learnables {
		model[i] = learnable
	}
	return model
}

// NumParams returns the number of scalar weights held by learnables
func NumParams(learnables G.Nodes) int {
	n := 0
	for _, learnable := range learnables {
		n += learnable.Shape().TotalSize()
	}
	return n
}

// SetInput sets the value of an input node to a tensor of the node's
// shape backed by data
func SetInput(input *G.Node, data []float64) error {
	if size := input.Shape().TotalSize(); len(data) != size {
		return errors.Errorf("setInput: %v expects %d values but got %d",
			input.Name(), size, len(data))
	}

	inputTensor := tensor.New(
		tensor.WithShape(input.Shape()...),
		tensor.WithBacking(data),
	)
	return G.Let(input, inputTensor)
}
