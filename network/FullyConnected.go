package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// FCLayer implements a fully connected layer of a feed forward neural
// network
type FCLayer struct {
	weights *G.Node
	bias    *G.Node
	act     *Activation
}

// NewFCLayer adds the weights and bias of a fully connected layer
// mapping inputs features to outputs features to the graph. Weights
// are initialized with init and biases with zeroes.
func NewFCLayer(g *G.ExprGraph, name string, inputs, outputs int,
	init G.InitWFn, act *Activation) *FCLayer {
	weights := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(inputs, outputs),
		G.WithName(fmt.Sprintf("%s_W", name)),
		G.WithInit(init),
	)
	bias := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(1, outputs),
		G.WithName(fmt.Sprintf("%s_B", name)),
		G.WithInit(G.Zeroes()),
	)

	return &FCLayer{weights: weights, bias: bias, act: act}
}

// Fwd adds the forward pass of the FCLayer to the computational graph
func (f *FCLayer) Fwd(x *G.Node) (*G.Node, error) {
	x, err := G.Mul(x, f.Weights())
	if err != nil {
		return nil, err
	}

	// Broadcast the bias weights to all samples along the batch
	// dimension
	x, err = G.BroadcastAdd(x, f.Bias(), nil, []byte{0})
	if err != nil {
		return nil, err
	}

	if f.act == nil {
		return x, nil
	}
	return f.act.fwd(x)
}

func (f *FCLayer) Activation() *Activation {
	return f.act
}

func (f *FCLayer) Bias() *G.Node {
	return f.bias
}

func (f *FCLayer) Weights() *G.Node {
	return f.weights
}

func (f *FCLayer) Learnables() G.Nodes {
	return G.Nodes{f.weights, f.bias}
}
