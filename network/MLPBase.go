package network

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/rmappo/initwfn"
	G "gorgonia.org/gorgonia"
)

// MLPBase embeds flat observation vectors. The input is optionally
// layer normalized, then passes through 1 + LayerN hidden layers, each
// a fully connected layer, an activation and a layer normalization.
type MLPBase struct {
	featureNorm *LayerNorm
	layers      []*FCLayer
	norms       []*LayerNorm
	features    int
	hidden      int
}

// NewMLPBase adds an MLPBase for observations of features elements to
// the graph g
func NewMLPBase(g *G.ExprGraph, features int, c EncoderConfig,
	init initwfn.Factory) (*MLPBase, error) {
	if features <= 0 {
		return nil, errors.Errorf("newMLPBase: invalid features %d", features)
	}
	if c.HiddenSize <= 0 {
		return nil, errors.Errorf("newMLPBase: invalid hidden size %d",
			c.HiddenSize)
	}
	if c.LayerN < 0 {
		return nil, errors.Errorf("newMLPBase: invalid layer_N %d", c.LayerN)
	}

	act := TanH()
	if c.UseReLU {
		act = ReLU()
	}

	m := &MLPBase{features: features, hidden: c.HiddenSize}
	if c.UseFeatureNormalization {
		m.featureNorm = NewLayerNorm(g, c.Name+"FeatureNorm", features)
	}

	in := features
	for i := 0; i < c.LayerN+1; i++ {
		layerName := fmt.Sprintf("%sFC%d", c.Name, i)
		m.layers = append(m.layers, NewFCLayer(g, layerName, in,
			c.HiddenSize, init(act.Gain()), act))
		m.norms = append(m.norms, NewLayerNorm(g, layerName, c.HiddenSize))
		in = c.HiddenSize
	}

	return m, nil
}

// Fwd adds the forward pass of the encoder to the graph of obs, which
// must have shape (batch, features)
func (m *MLPBase) Fwd(obs *G.Node) (*G.Node, error) {
	shape := obs.Shape()
	if len(shape) != 2 || shape[1] != m.features {
		return nil, errors.Errorf("fwd: expected input of shape (batch, %d) "+
			"but got %v", m.features, shape)
	}

	x := obs
	var err error
	if m.featureNorm != nil {
		x, err = m.featureNorm.Fwd(x)
		if err != nil {
			return nil, errors.Wrap(err, "fwd: feature normalization")
		}
	}

	for i := range m.layers {
		x, err = m.layers[i].Fwd(x)
		if err != nil {
			return nil, errors.Wrapf(err, "fwd: layer %d", i)
		}
		x, err = m.norms[i].Fwd(x)
		if err != nil {
			return nil, errors.Wrapf(err, "fwd: layer norm %d", i)
		}
	}
	return x, nil
}

// OutputSize returns the number of features of the embedding
func (m *MLPBase) OutputSize() int {
	return m.hidden
}

// Learnables returns the learnable nodes of the encoder
func (m *MLPBase) Learnables() G.Nodes {
	var learnables G.Nodes
	if m.featureNorm != nil {
		learnables = append(learnables, m.featureNorm.Learnables()...)
	}
	for i := range m.layers {
		learnables = append(learnables, m.layers[i].Learnables()...)
		learnables = append(learnables, m.norms[i].Learnables()...)
	}
	return learnables
}
