package network

import (
	"fmt"

	"github.com/samuelfneumann/rmappo/utils/op"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const layerNormEps = 1e-5

// LayerNorm normalizes each row of its input to zero mean and unit
// variance, then applies a learned elementwise scale and shift
type LayerNorm struct {
	scale *G.Node
	shift *G.Node
}

func NewLayerNorm(g *G.ExprGraph, name string, features int) *LayerNorm {
	scale := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(1, features),
		G.WithName(fmt.Sprintf("%s_LNScale", name)),
		G.WithInit(G.Ones()),
	)
	shift := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(1, features),
		G.WithName(fmt.Sprintf("%s_LNShift", name)),
		G.WithInit(G.Zeroes()),
	)
	return &LayerNorm{scale: scale, shift: shift}
}

func (l *LayerNorm) Fwd(x *G.Node) (*G.Node, error) {
	features := x.Shape()[1]
	invFeatures := G.NewConstant(1.0 / float64(features))

	mean, err := G.HadamardProd(op.RowSum(x), invFeatures)
	if err != nil {
		return nil, err
	}
	centred, err := G.Sub(x, op.ExpandCols(mean, features))
	if err != nil {
		return nil, err
	}

	variance := op.RowSum(G.Must(G.Square(centred)))
	variance = G.Must(G.HadamardProd(variance, invFeatures))
	variance = G.Must(G.Add(variance, G.NewConstant(layerNormEps)))
	invStd := G.Must(G.Inverse(G.Must(G.Sqrt(variance))))

	normed := op.ScaleRows(centred, invStd)
	normed, err = G.BroadcastHadamardProd(normed, l.scale, nil, []byte{0})
	if err != nil {
		return nil, err
	}
	return G.BroadcastAdd(normed, l.shift, nil, []byte{0})
}

func (l *LayerNorm) Learnables() G.Nodes {
	return G.Nodes{l.scale, l.shift}
}
