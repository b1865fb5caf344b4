package network

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/rmappo/initwfn"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Channels of the convolutional stages and the widths of the fully
// connected layers that follow them
var (
	convChannels = []int{32, 64, 128}
	convHidden   = []int{512, 64}
)

// convLayer implements a 3x3 convolution with padding 1 followed by
// 2x2 max pooling and a ReLU, halving the height and width of its input
type convLayer struct {
	filter *G.Node
	bias   *G.Node
}

func newConvLayer(g *G.ExprGraph, name string, in, out int,
	init G.InitWFn) *convLayer {
	filter := G.NewTensor(
		g,
		tensor.Float64,
		4,
		G.WithShape(out, in, 3, 3),
		G.WithName(fmt.Sprintf("%s_Filter", name)),
		G.WithInit(init),
	)
	bias := G.NewTensor(
		g,
		tensor.Float64,
		4,
		G.WithShape(1, out, 1, 1),
		G.WithName(fmt.Sprintf("%s_B", name)),
		G.WithInit(G.Zeroes()),
	)
	return &convLayer{filter: filter, bias: bias}
}

func (c *convLayer) fwd(x *G.Node) (*G.Node, error) {
	conv, err := G.Conv2d(x, c.filter, tensor.Shape{3, 3}, []int{1, 1},
		[]int{1, 1}, []int{1, 1})
	if err != nil {
		return nil, err
	}
	conv, err = G.BroadcastAdd(conv, c.bias, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, err
	}

	pool, err := G.MaxPool2D(conv, tensor.Shape{2, 2}, []int{0, 0},
		[]int{2, 2})
	if err != nil {
		return nil, err
	}
	return G.Rectify(pool)
}

func (c *convLayer) Learnables() G.Nodes {
	return G.Nodes{c.filter, c.bias}
}

// ConvEncoder embeds (channels, height, width) images with three
// convolution and pooling stages followed by two fully connected
// layers. All layers use ReLU activations.
type ConvEncoder struct {
	conv          []*convLayer
	fc            []*FCLayer
	height, width int
	channels      int
}

// NewConvEncoder adds a ConvEncoder for channels x height x width
// images to the graph g. The height and width must be divisible by 8.
func NewConvEncoder(g *G.ExprGraph, name string, channels, height,
	width int, init initwfn.Factory) (*ConvEncoder, error) {
	if height%8 != 0 || width%8 != 0 || height <= 0 || width <= 0 {
		return nil, errors.Errorf("newConvEncoder: image size %dx%d is "+
			"not divisible by 8", height, width)
	}
	if channels <= 0 {
		return nil, errors.Errorf("newConvEncoder: invalid channels %d",
			channels)
	}

	gain := math.Sqrt2
	e := &ConvEncoder{height: height, width: width, channels: channels}

	in := channels
	for i, out := range convChannels {
		layerName := fmt.Sprintf("%sConv%d", name, i)
		e.conv = append(e.conv, newConvLayer(g, layerName, in, out,
			init(gain)))
		in = out
	}

	in = convChannels[len(convChannels)-1] * (height / 8) * (width / 8)
	for i, out := range convHidden {
		layerName := fmt.Sprintf("%sConvFC%d", name, i)
		e.fc = append(e.fc, NewFCLayer(g, layerName, in, out, init(gain),
			ReLU()))
		in = out
	}

	return e, nil
}

// Fwd adds the forward pass of the encoder to the graph of obs, which
// must have shape (batch, channels, height, width)
func (e *ConvEncoder) Fwd(obs *G.Node) (*G.Node, error) {
	shape := obs.Shape()
	if len(shape) != 4 || shape[1] != e.channels || shape[2] != e.height ||
		shape[3] != e.width {
		return nil, errors.Errorf("fwd: expected input of shape (batch, "+
			"%d, %d, %d) but got %v", e.channels, e.height, e.width, shape)
	}

	x := obs
	var err error
	for i, layer := range e.conv {
		x, err = layer.fwd(x)
		if err != nil {
			return nil, errors.Wrapf(err, "fwd: conv stage %d", i)
		}
	}

	flat := convChannels[len(convChannels)-1] * (e.height / 8) * (e.width / 8)
	x, err = G.Reshape(x, tensor.Shape{shape[0], flat})
	if err != nil {
		return nil, errors.Wrap(err, "fwd: could not flatten")
	}

	for i, layer := range e.fc {
		x, err = layer.Fwd(x)
		if err != nil {
			return nil, errors.Wrapf(err, "fwd: fc layer %d", i)
		}
	}
	return x, nil
}

// OutputSize returns the number of features of the embedding
func (e *ConvEncoder) OutputSize() int {
	return convHidden[len(convHidden)-1]
}

// Learnables returns the learnable nodes of the encoder
func (e *ConvEncoder) Learnables() G.Nodes {
	var learnables G.Nodes
	for _, layer := range e.conv {
		learnables = append(learnables, layer.Learnables()...)
	}
	for _, layer := range e.fc {
		learnables = append(learnables, layer.Learnables()...)
	}
	return learnables
}
