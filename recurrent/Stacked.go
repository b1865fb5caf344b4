package recurrent

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/rmappo/network"
	"github.com/samuelfneumann/rmappo/utils/op"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// gruLayer is a single GRU layer:
//
//	r  = σ(xr(x) + hr(h))
//	z  = σ(xz(x) + hz(h))
//	n  = tanh(xn(x) + r ⊙ hn(h))
//	h' = n + z ⊙ (h - n)
type gruLayer struct {
	xr, xz, xn *network.FCLayer
	hr, hz, hn *network.FCLayer
}

func newGRULayer(g *G.ExprGraph, name string, inputs, hidden int,
	init func() G.InitWFn) *gruLayer {
	fc := func(gate string, in int) *network.FCLayer {
		return network.NewFCLayer(g, fmt.Sprintf("%s_%s", name, gate), in,
			hidden, init(), nil)
	}
	return &gruLayer{
		xr: fc("XR", inputs), xz: fc("XZ", inputs), xn: fc("XN", inputs),
		hr: fc("HR", hidden), hz: fc("HZ", hidden), hn: fc("HN", hidden),
	}
}

func (l *gruLayer) fwd(x, h *G.Node) (*G.Node, error) {
	gate := func(xfc, hfc *network.FCLayer) (*G.Node, *G.Node, error) {
		xg, err := xfc.Fwd(x)
		if err != nil {
			return nil, nil, err
		}
		hg, err := hfc.Fwd(h)
		if err != nil {
			return nil, nil, err
		}
		return xg, hg, nil
	}

	xr, hr, err := gate(l.xr, l.hr)
	if err != nil {
		return nil, err
	}
	r := G.Must(G.Sigmoid(G.Must(G.Add(xr, hr))))

	xz, hz, err := gate(l.xz, l.hz)
	if err != nil {
		return nil, err
	}
	z := G.Must(G.Sigmoid(G.Must(G.Add(xz, hz))))

	xn, hn, err := gate(l.xn, l.hn)
	if err != nil {
		return nil, err
	}
	n := G.Must(G.Tanh(G.Must(G.Add(xn, G.Must(G.HadamardProd(r, hn))))))

	update := G.Must(G.HadamardProd(z, G.Must(G.Sub(h, n))))
	return G.Add(n, update)
}

func (l *gruLayer) learnables() G.Nodes {
	var learnables G.Nodes
	for _, fc := range []*network.FCLayer{l.xr, l.xz, l.xn, l.hr, l.hz, l.hn} {
		learnables = append(learnables, fc.Learnables()...)
	}
	return learnables
}

// stackedGRU is a stack of GRU layers whose output is layer
// normalized. Rows of the state whose reset mask is 0 are zeroed
// before each step.
type stackedGRU struct {
	layers []*gruLayer
	norm   *network.LayerNorm

	batch, steps int
	hidden       int

	stateIn *G.Node // (batch, layers*hidden)
	masks   *G.Node // (steps*batch, 1)

	stateOut      *G.Node
	stateVal      G.Value
	masked        []float64
	fwdHasBeenRun bool
}

func newStackedGRU(g *G.ExprGraph, c Config, batch, steps,
	inputSize int) (*stackedGRU, error) {
	if c.HiddenSize <= 0 {
		return nil, errors.Errorf("newStackedGRU: invalid hidden size %d",
			c.HiddenSize)
	}
	if c.Layers <= 0 {
		return nil, errors.Errorf("newStackedGRU: invalid layers %d",
			c.Layers)
	}
	if c.Init == nil {
		return nil, errors.New("newStackedGRU: nil initializer factory")
	}

	s := &stackedGRU{batch: batch, steps: steps, hidden: c.HiddenSize}

	in := inputSize
	for i := 0; i < c.Layers; i++ {
		name := fmt.Sprintf("%sGRU%d", c.Name, i)
		s.layers = append(s.layers, newGRULayer(g, name, in, c.HiddenSize,
			func() G.InitWFn { return c.Init(1.0) }))
		in = c.HiddenSize
	}
	s.norm = network.NewLayerNorm(g, c.Name+"GRUOut", c.HiddenSize)

	s.stateIn = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(batch, c.Layers*c.HiddenSize),
		G.WithName(c.Name+"GRUStateIn"),
		G.WithInit(G.Zeroes()),
	)
	s.masks = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(steps*batch, 1),
		G.WithName(c.Name+"GRUMasks"),
		G.WithInit(G.Ones()),
	)

	return s, nil
}

func (s *stackedGRU) Kind() Kind {
	return Stacked
}

func (s *stackedGRU) OutputSize() int {
	return s.hidden
}

func (s *stackedGRU) Fwd(x *G.Node) (*G.Node, error) {
	if s.fwdHasBeenRun {
		return nil, errors.New("fwd: already added to graph")
	}
	if x.Shape()[0] != s.batch*s.steps {
		return nil, errors.Errorf("fwd: expected %d rows but got %d",
			s.batch*s.steps, x.Shape()[0])
	}

	h := make([]*G.Node, len(s.layers))
	for l := range h {
		h[l] = op.Columns(s.stateIn, l*s.hidden, (l+1)*s.hidden)
	}

	var outputs G.Nodes
	for t, xt := range stepInputs(x, s.batch, s.steps) {
		mask := op.Rows(s.masks, t*s.batch, (t+1)*s.batch)
		for l := range h {
			h[l] = op.ScaleRows(h[l], mask)
		}

		in := xt
		for l, layer := range s.layers {
			out, err := layer.fwd(in, h[l])
			if err != nil {
				return nil, errors.Wrapf(err, "fwd: step %d layer %d", t, l)
			}
			h[l] = out
			in = out
		}
		outputs = append(outputs, in)
	}

	out := concat(0, outputs)
	out, err := s.norm.Fwd(out)
	if err != nil {
		return nil, errors.Wrap(err, "fwd: output normalization")
	}

	s.stateOut = concat(1, h)
	G.Read(s.stateOut, &s.stateVal)

	s.fwdHasBeenRun = true
	return out, nil
}

func (s *stackedGRU) SetState(state State, masks []float64) error {
	masks, err := checkMasks(masks, s.batch*s.steps)
	if err != nil {
		return errors.Wrap(err, "setState")
	}

	var data []float64
	switch st := state.(type) {
	case nil:
		data = make([]float64, s.batch*len(s.layers)*s.hidden)
	case StackedState:
		data, err = stateData(st.Hidden, s.batch, len(s.layers), s.hidden)
		if err != nil {
			return errors.Wrap(err, "setState")
		}
	default:
		return errors.Wrapf(ErrState, "setState: expected %v state but got %v",
			Stacked, state.Kind())
	}

	if err := network.SetInput(s.stateIn, data); err != nil {
		return errors.Wrap(err, "setState")
	}
	if err := network.SetInput(s.masks, masks); err != nil {
		return errors.Wrap(err, "setState")
	}

	// Rows of the first step are reset exactly as in the graph
	row := len(s.layers) * s.hidden
	s.masked = make([]float64, len(data))
	for i := 0; i < s.batch; i++ {
		for j := i * row; j < (i+1)*row; j++ {
			s.masked[j] = data[j] * masks[i]
		}
	}
	return nil
}

func (s *stackedGRU) State() (State, error) {
	h, err := readDense(s.stateVal, s.batch, len(s.layers), s.hidden)
	if err != nil {
		return nil, errors.Wrap(err, "state")
	}
	return StackedState{Hidden: h}, nil
}

// MaskedState returns the last bound state after the reset masks of the
// first step were applied and before the first step was taken
func (s *stackedGRU) MaskedState() (StackedState, error) {
	if s.masked == nil {
		return StackedState{}, errors.New("maskedState: no state bound")
	}
	data := make([]float64, len(s.masked))
	copy(data, s.masked)
	return StackedState{Hidden: tensor.New(
		tensor.WithShape(s.batch, len(s.layers), s.hidden),
		tensor.WithBacking(data),
	)}, nil
}

func (s *stackedGRU) Learnables() G.Nodes {
	var learnables G.Nodes
	for _, layer := range s.layers {
		learnables = append(learnables, layer.learnables()...)
	}
	return append(learnables, s.norm.Learnables()...)
}

// concat concatenates nodes along axis, returning a single node as is
func concat(axis int, nodes []*G.Node) *G.Node {
	if len(nodes) == 1 {
		return nodes[0]
	}
	return G.Must(G.Concat(axis, nodes...))
}
