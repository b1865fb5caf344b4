package recurrent

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/rmappo/initwfn"
	"github.com/samuelfneumann/rmappo/network"
	"github.com/samuelfneumann/rmappo/utils/op"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Sizes of the attention layers of a modular cell
const (
	inputKeySize   = 64
	inputValueSize = 64
	commKeySize    = 32
	commHeads      = 4

	// Standard deviation of the initial weights of per-module layers
	groupInitStdDev = 0.01
)

// module holds the weights private to one module of a modular cell
type module struct {
	// query projects the module's hidden state to attend to the input
	query *G.Node

	// Per-gate input and recurrent weights of the module's LSTM (i, f,
	// g, o) or GRU (r, z, n) cell
	wx, wh []*G.Node

	// Per-head communication projections and the output projection
	// of the concatenated heads
	commQuery, commKey, commValue []*G.Node
	commOut                       *G.Node
}

func (m *module) learnables() G.Nodes {
	learnables := G.Nodes{m.query}
	learnables = append(learnables, m.wx...)
	learnables = append(learnables, m.wh...)
	learnables = append(learnables, m.commQuery...)
	learnables = append(learnables, m.commKey...)
	learnables = append(learnables, m.commValue...)
	return append(learnables, m.commOut)
}

// modularCell is a recurrent unit made of independent modules. Each
// step, every module scores the input against a null input; the TopK
// modules with the largest input scores read the input, update their
// LSTM or GRU cell and exchange information through multi-head
// attention. The other modules keep their previous state.
type modularCell struct {
	kind    Kind
	modules []*module

	// Projections of the input to keys and values shared by modules.
	// The keys and values of the null input are the projection biases.
	key, value *network.FCLayer

	batch, steps int
	units, size  int
	topK         int
	maskState    bool

	hiddenIn, cellIn *G.Node // (batch, units*size)
	masks            *G.Node // (steps*batch, 1)

	hiddenVal, cellVal G.Value
	activeVal          G.Value
	fwdHasBeenRun      bool
}

func newModularCell(g *G.ExprGraph, k Kind, c Config, batch, steps,
	inputSize int) (*modularCell, error) {
	if c.Units <= 0 {
		return nil, errors.Wrapf(ErrUnitsDivisibility,
			"newModularCell: invalid units %d", c.Units)
	}
	if c.HiddenSize <= 0 || c.HiddenSize%c.Units != 0 {
		return nil, errors.Wrapf(ErrUnitsDivisibility,
			"newModularCell: hidden size %d with %d units", c.HiddenSize,
			c.Units)
	}
	topK := c.TopK
	if topK == 0 {
		topK = 1
	}
	if topK < 0 || topK > c.Units {
		return nil, errors.Errorf("newModularCell: cannot select top %d of "+
			"%d units", topK, c.Units)
	}
	if c.Init == nil {
		return nil, errors.New("newModularCell: nil initializer factory")
	}

	size := c.HiddenSize / c.Units
	m := &modularCell{
		kind:      k,
		batch:     batch,
		steps:     steps,
		units:     c.Units,
		size:      size,
		topK:      topK,
		maskState: c.MaskModularState,
	}

	m.key = network.NewFCLayer(g, c.Name+"RIMKey", inputSize, inputKeySize,
		c.Init(1.0), nil)
	m.value = network.NewFCLayer(g, c.Name+"RIMValue", inputSize,
		inputValueSize, c.Init(1.0), nil)

	gates := 4
	if k == ModularGRU {
		gates = 3
	}
	group := initwfn.GaussianConfig{
		Mean:   0,
		StdDev: groupInitStdDev,
		Seed:   c.Seed,
	}.Create()
	weight := func(name string, rows, cols int) *G.Node {
		return G.NewMatrix(
			g,
			tensor.Float64,
			G.WithShape(rows, cols),
			G.WithName(name),
			G.WithInit(group),
		)
	}

	for u := 0; u < c.Units; u++ {
		prefix := fmt.Sprintf("%sRIM%d", c.Name, u)
		mod := &module{
			query: weight(prefix+"_Query", size, inputKeySize),
		}
		for gate := 0; gate < gates; gate++ {
			mod.wx = append(mod.wx, weight(fmt.Sprintf("%s_WX%d", prefix, gate),
				inputValueSize, size))
			mod.wh = append(mod.wh, weight(fmt.Sprintf("%s_WH%d", prefix, gate),
				size, size))
		}
		for head := 0; head < commHeads; head++ {
			mod.commQuery = append(mod.commQuery, weight(
				fmt.Sprintf("%s_CommQuery%d", prefix, head), size, commKeySize))
			mod.commKey = append(mod.commKey, weight(
				fmt.Sprintf("%s_CommKey%d", prefix, head), size, commKeySize))
			mod.commValue = append(mod.commValue, weight(
				fmt.Sprintf("%s_CommValue%d", prefix, head), size, size))
		}
		mod.commOut = weight(prefix+"_CommOut", commHeads*size, size)
		m.modules = append(m.modules, mod)
	}

	m.hiddenIn = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(batch, c.HiddenSize),
		G.WithName(c.Name+"RIMHiddenIn"),
		G.WithInit(G.Zeroes()),
	)
	if k == ModularLSTM {
		m.cellIn = G.NewMatrix(
			g,
			tensor.Float64,
			G.WithShape(batch, c.HiddenSize),
			G.WithName(c.Name+"RIMCellIn"),
			G.WithInit(G.Zeroes()),
		)
	}
	m.masks = G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(steps*batch, 1),
		G.WithName(c.Name+"RIMMasks"),
		G.WithInit(G.Ones()),
	)

	return m, nil
}

func (m *modularCell) Kind() Kind {
	return m.kind
}

func (m *modularCell) OutputSize() int {
	return m.units * m.size
}

func (m *modularCell) Fwd(x *G.Node) (*G.Node, error) {
	if m.fwdHasBeenRun {
		return nil, errors.New("fwd: already added to graph")
	}
	if x.Shape()[0] != m.batch*m.steps {
		return nil, errors.Errorf("fwd: expected %d rows but got %d",
			m.batch*m.steps, x.Shape()[0])
	}

	h := make([]*G.Node, m.units)
	var c []*G.Node
	for u := range h {
		h[u] = op.Columns(m.hiddenIn, u*m.size, (u+1)*m.size)
	}
	if m.kind == ModularLSTM {
		c = make([]*G.Node, m.units)
		for u := range c {
			c[u] = op.Columns(m.cellIn, u*m.size, (u+1)*m.size)
		}
	}

	var outputs G.Nodes
	var active *G.Node
	for t, xt := range stepInputs(x, m.batch, m.steps) {
		if m.maskState {
			mask := op.Rows(m.masks, t*m.batch, (t+1)*m.batch)
			for u := range h {
				h[u] = op.ScaleRows(h[u], mask)
				if c != nil {
					c[u] = op.ScaleRows(c[u], mask)
				}
			}
		}

		var err error
		h, c, active, err = m.step(xt, h, c)
		if err != nil {
			return nil, errors.Wrapf(err, "fwd: step %d", t)
		}
		outputs = append(outputs, concat(1, h))
	}

	G.Read(concat(1, h), &m.hiddenVal)
	if c != nil {
		G.Read(concat(1, c), &m.cellVal)
	}
	G.Read(active, &m.activeVal)

	m.fwdHasBeenRun = true
	return concat(0, outputs), nil
}

// step adds a single step of the cell to the graph, returning the new
// hidden and cell states of each module and the (batch, units) mask of
// modules that read the input
func (m *modularCell) step(x *G.Node, h, c []*G.Node) ([]*G.Node,
	[]*G.Node, *G.Node, error) {
	inputs, active, err := m.inputAttention(x, h)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "input attention")
	}

	newH := make([]*G.Node, m.units)
	var newC []*G.Node
	if c != nil {
		newC = make([]*G.Node, m.units)
	}
	for u, mod := range m.modules {
		if m.kind == ModularLSTM {
			newH[u], newC[u] = lstmCell(mod, inputs[u], h[u], c[u])
		} else {
			newH[u] = gruCell(mod, inputs[u], h[u])
		}
	}

	comm := m.communicate(newH, active)

	one := G.NewConstant(1.0)
	for u := range newH {
		isActive := op.Column(active, u)
		isInactive := G.Must(G.Sub(one, isActive))

		newH[u] = G.Must(G.Add(op.ScaleRows(comm[u], isActive),
			op.ScaleRows(h[u], isInactive)))
		if c != nil {
			newC[u] = G.Must(G.Add(op.ScaleRows(newC[u], isActive),
				op.ScaleRows(c[u], isInactive)))
		}
	}
	return newH, newC, active, nil
}

// inputAttention returns the input read by each module and the mask
// of modules that read the input. Each module attends over the input
// and a null input; modules outside the TopK by input score read
// nothing.
func (m *modularCell) inputAttention(x *G.Node, h []*G.Node) ([]*G.Node,
	*G.Node, error) {
	key, err := m.key.Fwd(x)
	if err != nil {
		return nil, nil, err
	}
	value, err := m.value.Fwd(x)
	if err != nil {
		return nil, nil, err
	}
	nullKey := G.Must(G.Transpose(m.key.Bias()))
	nullValue := m.value.Bias()
	scale := G.NewConstant(1.0 / math.Sqrt(inputKeySize))

	scores := make([]*G.Node, m.units)
	relative := make([]*G.Node, m.units)
	for u, mod := range m.modules {
		query := G.Must(G.Mul(h[u], mod.query))

		score := op.RowSum(G.Must(G.HadamardProd(query, key)))
		score = G.Must(G.HadamardProd(score, scale))
		nullScore := G.Must(G.Mul(query, nullKey))
		nullScore = G.Must(G.HadamardProd(nullScore, scale))

		scores[u] = score
		relative[u] = G.Must(G.Sub(score, nullScore))
	}
	active := op.TopKMask(concat(1, scores), m.topK)

	// With two candidates, the softmax weight of the real input is the
	// sigmoid of the score difference
	one := G.NewConstant(1.0)
	inputs := make([]*G.Node, m.units)
	for u := range m.modules {
		pReal := G.Must(G.Sigmoid(relative[u]))
		pNull := G.Must(G.Sub(one, pReal))

		read := op.ScaleRows(value, pReal)
		read = G.Must(G.Add(read, G.Must(G.Mul(pNull, nullValue))))
		inputs[u] = op.ScaleRows(read, op.Column(active, u))
	}
	return inputs, active, nil
}

// communicate lets every module attend over the hidden states of all
// modules with multi-head attention. Attention weights of inactive
// query modules are zeroed. The result is added to each module's own
// hidden state.
func (m *modularCell) communicate(h []*G.Node, active *G.Node) []*G.Node {
	scale := G.NewConstant(1.0 / math.Sqrt(commKeySize))

	queries := make([][]*G.Node, m.units)
	keys := make([][]*G.Node, m.units)
	values := make([][]*G.Node, m.units)
	for u, mod := range m.modules {
		for head := 0; head < commHeads; head++ {
			queries[u] = append(queries[u],
				G.Must(G.Mul(h[u], mod.commQuery[head])))
			keys[u] = append(keys[u], G.Must(G.Mul(h[u], mod.commKey[head])))
			values[u] = append(values[u],
				G.Must(G.Mul(h[u], mod.commValue[head])))
		}
	}

	out := make([]*G.Node, m.units)
	for u, mod := range m.modules {
		isActive := op.Column(active, u)

		heads := make([]*G.Node, commHeads)
		for head := range heads {
			scores := make([]*G.Node, m.units)
			for w := range scores {
				score := G.Must(G.HadamardProd(queries[u][head], keys[w][head]))
				scores[w] = G.Must(G.HadamardProd(op.RowSum(score), scale))
			}
			probs := op.SoftMax(concat(1, scores))
			probs = op.ScaleRows(probs, isActive)

			var context *G.Node
			for w := range scores {
				weighted := op.ScaleRows(values[w][head], op.Column(probs, w))
				if context == nil {
					context = weighted
				} else {
					context = G.Must(G.Add(context, weighted))
				}
			}
			heads[head] = context
		}

		projected := G.Must(G.Mul(concat(1, heads), mod.commOut))
		out[u] = G.Must(G.Add(projected, h[u]))
	}
	return out
}

// lstmCell adds one step of a module's LSTM cell to the graph
func lstmCell(mod *module, x, h, c *G.Node) (*G.Node, *G.Node) {
	preact := func(gate int) *G.Node {
		return G.Must(G.Add(G.Must(G.Mul(x, mod.wx[gate])),
			G.Must(G.Mul(h, mod.wh[gate]))))
	}
	i := G.Must(G.Sigmoid(preact(0)))
	f := G.Must(G.Sigmoid(preact(1)))
	g := G.Must(G.Tanh(preact(2)))
	o := G.Must(G.Sigmoid(preact(3)))

	newC := G.Must(G.Add(G.Must(G.HadamardProd(c, f)),
		G.Must(G.HadamardProd(i, g))))
	newH := G.Must(G.HadamardProd(o, G.Must(G.Tanh(newC))))
	return newH, newC
}

// gruCell adds one step of a module's GRU cell to the graph
func gruCell(mod *module, x, h *G.Node) *G.Node {
	xg := func(gate int) *G.Node { return G.Must(G.Mul(x, mod.wx[gate])) }
	hg := func(gate int) *G.Node { return G.Must(G.Mul(h, mod.wh[gate])) }

	r := G.Must(G.Sigmoid(G.Must(G.Add(xg(0), hg(0)))))
	z := G.Must(G.Sigmoid(G.Must(G.Add(xg(1), hg(1)))))
	n := G.Must(G.Tanh(G.Must(G.Add(xg(2), G.Must(G.HadamardProd(r, hg(2)))))))

	// h' = n + z ⊙ (h - n)
	return G.Must(G.Add(n, G.Must(G.HadamardProd(z, G.Must(G.Sub(h, n))))))
}

func (m *modularCell) SetState(state State, masks []float64) error {
	masks, err := checkMasks(masks, m.batch*m.steps)
	if err != nil {
		return errors.Wrap(err, "setState")
	}

	n := m.batch * m.units * m.size
	var hidden, cell []float64
	switch st := state.(type) {
	case nil:
		hidden = make([]float64, n)
		if m.kind == ModularLSTM {
			cell = make([]float64, n)
		}

	case ModularState:
		hidden, err = stateData(st.Hidden, m.batch, m.units, m.size)
		if err != nil {
			return errors.Wrap(err, "setState: hidden")
		}
		if m.kind == ModularLSTM {
			cell, err = stateData(st.Cell, m.batch, m.units, m.size)
			if err != nil {
				return errors.Wrap(err, "setState: cell")
			}
		} else if st.Cell != nil {
			return errors.Wrapf(ErrState, "setState: %v state has a cell",
				m.kind)
		}

	default:
		return errors.Wrapf(ErrState, "setState: expected %v state but got %v",
			m.kind, state.Kind())
	}

	if err := network.SetInput(m.hiddenIn, hidden); err != nil {
		return errors.Wrap(err, "setState")
	}
	if cell != nil {
		if err := network.SetInput(m.cellIn, cell); err != nil {
			return errors.Wrap(err, "setState")
		}
	}
	return network.SetInput(m.masks, masks)
}

func (m *modularCell) State() (State, error) {
	hidden, err := readDense(m.hiddenVal, m.batch, m.units, m.size)
	if err != nil {
		return nil, errors.Wrap(err, "state")
	}
	s := ModularState{Hidden: hidden}

	if m.kind == ModularLSTM {
		s.Cell, err = readDense(m.cellVal, m.batch, m.units, m.size)
		if err != nil {
			return nil, errors.Wrap(err, "state")
		}
	}
	return s, nil
}

// Active returns the (batch, units) mask of the modules that read the
// input during the final step of the last run
func (m *modularCell) Active() (*tensor.Dense, error) {
	active, err := readDense(m.activeVal, m.batch, m.units)
	if err != nil {
		return nil, errors.Wrap(err, "active")
	}
	return active, nil
}

func (m *modularCell) Learnables() G.Nodes {
	learnables := append(m.key.Learnables(), m.value.Learnables()...)
	for _, mod := range m.modules {
		learnables = append(learnables, mod.learnables()...)
	}
	return learnables
}
