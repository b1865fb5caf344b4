package policy

import (
	"math"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/rmappo/network"
	"github.com/samuelfneumann/rmappo/utils/floatutils"
	"github.com/samuelfneumann/rmappo/utils/op"
	"github.com/samuelfneumann/rmappo/utils/tensorutils"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// unavailableLogit is the logit given to unavailable actions
const unavailableLogit = -1e10

// Categorical is a categorical distribution over numActions discrete
// actions, with logits computed by a linear layer. Unavailable actions
// have zero probability.
type Categorical struct {
	logits     *network.FCLayer
	rows       int
	numActions int

	available   *G.Node // (rows, numActions)
	actions     *G.Node // (rows, numActions) one-hot
	logProbs    *G.Node // (rows, numActions)
	logProbsVal G.Value

	actionLogProb    *G.Node // (rows, 1)
	actionLogProbVal G.Value
	entropy          *activeEntropy

	rng rand.Source
}

// NewCategorical adds a Categorical head over numActions actions to the
// graph of input, which must have shape (rows, features)
func NewCategorical(input *G.Node, numActions int, c Config) (*Categorical,
	error) {
	if numActions <= 0 {
		return nil, errors.Wrapf(ErrActions, "newCategorical: invalid number "+
			"of actions %d", numActions)
	}
	if len(input.Shape()) != 2 {
		return nil, errors.Errorf("newCategorical: expected matrix input "+
			"but got shape %v", input.Shape())
	}

	g := input.Graph()
	rows, features := input.Shape()[0], input.Shape()[1]

	fc := network.NewFCLayer(g, c.Name+"Logits", features, numActions,
		c.Init(c.Gain), nil)
	logits, err := fc.Fwd(input)
	if err != nil {
		return nil, errors.Wrap(err, "newCategorical: could not compute logits")
	}

	available := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(rows, numActions),
		G.WithName(c.Name+"Available"),
		G.WithInit(G.Ones()),
	)
	actions := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(rows, numActions),
		G.WithName(c.Name+"Actions"),
		G.WithInit(G.Zeroes()),
	)

	// logits ⊙ available + (available - 1) * 1e10
	masked := G.Must(G.HadamardProd(logits, available))
	offset := G.Must(G.Sub(available, G.NewConstant(1.0)))
	offset = G.Must(G.HadamardProd(offset, G.NewConstant(-unavailableLogit)))
	masked = G.Must(G.Add(masked, offset))

	logProbs := op.LogSoftMax(masked)
	actionLogProb := op.RowSum(G.Must(G.HadamardProd(actions, logProbs)))

	probs := G.Must(G.Exp(logProbs))
	rowEntropy := op.RowSum(G.Must(G.HadamardProd(probs, logProbs)))
	rowEntropy = G.Must(G.Neg(rowEntropy))

	cat := &Categorical{
		logits:        fc,
		rows:          rows,
		numActions:    numActions,
		available:     available,
		actions:       actions,
		logProbs:      logProbs,
		actionLogProb: actionLogProb,
		entropy:       newActiveEntropy(g, c.Name, rows, c.UseActiveMasks),
		rng:           rand.NewSource(c.Seed),
	}
	cat.entropy.fwd(rowEntropy)
	G.Read(cat.logProbs, &cat.logProbsVal)
	G.Read(cat.actionLogProb, &cat.actionLogProbVal)

	return cat, nil
}

func (c *Categorical) SetAvailable(available tensor.Tensor) error {
	if available == nil {
		return network.SetInput(c.available, ones(c.rows*c.numActions))
	}

	data, err := tensorutils.Float64(available)
	if err != nil {
		return errors.Wrap(err, "setAvailable")
	}
	if len(data) != c.rows*c.numActions {
		return errors.Wrapf(ErrActions, "setAvailable: expected (%d, %d) "+
			"mask but got shape %v", c.rows, c.numActions, available.Shape())
	}
	for i, v := range data {
		if v != 0 && v != 1 {
			return errors.Wrapf(ErrActions, "setAvailable: entry %d is %v, "+
				"not 0 or 1", i, v)
		}
	}
	return network.SetInput(c.available, data)
}

func (c *Categorical) SetActions(actions tensor.Tensor) error {
	oneHot := make([]float64, c.rows*c.numActions)
	if actions == nil {
		for i := 0; i < c.rows; i++ {
			oneHot[i*c.numActions] = 1.0
		}
		return network.SetInput(c.actions, oneHot)
	}

	data, err := tensorutils.Float64(actions)
	if err != nil {
		return errors.Wrap(err, "setActions")
	}
	if len(data) != c.rows {
		return errors.Wrapf(ErrActions, "setActions: expected %d actions but "+
			"got shape %v", c.rows, actions.Shape())
	}
	if err := c.fillOneHot(oneHot, data, 0, 1); err != nil {
		return errors.Wrap(err, "setActions")
	}
	return network.SetInput(c.actions, oneHot)
}

// fillOneHot one-hot encodes column col of the row-major actions with
// stride columns into oneHot
func (c *Categorical) fillOneHot(oneHot, actions []float64, col,
	stride int) error {
	for i := 0; i < c.rows; i++ {
		a := actions[i*stride+col]
		if a != math.Trunc(a) || a < 0 || int(a) >= c.numActions {
			return errors.Wrapf(ErrActions, "action %v of row %d outside "+
				"[0, %d)", a, i, c.numActions)
		}
		oneHot[i*c.numActions+int(a)] = 1.0
	}
	return nil
}

func (c *Categorical) SetActiveMasks(active []float64) error {
	return errors.Wrap(c.entropy.set(active), "setActiveMasks")
}

// Sample returns an action per row drawn from the distribution of the
// last run. If deterministic, the first most probable action is
// returned instead.
func (c *Categorical) Sample(deterministic bool) (*tensor.Dense,
	*tensor.Dense, error) {
	logProbs, err := tensorutils.Float64(valueTensor(c.logProbsVal))
	if err != nil {
		return nil, nil, errors.Wrap(err, "sample")
	}

	actions := make([]float64, c.rows)
	actionLogProbs := make([]float64, c.rows)
	probs := make([]float64, c.numActions)
	for i := 0; i < c.rows; i++ {
		row := logProbs[i*c.numActions : (i+1)*c.numActions]

		var action int
		if deterministic {
			action = floatutils.Argmax(row)
		} else {
			for j := range row {
				probs[j] = math.Exp(row[j])
			}
			action = int(distuv.NewCategorical(probs, c.rng).Rand())
		}
		actions[i] = float64(action)
		actionLogProbs[i] = row[action]
	}

	return tensor.New(tensor.WithShape(c.rows, 1), tensor.WithBacking(actions)),
		tensor.New(tensor.WithShape(c.rows, 1),
			tensor.WithBacking(actionLogProbs)), nil
}

func (c *Categorical) LogProbs() (*tensor.Dense, error) {
	return readDense(c.actionLogProbVal, c.rows, 1)
}

func (c *Categorical) Entropy() (float64, error) {
	return c.entropy.read()
}

func (c *Categorical) LogProbNode() *G.Node {
	return c.actionLogProb
}

func (c *Categorical) EntropyNode() *G.Node {
	return c.entropy.node
}

func (c *Categorical) ActionDims() int {
	return 1
}

func (c *Categorical) Learnables() G.Nodes {
	return c.logits.Learnables()
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1.0
	}
	return out
}

// valueTensor returns v as a tensor, or nil if the graph has not run
func valueTensor(v G.Value) tensor.Tensor {
	if v == nil {
		return nil
	}
	return v.(tensor.Tensor)
}
