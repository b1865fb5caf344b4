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

// DiagGaussian is a diagonal Gaussian distribution over continuous
// actions. The mean is computed by a linear layer and the log standard
// deviation is a learned, state-independent vector.
//
// If bounds are given, sampled actions are clipped to them and the
// returned log probabilities are those of the clipped actions.
type DiagGaussian struct {
	mean   *network.FCLayer
	logStd *G.Node // (1, dims)
	rows   int
	dims   int

	low, high []float64

	meanNode, logStdRows *G.Node
	meanVal              G.Value

	actions          *G.Node // (rows, dims)
	actionLogProb    *G.Node // (rows, 1)
	actionLogProbVal G.Value
	entropy          *activeEntropy

	src rand.Source
}

// NewDiagGaussian adds a DiagGaussian head over dims-dimensional
// actions to the graph of input, which must have shape (rows,
// features). Bounds low and high may be nil to leave actions unclipped.
func NewDiagGaussian(input *G.Node, dims int, low, high []float64,
	c Config) (*DiagGaussian, error) {
	if dims <= 0 {
		return nil, errors.Wrapf(ErrActions, "newDiagGaussian: invalid "+
			"action dimensions %d", dims)
	}
	if (low == nil) != (high == nil) || (low != nil && (len(low) != dims ||
		len(high) != dims)) {
		return nil, errors.Wrapf(ErrActions, "newDiagGaussian: bounds must "+
			"both be nil or both have %d elements", dims)
	}
	if len(input.Shape()) != 2 {
		return nil, errors.Errorf("newDiagGaussian: expected matrix input "+
			"but got shape %v", input.Shape())
	}

	g := input.Graph()
	rows, features := input.Shape()[0], input.Shape()[1]

	fc := network.NewFCLayer(g, c.Name+"Mean", features, dims,
		c.Init(c.Gain), nil)
	mean, err := fc.Fwd(input)
	if err != nil {
		return nil, errors.Wrap(err, "newDiagGaussian: could not compute mean")
	}

	logStd := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(1, dims),
		G.WithName(c.Name+"LogStd"),
		G.WithInit(G.Zeroes()),
	)
	logStdRows := op.ExpandRows(logStd, rows)

	actions := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(rows, dims),
		G.WithName(c.Name+"Actions"),
		G.WithInit(G.Zeroes()),
	)
	actionLogProb := op.GaussianLogPdf(mean, logStdRows, actions)

	// Entropy of each row: sum of log σ + 0.5 + 0.5 log 2π
	perDim := G.NewConstant(0.5 + 0.5*math.Log(2*math.Pi))
	rowEntropy := op.RowSum(G.Must(G.Add(logStdRows, perDim)))

	d := &DiagGaussian{
		mean:          fc,
		logStd:        logStd,
		rows:          rows,
		dims:          dims,
		low:           low,
		high:          high,
		meanNode:      mean,
		logStdRows:    logStdRows,
		actions:       actions,
		actionLogProb: actionLogProb,
		entropy:       newActiveEntropy(g, c.Name, rows, c.UseActiveMasks),
		src:           rand.NewSource(c.Seed),
	}
	d.entropy.fwd(rowEntropy)
	G.Read(d.meanNode, &d.meanVal)
	G.Read(d.actionLogProb, &d.actionLogProbVal)

	return d, nil
}

// SetAvailable accepts only a nil mask, as continuous actions have no
// availability
func (d *DiagGaussian) SetAvailable(available tensor.Tensor) error {
	if available != nil {
		return errors.Wrap(ErrActions, "setAvailable: continuous actions "+
			"have no availability mask")
	}
	return nil
}

func (d *DiagGaussian) SetActions(actions tensor.Tensor) error {
	if actions == nil {
		return network.SetInput(d.actions, make([]float64, d.rows*d.dims))
	}

	data, err := tensorutils.Float64(actions)
	if err != nil {
		return errors.Wrap(err, "setActions")
	}
	if len(data) != d.rows*d.dims {
		return errors.Wrapf(ErrActions, "setActions: expected (%d, %d) "+
			"actions but got shape %v", d.rows, d.dims, actions.Shape())
	}
	return network.SetInput(d.actions, data)
}

func (d *DiagGaussian) SetActiveMasks(active []float64) error {
	return errors.Wrap(d.entropy.set(active), "setActiveMasks")
}

// Sample returns actions drawn from the distribution of the last run,
// or the mean if deterministic
func (d *DiagGaussian) Sample(deterministic bool) (*tensor.Dense,
	*tensor.Dense, error) {
	mean, err := tensorutils.Float64(valueTensor(d.meanVal))
	if err != nil {
		return nil, nil, errors.Wrap(err, "sample")
	}
	logStd, err := tensorutils.Float64(d.logStd.Value().(tensor.Tensor))
	if err != nil {
		return nil, nil, errors.Wrap(err, "sample")
	}

	actions := make([]float64, d.rows*d.dims)
	logProbs := make([]float64, d.rows)
	for i := 0; i < d.rows; i++ {
		for j := 0; j < d.dims; j++ {
			dist := distuv.Normal{
				Mu:    mean[i*d.dims+j],
				Sigma: math.Exp(logStd[j]),
				Src:   d.src,
			}

			action := dist.Mu
			if !deterministic {
				action = dist.Rand()
			}
			if d.low != nil {
				action = floatutils.Clip(action, d.low[j], d.high[j])
			}

			actions[i*d.dims+j] = action
			logProbs[i] += dist.LogProb(action)
		}
	}

	return tensor.New(tensor.WithShape(d.rows, d.dims),
			tensor.WithBacking(actions)),
		tensor.New(tensor.WithShape(d.rows, 1), tensor.WithBacking(logProbs)),
		nil
}

func (d *DiagGaussian) LogProbs() (*tensor.Dense, error) {
	return readDense(d.actionLogProbVal, d.rows, 1)
}

func (d *DiagGaussian) Entropy() (float64, error) {
	return d.entropy.read()
}

func (d *DiagGaussian) LogProbNode() *G.Node {
	return d.actionLogProb
}

func (d *DiagGaussian) EntropyNode() *G.Node {
	return d.entropy.node
}

func (d *DiagGaussian) ActionDims() int {
	return d.dims
}

func (d *DiagGaussian) Learnables() G.Nodes {
	return append(d.mean.Learnables(), d.logStd)
}
