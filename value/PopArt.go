package value

import (
	"math"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// PopArtConfig configures the running statistics of a PopArt
// normalizer
type PopArtConfig struct {
	// Beta is the decay of the running mean and mean of squares
	Beta float64

	// Epsilon bounds the debiasing term away from zero
	Epsilon float64

	// MinVariance bounds the debiased variance from below
	MinVariance float64

	// PreserveOutputs rescales the weights of the value head on each
	// update so that its denormalized outputs are unchanged
	PreserveOutputs bool
}

// DefaultPopArtConfig returns the default PopArt configuration
func DefaultPopArtConfig() PopArtConfig {
	return PopArtConfig{
		Beta:        0.99999,
		Epsilon:     1e-5,
		MinVariance: 1e-2,
	}
}

// PopArt tracks debiased running statistics of value targets, used to
// normalize targets and denormalize value estimates. It is safe for
// concurrent use.
type PopArt struct {
	config PopArtConfig

	mu      sync.RWMutex
	mean    float64
	meanSq  float64
	debiasT float64
}

// NewPopArt returns a new PopArt normalizer with zero statistics
func NewPopArt(c PopArtConfig) (*PopArt, error) {
	if c.Beta <= 0 || c.Beta >= 1 {
		return nil, errors.Errorf("newPopArt: beta must be in (0, 1) but "+
			"got %v", c.Beta)
	}
	if c.Epsilon <= 0 {
		return nil, errors.Errorf("newPopArt: epsilon must be positive but "+
			"got %v", c.Epsilon)
	}
	if c.MinVariance <= 0 {
		return nil, errors.Errorf("newPopArt: minimum variance must be "+
			"positive but got %v", c.MinVariance)
	}
	return &PopArt{config: c}, nil
}

// Config returns the configuration of the normalizer
func (p *PopArt) Config() PopArtConfig {
	return p.config
}

// MeanVar returns the debiased mean and variance
func (p *PopArt) MeanVar() (mean, variance float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.meanVar()
}

func (p *PopArt) meanVar() (float64, float64) {
	debias := math.Max(p.debiasT, p.config.Epsilon)
	mean := p.mean / debias
	meanSq := p.meanSq / debias
	variance := math.Max(meanSq-mean*mean, p.config.MinVariance)
	return mean, variance
}

// Update folds a batch of targets into the running statistics and
// returns the debiased mean and standard deviation before and after
// the update
func (p *PopArt) Update(targets []float64) (oldMean, oldStd, newMean,
	newStd float64, err error) {
	if len(targets) == 0 {
		return 0, 0, 0, 0, errors.New("update: no targets")
	}
	for i, t := range targets {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, 0, 0, 0, errors.Errorf("update: target %d is %v", i, t)
		}
	}

	batchMean := stat.Mean(targets, nil)
	batchMeanSq := floats.Dot(targets, targets) / float64(len(targets))

	p.mu.Lock()
	defer p.mu.Unlock()

	oldMean, oldVar := p.meanVar()

	beta := p.config.Beta
	p.mean = beta*p.mean + (1-beta)*batchMean
	p.meanSq = beta*p.meanSq + (1-beta)*batchMeanSq
	p.debiasT = beta*p.debiasT + (1 - beta)

	newMean, newVar := p.meanVar()
	return oldMean, math.Sqrt(oldVar), newMean, math.Sqrt(newVar), nil
}

// Normalize maps targets into the normalized space
func (p *PopArt) Normalize(targets []float64) []float64 {
	mean, variance := p.MeanVar()
	std := math.Sqrt(variance)

	out := make([]float64, len(targets))
	for i, t := range targets {
		out[i] = (t - mean) / std
	}
	return out
}

// Denormalize maps normalized values back to the scale of targets
func (p *PopArt) Denormalize(values []float64) []float64 {
	mean, variance := p.MeanVar()
	std := math.Sqrt(variance)

	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v*std + mean
	}
	return out
}
