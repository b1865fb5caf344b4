package initwfn

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// GaussianConfig implements a configuration of a weight initializer that
// draws weights from a gaussian distribution
type GaussianConfig struct {
	Mean, StdDev float64
	Seed         uint64
}

// NewGaussian returns a new gaussian weight initializer
func NewGaussian(mean, stddev float64, seed uint64) (*InitWFn, error) {
	config := GaussianConfig{
		Mean:   mean,
		StdDev: stddev,
		Seed:   seed,
	}

	return newInitWFn(config)
}

// Type returns the type of initialization algorithm described by
// the configuration.
func (u GaussianConfig) Type() Type {
	return Gaussian
}

// Create returns the weight initialization algorithm as a Gorgonia
// InitWFn. Successive calls of the returned InitWFn continue the same
// random stream.
func (u GaussianConfig) Create() G.InitWFn {
	normal := distuv.Normal{
		Mu:    u.Mean,
		Sigma: u.StdDev,
		Src:   rand.NewSource(u.Seed),
	}

	return func(dt tensor.Dtype, s ...int) interface{} {
		size := 1
		for _, dim := range s {
			size *= dim
		}

		switch dt {
		case tensor.Float32:
			out := make([]float32, size)
			for i := range out {
				out[i] = float32(normal.Rand())
			}
			return out

		case tensor.Float64:
			out := make([]float64, size)
			for i := range out {
				out[i] = normal.Rand()
			}
			return out

		default:
			panic("gaussian: unsupported dtype " + dt.String())
		}
	}
}
