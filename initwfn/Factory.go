package initwfn

import (
	G "gorgonia.org/gorgonia"
)

// Factory creates a Gorgonia InitWFn for a layer, scaled by gain.
// Networks call a Factory once per weight so that seeded factories
// hand out a distinct random stream to every layer.
type Factory func(gain float64) G.InitWFn

// OrthogonalFactory returns a Factory of orthogonal initializers. The
// i-th initializer created is seeded with seed+i.
func OrthogonalFactory(seed uint64) Factory {
	next := seed
	return func(gain float64) G.InitWFn {
		c := OrthogonalConfig{Gain: gain, Seed: next}
		next++
		return c.Create()
	}
}

// GlorotUFactory returns a Factory of Glorot uniform initializers
func GlorotUFactory() Factory {
	return func(gain float64) G.InitWFn {
		return GlorotUConfig{Gain: gain}.Create()
	}
}

// FixedFactory returns a Factory which ignores the gain and always
// returns the initializer described by w
func FixedFactory(w *InitWFn) Factory {
	return func(float64) G.InitWFn {
		return w.Config.Create()
	}
}
