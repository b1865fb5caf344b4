package recurrent

import (
	"fmt"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/rmappo/initwfn"
	"github.com/samuelfneumann/rmappo/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const inputs = 5

// harness runs a recurrent unit in its own graph
type harness struct {
	unit   Unit
	x      *G.Node
	outVal G.Value
	vm     G.VM
}

func newHarness(t *testing.T, k Kind, c Config, batch, steps int) *harness {
	t.Helper()

	g := G.NewGraph()
	x := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(steps*batch, inputs),
		G.WithName("X"),
		G.WithInit(G.Zeroes()),
	)
	unit, err := New(g, k, c, batch, steps, inputs)
	require.NoError(t, err)

	out, err := unit.Fwd(x)
	require.NoError(t, err)

	h := &harness{unit: unit, x: x}
	G.Read(out, &h.outVal)
	h.vm = G.NewTapeMachine(g)
	t.Cleanup(func() { h.vm.Close() })
	return h
}

// run runs the unit on x from state s and returns the next state and
// the outputs
func (h *harness) run(t *testing.T, x []float64, s State,
	masks []float64) (State, []float64) {
	t.Helper()

	require.NoError(t, network.SetInput(h.x, x))
	require.NoError(t, h.unit.SetState(s, masks))
	require.NoError(t, h.vm.RunAll())
	defer h.vm.Reset()

	next, err := h.unit.State()
	require.NoError(t, err)

	out := h.outVal.Data().([]float64)
	copied := make([]float64, len(out))
	copy(copied, out)
	return next, copied
}

func seq(n int, offset float64) []float64 {
	data := make([]float64, n)
	for i := range data {
		data[i] = math.Cos(float64(i)*0.7 + offset)
	}
	return data
}

func stackedConfig() Config {
	return Config{
		Name:       "Test",
		HiddenSize: 8,
		Layers:     2,
		Init:       initwfn.OrthogonalFactory(3),
	}
}

func TestPassThrough(t *testing.T) {
	h := newHarness(t, Disabled, Config{}, 2, 1)
	assert.Equal(t, inputs, h.unit.OutputSize())
	assert.Empty(t, h.unit.Learnables())

	x := seq(2*inputs, 0)
	s, out := h.run(t, x, nil, nil)
	assert.Equal(t, NoState{}, s)
	assert.Equal(t, x, out)

	given := ZeroState(Stacked, stackedConfig(), 2)
	s, _ = h.run(t, x, given, []float64{1, 0})
	assert.Equal(t, given, s)

	assert.Error(t, h.unit.SetState(nil, []float64{1, 0.5}))
}

func TestStackedResetZeroesState(t *testing.T) {
	const batch = 2
	c := stackedConfig()
	h := newHarness(t, Stacked, c, batch, 1)

	ones := make([]float64, batch*c.Layers*c.HiddenSize)
	for i := range ones {
		ones[i] = 1
	}
	state := StackedState{Hidden: tensor.New(
		tensor.WithShape(batch, c.Layers, c.HiddenSize),
		tensor.WithBacking(ones),
	)}

	next, out := h.run(t, seq(batch*inputs, 0), state, []float64{0, 1})
	assert.Len(t, out, batch*c.HiddenSize)
	assert.Equal(t, tensor.Shape{batch, c.Layers, c.HiddenSize},
		next.(StackedState).Hidden.Shape())

	masked, err := h.unit.(*stackedGRU).MaskedState()
	require.NoError(t, err)

	data := masked.Hidden.Data().([]float64)
	row := c.Layers * c.HiddenSize
	for i := 0; i < row; i++ {
		assert.Equal(t, 0.0, data[i])
		assert.Equal(t, 1.0, data[row+i])
	}

	// A reset row behaves exactly like a row starting from zeros
	_, zero := h.run(t, seq(batch*inputs, 0), nil, []float64{1, 1})
	for i := 0; i < c.HiddenSize; i++ {
		assert.InDelta(t, zero[i], out[i], 1e-12)
	}

	// The masked state tracks the most recently bound state
	_, _ = h.run(t, seq(batch*inputs, 0), state, []float64{1, 1})
	masked, err = h.unit.(*stackedGRU).MaskedState()
	require.NoError(t, err)
	assert.Equal(t, ones, masked.Hidden.Data().([]float64))
}

func TestStackedSequenceMatchesSteps(t *testing.T) {
	const batch, steps = 2, 3
	c := stackedConfig()

	sequence := newHarness(t, Stacked, c, batch, steps)
	single := newHarness(t, Stacked, stackedConfig(), batch, 1)
	require.NoError(t, network.Set(single.unit, sequence.unit))

	x := seq(steps*batch*inputs, 1)
	masks := []float64{1, 1, 0, 1, 1, 0}
	start := ZeroState(Stacked, c, batch)

	wantState, wantOut := sequence.run(t, x, start, masks)

	state := start
	var out []float64
	for step := 0; step < steps; step++ {
		xt := x[step*batch*inputs : (step+1)*batch*inputs]
		var o []float64
		state, o = single.run(t, xt, state, masks[step*batch:(step+1)*batch])
		out = append(out, o...)
	}

	assert.InDeltaSlice(t, wantOut, out, 1e-9)
	assert.InDeltaSlice(t,
		wantState.(StackedState).Hidden.Data().([]float64),
		state.(StackedState).Hidden.Data().([]float64), 1e-9)
}

func TestStackedRejectsOtherStates(t *testing.T) {
	c := stackedConfig()
	h := newHarness(t, Stacked, c, 2, 1)

	err := h.unit.SetState(ZeroState(ModularGRU, Config{HiddenSize: 8,
		Units: 4}, 2), nil)
	assert.True(t, errors.Is(err, ErrState))

	wrongBatch := ZeroState(Stacked, c, 3)
	assert.True(t, errors.Is(h.unit.SetState(wrongBatch, nil), ErrState))
}

func modularConfig(units, topK int) Config {
	return Config{
		Name:       "Test",
		HiddenSize: 16,
		Units:      units,
		TopK:       topK,
		Init:       initwfn.OrthogonalFactory(5),
	}
}

func TestModularUnitsDivisibility(t *testing.T) {
	c := modularConfig(4, 1)
	c.HiddenSize = 63

	_, err := New(G.NewGraph(), ModularLSTM, c, 1, 1, inputs)
	assert.True(t, errors.Is(err, ErrUnitsDivisibility))
}

func TestModularTopKBounds(t *testing.T) {
	_, err := New(G.NewGraph(), ModularGRU, modularConfig(4, 5), 1, 1, inputs)
	assert.Error(t, err)
}

func randomModularState(k Kind, c Config, batch int) ModularState {
	size := c.HiddenSize / c.Units
	n := batch * c.Units * size
	s := ModularState{Hidden: tensor.New(
		tensor.WithShape(batch, c.Units, size),
		tensor.WithBacking(seq(n, 2)),
	)}
	if k == ModularLSTM {
		s.Cell = tensor.New(
			tensor.WithShape(batch, c.Units, size),
			tensor.WithBacking(seq(n, 3)),
		)
	}
	return s
}

func TestModularInactiveModulesKeepState(t *testing.T) {
	for _, k := range []Kind{ModularLSTM, ModularGRU} {
		t.Run(k.String(), func(t *testing.T) {
			const batch = 3
			c := modularConfig(4, 2)
			h := newHarness(t, k, c, batch, 1)
			assert.Equal(t, c.HiddenSize, h.unit.OutputSize())

			start := randomModularState(k, c, batch)
			next, out := h.run(t, seq(batch*inputs, 0), start, nil)
			assert.Len(t, out, batch*c.HiddenSize)

			require.NoError(t, h.vm.RunAll())
			active, err := h.unit.(*modularCell).Active()
			require.NoError(t, err)
			h.vm.Reset()

			size := c.HiddenSize / c.Units
			state := next.(ModularState)
			assert.Equal(t, k, state.Kind())

			mask := active.Data().([]float64)
			for i := 0; i < batch; i++ {
				n := 0.0
				for u := 0; u < c.Units; u++ {
					n += mask[i*c.Units+u]
					if mask[i*c.Units+u] == 1 {
						continue
					}
					for j := 0; j < size; j++ {
						idx := (i*c.Units+u)*size + j
						assert.InDelta(t, start.Hidden.Data().([]float64)[idx],
							state.Hidden.Data().([]float64)[idx], 1e-12)
						if k == ModularLSTM {
							assert.InDelta(t, start.Cell.Data().([]float64)[idx],
								state.Cell.Data().([]float64)[idx], 1e-12)
						}
					}
				}
				assert.Equal(t, float64(c.TopK), n)
			}
		})
	}
}

func TestModularZeroStateSelectsTopK(t *testing.T) {
	for _, k := range []Kind{ModularLSTM, ModularGRU} {
		for _, topK := range []int{1, 3} {
			t.Run(fmt.Sprintf("%v/Top%d", k, topK), func(t *testing.T) {
				const batch = 2
				c := modularConfig(4, topK)
				h := newHarness(t, k, c, batch, 1)

				_, _ = h.run(t, seq(batch*inputs, 0), nil, nil)
				require.NoError(t, h.vm.RunAll())
				active, err := h.unit.(*modularCell).Active()
				require.NoError(t, err)
				h.vm.Reset()

				mask := active.Data().([]float64)
				for i := 0; i < batch; i++ {
					n := 0.0
					for u := 0; u < c.Units; u++ {
						n += mask[i*c.Units+u]
					}
					assert.Equal(t, float64(topK), n)
				}
			})
		}
	}
}

func TestModularResetMasks(t *testing.T) {
	const batch = 2
	masks := []float64{0, 1}

	tests := []struct {
		name      string
		maskState bool
	}{
		{"Ignored", false},
		{"Applied", true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := modularConfig(4, 1)
			c.MaskModularState = test.maskState
			h := newHarness(t, ModularLSTM, c, batch, 1)

			start := randomModularState(ModularLSTM, c, batch)
			next, _ := h.run(t, seq(batch*inputs, 0), start, masks)

			require.NoError(t, h.vm.RunAll())
			active, err := h.unit.(*modularCell).Active()
			require.NoError(t, err)
			h.vm.Reset()

			n := 0.0
			for u := 0; u < c.Units; u++ {
				n += active.Data().([]float64)[u]
			}
			assert.Equal(t, float64(c.TopK), n)

			// Inactive modules of the reset row keep the state they had
			// after masking
			size := c.HiddenSize / c.Units
			hidden := next.(ModularState).Hidden.Data().([]float64)
			for u := 0; u < c.Units; u++ {
				if active.Data().([]float64)[u] == 1 {
					continue
				}
				for j := 0; j < size; j++ {
					idx := u*size + j
					want := start.Hidden.Data().([]float64)[idx]
					if test.maskState {
						want = 0
					}
					assert.InDelta(t, want, hidden[idx], 1e-12)
				}
			}
		})
	}
}

func TestModularGRURejectsCell(t *testing.T) {
	c := modularConfig(4, 1)
	h := newHarness(t, ModularGRU, c, 2, 1)

	err := h.unit.SetState(randomModularState(ModularLSTM, c, 2), nil)
	assert.True(t, errors.Is(err, ErrState))
}

func TestModularAcceptsPackedStates(t *testing.T) {
	for _, k := range []Kind{ModularLSTM, ModularGRU} {
		t.Run(k.String(), func(t *testing.T) {
			const batch = 2
			c := modularConfig(4, 1)
			h := newHarness(t, k, c, batch, 1)

			next, _ := h.run(t, seq(batch*inputs, 0),
				randomModularState(k, c, batch), nil)
			packed, err := FromPacked(next.(ModularState).Packed(), k, c.Units)
			require.NoError(t, err)
			assert.Equal(t, k, packed.Kind())

			_, _ = h.run(t, seq(batch*inputs, 1), packed, nil)
		})
	}
}

func TestModularSequenceMatchesSteps(t *testing.T) {
	const batch, steps = 2, 2
	c := modularConfig(4, 2)

	sequence := newHarness(t, ModularLSTM, c, batch, steps)
	single := newHarness(t, ModularLSTM, modularConfig(4, 2), batch, 1)

	require.NoError(t, network.Set(single.unit, sequence.unit))

	x := seq(steps*batch*inputs, 4)
	start := randomModularState(ModularLSTM, c, batch)
	wantState, wantOut := sequence.run(t, x, start, nil)

	var state State = start
	var out []float64
	for step := 0; step < steps; step++ {
		var o []float64
		state, o = single.run(t, x[step*batch*inputs:(step+1)*batch*inputs],
			state, nil)
		out = append(out, o...)
	}

	assert.InDeltaSlice(t, wantOut, out, 1e-9)
	assert.InDeltaSlice(t,
		wantState.(ModularState).Cell.Data().([]float64),
		state.(ModularState).Cell.Data().([]float64), 1e-9)
}

func TestModularWeightsAreSeeded(t *testing.T) {
	build := func(seed uint64) []float64 {
		c := modularConfig(4, 1)
		c.Seed = seed
		unit, err := New(G.NewGraph(), ModularGRU, c, 1, 1, inputs)
		require.NoError(t, err)

		var weights []float64
		for _, l := range unit.Learnables() {
			weights = append(weights, l.Value().Data().([]float64)...)
		}
		return weights
	}

	assert.Equal(t, build(7), build(7))
	assert.NotEqual(t, build(7), build(8))
}
