package network

import (
	"math"
	"testing"

	"github.com/samuelfneumann/rmappo/initwfn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func input(g *G.ExprGraph, shape ...int) *G.Node {
	size := tensor.Shape(shape).TotalSize()
	data := make([]float64, size)
	for i := range data {
		data[i] = math.Sin(float64(i) + 0.5)
	}
	return G.NewTensor(
		g,
		tensor.Float64,
		len(shape),
		G.WithShape(shape...),
		G.WithName("Input"),
		G.WithValue(tensor.New(
			tensor.WithShape(shape...),
			tensor.WithBacking(data),
		)),
	)
}

// run runs the graph of out and returns its value
func run(t *testing.T, out *G.Node) []float64 {
	t.Helper()

	var val G.Value
	G.Read(out, &val)

	vm := G.NewTapeMachine(out.Graph())
	defer vm.Close()
	require.NoError(t, vm.RunAll())

	data := val.Data().([]float64)
	res := make([]float64, len(data))
	copy(res, data)
	return res
}

func mlpConfig() EncoderConfig {
	return EncoderConfig{
		Name:                    "Test",
		HiddenSize:              64,
		LayerN:                  1,
		UseFeatureNormalization: true,
		UseReLU:                 true,
	}
}

func TestMLPBase(t *testing.T) {
	g := G.NewGraph()
	obs := input(g, 2, 10)

	m, err := NewMLPBase(g, 10, mlpConfig(), initwfn.OrthogonalFactory(1))
	require.NoError(t, err)
	assert.Len(t, m.Learnables(), 10)
	assert.Equal(t, 64, m.OutputSize())

	out, err := m.Fwd(obs)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 64}, out.Shape())

	// Outputs are layer normalized
	values := run(t, out)
	for row := 0; row < 2; row++ {
		sum := 0.0
		for _, v := range values[row*64 : (row+1)*64] {
			sum += v
		}
		assert.InDelta(t, 0.0, sum/64, 1e-9)
	}
}

func TestMLPBaseWithoutFeatureNormalization(t *testing.T) {
	g := G.NewGraph()
	c := mlpConfig()
	c.UseFeatureNormalization = false
	c.LayerN = 0

	m, err := NewMLPBase(g, 10, c, initwfn.GlorotUFactory())
	require.NoError(t, err)
	assert.Len(t, m.Learnables(), 4)

	_, err = m.Fwd(input(g, 2, 9))
	assert.Error(t, err)
}

func TestConvEncoder(t *testing.T) {
	g := G.NewGraph()
	obs := input(g, 2, 3, 8, 16)

	e, err := NewConvEncoder(g, "Test", 3, 8, 16, initwfn.OrthogonalFactory(2))
	require.NoError(t, err)
	assert.Len(t, e.Learnables(), 10)

	out, err := e.Fwd(obs)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 64}, out.Shape())

	for _, v := range run(t, out) {
		assert.GreaterOrEqual(t, v, 0.0)
	}
}

func TestConvEncoderRequiresDivisibleSize(t *testing.T) {
	g := G.NewGraph()
	_, err := NewConvEncoder(g, "Test", 3, 12, 16, initwfn.GlorotUFactory())
	assert.Error(t, err)
}

func TestNewEncoder(t *testing.T) {
	tests := []struct {
		name    string
		layout  []int
		wantErr bool
		conv    bool
	}{
		{"Vector", []int{10}, false, false},
		{"Image", []int{1, 8, 8}, false, true},
		{"Matrix", []int{4, 4}, true, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			g := G.NewGraph()
			e, err := NewEncoder(g, test.layout, mlpConfig(),
				initwfn.GlorotUFactory())
			if test.wantErr {
				assert.Error(t, err)
				assert.Nil(t, e)
				return
			}
			require.NoError(t, err)
			_, isConv := e.(*ConvEncoder)
			assert.Equal(t, test.conv, isConv)
		})
	}
}

func TestSetAndPolyak(t *testing.T) {
	g1, g2 := G.NewGraph(), G.NewGraph()
	dest, err := NewMLPBase(g1, 4, mlpConfig(), initwfn.OrthogonalFactory(1))
	require.NoError(t, err)
	source, err := NewMLPBase(g2, 4, mlpConfig(), initwfn.OrthogonalFactory(9))
	require.NoError(t, err)

	destW := dest.Learnables()[2].Value().Data().([]float64)
	sourceW := source.Learnables()[2].Value().Data().([]float64)
	want := make([]float64, len(destW))
	for i := range want {
		want[i] = 0.75*destW[i] + 0.25*sourceW[i]
	}

	require.NoError(t, Polyak(dest, source, 0.25))
	assert.InDeltaSlice(t, want,
		dest.Learnables()[2].Value().Data().([]float64), 1e-12)

	require.NoError(t, Set(dest, source))
	for i, n := range dest.Learnables() {
		assert.Equal(t, source.Learnables()[i].Value().Data(),
			n.Value().Data())
	}

	other, err := NewMLPBase(G.NewGraph(), 5, mlpConfig(),
		initwfn.GlorotUFactory())
	require.NoError(t, err)
	assert.Error(t, Set(dest, other))
}

func TestSetInput(t *testing.T) {
	g := G.NewGraph()
	x := G.NewMatrix(g, tensor.Float64, G.WithShape(2, 2), G.WithName("x"))

	require.NoError(t, SetInput(x, []float64{1, 2, 3, 4}))
	assert.Equal(t, []float64{1, 2, 3, 4}, x.Value().Data())

	assert.Error(t, SetInput(x, []float64{1}))
}

func TestNumParams(t *testing.T) {
	g := G.NewGraph()
	fc := NewFCLayer(g, "FC", 3, 2, G.GlorotU(1), nil)
	assert.Equal(t, 3*2+2, NumParams(fc.Learnables()))
}

func TestActivationGain(t *testing.T) {
	assert.Equal(t, math.Sqrt2, ReLU().Gain())
	assert.Equal(t, 5.0/3.0, TanH().Gain())
	assert.Equal(t, 1.0, Identity().Gain())
	assert.True(t, Identity().IsIdentity())
}
