package initwfn

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

func TestOrthogonal(t *testing.T) {
	tests := []struct {
		name       string
		rows, cols int
	}{
		{"Square", 8, 8},
		{"Tall", 12, 5},
		{"Wide", 5, 12},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			const gain = 2.0
			init := OrthogonalConfig{Gain: gain, Seed: 7}.Create()
			w := init(tensor.Float64, test.rows, test.cols).([]float64)
			require.Len(t, w, test.rows*test.cols)

			m := mat.NewDense(test.rows, test.cols, w)
			var prod mat.Dense
			n := test.cols
			if test.rows < test.cols {
				// Rows are orthogonal
				n = test.rows
				prod.Mul(m, m.T())
			} else {
				prod.Mul(m.T(), m)
			}

			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					want := 0.0
					if i == j {
						want = gain * gain
					}
					assert.InDelta(t, want, prod.At(i, j), 1e-9)
				}
			}
		})
	}
}

func TestOrthogonalSeeding(t *testing.T) {
	a := OrthogonalConfig{Gain: 1, Seed: 3}.Create()(tensor.Float64, 4, 4)
	b := OrthogonalConfig{Gain: 1, Seed: 3}.Create()(tensor.Float64, 4, 4)
	assert.Equal(t, a, b)

	// Successive draws continue the stream
	init := OrthogonalConfig{Gain: 1, Seed: 3}.Create()
	first := init(tensor.Float64, 4, 4)
	second := init(tensor.Float64, 4, 4)
	assert.NotEqual(t, first, second)
}

func TestOrthogonalFactory(t *testing.T) {
	f := OrthogonalFactory(11)
	a := f(1)(tensor.Float64, 3, 3)
	b := f(1)(tensor.Float64, 3, 3)
	assert.NotEqual(t, a, b)

	g := OrthogonalFactory(11)
	assert.Equal(t, a, g(1)(tensor.Float64, 3, 3))
}

func TestOrthogonalFloat32(t *testing.T) {
	w := OrthogonalConfig{Gain: 1, Seed: 1}.Create()(tensor.Float32, 2, 3)
	assert.Len(t, w.([]float32), 6)
}

func TestJSONRoundTrip(t *testing.T) {
	want, err := NewOrthogonal(1.5, 42)
	require.NoError(t, err)

	data, err := json.Marshal(want)
	require.NoError(t, err)

	var got InitWFn
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, Orthogonal, got.Type)
	assert.Equal(t, OrthogonalConfig{Gain: 1.5, Seed: 42}, got.Config)
	assert.NotNil(t, got.InitWFn())
}

func TestUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    Config
		wantErr bool
	}{
		{
			name: "Gaussian",
			data: `{"Type": "Gaussian", "Config": {"Mean": 1, "StdDev": 0.5}}`,
			want: GaussianConfig{Mean: 1, StdDev: 0.5},
		},
		{
			name: "ZeroesWithoutConfig",
			data: `{"Type": "Zeroes"}`,
			want: ZeroesConfig{},
		},
		{
			name:    "MissingType",
			data:    `{"Config": {"Gain": 1}}`,
			wantErr: true,
		},
		{
			name:    "UnknownType",
			data:    `{"Type": "He"}`,
			wantErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var got InitWFn
			err := json.Unmarshal([]byte(test.data), &got)
			if test.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.want, got.Config)
		})
	}
}

func TestFixedFactoryIgnoresGain(t *testing.T) {
	ones, err := NewOnes()
	require.NoError(t, err)

	w := FixedFactory(ones)(100)(tensor.Float64, 2, 2)
	assert.Equal(t, []float64{1, 1, 1, 1}, w)
}

func TestGaussianSeeding(t *testing.T) {
	draw := func(seed uint64) []float64 {
		return GaussianConfig{Mean: 1, StdDev: 0.5, Seed: seed}.Create()(
			tensor.Float64, 40, 50).([]float64)
	}

	w := draw(3)
	require.Len(t, w, 2000)
	assert.Equal(t, w, draw(3))
	assert.NotEqual(t, w, draw(4))

	mean := 0.0
	for _, v := range w {
		mean += v / float64(len(w))
	}
	assert.InDelta(t, 1.0, mean, 0.05)

	f32 := GaussianConfig{StdDev: 1}.Create()(tensor.Float32, 2, 3)
	assert.Len(t, f32, 6)
}
