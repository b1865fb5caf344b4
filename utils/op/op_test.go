package op

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// run runs the graph of n and returns the value of n
func run(t *testing.T, n *G.Node) []float64 {
	t.Helper()

	var val G.Value
	G.Read(n, &val)

	vm := G.NewTapeMachine(n.Graph())
	defer vm.Close()
	require.NoError(t, vm.RunAll())

	data, ok := val.Data().([]float64)
	if !ok {
		return []float64{val.Data().(float64)}
	}
	out := make([]float64, len(data))
	copy(out, data)
	return out
}

func matrix(g *G.ExprGraph, name string, rows, cols int,
	data []float64) *G.Node {
	return G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(rows, cols),
		G.WithName(name),
		G.WithValue(tensor.New(
			tensor.WithShape(rows, cols),
			tensor.WithBacking(data),
		)),
	)
}

func TestLogSoftMax(t *testing.T) {
	g := G.NewGraph()
	x := matrix(g, "x", 2, 3, []float64{1, 2, 3, 1000, 1000, 1000})

	got := run(t, LogSoftMax(x))

	lse := math.Log(math.Exp(1) + math.Exp(2) + math.Exp(3))
	want := []float64{1 - lse, 2 - lse, 3 - lse, -math.Log(3),
		-math.Log(3), -math.Log(3)}
	assert.InDeltaSlice(t, want, got, 1e-9)
}

func TestSoftMaxRowsSumToOne(t *testing.T) {
	g := G.NewGraph()
	x := matrix(g, "x", 3, 4, []float64{
		0.5, -1, 2, 0,
		-30, 40, 1, 1,
		0, 0, 0, 0,
	})

	got := run(t, RowSum(SoftMax(x)))
	assert.InDeltaSlice(t, []float64{1, 1, 1}, got, 1e-9)
}

func TestTopKMask(t *testing.T) {
	tests := []struct {
		name string
		k    int
		want []float64
	}{
		{"Top1", 1, []float64{0, 0, 1, 0, 1, 0, 0, 0}},
		{"Top2", 2, []float64{0, 1, 1, 0, 1, 0, 0, 1}},
		{"Top4", 4, []float64{1, 1, 1, 1, 1, 1, 1, 1}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			g := G.NewGraph()
			scores := matrix(g, "scores", 2, 4, []float64{
				0.1, 0.5, 0.9, -1,
				3, -2, 0, 1,
			})
			assert.Equal(t, test.want, run(t, TopKMask(scores, test.k)))
		})
	}
}

func TestTopKMaskBreaksTies(t *testing.T) {
	tests := []struct {
		name   string
		k      int
		scores []float64
		want   []float64
	}{
		{"AllZeroTop1", 1, make([]float64, 8), []float64{1, 0, 0, 0, 1, 0, 0, 0}},
		{"AllZeroTop3", 3, make([]float64, 8), []float64{1, 1, 1, 0, 1, 1, 1, 0}},
		{"TiedMax", 1, []float64{0, 2, 2, 1, 5, 5, 5, 5},
			[]float64{0, 1, 0, 0, 1, 0, 0, 0}},
		{"TiedSecond", 2, []float64{3, 1, 1, 1, -1, 0, 4, 0},
			[]float64{1, 1, 0, 0, 0, 1, 1, 0}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			g := G.NewGraph()
			scores := matrix(g, "scores", 2, 4, test.scores)
			got := run(t, TopKMask(scores, test.k))
			assert.Equal(t, test.want, got)

			for row := 0; row < 2; row++ {
				sum := 0.0
				for _, v := range got[row*4 : (row+1)*4] {
					sum += v
				}
				assert.Equal(t, float64(test.k), sum)
			}
		})
	}
}

func TestSlicing(t *testing.T) {
	g := G.NewGraph()
	x := matrix(g, "x", 3, 3, []float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})

	col := Column(x, 1)
	cols := Columns(x, 1, 3)
	rows := Rows(x, 2, 3)

	assert.Equal(t, tensor.Shape{3, 1}, col.Shape())
	assert.Equal(t, tensor.Shape{3, 2}, cols.Shape())
	assert.Equal(t, tensor.Shape{1, 3}, rows.Shape())

	assert.Equal(t, []float64{7, 8, 9}, run(t, rows))
}

func TestScaleRows(t *testing.T) {
	g := G.NewGraph()
	x := matrix(g, "x", 2, 2, []float64{1, 2, 3, 4})
	scale := matrix(g, "scale", 2, 1, []float64{0, 2})

	assert.Equal(t, []float64{0, 0, 6, 8}, run(t, ScaleRows(x, scale)))
}

func TestGaussianLogPdf(t *testing.T) {
	g := G.NewGraph()
	mean := matrix(g, "mean", 2, 2, []float64{0, 1, -1, 0.5})
	logStd := matrix(g, "logStd", 2, 2, []float64{0, 0, math.Log(2), 0})
	actions := matrix(g, "actions", 2, 2, []float64{0, 1, 1, 0.5})

	got := run(t, GaussianLogPdf(mean, logStd, actions))

	logNorm := func(x, mu, std float64) float64 {
		z := (x - mu) / std
		return -0.5*z*z - math.Log(std) - 0.5*math.Log(2*math.Pi)
	}
	want := []float64{
		logNorm(0, 0, 1) + logNorm(1, 1, 1),
		logNorm(1, -1, 2) + logNorm(0.5, 0.5, 1),
	}
	assert.InDeltaSlice(t, want, got, 1e-9)
}
