// Package op provides extended Gorgonia graph operations.
//
// Adapted from aunum/G.ld on GitHub
package op

import (
	"math"
	"strconv"

	"github.com/samuelfneumann/rmappo/utils/tensorutils"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// RowMax returns the maximum of each row of a matrix as a column
// vector of shape (rows, 1)
func RowMax(x *G.Node) *G.Node {
	max := G.Must(G.Max(x, 1))
	return G.Must(G.Reshape(max, tensor.Shape{x.Shape()[0], 1}))
}

// RowSum returns the sum of each row of a matrix as a column vector of
// shape (rows, 1)
func RowSum(x *G.Node) *G.Node {
	sum := G.Must(G.Sum(x, 1))
	return G.Must(G.Reshape(sum, tensor.Shape{x.Shape()[0], 1}))
}

// ExpandCols repeats a column vector of shape (rows, 1) n times along
// the columns, returning a matrix of shape (rows, n)
func ExpandCols(col *G.Node, n int) *G.Node {
	ones := G.NewConstant(tensor.Ones(tensor.Float64, 1, n),
		G.WithName("ones_1x"+strconv.Itoa(n)))
	return G.Must(G.Mul(col, ones))
}

// ExpandRows repeats a row vector of shape (1, cols) n times along the
// rows, returning a matrix of shape (n, cols)
func ExpandRows(row *G.Node, n int) *G.Node {
	ones := G.NewConstant(tensor.Ones(tensor.Float64, n, 1),
		G.WithName("ones_"+strconv.Itoa(n)+"x1"))
	return G.Must(G.Mul(ones, row))
}

// ScaleRows multiplies each row of x by the corresponding entry of the
// column vector col of shape (rows, 1)
func ScaleRows(x, col *G.Node) *G.Node {
	return G.Must(G.HadamardProd(x, ExpandCols(col, x.Shape()[1])))
}

// LogSumExp calculates the log of the summation of exponentials of
// all logits along each row, returning a column vector.
//
// Use this in place of Gorgonia's LogSumExp, which has the final sum
// and log interchanged, which is incorrect.
func LogSumExp(logits *G.Node) *G.Node {
	max := RowMax(logits)

	exponent := G.Must(G.Sub(logits, ExpandCols(max, logits.Shape()[1])))
	exponent = G.Must(G.Exp(exponent))

	log := G.Must(G.Log(RowSum(exponent)))

	return G.Must(G.Add(max, log))
}

// LogSoftMax returns the row-wise log softmax of a matrix of logits
func LogSoftMax(logits *G.Node) *G.Node {
	lse := ExpandCols(LogSumExp(logits), logits.Shape()[1])
	return G.Must(G.Sub(logits, lse))
}

// SoftMax returns the row-wise softmax of a matrix of logits
func SoftMax(logits *G.Node) *G.Node {
	return G.Must(G.Exp(LogSoftMax(logits)))
}

// Column returns column i of a matrix as a column vector of shape
// (rows, 1)
func Column(x *G.Node, i int) *G.Node {
	col := G.Must(G.Slice(x, nil, tensorutils.NewSlice(i, i+1, 1)))
	return G.Must(G.Reshape(col, tensor.Shape{x.Shape()[0], 1}))
}

// Columns returns columns [start, end) of a matrix
func Columns(x *G.Node, start, end int) *G.Node {
	cols := G.Must(G.Slice(x, nil, tensorutils.NewSlice(start, end, 1)))
	return G.Must(G.Reshape(cols, tensor.Shape{x.Shape()[0], end - start}))
}

// Rows returns rows [start, end) of a matrix
func Rows(x *G.Node, start, end int) *G.Node {
	rows := G.Must(G.Slice(x, tensorutils.NewSlice(start, end, 1)))
	return G.Must(G.Reshape(rows, tensor.Shape{end - start, x.Shape()[1]}))
}

// TopKMask returns a matrix of the same shape as scores which is 1.0 at
// the k largest entries of each row and 0.0 elsewhere. Exactly k entries
// are selected per row: ties go to the lowest column index.
func TopKMask(scores *G.Node, k int) *G.Node {
	rows, cols := scores.Shape()[0], scores.Shape()[1]
	big := G.NewConstant(1e9)

	offsets := make([]float64, cols)
	for i := range offsets {
		offsets[i] = -tieBreak * float64(i)
	}
	offset := G.NewConstant(tensor.New(
		tensor.WithShape(1, cols),
		tensor.WithBacking(offsets),
	), G.WithName("topk_offsets_1x"+strconv.Itoa(cols)))
	scores = G.Must(G.Add(scores, ExpandRows(offset, rows)))

	remaining := scores
	var threshold *G.Node
	for i := 0; i < k; i++ {
		threshold = ExpandCols(RowMax(remaining), cols)
		if i < k-1 {
			chosen := G.Must(G.Gte(remaining, threshold, true))
			remaining = G.Must(G.Sub(remaining, G.Must(G.HadamardProd(chosen, big))))
		}
	}
	return G.Must(G.Gte(scores, threshold, true))
}

// tieBreak separates equal scores in TopKMask
const tieBreak = 1e-9

// GaussianLogPdf calculates the log of the probability density function
// of actions drawn from a diagonal Gaussian distribution with mean mean
// and log standard deviation logStd.
//
// All arguments should be two-dimensional and of the same size m x n,
// where rows denote samples in the batch and columns denote action
// dimensions. The returned node has shape (m, 1).
func GaussianLogPdf(mean, logStd, actions *G.Node) *G.Node {
	graph := mean.Graph()
	if graph != logStd.Graph() || graph != actions.Graph() {
		panic("gaussianLogPdf: all nodes must share the same graph")
	}

	negativeHalf := G.NewConstant(-0.5)
	logSqrt2Pi := G.NewConstant(0.5 * math.Log(2*math.Pi))

	diff := G.Must(G.Sub(actions, mean))
	invStd := G.Must(G.Exp(G.Must(G.Neg(logStd))))
	exponent := G.Must(G.Square(G.Must(G.HadamardProd(diff, invStd))))
	exponent = G.Must(G.HadamardProd(negativeHalf, exponent))

	terms := G.Must(G.Add(logStd, logSqrt2Pi))
	logProb := G.Must(G.Sub(exponent, terms))

	return RowSum(logProb)
}
