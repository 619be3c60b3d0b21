// Package layer provides batched neural network layers on top of gonum matrices.
package layer

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Layer is a batched neural network layer.
// Inputs and outputs are (batch, features) matrices.
type Layer interface {
	Forward(x mat.Matrix) *mat.Dense
	// Backward accumulates parameter gradients for the input x and the
	// output gradient grad, and returns the gradient w.r.t. x.
	Backward(x, grad mat.Matrix) *mat.Dense
	Parameters() []*Parameter
}

var _ Layer = (*Linear)(nil)

// Linear is a fully connected affine layer: y = x·Wᵀ + b.
// Weights are stored as (out, in), the same layout as a torch Linear module.
type Linear struct {
	weight  *Parameter
	bias    *Parameter
	inSize  int
	outSize int
}

// NewLinear creates an affine layer initialised with U(-1/√in, 1/√in),
// matching the usual default for fully connected layers.
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	if in <= 0 || out <= 0 {
		panic(fmt.Sprintf("Linear: invalid shape in=%d out=%d", in, out))
	}

	weight := NewParameter(name+".weight", out, in)
	bias := NewParameter(name+".bias", 1, out)

	bound := 1 / math.Sqrt(float64(in))
	uniform := func(_, _ int, _ float64) float64 {
		return rng.Float64()*2*bound - bound
	}
	weight.Value.Apply(uniform, weight.Value)
	bias.Value.Apply(uniform, bias.Value)

	return &Linear{
		weight:  weight,
		bias:    bias,
		inSize:  in,
		outSize: out,
	}
}

// Forward computes x·Wᵀ + b for every row of x.
func (l *Linear) Forward(x mat.Matrix) *mat.Dense {
	rows, cols := x.Dims()
	if cols != l.inSize {
		panic(fmt.Sprintf("Linear: input has %d columns, want %d", cols, l.inSize))
	}

	out := mat.NewDense(rows, l.outSize, nil)
	out.Mul(x, l.weight.Value.T())

	b := l.bias.Row()
	for i := 0; i < rows; i++ {
		floats.Add(out.RawRowView(i), b)
	}
	return out
}

// Backward accumulates dL/dW = gradᵀ·x and dL/db = Σ_rows grad, and returns grad·W.
func (l *Linear) Backward(x, grad mat.Matrix) *mat.Dense {
	rows, cols := grad.Dims()
	if cols != l.outSize {
		panic(fmt.Sprintf("Linear: gradient has %d columns, want %d", cols, l.outSize))
	}
	if xr, _ := x.Dims(); xr != rows {
		panic(fmt.Sprintf("Linear: input has %d rows, gradient has %d", xr, rows))
	}

	var gradW mat.Dense
	gradW.Mul(grad.T(), x)
	l.weight.Grad.Add(l.weight.Grad, &gradW)

	gradB := l.bias.GradRow()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			gradB[j] += grad.At(i, j)
		}
	}

	gradIn := mat.NewDense(rows, l.inSize, nil)
	gradIn.Mul(grad, l.weight.Value)
	return gradIn
}

// Parameters returns the weight and bias, in that order.
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.weight, l.bias}
}

// Weight returns the (out, in) weight parameter.
func (l *Linear) Weight() *Parameter {
	return l.weight
}

// Bias returns the (1, out) bias parameter.
func (l *Linear) Bias() *Parameter {
	return l.bias
}

// SetWeight sets a single weight at (row, col).
func (l *Linear) SetWeight(row, col int, val float64) {
	l.weight.Value.Set(row, col, val)
}

// SetBias sets a single bias.
func (l *Linear) SetBias(idx int, val float64) {
	l.bias.Value.Set(0, idx, val)
}

// InSize returns the input size of the layer.
func (l *Linear) InSize() int {
	return l.inSize
}

// OutSize returns the output size of the layer.
func (l *Linear) OutSize() int {
	return l.outSize
}
