package layer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Parameter is a trainable tensor together with its gradient buffer.
// Vectors (biases, thresholds) are stored as a single row.
type Parameter struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParameter creates a zero-valued parameter of shape (rows, cols).
func NewParameter(name string, rows, cols int) *Parameter {
	return &Parameter{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// NewVectorParameter creates a row-vector parameter holding a copy of values.
func NewVectorParameter(name string, values []float64) *Parameter {
	p := NewParameter(name, 1, len(values))
	p.Value.SetRow(0, values)
	return p
}

// Dims returns the parameter shape.
func (p *Parameter) Dims() (rows, cols int) {
	return p.Value.Dims()
}

// Len returns the number of scalar values held by the parameter.
func (p *Parameter) Len() int {
	r, c := p.Value.Dims()
	return r * c
}

// Row returns the first row of the value as a slice sharing its storage.
// It is meant for vector parameters.
func (p *Parameter) Row() []float64 {
	return p.Value.RawRowView(0)
}

// GradRow returns the first row of the gradient, sharing its storage.
func (p *Parameter) GradRow() []float64 {
	return p.Grad.RawRowView(0)
}

// ZeroGrad resets the gradient buffer.
func (p *Parameter) ZeroGrad() {
	p.Grad.Zero()
}

// Flatten returns all parameter values concatenated in order (copy).
func Flatten(params []*Parameter) []float64 {
	return flatten(params, func(p *Parameter) *mat.Dense { return p.Value })
}

// FlattenGrads returns all parameter gradients concatenated in order (copy).
func FlattenGrads(params []*Parameter) []float64 {
	return flatten(params, func(p *Parameter) *mat.Dense { return p.Grad })
}

func flatten(params []*Parameter, pick func(*Parameter) *mat.Dense) []float64 {
	total := 0
	for _, p := range params {
		total += p.Len()
	}
	out := make([]float64, 0, total)
	for _, p := range params {
		m := pick(p)
		r, _ := m.Dims()
		for i := 0; i < r; i++ {
			out = append(out, m.RawRowView(i)...)
		}
	}
	return out
}

// SetFlat writes values produced by Flatten back into params (in-place).
func SetFlat(params []*Parameter, values []float64) {
	total := 0
	for _, p := range params {
		total += p.Len()
	}
	if total != len(values) {
		panic(fmt.Sprintf("SetFlat: got %d values, parameters hold %d", len(values), total))
	}

	offset := 0
	for _, p := range params {
		r, c := p.Dims()
		for i := 0; i < r; i++ {
			p.Value.SetRow(i, values[offset:offset+c])
			offset += c
		}
	}
}
