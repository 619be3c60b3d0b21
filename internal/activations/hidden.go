package activations

import (
	"fmt"

	"github.com/FlavioCFOliveira/GoSAE/internal/layer"
	"gonum.org/v1/gonum/mat"
)

// Hidden is a nonlinearity applied to a batch of hidden pre-activations,
// shape (batch, hidden). Implementations may depend on the neuron index.
type Hidden interface {
	// Forward returns a new matrix with the activation of z.
	Forward(z mat.Matrix) *mat.Dense

	// Backward returns dL/dz given z and dL/d(output).
	Backward(z, grad mat.Matrix) *mat.Dense

	// Name identifies the nonlinearity for persistence.
	Name() string
}

// elementwise lifts a scalar Activation to a Hidden nonlinearity.
type elementwise struct {
	act Activation
}

// Elementwise applies act independently to every element.
func Elementwise(act Activation) Hidden {
	return elementwise{act: act}
}

func (e elementwise) Forward(z mat.Matrix) *mat.Dense {
	r, c := z.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, v float64) float64 {
		return e.act.Activate(v)
	}, z)
	return out
}

func (e elementwise) Backward(z, grad mat.Matrix) *mat.Dense {
	r, c := z.Dims()
	if gr, gc := grad.Dims(); gr != r || gc != c {
		panic(fmt.Sprintf("%s: gradient shape (%d,%d) does not match input (%d,%d)", e.Name(), gr, gc, r, c))
	}
	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, v float64) float64 {
		return grad.At(i, j) * e.act.Derivative(v)
	}, z)
	return out
}

func (e elementwise) Name() string {
	return NameOf(e.act)
}

// ScalarOf returns the scalar activation behind an Elementwise nonlinearity.
func ScalarOf(h Hidden) (Activation, bool) {
	e, ok := h.(elementwise)
	if !ok {
		return nil, false
	}
	return e.act, true
}

// JumpReLU is a thresholding gate: z where z > θ, else 0.
//
// θ is a per-neuron trainable threshold referenced, not owned, by the gate.
// The gate is a hard mask, so Backward contributes no gradient to θ; that
// comes from the L0 penalty sharing the same parameter.
//
// Reference: Rajamanoharan et al., "Jumping ahead: Improving reconstruction
// fidelity with JumpReLU sparse autoencoders", arXiv:2407.14435 (2024).
type JumpReLU struct {
	theta *layer.Parameter
}

// NewJumpReLU creates a JumpReLU gate over the given threshold vector.
func NewJumpReLU(theta *layer.Parameter) *JumpReLU {
	if theta == nil {
		panic("JumpReLU: nil threshold")
	}
	return &JumpReLU{theta: theta}
}

// Theta returns the shared threshold parameter.
func (j *JumpReLU) Theta() *layer.Parameter {
	return j.theta
}

// Forward masks every element not strictly above its neuron's threshold.
func (j *JumpReLU) Forward(z mat.Matrix) *mat.Dense {
	theta := j.checkWidth(z)
	r, c := z.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, col int, v float64) float64 {
		if v > theta[col] {
			return v
		}
		return 0
	}, z)
	return out
}

// Backward passes the gradient through where the gate is open.
func (j *JumpReLU) Backward(z, grad mat.Matrix) *mat.Dense {
	theta := j.checkWidth(z)
	r, c := z.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(row, col int, v float64) float64 {
		if v > theta[col] {
			return grad.At(row, col)
		}
		return 0
	}, z)
	return out
}

// Name implements Hidden.
func (j *JumpReLU) Name() string {
	return "JumpReLU"
}

func (j *JumpReLU) checkWidth(z mat.Matrix) []float64 {
	theta := j.theta.Row()
	if _, c := z.Dims(); c != len(theta) {
		panic(fmt.Sprintf("JumpReLU: input has %d columns, threshold has %d", c, len(theta)))
	}
	return theta
}
