// Package sparsity provides the sparsity penalties of a sparse autoencoder.
//
// A Penalty turns the hidden activations of a batch, shape (batch, hidden),
// into one scalar. The three strategies are interchangeable and are chosen
// when the autoencoder is built.
package sparsity

import (
	"fmt"
	"math"

	"github.com/FlavioCFOliveira/GoSAE/internal/activations"
	"github.com/FlavioCFOliveira/GoSAE/internal/layer"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Penalty computes a scalar sparsity penalty from hidden-layer activations.
type Penalty interface {
	// Forward returns the penalty. It has no side effects.
	Forward(activation, preActivation mat.Matrix) float64

	// Backward adds scale * dPenalty/dActivation into gradAct and
	// scale * dPenalty/dPreActivation into gradPre. Penalties that reference
	// a trainable parameter also add into its gradient buffer.
	Backward(activation, preActivation mat.Matrix, gradAct, gradPre *mat.Dense, scale float64)

	// Kind names the strategy for persistence: "kl", "l0" or "l1".
	Kind() string
}

// Strategy names.
const (
	KindKL = "kl"
	KindL0 = "l0"
	KindL1 = "l1"
)

// KLEpsilon bounds the mean activation away from 0 and 1 before taking logs.
const KLEpsilon = 1e-8

// DefaultL0Epsilon is the default sigmoid temperature of the L0 relaxation.
const DefaultL0Epsilon = 0.1

// KL is the KL-divergence sparsity penalty of a classic sparse autoencoder:
//
//	Σ_j ρ·log(ρ/ρ̂_j) + (1−ρ)·log((1−ρ)/(1−ρ̂_j)),  ρ̂_j = mean_b a_bj
//
// Reference: Ng, A. "Sparse autoencoder", CS294A Lecture notes 72 (2011).
type KL struct {
	rho float64
}

// NewKL creates a KL penalty with target activation rate rho in (0, 1).
func NewKL(rho float64) (*KL, error) {
	if !(rho > 0 && rho < 1) {
		return nil, errors.Errorf("KL: target rate rho must be in (0, 1), got %v", rho)
	}
	return &KL{rho: rho}, nil
}

// Rho returns the target activation rate.
func (k *KL) Rho() float64 {
	return k.rho
}

// Kind implements Penalty.
func (k *KL) Kind() string { return KindKL }

// meanActivation returns the per-neuron batch mean and whether it was clamped.
func meanActivation(activation mat.Matrix) (rhoHat []float64, clamped []bool) {
	rows, cols := activation.Dims()
	rhoHat = make([]float64, cols)
	clamped = make([]bool, cols)
	for j := 0; j < cols; j++ {
		var sum float64
		for i := 0; i < rows; i++ {
			sum += activation.At(i, j)
		}
		mean := sum / float64(rows)
		switch {
		case mean < KLEpsilon:
			rhoHat[j], clamped[j] = KLEpsilon, true
		case mean > 1-KLEpsilon:
			rhoHat[j], clamped[j] = 1-KLEpsilon, true
		default:
			rhoHat[j] = mean
		}
	}
	return rhoHat, clamped
}

// Forward computes the KL divergence summed over all neurons.
func (k *KL) Forward(activation, _ mat.Matrix) float64 {
	rhoHat, _ := meanActivation(activation)
	rho := k.rho

	var loss float64
	for _, rh := range rhoHat {
		loss += rho*math.Log(rho/rh) + (1-rho)*math.Log((1-rho)/(1-rh))
	}
	return loss
}

// Backward propagates through the batch mean. Clamped neurons get no gradient.
func (k *KL) Backward(activation, _ mat.Matrix, gradAct, _ *mat.Dense, scale float64) {
	checkGrad("KL", activation, gradAct)
	rhoHat, clamped := meanActivation(activation)
	rows, cols := activation.Dims()
	rho := k.rho

	for j := 0; j < cols; j++ {
		if clamped[j] {
			continue
		}
		rh := rhoHat[j]
		g := scale * (-rho/rh + (1-rho)/(1-rh)) / float64(rows)
		for i := 0; i < rows; i++ {
			gradAct.Set(i, j, gradAct.At(i, j)+g)
		}
	}
}

// L0 is the smooth L0 surrogate used with a JumpReLU gate:
//
//	mean_b Σ_j sigmoid((z_bj − θ_j) / ε)
//
// It approximates the number of neurons whose pre-activation exceeds its
// threshold and is the only source of gradient for θ.
type L0 struct {
	theta   *layer.Parameter
	epsilon float64
}

// NewL0 creates an L0 penalty over the shared threshold theta with temperature epsilon.
func NewL0(theta *layer.Parameter, epsilon float64) (*L0, error) {
	if theta == nil {
		return nil, errors.New("L0: nil threshold")
	}
	if !(epsilon > 0) {
		return nil, errors.Errorf("L0: temperature epsilon must be positive, got %v", epsilon)
	}
	return &L0{theta: theta, epsilon: epsilon}, nil
}

// Theta returns the shared threshold parameter.
func (l *L0) Theta() *layer.Parameter {
	return l.theta
}

// Epsilon returns the sigmoid temperature.
func (l *L0) Epsilon() float64 {
	return l.epsilon
}

// Kind implements Penalty.
func (l *L0) Kind() string { return KindL0 }

func (l *L0) gate(preActivation mat.Matrix) ([]float64, int, int) {
	theta := l.theta.Row()
	rows, cols := preActivation.Dims()
	if cols != len(theta) {
		panic(fmt.Sprintf("L0: pre-activation has %d columns, threshold has %d", cols, len(theta)))
	}
	return theta, rows, cols
}

// Forward computes the expected number of open gates per sample.
func (l *L0) Forward(_, preActivation mat.Matrix) float64 {
	theta, rows, cols := l.gate(preActivation)

	var sum float64
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			sum += activations.Logistic((preActivation.At(i, j) - theta[j]) / l.epsilon)
		}
	}
	return sum / float64(rows)
}

// Backward adds the surrogate gradient to gradPre and to θ's gradient.
func (l *L0) Backward(_, preActivation mat.Matrix, _, gradPre *mat.Dense, scale float64) {
	checkGrad("L0", preActivation, gradPre)
	theta, rows, cols := l.gate(preActivation)
	gradTheta := l.theta.GradRow()

	factor := scale / (l.epsilon * float64(rows))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			s := activations.Logistic((preActivation.At(i, j) - theta[j]) / l.epsilon)
			g := factor * s * (1 - s)
			gradPre.Set(i, j, gradPre.At(i, j)+g)
			gradTheta[j] -= g
		}
	}
}

// L1 penalises absolute activation magnitude: mean_b Σ_j |a_bj|.
type L1 struct{}

// NewL1 creates an L1 penalty.
func NewL1() *L1 {
	return &L1{}
}

// Kind implements Penalty.
func (l *L1) Kind() string { return KindL1 }

// Forward computes the mean per-sample L1 norm.
func (l *L1) Forward(activation, _ mat.Matrix) float64 {
	rows, cols := activation.Dims()

	var sum float64
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			sum += math.Abs(activation.At(i, j))
		}
	}
	return sum / float64(rows)
}

// Backward adds sign(a)/batch, with sign(0) = 0.
func (l *L1) Backward(activation, _ mat.Matrix, gradAct, _ *mat.Dense, scale float64) {
	checkGrad("L1", activation, gradAct)
	rows, cols := activation.Dims()

	factor := scale / float64(rows)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			a := activation.At(i, j)
			switch {
			case a > 0:
				gradAct.Set(i, j, gradAct.At(i, j)+factor)
			case a < 0:
				gradAct.Set(i, j, gradAct.At(i, j)-factor)
			}
		}
	}
}

func checkGrad(name string, x mat.Matrix, grad *mat.Dense) {
	r, c := x.Dims()
	gr, gc := grad.Dims()
	if r != gr || c != gc {
		panic(fmt.Sprintf("%s: gradient (%d,%d) does not match input (%d,%d)", name, gr, gc, r, c))
	}
}

// Factory builds a fresh penalty for an autoencoder with the given hidden width.
// Factories keep autoencoders from sharing penalty instances.
type Factory func(hiddenDim int) (Penalty, error)

// L1Factory returns a Factory for L1 penalties.
func L1Factory() Factory {
	return func(int) (Penalty, error) { return NewL1(), nil }
}

// KLFactory returns a Factory for KL penalties with target rate rho.
func KLFactory(rho float64) Factory {
	return func(int) (Penalty, error) {
		kl, err := NewKL(rho)
		if err != nil {
			return nil, err
		}
		return kl, nil
	}
}
