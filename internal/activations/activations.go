// Package activations provides activation functions for the hidden layer.
package activations

import "math"

// Activation is an activation function with derivative.
type Activation interface {
	// Activate computes f(x)
	Activate(x float64) float64

	// Derivative computes f'(x)
	Derivative(x float64) float64
}

// ReLU activation function.
type ReLU struct{}

// Activate computes max(0, x)
func (r ReLU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

// Derivative returns 1 if x > 0, else 0
func (r ReLU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

// Sigmoid activation function.
type Sigmoid struct{}

// Logistic computes 1 / (1 + e^-x) without overflowing for large |x|.
func Logistic(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// Activate computes sigmoid(x)
func (s Sigmoid) Activate(x float64) float64 {
	return Logistic(x)
}

// Derivative computes sigmoid(x) * (1 - sigmoid(x))
func (s Sigmoid) Derivative(x float64) float64 {
	sigma := Logistic(x)
	return sigma * (1 - sigma)
}

// LeakyReLU activation function to prevent dying neurons.
// PyTorch reference: torch.nn.LeakyReLU(negative_slope=0.01)
type LeakyReLU struct {
	Alpha float64 // Slope for x <= 0
}

// NewLeakyReLU creates a LeakyReLU with the given alpha value.
func NewLeakyReLU(alpha float64) *LeakyReLU {
	return &LeakyReLU{Alpha: alpha}
}

// Activate computes x if x > 0, else alpha*x
func (l *LeakyReLU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return l.Alpha * x
}

// Derivative returns 1 if x > 0, else alpha
func (l *LeakyReLU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return l.Alpha
}

// Tanh activation function.
type Tanh struct{}

// Activate computes tanh(x)
func (t Tanh) Activate(x float64) float64 {
	return math.Tanh(x)
}

// Derivative computes 1 - tanh(x)^2
func (t Tanh) Derivative(x float64) float64 {
	tanhX := math.Tanh(x)
	return 1 - tanhX*tanhX
}

// Linear is the identity activation.
type Linear struct{}

// Activate returns x
func (l Linear) Activate(x float64) float64 { return x }

// Derivative returns 1
func (l Linear) Derivative(x float64) float64 { return 1 }

// DefaultLeakyAlpha is the slope used when a LeakyReLU is restored by name.
const DefaultLeakyAlpha = 0.01

// NameOf returns the registry name of a scalar activation, or "" if unknown.
func NameOf(act Activation) string {
	switch act.(type) {
	case ReLU, *ReLU:
		return "ReLU"
	case Sigmoid, *Sigmoid:
		return "Sigmoid"
	case Tanh, *Tanh:
		return "Tanh"
	case *LeakyReLU:
		return "LeakyReLU"
	case Linear, *Linear:
		return "Linear"
	default:
		return ""
	}
}

// ByName returns the scalar activation registered under name.
func ByName(name string) (Activation, bool) {
	switch name {
	case "ReLU", "relu":
		return ReLU{}, true
	case "Sigmoid", "sigmoid":
		return Sigmoid{}, true
	case "Tanh", "tanh":
		return Tanh{}, true
	case "LeakyReLU", "leaky_relu":
		return NewLeakyReLU(DefaultLeakyAlpha), true
	case "Linear", "linear", "identity":
		return Linear{}, true
	default:
		return nil, false
	}
}
