// Package loss provides reconstruction-error functions over batched matrices.
//
// Every loss reduces with a mean over all elements, like torch's
// reduction='mean', so values do not depend on batch size.
package loss

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Loss is a reconstruction loss with derivative.
type Loss interface {
	// Forward computes the loss between predicted and true values.
	Forward(yPred, yTrue mat.Matrix) float64

	// Backward computes the gradient of the loss w.r.t. prediction.
	Backward(yPred, yTrue mat.Matrix) *mat.Dense
}

// checkShapes panics when yPred and yTrue differ in shape and returns the element count.
func checkShapes(name string, yPred, yTrue mat.Matrix) (rows, cols int) {
	rows, cols = yPred.Dims()
	tr, tc := yTrue.Dims()
	if rows != tr || cols != tc {
		panic(fmt.Sprintf("%s: prediction (%d,%d) and target (%d,%d) must have same shape", name, rows, cols, tr, tc))
	}
	return rows, cols
}

// MSE (Mean Squared Error) loss.
type MSE struct{}

// Forward computes mean squared error: (1/n) * sum((y_pred - y_true)^2)
func (m MSE) Forward(yPred, yTrue mat.Matrix) float64 {
	rows, cols := checkShapes("MSE", yPred, yTrue)

	var sum float64
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			diff := yPred.At(i, j) - yTrue.At(i, j)
			sum += diff * diff
		}
	}
	return sum / float64(rows*cols)
}

// Backward computes gradient: dL/dy_pred = (2/n) * (y_pred - y_true)
func (m MSE) Backward(yPred, yTrue mat.Matrix) *mat.Dense {
	rows, cols := checkShapes("MSE", yPred, yTrue)

	grad := mat.NewDense(rows, cols, nil)
	grad.Sub(yPred, yTrue)
	grad.Scale(2/float64(rows*cols), grad)
	return grad
}

// L1Loss (Mean Absolute Error) loss.
type L1Loss struct{}

// Forward computes mean absolute error: (1/n) * sum(|y_pred - y_true|)
func (l L1Loss) Forward(yPred, yTrue mat.Matrix) float64 {
	rows, cols := checkShapes("L1Loss", yPred, yTrue)

	var sum float64
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			sum += math.Abs(yPred.At(i, j) - yTrue.At(i, j))
		}
	}
	return sum / float64(rows*cols)
}

// Backward computes gradient: sign(y_pred - y_true) / n, with sign(0) = 0.
func (l L1Loss) Backward(yPred, yTrue mat.Matrix) *mat.Dense {
	rows, cols := checkShapes("L1Loss", yPred, yTrue)

	n := float64(rows * cols)
	grad := mat.NewDense(rows, cols, nil)
	grad.Apply(func(i, j int, _ float64) float64 {
		return sign(yPred.At(i, j)-yTrue.At(i, j)) / n
	}, grad)
	return grad
}

// Huber loss for robust reconstruction.
type Huber struct {
	Delta float64 // Threshold for quadratic/linear transition
}

// NewHuber creates a Huber loss with the given delta.
func NewHuber(delta float64) *Huber {
	return &Huber{Delta: delta}
}

// Forward computes Huber loss.
func (h Huber) Forward(yPred, yTrue mat.Matrix) float64 {
	rows, cols := checkShapes("Huber", yPred, yTrue)

	var sum float64
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			diff := math.Abs(yPred.At(i, j) - yTrue.At(i, j))
			if diff <= h.Delta {
				sum += 0.5 * diff * diff
			} else {
				sum += h.Delta * (diff - 0.5*h.Delta)
			}
		}
	}
	return sum / float64(rows*cols)
}

// Backward computes gradient for Huber loss.
func (h Huber) Backward(yPred, yTrue mat.Matrix) *mat.Dense {
	rows, cols := checkShapes("Huber", yPred, yTrue)

	n := float64(rows * cols)
	grad := mat.NewDense(rows, cols, nil)
	grad.Apply(func(i, j int, _ float64) float64 {
		diff := yPred.At(i, j) - yTrue.At(i, j)
		if math.Abs(diff) <= h.Delta {
			return diff / n
		}
		return h.Delta * math.Copysign(1, diff) / n
	}, grad)
	return grad
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

// DefaultHuberDelta is the delta used when a Huber loss is restored by name.
const DefaultHuberDelta = 1.0

// NameOf returns the registry name of a loss, or "" if unknown.
func NameOf(l Loss) string {
	switch l.(type) {
	case MSE, *MSE:
		return "MSE"
	case L1Loss, *L1Loss:
		return "L1"
	case Huber, *Huber:
		return "Huber"
	default:
		return ""
	}
}

// ByName returns the loss registered under name.
func ByName(name string) (Loss, bool) {
	switch name {
	case "MSE", "mse":
		return MSE{}, true
	case "L1", "l1", "mae":
		return L1Loss{}, true
	case "Huber", "huber":
		return NewHuber(DefaultHuberDelta), true
	default:
		return nil, false
	}
}
