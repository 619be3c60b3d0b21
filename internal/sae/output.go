package sae

import "gonum.org/v1/gonum/mat"

// Loss bundles the scalar losses of one forward pass.
type Loss struct {
	// Total is Reconstruction + λ·Sparsity.
	Total float64
	// Reconstruction is the reconstruction error.
	Reconstruction float64
	// Sparsity is the unweighted sparsity penalty.
	Sparsity float64
}

// Output is the result of a forward pass.
type Output struct {
	// PreActivation is the affine encoder output, (batch, d*k).
	PreActivation *mat.Dense
	// Activation is the hidden activation after the nonlinearity, (batch, d*k).
	Activation *mat.Dense
	// Reconstruction is the decoder output, (batch, d).
	Reconstruction *mat.Dense
	// Loss holds the losses of the batch.
	Loss Loss
}
