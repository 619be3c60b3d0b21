// Package gosae re-exports the sparse autoencoder and its building blocks for
// use outside this module.
package gosae

import (
	"github.com/FlavioCFOliveira/GoSAE/internal/activations"
	"github.com/FlavioCFOliveira/GoSAE/internal/dataset"
	"github.com/FlavioCFOliveira/GoSAE/internal/gguf"
	"github.com/FlavioCFOliveira/GoSAE/internal/layer"
	"github.com/FlavioCFOliveira/GoSAE/internal/loss"
	"github.com/FlavioCFOliveira/GoSAE/internal/sae"
	"github.com/FlavioCFOliveira/GoSAE/internal/sparsity"
)

// Re-export common types for easier access
type (
	SparseAutoencoder = sae.SparseAutoencoder
	Config            = sae.Config
	Option            = sae.Option
	Output            = sae.Output
	LossAggregate     = sae.Loss
	Stats             = sae.Stats
	Parameter         = layer.Parameter
	Penalty           = sparsity.Penalty
	PenaltyFactory    = sparsity.Factory
	Loss              = loss.Loss
	Hidden            = activations.Hidden
	FeatureSet        = dataset.FeatureSet
)

// New builds a sparse autoencoder.
func New(cfg Config, opts ...Option) (*SparseAutoencoder, error) {
	return sae.New(cfg, opts...)
}

// Options
var (
	WithActivation         = sae.WithActivation
	WithSparsity           = sae.WithSparsity
	WithKL                 = sae.WithKL
	WithJumpReLU           = sae.WithJumpReLU
	WithL0                 = sae.WithL0
	WithReconstructionLoss = sae.WithReconstructionLoss
)

// Hidden nonlinearities
var (
	ReLU    = activations.Elementwise(activations.ReLU{})
	Sigmoid = activations.Elementwise(activations.Sigmoid{})
	Tanh    = activations.Elementwise(activations.Tanh{})
)

func LeakyReLU(alpha float64) Hidden {
	return activations.Elementwise(activations.NewLeakyReLU(alpha))
}

// Sparsity penalties
func L1() PenaltyFactory {
	return sparsity.L1Factory()
}

func KL(rho float64) PenaltyFactory {
	return sparsity.KLFactory(rho)
}

// Losses
var (
	MSE = loss.MSE{}
	MAE = loss.L1Loss{}
)

func Huber(delta float64) Loss {
	return loss.NewHuber(delta)
}

// Statistics
func NewStats(hiddenDim int) *Stats {
	return sae.NewStats(hiddenDim)
}

// Model Persistence
func Load(filename string) (*SparseAutoencoder, error) {
	return sae.Load(filename)
}

// ExportGGUF writes the autoencoder to a GGUF file, in F16 if half is set.
func ExportGGUF(filename string, model *SparseAutoencoder, half bool) error {
	t := gguf.GGMLTypeF32
	if half {
		t = gguf.GGMLTypeF16
	}
	return gguf.SaveSAE(filename, model, t)
}

// Datasets
func LoadFeaturesCSV(filename string, labelCol int, hasHeader bool) (*FeatureSet, error) {
	return dataset.LoadFeaturesCSV(filename, labelCol, hasHeader)
}
