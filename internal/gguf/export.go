package gguf

import (
	"io"
	"os"
	"strings"

	"github.com/FlavioCFOliveira/GoSAE/internal/layer"
	"github.com/FlavioCFOliveira/GoSAE/internal/loss"
	"github.com/FlavioCFOliveira/GoSAE/internal/sae"
	"github.com/FlavioCFOliveira/GoSAE/internal/sparsity"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Architecture is the value of general.architecture for exported autoencoders.
const Architecture = "sae"

// Metadata keys written by ExportSAE.
const (
	KeyArchitecture    = "general.architecture"
	KeyAlignment       = "general.alignment"
	KeyDimFeatures     = "sae.dim_features"
	KeyExpansionFactor = "sae.expansion_factor"
	KeyHiddenDim       = "sae.hidden_dim"
	KeyLambda          = "sae.lambda"
	KeySparsity        = "sae.sparsity"
	KeyActivation      = "sae.activation"
	KeyReconstruction  = "sae.reconstruction"
	KeyKLRho           = "sae.kl.rho"
	KeyL0Epsilon       = "sae.l0.epsilon"
)

type kv struct {
	key   string
	typ   ValueType
	value any
}

func metadata(model *sae.SparseAutoencoder) []kv {
	cfg := model.Config()
	kvs := []kv{
		{KeyArchitecture, TypeString, Architecture},
		{KeyAlignment, TypeUint32, uint32(DefaultAlignment)},
		{KeyDimFeatures, TypeUint32, uint32(cfg.DimFeatures)},
		{KeyExpansionFactor, TypeUint32, uint32(cfg.ExpansionFactor)},
		{KeyHiddenDim, TypeUint32, uint32(cfg.HiddenDim())},
		{KeyLambda, TypeFloat64, cfg.Lambda},
		{KeySparsity, TypeString, model.Penalty().Kind()},
		{KeyActivation, TypeString, model.Activation().Name()},
		{KeyReconstruction, TypeString, loss.NameOf(model.ReconstructionLoss())},
	}
	switch p := model.Penalty().(type) {
	case *sparsity.KL:
		kvs = append(kvs, kv{KeyKLRho, TypeFloat64, p.Rho()})
	case *sparsity.L0:
		kvs = append(kvs, kv{KeyL0Epsilon, TypeFloat64, p.Epsilon()})
	}
	return kvs
}

// shapeOf returns the GGUF shape of a parameter: weights keep both
// dimensions, biases and thresholds are stored as vectors.
func shapeOf(p *layer.Parameter) []uint64 {
	rows, cols := p.Dims()
	if strings.HasSuffix(p.Name, ".weight") {
		return []uint64{uint64(rows), uint64(cols)}
	}
	return []uint64{uint64(rows * cols)}
}

// ExportSAE writes the autoencoder's hyper-parameters as metadata and every
// parameter as a tensor named after it.
func ExportSAE(w io.Writer, model *sae.SparseAutoencoder, ggmlType GGMLType) error {
	if ggmlType.ElementSize() == 0 {
		return errors.Errorf("unsupported tensor type: %d", uint32(ggmlType))
	}

	kvs := metadata(model)
	params := model.Parameters()

	gw := NewWriter(w)
	if err := gw.WriteHeader(uint64(len(kvs)), uint64(len(params))); err != nil {
		return errors.Wrap(err, "failed to write header")
	}
	for _, e := range kvs {
		if err := gw.WriteKV(e.key, e.typ, e.value); err != nil {
			return errors.Wrapf(err, "failed to write %s", e.key)
		}
	}

	var offset uint64
	for _, p := range params {
		if err := gw.WriteTensorInfo(p.Name, shapeOf(p), ggmlType, offset); err != nil {
			return errors.Wrapf(err, "failed to write tensor info %s", p.Name)
		}
		offset += alignedSize(uint64(p.Len()), ggmlType, gw.alignment)
	}

	if err := gw.Pad(); err != nil {
		return errors.Wrap(err, "failed to pad tensor info")
	}
	for _, p := range params {
		if err := gw.WriteTensorData(layer.Flatten([]*layer.Parameter{p}), ggmlType); err != nil {
			return errors.Wrapf(err, "failed to write tensor %s", p.Name)
		}
		if err := gw.Pad(); err != nil {
			return errors.Wrapf(err, "failed to pad tensor %s", p.Name)
		}
	}
	return nil
}

// SaveSAE exports the autoencoder to a GGUF file.
func SaveSAE(path string, model *sae.SparseAutoencoder, ggmlType GGMLType) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	if err := ExportSAE(file, model, ggmlType); err != nil {
		file.Close()
		return errors.WithMessagef(err, "failed to export %s", path)
	}
	if err := file.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", path)
	}
	klog.V(1).Infof("gguf: wrote %d tensors (%s) to %s", len(model.Parameters()), ggmlType, path)
	return nil
}
