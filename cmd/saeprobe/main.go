// Command saeprobe evaluates a sparse autoencoder over a feature set and
// reports its losses and how sparse its hidden layer is.
//
// Usage:
//
//	saeprobe -features embeddings.csv -label-col 0 -sparsity kl -lambda 1e-3
//	saeprobe -veri-dir ./image_train -image-size 32 -sparsity l0 -activation JumpReLU -export sae.gguf
//
// Features come either from a CSV of precomputed embeddings or, as a
// stand-in for an embedding extractor, from the raw pixels of Veri-776 images.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/FlavioCFOliveira/GoSAE/internal/config"
	"github.com/FlavioCFOliveira/GoSAE/internal/dataset"
	"github.com/FlavioCFOliveira/GoSAE/internal/gguf"
	"github.com/FlavioCFOliveira/GoSAE/internal/sae"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagConfig    = flag.String("config", "", "YAML configuration file")
	flagFeatures  = flag.String("features", "", "CSV file of feature vectors")
	flagLabelCol  = flag.Int("label-col", -1, "identity column of the features CSV, -1 for none")
	flagHeader    = flag.Bool("header", false, "the features CSV starts with a header line")
	flagVeriDir   = flag.String("veri-dir", "", "directory of Veri-776 images, used when -features is empty")
	flagImageSize = flag.Int("image-size", 32, "side of the square Veri-776 images are resized to")
	flagBatch     = flag.Int("batch", 64, "batch size")
	flagNormalize = flag.Bool("normalize", false, "min-max normalize features per column")
	flagWeights   = flag.String("weights", "", "load a saved autoencoder instead of building one")
	flagSave      = flag.String("save", "", "save the autoencoder to this file")
	flagExport    = flag.String("export", "", "export the autoencoder to this GGUF file")
	flagF16       = flag.Bool("f16", false, "store GGUF tensors as F16")
	flagSeed      = flag.Int64("seed", 42, "initialisation seed")
	flagSparsity  = flag.String("sparsity", "l1", "sparsity penalty: l1, kl or l0")
	flagAct       = flag.String("activation", "ReLU", "hidden nonlinearity, JumpReLU requires -sparsity l0")
	flagLambda    = flag.Float64("lambda", 1e-3, "sparsity weight")
	flagExp       = flag.Int("exp", 4, "expansion factor of the hidden layer")
	flagRho       = flag.Float64("rho", 0.05, "target activation rate of the KL penalty")
	flagEpsilon   = flag.Float64("epsilon", 0.1, "temperature of the L0 penalty")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	cfg, err := loadConfig()
	if err != nil {
		klog.Exitf("saeprobe: %+v", err)
	}

	fs, err := loadFeatures(cfg.Data)
	if err != nil {
		klog.Exitf("saeprobe: %+v", err)
	}
	if cfg.Data.Normalize {
		fs.Normalize()
	}
	klog.Infof("features: %s samples of dimension %d", humanize.Comma(int64(fs.Len())), fs.Dim())

	model, err := buildModel(cfg, fs.Dim())
	if err != nil {
		klog.Exitf("saeprobe: %+v", err)
	}

	stats := evaluate(model, fs, cfg.Data.BatchSize)
	report(os.Stdout, model, stats)

	if *flagSave != "" {
		if err := model.Save(*flagSave); err != nil {
			klog.Exitf("saeprobe: %+v", err)
		}
		klog.Infof("saved autoencoder to %s (%s)", *flagSave, fileSize(*flagSave))
	}
	if *flagExport != "" {
		ggmlType := gguf.GGMLTypeF32
		if *flagF16 {
			ggmlType = gguf.GGMLTypeF16
		}
		if err := gguf.SaveSAE(*flagExport, model, ggmlType); err != nil {
			klog.Exitf("saeprobe: %+v", err)
		}
		klog.Infof("exported %s GGUF to %s (%s)", ggmlType, *flagExport, fileSize(*flagExport))
	}
}

// loadConfig reads -config, if any, and applies the flags given explicitly on
// the command line on top of it.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *flagConfig != "" {
		var err error
		if cfg, err = config.Load(*flagConfig); err != nil {
			return cfg, err
		}
	} else {
		cfg.Model.Seed = *flagSeed
		cfg.Model.Lambda = *flagLambda
		cfg.Model.ExpansionFactor = *flagExp
		cfg.Model.Activation = *flagAct
		cfg.Sparsity.Kind = *flagSparsity
		cfg.Sparsity.Rho = *flagRho
		cfg.Sparsity.Epsilon = *flagEpsilon
		cfg.Data.LabelColumn = *flagLabelCol
		cfg.Data.ImageSize = *flagImageSize
		cfg.Data.BatchSize = *flagBatch
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "features":
			cfg.Data.FeaturesCSV = *flagFeatures
		case "label-col":
			cfg.Data.LabelColumn = *flagLabelCol
		case "header":
			cfg.Data.HasHeader = *flagHeader
		case "veri-dir":
			cfg.Data.Veri776Dir = *flagVeriDir
		case "image-size":
			cfg.Data.ImageSize = *flagImageSize
		case "batch":
			cfg.Data.BatchSize = *flagBatch
		case "normalize":
			cfg.Data.Normalize = *flagNormalize
		case "seed":
			cfg.Model.Seed = *flagSeed
		case "activation":
			cfg.Model.Activation = *flagAct
		case "sparsity":
			cfg.Sparsity.Kind = *flagSparsity
		case "lambda":
			cfg.Model.Lambda = *flagLambda
		case "exp":
			cfg.Model.ExpansionFactor = *flagExp
		case "rho":
			cfg.Sparsity.Rho = *flagRho
		case "epsilon":
			cfg.Sparsity.Epsilon = *flagEpsilon
		}
	})
	return cfg, nil
}

func loadFeatures(data config.Data) (*dataset.FeatureSet, error) {
	switch {
	case data.FeaturesCSV != "":
		return dataset.LoadFeaturesCSV(data.FeaturesCSV, data.LabelColumn, data.HasHeader)

	case data.Veri776Dir != "":
		ds, err := dataset.ScanVeri776(data.Veri776Dir)
		if err != nil {
			return nil, err
		}
		bar := progressbar.NewOptions(ds.Len(),
			progressbar.OptionSetDescription("decoding images"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Close()
		return ds.PixelFeaturesWithProgress(data.ImageSize, func() { _ = bar.Add(1) })

	default:
		return nil, errors.New("no features: set -features, -veri-dir or data.features_csv/data.veri776_dir")
	}
}

// buildModel loads -weights or builds a fresh autoencoder sized to the features.
func buildModel(cfg config.Config, dim int) (*sae.SparseAutoencoder, error) {
	if *flagWeights != "" {
		model, err := sae.Load(*flagWeights)
		if err != nil {
			return nil, err
		}
		if model.DimFeatures() != dim {
			return nil, errors.Errorf("%s expects %d features, data has %d", *flagWeights, model.DimFeatures(), dim)
		}
		return model, nil
	}

	if cfg.Model.DimFeatures != dim {
		if *flagConfig != "" {
			klog.Warningf("model.dim_features is %d but features have dimension %d, using %d",
				cfg.Model.DimFeatures, dim, dim)
		}
		cfg.Model.DimFeatures = dim
	}
	return cfg.Build()
}

func evaluate(model *sae.SparseAutoencoder, fs *dataset.FeatureSet, batchSize int) *sae.Stats {
	stats := sae.NewStats(model.HiddenDim())
	batches := fs.Batches(batchSize)

	bar := progressbar.NewOptions(len(batches),
		progressbar.OptionSetDescription("forward"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
	defer bar.Close()

	for _, b := range batches {
		stats.Add(model.Forward(b.Features))
		_ = bar.Add(1)
	}
	return stats
}

func report(w io.Writer, model *sae.SparseAutoencoder, stats *sae.Stats) {
	cfg := model.Config()
	mean := stats.MeanLoss()

	fmt.Fprintf(w, "autoencoder      %d -> %d -> %d (%s parameters)\n",
		cfg.DimFeatures, cfg.HiddenDim(), cfg.DimFeatures, humanize.Comma(int64(model.NumParams())))
	fmt.Fprintf(w, "activation       %s\n", model.Activation().Name())
	fmt.Fprintf(w, "sparsity         %s (lambda=%g)\n", model.Penalty().Kind(), cfg.Lambda)
	fmt.Fprintf(w, "samples          %s in %d batches\n", humanize.Comma(int64(stats.Samples())), stats.Batches())
	fmt.Fprintf(w, "total loss       %.6f\n", mean.Total)
	fmt.Fprintf(w, "reconstruction   %.6f\n", mean.Reconstruction)
	fmt.Fprintf(w, "sparsity loss    %.6f\n", mean.Sparsity)
	fmt.Fprintf(w, "active fraction  %.4f (%.2f neurons per sample)\n", stats.ActiveFraction(), stats.MeanActive())
	fmt.Fprintf(w, "dead neurons     %d of %d\n", stats.DeadNeurons(), cfg.HiddenDim())
}

func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "unknown size"
	}
	return humanize.Bytes(uint64(info.Size()))
}
