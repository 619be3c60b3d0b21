// Package config reads the YAML configuration of the saeprobe tool and builds
// the autoencoder it describes.
package config

import (
	"os"
	"strings"

	"github.com/FlavioCFOliveira/GoSAE/internal/activations"
	"github.com/FlavioCFOliveira/GoSAE/internal/loss"
	"github.com/FlavioCFOliveira/GoSAE/internal/sae"
	"github.com/FlavioCFOliveira/GoSAE/internal/sparsity"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Model configures the autoencoder.
type Model struct {
	DimFeatures     int     `yaml:"dim_features"`
	ExpansionFactor int     `yaml:"expansion_factor"`
	Lambda          float64 `yaml:"lambda"`
	Seed            int64   `yaml:"seed"`
	// Activation names a scalar activation, or "JumpReLU" for the
	// thresholding gate, which requires the l0 sparsity kind.
	Activation         string `yaml:"activation"`
	ReconstructionLoss string `yaml:"reconstruction_loss"`
}

// Sparsity selects the sparsity penalty.
type Sparsity struct {
	// Kind is one of "l1", "l0" or "kl".
	Kind    string  `yaml:"kind"`
	Rho     float64 `yaml:"rho"`
	Epsilon float64 `yaml:"epsilon"`
}

// Data describes where features come from.
type Data struct {
	FeaturesCSV string `yaml:"features_csv"`
	LabelColumn int    `yaml:"label_column"`
	HasHeader   bool   `yaml:"has_header"`
	Veri776Dir  string `yaml:"veri776_dir"`
	ImageSize   int    `yaml:"image_size"`
	BatchSize   int    `yaml:"batch_size"`
	Normalize   bool   `yaml:"normalize"`
}

// Config is the root of the configuration file.
type Config struct {
	Model    Model    `yaml:"model"`
	Sparsity Sparsity `yaml:"sparsity"`
	Data     Data     `yaml:"data"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Model: Model{
			DimFeatures:        768,
			ExpansionFactor:    4,
			Lambda:             1e-3,
			Seed:               42,
			Activation:         "ReLU",
			ReconstructionLoss: "MSE",
		},
		Sparsity: Sparsity{
			Kind:    sparsity.KindL1,
			Rho:     0.05,
			Epsilon: sparsity.DefaultL0Epsilon,
		},
		Data: Data{
			LabelColumn: -1,
			ImageSize:   32,
			BatchSize:   64,
		},
	}
}

// Load reads a YAML file. Fields missing from the file keep their Default value.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "failed to read config %s", path)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse config %s", path)
	}
	return cfg, errors.WithMessagef(cfg.Validate(), "invalid config %s", path)
}

// Validate checks every field without building anything.
func (c Config) Validate() error {
	if err := c.saeConfig().Validate(); err != nil {
		return err
	}
	if c.jumpReLU() {
		if !strings.EqualFold(c.Sparsity.Kind, sparsity.KindL0) {
			return errors.Errorf("activation JumpReLU requires sparsity kind l0, got %q", c.Sparsity.Kind)
		}
	} else if _, ok := activations.ByName(c.Model.Activation); !ok {
		return errors.Errorf("unknown activation %q", c.Model.Activation)
	}
	if _, ok := loss.ByName(c.Model.ReconstructionLoss); !ok {
		return errors.Errorf("unknown reconstruction loss %q", c.Model.ReconstructionLoss)
	}

	switch strings.ToLower(c.Sparsity.Kind) {
	case sparsity.KindL1:
	case sparsity.KindKL:
		if !(c.Sparsity.Rho > 0 && c.Sparsity.Rho < 1) {
			return errors.Errorf("sparsity.rho must be in (0, 1), got %v", c.Sparsity.Rho)
		}
	case sparsity.KindL0:
		if !(c.Sparsity.Epsilon > 0) {
			return errors.Errorf("sparsity.epsilon must be positive, got %v", c.Sparsity.Epsilon)
		}
	default:
		return errors.Errorf("unknown sparsity kind %q, want l1, l0 or kl", c.Sparsity.Kind)
	}

	if c.Data.BatchSize <= 0 {
		return errors.Errorf("data.batch_size must be positive, got %d", c.Data.BatchSize)
	}
	if c.Data.Veri776Dir != "" && c.Data.ImageSize <= 0 {
		return errors.Errorf("data.image_size must be positive, got %d", c.Data.ImageSize)
	}
	if c.Data.LabelColumn < -1 {
		return errors.Errorf("data.label_column must be -1 or a column index, got %d", c.Data.LabelColumn)
	}
	return nil
}

func (c Config) saeConfig() sae.Config {
	return sae.Config{
		DimFeatures:     c.Model.DimFeatures,
		ExpansionFactor: c.Model.ExpansionFactor,
		Lambda:          c.Model.Lambda,
		Seed:            c.Model.Seed,
	}
}

func (c Config) jumpReLU() bool {
	return strings.EqualFold(c.Model.Activation, "JumpReLU")
}

// Options translates the configuration into autoencoder options.
func (c Config) Options() ([]sae.Option, error) {
	recon, ok := loss.ByName(c.Model.ReconstructionLoss)
	if !ok {
		return nil, errors.Errorf("unknown reconstruction loss %q", c.Model.ReconstructionLoss)
	}
	opts := []sae.Option{sae.WithReconstructionLoss(recon)}

	kind := strings.ToLower(c.Sparsity.Kind)
	if c.jumpReLU() {
		if kind != sparsity.KindL0 {
			return nil, errors.Errorf("activation JumpReLU requires sparsity kind l0, got %q", c.Sparsity.Kind)
		}
		return append(opts, sae.WithJumpReLU(c.Sparsity.Epsilon)), nil
	}

	act, ok := activations.ByName(c.Model.Activation)
	if !ok {
		return nil, errors.Errorf("unknown activation %q", c.Model.Activation)
	}
	opts = append(opts, sae.WithActivation(activations.Elementwise(act)))

	switch kind {
	case sparsity.KindKL:
		opts = append(opts, sae.WithKL(c.Sparsity.Rho))
	case sparsity.KindL1:
		opts = append(opts, sae.WithSparsity(sparsity.L1Factory()))
	case sparsity.KindL0:
		opts = append(opts, sae.WithL0(c.Sparsity.Epsilon))
	default:
		return nil, errors.Errorf("unknown sparsity kind %q", c.Sparsity.Kind)
	}
	return opts, nil
}

// Build validates the configuration and creates the autoencoder it describes.
func (c Config) Build() (*sae.SparseAutoencoder, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	opts, err := c.Options()
	if err != nil {
		return nil, err
	}
	return sae.New(c.saeConfig(), opts...)
}
