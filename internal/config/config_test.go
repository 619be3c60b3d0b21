package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/FlavioCFOliveira/GoSAE/internal/activations"
	"github.com/FlavioCFOliveira/GoSAE/internal/sparsity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sae.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
model:
  dim_features: 16
  expansion_factor: 2
  lambda: 0.5
sparsity:
  kind: kl
  rho: 0.1
data:
  features_csv: embeddings.csv
  label_column: 0
  has_header: true
  batch_size: 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Model.DimFeatures)
	assert.Equal(t, 2, cfg.Model.ExpansionFactor)
	assert.Equal(t, 0.5, cfg.Model.Lambda)
	assert.Equal(t, int64(42), cfg.Model.Seed, "seed keeps its default")
	assert.Equal(t, "ReLU", cfg.Model.Activation)
	assert.Equal(t, "kl", cfg.Sparsity.Kind)
	assert.Equal(t, 0.1, cfg.Sparsity.Rho)
	assert.Equal(t, "embeddings.csv", cfg.Data.FeaturesCSV)
	assert.Equal(t, 0, cfg.Data.LabelColumn)
	assert.True(t, cfg.Data.HasHeader)
	assert.Equal(t, 8, cfg.Data.BatchSize)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "model: [1, 2"))
	assert.Error(t, err, "malformed YAML")

	_, err = Load(writeConfig(t, "model:\n  dim_features: -3\n"))
	assert.Error(t, err, "invalid values")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero dim", func(c *Config) { c.Model.DimFeatures = 0 }},
		{"zero expansion", func(c *Config) { c.Model.ExpansionFactor = 0 }},
		{"negative lambda", func(c *Config) { c.Model.Lambda = -1 }},
		{"unknown activation", func(c *Config) { c.Model.Activation = "Swish" }},
		{"unknown loss", func(c *Config) { c.Model.ReconstructionLoss = "CrossEntropy" }},
		{"unknown sparsity", func(c *Config) { c.Sparsity.Kind = "l2" }},
		{"kl rho", func(c *Config) { c.Sparsity.Kind, c.Sparsity.Rho = "kl", 1 }},
		{"l0 epsilon", func(c *Config) { c.Sparsity.Kind, c.Sparsity.Epsilon = "l0", 0 }},
		{"JumpReLU without l0", func(c *Config) { c.Model.Activation, c.Sparsity.Kind = "JumpReLU", "kl" }},
		{"batch size", func(c *Config) { c.Data.BatchSize = 0 }},
		{"image size", func(c *Config) { c.Data.Veri776Dir, c.Data.ImageSize = "images", 0 }},
		{"label column", func(c *Config) { c.Data.LabelColumn = -2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
			_, err := cfg.Build()
			assert.Error(t, err)
		})
	}
}

func TestBuild(t *testing.T) {
	tests := []struct {
		kind       string
		activation string
		want       string
	}{
		{sparsity.KindL1, "ReLU", "ReLU"},
		{sparsity.KindKL, "Sigmoid", "Sigmoid"},
		{sparsity.KindL0, "ReLU", "ReLU"},
		{sparsity.KindL0, "Tanh", "Tanh"},
		{sparsity.KindL0, "JumpReLU", "JumpReLU"},
		{"L0", "jumprelu", "JumpReLU"},
		{"KL", "tanh", "Tanh"},
	}
	for _, tt := range tests {
		t.Run(tt.kind+"/"+tt.activation, func(t *testing.T) {
			cfg := Default()
			cfg.Model.DimFeatures = 6
			cfg.Model.ExpansionFactor = 3
			cfg.Model.Activation = tt.activation
			cfg.Model.ReconstructionLoss = "Huber"
			cfg.Sparsity.Kind = tt.kind

			model, err := cfg.Build()
			require.NoError(t, err)
			assert.Equal(t, 18, model.HiddenDim())
			assert.Equal(t, tt.want, model.Activation().Name())
			assert.Equal(t, cfg.Model.Lambda, model.Lambda())
		})
	}
}

func TestBuildL0SharesThreshold(t *testing.T) {
	cfg := Default()
	cfg.Model.DimFeatures = 4
	cfg.Model.Activation = "JumpReLU"
	cfg.Sparsity.Kind = sparsity.KindL0
	cfg.Sparsity.Epsilon = 0.2

	model, err := cfg.Build()
	require.NoError(t, err)

	gate := model.Activation().(*activations.JumpReLU)
	l0 := model.Penalty().(*sparsity.L0)
	assert.Same(t, gate.Theta(), l0.Theta())
	assert.Equal(t, 0.2, l0.Epsilon())
}

func TestBuildL0HonoursActivation(t *testing.T) {
	cfg := Default()
	cfg.Model.DimFeatures = 4
	cfg.Model.Activation = "Sigmoid"
	cfg.Sparsity.Kind = sparsity.KindL0
	cfg.Sparsity.Epsilon = 0.3

	model, err := cfg.Build()
	require.NoError(t, err)

	assert.Equal(t, "Sigmoid", model.Activation().Name())
	l0 := model.Penalty().(*sparsity.L0)
	assert.Same(t, model.Threshold(), l0.Theta())
	assert.Equal(t, 0.3, l0.Epsilon())
	assert.Contains(t, model.Parameters(), model.Threshold())
}
