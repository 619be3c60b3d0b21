// Package sae implements a sparse autoencoder over fixed-size feature vectors.
//
// The encoder projects a (batch, d) feature matrix into a hidden space of
// width d*k, applies a nonlinearity, and the decoder maps it back to (batch, d).
// Every forward pass also returns the composite loss
//
//	total = reconstruction + λ·sparsity
//
// where the sparsity term comes from an interchangeable sparsity.Penalty.
package sae

import (
	"math"
	"math/rand"

	"github.com/FlavioCFOliveira/GoSAE/internal/activations"
	"github.com/FlavioCFOliveira/GoSAE/internal/layer"
	"github.com/FlavioCFOliveira/GoSAE/internal/loss"
	"github.com/FlavioCFOliveira/GoSAE/internal/sparsity"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Config holds the construction parameters of a SparseAutoencoder.
type Config struct {
	// DimFeatures is the input dimensionality d.
	DimFeatures int
	// ExpansionFactor k sets the hidden width to d*k.
	ExpansionFactor int
	// Lambda weights the sparsity penalty in the total loss.
	Lambda float64
	// Seed drives parameter initialisation.
	Seed int64
}

// HiddenDim returns d*k.
func (c Config) HiddenDim() int {
	return c.DimFeatures * c.ExpansionFactor
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.DimFeatures <= 0 {
		return errors.Errorf("sae: dim_features must be positive, got %d", c.DimFeatures)
	}
	if c.ExpansionFactor <= 0 {
		return errors.Errorf("sae: expansion_factor must be positive, got %d", c.ExpansionFactor)
	}
	if !(c.Lambda >= 0) || math.IsInf(c.Lambda, 1) {
		return errors.Errorf("sae: lambda must be a finite non-negative number, got %v", c.Lambda)
	}
	return nil
}

// Option customises the submodules of a SparseAutoencoder.
type Option func(*options)

type options struct {
	activation activations.Hidden
	penalty    sparsity.Factory
	recon      loss.Loss
	jumpReLU   bool
	l0         bool
	l0Epsilon  float64
}

// WithActivation sets the hidden nonlinearity. Default: elementwise ReLU.
func WithActivation(act activations.Hidden) Option {
	return func(o *options) { o.activation = act }
}

// WithSparsity sets the factory of the sparsity penalty. Default: L1.
func WithSparsity(f sparsity.Factory) Option {
	return func(o *options) { o.penalty = f }
}

// WithKL uses a KL-divergence penalty with target rate rho.
func WithKL(rho float64) Option {
	return WithSparsity(sparsity.KLFactory(rho))
}

// WithReconstructionLoss sets the reconstruction error. Default: MSE.
func WithReconstructionLoss(l loss.Loss) Option {
	return func(o *options) { o.recon = l }
}

// WithJumpReLU makes the autoencoder own a per-neuron threshold θ, gate the
// hidden layer with JumpReLU(θ) and penalise it with the L0 relaxation of
// temperature epsilon over the same θ.
func WithJumpReLU(epsilon float64) Option {
	return func(o *options) {
		o.jumpReLU = true
		o.l0Epsilon = epsilon
	}
}

// WithL0 makes the autoencoder own a per-neuron threshold θ and penalise the
// hidden layer with the L0 relaxation of temperature epsilon over it. The
// hidden nonlinearity stays the one set by WithActivation.
func WithL0(epsilon float64) Option {
	return func(o *options) {
		o.l0 = true
		o.l0Epsilon = epsilon
	}
}

// SparseAutoencoder is a two-layer encode/decode model with a sparsity-penalised hidden layer.
type SparseAutoencoder struct {
	cfg       Config
	encoder   *layer.Linear
	decoder   *layer.Linear
	hidden    activations.Hidden
	penalty   sparsity.Penalty
	recon     loss.Loss
	threshold *layer.Parameter
}

// New builds a SparseAutoencoder. Every call creates its own submodules.
func New(cfg Config, opts ...Option) (*SparseAutoencoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	d, h := cfg.DimFeatures, cfg.HiddenDim()
	rng := rand.New(rand.NewSource(cfg.Seed))

	s := &SparseAutoencoder{
		cfg:     cfg,
		encoder: layer.NewLinear("enc", d, h, rng),
		decoder: layer.NewLinear("dec", h, d, rng),
		recon:   o.recon,
	}
	if s.recon == nil {
		s.recon = loss.MSE{}
	}

	switch {
	case o.jumpReLU && (o.activation != nil || o.penalty != nil || o.l0):
		return nil, errors.New("sae: WithJumpReLU cannot be combined with WithActivation, WithSparsity or WithL0")
	case o.l0 && o.penalty != nil:
		return nil, errors.New("sae: WithL0 cannot be combined with WithSparsity")
	}

	if o.jumpReLU || o.l0 {
		name := "l0.theta"
		if o.jumpReLU {
			name = "jumprelu.theta"
		}
		theta := layer.NewParameter(name, 1, h)
		for j, row := 0, theta.Row(); j < h; j++ {
			row[j] = rng.Float64() * 0.1
		}
		l0, err := sparsity.NewL0(theta, o.l0Epsilon)
		if err != nil {
			return nil, errors.WithMessage(err, "sae: building L0 penalty")
		}
		s.threshold = theta
		s.penalty = l0
	}

	switch {
	case o.jumpReLU:
		s.hidden = activations.NewJumpReLU(s.threshold)
	case o.activation != nil:
		s.hidden = o.activation
	default:
		s.hidden = activations.Elementwise(activations.ReLU{})
	}

	if s.penalty == nil {
		factory := o.penalty
		if factory == nil {
			factory = sparsity.L1Factory()
		}
		penalty, err := factory(h)
		if err != nil {
			return nil, errors.WithMessage(err, "sae: building sparsity penalty")
		}
		s.penalty = penalty
	}

	if err := s.checkOwnership(); err != nil {
		return nil, err
	}

	if klog.V(1).Enabled() {
		klog.Infof("sae: %d -> %d -> %d, lambda=%g, activation=%s, sparsity=%s, reconstruction=%s",
			d, h, d, cfg.Lambda, s.hidden.Name(), s.penalty.Kind(), loss.NameOf(s.recon))
	}
	return s, nil
}

// Forward runs encode, nonlinearity and decode on a (batch, d) feature matrix
// and computes the losses. It does not modify the autoencoder.
func (s *SparseAutoencoder) Forward(feature mat.Matrix) *Output {
	pre := s.encoder.Forward(feature)
	act := s.hidden.Forward(pre)
	reconstruction := s.decoder.Forward(act)

	return &Output{
		PreActivation:  pre,
		Activation:     act,
		Reconstruction: reconstruction,
		Loss:           s.computeLoss(feature, reconstruction, pre, act),
	}
}

func (s *SparseAutoencoder) computeLoss(feature, reconstruction, pre, act mat.Matrix) Loss {
	r := s.recon.Forward(reconstruction, feature)
	sp := s.penalty.Forward(act, pre)
	return Loss{
		Total:          r + s.cfg.Lambda*sp,
		Reconstruction: r,
		Sparsity:       sp,
	}
}

// Backward fills the gradients of out.Loss.Total w.r.t. every parameter.
// out must come from Forward(feature) with the current parameters.
// Previous gradients are discarded.
func (s *SparseAutoencoder) Backward(feature mat.Matrix, out *Output) {
	s.ZeroGrad()

	gradRecon := s.recon.Backward(out.Reconstruction, feature)
	gradAct := s.decoder.Backward(out.Activation, gradRecon)

	rows, cols := out.PreActivation.Dims()
	gradPre := mat.NewDense(rows, cols, nil)
	s.penalty.Backward(out.Activation, out.PreActivation, gradAct, gradPre, s.cfg.Lambda)

	gradPre.Add(gradPre, s.hidden.Backward(out.PreActivation, gradAct))
	s.encoder.Backward(feature, gradPre)
}

// Encode returns the hidden activation of a (batch, d) feature matrix.
func (s *SparseAutoencoder) Encode(feature mat.Matrix) *mat.Dense {
	return s.hidden.Forward(s.encoder.Forward(feature))
}

// Decode maps a (batch, d*k) hidden activation back to feature space.
func (s *SparseAutoencoder) Decode(activation mat.Matrix) *mat.Dense {
	return s.decoder.Forward(activation)
}

// Parameters returns every trainable parameter: encoder weight and bias,
// decoder weight and bias, then θ when the L0 penalty is used.
func (s *SparseAutoencoder) Parameters() []*layer.Parameter {
	var params []*layer.Parameter
	for _, l := range []layer.Layer{s.encoder, s.decoder} {
		params = append(params, l.Parameters()...)
	}
	if s.threshold != nil {
		params = append(params, s.threshold)
	}
	return params
}

// ZeroGrad resets every gradient buffer.
func (s *SparseAutoencoder) ZeroGrad() {
	for _, p := range s.Parameters() {
		p.ZeroGrad()
	}
}

// NumParams returns the number of trainable scalars.
func (s *SparseAutoencoder) NumParams() int {
	n := 0
	for _, p := range s.Parameters() {
		n += p.Len()
	}
	return n
}

// Config returns the construction configuration.
func (s *SparseAutoencoder) Config() Config { return s.cfg }

// DimFeatures returns d.
func (s *SparseAutoencoder) DimFeatures() int { return s.cfg.DimFeatures }

// HiddenDim returns d*k.
func (s *SparseAutoencoder) HiddenDim() int { return s.cfg.HiddenDim() }

// Lambda returns the sparsity weight.
func (s *SparseAutoencoder) Lambda() float64 { return s.cfg.Lambda }

// Encoder returns the encoder layer.
func (s *SparseAutoencoder) Encoder() *layer.Linear { return s.encoder }

// Decoder returns the decoder layer.
func (s *SparseAutoencoder) Decoder() *layer.Linear { return s.decoder }

// Activation returns the hidden nonlinearity.
func (s *SparseAutoencoder) Activation() activations.Hidden { return s.hidden }

// Penalty returns the sparsity penalty.
func (s *SparseAutoencoder) Penalty() sparsity.Penalty { return s.penalty }

// ReconstructionLoss returns the reconstruction error function.
func (s *SparseAutoencoder) ReconstructionLoss() loss.Loss { return s.recon }

// Threshold returns θ, or nil when the autoencoder has no L0 penalty.
func (s *SparseAutoencoder) Threshold() *layer.Parameter { return s.threshold }

// thresholded is implemented by the gates and penalties that reference θ.
type thresholded interface {
	Theta() *layer.Parameter
}

// checkOwnership fails when the nonlinearity or the penalty references a
// parameter outside Parameters(). Such a parameter would never be updated
// by an optimizer and could not be rebuilt by Decode.
func (s *SparseAutoencoder) checkOwnership() error {
	owned := make(map[*layer.Parameter]bool)
	for _, p := range s.Parameters() {
		owned[p] = true
	}
	for _, m := range []any{s.hidden, s.penalty} {
		t, ok := m.(thresholded)
		if !ok {
			continue
		}
		if theta := t.Theta(); !owned[theta] {
			return errors.Errorf("sae: %T references threshold %q the autoencoder does not own, use WithL0 or WithJumpReLU", m, theta.Name)
		}
	}
	return nil
}
