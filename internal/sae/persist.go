package sae

import (
	"encoding/gob"
	"io"
	"os"

	"github.com/FlavioCFOliveira/GoSAE/internal/activations"
	"github.com/FlavioCFOliveira/GoSAE/internal/loss"
	"github.com/FlavioCFOliveira/GoSAE/internal/sparsity"
	"github.com/pkg/errors"
)

// header describes how to rebuild an autoencoder before its tensors are read.
type header struct {
	Config         Config
	Activation     string
	LeakyAlpha     float64
	Sparsity       string
	Rho            float64
	Epsilon        float64
	Reconstruction string
	HuberDelta     float64
}

// tensor is one serialised parameter.
type tensor struct {
	Name string
	Rows int
	Cols int
	Data []float64
}

// Save writes the autoencoder to a file using gob encoding.
func (s *SparseAutoencoder) Save(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", filename)
	}
	if err := s.Encode(file); err != nil {
		file.Close()
		return err
	}
	return errors.Wrapf(file.Close(), "failed to close %s", filename)
}

// Encode writes the architecture and every parameter to w.
func (s *SparseAutoencoder) Encode(w io.Writer) error {
	if err := s.checkOwnership(); err != nil {
		return errors.WithMessage(err, "failed to encode")
	}
	h := header{
		Config:         s.cfg,
		Activation:     s.hidden.Name(),
		Sparsity:       s.penalty.Kind(),
		Reconstruction: loss.NameOf(s.recon),
	}
	if h.Activation == "" {
		return errors.New("failed to encode: hidden activation has no registered name")
	}
	if h.Reconstruction == "" {
		return errors.New("failed to encode: reconstruction loss has no registered name")
	}

	switch p := s.penalty.(type) {
	case *sparsity.KL:
		h.Rho = p.Rho()
	case *sparsity.L0:
		h.Epsilon = p.Epsilon()
	}
	if h.Activation == "LeakyReLU" {
		h.LeakyAlpha = activations.DefaultLeakyAlpha
		if act, ok := activations.ScalarOf(s.hidden); ok {
			if l, ok := act.(*activations.LeakyReLU); ok {
				h.LeakyAlpha = l.Alpha
			}
		}
	}
	switch r := s.recon.(type) {
	case *loss.Huber:
		h.HuberDelta = r.Delta
	case loss.Huber:
		h.HuberDelta = r.Delta
	}

	encoder := gob.NewEncoder(w)
	if err := encoder.Encode(h); err != nil {
		return errors.Wrap(err, "failed to encode header")
	}

	params := s.Parameters()
	tensors := make([]tensor, len(params))
	for i, p := range params {
		rows, cols := p.Dims()
		tensors[i] = tensor{Name: p.Name, Rows: rows, Cols: cols}
		for r := 0; r < rows; r++ {
			tensors[i].Data = append(tensors[i].Data, p.Value.RawRowView(r)...)
		}
	}
	if err := encoder.Encode(tensors); err != nil {
		return errors.Wrap(err, "failed to encode parameters")
	}
	return nil
}

// Load reads an autoencoder saved with Save.
func Load(filename string) (*SparseAutoencoder, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", filename)
	}
	defer file.Close()

	s, err := Decode(file)
	return s, errors.WithMessagef(err, "failed to load %s", filename)
}

// Decode reads an autoencoder written by Encode. The rebuilt model uses the
// same activation, sparsity strategy and reconstruction loss, and shares θ
// between gate and penalty exactly like a freshly built one.
func Decode(r io.Reader) (*SparseAutoencoder, error) {
	decoder := gob.NewDecoder(r)

	var h header
	if err := decoder.Decode(&h); err != nil {
		return nil, errors.Wrap(err, "failed to read header")
	}

	opts, err := h.options()
	if err != nil {
		return nil, err
	}
	s, err := New(h.Config, opts...)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to rebuild autoencoder")
	}

	var tensors []tensor
	if err := decoder.Decode(&tensors); err != nil {
		return nil, errors.Wrap(err, "failed to read parameters")
	}
	byName := make(map[string]tensor, len(tensors))
	for _, t := range tensors {
		byName[t.Name] = t
	}

	for _, p := range s.Parameters() {
		t, ok := byName[p.Name]
		if !ok {
			return nil, errors.Errorf("parameter %q missing", p.Name)
		}
		rows, cols := p.Dims()
		if t.Rows != rows || t.Cols != cols || len(t.Data) != rows*cols {
			return nil, errors.Errorf("parameter %q has shape (%d,%d), want (%d,%d)", p.Name, t.Rows, t.Cols, rows, cols)
		}
		for r := 0; r < rows; r++ {
			p.Value.SetRow(r, t.Data[r*cols:(r+1)*cols])
		}
	}
	return s, nil
}

func (h header) options() ([]Option, error) {
	var opts []Option

	recon, ok := loss.ByName(h.Reconstruction)
	if !ok {
		return nil, errors.Errorf("unknown reconstruction loss %q", h.Reconstruction)
	}
	if h.Reconstruction == "Huber" && h.HuberDelta > 0 {
		recon = loss.NewHuber(h.HuberDelta)
	}
	opts = append(opts, WithReconstructionLoss(recon))

	if h.Activation == "JumpReLU" {
		if h.Sparsity != sparsity.KindL0 {
			return nil, errors.Errorf("JumpReLU saved with %q sparsity, want %q", h.Sparsity, sparsity.KindL0)
		}
		return append(opts, WithJumpReLU(h.Epsilon)), nil
	}

	act, ok := activations.ByName(h.Activation)
	if !ok {
		return nil, errors.Errorf("unknown activation %q", h.Activation)
	}
	if h.Activation == "LeakyReLU" {
		act = activations.NewLeakyReLU(h.LeakyAlpha)
	}
	opts = append(opts, WithActivation(activations.Elementwise(act)))

	switch h.Sparsity {
	case sparsity.KindL1:
		opts = append(opts, WithSparsity(sparsity.L1Factory()))
	case sparsity.KindKL:
		opts = append(opts, WithKL(h.Rho))
	case sparsity.KindL0:
		opts = append(opts, WithL0(h.Epsilon))
	default:
		return nil, errors.Errorf("unknown sparsity %q", h.Sparsity)
	}
	return opts, nil
}
