package sae

import "fmt"

// Stats accumulates losses and hidden-unit usage over many forward passes.
// A neuron counts as active for a sample when its activation is non-zero.
type Stats struct {
	hidden  int
	samples int
	batches int
	sum     Loss
	active  []int
	fired   int
}

// NewStats creates an accumulator for a hidden layer of the given width.
func NewStats(hidden int) *Stats {
	return &Stats{
		hidden: hidden,
		active: make([]int, hidden),
	}
}

// Add records one forward pass. Losses are weighted by batch size.
func (s *Stats) Add(out *Output) {
	rows, cols := out.Activation.Dims()
	if cols != s.hidden {
		panic(fmt.Sprintf("Stats: activation has %d columns, want %d", cols, s.hidden))
	}

	w := float64(rows)
	s.sum.Total += out.Loss.Total * w
	s.sum.Reconstruction += out.Loss.Reconstruction * w
	s.sum.Sparsity += out.Loss.Sparsity * w

	for i := 0; i < rows; i++ {
		for j, v := range out.Activation.RawRowView(i) {
			if v != 0 {
				s.active[j]++
				s.fired++
			}
		}
	}

	s.samples += rows
	s.batches++
}

// Samples returns the number of samples seen.
func (s *Stats) Samples() int { return s.samples }

// Batches returns the number of forward passes seen.
func (s *Stats) Batches() int { return s.batches }

// MeanLoss returns the per-sample mean of every loss component.
func (s *Stats) MeanLoss() Loss {
	if s.samples == 0 {
		return Loss{}
	}
	n := float64(s.samples)
	return Loss{
		Total:          s.sum.Total / n,
		Reconstruction: s.sum.Reconstruction / n,
		Sparsity:       s.sum.Sparsity / n,
	}
}

// ActiveFraction returns the fraction of (sample, neuron) pairs that were active.
func (s *Stats) ActiveFraction() float64 {
	if s.samples == 0 {
		return 0
	}
	return float64(s.fired) / float64(s.samples*s.hidden)
}

// MeanActive returns the mean number of active neurons per sample (the L0 norm).
func (s *Stats) MeanActive() float64 {
	if s.samples == 0 {
		return 0
	}
	return float64(s.fired) / float64(s.samples)
}

// DeadNeurons returns the number of neurons that were never active.
func (s *Stats) DeadNeurons() int {
	dead := 0
	for _, n := range s.active {
		if n == 0 {
			dead++
		}
	}
	return dead
}
