// Package dataset loads the feature matrices an autoencoder is evaluated on:
// Veri-776 images and CSV files of precomputed embeddings.
package dataset

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// FeatureSet is a (samples, dim) feature matrix with optional per-row identity labels.
type FeatureSet struct {
	Features *mat.Dense
	// Labels holds one contiguous identity per row, or nil.
	Labels []int
}

// Batch is a view of consecutive rows of a FeatureSet.
type Batch struct {
	Features *mat.Dense
	Labels   []int
}

// Len returns the number of samples.
func (fs *FeatureSet) Len() int {
	if fs.Features == nil {
		return 0
	}
	rows, _ := fs.Features.Dims()
	return rows
}

// Dim returns the feature dimensionality.
func (fs *FeatureSet) Dim() int {
	if fs.Features == nil {
		return 0
	}
	_, cols := fs.Features.Dims()
	return cols
}

// Normalize performs per-column min-max normalization in place.
// Constant columns become zero.
func (fs *FeatureSet) Normalize() {
	rows, cols := fs.Len(), fs.Dim()
	if rows == 0 {
		return
	}

	for j := 0; j < cols; j++ {
		min, max := fs.Features.At(0, j), fs.Features.At(0, j)
		for i := 1; i < rows; i++ {
			v := fs.Features.At(i, j)
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}

		diff := max - min
		for i := 0; i < rows; i++ {
			if diff != 0 {
				fs.Features.Set(i, j, (fs.Features.At(i, j)-min)/diff)
			} else {
				fs.Features.Set(i, j, 0)
			}
		}
	}
}

// Batches splits the set into batches of at most size rows, in order.
// Batch features share storage with the set.
func (fs *FeatureSet) Batches(size int) []Batch {
	if size <= 0 {
		panic(fmt.Sprintf("FeatureSet: batch size must be positive, got %d", size))
	}
	n, dim := fs.Len(), fs.Dim()

	batches := make([]Batch, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		b := Batch{Features: fs.Features.Slice(start, end, 0, dim).(*mat.Dense)}
		if fs.Labels != nil {
			b.Labels = fs.Labels[start:end]
		}
		batches = append(batches, b)
	}
	return batches
}

// Split returns the first ratio of the samples and the rest. Both share storage with fs.
func (fs *FeatureSet) Split(ratio float64) (*FeatureSet, *FeatureSet) {
	n := fs.Len()
	cut := int(float64(n) * ratio)
	if cut < 0 {
		cut = 0
	}
	if cut > n {
		cut = n
	}
	return fs.rows(0, cut), fs.rows(cut, n)
}

func (fs *FeatureSet) rows(start, end int) *FeatureSet {
	out := &FeatureSet{}
	if start < end {
		out.Features = fs.Features.Slice(start, end, 0, fs.Dim()).(*mat.Dense)
	}
	if fs.Labels != nil {
		out.Labels = fs.Labels[start:end]
	}
	return out
}

// Remap maps arbitrary identities onto 0..n-1 in ascending order of the
// original values. It returns the new labels and the sorted originals.
func Remap(ids []int) (labels []int, unique []int) {
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	sort.Ints(unique)

	index := make(map[int]int, len(unique))
	for i, id := range unique {
		index[id] = i
	}
	labels = make([]int, len(ids))
	for i, id := range ids {
		labels[i] = index[id]
	}
	return labels, unique
}
