// Package dataset provides the dataset descriptor, batches and a labeled /
// unlabeled sampler feeding the trainer.
package dataset

import (
	"fmt"
	"math/rand/v2"

	"github.com/sw965/mixmatch/blas32/tensor/2d"
	"github.com/sw965/mixmatch/dist"
	"github.com/sw965/mixmatch/mathx"
	"gonum.org/v1/gonum/blas/blas32"
)

type Descriptor struct {
	Name   string
	Height int
	Width  int
	Colors int
	NClass int

	// Optional class distributions. Nil when unknown.
	PLabeled   []float32
	PUnlabeled []float32
}

func (d Descriptor) InputSize() int {
	return d.Height * d.Width * d.Colors
}

func (d Descriptor) Validate() error {
	if d.Height <= 0 || d.Width <= 0 || d.Colors <= 0 {
		return fmt.Errorf("dataset %q: invalid image shape %dx%dx%d", d.Name, d.Height, d.Width, d.Colors)
	}
	if d.NClass <= 1 {
		return fmt.Errorf("dataset %q: nclass must be > 1 (got %d)", d.Name, d.NClass)
	}
	for _, p := range [][]float32{d.PLabeled, d.PUnlabeled} {
		if p != nil && len(p) != d.NClass {
			return fmt.Errorf("dataset %q: class distribution has %d entries, want %d", d.Name, len(p), d.NClass)
		}
	}
	return nil
}

// Batch is one training step's input. Row i of every U view depicts the
// same underlying example.
type Batch struct {
	X      blas32.General
	Labels []int
	U      []blas32.General
}

func (b Batch) Size() int {
	return b.X.Rows
}

// Dataset holds flattened images, one row per example.
type Dataset struct {
	Desc   Descriptor
	X      blas32.General
	Labels []int
}

func (d *Dataset) Len() int {
	return d.X.Rows
}

// ClassDistribution is the empirical label distribution.
func (d *Dataset) ClassDistribution() []float32 {
	p := make([]float32, d.Desc.NClass)
	for _, l := range d.Labels {
		p[l]++
	}
	dist.Normalize(p)
	return p
}

// Split returns the first n examples as the labeled set and the rest as the
// unlabeled set. The labeled class distribution is recorded on both
// descriptors.
func (d *Dataset) Split(n int) (*Dataset, *Dataset, error) {
	if n <= 0 || n >= d.Len() {
		return nil, nil, fmt.Errorf("dataset %q: cannot split %d examples at %d", d.Desc.Name, d.Len(), n)
	}
	labeled := &Dataset{Desc: d.Desc, X: tensor2d.SliceRows(d.X, 0, n), Labels: d.Labels[:n]}
	unlabeled := &Dataset{Desc: d.Desc, X: tensor2d.SliceRows(d.X, n, d.Len()), Labels: d.Labels[n:]}
	p := labeled.ClassDistribution()
	labeled.Desc.PLabeled = p
	unlabeled.Desc.PLabeled = p
	return labeled, unlabeled, nil
}

// Synthetic draws n examples from nclass gaussian blobs whose centers lie in
// [-1, 1]. Labels cycle through the classes so every class is present.
func Synthetic(desc Descriptor, n int, spread float32, rng *rand.Rand) (*Dataset, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("dataset %q: n must be > 0 (got %d)", desc.Name, n)
	}
	dim := desc.InputSize()
	centers := make([][]float32, desc.NClass)
	for c := range centers {
		centers[c] = make([]float32, dim)
		for j := range centers[c] {
			centers[c][j] = mathx.ConvertScale(rng.Float32(), 0.0, 1.0, -1.0, 1.0)
		}
	}

	x := tensor2d.NewZeros(n, dim)
	labels := make([]int, n)
	perm := rng.Perm(n)
	for i := 0; i < n; i++ {
		label := perm[i] % desc.NClass
		labels[i] = label
		row := tensor2d.Row(x, i)
		for j := range row {
			row[j] = centers[label][j] + spread*float32(rng.NormFloat64())
		}
	}
	return &Dataset{Desc: desc, X: x, Labels: labels}, nil
}
