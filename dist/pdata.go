package dist

import (
	"fmt"
	"slices"

	"github.com/sw965/mixmatch/blas32/tensor/2d"
	"gonum.org/v1/gonum/blas/blas32"
)

const PDataDecay float32 = 0.999

// PData is the known, or inferred, class distribution of the unlabeled data.
// A known distribution is constant; otherwise it starts uniform and follows
// the labels it is updated with.
type PData struct {
	p         []float32
	hasUpdate bool
}

// NewPData prefers the unlabeled distribution, then the labeled one. With
// neither available the distribution is inferred from labels.
func NewPData(nclass int, pUnlabeled, pLabeled []float32) (*PData, error) {
	for _, p := range [][]float32{pUnlabeled, pLabeled} {
		if p == nil {
			continue
		}
		if len(p) != nclass {
			return nil, fmt.Errorf("dist.NewPData: distribution has %d entries, want %d", len(p), nclass)
		}
		return &PData{p: slices.Clone(p)}, nil
	}
	if nclass <= 0 {
		return nil, fmt.Errorf("dist.NewPData: nclass must be > 0 (got %d)", nclass)
	}
	return &PData{p: Uniform(nclass), hasUpdate: true}, nil
}

func (d *PData) HasUpdate() bool {
	return d.hasUpdate
}

func (d *PData) Current() []float32 {
	p := slices.Clone(d.p)
	Normalize(p)
	return p
}

// Update folds the row mean of labels into the inferred distribution.
func (d *PData) Update(labels blas32.General) error {
	if !d.hasUpdate {
		return nil
	}
	if labels.Cols != len(d.p) {
		return fmt.Errorf("dist.PData.Update: labels have %d cols, want %d", labels.Cols, len(d.p))
	}
	mean := tensor2d.Mean0(labels).Data
	for i := range d.p {
		d.p[i] = d.p[i]*PDataDecay + mean[i]*(1-PDataDecay)
	}
	return nil
}

func (d *PData) Values() []float32 {
	return slices.Clone(d.p)
}

func (d *PData) SetValues(p []float32) error {
	if len(p) != len(d.p) {
		return fmt.Errorf("dist.PData.SetValues: got %d entries, want %d", len(p), len(d.p))
	}
	copy(d.p, p)
	return nil
}
