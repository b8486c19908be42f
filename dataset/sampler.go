package dataset

import (
	"fmt"
	"math/rand/v2"

	"github.com/sw965/mixmatch/blas32/tensor/2d"
	"github.com/sw965/mixmatch/mathx/randx"
	"github.com/sw965/omw/parallel"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// Sampler draws augmented labeled batches and nu augmented views of
// unlabeled examples. It is not safe for concurrent use.
type Sampler struct {
	labeled   *Dataset
	unlabeled *Dataset
	augment   Augment
	batch     int
	nu        int
	p         int

	rng   *rand.Rand
	rngs  []*rand.Rand
	lidxs []int
	uidxs []int
}

func NewSampler(labeled, unlabeled *Dataset, augment Augment, batch, nu, p int, rng *rand.Rand) (*Sampler, error) {
	if batch <= 0 || nu <= 0 {
		return nil, fmt.Errorf("dataset.NewSampler: batch and nu must be > 0 (batch=%d, nu=%d)", batch, nu)
	}
	if labeled.Len() < batch || unlabeled.Len() < batch {
		return nil, fmt.Errorf("dataset.NewSampler: need at least %d examples (labeled=%d, unlabeled=%d)", batch, labeled.Len(), unlabeled.Len())
	}
	if labeled.X.Cols != unlabeled.X.Cols {
		return nil, fmt.Errorf("dataset.NewSampler: labeled dim %d != unlabeled dim %d", labeled.X.Cols, unlabeled.X.Cols)
	}
	if augment == nil {
		augment = Identity
	}
	if p <= 0 {
		p = 1
	}
	return &Sampler{
		labeled:   labeled,
		unlabeled: unlabeled,
		augment:   augment,
		batch:     batch,
		nu:        nu,
		p:         p,
		rng:       rng,
		rngs:      randx.NewPCGs(p, rng),
		lidxs:     make([]int, batch),
		uidxs:     make([]int, batch),
	}, nil
}

func (s *Sampler) Next() (Batch, error) {
	sampleuv.WithoutReplacement(s.lidxs, s.labeled.Len(), s.rng)
	sampleuv.WithoutReplacement(s.uidxs, s.unlabeled.Len(), s.rng)

	x, err := s.augmentRows(s.labeled.X, s.lidxs)
	if err != nil {
		return Batch{}, err
	}
	labels := make([]int, s.batch)
	for i, idx := range s.lidxs {
		labels[i] = s.labeled.Labels[idx]
	}

	u := make([]blas32.General, s.nu)
	for v := range u {
		u[v], err = s.augmentRows(s.unlabeled.X, s.uidxs)
		if err != nil {
			return Batch{}, err
		}
	}
	return Batch{X: x, Labels: labels, U: u}, nil
}

func (s *Sampler) augmentRows(src blas32.General, idxs []int) (blas32.General, error) {
	dst := tensor2d.NewZeros(len(idxs), src.Cols)
	err := parallel.For(len(idxs), s.p, func(workerId, i int) error {
		y := s.augment(tensor2d.Row(src, idxs[i]), s.rngs[workerId])
		if len(y) != src.Cols {
			return fmt.Errorf("dataset: augment returned %d values, want %d", len(y), src.Cols)
		}
		copy(tensor2d.Row(dst, i), y)
		return nil
	})
	return dst, err
}
