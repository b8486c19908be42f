package mixmatch

import (
	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"
	"github.com/sw965/mixmatch/blas32/tensors/2d"
	"github.com/sw965/mixmatch/dist"
	"github.com/sw965/mixmatch/mathx"
	"github.com/sw965/mixmatch/model"
	"gonum.org/v1/gonum/blas/blas32"
)

// Guess holds the pseudo-labels for one unlabeled batch. PModel is the
// softmax averaged over views, PTarget its sharpened form.
type Guess struct {
	PModel  blas32.General
	PTarget blas32.General
}

// GuessLabel classifies every view in training mode and sharpens the
// averaged prediction with temperature t. Nothing flows back through the
// result: backward tapes and batch-norm updates of the view passes are
// dropped.
func GuessLabel(clf model.Classifier, views []blas32.General, t float32) (Guess, error) {
	if len(views) == 0 {
		return Guess{}, errors.WithMessage(ErrShapeMismatch, "GuessLabel: no views")
	}
	if t <= 0 {
		return Guess{}, errors.Wrapf(ErrInvalidConfig, "GuessLabel: T must be > 0 (got %v)", t)
	}
	if err := tensors2d.CheckSameShape(views); err != nil {
		return Guess{}, mark(ErrShapeMismatch, err)
	}
	if views[0].Rows == 0 {
		return Guess{}, errors.WithMessage(ErrShapeMismatch, "GuessLabel: empty views")
	}

	probs := make([]blas32.General, len(views))
	p := pool.New().WithErrors()
	for i, v := range views {
		p.Go(func() error {
			out, err := clf.Classify(v, true, model.Live)
			if err != nil {
				return errors.WithMessagef(err, "GuessLabel: view %d", i)
			}
			probs[i] = dist.Softmax(out.Detach())
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return Guess{}, err
	}

	pModel, err := tensors2d.Mean(probs)
	if err != nil {
		return Guess{}, err
	}
	pTarget, err := dist.Sharpen(pModel, t)
	if err != nil {
		return Guess{}, err
	}
	return Guess{PModel: pModel, PTarget: pTarget}, nil
}

// WarmupWeight ramps wMatch linearly from 0 at zero processed examples to
// its full value after warmupKImg*1024 examples.
func WarmupWeight(examples int64, wMatch float32, warmupKImg int) float32 {
	return wMatch * mathx.LinearRamp(float64(examples), float64(warmupKImg<<10))
}
