// Package mixmatch implements the MixMatch semi-supervised training step:
// label guessing over augmented views, sharpening, MixUp of labeled and
// unlabeled streams, interleaved classification and the combined
// cross-entropy / L2 objective with EMA and distribution tracking.
package mixmatch

import (
	"math/rand/v2"
	"sync"

	"github.com/pkg/errors"
	"github.com/sw965/mixmatch/blas32/tensor/2d"
	"github.com/sw965/mixmatch/dataset"
	"github.com/sw965/mixmatch/dist"
	"github.com/sw965/mixmatch/ema"
	"github.com/sw965/mixmatch/interleave"
	"github.com/sw965/mixmatch/mathx/randx"
	"github.com/sw965/mixmatch/mixmode"
	"github.com/sw965/mixmatch/model"
	"github.com/sw965/mixmatch/optimizer"
	"gonum.org/v1/gonum/blas/blas32"
)

const (
	PModelName  = "p_model"
	PTargetName = "p_target"
)

// Trainer owns the classifier parameters, their EMA shadow, the
// distribution trackers and the optimizer state. Step calls are
// serialized; Classify may run concurrently with Step and always sees the
// last fully committed step.
type Trainer struct {
	cfg  Config
	desc dataset.Descriptor
	clf  model.Classifier
	plan mixmode.Plan

	params  model.Parameters
	opt     optimizer.Minimizer
	shadow  *ema.Shadow
	pModel  *dist.MovingAverage
	pTarget *dist.MovingAverage
	pData   *dist.PData
	rng     *rand.Rand

	stepMu   sync.Mutex
	mu       sync.RWMutex
	examples int64
}

type StepResult struct {
	LossXE  float32
	LossL2U float32
	WMatch  float32
	Loss    float32

	KLD        float32
	KLDTarget  float32
	ClassRatio []float32
	PModel     []float32
}

func NewTrainer(cfg Config, clf model.Classifier, desc dataset.Descriptor) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := desc.Validate(); err != nil {
		return nil, mark(ErrInvalidConfig, err)
	}
	if clf.NumClasses() != desc.NClass {
		return nil, errors.Wrapf(ErrInvalidConfig, "classifier has %d classes, dataset %q has %d", clf.NumClasses(), desc.Name, desc.NClass)
	}
	if clf.InputSize() != desc.InputSize() {
		return nil, errors.Wrapf(ErrInvalidConfig, "classifier input size %d, dataset %q input size %d", clf.InputSize(), desc.Name, desc.InputSize())
	}

	plan, err := mixmode.Parse(cfg.MixMode)
	if err != nil {
		return nil, mark(ErrInvalidConfig, err)
	}
	opt, err := optimizer.New(cfg.Optimizer)
	if err != nil {
		return nil, mark(ErrInvalidConfig, err)
	}
	params := clf.Parameters()
	shadow, err := ema.New(cfg.EMA, params.Trainable())
	if err != nil {
		return nil, mark(ErrInvalidConfig, err)
	}
	pModel, err := dist.NewMovingAverage(PModelName, desc.NClass, cfg.DBuf)
	if err != nil {
		return nil, err
	}
	pTarget, err := dist.NewMovingAverage(PTargetName, desc.NClass, cfg.DBuf)
	if err != nil {
		return nil, err
	}
	pData, err := dist.NewPData(desc.NClass, desc.PUnlabeled, desc.PLabeled)
	if err != nil {
		return nil, err
	}

	return &Trainer{
		cfg:     cfg,
		desc:    desc,
		clf:     clf,
		plan:    plan,
		params:  params,
		opt:     opt,
		shadow:  shadow,
		pModel:  pModel,
		pTarget: pTarget,
		pData:   pData,
		rng:     randx.NewPCG(cfg.Seed),
	}, nil
}

func (t *Trainer) Config() Config {
	return t.cfg
}

func (t *Trainer) Plan() mixmode.Plan {
	return t.plan
}

func (t *Trainer) Examples() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.examples
}

// Distributions returns the current p_model, p_target and p_data values.
func (t *Trainer) Distributions() (pModel, pTarget, pData []float32) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pModel.Current(), t.pTarget.Current(), t.pData.Current()
}

func (t *Trainer) checkBatch(b dataset.Batch) error {
	batch := b.X.Rows
	if batch == 0 {
		return errors.WithMessage(ErrShapeMismatch, "empty labeled batch")
	}
	if b.X.Cols != t.clf.InputSize() {
		return errors.Wrapf(ErrShapeMismatch, "labeled batch has %d cols, want %d", b.X.Cols, t.clf.InputSize())
	}
	if len(b.Labels) != batch {
		return errors.Wrapf(ErrShapeMismatch, "%d labeled images but %d labels", batch, len(b.Labels))
	}
	for i, l := range b.Labels {
		if l < 0 || l >= t.desc.NClass {
			return errors.Wrapf(ErrShapeMismatch, "label %d at %d is out of range [0, %d)", l, i, t.desc.NClass)
		}
	}
	if len(b.U) != t.cfg.NU {
		return errors.Wrapf(ErrShapeMismatch, "%d unlabeled views, want %d", len(b.U), t.cfg.NU)
	}
	for i, u := range b.U {
		if !tensor2d.SameShape(u, b.X) {
			return errors.Wrapf(ErrShapeMismatch, "unlabeled view %d is %dx%d, labeled batch is %dx%d", i, u.Rows, u.Cols, b.X.Rows, b.X.Cols)
		}
	}
	return nil
}

// Step runs one training step. Either every piece of trainer state
// advances or, on error, none does.
func (t *Trainer) Step(b dataset.Batch) (StepResult, error) {
	t.stepMu.Lock()
	defer t.stepMu.Unlock()

	if err := t.checkBatch(b); err != nil {
		return StepResult{}, err
	}
	batch := b.X.Rows
	nclass := t.desc.NClass

	guess, err := GuessLabel(t.clf, b.U, t.cfg.T)
	if err != nil {
		return StepResult{}, err
	}
	ly := guess.PTarget
	lx, err := dist.OneHot(b.Labels, nclass)
	if err != nil {
		return StepResult{}, mark(ErrShapeMismatch, err)
	}

	xs := make([]blas32.General, 0, 1+t.cfg.NU)
	ls := make([]blas32.General, 0, 1+t.cfg.NU)
	xs = append(xs, b.X)
	ls = append(ls, lx)
	for _, u := range b.U {
		xs = append(xs, u)
		ls = append(ls, ly)
	}
	mxs, mls, err := t.plan.Mix(xs, ls, []float32{t.cfg.Beta, t.cfg.Beta}, t.rng)
	if err != nil {
		return StepResult{}, err
	}

	batches, err := interleave.Interleave(mxs, batch)
	if err != nil {
		return StepResult{}, err
	}
	outs := make([]model.Output, len(batches))
	logits := make([]blas32.General, len(batches))
	for i, x := range batches {
		outs[i], err = t.clf.Classify(x, true, model.Live)
		if err != nil {
			return StepResult{}, errors.WithMessagef(err, "classify interleaved batch %d", i)
		}
		logits[i] = outs[i].Logits
	}
	logits, err = interleave.Interleave(logits, batch)
	if err != nil {
		return StepResult{}, err
	}

	logitsY, err := tensor2d.ConcatRows(logits[1:]...)
	if err != nil {
		return StepResult{}, err
	}
	labelsY, err := tensor2d.ConcatRows(mls[1:]...)
	if err != nil {
		return StepResult{}, err
	}
	lossXE, gradX := SoftmaxCrossEntropy(mls[0], logits[0])
	lossL2U, gradY := SquaredSoftmaxError(labelsY, logitsY)

	// Only Step writes examples and stepMu is held.
	wMatch := WarmupWeight(t.examples, t.cfg.WMatch, t.cfg.WarmupKImg)
	tensor2d.Scal(wMatch, gradY)

	gradYs, err := tensor2d.SplitRows(gradY, t.cfg.NU)
	if err != nil {
		return StepResult{}, err
	}
	chains, err := interleave.Interleave(append([]blas32.General{gradX}, gradYs...), batch)
	if err != nil {
		return StepResult{}, err
	}
	grads := model.Grads{}
	for i, out := range outs {
		if _, err := out.Backward(chains[i], grads); err != nil {
			return StepResult{}, errors.WithMessagef(err, "backward through interleaved batch %d", i)
		}
	}

	result := StepResult{
		LossXE:  lossXE,
		LossL2U: lossL2U,
		WMatch:  wMatch,
		Loss:    lossXE + wMatch*lossL2U,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.diagnose(&result)
	if err := t.commit(grads, outs[0].Updates, guess, lx, batch); err != nil {
		return StepResult{}, err
	}
	return result, nil
}

func (t *Trainer) diagnose(r *StepResult) {
	pModel := t.pModel.Current()
	pTarget := t.pTarget.Current()
	pData := t.pData.Current()
	r.KLD = dist.KL(pData, pModel)
	r.KLDTarget = dist.KL(pData, pTarget)
	r.ClassRatio = make([]float32, len(pModel))
	for i := range pModel {
		r.ClassRatio[i] = pModel[i] / max(pData[i], dist.Epsilon)
	}
	r.PModel = pModel
}

// commit applies a step's state changes. The optimizer validates gradient
// shapes before it writes, so an error here leaves the trainer untouched.
func (t *Trainer) commit(grads model.Grads, updates model.Updates, guess Guess, lx blas32.General, batch int) error {
	if err := t.opt.Minimize(t.params.Trainable(), grads, t.cfg.LR); err != nil {
		return err
	}
	decay := 1 - t.cfg.WD*t.cfg.LR
	for _, p := range t.params.Kernels() {
		tensor2d.Scal(decay, p.Value)
	}
	updates.Apply()
	t.shadow.Apply()

	// Shapes were fixed at construction; these cannot fail for a validated batch.
	_ = t.pModel.UpdateBatch(guess.PModel)
	_ = t.pTarget.UpdateBatch(guess.PTarget)
	if t.pData.HasUpdate() {
		_ = t.pData.Update(lx)
	}
	t.examples += int64(batch)
	return nil
}

// Classify returns class probabilities using the EMA shadow parameters in
// inference mode.
func (t *Trainer) Classify(x blas32.General) (blas32.General, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.classify(x, t.shadow.Getter())
}

// ClassifyRaw is Classify with the live parameters.
func (t *Trainer) ClassifyRaw(x blas32.General) (blas32.General, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.classify(x, model.Live)
}

func (t *Trainer) classify(x blas32.General, get model.Getter) (blas32.General, error) {
	out, err := t.clf.Classify(x, false, get)
	if err != nil {
		return blas32.General{}, err
	}
	return dist.Softmax(out.Logits), nil
}

// Accuracy evaluates the EMA classifier, or the live one when raw is set.
func (t *Trainer) Accuracy(x blas32.General, labels []int, raw bool) (float32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	get := t.shadow.Getter()
	if raw {
		get = model.Live
	}
	return model.Accuracy(t.clf, x, labels, get, t.cfg.Workers)
}
