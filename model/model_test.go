package model_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/sw965/mixmatch/blas32/tensor/2d"
	"github.com/sw965/mixmatch/mathx"
	"github.com/sw965/mixmatch/model"
	"gonum.org/v1/gonum/blas/blas32"
)

func randomMatrix(rows, cols int, rng *rand.Rand) blas32.General {
	gen := tensor2d.NewZeros(rows, cols)
	for i := range gen.Data {
		gen.Data[i] = float32(rng.NormFloat64())
	}
	return gen
}

// linearLoss is sum(logits * r), so dL/dlogits = r.
func linearLoss(t *testing.T, clf model.Classifier, x, r blas32.General) float32 {
	t.Helper()
	out, err := clf.Classify(x, true, nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	var sum float64
	for i, e := range out.Logits.Data {
		sum += float64(e * r.Data[i])
	}
	return float32(sum)
}

func assertClose(t *testing.T, name string, numeric, analytic float32) {
	t.Helper()
	diff := math.Abs(float64(numeric - analytic))
	if diff > 1e-2*(1+math.Abs(float64(numeric))) {
		t.Errorf("%s: numeric %v, analytic %v", name, numeric, analytic)
	}
}

func checkGrads(t *testing.T, clf model.Classifier, x blas32.General, rng *rand.Rand) {
	t.Helper()
	const h float32 = 1e-2
	r := randomMatrix(x.Rows, clf.NumClasses(), rng)

	out, err := clf.Classify(x, true, nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	grads := model.Grads{}
	dx, err := out.Backward(r, grads)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}

	for _, p := range clf.Parameters().Trainable() {
		g, ok := grads[p.Name]
		if !ok {
			t.Fatalf("no gradient for %s", p.Name)
		}
		for k := 0; k < 4; k++ {
			i := rng.IntN(len(p.Value.Data))
			orig := p.Value.Data[i]
			p.Value.Data[i] = orig + h
			plus := linearLoss(t, clf, x, r)
			p.Value.Data[i] = orig - h
			minus := linearLoss(t, clf, x, r)
			p.Value.Data[i] = orig
			assertClose(t, p.Name, mathx.CentralDifference(plus, minus, h), g.Data[i])
		}
	}

	for k := 0; k < 4; k++ {
		i := rng.IntN(len(x.Data))
		orig := x.Data[i]
		x.Data[i] = orig + h
		plus := linearLoss(t, clf, x, r)
		x.Data[i] = orig - h
		minus := linearLoss(t, clf, x, r)
		x.Data[i] = orig
		assertClose(t, "input", mathx.CentralDifference(plus, minus, h), dx.Data[i])
	}
}

func TestDenseGrad(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	clf := model.NewSequential(3, 2, model.NewDense("d", 3, 2, rng))
	checkGrads(t, clf, randomMatrix(5, 3, rng), rng)
}

func TestDenseBatchNormDenseGrad(t *testing.T) {
	rng := rand.New(rand.NewPCG(2, 2))
	bn := model.NewBatchNorm("bn", 4)
	for i := range bn.Gamma.Value.Data {
		bn.Gamma.Value.Data[i] = 0.5 + rng.Float32()
		bn.Beta.Value.Data[i] = rng.Float32() - 0.5
	}
	clf := model.NewSequential(3, 2,
		model.NewDense("d0", 3, 4, rng),
		bn,
		model.NewDense("d1", 4, 2, rng),
	)
	checkGrads(t, clf, randomMatrix(6, 3, rng), rng)
}

func TestLeakyReLU(t *testing.T) {
	l := model.LeakyReLU{Alpha: 0.1}
	x := blas32.General{Rows: 1, Cols: 4, Stride: 4, Data: []float32{-2, -0.5, 0.5, 3}}
	y, backward, updates, err := l.Forward(x, true, model.Live)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(updates) != 0 {
		t.Errorf("LeakyReLU emitted %d updates", len(updates))
	}
	want := []float32{-0.2, -0.05, 0.5, 3}
	for i := range want {
		if math.Abs(float64(y.Data[i]-want[i])) > 1e-6 {
			t.Fatalf("y = %v, want %v", y.Data, want)
		}
	}
	dx, err := backward(tensor2d.NewOnes(1, 4), model.Grads{})
	if err != nil {
		t.Fatalf("backward: %v", err)
	}
	wantDx := []float32{0.1, 0.1, 1, 1}
	for i := range wantDx {
		if math.Abs(float64(dx.Data[i]-wantDx[i])) > 1e-6 {
			t.Fatalf("dx = %v, want %v", dx.Data, wantDx)
		}
	}
}

func TestBatchNormUpdatesAreDeferred(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 3))
	bn := model.NewBatchNorm("bn", 2)
	x := blas32.General{Rows: 2, Cols: 2, Stride: 2, Data: []float32{1, 2, 3, 6}}

	_, _, updates, err := bn.Forward(x, true, model.Live)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(updates))
	}
	if bn.Mean.Value.Data[0] != 0 {
		t.Fatalf("forward pass mutated the running mean")
	}
	updates.Apply()
	m := bn.Momentum
	if got, want := bn.Mean.Value.Data[1], (1-m)*4; math.Abs(float64(got-want)) > 1e-6 {
		t.Errorf("moving mean = %v, want %v", got, want)
	}
	if got, want := bn.Variance.Value.Data[0], m+(1-m)*1; math.Abs(float64(got-want)) > 1e-6 {
		t.Errorf("moving variance = %v, want %v", got, want)
	}

	_, _, updates, err = bn.Forward(randomMatrix(3, 2, rng), false, model.Live)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(updates) != 0 {
		t.Errorf("inference emitted %d updates", len(updates))
	}
}

func TestNewMLP(t *testing.T) {
	rng := rand.New(rand.NewPCG(4, 4))
	clf, err := model.NewMLP(model.Arch{InputSize: 4, NClass: 3, Filters: 2, Repeat: 2, Scales: 2}, rng)
	if err != nil {
		t.Fatalf("NewMLP: %v", err)
	}
	if n := len(clf.Parameters().Kernels()); n != 5 {
		t.Errorf("got %d kernels, want 5", n)
	}
	last, ok := clf.Parameters().Lookup("classify/stage1/block1/dense/kernel")
	if !ok {
		t.Fatalf("missing stage1/block1 kernel among %v", clf.Parameters().Names())
	}
	if last.Value.Rows != 4 || last.Value.Cols != 4 {
		t.Errorf("stage1 kernel is %dx%d, want 4x4", last.Value.Rows, last.Value.Cols)
	}
	for _, p := range clf.Parameters() {
		if (p.Kind == model.Statistic) == p.Trainable() {
			t.Errorf("%s: kind %v trainable=%v", p.Name, p.Kind, p.Trainable())
		}
	}

	out, err := clf.Classify(randomMatrix(5, 4, rng), true, nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if out.Logits.Rows != 5 || out.Logits.Cols != 3 {
		t.Errorf("logits are %dx%d, want 5x3", out.Logits.Rows, out.Logits.Cols)
	}
	if len(out.Updates) != 8 {
		t.Errorf("got %d updates, want 8", len(out.Updates))
	}

	if _, err := clf.Classify(randomMatrix(5, 3, rng), true, nil); err == nil {
		t.Errorf("wrong input width should fail")
	}
	if _, err := model.NewMLP(model.Arch{InputSize: 4, NClass: 1, Filters: 2, Repeat: 1, Scales: 1}, rng); err == nil {
		t.Errorf("nclass=1 should fail")
	}
}

func TestGetterOverridesValues(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 5))
	clf, _ := model.NewMLP(model.Arch{InputSize: 3, NClass: 2, Filters: 2, Repeat: 1, Scales: 1}, rng)
	zeros := func(p *model.Parameter) blas32.General {
		if p.Kind == model.Kernel {
			return tensor2d.NewZerosLike(p.Value)
		}
		return p.Value
	}
	out, err := clf.Classify(randomMatrix(4, 3, rng), false, zeros)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	for _, e := range out.Logits.Data {
		if e != 0 {
			t.Fatalf("logits with zero kernels = %v, want zeros", out.Logits.Data)
		}
	}
}

func TestDetach(t *testing.T) {
	out := model.Output{Logits: blas32.General{Rows: 1, Cols: 2, Stride: 2, Data: []float32{1, 2}}}
	d := out.Detach()
	d.Data[0] = 5
	if out.Logits.Data[0] != 1 {
		t.Errorf("Detach shares storage with the logits")
	}
}

func TestValuesRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(6, 6))
	a, _ := model.NewMLP(model.Arch{InputSize: 3, NClass: 2, Filters: 2, Repeat: 1, Scales: 1}, rng)
	b, _ := model.NewMLP(model.Arch{InputSize: 3, NClass: 2, Filters: 2, Repeat: 1, Scales: 1}, rng)
	if err := b.Parameters().SetValues(a.Parameters().Values()); err != nil {
		t.Fatalf("SetValues: %v", err)
	}
	for i, p := range a.Parameters() {
		if !tensor2d.Equal(p.Value, b.Parameters()[i].Value) {
			t.Errorf("%s differs after SetValues", p.Name)
		}
	}
	if err := b.Parameters().SetValues(map[string][]float32{}); err == nil {
		t.Errorf("missing values should fail")
	}
}

func TestAccuracy(t *testing.T) {
	d := model.NewDense("d", 3, 3, rand.New(rand.NewPCG(7, 7)))
	d.W.Value = blas32.General{Rows: 3, Cols: 3, Stride: 3, Data: []float32{1, 0, 0, 0, 1, 0, 0, 0, 1}}
	clf := model.NewSequential(3, 3, d)
	x := blas32.General{Rows: 3, Cols: 3, Stride: 3, Data: []float32{
		0.9, 0.1, 0,
		0, 0.2, 0.8,
		0.1, 0.7, 0.2,
	}}
	acc, err := model.Accuracy(clf, x, []int{0, 2, 0}, nil, 2)
	if err != nil {
		t.Fatalf("Accuracy: %v", err)
	}
	if math.Abs(float64(acc-2.0/3)) > 1e-6 {
		t.Errorf("accuracy = %v, want 2/3", acc)
	}
	if _, err := model.Accuracy(clf, x, []int{0}, nil, 2); err == nil {
		t.Errorf("label count mismatch should fail")
	}
}
