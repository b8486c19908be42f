package optimizer_test

import (
	"math"
	"testing"

	"github.com/sw965/mixmatch/model"
	"github.com/sw965/mixmatch/optimizer"
	"gonum.org/v1/gonum/blas/blas32"
)

func scalarParam(name string, v float32) *model.Parameter {
	return &model.Parameter{Name: name, Kind: model.Kernel, Value: blas32.General{Rows: 1, Cols: 1, Stride: 1, Data: []float32{v}}}
}

func scalarGrad(g float32) blas32.General {
	return blas32.General{Rows: 1, Cols: 1, Stride: 1, Data: []float32{g}}
}

func TestMinimizersFollowGradientSign(t *testing.T) {
	for _, name := range []string{"adam", "momentum"} {
		opt, err := optimizer.New(name)
		if err != nil {
			t.Fatalf("New(%q): %v", name, err)
		}
		up := scalarParam("up", 1.0)
		down := scalarParam("down", 1.0)
		params := model.Parameters{up, down}
		grads := model.Grads{"up": scalarGrad(-2.0), "down": scalarGrad(2.0)}
		if err := opt.Minimize(params, grads, 0.01); err != nil {
			t.Fatalf("%s: Minimize: %v", name, err)
		}
		if up.Value.Data[0] <= 1.0 {
			t.Errorf("%s: negative gradient did not increase the parameter: %v", name, up.Value.Data[0])
		}
		if down.Value.Data[0] >= 1.0 {
			t.Errorf("%s: positive gradient did not decrease the parameter: %v", name, down.Value.Data[0])
		}
	}
}

func TestAdamFirstStepIsLearningRate(t *testing.T) {
	// With bias correction the first step is lr * g/|g|.
	adam := optimizer.NewAdam()
	p := scalarParam("w", 5.0)
	if err := adam.Minimize(model.Parameters{p}, model.Grads{"w": scalarGrad(1.0)}, 0.04); err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	if diff := 5.0 - p.Value.Data[0]; math.Abs(float64(diff-0.04)) > 1e-5 {
		t.Errorf("first step = %v, want 0.04", diff)
	}
	if adam.Iter() != 1 {
		t.Errorf("iter = %d, want 1", adam.Iter())
	}
}

func TestMinimizeSkipsParametersWithoutGradient(t *testing.T) {
	adam := optimizer.NewAdam()
	p := scalarParam("w", 3.0)
	if err := adam.Minimize(model.Parameters{p}, model.Grads{}, 0.1); err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	if p.Value.Data[0] != 3.0 {
		t.Errorf("parameter without gradient moved to %v", p.Value.Data[0])
	}
}

func TestMinimizeShapeMismatch(t *testing.T) {
	p := scalarParam("w", 3.0)
	grads := model.Grads{"w": {Rows: 1, Cols: 2, Stride: 2, Data: []float32{1, 1}}}
	if err := optimizer.NewAdam().Minimize(model.Parameters{p}, grads, 0.1); err == nil {
		t.Errorf("shape mismatch should fail")
	}
	if p.Value.Data[0] != 3.0 {
		t.Errorf("failed Minimize modified the parameter")
	}
}

func TestNewUnknown(t *testing.T) {
	if _, err := optimizer.New("sgd2"); err == nil {
		t.Errorf("unknown optimizer should fail")
	}
}
