package optimizer

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/sw965/mixmatch/blas32/tensor/2d"
	"github.com/sw965/mixmatch/model"
	"gonum.org/v1/gonum/blas/blas32"
)

// Minimizer applies one descent step to params from grads keyed by parameter name.
// Parameters without a gradient are left untouched.
type Minimizer interface {
	Minimize(params model.Parameters, grads model.Grads, lr float32) error
}

func New(name string) (Minimizer, error) {
	switch name {
	case "adam", "":
		return NewAdam(), nil
	case "momentum":
		return NewMomentum(0.9), nil
	}
	return nil, fmt.Errorf("optimizer: unknown optimizer %q", name)
}

func checkShapes(params model.Parameters, grads model.Grads) error {
	for _, p := range params {
		g, ok := grads[p.Name]
		if !ok {
			continue
		}
		if !tensor2d.SameShape(p.Value, g) {
			return fmt.Errorf("optimizer: gradient of %s is %dx%d, want %dx%d", p.Name, g.Rows, g.Cols, p.Value.Rows, p.Value.Cols)
		}
	}
	return nil
}

type Momentum struct {
	Momentum float32
	velocity map[string]blas32.General
}

func NewMomentum(momentum float32) *Momentum {
	return &Momentum{Momentum: momentum, velocity: map[string]blas32.General{}}
}

func (opt *Momentum) Minimize(params model.Parameters, grads model.Grads, lr float32) error {
	if err := checkShapes(params, grads); err != nil {
		return err
	}
	for _, p := range params {
		g, ok := grads[p.Name]
		if !ok {
			continue
		}
		v, ok := opt.velocity[p.Name]
		if !ok {
			v = tensor2d.NewZerosLike(p.Value)
			opt.velocity[p.Name] = v
		}
		for i := range v.Data {
			v.Data[i] = (opt.Momentum * v.Data[i]) - (lr * g.Data[i])
			p.Value.Data[i] += v.Data[i]
		}
	}
	return nil
}

// Adam keeps bias-corrected first and second moment estimates per parameter.
type Adam struct {
	Beta1   float32
	Beta2   float32
	Epsilon float32

	iter int
	m    map[string]blas32.General
	v    map[string]blas32.General
}

func NewAdam() *Adam {
	return &Adam{
		Beta1:   0.9,
		Beta2:   0.999,
		Epsilon: 1e-8,
		m:       map[string]blas32.General{},
		v:       map[string]blas32.General{},
	}
}

func (a *Adam) Minimize(params model.Parameters, grads model.Grads, lr float32) error {
	if err := checkShapes(params, grads); err != nil {
		return err
	}

	a.iter++
	beta1, beta2 := a.Beta1, a.Beta2
	lrt := lr * math32.Sqrt(1-math32.Pow(beta2, float32(a.iter))) / (1 - math32.Pow(beta1, float32(a.iter)))

	for _, p := range params {
		g, ok := grads[p.Name]
		if !ok {
			continue
		}
		m, ok := a.m[p.Name]
		if !ok {
			m = tensor2d.NewZerosLike(p.Value)
			a.m[p.Name] = m
			a.v[p.Name] = tensor2d.NewZerosLike(p.Value)
		}
		v := a.v[p.Name]
		for i, gi := range g.Data {
			m.Data[i] += (1 - beta1) * (gi - m.Data[i])
			v.Data[i] += (1 - beta2) * (gi*gi - v.Data[i])
			p.Value.Data[i] -= lrt * m.Data[i] / (math32.Sqrt(v.Data[i]) + a.Epsilon)
		}
	}
	return nil
}

func (a *Adam) Iter() int {
	return a.iter
}
