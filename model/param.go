package model

import (
	"fmt"

	"github.com/sw965/mixmatch/blas32/tensor/2d"
	"gonum.org/v1/gonum/blas/blas32"
)

type Kind int

const (
	Kernel Kind = iota
	Bias
	Scale
	Shift
	// Statistic is state a forward pass tracks rather than a trainable weight.
	Statistic
)

func (k Kind) String() string {
	switch k {
	case Kernel:
		return "kernel"
	case Bias:
		return "bias"
	case Scale:
		return "scale"
	case Shift:
		return "shift"
	case Statistic:
		return "statistic"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

type Parameter struct {
	Name  string
	Kind  Kind
	Value blas32.General
}

func (p *Parameter) Trainable() bool {
	return p.Kind != Statistic
}

type Parameters []*Parameter

func (ps Parameters) Trainable() Parameters {
	trainable := make(Parameters, 0, len(ps))
	for _, p := range ps {
		if p.Trainable() {
			trainable = append(trainable, p)
		}
	}
	return trainable
}

func (ps Parameters) Kernels() Parameters {
	kernels := make(Parameters, 0, len(ps))
	for _, p := range ps {
		if p.Kind == Kernel {
			kernels = append(kernels, p)
		}
	}
	return kernels
}

func (ps Parameters) Lookup(name string) (*Parameter, bool) {
	for _, p := range ps {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

func (ps Parameters) Names() []string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name
	}
	return names
}

// Values copies every parameter value keyed by name.
func (ps Parameters) Values() map[string][]float32 {
	values := make(map[string][]float32, len(ps))
	for _, p := range ps {
		values[p.Name] = tensor2d.Clone(p.Value).Data
	}
	return values
}

// SetValues overwrites parameter values by name. Every parameter must be present.
func (ps Parameters) SetValues(values map[string][]float32) error {
	for _, p := range ps {
		v, ok := values[p.Name]
		if !ok {
			return fmt.Errorf("model: no value for parameter %s", p.Name)
		}
		if len(v) != tensor2d.N(p.Value) {
			return fmt.Errorf("model: parameter %s has %d values, want %d", p.Name, len(v), tensor2d.N(p.Value))
		}
	}
	for _, p := range ps {
		copy(p.Value.Data, values[p.Name])
	}
	return nil
}

// Getter chooses the value a forward pass reads for p, e.g. an EMA shadow.
type Getter func(p *Parameter) blas32.General

func Live(p *Parameter) blas32.General {
	return p.Value
}

// Grads maps parameter names to accumulated gradients.
type Grads map[string]blas32.General

func (g Grads) Accumulate(name string, d blas32.General) {
	if acc, ok := g[name]; ok {
		tensor2d.Axpy(1.0, d, acc)
		return
	}
	g[name] = tensor2d.Clone(d)
}
