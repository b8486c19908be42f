// Package ema keeps an exponential moving average shadow of model parameters.
package ema

import (
	"fmt"

	"github.com/sw965/mixmatch/blas32/tensor/2d"
	"github.com/sw965/mixmatch/model"
	"gonum.org/v1/gonum/blas/blas32"
)

// Shadow owns one copy per tracked parameter, initialized from its live
// value. Only Apply writes to it.
type Shadow struct {
	decay  float32
	params model.Parameters
	values map[string]blas32.General
}

func New(decay float32, params model.Parameters) (*Shadow, error) {
	if decay < 0 || decay > 1 {
		return nil, fmt.Errorf("ema: decay must be in [0, 1] (got %v)", decay)
	}
	values := make(map[string]blas32.General, len(params))
	for _, p := range params {
		if _, ok := values[p.Name]; ok {
			return nil, fmt.Errorf("ema: duplicate parameter name %s", p.Name)
		}
		values[p.Name] = tensor2d.Clone(p.Value)
	}
	return &Shadow{decay: decay, params: params, values: values}, nil
}

// Apply sets shadow = decay*shadow + (1-decay)*live for every tracked parameter.
func (s *Shadow) Apply() {
	for _, p := range s.params {
		sv := s.values[p.Name]
		for i, e := range p.Value.Data {
			sv.Data[i] = s.decay*sv.Data[i] + (1-s.decay)*e
		}
	}
}

// Getter reads shadow values for tracked parameters and live values otherwise.
func (s *Shadow) Getter() model.Getter {
	return func(p *model.Parameter) blas32.General {
		if v, ok := s.values[p.Name]; ok {
			return v
		}
		return p.Value
	}
}

func (s *Shadow) Value(name string) (blas32.General, bool) {
	v, ok := s.values[name]
	return v, ok
}

func (s *Shadow) Values() map[string][]float32 {
	values := make(map[string][]float32, len(s.values))
	for name, v := range s.values {
		values[name] = tensor2d.Clone(v).Data
	}
	return values
}

func (s *Shadow) SetValues(values map[string][]float32) error {
	for name, v := range s.values {
		nv, ok := values[name]
		if !ok {
			return fmt.Errorf("ema: no shadow value for %s", name)
		}
		if len(nv) != len(v.Data) {
			return fmt.Errorf("ema: shadow %s has %d values, want %d", name, len(nv), len(v.Data))
		}
	}
	for name, v := range s.values {
		copy(v.Data, values[name])
	}
	return nil
}
