// Package model defines the classifier capability the trainer consumes and
// a small batch-normalized MLP implementing it.
//
// A forward pass never mutates the classifier. It returns its logits, a
// backward tape and the state updates (batch-norm running statistics) it
// would like to make; callers decide which updates to apply.
package model

import (
	"fmt"

	"github.com/sw965/mixmatch/blas32/tensor/2d"
	"gonum.org/v1/gonum/blas/blas32"
)

// Update is a deferred assignment of Value to Target.
type Update struct {
	Target *Parameter
	Value  blas32.General
}

func (u Update) Apply() {
	copy(u.Target.Value.Data, u.Value.Data)
}

type Updates []Update

func (us Updates) Apply() {
	for _, u := range us {
		u.Apply()
	}
}

// Backward maps dL/dy to dL/dx and accumulates parameter gradients into grads.
type Backward func(chain blas32.General, grads Grads) (blas32.General, error)

type Output struct {
	Logits   blas32.General
	Backward Backward
	Updates  Updates
}

// Detach returns a copy of the logits that no gradient flows back through.
func (o Output) Detach() blas32.General {
	return tensor2d.Clone(o.Logits)
}

type Classifier interface {
	Classify(x blas32.General, training bool, get Getter) (Output, error)
	Parameters() Parameters
	InputSize() int
	NumClasses() int
}

type Layer interface {
	Parameters() Parameters
	Forward(x blas32.General, training bool, get Getter) (blas32.General, Backward, Updates, error)
}

type Sequential struct {
	Layers    []Layer
	inputSize int
	nclass    int
}

func NewSequential(inputSize, nclass int, layers ...Layer) *Sequential {
	return &Sequential{Layers: layers, inputSize: inputSize, nclass: nclass}
}

func (s *Sequential) InputSize() int {
	return s.inputSize
}

func (s *Sequential) NumClasses() int {
	return s.nclass
}

func (s *Sequential) Parameters() Parameters {
	var ps Parameters
	for _, l := range s.Layers {
		ps = append(ps, l.Parameters()...)
	}
	return ps
}

func (s *Sequential) Classify(x blas32.General, training bool, get Getter) (Output, error) {
	if x.Cols != s.inputSize {
		return Output{}, fmt.Errorf("model.Sequential: input has %d cols, want %d", x.Cols, s.inputSize)
	}
	if get == nil {
		get = Live
	}

	backwards := make([]Backward, len(s.Layers))
	var updates Updates
	for i, l := range s.Layers {
		y, backward, us, err := l.Forward(x, training, get)
		if err != nil {
			return Output{}, err
		}
		backwards[i] = backward
		updates = append(updates, us...)
		x = y
	}
	if x.Cols != s.nclass {
		return Output{}, fmt.Errorf("model.Sequential: output has %d cols, want %d", x.Cols, s.nclass)
	}

	backward := func(chain blas32.General, grads Grads) (blas32.General, error) {
		var err error
		for i := len(backwards) - 1; i >= 0; i-- {
			chain, err = backwards[i](chain, grads)
			if err != nil {
				return blas32.General{}, err
			}
		}
		return chain, nil
	}
	return Output{Logits: x, Backward: backward, Updates: updates}, nil
}
