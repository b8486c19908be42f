package model

import (
	"fmt"
	"math/rand/v2"

	"github.com/sw965/mixmatch/blas32/tensor/2d"
	"github.com/sw965/mixmatch/blas32/vector"
	"github.com/sw965/omw/parallel"
	"gonum.org/v1/gonum/blas/blas32"
)

const LeakyReLUAlpha = 0.1

// Arch sizes the MLP. Stage s has Repeat dense/batch-norm/leaky-ReLU
// blocks of width Filters<<s; Scales is the number of stages.
type Arch struct {
	InputSize int
	NClass    int
	Filters   int
	Repeat    int
	Scales    int
}

func (a Arch) Validate() error {
	if a.InputSize <= 0 {
		return fmt.Errorf("model.Arch: input size must be > 0 (got %d)", a.InputSize)
	}
	if a.NClass <= 1 {
		return fmt.Errorf("model.Arch: nclass must be > 1 (got %d)", a.NClass)
	}
	if a.Filters <= 0 || a.Repeat <= 0 || a.Scales <= 0 {
		return fmt.Errorf("model.Arch: filters, repeat and scales must be > 0 (got %d, %d, %d)", a.Filters, a.Repeat, a.Scales)
	}
	return nil
}

func NewMLP(arch Arch, rng *rand.Rand) (*Sequential, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	var layers []Layer
	in := arch.InputSize
	for s := 0; s < arch.Scales; s++ {
		width := arch.Filters << s
		for r := 0; r < arch.Repeat; r++ {
			name := fmt.Sprintf("classify/stage%d/block%d", s, r)
			layers = append(layers,
				NewDense(name+"/dense", in, width, rng),
				NewBatchNorm(name+"/bn", width),
				LeakyReLU{Alpha: LeakyReLUAlpha},
			)
			in = width
		}
	}
	layers = append(layers, NewDense("classify/logits", in, arch.NClass, rng))
	return NewSequential(arch.InputSize, arch.NClass, layers...), nil
}

// Accuracy classifies x in inference mode, p chunks at a time, and compares
// the argmax with labels.
func Accuracy(clf Classifier, x blas32.General, labels []int, get Getter, p int) (float32, error) {
	n := x.Rows
	if n != len(labels) {
		return 0.0, fmt.Errorf("model.Accuracy: %d rows but %d labels", n, len(labels))
	}
	if n == 0 {
		return 0.0, nil
	}
	if p <= 0 {
		p = 1
	}
	chunk := (n + p - 1) / p
	chunks := (n + chunk - 1) / chunk
	correct := make([]int, chunks)

	err := parallel.For(chunks, p, func(_, idx int) error {
		from := idx * chunk
		to := min(from+chunk, n)
		out, err := clf.Classify(tensor2d.SliceRows(x, from, to), false, get)
		if err != nil {
			return err
		}
		for r := 0; r < out.Logits.Rows; r++ {
			if vector.Argmax(tensor2d.Row(out.Logits, r)) == labels[from+r] {
				correct[idx]++
			}
		}
		return nil
	})
	if err != nil {
		return 0.0, err
	}

	sum := 0
	for _, c := range correct {
		sum += c
	}
	return float32(sum) / float32(n), nil
}
