// Package tensors2d operates on lists of equally shaped matrices, such as
// the labeled stream and its unlabeled views.
package tensors2d

import (
	"fmt"

	"github.com/sw965/mixmatch/blas32/tensor/2d"
	"gonum.org/v1/gonum/blas/blas32"
)

func Clone(gens []blas32.General) []blas32.General {
	clone := make([]blas32.General, len(gens))
	for i, gen := range gens {
		clone[i] = tensor2d.Clone(gen)
	}
	return clone
}

// CheckSameShape reports the first matrix whose shape differs from gens[0].
func CheckSameShape(gens []blas32.General) error {
	for i, gen := range gens {
		if !tensor2d.SameShape(gen, gens[0]) {
			return fmt.Errorf("tensors2d: matrix %d is %dx%d, matrix 0 is %dx%d", i, gen.Rows, gen.Cols, gens[0].Rows, gens[0].Cols)
		}
	}
	return nil
}

// Mean returns the element-wise mean of gens.
func Mean(gens []blas32.General) (blas32.General, error) {
	if len(gens) == 0 {
		return blas32.General{}, fmt.Errorf("tensors2d.Mean: no matrices")
	}
	if err := CheckSameShape(gens); err != nil {
		return blas32.General{}, err
	}
	mean := tensor2d.NewZerosLike(gens[0])
	w := 1.0 / float32(len(gens))
	for _, gen := range gens {
		tensor2d.Axpy(w, gen, mean)
	}
	return mean, nil
}
