// Package interleave reorders nu+1 equally sized batches so that every
// batch passed through the classifier holds a slice of every stream.
// Batch 0 exchanges its i-th group with the i-th group of batch i, which
// makes the reordering its own inverse.
package interleave

import (
	"fmt"

	"github.com/sw965/mixmatch/blas32/tensor/2d"
	"gonum.org/v1/gonum/blas/blas32"
)

// Offsets splits batch rows into nu+1 contiguous groups. Remainder rows
// go to the last groups.
func Offsets(batch, nu int) []int {
	groups := make([]int, nu+1)
	for i := range groups {
		groups[i] = batch / (nu + 1)
	}
	for x := 0; x < batch-(batch/(nu+1))*(nu+1); x++ {
		groups[len(groups)-x-1]++
	}
	offsets := make([]int, nu+2)
	for i, g := range groups {
		offsets[i+1] = offsets[i] + g
	}
	return offsets
}

// Interleave returns freshly allocated batches; xs is left untouched.
func Interleave(xs []blas32.General, batch int) ([]blas32.General, error) {
	if len(xs) == 0 {
		return nil, fmt.Errorf("interleave: no batches")
	}
	if batch <= 0 {
		return nil, fmt.Errorf("interleave: batch must be > 0 (got %d)", batch)
	}
	for i, x := range xs {
		if x.Rows != batch {
			return nil, fmt.Errorf("interleave: batch %d has %d rows, want %d", i, x.Rows, batch)
		}
		if x.Cols != xs[0].Cols {
			return nil, fmt.Errorf("interleave: batch %d has %d cols, want %d", i, x.Cols, xs[0].Cols)
		}
	}

	nu := len(xs) - 1
	offsets := Offsets(batch, nu)
	groups := make([][]blas32.General, len(xs))
	for i, x := range xs {
		groups[i] = make([]blas32.General, nu+1)
		for p := range groups[i] {
			groups[i][p] = tensor2d.SliceRows(x, offsets[p], offsets[p+1])
		}
	}
	for i := 1; i <= nu; i++ {
		groups[0][i], groups[i][i] = groups[i][i], groups[0][i]
	}

	ys := make([]blas32.General, len(xs))
	for i, g := range groups {
		y, err := tensor2d.ConcatRows(g...)
		if err != nil {
			return nil, err
		}
		ys[i] = y
	}
	return ys, nil
}
