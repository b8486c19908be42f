// Package dist holds categorical distribution helpers: softmax, sharpening,
// one-hot encoding, KL divergence and the moving-average trackers used to
// follow predicted class distributions across training steps.
package dist

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/sw965/mixmatch/blas32/tensor/2d"
	"gonum.org/v1/gonum/blas/blas32"
)

// Epsilon guards every renormalization denominator.
const Epsilon float32 = 1e-12

// Normalize rescales p in place so that it sums to 1. A (near) zero sum turns p uniform.
func Normalize(p []float32) {
	var sum float32
	for _, e := range p {
		sum += e
	}
	if sum < Epsilon {
		u := 1.0 / float32(len(p))
		for i := range p {
			p[i] = u
		}
		return
	}
	for i := range p {
		p[i] /= sum
	}
}

func Uniform(n int) []float32 {
	p := make([]float32, n)
	for i := range p {
		p[i] = 1.0 / float32(n)
	}
	return p
}

// Softmax applies a numerically stable softmax to every row of logits.
func Softmax(logits blas32.General) blas32.General {
	y := tensor2d.NewZerosLike(logits)
	for r := 0; r < logits.Rows; r++ {
		x := tensor2d.Row(logits, r)
		out := tensor2d.Row(y, r)
		maxX := x[0]
		for _, e := range x[1:] {
			if e > maxX {
				maxX = e
			}
		}
		var sum float32
		for i, e := range x {
			out[i] = math32.Exp(e - maxX)
			sum += out[i]
		}
		for i := range out {
			out[i] /= sum
		}
	}
	return y
}

// Sharpen raises every row of p to the power 1/t and renormalizes it.
func Sharpen(p blas32.General, t float32) (blas32.General, error) {
	if !(t > 0) {
		return blas32.General{}, fmt.Errorf("dist.Sharpen: temperature must be > 0 (got %v)", t)
	}
	y := tensor2d.Clone(p)
	inv := 1.0 / t
	for r := 0; r < y.Rows; r++ {
		row := tensor2d.Row(y, r)
		// Dividing by the row max first keeps p^(1/t) from underflowing for small t.
		maxP := row[0]
		for _, e := range row[1:] {
			if e > maxP {
				maxP = e
			}
		}
		if !(maxP > 0) {
			Normalize(row)
			continue
		}
		for i, e := range row {
			row[i] = math32.Pow(e/maxP, inv)
		}
		Normalize(row)
	}
	return y, nil
}

func OneHot(labels []int, nclass int) (blas32.General, error) {
	y := tensor2d.NewZeros(len(labels), nclass)
	for i, label := range labels {
		if label < 0 || label >= nclass {
			return blas32.General{}, fmt.Errorf("dist.OneHot: label %d at index %d is outside [0, %d)", label, i, nclass)
		}
		y.Data[tensor2d.At(y, i, label)] = 1.0
	}
	return y, nil
}

// KL returns KL(p || q) after renormalizing both arguments.
func KL(p, q []float32) float32 {
	pn := append([]float32(nil), p...)
	qn := append([]float32(nil), q...)
	Normalize(pn)
	Normalize(qn)
	var kl float32
	for i, pi := range pn {
		if pi <= 0 {
			continue
		}
		kl -= pi * math32.Log(math32.Max(qn[i], Epsilon)/pi)
	}
	return kl
}
