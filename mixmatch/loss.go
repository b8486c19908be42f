package mixmatch

import (
	"github.com/chewxy/math32"
	"github.com/sw965/mixmatch/blas32/tensor/2d"
	"github.com/sw965/mixmatch/dist"
	"gonum.org/v1/gonum/blas/blas32"
)

// SoftmaxCrossEntropy returns mean_rows(-sum(labels * log_softmax(logits)))
// and its gradient with respect to logits.
func SoftmaxCrossEntropy(labels, logits blas32.General) (float32, blas32.General) {
	grad := dist.Softmax(logits)
	n := float32(logits.Rows)
	var loss float32
	for r := 0; r < logits.Rows; r++ {
		z := tensor2d.Row(logits, r)
		y := tensor2d.Row(labels, r)
		g := tensor2d.Row(grad, r)

		maxZ := z[0]
		for _, e := range z[1:] {
			maxZ = max(maxZ, e)
		}
		var sumExp float32
		for _, e := range z {
			sumExp += math32.Exp(e - maxZ)
		}
		logSumExp := maxZ + math32.Log(sumExp)

		var sumY float32
		for i, e := range y {
			loss -= e * (z[i] - logSumExp)
			sumY += e
		}
		for i := range g {
			g[i] = (g[i]*sumY - y[i]) / n
		}
	}
	return loss / n, grad
}

// SquaredSoftmaxError returns mean((labels - softmax(logits))^2) over all
// elements and its gradient with respect to logits.
func SquaredSoftmaxError(labels, logits blas32.General) (float32, blas32.General) {
	q := dist.Softmax(logits)
	grad := tensor2d.NewZerosLike(logits)
	n := float32(tensor2d.N(logits))
	var loss float32
	dq := make([]float32, logits.Cols)
	for r := 0; r < logits.Rows; r++ {
		y := tensor2d.Row(labels, r)
		qr := tensor2d.Row(q, r)
		g := tensor2d.Row(grad, r)

		var dot float32
		for i := range qr {
			d := qr[i] - y[i]
			loss += d * d
			dq[i] = 2 * d / n
			dot += dq[i] * qr[i]
		}
		// Softmax Jacobian: dz_i = q_i * (dq_i - sum_j dq_j*q_j).
		for i := range g {
			g[i] = qr[i] * (dq[i] - dot)
		}
	}
	return loss / n, grad
}
