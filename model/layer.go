package model

import (
	"fmt"
	"math/rand/v2"

	"github.com/chewxy/math32"
	"github.com/sw965/mixmatch/blas32/tensor/2d"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

type Dense struct {
	W *Parameter
	B *Parameter
}

func NewDense(name string, in, out int, rng *rand.Rand) *Dense {
	return &Dense{
		W: &Parameter{Name: name + "/kernel", Kind: Kernel, Value: tensor2d.NewHe(in, out, rng)},
		B: &Parameter{Name: name + "/bias", Kind: Bias, Value: tensor2d.NewZeros(1, out)},
	}
}

func (d *Dense) Parameters() Parameters {
	return Parameters{d.W, d.B}
}

func (d *Dense) Forward(x blas32.General, _ bool, get Getter) (blas32.General, Backward, Updates, error) {
	w := get(d.W)
	b := get(d.B)
	if x.Cols != w.Rows {
		return blas32.General{}, nil, nil, fmt.Errorf("model.Dense(%s): input has %d cols, want %d", d.W.Name, x.Cols, w.Rows)
	}

	y := tensor2d.NewZeros(x.Rows, w.Cols)
	for r := 0; r < y.Rows; r++ {
		copy(tensor2d.Row(y, r), b.Data[:w.Cols])
	}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1.0, x, w, 1.0, y)

	backward := func(chain blas32.General, grads Grads) (blas32.General, error) {
		if !tensor2d.SameShape(chain, y) {
			return blas32.General{}, fmt.Errorf("model.Dense(%s): chain is %dx%d, want %dx%d", d.W.Name, chain.Rows, chain.Cols, y.Rows, y.Cols)
		}
		grads.Accumulate(d.W.Name, tensor2d.Dot(blas.Trans, blas.NoTrans, x, chain))
		db := tensor2d.Sum0(chain)
		grads.Accumulate(d.B.Name, blas32.General{Rows: 1, Cols: db.N, Stride: db.N, Data: db.Data})
		return tensor2d.Dot(blas.NoTrans, blas.Trans, chain, w), nil
	}
	return y, backward, nil, nil
}

type BatchNorm struct {
	Gamma    *Parameter
	Beta     *Parameter
	Mean     *Parameter
	Variance *Parameter
	Momentum float32
	Epsilon  float32
}

func NewBatchNorm(name string, n int) *BatchNorm {
	return &BatchNorm{
		Gamma:    &Parameter{Name: name + "/gamma", Kind: Scale, Value: tensor2d.NewOnes(1, n)},
		Beta:     &Parameter{Name: name + "/beta", Kind: Shift, Value: tensor2d.NewZeros(1, n)},
		Mean:     &Parameter{Name: name + "/moving_mean", Kind: Statistic, Value: tensor2d.NewZeros(1, n)},
		Variance: &Parameter{Name: name + "/moving_variance", Kind: Statistic, Value: tensor2d.NewOnes(1, n)},
		Momentum: 0.999,
		Epsilon:  0.001,
	}
}

func (bn *BatchNorm) Parameters() Parameters {
	return Parameters{bn.Gamma, bn.Beta, bn.Mean, bn.Variance}
}

func (bn *BatchNorm) Forward(x blas32.General, training bool, get Getter) (blas32.General, Backward, Updates, error) {
	gamma := get(bn.Gamma).Data
	beta := get(bn.Beta).Data
	n := x.Cols
	if len(gamma) != n {
		return blas32.General{}, nil, nil, fmt.Errorf("model.BatchNorm(%s): input has %d cols, want %d", bn.Gamma.Name, n, len(gamma))
	}

	var mean, variance []float32
	var updates Updates
	if training {
		if x.Rows == 0 {
			return blas32.General{}, nil, nil, fmt.Errorf("model.BatchNorm(%s): empty batch", bn.Gamma.Name)
		}
		mean = tensor2d.Mean0(x).Data
		variance = make([]float32, n)
		for r := 0; r < x.Rows; r++ {
			for c, e := range tensor2d.Row(x, r) {
				d := e - mean[c]
				variance[c] += d * d
			}
		}
		for c := range variance {
			variance[c] /= float32(x.Rows)
		}
		updates = Updates{
			bn.movingUpdate(bn.Mean, get, mean),
			bn.movingUpdate(bn.Variance, get, variance),
		}
	} else {
		mean = get(bn.Mean).Data
		variance = get(bn.Variance).Data
	}

	invStd := make([]float32, n)
	for c := range invStd {
		invStd[c] = 1.0 / math32.Sqrt(variance[c]+bn.Epsilon)
	}
	xhat := tensor2d.NewZerosLike(x)
	y := tensor2d.NewZerosLike(x)
	for r := 0; r < x.Rows; r++ {
		xr := tensor2d.Row(x, r)
		hr := tensor2d.Row(xhat, r)
		yr := tensor2d.Row(y, r)
		for c := range xr {
			hr[c] = (xr[c] - mean[c]) * invStd[c]
			yr[c] = gamma[c]*hr[c] + beta[c]
		}
	}

	backward := func(chain blas32.General, grads Grads) (blas32.General, error) {
		if !tensor2d.SameShape(chain, y) {
			return blas32.General{}, fmt.Errorf("model.BatchNorm(%s): chain is %dx%d, want %dx%d", bn.Gamma.Name, chain.Rows, chain.Cols, y.Rows, y.Cols)
		}
		dgamma := tensor2d.NewZeros(1, n)
		dbeta := tensor2d.NewZeros(1, n)
		for r := 0; r < chain.Rows; r++ {
			cr := tensor2d.Row(chain, r)
			hr := tensor2d.Row(xhat, r)
			for c := range cr {
				dgamma.Data[c] += cr[c] * hr[c]
				dbeta.Data[c] += cr[c]
			}
		}
		grads.Accumulate(bn.Gamma.Name, dgamma)
		grads.Accumulate(bn.Beta.Name, dbeta)

		dx := tensor2d.NewZerosLike(chain)
		if !training {
			for r := 0; r < chain.Rows; r++ {
				cr := tensor2d.Row(chain, r)
				dr := tensor2d.Row(dx, r)
				for c := range cr {
					dr[c] = cr[c] * gamma[c] * invStd[c]
				}
			}
			return dx, nil
		}

		// With batch statistics the mean and variance depend on every row:
		// dx = invStd/m * (m*dxhat - sum(dxhat) - xhat*sum(dxhat*xhat))
		m := float32(chain.Rows)
		sumD := make([]float32, n)
		sumDH := make([]float32, n)
		for r := 0; r < chain.Rows; r++ {
			cr := tensor2d.Row(chain, r)
			hr := tensor2d.Row(xhat, r)
			for c := range cr {
				d := cr[c] * gamma[c]
				sumD[c] += d
				sumDH[c] += d * hr[c]
			}
		}
		for r := 0; r < chain.Rows; r++ {
			cr := tensor2d.Row(chain, r)
			hr := tensor2d.Row(xhat, r)
			dr := tensor2d.Row(dx, r)
			for c := range cr {
				d := cr[c] * gamma[c]
				dr[c] = invStd[c] / m * (m*d - sumD[c] - hr[c]*sumDH[c])
			}
		}
		return dx, nil
	}
	return y, backward, updates, nil
}

func (bn *BatchNorm) movingUpdate(p *Parameter, get Getter, batch []float32) Update {
	old := get(p).Data
	v := tensor2d.NewZeros(1, len(batch))
	for i := range v.Data {
		v.Data[i] = bn.Momentum*old[i] + (1-bn.Momentum)*batch[i]
	}
	return Update{Target: p, Value: v}
}

type LeakyReLU struct {
	Alpha float32
}

func (l LeakyReLU) Parameters() Parameters {
	return nil
}

func (l LeakyReLU) Forward(x blas32.General, _ bool, _ Getter) (blas32.General, Backward, Updates, error) {
	y := tensor2d.NewZerosLike(x)
	for r := 0; r < x.Rows; r++ {
		xr := tensor2d.Row(x, r)
		yr := tensor2d.Row(y, r)
		for c, e := range xr {
			if e > 0 {
				yr[c] = e
			} else {
				yr[c] = l.Alpha * e
			}
		}
	}

	backward := func(chain blas32.General, _ Grads) (blas32.General, error) {
		if !tensor2d.SameShape(chain, x) {
			return blas32.General{}, fmt.Errorf("model.LeakyReLU: chain is %dx%d, want %dx%d", chain.Rows, chain.Cols, x.Rows, x.Cols)
		}
		dx := tensor2d.NewZerosLike(chain)
		for r := 0; r < x.Rows; r++ {
			xr := tensor2d.Row(x, r)
			cr := tensor2d.Row(chain, r)
			dr := tensor2d.Row(dx, r)
			for c, e := range xr {
				if e > 0 {
					dr[c] = cr[c]
				} else {
					dr[c] = l.Alpha * cr[c]
				}
			}
		}
		return dx, nil
	}
	return y, backward, nil, nil
}
