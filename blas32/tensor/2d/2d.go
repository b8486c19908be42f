package tensor2d

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

func NewZeros(rows, cols int) blas32.General {
	return blas32.General{
		Rows:   rows,
		Cols:   cols,
		Stride: cols,
		Data:   make([]float32, rows*cols),
	}
}

func NewZerosLike(gen blas32.General) blas32.General {
	return NewZeros(gen.Rows, gen.Cols)
}

func NewFilled(rows, cols int, v float32) blas32.General {
	gen := NewZeros(rows, cols)
	for i := range gen.Data {
		gen.Data[i] = v
	}
	return gen
}

func NewOnes(rows, cols int) blas32.General {
	return NewFilled(rows, cols, 1.0)
}

// NewHe initializes a rows x cols kernel whose fan-in is rows.
func NewHe(rows, cols int, rng *rand.Rand) blas32.General {
	gen := NewZeros(rows, cols)
	std := math.Sqrt(2.0 / float64(rows))
	for i := range gen.Data {
		gen.Data[i] = float32(rng.NormFloat64() * std)
	}
	return gen
}

func FromRows(rows [][]float32) (blas32.General, error) {
	if len(rows) == 0 {
		return blas32.General{}, fmt.Errorf("tensor2d.FromRows: no rows")
	}
	cols := len(rows[0])
	gen := NewZeros(len(rows), cols)
	for r, row := range rows {
		if len(row) != cols {
			return blas32.General{}, fmt.Errorf("tensor2d.FromRows: row %d has %d cols, want %d", r, len(row), cols)
		}
		copy(gen.Data[r*cols:], row)
	}
	return gen, nil
}

func N(gen blas32.General) int {
	return gen.Rows * gen.Cols
}

func Clone(gen blas32.General) blas32.General {
	if gen.Stride == gen.Cols {
		return blas32.General{
			Rows:   gen.Rows,
			Cols:   gen.Cols,
			Stride: gen.Stride,
			Data:   slices.Clone(gen.Data[:N(gen)]),
		}
	}
	clone := NewZeros(gen.Rows, gen.Cols)
	for r := 0; r < gen.Rows; r++ {
		copy(clone.Data[r*clone.Stride:], Row(gen, r))
	}
	return clone
}

func At(gen blas32.General, row, col int) int {
	return row*gen.Stride + col
}

func Row(gen blas32.General, row int) []float32 {
	offset := row * gen.Stride
	return gen.Data[offset : offset+gen.Cols]
}

func SameShape(a, b blas32.General) bool {
	return a.Rows == b.Rows && a.Cols == b.Cols
}

func Equal(a, b blas32.General) bool {
	if !SameShape(a, b) {
		return false
	}
	for r := 0; r < a.Rows; r++ {
		if !slices.Equal(Row(a, r), Row(b, r)) {
			return false
		}
	}
	return true
}

// ToVector views a contiguous matrix as a vector without copying.
func ToVector(gen blas32.General) blas32.Vector {
	return blas32.Vector{
		N:    N(gen),
		Inc:  1,
		Data: gen.Data,
	}
}

func Scal(alpha float32, gen blas32.General) {
	blas32.Scal(alpha, ToVector(gen))
}

func Axpy(alpha float32, x, y blas32.General) {
	blas32.Axpy(alpha, ToVector(x), ToVector(y))
}

// Sum0 sums over rows and returns one value per column.
func Sum0(gen blas32.General) blas32.Vector {
	sums := make([]float32, gen.Cols)
	for r := 0; r < gen.Rows; r++ {
		for c, e := range Row(gen, r) {
			sums[c] += e
		}
	}
	return blas32.Vector{
		N:    gen.Cols,
		Inc:  1,
		Data: sums,
	}
}

func Mean0(gen blas32.General) blas32.Vector {
	mean := Sum0(gen)
	if gen.Rows > 0 {
		blas32.Scal(1.0/float32(gen.Rows), mean)
	}
	return mean
}

func Dot(tA, tB blas.Transpose, a, b blas32.General) blas32.General {
	rows := a.Rows
	if tA != blas.NoTrans {
		rows = a.Cols
	}
	cols := b.Cols
	if tB != blas.NoTrans {
		cols = b.Rows
	}
	y := NewZeros(rows, cols)
	blas32.Gemm(tA, tB, 1.0, a, b, 0.0, y)
	return y
}

// SliceRows returns rows [from, to) sharing storage with gen.
func SliceRows(gen blas32.General, from, to int) blas32.General {
	if from == to {
		return blas32.General{Rows: 0, Cols: gen.Cols, Stride: gen.Stride, Data: []float32{}}
	}
	return blas32.General{
		Rows:   to - from,
		Cols:   gen.Cols,
		Stride: gen.Stride,
		Data:   gen.Data[from*gen.Stride : (to-1)*gen.Stride+gen.Cols],
	}
}

func ConcatRows(gens ...blas32.General) (blas32.General, error) {
	if len(gens) == 0 {
		return blas32.General{}, fmt.Errorf("tensor2d.ConcatRows: no matrices")
	}
	cols := gens[0].Cols
	rows := 0
	for i, gen := range gens {
		if gen.Cols != cols {
			return blas32.General{}, fmt.Errorf("tensor2d.ConcatRows: matrix %d has %d cols, want %d", i, gen.Cols, cols)
		}
		rows += gen.Rows
	}
	y := NewZeros(rows, cols)
	offset := 0
	for _, gen := range gens {
		for r := 0; r < gen.Rows; r++ {
			copy(Row(y, offset+r), Row(gen, r))
		}
		offset += gen.Rows
	}
	return y, nil
}

// SplitRows splits gen into n equally sized row blocks that share storage with gen.
func SplitRows(gen blas32.General, n int) ([]blas32.General, error) {
	if n <= 0 || gen.Rows%n != 0 {
		return nil, fmt.Errorf("tensor2d.SplitRows: %d rows cannot be split into %d parts", gen.Rows, n)
	}
	size := gen.Rows / n
	parts := make([]blas32.General, n)
	for i := range parts {
		parts[i] = SliceRows(gen, i*size, (i+1)*size)
	}
	return parts, nil
}
