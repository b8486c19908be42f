package dist_test

import (
	"math"
	"testing"

	"github.com/sw965/mixmatch/blas32/tensor/2d"
	"github.com/sw965/mixmatch/dist"
	"gonum.org/v1/gonum/blas/blas32"
)

const tol = 1e-5

func almostEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) <= tol
}

func assertRow(t *testing.T, name string, got, want []float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: len = %d, want %d", name, len(got), len(want))
	}
	for i := range got {
		if !almostEqual(got[i], want[i]) {
			t.Fatalf("%s = %v, want %v", name, got, want)
		}
	}
}

func probs() blas32.General {
	p, _ := tensor2d.FromRows([][]float32{
		{0.2, 0.5, 0.3},
		{0.6, 0.1, 0.3},
		{0.25, 0.25, 0.5},
	})
	return p
}

func TestSharpenIdentityAtTemperatureOne(t *testing.T) {
	p := probs()
	y, err := dist.Sharpen(p, 1.0)
	if err != nil {
		t.Fatalf("Sharpen: %v", err)
	}
	for r := 0; r < p.Rows; r++ {
		assertRow(t, "row", tensor2d.Row(y, r), tensor2d.Row(p, r))
	}
}

func TestSharpenSquaresAtHalf(t *testing.T) {
	p, _ := tensor2d.FromRows([][]float32{{0.2, 0.5, 0.3}})
	y, err := dist.Sharpen(p, 0.5)
	if err != nil {
		t.Fatalf("Sharpen: %v", err)
	}
	sum := float32(0.04 + 0.25 + 0.09)
	assertRow(t, "sharpened", tensor2d.Row(y, 0), []float32{0.04 / sum, 0.25 / sum, 0.09 / sum})
}

func TestSharpenConcentratesAsTemperatureFalls(t *testing.T) {
	p := probs()
	prev := make([]float32, p.Rows)
	for _, temp := range []float32{1.0, 0.5, 0.25, 0.1, 0.01} {
		y, err := dist.Sharpen(p, temp)
		if err != nil {
			t.Fatalf("Sharpen(%v): %v", temp, err)
		}
		for r := 0; r < p.Rows; r++ {
			row := tensor2d.Row(y, r)
			peak := maxOf(row)
			if peak+tol < prev[r] {
				t.Errorf("T=%v row %d: peak %v fell below %v", temp, r, peak, prev[r])
			}
			prev[r] = peak
		}
	}
	// Row 2 has a unique argmax at index 2.
	y, _ := dist.Sharpen(p, 0.01)
	if tensor2d.Row(y, 2)[2] < 0.999 {
		t.Errorf("T=0.01 did not approach one-hot: %v", tensor2d.Row(y, 2))
	}
}

func TestSharpenFlattensAboveOne(t *testing.T) {
	p := probs()
	y, err := dist.Sharpen(p, 4.0)
	if err != nil {
		t.Fatalf("Sharpen: %v", err)
	}
	for r := 0; r < p.Rows; r++ {
		if maxOf(tensor2d.Row(y, r)) > maxOf(tensor2d.Row(p, r)) {
			t.Errorf("row %d got sharper at T=4: %v", r, tensor2d.Row(y, r))
		}
	}
}

func TestSharpenRejectsNonPositiveTemperature(t *testing.T) {
	for _, temp := range []float32{0, -1} {
		if _, err := dist.Sharpen(probs(), temp); err == nil {
			t.Errorf("Sharpen(T=%v) should fail", temp)
		}
	}
}

func TestSharpenDegenerateRow(t *testing.T) {
	p, _ := tensor2d.FromRows([][]float32{{0, 0, 0, 0}})
	y, err := dist.Sharpen(p, 0.5)
	if err != nil {
		t.Fatalf("Sharpen: %v", err)
	}
	assertRow(t, "zero row", tensor2d.Row(y, 0), dist.Uniform(4))
}

func TestSharpenRenormalizes(t *testing.T) {
	tests := []struct {
		name string
		temp float32
		row  []float32
		want []float32
	}{
		{"unnormalized at T=1", 1.0, []float32{2, 1, 1}, []float32{0.5, 0.25, 0.25}},
		{"tiny row", 0.5, []float32{1e-30, 1e-31, 0}, []float32{1 / 1.01, 0.01 / 1.01, 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, _ := tensor2d.FromRows([][]float32{tc.row})
			y, err := dist.Sharpen(p, tc.temp)
			if err != nil {
				t.Fatalf("Sharpen: %v", err)
			}
			assertRow(t, tc.name, tensor2d.Row(y, 0), tc.want)
		})
	}
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	logits, _ := tensor2d.FromRows([][]float32{{1, 2, 3}, {1000, 0, -1000}})
	y := dist.Softmax(logits)
	for r := 0; r < y.Rows; r++ {
		var s float32
		for _, e := range tensor2d.Row(y, r) {
			s += e
		}
		if !almostEqual(s, 1) {
			t.Errorf("row %d sums to %v", r, s)
		}
	}
	if !almostEqual(tensor2d.Row(y, 1)[0], 1) {
		t.Errorf("large logit row = %v", tensor2d.Row(y, 1))
	}
}

func TestOneHot(t *testing.T) {
	y, err := dist.OneHot([]int{2, 0}, 3)
	if err != nil {
		t.Fatalf("OneHot: %v", err)
	}
	assertRow(t, "row 0", tensor2d.Row(y, 0), []float32{0, 0, 1})
	assertRow(t, "row 1", tensor2d.Row(y, 1), []float32{1, 0, 0})

	if _, err := dist.OneHot([]int{3}, 3); err == nil {
		t.Errorf("OneHot with out of range label should fail")
	}
}

func TestKL(t *testing.T) {
	p := []float32{0.2, 0.3, 0.5}
	if kl := dist.KL(p, p); !almostEqual(kl, 0) {
		t.Errorf("KL(p, p) = %v, want 0", kl)
	}
	q := []float32{0.5, 0.3, 0.2}
	if kl := dist.KL(p, q); kl <= 0 {
		t.Errorf("KL(p, q) = %v, want > 0", kl)
	}
	// Unnormalized inputs are renormalized first.
	if kl := dist.KL([]float32{2, 3, 5}, p); !almostEqual(kl, 0) {
		t.Errorf("KL(2p, p) = %v, want 0", kl)
	}
}

func maxOf(row []float32) float32 {
	m := row[0]
	for _, e := range row[1:] {
		if e > m {
			m = e
		}
	}
	return m
}
