package dataset

import (
	"math/rand/v2"

	"github.com/sw965/mixmatch/mathx/randx"
)

// Augment returns an augmented copy of one flattened image.
type Augment func(x []float32, rng *rand.Rand) []float32

func Identity(x []float32, _ *rand.Rand) []float32 {
	y := make([]float32, len(x))
	copy(y, x)
	return y
}

// NoiseFlip mirrors the image horizontally with probability 1/2 and adds
// gaussian noise with the given standard deviation.
func NoiseFlip(desc Descriptor, sigma float32) Augment {
	h, w, c := desc.Height, desc.Width, desc.Colors
	return func(x []float32, rng *rand.Rand) []float32 {
		y := make([]float32, len(x))
		flip := randx.Rademacher(rng) < 0
		for r := 0; r < h; r++ {
			for col := 0; col < w; col++ {
				src := col
				if flip {
					src = w - 1 - col
				}
				for ch := 0; ch < c; ch++ {
					y[(r*w+col)*c+ch] = x[(r*w+src)*c+ch]
				}
			}
		}
		if sigma > 0 {
			for i := range y {
				y[i] += sigma * float32(rng.NormFloat64())
			}
		}
		return y
	}
}
