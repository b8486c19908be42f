package randx

import (
	"fmt"
	"math/rand/v2"

	"github.com/sw965/omw/mathx/randx"
	"gonum.org/v1/gonum/stat/distuv"
)

// NewPCG returns a deterministic generator. A zero seed falls back to the global seed.
func NewPCG(seed uint64) *rand.Rand {
	if seed == 0 {
		return randx.NewPCGFromGlobalSeed()
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func NewPCGs(n int, rng *rand.Rand) []*rand.Rand {
	rngs := make([]*rand.Rand, n)
	for i := range rngs {
		rngs[i] = rand.New(rand.NewPCG(rng.Uint64(), rng.Uint64()))
	}
	return rngs
}

func Rademacher(rng *rand.Rand) float32 {
	if randx.Bool(rng) {
		return 1.0
	}
	return -1.0
}

// Beta draws n samples from Beta(alpha, beta).
func Beta(alpha, beta float64, n int, rng *rand.Rand) ([]float32, error) {
	if alpha <= 0 || beta <= 0 {
		return nil, fmt.Errorf("randx.Beta: shape parameters must be > 0 (alpha=%v, beta=%v)", alpha, beta)
	}
	d := distuv.Beta{Alpha: alpha, Beta: beta, Src: rng}
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(d.Rand())
	}
	return samples, nil
}
