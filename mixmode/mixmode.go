// Package mixmode parses mixing-mode descriptors and applies the mixing
// they describe to a labeled stream and its unlabeled companions.
//
// A descriptor has a left and a right side separated by a dot. The left
// side describes the labeled stream (x), the right side the unlabeled
// streams (y). A side is either empty (no mixing) or its own kind
// followed by the kinds of its mixing partners, with an optional trailing
// '*' that disables coefficient clipping:
//
//	xxy.yxy  mix everything with everything
//	xx.yxy   mix x with x, and y with both x and y
//	xx.yx    mix x with x, and y with x
//	.        no mixing
package mixmode

import (
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/sw965/mixmatch/blas32/tensor/2d"
	"github.com/sw965/mixmatch/blas32/tensors/2d"
	"github.com/sw965/mixmatch/mathx/randx"
	"gonum.org/v1/gonum/blas/blas32"
)

var (
	ErrSyntax  = errors.New("mixmode: syntax error")
	ErrStreams = errors.New("mixmode: invalid streams")
)

type Kind byte

const (
	Labeled   Kind = 'x'
	Unlabeled Kind = 'y'
)

func (k Kind) String() string {
	return string(rune(k))
}

type Side struct {
	Self    Kind
	Pool    []Kind
	Clip    bool
	Enabled bool
}

func (s Side) mixedPool() bool {
	return slices.Contains(s.Pool, Labeled) && slices.Contains(s.Pool, Unlabeled)
}

// A single-side stage reads the Beta shape of its own side. The joint
// stage of two xy sides uses the mean of both.
const (
	leftBeta = iota
	rightBeta
	meanBeta
)

type stage struct {
	targets []Kind
	pool    []Kind
	clip    bool
	beta    int
}

// Plan is a validated mixing descriptor.
type Plan struct {
	mode   string
	Left   Side
	Right  Side
	stages []stage
}

func (p Plan) String() string {
	return p.mode
}

// MixesLabeled reports whether stream 0 is modified by the plan.
func (p Plan) MixesLabeled() bool {
	return p.Left.Enabled
}

func Parse(mode string) (Plan, error) {
	dot := strings.IndexByte(mode, '.')
	if dot < 0 {
		return Plan{}, errors.Wrapf(ErrSyntax, "missing '.' separator in %q", mode)
	}
	if extra := strings.IndexByte(mode[dot+1:], '.'); extra >= 0 {
		return Plan{}, errors.Wrapf(ErrSyntax, "unexpected token '.' at position %d in %q", dot+1+extra, mode)
	}

	left, err := parseSide(mode, mode[:dot], 0, Labeled)
	if err != nil {
		return Plan{}, err
	}
	right, err := parseSide(mode, mode[dot+1:], dot+1, Unlabeled)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{mode: mode, Left: left, Right: right}
	if left.Enabled && right.Enabled && left.mixedPool() && right.mixedPool() && left.Clip == right.Clip {
		plan.stages = []stage{{
			targets: []Kind{Labeled, Unlabeled},
			pool:    []Kind{Labeled, Unlabeled},
			clip:    left.Clip,
			beta:    meanBeta,
		}}
		return plan, nil
	}
	for i, side := range []Side{left, right} {
		if !side.Enabled {
			continue
		}
		plan.stages = append(plan.stages, stage{
			targets: []Kind{side.Self},
			pool:    side.Pool,
			clip:    side.Clip,
			beta:    i,
		})
	}
	return plan, nil
}

func MustParse(mode string) Plan {
	plan, err := Parse(mode)
	if err != nil {
		panic(err)
	}
	return plan
}

func parseSide(mode, side string, offset int, self Kind) (Side, error) {
	if side == "" {
		return Side{Self: self}, nil
	}
	s := Side{Self: self, Clip: true, Enabled: true}
	if Kind(side[0]) != self {
		return Side{}, errors.Wrapf(ErrSyntax, "unexpected token %q at position %d in %q, want %q", side[0], offset, mode, self.String())
	}
	for i := 1; i < len(side); i++ {
		c := side[i]
		switch {
		case c == '*' && i == len(side)-1:
			s.Clip = false
		case Kind(c) == Labeled || Kind(c) == Unlabeled:
			if slices.Contains(s.Pool, Kind(c)) {
				return Side{}, errors.Wrapf(ErrSyntax, "repeated token %q at position %d in %q", c, offset+i, mode)
			}
			s.Pool = append(s.Pool, Kind(c))
		default:
			return Side{}, errors.Wrapf(ErrSyntax, "unexpected token %q at position %d in %q", c, offset+i, mode)
		}
	}
	if len(s.Pool) == 0 {
		return Side{}, errors.Wrapf(ErrSyntax, "side %q at position %d in %q has no mixing partners", side, offset, mode)
	}
	return s, nil
}

func streamsOf(kinds []Kind, n int) []int {
	var idxs []int
	if slices.Contains(kinds, Labeled) {
		idxs = append(idxs, 0)
	}
	if slices.Contains(kinds, Unlabeled) {
		for i := 1; i < n; i++ {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

// Mix mixes xs (images, one matrix per stream) and ls (their label
// distributions). Stream 0 is the labeled stream. betas holds the Beta
// shape of the left and the right side. Streams the plan does not touch
// are returned as unmodified copies.
func (p Plan) Mix(xs, ls []blas32.General, betas []float32, rng *rand.Rand) ([]blas32.General, []blas32.General, error) {
	if len(xs) < 2 {
		return nil, nil, errors.Wrapf(ErrStreams, "need at least 2 streams (got %d)", len(xs))
	}
	if len(xs) != len(ls) {
		return nil, nil, errors.Wrapf(ErrStreams, "%d image streams but %d label streams", len(xs), len(ls))
	}
	if len(betas) != 2 {
		return nil, nil, errors.Wrapf(ErrStreams, "need 2 beta shapes (got %d)", len(betas))
	}
	for i := range xs {
		if xs[i].Rows != ls[i].Rows {
			return nil, nil, errors.Wrapf(ErrStreams, "stream %d has %d images but %d labels", i, xs[i].Rows, ls[i].Rows)
		}
		if xs[i].Cols != xs[0].Cols || ls[i].Cols != ls[0].Cols || xs[i].Rows != xs[0].Rows {
			return nil, nil, errors.Wrapf(ErrStreams, "stream %d shape differs from stream 0", i)
		}
	}

	mxs := tensors2d.Clone(xs)
	mls := tensors2d.Clone(ls)

	for _, st := range p.stages {
		var beta float32
		switch st.beta {
		case meanBeta:
			beta = (betas[0] + betas[1]) / 2
		default:
			beta = betas[st.beta]
		}
		if err := st.apply(xs, ls, mxs, mls, beta, rng); err != nil {
			return nil, nil, err
		}
	}
	return mxs, mls, nil
}

func (st stage) apply(xs, ls, mxs, mls []blas32.General, beta float32, rng *rand.Rand) error {
	n := len(xs)
	batch := xs[0].Rows
	pool := streamsOf(st.pool, n)
	targets := streamsOf(st.targets, n)
	if len(pool) == 0 || len(targets) == 0 {
		return nil
	}

	poolX, err := tensor2d.ConcatRows(pick(xs, pool)...)
	if err != nil {
		return err
	}
	poolL, err := tensor2d.ConcatRows(pick(ls, pool)...)
	if err != nil {
		return err
	}

	// Targets that are part of the pool share one permutation of it, so
	// every pooled row is used as a partner exactly once.
	var shared []int
	if isSubset(targets, pool) {
		shared = rng.Perm(poolX.Rows)
	}

	for _, s := range targets {
		var partners []int
		if shared != nil {
			o := slices.Index(pool, s) * batch
			partners = shared[o : o+batch]
		} else {
			partners = rng.Perm(poolX.Rows)[:batch]
		}
		lambdas, err := randx.Beta(float64(beta), float64(beta), batch, rng)
		if err != nil {
			return errors.WithMessage(err, "mixmode.Mix")
		}
		if st.clip {
			Clip(lambdas)
		}
		mixRows(mxs[s], xs[s], poolX, partners, lambdas)
		mixRows(mls[s], ls[s], poolL, partners, lambdas)
	}
	return nil
}

// Clip keeps the larger share of every coefficient on the first operand.
func Clip(lambdas []float32) {
	for i, l := range lambdas {
		if l < 1-l {
			lambdas[i] = 1 - l
		}
	}
}

func mixRows(dst, src, pool blas32.General, partners []int, lambdas []float32) {
	for r, idx := range partners {
		d := tensor2d.Row(dst, r)
		a := tensor2d.Row(src, r)
		b := tensor2d.Row(pool, idx)
		l := lambdas[r]
		for c := range d {
			d[c] = l*a[c] + (1-l)*b[c]
		}
	}
}

func pick(gens []blas32.General, idxs []int) []blas32.General {
	picked := make([]blas32.General, len(idxs))
	for i, idx := range idxs {
		picked[i] = gens[idx]
	}
	return picked
}

func isSubset(a, b []int) bool {
	for _, e := range a {
		if !slices.Contains(b, e) {
			return false
		}
	}
	return true
}
