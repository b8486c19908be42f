package mixmatch

import (
	"math/bits"
	"runtime"

	"github.com/pkg/errors"
	"github.com/sw965/mixmatch/dataset"
	"github.com/sw965/mixmatch/mixmode"
	"github.com/sw965/mixmatch/model"
	"github.com/sw965/mixmatch/optimizer"
)

// Config captures the hyper-parameters of a training run.
type Config struct {
	LR         float32
	WD         float32
	EMA        float32
	Beta       float32
	WMatch     float32
	WarmupKImg int
	NU         int
	MixMode    string
	DBuf       int
	T          float32

	Filters int
	Repeat  int
	// Scales of zero derives the stage count from the image width.
	Scales int

	Batch     int
	Seed      uint64
	Optimizer string
	Workers   int
}

func DefaultConfig() Config {
	return Config{
		LR:         0.002,
		WD:         0.02,
		EMA:        0.999,
		Beta:       0.5,
		WMatch:     100,
		WarmupKImg: 1024,
		NU:         2,
		MixMode:    "xxy.yxy",
		DBuf:       128,
		T:          0.5,
		Filters:    32,
		Repeat:     4,
		Batch:      64,
		Optimizer:  "adam",
		Workers:    runtime.GOMAXPROCS(0),
	}
}

// Overrides captures CLI supplied values. Nil fields keep the config, so
// zero is a valid override (e.g. WD or WarmupKImg).
type Overrides struct {
	LR         *float32
	WD         *float32
	EMA        *float32
	Beta       *float32
	WMatch     *float32
	WarmupKImg *int
	NU         *int
	MixMode    *string
	DBuf       *int
	T          *float32
	Filters    *int
	Repeat     *int
	Scales     *int
	Batch      *int
	Seed       *uint64
	Optimizer  *string
	Workers    *int
}

func override[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// ApplyOverrides updates c using every non-nil override.
func (c *Config) ApplyOverrides(o Overrides) {
	override(&c.LR, o.LR)
	override(&c.WD, o.WD)
	override(&c.EMA, o.EMA)
	override(&c.Beta, o.Beta)
	override(&c.WMatch, o.WMatch)
	override(&c.WarmupKImg, o.WarmupKImg)
	override(&c.NU, o.NU)
	override(&c.MixMode, o.MixMode)
	override(&c.DBuf, o.DBuf)
	override(&c.T, o.T)
	override(&c.Filters, o.Filters)
	override(&c.Repeat, o.Repeat)
	override(&c.Scales, o.Scales)
	override(&c.Batch, o.Batch)
	override(&c.Seed, o.Seed)
	override(&c.Optimizer, o.Optimizer)
	override(&c.Workers, o.Workers)
}

// Validate verifies the config is runnable.
func (c Config) Validate() error {
	switch {
	case c.LR <= 0:
		return errors.Wrapf(ErrInvalidConfig, "lr must be > 0 (got %v)", c.LR)
	case c.WD < 0:
		return errors.Wrapf(ErrInvalidConfig, "wd must be >= 0 (got %v)", c.WD)
	case c.WD*c.LR >= 1:
		return errors.Wrapf(ErrInvalidConfig, "wd*lr must be < 1 (got %v)", c.WD*c.LR)
	case c.EMA < 0 || c.EMA > 1:
		return errors.Wrapf(ErrInvalidConfig, "ema must be in [0, 1] (got %v)", c.EMA)
	case c.Beta <= 0:
		return errors.Wrapf(ErrInvalidConfig, "beta must be > 0 (got %v)", c.Beta)
	case c.WMatch < 0:
		return errors.Wrapf(ErrInvalidConfig, "w_match must be >= 0 (got %v)", c.WMatch)
	case c.WarmupKImg < 0:
		return errors.Wrapf(ErrInvalidConfig, "warmup_kimg must be >= 0 (got %d)", c.WarmupKImg)
	case c.NU < 1:
		return errors.Wrapf(ErrInvalidConfig, "nu must be >= 1 (got %d)", c.NU)
	case c.DBuf < 1:
		return errors.Wrapf(ErrInvalidConfig, "dbuf must be >= 1 (got %d)", c.DBuf)
	case c.T <= 0:
		return errors.Wrapf(ErrInvalidConfig, "T must be > 0 (got %v)", c.T)
	case c.Filters < 1 || c.Repeat < 1 || c.Scales < 0:
		return errors.Wrapf(ErrInvalidConfig, "filters=%d repeat=%d scales=%d", c.Filters, c.Repeat, c.Scales)
	case c.Batch < 1:
		return errors.Wrapf(ErrInvalidConfig, "batch must be >= 1 (got %d)", c.Batch)
	}
	if _, err := mixmode.Parse(c.MixMode); err != nil {
		return mark(ErrInvalidConfig, err)
	}
	if _, err := optimizer.New(c.Optimizer); err != nil {
		return mark(ErrInvalidConfig, err)
	}
	return nil
}

// Arch describes the default classifier for desc.
func (c Config) Arch(desc dataset.Descriptor) model.Arch {
	scales := c.Scales
	if scales == 0 {
		scales = max(bits.Len(uint(desc.Width))-1-2, 1)
	}
	return model.Arch{
		InputSize: desc.InputSize(),
		NClass:    desc.NClass,
		Filters:   c.Filters,
		Repeat:    c.Repeat,
		Scales:    scales,
	}
}
