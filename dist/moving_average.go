package dist

import (
	"fmt"
	"slices"

	"github.com/sw965/mixmatch/blas32/tensor/2d"
	"gonum.org/v1/gonum/blas/blas32"
)

// MovingAverage tracks the mean of the last depth class distributions it
// was given. Until the ring is full the value is the mean of the written
// slots only, and before the first update it is uniform.
type MovingAverage struct {
	name   string
	nclass int
	buf    [][]float32
	index  int
	filled int
}

func NewMovingAverage(name string, nclass, depth int) (*MovingAverage, error) {
	if nclass <= 0 {
		return nil, fmt.Errorf("dist.NewMovingAverage(%s): nclass must be > 0 (got %d)", name, nclass)
	}
	if depth <= 0 {
		return nil, fmt.Errorf("dist.NewMovingAverage(%s): depth must be > 0 (got %d)", name, depth)
	}
	buf := make([][]float32, depth)
	for i := range buf {
		buf[i] = make([]float32, nclass)
	}
	return &MovingAverage{name: name, nclass: nclass, buf: buf}, nil
}

func (m *MovingAverage) Name() string {
	return m.name
}

// Current returns the renormalized mean of the written slots.
func (m *MovingAverage) Current() []float32 {
	if m.filled == 0 {
		return Uniform(m.nclass)
	}
	mean := make([]float32, m.nclass)
	for _, slot := range m.buf[:m.filled] {
		for i, e := range slot {
			mean[i] += e
		}
	}
	n := float32(m.filled)
	for i := range mean {
		mean[i] /= n
	}
	Normalize(mean)
	return mean
}

// Update overwrites the oldest slot with sample.
func (m *MovingAverage) Update(sample []float32) error {
	if len(sample) != m.nclass {
		return fmt.Errorf("dist.MovingAverage(%s).Update: sample has %d entries, want %d", m.name, len(sample), m.nclass)
	}
	copy(m.buf[m.index%len(m.buf)], sample)
	m.index = (m.index + 1) % len(m.buf)
	if m.filled < len(m.buf) {
		m.filled++
	}
	return nil
}

// UpdateBatch records the row mean of a batch x nclass distribution matrix.
func (m *MovingAverage) UpdateBatch(p blas32.General) error {
	return m.Update(tensor2d.Mean0(p).Data)
}

// MovingAverageSnapshot is the checkpoint form of a MovingAverage.
type MovingAverageSnapshot struct {
	Name   string
	Buffer [][]float32
	Index  int
	Filled int
}

func (m *MovingAverage) Snapshot() MovingAverageSnapshot {
	buf := make([][]float32, len(m.buf))
	for i, slot := range m.buf {
		buf[i] = slices.Clone(slot)
	}
	return MovingAverageSnapshot{Name: m.name, Buffer: buf, Index: m.index, Filled: m.filled}
}

func (m *MovingAverage) Restore(s MovingAverageSnapshot) error {
	if s.Name != m.name {
		return fmt.Errorf("dist.MovingAverage(%s).Restore: snapshot is named %s", m.name, s.Name)
	}
	if len(s.Buffer) != len(m.buf) {
		return fmt.Errorf("dist.MovingAverage(%s).Restore: snapshot depth %d, want %d", m.name, len(s.Buffer), len(m.buf))
	}
	if s.Filled < 0 || s.Filled > len(m.buf) || s.Index < 0 || s.Index >= len(m.buf) {
		return fmt.Errorf("dist.MovingAverage(%s).Restore: invalid index=%d filled=%d", m.name, s.Index, s.Filled)
	}
	for i, slot := range s.Buffer {
		if len(slot) != m.nclass {
			return fmt.Errorf("dist.MovingAverage(%s).Restore: slot %d has %d entries, want %d", m.name, i, len(slot), m.nclass)
		}
	}
	for i, slot := range s.Buffer {
		copy(m.buf[i], slot)
	}
	m.index = s.Index
	m.filled = s.Filled
	return nil
}
