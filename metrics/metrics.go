// Package metrics aggregates per-step timing and losses for the training loop.
package metrics

import "time"

// Window accumulates stats across the steps between two log lines.
type Window struct {
	samples int
	data    time.Duration
	compute time.Duration
	steps   int

	sumXE  float64
	sumL2U float64
	last   Losses
}

type Losses struct {
	XE     float64
	L2U    float64
	WMatch float64
	Total  float64
}

func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, losses Losses) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.sumXE += losses.XE
	w.sumL2U += losses.L2U
	w.last = losses
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Last: w.last, Steps: w.steps}
	total := w.data + w.compute
	if total > 0 {
		snap.ImagesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		n := float64(w.steps)
		snap.AvgDataMS = (w.data.Seconds() * 1000) / n
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / n
		snap.AvgXE = w.sumXE / n
		snap.AvgL2U = w.sumL2U / n
	}

	*w = Window{}
	return snap
}

type Snapshot struct {
	Steps        int
	ImagesPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	AvgXE        float64
	AvgL2U       float64
	Last         Losses
}
