package mixmatch

import (
	"context"
	"log"
	"time"

	"github.com/pkg/errors"
	"github.com/sw965/mixmatch/dataset"
	"github.com/sw965/mixmatch/metrics"
)

// BatchSource yields training batches, e.g. a dataset.Sampler.
type BatchSource interface {
	Next() (dataset.Batch, error)
}

type RunConfig struct {
	Steps    int
	LogEvery int
	// Checkpoint, if set, receives the trainer state every LogEvery steps and at the end.
	Checkpoint string
}

// Train runs steps training steps drawing batches from src.
func Train(ctx context.Context, t *Trainer, src BatchSource, cfg RunConfig) error {
	if cfg.Steps <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "steps must be > 0 (got %d)", cfg.Steps)
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 50
	}

	var window metrics.Window
	for step := 1; step <= cfg.Steps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		startData := time.Now()
		batch, err := src.Next()
		if err != nil {
			return errors.WithMessagef(err, "step %d: next batch", step)
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		res, err := t.Step(batch)
		if err != nil {
			return errors.WithMessagef(err, "step %d", step)
		}
		computeTime := time.Since(startCompute)

		window.Record(batch.Size(), dataTime, computeTime, metrics.Losses{
			XE:     float64(res.LossXE),
			L2U:    float64(res.LossL2U),
			WMatch: float64(res.WMatch),
			Total:  float64(res.Loss),
		})

		if step%cfg.LogEvery == 0 || step == cfg.Steps {
			snap := window.Snapshot()
			log.Printf("step=%d kimg=%.1f images_per_sec=%.1f data_ms=%.2f compute_ms=%.2f xe=%.4f l2u=%.4f w_match=%.3f loss=%.4f kld=%.4f kld_target=%.4f",
				step,
				float64(t.Examples())/1024,
				snap.ImagesPerSec,
				snap.AvgDataMS,
				snap.AvgComputeMS,
				snap.AvgXE,
				snap.AvgL2U,
				snap.Last.WMatch,
				snap.Last.Total,
				res.KLD,
				res.KLDTarget,
			)
			if cfg.Checkpoint != "" {
				if err := t.State().Save(cfg.Checkpoint); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
