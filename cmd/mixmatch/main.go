package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sw965/mixmatch/dataset"
	"github.com/sw965/mixmatch/mathx/randx"
	"github.com/sw965/mixmatch/mixmatch"
	"github.com/sw965/mixmatch/model"
)

func main() {
	lr := flag.Float64("lr", 0, "Learning rate")
	wd := flag.Float64("wd", 0, "Weight decay")
	emaDecay := flag.Float64("ema", 0, "Exponential moving average of params")
	beta := flag.Float64("beta", 0, "MixUp Beta distribution shape")
	wMatch := flag.Float64("w-match", 0, "Weight of the unlabeled loss")
	warmupKImg := flag.Int("warmup-kimg", 0, "Unlabeled loss warm-up duration in kimg")
	nu := flag.Int("nu", 0, "Augmentations per unlabeled example")
	mixMode := flag.String("mixmode", "", "Mixing mode, e.g. xxy.yxy")
	dbuf := flag.Int("dbuf", 0, "Distribution tracker depth")
	temperature := flag.Float64("T", 0, "Sharpening temperature")
	filters := flag.Int("filters", 0, "Width of the first stage")
	repeat := flag.Int("repeat", 0, "Blocks per stage")
	scales := flag.Int("scales", 0, "Number of stages")
	batch := flag.Int("batch", 0, "Batch size")
	seed := flag.Uint64("seed", 0, "PRNG seed")
	opt := flag.String("optimizer", "", "adam or momentum")
	workers := flag.Int("workers", 0, "Parallel augmentation and evaluation workers")

	steps := flag.Int("steps", 500, "Number of training steps")
	logEvery := flag.Int("log-every", 50, "Log every N steps")
	checkpoint := flag.String("checkpoint", "", "Checkpoint path")
	resume := flag.Bool("resume", false, "Restore the checkpoint before training")
	nlabeled := flag.Int("labeled", 250, "Labeled examples")
	nexamples := flag.Int("examples", 4000, "Total synthetic examples")

	flag.Parse()

	// Only flags given on the command line override the defaults.
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	f32 := func(name string, v *float64) *float32 {
		if !set[name] {
			return nil
		}
		x := float32(*v)
		return &x
	}

	cfg := mixmatch.DefaultConfig()
	cfg.ApplyOverrides(mixmatch.Overrides{
		LR:         f32("lr", lr),
		WD:         f32("wd", wd),
		EMA:        f32("ema", emaDecay),
		Beta:       f32("beta", beta),
		WMatch:     f32("w-match", wMatch),
		WarmupKImg: ifSet(set, "warmup-kimg", warmupKImg),
		NU:         ifSet(set, "nu", nu),
		MixMode:    ifSet(set, "mixmode", mixMode),
		DBuf:       ifSet(set, "dbuf", dbuf),
		T:          f32("T", temperature),
		Filters:    ifSet(set, "filters", filters),
		Repeat:     ifSet(set, "repeat", repeat),
		Scales:     ifSet(set, "scales", scales),
		Batch:      ifSet(set, "batch", batch),
		Seed:       ifSet(set, "seed", seed),
		Optimizer:  ifSet(set, "optimizer", opt),
		Workers:    ifSet(set, "workers", workers),
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	rng := randx.NewPCG(cfg.Seed)
	desc := dataset.Descriptor{Name: "blobs", Height: 8, Width: 8, Colors: 1, NClass: 10}
	all, err := dataset.Synthetic(desc, *nexamples, 0.5, rng)
	if err != nil {
		log.Fatalf("build dataset: %v", err)
	}
	labeled, unlabeled, err := all.Split(*nlabeled)
	if err != nil {
		log.Fatalf("split dataset: %v", err)
	}
	log.Printf("dataset=%s labeled=%d unlabeled=%d nclass=%d", desc.Name, labeled.Len(), unlabeled.Len(), desc.NClass)

	arch := cfg.Arch(labeled.Desc)
	clf, err := model.NewMLP(arch, rng)
	if err != nil {
		log.Fatalf("build classifier: %v", err)
	}
	trainer, err := mixmatch.NewTrainer(cfg, clf, labeled.Desc)
	if err != nil {
		log.Fatalf("build trainer: %v", err)
	}
	log.Printf("mixmode=%s filters=%d repeat=%d scales=%d params=%d", trainer.Plan(), arch.Filters, arch.Repeat, arch.Scales, len(clf.Parameters()))

	if *resume && *checkpoint != "" {
		state, err := mixmatch.LoadState(*checkpoint)
		if err != nil {
			log.Fatalf("resume: %v", err)
		}
		if err := trainer.Restore(state); err != nil {
			log.Fatalf("resume: %v", err)
		}
		log.Printf("resumed checkpoint=%s kimg=%.1f", *checkpoint, float64(trainer.Examples())/1024)
	}

	sampler, err := dataset.NewSampler(labeled, unlabeled, dataset.NoiseFlip(desc, 0.1), cfg.Batch, cfg.NU, cfg.Workers, rng)
	if err != nil {
		log.Fatalf("build sampler: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCfg := mixmatch.RunConfig{Steps: *steps, LogEvery: *logEvery, Checkpoint: *checkpoint}
	if err := mixmatch.Train(ctx, trainer, sampler, runCfg); err != nil {
		log.Fatalf("training failed: %v", err)
	}

	for _, raw := range []bool{false, true} {
		acc, err := trainer.Accuracy(unlabeled.X, unlabeled.Labels, raw)
		if err != nil {
			log.Fatalf("evaluate: %v", err)
		}
		log.Printf("raw=%t unlabeled_accuracy=%.4f", raw, acc)
	}
}

func ifSet[T any](set map[string]bool, name string, v *T) *T {
	if !set[name] {
		return nil
	}
	return v
}
