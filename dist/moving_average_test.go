package dist_test

import (
	"testing"

	"github.com/sw965/mixmatch/blas32/tensor/2d"
	"github.com/sw965/mixmatch/dist"
)

func TestMovingAverageInitialIsUniform(t *testing.T) {
	ma, err := dist.NewMovingAverage("p_model", 4, 3)
	if err != nil {
		t.Fatalf("NewMovingAverage: %v", err)
	}
	assertRow(t, "initial", ma.Current(), []float32{0.25, 0.25, 0.25, 0.25})
}

func TestMovingAverageMeanOfWrittenSlots(t *testing.T) {
	ma, _ := dist.NewMovingAverage("p_model", 3, 4)
	samples := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
	wants := [][]float32{
		{1, 0, 0},
		{0.5, 0.5, 0},
		{1.0 / 3, 1.0 / 3, 1.0 / 3},
	}
	for i, s := range samples {
		if err := ma.Update(s); err != nil {
			t.Fatalf("Update: %v", err)
		}
		assertRow(t, "current", ma.Current(), wants[i])
	}
}

func TestMovingAverageCurrentDoesNotAdvance(t *testing.T) {
	ma, _ := dist.NewMovingAverage("p_target", 2, 2)
	ma.Update([]float32{0.8, 0.2})
	first := ma.Current()
	for i := 0; i < 5; i++ {
		assertRow(t, "repeated current", ma.Current(), first)
	}
}

func TestMovingAverageEvictsOldest(t *testing.T) {
	ma, _ := dist.NewMovingAverage("p_model", 2, 2)
	ma.Update([]float32{1, 0})
	ma.Update([]float32{0, 1})
	assertRow(t, "full", ma.Current(), []float32{0.5, 0.5})

	ma.Update([]float32{0, 1})
	assertRow(t, "after eviction", ma.Current(), []float32{0, 1})

	ma.Update([]float32{1, 0})
	assertRow(t, "second eviction", ma.Current(), []float32{0.5, 0.5})
}

func TestMovingAverageUpdateBatch(t *testing.T) {
	ma, _ := dist.NewMovingAverage("p_model", 2, 8)
	p, _ := tensor2d.FromRows([][]float32{{1, 0}, {0, 1}, {0, 1}, {0, 1}})
	if err := ma.UpdateBatch(p); err != nil {
		t.Fatalf("UpdateBatch: %v", err)
	}
	assertRow(t, "batch mean", ma.Current(), []float32{0.25, 0.75})
}

func TestMovingAverageErrors(t *testing.T) {
	if _, err := dist.NewMovingAverage("bad", 0, 4); err == nil {
		t.Errorf("nclass=0 should fail")
	}
	if _, err := dist.NewMovingAverage("bad", 4, 0); err == nil {
		t.Errorf("depth=0 should fail")
	}
	ma, _ := dist.NewMovingAverage("p_model", 3, 2)
	if err := ma.Update([]float32{1, 0}); err == nil {
		t.Errorf("short sample should fail")
	}
}

func TestMovingAverageSnapshotRestore(t *testing.T) {
	ma, _ := dist.NewMovingAverage("p_model", 2, 3)
	ma.Update([]float32{1, 0})
	ma.Update([]float32{0.5, 0.5})
	snap := ma.Snapshot()

	other, _ := dist.NewMovingAverage("p_model", 2, 3)
	if err := other.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	assertRow(t, "restored", other.Current(), ma.Current())

	ma.Update([]float32{0, 1})
	other.Update([]float32{0, 1})
	assertRow(t, "after update", other.Current(), ma.Current())

	wrong, _ := dist.NewMovingAverage("p_target", 2, 3)
	if err := wrong.Restore(snap); err == nil {
		t.Errorf("restoring a differently named snapshot should fail")
	}
}

func TestPData(t *testing.T) {
	known, err := dist.NewPData(2, []float32{1, 3}, nil)
	if err != nil {
		t.Fatalf("NewPData: %v", err)
	}
	if known.HasUpdate() {
		t.Errorf("known distribution should not need updates")
	}
	assertRow(t, "known", known.Current(), []float32{0.25, 0.75})

	labeled, _ := dist.NewPData(2, nil, []float32{0.5, 0.5})
	if labeled.HasUpdate() {
		t.Errorf("labeled distribution should not need updates")
	}

	inferred, _ := dist.NewPData(2, nil, nil)
	if !inferred.HasUpdate() {
		t.Fatalf("inferred distribution should need updates")
	}
	labels, _ := tensor2d.FromRows([][]float32{{1, 0}, {1, 0}})
	if err := inferred.Update(labels); err != nil {
		t.Fatalf("Update: %v", err)
	}
	want := 0.5*dist.PDataDecay + (1 - dist.PDataDecay)
	assertRow(t, "inferred", inferred.Current(), []float32{want, 1 - want})

	if _, err := dist.NewPData(3, []float32{0.5, 0.5}, nil); err == nil {
		t.Errorf("mismatched length should fail")
	}
}
