package mixmatch

import (
	"slices"

	"github.com/pkg/errors"
	"github.com/sw965/mixmatch/dist"
	"github.com/sw965/omw/encoding/gobx"
	"golang.org/x/exp/maps"
)

// State is the checkpoint form of a Trainer. Values are keyed by stable
// parameter and tracker names.
type State struct {
	Examples int64
	Params   map[string][]float32
	Shadow   map[string][]float32
	Trackers []dist.MovingAverageSnapshot
	PData    []float32
}

func LoadState(path string) (State, error) {
	s, err := gobx.Load[State](path)
	if err != nil {
		return State{}, errors.Wrapf(err, "load checkpoint %s", path)
	}
	return s, nil
}

func (s State) Save(path string) error {
	return errors.Wrapf(gobx.Save(s, path), "save checkpoint %s", path)
}

// ParamNames lists the checkpointed parameter names in sorted order.
func (s State) ParamNames() []string {
	names := maps.Keys(s.Params)
	slices.Sort(names)
	return names
}

func (t *Trainer) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return State{
		Examples: t.examples,
		Params:   t.params.Values(),
		Shadow:   t.shadow.Values(),
		Trackers: []dist.MovingAverageSnapshot{t.pModel.Snapshot(), t.pTarget.Snapshot()},
		PData:    t.pData.Values(),
	}
}

// Restore replaces the trainer state with s. s is validated in full
// before anything is written.
func (t *Trainer) Restore(s State) error {
	t.stepMu.Lock()
	defer t.stepMu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, name := range s.ParamNames() {
		if _, ok := t.params.Lookup(name); !ok {
			return errors.Wrapf(ErrShapeMismatch, "checkpoint has unknown parameter %s", name)
		}
	}
	if len(s.Trackers) != 2 {
		return errors.Wrapf(ErrShapeMismatch, "checkpoint has %d trackers, want 2", len(s.Trackers))
	}
	if s.Examples < 0 {
		return errors.Wrapf(ErrShapeMismatch, "checkpoint has negative example count %d", s.Examples)
	}

	// Validate against scratch copies so a bad checkpoint leaves t untouched.
	params := t.params.Values()
	shadow := t.shadow.Values()
	pModel := t.pModel.Snapshot()
	pTarget := t.pTarget.Snapshot()
	pData := t.pData.Values()

	steps := []func() error{
		func() error { return t.params.SetValues(s.Params) },
		func() error { return t.shadow.SetValues(s.Shadow) },
		func() error { return t.pModel.Restore(s.Trackers[0]) },
		func() error { return t.pTarget.Restore(s.Trackers[1]) },
		func() error { return t.pData.SetValues(s.PData) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			_ = t.params.SetValues(params)
			_ = t.shadow.SetValues(shadow)
			_ = t.pModel.Restore(pModel)
			_ = t.pTarget.Restore(pTarget)
			_ = t.pData.SetValues(pData)
			return mark(ErrShapeMismatch, err)
		}
	}
	t.examples = s.Examples
	return nil
}
