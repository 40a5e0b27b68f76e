package session

import (
	"github.com/abhisek/triplehelix/internal/snapshot"
	"github.com/abhisek/triplehelix/internal/spacedrep"
)

// Observer is notified after every successful mutation, while the session
// lock is still held, so it always sees a consistent post-mutation state.
// Implementations must not call back into the session.
type Observer interface {
	OnTubeSetChanged(snap snapshot.Snapshot)
	OnActiveTubeChanged(tube spacedrep.TubeNumber)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	TubeSetChanged    func(snapshot.Snapshot)
	ActiveTubeChanged func(spacedrep.TubeNumber)
}

func (f ObserverFuncs) OnTubeSetChanged(snap snapshot.Snapshot) {
	if f.TubeSetChanged != nil {
		f.TubeSetChanged(snap)
	}
}

func (f ObserverFuncs) OnActiveTubeChanged(tube spacedrep.TubeNumber) {
	if f.ActiveTubeChanged != nil {
		f.ActiveTubeChanged(tube)
	}
}
