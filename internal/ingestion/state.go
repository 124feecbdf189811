package ingestion

import "sync/atomic"

// State is the lifecycle phase of the retrieval service.
type State int32

const (
	// StateUninitialized is the phase before Bootstrap runs.
	StateUninitialized State = iota
	// StateLoading means the corpus is loaded and the store is being inspected.
	StateLoading
	// StateIndexing means the corpus is being embedded into a store that was
	// empty while loading.
	StateIndexing
	// StateReady means retrieval can be served.
	StateReady
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateIndexing:
		return "indexing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// lifecycle guards the legal transitions:
//
//	Uninitialized -> Loading -> Ready
//	Ready -> Indexing -> Ready   (at most once)
//
// There is no way back to Uninitialized.
type lifecycle struct {
	state atomic.Int32
	// indexed is set by the one Ready -> Indexing transition.
	indexed atomic.Bool
}

// load returns the current state.
func (l *lifecycle) load() State {
	return State(l.state.Load())
}

// advance moves from one state to the next and reports whether the
// transition was legal and applied.
func (l *lifecycle) advance(from, to State) bool {
	if !legal(from, to) {
		return false
	}
	if to == StateIndexing && !l.indexed.CompareAndSwap(false, true) {
		return false
	}
	return l.state.CompareAndSwap(int32(from), int32(to))
}

// legal reports whether from -> to is an allowed transition.
func legal(from, to State) bool {
	switch from {
	case StateUninitialized:
		return to == StateLoading
	case StateLoading:
		return to == StateReady
	case StateReady:
		return to == StateIndexing
	case StateIndexing:
		return to == StateReady
	default:
		return false
	}
}
