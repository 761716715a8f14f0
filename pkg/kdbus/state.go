package kdbus

import "sync"

// lifecycleState is the two-state machine shared by Namespace, Bus,
// Endpoint, and Connection: live until disconnected, then permanently
// disconnected. Unlike the richer session state machine this is
// generalized from, there is only one non-terminal state, so the
// transition table collapses to a single allowed edge.
type lifecycleState int

const (
	stateLive lifecycleState = iota
	stateDisconnected
)

func (s lifecycleState) String() string {
	if s == stateDisconnected {
		return "disconnected"
	}
	return "live"
}

// lifecycle guards the live/disconnected transition for an object that is
// torn down exactly once. Disconnect is idempotent:
// calling it again on an already-disconnected object reports that no
// transition happened, matching the kernel broker's disconnect semantics
// for namespaces, buses, and endpoints.
type lifecycle struct {
	mu    sync.Mutex
	state lifecycleState
}

// disconnect transitions live -> disconnected and reports whether this
// call performed the transition. A false return means the object was
// already disconnected and the caller must not repeat teardown work.
func (l *lifecycle) disconnect() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == stateDisconnected {
		return false
	}
	l.state = stateDisconnected
	return true
}

func (l *lifecycle) isLive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == stateLive
}

func (l *lifecycle) isDisconnected() bool {
	return !l.isLive()
}

func (l *lifecycle) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.String()
}
