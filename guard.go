package injection

import (
	"sync"
	"sync/atomic"
)

// MockingGuard is a reentrant suspension counter for mocking
// instrumentation. The surrounding framework consults Active before
// applying instrumentation; the resolver suspends the guard around
// exactly the real constructor call so the constructor body runs
// uninstrumented, including when it panics.
type MockingGuard struct {
	suspended int32
}

func NewMockingGuard() *MockingGuard {
	return &MockingGuard{}
}

// Suspend deactivates instrumentation until the returned resume function
// runs. Resume is idempotent; nested suspensions stack.
func (g *MockingGuard) Suspend() (resume func()) {
	atomic.AddInt32(&g.suspended, 1)
	return sync.OnceFunc(func() {
		atomic.AddInt32(&g.suspended, -1)
	})
}

// Active reports whether instrumentation is currently active.
func (g *MockingGuard) Active() bool {
	return atomic.LoadInt32(&g.suspended) == 0
}
