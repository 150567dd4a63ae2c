package usecase

import "sync/atomic"

// startGuard serialises session starts. The flag is taken before any I/O and
// released by the caller in a defer, so a failed start always permits a retry.
type startGuard struct {
	inFlight atomic.Bool
}

func (g *startGuard) tryAcquire() bool {
	return g.inFlight.CompareAndSwap(false, true)
}

func (g *startGuard) release() {
	g.inFlight.Store(false)
}

func (g *startGuard) busy() bool {
	return g.inFlight.Load()
}
