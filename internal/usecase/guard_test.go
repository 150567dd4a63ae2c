package usecase

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestStartGuardAdmitsOneHolder(t *testing.T) {
	t.Parallel()

	var guard startGuard
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if guard.tryAcquire() {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != 1 {
		t.Fatalf("expected exactly one holder, got %d", admitted.Load())
	}
	if !guard.busy() {
		t.Fatalf("guard should be busy while held")
	}

	guard.release()
	if guard.busy() || !guard.tryAcquire() {
		t.Fatalf("released guard must be acquirable again")
	}
}
