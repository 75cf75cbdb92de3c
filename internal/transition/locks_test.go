package transition

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockManager_SerializesSamePath(t *testing.T) {
	lm := NewLockManager()

	var mu sync.Mutex
	inCritical := 0
	maxInCritical := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.Acquire("a.txt")
			mu.Lock()
			inCritical++
			if inCritical > maxInCritical {
				maxInCritical = inCritical
			}
			mu.Unlock()

			mu.Lock()
			inCritical--
			mu.Unlock()
			lm.Release("a.txt")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInCritical, "one holder at a time per path")
}

func TestLockManager_DistinctPathsIndependent(t *testing.T) {
	lm := NewLockManager()

	lm.Acquire("a.txt")
	done := make(chan struct{})
	go func() {
		lm.Acquire("b.txt")
		lm.Release("b.txt")
		close(done)
	}()
	<-done // would deadlock if paths shared a lock
	lm.Release("a.txt")

	assert.Equal(t, 2, lm.Len())
}
