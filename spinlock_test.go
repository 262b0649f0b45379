package gvthread

import (
	"sync"
	"testing"
)

func TestSpinlockMutualExclusion(t *testing.T) {
	var l spinlock
	var counter int
	var wg sync.WaitGroup
	const goroutines = 32
	const iterations = 1000
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				l.Lock()
				counter++
				l.Unlock()
			}
		}()
	}
	wg.Wait()
	if counter != goroutines*iterations {
		t.Fatalf("counter = %d, want %d", counter, goroutines*iterations)
	}
}
