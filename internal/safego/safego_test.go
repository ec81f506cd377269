package safego

import (
	"sync"
	"testing"
	"time"
)

func TestGo_RunsFunction(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	ran := false
	Go(func() {
		ran = true
		wg.Done()
	})
	wg.Wait()
	if !ran {
		t.Error("function did not run")
	}
}

func TestGo_RecoversPanic(t *testing.T) {
	done := make(chan struct{})
	Go(func() {
		defer close(done)
		panic("boom")
	})
	select {
	case <-done:
		// panic was recovered; the process is still alive
	case <-time.After(time.Second):
		t.Fatal("goroutine did not finish")
	}
}
