package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()

	var (
		wg     sync.WaitGroup
		countA int
		countB int
	)
	counters := map[string]*int{"a": &countA, "b": &countB}
	for i := 0; i < 50; i++ {
		for key, n := range counters {
			wg.Add(1)
			go func(key string, n *int) {
				defer wg.Done()
				unlock := k.Lock(key)
				defer unlock()
				*n++ // guarded by the per-key lock only
			}(key, n)
		}
	}
	wg.Wait()

	assert.Equal(t, 50, countA)
	assert.Equal(t, 50, countB)
	assert.Zero(t, k.size(), "unused entries are released")
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := k.Lock("b")
		unlock()
		close(done)
	}()
	<-done
	unlockA()
}
