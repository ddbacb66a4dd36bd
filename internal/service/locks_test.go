package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	km := newKeyedMutex()

	var wg sync.WaitGroup
	counters := map[string]int{"a": 0, "b": 0}
	var countersMu sync.Mutex
	inFlight := map[string]int{}

	for i := 0; i < 50; i++ {
		for _, key := range []string{"a", "b"} {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				unlock := km.Lock(key)
				defer unlock()

				countersMu.Lock()
				inFlight[key]++
				assert.Equal(t, 1, inFlight[key], "two holders of %s", key)
				countersMu.Unlock()

				countersMu.Lock()
				counters[key]++
				inFlight[key]--
				countersMu.Unlock()
			}(key)
		}
	}
	wg.Wait()

	assert.Equal(t, 50, counters["a"])
	assert.Equal(t, 50, counters["b"])
	assert.Empty(t, km.locks, "entries are released")
}
