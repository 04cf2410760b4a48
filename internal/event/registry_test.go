package event

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryEmitOrder(t *testing.T) {
	var r Registry[int]
	var got []string

	r.Add(func(v int) { got = append(got, "a") })
	r.Add(func(v int) { got = append(got, "b") })
	r.Add(func(v int) { got = append(got, "c") })

	r.Emit(1)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestRegistryCancelIsIdempotent(t *testing.T) {
	var r Registry[string]
	calls := 0
	cancel := r.Add(func(string) { calls++ })

	r.Emit("x")
	cancel()
	cancel()
	r.Emit("y")

	assert.Equal(t, 1, calls)
	assert.Zero(t, r.Len())
}

func TestRegistryCancelFromHandler(t *testing.T) {
	var r Registry[int]
	calls := 0

	var cancel func()
	cancel = r.Add(func(int) {
		calls++
		cancel()
	})

	r.Emit(1)
	r.Emit(2)

	assert.Equal(t, 1, calls)
}

func TestRegistryNilHandler(t *testing.T) {
	var r Registry[int]
	cancel := r.Add(nil)
	require.NotNil(t, cancel)
	cancel()
	assert.Zero(t, r.Len())
}

func TestRegistryConcurrentUse(t *testing.T) {
	var r Registry[int]
	var mu sync.Mutex
	total := 0

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cancel := r.Add(func(v int) {
				mu.Lock()
				total += v
				mu.Unlock()
			})
			r.Emit(1)
			cancel()
		}()
	}
	wg.Wait()

	assert.Zero(t, r.Len())
	assert.GreaterOrEqual(t, total, 8)
}
