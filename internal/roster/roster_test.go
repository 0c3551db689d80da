package roster

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegisterUnregister(t *testing.T) {
	r := New()
	r.Register(Entry{ID: "max", Name: "max", Role: "player"})
	r.Register(Entry{ID: "vera", Name: "vera", Role: "showman"})

	e, ok := r.Get("max")
	assert.True(t, ok)
	assert.Equal(t, "player", e.Role)
	assert.Equal(t, 2, r.Len())

	// Re-registering replaces atomically.
	r.Register(Entry{ID: "max", Name: "max", Role: "viewer"})
	e, _ = r.Get("max")
	assert.Equal(t, "viewer", e.Role)
	assert.Equal(t, 2, r.Len())

	r.Unregister("max")
	_, ok = r.Get("max")
	assert.False(t, ok)

	// Unregistering an absent id is a no-op.
	r.Unregister("max")
	assert.Equal(t, 1, r.Len())
}

func TestConcurrentRegister(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.Register(Entry{ID: string(rune('a' + n%26)), Role: "player"})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 26, r.Len())
}
