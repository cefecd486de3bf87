package frame

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextHandleMonotonic(t *testing.T) {
	r := NewRegistry()
	prev := r.NextHandle()
	for i := 0; i < 100; i++ {
		h := r.NextHandle()
		assert.Greater(t, h, prev)
		prev = h
	}
}

func TestInfoForCreatesOnce(t *testing.T) {
	r := NewRegistry()
	a := r.InfoFor("t1")
	b := r.InfoFor("t1")
	assert.Same(t, a, b)

	c := r.InfoFor("t2")
	assert.NotSame(t, a, c)
}

func TestInfoForConcurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	results := make([]*Info, 50)
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.InfoFor("shared")
		}()
	}
	wg.Wait()
	for i := 1; i < len(results); i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestForgetAndThreads(t *testing.T) {
	r := NewRegistry()
	r.InfoFor("a")
	r.InfoFor("b")
	assert.ElementsMatch(t, []string{"a", "b"}, r.Threads())

	r.Forget("a")
	assert.ElementsMatch(t, []string{"b"}, r.Threads())

	// Forgetting again, or a thread that never existed, is a no-op.
	r.Forget("a")
	r.Forget("never-existed")
	assert.ElementsMatch(t, []string{"b"}, r.Threads())
}
