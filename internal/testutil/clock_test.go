package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_Advance(t *testing.T) {
	clock := NewFakeClock(Epoch)
	assert.Equal(t, Epoch, clock.Now())

	got := clock.Advance(time.Minute)
	assert.Equal(t, Epoch.Add(time.Minute), got)
	assert.Equal(t, got, clock.Now())
}

func TestFakeClock_Set(t *testing.T) {
	clock := NewFakeClock(Epoch)
	later := Epoch.Add(time.Hour)
	clock.Set(later)
	assert.Equal(t, later, clock.Now())
}

func TestFakeClock_ConcurrentAdvance(t *testing.T) {
	clock := NewFakeClock(Epoch)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
		}()
	}
	wg.Wait()
	assert.Equal(t, Epoch.Add(100*time.Second), clock.Now())
}
