package websocket

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("alice"), "send %d", i+1)
	}
	assert.False(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("bob"), "limits are per identity")
}

func TestRateLimiter_WindowExpires(t *testing.T) {
	rl := NewRateLimiter(1, 50*time.Millisecond)
	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"))

	assert.Eventually(t, func() bool { return rl.Allow("alice") }, time.Second, 10*time.Millisecond)
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(-1, time.Minute)
	for i := 0; i < 1000; i++ {
		assert.True(t, rl.Allow("alice"))
	}
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := NewRateLimiter(50, time.Minute)
	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if rl.Allow("alice") {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(50), allowed.Load())
}
