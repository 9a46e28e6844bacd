package exam

import (
	"sync"
	"sync/atomic"
	"time"
)

// timer counts exam seconds on a ticker goroutine.
type timer struct {
	tick   time.Duration
	onTick func(int)

	mu      sync.Mutex
	seconds atomic.Int64
	quit    chan struct{}
	done    chan struct{}
}

// start restarts the count from the given value.
func (t *timer) start(from int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()

	t.seconds.Store(int64(from))
	quit := make(chan struct{})
	done := make(chan struct{})
	t.quit, t.done = quit, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(t.tick)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				n := int(t.seconds.Add(1))
				if t.onTick != nil {
					t.onTick(n)
				}
			}
		}
	}()
}

func (t *timer) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *timer) stopLocked() {
	if t.quit == nil {
		return
	}
	close(t.quit)
	<-t.done
	t.quit, t.done = nil, nil
}

func (t *timer) running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.quit != nil
}

func (t *timer) elapsed() int { return int(t.seconds.Load()) }
