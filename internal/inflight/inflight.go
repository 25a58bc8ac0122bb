// Package inflight counts generations in progress so shutdown can wait for
// them to finish.
package inflight

import (
	"context"
	"net/http"
	"sync"
)

// Counter tracks in-flight work. The zero value is ready to use.
type Counter struct {
	mu    sync.Mutex
	count int64
	idle  chan struct{} // closed while count is zero
}

// lockedIdle returns the idle channel, creating it if needed. c.mu must be held.
func (c *Counter) lockedIdle() chan struct{} {
	if c.idle == nil {
		c.idle = make(chan struct{})
		if c.count == 0 {
			close(c.idle)
		}
	}
	return c.idle
}

// Inc marks one more unit of work in flight.
func (c *Counter) Inc() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lockedIdle()
	if c.count == 0 {
		c.idle = make(chan struct{})
	}
	c.count++
}

// Dec marks one unit of work finished.
func (c *Counter) Dec() {
	c.mu.Lock()
	defer c.mu.Unlock()
	idle := c.lockedIdle()
	if c.count == 0 {
		return
	}
	c.count--
	if c.count == 0 {
		close(idle)
	}
}

// Load returns the current count.
func (c *Counter) Load() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// WaitForZero blocks until the count is zero or ctx is done. It reports
// whether zero was reached.
func (c *Counter) WaitForZero(ctx context.Context) bool {
	c.mu.Lock()
	idle := c.lockedIdle()
	c.mu.Unlock()
	select {
	case <-idle:
		return true
	case <-ctx.Done():
		return false
	}
}

// Middleware counts each request for its whole duration.
func (c *Counter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.Inc()
			defer c.Dec()
			next.ServeHTTP(w, r)
		})
	}
}

var generations Counter

// Generations returns the process-wide counter of running generations.
func Generations() *Counter { return &generations }
