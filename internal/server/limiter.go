package server

import (
	"sync"

	"golang.org/x/time/rate"
)

// pathLimiter keeps one token bucket per context path.
type pathLimiter struct {
	rps   rate.Limit
	burst int

	mu sync.Mutex
	m  map[string]*rate.Limiter
}

// newPathLimiter returns nil when rps <= 0; a nil limiter allows everything.
func newPathLimiter(rps float64, burst int) *pathLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &pathLimiter{rps: rate.Limit(rps), burst: burst, m: make(map[string]*rate.Limiter)}
}

func (p *pathLimiter) allow(path string) bool {
	if p == nil {
		return true
	}
	p.mu.Lock()
	l, ok := p.m[path]
	if !ok {
		l = rate.NewLimiter(p.rps, p.burst)
		p.m[path] = l
	}
	p.mu.Unlock()
	return l.Allow()
}
