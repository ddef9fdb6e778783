package dashboard

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// perIPLimiter throttles inbound dashboard requests per remote address,
// independent of the kernel's own per-principal ratetracker: this one
// protects the dashboard process itself from being hammered by a client,
// not a principal's resource budget.
type perIPLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newPerIPLimiter(r rate.Limit, burst int) *perIPLimiter {
	return &perIPLimiter{limiters: make(map[string]*rate.Limiter), rate: r, burst: burst}
}

func (p *perIPLimiter) limiterFor(ip string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[ip]
	if !ok {
		l = rate.NewLimiter(p.rate, p.burst)
		p.limiters[ip] = l
	}
	return l
}

func (p *perIPLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !p.limiterFor(host).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
