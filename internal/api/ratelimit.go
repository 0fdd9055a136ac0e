package api

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/xela07ax/agentwallet/internal/infra/auth"
)

// maxTrackedCallers после этого порога карта лимитеров сбрасывается
const maxTrackedCallers = 10000

// CallerLimiter token bucket на каждого вызывающего
type CallerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewCallerLimiter(rps float64, burst int) *CallerLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &CallerLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

func (l *CallerLimiter) Allow(caller string) bool {
	if l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[caller]
	if !ok {
		if len(l.limiters) >= maxTrackedCallers {
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[caller] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Middleware ставится после auth: ключ лимита это identity из токена
func (l *CallerLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(auth.CallerFromContext(r.Context())) {
			WriteJSON(w, http.StatusTooManyRequests, ErrorBody{Code: "RATE_LIMITED", Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
