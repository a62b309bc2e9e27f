package server

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/overwatch-ai/reins/internal/requestctx"
)

// RateLimiter enforces a global and a per-actor request rate using token
// buckets. Actor buckets are created lazily on first request.
type RateLimiter struct {
	mu       sync.Mutex
	global   *rate.Limiter
	actors   map[string]*rate.Limiter
	perActor rate.Limit
	burst    int
}

// NewRateLimiter builds a limiter from requests-per-minute figures.
// globalRPM caps total throughput across all actors; perActorRPM caps each
// actor. Burst equals one minute's allowance so short spikes pass.
func NewRateLimiter(globalRPM, perActorRPM int) *RateLimiter {
	globalBurst := globalRPM
	if globalBurst < 1 {
		globalBurst = 1
	}
	actorBurst := perActorRPM
	if actorBurst < 1 {
		actorBurst = 1
	}
	return &RateLimiter{
		global:   rate.NewLimiter(rate.Limit(float64(globalRPM)/60.0), globalBurst),
		actors:   make(map[string]*rate.Limiter),
		perActor: rate.Limit(float64(perActorRPM) / 60.0),
		burst:    actorBurst,
	}
}

// Allow reports whether a request attributed to actorID may proceed.
func (rl *RateLimiter) Allow(actorID string) bool {
	if !rl.global.Allow() {
		return false
	}
	rl.mu.Lock()
	limiter, ok := rl.actors[actorID]
	if !ok {
		limiter = rate.NewLimiter(rl.perActor, rl.burst)
		rl.actors[actorID] = limiter
	}
	rl.mu.Unlock()
	return limiter.Allow()
}

// RateLimitMiddleware rejects requests over the limit with 429. It keys on
// the authenticated actor id, so it must run after AuthMiddleware.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(requestctx.ActorID(r.Context())) {
				writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests, slow down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
