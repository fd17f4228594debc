package httpadapter

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// unthrottledPaths bypass rate limiting and the in-flight gate so health checks and
// scrapes keep working under load.
var unthrottledPaths = map[string]struct{}{
	"/healthz": {},
	"/metrics": {},
}

// streamPaths hold a connection open for a long time and would pin gate slots.
var streamPaths = map[string]struct{}{
	"/v1/logs/stream": {},
}

func rateLimitMiddleware(next http.Handler, rps float64, burst int) http.Handler {
	if rps <= 0 {
		return next
	}
	if burst <= 0 {
		burst = max(1, int(math.Ceil(rps)))
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, skip := unthrottledPaths[r.URL.Path]; skip {
			next.ServeHTTP(w, r)
			return
		}

		reservation := limiter.Reserve()
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			retryAfter := max(1, int(math.Ceil(delay.Seconds())))
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// backpressureMiddleware admits at most maxInFlight requests. A request
// waits up to wait for a free slot before it is shed with 503.
func backpressureMiddleware(next http.Handler, maxInFlight int, wait time.Duration) http.Handler {
	if maxInFlight <= 0 {
		return next
	}
	slots := semaphore.NewWeighted(int64(maxInFlight))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, skip := unthrottledPaths[r.URL.Path]; skip {
			next.ServeHTTP(w, r)
			return
		}
		if _, stream := streamPaths[r.URL.Path]; stream {
			next.ServeHTTP(w, r)
			return
		}

		if !acquireSlot(r.Context(), slots, wait) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "server is overloaded, retry later"})
			return
		}
		defer slots.Release(1)
		next.ServeHTTP(w, r)
	})
}

func acquireSlot(ctx context.Context, slots *semaphore.Weighted, wait time.Duration) bool {
	if wait <= 0 {
		return slots.TryAcquire(1)
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return slots.Acquire(waitCtx, 1) == nil
}
