package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key using a sliding window approximation:
// the previous fixed window is weighted by how much of it still overlaps
// the sliding window ending at now.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// RateLimitConfig configures the RateLimit middleware.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window.
	Max int
	// Window is the length of the sliding window.
	Window time.Duration
	// KeyFunc extracts the client key. Defaults to the client IP.
	KeyFunc func(*http.Request) string
	// Limiter stores the counters. Defaults to a process-local MemoryLimiter.
	Limiter Limiter
}

// slot locates now inside its fixed window: the window index, the fraction
// of the window already elapsed, and the end of the window.
func slot(now time.Time, window time.Duration) (index int64, elapsed float64, end time.Time) {
	w := int64(window)
	ns := now.UnixNano()
	index = ns / w
	elapsed = float64(ns%w) / float64(w)
	end = time.Unix(0, (index+1)*w)
	return index, elapsed, end
}

// decide admits one more request when the weighted count is under limit.
// Remaining already accounts for the admitted request.
func decide(limit int, prev, curr, elapsed float64, end time.Time) Decision {
	estimate := prev*(1-elapsed) + curr
	if estimate >= float64(limit) {
		return Decision{ResetAt: end}
	}
	return Decision{
		Allowed:   true,
		Remaining: max(0, int(float64(limit)-estimate-1)),
		ResetAt:   end,
	}
}

type counter struct {
	index int64
	prev  float64
	curr  float64
}

// MemoryLimiter keeps counters in process memory.
type MemoryLimiter struct {
	limit  int
	window time.Duration

	mu       sync.Mutex
	counters map[string]*counter
}

// NewMemoryLimiter returns a limiter allowing limit requests per window.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:    limit,
		window:   window,
		counters: make(map[string]*counter),
	}
}

// Allow never fails.
func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	index, elapsed, end := slot(now, l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	if !ok {
		c = &counter{index: index}
		l.counters[key] = c
	}
	switch {
	case c.index == index:
	case c.index == index-1:
		c.prev, c.curr, c.index = c.curr, 0, index
	default:
		c.prev, c.curr, c.index = 0, 0, index
	}

	d := decide(l.limit, c.prev, c.curr, elapsed, end)
	if d.Allowed {
		c.curr++
	}
	return d, nil
}

// Sweep drops counters that can no longer affect a decision.
func (l *MemoryLimiter) Sweep(now time.Time) {
	index, _, _ := slot(now, l.window)

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.counters {
		if c.index < index-1 {
			delete(l.counters, key)
		}
	}
}

// Run sweeps every two windows until ctx is done.
func (l *MemoryLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(2 * l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Sweep(now)
		}
	}
}

// slidingWindowScript checks and increments the current window counter in
// one round trip. Rejected requests are not counted.
var slidingWindowScript = redis.NewScript(`
local prev = tonumber(redis.call('GET', KEYS[1]) or '0')
local curr = tonumber(redis.call('GET', KEYS[2]) or '0')
if prev * tonumber(ARGV[1]) + curr >= tonumber(ARGV[2]) then
	return {0, prev, curr}
end
curr = redis.call('INCR', KEYS[2])
if curr == 1 then
	redis.call('PEXPIRE', KEYS[2], ARGV[3])
end
return {1, prev, curr - 1}
`)

// RedisLimiter shares counters between replicas through Redis.
type RedisLimiter struct {
	rdb    redis.Scripter
	prefix string
	limit  int
	window time.Duration
}

// NewRedisLimiter returns a limiter storing counters under prefix.
func NewRedisLimiter(rdb redis.Scripter, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, prefix: prefix, limit: limit, window: window}
}

// key hash-tags the client so both windows land in one cluster slot.
func (l *RedisLimiter) key(client string, index int64) string {
	return l.prefix + "{" + client + "}:" + strconv.FormatInt(index, 10)
}

// Allow evaluates the window atomically on the Redis side.
func (l *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	index, elapsed, end := slot(now, l.window)
	res, err := slidingWindowScript.Run(ctx, l.rdb,
		[]string{l.key(key, index-1), l.key(key, index)},
		strconv.FormatFloat(1-elapsed, 'f', 6, 64),
		l.limit,
		(2 * l.window).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, errors.Wrap(err, "rate limit script")
	}
	if len(res) != 3 {
		return Decision{}, errors.Errorf("rate limit script: unexpected reply %v", res)
	}
	if res[0] == 0 {
		return Decision{ResetAt: end}, nil
	}
	estimate := float64(res[1])*(1-elapsed) + float64(res[2]) + 1
	return Decision{
		Allowed:   true,
		Remaining: max(0, int(float64(l.limit)-estimate)),
		ResetAt:   end,
	}, nil
}

// RateLimit rejects clients over their budget with 429. Every response
// carries X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset.
// Limiter errors let the request through.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewMemoryLimiter(cfg.Max, cfg.Window)
	}
	limit := strconv.Itoa(cfg.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			d, err := cfg.Limiter.Allow(r.Context(), cfg.KeyFunc(r), now)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			wait := max(0, d.ResetAt.Sub(now))
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)

			var e jx.Encoder
			e.Obj(func(e *jx.Encoder) {
				e.Field("code", func(e *jx.Encoder) { e.Int(http.StatusTooManyRequests) })
				e.Field("message", func(e *jx.Encoder) { e.Str("rate limit exceeded") })
			})
			_, _ = e.WriteTo(w)
		})
	}
}

// RateLimitWithCleanup is RateLimit over a MemoryLimiter that is swept in
// the background until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := NewMemoryLimiter(cfg.Max, cfg.Window)
	go l.Run(ctx)
	cfg.Limiter = l
	return RateLimit(cfg)
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// HeaderOrIP keys clients by a request header, such as an API key, and falls
// back to the client IP when the header is absent.
func HeaderOrIP(header string) func(r *http.Request) string {
	return func(r *http.Request) string {
		if v := r.Header.Get(header); v != "" {
			return header + ":" + v
		}
		return clientIP(r)
	}
}
