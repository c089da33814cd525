// Package ratelimit throttles inbound webhook calls with a token bucket kept
// in redis, or in process memory when no redis is configured.
package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	RPS   int
	Burst int
}

// Bucket takes one token for key and reports whether the call may proceed.
type Bucket interface {
	Take(ctx context.Context, key string, cfg Config) (bool, error)
}

type Limiter struct {
	bucket Bucket
	prefix string
	cfg    Config
}

func New(bucket Bucket, prefix string, cfg Config) *Limiter {
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RPS * 2
	}
	return &Limiter{bucket: bucket, prefix: prefix, cfg: cfg}
}

func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	return l.bucket.Take(ctx, l.prefix+":"+key, l.cfg)
}

func (l *Limiter) Middleware(keyFunc func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := l.Allow(r.Context(), keyFunc(r))
			if err != nil {
				// Fail open.
				slog.Warn("rate limiter unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", "1")
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg, "code": status})
}

// KeyByIP keys on the client address, honoring X-Forwarded-For when set.
func KeyByIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// tokenBucket refills refill_rate tokens per second up to max_tokens.
var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local max_tokens = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local bucket = redis.call('HMGET', key, 'tokens', 'last')
local tokens = tonumber(bucket[1]) or max_tokens
local last = tonumber(bucket[2]) or now
local delta = math.max(0, now - last) / 1000
tokens = math.min(max_tokens, tokens + delta * refill_rate)
local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end
redis.call('HSET', key, 'tokens', tokens, 'last', now)
redis.call('EXPIRE', key, math.ceil(max_tokens / refill_rate) + 1)
return allowed
`)

type RedisBucket struct {
	rdb redis.Scripter
}

func NewRedisBucket(rdb redis.Scripter) *RedisBucket { return &RedisBucket{rdb: rdb} }

func (b *RedisBucket) Take(ctx context.Context, key string, cfg Config) (bool, error) {
	now := time.Now().UnixMilli()
	allowed, err := tokenBucket.Run(ctx, b.rdb, []string{key}, cfg.Burst, cfg.RPS, now).Int64()
	if err != nil {
		return false, err
	}
	return allowed == 1, nil
}

type bucketState struct {
	tokens float64
	last   time.Time
}

// MemoryBucket is the single-process fallback used when redis is not
// configured.
type MemoryBucket struct {
	mu    sync.Mutex
	state map[string]*bucketState
	now   func() time.Time
}

func NewMemoryBucket() *MemoryBucket {
	return &MemoryBucket{state: map[string]*bucketState{}, now: time.Now}
}

func (b *MemoryBucket) Take(_ context.Context, key string, cfg Config) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	st, ok := b.state[key]
	if !ok {
		st = &bucketState{tokens: float64(cfg.Burst), last: now}
		b.state[key] = st
	}
	elapsed := now.Sub(st.last).Seconds()
	if elapsed > 0 {
		st.tokens = math.Min(float64(cfg.Burst), st.tokens+elapsed*float64(cfg.RPS))
	}
	st.last = now
	if st.tokens < 1 {
		return false, nil
	}
	st.tokens--
	return true, nil
}
