package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"docvault-backend/internal/shared/server/respond"
	"docvault-backend/internal/shared/telemetry"
)

const (
	defaultRateLimitGroup = "DEFAULT"
	// UploadRateLimitGroup covers attachment uploads, which fan out to the blob store.
	UploadRateLimitGroup = "UPLOAD"

	rateLimitKeyPrefix = "docvault:ratelimit:"
	maxIdleBuckets     = 10000
)

// RateLimitRule admits Burst requests at once, refilled at Rate per second.
type RateLimitRule struct {
	Rate  float64
	Burst int
}

func (r RateLimitRule) disabled() bool { return r.Rate <= 0 || r.Burst <= 0 }

// window is the time a full burst takes to refill.
func (r RateLimitRule) window() time.Duration {
	return time.Duration(float64(r.Burst) / r.Rate * float64(time.Second))
}

// Limiter decides whether key may proceed under rule. When it may not, the
// returned duration is how long the caller should wait.
type Limiter interface {
	Allow(ctx context.Context, key string, rule RateLimitRule) (bool, time.Duration, error)
}

// RateLimitConfig selects a rule per request group. Requests in groups without
// a rule are not limited.
type RateLimitConfig struct {
	Rules        map[string]RateLimitRule
	DefaultGroup string
	GroupFor     func(*gin.Context) string
	Limiter      Limiter
}

// DefaultRateLimitRules returns the rules the API router installs.
func DefaultRateLimitRules() map[string]RateLimitRule {
	return map[string]RateLimitRule{
		defaultRateLimitGroup: {Rate: 10, Burst: 40},
		UploadRateLimitGroup:  {Rate: 0.5, Burst: 5},
	}
}

// UploadGroupFor routes attachment uploads to UploadRateLimitGroup.
func UploadGroupFor(c *gin.Context) string {
	if c.Request.Method == http.MethodPost && strings.HasSuffix(c.FullPath(), "/attachments") {
		return UploadRateLimitGroup
	}
	return defaultRateLimitGroup
}

// RateLimit keys limits by user id, or client IP before authentication.
// Limiter errors let the request through.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Limiter == nil {
		cfg.Limiter = NewTokenBuckets(nil)
	}
	if cfg.DefaultGroup == "" {
		cfg.DefaultGroup = defaultRateLimitGroup
	}
	return func(c *gin.Context) {
		group := cfg.DefaultGroup
		if cfg.GroupFor != nil {
			if g := strings.TrimSpace(cfg.GroupFor(c)); g != "" {
				group = g
			}
		}
		rule, ok := cfg.Rules[group]
		if !ok || rule.disabled() {
			c.Next()
			return
		}
		principal := strings.TrimSpace(UserIDFromContext(c))
		if principal == "" {
			principal = "ip:" + c.ClientIP()
		}

		allowed, wait, err := cfg.Limiter.Allow(c.Request.Context(), group+":"+principal, rule)
		if err != nil {
			telemetry.Warn("ratelimit.unavailable", map[string]any{
				"request_id": RequestIDFromContext(c),
				"group":      group,
				"error":      err,
			})
			c.Next()
			return
		}
		if allowed {
			c.Next()
			return
		}

		seconds := int(math.Ceil(wait.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
		respond.Error(c, http.StatusTooManyRequests, "rate_limited", "too many requests",
			gin.H{"group": group, "retryAfterMs": max(wait.Milliseconds(), 1)})
	}
}

// TokenBuckets is an in-process Limiter. Each API instance limits on its own.
type TokenBuckets struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	now     func() time.Time
}

type tokenBucket struct {
	tokens float64
	last   time.Time
	rule   RateLimitRule
}

// NewTokenBuckets returns an empty limiter. now defaults to time.Now.
func NewTokenBuckets(now func() time.Time) *TokenBuckets {
	if now == nil {
		now = time.Now
	}
	return &TokenBuckets{buckets: make(map[string]*tokenBucket), now: now}
}

// Allow implements Limiter. It never fails.
func (l *TokenBuckets) Allow(_ context.Context, key string, rule RateLimitRule) (bool, time.Duration, error) {
	if rule.disabled() {
		return true, 0, nil
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= maxIdleBuckets {
			l.evictFull(now)
		}
		b = &tokenBucket{tokens: float64(rule.Burst), last: now}
		l.buckets[key] = b
	}
	b.rule = rule
	b.refill(now)
	if b.tokens >= 1 {
		b.tokens--
		return true, 0, nil
	}
	wait := time.Duration((1 - b.tokens) / rule.Rate * float64(time.Second))
	return false, wait.Round(time.Millisecond), nil
}

func (b *tokenBucket) refill(now time.Time) {
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = math.Min(float64(b.rule.Burst), b.tokens+elapsed*b.rule.Rate)
		b.last = now
	}
}

// evictFull drops buckets that have refilled completely; they carry no state.
func (l *TokenBuckets) evictFull(now time.Time) {
	for key, b := range l.buckets {
		b.refill(now)
		if b.tokens >= float64(b.rule.Burst) {
			delete(l.buckets, key)
		}
	}
}

func (l *TokenBuckets) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RedisLimiter shares limits across API instances with a fixed window of
// Burst requests per refill period.
type RedisLimiter struct {
	Client redis.Cmdable
}

// Allow implements Limiter.
func (l RedisLimiter) Allow(ctx context.Context, key string, rule RateLimitRule) (bool, time.Duration, error) {
	if rule.disabled() {
		return true, 0, nil
	}
	window := rule.window()
	redisKey := rateLimitKeyPrefix + key

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := l.Client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, redisKey)
		p.ExpireNX(ctx, redisKey, window)
		ttl = p.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	allowed, wait := windowDecision(incr.Val(), ttl.Val(), rule)
	return allowed, wait, nil
}

func windowDecision(count int64, ttl time.Duration, rule RateLimitRule) (bool, time.Duration) {
	if count <= int64(rule.Burst) {
		return true, 0
	}
	if ttl <= 0 {
		ttl = rule.window()
	}
	return false, ttl
}

var (
	_ Limiter = (*TokenBuckets)(nil)
	_ Limiter = RedisLimiter{}
)
