package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pinnlo/service_layer/internal/app/metrics"
	"github.com/pinnlo/service_layer/internal/app/system"
	"github.com/pinnlo/service_layer/internal/errors"
	internalhttputil "github.com/pinnlo/service_layer/internal/httputil"
	"github.com/pinnlo/service_layer/internal/logging"
)

const (
	limiterIdleTTL       = 10 * time.Minute
	limiterSweepInterval = time.Minute
)

// RateLimitConfig configures a RateLimiter.
type RateLimitConfig struct {
	// Scope labels the limiter in logs and metrics ("api", "ai").
	Scope             string
	Rate              rate.Limit
	Burst             int
	Window            string
	TrustForwardedFor bool
}

// PerSecond is the general API limit.
func PerSecond(scope string, rps, burst int) RateLimitConfig {
	if burst < rps {
		burst = rps
	}
	return RateLimitConfig{Scope: scope, Rate: rate.Limit(rps), Burst: burst, Window: "1s"}
}

// PerMinute spreads n requests over a minute with a burst of n.
func PerMinute(scope string, n int) RateLimitConfig {
	if n <= 0 {
		n = 1
	}
	return RateLimitConfig{Scope: scope, Rate: rate.Every(time.Minute / time.Duration(n)), Burst: n, Window: "1m"}
}

var _ system.Service = (*RateLimiter)(nil)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits requests per authenticated user, falling back to the
// client IP for anonymous requests.
type RateLimiter struct {
	cfg      RateLimitConfig
	mu       sync.Mutex
	visitors map[string]*visitor
	logger   *logging.Logger
	now      func() time.Time

	sweep  time.Duration
	cancel context.CancelFunc
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(cfg RateLimitConfig, logger *logging.Logger) *RateLimiter {
	if cfg.Scope == "" {
		cfg.Scope = "api"
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if logger == nil {
		logger = logging.NewDefault("ratelimit")
	}
	return &RateLimiter{
		cfg:      cfg,
		visitors: make(map[string]*visitor),
		logger:   logger,
		now:      time.Now,
		sweep:    limiterSweepInterval,
	}
}

// Name identifies the limiter to the lifecycle manager.
func (rl *RateLimiter) Name() string {
	return "ratelimit-" + rl.cfg.Scope
}

// Start begins evicting idle visitors. The sweep outlives ctx and ends on Stop.
func (rl *RateLimiter) Start(ctx context.Context) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.cancel != nil {
		return nil
	}
	sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rl.cancel = cancel
	rl.StartCleanup(sweepCtx, rl.sweep)
	return nil
}

// Stop ends the eviction sweep.
func (rl *RateLimiter) Stop(context.Context) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.cancel != nil {
		rl.cancel()
		rl.cancel = nil
	}
	return nil
}

// Visitors reports how many keys currently hold a limiter.
func (rl *RateLimiter) Visitors() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.cfg.Rate, rl.cfg.Burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = rl.now()
	return v.limiter
}

// Handler returns the rate limiting middleware handler.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		key := GetUserID(r.Context())
		if key == "" {
			key = "ip:" + clientIP(r, rl.cfg.TrustForwardedFor)
		}

		res := rl.getLimiter(key).ReserveN(rl.now(), 1)
		delay := res.DelayFrom(rl.now())
		if !res.OK() || delay > 0 {
			res.Cancel()
			rl.logger.LogSecurityEvent(r.Context(), "rate_limit_exceeded", map[string]interface{}{
				"scope":  rl.cfg.Scope,
				"key":    key,
				"path":   r.URL.Path,
				"method": r.Method,
			})
			metrics.RecordRateLimited(rl.cfg.Scope)

			retryAfter := int(math.Ceil(delay.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			serviceErr := errors.RateLimitExceeded(rl.cfg.Burst, rl.cfg.Window).WithDetails("retry_after", retryAfter)
			internalhttputil.WriteError(w, r, serviceErr)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Cleanup removes limiters idle for longer than ttl.
func (rl *RateLimiter) Cleanup(ttl time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-ttl)
	removed := 0
	for key, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, key)
			removed++
		}
	}
	return removed
}

// StartCleanup evicts idle limiters every interval until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := rl.Cleanup(limiterIdleTTL); n > 0 {
					rl.logger.WithField("scope", rl.cfg.Scope).WithField("evicted", n).Debug("evicted idle rate limiters")
				}
			}
		}
	}()
}

func clientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
				return first
			}
		}
		if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
			return real
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
