package routes

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/hlog"
	"golang.org/x/time/rate"
)

// ipLimiter throttles passcode attempts per client address.
type ipLimiter struct {
	limit   rate.Limit
	burst   int
	trusted []netip.Prefix

	mu       sync.Mutex
	limiters map[string]*visitor
	lastGC   time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const visitorIdle = 10 * time.Minute

func newIPLimiter(perMinute, burst int, trusted []netip.Prefix) *ipLimiter {
	return &ipLimiter{
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		trusted:  trusted,
		limiters: make(map[string]*visitor),
		lastGC:   time.Now(),
	}
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastGC) > visitorIdle {
		for k, v := range l.limiters {
			if now.Sub(v.lastSeen) > visitorIdle {
				delete(l.limiters, k)
			}
		}
		l.lastGC = now
	}
	v, ok := l.limiters[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Middleware answers 429 once a client exceeds its budget.
func (l *ipLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, l.trusted)
		if !l.get(ip).Allow() {
			hlog.FromRequest(r).Warn().Str("client", ip).Msg("passcode attempts throttled")
			w.Header().Set("Retry-After", "60")
			http.Error(w, "TOO MANY ATTEMPTS", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP keys a request by its peer address. Forwarding headers are
// honoured only when the peer is one of the trusted proxies.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	if !isTrusted(peer, trusted) {
		return peer
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Walk from the nearest hop and stop at the first untrusted one.
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !isTrusted(hop, trusted) || i == 0 {
				return hop
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range trusted {
		if p.Contains(a) {
			return true
		}
	}
	return false
}
