package server

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long a client's limiter is kept after its last use.
const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LoginLimiter throttles credential validation per client IP. A limit of zero
// or less disables it.
//
// The client IP is the connection's remote address. X-Forwarded-For is only
// read when the connection comes from a trusted proxy.
type LoginLimiter struct {
	mu             sync.Mutex
	limiters       map[string]*clientLimiter
	limitPerMinute int
	trustedProxies []netip.Prefix
	lastSweep      time.Time
	nowFunc        func() time.Time
}

type LoginLimiterOption func(*LoginLimiter)

// WithTrustedProxies lists the proxies whose X-Forwarded-For header is honoured.
func WithTrustedProxies(prefixes []netip.Prefix) LoginLimiterOption {
	return func(l *LoginLimiter) {
		l.trustedProxies = prefixes
	}
}

func WithLimiterClock(now func() time.Time) LoginLimiterOption {
	return func(l *LoginLimiter) {
		l.nowFunc = now
	}
}

func NewLoginLimiter(limitPerMinute int, options ...LoginLimiterOption) *LoginLimiter {
	l := &LoginLimiter{
		limiters:       make(map[string]*clientLimiter),
		limitPerMinute: limitPerMinute,
		nowFunc:        time.Now,
	}
	for _, opt := range options {
		opt(l)
	}
	l.lastSweep = l.nowFunc()
	return l
}

func (l *LoginLimiter) getLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	if now.Sub(l.lastSweep) >= limiterIdleTTL {
		l.sweep(now)
	}

	entry, exists := l.limiters[ip]
	if !exists {
		entry = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(l.limitPerMinute)/60, l.limitPerMinute)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// sweep drops limiters idle for longer than limiterIdleTTL. Callers hold mu.
func (l *LoginLimiter) sweep(now time.Time) {
	for ip, entry := range l.limiters {
		if now.Sub(entry.lastSeen) >= limiterIdleTTL {
			delete(l.limiters, ip)
		}
	}
	l.lastSweep = now
}

// Tracked is the number of client addresses currently holding a limiter.
func (l *LoginLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Allow reports whether ip may attempt another validation now. When it may
// not, the second value is how long to wait.
func (l *LoginLimiter) Allow(ip string) (bool, time.Duration) {
	if l == nil || l.limitPerMinute <= 0 {
		return true, 0
	}
	limiter := l.getLimiter(ip)
	if limiter.AllowN(l.nowFunc(), 1) {
		return true, 0
	}
	reservation := limiter.ReserveN(l.nowFunc(), 1)
	wait := reservation.DelayFrom(l.nowFunc())
	reservation.CancelAt(l.nowFunc())
	return false, wait
}

// ClientIP is the address r is rate limited under. Forwarded hops are walked
// right to left while they belong to trusted proxies; the first untrusted hop
// is the client.
func (l *LoginLimiter) ClientIP(r *http.Request) string {
	remote := remoteAddr(r)
	addr, err := netip.ParseAddr(remote)
	if err != nil || !l.trusted(addr) {
		return remote
	}

	hops := r.Header.Values("X-Forwarded-For")
	var chain []string
	for _, h := range hops {
		for _, hop := range strings.Split(h, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				chain = append(chain, hop)
			}
		}
	}
	for i := len(chain) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(chain[i])
		if err != nil {
			return remote
		}
		hop = hop.Unmap()
		if !l.trusted(hop) {
			return hop.String()
		}
	}
	return remote
}

func (l *LoginLimiter) trusted(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range l.trustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) RateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := s.limiter.ClientIP(r)
		if ok, wait := s.limiter.Allow(ip); !ok {
			seconds := int(wait.Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			log.Warn().Str("ip", ip).Msg("Credential validation rate limited")
			writeJSONError(w, "Too Many Requests", "too many attempts, try again later", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
