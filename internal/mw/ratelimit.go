package mw

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter 按 (客户端 IP, 路由) 维护令牌桶。空闲超过 idle 的桶由后台协程回收，Stop 结束该协程。
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    rate.Limit
	burst   int
	idle    time.Duration

	stopOnce sync.Once
	done     chan struct{}
}

func NewLimiter(r rate.Limit, burst int, idle time.Duration) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		rate:    r,
		burst:   burst,
		idle:    idle,
		done:    make(chan struct{}),
	}
	go l.sweepLoop(30 * time.Second)
	return l
}

func (l *Limiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	l.mu.Unlock()
	return b.lim.AllowN(now, 1)
}

func (l *Limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, b := range l.buckets {
		if now.Sub(b.seen) > l.idle {
			delete(l.buckets, k)
		}
	}
}

func (l *Limiter) sweepLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-l.done:
			return
		case now := <-t.C:
			l.sweep(now)
		}
	}
}

// Stop 结束回收协程，可重复调用。
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// Middleware 超限时返回 429。未匹配路由的请求按原始路径计桶。
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		if !l.allow(clientIP(c.Request.RemoteAddr)+"|"+route, time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// clientIP 只信任连接的对端地址，不读取可伪造的转发头。
func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
