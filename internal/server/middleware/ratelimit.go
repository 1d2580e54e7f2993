package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// window учет запросов одного клиента в текущем окне
type window struct {
	startedAt time.Time
	count     int
}

// RateLimiter ограничивает частоту запросов по ключу (IP клиента)
// в фиксированных окнах. Sync клиенты трактуют 429 как transient
// и повторяют с backoff, поэтому окно сбрасывается целиком.
type RateLimiter struct {
	logger  *slog.Logger
	windows map[string]*window
	done    chan struct{}
	limit   int
	span    time.Duration
	mu      sync.Mutex
}

// NewRateLimiter создает limiter: limit запросов на окно span
func NewRateLimiter(limit int, span time.Duration, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		span:    span,
		logger:  logger,
		done:    make(chan struct{}),
	}

	go rl.sweep()

	return rl
}

// Allow регистрирует запрос клиента и сообщает, укладывается ли он в лимит
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	win, ok := rl.windows[key]
	if !ok || now.Sub(win.startedAt) >= rl.span {
		rl.windows[key] = &window{startedAt: now, count: 1}
		return true
	}

	if win.count >= rl.limit {
		return false
	}
	win.count++
	return true
}

// Stop останавливает фоновую уборку окон
func (rl *RateLimiter) Stop() {
	close(rl.done)
}

// sweep периодически выбрасывает истекшие окна, чтобы карта
// не росла с каждым новым клиентом бесконечно
func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(rl.span)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			rl.mu.Lock()
			for key, win := range rl.windows {
				if now.Sub(win.startedAt) >= rl.span {
					delete(rl.windows, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.done:
			return
		}
	}
}

// RateLimitMiddleware отвечает 429 с Retry-After при превышении лимита
// запросов с одного IP
func RateLimitMiddleware(limit int, span time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(limit, span, logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := getClientIP(r)

			if !limiter.Allow(key) {
				logger.Warn("rate limit exceeded",
					"ip", key,
					"method", r.Method,
					"path", r.URL.Path,
				)

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(span.Seconds())))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded, please try again later"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP извлекает IP клиента: X-Forwarded-For (первый адрес
// списка), затем X-Real-IP, иначе RemoteAddr
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	return r.RemoteAddr
}
