package websocket

import (
	"sync"
	"sync/atomic"
)

// LimitReason describes why a socket was refused.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
)

// globalLimiter caps open sockets per instance with a lock-free counter.
type globalLimiter struct {
	current atomic.Int64
	max     int64
}

func (l *globalLimiter) acquire() bool {
	for {
		current := l.current.Load()
		if current >= l.max {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (l *globalLimiter) release() {
	l.current.Add(-1)
}

// ipLimiter caps open sockets per remote address.
type ipLimiter struct {
	mu     sync.Mutex
	ips    map[string]int
	maxPer int
}

func (l *ipLimiter) acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ips[ip] >= l.maxPer {
		return false
	}
	l.ips[ip]++
	return true
}

func (l *ipLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count := l.ips[ip]; count > 1 {
		l.ips[ip] = count - 1
	} else {
		delete(l.ips, ip)
	}
}

// ConnectionLimits combines the per-instance and per-IP caps.
type ConnectionLimits struct {
	global *globalLimiter
	perIP  *ipLimiter
}

// NewConnectionLimits creates the limiter. perIPMax <= 0 disables the per-IP cap.
func NewConnectionLimits(globalMax int64, perIPMax int) *ConnectionLimits {
	l := &ConnectionLimits{global: &globalLimiter{max: globalMax}}
	if perIPMax > 0 {
		l.perIP = &ipLimiter{ips: make(map[string]int), maxPer: perIPMax}
	}
	return l
}

// Acquire takes a slot for ip. On failure nothing is held and the reason is returned.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	if !l.global.acquire() {
		return false, LimitReasonGlobal
	}
	if l.perIP != nil && !l.perIP.acquire(ip) {
		l.global.release()
		return false, LimitReasonPerIP
	}
	return true, ""
}

func (l *ConnectionLimits) Release(ip string) {
	if l.perIP != nil {
		l.perIP.release(ip)
	}
	l.global.release()
}

// Current returns the number of held slots.
func (l *ConnectionLimits) Current() int64 {
	return l.global.current.Load()
}
