package network

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"
)

// Monitor 网络可达性观察点。订阅回调在状态翻转时触发
type Monitor interface {
	IsAvailable() bool
	Subscribe(func(available bool))
}

// PollingMonitor 周期性 TCP 拨测 LRS 端点判断可达性
type PollingMonitor struct {
	target   string
	interval time.Duration
	timeout  time.Duration

	mu        sync.RWMutex
	available bool
	started   bool
	subs      []func(bool)

	cancel context.CancelFunc
}

// NewPollingMonitor target 形如 host:port，也接受完整 URL
func NewPollingMonitor(target string, interval, timeout time.Duration) *PollingMonitor {
	return &PollingMonitor{
		target:   normalizeTarget(target),
		interval: interval,
		timeout:  timeout,
	}
}

func normalizeTarget(target string) string {
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		host := u.Host
		if u.Port() == "" {
			switch u.Scheme {
			case "http":
				host = net.JoinHostPort(u.Hostname(), "80")
			default:
				host = net.JoinHostPort(u.Hostname(), "443")
			}
		}
		return host
	}
	return target
}

func (m *PollingMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	go func() {
		m.probe()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probe()
			}
		}
	}()
}

func (m *PollingMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	m.started = false
}

func (m *PollingMonitor) probe() {
	conn, err := net.DialTimeout("tcp", m.target, m.timeout)
	reachable := err == nil
	if conn != nil {
		conn.Close()
	}
	m.setAvailable(reachable)
}

func (m *PollingMonitor) setAvailable(v bool) {
	m.mu.Lock()
	changed := m.available != v
	m.available = v
	subs := make([]func(bool), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	if changed {
		for _, cb := range subs {
			cb(v)
		}
	}
}

func (m *PollingMonitor) IsAvailable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.available
}

func (m *PollingMonitor) Subscribe(cb func(bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, cb)
}
