package fdc3

import (
	"testing"
	"time"
)

func TestProxyAgent_ReconnectDelayExponentialWithCap(t *testing.T) {
	p := NewProxyAgent(ProxyConfig{ReconnectInitial: 1 * time.Second, ReconnectMax: 30 * time.Second}, nil)

	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	for i, w := range want {
		if got := p.nextReconnectDelay(); got != w*time.Second {
			t.Errorf("delay #%d = %v, want %v", i+1, got, w*time.Second)
		}
	}
}

func TestProxyAgent_ReconnectDelayResetsOnConnect(t *testing.T) {
	p := NewProxyAgent(ProxyConfig{ReconnectInitial: 1 * time.Second, ReconnectMax: 30 * time.Second}, nil)

	p.nextReconnectDelay() // 1s
	p.nextReconnectDelay() // 2s
	p.nextReconnectDelay() // 4s

	p.mu.Lock()
	p.reconnectDelay = p.cfg.ReconnectInitial
	p.mu.Unlock()

	if d := p.nextReconnectDelay(); d != 1*time.Second {
		t.Errorf("delay after reset = %v, want 1s", d)
	}
}
