package ratelimit

import (
	"testing"
	"time"
)

func TestIPLimiter_BurstThenThrottle(t *testing.T) {
	l := NewIPLimiter(60, 2)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	if !l.Allow("10.0.0.1") || !l.Allow("10.0.0.1") {
		t.Fatal("burst requests should be allowed")
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("third request within the same instant should be throttled")
	}
	if !l.Allow("10.0.0.2") {
		t.Fatal("other IPs have their own bucket")
	}

	now = now.Add(time.Second)
	if !l.Allow("10.0.0.1") {
		t.Fatal("a token should be available after one second at 60/min")
	}
}

func TestIPLimiter_EvictsIdleVisitors(t *testing.T) {
	l := NewIPLimiter(60, 1)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	l.Allow("10.0.0.1")
	now = now.Add(idleTTL + time.Minute)
	l.Allow("10.0.0.2")

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.visitors["10.0.0.1"]; ok {
		t.Error("idle visitor was not evicted")
	}
}
