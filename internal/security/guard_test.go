package security

import (
	"testing"
	"time"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/config"
)

func testGuard(limit float64, burst int) *Guard {
	return New(
		config.WebhookConfig{RateLimit: limit, RateBurst: burst},
		[]config.ChannelConfig{{InboxID: 1}, {InboxID: 2}},
	)
}

func TestUnknownInboxDenied(t *testing.T) {
	g := testGuard(10, 10)
	if v := g.Check(99); v != Deny {
		t.Fatalf("expected Deny, got %s", v)
	}
}

func TestKnownInboxAllowed(t *testing.T) {
	g := testGuard(10, 10)
	if v := g.Check(1); v != Allow {
		t.Fatalf("expected Allow, got %s", v)
	}
}

func TestRateLimitPerInbox(t *testing.T) {
	g := testGuard(1, 3)
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return fixed }

	for i := 0; i < 3; i++ {
		if v := g.Check(1); v != Allow {
			t.Fatalf("request %d: expected Allow, got %s", i+1, v)
		}
	}
	if v := g.Check(1); v != RateLimited {
		t.Fatalf("expected RateLimited after burst, got %s", v)
	}
	if v := g.Check(2); v != Allow {
		t.Fatalf("other inbox should have its own bucket, got %s", v)
	}
}

func TestRateLimitRefills(t *testing.T) {
	g := testGuard(1, 1)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	if v := g.Check(1); v != Allow {
		t.Fatalf("expected Allow, got %s", v)
	}
	if v := g.Check(1); v != RateLimited {
		t.Fatalf("expected RateLimited, got %s", v)
	}

	now = now.Add(2 * time.Second)
	if v := g.Check(1); v != Allow {
		t.Fatalf("expected Allow after refill, got %s", v)
	}
}

func TestZeroLimitDisablesLimiting(t *testing.T) {
	g := testGuard(0, 0)
	for i := 0; i < 1000; i++ {
		if v := g.Check(1); v != Allow {
			t.Fatalf("request %d: expected Allow, got %s", i+1, v)
		}
	}
}
