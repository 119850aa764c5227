package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, ok, err := m.Get(ctx, "absent"); ok || err != nil {
		t.Fatalf("absent key: ok=%v err=%v", ok, err)
	}
	if err := m.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := m.Get(ctx, "k")
	if err != nil || !ok || string(got) != "v" {
		t.Fatalf("Get = (%q, %v, %v), want (v, true, nil)", got, ok, err)
	}
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return base }

	if err := m.Set(ctx, "ttl", []byte("x"), time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Set(ctx, "forever", []byte("y"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// Just before expiry.
	m.now = func() time.Time { return base.Add(900 * time.Millisecond) }
	if _, ok, _ := m.Get(ctx, "ttl"); !ok {
		t.Error("entry expired early")
	}

	// Past expiry: gone, and removed from the map.
	m.now = func() time.Time { return base.Add(2 * time.Second) }
	if _, ok, _ := m.Get(ctx, "ttl"); ok {
		t.Error("entry should have expired")
	}
	if m.Len() != 1 {
		t.Errorf("expired entry not evicted, len = %d", m.Len())
	}

	// Zero ttl never expires.
	m.now = func() time.Time { return base.Add(1000 * time.Hour) }
	if _, ok, _ := m.Get(ctx, "forever"); !ok {
		t.Error("zero-ttl entry must not expire")
	}
}

func TestMemoryClose(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.Set(ctx, "k", []byte("v"), 0)
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Error("Close should drop entries")
	}
}

func TestNewSelectsBackend(t *testing.T) {
	if _, ok := New("", "", 0).(*Memory); !ok {
		t.Error("empty addr should select the memory backend")
	}
	c := New("localhost:6379", "", 0)
	if _, ok := c.(*Redis); !ok {
		t.Error("addr should select the redis backend")
	}
	_ = c.Close()
}
