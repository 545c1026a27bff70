package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemorySets(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Hour)

	t.Run("membership after add", func(t *testing.T) {
		if err := c.SetAdd(ctx, "imported/1/issues", "42"); err != nil {
			t.Fatalf("SetAdd: %v", err)
		}
		ok, err := c.SetIncludes(ctx, "imported/1/issues", "42")
		if err != nil {
			t.Fatalf("SetIncludes: %v", err)
		}
		if !ok {
			t.Error("expected member after SetAdd")
		}
	})

	t.Run("missing member", func(t *testing.T) {
		ok, err := c.SetIncludes(ctx, "imported/1/issues", "999")
		if err != nil {
			t.Fatalf("SetIncludes: %v", err)
		}
		if ok {
			t.Error("expected non-member")
		}
	})

	t.Run("missing key", func(t *testing.T) {
		ok, err := c.SetIncludes(ctx, "no-such-key", "42")
		if err != nil {
			t.Fatalf("SetIncludes: %v", err)
		}
		if ok {
			t.Error("expected non-member for missing key")
		}
	})
}

func TestMemoryCounters(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Hour)

	_, exists, err := c.CounterGet(ctx, "waiter-a")
	if err != nil {
		t.Fatalf("CounterGet: %v", err)
	}
	if exists {
		t.Error("expected missing counter before set")
	}

	if err := c.CounterSet(ctx, "waiter-a", 3); err != nil {
		t.Fatalf("CounterSet: %v", err)
	}
	value, exists, err := c.CounterGet(ctx, "waiter-a")
	if err != nil {
		t.Fatalf("CounterGet: %v", err)
	}
	if !exists || value != 3 {
		t.Errorf("got (%d, %v), want (3, true)", value, exists)
	}

	if err := c.Delete(ctx, "waiter-a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, exists, err = c.CounterGet(ctx, "waiter-a")
	if err != nil {
		t.Fatalf("CounterGet: %v", err)
	}
	if exists {
		t.Error("expected counter gone after Delete")
	}
}

func TestMemoryTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	c := NewMemory(time.Minute)
	c.SetClock(func() time.Time { return now })

	if err := c.SetAdd(ctx, "k", "v"); err != nil {
		t.Fatalf("SetAdd: %v", err)
	}

	t.Run("visible before expiry", func(t *testing.T) {
		ok, _ := c.SetIncludes(ctx, "k", "v")
		if !ok {
			t.Error("expected member before expiry")
		}
	})

	t.Run("gone after expiry", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		ok, _ := c.SetIncludes(ctx, "k", "v")
		if ok {
			t.Error("expected key to expire")
		}
	})

	t.Run("expire extends lifetime", func(t *testing.T) {
		if err := c.SetAdd(ctx, "k2", "v"); err != nil {
			t.Fatalf("SetAdd: %v", err)
		}
		if err := c.Expire(ctx, "k2", time.Hour); err != nil {
			t.Fatalf("Expire: %v", err)
		}
		now = now.Add(30 * time.Minute)
		ok, _ := c.SetIncludes(ctx, "k2", "v")
		if !ok {
			t.Error("expected key alive after Expire extension")
		}
	})
}
