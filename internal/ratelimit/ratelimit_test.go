package ratelimit

import (
	"errors"
	"testing"

	"github.com/jkaninda/hive/internal/domain"
)

func TestUnlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 100; i++ {
		if err := l.Allow("web_fetch"); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
}

func TestBurstThenReject(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 1, BurstSize: 3})
	for i := 0; i < 3; i++ {
		if err := l.Allow("echo"); err != nil {
			t.Fatalf("call %d within burst: %v", i, err)
		}
	}
	err := l.Allow("echo")
	if !errors.Is(err, ErrRateLimited) || !errors.Is(err, domain.ErrBudgetExceeded) {
		t.Fatalf("err = %v, want ErrRateLimited wrapping ErrBudgetExceeded", err)
	}
	if !IsRateLimited(err) {
		t.Error("IsRateLimited should report true")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 1})
	if err := l.Allow("a"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("a"); err == nil {
		t.Fatal("second call for a should be limited")
	}
	if err := l.Allow("b"); err != nil {
		t.Fatalf("b should have its own bucket: %v", err)
	}
}

func TestPerKeyOverride(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 1, PerKey: map[string]int{"bulk": 0, "slow": 1}})
	for i := 0; i < 10; i++ {
		if err := l.Allow("bulk"); err != nil {
			t.Fatalf("bulk is unlimited: %v", err)
		}
	}
	_ = l.Allow("slow")
	if err := l.Allow("slow"); err == nil {
		t.Fatal("slow should be limited")
	}
	l.Reset("slow")
	if err := l.Allow("slow"); err != nil {
		t.Fatalf("reset should refill: %v", err)
	}
}
