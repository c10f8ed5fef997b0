package auth

import (
	"sync"
	"testing"
	"time"
)

func TestCache_FreshHit(t *testing.T) {
	cache := NewAuthCache(1 * time.Minute)
	cache.Set("mdk_abc123", RoleAdmin)

	role, ok := cache.Get("mdk_abc123")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if role != RoleAdmin {
		t.Errorf("expected admin, got %v", role)
	}
}

func TestCache_Miss(t *testing.T) {
	cache := NewAuthCache(1 * time.Minute)
	if role, ok := cache.Get("mdk_nonexistent"); ok || role != RoleNone {
		t.Errorf("expected miss, got (%v, %v)", role, ok)
	}
}

func TestCache_ExpiredEntryIsEvicted(t *testing.T) {
	now := time.Now()
	cache := NewAuthCache(time.Second)
	cache.now = func() time.Time { return now }
	cache.Set("mdk_abc123", RoleService)

	now = now.Add(2 * time.Second)
	if _, ok := cache.Get("mdk_abc123"); ok {
		t.Fatal("expected expired entry to miss")
	}

	count := 0
	cache.store.Range(func(_, _ any) bool { count++; return true })
	if count != 0 {
		t.Errorf("expected expired entry to be evicted, %d left", count)
	}
}

func TestCache_Delete(t *testing.T) {
	cache := NewAuthCache(1 * time.Minute)
	cache.Set("mdk_abc123", RoleService)
	cache.Delete("mdk_abc123")
	if _, ok := cache.Get("mdk_abc123"); ok {
		t.Error("expected miss after delete")
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := NewAuthCache(1 * time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			cache.Set("mdk_shared", RoleService)
		}()
		go func() {
			defer wg.Done()
			cache.Get("mdk_shared")
		}()
	}
	wg.Wait()
}
