package xlru

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

func newTestCache(t *testing.T, size int, ttl time.Duration) *Cache[string, int] {
	t.Helper()
	cache, err := New[string, int](size, ttl)
	if err != nil {
		t.Fatalf("New(%d, %v) failed: %v", size, ttl, err)
	}
	t.Cleanup(cache.Close)
	return cache
}

func TestNew_Validation(t *testing.T) {
	cases := []struct {
		name    string
		size    int
		ttl     time.Duration
		wantErr error
	}{
		{"zero size", 0, time.Minute, ErrInvalidSize},
		{"negative size", -1, time.Minute, ErrInvalidSize},
		{"size exceeds max", maxSize + 1, time.Minute, ErrSizeExceedsMax},
		{"negative ttl", 10, -time.Second, ErrInvalidTTL},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cache, err := New[string, int](tc.size, tc.ttl)
			if cache != nil {
				t.Fatal("expected nil cache")
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestSetGet(t *testing.T) {
	cache := newTestCache(t, 4, time.Minute)

	cache.Set("a", 1)
	v, ok := cache.Get("a")
	if !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v; want 1, true", v, ok)
	}

	if _, ok := cache.Get("missing"); ok {
		t.Fatal("Get(missing) should return false")
	}
}

func TestTTLExpiry(t *testing.T) {
	cache := newTestCache(t, 4, 20*time.Millisecond)

	cache.Set("a", 1)
	time.Sleep(60 * time.Millisecond)

	if _, ok := cache.Get("a"); ok {
		t.Fatal("entry should have expired")
	}
}

func TestZeroTTLNeverExpires(t *testing.T) {
	cache := newTestCache(t, 4, 0)

	cache.Set("a", 1)
	time.Sleep(30 * time.Millisecond)

	if _, ok := cache.Get("a"); !ok {
		t.Fatal("entry with zero TTL should not expire")
	}
}

func TestEviction(t *testing.T) {
	cache := newTestCache(t, 2, time.Minute)

	if evicted := cache.Set("a", 1); evicted {
		t.Fatal("first Set should not evict")
	}
	cache.Set("b", 2)

	if evicted := cache.Set("c", 3); !evicted {
		t.Fatal("Set into full cache should evict")
	}

	if _, ok := cache.Get("a"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if _, ok := cache.Get("c"); !ok {
		t.Fatal("newest entry should be present")
	}
}

func TestPeekDoesNotPromote(t *testing.T) {
	cache := newTestCache(t, 2, time.Minute)

	cache.Set("a", 1)
	cache.Set("b", 2)

	// Peek 不刷新 LRU 顺序，a 仍是最旧条目
	if v, ok := cache.Peek("a"); !ok || v != 1 {
		t.Fatalf("Peek(a) = %d, %v; want 1, true", v, ok)
	}

	cache.Set("c", 3)
	if _, ok := cache.Get("a"); ok {
		t.Fatal("a should have been evicted despite Peek")
	}
}

func TestGetPromotes(t *testing.T) {
	cache := newTestCache(t, 2, time.Minute)

	cache.Set("a", 1)
	cache.Set("b", 2)
	cache.Get("a") // a 变为最新

	cache.Set("c", 3)
	if _, ok := cache.Get("b"); ok {
		t.Fatal("b should have been evicted after a was promoted")
	}
	if _, ok := cache.Get("a"); !ok {
		t.Fatal("a should survive eviction")
	}
}

func TestDelete(t *testing.T) {
	cache := newTestCache(t, 4, time.Minute)

	cache.Set("a", 1)
	if !cache.Delete("a") {
		t.Fatal("Delete(a) should return true")
	}
	if cache.Delete("a") {
		t.Fatal("second Delete(a) should return false")
	}
}

func TestPurge(t *testing.T) {
	cache := newTestCache(t, 4, time.Minute)

	cache.Set("a", 1)
	cache.Set("b", 2)
	cache.Purge()

	if cache.Len() != 0 {
		t.Fatalf("Len() = %d after Purge, want 0", cache.Len())
	}

	// Purge 后仍可使用
	cache.Set("c", 3)
	if _, ok := cache.Get("c"); !ok {
		t.Fatal("cache should be usable after Purge")
	}
}

func TestOnEvicted(t *testing.T) {
	var (
		mu      sync.Mutex
		evicted []string
	)
	cache, err := New[string, int](2, time.Minute, WithOnEvicted(func(key string, _ int) {
		mu.Lock()
		evicted = append(evicted, key)
		mu.Unlock()
	}))
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	cache.Set("a", 1)
	cache.Set("b", 2)
	cache.Set("c", 3)

	mu.Lock()
	defer mu.Unlock()
	if len(evicted) != 1 || evicted[0] != "a" {
		t.Fatalf("evicted = %v, want [a]", evicted)
	}
}

func TestClose(t *testing.T) {
	cache, err := New[string, int](4, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	cache.Set("a", 1)
	cache.Close()
	cache.Close() // 幂等

	if _, ok := cache.Get("a"); ok {
		t.Fatal("Get after Close should return false")
	}
	if cache.Set("b", 2) {
		t.Fatal("Set after Close should be a no-op")
	}
	if cache.Len() != 0 {
		t.Fatal("Len after Close should be 0")
	}
}

func TestUpstreamDoneFieldIntact(t *testing.T) {
	// 维护须知: 此测试验证上游 expirable.LRU 的内部布局未变化。
	// 失败说明升级改变了 done 字段，需要同步更新 stopCleanupGoroutine。
	lru := expirable.NewLRU[string, int](10, nil, time.Minute)

	v := reflect.ValueOf(lru)
	if v.Kind() != reflect.Pointer {
		t.Fatalf("expirable.NewLRU should return pointer, got %s", v.Kind())
	}

	doneField := v.Elem().FieldByName("done")
	if !doneField.IsValid() {
		t.Fatal("upstream expirable.LRU no longer has 'done' field; stopCleanupGoroutine needs update")
	}
	if doneField.Type() != reflect.TypeOf(make(chan struct{})) {
		t.Fatalf("upstream 'done' field type changed to %v; stopCleanupGoroutine needs update", doneField.Type())
	}

	if !stopCleanupGoroutine(lru) {
		t.Fatal("stopCleanupGoroutine should succeed against current upstream")
	}
	// 再次停止：done 已关闭，recover 降级为 false
	if stopCleanupGoroutine(lru) {
		t.Fatal("second stop should degrade to false")
	}
}

func TestStopCleanupGoroutine_Degraded(t *testing.T) {
	if stopCleanupGoroutine(42) {
		t.Fatal("non-pointer input should return false")
	}
	if stopCleanupGoroutine(nil) {
		t.Fatal("nil input should return false")
	}
	var p *struct{ x int }
	if stopCleanupGoroutine(p) {
		t.Fatal("nil pointer should return false")
	}
	if stopCleanupGoroutine(&struct{ x int }{}) {
		t.Fatal("struct without done field should return false")
	}
}
