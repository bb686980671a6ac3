package redis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewFromOptions(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestAllowEnforcesWindow(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !c.Allow(ctx, "login:1.2.3.4", 3, time.Minute) {
			t.Fatalf("request %d refused", i+1)
		}
	}
	if c.Allow(ctx, "login:1.2.3.4", 3, time.Minute) {
		t.Fatal("fourth request allowed")
	}
	if !c.Allow(ctx, "login:5.6.7.8", 3, time.Minute) {
		t.Fatal("other key refused")
	}

	mr.FastForward(2 * time.Minute)
	if !c.Allow(ctx, "login:1.2.3.4", 3, time.Minute) {
		t.Fatal("request refused after window expired")
	}
}

func TestLockIsExclusive(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	ok, err := c.Lock(ctx, "outbox", "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first lock: %v, %v", ok, err)
	}
	ok, err = c.Lock(ctx, "outbox", "b", time.Minute)
	if err != nil || ok {
		t.Fatalf("second owner got the lock: %v, %v", ok, err)
	}

	if err := c.Unlock(ctx, "outbox", "b"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := c.Lock(ctx, "outbox", "b", time.Minute); ok {
		t.Fatal("non-owner unlock released the lock")
	}

	if err := c.Unlock(ctx, "outbox", "a"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := c.Lock(ctx, "outbox", "b", time.Minute); !ok {
		t.Fatal("lock not released by owner")
	}
}

func TestIdempotentResponses(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	got, err := c.LookupResponse(ctx, "u1:key")
	if err != nil || got != nil {
		t.Fatalf("empty lookup = %v, %v", got, err)
	}

	want := CachedResponse{Status: 201, Body: json.RawMessage(`{"id":5}`)}
	if err := c.StoreResponse(ctx, "u1:key", want, time.Hour); err != nil {
		t.Fatal(err)
	}
	got, err = c.LookupResponse(ctx, "u1:key")
	if err != nil || got == nil || got.Status != 201 || string(got.Body) != `{"id":5}` {
		t.Fatalf("lookup = %+v, %v", got, err)
	}

	mr.FastForward(2 * time.Hour)
	if got, _ := c.LookupResponse(ctx, "u1:key"); got != nil {
		t.Fatal("cached response outlived its ttl")
	}
}

func TestNilClientIsPermissive(t *testing.T) {
	var c *Client
	ctx := context.Background()

	if !c.Allow(ctx, "x", 0, time.Second) {
		t.Error("nil client refused a request")
	}
	if ok, err := c.Lock(ctx, "x", "me", time.Second); !ok || err != nil {
		t.Error("nil client refused a lock")
	}
	if resp, err := c.LookupResponse(ctx, "x"); resp != nil || err != nil {
		t.Error("nil client returned a cached response")
	}
	if err := c.Ping(ctx); err != nil {
		t.Error(err)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := newTestClient(t)

	r := gin.New()
	r.GET("/", c.RateLimit("test", 2, time.Minute, func(*gin.Context) string { return "same" }), func(ctx *gin.Context) {
		ctx.Status(http.StatusNoContent)
	})

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes[i] = w.Code
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
}
