package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeSource struct {
	mu     sync.Mutex
	calls  int
	tokens map[string]string
	err    error
}

func (f *fakeSource) ListAuthTokens(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string, len(f.tokens))
	for k, v := range f.tokens {
		out[k] = v
	}
	return out, nil
}

func (f *fakeSource) set(tokens map[string]string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = tokens
	f.err = err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestCache(src AccountSource) *TokenCache {
	return New(Config{
		Source:          src,
		Logger:          zap.NewNop().Sugar(),
		RefreshInterval: time.Minute,
	})
}

func TestInitializeLoadsTokens(t *testing.T) {
	src := &fakeSource{tokens: map[string]string{"tok1": "111", "tok2": "222"}}
	c := newTestCache(src)
	ctx := context.Background()

	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if !c.IsValid(ctx, "tok1") || !c.IsValid(ctx, "tok2") {
		t.Error("known tokens rejected")
	}
	if c.IsValid(ctx, "nope") {
		t.Error("unknown token accepted")
	}

	sid, ok := c.SteamIDFor(ctx, "tok1")
	if !ok || sid != "111" {
		t.Errorf("SteamIDFor(tok1) = %q, %v", sid, ok)
	}

	st := c.Stats()
	if !st.Initialized || st.TokenCount != 2 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestInitializeRetriesOnFailure(t *testing.T) {
	src := &fakeSource{err: errors.New("db down")}
	c := newTestCache(src)
	ctx := context.Background()

	go func() {
		time.Sleep(200 * time.Millisecond)
		src.set(map[string]string{"tok1": "111"}, nil)
	}()

	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize after recovery: %v", err)
	}
	if !c.IsValid(ctx, "tok1") {
		t.Error("token missing after recovered initialization")
	}
	if src.callCount() < 2 {
		t.Errorf("source called %d times, want at least 2", src.callCount())
	}
}

func TestInitializeIdempotent(t *testing.T) {
	src := &fakeSource{tokens: map[string]string{"tok1": "111"}}
	c := newTestCache(src)
	ctx := context.Background()

	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if src.callCount() != 1 {
		t.Errorf("source called %d times, want 1", src.callCount())
	}
}

func TestRefreshFailureKeepsPreviousCache(t *testing.T) {
	src := &fakeSource{tokens: map[string]string{"tok1": "111"}}
	c := newTestCache(src)
	ctx := context.Background()

	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	src.set(nil, errors.New("db down"))
	if err := c.Refresh(ctx); err == nil {
		t.Fatal("Refresh succeeded against failing source")
	}

	if !c.IsValid(ctx, "tok1") {
		t.Error("previous cache lost after failed refresh")
	}
}

func TestMissOnStaleCacheTriggersRefresh(t *testing.T) {
	src := &fakeSource{tokens: map[string]string{"tok1": "111"}}
	c := newTestCache(src)
	ctx := context.Background()

	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// A new account registers and the cache goes stale.
	src.set(map[string]string{"tok1": "111", "tok2": "222"}, nil)
	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	sid, ok := c.SteamIDFor(ctx, "tok2")
	if !ok || sid != "222" {
		t.Errorf("SteamIDFor(tok2) = %q, %v; want refresh-and-hit", sid, ok)
	}
	if src.callCount() != 2 {
		t.Errorf("source called %d times, want 2", src.callCount())
	}
}

func TestMissOnFreshCacheDoesNotRefresh(t *testing.T) {
	src := &fakeSource{tokens: map[string]string{"tok1": "111"}}
	c := newTestCache(src)
	ctx := context.Background()

	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if c.IsValid(ctx, "unknown") {
		t.Error("unknown token accepted")
	}
	if src.callCount() != 1 {
		t.Errorf("source called %d times on fresh cache, want 1", src.callCount())
	}
}

func TestLegacyTokenSurvivesRefresh(t *testing.T) {
	src := &fakeSource{tokens: map[string]string{}}
	c := New(Config{
		Source:          src,
		Logger:          zap.NewNop().Sugar(),
		RefreshInterval: time.Minute,
		LegacyToken:     "old-shared-token",
		LegacySteamID:   "999",
	})
	ctx := context.Background()

	if !c.IsValid(ctx, "old-shared-token") {
		t.Fatal("legacy token rejected before first refresh")
	}

	if err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	sid, ok := c.SteamIDFor(ctx, "old-shared-token")
	if !ok || sid != "999" {
		t.Errorf("legacy token after refresh = %q, %v", sid, ok)
	}
}
