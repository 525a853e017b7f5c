package handlers

import (
	"context"
	"sync"

	"github.com/dylantcon/countertrak/internal/auth"
	"github.com/dylantcon/countertrak/internal/models"
)

// fakeRouter records enqueued snapshots.
type fakeRouter struct {
	mu        sync.Mutex
	snapshots []*models.Snapshot
	summaries []models.MatchSummary
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{}
}

func (f *fakeRouter) Enqueue(snap *models.Snapshot) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, snap)
	return true
}

func (f *fakeRouter) ActiveMatches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.summaries)
}

func (f *fakeRouter) Summaries() []models.MatchSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summaries
}

func (f *fakeRouter) routeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snapshots)
}

// fakeTokens validates against a fixed set.
type fakeTokens struct {
	valid map[string]bool
	stats auth.Status
}

func (f *fakeTokens) IsValid(ctx context.Context, token string) bool {
	return f.valid[token]
}

func (f *fakeTokens) Stats() auth.Status {
	return f.stats
}
