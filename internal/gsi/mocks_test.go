package gsi

import (
	"context"
	"sync"
	"time"

	"github.com/dylantcon/countertrak/internal/models"
)

type fakeRoundRow struct {
	Phase     string
	Winner    string
	Condition string
}

type fakePlayerRow struct {
	Round   int
	SteamID string
	Health  int
	TS      time.Time
}

type fakeWeaponRow struct {
	Round   int
	SteamID string
	Name    string
	State   string
}

type fakeMatchRow struct {
	State     models.MatchState
	Completed bool
	CTScore   int
	TScore    int
	Total     int
}

// fakeStore is an in-memory Store for processor and manager tests.
// Error injection fields fail exactly one call and reset.
type fakeStore struct {
	mu sync.Mutex

	Matches      map[string]*fakeMatchRow
	Rounds       map[string]map[int]*fakeRoundRow
	RoundCreates []int
	PlayerRows   []fakePlayerRow
	WeaponRows   []fakeWeaponRow
	MatchStats   map[string]models.PlayerState
	Tokens       map[string]string

	CreateMatchCalls   int
	CompleteMatchCalls int
	UpdateMatchCalls   int

	FailNextRoundExists error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		Matches:    make(map[string]*fakeMatchRow),
		Rounds:     make(map[string]map[int]*fakeRoundRow),
		MatchStats: make(map[string]models.PlayerState),
		Tokens:     map[string]string{"76561190000000001": "abc123"},
	}
}

func (s *fakeStore) MatchExists(ctx context.Context, matchID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.Matches[matchID]
	return ok, nil
}

func (s *fakeStore) CreateMatch(ctx context.Context, matchID string, ms *models.MatchState, start time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CreateMatchCalls++
	if _, ok := s.Matches[matchID]; !ok {
		s.Matches[matchID] = &fakeMatchRow{State: *ms}
	}
	return nil
}

func (s *fakeStore) UpdateMatch(ctx context.Context, matchID string, ms *models.MatchState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpdateMatchCalls++
	if row, ok := s.Matches[matchID]; ok {
		row.State = *ms
	}
	return nil
}

func (s *fakeStore) CompleteMatch(ctx context.Context, matchID string, ctScore, tScore, totalRounds int, end time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CompleteMatchCalls++
	if row, ok := s.Matches[matchID]; ok {
		row.Completed = true
		row.CTScore = ctScore
		row.TScore = tScore
		row.Total = totalRounds
	}
	return nil
}

func (s *fakeStore) RoundExists(ctx context.Context, matchID string, round int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailNextRoundExists; err != nil {
		s.FailNextRoundExists = nil
		return false, err
	}
	_, ok := s.Rounds[matchID][round]
	return ok, nil
}

func (s *fakeStore) CreateRound(ctx context.Context, matchID string, round int, phase, winner, condition string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RoundCreates = append(s.RoundCreates, round)
	if s.Rounds[matchID] == nil {
		s.Rounds[matchID] = make(map[int]*fakeRoundRow)
	}
	if _, ok := s.Rounds[matchID][round]; !ok {
		s.Rounds[matchID][round] = &fakeRoundRow{Phase: phase, Winner: winner, Condition: condition}
	}
	return nil
}

func (s *fakeStore) UpdateRoundWinner(ctx context.Context, matchID string, round int, winner, condition string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.Rounds[matchID][round]
	if !ok {
		return nil
	}
	if row.Winner == "" || row.Winner == winner {
		row.Winner = winner
		row.Condition = condition
		row.Phase = models.RoundPhaseOver
	}
	return nil
}

func (s *fakeStore) SteamAccountToken(ctx context.Context, steamID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Tokens[steamID], nil
}

func (s *fakeStore) InsertPlayerRoundState(ctx context.Context, matchID string, round int, ps *models.PlayerState, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PlayerRows = append(s.PlayerRows, fakePlayerRow{Round: round, SteamID: ps.SteamID, Health: ps.Health, TS: ts})
	return nil
}

func (s *fakeStore) InsertPlayerWeapon(ctx context.Context, matchID string, round int, steamID string, w models.WeaponState, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WeaponRows = append(s.WeaponRows, fakeWeaponRow{Round: round, SteamID: steamID, Name: w.Name, State: w.State})
	return nil
}

func (s *fakeStore) UpsertPlayerMatchStat(ctx context.Context, matchID string, ps *models.PlayerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MatchStats[ps.SteamID+"|"+matchID] = *ps
	return nil
}

func (s *fakeStore) roundCreates() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.RoundCreates))
	copy(out, s.RoundCreates)
	return out
}

func (s *fakeStore) roundRow(matchID string, round int) *fakeRoundRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.Rounds[matchID][round]
	if !ok {
		return nil
	}
	cp := *row
	return &cp
}

// fakeSink records enqueued events.
type fakeSink struct {
	mu     sync.Mutex
	Events []models.GameEvent
}

func (f *fakeSink) Enqueue(ev *models.GameEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events = append(f.Events, *ev)
	return true
}

func (f *fakeSink) byType(t models.EventType) []models.GameEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.GameEvent
	for _, ev := range f.Events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// fakeMirror records live summary publishes and removals.
type fakeMirror struct {
	mu        sync.Mutex
	Published []models.MatchSummary
	Removed   []string
}

func (f *fakeMirror) Publish(ctx context.Context, s models.MatchSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Published = append(f.Published, s)
}

func (f *fakeMirror) Remove(ctx context.Context, matchID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Removed = append(f.Removed, matchID)
}
