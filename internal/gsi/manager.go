package gsi

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/dylantcon/countertrak/internal/models"
)

var (
	snapshotsRouted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "countertrak_snapshots_routed_total",
		Help: "Total number of snapshots routed to a match processor",
	})

	snapshotsUnroutable = promauto.NewCounter(prometheus.CounterOpts{
		Name: "countertrak_snapshots_unroutable_total",
		Help: "Total number of snapshots dropped before routing (menu payloads, missing sections)",
	})

	snapshotsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "countertrak_snapshots_dropped_total",
		Help: "Total number of snapshots shed because the ingest queue was full",
	})

	activeMatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "countertrak_active_matches",
		Help: "Number of match processors currently alive",
	})

	matchesRetired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "countertrak_matches_retired_total",
		Help: "Total number of match processors retired",
	})
)

const (
	// DefaultDispatchWorkers is the number of queue drainers. Snapshots
	// for one match always hash to the same queue, so raising this adds
	// cross-match parallelism without reordering any single match.
	DefaultDispatchWorkers = 4

	// DefaultQueueSize bounds each dispatch queue. A full queue sheds the
	// snapshot; the client carries full state in its next POST.
	DefaultQueueSize = 4096

	routeTimeout = 30 * time.Second
)

// Manager routes snapshots to the processor owning their match, creating
// and retiring processors as matches come and go. The mutex guards only
// the processor map; dispatch into an existing processor happens outside
// it because each processor serializes its own state.
type Manager struct {
	store       Store
	sink        EventSink
	live        LiveMirror
	log         *zap.SugaredLogger
	idleTimeout time.Duration

	queues   []chan *models.Snapshot
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu         sync.Mutex
	processors map[string]*Processor
}

// ManagerConfig wires a Manager. Sink and Live may be nil.
type ManagerConfig struct {
	Store           Store
	Sink            EventSink
	Live            LiveMirror
	Logger          *zap.SugaredLogger
	IdleTimeout     time.Duration
	DispatchWorkers int
	QueueSize       int
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.DispatchWorkers <= 0 {
		cfg.DispatchWorkers = DefaultDispatchWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	queues := make([]chan *models.Snapshot, cfg.DispatchWorkers)
	for i := range queues {
		queues[i] = make(chan *models.Snapshot, cfg.QueueSize)
	}
	return &Manager{
		store:       cfg.Store,
		sink:        cfg.Sink,
		live:        cfg.Live,
		log:         cfg.Logger,
		idleTimeout: cfg.IdleTimeout,
		queues:      queues,
		processors:  make(map[string]*Processor),
	}
}

// Start launches one drainer per dispatch queue. Each drainer processes
// its queue strictly in arrival order.
func (m *Manager) Start() {
	for _, q := range m.queues {
		m.wg.Add(1)
		go func(q chan *models.Snapshot) {
			defer m.wg.Done()
			for snap := range q {
				ctx, cancel := context.WithTimeout(context.Background(), routeTimeout)
				m.Route(ctx, snap)
				cancel()
			}
		}(q)
	}
}

// Enqueue places a snapshot on the dispatch queue owning its match and
// returns without waiting for processing. Snapshots for the same match
// land on the same queue, so they are processed in the order received.
// Menu payloads and snapshots without a match key are rejected here, and
// a full queue sheds the snapshot instead of blocking the caller.
func (m *Manager) Enqueue(snap *models.Snapshot) (ok bool) {
	if snap.IsMenu() {
		snapshotsUnroutable.Inc()
		return false
	}
	baseID := snap.BaseMatchID()
	if baseID == "" {
		snapshotsUnroutable.Inc()
		return false
	}

	// Enqueue after Shutdown would send on a closed channel.
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	q := m.queues[shardFor(baseID)%uint32(len(m.queues))]
	select {
	case q <- snap:
		return true
	default:
		snapshotsDropped.Inc()
		m.log.Warnw("ingest queue full, shedding snapshot", "base_match_id", baseID)
		return false
	}
}

func shardFor(baseID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(baseID))
	return h.Sum32()
}

// Route hands a snapshot to the processor owning its match, creating one
// if this is the first snapshot of a new match. It returns false for
// snapshots that cannot be attributed to a match (menu payloads, missing
// map/provider/player sections); that is not an error.
func (m *Manager) Route(ctx context.Context, snap *models.Snapshot) bool {
	if snap.IsMenu() {
		if snap.Player != nil && snap.Player.Name != "" {
			m.log.Debugw("player is in the menu", "player", snap.Player.Name)
		}
		snapshotsUnroutable.Inc()
		return false
	}

	baseID := snap.BaseMatchID()
	if baseID == "" {
		m.log.Debugw("snapshot lacks map or provider sections, dropping")
		snapshotsUnroutable.Inc()
		return false
	}

	ownerSteamID := snap.Provider.SteamID
	if snap.Player == nil || snap.Player.SteamID == "" {
		snapshotsUnroutable.Inc()
		return false
	}
	playerSteamID := snap.Player.SteamID
	isOwnerPlaying := ownerSteamID == playerSteamID
	if !isOwnerPlaying {
		m.log.Debugw("client is spectating", "owner", ownerSteamID, "player", playerSteamID)
	}

	proc := m.getOrCreate(baseID, ownerSteamID)
	proc.HandlePayload(ctx, snap, isOwnerPlaying)
	snapshotsRouted.Inc()

	m.Sweep(ctx)
	return true
}

// getOrCreate finds a live processor by base match id, or mints a new
// UUID-qualified match id and creates one. Double-checked locking keeps
// the first snapshots of a new match from stampeding.
func (m *Manager) getOrCreate(baseID, ownerSteamID string) *Processor {
	if p := m.findByBase(baseID); p != nil {
		return p
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.processors {
		if p.BaseMatchID() == baseID {
			return p
		}
	}

	matchID := baseID + "_" + uuid.NewString()
	p := NewProcessor(ProcessorConfig{
		BaseMatchID:  baseID,
		MatchID:      matchID,
		OwnerSteamID: ownerSteamID,
		Store:        m.store,
		Sink:         m.sink,
		Live:         m.live,
		Logger:       m.log,
		IdleTimeout:  m.idleTimeout,
	})
	m.processors[matchID] = p
	activeMatches.Set(float64(len(m.processors)))
	m.log.Infow("created match processor", "match_id", matchID, "owner", ownerSteamID)
	return p
}

func (m *Manager) findByBase(baseID string) *Processor {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.processors {
		if p.BaseMatchID() == baseID {
			return p
		}
	}
	return nil
}

// Sweep retires processors whose match finished or went idle. Retired
// matches are flushed through their completion path first so buffered
// rounds are not lost when a client simply stops posting.
func (m *Manager) Sweep(ctx context.Context) {
	var retired []*Processor

	m.mu.Lock()
	for id, p := range m.processors {
		if p.IsMatchCompleted() {
			retired = append(retired, p)
			delete(m.processors, id)
		}
	}
	activeMatches.Set(float64(len(m.processors)))
	m.mu.Unlock()

	for _, p := range retired {
		p.HandleMatchCompletion(ctx)
		matchesRetired.Inc()
		m.log.Infow("retired match processor", "match_id", p.MatchID())
	}
}

// ActiveMatches returns the number of live processors.
func (m *Manager) ActiveMatches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.processors)
}

// Summaries returns a point-in-time view of every live match.
func (m *Manager) Summaries() []models.MatchSummary {
	m.mu.Lock()
	procs := make([]*Processor, 0, len(m.processors))
	for _, p := range m.processors {
		procs = append(procs, p)
	}
	m.mu.Unlock()

	out := make([]models.MatchSummary, 0, len(procs))
	for _, p := range procs {
		out = append(out, p.Summary())
	}
	return out
}

// Shutdown stops the dispatch drainers, lets them empty their queues,
// then flushes every live processor through its completion path. It is
// called once during graceful shutdown, after the listener stops.
func (m *Manager) Shutdown(ctx context.Context) {
	m.stopOnce.Do(func() {
		for _, q := range m.queues {
			close(q)
		}
	})
	m.wg.Wait()

	m.mu.Lock()
	procs := make([]*Processor, 0, len(m.processors))
	for _, p := range m.processors {
		procs = append(procs, p)
	}
	m.processors = make(map[string]*Processor)
	activeMatches.Set(0)
	m.mu.Unlock()

	for _, p := range procs {
		p.HandleMatchCompletion(ctx)
	}
	m.log.Infow("match manager drained", "matches", len(procs))
}
