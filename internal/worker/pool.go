// Package worker implements the buffered worker pool for the analytics
// event sink. Diff-derived game events are enqueued by the match
// processors and batch-inserted into ClickHouse, keeping analytics writes
// off the ingest path. The sink is advisory: events may be shed under
// load, relational persistence never depends on them.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/dylantcon/countertrak/internal/models"
)

// Prometheus metrics
var (
	eventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "countertrak_events_ingested_total",
		Help: "Total number of game events accepted by the sink",
	})

	eventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "countertrak_events_processed_total",
		Help: "Total number of game events written to ClickHouse",
	})

	eventsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "countertrak_events_failed_total",
		Help: "Total number of game events that failed to persist",
	})

	eventsLoadShed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "countertrak_events_load_shed_total",
		Help: "Total number of game events dropped due to load shedding",
	})

	sinkQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "countertrak_sink_queue_depth",
		Help: "Current depth of the analytics sink queue",
	})

	batchInsertDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "countertrak_batch_insert_duration_seconds",
		Help:    "Duration of batch inserts to ClickHouse",
		Buckets: prometheus.DefBuckets,
	})
)

// Job is one event in flight plus the time the sink received it.
type Job struct {
	Event    *models.GameEvent
	Received time.Time
}

// PoolConfig configures the analytics sink.
type PoolConfig struct {
	WorkerCount   int
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	ClickHouse    driver.Conn
	Logger        *zap.Logger
}

// Pool batches game events into ClickHouse.
type Pool struct {
	config   PoolConfig
	jobQueue chan Job
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.SugaredLogger
}

// NewPool creates the sink. Call Start before enqueuing.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}

	return &Pool{
		config:   cfg,
		jobQueue: make(chan Job, cfg.QueueSize),
		logger:   cfg.Logger.Sugar(),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	go p.reportQueueDepth()

	p.logger.Infow("analytics sink started",
		"workers", p.config.WorkerCount,
		"queueSize", p.config.QueueSize,
		"batchSize", p.config.BatchSize,
	)
}

// Stop shuts the sink down, flushing any buffered events first. The queue
// is closed before the context so workers drain it rather than bailing out
// mid-batch.
func (p *Pool) Stop() {
	p.logger.Info("stopping analytics sink")
	close(p.jobQueue)
	p.wg.Wait()
	p.cancel()
	p.logger.Info("analytics sink stopped")
}

// Enqueue offers an event to the sink without blocking. When the queue is
// full the event is shed so the ingest path never stalls on analytics.
func (p *Pool) Enqueue(event *models.GameEvent) bool {
	// Protect against sending on a closed channel during shutdown.
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warnw("event dropped, sink stopped", "error", r)
		}
	}()

	select {
	case p.jobQueue <- Job{Event: event, Received: time.Now()}:
		eventsIngested.Inc()
		return true
	default:
		eventsLoadShed.Inc()
		return false
	}
}

// QueueDepth returns the current queue size.
func (p *Pool) QueueDepth() int {
	return len(p.jobQueue)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	batch := make([]Job, 0, p.config.BatchSize)
	ticker := time.NewTicker(p.config.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		start := time.Now()
		if err := p.insertBatch(batch); err != nil {
			p.logger.Errorw("batch insert failed",
				"worker", id,
				"batchSize", len(batch),
				"error", err,
			)
			eventsFailed.Add(float64(len(batch)))
		} else {
			eventsProcessed.Add(float64(len(batch)))
		}
		batchInsertDuration.Observe(time.Since(start).Seconds())

		batch = batch[:0]
	}

	for {
		select {
		case job, ok := <-p.jobQueue:
			if !ok {
				flush()
				return
			}

			batch = append(batch, job)
			if len(batch) >= p.config.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-p.ctx.Done():
			flush()
			return
		}
	}
}

func (p *Pool) insertBatch(batch []Job) error {
	ctx := context.Background()

	chBatch, err := p.config.ClickHouse.PrepareBatch(ctx, `
		INSERT INTO countertrak.game_events (
			timestamp, match_id, event_type, steam_id, round_number,
			weapon, winner, win_condition, kill_delta, ct_score, t_score
		)
	`)
	if err != nil {
		return err
	}

	for _, job := range batch {
		e := job.Event

		ts := e.Timestamp
		if ts.IsZero() {
			ts = job.Received
		}

		round := e.Round
		if e.Type == models.EventRoundChange {
			round = e.NewRound
		}

		if err := chBatch.Append(
			ts.UTC(),
			e.MatchID,
			string(e.Type),
			e.SteamID,
			int32(round),
			e.Weapon,
			e.Winner,
			e.WinCondition,
			int32(e.KillDelta),
			int32(e.CTScore),
			int32(e.TScore),
		); err != nil {
			p.logger.Warnw("failed to append event to batch",
				"error", err, "event_type", e.Type)
			continue
		}
	}

	return chBatch.Send()
}

func (p *Pool) reportQueueDepth() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sinkQueueDepth.Set(float64(len(p.jobQueue)))
		case <-p.ctx.Done():
			return
		}
	}
}
