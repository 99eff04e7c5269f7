// Package pipeline is the hot path (spec §4.7): a bounded, sharded event
// queue drained by a fixed worker pool, each worker persisting events,
// handing them to correlation, and fanning results out via the message
// router. Start/Stop/runLoop lifecycle mirrors the teacher pack's
// MixingExecutor (com.r3e.services.mixer/service/executor.go).
package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sentrygrid/coreplane/internal/apperr"
	"github.com/sentrygrid/coreplane/internal/correlation"
	"github.com/sentrygrid/coreplane/internal/domain"
	"github.com/sentrygrid/coreplane/internal/messagerouter"
)

// Config tunes queue capacity, worker count, and batching (spec §4.7).
type Config struct {
	QueueCapacity    int
	WorkerCount      int
	MaxBatchSize     int
	PerEventDeadline time.Duration
}

type queuedEvent struct {
	agentID   uuid.UUID
	agentName string
	req       domain.SecurityEventRequest
	enqueued  time.Time
}

// Stats is the EMA-smoothed snapshot returned by GetStats (spec §4.7).
type Stats struct {
	EventsPerSecond      float64
	ProcessingLatencyMs  float64
	QueueDepth           int
	TotalProcessed       int64
	ErrorRatePercent     float64
}

const emaWindow = 10 * time.Second

// Pipeline owns the sharded worker pool and its shared queues.
type Pipeline struct {
	cfg     Config
	db      *sql.DB
	logger  zerolog.Logger
	router  *messagerouter.Router
	corr    *correlation.Engine

	shards []chan queuedEvent
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu               sync.Mutex
	stopped          bool
	totalProcessed   int64
	totalErrors      int64
	lastRateSample   time.Time
	processedSinceSample int64
	errorsSinceSample    int64
	eventsPerSecond      float64
	errorRatePercent     float64
	avgLatencyMs         float64
}

// New constructs a Pipeline; call Start to launch its workers.
func New(cfg Config, db *sql.DB, logger zerolog.Logger, router *messagerouter.Router, corr *correlation.Engine) *Pipeline {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 10000
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1000
	}
	if cfg.PerEventDeadline <= 0 {
		cfg.PerEventDeadline = 250 * time.Millisecond
	}

	shards := make([]chan queuedEvent, cfg.WorkerCount)
	perShard := cfg.QueueCapacity / cfg.WorkerCount
	if perShard < 1 {
		perShard = 1
	}
	for i := range shards {
		shards[i] = make(chan queuedEvent, perShard)
	}

	return &Pipeline{
		cfg:            cfg,
		db:             db,
		logger:         logger,
		router:         router,
		corr:           corr,
		shards:         shards,
		lastRateSample: time.Now(),
	}
}

func (p *Pipeline) shardFor(agentID uuid.UUID) int {
	h := fnv.New32a()
	h.Write(agentID[:])
	return int(h.Sum32()) % len(p.shards)
}

// Start launches one worker goroutine per shard, preserving per-agent
// ordering via hash(agent_id) mod worker_count affinity (spec §5).
func (p *Pipeline) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i, shard := range p.shards {
		p.wg.Add(1)
		go p.worker(ctx, i, shard)
	}
}

// Stop signals every worker to drain and exit, blocking until they do.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// QueueEvent performs a non-blocking enqueue, failing fast with
// *Backpressure* if the target shard is full (spec §4.7).
func (p *Pipeline) QueueEvent(agentID uuid.UUID, agentName string, req domain.SecurityEventRequest) error {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return apperr.New(apperr.KindBackpressure, "pipeline is draining, new events refused")
	}

	shard := p.shards[p.shardFor(agentID)]
	select {
	case shard <- queuedEvent{agentID: agentID, agentName: agentName, req: req, enqueued: time.Now()}:
		return nil
	default:
		return apperr.ErrBackpressure
	}
}

// QueueEventsBatch enqueues a batch atomically: either every event fits in
// its shard or none are enqueued (spec §4.7). Batches over 1,000 events
// are a validation error, not a backpressure one.
func (p *Pipeline) QueueEventsBatch(agentID uuid.UUID, agentName string, reqs []domain.SecurityEventRequest) error {
	if len(reqs) > p.cfg.MaxBatchSize {
		return apperr.New(apperr.KindValidation, "batch exceeds max_batch_size")
	}
	shard := p.shards[p.shardFor(agentID)]
	if cap(shard)-len(shard) < len(reqs) {
		return apperr.ErrBackpressure
	}
	now := time.Now()
	for _, req := range reqs {
		shard <- queuedEvent{agentID: agentID, agentName: agentName, req: req, enqueued: now}
	}
	return nil
}

// GetStats returns the current EMA-smoothed throughput and latency
// snapshot (spec §4.7).
func (p *Pipeline) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	depth := 0
	for _, shard := range p.shards {
		depth += len(shard)
	}

	errRate := 0.0
	if p.totalProcessed > 0 {
		errRate = p.errorRatePercent
	}

	return Stats{
		EventsPerSecond:     p.eventsPerSecond,
		ProcessingLatencyMs: p.avgLatencyMs,
		QueueDepth:          depth,
		TotalProcessed:      p.totalProcessed,
		ErrorRatePercent:    errRate,
	}
}

// QueueCapacity reports the total configured queue capacity, reported
// beside GetStats' QueueDepth by the /pipeline/metrics handler (spec §8:
// "queue_depth == capacity" at saturation).
func (p *Pipeline) QueueCapacity() int {
	total := 0
	for _, shard := range p.shards {
		total += cap(shard)
	}
	return total
}

func (p *Pipeline) worker(ctx context.Context, id int, shard chan queuedEvent) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-shard:
			if !ok {
				return
			}
			p.process(ctx, ev)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, ev queuedEvent) {
	start := time.Now()

	event, err := p.persist(ctx, ev)
	if err != nil {
		p.logger.Error().Err(err).Str("agent_id", ev.agentID.String()).Msg("failed to persist security event, dropping")
		p.recordOutcome(false, time.Since(start))
		return
	}

	p.router.RouteSecurityEvent(ev.agentID, *event, ev.agentName)

	alerts := p.corr.Observe(ctx, *event)
	for _, alert := range alerts {
		p.router.RouteThreatAlert(alert, ev.agentName, event.Title)
	}

	latency := time.Since(start)
	if latency > p.cfg.PerEventDeadline {
		p.logger.Warn().
			Dur("latency", latency).
			Str("agent_id", ev.agentID.String()).
			Msg("event processing exceeded per_event_deadline")
	}
	p.recordOutcome(true, latency)
}

func (p *Pipeline) persist(ctx context.Context, ev queuedEvent) (*domain.SecurityEvent, error) {
	event := domain.SecurityEvent{
		ID:          uuid.New(),
		AgentID:     ev.agentID,
		EventType:   ev.req.EventType,
		Severity:    ev.req.Severity,
		Title:       ev.req.Title,
		Description: ev.req.Description,
		EventData:   ev.req.EventData,
		RawData:     ev.req.RawData,
		SourceIP:    ev.req.SourceIP,
		ProcessName: ev.req.ProcessName,
		FilePath:    ev.req.FilePath,
		UserName:    ev.req.UserName,
		OccurredAt:  ev.req.OccurredAt,
		CreatedAt:   time.Now().UTC(),
	}

	if p.db == nil {
		return &event, nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "begin transaction", err)
	}
	defer tx.Rollback()

	eventDataJSON, err := json.Marshal(event.EventData)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "marshal event_data", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO security_events (
			id, agent_id, event_type, severity, title, description, event_data,
			raw_data, source_ip, process_name, file_path, user_name, occurred_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		event.ID, event.AgentID, event.EventType, event.Severity, event.Title, event.Description,
		eventDataJSON, event.RawData, event.SourceIP, event.ProcessName, event.FilePath, event.UserName,
		event.OccurredAt, event.CreatedAt,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "insert security event", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "commit security event", err)
	}

	return &event, nil
}

func (p *Pipeline) recordOutcome(success bool, latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalProcessed++
	p.processedSinceSample++
	if !success {
		p.totalErrors++
		p.errorsSinceSample++
	}

	alpha := 0.2
	latencyMs := float64(latency.Milliseconds())
	if p.avgLatencyMs == 0 {
		p.avgLatencyMs = latencyMs
	} else {
		p.avgLatencyMs = alpha*latencyMs + (1-alpha)*p.avgLatencyMs
	}

	if elapsed := time.Since(p.lastRateSample); elapsed >= emaWindow {
		instantRate := float64(p.processedSinceSample) / elapsed.Seconds()
		if p.eventsPerSecond == 0 {
			p.eventsPerSecond = instantRate
		} else {
			p.eventsPerSecond = alpha*instantRate + (1-alpha)*p.eventsPerSecond
		}

		if p.processedSinceSample > 0 {
			instantErrRate := float64(p.errorsSinceSample) / float64(p.processedSinceSample) * 100
			p.errorRatePercent = alpha*instantErrRate + (1-alpha)*p.errorRatePercent
		}

		p.lastRateSample = time.Now()
		p.processedSinceSample = 0
		p.errorsSinceSample = 0
	}
}
