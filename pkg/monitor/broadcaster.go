// pkg/monitor/broadcaster.go
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scout-etl/edge-ingest/pkg/domain"
)

// CycleObserver receives per-cycle accounting from the broadcast loop. The
// prometheus collector implements it; tests use a no-op.
type CycleObserver interface {
	CountAlert(severity string)
	CountBroadcast()
}

type nopCycleObserver struct{}

func (nopCycleObserver) CountAlert(string) {}
func (nopCycleObserver) CountBroadcast()   {}

// Broadcaster recomputes the health snapshot on an interval and pushes it
// to subscribers. Slow subscribers are pruned rather than blocking the
// cycle.
type Broadcaster struct {
	evaluator  *Evaluator
	suppressor *Suppressor
	interval   time.Duration
	observer   CycleObserver
	logger     *zap.Logger

	mu   sync.Mutex
	subs map[chan domain.PipelineMetrics]struct{}
}

// NewBroadcaster builds a broadcaster. A nil suppressor disables alert
// deduplication across cycles; a nil observer is replaced with a no-op.
func NewBroadcaster(evaluator *Evaluator, suppressor *Suppressor, interval time.Duration, observer CycleObserver, logger *zap.Logger) *Broadcaster {
	if observer == nil {
		observer = nopCycleObserver{}
	}
	return &Broadcaster{
		evaluator:  evaluator,
		suppressor: suppressor,
		interval:   interval,
		observer:   observer,
		logger:     logger.Named("broadcaster"),
		subs:       make(map[chan domain.PipelineMetrics]struct{}),
	}
}

// Subscribe registers a buffered channel receiving each broadcast cycle.
// The caller must Unsubscribe when done; a full channel gets the subscriber
// pruned instead of blocking the broadcast.
func (b *Broadcaster) Subscribe() chan domain.PipelineMetrics {
	ch := make(chan domain.PipelineMetrics, 4)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Broadcaster) Unsubscribe(ch chan domain.PipelineMetrics) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// SubscriberCount reports the current subscriber set size.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Snapshot computes a fresh snapshot on demand, with unsuppressed alerts.
func (b *Broadcaster) Snapshot(ctx context.Context) domain.PipelineMetrics {
	m := b.evaluator.Evaluate(ctx)
	m.Alerts = Generate(m)
	return m
}

// Run drives the broadcast loop until the context is cancelled. One cycle
// runs immediately so subscribers never wait a full interval for data.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			b.closeAll()
			return
		case <-ticker.C:
			b.cycle(ctx)
		}
	}
}

func (b *Broadcaster) cycle(ctx context.Context) {
	m := b.evaluator.Evaluate(ctx)
	alerts := Generate(m)
	if b.suppressor != nil {
		alerts = b.suppressor.Filter(alerts)
	}
	m.Alerts = alerts

	for _, a := range alerts {
		b.observer.CountAlert(string(a.Severity))
	}
	b.observer.CountBroadcast()

	b.publish(m)

	b.logger.Debug("Broadcast cycle complete",
		zap.String("overall_status", string(m.OverallStatus)),
		zap.Int("alerts", len(alerts)),
		zap.Int("subscribers", b.SubscriberCount()))
}

func (b *Broadcaster) publish(m domain.PipelineMetrics) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- m:
		default:
			// Subscriber is not draining; prune it.
			delete(b.subs, ch)
			close(ch)
			b.logger.Warn("Pruned slow subscriber")
		}
	}
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
