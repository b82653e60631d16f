package analytics

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/metrics"
)

const DefaultBufferSize = 10000

// Collector publishes search events from a background goroutine. Track
// never blocks the search path: when the buffer is full, or the collector
// is closed, the event is dropped.
type Collector struct {
	publisher kafka.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan SearchEvent
	done   chan struct{}
}

func NewCollector(publisher kafka.Publisher, bufferSize int, m *metrics.Metrics) *Collector {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Collector{
		publisher: publisher,
		metrics:   m,
		logger:    slog.Default().With("component", "analytics-collector"),
		queue:     make(chan SearchEvent, bufferSize),
		done:      make(chan struct{}),
	}
}

// Start launches the publishing loop. Once ctx ends, whatever is already
// buffered is still published before the loop exits.
func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
	c.logger.Info("analytics collector started", "buffer_size", cap(c.queue))
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case ev, ok := <-c.queue:
			if !ok {
				return
			}
			c.publish(ctx, ev)
		case <-ctx.Done():
			flush := context.WithoutCancel(ctx)
			for {
				select {
				case ev, ok := <-c.queue:
					if !ok {
						return
					}
					c.publish(flush, ev)
				default:
					return
				}
			}
		}
	}
}

func (c *Collector) Track(ev SearchEvent) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.count("dropped")
		return
	}
	select {
	case c.queue <- ev:
	default:
		c.count("dropped")
		c.logger.Warn("analytics buffer full, event dropped", "type", ev.Type)
	}
}

// Close stops accepting events and waits until the buffered ones are
// published.
func (c *Collector) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
	c.mu.Unlock()
	<-c.done
}

func (c *Collector) publish(ctx context.Context, ev SearchEvent) {
	if err := c.publisher.Publish(ctx, kafka.Event{Key: string(ev.Type), Value: ev}); err != nil {
		c.count("failed")
		c.logger.Error("failed to publish analytics event", "type", ev.Type, "error", err)
		return
	}
	c.count("published")
}

func (c *Collector) count(outcome string) {
	if c.metrics != nil {
		c.metrics.AnalyticsEvents.WithLabelValues(outcome).Inc()
	}
}
