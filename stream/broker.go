package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evanramirez88/restaurant-consulting-site/automation/ext"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension  = (*Broker)(nil)
	_ ext.JobChanged = (*Broker)(nil)
	_ ext.Shutdown   = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// DefaultMaxLag is the number of consecutive drops after which a
// subscriber is evicted.
const DefaultMaxLag int64 = 64

// Broker is the status broadcaster. It receives every committed job
// mutation through the extension registry and fans a job_update event out
// to the job's client topic, the global topic and the job topic.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger
	now    func() time.Time

	subscribers sync.Map // subscriberID → *Subscriber

	totalPublished atomic.Int64
	totalDelivered atomic.Int64
	totalDropped   atomic.Int64
	totalEvicted   atomic.Int64

	bufferSize     int
	defaultCredits int64
	maxLag         int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// WithMaxLag sets how many consecutive drops evict a subscriber. Zero
// disables eviction.
func WithMaxLag(n int64) BrokerOption {
	return func(b *Broker) { b.maxLag = n }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) BrokerOption {
	return func(b *Broker) { b.now = now }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		now:            time.Now,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
		maxLag:         DefaultMaxLag,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics. An existing
// subscriber with the same id is replaced and closed.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	if prev, loaded := b.subscribers.Swap(subscriberID, sub); loaded {
		old := prev.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		b.topics.UnsubscribeAll(old)
		old.Close()
	}
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) bool {
	sub, ok := b.GetSubscriber(subscriberID)
	if !ok {
		return false
	}
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return true
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	val, ok := b.subscribers.LoadAndDelete(subscriberID)
	if !ok {
		return
	}
	sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
	b.topics.UnsubscribeAll(sub)
	sub.Close()
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDelivered:  b.totalDelivered.Load(),
		TotalDropped:    b.totalDropped.Load(),
		TotalEvicted:    b.totalEvicted.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDelivered  int64 `json:"total_delivered"`
	TotalDropped    int64 `json:"total_dropped"`
	TotalEvicted    int64 `json:"total_evicted"`
}

// Publish delivers evt to every subscriber of its topics and returns the
// number of subscribers that received it. A failed send is counted and
// skipped; it never affects the other subscribers.
func (b *Broker) Publish(evt *Event) int {
	b.totalPublished.Add(1)

	delivered := 0
	for _, sub := range b.topics.Targets(evt.Topics()...) {
		if sub.send(evt) {
			delivered++
			continue
		}
		b.totalDropped.Add(1)
		b.logger.Debug("stream: event dropped",
			slog.String("subscriber_id", sub.ID()),
			slog.String("job_id", evt.JobID.String()),
		)
		if b.maxLag > 0 && sub.Lag() >= b.maxLag {
			b.evict(sub)
		}
	}
	b.totalDelivered.Add(int64(delivered))
	return delivered
}

func (b *Broker) evict(sub *Subscriber) {
	if !b.subscribers.CompareAndDelete(sub.ID(), sub) {
		return
	}
	b.topics.UnsubscribeAll(sub)
	sub.Close()
	b.totalEvicted.Add(1)
	b.logger.Warn("stream: subscriber evicted",
		slog.String("subscriber_id", sub.ID()),
		slog.Int64("dropped", sub.Dropped()),
	)
}

// OnJobChanged implements ext.JobChanged.
func (b *Broker) OnJobChanged(_ context.Context, j *job.Job, _ ext.Change) error {
	b.Publish(NewJobUpdate(j, b.now()))
	return nil
}

// OnShutdown closes every subscriber.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		b.topics.UnsubscribeAll(sub)
		sub.Close()
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
