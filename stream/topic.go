package stream

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
)

// Topic names follow a pattern:
//
//	global            every job of every client
//	client:<uuid>     jobs owned by one client
//	job:<jobID>       a single job
const GlobalTopic = "global"

// ClientTopic returns the topic name for a client's jobs.
func ClientTopic(clientID uuid.UUID) string { return "client:" + clientID.String() }

// JobTopic returns the topic name for a specific job.
func JobTopic(jobID id.JobID) string { return "job:" + jobID.String() }

// TopicRegistry manages subscriber sets per topic.
// It is safe for concurrent use.
type TopicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber // topic → subscriberID → subscriber
}

// NewTopicRegistry creates an empty topic registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{
		topics: make(map[string]map[string]*Subscriber),
	}
}

// Subscribe adds a subscriber to a topic.
func (tr *TopicRegistry) Subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
	sub.addTopic(topic)
}

// Unsubscribe removes a subscriber from a topic. Empty topics are dropped.
func (tr *TopicRegistry) Unsubscribe(topic, subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.unsubscribeLocked(topic, subscriberID)
}

func (tr *TopicRegistry) unsubscribeLocked(topic, subscriberID string) {
	subs, ok := tr.topics[topic]
	if !ok {
		return
	}
	if sub, exists := subs[subscriberID]; exists {
		sub.removeTopic(topic)
		delete(subs, subscriberID)
	}
	if len(subs) == 0 {
		delete(tr.topics, topic)
	}
}

// UnsubscribeAll removes a subscriber from every topic it is on.
func (tr *TopicRegistry) UnsubscribeAll(sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for _, topic := range sub.Topics() {
		tr.unsubscribeLocked(topic, sub.ID())
	}
}

// Targets returns the union of subscribers on the given topics. A
// subscriber on several of them appears once.
func (tr *TopicRegistry) Targets(topics ...string) []*Subscriber {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []*Subscriber
	for _, topic := range topics {
		for sid, sub := range tr.topics[topic] {
			if _, dup := seen[sid]; dup {
				continue
			}
			seen[sid] = struct{}{}
			out = append(out, sub)
		}
	}
	return out
}

// TopicCount returns the number of active topics.
func (tr *TopicRegistry) TopicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}

// SubscriberCount returns the number of subscribers on a topic.
func (tr *TopicRegistry) SubscriberCount(topic string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics[topic])
}

// ParseTopicEntity splits "client:<uuid>" into ("client", "<uuid>").
// Returns ("", "") for the global topic.
func ParseTopicEntity(topic string) (entityType, entityID string) {
	kind, rest, ok := strings.Cut(topic, ":")
	if !ok {
		return "", ""
	}
	return kind, rest
}

// ValidateTopic checks whether a topic string names a known entity.
func ValidateTopic(topic string) error {
	if topic == GlobalTopic {
		return nil
	}
	kind, ident := ParseTopicEntity(topic)
	if kind == "" || ident == "" {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}
	switch kind {
	case "client":
		if _, err := uuid.Parse(ident); err != nil {
			return fmt.Errorf("stream: invalid client topic %q: %w", topic, err)
		}
	case "job":
		if _, err := id.ParseJobID(ident); err != nil {
			return fmt.Errorf("stream: invalid job topic %q: %w", topic, err)
		}
	default:
		return fmt.Errorf("stream: unknown topic entity type %q", kind)
	}
	return nil
}
