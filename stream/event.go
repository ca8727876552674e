// Package stream is the status broadcaster. It turns committed job
// mutations into job_update events and fans them out to subscribers of the
// job's client topic, the global topic and the job's own topic.
package stream

import (
	"time"

	"github.com/google/uuid"

	"github.com/evanramirez88/restaurant-consulting-site/automation/id"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
)

// EventType identifies the kind of event.
type EventType string

// EventJobUpdate is emitted once per committed job mutation.
const EventJobUpdate EventType = "job_update"

// Event is the envelope delivered to subscribers.
type Event struct {
	ID              id.EventID `json:"-"`
	Type            EventType  `json:"type"`
	JobID           id.JobID   `json:"job_id"`
	ClientID        uuid.UUID  `json:"client_id"`
	Status          job.Status `json:"status"`
	Progress        int        `json:"progress"`
	ProgressMessage string     `json:"progress_message,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
}

// NewJobUpdate snapshots a job into an event.
func NewJobUpdate(j *job.Job, at time.Time) *Event {
	return &Event{
		ID:              id.NewEventID(),
		Type:            EventJobUpdate,
		JobID:           j.ID,
		ClientID:        j.ClientID,
		Status:          j.Status,
		Progress:        j.Progress,
		ProgressMessage: j.ProgressMessage,
		Timestamp:       at.UTC(),
	}
}

// Topics lists the topics an event is delivered on.
func (e *Event) Topics() []string {
	return []string{GlobalTopic, ClientTopic(e.ClientID), JobTopic(e.JobID)}
}
