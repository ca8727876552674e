// Package live is the subscription transport of the status broadcaster.
// Each WebSocket connection is bound to one stream subscriber (a client
// topic or the global topic) and may add individual job topics with
// inbound subscribe frames.
//
// Frames are JSON text by default; ?format=msgpack switches both
// directions to binary MessagePack.
package live

import (
	"time"

	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
	"github.com/evanramirez88/restaurant-consulting-site/automation/stream"
)

// FrameType identifies the frame category.
type FrameType string

// Outbound frames.
const (
	FrameJobUpdate    FrameType = "job_update"
	FramePong         FrameType = "pong"
	FrameError        FrameType = "error"
	FrameSubscribed   FrameType = "subscribed"
	FrameUnsubscribed FrameType = "unsubscribed"
)

// Inbound frames.
const (
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
	FramePing        FrameType = "ping"
)

// GlobalTarget is the path segment that binds a connection to every
// client's events.
const GlobalTarget = "global"

// Frame is the message envelope exchanged in both directions. Only the
// fields relevant to Type are set.
type Frame struct {
	Type            FrameType  `json:"type" msgpack:"type"`
	JobID           string     `json:"job_id,omitempty" msgpack:"job_id,omitempty"`
	Status          job.Status `json:"status,omitempty" msgpack:"status,omitempty"`
	Progress        *int       `json:"progress,omitempty" msgpack:"progress,omitempty"`
	ProgressMessage string     `json:"progress_message,omitempty" msgpack:"progress_message,omitempty"`
	Message         string     `json:"message,omitempty" msgpack:"message,omitempty"`
	Timestamp       time.Time  `json:"timestamp" msgpack:"timestamp"`
}

// NewUpdateFrame converts a broker event into a job_update frame.
func NewUpdateFrame(evt *stream.Event) *Frame {
	progress := evt.Progress
	return &Frame{
		Type:            FrameJobUpdate,
		JobID:           evt.JobID.String(),
		Status:          evt.Status,
		Progress:        &progress,
		ProgressMessage: evt.ProgressMessage,
		Timestamp:       evt.Timestamp,
	}
}

// NewErrorFrame builds an error frame.
func NewErrorFrame(msg string, at time.Time) *Frame {
	return &Frame{Type: FrameError, Message: msg, Timestamp: at.UTC()}
}

func newPong(at time.Time) *Frame {
	return &Frame{Type: FramePong, Timestamp: at.UTC()}
}

func newAck(t FrameType, jobID string, at time.Time) *Frame {
	return &Frame{Type: t, JobID: jobID, Timestamp: at.UTC()}
}
