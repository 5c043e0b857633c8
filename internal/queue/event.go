// Package queue carries session close jobs over RabbitMQ when the
// coordinator runs out of process.
package queue

import (
	"fmt"
	"time"

	"github.com/iliyamo/fitting-room-service/internal/service"
)

// SessionCloseQueue is the durable queue holding session close events.
const SessionCloseQueue = "session.close"

// SessionCloseEvent is published when a room's exit gate released and its
// session must be closed by the coordinator.
type SessionCloseEvent struct {
	JobID       string `json:"job_id"`
	SessionID   string `json:"session_id"`
	RoomID      uint64 `json:"room_id"`
	RequestedAt string `json:"requested_at"`
}

// EventFromJob renders a job for the wire.
func EventFromJob(job service.SessionCloseJob) SessionCloseEvent {
	return SessionCloseEvent{
		JobID:       job.JobID,
		SessionID:   job.SessionID,
		RoomID:      job.RoomID,
		RequestedAt: job.RequestedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Job parses the event back into a job.
func (e SessionCloseEvent) Job() (service.SessionCloseJob, error) {
	if e.SessionID == "" || e.RoomID == 0 {
		return service.SessionCloseJob{}, fmt.Errorf("incomplete session close event: session=%q room=%d", e.SessionID, e.RoomID)
	}
	job := service.SessionCloseJob{JobID: e.JobID, SessionID: e.SessionID, RoomID: e.RoomID}
	if e.RequestedAt != "" {
		at, err := time.Parse(time.RFC3339Nano, e.RequestedAt)
		if err != nil {
			return service.SessionCloseJob{}, fmt.Errorf("requested_at: %w", err)
		}
		job.RequestedAt = at.UTC()
	}
	return job, nil
}
