package model

import "time"

// SessionStatus is the state of an occupancy session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Session is one customer occupancy episode of one room, stored in the
// `sessions` table.  At most one session per room is active at a time.
//
// Fields:
//
//	ID                       – session identifier (UUID or the inference service's id).
//	RoomID                   – room the customer occupies.
//	CustomerCard             – RFID card of the customer.
//	EntryTime                – assignment time; the only basis for duration.
//	ExitTime                 – when the session was closed (nullable).
//	PredictedDurationMinutes – predicted fitting time (nullable).
//	DurationMinutes          – observed fitting time at close (nullable).
//	IsAnomaly                – anomaly verdict recorded at close.
//	AnomalyScore             – anomaly score recorded at close (nullable).
//	RiskLevel                – risk level reported at close.
//	Status                   – active or completed.
type Session struct {
	ID                       string        // sessions.session_id
	RoomID                   uint64        // sessions.room_id
	CustomerCard             string        // sessions.customer_rfid
	EntryTime                time.Time     // sessions.entry_time
	ExitTime                 *time.Time    // sessions.exit_time (nullable)
	PredictedDurationMinutes *float64      // sessions.predicted_duration_minutes (nullable)
	DurationMinutes          *float64      // sessions.duration_minutes (nullable)
	IsAnomaly                bool          // sessions.is_anomaly
	AnomalyScore             *float64      // sessions.anomaly_score (nullable)
	RiskLevel                string        // sessions.risk_level
	Status                   SessionStatus // sessions.status
}

// Completed reports whether the session has already been closed.
func (s Session) Completed() bool { return s.Status == SessionCompleted }

// Close stamps the exit time and observed duration and marks the session completed.
func (s *Session) Close(at time.Time) {
	minutes := at.Sub(s.EntryTime).Minutes()
	if minutes < 0 {
		minutes = 0
	}
	s.ExitTime = &at
	s.DurationMinutes = &minutes
	s.Status = SessionCompleted
}
