package model

import "time"

// UnlockStatus is the state of an unlock request.
type UnlockStatus string

const (
	UnlockPending  UnlockStatus = "pending"
	UnlockApproved UnlockStatus = "approved"
	UnlockRejected UnlockStatus = "rejected"
)

// UnlockRequest asks a manager to release a locked room, stored in the
// `unlock_requests` table.
//
// Fields:
//
//	ID          – primary key identifier.
//	RoomID      – room to unlock.
//	RequestedBy – actor id of the requester.
//	Reason      – free-text justification.
//	Status      – pending, approved or rejected.
//	ResolvedBy  – manager who resolved the request (nullable).
//	RequestedAt – creation timestamp.
//	ResolvedAt  – resolution timestamp (nullable).
type UnlockRequest struct {
	ID          uint64       // unlock_requests.id
	RoomID      uint64       // unlock_requests.room_id
	RequestedBy string       // unlock_requests.requested_by
	Reason      string       // unlock_requests.reason
	Status      UnlockStatus // unlock_requests.status
	ResolvedBy  *string      // unlock_requests.resolved_by (nullable)
	RequestedAt time.Time    // unlock_requests.requested_at
	ResolvedAt  *time.Time   // unlock_requests.resolved_at (nullable)
}

// Resolve records the manager decision.
func (u *UnlockRequest) Resolve(status UnlockStatus, by string, at time.Time) {
	u.Status = status
	u.ResolvedBy = &by
	u.ResolvedAt = &at
}
