package model

import "time"

// RoomStatus is the lifecycle state of a fitting room.
type RoomStatus string

const (
	RoomAvailable RoomStatus = "available"
	RoomOccupied  RoomStatus = "occupied"
	RoomAlert     RoomStatus = "alert"
	// RoomCheckingOut is reserved for a staged exit and is never entered by
	// the state machine today.
	RoomCheckingOut RoomStatus = "checking-out"
)

// Valid reports whether s is one of the known room statuses.
func (s RoomStatus) Valid() bool {
	switch s {
	case RoomAvailable, RoomOccupied, RoomAlert, RoomCheckingOut:
		return true
	}
	return false
}

// Room represents a physical fitting room as stored in the `rooms` table.
// Rooms are provisioned statically and never deleted; only the state
// machine mutates them.  CustomerCard and EntryTime are either both set
// (a customer occupies the room) or both nil.
//
// Fields:
//
//	ID           – primary key identifier.
//	Number       – room number shown on the door and the dashboard.
//	Status       – lifecycle state (available, occupied, alert, checking-out).
//	CustomerCard – RFID card of the assigned customer (nullable).
//	EntryTime    – when the current customer was assigned (nullable).
//	UpdatedAt    – timestamp of the last status change.
type Room struct {
	ID           uint64     // rooms.id
	Number       int        // rooms.room_number
	Status       RoomStatus // rooms.status
	CustomerCard *string    // rooms.customer_rfid (nullable)
	EntryTime    *time.Time // rooms.entry_time (nullable)
	UpdatedAt    time.Time  // rooms.updated_at
}

// Occupy stamps the customer and entry time and marks the room occupied.
func (r *Room) Occupy(card string, at time.Time) {
	r.Status = RoomOccupied
	r.CustomerCard = &card
	r.EntryTime = &at
	r.UpdatedAt = at
}

// Release marks the room available and drops the occupancy fields.
func (r *Room) Release(at time.Time) {
	r.Status = RoomAvailable
	r.CustomerCard = nil
	r.EntryTime = nil
	r.UpdatedAt = at
}

// Settle marks the room available while its session close is pending.
// Occupancy fields stay until the close commits or reverts to alert.
func (r *Room) Settle(at time.Time) {
	r.Status = RoomAvailable
	r.UpdatedAt = at
}

// Lock moves the room to alert.  Occupancy fields stay as evidence.
func (r *Room) Lock(at time.Time) {
	r.Status = RoomAlert
	r.UpdatedAt = at
}

// Card returns the assigned customer card or "" when the room is empty.
func (r Room) Card() string {
	if r.CustomerCard == nil {
		return ""
	}
	return *r.CustomerCard
}
