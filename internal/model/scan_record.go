package model

import "time"

// ScanRecord is one row of the `room_products` scan ledger.  It tracks a
// single item brought into a room during one session.  A record with
// ScannedInAt set and ScannedOutAt nil is an item still in the room.
//
// Fields:
//
//	ID           – primary key identifier.
//	RoomID       – room the item was brought into.
//	ProductID    – product being tracked.
//	SessionID    – occupancy session the scan belongs to.
//	ScannedInAt  – when the item entered the room (nullable).
//	ScannedOutAt – when the item left the room (nullable, never before ScannedInAt).
//	IsMissing    – set when a blocked exit leaves the item in the room.
//	SKU, Name    – product columns joined in on reads.
type ScanRecord struct {
	ID           uint64     // room_products.id
	RoomID       uint64     // room_products.room_id
	ProductID    uint64     // room_products.product_id
	SessionID    string     // room_products.session_id
	ScannedInAt  *time.Time // room_products.scanned_in_at (nullable)
	ScannedOutAt *time.Time // room_products.scanned_out_at (nullable)
	IsMissing    bool       // room_products.is_missing
	SKU          string     // products.sku (joined)
	Name         string     // products.name (joined)
}

// Pending reports whether the item is scanned in but not yet scanned out.
func (s ScanRecord) Pending() bool {
	return s.ScannedInAt != nil && s.ScannedOutAt == nil
}

// PendingItem names an item that blocks the exit gate.
type PendingItem struct {
	SKU  string
	Name string
}
