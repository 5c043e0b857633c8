package repository

import (
	"context"

	"github.com/iliyamo/fitting-room-service/internal/model"
)

// Store is the only shared mutable resource of the service.  Every read
// and write happens inside a transaction scope handed to fn; when fn
// returns an error the whole scope is rolled back.
type Store interface {
	// WithRoom runs fn in a transaction that holds the exclusive lock of
	// roomID for its whole duration.  Operations on the same room
	// serialize; different rooms never contend.  Returns ErrNotFound when
	// the room does not exist.
	WithRoom(ctx context.Context, roomID uint64, fn func(tx Tx) error) error
	// Read runs fn in a transaction without taking any room lock.
	Read(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of reads and writes available inside a Store scope.
// Lookups of a single row return ErrNotFound when nothing matches.
type Tx interface {
	Room(ctx context.Context, id uint64) (model.Room, error)
	RoomByNumber(ctx context.Context, number int) (model.Room, error)
	AvailableRooms(ctx context.Context) ([]model.Room, error)
	// RoomsByCustomer lists the rooms currently assigned to card.
	RoomsByCustomer(ctx context.Context, card string) ([]model.Room, error)
	SaveRoom(ctx context.Context, room model.Room) error

	ProductBySKU(ctx context.Context, sku string) (model.Product, error)

	ScanRecords(ctx context.Context, roomID uint64) ([]model.ScanRecord, error)
	PendingItems(ctx context.Context, roomID uint64) ([]model.PendingItem, error)
	InsertScanRecord(ctx context.Context, rec *model.ScanRecord) error
	SaveScanRecord(ctx context.Context, rec model.ScanRecord) error
	DeleteScanRecords(ctx context.Context, roomID uint64) error

	InsertSession(ctx context.Context, s model.Session) error
	Session(ctx context.Context, id string) (model.Session, error)
	ActiveSession(ctx context.Context, roomID uint64) (model.Session, error)
	SaveSession(ctx context.Context, s model.Session) error
	// SettlingSessions lists active sessions whose room has no pending
	// items and is either available or in alert.
	SettlingSessions(ctx context.Context) ([]model.Session, error)

	Alert(ctx context.Context, id uint64) (model.Alert, error)
	UnresolvedAlert(ctx context.Context, roomID uint64, t model.AlertType) (model.Alert, error)
	InsertAlert(ctx context.Context, a *model.Alert) error
	SaveAlert(ctx context.Context, a model.Alert) error
	Alerts(ctx context.Context, unresolvedOnly bool, limit int) ([]model.Alert, error)

	UnlockRequest(ctx context.Context, id uint64) (model.UnlockRequest, error)
	PendingUnlockRequests(ctx context.Context, roomID uint64) ([]model.UnlockRequest, error)
	InsertUnlockRequest(ctx context.Context, r *model.UnlockRequest) error
	SaveUnlockRequest(ctx context.Context, r model.UnlockRequest) error
	UnlockRequests(ctx context.Context, status model.UnlockStatus, limit int) ([]model.UnlockRequest, error)
}
