package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/fitting-room-service/internal/model"
)

// MySQLStore implements Store on top of the per-table repositories.  Room
// serialization relies on InnoDB row locks: WithRoom begins a transaction
// and issues SELECT ... FOR UPDATE on the room before running fn.
type MySQLStore struct {
	db       *sql.DB
	rooms    *RoomRepo
	products *ProductRepo
	scans    *ScanRepo
	sessions *SessionRepo
	alerts   *AlertRepo
	unlocks  *UnlockRepo
}

// NewMySQLStore wires every repository to db.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	if db == nil {
		panic("nil database passed to NewMySQLStore")
	}
	return &MySQLStore{
		db:       db,
		rooms:    NewRoomRepo(db),
		products: NewProductRepo(db),
		scans:    NewScanRepo(db),
		sessions: NewSessionRepo(db),
		alerts:   NewAlertRepo(db),
		unlocks:  NewUnlockRepo(db),
	}
}

// DB exposes the underlying connection pool for health checks.
func (s *MySQLStore) DB() *sql.DB { return s.db }

// WithRoom implements Store.
func (s *MySQLStore) WithRoom(ctx context.Context, roomID uint64, fn func(tx Tx) error) error {
	return s.run(ctx, func(tx *sql.Tx) error {
		if _, err := s.rooms.LockTx(ctx, tx, roomID); err != nil {
			return err
		}
		return fn(&mysqlTx{s: s, tx: tx})
	})
}

// Read implements Store.
func (s *MySQLStore) Read(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, func(tx *sql.Tx) error {
		return fn(&mysqlTx{s: s, tx: tx})
	})
}

func (s *MySQLStore) run(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// mysqlTx adapts the repositories to the Tx interface for one transaction.
type mysqlTx struct {
	s  *MySQLStore
	tx *sql.Tx
}

func (t *mysqlTx) Room(ctx context.Context, id uint64) (model.Room, error) {
	return t.s.rooms.GetByIDTx(ctx, t.tx, id)
}

func (t *mysqlTx) RoomByNumber(ctx context.Context, number int) (model.Room, error) {
	return t.s.rooms.GetByNumberTx(ctx, t.tx, number)
}

func (t *mysqlTx) AvailableRooms(ctx context.Context) ([]model.Room, error) {
	return t.s.rooms.ListAvailableTx(ctx, t.tx)
}

func (t *mysqlTx) RoomsByCustomer(ctx context.Context, card string) ([]model.Room, error) {
	return t.s.rooms.ListByCustomerTx(ctx, t.tx, card)
}

func (t *mysqlTx) SaveRoom(ctx context.Context, room model.Room) error {
	return t.s.rooms.UpdateTx(ctx, t.tx, room)
}

func (t *mysqlTx) ProductBySKU(ctx context.Context, sku string) (model.Product, error) {
	return t.s.products.GetBySKUTx(ctx, t.tx, sku)
}

func (t *mysqlTx) ScanRecords(ctx context.Context, roomID uint64) ([]model.ScanRecord, error) {
	return t.s.scans.ListByRoomTx(ctx, t.tx, roomID)
}

func (t *mysqlTx) PendingItems(ctx context.Context, roomID uint64) ([]model.PendingItem, error) {
	return t.s.scans.PendingByRoomTx(ctx, t.tx, roomID)
}

func (t *mysqlTx) InsertScanRecord(ctx context.Context, rec *model.ScanRecord) error {
	return t.s.scans.CreateTx(ctx, t.tx, rec)
}

func (t *mysqlTx) SaveScanRecord(ctx context.Context, rec model.ScanRecord) error {
	return t.s.scans.UpdateTx(ctx, t.tx, rec)
}

func (t *mysqlTx) DeleteScanRecords(ctx context.Context, roomID uint64) error {
	return t.s.scans.DeleteByRoomTx(ctx, t.tx, roomID)
}

func (t *mysqlTx) InsertSession(ctx context.Context, s model.Session) error {
	return t.s.sessions.CreateTx(ctx, t.tx, s)
}

func (t *mysqlTx) Session(ctx context.Context, id string) (model.Session, error) {
	return t.s.sessions.GetByIDTx(ctx, t.tx, id)
}

func (t *mysqlTx) ActiveSession(ctx context.Context, roomID uint64) (model.Session, error) {
	return t.s.sessions.ActiveByRoomTx(ctx, t.tx, roomID)
}

func (t *mysqlTx) SaveSession(ctx context.Context, s model.Session) error {
	return t.s.sessions.UpdateTx(ctx, t.tx, s)
}

func (t *mysqlTx) SettlingSessions(ctx context.Context) ([]model.Session, error) {
	return t.s.sessions.ListSettlingTx(ctx, t.tx)
}

func (t *mysqlTx) Alert(ctx context.Context, id uint64) (model.Alert, error) {
	return t.s.alerts.GetByIDTx(ctx, t.tx, id)
}

func (t *mysqlTx) UnresolvedAlert(ctx context.Context, roomID uint64, at model.AlertType) (model.Alert, error) {
	return t.s.alerts.UnresolvedByRoomAndTypeTx(ctx, t.tx, roomID, at)
}

func (t *mysqlTx) InsertAlert(ctx context.Context, a *model.Alert) error {
	return t.s.alerts.CreateTx(ctx, t.tx, a)
}

func (t *mysqlTx) SaveAlert(ctx context.Context, a model.Alert) error {
	return t.s.alerts.UpdateTx(ctx, t.tx, a)
}

func (t *mysqlTx) Alerts(ctx context.Context, unresolvedOnly bool, limit int) ([]model.Alert, error) {
	return t.s.alerts.ListTx(ctx, t.tx, unresolvedOnly, limit)
}

func (t *mysqlTx) UnlockRequest(ctx context.Context, id uint64) (model.UnlockRequest, error) {
	return t.s.unlocks.GetByIDTx(ctx, t.tx, id)
}

func (t *mysqlTx) PendingUnlockRequests(ctx context.Context, roomID uint64) ([]model.UnlockRequest, error) {
	return t.s.unlocks.PendingByRoomTx(ctx, t.tx, roomID)
}

func (t *mysqlTx) InsertUnlockRequest(ctx context.Context, r *model.UnlockRequest) error {
	return t.s.unlocks.CreateTx(ctx, t.tx, r)
}

func (t *mysqlTx) SaveUnlockRequest(ctx context.Context, r model.UnlockRequest) error {
	return t.s.unlocks.UpdateTx(ctx, t.tx, r)
}

func (t *mysqlTx) UnlockRequests(ctx context.Context, status model.UnlockStatus, limit int) ([]model.UnlockRequest, error) {
	return t.s.unlocks.ListTx(ctx, t.tx, status, limit)
}

var (
	_ Store = (*MySQLStore)(nil)
	_ Tx    = (*mysqlTx)(nil)
)
