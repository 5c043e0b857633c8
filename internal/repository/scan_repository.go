package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/fitting-room-service/internal/model"
)

// ScanRepo provides data access to the room_products scan ledger.  All
// methods run inside a caller-supplied transaction; the caller commits or
// rolls back.
type ScanRepo struct {
	db *sql.DB
}

// NewScanRepo returns a new ScanRepo bound to the provided database.
func NewScanRepo(db *sql.DB) *ScanRepo { return &ScanRepo{db: db} }

// ListByRoomTx returns every scan record of a room joined with its product,
// most recent scan-in first.
func (r *ScanRepo) ListByRoomTx(ctx context.Context, tx *sql.Tx, roomID uint64) ([]model.ScanRecord, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT rp.id, rp.room_id, rp.product_id, rp.session_id, rp.scanned_in_at, rp.scanned_out_at, rp.is_missing, p.sku, p.name
		 FROM room_products rp
		 JOIN products p ON rp.product_id = p.id
		 WHERE rp.room_id = ?
		 ORDER BY rp.scanned_in_at DESC, rp.id`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []model.ScanRecord
	for rows.Next() {
		var (
			rec     model.ScanRecord
			session sql.NullString
			in, out sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.RoomID, &rec.ProductID, &session, &in, &out, &rec.IsMissing, &rec.SKU, &rec.Name); err != nil {
			return nil, err
		}
		rec.SessionID = session.String
		rec.ScannedInAt = timePtr(in)
		rec.ScannedOutAt = timePtr(out)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// PendingByRoomTx is the exit gate query: items scanned in but not out,
// ordered by SKU.
func (r *ScanRepo) PendingByRoomTx(ctx context.Context, tx *sql.Tx, roomID uint64) ([]model.PendingItem, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT p.sku, p.name
		 FROM room_products rp
		 JOIN products p ON rp.product_id = p.id
		 WHERE rp.room_id = ?
		   AND rp.scanned_in_at IS NOT NULL
		   AND rp.scanned_out_at IS NULL
		 ORDER BY p.sku`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []model.PendingItem{}
	for rows.Next() {
		var it model.PendingItem
		if err := rows.Scan(&it.SKU, &it.Name); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// CreateTx inserts a scan record and sets its generated ID.
func (r *ScanRepo) CreateTx(ctx context.Context, tx *sql.Tx, rec *model.ScanRecord) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO room_products (room_id, product_id, session_id, scanned_in_at, scanned_out_at, is_missing)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RoomID, rec.ProductID, rec.SessionID, nullTime(rec.ScannedInAt), nullTime(rec.ScannedOutAt), rec.IsMissing)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = uint64(id)
	return nil
}

// UpdateTx writes the scan timestamps and missing flag of a record.
func (r *ScanRepo) UpdateTx(ctx context.Context, tx *sql.Tx, rec model.ScanRecord) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE room_products SET scanned_in_at = ?, scanned_out_at = ?, is_missing = ? WHERE id = ?`,
		nullTime(rec.ScannedInAt), nullTime(rec.ScannedOutAt), rec.IsMissing, rec.ID)
	return err
}

// DeleteByRoomTx removes the whole scan ledger of a room.
func (r *ScanRepo) DeleteByRoomTx(ctx context.Context, tx *sql.Tx, roomID uint64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM room_products WHERE room_id = ?`, roomID)
	return err
}
