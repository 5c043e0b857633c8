package service

import (
	"context"

	"github.com/iliyamo/fitting-room-service/internal/model"
	"github.com/iliyamo/fitting-room-service/internal/repository"
)

// ExitCheck is the exit gate verdict for one room.
type ExitCheck struct {
	Missing []model.PendingItem
}

// CanExit reports whether no item is scanned in without being scanned out.
func (c ExitCheck) CanExit() bool { return len(c.Missing) == 0 }

// SKUs lists the blocking SKUs.
func (c ExitCheck) SKUs() []string {
	out := make([]string, 0, len(c.Missing))
	for _, it := range c.Missing {
		out = append(out, it.SKU)
	}
	return out
}

// EvaluateExit reads the scan ledger inside tx and reports the pending
// items.  It is never cached: callers evaluate it after every scan-out and
// on every exit request, in the same scope as the write it guards.
func EvaluateExit(ctx context.Context, tx repository.Tx, roomID uint64) (ExitCheck, error) {
	items, err := tx.PendingItems(ctx, roomID)
	if err != nil {
		return ExitCheck{}, err
	}
	return ExitCheck{Missing: items}, nil
}

// MarkMissing flags every pending record of roomID as missing.  Called when
// the gate blocks an exit; a later scan clears the flag.
func MarkMissing(ctx context.Context, tx repository.Tx, roomID uint64) error {
	recs, err := tx.ScanRecords(ctx, roomID)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if !r.Pending() || r.IsMissing {
			continue
		}
		r.IsMissing = true
		if err := tx.SaveScanRecord(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
