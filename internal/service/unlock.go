package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/fitting-room-service/internal/model"
	"github.com/iliyamo/fitting-room-service/internal/repository"
)

// UnlockService is the manager approval workflow that returns a locked room
// to available without satisfying the exit gate.
type UnlockService struct {
	store  repository.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewUnlockService constructs an UnlockService.
func NewUnlockService(store repository.Store, logger *zap.Logger) *UnlockService {
	if store == nil {
		panic("nil store passed to NewUnlockService")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UnlockService{store: store, logger: logger, now: utcNow}
}

// DirectUnlockResult reports the released room and the requests that were
// rejected because the unlock made them moot.
type DirectUnlockResult struct {
	Room     model.Room
	Rejected []model.UnlockRequest
}

// Create files a pending request for a room in alert.
func (s *UnlockService) Create(ctx context.Context, actor Actor, roomID uint64, reason string) (model.UnlockRequest, error) {
	reason = strings.TrimSpace(reason)
	if roomID == 0 {
		return model.UnlockRequest{}, validationError(CodeRoomRequired, "room id is required")
	}
	if reason == "" {
		return model.UnlockRequest{}, validationError(CodeReasonRequired, "reason is required")
	}
	var req model.UnlockRequest
	err := s.store.WithRoom(ctx, roomID, func(tx repository.Tx) error {
		room, err := tx.Room(ctx, roomID)
		if err != nil {
			return err
		}
		if room.Status != model.RoomAlert {
			e := conflictError(CodeRoomNotLocked, "room %d is %s, not locked", room.Number, room.Status)
			e.Status = room.Status
			return e
		}
		pending, err := tx.PendingUnlockRequests(ctx, roomID)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			return conflictError(CodeRequestAlreadyPending, "room %d already has pending unlock request %d", room.Number, pending[0].ID)
		}
		req = model.UnlockRequest{
			RoomID:      roomID,
			RequestedBy: actor.ID,
			Reason:      reason,
			Status:      model.UnlockPending,
			RequestedAt: s.now(),
		}
		return tx.InsertUnlockRequest(ctx, &req)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return model.UnlockRequest{}, notFoundError(CodeRoomNotFound, "room %d not found", roomID)
	}
	if err != nil {
		return model.UnlockRequest{}, err
	}
	s.logger.Info("unlock requested", zap.Uint64("request_id", req.ID), zap.Uint64("room_id", roomID), zap.String("actor", actor.ID))
	return req, nil
}

// Approve unlocks the room of a pending request.
func (s *UnlockService) Approve(ctx context.Context, actor Actor, requestID uint64) (model.UnlockRequest, error) {
	return s.resolve(ctx, actor, requestID, model.UnlockApproved)
}

// Reject closes a pending request without touching the room.
func (s *UnlockService) Reject(ctx context.Context, actor Actor, requestID uint64) (model.UnlockRequest, error) {
	return s.resolve(ctx, actor, requestID, model.UnlockRejected)
}

func (s *UnlockService) resolve(ctx context.Context, actor Actor, requestID uint64, status model.UnlockStatus) (model.UnlockRequest, error) {
	if err := requireManager(actor); err != nil {
		return model.UnlockRequest{}, err
	}
	if requestID == 0 {
		return model.UnlockRequest{}, validationError(CodeInvalidInput, "request id is required")
	}
	var roomID uint64
	err := s.store.Read(ctx, func(tx repository.Tx) error {
		req, err := tx.UnlockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		roomID = req.RoomID
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return model.UnlockRequest{}, notFoundError(CodeUnlockRequestNotFound, "unlock request %d not found", requestID)
	}
	if err != nil {
		return model.UnlockRequest{}, err
	}

	var out model.UnlockRequest
	err = s.store.WithRoom(ctx, roomID, func(tx repository.Tx) error {
		req, err := tx.UnlockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != model.UnlockPending {
			return conflictError(CodeRequestAlreadyResolved, "unlock request %d is already %s", requestID, req.Status)
		}
		now := s.now()
		if status == model.UnlockApproved {
			room, err := tx.Room(ctx, roomID)
			if err != nil {
				return err
			}
			if room.Status != model.RoomAlert {
				e := conflictError(CodeRoomNotLocked, "room %d is %s, not locked", room.Number, room.Status)
				e.Status = room.Status
				return e
			}
			if err := s.unlockRoom(ctx, tx, room, now); err != nil {
				return err
			}
		}
		req.Resolve(status, actor.ID, now)
		if err := tx.SaveUnlockRequest(ctx, req); err != nil {
			return err
		}
		out = req
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return model.UnlockRequest{}, notFoundError(CodeUnlockRequestNotFound, "unlock request %d not found", requestID)
	}
	if err != nil {
		return model.UnlockRequest{}, err
	}
	s.logger.Info("unlock request resolved",
		zap.Uint64("request_id", requestID),
		zap.Uint64("room_id", roomID),
		zap.String("status", string(status)),
		zap.String("actor", actor.ID),
	)
	return out, nil
}

// DirectUnlock releases a locked room on a manager's authority and rejects
// every pending request for it.
func (s *UnlockService) DirectUnlock(ctx context.Context, actor Actor, roomID uint64) (DirectUnlockResult, error) {
	if err := requireManager(actor); err != nil {
		return DirectUnlockResult{}, err
	}
	if roomID == 0 {
		return DirectUnlockResult{}, validationError(CodeRoomRequired, "room id is required")
	}
	var res DirectUnlockResult
	err := s.store.WithRoom(ctx, roomID, func(tx repository.Tx) error {
		room, err := tx.Room(ctx, roomID)
		if err != nil {
			return err
		}
		if room.Status != model.RoomAlert {
			e := conflictError(CodeRoomNotLocked, "room %d is %s, not locked", room.Number, room.Status)
			e.Status = room.Status
			return e
		}
		now := s.now()
		if err := s.unlockRoom(ctx, tx, room, now); err != nil {
			return err
		}
		res.Rejected, err = rejectPendingUnlocks(ctx, tx, roomID, actor.ID, now)
		if err != nil {
			return err
		}
		res.Room, err = tx.Room(ctx, roomID)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return DirectUnlockResult{}, notFoundError(CodeRoomNotFound, "room %d not found", roomID)
	}
	if err != nil {
		return DirectUnlockResult{}, err
	}
	s.logger.Info("room unlocked directly",
		zap.Uint64("room_id", roomID),
		zap.Int("rejected_requests", len(res.Rejected)),
		zap.String("actor", actor.ID),
	)
	return res, nil
}

// List returns unlock requests newest first; an empty status lists all.
func (s *UnlockService) List(ctx context.Context, status model.UnlockStatus, limit int) ([]model.UnlockRequest, error) {
	switch status {
	case "", model.UnlockPending, model.UnlockApproved, model.UnlockRejected:
	default:
		return nil, validationError(CodeInvalidStatus, "unknown unlock status %q", status)
	}
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	var out []model.UnlockRequest
	err := s.store.Read(ctx, func(tx repository.Tx) error {
		var err error
		out, err = tx.UnlockRequests(ctx, status, limit)
		return err
	})
	return out, err
}

// unlockRoom releases room, drops its scan ledger and closes its active
// session so a late coordinator run finds it completed.
func (s *UnlockService) unlockRoom(ctx context.Context, tx repository.Tx, room model.Room, now time.Time) error {
	room.Release(now)
	if err := tx.SaveRoom(ctx, room); err != nil {
		return err
	}
	if err := tx.DeleteScanRecords(ctx, room.ID); err != nil {
		return err
	}
	sess, err := tx.ActiveSession(ctx, room.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	sess.Close(now)
	return tx.SaveSession(ctx, sess)
}

// rejectPendingUnlocks rejects every pending request for roomID.  Whatever
// frees a locked room must call it, or a stale request would block the next
// occupancy and could later unlock it under the old reason.
func rejectPendingUnlocks(ctx context.Context, tx repository.Tx, roomID uint64, by string, now time.Time) ([]model.UnlockRequest, error) {
	pending, err := tx.PendingUnlockRequests(ctx, roomID)
	if err != nil {
		return nil, err
	}
	for i := range pending {
		pending[i].Resolve(model.UnlockRejected, by, now)
		if err := tx.SaveUnlockRequest(ctx, pending[i]); err != nil {
			return nil, err
		}
	}
	return pending, nil
}
