package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/fitting-room-service/internal/inference"
	"github.com/iliyamo/fitting-room-service/internal/model"
	"github.com/iliyamo/fitting-room-service/internal/repository"
)

// RoomConfig holds the assignment fallback policy.
type RoomConfig struct {
	FallbackPredictedMinutes float64
	// AssignFallback picks the lowest-numbered available room when the
	// inference service cannot assign one.
	AssignFallback bool
}

// RoomService is the room state machine.  Every transition runs inside the
// room's lock scope so scans, exits and unlocks on one room serialize.
type RoomService struct {
	store      repository.Store
	gateway    Gateway
	alerts     *AlertManager
	dispatcher Dispatcher
	cfg        RoomConfig
	logger     *zap.Logger
	metrics    *Metrics
	now        func() time.Time
}

// NewRoomService constructs a RoomService.  All dependencies must be non-nil.
func NewRoomService(store repository.Store, gateway Gateway, alerts *AlertManager, dispatcher Dispatcher, cfg RoomConfig, logger *zap.Logger, metrics *Metrics) *RoomService {
	if store == nil || gateway == nil || alerts == nil || dispatcher == nil {
		panic("nil dependency passed to NewRoomService")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoomService{
		store:      store,
		gateway:    gateway,
		alerts:     alerts,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		now:        utcNow,
	}
}

// AssignInput describes a customer entering with a basket.
type AssignInput struct {
	CustomerCard string
	SKUs         []string
	// RoomNumber pins the room; nil lets the inference service choose.
	RoomNumber *int
}

// AssignResult is the freshly occupied room.
type AssignResult struct {
	Room    model.Room
	Session model.Session
	Items   []model.ScanRecord
}

// ScanResult reports the room after a scan.
type ScanResult struct {
	Room           model.Room
	Record         model.ScanRecord
	ItemsRemaining int
	CanExit        bool
	// SessionClosing is set when the scan released the exit gate and the
	// session close was handed to the coordinator.
	SessionClosing bool
}

// StatusResult reports the room after a status change.
type StatusResult struct {
	Room           model.Room
	SessionClosing bool
}

// RoomDetails is the read model polled by the dashboard.
type RoomDetails struct {
	Room    model.Room
	Session *model.Session
	Items   []model.ScanRecord
	Pending []model.PendingItem
	CanExit bool
}

// GetRoom reads a room with its scan ledger and active session.
func (s *RoomService) GetRoom(ctx context.Context, roomID uint64) (RoomDetails, error) {
	var d RoomDetails
	err := s.store.Read(ctx, func(tx repository.Tx) error {
		room, err := tx.Room(ctx, roomID)
		if err != nil {
			return err
		}
		d.Room = room
		if d.Items, err = tx.ScanRecords(ctx, roomID); err != nil {
			return err
		}
		gate, err := EvaluateExit(ctx, tx, roomID)
		if err != nil {
			return err
		}
		d.Pending, d.CanExit = gate.Missing, gate.CanExit()
		sess, err := tx.ActiveSession(ctx, roomID)
		switch {
		case err == nil:
			d.Session = &sess
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return RoomDetails{}, notFoundError(CodeRoomNotFound, "room %d not found", roomID)
	}
	return d, err
}

// RoomPending is the part of a room's scan ledger still inside the room.
type RoomPending struct {
	Room  model.Room
	Items []model.ScanRecord
}

// PendingScanOut is the exit desk lookup of items not yet scanned out,
// grouped by room.  A customer card finds every room assigned to it and
// takes precedence over roomID.  Rooms with nothing pending are left out.
func (s *RoomService) PendingScanOut(ctx context.Context, card string, roomID uint64) ([]RoomPending, error) {
	card = strings.TrimSpace(card)
	if card == "" && roomID == 0 {
		return nil, validationError(CodeInvalidInput, "customer card or room id is required")
	}
	out := []RoomPending{}
	err := s.store.Read(ctx, func(tx repository.Tx) error {
		var rooms []model.Room
		if card != "" {
			var err error
			if rooms, err = tx.RoomsByCustomer(ctx, card); err != nil {
				return err
			}
		} else {
			room, err := tx.Room(ctx, roomID)
			if err != nil {
				return err
			}
			rooms = []model.Room{room}
		}
		for _, room := range rooms {
			recs, err := tx.ScanRecords(ctx, room.ID)
			if err != nil {
				return err
			}
			rp := RoomPending{Room: room}
			for _, r := range recs {
				if r.Pending() {
					rp.Items = append(rp.Items, r)
				}
			}
			if len(rp.Items) > 0 {
				sort.Slice(rp.Items, func(i, j int) bool { return rp.Items[i].SKU < rp.Items[j].SKU })
				out = append(out, rp)
			}
		}
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError(CodeRoomNotFound, "room %d not found", roomID)
	}
	return out, err
}

// AssignRoom moves an available room to occupied for a customer and
// records every item as scanned in at entry.  Either everything is written
// or nothing is.
func (s *RoomService) AssignRoom(ctx context.Context, in AssignInput) (AssignResult, error) {
	card := strings.TrimSpace(in.CustomerCard)
	if card == "" {
		return AssignResult{}, validationError(CodeCustomerCardRequired, "customer card is required")
	}
	skus := normalizeSKUs(in.SKUs)
	if len(skus) == 0 {
		return AssignResult{}, validationError(CodeItemsRequired, "at least one item is required")
	}
	if in.RoomNumber != nil && *in.RoomNumber <= 0 {
		return AssignResult{}, validationError(CodeInvalidInput, "room number must be positive")
	}

	entry := s.now()
	number, sessionID, predicted, err := s.pickRoom(ctx, in.RoomNumber, skus, entry)
	if err != nil {
		return AssignResult{}, err
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	var roomID uint64
	err = s.store.Read(ctx, func(tx repository.Tx) error {
		room, err := tx.RoomByNumber(ctx, number)
		if err != nil {
			return err
		}
		roomID = room.ID
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return AssignResult{}, notFoundError(CodeRoomNotFound, "room %d not found", number)
	}
	if err != nil {
		return AssignResult{}, err
	}

	var res AssignResult
	err = s.store.WithRoom(ctx, roomID, func(tx repository.Tx) error {
		room, err := tx.Room(ctx, roomID)
		if err != nil {
			return err
		}
		if room.Status != model.RoomAvailable {
			e := conflictError(CodeRoomNotAvailable, "room %d is %s", room.Number, room.Status)
			e.Status = room.Status
			return e
		}
		if _, err := tx.ActiveSession(ctx, roomID); err == nil {
			e := conflictError(CodeRoomSettling, "room %d is finishing its previous session", room.Number)
			e.Status = room.Status
			return e
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		products := make([]model.Product, 0, len(skus))
		for _, sku := range skus {
			p, err := tx.ProductBySKU(ctx, sku)
			if errors.Is(err, repository.ErrNotFound) {
				return notFoundError(CodeProductNotFound, "product %s not found", sku)
			}
			if err != nil {
				return err
			}
			products = append(products, p)
		}

		sess := model.Session{
			ID:                       sessionID,
			RoomID:                   roomID,
			CustomerCard:             card,
			EntryTime:                entry,
			PredictedDurationMinutes: &predicted,
			Status:                   model.SessionActive,
		}
		err = tx.InsertSession(ctx, sess)
		if errors.Is(err, repository.ErrConflict) {
			// The inference service reused an id; keep the assignment.
			sess.ID = uuid.NewString()
			err = tx.InsertSession(ctx, sess)
		}
		if err != nil {
			return err
		}
		sessionID = sess.ID
		room.Occupy(card, entry)
		if err := tx.SaveRoom(ctx, room); err != nil {
			return err
		}
		items := make([]model.ScanRecord, 0, len(products))
		for _, p := range products {
			at := entry
			rec := model.ScanRecord{RoomID: roomID, ProductID: p.ID, SessionID: sessionID, ScannedInAt: &at, SKU: p.SKU, Name: p.Name}
			if err := tx.InsertScanRecord(ctx, &rec); err != nil {
				return err
			}
			items = append(items, rec)
		}
		res = AssignResult{Room: room, Session: sess, Items: items}
		return nil
	})
	if err != nil {
		return AssignResult{}, err
	}
	s.logger.Info("room assigned",
		zap.Int("room_number", res.Room.Number),
		zap.String("session_id", sessionID),
		zap.Int("items", len(res.Items)),
		zap.Float64("predicted_minutes", predicted),
	)
	return res, nil
}

// pickRoom resolves the target room number, the session id proposed by
// the inference service and the predicted duration.
func (s *RoomService) pickRoom(ctx context.Context, pinned *int, skus []string, entry time.Time) (int, string, float64, error) {
	if pinned != nil {
		p, err := s.gateway.Predict(ctx, skus, entry)
		if err != nil {
			s.metrics.inferenceFailed("predict")
			s.logger.Warn("predict failed; using fallback", zap.Int("room_number", *pinned), zap.Error(err))
			p = s.cfg.FallbackPredictedMinutes
		}
		return *pinned, "", p, nil
	}

	a, err := s.gateway.AssignRoom(ctx, skus)
	if err == nil {
		if a.Status == inference.StatusWait {
			return 0, "", 0, conflictError(CodeNoRoomAvailable, "no room available: %s", a.Message)
		}
		predicted := s.cfg.FallbackPredictedMinutes
		if a.PredictedDurationMinutes != nil {
			predicted = *a.PredictedDurationMinutes
		}
		return a.RoomNumber, a.SessionID, predicted, nil
	}

	s.metrics.inferenceFailed("assign_room")
	if !s.cfg.AssignFallback {
		s.logger.Warn("assign_room failed", zap.Error(err))
		return 0, "", 0, upstreamError("room assignment unavailable: %v", err)
	}
	s.logger.Warn("assign_room failed; picking lowest available room", zap.Error(err))
	number, err := s.lowestFreeRoom(ctx)
	if err != nil {
		return 0, "", 0, err
	}
	return number, "", s.cfg.FallbackPredictedMinutes, nil
}

func (s *RoomService) lowestFreeRoom(ctx context.Context) (int, error) {
	number := 0
	err := s.store.Read(ctx, func(tx repository.Tx) error {
		rooms, err := tx.AvailableRooms(ctx)
		if err != nil {
			return err
		}
		for _, r := range rooms {
			_, err := tx.ActiveSession(ctx, r.ID)
			if errors.Is(err, repository.ErrNotFound) {
				number = r.Number
				return nil
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if number == 0 {
		return 0, conflictError(CodeNoRoomAvailable, "no room available")
	}
	return number, nil
}

// ScanIn records an item entering an occupied room.  An item scanned out
// earlier in the same session is brought back in.
func (s *RoomService) ScanIn(ctx context.Context, roomID uint64, sku string) (ScanResult, error) {
	sku = strings.TrimSpace(sku)
	if roomID == 0 {
		return ScanResult{}, validationError(CodeRoomRequired, "room id is required")
	}
	if sku == "" {
		return ScanResult{}, validationError(CodeSKURequired, "sku is required")
	}
	var res ScanResult
	err := s.store.WithRoom(ctx, roomID, func(tx repository.Tx) error {
		room, sess, err := s.occupancy(ctx, tx, roomID)
		if err != nil {
			return err
		}
		p, err := tx.ProductBySKU(ctx, sku)
		if errors.Is(err, repository.ErrNotFound) {
			return notFoundError(CodeProductNotFound, "product %s not found", sku)
		}
		if err != nil {
			return err
		}
		recs, err := sessionRecords(ctx, tx, roomID, sess.ID, p.ID)
		if err != nil {
			return err
		}
		now := s.now()
		var rec model.ScanRecord
		switch {
		case anyPending(recs):
			return conflictError(CodeAlreadyScannedIn, "%s is already in room %d", sku, room.Number)
		case len(recs) > 0:
			rec = recs[0]
			rec.ScannedInAt = &now
			rec.ScannedOutAt = nil
			rec.IsMissing = false
			if err := tx.SaveScanRecord(ctx, rec); err != nil {
				return err
			}
		default:
			rec = model.ScanRecord{RoomID: roomID, ProductID: p.ID, SessionID: sess.ID, ScannedInAt: &now, SKU: p.SKU, Name: p.Name}
			if err := tx.InsertScanRecord(ctx, &rec); err != nil {
				return err
			}
		}
		gate, err := EvaluateExit(ctx, tx, roomID)
		if err != nil {
			return err
		}
		res = ScanResult{Room: room, Record: rec, ItemsRemaining: len(gate.Missing), CanExit: gate.CanExit()}
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return ScanResult{}, notFoundError(CodeRoomNotFound, "room %d not found", roomID)
	}
	return res, err
}

// ScanOut records an item leaving the room and re-evaluates the exit gate.
// When the last pending item leaves an occupied room the room turns
// available and the session close is dispatched; the coordinator may still
// lock it again.  A non-empty card must match the assigned customer.
func (s *RoomService) ScanOut(ctx context.Context, roomID uint64, sku, card string) (ScanResult, error) {
	sku = strings.TrimSpace(sku)
	card = strings.TrimSpace(card)
	if roomID == 0 {
		return ScanResult{}, validationError(CodeRoomRequired, "room id is required")
	}
	if sku == "" {
		return ScanResult{}, validationError(CodeSKURequired, "sku is required")
	}
	var (
		res ScanResult
		job *SessionCloseJob
	)
	err := s.store.WithRoom(ctx, roomID, func(tx repository.Tx) error {
		room, sess, err := s.occupancy(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if card != "" {
			if room.Card() == "" {
				return conflictError(CodeNoCustomerAssigned, "room %d has no assigned customer", room.Number)
			}
			if card != room.Card() {
				return forbiddenError(CodeCardMismatch, "card does not match the customer assigned to room %d", room.Number)
			}
		}
		p, err := tx.ProductBySKU(ctx, sku)
		if errors.Is(err, repository.ErrNotFound) {
			return notFoundError(CodeProductNotFound, "product %s not found", sku)
		}
		if err != nil {
			return err
		}
		recs, err := sessionRecords(ctx, tx, roomID, sess.ID, p.ID)
		if err != nil {
			return err
		}
		var rec model.ScanRecord
		found := false
		for _, r := range recs {
			if r.Pending() {
				rec, found = r, true
				break
			}
		}
		if !found {
			if len(recs) > 0 {
				return conflictError(CodeAlreadyScannedOut, "%s was already scanned out of room %d", sku, room.Number)
			}
			return conflictError(CodeItemNotInRoom, "%s was never scanned into room %d", sku, room.Number)
		}
		now := s.now()
		if rec.ScannedInAt != nil && now.Before(*rec.ScannedInAt) {
			now = *rec.ScannedInAt
		}
		rec.ScannedOutAt = &now
		rec.IsMissing = false
		if err := tx.SaveScanRecord(ctx, rec); err != nil {
			return err
		}

		gate, err := EvaluateExit(ctx, tx, roomID)
		if err != nil {
			return err
		}
		res = ScanResult{Record: rec, ItemsRemaining: len(gate.Missing), CanExit: gate.CanExit()}
		if gate.CanExit() {
			if room.Status == model.RoomOccupied {
				room.Settle(now)
				if err := tx.SaveRoom(ctx, room); err != nil {
					return err
				}
			}
			j := NewSessionCloseJob(sess.ID, roomID, now)
			job = &j
			res.SessionClosing = true
		}
		res.Room = room
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return ScanResult{}, notFoundError(CodeRoomNotFound, "room %d not found", roomID)
	}
	if err != nil {
		return ScanResult{}, err
	}
	if job != nil {
		s.dispatch(ctx, *job)
	}
	return res, nil
}

// SetStatus handles explicit status requests.  occupied→available is the
// exit request and is gated; a blocked exit locks the room, raises a
// missing-item alert and still fails with exit_blocked.
func (s *RoomService) SetStatus(ctx context.Context, roomID uint64, status model.RoomStatus) (StatusResult, error) {
	if roomID == 0 {
		return StatusResult{}, validationError(CodeRoomRequired, "room id is required")
	}
	if !status.Valid() {
		return StatusResult{}, validationError(CodeInvalidStatus, "unknown status %q", status)
	}
	var (
		res     StatusResult
		blocked *Error
		job     *SessionCloseJob
	)
	err := s.store.WithRoom(ctx, roomID, func(tx repository.Tx) error {
		room, err := tx.Room(ctx, roomID)
		if err != nil {
			return err
		}
		res.Room = room
		if room.Status == status {
			return nil
		}
		now := s.now()
		switch {
		case room.Status == model.RoomOccupied && status == model.RoomAvailable:
			gate, err := EvaluateExit(ctx, tx, roomID)
			if err != nil {
				return err
			}
			if !gate.CanExit() {
				room.Lock(now)
				if err := tx.SaveRoom(ctx, room); err != nil {
					return err
				}
				if err := MarkMissing(ctx, tx, roomID); err != nil {
					return err
				}
				if _, err := s.alerts.RaiseMissingItems(ctx, tx, room, gate.Missing); err != nil {
					return err
				}
				blocked = conflictError(CodeExitBlocked, "%d item(s) must be scanned out before the customer can exit", len(gate.Missing))
				blocked.MissingItems = gate.Missing
				blocked.Status = room.Status
				r := room
				blocked.Room = &r
				res.Room = room
				return nil
			}
			sess, err := tx.ActiveSession(ctx, roomID)
			switch {
			case err == nil:
				room.Settle(now)
				j := NewSessionCloseJob(sess.ID, roomID, now)
				job = &j
				res.SessionClosing = true
			case errors.Is(err, repository.ErrNotFound):
				room.Release(now)
				if err := tx.DeleteScanRecords(ctx, roomID); err != nil {
					return err
				}
			default:
				return err
			}
			if err := tx.SaveRoom(ctx, room); err != nil {
				return err
			}
		case room.Status == model.RoomOccupied && status == model.RoomAlert:
			room.Lock(now)
			if err := tx.SaveRoom(ctx, room); err != nil {
				return err
			}
		default:
			e := conflictError(CodeInvalidTransition, "room %d cannot move from %s to %s", room.Number, room.Status, status)
			e.Status = room.Status
			return e
		}
		res.Room = room
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return StatusResult{}, notFoundError(CodeRoomNotFound, "room %d not found", roomID)
	}
	if err != nil {
		return StatusResult{}, err
	}
	if blocked != nil {
		s.metrics.exitBlocked()
		s.logger.Warn("exit blocked",
			zap.Uint64("room_id", roomID),
			zap.Int("missing", len(blocked.MissingItems)),
		)
		return res, blocked
	}
	if job != nil {
		s.dispatch(ctx, *job)
	}
	return res, nil
}

// occupancy loads a room that may take scans together with its session.
func (s *RoomService) occupancy(ctx context.Context, tx repository.Tx, roomID uint64) (model.Room, model.Session, error) {
	room, err := tx.Room(ctx, roomID)
	if err != nil {
		return model.Room{}, model.Session{}, err
	}
	if room.Status != model.RoomOccupied && room.Status != model.RoomAlert {
		e := conflictError(CodeRoomNotOccupied, "room %d is %s", room.Number, room.Status)
		e.Status = room.Status
		return model.Room{}, model.Session{}, e
	}
	sess, err := tx.ActiveSession(ctx, roomID)
	if errors.Is(err, repository.ErrNotFound) {
		e := conflictError(CodeRoomNotOccupied, "room %d has no active session", room.Number)
		e.Status = room.Status
		return model.Room{}, model.Session{}, e
	}
	if err != nil {
		return model.Room{}, model.Session{}, err
	}
	return room, sess, nil
}

// dispatch hands the close to the background.  A failed hand-off is only
// logged: the sweeper re-dispatches every settling session.
func (s *RoomService) dispatch(ctx context.Context, job SessionCloseJob) {
	if err := s.dispatcher.Dispatch(context.WithoutCancel(ctx), job); err != nil {
		s.logger.Error("session close dispatch failed; sweeper will retry",
			zap.String("session_id", job.SessionID),
			zap.Uint64("room_id", job.RoomID),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("session close dispatched", zap.String("session_id", job.SessionID), zap.Uint64("room_id", job.RoomID))
}

func sessionRecords(ctx context.Context, tx repository.Tx, roomID uint64, sessionID string, productID uint64) ([]model.ScanRecord, error) {
	all, err := tx.ScanRecords(ctx, roomID)
	if err != nil {
		return nil, err
	}
	var out []model.ScanRecord
	for _, r := range all {
		if r.SessionID == sessionID && r.ProductID == productID {
			out = append(out, r)
		}
	}
	return out, nil
}

func anyPending(recs []model.ScanRecord) bool {
	for _, r := range recs {
		if r.Pending() {
			return true
		}
	}
	return false
}

func normalizeSKUs(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
