// Package memstore is an in-process implementation of repository.Store.
// Each room has its own mutex so operations on one room serialize while
// different rooms proceed in parallel.  Writes inside a scope are recorded
// in an undo journal and replayed in reverse when the scope fails.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/fitting-room-service/internal/model"
	"github.com/iliyamo/fitting-room-service/internal/repository"
)

// Store keeps every table in maps guarded by mu.
type Store struct {
	locksMu sync.Mutex
	locks   map[uint64]*sync.Mutex

	mu       sync.Mutex
	rooms    map[uint64]model.Room
	products map[string]model.Product
	scans    map[uint64]model.ScanRecord
	sessions map[string]model.Session
	alerts   map[uint64]model.Alert
	unlocks  map[uint64]model.UnlockRequest

	nextRoomID, nextProductID, nextScanID, nextAlertID, nextUnlockID uint64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		locks:    make(map[uint64]*sync.Mutex),
		rooms:    make(map[uint64]model.Room),
		products: make(map[string]model.Product),
		scans:    make(map[uint64]model.ScanRecord),
		sessions: make(map[string]model.Session),
		alerts:   make(map[uint64]model.Alert),
		unlocks:  make(map[uint64]model.UnlockRequest),
	}
}

// AddRoom provisions an available room and returns it.
func (s *Store) AddRoom(number int) model.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRoomID++
	r := model.Room{ID: s.nextRoomID, Number: number, Status: model.RoomAvailable, UpdatedAt: time.Now().UTC()}
	s.rooms[r.ID] = r
	return r
}

// AddProduct registers a catalogue entry and returns it with its ID.
func (s *Store) AddProduct(p model.Product) model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextProductID++
	p.ID = s.nextProductID
	s.products[p.SKU] = p
	return p
}

// Seed provisions rooms numbered 1..rooms and the given products.
func (s *Store) Seed(rooms int, products []model.Product) {
	for i := 1; i <= rooms; i++ {
		s.AddRoom(i)
	}
	for _, p := range products {
		s.AddProduct(p)
	}
}

// DefaultCatalogue is the demo product set used when running without MySQL.
var DefaultCatalogue = []model.Product{
	{SKU: "SKU-001", Name: "Classic White Shirt", Size: "M", Color: "White"},
	{SKU: "SKU-002", Name: "Slim Fit Jeans", Size: "32", Color: "Blue"},
	{SKU: "SKU-003", Name: "Wool Sweater", Size: "L", Color: "Grey"},
	{SKU: "SKU-004", Name: "Summer Dress", Size: "S", Color: "Red"},
	{SKU: "SKU-005", Name: "Leather Jacket", Size: "M", Color: "Black"},
	{SKU: "SKU-006", Name: "Chino Trousers", Size: "34", Color: "Beige"},
}

func (s *Store) roomLock(id uint64) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// WithRoom implements repository.Store.
func (s *Store) WithRoom(ctx context.Context, roomID uint64, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	_, ok := s.rooms[roomID]
	s.mu.Unlock()
	if !ok {
		return repository.ErrNotFound
	}
	l := s.roomLock(roomID)
	l.Lock()
	defer l.Unlock()
	return s.run(fn)
}

// Read implements repository.Store.
func (s *Store) Read(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.run(fn)
}

func (s *Store) run(fn func(tx repository.Tx) error) error {
	t := &tx{s: s}
	if err := fn(t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

// tx is one scope.  Every mutation pushes its inverse onto undo.
type tx struct {
	s    *Store
	undo []func()
}

func (t *tx) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *tx) Room(_ context.Context, id uint64) (model.Room, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	r, ok := t.s.rooms[id]
	if !ok {
		return model.Room{}, repository.ErrNotFound
	}
	return r, nil
}

func (t *tx) RoomByNumber(_ context.Context, number int) (model.Room, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, r := range t.s.rooms {
		if r.Number == number {
			return r, nil
		}
	}
	return model.Room{}, repository.ErrNotFound
}

func (t *tx) AvailableRooms(_ context.Context) ([]model.Room, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var out []model.Room
	for _, r := range t.s.rooms {
		if r.Status == model.RoomAvailable {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (t *tx) RoomsByCustomer(_ context.Context, card string) ([]model.Room, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	out := []model.Room{}
	for _, r := range t.s.rooms {
		if r.Card() == card {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (t *tx) SaveRoom(_ context.Context, room model.Room) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	prev, ok := t.s.rooms[room.ID]
	if !ok {
		return repository.ErrNotFound
	}
	t.s.rooms[room.ID] = room
	t.undo = append(t.undo, func() { t.s.rooms[room.ID] = prev })
	return nil
}

func (t *tx) ProductBySKU(_ context.Context, sku string) (model.Product, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.products[sku]
	if !ok {
		return model.Product{}, repository.ErrNotFound
	}
	return p, nil
}

func (t *tx) productByID(id uint64) (model.Product, bool) {
	for _, p := range t.s.products {
		if p.ID == id {
			return p, true
		}
	}
	return model.Product{}, false
}

func (t *tx) ScanRecords(_ context.Context, roomID uint64) ([]model.ScanRecord, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var out []model.ScanRecord
	for _, rec := range t.s.scans {
		if rec.RoomID != roomID {
			continue
		}
		if p, ok := t.productByID(rec.ProductID); ok {
			rec.SKU, rec.Name = p.SKU, p.Name
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) PendingItems(ctx context.Context, roomID uint64) ([]model.PendingItem, error) {
	recs, err := t.ScanRecords(ctx, roomID)
	if err != nil {
		return nil, err
	}
	items := []model.PendingItem{}
	for _, rec := range recs {
		if rec.Pending() {
			items = append(items, model.PendingItem{SKU: rec.SKU, Name: rec.Name})
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].SKU < items[j].SKU })
	return items, nil
}

func (t *tx) InsertScanRecord(_ context.Context, rec *model.ScanRecord) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.nextScanID++
	rec.ID = t.s.nextScanID
	id := rec.ID
	t.s.scans[id] = *rec
	t.undo = append(t.undo, func() { delete(t.s.scans, id) })
	return nil
}

func (t *tx) SaveScanRecord(_ context.Context, rec model.ScanRecord) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	prev, ok := t.s.scans[rec.ID]
	if !ok {
		return repository.ErrNotFound
	}
	t.s.scans[rec.ID] = rec
	t.undo = append(t.undo, func() { t.s.scans[rec.ID] = prev })
	return nil
}

func (t *tx) DeleteScanRecords(_ context.Context, roomID uint64) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	removed := map[uint64]model.ScanRecord{}
	for id, rec := range t.s.scans {
		if rec.RoomID == roomID {
			removed[id] = rec
			delete(t.s.scans, id)
		}
	}
	t.undo = append(t.undo, func() {
		for id, rec := range removed {
			t.s.scans[id] = rec
		}
	})
	return nil
}

func (t *tx) InsertSession(_ context.Context, ss model.Session) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.sessions[ss.ID]; ok {
		return repository.ErrConflict
	}
	t.s.sessions[ss.ID] = ss
	t.undo = append(t.undo, func() { delete(t.s.sessions, ss.ID) })
	return nil
}

func (t *tx) Session(_ context.Context, id string) (model.Session, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	ss, ok := t.s.sessions[id]
	if !ok {
		return model.Session{}, repository.ErrNotFound
	}
	return ss, nil
}

func (t *tx) ActiveSession(_ context.Context, roomID uint64) (model.Session, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, ss := range t.s.sessions {
		if ss.RoomID == roomID && ss.Status == model.SessionActive {
			return ss, nil
		}
	}
	return model.Session{}, repository.ErrNotFound
}

func (t *tx) SaveSession(_ context.Context, ss model.Session) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	prev, ok := t.s.sessions[ss.ID]
	if !ok {
		return repository.ErrNotFound
	}
	t.s.sessions[ss.ID] = ss
	t.undo = append(t.undo, func() { t.s.sessions[ss.ID] = prev })
	return nil
}

func (t *tx) SettlingSessions(_ context.Context) ([]model.Session, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	pending := map[uint64]bool{}
	for _, rec := range t.s.scans {
		if rec.Pending() {
			pending[rec.RoomID] = true
		}
	}
	var out []model.Session
	for _, ss := range t.s.sessions {
		if ss.Status != model.SessionActive || pending[ss.RoomID] {
			continue
		}
		r := t.s.rooms[ss.RoomID]
		if r.Status == model.RoomAvailable || r.Status == model.RoomAlert {
			out = append(out, ss)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out, nil
}

func (t *tx) Alert(_ context.Context, id uint64) (model.Alert, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	a, ok := t.s.alerts[id]
	if !ok {
		return model.Alert{}, repository.ErrNotFound
	}
	return a, nil
}

func (t *tx) UnresolvedAlert(_ context.Context, roomID uint64, at model.AlertType) (model.Alert, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var (
		found model.Alert
		ok    bool
	)
	for _, a := range t.s.alerts {
		if a.RoomID == roomID && a.Type == at && !a.Resolved && (!ok || a.ID > found.ID) {
			found, ok = a, true
		}
	}
	if !ok {
		return model.Alert{}, repository.ErrNotFound
	}
	return found, nil
}

func (t *tx) InsertAlert(_ context.Context, a *model.Alert) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.nextAlertID++
	a.ID = t.s.nextAlertID
	id := a.ID
	t.s.alerts[id] = *a
	t.undo = append(t.undo, func() { delete(t.s.alerts, id) })
	return nil
}

func (t *tx) SaveAlert(_ context.Context, a model.Alert) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	prev, ok := t.s.alerts[a.ID]
	if !ok {
		return repository.ErrNotFound
	}
	t.s.alerts[a.ID] = a
	t.undo = append(t.undo, func() { t.s.alerts[a.ID] = prev })
	return nil
}

func (t *tx) Alerts(_ context.Context, unresolvedOnly bool, limit int) ([]model.Alert, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var out []model.Alert
	for _, a := range t.s.alerts {
		if unresolvedOnly && a.Resolved {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *tx) UnlockRequest(_ context.Context, id uint64) (model.UnlockRequest, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	u, ok := t.s.unlocks[id]
	if !ok {
		return model.UnlockRequest{}, repository.ErrNotFound
	}
	return u, nil
}

func (t *tx) PendingUnlockRequests(_ context.Context, roomID uint64) ([]model.UnlockRequest, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var out []model.UnlockRequest
	for _, u := range t.s.unlocks {
		if u.RoomID == roomID && u.Status == model.UnlockPending {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) InsertUnlockRequest(_ context.Context, u *model.UnlockRequest) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.nextUnlockID++
	u.ID = t.s.nextUnlockID
	id := u.ID
	t.s.unlocks[id] = *u
	t.undo = append(t.undo, func() { delete(t.s.unlocks, id) })
	return nil
}

func (t *tx) SaveUnlockRequest(_ context.Context, u model.UnlockRequest) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	prev, ok := t.s.unlocks[u.ID]
	if !ok {
		return repository.ErrNotFound
	}
	t.s.unlocks[u.ID] = u
	t.undo = append(t.undo, func() { t.s.unlocks[u.ID] = prev })
	return nil
}

func (t *tx) UnlockRequests(_ context.Context, status model.UnlockStatus, limit int) ([]model.UnlockRequest, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var out []model.UnlockRequest
	for _, u := range t.s.unlocks {
		if status != "" && u.Status != status {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var (
	_ repository.Store = (*Store)(nil)
	_ repository.Tx    = (*tx)(nil)
)
