package handler

import (
	"time"

	"github.com/iliyamo/fitting-room-service/internal/model"
)

// JSON shapes returned by the API.  Models carry no tags; these types own
// the wire format.

type roomResponse struct {
	ID           uint64     `json:"id"`
	RoomNumber   int        `json:"room_number"`
	Status       string     `json:"status"`
	CustomerCard *string    `json:"customer_card"`
	EntryTime    *time.Time `json:"entry_time"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type itemResponse struct {
	ID           uint64     `json:"id"`
	SKU          string     `json:"sku"`
	Name         string     `json:"name"`
	SessionID    string     `json:"session_id"`
	ScannedInAt  *time.Time `json:"scanned_in_at"`
	ScannedOutAt *time.Time `json:"scanned_out_at"`
	IsMissing    bool       `json:"is_missing"`
}

type pendingItemResponse struct {
	SKU  string `json:"sku"`
	Name string `json:"name"`
}

type sessionResponse struct {
	SessionID                string     `json:"session_id"`
	RoomID                   uint64     `json:"room_id"`
	EntryTime                time.Time  `json:"entry_time"`
	ExitTime                 *time.Time `json:"exit_time"`
	PredictedDurationMinutes *float64   `json:"predicted_duration_minutes"`
	DurationMinutes          *float64   `json:"duration_minutes"`
	IsAnomaly                bool       `json:"is_anomaly"`
	AnomalyScore             *float64   `json:"anomaly_score"`
	RiskLevel                string     `json:"risk_level"`
	Status                   string     `json:"status"`
}

type alertResponse struct {
	ID         uint64     `json:"id"`
	RoomID     uint64     `json:"room_id"`
	Type       string     `json:"alert_type"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Resolved   bool       `json:"resolved"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at"`
}

type unlockResponse struct {
	ID          uint64     `json:"id"`
	RoomID      uint64     `json:"room_id"`
	RequestedBy string     `json:"requested_by"`
	Reason      string     `json:"reason"`
	Status      string     `json:"status"`
	ResolvedBy  *string    `json:"resolved_by"`
	RequestedAt time.Time  `json:"requested_at"`
	ResolvedAt  *time.Time `json:"resolved_at"`
}

func toRoom(r model.Room) roomResponse {
	return roomResponse{
		ID:           r.ID,
		RoomNumber:   r.Number,
		Status:       string(r.Status),
		CustomerCard: r.CustomerCard,
		EntryTime:    r.EntryTime,
		UpdatedAt:    r.UpdatedAt,
	}
}

func toItem(s model.ScanRecord) itemResponse {
	return itemResponse{
		ID:           s.ID,
		SKU:          s.SKU,
		Name:         s.Name,
		SessionID:    s.SessionID,
		ScannedInAt:  s.ScannedInAt,
		ScannedOutAt: s.ScannedOutAt,
		IsMissing:    s.IsMissing,
	}
}

func toItems(in []model.ScanRecord) []itemResponse {
	out := make([]itemResponse, 0, len(in))
	for _, s := range in {
		out = append(out, toItem(s))
	}
	return out
}

func toPending(in []model.PendingItem) []pendingItemResponse {
	out := make([]pendingItemResponse, 0, len(in))
	for _, p := range in {
		out = append(out, pendingItemResponse{SKU: p.SKU, Name: p.Name})
	}
	return out
}

func toSession(s model.Session) sessionResponse {
	return sessionResponse{
		SessionID:                s.ID,
		RoomID:                   s.RoomID,
		EntryTime:                s.EntryTime,
		ExitTime:                 s.ExitTime,
		PredictedDurationMinutes: s.PredictedDurationMinutes,
		DurationMinutes:          s.DurationMinutes,
		IsAnomaly:                s.IsAnomaly,
		AnomalyScore:             s.AnomalyScore,
		RiskLevel:                s.RiskLevel,
		Status:                   string(s.Status),
	}
}

func toAlert(a model.Alert) alertResponse {
	return alertResponse{
		ID:         a.ID,
		RoomID:     a.RoomID,
		Type:       string(a.Type),
		Severity:   a.Severity,
		Message:    a.Message,
		Resolved:   a.Resolved,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
		ResolvedAt: a.ResolvedAt,
	}
}

func toAlerts(in []model.Alert) []alertResponse {
	out := make([]alertResponse, 0, len(in))
	for _, a := range in {
		out = append(out, toAlert(a))
	}
	return out
}

func toUnlock(u model.UnlockRequest) unlockResponse {
	return unlockResponse{
		ID:          u.ID,
		RoomID:      u.RoomID,
		RequestedBy: u.RequestedBy,
		Reason:      u.Reason,
		Status:      string(u.Status),
		ResolvedBy:  u.ResolvedBy,
		RequestedAt: u.RequestedAt,
		ResolvedAt:  u.ResolvedAt,
	}
}

func toUnlocks(in []model.UnlockRequest) []unlockResponse {
	out := make([]unlockResponse, 0, len(in))
	for _, u := range in {
		out = append(out, toUnlock(u))
	}
	return out
}
