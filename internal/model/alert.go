package model

import "time"

// AlertType classifies the condition an alert reports.
type AlertType string

const (
	AlertMissingItem AlertType = "missing-item"
	AlertAnomaly     AlertType = "anomaly"
)

// Alert severities.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// Alert is evidence of an unresolved physical condition in a room, stored
// in the `alerts` table.  At most one unresolved alert per (room, type)
// exists; raising the same type again rewrites its message.
//
// Fields:
//
//	ID         – primary key identifier.
//	RoomID     – room the alert refers to.
//	Type       – missing-item or anomaly.
//	Severity   – high, medium or low.
//	Message    – operator-facing description.
//	Resolved   – whether an operator closed the alert.
//	CreatedAt  – creation timestamp.
//	UpdatedAt  – last rewrite timestamp.
//	ResolvedAt – resolution timestamp (nullable).
type Alert struct {
	ID         uint64     // alerts.id
	RoomID     uint64     // alerts.room_id
	Type       AlertType  // alerts.alert_type
	Severity   string     // alerts.severity
	Message    string     // alerts.message
	Resolved   bool       // alerts.resolved
	CreatedAt  time.Time  // alerts.created_at
	UpdatedAt  time.Time  // alerts.updated_at
	ResolvedAt *time.Time // alerts.resolved_at (nullable)
}
