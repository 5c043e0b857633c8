package service

import (
	"errors"
	"fmt"

	"github.com/iliyamo/fitting-room-service/internal/model"
)

// Kind classifies a domain failure.  Handlers map each kind to one HTTP
// status code.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindForbidden  Kind = "forbidden"
	KindUpstream   Kind = "upstream"
)

// Reason codes carried by Error.Code.
const (
	CodeInvalidInput         = "invalid_input"
	CodeSKURequired          = "sku_required"
	CodeRoomRequired         = "room_required"
	CodeReasonRequired       = "reason_required"
	CodeCustomerCardRequired = "customer_card_required"
	CodeItemsRequired        = "items_required"
	CodeInvalidStatus        = "invalid_status"

	CodeRoomNotFound          = "room_not_found"
	CodeProductNotFound       = "product_not_found"
	CodeAlertNotFound         = "alert_not_found"
	CodeUnlockRequestNotFound = "unlock_request_not_found"

	CodeExitBlocked            = "exit_blocked"
	CodeAlreadyScannedIn       = "already_scanned_in"
	CodeAlreadyScannedOut      = "already_scanned_out"
	CodeItemNotInRoom          = "item_not_in_room"
	CodeRoomNotAvailable       = "room_not_available"
	CodeRoomNotOccupied        = "room_not_occupied"
	CodeRoomSettling           = "room_settling"
	CodeNoCustomerAssigned     = "no_customer_assigned"
	CodeInvalidTransition      = "invalid_transition"
	CodeAlertConditionPersists = "alert_condition_persists"
	CodeAlertAlreadyResolved   = "alert_already_resolved"
	CodeRequestAlreadyResolved = "request_already_resolved"
	CodeRequestAlreadyPending  = "request_already_pending"
	CodeRoomNotLocked          = "room_not_locked"
	CodeNoRoomAvailable        = "no_room_available"

	CodeManagerRequired = "manager_required"
	CodeCardMismatch    = "card_mismatch"

	CodeInferenceUnavailable = "inference_unavailable"
)

// Error is a structured domain failure.  MissingItems, Status and Room are
// filled in when the caller needs them to act (blocked exits, gated alert
// resolution).
type Error struct {
	Kind         Kind
	Code         string
	Message      string
	MissingItems []model.PendingItem
	Status       model.RoomStatus
	Room         *model.Room
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsError extracts a domain error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCode reports whether err is a domain error with the given code.
func IsCode(err error, code string) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

func newError(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func validationError(code, format string, args ...any) *Error {
	return newError(KindValidation, code, format, args...)
}

func conflictError(code, format string, args ...any) *Error {
	return newError(KindConflict, code, format, args...)
}

func notFoundError(code, format string, args ...any) *Error {
	return newError(KindNotFound, code, format, args...)
}

func forbiddenError(code, format string, args ...any) *Error {
	return newError(KindForbidden, code, format, args...)
}

func upstreamError(format string, args ...any) *Error {
	return newError(KindUpstream, CodeInferenceUnavailable, format, args...)
}
