// Package inference is the client of the external duration-prediction and
// anomaly-detection service.  Every call is bounded by the client timeout;
// callers decide the fallback when ErrUpstream is returned.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrUpstream wraps every transport failure, non-2xx response and
// unparseable payload returned by the inference service.
var ErrUpstream = errors.New("inference service unavailable")

// Assignment statuses reported by assign_room.
const (
	StatusAssigned = "assigned"
	StatusWait     = "wait"
)

// AnomalyRequest is the session snapshot sent to detect_anomaly.
type AnomalyRequest struct {
	SessionID         string    `json:"session_id"`
	RoomID            string    `json:"room_id"`
	ActualDuration    float64   `json:"actual_duration"`
	PredictedDuration float64   `json:"predicted_duration"`
	EntryScans        []string  `json:"entry_scans"`
	ExitScans         []string  `json:"exit_scans"`
	EntryTime         time.Time `json:"entry_time"`
}

// AnomalyResult is the verdict of detect_anomaly.
type AnomalyResult struct {
	SessionID    string  `json:"session_id"`
	IsAnomaly    bool    `json:"is_anomaly"`
	AnomalyScore float64 `json:"anomaly_score"`
	RiskLevel    string  `json:"risk_level"`
}

// Assignment is the parsed answer of assign_room.  RoomNumber is only
// meaningful when Status is StatusAssigned.
type Assignment struct {
	Status                   string
	Message                  string
	RoomNumber               int
	SessionID                string
	PredictedDurationMinutes *float64
	EstimatedWaitMinutes     float64
}

type predictRequest struct {
	ItemIDs   []string  `json:"item_ids"`
	EntryTime time.Time `json:"entry_time"`
}

type predictResponse struct {
	PredictedDurationMinutes *float64 `json:"predicted_duration_minutes"`
}

type assignRequest struct {
	ItemIDs []string `json:"item_ids"`
}

type assignResponse struct {
	Status                   string   `json:"status"`
	Message                  string   `json:"message"`
	AssignedRoomID           *string  `json:"assigned_room_id"`
	SessionID                *string  `json:"session_id"`
	PredictedDurationMinutes *float64 `json:"predicted_duration_minutes"`
	EstimatedWaitMinutes     float64  `json:"estimated_wait_minutes"`
}

// Client talks to the inference service over HTTP/JSON.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient builds a client with a bounded per-attempt timeout and a small
// retry budget for transport errors and 5xx responses.
func NewClient(baseURL string, timeout time.Duration, retries int, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(100*time.Millisecond).
		SetRetryMaxWaitTime(500*time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Client{http: rc, logger: logger}
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		Post(path)
	if err != nil {
		c.logger.Warn("inference call failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: %s: %v", ErrUpstream, path, err)
	}
	if resp.IsError() {
		c.logger.Warn("inference call returned error",
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", truncate(resp.String(), 256)),
		)
		return fmt.Errorf("%w: %s: status %d", ErrUpstream, path, resp.StatusCode())
	}
	return nil
}

// Predict returns the expected fitting duration in minutes for a basket.
func (c *Client) Predict(ctx context.Context, itemIDs []string, entryTime time.Time) (float64, error) {
	var out predictResponse
	if err := c.post(ctx, "/predict_duration", predictRequest{ItemIDs: nonNil(itemIDs), EntryTime: entryTime.UTC()}, &out); err != nil {
		return 0, err
	}
	if out.PredictedDurationMinutes == nil {
		return 0, fmt.Errorf("%w: predict_duration: missing predicted_duration_minutes", ErrUpstream)
	}
	return *out.PredictedDurationMinutes, nil
}

// DetectAnomaly scores a closed session.
func (c *Client) DetectAnomaly(ctx context.Context, req AnomalyRequest) (AnomalyResult, error) {
	req.EntryScans = nonNil(req.EntryScans)
	req.ExitScans = nonNil(req.ExitScans)
	req.EntryTime = req.EntryTime.UTC()
	var out AnomalyResult
	if err := c.post(ctx, "/detect_anomaly", req, &out); err != nil {
		return AnomalyResult{}, err
	}
	return out, nil
}

// AssignRoom asks the service to pick a room for a basket.  The returned
// room identifier is parsed into a room number; a malformed identifier is
// reported as ErrUpstream.
func (c *Client) AssignRoom(ctx context.Context, itemIDs []string) (Assignment, error) {
	var out assignResponse
	if err := c.post(ctx, "/assign_room", assignRequest{ItemIDs: nonNil(itemIDs)}, &out); err != nil {
		return Assignment{}, err
	}
	a := Assignment{
		Status:                   out.Status,
		Message:                  out.Message,
		PredictedDurationMinutes: out.PredictedDurationMinutes,
		EstimatedWaitMinutes:     out.EstimatedWaitMinutes,
	}
	if out.SessionID != nil {
		a.SessionID = *out.SessionID
	}
	switch out.Status {
	case StatusWait:
		return a, nil
	case StatusAssigned:
	default:
		return Assignment{}, fmt.Errorf("%w: assign_room: unknown status %q", ErrUpstream, out.Status)
	}
	if out.AssignedRoomID == nil {
		return Assignment{}, fmt.Errorf("%w: assign_room: missing assigned_room_id", ErrUpstream)
	}
	n, err := ParseRoomNumber(*out.AssignedRoomID)
	if err != nil {
		return Assignment{}, fmt.Errorf("%w: assign_room: %v", ErrUpstream, err)
	}
	a.RoomNumber = n
	return a, nil
}

// RoomID renders a room number in the identifier format the inference
// service uses.
func RoomID(number int) string { return "room_" + strconv.Itoa(number) }

// ParseRoomNumber accepts "room_3", "room-3", "room 3", "Room3" and "3".
func ParseRoomNumber(id string) (int, error) {
	s := strings.ToLower(strings.TrimSpace(id))
	s = strings.TrimPrefix(s, "room")
	s = strings.TrimLeft(s, "_- ")
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid room id %q", id)
	}
	return n, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
