package domain

import "time"

// EventType names a lifecycle transition of the copy pipeline.
type EventType string

const (
	EventTradeDetected     EventType = "trade_detected"
	EventTradeSkipped      EventType = "trade_skipped"
	EventTradeRejected     EventType = "trade_rejected"
	EventOrderPlaced       EventType = "order_placed"
	EventOrderFailed       EventType = "order_failed"
	EventOrderEnqueued     EventType = "order_enqueued"
	EventOrderRetried      EventType = "order_retried"
	EventOrderDeadLettered EventType = "order_dead_lettered"
	EventCircuitOpened     EventType = "circuit_opened"
	EventCircuitClosed     EventType = "circuit_closed"
	EventOrderMirrored     EventType = "order_mirrored"
	EventOrderCanceled     EventType = "order_canceled"
	EventOrderFilled       EventType = "order_filled"
)

// LifecycleEvent is one observable transition. Trade is nil for events that
// are not tied to a trade (circuit transitions).
type LifecycleEvent struct {
	Type    EventType      `json:"type"`
	Trade   *Trade         `json:"trade,omitempty"`
	OrderID string         `json:"order_id,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Detail  map[string]any `json:"detail,omitempty"`
	At      time.Time      `json:"at"`
}

// ValidationResult is the outcome of the pre-trade policy checks.
type ValidationResult struct {
	Valid  bool
	Reason string
}

// Accept returns a passing ValidationResult.
func Accept() ValidationResult { return ValidationResult{Valid: true} }

// Reject returns a failing ValidationResult with the given reason.
func Reject(reason string) ValidationResult {
	return ValidationResult{Valid: false, Reason: reason}
}
