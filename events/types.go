// Package events defines connection lifecycle events and the publishers that emit them.
package events

import "time"

type Kind string

const (
	KindConnected         Kind = "connected"
	KindDisconnected      Kind = "disconnected"
	KindCallTimeout       Kind = "call.timeout"
	KindResponseUnmatched Kind = "response.unmatched"
	KindFrameRejected     Kind = "frame.rejected"
)

// Event is emitted by an endpoint when something happens on its connection.
type Event struct {
	Kind          Kind      `json:"kind"`
	ChargePointID string    `json:"chargePointId"`
	Subprotocol   string    `json:"subprotocol,omitempty"`
	MessageID     string    `json:"messageId,omitempty"`
	Action        string    `json:"action,omitempty"`
	ErrorCode     string    `json:"errorCode,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
