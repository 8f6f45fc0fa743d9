// Package events provides connectivity lifecycle event definitions and
// publishing infrastructure. Events are transport-agnostic JSON payloads
// consumed by test drivers over the API event stream and optionally
// mirrored to NATS JetStream.
package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the type of connectivity event
type EventType string

const (
	// ConnectionInitiated fires when a connection handshake begins on
	// either the requesting or the advertising side
	ConnectionInitiated EventType = "connection.initiated"
	// ConnectionResult fires when the handshake resolves (accepted or rejected)
	ConnectionResult EventType = "connection.result"
	// ConnectionDisconnected fires when an established connection ends
	ConnectionDisconnected EventType = "connection.disconnected"
	// BandwidthChanged fires when the link migrates to a different medium
	BandwidthChanged EventType = "connection.bandwidth_changed"
	// EndpointFound fires when discovery sees a matching advertiser
	EndpointFound EventType = "discovery.endpoint_found"
	// EndpointLost fires when a previously found advertiser disappears
	EndpointLost EventType = "discovery.endpoint_lost"
	// PayloadReceived fires when an incoming payload is first announced
	PayloadReceived EventType = "payload.received"
	// PayloadTransferUpdate fires on transfer progress and on the terminal status
	PayloadTransferUpdate EventType = "payload.transfer_update"
	// OperationResult fires when an asynchronous API operation completes
	OperationResult EventType = "operation.result"
)

// Event is the base interface for all connectivity events
type Event interface {
	// Type returns the event type for routing/filtering
	Type() EventType
	// Subject returns the NATS subject this event should publish to
	Subject() string
	// Timestamp returns when the event occurred
	Timestamp() time.Time
	// SessionID returns the callback session this event belongs to
	SessionID() string
}

// BaseEvent contains fields common to all events
type BaseEvent struct {
	// EventID is a unique identifier for this event instance (for deduplication)
	EventID string `json:"event_id"`
	// EventType identifies the event
	EventType EventType `json:"event_type"`
	// EventTime is when the event occurred (RFC3339Nano)
	EventTime time.Time `json:"event_time"`
	// CallbackID correlates the event with the driver session that
	// registered the callbacks
	CallbackID string `json:"callback_id"`
	// NodeID identifies the bridge instance (for multi-device runs)
	NodeID string `json:"node_id,omitempty"`
}

func (e *BaseEvent) Type() EventType      { return e.EventType }
func (e *BaseEvent) ID() string           { return e.EventID }
func (e *BaseEvent) Timestamp() time.Time { return e.EventTime }
func (e *BaseEvent) SessionID() string    { return e.CallbackID }

// Subject returns the NATS subject for routing
// Format: nearbridge.sessions.<callback_id>.<event_type>
func (e *BaseEvent) Subject() string {
	return SessionSubject(e.CallbackID, string(e.EventType))
}

// ConnectionInitiatedEvent fires when a handshake begins. The elapsed time
// is measured from the start of the originating operation (request
// connection or start advertising) on the local side.
type ConnectionInitiatedEvent struct {
	BaseEvent
	EndpointID           string `json:"endpoint_id"`
	EndpointName         string `json:"endpoint_name"`
	AuthenticationDigits string `json:"authentication_digits,omitempty"`
	IsIncoming           bool   `json:"is_incoming_connection"`
	ConnectionTimeNs     int64  `json:"connection_time_ns"`
}

// ConnectionResultEvent fires when the handshake resolves.
type ConnectionResultEvent struct {
	BaseEvent
	EndpointID string `json:"endpoint_id"`
	StatusCode int    `json:"status_code"`
	IsSuccess  bool   `json:"is_success"`
	Medium     string `json:"medium,omitempty"`
}

// DisconnectedEvent fires when an established connection ends.
type DisconnectedEvent struct {
	BaseEvent
	EndpointID string `json:"endpoint_id"`
}

// BandwidthChangedEvent fires when the link migrates to a new medium.
type BandwidthChangedEvent struct {
	BaseEvent
	EndpointID      string `json:"endpoint_id"`
	UpgradeStatus   int    `json:"upgrade_status"`
	Quality         int    `json:"quality"`
	IsHighBwQuality bool   `json:"is_high_bw_quality"`
	Medium          string `json:"medium"`
	MediumCode      int    `json:"medium_code"`
}

// EndpointFoundEvent fires when discovery sees a matching advertiser. The
// elapsed time is measured from the start of discovery.
type EndpointFoundEvent struct {
	BaseEvent
	EndpointID      string `json:"endpoint_id"`
	EndpointName    string `json:"endpoint_name"`
	ServiceID       string `json:"service_id"`
	DiscoveryTimeNs int64  `json:"discovery_time_ns"`
}

// EndpointLostEvent fires when a previously found advertiser disappears.
type EndpointLostEvent struct {
	BaseEvent
	EndpointID string `json:"endpoint_id"`
}

// PayloadReceivedEvent fires when an incoming payload is announced.
type PayloadReceivedEvent struct {
	BaseEvent
	EndpointID  string `json:"endpoint_id"`
	PayloadID   int64  `json:"payload_id"`
	PayloadKind string `json:"payload_kind"`
	Size        int64  `json:"size"`
}

// PayloadTransferEvent fires on transfer progress and on terminal status.
// Terminal events additionally carry the sampled transfer duration.
type PayloadTransferEvent struct {
	BaseEvent
	EndpointID       string `json:"endpoint_id"`
	PayloadID        int64  `json:"payload_id"`
	Status           string `json:"status"`
	StatusCode       int    `json:"status_code"`
	IsSuccess        bool   `json:"is_success"`
	IsTerminal       bool   `json:"is_terminal"`
	BytesTransferred int64  `json:"bytes_transferred"`
	TotalBytes       int64  `json:"total_bytes"`
	TransferTimeNs   int64  `json:"transfer_time_ns,omitempty"`
	FilePath         string `json:"file_path,omitempty"`
	Error            string `json:"error,omitempty"`
}

// OperationResultEvent fires when an asynchronous API operation completes.
type OperationResultEvent struct {
	BaseEvent
	Operation string `json:"operation"`
	IsSuccess bool   `json:"is_success"`
	Error     string `json:"error,omitempty"`
}

// MarshalEvent serializes an event for the wire.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
