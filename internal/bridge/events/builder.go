package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/d2dlab/nearbridge/internal/bridge/medium"
)

// Builder provides fluent construction of connectivity events with
// consistent defaults.
type Builder struct {
	nodeID string
}

// NewBuilder creates an event builder with global defaults.
func NewBuilder(nodeID string) *Builder {
	return &Builder{nodeID: nodeID}
}

// newBase creates a BaseEvent with common fields populated.
func (b *Builder) newBase(eventType EventType, callbackID string) BaseEvent {
	return BaseEvent{
		EventID:    uuid.New().String(),
		EventType:  eventType,
		EventTime:  time.Now().UTC(),
		CallbackID: callbackID,
		NodeID:     b.nodeID,
	}
}

// ConnectionInitiatedBuilder constructs ConnectionInitiatedEvent.
type ConnectionInitiatedBuilder struct {
	event *ConnectionInitiatedEvent
}

// ConnectionInitiated starts building a ConnectionInitiatedEvent.
func (b *Builder) ConnectionInitiated(callbackID, endpointID string) *ConnectionInitiatedBuilder {
	return &ConnectionInitiatedBuilder{
		event: &ConnectionInitiatedEvent{
			BaseEvent:  b.newBase(ConnectionInitiated, callbackID),
			EndpointID: endpointID,
		},
	}
}

func (cb *ConnectionInitiatedBuilder) EndpointName(name string) *ConnectionInitiatedBuilder {
	cb.event.EndpointName = name
	return cb
}

func (cb *ConnectionInitiatedBuilder) AuthenticationDigits(digits string) *ConnectionInitiatedBuilder {
	cb.event.AuthenticationDigits = digits
	return cb
}

func (cb *ConnectionInitiatedBuilder) Incoming(incoming bool) *ConnectionInitiatedBuilder {
	cb.event.IsIncoming = incoming
	return cb
}

func (cb *ConnectionInitiatedBuilder) ConnectionTime(d time.Duration) *ConnectionInitiatedBuilder {
	cb.event.ConnectionTimeNs = d.Nanoseconds()
	return cb
}

func (cb *ConnectionInitiatedBuilder) Build() *ConnectionInitiatedEvent {
	return cb.event
}

// ConnectionResultBuilder constructs ConnectionResultEvent.
type ConnectionResultBuilder struct {
	event *ConnectionResultEvent
}

// ConnectionResult starts building a ConnectionResultEvent.
func (b *Builder) ConnectionResult(callbackID, endpointID string) *ConnectionResultBuilder {
	return &ConnectionResultBuilder{
		event: &ConnectionResultEvent{
			BaseEvent:  b.newBase(ConnectionResult, callbackID),
			EndpointID: endpointID,
		},
	}
}

func (cb *ConnectionResultBuilder) Status(code int, success bool) *ConnectionResultBuilder {
	cb.event.StatusCode = code
	cb.event.IsSuccess = success
	return cb
}

func (cb *ConnectionResultBuilder) Medium(m medium.Medium) *ConnectionResultBuilder {
	cb.event.Medium = m.String()
	return cb
}

func (cb *ConnectionResultBuilder) Build() *ConnectionResultEvent {
	return cb.event
}

// Disconnected builds a DisconnectedEvent.
func (b *Builder) Disconnected(callbackID, endpointID string) *DisconnectedEvent {
	return &DisconnectedEvent{
		BaseEvent:  b.newBase(ConnectionDisconnected, callbackID),
		EndpointID: endpointID,
	}
}

// BandwidthChangedBuilder constructs BandwidthChangedEvent.
type BandwidthChangedBuilder struct {
	event *BandwidthChangedEvent
}

// BandwidthChanged starts building a BandwidthChangedEvent.
func (b *Builder) BandwidthChanged(callbackID, endpointID string) *BandwidthChangedBuilder {
	return &BandwidthChangedBuilder{
		event: &BandwidthChangedEvent{
			BaseEvent:  b.newBase(BandwidthChanged, callbackID),
			EndpointID: endpointID,
		},
	}
}

func (cb *BandwidthChangedBuilder) UpgradeStatus(status int) *BandwidthChangedBuilder {
	cb.event.UpgradeStatus = status
	return cb
}

func (cb *BandwidthChangedBuilder) Quality(q int) *BandwidthChangedBuilder {
	cb.event.Quality = q
	return cb
}

func (cb *BandwidthChangedBuilder) HighBwQuality(high bool) *BandwidthChangedBuilder {
	cb.event.IsHighBwQuality = high
	return cb
}

func (cb *BandwidthChangedBuilder) Medium(m medium.Medium) *BandwidthChangedBuilder {
	cb.event.Medium = m.String()
	cb.event.MediumCode = int(m)
	return cb
}

func (cb *BandwidthChangedBuilder) Build() *BandwidthChangedEvent {
	return cb.event
}

// EndpointFoundBuilder constructs EndpointFoundEvent.
type EndpointFoundBuilder struct {
	event *EndpointFoundEvent
}

// EndpointFound starts building an EndpointFoundEvent.
func (b *Builder) EndpointFound(callbackID, endpointID string) *EndpointFoundBuilder {
	return &EndpointFoundBuilder{
		event: &EndpointFoundEvent{
			BaseEvent:  b.newBase(EndpointFound, callbackID),
			EndpointID: endpointID,
		},
	}
}

func (cb *EndpointFoundBuilder) EndpointName(name string) *EndpointFoundBuilder {
	cb.event.EndpointName = name
	return cb
}

func (cb *EndpointFoundBuilder) ServiceID(serviceID string) *EndpointFoundBuilder {
	cb.event.ServiceID = serviceID
	return cb
}

func (cb *EndpointFoundBuilder) DiscoveryTime(d time.Duration) *EndpointFoundBuilder {
	cb.event.DiscoveryTimeNs = d.Nanoseconds()
	return cb
}

func (cb *EndpointFoundBuilder) Build() *EndpointFoundEvent {
	return cb.event
}

// EndpointLost builds an EndpointLostEvent.
func (b *Builder) EndpointLost(callbackID, endpointID string) *EndpointLostEvent {
	return &EndpointLostEvent{
		BaseEvent:  b.newBase(EndpointLost, callbackID),
		EndpointID: endpointID,
	}
}

// PayloadReceivedBuilder constructs PayloadReceivedEvent.
type PayloadReceivedBuilder struct {
	event *PayloadReceivedEvent
}

// PayloadReceived starts building a PayloadReceivedEvent.
func (b *Builder) PayloadReceived(callbackID, endpointID string, payloadID int64) *PayloadReceivedBuilder {
	return &PayloadReceivedBuilder{
		event: &PayloadReceivedEvent{
			BaseEvent:  b.newBase(PayloadReceived, callbackID),
			EndpointID: endpointID,
			PayloadID:  payloadID,
		},
	}
}

func (cb *PayloadReceivedBuilder) Kind(kind string) *PayloadReceivedBuilder {
	cb.event.PayloadKind = kind
	return cb
}

func (cb *PayloadReceivedBuilder) Size(size int64) *PayloadReceivedBuilder {
	cb.event.Size = size
	return cb
}

func (cb *PayloadReceivedBuilder) Build() *PayloadReceivedEvent {
	return cb.event
}

// PayloadTransferBuilder constructs PayloadTransferEvent.
type PayloadTransferBuilder struct {
	event *PayloadTransferEvent
}

// PayloadTransfer starts building a PayloadTransferEvent.
func (b *Builder) PayloadTransfer(callbackID, endpointID string, payloadID int64) *PayloadTransferBuilder {
	return &PayloadTransferBuilder{
		event: &PayloadTransferEvent{
			BaseEvent:  b.newBase(PayloadTransferUpdate, callbackID),
			EndpointID: endpointID,
			PayloadID:  payloadID,
		},
	}
}

func (cb *PayloadTransferBuilder) Status(status string, code int, success, terminal bool) *PayloadTransferBuilder {
	cb.event.Status = status
	cb.event.StatusCode = code
	cb.event.IsSuccess = success
	cb.event.IsTerminal = terminal
	return cb
}

func (cb *PayloadTransferBuilder) Progress(transferred, total int64) *PayloadTransferBuilder {
	cb.event.BytesTransferred = transferred
	cb.event.TotalBytes = total
	return cb
}

func (cb *PayloadTransferBuilder) TransferTime(d time.Duration) *PayloadTransferBuilder {
	cb.event.TransferTimeNs = d.Nanoseconds()
	return cb
}

func (cb *PayloadTransferBuilder) FilePath(path string) *PayloadTransferBuilder {
	cb.event.FilePath = path
	return cb
}

func (cb *PayloadTransferBuilder) Error(err error) *PayloadTransferBuilder {
	if err != nil {
		cb.event.Error = err.Error()
	}
	return cb
}

func (cb *PayloadTransferBuilder) Build() *PayloadTransferEvent {
	return cb.event
}

// OperationResultBuilder constructs OperationResultEvent.
type OperationResultBuilder struct {
	event *OperationResultEvent
}

// OperationResult starts building an OperationResultEvent.
func (b *Builder) OperationResult(callbackID, operation string) *OperationResultBuilder {
	return &OperationResultBuilder{
		event: &OperationResultEvent{
			BaseEvent: b.newBase(OperationResult, callbackID),
			Operation: operation,
			IsSuccess: true,
		},
	}
}

func (cb *OperationResultBuilder) Failed(err error) *OperationResultBuilder {
	cb.event.IsSuccess = false
	if err != nil {
		cb.event.Error = err.Error()
	}
	return cb
}

func (cb *OperationResultBuilder) Build() *OperationResultEvent {
	return cb.event
}
