// Package provider defines the contract with the peer-to-peer connectivity
// service. The bridge treats the service as a black box: it issues
// operations and receives lifecycle callbacks on provider-owned goroutines.
package provider

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/d2dlab/nearbridge/internal/bridge/medium"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrUnknownEndpoint indicates the endpoint id is not visible to the node.
	ErrUnknownEndpoint = errors.New("unknown endpoint")

	// ErrNotConnected indicates an operation requiring an established connection.
	ErrNotConnected = errors.New("not connected to endpoint")

	// ErrAlreadyAdvertising indicates advertising is already active.
	ErrAlreadyAdvertising = errors.New("already advertising")

	// ErrAlreadyDiscovering indicates discovery is already active.
	ErrAlreadyDiscovering = errors.New("already discovering")
)

// PayloadKind classifies the payload transport shape. Values match the
// provider's wire enum.
type PayloadKind int

const (
	PayloadBytes  PayloadKind = 1
	PayloadFile   PayloadKind = 2
	PayloadStream PayloadKind = 3
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadBytes:
		return "BYTES"
	case PayloadFile:
		return "FILE"
	case PayloadStream:
		return "STREAM"
	default:
		return "UNKNOWN"
	}
}

// ParsePayloadKind parses a driver-supplied kind name. Unrecognized names
// return false.
func ParsePayloadKind(s string) (PayloadKind, bool) {
	switch s {
	case "BYTES", "bytes":
		return PayloadBytes, true
	case "FILE", "file":
		return PayloadFile, true
	case "STREAM", "stream":
		return PayloadStream, true
	default:
		return 0, false
	}
}

// payloadSeq mints provider-assigned payload ids. Ids are unique within the
// process lifetime; the contract only requires uniqueness among in-flight
// payloads of one session.
var payloadSeq atomic.Int64

func nextPayloadID() int64 { return payloadSeq.Add(1) }

// Payload is one unit of transfer. Exactly one of Bytes, FilePath or Stream
// is populated depending on Kind.
type Payload struct {
	ID   int64
	Kind PayloadKind
	Size int64

	// Bytes holds the full content for PayloadBytes.
	Bytes []byte

	// FilePath is the backing file for PayloadFile. The receiving side owns
	// the file and must remove it after the terminal transfer update.
	FilePath string

	// Stream is the incremental byte source for PayloadStream. The receiving
	// side drains and closes it.
	Stream io.ReadCloser
}

// NewBytesPayload builds an in-memory payload with a fresh id.
func NewBytesPayload(b []byte) *Payload {
	return &Payload{ID: nextPayloadID(), Kind: PayloadBytes, Size: int64(len(b)), Bytes: b}
}

// NewFilePayload builds a file-backed payload with a fresh id.
func NewFilePayload(path string, size int64) *Payload {
	return &Payload{ID: nextPayloadID(), Kind: PayloadFile, Size: size, FilePath: path}
}

// NewStreamPayload builds a stream payload with a fresh id. Size may be
// zero when the producer length is unknown.
func NewStreamPayload(r io.ReadCloser, size int64) *Payload {
	return &Payload{ID: nextPayloadID(), Kind: PayloadStream, Size: size, Stream: r}
}

// TransferStatus is the state carried by a transfer update. Values match
// the provider's wire enum.
type TransferStatus int

const (
	TransferSuccess    TransferStatus = 1
	TransferFailure    TransferStatus = 2
	TransferInProgress TransferStatus = 3
	TransferCancelled  TransferStatus = 4
)

func (s TransferStatus) String() string {
	switch s {
	case TransferSuccess:
		return "success"
	case TransferFailure:
		return "failure"
	case TransferInProgress:
		return "in-progress"
	case TransferCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status ends the payload's lifecycle.
func (s TransferStatus) Terminal() bool {
	return s == TransferSuccess || s == TransferFailure || s == TransferCancelled
}

// TransferUpdate reports progress or completion of one payload.
type TransferUpdate struct {
	PayloadID        int64
	Status           TransferStatus
	BytesTransferred int64
	TotalBytes       int64
}

// Connection result status codes, matching the provider's wire values.
const (
	StatusOK                 = 0
	StatusError              = 13
	StatusConnectionRejected = 8004
)

// ConnectionInfo describes the remote side of an initiated connection.
type ConnectionInfo struct {
	EndpointName         string
	AuthenticationDigits string
	Incoming             bool
}

// ConnectionResolution is the outcome of a connection attempt.
type ConnectionResolution struct {
	StatusCode int
	Success    bool
}

// BandwidthQuality is the coarse link quality tier after a medium change.
type BandwidthQuality int

const (
	QualityUnknown BandwidthQuality = 0
	QualityLow     BandwidthQuality = 1
	QualityMedium  BandwidthQuality = 2
	QualityHigh    BandwidthQuality = 3
)

// Bandwidth upgrade status values.
const (
	UpgradeStatusUpgraded = 1
	UpgradeStatusError    = 2
)

// BandwidthInfo describes the link after a bandwidth change.
type BandwidthInfo struct {
	UpgradeStatus int
	Quality       BandwidthQuality
	Medium        medium.Medium
}

// DiscoveredEndpointInfo describes an endpoint seen during discovery.
type DiscoveredEndpointInfo struct {
	EndpointName string
	ServiceID    string
}

// ConnectionCallback receives connection lifecycle notifications. The
// provider invokes it from its own goroutines; per-endpoint notifications
// arrive in issue order, different endpoints may interleave.
type ConnectionCallback interface {
	OnConnectionInitiated(endpointID string, info ConnectionInfo)
	OnConnectionResult(endpointID string, res ConnectionResolution)
	OnDisconnected(endpointID string)
	OnBandwidthChanged(endpointID string, info BandwidthInfo)
}

// DiscoveryCallback receives endpoint discovery notifications.
type DiscoveryCallback interface {
	OnEndpointFound(endpointID string, info DiscoveredEndpointInfo)
	OnEndpointLost(endpointID string)
}

// PayloadCallback receives payload notifications. Per-payload notifications
// arrive in issue order; distinct payloads may interleave arbitrarily.
type PayloadCallback interface {
	OnPayloadReceived(endpointID string, p *Payload)
	OnPayloadTransferUpdate(endpointID string, update TransferUpdate)
}

// Provider is the connectivity service surface the bridge depends on.
// Implementations must be safe for concurrent use. Calls are synchronous
// acknowledgements that the operation was issued; outcomes arrive through
// the callbacks.
type Provider interface {
	StartAdvertising(ctx context.Context, name, serviceID string, opts medium.AdvertisingOptions, cb ConnectionCallback) error
	StopAdvertising(ctx context.Context) error

	StartDiscovery(ctx context.Context, serviceID string, opts medium.DiscoveryOptions, cb DiscoveryCallback) error
	StopDiscovery(ctx context.Context) error

	RequestConnection(ctx context.Context, name, endpointID string, opts medium.ConnectionOptions, cb ConnectionCallback) error
	AcceptConnection(ctx context.Context, endpointID string, cb PayloadCallback) error
	DisconnectFromEndpoint(ctx context.Context, endpointID string) error
	StopAllEndpoints(ctx context.Context) error

	SendPayload(ctx context.Context, endpointID string, p *Payload) error

	LocalEndpointID(ctx context.Context) (string, error)
}
