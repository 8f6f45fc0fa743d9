// Package service implements the bridge operations a test driver invokes:
// advertising, discovery, connections, and payload transfers against a
// connectivity provider, with every asynchronous outcome forwarded to the
// event stream.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	typesv1 "github.com/d2dlab/nearbridge/api/types/v1"
	"github.com/d2dlab/nearbridge/internal/bridge/events"
	"github.com/d2dlab/nearbridge/internal/bridge/medium"
	"github.com/d2dlab/nearbridge/internal/bridge/metrics"
	"github.com/d2dlab/nearbridge/internal/bridge/provider"
	"github.com/d2dlab/nearbridge/internal/bridge/session"
)

var (
	// ErrUnknownSession indicates the callback id has no registered session.
	ErrUnknownSession = errors.New("unknown callback session")

	// ErrNotAccepted indicates a payload send before AcceptConnection.
	ErrNotAccepted = errors.New("acceptConnection has not been called for endpoint")

	// ErrInvalidPayload indicates an unusable payload description.
	ErrInvalidPayload = errors.New("invalid payload request")
)

// StagingFilePrefix marks files the bridge creates for file transfers.
// TransferFilesCleanup removes everything carrying the wider bridge prefix,
// covering staged outbound files and materialized inbound copies alike.
const (
	StagingFilePrefix = "nearbridge_tx_"
	cleanupPrefix     = "nearbridge_"
)

// Bridge executes driver operations against a connectivity provider.
type Bridge struct {
	provider   provider.Provider
	sessions   *session.Manager
	builder    *events.Builder
	pub        events.Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	stagingDir string

	mu          sync.Mutex
	advertising bool
	discovering bool
}

// New creates a bridge service. Staged transfer files are created under
// stagingDir (the OS temp dir when empty).
func New(p provider.Provider, sessions *session.Manager, builder *events.Builder, pub events.Publisher, m *metrics.Metrics, logger *slog.Logger, stagingDir string) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if stagingDir == "" {
		stagingDir = os.TempDir()
	}
	return &Bridge{
		provider:   p,
		sessions:   sessions,
		builder:    builder,
		pub:        pub,
		metrics:    m,
		logger:     logger,
		stagingDir: stagingDir,
	}
}

// operationDone records the outcome of an operation on the metrics and the
// event stream.
func (b *Bridge) operationDone(callbackID, op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	b.metrics.RecordOperation(op, status, time.Since(start).Seconds())

	ev := b.builder.OperationResult(callbackID, op)
	if err != nil {
		ev.Failed(err)
		b.logger.Warn("[Bridge] Operation failed", "operation", op, "callback_id", callbackID, "error", err)
	} else {
		b.logger.Info("[Bridge] Operation completed", "operation", op, "callback_id", callbackID)
	}
	b.pub.PublishAsync(ev.Build())
}

// StartAdvertising resolves the medium selectors and begins advertising.
// The session's handshake stopwatch starts now so incoming initiated
// events carry time-to-connection.
func (b *Bridge) StartAdvertising(ctx context.Context, req typesv1.StartAdvertisingRequest) error {
	start := time.Now()

	opts, err := medium.ResolveAdvertising(medium.Selector(req.Medium), medium.Selector(req.UpgradeMedium))
	if err == nil {
		sess := b.sessions.GetOrCreate(req.CallbackID)
		sess.StartConnectionWatch()
		err = b.provider.StartAdvertising(ctx, req.DeviceName, req.ServiceID, opts, sess)
	}
	if err == nil {
		b.mu.Lock()
		b.advertising = true
		b.mu.Unlock()
	}

	b.metrics.SetActiveSessions(b.sessions.Count())
	b.operationDone(req.CallbackID, "startAdvertising", start, err)
	return err
}

// StopAdvertising stops advertising.
func (b *Bridge) StopAdvertising(ctx context.Context, callbackID string) error {
	start := time.Now()
	err := b.provider.StopAdvertising(ctx)
	if err == nil {
		b.mu.Lock()
		b.advertising = false
		b.mu.Unlock()
	}
	b.operationDone(callbackID, "stopAdvertising", start, err)
	return err
}

// StartDiscovery resolves the medium selector and begins discovery. An
// unrecognized selector falls back to an unconstrained scan.
func (b *Bridge) StartDiscovery(ctx context.Context, req typesv1.StartDiscoveryRequest) error {
	start := time.Now()

	opts := medium.ResolveDiscovery(medium.Selector(req.Medium))
	sess := b.sessions.GetOrCreate(req.CallbackID)
	sess.StartDiscoveryWatch()
	err := b.provider.StartDiscovery(ctx, req.ServiceID, opts, sess)
	if err == nil {
		b.mu.Lock()
		b.discovering = true
		b.mu.Unlock()
	}

	b.metrics.SetActiveSessions(b.sessions.Count())
	b.operationDone(req.CallbackID, "startDiscovery", start, err)
	return err
}

// StopDiscovery stops discovery.
func (b *Bridge) StopDiscovery(ctx context.Context, callbackID string) error {
	start := time.Now()
	err := b.provider.StopDiscovery(ctx)
	if err == nil {
		b.mu.Lock()
		b.discovering = false
		b.mu.Unlock()
	}
	b.operationDone(callbackID, "stopDiscovery", start, err)
	return err
}

// RequestConnection initiates a connection to a discovered endpoint.
func (b *Bridge) RequestConnection(ctx context.Context, req typesv1.RequestConnectionRequest) error {
	start := time.Now()

	opts, err := medium.ResolveConnection(
		medium.Selector(req.Medium),
		medium.Selector(req.UpgradeMedium),
		medium.ConnectionType(req.ConnectionType),
		time.Duration(req.KeepAliveTimeoutMs)*time.Millisecond,
		time.Duration(req.KeepAliveIntervalMs)*time.Millisecond,
	)
	if err == nil {
		sess := b.sessions.GetOrCreate(req.CallbackID)
		sess.StartConnectionWatch()
		err = b.provider.RequestConnection(ctx, req.DeviceName, req.EndpointID, opts, sess)
	}

	b.metrics.SetActiveSessions(b.sessions.Count())
	b.operationDone(req.CallbackID, "requestConnection", start, err)
	return err
}

// AcceptConnection accepts a pending connection, registering the session's
// payload tracker as the payload callback for the endpoint.
func (b *Bridge) AcceptConnection(ctx context.Context, req typesv1.AcceptConnectionRequest) error {
	start := time.Now()

	sess, ok := b.sessions.Get(req.CallbackID)
	var err error
	if !ok {
		err = fmt.Errorf("accept connection: %w: %s", ErrUnknownSession, req.CallbackID)
	} else {
		err = b.provider.AcceptConnection(ctx, req.EndpointID, sess.Payloads())
		if err == nil {
			sess.MarkAccepted(req.EndpointID)
		}
	}

	b.operationDone(req.CallbackID, "acceptConnection", start, err)
	return err
}

// Disconnect tears down one connection.
func (b *Bridge) Disconnect(ctx context.Context, req typesv1.DisconnectRequest) error {
	start := time.Now()
	err := b.provider.DisconnectFromEndpoint(ctx, req.EndpointID)
	b.operationDone(req.CallbackID, "disconnectFromEndpoint", start, err)
	return err
}

// StopAllEndpoints disconnects everything and stops advertising and
// discovery.
func (b *Bridge) StopAllEndpoints(ctx context.Context, callbackID string) error {
	start := time.Now()
	err := b.provider.StopAllEndpoints(ctx)
	if err == nil {
		b.mu.Lock()
		b.advertising = false
		b.discovering = false
		b.mu.Unlock()
	}
	b.operationDone(callbackID, "stopAllEndpoints", start, err)
	return err
}

// SendPayload sends payloads to the endpoints named in the request.
// Every payload requires a previously accepted connection. Each endpoint
// (and each copy) gets an independent payload so stream sources are never
// shared.
func (b *Bridge) SendPayload(ctx context.Context, req typesv1.SendPayloadRequest) ([]int64, error) {
	start := time.Now()

	ids, err := b.sendPayloads(ctx, req)
	b.operationDone(req.CallbackID, "sendPayload", start, err)
	return ids, err
}

func (b *Bridge) sendPayloads(ctx context.Context, req typesv1.SendPayloadRequest) ([]int64, error) {
	sess, ok := b.sessions.Get(req.CallbackID)
	if !ok {
		return nil, fmt.Errorf("send payload: %w: %s", ErrUnknownSession, req.CallbackID)
	}
	if len(req.EndpointIDs) == 0 {
		return nil, fmt.Errorf("%w: no endpoints", ErrInvalidPayload)
	}
	kind, ok := provider.ParsePayloadKind(req.Type)
	if !ok {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidPayload, req.Type)
	}
	for _, ep := range req.EndpointIDs {
		if !sess.Accepted(ep) {
			return nil, fmt.Errorf("%w: %s", ErrNotAccepted, ep)
		}
	}

	copies := req.Copies
	if copies <= 0 {
		copies = 1
	}

	// Outgoing payloads are not registered: the provider reports their
	// terminal status by id and the tracker forwards it as-is. Sending
	// only arms the session transfer stopwatch.
	sess.Payloads().StartTransferWatch()

	var ids []int64
	for _, ep := range req.EndpointIDs {
		for i := 0; i < copies; i++ {
			p, err := b.buildPayload(kind, req)
			if err != nil {
				return ids, err
			}
			if err := b.provider.SendPayload(ctx, ep, p); err != nil {
				return ids, fmt.Errorf("send payload %d to %s: %w", p.ID, ep, err)
			}
			b.metrics.AddPayloadBytes("sent", p.Size)
			ids = append(ids, p.ID)

			b.logger.Info("[Bridge] Payload sent",
				"callback_id", req.CallbackID,
				"endpoint_id", ep,
				"payload_id", p.ID,
				"kind", kind.String(),
				"size", p.Size,
			)
		}
	}
	return ids, nil
}

// buildPayload constructs one payload from the request description.
func (b *Bridge) buildPayload(kind provider.PayloadKind, req typesv1.SendPayloadRequest) (*provider.Payload, error) {
	switch kind {
	case provider.PayloadBytes:
		if len(req.Data) == 0 {
			return nil, fmt.Errorf("%w: bytes payload without data", ErrInvalidPayload)
		}
		data := make([]byte, len(req.Data))
		copy(data, req.Data)
		return provider.NewBytesPayload(data), nil

	case provider.PayloadFile:
		if req.FileSizeBytes <= 0 {
			return nil, fmt.Errorf("%w: file payload needs a positive size", ErrInvalidPayload)
		}
		p := provider.NewFilePayload("", req.FileSizeBytes)
		p.FilePath = filepath.Join(b.stagingDir, fmt.Sprintf("%s%d", StagingFilePrefix, p.ID))
		if err := writePatternFile(p.FilePath, req.FileSizeBytes); err != nil {
			return nil, fmt.Errorf("stage transfer file: %w", err)
		}
		return p, nil

	case provider.PayloadStream:
		if req.StreamSizeBytes <= 0 {
			return nil, fmt.Errorf("%w: stream payload needs a positive size", ErrInvalidPayload)
		}
		return provider.NewStreamPayload(io.NopCloser(newPatternReader(req.StreamSizeBytes)), req.StreamSizeBytes), nil
	}
	return nil, fmt.Errorf("%w: unsupported kind %v", ErrInvalidPayload, kind)
}

// TransferFilesCleanup removes every bridge-created transfer file left in
// the staging directory: staged outbound files and received copies whose
// terminal cleanup did not run.
func (b *Bridge) TransferFilesCleanup(ctx context.Context, callbackID string) (int, error) {
	start := time.Now()

	removed, err := b.cleanupStagingDir()
	b.operationDone(callbackID, "transferFilesCleanup", start, err)
	return removed, err
}

func (b *Bridge) cleanupStagingDir() (int, error) {
	entries, err := os.ReadDir(b.stagingDir)
	if err != nil {
		return 0, fmt.Errorf("read staging dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), cleanupPrefix) {
			continue
		}
		path := filepath.Join(b.stagingDir, entry.Name())
		if err := os.Remove(path); err != nil {
			b.logger.Warn("[Bridge] Transfer file removal failed", "path", path, "error", err)
			continue
		}
		removed++
	}

	b.logger.Info("[Bridge] Transfer files cleaned up", "dir", b.stagingDir, "removed", removed)
	return removed, nil
}

// LocalEndpointID returns the provider's endpoint id for this device.
func (b *Bridge) LocalEndpointID(ctx context.Context) (string, error) {
	return b.provider.LocalEndpointID(ctx)
}

// Stats summarizes bridge state for the API.
type Stats struct {
	ActiveSessions  int
	ActiveTransfers int
	Advertising     bool
	Discovering     bool
}

// Stats snapshots session and transfer counts.
func (b *Bridge) Stats() Stats {
	transfers := 0
	for _, sess := range b.sessions.All() {
		transfers += sess.Payloads().ActiveTransfers()
	}

	b.mu.Lock()
	adv, disc := b.advertising, b.discovering
	b.mu.Unlock()

	b.metrics.SetActiveTransfers(transfers)
	b.metrics.SetActiveSessions(b.sessions.Count())

	return Stats{
		ActiveSessions:  b.sessions.Count(),
		ActiveTransfers: transfers,
		Advertising:     adv,
		Discovering:     disc,
	}
}
