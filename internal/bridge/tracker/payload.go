package tracker

import (
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/d2dlab/nearbridge/internal/bridge/events"
	"github.com/d2dlab/nearbridge/internal/bridge/provider"
)

// payloadRecord holds per-transfer state for one incoming payload. The
// record mutex serializes stream draining against terminal cleanup of the
// same payload.
type payloadRecord struct {
	payload *provider.Payload

	mu            sync.Mutex
	receivedBytes int64
	closed        bool
}

// PayloadTracker forwards payload callbacks as events and manages the
// registry of incoming payloads. In-progress updates are internal: they
// drain incoming streams up to the reported offset and emit nothing. A
// terminal update releases the record exactly once (received files
// removed, streams closed, record dropped) and emits the only externally
// visible transfer event. Terminal updates for unknown payload ids
// (outgoing payloads among them) are forwarded with no registry mutation.
//
// One transfer stopwatch is shared across the whole session: it starts
// lazily on the first send or received payload and keeps running, so every
// terminal event carries the elapsed session transfer time.
type PayloadTracker struct {
	callbackID string
	builder    *events.Builder
	pub        events.Publisher
	logger     *slog.Logger
	remove     func(string) error
	watch      *Stopwatch

	mu      sync.Mutex
	records map[int64]*payloadRecord
}

var _ provider.PayloadCallback = (*PayloadTracker)(nil)

// NewPayloadTracker creates a tracker bound to one callback session.
func NewPayloadTracker(callbackID string, builder *events.Builder, pub events.Publisher, logger *slog.Logger) *PayloadTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &PayloadTracker{
		callbackID: callbackID,
		builder:    builder,
		pub:        pub,
		logger:     logger,
		remove:     os.Remove,
		watch:      NewStopwatch(),
		records:    make(map[int64]*payloadRecord),
	}
}

// StartTransferWatch starts the session transfer stopwatch if it is not
// already running. Called when a send is issued; received payloads start
// it implicitly.
func (t *PayloadTracker) StartTransferWatch() {
	if !t.watch.Running() {
		t.watch.Start()
	}
}

// ActiveTransfers returns the number of tracked incoming payloads.
func (t *PayloadTracker) ActiveTransfers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

func (t *PayloadTracker) OnPayloadReceived(endpointID string, p *provider.Payload) {
	t.StartTransferWatch()

	t.mu.Lock()
	t.records[p.ID] = &payloadRecord{payload: p}
	t.mu.Unlock()

	t.logger.Info("payload received",
		"callback_id", t.callbackID,
		"endpoint_id", endpointID,
		"payload_id", p.ID,
		"kind", p.Kind.String(),
		"size", p.Size,
	)

	t.pub.PublishAsync(t.builder.PayloadReceived(t.callbackID, endpointID, p.ID).
		Kind(p.Kind.String()).
		Size(p.Size).
		Build())
}

func (t *PayloadTracker) OnPayloadTransferUpdate(endpointID string, u provider.TransferUpdate) {
	if u.Status.Terminal() {
		t.finish(endpointID, u)
		return
	}

	t.mu.Lock()
	rec := t.records[u.PayloadID]
	t.mu.Unlock()

	// In-progress updates are drain-only: no event leaves the tracker
	// until the transfer reaches a terminal status.
	if rec != nil && rec.payload.Kind == provider.PayloadStream && rec.payload.Stream != nil {
		t.drain(rec, u.BytesTransferred)
	}
}

// drain consumes stream bytes up to the reported transfer offset. The
// record mutex is held across the read and the cursor advance, so a
// concurrent terminal cannot close the stream mid-read and a redelivered
// update cannot double-drain. A short read is logged but not fatal: the
// remaining bytes surface with the next update or the stream's own error.
func (t *PayloadTracker) drain(rec *payloadRecord, target int64) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.closed {
		return
	}
	delta := target - rec.receivedBytes
	if delta <= 0 {
		return
	}

	buf := make([]byte, delta)
	n, err := io.ReadFull(rec.payload.Stream, buf)
	rec.receivedBytes += int64(n)

	if err != nil {
		t.logger.Warn("short stream read",
			"callback_id", t.callbackID,
			"payload_id", rec.payload.ID,
			"wanted", delta,
			"got", n,
			"cursor", rec.receivedBytes,
			"error", err,
		)
	}
}

// finish handles a terminal update. Cleanup runs at most once per payload:
// redelivered terminal statuses find no record and pass straight through
// to the event stream.
func (t *PayloadTracker) finish(endpointID string, u provider.TransferUpdate) {
	t.mu.Lock()
	rec, tracked := t.records[u.PayloadID]
	delete(t.records, u.PayloadID)
	t.mu.Unlock()

	success := u.Status == provider.TransferSuccess
	ev := t.builder.PayloadTransfer(t.callbackID, endpointID, u.PayloadID).
		Status(u.Status.String(), int(u.Status), success, true).
		Progress(u.BytesTransferred, u.TotalBytes)

	if t.watch.Running() {
		ev.TransferTime(t.watch.Elapsed())
	}

	if tracked {
		if rec.payload.Kind == provider.PayloadFile && rec.payload.FilePath != "" {
			ev.FilePath(rec.payload.FilePath)
			if err := t.remove(rec.payload.FilePath); err != nil {
				ev.Error(err)
				t.logger.Warn("received file cleanup failed",
					"payload_id", u.PayloadID,
					"path", rec.payload.FilePath,
					"error", err,
				)
			}
		}
		if rec.payload.Stream != nil {
			rec.mu.Lock()
			rec.closed = true
			_ = rec.payload.Stream.Close()
			rec.mu.Unlock()
		}
	} else {
		t.logger.Debug("terminal update for untracked payload",
			"callback_id", t.callbackID,
			"payload_id", u.PayloadID,
			"status", u.Status.String(),
		)
	}

	t.logger.Info("payload transfer finished",
		"callback_id", t.callbackID,
		"endpoint_id", endpointID,
		"payload_id", u.PayloadID,
		"status", u.Status.String(),
		"bytes", u.BytesTransferred,
	)

	t.pub.PublishAsync(ev.Build())
}
