package tracker

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d2dlab/nearbridge/internal/bridge/events"
	"github.com/d2dlab/nearbridge/internal/bridge/medium"
	"github.com/d2dlab/nearbridge/internal/bridge/provider"
)

func nextEvent(t *testing.T, pub *events.ChannelPublisher) events.Event {
	t.Helper()
	select {
	case e := <-pub.Events():
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func noEvent(t *testing.T, pub *events.ChannelPublisher) {
	t.Helper()
	select {
	case e := <-pub.Events():
		t.Fatalf("unexpected event %v", e.Type())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStopwatch(t *testing.T) {
	w := NewStopwatch()
	assert.False(t, w.Running())
	assert.Zero(t, w.Elapsed())

	w.Start()
	assert.True(t, w.Running())
	time.Sleep(10 * time.Millisecond)
	assert.Greater(t, w.Elapsed(), time.Duration(0))

	first := w.Stop()
	assert.False(t, w.Running())
	assert.GreaterOrEqual(t, first, 10*time.Millisecond)

	// A stopped stopwatch keeps its sample.
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, first, w.Elapsed())
	assert.Equal(t, first, w.Stop())
}

func TestConnectionTrackerInitiatedSamplesStopwatch(t *testing.T) {
	pub := events.NewChannelPublisher(16)
	defer pub.Close()
	builder := events.NewBuilder("test-node")

	watch := StartedStopwatch()
	time.Sleep(5 * time.Millisecond)
	ct := NewConnectionTracker("cb-1", watch, builder, pub, nil)

	ct.OnConnectionInitiated("EP01", provider.ConnectionInfo{
		EndpointName:         "peer",
		AuthenticationDigits: "1234",
		Incoming:             true,
	})

	e, ok := nextEvent(t, pub).(*events.ConnectionInitiatedEvent)
	require.True(t, ok)
	assert.Equal(t, "cb-1", e.CallbackID)
	assert.Equal(t, "EP01", e.EndpointID)
	assert.Equal(t, "peer", e.EndpointName)
	assert.Equal(t, "1234", e.AuthenticationDigits)
	assert.True(t, e.IsIncoming)
	assert.Greater(t, e.ConnectionTimeNs, int64(0))
	assert.True(t, watch.Running())

	// A second handshake on the same session reads a fresh, larger
	// elapsed time instead of the first sample.
	time.Sleep(5 * time.Millisecond)
	ct.OnConnectionInitiated("EP02", provider.ConnectionInfo{EndpointName: "peer2"})
	e2, ok := nextEvent(t, pub).(*events.ConnectionInitiatedEvent)
	require.True(t, ok)
	assert.Greater(t, e2.ConnectionTimeNs, e.ConnectionTimeNs)
}

func TestConnectionTrackerResultAndDisconnect(t *testing.T) {
	pub := events.NewChannelPublisher(16)
	defer pub.Close()
	builder := events.NewBuilder("test-node")
	ct := NewConnectionTracker("cb-1", NewStopwatch(), builder, pub, nil)

	ct.OnConnectionResult("EP01", provider.ConnectionResolution{
		StatusCode: provider.StatusConnectionRejected,
		Success:    false,
	})
	res, ok := nextEvent(t, pub).(*events.ConnectionResultEvent)
	require.True(t, ok)
	assert.Equal(t, provider.StatusConnectionRejected, res.StatusCode)
	assert.False(t, res.IsSuccess)

	ct.OnDisconnected("EP01")
	disc, ok := nextEvent(t, pub).(*events.DisconnectedEvent)
	require.True(t, ok)
	assert.Equal(t, "EP01", disc.EndpointID)
}

func TestConnectionTrackerBandwidthChanged(t *testing.T) {
	pub := events.NewChannelPublisher(16)
	defer pub.Close()
	builder := events.NewBuilder("test-node")
	ct := NewConnectionTracker("cb-1", NewStopwatch(), builder, pub, nil)

	ct.OnBandwidthChanged("EP01", provider.BandwidthInfo{
		UpgradeStatus: provider.UpgradeStatusUpgraded,
		Quality:       provider.QualityHigh,
		Medium:        medium.WifiLAN,
	})

	bw, ok := nextEvent(t, pub).(*events.BandwidthChangedEvent)
	require.True(t, ok)
	assert.Equal(t, "wifi-lan", bw.Medium)
	assert.Equal(t, int(provider.QualityHigh), bw.Quality)
	assert.True(t, bw.IsHighBwQuality)

	ct.OnBandwidthChanged("EP01", provider.BandwidthInfo{
		UpgradeStatus: provider.UpgradeStatusUpgraded,
		Quality:       provider.QualityMedium,
		Medium:        medium.Bluetooth,
	})
	bw2, ok := nextEvent(t, pub).(*events.BandwidthChangedEvent)
	require.True(t, ok)
	assert.False(t, bw2.IsHighBwQuality)
}

func TestDiscoveryTrackerFoundSamplesStopwatch(t *testing.T) {
	pub := events.NewChannelPublisher(16)
	defer pub.Close()
	builder := events.NewBuilder("test-node")

	watch := StartedStopwatch()
	time.Sleep(5 * time.Millisecond)
	dt := NewDiscoveryTracker("cb-1", watch, builder, pub, nil)

	dt.OnEndpointFound("EP01", provider.DiscoveredEndpointInfo{
		EndpointName: "peer",
		ServiceID:    "svc",
	})

	e, ok := nextEvent(t, pub).(*events.EndpointFoundEvent)
	require.True(t, ok)
	assert.Equal(t, "peer", e.EndpointName)
	assert.Equal(t, "svc", e.ServiceID)
	assert.Greater(t, e.DiscoveryTimeNs, int64(0))
	assert.True(t, watch.Running())

	// Later discoveries carry their own, larger elapsed time.
	time.Sleep(5 * time.Millisecond)
	dt.OnEndpointFound("EP02", provider.DiscoveredEndpointInfo{EndpointName: "peer2", ServiceID: "svc"})
	e2, ok := nextEvent(t, pub).(*events.EndpointFoundEvent)
	require.True(t, ok)
	assert.Greater(t, e2.DiscoveryTimeNs, e.DiscoveryTimeNs)

	dt.OnEndpointLost("EP01")
	lost, ok := nextEvent(t, pub).(*events.EndpointLostEvent)
	require.True(t, ok)
	assert.Equal(t, "EP01", lost.EndpointID)
}

func TestPayloadTrackerReceivedAndTerminal(t *testing.T) {
	pub := events.NewChannelPublisher(32)
	defer pub.Close()
	builder := events.NewBuilder("test-node")
	pt := NewPayloadTracker("cb-1", builder, pub, nil)

	p := &provider.Payload{ID: 7, Kind: provider.PayloadBytes, Size: 5, Bytes: []byte("hello")}
	pt.OnPayloadReceived("EP01", p)

	recv, ok := nextEvent(t, pub).(*events.PayloadReceivedEvent)
	require.True(t, ok)
	assert.Equal(t, int64(7), recv.PayloadID)
	assert.Equal(t, "bytes", recv.PayloadKind)
	assert.Equal(t, int64(5), recv.Size)
	assert.Equal(t, 1, pt.ActiveTransfers())

	// In-progress updates are internal bookkeeping and emit nothing.
	pt.OnPayloadTransferUpdate("EP01", provider.TransferUpdate{
		PayloadID:        7,
		Status:           provider.TransferInProgress,
		BytesTransferred: 2,
		TotalBytes:       5,
	})
	noEvent(t, pub)

	pt.OnPayloadTransferUpdate("EP01", provider.TransferUpdate{
		PayloadID:        7,
		Status:           provider.TransferSuccess,
		BytesTransferred: 5,
		TotalBytes:       5,
	})

	term, ok := nextEvent(t, pub).(*events.PayloadTransferEvent)
	require.True(t, ok)
	assert.True(t, term.IsTerminal)
	assert.True(t, term.IsSuccess)
	assert.Equal(t, int64(5), term.BytesTransferred)
	assert.Greater(t, term.TransferTimeNs, int64(0))
	assert.Equal(t, 0, pt.ActiveTransfers())
}

func TestPayloadTrackerDeletesReceivedFileOnce(t *testing.T) {
	pub := events.NewChannelPublisher(32)
	defer pub.Close()
	builder := events.NewBuilder("test-node")
	pt := NewPayloadTracker("cb-1", builder, pub, nil)

	var removals int
	pt.remove = func(path string) error {
		removals++
		return os.Remove(path)
	}

	path := filepath.Join(t.TempDir(), "nearbridge_rx_9")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o600))

	pt.OnPayloadReceived("EP01", &provider.Payload{ID: 9, Kind: provider.PayloadFile, Size: 7, FilePath: path})
	nextEvent(t, pub) // received

	done := provider.TransferUpdate{PayloadID: 9, Status: provider.TransferSuccess, BytesTransferred: 7, TotalBytes: 7}
	pt.OnPayloadTransferUpdate("EP01", done)

	term, ok := nextEvent(t, pub).(*events.PayloadTransferEvent)
	require.True(t, ok)
	assert.Equal(t, path, term.FilePath)
	assert.NoFileExists(t, path)
	assert.Equal(t, 1, removals)

	// Redelivered terminal: forwarded, but no second cleanup.
	pt.OnPayloadTransferUpdate("EP01", done)
	again, ok := nextEvent(t, pub).(*events.PayloadTransferEvent)
	require.True(t, ok)
	assert.True(t, again.IsTerminal)
	assert.Empty(t, again.FilePath)
	assert.Equal(t, 1, removals)
}

type countingReadCloser struct {
	r      io.Reader
	read   int
	closed bool
}

func (c *countingReadCloser) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += n
	return n, err
}

func (c *countingReadCloser) Close() error {
	c.closed = true
	return nil
}

func TestPayloadTrackerStreamDrainCursor(t *testing.T) {
	pub := events.NewChannelPublisher(32)
	defer pub.Close()
	builder := events.NewBuilder("test-node")
	pt := NewPayloadTracker("cb-1", builder, pub, nil)

	src := &countingReadCloser{r: bytes.NewReader(bytes.Repeat([]byte("x"), 100))}
	pt.OnPayloadReceived("EP01", &provider.Payload{ID: 11, Kind: provider.PayloadStream, Size: -1, Stream: src})
	nextEvent(t, pub) // received

	pt.OnPayloadTransferUpdate("EP01", provider.TransferUpdate{
		PayloadID: 11, Status: provider.TransferInProgress, BytesTransferred: 40, TotalBytes: -1,
	})
	assert.Equal(t, 40, src.read)

	// A redelivered update at the same offset drains nothing.
	pt.OnPayloadTransferUpdate("EP01", provider.TransferUpdate{
		PayloadID: 11, Status: provider.TransferInProgress, BytesTransferred: 40, TotalBytes: -1,
	})
	assert.Equal(t, 40, src.read)

	pt.OnPayloadTransferUpdate("EP01", provider.TransferUpdate{
		PayloadID: 11, Status: provider.TransferInProgress, BytesTransferred: 100, TotalBytes: -1,
	})
	assert.Equal(t, 100, src.read)

	// Draining stays internal: the terminal event below is the only one
	// after the received event.
	noEvent(t, pub)

	pt.OnPayloadTransferUpdate("EP01", provider.TransferUpdate{
		PayloadID: 11, Status: provider.TransferSuccess, BytesTransferred: 100, TotalBytes: 100,
	})
	term, ok := nextEvent(t, pub).(*events.PayloadTransferEvent)
	require.True(t, ok)
	assert.True(t, term.IsTerminal)
	assert.True(t, src.closed)
}

func TestPayloadTrackerShortStreamReadIsNonFatal(t *testing.T) {
	pub := events.NewChannelPublisher(32)
	defer pub.Close()
	builder := events.NewBuilder("test-node")
	pt := NewPayloadTracker("cb-1", builder, pub, nil)

	// The update claims more bytes than the stream holds.
	src := &countingReadCloser{r: bytes.NewReader([]byte("short"))}
	pt.OnPayloadReceived("EP01", &provider.Payload{ID: 12, Kind: provider.PayloadStream, Size: -1, Stream: src})
	nextEvent(t, pub)

	pt.OnPayloadTransferUpdate("EP01", provider.TransferUpdate{
		PayloadID: 12, Status: provider.TransferInProgress, BytesTransferred: 50, TotalBytes: -1,
	})
	assert.Equal(t, 5, src.read)
	noEvent(t, pub)

	// A redelivered update past end of stream yields no more bytes.
	pt.OnPayloadTransferUpdate("EP01", provider.TransferUpdate{
		PayloadID: 12, Status: provider.TransferInProgress, BytesTransferred: 50, TotalBytes: -1,
	})
	assert.Equal(t, 5, src.read)
}

func TestPayloadTrackerUnknownTerminalPassesThrough(t *testing.T) {
	pub := events.NewChannelPublisher(32)
	defer pub.Close()
	builder := events.NewBuilder("test-node")
	pt := NewPayloadTracker("cb-1", builder, pub, nil)

	pt.OnPayloadTransferUpdate("EP01", provider.TransferUpdate{
		PayloadID: 99, Status: provider.TransferCancelled, BytesTransferred: 10, TotalBytes: 20,
	})

	term, ok := nextEvent(t, pub).(*events.PayloadTransferEvent)
	require.True(t, ok)
	assert.True(t, term.IsTerminal)
	assert.False(t, term.IsSuccess)
	assert.Equal(t, int64(99), term.PayloadID)
	assert.Zero(t, term.TransferTimeNs)
}

func TestPayloadTrackerOutgoingTiming(t *testing.T) {
	pub := events.NewChannelPublisher(32)
	defer pub.Close()
	builder := events.NewBuilder("test-node")
	pt := NewPayloadTracker("cb-1", builder, pub, nil)

	// Sending arms the shared transfer stopwatch without registering the
	// outgoing payload.
	p := provider.NewBytesPayload([]byte("out"))
	pt.StartTransferWatch()
	assert.Equal(t, 0, pt.ActiveTransfers())
	noEvent(t, pub)

	// Starting again does not reset the running watch.
	time.Sleep(5 * time.Millisecond)
	pt.StartTransferWatch()
	require.GreaterOrEqual(t, pt.watch.Elapsed(), 5*time.Millisecond)

	pt.OnPayloadTransferUpdate("EP01", provider.TransferUpdate{
		PayloadID: p.ID, Status: provider.TransferSuccess, BytesTransferred: 3, TotalBytes: 3,
	})

	term, ok := nextEvent(t, pub).(*events.PayloadTransferEvent)
	require.True(t, ok)
	assert.Greater(t, term.TransferTimeNs, int64(0))
	assert.Equal(t, 0, pt.ActiveTransfers())

	// The watch keeps running, so a later terminal reads a larger time.
	time.Sleep(5 * time.Millisecond)
	pt.OnPayloadTransferUpdate("EP01", provider.TransferUpdate{
		PayloadID: p.ID + 1, Status: provider.TransferSuccess, BytesTransferred: 3, TotalBytes: 3,
	})
	term2, ok := nextEvent(t, pub).(*events.PayloadTransferEvent)
	require.True(t, ok)
	assert.Greater(t, term2.TransferTimeNs, term.TransferTimeNs)
}

// gatedReadCloser blocks every Read until released, and reports a read
// after Close as a pipe error.
type gatedReadCloser struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
	data    io.Reader

	mu     sync.Mutex
	read   int
	closed bool
}

func (g *gatedReadCloser) Read(p []byte) (int, error) {
	g.once.Do(func() { close(g.started) })
	<-g.release
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return 0, io.ErrClosedPipe
	}
	n, err := g.data.Read(p)
	g.read += n
	return n, err
}

func (g *gatedReadCloser) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func TestPayloadTrackerTerminalWaitsForStreamDrain(t *testing.T) {
	pub := events.NewChannelPublisher(32)
	defer pub.Close()
	builder := events.NewBuilder("test-node")
	pt := NewPayloadTracker("cb-1", builder, pub, nil)

	src := &gatedReadCloser{
		release: make(chan struct{}),
		started: make(chan struct{}),
		data:    bytes.NewReader(bytes.Repeat([]byte("x"), 10)),
	}
	pt.OnPayloadReceived("EP01", &provider.Payload{ID: 21, Kind: provider.PayloadStream, Size: -1, Stream: src})
	nextEvent(t, pub) // received

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		pt.OnPayloadTransferUpdate("EP01", provider.TransferUpdate{
			PayloadID: 21, Status: provider.TransferInProgress, BytesTransferred: 10, TotalBytes: -1,
		})
	}()

	select {
	case <-src.started:
	case <-time.After(2 * time.Second):
		t.Fatal("drain read never started")
	}

	// The terminal arrives while the drain read is still in flight. The
	// stream must not be closed out from under that read.
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		pt.OnPayloadTransferUpdate("EP01", provider.TransferUpdate{
			PayloadID: 21, Status: provider.TransferSuccess, BytesTransferred: 10, TotalBytes: 10,
		})
	}()

	time.Sleep(20 * time.Millisecond)
	src.mu.Lock()
	closedEarly := src.closed
	src.mu.Unlock()
	assert.False(t, closedEarly)

	close(src.release)
	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("drain stuck")
	}
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("terminal stuck")
	}

	term, ok := nextEvent(t, pub).(*events.PayloadTransferEvent)
	require.True(t, ok)
	assert.True(t, term.IsTerminal)
	assert.Equal(t, 10, src.read)
	assert.True(t, src.closed)
}

func TestPayloadTrackerFileReleaseFailureSurfaces(t *testing.T) {
	pub := events.NewChannelPublisher(32)
	defer pub.Close()
	builder := events.NewBuilder("test-node")
	pt := NewPayloadTracker("cb-1", builder, pub, nil)

	releaseErr := errors.New("device busy")
	pt.remove = func(string) error { return releaseErr }

	path := filepath.Join(t.TempDir(), "nearbridge_rx_31")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o600))
	pt.OnPayloadReceived("EP01", &provider.Payload{ID: 31, Kind: provider.PayloadFile, Size: 7, FilePath: path})
	nextEvent(t, pub) // received

	pt.OnPayloadTransferUpdate("EP01", provider.TransferUpdate{
		PayloadID: 31, Status: provider.TransferSuccess, BytesTransferred: 7, TotalBytes: 7,
	})

	term, ok := nextEvent(t, pub).(*events.PayloadTransferEvent)
	require.True(t, ok)
	assert.True(t, term.IsSuccess)
	assert.Equal(t, path, term.FilePath)
	assert.Equal(t, releaseErr.Error(), term.Error)
	// The record is released even when the file stays behind.
	assert.Equal(t, 0, pt.ActiveTransfers())
}

func TestPayloadTrackerConcurrentPayloads(t *testing.T) {
	pub := events.NewChannelPublisher(256)
	defer pub.Close()
	builder := events.NewBuilder("test-node")
	pt := NewPayloadTracker("cb-1", builder, pub, nil)

	done := make(chan struct{}, 2)
	for i := int64(1); i <= 2; i++ {
		id := i
		go func() {
			defer func() { done <- struct{}{} }()
			pt.OnPayloadReceived("EP01", &provider.Payload{ID: id, Kind: provider.PayloadBytes, Size: 1, Bytes: []byte("x")})
			pt.OnPayloadTransferUpdate("EP01", provider.TransferUpdate{
				PayloadID: id, Status: provider.TransferSuccess, BytesTransferred: 1, TotalBytes: 1,
			})
		}()
	}
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("concurrent lifecycle stuck")
		}
	}

	assert.Equal(t, 0, pt.ActiveTransfers())

	terminals := 0
	for i := 0; i < 4; i++ {
		if e, ok := nextEvent(t, pub).(*events.PayloadTransferEvent); ok && e.IsTerminal {
			terminals++
		}
	}
	assert.Equal(t, 2, terminals)
}
