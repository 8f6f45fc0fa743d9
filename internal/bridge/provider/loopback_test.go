package provider

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d2dlab/nearbridge/internal/bridge/medium"
)

const testServiceID = "com.example.loopback.test"

type connEvent struct {
	kind       string // initiated, result, disconnected, bandwidth
	endpointID string
	info       ConnectionInfo
	resolution ConnectionResolution
	bandwidth  BandwidthInfo
}

type connRecorder struct {
	events chan connEvent
}

func newConnRecorder() *connRecorder {
	return &connRecorder{events: make(chan connEvent, 32)}
}

func (r *connRecorder) OnConnectionInitiated(endpointID string, info ConnectionInfo) {
	r.events <- connEvent{kind: "initiated", endpointID: endpointID, info: info}
}

func (r *connRecorder) OnConnectionResult(endpointID string, res ConnectionResolution) {
	r.events <- connEvent{kind: "result", endpointID: endpointID, resolution: res}
}

func (r *connRecorder) OnDisconnected(endpointID string) {
	r.events <- connEvent{kind: "disconnected", endpointID: endpointID}
}

func (r *connRecorder) OnBandwidthChanged(endpointID string, info BandwidthInfo) {
	r.events <- connEvent{kind: "bandwidth", endpointID: endpointID, bandwidth: info}
}

func (r *connRecorder) next(t *testing.T) connEvent {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection event")
		return connEvent{}
	}
}

type discEvent struct {
	kind       string // found, lost
	endpointID string
	info       DiscoveredEndpointInfo
}

type discRecorder struct {
	events chan discEvent
}

func newDiscRecorder() *discRecorder {
	return &discRecorder{events: make(chan discEvent, 32)}
}

func (r *discRecorder) OnEndpointFound(endpointID string, info DiscoveredEndpointInfo) {
	r.events <- discEvent{kind: "found", endpointID: endpointID, info: info}
}

func (r *discRecorder) OnEndpointLost(endpointID string) {
	r.events <- discEvent{kind: "lost", endpointID: endpointID}
}

func (r *discRecorder) next(t *testing.T) discEvent {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for discovery event")
		return discEvent{}
	}
}

type payloadEvent struct {
	endpointID string
	payload    *Payload
	update     TransferUpdate
	isUpdate   bool
}

type payloadRecorder struct {
	events chan payloadEvent
}

func newPayloadRecorder() *payloadRecorder {
	return &payloadRecorder{events: make(chan payloadEvent, 256)}
}

func (r *payloadRecorder) OnPayloadReceived(endpointID string, p *Payload) {
	r.events <- payloadEvent{endpointID: endpointID, payload: p}
}

func (r *payloadRecorder) OnPayloadTransferUpdate(endpointID string, u TransferUpdate) {
	r.events <- payloadEvent{endpointID: endpointID, update: u, isUpdate: true}
}

func (r *payloadRecorder) next(t *testing.T) payloadEvent {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for payload event")
		return payloadEvent{}
	}
}

// nextTerminal drains updates until a terminal status arrives.
func (r *payloadRecorder) nextTerminal(t *testing.T) TransferUpdate {
	t.Helper()
	for {
		ev := r.next(t)
		if ev.isUpdate && ev.update.Status.Terminal() {
			return ev.update
		}
	}
}

// connect establishes an accepted connection between two fresh nodes and
// returns their payload recorders.
func connect(t *testing.T, nw *Network) (a, b *Node, aPayloads, bPayloads *payloadRecorder) {
	t.Helper()
	ctx := context.Background()

	a = nw.Node("alpha")
	b = nw.Node("beta")

	bConns := newConnRecorder()
	require.NoError(t, b.StartAdvertising(ctx, "beta", testServiceID, medium.AdvertisingOptions{}, bConns))

	aConns := newConnRecorder()
	bID, err := b.LocalEndpointID(ctx)
	require.NoError(t, err)
	require.NoError(t, a.RequestConnection(ctx, "alpha", bID, medium.ConnectionOptions{}, aConns))

	require.Equal(t, "initiated", aConns.next(t).kind)
	require.Equal(t, "initiated", bConns.next(t).kind)

	aPayloads = newPayloadRecorder()
	bPayloads = newPayloadRecorder()
	require.NoError(t, a.AcceptConnection(ctx, bID, aPayloads))
	aID, err := a.LocalEndpointID(ctx)
	require.NoError(t, err)
	require.NoError(t, b.AcceptConnection(ctx, aID, bPayloads))

	for _, rec := range []*connRecorder{aConns, bConns} {
		ev := rec.next(t)
		require.Equal(t, "result", ev.kind)
		require.True(t, ev.resolution.Success)
	}
	return a, b, aPayloads, bPayloads
}

func TestLoopbackDiscovery(t *testing.T) {
	nw := NewNetwork(t.TempDir())
	defer nw.Close()
	ctx := context.Background()

	adv := nw.Node("advertiser")
	disc := nw.Node("discoverer")

	require.NoError(t, adv.StartAdvertising(ctx, "advertiser", testServiceID, medium.AdvertisingOptions{}, newConnRecorder()))

	rec := newDiscRecorder()
	require.NoError(t, disc.StartDiscovery(ctx, testServiceID, medium.DiscoveryOptions{}, rec))

	advID, err := adv.LocalEndpointID(ctx)
	require.NoError(t, err)

	ev := rec.next(t)
	assert.Equal(t, "found", ev.kind)
	assert.Equal(t, advID, ev.endpointID)
	assert.Equal(t, "advertiser", ev.info.EndpointName)
	assert.Equal(t, testServiceID, ev.info.ServiceID)

	require.NoError(t, adv.StopAdvertising(ctx))
	ev = rec.next(t)
	assert.Equal(t, "lost", ev.kind)
	assert.Equal(t, advID, ev.endpointID)
}

func TestLoopbackDiscoveryLateAdvertiser(t *testing.T) {
	nw := NewNetwork(t.TempDir())
	defer nw.Close()
	ctx := context.Background()

	disc := nw.Node("discoverer")
	rec := newDiscRecorder()
	require.NoError(t, disc.StartDiscovery(ctx, testServiceID, medium.DiscoveryOptions{}, rec))

	adv := nw.Node("advertiser")
	require.NoError(t, adv.StartAdvertising(ctx, "advertiser", testServiceID, medium.AdvertisingOptions{}, newConnRecorder()))

	ev := rec.next(t)
	assert.Equal(t, "found", ev.kind)
	assert.Equal(t, "advertiser", ev.info.EndpointName)
}

func TestLoopbackDiscoveryIgnoresOtherServices(t *testing.T) {
	nw := NewNetwork(t.TempDir())
	defer nw.Close()
	ctx := context.Background()

	adv := nw.Node("advertiser")
	require.NoError(t, adv.StartAdvertising(ctx, "advertiser", "com.example.other", medium.AdvertisingOptions{}, newConnRecorder()))

	rec := newDiscRecorder()
	disc := nw.Node("discoverer")
	require.NoError(t, disc.StartDiscovery(ctx, testServiceID, medium.DiscoveryOptions{}, rec))

	select {
	case ev := <-rec.events:
		t.Fatalf("unexpected discovery event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLoopbackDoubleStart(t *testing.T) {
	nw := NewNetwork(t.TempDir())
	defer nw.Close()
	ctx := context.Background()

	n := nw.Node("node")
	require.NoError(t, n.StartAdvertising(ctx, "node", testServiceID, medium.AdvertisingOptions{}, newConnRecorder()))
	assert.ErrorIs(t, n.StartAdvertising(ctx, "node", testServiceID, medium.AdvertisingOptions{}, newConnRecorder()), ErrAlreadyAdvertising)

	require.NoError(t, n.StartDiscovery(ctx, testServiceID, medium.DiscoveryOptions{}, newDiscRecorder()))
	assert.ErrorIs(t, n.StartDiscovery(ctx, testServiceID, medium.DiscoveryOptions{}, newDiscRecorder()), ErrAlreadyDiscovering)
}

func TestLoopbackConnectionHandshake(t *testing.T) {
	nw := NewNetwork(t.TempDir())
	defer nw.Close()
	ctx := context.Background()

	adv := nw.Node("advertiser")
	req := nw.Node("requester")

	advConns := newConnRecorder()
	require.NoError(t, adv.StartAdvertising(ctx, "advertiser", testServiceID, medium.AdvertisingOptions{}, advConns))

	reqConns := newConnRecorder()
	advID, err := adv.LocalEndpointID(ctx)
	require.NoError(t, err)
	require.NoError(t, req.RequestConnection(ctx, "requester", advID, medium.ConnectionOptions{}, reqConns))

	outEv := reqConns.next(t)
	require.Equal(t, "initiated", outEv.kind)
	assert.False(t, outEv.info.Incoming)
	assert.Equal(t, "advertiser", outEv.info.EndpointName)
	assert.Len(t, outEv.info.AuthenticationDigits, 4)

	inEv := advConns.next(t)
	require.Equal(t, "initiated", inEv.kind)
	assert.True(t, inEv.info.Incoming)
	assert.Equal(t, "requester", inEv.info.EndpointName)
	assert.Equal(t, outEv.info.AuthenticationDigits, inEv.info.AuthenticationDigits)

	// No result until both sides accept.
	require.NoError(t, req.AcceptConnection(ctx, advID, newPayloadRecorder()))
	select {
	case ev := <-reqConns.events:
		t.Fatalf("result before mutual accept: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	reqID, err := req.LocalEndpointID(ctx)
	require.NoError(t, err)
	require.NoError(t, adv.AcceptConnection(ctx, reqID, newPayloadRecorder()))

	for _, rec := range []*connRecorder{reqConns, advConns} {
		ev := rec.next(t)
		require.Equal(t, "result", ev.kind)
		assert.True(t, ev.resolution.Success)
		assert.Equal(t, StatusOK, ev.resolution.StatusCode)

		bw := rec.next(t)
		require.Equal(t, "bandwidth", bw.kind)
		assert.Equal(t, UpgradeStatusUpgraded, bw.bandwidth.UpgradeStatus)
	}
}

func TestLoopbackConnectionToUnknownEndpoint(t *testing.T) {
	nw := NewNetwork(t.TempDir())
	defer nw.Close()
	ctx := context.Background()

	n := nw.Node("node")
	err := n.RequestConnection(ctx, "node", "EPFF", medium.ConnectionOptions{}, newConnRecorder())
	assert.ErrorIs(t, err, ErrUnknownEndpoint)
}

func TestLoopbackDisconnect(t *testing.T) {
	nw := NewNetwork(t.TempDir())
	defer nw.Close()
	ctx := context.Background()

	adv := nw.Node("advertiser")
	req := nw.Node("requester")

	advConns := newConnRecorder()
	require.NoError(t, adv.StartAdvertising(ctx, "advertiser", testServiceID, medium.AdvertisingOptions{}, advConns))

	reqConns := newConnRecorder()
	advID, _ := adv.LocalEndpointID(ctx)
	require.NoError(t, req.RequestConnection(ctx, "requester", advID, medium.ConnectionOptions{}, reqConns))
	reqConns.next(t)
	advConns.next(t)

	require.NoError(t, req.DisconnectFromEndpoint(ctx, advID))
	assert.Equal(t, "disconnected", reqConns.next(t).kind)
	assert.Equal(t, "disconnected", advConns.next(t).kind)

	// Second disconnect has nothing to tear down.
	assert.ErrorIs(t, req.DisconnectFromEndpoint(ctx, advID), ErrUnknownEndpoint)
}

func TestLoopbackSendPayloadRequiresAcceptedConnection(t *testing.T) {
	nw := NewNetwork(t.TempDir())
	defer nw.Close()
	ctx := context.Background()

	adv := nw.Node("advertiser")
	req := nw.Node("requester")
	require.NoError(t, adv.StartAdvertising(ctx, "advertiser", testServiceID, medium.AdvertisingOptions{}, newConnRecorder()))

	advID, _ := adv.LocalEndpointID(ctx)
	err := req.SendPayload(ctx, advID, NewBytesPayload([]byte("hi")))
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, req.RequestConnection(ctx, "requester", advID, medium.ConnectionOptions{}, newConnRecorder()))
	require.NoError(t, req.AcceptConnection(ctx, advID, newPayloadRecorder()))

	// Still pending on the remote accept.
	err = req.SendPayload(ctx, advID, NewBytesPayload([]byte("hi")))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestLoopbackBytesPayload(t *testing.T) {
	nw := NewNetwork(t.TempDir())
	defer nw.Close()
	ctx := context.Background()

	a, b, aPayloads, bPayloads := connect(t, nw)
	aID, _ := a.LocalEndpointID(ctx)
	bID, _ := b.LocalEndpointID(ctx)

	content := []byte("the quick brown fox")
	p := NewBytesPayload(content)
	require.NoError(t, a.SendPayload(ctx, bID, p))

	ev := bPayloads.next(t)
	require.False(t, ev.isUpdate)
	assert.Equal(t, aID, ev.endpointID)
	assert.Equal(t, PayloadBytes, ev.payload.Kind)
	assert.Equal(t, content, ev.payload.Bytes)

	term := bPayloads.nextTerminal(t)
	assert.Equal(t, TransferSuccess, term.Status)
	assert.Equal(t, p.ID, term.PayloadID)
	assert.Equal(t, int64(len(content)), term.BytesTransferred)

	// Sender sees the terminal update as well.
	term = aPayloads.nextTerminal(t)
	assert.Equal(t, TransferSuccess, term.Status)
	assert.Equal(t, p.ID, term.PayloadID)
}

func TestLoopbackFilePayload(t *testing.T) {
	rxDir := t.TempDir()
	nw := NewNetwork(rxDir)
	defer nw.Close()
	ctx := context.Background()

	a, b, _, bPayloads := connect(t, nw)
	bID, _ := b.LocalEndpointID(ctx)

	content := bytes.Repeat([]byte("payload"), 40000) // spans multiple chunks
	src := filepath.Join(t.TempDir(), "src.bin")
	require.NoError(t, os.WriteFile(src, content, 0o600))

	p := NewFilePayload(src, int64(len(content)))
	require.NoError(t, a.SendPayload(ctx, bID, p))

	ev := bPayloads.next(t)
	require.False(t, ev.isUpdate)
	require.Equal(t, PayloadFile, ev.payload.Kind)
	assert.NotEqual(t, src, ev.payload.FilePath)
	rxPath := ev.payload.FilePath

	var sawProgress bool
	for {
		ev = bPayloads.next(t)
		require.True(t, ev.isUpdate)
		if ev.update.Status == TransferInProgress {
			sawProgress = true
			assert.Equal(t, int64(len(content)), ev.update.TotalBytes)
			continue
		}
		break
	}
	assert.True(t, sawProgress)
	assert.Equal(t, TransferSuccess, ev.update.Status)
	assert.Equal(t, int64(len(content)), ev.update.BytesTransferred)

	got, err := os.ReadFile(rxPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Received copies land in the network's rx directory, never on the
	// sender's staging path.
	assert.Equal(t, rxDir, filepath.Dir(rxPath))
}

func TestLoopbackStreamPayload(t *testing.T) {
	nw := NewNetwork(t.TempDir())
	defer nw.Close()
	ctx := context.Background()

	a, b, _, bPayloads := connect(t, nw)
	bID, _ := b.LocalEndpointID(ctx)

	content := bytes.Repeat([]byte("stream-data-"), 20000)
	p := NewStreamPayload(io.NopCloser(bytes.NewReader(content)), int64(len(content)))
	require.NoError(t, a.SendPayload(ctx, bID, p))

	ev := bPayloads.next(t)
	require.False(t, ev.isUpdate)
	require.Equal(t, PayloadStream, ev.payload.Kind)
	require.NotNil(t, ev.payload.Stream)

	got, err := io.ReadAll(ev.payload.Stream)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	term := bPayloads.nextTerminal(t)
	assert.Equal(t, TransferSuccess, term.Status)
	assert.Equal(t, int64(len(content)), term.BytesTransferred)
}

func TestLoopbackFilePayloadMissingSource(t *testing.T) {
	nw := NewNetwork(t.TempDir())
	defer nw.Close()
	ctx := context.Background()

	a, b, aPayloads, _ := connect(t, nw)
	bID, _ := b.LocalEndpointID(ctx)

	p := NewFilePayload(filepath.Join(t.TempDir(), "missing.bin"), 10)
	require.NoError(t, a.SendPayload(ctx, bID, p))

	term := aPayloads.nextTerminal(t)
	assert.Equal(t, TransferFailure, term.Status)
	assert.Equal(t, p.ID, term.PayloadID)
}

func TestLoopbackStopAllEndpoints(t *testing.T) {
	nw := NewNetwork(t.TempDir())
	defer nw.Close()
	ctx := context.Background()

	adv := nw.Node("advertiser")
	req := nw.Node("requester")

	advConns := newConnRecorder()
	require.NoError(t, adv.StartAdvertising(ctx, "advertiser", testServiceID, medium.AdvertisingOptions{}, advConns))

	reqConns := newConnRecorder()
	advID, _ := adv.LocalEndpointID(ctx)
	require.NoError(t, req.RequestConnection(ctx, "requester", advID, medium.ConnectionOptions{}, reqConns))
	reqConns.next(t)
	advConns.next(t)

	require.NoError(t, req.StopAllEndpoints(ctx))
	assert.Equal(t, "disconnected", reqConns.next(t).kind)
	assert.Equal(t, "disconnected", advConns.next(t).kind)

	// Advertising is cleared too so the node can start fresh.
	require.NoError(t, req.StartDiscovery(ctx, testServiceID, medium.DiscoveryOptions{}, newDiscRecorder()))
}

func TestStreamBuffer(t *testing.T) {
	s := newStreamBuffer()

	n, err := s.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 3)
	n, err = s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hel", string(buf[:n]))

	s.CloseWrite()

	rest, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "lo", string(rest))

	_, err = s.Write([]byte("x"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}
