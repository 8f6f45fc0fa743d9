package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	"github.com/d2dlab/nearbridge/internal/bridge/medium"
)

// Loopback is an in-memory provider implementation. A Network pairs
// in-process nodes and delivers every callback from goroutines it owns,
// honoring the contract of the real service: per-endpoint and per-payload
// notifications are ordered, exactly one terminal status per payload,
// bandwidth changes only after a successful connection result.
//
// It is a transfer substrate, not a radio simulation: medium constraints
// are carried through but never enforced.

const loopbackChunkSize = 64 * 1024

// Network is a set of loopback nodes that can see each other.
type Network struct {
	mu          sync.Mutex
	nodes       map[string]*Node // by endpoint id
	endpointSeq int
	rxDir       string
}

// NewNetwork creates an empty loopback network. Received file payloads are
// materialized under rxDir (the OS temp dir when empty).
func NewNetwork(rxDir string) *Network {
	if rxDir == "" {
		rxDir = os.TempDir()
	}
	return &Network{
		nodes: make(map[string]*Node),
		rxDir: rxDir,
	}
}

// Node registers a new node on the network and returns its provider handle.
func (nw *Network) Node(name string) *Node {
	nw.mu.Lock()
	defer nw.mu.Unlock()

	nw.endpointSeq++
	n := &Node{
		nw:         nw,
		name:       name,
		endpointID: fmt.Sprintf("EP%02X", nw.endpointSeq),
		dispatch:   make(chan func(), 256),
		conns:      make(map[string]*loopConn),
	}
	nw.nodes[n.endpointID] = n

	go func() {
		for f := range n.dispatch {
			f()
		}
	}()

	return n
}

// Close stops callback dispatch for all nodes. Pending callbacks drain
// first.
func (nw *Network) Close() {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	for _, n := range nw.nodes {
		if !n.closed {
			n.closed = true
			close(n.dispatch)
		}
	}
}

type advertisement struct {
	name      string
	serviceID string
	opts      medium.AdvertisingOptions
	cb        ConnectionCallback
}

type discovery struct {
	serviceID string
	cb        DiscoveryCallback
}

type connSide struct {
	node      *Node
	cb        ConnectionCallback
	payloadCB PayloadCallback
	accepted  bool
	upgrade   medium.Set
	auto      bool
}

type loopConn struct {
	requester *connSide
	responder *connSide
}

func (c *loopConn) side(n *Node) *connSide {
	if c.requester.node == n {
		return c.requester
	}
	return c.responder
}

func (c *loopConn) peer(n *Node) *connSide {
	if c.requester.node == n {
		return c.responder
	}
	return c.requester
}

// Node is one endpoint on a loopback network. It implements Provider.
type Node struct {
	nw         *Network
	name       string
	endpointID string
	dispatch   chan func()
	closed     bool

	// Guarded by nw.mu: one coarse lock keeps the cross-node state
	// transitions (connect handshakes, disconnects) deadlock-free.
	adv   *advertisement
	disc  *discovery
	conns map[string]*loopConn // by remote endpoint id
}

var _ Provider = (*Node)(nil)

// post queues a callback on the node's dispatch goroutine, preserving
// per-node delivery order.
func (n *Node) post(f func()) {
	n.nw.mu.Lock()
	closed := n.closed
	n.nw.mu.Unlock()
	if !closed {
		n.dispatch <- f
	}
}

func (n *Node) StartAdvertising(ctx context.Context, name, serviceID string, opts medium.AdvertisingOptions, cb ConnectionCallback) error {
	nw := n.nw
	nw.mu.Lock()
	if n.adv != nil {
		nw.mu.Unlock()
		return ErrAlreadyAdvertising
	}
	n.adv = &advertisement{name: name, serviceID: serviceID, opts: opts, cb: cb}

	var watchers []*Node
	for _, other := range nw.nodes {
		if other != n && other.disc != nil && other.disc.serviceID == serviceID {
			watchers = append(watchers, other)
		}
	}
	nw.mu.Unlock()

	for _, w := range watchers {
		w := w
		w.post(func() {
			w.nw.mu.Lock()
			disc := w.disc
			w.nw.mu.Unlock()
			if disc != nil {
				disc.cb.OnEndpointFound(n.endpointID, DiscoveredEndpointInfo{EndpointName: name, ServiceID: serviceID})
			}
		})
	}
	return nil
}

func (n *Node) StopAdvertising(ctx context.Context) error {
	nw := n.nw
	nw.mu.Lock()
	adv := n.adv
	n.adv = nil
	var watchers []*Node
	if adv != nil {
		for _, other := range nw.nodes {
			if other != n && other.disc != nil && other.disc.serviceID == adv.serviceID {
				watchers = append(watchers, other)
			}
		}
	}
	nw.mu.Unlock()

	for _, w := range watchers {
		w := w
		w.post(func() {
			w.nw.mu.Lock()
			disc := w.disc
			w.nw.mu.Unlock()
			if disc != nil {
				disc.cb.OnEndpointLost(n.endpointID)
			}
		})
	}
	return nil
}

func (n *Node) StartDiscovery(ctx context.Context, serviceID string, opts medium.DiscoveryOptions, cb DiscoveryCallback) error {
	nw := n.nw
	nw.mu.Lock()
	if n.disc != nil {
		nw.mu.Unlock()
		return ErrAlreadyDiscovering
	}
	n.disc = &discovery{serviceID: serviceID, cb: cb}

	type found struct {
		endpointID string
		info       DiscoveredEndpointInfo
	}
	var visible []found
	for _, other := range nw.nodes {
		if other != n && other.adv != nil && other.adv.serviceID == serviceID {
			visible = append(visible, found{other.endpointID, DiscoveredEndpointInfo{
				EndpointName: other.adv.name,
				ServiceID:    serviceID,
			}})
		}
	}
	nw.mu.Unlock()

	for _, f := range visible {
		f := f
		n.post(func() { cb.OnEndpointFound(f.endpointID, f.info) })
	}
	return nil
}

func (n *Node) StopDiscovery(ctx context.Context) error {
	n.nw.mu.Lock()
	n.disc = nil
	n.nw.mu.Unlock()
	return nil
}

func (n *Node) RequestConnection(ctx context.Context, name, endpointID string, opts medium.ConnectionOptions, cb ConnectionCallback) error {
	nw := n.nw
	nw.mu.Lock()
	target, ok := nw.nodes[endpointID]
	if !ok || target.adv == nil {
		nw.mu.Unlock()
		return fmt.Errorf("request connection to %s: %w", endpointID, ErrUnknownEndpoint)
	}

	adv := target.adv
	conn := &loopConn{
		requester: &connSide{
			node:    n,
			cb:      cb,
			upgrade: opts.UpgradeMediums,
			auto:    opts.UpgradeMediums == nil,
		},
		responder: &connSide{
			node:    target,
			cb:      adv.cb,
			upgrade: adv.opts.UpgradeMediums,
			auto:    adv.opts.AutoUpgradeBandwidth,
		},
	}
	n.conns[target.endpointID] = conn
	target.conns[n.endpointID] = conn
	nw.mu.Unlock()

	digits := fmt.Sprintf("%04d", rand.Intn(10000))
	remoteName := adv.name
	n.post(func() {
		cb.OnConnectionInitiated(target.endpointID, ConnectionInfo{
			EndpointName:         remoteName,
			AuthenticationDigits: digits,
			Incoming:             false,
		})
	})
	target.post(func() {
		conn.responder.cb.OnConnectionInitiated(n.endpointID, ConnectionInfo{
			EndpointName:         name,
			AuthenticationDigits: digits,
			Incoming:             true,
		})
	})
	return nil
}

func (n *Node) AcceptConnection(ctx context.Context, endpointID string, cb PayloadCallback) error {
	nw := n.nw
	nw.mu.Lock()
	conn, ok := n.conns[endpointID]
	if !ok {
		nw.mu.Unlock()
		return fmt.Errorf("accept connection from %s: %w", endpointID, ErrUnknownEndpoint)
	}
	side := conn.side(n)
	side.accepted = true
	side.payloadCB = cb
	established := conn.requester.accepted && conn.responder.accepted
	nw.mu.Unlock()

	if !established {
		return nil
	}

	res := ConnectionResolution{StatusCode: StatusOK, Success: true}
	for _, s := range []*connSide{conn.requester, conn.responder} {
		s := s
		remote := conn.peer(s.node).node.endpointID
		s.node.post(func() { s.cb.OnConnectionResult(remote, res) })
	}

	// Bandwidth change follows the successful result. The medium is the
	// requester's first upgrade candidate, the LAN medium for opportunistic
	// upgrades, otherwise the bluetooth base channel.
	m := medium.Bluetooth
	switch {
	case len(conn.requester.upgrade) > 0:
		m = conn.requester.upgrade[0]
	case conn.requester.auto || conn.responder.auto:
		m = medium.WifiLAN
	}
	info := BandwidthInfo{UpgradeStatus: UpgradeStatusUpgraded, Quality: qualityOf(m), Medium: m}
	for _, s := range []*connSide{conn.requester, conn.responder} {
		s := s
		remote := conn.peer(s.node).node.endpointID
		s.node.post(func() { s.cb.OnBandwidthChanged(remote, info) })
	}
	return nil
}

func qualityOf(m medium.Medium) BandwidthQuality {
	switch m {
	case medium.WifiLAN, medium.WifiDirect, medium.WifiHotspot, medium.WifiAware, medium.WebRTC:
		return QualityHigh
	case medium.BLEL2CAP:
		return QualityMedium
	default:
		return QualityLow
	}
}

func (n *Node) DisconnectFromEndpoint(ctx context.Context, endpointID string) error {
	nw := n.nw
	nw.mu.Lock()
	conn, ok := n.conns[endpointID]
	if ok {
		delete(n.conns, endpointID)
		delete(conn.peer(n).node.conns, n.endpointID)
	}
	nw.mu.Unlock()

	if !ok {
		return fmt.Errorf("disconnect from %s: %w", endpointID, ErrUnknownEndpoint)
	}
	for _, s := range []*connSide{conn.requester, conn.responder} {
		s := s
		remote := conn.peer(s.node).node.endpointID
		s.node.post(func() { s.cb.OnDisconnected(remote) })
	}
	return nil
}

func (n *Node) StopAllEndpoints(ctx context.Context) error {
	n.nw.mu.Lock()
	remotes := make([]string, 0, len(n.conns))
	for id := range n.conns {
		remotes = append(remotes, id)
	}
	n.nw.mu.Unlock()

	for _, id := range remotes {
		_ = n.DisconnectFromEndpoint(context.Background(), id)
	}

	n.nw.mu.Lock()
	n.adv = nil
	n.disc = nil
	n.nw.mu.Unlock()
	return nil
}

func (n *Node) SendPayload(ctx context.Context, endpointID string, p *Payload) error {
	nw := n.nw
	nw.mu.Lock()
	conn, ok := n.conns[endpointID]
	if !ok || !conn.requester.accepted || !conn.responder.accepted {
		nw.mu.Unlock()
		return fmt.Errorf("send payload to %s: %w", endpointID, ErrNotConnected)
	}
	sender := conn.side(n)
	receiver := conn.peer(n)
	nw.mu.Unlock()

	// One goroutine per payload: notifications for a single payload stay
	// ordered while distinct payloads interleave freely.
	go n.deliverPayload(p, sender, receiver)
	return nil
}

func (n *Node) deliverPayload(p *Payload, sender, receiver *connSide) {
	senderID := sender.node.endpointID
	receiverID := receiver.node.endpointID

	terminal := func(status TransferStatus, transferred, total int64) {
		update := TransferUpdate{PayloadID: p.ID, Status: status, BytesTransferred: transferred, TotalBytes: total}
		if receiver.payloadCB != nil {
			receiver.payloadCB.OnPayloadTransferUpdate(senderID, update)
		}
		if sender.payloadCB != nil {
			sender.payloadCB.OnPayloadTransferUpdate(receiverID, update)
		}
	}
	progress := func(transferred, total int64) {
		update := TransferUpdate{PayloadID: p.ID, Status: TransferInProgress, BytesTransferred: transferred, TotalBytes: total}
		if receiver.payloadCB != nil {
			receiver.payloadCB.OnPayloadTransferUpdate(senderID, update)
		}
		if sender.payloadCB != nil {
			sender.payloadCB.OnPayloadTransferUpdate(receiverID, update)
		}
	}

	switch p.Kind {
	case PayloadBytes:
		rx := &Payload{ID: p.ID, Kind: PayloadBytes, Size: p.Size, Bytes: bytes.Clone(p.Bytes)}
		if receiver.payloadCB != nil {
			receiver.payloadCB.OnPayloadReceived(senderID, rx)
		}
		terminal(TransferSuccess, p.Size, p.Size)

	case PayloadFile:
		data, err := os.ReadFile(p.FilePath)
		if err != nil {
			terminal(TransferFailure, 0, p.Size)
			return
		}
		rxPath := filepath.Join(n.nw.rxDir, fmt.Sprintf("nearbridge_rx_%d", p.ID))
		if err := os.WriteFile(rxPath, data, 0o600); err != nil {
			terminal(TransferFailure, 0, p.Size)
			return
		}
		total := int64(len(data))
		rx := &Payload{ID: p.ID, Kind: PayloadFile, Size: total, FilePath: rxPath}
		if receiver.payloadCB != nil {
			receiver.payloadCB.OnPayloadReceived(senderID, rx)
		}
		for sent := int64(0); sent < total; {
			sent += min(int64(loopbackChunkSize), total-sent)
			progress(sent, total)
		}
		terminal(TransferSuccess, total, total)

	case PayloadStream:
		rxBuf := newStreamBuffer()
		rx := &Payload{ID: p.ID, Kind: PayloadStream, Size: p.Size, Stream: rxBuf}
		if receiver.payloadCB != nil {
			receiver.payloadCB.OnPayloadReceived(senderID, rx)
		}
		var sent int64
		chunk := make([]byte, loopbackChunkSize)
		for {
			nr, err := p.Stream.Read(chunk)
			if nr > 0 {
				_, _ = rxBuf.Write(chunk[:nr])
				sent += int64(nr)
				progress(sent, -1)
			}
			if err != nil {
				break
			}
		}
		_ = p.Stream.Close()
		rxBuf.CloseWrite()
		terminal(TransferSuccess, sent, sent)
	}
}

func (n *Node) LocalEndpointID(ctx context.Context) (string, error) {
	return n.endpointID, nil
}

// streamBuffer is an unbounded in-memory pipe. Writes never block, so the
// payload pump can stay ahead of the receiver draining the stream.
type streamBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	closed bool
}

func newStreamBuffer() *streamBuffer {
	s := &streamBuffer{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *streamBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	n, err := s.buf.Write(p)
	s.cond.Broadcast()
	return n, err
}

func (s *streamBuffer) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.buf.Len() == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.buf.Len() == 0 {
		return 0, io.EOF
	}
	return s.buf.Read(p)
}

// CloseWrite marks the producer side done; readers drain the remainder and
// then see EOF.
func (s *streamBuffer) CloseWrite() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}

func (s *streamBuffer) Close() error {
	s.CloseWrite()
	return nil
}
