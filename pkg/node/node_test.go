package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"avaneesh/trel-go/pkg/channel"
	"avaneesh/trel-go/pkg/internal/logger"
	"avaneesh/trel-go/pkg/link"
	"avaneesh/trel-go/pkg/mac"
	"avaneesh/trel-go/pkg/peer"
)

var (
	extA = mac.ExtAddress{0x0a, 0, 0, 0, 0, 0, 0, 0x01}
	extB = mac.ExtAddress{0x0b, 0, 0, 0, 0, 0, 0, 0x02}
	extC = mac.ExtAddress{0x0c, 0, 0, 0, 0, 0, 0, 0x03}
)

// boundUDP binds a loopback socket up front so its port can go into the
// peer configuration of the other node
func boundUDP(t *testing.T) (*channel.UDPChannel, channel.Opener) {
	t.Helper()
	conn, err := channel.NewUDPChannel(channel.UDPChannelConfig{
		Address:     "127.0.0.1:0",
		ReadTimeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewUDPChannel: %v", err)
	}
	return conn, func() (channel.PacketConn, error) { return conn, nil }
}

func testConfig(ext mac.ExtAddress) Config {
	cfg := DefaultConfig()
	cfg.ExtAddress = ext
	cfg.PanID = 0xface
	cfg.AckWaitWindow = Duration(100 * time.Millisecond)
	cfg.MaxRetries = 1
	return cfg
}

type pair struct {
	a, b      *Node
	receivedA chan Message
	receivedB chan Message
	cancel    context.CancelFunc
	stoppedA  chan error
	stoppedB  chan error
}

func startPair(t *testing.T, tweak func(a, b *Config)) *pair {
	t.Helper()

	connA, openA := boundUDP(t)
	connB, openB := boundUDP(t)

	cfgA := testConfig(extA)
	cfgA.Peers = []peer.Static{{ExtAddress: extB, Address: connB.LocalAddr().String()}}
	cfgB := testConfig(extB)
	cfgB.Peers = []peer.Static{{ExtAddress: extA, Address: connA.LocalAddr().String()}}
	if tweak != nil {
		tweak(&cfgA, &cfgB)
	}

	log := logger.NewNoOpLogger()
	a, err := New(cfgA, openA, log)
	if err != nil {
		t.Fatalf("New(A): %v", err)
	}
	b, err := New(cfgB, openB, log)
	if err != nil {
		t.Fatalf("New(B): %v", err)
	}

	p := &pair{
		a:         a,
		b:         b,
		receivedA: make(chan Message, 8),
		receivedB: make(chan Message, 8),
		stoppedA:  make(chan error, 1),
		stoppedB:  make(chan error, 1),
	}
	a.SetMessageHandler(func(m Message) { p.receivedA <- m })
	b.SetMessageHandler(func(m Message) { p.receivedB <- m })

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go func() { p.stoppedA <- a.Run(ctx) }()
	go func() { p.stoppedB <- b.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		for _, ch := range []chan error{p.stoppedA, p.stoppedB} {
			select {
			case err := <-ch:
				if err != nil {
					t.Errorf("Run: %v", err)
				}
			case <-time.After(2 * time.Second):
				t.Errorf("node did not stop")
			}
		}
	})

	return p
}

func receive(t *testing.T, ch chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("no message received")
		return Message{}
	}
}

func TestNode_UnicastAcked(t *testing.T) {
	p := startPair(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := p.a.Send(ctx, extB, []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	m := receive(t, p.receivedB)
	if string(m.Payload) != "hello" {
		t.Errorf("payload = %q, want hello", m.Payload)
	}
	if !m.Src.IsExtended() || m.Src.Ext != extA {
		t.Errorf("source = %s, want %s", m.Src, extA)
	}
	if m.Rssi != link.RxRssi {
		t.Errorf("rssi = %d, want %d", m.Rssi, link.RxRssi)
	}

	stats, linkStats, err := p.a.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Sent != 1 || linkStats.AcksRx != 1 {
		t.Errorf("stats = %+v, link = %+v", stats, linkStats)
	}

	// And back
	if err := p.b.Send(ctx, extA, []byte("world")); err != nil {
		t.Fatalf("Send back: %v", err)
	}
	if m := receive(t, p.receivedA); string(m.Payload) != "world" {
		t.Errorf("payload = %q, want world", m.Payload)
	}
}

func TestNode_Broadcast(t *testing.T) {
	p := startPair(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := p.a.Broadcast(ctx, []byte("all")); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	m := receive(t, p.receivedB)
	if string(m.Payload) != "all" || !m.Dst.IsBroadcast() {
		t.Errorf("message = %+v", m)
	}
}

func TestNode_UnknownDestination(t *testing.T) {
	p := startPair(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := p.a.Send(ctx, extC, []byte("nobody"))
	if !errors.Is(err, link.ErrUnknownPeer) {
		t.Errorf("Send = %v, want ErrUnknownPeer", err)
	}
}

func TestNode_NoAckAfterRetries(t *testing.T) {
	connC, _ := boundUDP(t)
	defer connC.Close()

	p := startPair(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// C is a peer but no node runs behind its socket
	if err := p.a.AddPeer(ctx, extC, connC.LocalAddr()); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}

	err := p.a.Send(ctx, extC, []byte("anyone?"))
	if !errors.Is(err, link.ErrNoAck) {
		t.Fatalf("Send = %v, want ErrNoAck", err)
	}

	stats, _, err := p.a.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Retries != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want 1 retry and 1 failure", stats)
	}
}

func TestNode_PanFiltering(t *testing.T) {
	p := startPair(t, func(a, b *Config) {
		b.PanID = 0x0bad
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// B drops the frame, so no ack comes back
	if err := p.a.Send(ctx, extB, []byte("wrong pan")); !errors.Is(err, link.ErrNoAck) {
		t.Errorf("Send = %v, want ErrNoAck", err)
	}

	select {
	case m := <-p.receivedB:
		t.Errorf("B received %+v from another PAN", m)
	default:
	}
}

func TestNode_DeferredAck(t *testing.T) {
	p := startPair(t, func(a, b *Config) {
		a.DeferredAck = true
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := p.a.Send(ctx, extB, []byte("later")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	receive(t, p.receivedB)

	deadline := time.Now().Add(2 * time.Second)
	for {
		stats, _, err := p.a.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if stats.DeferredAcks == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("deferred ack not reported: %+v", stats)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNode_EmptyPayload(t *testing.T) {
	n, err := New(testConfig(extA), func() (channel.PacketConn, error) {
		return nil, errors.New("unused")
	}, logger.NewNoOpLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := n.Send(context.Background(), extB, nil); !errors.Is(err, ErrPayloadEmpty) {
		t.Errorf("Send = %v, want ErrPayloadEmpty", err)
	}
}

func TestNode_StartFailure(t *testing.T) {
	n, err := New(testConfig(extA), func() (channel.PacketConn, error) {
		return nil, errors.New("address in use")
	}, logger.NewNoOpLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := n.Run(ctx); err == nil {
		t.Errorf("Run should fail when the transport cannot open")
	}
}

func TestNode_SetExtAddress(t *testing.T) {
	p := startPair(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := p.a.SetExtAddress(ctx, extC); err != nil {
		t.Fatalf("SetExtAddress: %v", err)
	}

	// B acks frames from the new address even though its peer entry is stale
	if err := p.a.Send(ctx, extB, []byte("renamed")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if m := receive(t, p.receivedB); m.Src.Ext != extC {
		t.Errorf("source = %s, want %s", m.Src, extC)
	}

	// Frames for the old address are dropped
	if err := p.b.Send(ctx, extA, []byte("old")); !errors.Is(err, link.ErrNoAck) {
		t.Errorf("Send to old address = %v, want ErrNoAck", err)
	}

	chStats, transport := p.a.ChannelStats()
	if chStats.GetPacketsTx() == 0 || transport.BytesSent == 0 {
		t.Errorf("channel stats not counted: tx %d, bytes %d", chStats.GetPacketsTx(), transport.BytesSent)
	}
}

func TestNode_SendAfterRunReturns(t *testing.T) {
	_, open := boundUDP(t)
	n, err := New(testConfig(extA), open, logger.NewNoOpLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := n.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	result := make(chan error, 2)
	go func() { result <- n.Send(context.Background(), extB, []byte("late")) }()
	go func() { result <- n.Broadcast(context.Background(), []byte("late")) }()

	for i := 0; i < 2; i++ {
		select {
		case err := <-result:
			if !errors.Is(err, ErrStopped) {
				t.Errorf("send = %v, want ErrStopped", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("send blocked after Run returned")
		}
	}

	if err := n.Run(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("second Run = %v, want ErrStopped", err)
	}
}

func TestNode_SendBeforeRun(t *testing.T) {
	n, err := New(testConfig(extA), func() (channel.PacketConn, error) {
		return nil, errors.New("address in use")
	}, logger.NewNoOpLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Waits for the node to start, bounded by ctx
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := n.Send(ctx, extB, []byte("early")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Send = %v, want context.DeadlineExceeded", err)
	}

	// A waiting send is released when Run fails to start
	result := make(chan error, 1)
	go func() { result <- n.Send(context.Background(), extB, []byte("early")) }()

	if err := n.Run(context.Background()); err == nil {
		t.Fatalf("Run should fail when the transport cannot open")
	}

	select {
	case err := <-result:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("Send = %v, want ErrStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("send blocked after Run failed")
	}
}

func TestNode_PeerAddr(t *testing.T) {
	p := startPair(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// Both nodes are up once a send is acked
	if err := p.a.Send(ctx, extB, []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	addr, ok := p.a.PeerAddr(extB)
	if !ok || addr != p.b.LocalAddr() {
		t.Errorf("PeerAddr(%s) = %s, %t, want %s", extB, addr, ok, p.b.LocalAddr())
	}
	if _, ok := p.a.PeerAddr(extC); ok {
		t.Errorf("PeerAddr found unknown peer %s", extC)
	}
}
