package channel

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
)

// quicALPN is the ALPN protocol negotiated between TREL peers
const quicALPN = "trel-quic"

// QUICChannel implements PacketConn with QUIC datagrams.
//
// A single quic.Transport both listens and dials, so every connection uses
// the local listening socket and a peer's remote address is the address it
// listens on. That keeps sender addresses comparable with the peer table.
// One connection per peer address is kept and reused.
type QUICChannel struct {
	transport *quic.Transport
	listener  *quic.Listener
	udpConn   *net.UDPConn

	// Configuration
	tlsConfig   *tls.Config
	quicConfig  *quic.Config
	dialTimeout time.Duration

	// Connections by peer address
	conns    map[netip.AddrPort]*quic.Conn
	connLock sync.Mutex

	// Datagrams received on any connection
	incoming chan datagram

	// Statistics
	stats struct {
		bytesSent     atomic.Uint64
		bytesReceived atomic.Uint64
		writeErrors   atomic.Uint64
		readErrors    atomic.Uint64
		connects      atomic.Uint64
		disconnects   atomic.Uint64
	}

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

type datagram struct {
	data []byte
	from netip.AddrPort
}

// QUICChannelConfig configures a QUIC channel
type QUICChannelConfig struct {
	Address     string        // Local "host:port" to bind
	DialTimeout time.Duration // Handshake timeout for new peers
	IdleTimeout time.Duration // Idle connections are closed after this
	TLSConfig   *tls.Config   // Optional TLS config (if nil, will generate self-signed cert)
}

// NewQUICChannel binds the local socket and starts accepting peers
func NewQUICChannel(config QUICChannelConfig) (*QUICChannel, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}

	// Set defaults
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = time.Minute
	}

	// Generate TLS config if not provided
	tlsConfig := config.TLSConfig
	if tlsConfig == nil {
		var err error
		tlsConfig, err = generateTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to generate TLS config: %w", err)
		}
	}

	addr, err := net.ResolveUDPAddr("udp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address %s: %w", config.Address, err)
	}

	udpConn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", config.Address, err)
	}

	quicConfig := &quic.Config{
		EnableDatagrams: true,
		MaxIdleTimeout:  config.IdleTimeout,
		KeepAlivePeriod: config.IdleTimeout / 2,
		// Room for a full TREL packet in one datagram frame
		InitialPacketSize: 1452,
	}

	transport := &quic.Transport{Conn: udpConn}

	listener, err := transport.Listen(tlsConfig, quicConfig)
	if err != nil {
		transport.Close()
		udpConn.Close()
		return nil, fmt.Errorf("failed to create QUIC listener: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	qc := &QUICChannel{
		transport:   transport,
		listener:    listener,
		udpConn:     udpConn,
		tlsConfig:   tlsConfig,
		quicConfig:  quicConfig,
		dialTimeout: config.DialTimeout,
		conns:       make(map[netip.AddrPort]*quic.Conn),
		incoming:    make(chan datagram, 64),
		ctx:         ctx,
		cancel:      cancel,
	}

	qc.wg.Add(1)
	go qc.acceptLoop()

	return qc, nil
}

// QUICOpener returns an Opener creating a new QUIC channel on each open
func QUICOpener(config QUICChannelConfig) Opener {
	return func() (PacketConn, error) {
		return NewQUICChannel(config)
	}
}

// generateTLSConfig generates a self-signed certificate for QUIC.
// Peers are authenticated by the TREL layer, not by TLS.
func generateTLSConfig() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: quicALPN},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
		}},
		NextProtos:         []string{quicALPN},
		InsecureSkipVerify: true, // For self-signed certs
	}, nil
}

// acceptLoop accepts incoming QUIC connections
func (qc *QUICChannel) acceptLoop() {
	defer qc.wg.Done()

	for {
		conn, err := qc.listener.Accept(qc.ctx)
		if err != nil {
			if qc.closed.Load() || qc.ctx.Err() != nil {
				return
			}
			continue
		}

		qc.addConn(conn)
	}
}

// addConn registers conn for its peer and starts reading its datagrams.
// An existing connection to the same peer stays the one used for writes.
func (qc *QUICChannel) addConn(conn *quic.Conn) {
	peer := remoteAddrPort(conn)

	qc.connLock.Lock()
	if _, exists := qc.conns[peer]; !exists {
		qc.conns[peer] = conn
	}
	qc.connLock.Unlock()

	qc.stats.connects.Add(1)

	qc.wg.Add(1)
	go qc.receiveLoop(conn, peer)
}

// receiveLoop forwards datagrams of one connection until it closes
func (qc *QUICChannel) receiveLoop(conn *quic.Conn, peer netip.AddrPort) {
	defer qc.wg.Done()
	defer qc.removeConn(conn, peer)

	for {
		data, err := conn.ReceiveDatagram(qc.ctx)
		if err != nil {
			if qc.ctx.Err() == nil {
				qc.stats.readErrors.Add(1)
			}
			return
		}

		qc.stats.bytesReceived.Add(uint64(len(data)))

		select {
		case qc.incoming <- datagram{data: data, from: peer}:
		case <-qc.ctx.Done():
			return
		}
	}
}

func (qc *QUICChannel) removeConn(conn *quic.Conn, peer netip.AddrPort) {
	qc.connLock.Lock()
	if qc.conns[peer] == conn {
		delete(qc.conns, peer)
	}
	qc.connLock.Unlock()

	conn.CloseWithError(0, "closed")
	qc.stats.disconnects.Add(1)
}

// connFor returns the connection to dst, dialing it if needed
func (qc *QUICChannel) connFor(ctx context.Context, dst netip.AddrPort) (*quic.Conn, error) {
	qc.connLock.Lock()
	conn := qc.conns[dst]
	qc.connLock.Unlock()

	if conn != nil && conn.Context().Err() == nil {
		return conn, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, qc.dialTimeout)
	defer cancel()

	conn, err := qc.transport.Dial(dialCtx, net.UDPAddrFromAddrPort(dst), qc.tlsConfig, qc.quicConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", dst, err)
	}

	qc.addConn(conn)

	// Prefer a connection registered meanwhile by the accept loop
	qc.connLock.Lock()
	registered := qc.conns[dst]
	qc.connLock.Unlock()
	if registered != nil {
		return registered, nil
	}
	return conn, nil
}

// ReadFrom implements PacketConn.ReadFrom
func (qc *QUICChannel) ReadFrom(ctx context.Context) ([]byte, netip.AddrPort, error) {
	select {
	case d := <-qc.incoming:
		return d.data, d.from, nil
	case <-ctx.Done():
		return nil, netip.AddrPort{}, ctx.Err()
	case <-qc.ctx.Done():
		return nil, netip.AddrPort{}, ErrChannelClosed
	}
}

// WriteTo implements PacketConn.WriteTo
func (qc *QUICChannel) WriteTo(ctx context.Context, data []byte, dst netip.AddrPort) error {
	if qc.closed.Load() {
		return ErrChannelClosed
	}

	conn, err := qc.connFor(ctx, dst)
	if err != nil {
		qc.stats.writeErrors.Add(1)
		return err
	}

	if err := conn.SendDatagram(data); err != nil {
		qc.stats.writeErrors.Add(1)

		var tooLarge *quic.DatagramTooLargeError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("packet of %d bytes exceeds datagram limit %d: %w",
				len(data), tooLarge.MaxDatagramPayloadSize, err)
		}
		return err
	}

	qc.stats.bytesSent.Add(uint64(len(data)))
	return nil
}

// Close implements PacketConn.Close
func (qc *QUICChannel) Close() error {
	if !qc.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	// Cancel context to stop all goroutines
	qc.cancel()

	qc.connLock.Lock()
	for _, conn := range qc.conns {
		conn.CloseWithError(0, "channel closed")
	}
	qc.connLock.Unlock()

	qc.listener.Close()

	// Wait for goroutines to finish
	qc.wg.Wait()

	err := qc.transport.Close()
	qc.udpConn.Close()
	return err
}

// LocalAddr implements PacketConn.LocalAddr
func (qc *QUICChannel) LocalAddr() netip.AddrPort {
	return unmap(qc.udpConn.LocalAddr().(*net.UDPAddr).AddrPort())
}

// Peers returns the addresses of connected peers
func (qc *QUICChannel) Peers() []netip.AddrPort {
	qc.connLock.Lock()
	defer qc.connLock.Unlock()

	peers := make([]netip.AddrPort, 0, len(qc.conns))
	for addr := range qc.conns {
		peers = append(peers, addr)
	}
	return peers
}

// Statistics implements PacketConn.Statistics
func (qc *QUICChannel) Statistics() TransportStats {
	return TransportStats{
		BytesSent:     qc.stats.bytesSent.Load(),
		BytesReceived: qc.stats.bytesReceived.Load(),
		WriteErrors:   qc.stats.writeErrors.Load(),
		ReadErrors:    qc.stats.readErrors.Load(),
		Connects:      qc.stats.connects.Load(),
		Disconnects:   qc.stats.disconnects.Load(),
	}
}

func remoteAddrPort(conn *quic.Conn) netip.AddrPort {
	if udp, ok := conn.RemoteAddr().(*net.UDPAddr); ok {
		return unmap(udp.AddrPort())
	}
	addr, _ := netip.ParseAddrPort(conn.RemoteAddr().String())
	return unmap(addr)
}
