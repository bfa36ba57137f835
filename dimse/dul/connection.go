package dul

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/radxtoolkit/radx/dimse/pdu"
)

// errPollTimeout is returned by TryReadPDU when no PDU arrived within the
// poll window; it is not a connection error.
var errPollTimeout = errors.New("dul: no PDU available within poll timeout")

// IsPollTimeout reports whether err is the "nothing arrived" result of
// TryReadPDU, as opposed to a genuine connection error.
func IsPollTimeout(err error) bool {
	return errors.Is(err, errPollTimeout)
}

// Connection wraps a TCP connection and handles PDU communication
type Connection struct {
	conn          net.Conn
	maxPDULength  uint32
	sm            *StateMachine
	mu            sync.Mutex
	readDeadline  time.Duration
	writeDeadline time.Duration
}

// NewConnection creates a new connection from a net.Conn
func NewConnection(conn net.Conn) *Connection {
	return &Connection{
		conn:          conn,
		maxPDULength:  pdu.DefaultMaxPDULength,
		sm:            NewStateMachine(),
		readDeadline:  30 * time.Second,
		writeDeadline: 30 * time.Second,
	}
}

// SetMaxPDULength sets the maximum PDU length for this connection
func (c *Connection) SetMaxPDULength(length uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if length > pdu.MaxPDULength {
		length = pdu.MaxPDULength
	}
	c.maxPDULength = length
}

// GetMaxPDULength returns the maximum PDU length
func (c *Connection) GetMaxPDULength() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxPDULength
}

// SendPDU sends a PDU on the connection
func (c *Connection) SendPDU(ctx context.Context, p pdu.PDU) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Set write deadline
	if c.writeDeadline > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeDeadline)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
		defer c.conn.SetWriteDeadline(time.Time{})
	}

	// Encode and send PDU
	if err := p.Encode(c.conn); err != nil {
		return fmt.Errorf("encode PDU: %w", err)
	}

	return nil
}

// ReadPDU reads a PDU from the connection. A read that exceeds the
// connection's DIMSE timeout aborts the association (DICOM Part 8's
// service-provider-initiated A-ABORT) rather than leaving the peer to
// discover the stall on its own.
func (c *Connection) ReadPDU(ctx context.Context) (pdu.PDU, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Set read deadline
	if c.readDeadline > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readDeadline)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
		defer c.conn.SetReadDeadline(time.Time{})
	}

	// Read PDU
	p, err := pdu.ReadPDU(c.conn)
	if err != nil {
		if err == io.EOF {
			// Connection closed
			_, _ = c.sm.ProcessEvent(AE17)
		} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
			c.abortLocked()
		}
		return nil, err
	}

	return p, nil
}

// TryReadPDU attempts to read one PDU within timeout without committing the
// caller to the connection's full DIMSE timeout. It lets a long-running
// C-FIND/C-GET response loop poll for an interleaved C-CANCEL-RQ between
// sends. IsPollTimeout(err) reports whether nothing arrived in time, as
// opposed to a genuine connection failure.
func (c *Connection) TryReadPDU(timeout time.Duration) (pdu.PDU, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}
	defer c.conn.SetReadDeadline(time.Time{})

	p, err := pdu.ReadPDU(c.conn)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, errPollTimeout
		}
		return nil, err
	}
	return p, nil
}

// abortLocked writes an A-ABORT PDU directly on the wire and tears down the
// state machine. Callers must already hold c.mu; it does not go through
// SendPDU to avoid re-entering the lock.
func (c *Connection) abortLocked() {
	abort := &pdu.Abort{Source: pdu.AbortSourceServiceProvider, Reason: pdu.AbortReasonNotSpecified}
	_ = abort.Encode(c.conn) // best-effort: the connection may already be unusable
	_, _ = c.sm.ProcessEvent(AE17)
}

// Close closes the connection
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		err := c.conn.Close()
		_, _ = c.sm.ProcessEvent(AE17)
		return err
	}
	return nil
}

// RemoteAddr returns the remote network address
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LocalAddr returns the local network address
func (c *Connection) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// SetReadDeadline sets the read timeout duration
func (c *Connection) SetReadDeadline(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = d
}

// SetWriteDeadline sets the write timeout duration
func (c *Connection) SetWriteDeadline(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeDeadline = d
}

// SetDimseTimeout sets both the read and write timeout to d, the common
// case of a single DIMSE timeout governing an association's responsiveness
// in both directions. A timed-out read aborts the association; see ReadPDU.
func (c *Connection) SetDimseTimeout(d time.Duration) {
	c.SetReadDeadline(d)
	c.SetWriteDeadline(d)
}

// StateMachine returns the underlying state machine
func (c *Connection) StateMachine() *StateMachine {
	return c.sm
}

// TriggerTransportIndication triggers the AE-2 event (Transport connection indication)
// This should be called by SCP after accepting a TCP connection
func (c *Connection) TriggerTransportIndication(ctx context.Context) error {
	_, err := c.sm.ProcessEvent(AE2)
	if err != nil {
		return fmt.Errorf("trigger transport indication: %w", err)
	}
	return nil
}

// TransportConfig selects the transport a Connection is established over:
// a bare TCP socket, or TLS per DICOM Part 15's Secure Transport Connection
// Profile.
type TransportConfig interface {
	dial(ctx context.Context, network, address string) (net.Conn, error)
	listen(network, address string) (net.Listener, error)
}

// PlainTransport is an unencrypted TCP transport, the DICOM default.
type PlainTransport struct{}

func (PlainTransport) dial(ctx context.Context, network, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, address)
}

func (PlainTransport) listen(network, address string) (net.Listener, error) {
	return net.Listen(network, address)
}

// TLSTransport wraps the TCP transport in TLS.
type TLSTransport struct {
	// Certificates authenticates this end of the association; required for
	// a TLS listener, optional for a TLS dialer unless mutual auth is used.
	Certificates []tls.Certificate
	// RootCAs verifies the peer's certificate; nil uses the host's default
	// trust store.
	RootCAs *x509.CertPool
	// ServerName is sent via SNI and used for certificate hostname
	// verification when dialing.
	ServerName string
	// MinVersion floors the negotiated TLS version; defaults to TLS 1.2.
	MinVersion uint16
	// InsecureSkipVerify disables peer certificate verification. For test
	// and lab environments only - never set for a production association.
	InsecureSkipVerify bool
}

func (t TLSTransport) tlsConfig() *tls.Config {
	minVersion := t.MinVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}
	cfg := &tls.Config{
		Certificates:       t.Certificates,
		ServerName:         t.ServerName,
		MinVersion:         minVersion,
		InsecureSkipVerify: t.InsecureSkipVerify,
	}
	if t.RootCAs != nil {
		cfg.RootCAs = t.RootCAs
	}
	return cfg
}

func (t TLSTransport) dial(ctx context.Context, network, address string) (net.Conn, error) {
	d := tls.Dialer{Config: t.tlsConfig()}
	return d.DialContext(ctx, network, address)
}

func (t TLSTransport) listen(network, address string) (net.Listener, error) {
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	return tls.NewListener(ln, t.tlsConfig()), nil
}

// Dial establishes a new plain TCP connection to the specified address.
func Dial(ctx context.Context, network, address string) (*Connection, error) {
	return DialTransport(ctx, PlainTransport{}, network, address)
}

// DialTransport establishes a new connection to address over the given
// transport (plain TCP or TLS).
func DialTransport(ctx context.Context, transport TransportConfig, network, address string) (*Connection, error) {
	conn, err := transport.dial(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := NewConnection(conn)
	// Trigger transport connect confirmation event
	_, _ = c.sm.ProcessEvent(AE1)

	return c, nil
}

// ListenTransport listens for incoming connections on address over the
// given transport (plain TCP or TLS).
func ListenTransport(transport TransportConfig, network, address string) (net.Listener, error) {
	return transport.listen(network, address)
}
