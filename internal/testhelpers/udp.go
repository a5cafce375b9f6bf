package testhelpers

import (
	"fmt"
	"net"
	"time"
)

// UDPPeer is a loopback UDP endpoint
type UDPPeer struct {
	conn *net.UDPConn
}

// NewUDPPeer listens on an ephemeral loopback port
func NewUDPPeer() (*UDPPeer, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	return &UDPPeer{conn: conn}, nil
}

// Addr returns the peer's address
func (p *UDPPeer) Addr() *net.UDPAddr {
	return p.conn.LocalAddr().(*net.UDPAddr)
}

// Send writes one datagram to addr
func (p *UDPPeer) Send(data []byte, addr *net.UDPAddr) error {
	_, err := p.conn.WriteToUDP(data, addr)
	return err
}

// Receive waits up to timeout for one datagram
func (p *UDPPeer) Receive(timeout time.Duration) ([]byte, *net.UDPAddr, error) {
	if err := p.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, err
	}
	buf := make([]byte, 65535)
	n, addr, err := p.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, err
	}
	return buf[:n], addr, nil
}

// Close releases the socket
func (p *UDPPeer) Close() error {
	return p.conn.Close()
}
