// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
)

const udpMaxDatagram = 260

// UDPTransport implements Transport over UDP. UDP has no connection phase:
// each datagram received is handed to OnBytes whole, with no buffer
// carryover between calls, since the frame codec runs once per datagram
// rather than over an accumulating stream (§4.D).
//
// Grounded on elektrosoftlab-modbus's udp.go, which wraps a *net.UDPConn to
// present it as a byte stream; this instead keeps each ReadFrom result as
// one discrete unit, matching the spec's "one datagram = one complete ADU"
// rule rather than reassembling datagrams into a stream.
type UDPTransport struct {
	Address string // client role: remote address; server role: local bind address

	mu   sync.Mutex
	conn net.PacketConn
	peer net.Addr

	onBytes      func([]byte)
	onDisconnect func(error)
}

func (u *UDPTransport) OnBytes(fn func([]byte))     { u.onBytes = fn }
func (u *UDPTransport) OnDisconnect(fn func(error)) { u.onDisconnect = fn }

func (u *UDPTransport) Connect(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		return nil
	}
	raddr, err := net.ResolveUDPAddr("udp", u.Address)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", u.Address, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", u.Address, err)
	}
	u.conn = conn
	u.peer = raddr
	go u.readLoop(conn)
	return nil
}

func (u *UDPTransport) Listen(ctx context.Context) error {
	laddr, err := net.ResolveUDPAddr("udp", u.Address)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", u.Address, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", u.Address, err)
	}
	u.mu.Lock()
	u.conn = conn
	u.mu.Unlock()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	u.readLoop(conn)
	return nil
}

func (u *UDPTransport) readLoop(conn net.PacketConn) {
	buf := make([]byte, udpMaxDatagram)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if n > 0 {
			u.mu.Lock()
			u.peer = addr
			u.mu.Unlock()
			if u.onBytes != nil {
				datagram := make([]byte, n)
				copy(datagram, buf[:n])
				u.onBytes(datagram)
			}
		}
		if err != nil {
			if u.onDisconnect != nil {
				u.onDisconnect(err)
			}
			return
		}
	}
}

// Send writes adu as a single datagram, to the last peer seen (server role)
// or the dialed remote (client role).
func (u *UDPTransport) Send(ctx context.Context, adu []byte) error {
	u.mu.Lock()
	conn, peer := u.conn, u.peer
	u.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("udp transport not connected")
	}
	var err error
	if uc, ok := conn.(*net.UDPConn); ok && uc.RemoteAddr() != nil {
		_, err = uc.Write(adu)
	} else if peer != nil {
		_, err = conn.WriteTo(adu, peer)
	} else {
		_, err = conn.(interface{ Write([]byte) (int, error) }).Write(adu)
	}
	if err != nil {
		return fmt.Errorf("writing datagram: %w", err)
	}
	return nil
}

func (u *UDPTransport) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	err := u.conn.Close()
	u.conn = nil
	return err
}
