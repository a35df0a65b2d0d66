// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// TLSTransport is a TCPTransport whose dial/accept goes through a TLS
// handshake first; framing behavior once bytes flow is identical to plain
// TCP (§4.D "TLS is TCP plus a handshake"). No pack repo wires a
// third-party TLS library for a Modbus transport, so this uses the
// standard library's crypto/tls directly, reusing TCPTransport's read loop
// and idle-close timer once the handshake completes.
type TLSTransport struct {
	Address     string
	Config      *tls.Config
	DialTimeout time.Duration
	IdleTimeout time.Duration

	inner TCPTransport
}

func (t *TLSTransport) OnBytes(fn func([]byte))     { t.inner.OnBytes(fn) }
func (t *TLSTransport) OnDisconnect(fn func(error)) { t.inner.OnDisconnect(fn) }

func (t *TLSTransport) Connect(ctx context.Context) error {
	t.inner.mu.Lock()
	defer t.inner.mu.Unlock()
	if t.inner.conn != nil {
		return nil
	}
	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: t.DialTimeout}, Config: t.Config}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", t.Address, err)
	}
	t.inner.conn = conn
	t.inner.IdleTimeout = t.IdleTimeout
	t.inner.lastActivity = time.Now()
	go t.inner.readLoop(conn)
	return nil
}

func (t *TLSTransport) Listen(ctx context.Context) error {
	ln, err := tls.Listen("tcp", t.Address, t.Config)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", t.Address, err)
	}
	t.inner.mu.Lock()
	t.inner.listener = ln
	t.inner.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}
		go t.inner.readLoop(conn)
	}
}

func (t *TLSTransport) Send(ctx context.Context, adu []byte) error {
	return t.inner.Send(ctx, adu)
}

func (t *TLSTransport) Close() error {
	return t.inner.Close()
}
