// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

// Package transport adapts byte-stream and datagram carriers (TCP, TLS, UDP,
// serial) to one capability set so the frame codec and transaction manager
// above it never need to know which wire they are running over (§4.D).
package transport

import "context"

// Transport is the polymorphic transport adapter (§4.D):
// {connect, listen, send, close, on_bytes, on_disconnect}. UDP has no
// connection phase; each datagram arrives as one complete payload through
// OnBytes with no buffer carryover between calls. Serial transports must
// implement reads with a non-blocking or asynchronous primitive so Listen's
// read loop never stalls the rest of the program.
type Transport interface {
	// Connect dials out (client role). Listen and Connect are mutually
	// exclusive for a given Transport value.
	Connect(ctx context.Context) error
	// Listen accepts incoming connections/datagrams (server role) until ctx
	// is cancelled or Close is called.
	Listen(ctx context.Context) error
	// Send writes a fully-framed ADU.
	Send(ctx context.Context, adu []byte) error
	// Close releases any held connection/listener.
	Close() error
	// OnBytes registers the callback invoked with each chunk of inbound
	// data (one datagram for UDP, an arbitrary chunk otherwise). Must be
	// set before Connect/Listen.
	OnBytes(func(data []byte))
	// OnDisconnect registers the callback invoked when a connection drops.
	OnDisconnect(func(err error))
}
