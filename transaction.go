// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// DefaultMaxInFlightTCP is the default §5 resource limit for TCP
// connections: up to 256 outstanding transactions per connection.
const DefaultMaxInFlightTCP = 256

// DefaultMaxInFlightSerial is the default §5 resource limit for serial
// connections: RTU/ASCII/Binary have no correlation field, so at most one
// transaction may be outstanding per bus.
const DefaultMaxInFlightSerial = 1

// pendingTx is a transaction record (§3): a waiter plus enough state to
// retry the original bytes on timeout.
type pendingTx struct {
	tid              uint16
	uid              byte
	functionCode     byte
	requestADU       []byte
	retriesRemaining int
	timer            *time.Timer
	resultCh         chan txResult
	broadcast        bool
}

type txResult struct {
	pdu *ProtocolDataUnit
	err error
}

// Manager assigns transaction ids, correlates replies to outstanding
// requests, and enforces timeouts/retries (§4.C). One Manager serves one
// connection. Grounded on the pending-map correlation pattern in
// other_examples' rolfl-modbus rtu.go (`pending map[byte]uint16`,
// `toTX`/`toDemux` channels) and on the teacher's own idle-timer pattern
// (`time.AfterFunc`) for per-transaction deadlines.
type Manager struct {
	mu sync.Mutex

	// serial is true for RTU/ASCII/Binary connections: there is no tid, so
	// at most one transaction may be outstanding and additional submits
	// serialize on serialLock (§4.C "Serial ordering").
	serial     bool
	serialLock sync.Mutex

	nextTID uint16
	pending map[uint16]*pendingTx

	sem chan struct{} // §5 resource limit: buffered channel semaphore

	send   func(adu []byte) error
	logger *log.Logger

	closed   bool
	closeErr error
}

// NewManager creates a Manager for one connection. send is called with the
// already-framed ADU bytes whenever the manager needs to transmit (for the
// original request and for each retry); it is supplied by the Transport
// adapter. maxInFlight <= 0 uses the TCP/serial defaults.
func NewManager(serial bool, maxInFlight int, logger *log.Logger, send func(adu []byte) error) *Manager {
	if maxInFlight <= 0 {
		if serial {
			maxInFlight = DefaultMaxInFlightSerial
		} else {
			maxInFlight = DefaultMaxInFlightTCP
		}
	}
	return &Manager{
		serial:  serial,
		pending: make(map[uint16]*pendingTx),
		sem:     make(chan struct{}, maxInFlight),
		send:    send,
		logger:  logger,
	}
}

// allocateTID returns a monotonic 16-bit id, wrapping around, skipping any
// value still outstanding. Caller must hold mu.
func (m *Manager) allocateTID() (uint16, error) {
	start := m.nextTID
	for {
		tid := m.nextTID
		m.nextTID++
		if _, busy := m.pending[tid]; !busy {
			return tid, nil
		}
		if m.nextTID == start {
			return 0, ErrTooManyInFlight
		}
	}
}

// Submit allocates a tid (TCP) or serializes against the bus (serial),
// builds the request ADU via build now that the tid is known, registers a
// transaction record, hands the request bytes to the transport via send,
// and blocks until a response is correlated, the deadline (after retries)
// expires, or ctx is cancelled (§4.C, §5). build is called exactly once;
// retries resend the same bytes it returned rather than rebuilding, so
// variants that ignore tid (RTU/ASCII/Binary) are unaffected.
//
// unit == broadcastUnit resolves immediately after send with an empty
// response sentinel; no waiter is registered (§4.C "Broadcast").
func (m *Manager) Submit(ctx context.Context, build func(tid uint16) []byte, uid, functionCode byte, broadcastUnit byte, timeout time.Duration, retries int) (*ProtocolDataUnit, error) {
	if m.serial {
		m.serialLock.Lock()
		defer m.serialLock.Unlock()
	}

	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return nil, fmt.Errorf("%w: %d outstanding", ErrTooManyInFlight, cap(m.sem))
	}
	defer func() { <-m.sem }()

	broadcast := uid == broadcastUnit

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, m.closeErr
	}
	var tid uint16
	if m.serial {
		// RTU/ASCII/Binary carry no transaction id on the wire, so the
		// decoded response frame always reports tid 0 (see framer_rtu.go
		// etc.); the serialLock above already guarantees at most one
		// transaction is outstanding, so there is never a collision to
		// resolve here.
		if _, busy := m.pending[0]; busy {
			m.mu.Unlock()
			return nil, ErrTooManyInFlight
		}
	} else {
		var err error
		tid, err = m.allocateTID()
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
	}
	requestADU := build(tid)

	tx := &pendingTx{
		tid:              tid,
		uid:              uid,
		functionCode:     functionCode,
		requestADU:       requestADU,
		retriesRemaining: retries,
		resultCh:         make(chan txResult, 1),
		broadcast:        broadcast,
	}
	if !broadcast {
		m.pending[tid] = tx
		tx.timer = time.AfterFunc(timeout, func() { m.onTimeout(tid, timeout) })
	}
	m.mu.Unlock()

	if err := m.send(requestADU); err != nil {
		if !broadcast {
			m.mu.Lock()
			m.cancelLocked(tid)
			m.mu.Unlock()
		}
		return nil, fmt.Errorf("sending request: %w", err)
	}

	if broadcast {
		return &ProtocolDataUnit{FunctionCode: functionCode}, nil
	}

	select {
	case result := <-tx.resultCh:
		return result.pdu, result.err
	case <-ctx.Done():
		m.mu.Lock()
		m.cancelLocked(tid)
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
}

// cancelLocked removes a transaction record without racing late arrivals:
// once removed from m.pending, a concurrent OnFrame for the same tid simply
// fails the lookup and drops the frame (§5 "Cancellation"). Caller must hold
// mu.
func (m *Manager) cancelLocked(tid uint16) {
	tx, ok := m.pending[tid]
	if !ok {
		return
	}
	if tx.timer != nil {
		tx.timer.Stop()
	}
	delete(m.pending, tid)
}

// OnFrame matches a decoded response by tid (TCP) or by being the sole
// outstanding transaction (serial) and completes its waiter. A response
// with no matching record is dropped with a debug log (§4.C).
func (m *Manager) OnFrame(tid uint16, uid byte, pdu *ProtocolDataUnit) {
	m.mu.Lock()
	tx, ok := m.pending[tid]
	if !ok {
		m.mu.Unlock()
		m.logf("modbus: dropping unmatched response tid=%d uid=%d", tid, uid)
		return
	}
	if tx.uid != uid {
		m.mu.Unlock()
		m.logf("modbus: dropping response with unit id %d, expected %d", uid, tx.uid)
		return
	}
	m.cancelLocked(tid)
	m.mu.Unlock()

	var result txResult
	if pdu.IsException() {
		result = txResult{err: responseError(pdu)}
	} else {
		result = txResult{pdu: pdu}
	}
	tx.resultCh <- result
}

// onTimeout retries the original request while retriesRemaining > 0, else
// fails the waiter with ErrTimeout (§4.C, §7).
func (m *Manager) onTimeout(tid uint16, timeout time.Duration) {
	m.mu.Lock()
	tx, ok := m.pending[tid]
	if !ok {
		m.mu.Unlock()
		return
	}
	if tx.retriesRemaining <= 0 {
		m.cancelLocked(tid)
		m.mu.Unlock()
		tx.resultCh <- txResult{err: ErrTimeout}
		return
	}
	tx.retriesRemaining--
	tx.timer = time.AfterFunc(timeout, func() { m.onTimeout(tid, timeout) })
	m.mu.Unlock()

	if err := m.send(tx.requestADU); err != nil {
		m.mu.Lock()
		m.cancelLocked(tid)
		m.mu.Unlock()
		tx.resultCh <- txResult{err: fmt.Errorf("retrying request: %w", err)}
	}
}

// Close fails every outstanding waiter with ErrDisconnected (or cause, if
// given) and rejects future submits (§7 Disconnected).
func (m *Manager) Close(cause error) {
	if cause == nil {
		cause = ErrDisconnected
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.closeErr = cause
	pending := m.pending
	m.pending = make(map[uint16]*pendingTx)
	m.mu.Unlock()

	for tid, tx := range pending {
		if tx.timer != nil {
			tx.timer.Stop()
		}
		tx.resultCh <- txResult{err: cause}
		_ = tid
	}
}

// Outstanding returns the number of currently-registered transaction
// records, for tests and diagnostics.
func (m *Manager) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Manager) logf(format string, v ...interface{}) {
	if m.logger != nil {
		m.logger.Printf(format, v...)
	}
}
