// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package core implements the transport-agnostic MODBUS RTU engine:
// frame codec, register strategy dispatch, and the slave/master role
// state machines. It never performs I/O itself — bytes arrive via
// PushByte and leave via the TxData callback, and it is driven
// entirely by RunTask, MarkRxComplete and TickRxTimeout, none of which
// block or yield. A Handle is not safe for concurrent use: the host is
// responsible for serializing RunTask against the byte-push and
// event-signal paths, exactly as one engine instance binds to one bus.
package core

// Mode selects which role a Handle plays on its bus.
type Mode int

const (
	ModeSlave Mode = iota
	ModeMaster
)

// Inter-character gap timing, expressed in bit-times for 11-bit RTU
// framing (8 data + start + parity/stop + stop): 1.5 character times
// for a slave awaiting the next word of a request, 3.5 for a master
// awaiting a reply.
const (
	SlaveGapBitTimes  = 17
	MasterGapBitTimes = 38
)

// Quirks toggles bug-compatible deviations from the spec-recommended
// behavior.
type Quirks struct {
	// RouteFC6ToInputs reproduces the original engine's nonstandard
	// routing of WriteSingleRegister (function code 6) to the Inputs
	// strategy instead of Holdings. Default false (spec-recommended).
	RouteFC6ToInputs bool
}

// EventFunc is a zero-argument event callback.
type EventFunc func()

// ExceptionEventFunc delivers an Exception alongside an event.
type ExceptionEventFunc func(Exception)

// DataTxFunc hands a byte range to the physical transmit layer. It is
// invoked synchronously from RunTask and must not block longer than
// one inter-frame interval.
type DataTxFunc func(data []byte)

// Handle is one engine instance bound to one bus.
type Handle struct {
	mode    Mode
	address *byte
	fifo    *FIFO

	rxComplete bool
	rxTimeout  uint16

	masterState MasterState
	queue       commandQueue
	lastCommand Command

	Coils     Strategy
	Discretes Strategy
	Holdings  Strategy
	Inputs    Strategy

	Quirks Quirks

	// RxTimeoutMs is the timeout budget (in ticks of TickRxTimeout)
	// reloaded into the counter each time the master sends a command.
	RxTimeoutMs uint16

	TxData DataTxFunc

	OnWriteComplete  EventFunc
	OnRemoteComplete EventFunc
	OnRemoteError    ExceptionEventFunc
	OnRxTimeout      EventFunc
}

// NewHandle creates a new engine instance with the given RX FIFO
// capacity. fifoCapacity should be at least 260 for a master role (the
// longest possible slave response); 32 bytes suffices for a slave
// role's request traffic.
func NewHandle(fifoCapacity int) *Handle {
	h := &Handle{
		fifo:        NewFIFO(fifoCapacity),
		Coils:       newBitStrategy(),
		Discretes:   newBitStrategy(),
		Holdings:    newWordStrategy(),
		Inputs:      newWordStrategy(),
		RxTimeoutMs: DefaultRxTimeoutMs,
		TxData:      func([]byte) {},
	}
	h.SetMode(ModeSlave)
	return h
}

// SetAddress binds the engine's local slave address by reference, so
// the host may rebind the application's address variable and have it
// take effect on the very next tick without a setter call.
func (h *Handle) SetAddress(address *byte) {
	h.address = address
}

func (h *Handle) localAddress() byte {
	if h.address == nil {
		return 0
	}
	return *h.address
}

// Mode reports the engine's current role.
func (h *Handle) Mode() Mode {
	return h.mode
}

// SetMode switches the engine's role. Switching to master flushes the
// pending command queue (flushing a slave-mode switch is a no-op,
// since slave mode has no queue semantics); either switch rebinds the
// task the next RunTask call invokes and reports the MODBUS-mandated
// inter-character gap for the new role via GapBitTimes.
func (h *Handle) SetMode(mode Mode) {
	h.mode = mode
	if mode == ModeMaster {
		h.queue.flush()
		h.masterState = StateSendIdle
	}
}

// GapBitTimes reports the inter-character receive timeout, in
// bit-times, the host's UART/timer should be configured with for the
// current mode.
func (h *Handle) GapBitTimes() int {
	if h.mode == ModeMaster {
		return MasterGapBitTimes
	}
	return SlaveGapBitTimes
}

// PushByte appends one received byte to the RX FIFO. Safe to call
// from an interrupt context; never blocks.
func (h *Handle) PushByte(b byte) {
	h.fifo.Push(b)
}

// MarkRxComplete signals that the inter-character gap has elapsed and
// a full frame is ready to decode. In slave mode this always arms the
// next RunTask call. In master mode, per spec, the signal is honored
// only while the engine is awaiting a reply (StateAwait) — a late
// signal arriving in any other state is ignored, so stale data from a
// previous exchange can never be mistaken for the current one.
func (h *Handle) MarkRxComplete() {
	if h.mode == ModeSlave || h.masterState == StateAwait {
		h.rxComplete = true
	}
}

// RunTask performs at most one frame's worth of work and never
// blocks. Call it periodically from the host's main loop or RTOS
// task.
func (h *Handle) RunTask() {
	if h.mode == ModeMaster {
		h.runMasterTask()
	} else {
		h.runSlaveTask()
	}
}
