// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package core

import "github.com/paso-modbus/rtu-engine/modbus"

// MasterState is the master role's explicit three-state task machine.
// The function-pointer "state" of the original source is represented
// here as a plain enum switched on in runMasterTask, per spec's
// recommendation that the indirection is an implementation detail,
// not a semantic feature.
type MasterState int

const (
	StateSendIdle MasterState = iota
	StateAwait
	StateElaborate
)

// DefaultRxTimeoutMs is the millisecond timeout budget for a master
// command awaiting a reply.
const DefaultRxTimeoutMs = 250

// EnqueueCommand appends a command to the master role's bounded queue.
// It reports false if the queue is already full; the caller is
// expected to check (the core does not block or retry).
func (h *Handle) EnqueueCommand(cmd Command) bool {
	return h.queue.enqueue(cmd)
}

func (h *Handle) runMasterTask() {
	switch h.masterState {
	case StateSendIdle:
		h.masterSendIdle()
	case StateAwait:
		h.masterAwait()
	case StateElaborate:
		h.masterElaborate()
	}
}

func (h *Handle) masterSendIdle() {
	cmd, ok := h.queue.dequeue()
	if !ok {
		return
	}
	h.lastCommand = cmd
	req := EncodeMasterRequest(cmd)

	// The timeout counter is reset before transmit so a tick racing in
	// from the millisecond timer never observes the stale value.
	h.masterState = StateAwait
	h.rxTimeout = h.RxTimeoutMs

	h.TxData(req.Raw[:req.Length])
}

func (h *Handle) masterAwait() {
	if h.rxComplete {
		h.rxComplete = false
		h.masterState = StateElaborate
		return
	}
	if h.rxTimeout == 0 {
		if h.OnRxTimeout != nil {
			h.OnRxTimeout()
		}
		h.masterState = StateSendIdle
	}
}

func (h *Handle) masterElaborate() {
	resp, exc := DecodeSlaveResponse(h.fifo)
	if exc == ExceptionNone {
		strat := h.strategyFor(resp.FunctionCode())
		if strat != nil {
			for i := 0; i < int(h.lastCommand.Count); i++ {
				value := strat.readPayload(resp, i)
				if strat.Remote != nil {
					strat.Remote(h.lastCommand.SlaveID, h.lastCommand.Address+uint16(i), value)
				}
			}
		}
		if h.OnRemoteComplete != nil {
			h.OnRemoteComplete()
		}
	} else if h.OnRemoteError != nil {
		h.OnRemoteError(exc)
	}
	h.masterState = StateSendIdle
}

func (h *Handle) strategyFor(fc byte) *Strategy {
	switch fc {
	case modbus.FuncCodeReadCoils:
		return &h.Coils
	case modbus.FuncCodeReadDiscreteInputs:
		return &h.Discretes
	case modbus.FuncCodeReadHoldingRegisters:
		return &h.Holdings
	case modbus.FuncCodeReadInputRegisters:
		return &h.Inputs
	default:
		return nil
	}
}

// TickRxTimeout decrements the millisecond timeout counter. It is a
// no-op outside the Await state, so a slow external timer can call it
// unconditionally every tick without corrupting other states.
func (h *Handle) TickRxTimeout() {
	if h.masterState == StateAwait && h.rxTimeout != 0 {
		h.rxTimeout--
	}
}
