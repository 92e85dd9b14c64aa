// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package core

import "github.com/paso-modbus/rtu-engine/modbus"

// runSlaveTask is the slave role's tick function. It is a no-op until
// the RX-complete flag is set; then it decodes exactly one frame and,
// unless the frame was invalid, transmits exactly one reply.
func (h *Handle) runSlaveTask() {
	if !h.rxComplete {
		return
	}
	h.rxComplete = false

	req, exc := DecodeMasterRequest(h.fifo, h.localAddress())
	if exc == ExceptionInvalidFrame {
		// MODBUS forbids replying to frames not addressed to us or
		// corrupted beyond trust; silent drop.
		return
	}

	var reply *SlaveFrame
	if exc != ExceptionNone {
		reply = BuildExceptionReply(req, exc)
	} else {
		reply = h.dispatchSlaveRequest(req)
	}

	h.TxData(reply.Raw[:reply.Length])
}

func (h *Handle) dispatchSlaveRequest(req *MasterFrame) *SlaveFrame {
	switch req.FunctionCode() {
	case modbus.FuncCodeReadCoils:
		return h.handleRead(req, &h.Coils)
	case modbus.FuncCodeReadDiscreteInputs:
		return h.handleRead(req, &h.Discretes)
	case modbus.FuncCodeReadHoldingRegisters:
		return h.handleRead(req, &h.Holdings)
	case modbus.FuncCodeReadInputRegisters:
		return h.handleRead(req, &h.Inputs)
	case modbus.FuncCodeWriteSingleCoil:
		return h.handleWriteSingleCoil(req)
	case modbus.FuncCodeWriteSingleRegister:
		return h.handleWriteSingleRegister(req)
	case modbus.FuncCodeWriteMultipleCoils:
		return h.handleWriteMultipleCoils(req)
	case modbus.FuncCodeWriteMultipleRegisters:
		return h.handleWriteMultipleRegisters(req)
	default:
		return BuildExceptionReply(req, ExceptionIllegalFunction)
	}
}

// handleRead builds a read response by iterating [address, address+count),
// aborting with the handler's own exception (discarding any data already
// appended) on the first error.
func (h *Handle) handleRead(req *MasterFrame, strat *Strategy) *SlaveFrame {
	address := req.Address()
	count := req.Count()

	resp := &SlaveFrame{}
	resp.Raw[0] = req.SlaveID()
	resp.Raw[1] = req.FunctionCode()
	resp.Raw[2] = 0
	resp.Length = SlaveHeaderBytes

	for i := 0; i < int(count); i++ {
		value, exc := strat.Reading(address + uint16(i))
		if exc != ExceptionNone {
			return BuildExceptionReply(req, exc)
		}
		strat.append(resp, value, i)
	}

	resp.Length = appendCRC(resp.Raw[:], resp.Length)
	return resp
}

func (h *Handle) handleWriteSingleCoil(req *MasterFrame) *SlaveFrame {
	address := req.Address()
	raw := req.Count()

	var value uint16
	switch raw {
	case 0xFF00:
		value = 1
	case 0x0000:
		value = 0
	default:
		return BuildExceptionReply(req, ExceptionInvalidDataValue)
	}

	if exc := h.Coils.Writing(address, value); exc != ExceptionNone {
		return BuildExceptionReply(req, exc)
	}
	h.fireWriteComplete()
	return EchoAsReply(req, MasterHeaderBytes)
}

func (h *Handle) handleWriteSingleRegister(req *MasterFrame) *SlaveFrame {
	address := req.Address()
	value := req.Count()

	strat := &h.Holdings
	if h.Quirks.RouteFC6ToInputs {
		strat = &h.Inputs
	}

	if exc := strat.Writing(address, value); exc != ExceptionNone {
		return BuildExceptionReply(req, exc)
	}
	h.fireWriteComplete()
	return EchoAsReply(req, MasterHeaderBytes)
}

func (h *Handle) handleWriteMultipleCoils(req *MasterFrame) *SlaveFrame {
	address := req.Address()
	count := req.Count()

	readIndex := MasterHeaderBytes
	for i := 0; i < int(count); i++ {
		if i%8 == 0 {
			readIndex++
		}
		bit := (req.Raw[readIndex] >> uint(i%8)) & 0x01
		if exc := h.Coils.Writing(address+uint16(i), uint16(bit)); exc != ExceptionNone {
			return BuildExceptionReply(req, exc)
		}
	}

	h.fireWriteComplete()
	return EchoAsReply(req, MasterHeaderBytes)
}

func (h *Handle) handleWriteMultipleRegisters(req *MasterFrame) *SlaveFrame {
	address := req.Address()
	count := req.Count()

	readIndex := MasterHeaderBytes + 1
	for i := 0; i < int(count); i++ {
		value := uint16(req.Raw[readIndex])<<8 | uint16(req.Raw[readIndex+1])
		readIndex += 2

		// No rollback on error: words already written stay written,
		// per spec's fixed partial-write semantics.
		if exc := h.Holdings.Writing(address+uint16(i), value); exc != ExceptionNone {
			return BuildExceptionReply(req, exc)
		}
	}

	h.fireWriteComplete()
	return EchoAsReply(req, MasterHeaderBytes)
}

func (h *Handle) fireWriteComplete() {
	if h.OnWriteComplete != nil {
		h.OnWriteComplete()
	}
}
