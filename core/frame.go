// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package core

import (
	"github.com/paso-modbus/rtu-engine/modbus"
	"github.com/paso-modbus/rtu-engine/modbus/crc"
)

// Frame size constants, grounded on the byte budget of the eight
// supported function codes: the longest read response is a 3-byte
// header plus 252 bytes of register data plus 2 bytes of CRC.
const (
	FrameMaxSize      = 260
	MasterHeaderBytes = 6
	SlaveHeaderBytes  = 3
	MasterFrameLength = 8
	SlaveFrameLength  = 6
)

// MasterFrame is the decoded view of a request addressed to a slave:
// slave id, function code, address, and either a register count (reads
// and single writes) or a byte count plus payload (multi writes).
type MasterFrame struct {
	Raw    [FrameMaxSize]byte
	Length int
}

func (f *MasterFrame) SlaveID() byte      { return f.Raw[0] }
func (f *MasterFrame) FunctionCode() byte { return f.Raw[1] }
func (f *MasterFrame) Address() uint16    { return uint16(f.Raw[2])<<8 | uint16(f.Raw[3]) }

// Count returns the register count for read/multi-write requests, or
// the raw 16-bit value for single-coil/single-register writes — the
// same two bytes carry both meanings, matching the original command
// descriptor's field reuse.
func (f *MasterFrame) Count() uint16  { return uint16(f.Raw[4])<<8 | uint16(f.Raw[5]) }
func (f *MasterFrame) ByteCount() byte { return f.Raw[6] }

// SlaveFrame is the decoded view of a slave's reply: slave id, function
// code, and a byte-count/exception-code byte shared by read responses
// and exception replies alike.
type SlaveFrame struct {
	Raw    [FrameMaxSize]byte
	Length int
}

func (f *SlaveFrame) SlaveID() byte      { return f.Raw[0] }
func (f *SlaveFrame) FunctionCode() byte { return f.Raw[1] }
func (f *SlaveFrame) ByteCount() byte    { return f.Raw[2] }

func isReadFunction(fc byte) bool {
	switch fc {
	case modbus.FuncCodeReadCoils, modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters:
		return true
	}
	return false
}

func isSingleWriteFunction(fc byte) bool {
	return fc == modbus.FuncCodeWriteSingleCoil || fc == modbus.FuncCodeWriteSingleRegister
}

func isMultiWriteFunction(fc byte) bool {
	return fc == modbus.FuncCodeWriteMultipleCoils || fc == modbus.FuncCodeWriteMultipleRegisters
}

func checkCRC(raw []byte, length int) bool {
	var c crc.CRC
	c.Reset().PushBytes(raw[:length])
	expect := uint16(raw[length])<<8 | uint16(raw[length+1])
	return expect == c.Value()
}

func appendCRC(raw []byte, length int) int {
	var c crc.CRC
	c.Reset().PushBytes(raw[:length])
	v := c.Value()
	raw[length] = byte(v >> 8)
	raw[length+1] = byte(v)
	return length + 2
}

// DecodeMasterRequest drains fifo and interprets its contents as a
// request addressed to localAddress. It never blocks and always
// consumes the FIFO, per spec.
func DecodeMasterRequest(fifo *FIFO, localAddress byte) (*MasterFrame, Exception) {
	f := &MasterFrame{}
	f.Length = fifo.DrainInto(f.Raw[:])

	if f.Length < MasterFrameLength || f.Raw[0] != localAddress {
		return nil, ExceptionInvalidFrame
	}

	var crcLen int
	switch {
	case isReadFunction(f.FunctionCode()) || isSingleWriteFunction(f.FunctionCode()):
		crcLen = MasterHeaderBytes
	case isMultiWriteFunction(f.FunctionCode()):
		crcLen = MasterHeaderBytes + int(f.ByteCount()) + 1
	default:
		return nil, ExceptionIllegalFunction
	}

	if crcLen+2 > f.Length || !checkCRC(f.Raw[:], crcLen) {
		return nil, ExceptionInvalidFrame
	}
	return f, ExceptionNone
}

// DecodeSlaveResponse drains fifo and interprets its contents as a
// slave's reply, for the master role.
func DecodeSlaveResponse(fifo *FIFO) (*SlaveFrame, Exception) {
	f := &SlaveFrame{}
	f.Length = fifo.DrainInto(f.Raw[:])

	if f.Length < SlaveFrameLength {
		return nil, ExceptionInvalidFrame
	}

	var crcLen int
	switch {
	case isReadFunction(f.FunctionCode()):
		crcLen = SlaveHeaderBytes + int(f.ByteCount())
	case isSingleWriteFunction(f.FunctionCode()) || isMultiWriteFunction(f.FunctionCode()):
		crcLen = MasterHeaderBytes
	default:
		return nil, ExceptionIllegalFunction
	}

	if crcLen+2 > f.Length || !checkCRC(f.Raw[:], crcLen) {
		return nil, ExceptionInvalidFrame
	}
	return f, ExceptionNone
}

// EncodeMasterRequest builds an outbound request frame from a queued
// command.
func EncodeMasterRequest(cmd Command) *MasterFrame {
	f := &MasterFrame{}
	f.Raw[0] = cmd.SlaveID
	f.Raw[1] = cmd.FunctionCode
	f.Raw[2] = byte(cmd.Address >> 8)
	f.Raw[3] = byte(cmd.Address)
	f.Raw[4] = byte(cmd.Count >> 8)
	f.Raw[5] = byte(cmd.Count)
	f.Length = appendCRC(f.Raw[:], MasterHeaderBytes)
	return f
}

// BuildExceptionReply builds a 5-byte exception reply for a decoded
// request, per spec: slave id copied, bit 7 of the function code set,
// third byte the exception code.
func BuildExceptionReply(req *MasterFrame, exc Exception) *SlaveFrame {
	f := &SlaveFrame{}
	f.Raw[0] = req.SlaveID()
	f.Raw[1] = req.FunctionCode() | 0x80
	f.Raw[2] = byte(exc)
	f.Length = appendCRC(f.Raw[:], SlaveHeaderBytes)
	return f
}

// EchoAsReply copies req's raw bytes up to n (excluding CRC) verbatim
// into a new reply frame and appends a fresh CRC — used by the
// single-write and multi-write handlers, whose successful reply is a
// byte-for-byte echo of the request header.
func EchoAsReply(req *MasterFrame, n int) *SlaveFrame {
	f := &SlaveFrame{}
	copy(f.Raw[:n], req.Raw[:n])
	f.Length = appendCRC(f.Raw[:], n)
	return f
}
