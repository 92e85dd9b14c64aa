// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package core

// LocalReadFunc reads one register during slave request processing.
type LocalReadFunc func(address uint16) (uint16, Exception)

// LocalWriteFunc writes one register during slave request processing.
type LocalWriteFunc func(address uint16, value uint16) Exception

// RemoteDataFunc delivers one decoded register during master response
// processing.
type RemoteDataFunc func(slaveID byte, address uint16, value uint16)

// appendFunc appends one logical register (index i within the current
// response) into an outbound slave frame.
type appendFunc func(frame *SlaveFrame, value uint16, index int)

// readPayloadFunc reads one logical register (index i within the
// response) out of a received slave frame.
type readPayloadFunc func(frame *SlaveFrame, index int) uint16

// Strategy is the register-access strategy for one of the four
// MODBUS entity kinds. Reading/Writing are supplied by the
// application; Append/ReadPayload are fixed by the entity's bit- or
// word-packed wire representation and never need overriding.
type Strategy struct {
	Reading LocalReadFunc
	Writing LocalWriteFunc
	Remote  RemoteDataFunc

	append      appendFunc
	readPayload readPayloadFunc
}

func dummyRead(uint16) (uint16, Exception) {
	return 0, ExceptionIllegalFunction
}

func dummyWrite(uint16, uint16) Exception {
	return ExceptionIllegalFunction
}

// newBitStrategy builds a Strategy for coils/discretes: one-bit
// values packed 8-per-byte into the response payload.
func newBitStrategy() Strategy {
	return Strategy{
		Reading:     dummyRead,
		Writing:     dummyWrite,
		append:      appendBit,
		readPayload: readBit,
	}
}

// newWordStrategy builds a Strategy for holdings/inputs: 16-bit
// big-endian values.
func newWordStrategy() Strategy {
	return Strategy{
		Reading:     dummyRead,
		Writing:     dummyWrite,
		append:      appendWord,
		readPayload: readWord,
	}
}

// appendBit packs one bit into the outbound frame. Every eighth bit
// allocates a fresh zeroed payload byte and bumps ByteCount before the
// bit is OR'd in — matching the original FrameSlave_AppendCoil.
func appendBit(frame *SlaveFrame, value uint16, index int) {
	if index%8 == 0 {
		frame.Raw[frame.Length] = 0
		frame.Length++
		frame.Raw[2]++
	}
	frame.Raw[frame.Length-1] |= byte(value&1) << uint(index%8)
}

// readBit extracts bit `index` from a received slave frame's payload.
func readBit(frame *SlaveFrame, index int) uint16 {
	byteNum := index/8 + SlaveHeaderBytes
	bitNum := uint(index % 8)
	if frame.Raw[byteNum]&(1<<bitNum) != 0 {
		return 1
	}
	return 0
}

// appendWord packs one big-endian 16-bit register into the outbound
// frame.
func appendWord(frame *SlaveFrame, value uint16, _ int) {
	frame.Raw[frame.Length] = byte(value >> 8)
	frame.Raw[frame.Length+1] = byte(value)
	frame.Length += 2
	frame.Raw[2] += 2
}

// readWord extracts the big-endian 16-bit register at logical index
// `index` from a received slave frame's payload.
func readWord(frame *SlaveFrame, index int) uint16 {
	hi := index*2 + SlaveHeaderBytes
	return uint16(frame.Raw[hi])<<8 | uint16(frame.Raw[hi+1])
}
