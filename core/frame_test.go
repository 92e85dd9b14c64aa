// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package core

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paso-modbus/rtu-engine/modbus"
)

func pushAll(fifo *FIFO, data []byte) {
	for _, b := range data {
		fifo.Push(b)
	}
}

func TestDecodeMasterRequest_S1ReadHoldingRegisters(t *testing.T) {
	fifo := NewFIFO(32)
	pushAll(fifo, []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x76, 0x87})

	addr := byte(0x11)
	f, exc := DecodeMasterRequest(fifo, addr)
	if exc != ExceptionNone {
		t.Fatalf("decode error = %v", exc)
	}
	if f.FunctionCode() != modbus.FuncCodeReadHoldingRegisters || f.Address() != 0x6B || f.Count() != 3 {
		t.Fatalf("unexpected fields: fc=%d addr=%d count=%d", f.FunctionCode(), f.Address(), f.Count())
	}
}

func TestDecodeMasterRequest_WrongAddressIsInvalidFrame(t *testing.T) {
	fifo := NewFIFO(32)
	pushAll(fifo, []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x76, 0x87})

	_, exc := DecodeMasterRequest(fifo, 0x22)
	if exc != ExceptionInvalidFrame {
		t.Fatalf("exc = %v, want InvalidFrame", exc)
	}
}

func TestDecodeMasterRequest_S5CRCMismatch(t *testing.T) {
	fifo := NewFIFO(32)
	pushAll(fifo, []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03, 0x00, 0x00})

	_, exc := DecodeMasterRequest(fifo, 0x11)
	if exc != ExceptionInvalidFrame {
		t.Fatalf("exc = %v, want InvalidFrame", exc)
	}
}

func TestDecodeMasterRequest_S4UnsupportedFunction(t *testing.T) {
	fifo := NewFIFO(32)
	// "11 07 00 00 00 00 <crc>" with a correct CRC over the 6 header bytes.
	body := []byte{0x11, 0x07, 0x00, 0x00, 0x00, 0x00}
	pushAll(fifo, appendTestCRC(body))

	_, exc := DecodeMasterRequest(fifo, 0x11)
	if exc != ExceptionIllegalFunction {
		t.Fatalf("exc = %v, want IllegalFunction", exc)
	}
}

func TestBuildExceptionReply_S4(t *testing.T) {
	fifo := NewFIFO(32)
	body := []byte{0x11, 0x07, 0x00, 0x00, 0x00, 0x00}
	pushAll(fifo, appendTestCRC(body))

	req := &MasterFrame{}
	req.Length = fifo.DrainInto(req.Raw[:])

	reply := BuildExceptionReply(req, ExceptionIllegalFunction)
	got := reply.Raw[:reply.Length]
	want := appendTestCRC([]byte{0x11, 0x87, 0x01})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("exception reply mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeThenDecodeRoundTrip(t *testing.T) {
	cmd := Command{FunctionCode: modbus.FuncCodeReadHoldingRegisters, SlaveID: 0x11, Address: 0x6B, Count: 3}
	encoded := EncodeMasterRequest(cmd)

	fifo := NewFIFO(32)
	pushAll(fifo, encoded.Raw[:encoded.Length])

	decoded, exc := DecodeMasterRequest(fifo, cmd.SlaveID)
	if exc != ExceptionNone {
		t.Fatalf("decode error = %v", exc)
	}
	if decoded.FunctionCode() != cmd.FunctionCode || decoded.Address() != cmd.Address || decoded.Count() != cmd.Count {
		t.Fatalf("round trip mismatch: %+v vs %+v", decoded, cmd)
	}
}

// appendTestCRC is a test helper mirroring appendCRC's wire format
// without depending on package-internal frame buffers.
func appendTestCRC(body []byte) []byte {
	f := &SlaveFrame{}
	copy(f.Raw[:], body)
	n := appendCRC(f.Raw[:], len(body))
	return f.Raw[:n]
}
