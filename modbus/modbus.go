// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus defines the wire-level vocabulary shared by every
// transport and by the core engine: the protocol data unit, the
// function/exception code constants, and the minimal interfaces a
// transport must satisfy to carry a PDU to a slave and back.
package modbus

import "context"

// ProtocolDataUnit is a Modbus PDU: a function code plus its payload,
// stripped of any transport-specific framing (slave id, CRC, MBAP
// header, ...).
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// Function codes supported by the core engine (spec §1, §6) plus the
// handful of additional codes the RTU wire-level framer recognizes
// purely for response-length bookkeeping (it never dispatches them).
const (
	FuncCodeReadCoils                  = 1
	FuncCodeReadDiscreteInputs         = 2
	FuncCodeReadHoldingRegisters       = 3
	FuncCodeReadInputRegisters         = 4
	FuncCodeWriteSingleCoil            = 5
	FuncCodeWriteSingleRegister        = 6
	FuncCodeReadExceptionStatus        = 7
	FuncCodeDiagnostic                 = 8
	FuncCodeGetCommEventCounter        = 11
	FuncCodeGetCommEventLog            = 12
	FuncCodeWriteMultipleCoils         = 15
	FuncCodeWriteMultipleRegisters     = 16
	FuncCodeReportServerID             = 17
	FuncCodeReadFileRecord             = 20
	FuncCodeWriteFileRecord            = 21
	FuncCodeMaskWriteRegister          = 22
	FuncCodeReadWriteMultipleRegisters = 23
	FuncCodeReadFIFOQueue              = 24
	FuncCodeEncapsulatedInterface      = 43
	FuncCodeReadDeviceIdentification   = 14
)

// Exception codes. 1-6 are the values MODBUS puts on the wire (spec
// §6); 10 and 11 are gateway codes that the core engine never produces,
// and the host-side servers send 11 when a downstream times out.
const (
	ExceptionCodeIllegalFunction                    = 1
	ExceptionCodeIllegalDataAddress                 = 2
	ExceptionCodeIllegalDataValue                   = 3
	ExceptionCodeServerDeviceFailure                = 4
	ExceptionCodeAcknowledge                        = 5
	ExceptionCodeServerDeviceBusy                   = 6
	ExceptionCodeGatewayPathUnavailable              = 10
	ExceptionCodeGatewayTargetDeviceFailedToRespond = 11
)

// Transporter carries a raw request frame to a slave and returns the
// raw response frame. Implementations (RTU, TCP, ...) own framing and
// checksum concerns; Transporter only moves bytes.
type Transporter interface {
	Send(ctx context.Context, aduRequest []byte) (aduResponse []byte, err error)
}

// Connector manages the lifecycle of the underlying physical or
// network link a Transporter uses.
type Connector interface {
	Connect(ctx context.Context) error
	Close() error
}
