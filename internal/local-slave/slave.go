// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package localslave binds a DataModel into a core.Handle's register
// strategy table and exposes the resulting slave as a
// transport.Downstream, so the gateway can route requests to an
// in-process simulated device exactly as it would to a remote one.
package localslave

import (
	"context"
	"sync"

	"github.com/paso-modbus/rtu-engine/core"
	"github.com/paso-modbus/rtu-engine/internal/local-slave/model"
	"github.com/paso-modbus/rtu-engine/internal/local-slave/persistence"
	"github.com/paso-modbus/rtu-engine/modbus"
	"github.com/paso-modbus/rtu-engine/modbus/crc"
)

// LocalSlave runs a core.Handle in slave mode against an in-memory
// DataModel, reachable as a transport.Downstream. It never touches a
// real bus: requests arrive and replies leave as already-framed bytes
// built straight into the handle's FIFO, which is enough to drive the
// same decode/dispatch path a real RTU link would.
type LocalSlave struct {
	mu      sync.Mutex // serializes Send: core.Handle is not safe for concurrent use
	handle  *core.Handle
	address byte
	model   *model.DataModel
	storage persistence.Storage
}

// NewLocalSlave creates a LocalSlave bound to the given address,
// backed by m and persisted through storage (persistence.MemoryStorage
// for a non-persistent device). The bound address tracks whatever
// slave id Send is called with, so one LocalSlave can answer for
// every slave id the gateway routes to it.
func NewLocalSlave(address byte, m *model.DataModel, storage persistence.Storage, quirks core.Quirks) *LocalSlave {
	s := &LocalSlave{
		handle:  core.NewHandle(core.FrameMaxSize),
		address: address,
		model:   m,
		storage: storage,
	}
	s.handle.SetAddress(&s.address)
	s.handle.Quirks = quirks
	s.bindStrategies()
	return s
}

func (s *LocalSlave) bindStrategies() {
	s.handle.Coils.Reading = func(address uint16) (uint16, core.Exception) {
		v, err := s.model.ReadCoil(address)
		if err != nil {
			return 0, core.ExceptionIllegalDataAddress
		}
		return v, core.ExceptionNone
	}
	s.handle.Coils.Writing = func(address uint16, value uint16) core.Exception {
		if err := s.model.WriteCoil(address, value); err != nil {
			return core.ExceptionIllegalDataAddress
		}
		s.storage.OnWrite(model.TableCoils, address, 1)
		return core.ExceptionNone
	}

	s.handle.Discretes.Reading = func(address uint16) (uint16, core.Exception) {
		v, err := s.model.ReadDiscreteInput(address)
		if err != nil {
			return 0, core.ExceptionIllegalDataAddress
		}
		return v, core.ExceptionNone
	}

	s.handle.Holdings.Reading = func(address uint16) (uint16, core.Exception) {
		v, err := s.model.ReadHoldingRegister(address)
		if err != nil {
			return 0, core.ExceptionIllegalDataAddress
		}
		return v, core.ExceptionNone
	}
	s.handle.Holdings.Writing = func(address uint16, value uint16) core.Exception {
		if err := s.model.WriteHoldingRegister(address, value); err != nil {
			return core.ExceptionIllegalDataAddress
		}
		s.storage.OnWrite(model.TableHoldingRegisters, address, 1)
		return core.ExceptionNone
	}

	s.handle.Inputs.Reading = func(address uint16) (uint16, core.Exception) {
		v, err := s.model.ReadInputRegister(address)
		if err != nil {
			return 0, core.ExceptionIllegalDataAddress
		}
		return v, core.ExceptionNone
	}
	s.handle.Inputs.Writing = func(address uint16, value uint16) core.Exception {
		// Only reachable via the RouteFC6ToInputs compatibility quirk.
		if err := s.model.WriteInputRegister(address, value); err != nil {
			return core.ExceptionIllegalDataAddress
		}
		s.storage.OnWrite(model.TableInputRegisters, address, 1)
		return core.ExceptionNone
	}
}

func (s *LocalSlave) Connect(context.Context) error { return nil }

func (s *LocalSlave) Close() error {
	return s.storage.Save(s.model)
}

// Send frames pdu as a request addressed to slaveID, runs it through
// the bound core.Handle exactly as a byte received off a real bus
// would be, and decodes whatever the handle transmits back into a PDU.
func (s *LocalSlave) Send(_ context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = slaveID

	request := make([]byte, 2+len(pdu.Data))
	request[0] = slaveID
	request[1] = pdu.FunctionCode
	copy(request[2:], pdu.Data)

	var c crc.CRC
	c.Reset().PushBytes(request)
	checksum := c.Value()
	request = append(request, byte(checksum>>8), byte(checksum))

	for _, b := range request {
		s.handle.PushByte(b)
	}
	s.handle.MarkRxComplete()

	var reply []byte
	s.handle.TxData = func(data []byte) {
		reply = append([]byte{}, data...)
	}
	s.handle.RunTask()

	if len(reply) < 4 {
		return modbus.ProtocolDataUnit{}, errNoReply
	}
	return modbus.ProtocolDataUnit{
		FunctionCode: reply[1],
		Data:         append([]byte{}, reply[2:len(reply)-2]...),
	}, nil
}

var errNoReply = &noReplyError{}

type noReplyError struct{}

func (*noReplyError) Error() string { return "local slave: no reply (frame addressed elsewhere or corrupted)" }
