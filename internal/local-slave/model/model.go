// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package model holds the in-memory register tables a local slave
// exposes, addressed one register at a time to match core.Strategy's
// LocalReadFunc/LocalWriteFunc shape — the frame codec in core owns
// packing/unpacking, so the model never sees wire bytes.
package model

import (
	"fmt"
	"sync"
)

const (
	MaxAddress = 65535
)

// TableType identifies one of the four Modbus entity kinds, for
// persistence backends that log or batch writes per table.
type TableType int

const (
	TableCoils TableType = iota
	TableDiscreteInputs
	TableHoldingRegisters
	TableInputRegisters
)

// DataModel holds the modbus data in memory: a simple flat address
// space covering the full 16-bit range for each of the four entities.
type DataModel struct {
	mu sync.RWMutex

	// 0x Coils (Read/Write). Stored as 1 (ON) or 0 (OFF).
	Coils []byte
	// 1x Discrete Inputs (Read Only). Stored as 1 (ON) or 0 (OFF).
	DiscreteInputs []byte
	// 4x Holding Registers (Read/Write).
	HoldingRegisters []uint16
	// 3x Input Registers (Read Only, but writable via the
	// WriteSingleRegister inputs-routing quirk).
	InputRegisters []uint16
}

// NewDataModel creates a new memory model initialized to zero.
func NewDataModel() *DataModel {
	return &DataModel{
		Coils:            make([]byte, MaxAddress+1),
		DiscreteInputs:   make([]byte, MaxAddress+1),
		HoldingRegisters: make([]uint16, MaxAddress+1),
		InputRegisters:   make([]uint16, MaxAddress+1),
	}
}

func validateAddress(address uint16) error {
	if int(address) > MaxAddress {
		return fmt.Errorf("address %d out of range", address)
	}
	return nil
}

// ReadCoil reads one coil, returning 1 (ON) or 0 (OFF).
func (m *DataModel) ReadCoil(address uint16) (uint16, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := validateAddress(address); err != nil {
		return 0, err
	}
	return uint16(m.Coils[address]), nil
}

// WriteCoil writes one coil. value must already be normalized to 0/1
// by the caller (the engine validates the 0xFF00/0x0000 wire encoding
// before reaching here).
func (m *DataModel) WriteCoil(address uint16, value uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := validateAddress(address); err != nil {
		return err
	}
	if value != 0 {
		m.Coils[address] = 1
	} else {
		m.Coils[address] = 0
	}
	return nil
}

// ReadDiscreteInput reads one discrete input, returning 1 or 0.
func (m *DataModel) ReadDiscreteInput(address uint16) (uint16, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := validateAddress(address); err != nil {
		return 0, err
	}
	return uint16(m.DiscreteInputs[address]), nil
}

// SetDiscreteInput sets a discrete input's simulated value. Discrete
// inputs are read-only over the wire; this exists for whatever drives
// the simulated field device (a test harness, a poller on another
// bus) to update what the engine later reports.
func (m *DataModel) SetDiscreteInput(address uint16, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := validateAddress(address); err != nil {
		return err
	}
	if on {
		m.DiscreteInputs[address] = 1
	} else {
		m.DiscreteInputs[address] = 0
	}
	return nil
}

// ReadHoldingRegister reads one holding register.
func (m *DataModel) ReadHoldingRegister(address uint16) (uint16, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := validateAddress(address); err != nil {
		return 0, err
	}
	return m.HoldingRegisters[address], nil
}

// WriteHoldingRegister writes one holding register.
func (m *DataModel) WriteHoldingRegister(address uint16, value uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := validateAddress(address); err != nil {
		return err
	}
	m.HoldingRegisters[address] = value
	return nil
}

// ReadInputRegister reads one input register.
func (m *DataModel) ReadInputRegister(address uint16) (uint16, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := validateAddress(address); err != nil {
		return 0, err
	}
	return m.InputRegisters[address], nil
}

// WriteInputRegister writes one input register. Normally unreachable
// over the wire, except through the WriteSingleRegister
// inputs-routing compatibility quirk.
func (m *DataModel) WriteInputRegister(address uint16, value uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := validateAddress(address); err != nil {
		return err
	}
	m.InputRegisters[address] = value
	return nil
}
