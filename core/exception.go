// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package core

import "fmt"

// Exception is the engine's internal error taxonomy. Values 1-6 are
// the MODBUS wire exception codes (they are written verbatim as the
// single payload byte of an exception reply); InvalidFrame is
// internal-only and never appears on the wire — a frame that earns it
// gets no reply at all.
type Exception byte

const (
	ExceptionNone                Exception = 0
	ExceptionIllegalFunction     Exception = 1
	ExceptionIllegalDataAddress  Exception = 2
	ExceptionInvalidDataValue    Exception = 3
	ExceptionDeviceFailure       Exception = 4
	ExceptionAcknowledge         Exception = 5
	ExceptionServerBusy          Exception = 6
	ExceptionInvalidFrame        Exception = 100
)

func (e Exception) Error() string {
	switch e {
	case ExceptionNone:
		return "modbus: no exception"
	case ExceptionIllegalFunction:
		return "modbus: illegal function"
	case ExceptionIllegalDataAddress:
		return "modbus: illegal data address"
	case ExceptionInvalidDataValue:
		return "modbus: invalid data value"
	case ExceptionDeviceFailure:
		return "modbus: server device failure"
	case ExceptionAcknowledge:
		return "modbus: acknowledge"
	case ExceptionServerBusy:
		return "modbus: server device busy"
	case ExceptionInvalidFrame:
		return "modbus: invalid frame"
	default:
		return fmt.Sprintf("modbus: exception %d", byte(e))
	}
}
