// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 PinballWizards

package palantir

import "github.com/sigurn/crc16"

// CRC-16/CCITT-FALSE: polynomial 0x1021, initial value 0xFFFF
var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// CalculateCRC computes the frame integrity code for the given data
func CalculateCRC(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// frameCRC computes the integrity code over the frame header and payload
// without building a contiguous copy.
func frameCRC(target Address, length uint8, source Address, payload []byte) uint16 {
	var header [3]byte
	header[0], header[1], header[2] = target, length, source
	crc := crc16.Init(crcTable)
	crc = crc16.Update(crc, header[:], crcTable)
	crc = crc16.Update(crc, payload, crcTable)
	return crc16.Complete(crc, crcTable)
}
