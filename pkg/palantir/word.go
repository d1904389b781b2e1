// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 PinballWizards

package palantir

import "fmt"

// Word is one 9-bit bus symbol: 8 data bits plus the address marker in bit 8
type Word uint16

// AddressWord packs a destination address with the marker bit set
func AddressWord(a Address) Word {
	return AddressMarker | Word(a)
}

// DataWord packs a payload byte with the marker bit clear
func DataWord(b byte) Word {
	return Word(b)
}

// IsAddress reports whether the marker bit is set
func (w Word) IsAddress() bool {
	return w&AddressMarker != 0
}

// Address returns the destination named by an address word.
// The result is meaningless for data words.
func (w Word) Address() Address {
	return Address(w & 0xFF)
}

// Byte returns the low 8 bits
func (w Word) Byte() byte {
	return byte(w & 0xFF)
}

// String renders the word as "@NN" for address words and "NN" for data
func (w Word) String() string {
	if w.IsAddress() {
		return fmt.Sprintf("@%02X", w.Byte())
	}
	return fmt.Sprintf("%02X", w.Byte())
}
