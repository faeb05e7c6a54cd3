// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package crc

// CRC is the running Modbus CRC-16 checksum (polynomial mask 0xA001,
// seed 0xFFFF). The zero value is not ready for use; call Reset first.
type CRC struct {
	value uint16
}

// Reset initializes the checksum with the Modbus seed value.
func (c *CRC) Reset() *CRC {
	c.value = 0xFFFF
	return c
}

// PushBytes folds bs into the running checksum.
func (c *CRC) PushBytes(bs []byte) *CRC {
	for _, b := range bs {
		c.value ^= uint16(b)
		for i := 0; i < 8; i++ {
			if c.value&1 != 0 {
				c.value = c.value>>1 ^ 0xA001
			} else {
				c.value >>= 1
			}
		}
	}
	return c
}

// Value returns the checksum of the bytes pushed so far.
// On the wire the low byte is transmitted first.
func (c *CRC) Value() uint16 {
	return c.value
}

// Checksum returns the Modbus CRC-16 of data in one call.
func Checksum(data []byte) uint16 {
	var c CRC
	return c.Reset().PushBytes(data).Value()
}
