// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

// crcTable is pre-computed per byte value, avoiding the bit-shift loop on
// every push. Same polynomial (0xA001, reflected 0x8005) as the teacher's
// internal/simulator.crc16.
var crcTable = func() [256]uint16 {
	var table [256]uint16
	for i := 0; i < 256; i++ {
		crc := uint16(i)
		for j := 0; j < 8; j++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
		table[i] = crc
	}
	return table
}()

// crc accumulates a Modbus RTU/Binary CRC16 over pushed bytes. Init value is
// 0xFFFF, no final XOR (§3). Grounded on the teacher's rtuclient.go/
// asciiclient.go usage (`var crc crc; crc.reset().pushBytes(...).value()`);
// the defining file was not present in the retrieved teacher snapshot, so
// this reconstructs it from every call site plus
// internal/simulator/server.go's crc16 helper.
type crc struct {
	val uint16
}

func (c *crc) reset() *crc {
	c.val = 0xFFFF
	return c
}

func (c *crc) pushByte(b byte) *crc {
	c.val = (c.val >> 8) ^ crcTable[byte(c.val)^b]
	return c
}

func (c *crc) pushBytes(data []byte) *crc {
	for _, b := range data {
		c.pushByte(b)
	}
	return c
}

func (c *crc) value() uint16 {
	return c.val
}

// crc16 computes the CRC16 over data in one call, little-endian on the wire
// per §3/§6. Used by the RTU and Binary frame codecs.
func crc16(data []byte) uint16 {
	var c crc
	c.reset().pushBytes(data)
	return c.value()
}
