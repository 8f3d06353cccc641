package modbusmeter

import (
	"encoding/binary"
	"math"
)

// decode converts a register byte response into a float64
func decode(bytes []byte, reg Register) float64 {
	var n float64
	endian := byteOrder(reg.Endianness)
	switch reg.DataType {
	case "u16":
		n = float64(endian.Uint16(bytes))
	case "i16":
		n = float64(int16(endian.Uint16(bytes)))
	case "u32":
		n = float64(endian.Uint32(bytes))
	case "i32":
		n = float64(int32(endian.Uint32(bytes)))
	case "f32":
		n = float64(math.Float32frombits(endian.Uint32(bytes)))
	case "u64":
		n = float64(endian.Uint64(bytes))
	case "i64":
		n = float64(int64(endian.Uint64(bytes)))
	case "f64":
		n = math.Float64frombits(endian.Uint64(bytes))
	}
	return n
}

func byteOrder(endianness string) binary.ByteOrder {
	if endianness == "little" {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// sizeOf returns the number of u16 registers for the datatype, 0 if unknown
func sizeOf(dataType string) uint16 {
	switch dataType {
	case "u16", "i16":
		return 1
	case "u32", "i32", "f32":
		return 2
	case "u64", "i64", "f64":
		return 4
	}
	return 0
}
