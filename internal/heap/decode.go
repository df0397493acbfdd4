package heap

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf16"
)

// MaxStringLength bounds the number of UTF-16 units read from one string.
const MaxStringLength = 1 << 20

// ReadBytes reads exactly n bytes at addr.
func ReadBytes(mem Memory, addr Addr, n int) ([]byte, error) {
	if addr == Null {
		return nil, fmt.Errorf("read %d bytes at null address", n)
	}
	buf := make([]byte, n)
	if err := mem.ReadAt(buf, addr); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadPtr reads a pointer-sized value at addr.
func ReadPtr(mem Memory, addr Addr) (Addr, error) {
	v, err := ReadUint(mem, addr, PointerSize)
	return Addr(v), err
}

// ReadUint reads a little-endian unsigned integer of the given width.
func ReadUint(mem Memory, addr Addr, width int) (uint64, error) {
	buf, err := ReadBytes(mem, addr, width)
	if err != nil {
		return 0, err
	}
	switch width {
	case 1:
		return uint64(buf[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf)), nil
	case 8:
		return binary.LittleEndian.Uint64(buf), nil
	default:
		return 0, fmt.Errorf("unsupported integer width %d", width)
	}
}

// ReadInt reads a little-endian signed integer of the given width.
func ReadInt(mem Memory, addr Addr, width int) (int64, error) {
	u, err := ReadUint(mem, addr, width)
	if err != nil {
		return 0, err
	}
	switch width {
	case 1:
		return int64(int8(u)), nil
	case 2:
		return int64(int16(u)), nil
	case 4:
		return int64(int32(u)), nil
	default:
		return int64(u), nil
	}
}

// ReadFloat32 reads an IEEE-754 single at addr.
func ReadFloat32(mem Memory, addr Addr) (float32, error) {
	u, err := ReadUint(mem, addr, 4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(uint32(u)), nil
}

// ReadFloat64 reads an IEEE-754 double at addr.
func ReadFloat64(mem Memory, addr Addr) (float64, error) {
	u, err := ReadUint(mem, addr, 8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(u), nil
}

// ReadString decodes the foreign string object at str.
func ReadString(mem Memory, str Addr) (string, error) {
	n, err := ReadInt(mem, str.Offset(StringLengthOffset), 4)
	if err != nil {
		return "", err
	}
	if n < 0 || n > MaxStringLength {
		return "", fmt.Errorf("string at %s has implausible length %d", str, n)
	}
	if n == 0 {
		return "", nil
	}
	buf, err := ReadBytes(mem, str.Offset(StringCharsOffset), int(n)*2)
	if err != nil {
		return "", err
	}
	units := make([]uint16, n)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(buf[i*2:])
	}
	return string(utf16.Decode(units)), nil
}

// ReadArrayLength reads the element count of the foreign array at arr.
func ReadArrayLength(mem Memory, arr Addr) (int, error) {
	n, err := ReadInt(mem, arr.Offset(ArrayLengthOffset), 8)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("array at %s has negative length %d", arr, n)
	}
	return int(n), nil
}
