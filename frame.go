package w5100

import (
	"encoding/binary"
	"errors"
	"strconv"
)

// FrameSize is the number of bytes exchanged in a single W5100 SPI transaction.
const FrameSize = 4

// Opcode is the first byte of a frame and selects the access direction.
type Opcode uint8

const (
	OpRead  Opcode = 0x0F
	OpWrite Opcode = 0xF0
)

func (op Opcode) String() string {
	switch op {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	}
	return "op(" + strconv.FormatUint(uint64(op), 16) + ")"
}

// Frame is a single register access as transmitted on the bus:
//
//	bits 31..24  opcode
//	bits 23..8   register address
//	bits  7..0   data (zero for reads)
//
// Frames are sent most significant byte first. During a read the chip
// returns the register value in the last byte it shifts out.
type Frame uint32

var (
	errShortFrame = errors.New("w5100: frame shorter than 4 bytes")
	errBadOpcode  = errors.New("w5100: invalid frame opcode")
)

// EncodeWrite returns the frame that writes data to register addr.
func EncodeWrite(addr uint16, data byte) Frame {
	return Frame(uint32(OpWrite)<<24 | uint32(addr)<<8 | uint32(data))
}

// EncodeRead returns the frame that reads register addr.
func EncodeRead(addr uint16) Frame {
	return Frame(uint32(OpRead)<<24 | uint32(addr)<<8)
}

// DecodeFrame parses the first 4 bytes of b as a frame.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < FrameSize {
		return 0, errShortFrame
	}
	f := Frame(binary.BigEndian.Uint32(b))
	if !f.Valid() {
		return f, errBadOpcode
	}
	return f, nil
}

// Put writes the frame to the first 4 bytes of b in wire order.
func (f Frame) Put(b []byte) { binary.BigEndian.PutUint32(b, uint32(f)) }

// Append appends the frame in wire order to dst.
func (f Frame) Append(dst []byte) []byte { return binary.BigEndian.AppendUint32(dst, uint32(f)) }

func (f Frame) Opcode() Opcode { return Opcode(f >> 24) }
func (f Frame) Addr() uint16   { return uint16(f >> 8) }
func (f Frame) Data() byte     { return byte(f) }
func (f Frame) IsRead() bool   { return f.Opcode() == OpRead }
func (f Frame) IsWrite() bool  { return f.Opcode() == OpWrite }

// Valid reports whether the frame carries a known opcode.
func (f Frame) Valid() bool { return f.IsRead() || f.IsWrite() }

func (f Frame) String() string {
	b := make([]byte, 0, 24)
	b = append(b, f.Opcode().String()...)
	b = append(b, " 0x"...)
	b = appendHex(b, uint64(f.Addr()), 4)
	if f.IsWrite() {
		b = append(b, " <- 0x"...)
		b = appendHex(b, uint64(f.Data()), 2)
	}
	return string(b)
}

func appendHex(dst []byte, v uint64, digits int) []byte {
	s := strconv.FormatUint(v, 16)
	for i := len(s); i < digits; i++ {
		dst = append(dst, '0')
	}
	return append(dst, s...)
}
