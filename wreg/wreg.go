// Package wreg defines the W5100 register map: common registers, socket
// registers, command and status values and the TX/RX buffer memory layout.
package wreg

import (
	"errors"
	"strconv"
)

// Common registers.
const (
	MR     = 0x0000 // Mode.
	GAR    = 0x0001 // Gateway address, 4 bytes.
	SUBR   = 0x0005 // Subnet mask, 4 bytes.
	SHAR   = 0x0009 // Source hardware address, 6 bytes.
	SIPR   = 0x000F // Source IP address, 4 bytes.
	IR     = 0x0015 // Interrupt.
	IMR    = 0x0016 // Interrupt mask.
	RTR    = 0x0017 // Retry time in units of 100us, 2 bytes.
	RCR    = 0x0019 // Retry count.
	RMSR   = 0x001A // RX memory size.
	TMSR   = 0x001B // TX memory size.
	PATR   = 0x001C // PPPoE authentication type, 2 bytes.
	PTIMER = 0x0028 // PPP LCP request timer.
	PMAGIC = 0x0029 // PPP LCP magic number.
	UIPR   = 0x002A // Unreachable IP address, 4 bytes.
	UPORT  = 0x002E // Unreachable port, 2 bytes.
)

// MR bits.
const (
	MR_RST   = 1 << 7 // Software reset, self clearing.
	MR_PB    = 1 << 4 // Ping block.
	MR_PPPOE = 1 << 3
	MR_AI    = 1 << 1 // Address auto-increment, indirect bus mode only.
	MR_IND   = 1 << 0 // Indirect bus mode.
)

// IR and IMR bits.
const (
	IR_CONFLICT = 1 << 7
	IR_UNREACH  = 1 << 6
	IR_PPPOE    = 1 << 5
	IR_S3       = 1 << 3
	IR_S2       = 1 << 2
	IR_S1       = 1 << 1
	IR_S0       = 1 << 0
)

// Values of the common registers after reset.
const (
	RTR_RESET  = 0x07D0 // 200ms.
	RCR_RESET  = 0x08
	RMSR_RESET = 0x55 // 2KiB per socket.
	TMSR_RESET = 0x55
)

// Socket register offsets from [SocketBase].
const (
	Sn_MR     = 0x00 // Mode.
	Sn_CR     = 0x01 // Command.
	Sn_IR     = 0x02 // Interrupt.
	Sn_SR     = 0x03 // Status.
	Sn_PORT   = 0x04 // Source port, 2 bytes.
	Sn_DHAR   = 0x06 // Destination hardware address, 6 bytes.
	Sn_DIPR   = 0x0C // Destination IP address, 4 bytes.
	Sn_DPORT  = 0x10 // Destination port, 2 bytes.
	Sn_MSSR   = 0x12 // Maximum segment size, 2 bytes.
	Sn_PROTO  = 0x14 // IP protocol in IPRAW mode.
	Sn_TOS    = 0x15
	Sn_TTL    = 0x16
	Sn_TX_FSR = 0x20 // TX free size, 2 bytes.
	Sn_TX_RD  = 0x22 // TX read pointer, 2 bytes.
	Sn_TX_WR  = 0x24 // TX write pointer, 2 bytes.
	Sn_RX_RSR = 0x26 // RX received size, 2 bytes.
	Sn_RX_RD  = 0x28 // RX read pointer, 2 bytes.
)

// Sn_IR bits.
const (
	Sn_IR_SEND_OK = 1 << 4
	Sn_IR_TIMEOUT = 1 << 3
	Sn_IR_RECV    = 1 << 2
	Sn_IR_DISCON  = 1 << 1
	Sn_IR_CON     = 1 << 0
)

const (
	SocketCount      = 4
	socketBlock      = 0x0400
	socketStride     = 0x0100
	TXBase           = 0x4000
	RXBase           = 0x6000
	BufferMemorySize = 0x2000 // Per direction, shared among all sockets.
	MACRAWSocket     = 0      // Only socket 0 supports MACRAW mode.
	MACRAWHeaderSize = 2      // Big endian length prefixed to each received MACRAW frame.
	MaxEthernetFrame = 1514
	DefaultMSS       = 1460
)

// SocketBase returns the address of the first register of socket n.
func SocketBase(n uint8) uint16 {
	return socketBlock + uint16(n)*socketStride
}

// SocketReg returns the address of register off of socket n.
func SocketReg(n uint8, off uint16) uint16 {
	return SocketBase(n) + off
}

// SocketMode is the protocol selected in Sn_MR.
type SocketMode uint8

const (
	ModeClosed SocketMode = 0x00
	ModeTCP    SocketMode = 0x01
	ModeUDP    SocketMode = 0x02
	ModeIPRAW  SocketMode = 0x03
	ModeMACRAW SocketMode = 0x04
	ModePPPOE  SocketMode = 0x05
	// Flag bits.
	ModeND        SocketMode = 1 << 5 // No delayed ACK in TCP, IGMP version in UDP multicast.
	ModeMulticast SocketMode = 1 << 7
	ModeMACFilter SocketMode = 1 << 6 // MACRAW only receives frames addressed to the chip.
)

// Protocol strips the flag bits.
func (m SocketMode) Protocol() SocketMode { return m & 0x0f }

func (m SocketMode) String() string {
	switch m.Protocol() {
	case ModeClosed:
		return "closed"
	case ModeTCP:
		return "tcp"
	case ModeUDP:
		return "udp"
	case ModeIPRAW:
		return "ipraw"
	case ModeMACRAW:
		return "macraw"
	case ModePPPOE:
		return "pppoe"
	}
	return "mode(" + strconv.Itoa(int(m)) + ")"
}

// Command is a value written to Sn_CR. The chip clears Sn_CR once it
// accepts the command.
type Command uint8

const (
	CmdOpen     Command = 0x01
	CmdListen   Command = 0x02
	CmdConnect  Command = 0x04
	CmdDiscon   Command = 0x08
	CmdClose    Command = 0x10
	CmdSend     Command = 0x20
	CmdSendMAC  Command = 0x21
	CmdSendKeep Command = 0x22
	CmdRecv     Command = 0x40
)

func (c Command) String() string {
	switch c {
	case CmdOpen:
		return "OPEN"
	case CmdListen:
		return "LISTEN"
	case CmdConnect:
		return "CONNECT"
	case CmdDiscon:
		return "DISCON"
	case CmdClose:
		return "CLOSE"
	case CmdSend:
		return "SEND"
	case CmdSendMAC:
		return "SEND_MAC"
	case CmdSendKeep:
		return "SEND_KEEP"
	case CmdRecv:
		return "RECV"
	}
	return "cmd(" + strconv.Itoa(int(c)) + ")"
}

// Status is the socket state read from Sn_SR.
type Status uint8

const (
	StatusClosed      Status = 0x00
	StatusARP         Status = 0x01
	StatusInit        Status = 0x13
	StatusListen      Status = 0x14
	StatusSynSent     Status = 0x15
	StatusSynRecv     Status = 0x16
	StatusEstablished Status = 0x17
	StatusFinWait     Status = 0x18
	StatusClosing     Status = 0x1A
	StatusTimeWait    Status = 0x1B
	StatusCloseWait   Status = 0x1C
	StatusLastAck     Status = 0x1D
	StatusUDP         Status = 0x22
	StatusIPRAW       Status = 0x32
	StatusMACRAW      Status = 0x42
	StatusPPPOE       Status = 0x5F
)

// IsClosing reports whether the socket is in a TCP state that leads to closed.
func (s Status) IsClosing() bool {
	switch s {
	case StatusFinWait, StatusClosing, StatusTimeWait, StatusCloseWait, StatusLastAck:
		return true
	}
	return false
}

func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "CLOSED"
	case StatusARP:
		return "ARP"
	case StatusInit:
		return "INIT"
	case StatusListen:
		return "LISTEN"
	case StatusSynSent:
		return "SYNSENT"
	case StatusSynRecv:
		return "SYNRECV"
	case StatusEstablished:
		return "ESTABLISHED"
	case StatusFinWait:
		return "FIN_WAIT"
	case StatusClosing:
		return "CLOSING"
	case StatusTimeWait:
		return "TIME_WAIT"
	case StatusCloseWait:
		return "CLOSE_WAIT"
	case StatusLastAck:
		return "LAST_ACK"
	case StatusUDP:
		return "UDP"
	case StatusIPRAW:
		return "IPRAW"
	case StatusMACRAW:
		return "MACRAW"
	case StatusPPPOE:
		return "PPPOE"
	}
	return "status(" + strconv.Itoa(int(s)) + ")"
}

var errMemSize = errors.New("wreg: invalid socket buffer sizes")

// EncodeMemSizes returns the RMSR/TMSR value assigning sizes[n] bytes of buffer
// memory to socket n. Sizes must be 0, 1024, 2048, 4096 or 8192 and add up to
// at most 8KiB. Zero is only accepted for sockets following the ones that
// already use up all 8KiB.
func EncodeMemSizes(sizes [SocketCount]uint16) (byte, error) {
	var v byte
	total := 0
	for n, sz := range sizes {
		var bits byte
		switch sz {
		case 0:
			if total < BufferMemorySize {
				return 0, errMemSize
			}
		case 1024:
			bits = 0b00
		case 2048:
			bits = 0b01
		case 4096:
			bits = 0b10
		case 8192:
			bits = 0b11
		default:
			return 0, errMemSize
		}
		total += int(sz)
		if total > BufferMemorySize {
			return 0, errMemSize
		}
		v |= bits << (2 * n)
	}
	return v, nil
}

// DecodeMemSizes returns the buffer size of each socket for an RMSR/TMSR
// value. Sockets left without memory once 8KiB is assigned get size zero.
func DecodeMemSizes(msr byte) (sizes [SocketCount]uint16) {
	total := 0
	for n := range sizes {
		sz := 1024 << ((msr >> (2 * n)) & 0b11)
		if total+sz > BufferMemorySize {
			break
		}
		sizes[n] = uint16(sz)
		total += sz
	}
	return sizes
}

// BufferBases returns the start address of each socket's buffer inside a
// direction's memory region starting at base (TXBase or RXBase).
func BufferBases(base uint16, sizes [SocketCount]uint16) (bases [SocketCount]uint16) {
	for n := range sizes {
		bases[n] = base
		base += sizes[n]
	}
	return bases
}
