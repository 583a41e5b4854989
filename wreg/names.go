package wreg

import "strconv"

type regSpan struct {
	addr uint16
	size uint8
	name string
}

var commonRegs = []regSpan{
	{MR, 1, "MR"}, {GAR, 4, "GAR"}, {SUBR, 4, "SUBR"}, {SHAR, 6, "SHAR"},
	{SIPR, 4, "SIPR"}, {IR, 1, "IR"}, {IMR, 1, "IMR"}, {RTR, 2, "RTR"},
	{RCR, 1, "RCR"}, {RMSR, 1, "RMSR"}, {TMSR, 1, "TMSR"}, {PATR, 2, "PATR"},
	{PTIMER, 1, "PTIMER"}, {PMAGIC, 1, "PMAGIC"}, {UIPR, 4, "UIPR"}, {UPORT, 2, "UPORT"},
}

var socketRegs = []regSpan{
	{Sn_MR, 1, "MR"}, {Sn_CR, 1, "CR"}, {Sn_IR, 1, "IR"}, {Sn_SR, 1, "SR"},
	{Sn_PORT, 2, "PORT"}, {Sn_DHAR, 6, "DHAR"}, {Sn_DIPR, 4, "DIPR"}, {Sn_DPORT, 2, "DPORT"},
	{Sn_MSSR, 2, "MSSR"}, {Sn_PROTO, 1, "PROTO"}, {Sn_TOS, 1, "TOS"}, {Sn_TTL, 1, "TTL"},
	{Sn_TX_FSR, 2, "TX_FSR"}, {Sn_TX_RD, 2, "TX_RD"}, {Sn_TX_WR, 2, "TX_WR"},
	{Sn_RX_RSR, 2, "RX_RSR"}, {Sn_RX_RD, 2, "RX_RD"},
}

// RegisterName returns a human readable name for addr such as "SIPR+1",
// "S2_TX_WR" or "RX+0x01f0". Unmapped addresses are printed in hex.
func RegisterName(addr uint16) string {
	switch {
	case addr >= RXBase && addr < RXBase+BufferMemorySize:
		return "RX+0x" + hex4(addr-RXBase)
	case addr >= TXBase && addr < TXBase+BufferMemorySize:
		return "TX+0x" + hex4(addr-TXBase)
	case addr >= SocketBase(0) && addr < SocketBase(SocketCount):
		n := uint8((addr - socketBlock) / socketStride)
		if name, ok := lookup(socketRegs, addr-SocketBase(n)); ok {
			return "S" + strconv.Itoa(int(n)) + "_" + name
		}
	default:
		if name, ok := lookup(commonRegs, addr); ok {
			return name
		}
	}
	return "0x" + hex4(addr)
}

func lookup(regs []regSpan, addr uint16) (string, bool) {
	for _, r := range regs {
		if addr < r.addr || addr >= r.addr+uint16(r.size) {
			continue
		}
		if addr == r.addr {
			return r.name, true
		}
		return r.name + "+" + strconv.Itoa(int(addr-r.addr)), true
	}
	return "", false
}

func hex4(v uint16) string {
	s := strconv.FormatUint(uint64(v), 16)
	for len(s) < 4 {
		s = "0" + s
	}
	return s
}
