package wnet

import (
	"encoding/binary"
	"sync"

	"github.com/soypat/w5100/wreg"
)

// simChip models the register side effects of a W5100 used by wnet:
// software reset, socket commands and the TX/RX ring pointers.
type simChip struct {
	mu   sync.Mutex
	mem  [1 << 16]byte
	rxWR [wreg.SocketCount]uint16
	// sent collects the data transmitted by SEND per socket.
	sent [wreg.SocketCount][]byte
	// refuse makes CONNECT fail as if the peer never answered.
	refuse bool
	// startPtr is loaded into the ring pointers on OPEN.
	startPtr uint16
	// peerClosed moves ESTABLISHED sockets to CLOSE_WAIT on the next status read.
	peerClosed bool
	commands   []wreg.Command
}

func newSimChip() *simChip {
	s := &simChip{}
	s.reset()
	return s
}

func (s *simChip) reset() {
	s.mem = [1 << 16]byte{}
	binary.BigEndian.PutUint16(s.mem[wreg.RTR:], wreg.RTR_RESET)
	s.mem[wreg.RCR] = wreg.RCR_RESET
	s.mem[wreg.RMSR] = wreg.RMSR_RESET
	s.mem[wreg.TMSR] = wreg.TMSR_RESET
}

func (s *simChip) Read(addr uint16, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range buf {
		a := addr + uint16(i)
		if s.peerClosed {
			if _, off, ok := socketOff(a); ok && off == wreg.Sn_SR && wreg.Status(s.mem[a]) == wreg.StatusEstablished {
				s.mem[a] = byte(wreg.StatusCloseWait)
			}
		}
		buf[i] = s.mem[a]
	}
	return nil
}

func (s *simChip) Write(addr uint16, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range data {
		a := addr + uint16(i)
		if a == wreg.MR && v&wreg.MR_RST != 0 {
			s.reset()
			continue
		}
		n, off, ok := socketOff(a)
		switch {
		case ok && off == wreg.Sn_CR:
			s.command(n, wreg.Command(v))
		case ok && off == wreg.Sn_IR:
			s.mem[a] &^= v
		default:
			s.mem[a] = v
		}
	}
	return nil
}

func socketOff(a uint16) (n uint8, off uint16, ok bool) {
	if a < wreg.SocketBase(0) || a >= wreg.SocketBase(wreg.SocketCount) {
		return 0, 0, false
	}
	n = uint8((a - wreg.SocketBase(0)) / 0x100)
	return n, a - wreg.SocketBase(n), true
}

func (s *simChip) sizes(n uint8) (txBase, txSize, rxBase, rxSize uint16) {
	tx := wreg.DecodeMemSizes(s.mem[wreg.TMSR])
	rx := wreg.DecodeMemSizes(s.mem[wreg.RMSR])
	return wreg.BufferBases(wreg.TXBase, tx)[n], tx[n], wreg.BufferBases(wreg.RXBase, rx)[n], rx[n]
}

func (s *simChip) reg16(n uint8, off uint16) uint16 {
	return binary.BigEndian.Uint16(s.mem[wreg.SocketReg(n, off):])
}

func (s *simChip) setReg16(n uint8, off, v uint16) {
	binary.BigEndian.PutUint16(s.mem[wreg.SocketReg(n, off):], v)
}

func (s *simChip) setStatus(n uint8, st wreg.Status) {
	s.mem[wreg.SocketReg(n, wreg.Sn_SR)] = byte(st)
}

// command executes cmd on socket n. Sn_CR always reads back zero.
func (s *simChip) command(n uint8, cmd wreg.Command) {
	s.commands = append(s.commands, cmd)
	_, txSize, _, _ := s.sizes(n)
	ir := wreg.SocketReg(n, wreg.Sn_IR)
	switch cmd {
	case wreg.CmdOpen:
		switch wreg.SocketMode(s.mem[wreg.SocketReg(n, wreg.Sn_MR)]).Protocol() {
		case wreg.ModeTCP:
			s.setStatus(n, wreg.StatusInit)
		case wreg.ModeUDP:
			s.setStatus(n, wreg.StatusUDP)
		case wreg.ModeMACRAW:
			if n == wreg.MACRAWSocket {
				s.setStatus(n, wreg.StatusMACRAW)
			}
		}
		for _, off := range []uint16{wreg.Sn_TX_RD, wreg.Sn_TX_WR, wreg.Sn_RX_RD} {
			s.setReg16(n, off, s.startPtr)
		}
		s.rxWR[n] = s.startPtr
		s.setReg16(n, wreg.Sn_TX_FSR, txSize)
		s.setReg16(n, wreg.Sn_RX_RSR, 0)
	case wreg.CmdConnect:
		if s.refuse {
			s.setStatus(n, wreg.StatusClosed)
			s.mem[ir] |= wreg.Sn_IR_TIMEOUT
		} else {
			s.setStatus(n, wreg.StatusEstablished)
			s.mem[ir] |= wreg.Sn_IR_CON
		}
	case wreg.CmdSend:
		txBase, txSize, _, _ := s.sizes(n)
		rd, wr := s.reg16(n, wreg.Sn_TX_RD), s.reg16(n, wreg.Sn_TX_WR)
		for p := rd; p != wr; p++ {
			s.sent[n] = append(s.sent[n], s.mem[txBase+p&(txSize-1)])
		}
		s.setReg16(n, wreg.Sn_TX_RD, wr)
		s.mem[ir] |= wreg.Sn_IR_SEND_OK
	case wreg.CmdRecv:
		s.updateRSR(n)
	case wreg.CmdDiscon, wreg.CmdClose:
		s.setStatus(n, wreg.StatusClosed)
	}
}

func (s *simChip) updateRSR(n uint8) {
	s.setReg16(n, wreg.Sn_RX_RSR, s.rxWR[n]-s.reg16(n, wreg.Sn_RX_RD))
}

// inject places data in socket n's RX ring as if received from the network.
func (s *simChip) inject(n uint8, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _, rxBase, rxSize := s.sizes(n)
	for _, b := range data {
		s.mem[rxBase+s.rxWR[n]&(rxSize-1)] = b
		s.rxWR[n]++
	}
	s.updateRSR(n)
}

// injectMACRAW places an Ethernet frame with its length header in socket 0.
func (s *simChip) injectMACRAW(frame []byte) {
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(frame)+2))
	s.inject(wreg.MACRAWSocket, append(hdr[:], frame...))
}

func (s *simChip) sentData(n uint8) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.sent[n]...)
}
