package w5100

import (
	"bytes"
	"testing"
)

func TestFrameWireFormat(t *testing.T) {
	var tests = []struct {
		frame Frame
		want  []byte
		str   string
	}{
		{frame: EncodeWrite(0x0004, 0xaa), want: []byte{0xf0, 0x00, 0x04, 0xaa}, str: "write 0x0004 <- 0xaa"},
		{frame: EncodeWrite(0x0000, 0x80), want: []byte{0xf0, 0x00, 0x00, 0x80}, str: "write 0x0000 <- 0x80"},
		{frame: EncodeRead(0x0400), want: []byte{0x0f, 0x04, 0x00, 0x00}, str: "read 0x0400"},
		{frame: EncodeRead(0xffff), want: []byte{0x0f, 0xff, 0xff, 0x00}, str: "read 0xffff"},
	}
	for _, tt := range tests {
		var got [FrameSize]byte
		tt.frame.Put(got[:])
		if !bytes.Equal(got[:], tt.want) {
			t.Errorf("%s: got % x, want % x", tt.str, got, tt.want)
		}
		if appended := tt.frame.Append(nil); !bytes.Equal(appended, tt.want) {
			t.Errorf("%s: append got % x", tt.str, appended)
		}
		if s := tt.frame.String(); s != tt.str {
			t.Errorf("string got %q, want %q", s, tt.str)
		}
		decoded, err := DecodeFrame(tt.want)
		if err != nil {
			t.Fatal(err)
		}
		if decoded != tt.frame {
			t.Errorf("decode got %#x, want %#x", uint32(decoded), uint32(tt.frame))
		}
	}
}

func TestFrameFields(t *testing.T) {
	for addr := 0; addr <= 0xffff; addr += 0x0101 {
		data := byte(addr * 7)
		w := EncodeWrite(uint16(addr), data)
		if w>>28 != 0xf {
			t.Fatalf("write frame %#x top nibble not 0xF", uint32(w))
		}
		if !w.IsWrite() || w.IsRead() || w.Addr() != uint16(addr) || w.Data() != data {
			t.Fatalf("write frame %#x fields mismatch", uint32(w))
		}
		r := EncodeRead(uint16(addr))
		if r>>28 != 0x0 {
			t.Fatalf("read frame %#x top nibble not 0x0", uint32(r))
		}
		if !r.IsRead() || r.IsWrite() || r.Addr() != uint16(addr) || r.Data() != 0 {
			t.Fatalf("read frame %#x fields mismatch", uint32(r))
		}
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	if _, err := DecodeFrame([]byte{0xf0, 0x00, 0x01}); err == nil {
		t.Error("expected error for short frame")
	}
	if _, err := DecodeFrame([]byte{0x55, 0x00, 0x01, 0x02}); err == nil {
		t.Error("expected error for bad opcode")
	}
}
