package main

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/soypat/w5100"
)

func newTestAnalyzer() *analyzer {
	return &analyzer{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func wire(frames ...w5100.Frame) []byte {
	var b []byte
	for _, f := range frames {
		b = f.Append(b)
	}
	return b
}

func TestAppendSamples(t *testing.T) {
	an := newTestAnalyzer()
	mosi := wire(w5100.EncodeWrite(0x0009, 0x02), w5100.EncodeRead(0x0015))
	miso := []byte{0, 1, 2, 3, 0, 1, 2, 0xc4}
	got := an.appendSamples(nil, mosi, miso, 1.5)
	if len(got) != 2 {
		t.Fatalf("got %d samples", len(got))
	}
	if got[1].miso != 0xc4 || got[1].frame.Addr() != 0x0015 || got[0].start != 1.5 {
		t.Errorf("unexpected samples %+v", got)
	}
	// Garbage and trailing partial frames are counted, not decoded.
	got = an.appendSamples(nil, []byte{0xaa, 0, 0, 0, 0x0f, 0}, nil, 0)
	if len(got) != 0 || an.invalidCount != 2 {
		t.Errorf("got %d samples and %d invalid", len(got), an.invalidCount)
	}
}

func TestAccessesCoalesce(t *testing.T) {
	an := newTestAnalyzer()
	var samples []sample
	for i, v := range []byte{192, 168, 88, 10} {
		samples = append(samples, sample{frame: w5100.EncodeWrite(0x000F+uint16(i), v)})
	}
	samples = append(samples,
		sample{frame: w5100.EncodeRead(0x0403), miso: 0x17},
		sample{frame: w5100.EncodeRead(0x0403), miso: 0x17},
	)
	acc := an.accesses(samples)
	if len(acc) != 3 {
		t.Fatalf("got %d accesses: %+v", len(acc), acc)
	}
	if acc[0].Addr != 0x000F || !bytes.Equal(acc[0].Data, []byte{192, 168, 88, 10}) {
		t.Errorf("burst not coalesced: %+v", acc[0])
	}
	if acc[1].Op != w5100.OpRead || acc[1].Data[0] != 0x17 {
		t.Errorf("read data not taken from last chip byte: %+v", acc[1])
	}

	an.NoCoalesce = true
	if acc = an.accesses(samples); len(acc) != 6 {
		t.Errorf("NoCoalesce: got %d accesses", len(acc))
	}
	an.NoCoalesce = false
	an.OmitRead = true
	if acc = an.accesses(samples); len(acc) != 1 {
		t.Errorf("OmitRead: got %d accesses", len(acc))
	}
}

func TestWrite(t *testing.T) {
	an := newTestAnalyzer()
	var buf bytes.Buffer
	err := an.write(&buf, []access{
		{Op: w5100.OpWrite, Addr: 0x000F, Data: []byte{192, 168, 88, 10}},
		{Op: w5100.OpRead, Addr: 0x0403, Data: []byte{0x17}},
	})
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "write 0x000f SIPR") || !strings.HasSuffix(lines[0], "data=0xc0a8580a") {
		t.Errorf("line 0: %q", lines[0])
	}
	if !strings.Contains(lines[1], "S0_SR") || !strings.HasSuffix(lines[1], "data=0x17") {
		t.Errorf("line 1: %q", lines[1])
	}
}
