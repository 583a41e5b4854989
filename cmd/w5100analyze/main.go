package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"
	"github.com/soypat/w5100"
	"github.com/soypat/w5100/wreg"
)

type analyzer struct {
	OmitRead     bool
	OmitWrite    bool
	NoCoalesce   bool
	ShowTimings  bool
	logger       *slog.Logger
	invalidCount int
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "w5100analyze - Decode Saleae digital captures of W5100 SPI register accesses.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	sdo := flag.String("f-sdo", "digital_1.bin", "Input filename: host to chip data (MOSI).")
	sdi := flag.String("f-sdi", "digital_3.bin", "Input filename: chip to host data (MISO).")
	enable := flag.String("f-cs", "digital_0.bin", "Input filename: SPI CS/SS data.")
	clk := flag.String("f-clk", "digital_2.bin", "Input filename: SPI clock data.")
	output := flag.String("o", "", "Output filename. Defaults to stdout.")
	an := analyzer{}
	flag.BoolVar(&an.OmitRead, "omit-read", false, "Omit read accesses in output.")
	flag.BoolVar(&an.OmitWrite, "omit-write", false, "Omit write accesses in output.")
	flag.BoolVar(&an.NoCoalesce, "no-coalesce", false, "Print every frame instead of merging sequential-address bursts.")
	flag.BoolVar(&an.ShowTimings, "time", false, "Prefix each access with its start time in seconds.")
	flagDebug := flag.Bool("v", false, "Verbose logging.")
	flag.Parse()
	level := slog.LevelInfo
	if *flagDebug {
		level = slog.LevelDebug
	}
	an.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	if an.OmitRead && an.OmitWrite {
		fatal("cannot omit both read and write accesses")
	}
	var w io.Writer = os.Stdout
	if *output != "" {
		fp, err := os.Create(*output)
		if err != nil {
			fatal(err.Error())
		}
		defer fp.Close()
		w = fp
	}
	start := time.Now()
	txs, err := scanFiles(*sdo, *sdi, *clk, *enable)
	if err != nil {
		fatal(err.Error())
	}
	an.logger.Debug("scanned", slog.Int("transactions", len(txs)))
	frames := make([]sample, 0, len(txs))
	for _, tx := range txs {
		frames = an.appendSamples(frames, tx.SDO, tx.SDI, tx.StartTime())
	}
	if err := an.write(w, an.accesses(frames)); err != nil {
		fatal(err.Error())
	}
	an.logger.Info("finished", slog.Duration("elapsed", time.Since(start)), slog.Int("frames", len(frames)), slog.Int("invalid", an.invalidCount))
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, "w5100analyze:", msg)
	os.Exit(1)
}

func scanFiles(fsdo, fsdi, fclk, fenable string) ([]analyzers.TxSPI, error) {
	sdo, err := opendigital(fsdo)
	if err != nil {
		return nil, err
	}
	sdi, err := opendigital(fsdi)
	if err != nil {
		return nil, err
	}
	clk, err := opendigital(fclk)
	if err != nil {
		return nil, err
	}
	enable, err := opendigital(fenable)
	if err != nil {
		return nil, err
	}
	spi := analyzers.SPI{}
	txs, _ := spi.Scan(clk, enable, sdo, sdi)
	return txs, nil
}

func opendigital(filename string) (*saleae.DigitalFile, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	return saleae.ReadDigitalFile(fp)
}

// sample is one frame seen on the wire together with the byte the chip
// shifted out during its last byte.
type sample struct {
	frame w5100.Frame
	miso  byte
	start float64
}

// appendSamples splits a captured chip select window into frames. Normally
// the window holds a single frame, but a held CS shows up as several.
func (an *analyzer) appendSamples(dst []sample, mosi, miso []byte, start float64) []sample {
	for len(mosi) >= w5100.FrameSize {
		f, err := w5100.DecodeFrame(mosi)
		if err != nil {
			an.invalidCount++
			an.logger.Debug("invalid-frame", slog.Float64("t", start), slog.String("bytes", fmt.Sprintf("% x", mosi[:w5100.FrameSize])))
		} else {
			s := sample{frame: f, start: start}
			if len(miso) >= w5100.FrameSize {
				s.miso = miso[w5100.FrameSize-1]
			}
			dst = append(dst, s)
		}
		mosi = mosi[w5100.FrameSize:]
		if len(miso) >= w5100.FrameSize {
			miso = miso[w5100.FrameSize:]
		} else {
			miso = nil
		}
	}
	if len(mosi) > 0 {
		an.invalidCount++
	}
	return dst
}

// access is a run of frames with the same opcode at consecutive addresses,
// which is how multi-byte Read and Write calls appear on the bus.
type access struct {
	Op    w5100.Opcode
	Addr  uint16
	Data  []byte
	Start float64
}

func (an *analyzer) accesses(samples []sample) []access {
	var acc []access
	for _, s := range samples {
		op := s.frame.Opcode()
		if (an.OmitRead && op == w5100.OpRead) || (an.OmitWrite && op == w5100.OpWrite) {
			continue
		}
		data := s.frame.Data()
		if op == w5100.OpRead {
			data = s.miso
		}
		if !an.NoCoalesce && len(acc) > 0 {
			last := &acc[len(acc)-1]
			if last.Op == op && last.Addr+uint16(len(last.Data)) == s.frame.Addr() {
				last.Data = append(last.Data, data)
				continue
			}
		}
		acc = append(acc, access{Op: op, Addr: s.frame.Addr(), Data: []byte{data}, Start: s.start})
	}
	return acc
}

func (an *analyzer) write(w io.Writer, acc []access) error {
	for _, a := range acc {
		if an.ShowTimings {
			fmt.Fprintf(w, "t=%f\t", a.Start)
		}
		_, err := fmt.Fprintf(w, "%-5s 0x%04x %-12s n=%-4d data=%#x\n", a.Op, a.Addr, wreg.RegisterName(a.Addr), len(a.Data), a.Data)
		if err != nil {
			return err
		}
	}
	return nil
}
