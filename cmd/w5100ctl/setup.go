package main

import (
	"log/slog"
	"math/rand/v2"
	"net"
	"net/netip"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/soypat/w5100"
	"github.com/soypat/w5100/periphbus"
	"github.com/soypat/w5100/wnet"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
)

const levelTrace = slog.LevelDebug - 1

// session is an initialized device and the chip driver on top of it.
type session struct {
	dev    *w5100.Device
	chip   *wnet.Chip
	logger *slog.Logger
}

func newLogger(c *cli.Context) (*slog.Logger, error) {
	level, err := parseLevel(c.String(flagLogLevel))
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

func parseLevel(s string) (slog.Level, error) {
	if strings.EqualFold(s, "trace") {
		return levelTrace, nil
	}
	var level slog.Level
	err := level.UnmarshalText([]byte(s))
	return level, errors.Wrapf(err, "invalid log level %q", s)
}

func openSession(c *cli.Context) (*session, error) {
	logger, err := newLogger(c)
	if err != nil {
		return nil, err
	}
	pcfg := periphbus.DefaultConfig()
	pcfg.Port = c.String(flagPort)
	pcfg.SENPin = c.String(flagSEN)
	pcfg.ResetPin = c.String(flagReset)
	pcfg.Logger = logger
	if err := pcfg.Frequency.Set(c.String(flagFreq)); err != nil {
		return nil, errors.Wrap(err, "invalid SPI frequency")
	}
	cfg, err := periphbus.Open(pcfg)
	if err != nil {
		return nil, err
	}
	dev, err := w5100.Init(cfg)
	if err != nil {
		return nil, multierr.Combine(err, closeBus(cfg.Bus))
	}
	return &session{
		dev:    dev,
		chip:   wnet.NewChip(dev, wnet.ChipConfig{Logger: logger}),
		logger: logger,
	}, nil
}

func closeBus(bus w5100.Bus) error {
	if closer, ok := bus.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func (s *session) Close() error {
	return s.dev.Deinit()
}

// startNetwork resets the chip and applies the network configuration
// given on the command line.
func (s *session) startNetwork(c *cli.Context) (wnet.NetConfig, error) {
	ncfg, err := netConfig(c.String(flagMAC), c.String(flagIP), c.String(flagGateway))
	if err != nil {
		return ncfg, err
	}
	if err := s.chip.SoftReset(c.Context); err != nil {
		return ncfg, err
	}
	if err := s.chip.Detect(); err != nil {
		return ncfg, err
	}
	return ncfg, s.chip.Configure(ncfg)
}

// netConfig overrides the fields of [wnet.DefaultNetConfig] with the
// non-empty arguments.
func netConfig(mac, ip, gateway string) (wnet.NetConfig, error) {
	cfg := wnet.DefaultNetConfig()
	if mac != "" {
		hw, err := net.ParseMAC(mac)
		if err != nil || len(hw) != 6 {
			return cfg, errors.Errorf("invalid hardware address %q", mac)
		}
		copy(cfg.HardwareAddr[:], hw)
	}
	if ip != "" {
		prefix, err := netip.ParsePrefix(ip)
		if err != nil || !prefix.Addr().Is4() {
			return cfg, errors.Errorf("invalid IPv4 prefix %q", ip)
		}
		cfg.Addr = prefix
	}
	if gateway != "" {
		gw, err := netip.ParseAddr(gateway)
		if err != nil || !gw.Is4() {
			return cfg, errors.Errorf("invalid IPv4 gateway %q", gateway)
		}
		cfg.Gateway = gw
	}
	return cfg, nil
}

// localPort returns the flag value or a random port in the ephemeral range.
func localPort(c *cli.Context) (uint16, error) {
	return portValue(c.Uint(flagLocalPort))
}

func portValue(p uint) (uint16, error) {
	if p > 0xffff {
		return 0, errors.Errorf("invalid local port %d", p)
	}
	if p == 0 {
		return 49152 + uint16(rand.IntN(16384)), nil
	}
	return uint16(p), nil
}
