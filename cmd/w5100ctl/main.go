// Command w5100ctl drives a W5100 wired to a Linux host's SPI port.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"
)

const (
	// Global flags.
	flagPort     = "port"
	flagFreq     = "freq"
	flagSEN      = "sen"
	flagReset    = "reset"
	flagLogLevel = "log-level"
	flagMAC      = "mac"
	flagIP       = "ip"
	flagGateway  = "gateway"

	// Subcommand flags.
	flagCount     = "count"
	flagSockets   = "sockets"
	flagFilterMAC = "filter-mac"
	flagBroker    = "broker"
	flagTopic     = "topic"
	flagClientID  = "client-id"
	flagInterval  = "interval"
	flagLocalPort = "local-port"
	flagHost      = "host"
	flagTimeout   = "timeout"
)

var app = &cli.App{
	Name:            "w5100ctl",
	Usage:           "inspect and exercise a W5100 Ethernet controller over SPI",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    flagPort,
			Usage:   "SPI port name, empty selects the first available",
			EnvVars: []string{"W5100_PORT"},
		},
		&cli.StringFlag{
			Name:    flagFreq,
			Value:   "1.2MHz",
			Usage:   "SPI clock frequency",
			EnvVars: []string{"W5100_FREQ"},
		},
		&cli.StringFlag{
			Name:    flagSEN,
			Value:   "GPIO22",
			Usage:   "GPIO driving the SPI enable line, empty to leave undriven",
			EnvVars: []string{"W5100_SEN"},
		},
		&cli.StringFlag{
			Name:    flagReset,
			Value:   "GPIO12",
			Usage:   "GPIO driving the RESET line, empty to leave undriven",
			EnvVars: []string{"W5100_RESET"},
		},
		&cli.StringFlag{
			Name:    flagLogLevel,
			Value:   "info",
			Usage:   "log level: trace, debug, info, warn or error",
			EnvVars: []string{"W5100_LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    flagMAC,
			Usage:   "hardware address to configure, defaults to a locally administered one",
			EnvVars: []string{"W5100_MAC"},
		},
		&cli.StringFlag{
			Name:    flagIP,
			Usage:   "IPv4 address and prefix to configure, e.g. 192.168.88.10/27",
			EnvVars: []string{"W5100_IP"},
		},
		&cli.StringFlag{
			Name:    flagGateway,
			Usage:   "IPv4 gateway to configure",
			EnvVars: []string{"W5100_GATEWAY"},
		},
	},
	Commands: []*cli.Command{
		{
			Name:   "reset",
			Usage:  "pulse RESET, soft reset the chip and check its reset values",
			Action: resetAction,
		},
		{
			Name:  "dump",
			Usage: "print the common registers and optionally the socket registers",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: flagSockets, Usage: "include socket registers"},
			},
			Action: dumpAction,
		},
		{
			Name:      "read",
			Usage:     "read registers",
			ArgsUsage: "ADDR [N]",
			Action:    readAction,
		},
		{
			Name:      "write",
			Usage:     "write registers starting at ADDR",
			ArgsUsage: "ADDR BYTE...",
			Action:    writeAction,
		},
		{
			Name:  "sniff",
			Usage: "log Ethernet frames received on socket 0 in MACRAW mode",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: flagCount, Usage: "stop after `N` frames, zero runs until interrupted"},
				&cli.BoolFlag{Name: flagFilterMAC, Usage: "only receive frames addressed to the chip"},
			},
			Action: sniffAction,
		},
		{
			Name:  "mqtt",
			Usage: "connect to an MQTT broker, subscribe to a topic and publish to it periodically",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: flagBroker, Value: "192.168.88.1:1883", Usage: "broker `IP:PORT`"},
				&cli.StringFlag{Name: flagTopic, Value: "/topic/qos0", Usage: "topic to subscribe and publish to"},
				&cli.StringFlag{Name: flagClientID, Value: "w5100_esp32", Usage: "MQTT client identifier"},
				&cli.DurationFlag{Name: flagInterval, Value: defaultPubInterval, Usage: "publish interval"},
				&cli.IntFlag{Name: flagCount, Usage: "stop after `N` publishes, zero runs until interrupted"},
				&cli.UintFlag{Name: flagLocalPort, Usage: "local TCP port, zero picks an ephemeral one"},
			},
			Action: mqttAction,
		},
		{
			Name:      "http",
			Usage:     "issue an HTTP/1.1 GET and print the response",
			ArgsUsage: "IP:PORT [PATH]",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: flagHost, Usage: "Host header, defaults to the server address"},
				&cli.DurationFlag{Name: flagTimeout, Value: defaultHTTPTimeout, Usage: "overall request timeout"},
				&cli.UintFlag{Name: flagLocalPort, Usage: "local TCP port, zero picks an ephemeral one"},
			},
			Action: httpAction,
		},
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "w5100ctl:", err)
		os.Exit(1)
	}
}
