package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"time"

	"github.com/pkg/errors"
	"github.com/soypat/lneto/ethernet"
	"github.com/soypat/lneto/http/httpraw"
	mqtt "github.com/soypat/natiu-mqtt"
	"github.com/soypat/w5100/wnet"
	"github.com/soypat/w5100/wreg"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
)

const (
	defaultPubInterval = 5 * time.Second
	defaultHTTPTimeout = 10 * time.Second
	mqttIOTimeout      = 5 * time.Second
	idlePoll           = 10 * time.Millisecond
	maxHTTPResponse    = 64 << 10
)

func sniffAction(c *cli.Context) (err error) {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.Close()) }()
	if _, err = s.startNetwork(c); err != nil {
		return err
	}
	link, err := s.chip.OpenLink(c.Context, wnet.LinkConfig{FilterMAC: c.Bool(flagFilterMAC)})
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, link.Close()) }()
	hw := link.HardwareAddr6()
	s.logger.Info("sniff:start", slog.String("hw", string(ethernet.AppendAddr(nil, hw))), slog.Int("mtu", link.MTU()))
	count := c.Int(flagCount)
	buf := make([]byte, wreg.MaxEthernetFrame)
	for seen := 0; count <= 0 || seen < count; {
		if c.Context.Err() != nil {
			return nil
		}
		n, err := link.RecvEth(buf)
		if errors.Is(err, wnet.ErrFrameTooLarge) {
			s.logger.Warn("sniff:dropped", slog.String("err", err.Error()))
			continue
		} else if err != nil {
			return err
		}
		if n == 0 {
			time.Sleep(idlePoll)
			continue
		}
		seen++
		fmt.Fprintln(c.App.Writer, formatFrame(buf[:n]))
	}
	return nil
}

// formatFrame summarizes an Ethernet frame as "src > dst type=0x0800 len=60".
func formatFrame(frame []byte) string {
	efrm, err := ethernet.NewFrame(frame)
	if err != nil {
		return "invalid frame: " + err.Error()
	}
	b := make([]byte, 0, 64)
	b = ethernet.AppendAddr(b, *efrm.SourceHardwareAddr())
	b = append(b, " > "...)
	b = ethernet.AppendAddr(b, *efrm.DestinationHardwareAddr())
	return fmt.Sprintf("%s type=0x%04x len=%d", b, uint16(efrm.EtherTypeOrSize()), len(frame))
}

func mqttAction(c *cli.Context) (err error) {
	broker, err := netip.ParseAddrPort(c.String(flagBroker))
	if err != nil {
		return errors.Wrap(err, "invalid broker address")
	}
	lport, err := localPort(c)
	if err != nil {
		return err
	}
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.Close()) }()
	if _, err = s.startNetwork(c); err != nil {
		return err
	}
	conn, err := s.chip.DialTCP(c.Context, lport, broker)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, conn.Close()) }()
	opts := mqttOptions{
		clientID: c.String(flagClientID),
		topic:    c.String(flagTopic),
		interval: c.Duration(flagInterval),
		count:    c.Int(flagCount),
	}
	return runMQTT(c.Context, conn, opts, s.logger)
}

type mqttOptions struct {
	clientID string
	topic    string
	interval time.Duration
	count    int
}

// mqttConn is the subset of [wnet.TCPConn] the MQTT client loop uses.
type mqttConn interface {
	io.ReadWriteCloser
	SetDeadline(time.Time) error
	Buffered() (int, error)
}

// runMQTT connects, subscribes to opts.topic and publishes "data" to it every
// opts.interval while logging every message received.
func runMQTT(ctx context.Context, conn mqttConn, opts mqttOptions, logger *slog.Logger) error {
	if opts.interval <= 0 {
		opts.interval = defaultPubInterval
	}
	pubFlags, err := mqtt.NewPublishFlags(mqtt.QoS0, false, false)
	if err != nil {
		return err
	}
	client := mqtt.NewClient(mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, wreg.MaxEthernetFrame)},
		OnPub: func(_ mqtt.Header, vp mqtt.VariablesPublish, r io.Reader) error {
			payload, err := io.ReadAll(r)
			logger.Info("mqtt:received", slog.String("topic", string(vp.TopicName)), slog.String("payload", string(payload)))
			return err
		},
	})
	var varconn mqtt.VariablesConnect
	varconn.SetDefaultMQTT([]byte(opts.clientID))

	cctx, cancel := context.WithTimeout(ctx, mqttIOTimeout)
	defer cancel()
	conn.SetDeadline(time.Now().Add(mqttIOTimeout))
	if err = client.Connect(cctx, conn, &varconn); err != nil {
		return errors.Wrap(err, "mqtt connect")
	}
	logger.Info("mqtt:connected", slog.String("client", opts.clientID))
	conn.SetDeadline(time.Now().Add(mqttIOTimeout))
	err = client.Subscribe(cctx, mqtt.VariablesSubscribe{
		PacketIdentifier: 1,
		TopicFilters: []mqtt.SubscribeRequest{
			{TopicFilter: []byte(opts.topic), QoS: mqtt.QoS0},
		},
	})
	if err != nil {
		return errors.Wrap(err, "mqtt subscribe")
	}
	logger.Info("mqtt:subscribed", slog.String("topic", opts.topic))

	pubVar := mqtt.VariablesPublish{TopicName: []byte(opts.topic), PacketIdentifier: 1}
	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()
	for published := 0; opts.count <= 0 || published < opts.count; {
		if !client.IsConnected() {
			if err := client.Err(); err != nil {
				return errors.Wrap(err, "mqtt disconnected")
			}
			return errors.New("mqtt disconnected")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pubVar.PacketIdentifier++
			conn.SetDeadline(time.Now().Add(mqttIOTimeout))
			if err = client.PublishPayload(pubFlags, pubVar, []byte("data")); err != nil {
				return errors.Wrap(err, "mqtt publish")
			}
			published++
			logger.Info("mqtt:published", slog.Uint64("packetID", uint64(pubVar.PacketIdentifier)))
		default:
		}
		n, err := conn.Buffered()
		if err != nil {
			return err
		}
		if n == 0 {
			time.Sleep(idlePoll)
			continue
		}
		conn.SetDeadline(time.Now().Add(mqttIOTimeout))
		if err = client.HandleNext(); err != nil {
			return errors.Wrap(err, "mqtt receive")
		}
	}
	return nil
}

func httpAction(c *cli.Context) (err error) {
	if c.NArg() < 1 || c.NArg() > 2 {
		return errors.New("expected IP:PORT [PATH]")
	}
	server, err := netip.ParseAddrPort(c.Args().Get(0))
	if err != nil {
		return errors.Wrap(err, "invalid server address")
	}
	path := "/"
	if c.NArg() == 2 {
		path = c.Args().Get(1)
	}
	host := c.String(flagHost)
	if host == "" {
		host = server.String()
	}
	lport, err := localPort(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, c.Duration(flagTimeout))
	defer cancel()
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.Close()) }()
	if _, err = s.startNetwork(c); err != nil {
		return err
	}
	conn, err := s.chip.DialTCP(ctx, lport, server)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, conn.Close()) }()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	code, body, err := httpGet(conn, host, path)
	if err != nil {
		return err
	}
	s.logger.Info("http:response", slog.String("status", code), slog.Int("body", len(body)))
	_, err = c.App.Writer.Write(body)
	return err
}

// httpGet sends a GET request with "Connection: close" and reads the response
// until the server closes the connection.
func httpGet(conn io.ReadWriter, host, path string) (status string, body []byte, err error) {
	var hdr httpraw.Header
	hdr.SetMethod("GET")
	hdr.SetRequestURI(path)
	hdr.SetProtocol("HTTP/1.1")
	hdr.Set("Host", host)
	hdr.Set("User-Agent", "w5100ctl")
	hdr.Set("Connection", "close")
	req, err := hdr.AppendRequest(nil)
	if err != nil {
		return "", nil, err
	}
	if _, err = conn.Write(req); err != nil {
		return "", nil, err
	}
	resp, err := io.ReadAll(io.LimitReader(conn, maxHTTPResponse))
	if err != nil {
		return "", nil, err
	}
	var rhdr httpraw.Header
	if err = rhdr.ParseBytes(true, resp); err != nil {
		return "", nil, errors.Wrap(err, "parsing HTTP response")
	}
	code, text := rhdr.Status()
	body, err = rhdr.Body()
	return string(code) + " " + string(text), body, err
}
