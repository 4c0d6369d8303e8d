package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/sccb"
	"github.com/mklimuk/sccb/cmd/sccb/console"
	gobotadapter "github.com/mklimuk/sccb/transport/gobot"
	"github.com/mklimuk/sccb/transport/mcp2221"
	"github.com/mklimuk/sccb/transport/mock"
	"github.com/mklimuk/sccb/transport/periph"
)

func channelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "adapter",
			Aliases: []string{"a"},
			Value:   "mcp2221",
			Usage:   "bus adapter: mcp2221, periph, nanopi or mock",
		},
		&cli.IntFlag{
			Name:    "bus",
			Aliases: []string{"b"},
			Value:   0,
		},
		&cli.StringFlag{
			Name:     "addr",
			Aliases:  []string{"d"},
			Usage:    "7-bit device address, e.g. 0x21",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "speed",
			Value: "fast",
			Usage: "bus speed class: standard or fast",
		},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
	}
}

func openChannel(ctx context.Context, c *cli.Context) (*sccb.DeviceChannel, error) {
	console.Trace = console.IsVerbose(ctx)
	addr, err := strconv.ParseUint(c.String("addr"), 0, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid device address %q: %w", c.String("addr"), err)
	}
	var opts []sccb.Option
	switch c.String("speed") {
	case "standard":
		opts = append(opts, sccb.WithBusSpeed(sccb.Standard))
	case "fast":
	default:
		return nil, fmt.Errorf("unknown speed class %q", c.String("speed"))
	}
	cfg, err := sccb.NewConnectionConfig(c.Int("bus"), uint16(addr), opts...)
	if err != nil {
		return nil, err
	}
	var transport sccb.Transport
	switch c.String("adapter") {
	case "mcp2221":
		transport = mcp2221.New()
	case "periph":
		transport = periph.New()
	case "nanopi":
		npi := nanopi.NewNeoAdaptor()
		if err := npi.I2cBusAdaptor.Connect(); err != nil {
			return nil, fmt.Errorf("adaptor connect error: %w", err)
		}
		transport = gobotadapter.New(npi)
	case "mock":
		transport = mock.Echo(0x00)
	default:
		return nil, fmt.Errorf("unknown adapter %q", c.String("adapter"))
	}
	console.Debugf("opening channel (%s) over %s", cfg, c.String("adapter"))
	return sccb.Open(ctx, transport, cfg)
}

func parseBytes(args []string) ([]byte, error) {
	buf := make([]byte, 0, len(args))
	for _, arg := range args {
		val, err := strconv.ParseUint(arg, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid byte %q: %w", arg, err)
		}
		buf = append(buf, byte(val))
	}
	return buf, nil
}

func printOutcome(out sccb.TransferOutcome) {
	console.Printf("%s (%d bytes)\n", console.White(out.Status), out.BytesTransferred)
}

var readCmd = cli.Command{
	Name:      "read",
	Usage:     "read bytes from a device",
	Flags:     append(channelFlags(), &cli.IntFlag{Name: "len", Aliases: []string{"l"}, Value: 1}),
	ArgsUsage: " ",
	Action: func(c *cli.Context) error {
		ctx := console.SetVerbose(context.Background(), c.Bool("verbose"))
		ch, err := openChannel(ctx, c)
		if err != nil {
			return console.Exit(1, "could not open channel: %s", console.Red(err))
		}
		defer func() { _ = ch.Close(ctx) }()
		buf := make([]byte, c.Int("len"))
		out, err := ch.Read(ctx, buf)
		if err != nil {
			return console.Exit(1, "read error: %s", console.Red(err))
		}
		printOutcome(out)
		console.Print(hex.Dump(buf[:out.BytesTransferred]))
		return nil
	},
}

var writeCmd = cli.Command{
	Name:      "write",
	Usage:     "write bytes to a device",
	Flags:     append(channelFlags(), &cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "skip the confirmation prompt"}),
	ArgsUsage: "BYTE [BYTE...]",
	Action: func(c *cli.Context) error {
		buf, err := parseBytes(c.Args().Slice())
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		if len(buf) == 0 {
			return console.Exit(1, "nothing to write")
		}
		if !c.Bool("yes") {
			ok, err := console.Confirm(fmt.Sprintf("write % X to device %s?", buf, c.String("addr")))
			if err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
			if !ok {
				console.Info("aborted")
				return nil
			}
		}
		ctx := console.SetVerbose(context.Background(), c.Bool("verbose"))
		ch, err := openChannel(ctx, c)
		if err != nil {
			return console.Exit(1, "could not open channel: %s", console.Red(err))
		}
		defer func() { _ = ch.Close(ctx) }()
		out, err := ch.Write(ctx, buf)
		if err != nil {
			return console.Exit(1, "write error: %s", console.Red(err))
		}
		printOutcome(out)
		return nil
	},
}

var writeReadCmd = cli.Command{
	Name:      "writeread",
	Usage:     "combined write then read with a repeated-start in between",
	Flags:     append(channelFlags(), &cli.IntFlag{Name: "len", Aliases: []string{"l"}, Value: 1, Usage: "number of bytes to read back"}),
	ArgsUsage: "BYTE [BYTE...]",
	Action: func(c *cli.Context) error {
		wbuf, err := parseBytes(c.Args().Slice())
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		if len(wbuf) == 0 {
			return console.Exit(1, "nothing to write")
		}
		ctx := console.SetVerbose(context.Background(), c.Bool("verbose"))
		ch, err := openChannel(ctx, c)
		if err != nil {
			return console.Exit(1, "could not open channel: %s", console.Red(err))
		}
		defer func() { _ = ch.Close(ctx) }()
		rbuf := make([]byte, c.Int("len"))
		out, err := ch.WriteRead(ctx, wbuf, rbuf)
		if err != nil {
			return console.Exit(1, "transfer error: %s", console.Red(err))
		}
		printOutcome(out)
		read := int(out.BytesTransferred) - len(wbuf)
		if read > 0 {
			console.Print(hex.Dump(rbuf[:read]))
		}
		return nil
	},
}
