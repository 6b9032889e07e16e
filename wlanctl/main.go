//go:build linux
// +build linux

// Command wlanctl drives the QCA nl80211 vendor interface: it reads and
// writes the split-mac parameter of an interface and logs the management
// frames the driver forwards in vendor events.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/hkwi/genl"
	"github.com/hkwi/genl/schema"
	"github.com/hkwi/genl/wlan"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const (
	exitUsage   = 1
	exitFailure = 2
)

var (
	schemaPath string
	debug      bool
	timeout    time.Duration
)

func main() {
	app := &cli.App{
		Name:  "wlanctl",
		Usage: "QCA nl80211 vendor commands",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "schema",
				Usage:       "TOML file overriding vendor ids",
				Destination: &schemaPath,
			},
			&cli.BoolFlag{
				Name:        "debug",
				Usage:       "Turn on debug logs",
				Destination: &debug,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "Reply timeout",
				Value:       5 * time.Second,
				Destination: &timeout,
			},
		},
		Before: func(ctx *cli.Context) error {
			if debug {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "get-splitmac",
				Usage:     "Print the split-mac parameter of an interface",
				ArgsUsage: "<iface>",
				Action:    getSplitMAC,
			},
			{
				Name:      "set-splitmac",
				Usage:     "Set the split-mac parameter of an interface",
				ArgsUsage: "<iface> <value>",
				Action:    setSplitMAC,
			},
			{
				Name:   "recv-frames",
				Usage:  "Log management frames forwarded by the driver",
				Action: recvFrames,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Error(err)
		os.Exit(exitUsage)
	}
}

func failed(err error) error {
	logrus.Errorf("Error occurred: %v", err)
	return cli.Exit("", exitFailure)
}

func loadVendor() (schema.Vendor, error) {
	if schemaPath == "" {
		return schema.Default().Vendor, nil
	}
	s, err := schema.Load(schemaPath)
	return s.Vendor, err
}

// vendorCall sends one split-mac request and prints the values of the
// reply.
func vendorCall(ctx *cli.Context, build func(wlan.Commands, uint32) (*genl.Message, error)) error {
	iface := ctx.Args().First()
	if iface == "" {
		return cli.Exit("interface name is required", exitUsage)
	}
	v, err := loadVendor()
	if err != nil {
		return failed(err)
	}
	ifindex, err := wlan.IfIndex(iface)
	if err != nil {
		return failed(err)
	}

	rctx, cancel := context.WithTimeout(ctx.Context, timeout)
	defer cancel()

	sock, err := genl.OpenGeneric(genl.NL_AUTO_PORT)
	if err != nil {
		return failed(err)
	}
	defer sock.Close()

	family, err := sock.WaitFamily(rctx, v.Family, nil)
	if err != nil {
		return failed(err)
	}
	msg, err := build(wlan.Commands{Family: family.ID, Vendor: v}, ifindex)
	if err != nil {
		return failed(err)
	}
	if err := sock.Send(msg); err != nil {
		return failed(err)
	}
	resp := &wlan.VendorResponse{}
	if err := sock.RecvAttrs(rctx, int(v.AttrConfigMax), wlan.ParseVendorResponse, resp); err != nil {
		return failed(err)
	}
	if resp.Err != nil {
		return failed(resp.Err)
	}

	var types []int
	for typ := range resp.Values {
		types = append(types, int(typ))
	}
	sort.Ints(types)
	for _, typ := range types {
		fmt.Printf("%s attr %d: %d\n", iface, typ, resp.Values[uint16(typ)])
	}
	return nil
}

func getSplitMAC(ctx *cli.Context) error {
	return vendorCall(ctx, func(c wlan.Commands, ifindex uint32) (*genl.Message, error) {
		return c.GetSplitMACMsg(ifindex)
	})
}

func setSplitMAC(ctx *cli.Context) error {
	value, err := strconv.ParseUint(ctx.Args().Get(1), 0, 32)
	if err != nil {
		return cli.Exit(fmt.Sprintf("value %q must be a number", ctx.Args().Get(1)), exitUsage)
	}
	return vendorCall(ctx, func(c wlan.Commands, ifindex uint32) (*genl.Message, error) {
		return c.SetSplitMACMsg(ifindex, uint32(value))
	})
}

func recvFrames(ctx *cli.Context) error {
	s := schema.Default()
	if schemaPath != "" {
		var err error
		if s, err = schema.Load(schemaPath); err != nil {
			return failed(err)
		}
	}
	sock, err := genl.OpenEventSocket(s.Vendor.Family, s.Vendor.EventGroup, s.Ports.Event)
	if err != nil {
		return failed(err)
	}
	defer sock.Close()

	sctx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink := &wlan.EventSink{
		Vendor: s.Vendor,
		OnFrame: func(ifindex uint32, f wlan.Frame) {
			fmt.Printf("if%d %s %s -> %s\n", ifindex, f.Name(), f.SA, f.DA)
		},
	}
	for sctx.Err() == nil {
		rctx, cancel := context.WithTimeout(sctx, time.Second)
		err := sock.Recv(rctx, wlan.ParseVendorEvent, sink)
		cancel()
		if err != nil && genl.KindOf(err) != genl.ErrTimeout {
			return failed(err)
		}
	}
	return nil
}
