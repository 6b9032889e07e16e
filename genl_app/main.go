//go:build linux
// +build linux

// Command genl_app exchanges a string between two processes over a generic
// netlink family registered by both sides.
//
//	genl_app server [port]
//	genl_app client [--wait] [port] <message>
//
// The port defaults to the command port of the schema.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hkwi/genl"
	"github.com/hkwi/genl/schema"
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
		Name:  "genl_app",
		Usage: "Generic Netlink client-server app",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "schema",
				Usage:       "TOML file overriding family, command and attribute numbers",
				Destination: &schemaPath,
			},
			&cli.BoolFlag{
				Name:        "debug",
				Usage:       "Turn on debug logs",
				Destination: &debug,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "Give up waiting after this long, 0 waits forever",
				Destination: &timeout,
			},
		},
		Before: func(ctx *cli.Context) error {
			if debug {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
		Action: func(ctx *cli.Context) error {
			cli.ShowAppHelp(ctx)
			return cli.Exit("Either 'server' or 'client' subcommand must be provided", exitUsage)
		},
		Commands: []*cli.Command{
			{
				Name:      "server",
				Usage:     "Run as server, echoing the first request back",
				ArgsUsage: "[port]",
				Action:    server,
			},
			{
				Name:      "client",
				Usage:     "Run as client",
				ArgsUsage: "[port] <message>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "Wait for the server reply and print it",
					},
				},
				Action: client,
			},
			{
				Name:   "watch",
				Usage:  "Log families the kernel adds and removes",
				Action: watch,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Error(err)
		os.Exit(exitUsage)
	}
}

func loadSchema() (schema.Schema, error) {
	if schemaPath == "" {
		return schema.Default(), nil
	}
	return schema.Load(schemaPath)
}

// portArg parses the port at position i of the arguments. An absent port
// falls back to the command port of the schema.
func portArg(ctx *cli.Context, i int, s schema.Schema) (uint32, error) {
	arg := ctx.Args().Get(i)
	if arg == "" {
		return s.Ports.Command, nil
	}
	port, err := strconv.ParseUint(arg, 10, 32)
	if err != nil || port == 0 {
		return 0, cli.Exit(fmt.Sprintf("port %q must be a positive number", arg), exitUsage)
	}
	return uint32(port), nil
}

func runContext(ctx *cli.Context) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx.Context, timeout)
	}
	return context.WithCancel(ctx.Context)
}

func failed(err error) error {
	logrus.Errorf("Error occurred: %v", err)
	return cli.Exit("", exitFailure)
}

// openFamily registers the schema family and opens a socket speaking it.
// The schema id is only used when no kernel module provides the family.
func openFamily(ctx context.Context, s schema.Schema) (*genl.Socket, genl.Family, error) {
	if err := genl.RegisterFamily(genl.Family{
		Name: s.Family.Name,
		ID:   s.Family.ID,
	}, true); err != nil {
		return nil, genl.Family{}, err
	}
	logrus.Debugf("Registered family %s", s.Family.Name)

	sock, err := genl.OpenGeneric(genl.NL_AUTO_PORT)
	if err != nil {
		return nil, genl.Family{}, err
	}
	family, err := sock.WaitFamily(ctx, s.Family.Name, nil)
	if err != nil {
		sock.Close()
		return nil, genl.Family{}, err
	}
	return sock, family, nil
}

// exchange collects the payload of the first message of family carrying
// cmd, and the port it came from.
type exchange struct {
	family  genl.Family
	schema  schema.Schema
	cmd     uint8
	payload string
	from    uint32
}

func parsePayload(msg *genl.Msg, arg interface{}) genl.Action {
	ex := arg.(*exchange)
	if msg.Header.Type != ex.family.ID {
		logrus.Debugf("message type %d is not family %s, skipping", msg.Header.Type, ex.family.Name)
		return genl.NL_SKIP
	}
	hdr, err := msg.Genl()
	if err != nil {
		logrus.WithError(err).Debug("Event payload is invalid, skipping this message")
		return genl.NL_SKIP
	}
	if hdr.Cmd != ex.cmd {
		logrus.Debugf("event cmd (%d) != expected cmd (%d), skipping", hdr.Cmd, ex.cmd)
		return genl.NL_SKIP
	}
	attrs, err := msg.Attrs(ex.schema.Family.AttrMax)
	if err != nil {
		logrus.WithError(err).Debug("Event payload is invalid, skipping this message")
		return genl.NL_SKIP
	}
	if payload, ok := attrs.Get(ex.schema.Family.AttrPayload); ok {
		logrus.Infof("Got non-empty payload, length %d", len(payload.Payload))
		logrus.Infof("Payload string: %s", payload.Str())
		ex.payload = payload.Str()
	}
	ex.from = msg.Header.Pid
	return genl.NL_STOP
}

func payloadMsg(s schema.Schema, family uint16, cmd uint8, payload string) (*genl.Message, error) {
	msg := genl.NewMessage()
	if err := msg.PutHeader(cmd, family); err != nil {
		msg.Free()
		return nil, err
	}
	if err := msg.PutString(s.Family.AttrPayload, payload); err != nil {
		msg.Free()
		return nil, err
	}
	return msg, nil
}

func server(ctx *cli.Context) error {
	s, err := loadSchema()
	if err != nil {
		return failed(err)
	}
	port, err := portArg(ctx, 0, s)
	if err != nil {
		return err
	}
	rctx, cancel := runContext(ctx)
	defer cancel()

	logrus.Infof("Running server on port %d", port)
	sock, family, err := openFamily(rctx, s)
	if err != nil {
		return failed(err)
	}
	defer sock.Close()

	if err := sock.SetLocalPort(port); err != nil {
		return failed(err)
	}
	logrus.Debugf("Opened netlink socket with port %d", port)

	req := &exchange{
		family: family,
		schema: s,
		cmd:    s.Family.CmdRequest,
	}
	if err := sock.Recv(rctx, parsePayload, req); err != nil {
		return failed(err)
	}
	logrus.Debug("Message received, replying...")

	// the peer is a user space socket, nothing acknowledges the reply
	sock.SetPeerPort(req.from)
	sock.DisableAutoAck()
	msg, err := payloadMsg(s, family.ID, s.Family.CmdResponse, req.payload)
	if err != nil {
		return failed(err)
	}
	if err := sock.Send(msg); err != nil {
		return failed(err)
	}
	logrus.Debug("Reply sent, shutting down...")
	return nil
}

func client(ctx *cli.Context) error {
	s, err := loadSchema()
	if err != nil {
		return failed(err)
	}
	var port uint32
	var payload string
	switch ctx.Args().Len() {
	case 1:
		port, payload = s.Ports.Command, ctx.Args().First()
	case 2:
		if port, err = portArg(ctx, 0, s); err != nil {
			return err
		}
		payload = ctx.Args().Get(1)
	default:
		return cli.Exit("message is required", exitUsage)
	}

	rctx, cancel := runContext(ctx)
	defer cancel()

	sock, family, err := openFamily(rctx, s)
	if err != nil {
		return failed(err)
	}
	defer sock.Close()

	sock.SetPeerPort(port)
	sock.DisableAutoAck()
	logrus.Debugf("Opened netlink socket with peer port %d", port)

	msg, err := payloadMsg(s, family.ID, s.Family.CmdRequest, payload)
	if err != nil {
		return failed(err)
	}
	logrus.Debug("Assembled request message, sending...")
	if err := sock.Send(msg); err != nil {
		return failed(err)
	}
	logrus.Debug("Message sent")

	if !ctx.Bool("wait") {
		return nil
	}
	resp := &exchange{
		family: family,
		schema: s,
		cmd:    s.Family.CmdResponse,
	}
	if err := sock.Recv(rctx, parsePayload, resp); err != nil {
		return failed(err)
	}
	fmt.Println(resp.payload)
	return nil
}

func watch(ctx *cli.Context) error {
	sock, err := genl.OpenEventSocket("nlctrl", "notify", genl.NL_AUTO_PORT)
	if err != nil {
		return failed(err)
	}
	defer sock.Close()

	rctx, cancel := runContext(ctx)
	defer cancel()
	for rctx.Err() == nil {
		if err := sock.Recv(rctx, genl.TrackFamilies, nil); err != nil {
			if genl.KindOf(err) == genl.ErrTimeout && rctx.Err() != nil {
				return nil
			}
			return failed(err)
		}
	}
	return nil
}
