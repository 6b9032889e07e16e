//go:build linux
// +build linux

package genl

import (
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// conn is the kernel side of a Socket: one bound AF_NETLINK endpoint.
type conn interface {
	Send(b []byte, peer uint32) error
	Receive() ([]byte, error)
	JoinGroup(group uint32) error
	LeaveGroup(group uint32) error
	SetBufferSize(rx, tx int) error
	SetReadDeadline(t time.Time) error
	LocalPort() uint32
	Close() error
}

type dialFunc func(protocol int, port uint32) (conn, error)

const (
	NL_NO_AUTO_ACK = 1 << iota
)

// DefaultBufferSize is applied to SO_RCVBUF and SO_SNDBUF on open, as
// libnl does.
const DefaultBufferSize = 32768

// Socket is a netlink endpoint with its receive callbacks. It is not safe
// for concurrent use; distinct Sockets are independent.
type Socket struct {
	Protocol int
	Log      *logrus.Entry

	dial     dialFunc
	conn     conn
	peer     uint32
	seqNext  uint32
	flags    int
	rxBuf    int
	txBuf    int
	groups   map[uint32]bool
	cb       *callbackSet
	handle   recvHandle
	families map[string]Family
	closed   bool
}

// Open binds a netlink socket of protocol to port. Port 0 lets the kernel
// pick one.
func Open(protocol int, port uint32) (*Socket, error) {
	return open(dialSys, protocol, port)
}

func OpenGeneric(port uint32) (*Socket, error) {
	return Open(unix.NETLINK_GENERIC, port)
}

func open(dial dialFunc, protocol int, port uint32) (*Socket, error) {
	c, err := dial(protocol, port)
	if err != nil {
		return nil, newError("open", ErrTransport, err)
	}
	if err := c.SetBufferSize(DefaultBufferSize, DefaultBufferSize); err != nil {
		c.Close()
		return nil, newError("open", ErrTransport, err)
	}
	self := &Socket{
		Protocol: protocol,
		Log: logrus.WithFields(logrus.Fields{
			"protocol": protocol,
			"port":     c.LocalPort(),
		}),
		dial:     dial,
		conn:     c,
		seqNext:  uint32(time.Now().Unix()),
		rxBuf:    DefaultBufferSize,
		txBuf:    DefaultBufferSize,
		groups:   make(map[uint32]bool),
		cb:       defaultCallbacks(),
		families: make(map[string]Family),
	}
	self.handle = handles.acquire(&RecvState{log: self.Log})
	self.Log.Debug("netlink socket open")
	return self, nil
}

func (self *Socket) usable(op string) error {
	if self == nil || self.closed {
		return newError(op, ErrInvalidState, errors.New("socket closed"))
	}
	return nil
}

func (self *Socket) LocalPort() uint32 {
	if self.closed {
		return 0
	}
	return self.conn.LocalPort()
}

func (self *Socket) PeerPort() uint32 {
	return self.peer
}

// complete fills the fields left to the socket, the way nl_complete_msg
// does.
func (self *Socket) complete(hdr *unix.NlMsghdr) {
	if hdr.Pid == NL_AUTO_PORT {
		hdr.Pid = self.conn.LocalPort()
	}
	if hdr.Seq == NL_AUTO_SEQ {
		hdr.Seq = self.seqNext
		self.seqNext++
	}
	hdr.Flags |= unix.NLM_F_REQUEST
	if self.flags&NL_NO_AUTO_ACK == 0 {
		hdr.Flags |= unix.NLM_F_ACK
	}
}

// Send completes the header of msg and writes it to the peer port. msg is
// released whether or not the write succeeds.
func (self *Socket) Send(msg *Message) error {
	defer msg.Free()

	if err := self.usable("send"); err != nil {
		return err
	}
	b, err := msg.Bytes()
	if err != nil {
		return err
	}
	hdr := getHeader(b)
	self.complete(&hdr)
	putHeader(b, hdr)

	if st, err := handles.lookup(self.handle); err == nil {
		st.SeqExpect = hdr.Seq
	}
	self.Log.WithFields(logrus.Fields{
		"type": hdr.Type,
		"seq":  hdr.Seq,
		"peer": self.peer,
		"len":  hdr.Len,
	}).Debug("send")
	if self.Log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		self.Log.Trace("\n" + hex.Dump(b))
	}
	if err := self.conn.Send(b, self.peer); err != nil {
		return newError("send", ErrSendFailed, err)
	}
	return nil
}

func (self *Socket) JoinGroup(group uint32) error {
	if err := self.usable("join"); err != nil {
		return err
	}
	if err := self.conn.JoinGroup(group); err != nil {
		return newError("join", ErrMembershipFailed, err)
	}
	self.groups[group] = true
	self.Log.WithField("group", group).Debug("joined multicast group")
	return nil
}

func (self *Socket) LeaveGroup(group uint32) error {
	if err := self.usable("leave"); err != nil {
		return err
	}
	if err := self.conn.LeaveGroup(group); err != nil {
		return newError("leave", ErrMembershipFailed, err)
	}
	delete(self.groups, group)
	return nil
}

// SetLocalPort moves the socket to port. A bound netlink socket cannot be
// re-bound, so a new kernel connection replaces the old one and inherits
// its buffer sizes and group memberships.
func (self *Socket) SetLocalPort(port uint32) error {
	if err := self.usable("bind"); err != nil {
		return err
	}
	c, err := self.dial(self.Protocol, port)
	if err != nil {
		return newError("bind", ErrTransport, err)
	}
	if err := c.SetBufferSize(self.rxBuf, self.txBuf); err != nil {
		c.Close()
		return newError("bind", ErrTransport, err)
	}
	for group := range self.groups {
		if err := c.JoinGroup(group); err != nil {
			c.Close()
			return newError("bind", ErrMembershipFailed, err)
		}
	}
	if err := self.conn.Close(); err != nil {
		self.Log.WithError(err).Warn("closing previous connection")
	}
	self.conn = c
	self.Log = self.Log.WithField("port", c.LocalPort())
	if st, err := handles.lookup(self.handle); err == nil {
		st.log = self.Log
	}
	return nil
}

// SetPeerPort sets the destination of later sends. 0 is the kernel.
func (self *Socket) SetPeerPort(port uint32) {
	self.peer = port
}

// SetBufferSize sets the socket buffer sizes. Non-positive values select
// DefaultBufferSize.
func (self *Socket) SetBufferSize(rx, tx int) error {
	if err := self.usable("setsockopt"); err != nil {
		return err
	}
	if rx <= 0 {
		rx = DefaultBufferSize
	}
	if tx <= 0 {
		tx = DefaultBufferSize
	}
	if err := self.conn.SetBufferSize(rx, tx); err != nil {
		return newError("setsockopt", ErrTransport, err)
	}
	self.rxBuf, self.txBuf = rx, tx
	return nil
}

// DisableAutoAck stops Send from requesting an ACK.
func (self *Socket) DisableAutoAck() {
	self.flags |= NL_NO_AUTO_ACK
}

func (self *Socket) EnableAutoAck() {
	self.flags &^= NL_NO_AUTO_ACK
}

// SetSeqCheck makes the receive loop skip frames whose sequence number
// differs from the last one sent. It is off by default.
func (self *Socket) SetSeqCheck(on bool) {
	if on {
		self.cb.seqCheck = checkSeq
	} else {
		self.cb.seqCheck = acceptSeq
	}
}

// Close releases the kernel connection and the receive state. Calling it
// again is a no-op.
func (self *Socket) Close() error {
	if self == nil || self.closed {
		return nil
	}
	self.closed = true
	handles.release(self.handle)
	self.handle = 0
	if err := self.conn.Close(); err != nil {
		return newError("close", ErrTransport, err)
	}
	self.Log.Debug("netlink socket closed")
	return nil
}
