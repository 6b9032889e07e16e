//go:build linux
// +build linux

package genl

import (
	"math"
	"unsafe"

	"github.com/mdlayher/netlink/nlenc"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// DefaultMessageSize is the ceiling of a Message built by NewMessage, the
// page size as in libnl.
var DefaultMessageSize = unix.Getpagesize()

type msgState int

const (
	msgEmpty msgState = iota
	msgHeaderWritten
	msgAttrsWritten
	msgReleased
)

// Message builds one netlink datagram: the netlink header, an optional genl
// header, then attributes. At most one nested attribute is open at a time;
// it is tracked by its offset so the buffer may grow underneath.
//
// A Message is consumed by Socket.Send. Every later call fails with
// ErrInvalidState.
type Message struct {
	buf   []byte
	max   int
	state msgState
	nest  int // offset of the open nested attribute, -1 if none
}

func NewMessage() *Message {
	msg, _ := NewMessageSize(DefaultMessageSize)
	return msg
}

// NewMessageSize returns a Message that refuses to grow beyond max bytes.
func NewMessageSize(max int) (*Message, error) {
	if max < NLMSG_HDRLEN+GENL_HDRLEN {
		return nil, errors.Wrapf(ErrAllocation, "message size %d below header size", max)
	}
	return &Message{
		buf:  make([]byte, NLMSG_HDRLEN, max),
		max:  max,
		nest: -1,
	}, nil
}

func (self *Message) writable() error {
	if self == nil || self.state == msgReleased {
		return errors.Wrap(ErrInvalidState, "message already sent or freed")
	}
	return nil
}

func (self *Message) reserve(n int) error {
	if len(self.buf)+n > self.max {
		return errors.Wrapf(ErrEncodingOverflow, "%d more bytes do not fit, %d of %d used", n, len(self.buf), self.max)
	}
	return nil
}

// PutHeader writes the genl header with version 0 and sets the netlink type
// to the family id.
func (self *Message) PutHeader(cmd uint8, family uint16) error {
	return self.PutGenlHeader(family, GenlMsghdr{Cmd: cmd})
}

func (self *Message) PutGenlHeader(family uint16, hdr GenlMsghdr) error {
	if err := self.writable(); err != nil {
		return err
	}
	if self.state != msgEmpty {
		return errors.Wrap(ErrInvalidState, "genl header must be written once, before any attribute")
	}
	if err := self.reserve(GENL_HDRLEN); err != nil {
		return err
	}
	self.buf = append(self.buf, make([]byte, GENL_HDRLEN)...)
	self.buf[NLMSG_HDRLEN] = hdr.Cmd
	self.buf[NLMSG_HDRLEN+1] = hdr.Version
	nlenc.PutUint16(self.buf[4:6], family)
	self.state = msgHeaderWritten
	return nil
}

// SetFlags ORs netlink header flags, NLM_F_DUMP for instance. REQUEST and
// ACK are added by Socket.Send.
func (self *Message) SetFlags(flags uint16) error {
	if err := self.writable(); err != nil {
		return err
	}
	nlenc.PutUint16(self.buf[6:8], nlenc.Uint16(self.buf[6:8])|flags)
	return nil
}

func (self *Message) put(typ uint16, payload []byte) error {
	if err := self.writable(); err != nil {
		return err
	}
	if err := self.reserve(NLA_ALIGN(NLA_HDRLEN + len(payload))); err != nil {
		return errors.Wrapf(err, "attribute %d", typ)
	}
	if buf, err := appendAttr(self.buf, typ, payload); err != nil {
		return err
	} else {
		self.buf = buf
	}
	self.state = msgAttrsWritten
	return nil
}

func (self *Message) PutU8(typ uint16, v uint8) error {
	return self.put(typ, nlenc.Uint8Bytes(v))
}

func (self *Message) PutU16(typ uint16, v uint16) error {
	return self.put(typ, nlenc.Uint16Bytes(v))
}

func (self *Message) PutU32(typ uint16, v uint32) error {
	return self.put(typ, nlenc.Uint32Bytes(v))
}

func (self *Message) PutU64(typ uint16, v uint64) error {
	return self.put(typ, nlenc.Uint64Bytes(v))
}

// PutString writes v with its terminating NUL counted in the length.
func (self *Message) PutString(typ uint16, v string) error {
	return self.put(typ, append([]byte(v), 0))
}

func (self *Message) PutBytes(typ uint16, v []byte) error {
	return self.put(typ, v)
}

func (self *Message) PutFlag(typ uint16) error {
	return self.put(typ, nil)
}

// Fixed is the set of integer types PutAttr accepts.
type Fixed interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// PutAttr writes v with its natural width.
func PutAttr[T Fixed](msg *Message, typ uint16, v T) error {
	switch unsafe.Sizeof(v) {
	case 1:
		return msg.PutU8(typ, uint8(v))
	case 2:
		return msg.PutU16(typ, uint16(v))
	case 4:
		return msg.PutU32(typ, uint32(v))
	}
	return msg.PutU64(typ, uint64(v))
}

// StartNested opens a nested attribute; attributes written until EndNested
// become its payload.
func (self *Message) StartNested(typ uint16) error {
	if err := self.writable(); err != nil {
		return err
	}
	if self.nest >= 0 {
		return errors.Wrap(ErrInvalidState, "nested attribute already open")
	}
	off := len(self.buf)
	if err := self.put(typ|unix.NLA_F_NESTED, nil); err != nil {
		return err
	}
	self.nest = off
	return nil
}

func (self *Message) EndNested() error {
	if err := self.writable(); err != nil {
		return err
	}
	if self.nest < 0 {
		return errors.Wrap(ErrInvalidState, "no nested attribute open")
	}
	length := len(self.buf) - self.nest
	if length > math.MaxUint16 {
		return errors.Wrapf(ErrEncodingOverflow, "nested attribute needs %d bytes", length)
	}
	nlenc.PutUint16(self.buf[self.nest:self.nest+2], uint16(length))
	self.nest = -1
	return nil
}

// Len is the current datagram length.
func (self *Message) Len() int {
	if self == nil {
		return 0
	}
	return len(self.buf)
}

// Bytes finalizes the netlink length and returns the datagram. The slice is
// owned by the Message.
func (self *Message) Bytes() ([]byte, error) {
	if err := self.writable(); err != nil {
		return nil, err
	}
	if self.nest >= 0 {
		return nil, errors.Wrap(ErrInvalidState, "nested attribute still open")
	}
	nlenc.PutUint32(self.buf[0:4], uint32(len(self.buf)))
	return self.buf, nil
}

// Free releases the buffer. Calling it again is a no-op.
func (self *Message) Free() {
	if self == nil {
		return
	}
	self.buf = nil
	self.nest = -1
	self.state = msgReleased
}
