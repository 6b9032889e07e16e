//go:build linux
// +build linux

// Package genl implements generic netlink messaging routines.
//
// A Message is assembled with the attribute codec, handed to a Socket, and
// the replies are driven through Socket.Recv, which classifies every inbound
// frame (ack, done, error, payload) and hands payload frames to an
// application Handler. The shape follows libnl's nl_recvmsgs callback model,
// see http://www.infradead.org/~tgr/libnl/ for the original concepts.
//
package genl

import (
	"github.com/mdlayher/netlink/nlenc"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func align(size, tick int) int {
	return (size + tick - 1) &^ (tick - 1)
}

func NLMSG_ALIGN(size int) int {
	return align(size, unix.NLMSG_ALIGNTO)
}

func NLA_ALIGN(size int) int {
	return align(size, unix.NLA_ALIGNTO)
}

const (
	NLMSG_HDRLEN = unix.SizeofNlMsghdr
	NLA_HDRLEN   = unix.SizeofNlAttr
)

const NLA_TYPE_MASK = ^uint16(unix.NLA_F_NESTED | unix.NLA_F_NET_BYTEORDER)

// placeholders completed by Socket.Send
const NL_AUTO_PORT = 0
const NL_AUTO_SEQ = 0

// Msg is one netlink frame read from the kernel.
type Msg struct {
	Header unix.NlMsghdr
	Data   []byte // everything after the netlink header

	// ExpectedAttrs is copied from the receive state of the socket that
	// dispatched this frame.
	ExpectedAttrs int
}

// Genl returns the generic netlink sub-header.
func (self *Msg) Genl() (GenlMsghdr, error) {
	if len(self.Data) < SizeofGenlMsghdr {
		return GenlMsghdr{}, errors.Wrapf(ErrMalformedAttribute, "frame type %d too short for genl header", self.Header.Type)
	}
	return GenlMsghdr{
		Cmd:     self.Data[0],
		Version: self.Data[1],
	}, nil
}

// AttrData returns the attribute area after the genl header.
func (self *Msg) AttrData() ([]byte, error) {
	if len(self.Data) < GENL_HDRLEN {
		return nil, errors.Wrapf(ErrMalformedAttribute, "frame type %d too short for genl header", self.Header.Type)
	}
	return self.Data[GENL_HDRLEN:], nil
}

// Attrs decodes the attribute area into an index of types up to maxType.
func (self *Msg) Attrs(maxType uint16) (AttrIndex, error) {
	if data, err := self.AttrData(); err != nil {
		return nil, err
	} else {
		return DecodeAttrs(data, maxType)
	}
}

// ErrorCode returns the error field of an NLMSG_ERROR frame. Zero is an ACK,
// negative values are errno codes.
func (self *Msg) ErrorCode() (int32, error) {
	if self.Header.Type != unix.NLMSG_ERROR {
		return 0, errors.Wrapf(ErrInvalidArgument, "frame type %d is not NLMSG_ERROR", self.Header.Type)
	}
	if len(self.Data) < 4 {
		return 0, errors.Wrap(ErrMalformedAttribute, "truncated NLMSG_ERROR frame")
	}
	return nlenc.Int32(self.Data[0:4]), nil
}

func getHeader(b []byte) unix.NlMsghdr {
	return unix.NlMsghdr{
		Len:   nlenc.Uint32(b[0:4]),
		Type:  nlenc.Uint16(b[4:6]),
		Flags: nlenc.Uint16(b[6:8]),
		Seq:   nlenc.Uint32(b[8:12]),
		Pid:   nlenc.Uint32(b[12:16]),
	}
}

func putHeader(b []byte, hdr unix.NlMsghdr) {
	nlenc.PutUint32(b[0:4], hdr.Len)
	nlenc.PutUint16(b[4:6], hdr.Type)
	nlenc.PutUint16(b[6:8], hdr.Flags)
	nlenc.PutUint32(b[8:12], hdr.Seq)
	nlenc.PutUint32(b[12:16], hdr.Pid)
}

// parseMessages splits one datagram into frames.
func parseMessages(b []byte) ([]Msg, error) {
	var msgs []Msg
	for len(b) >= NLMSG_HDRLEN {
		hdr := getHeader(b)
		if int(hdr.Len) < NLMSG_HDRLEN || int(hdr.Len) > len(b) {
			return nil, errors.Wrapf(ErrMalformedAttribute, "frame declares %d bytes, %d left", hdr.Len, len(b))
		}
		msgs = append(msgs, Msg{
			Header: hdr,
			Data:   b[NLMSG_HDRLEN:hdr.Len],
		})
		if next := NLMSG_ALIGN(int(hdr.Len)); next < len(b) {
			b = b[next:]
		} else {
			b = nil
		}
	}
	return msgs, nil
}
