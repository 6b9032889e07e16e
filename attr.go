//go:build linux
// +build linux

package genl

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/mdlayher/netlink/nlenc"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Attr is a single netlink attribute. Payload aliases the buffer it was
// decoded from and excludes the alignment padding.
//
// Nested only mirrors the NLA_F_NESTED bit; senders are not required to set
// it, so callers decide from the type space whether to decode the payload
// as nested attributes.
type Attr struct {
	Type         uint16
	Nested       bool
	NetByteOrder bool
	Payload      []byte
}

func (self Attr) malformed(want string) error {
	return errors.Wrapf(ErrMalformedAttribute, "attribute %d: %d byte payload is not %s", self.Type, len(self.Payload), want)
}

func (self Attr) order() binary.ByteOrder {
	if self.NetByteOrder {
		return binary.BigEndian
	}
	return nlenc.NativeEndian()
}

func (self Attr) Uint8() (uint8, error) {
	if len(self.Payload) != 1 {
		return 0, self.malformed("u8")
	}
	return self.Payload[0], nil
}

func (self Attr) Uint16() (uint16, error) {
	if len(self.Payload) != 2 {
		return 0, self.malformed("u16")
	}
	return self.order().Uint16(self.Payload), nil
}

func (self Attr) Uint32() (uint32, error) {
	if len(self.Payload) != 4 {
		return 0, self.malformed("u32")
	}
	return self.order().Uint32(self.Payload), nil
}

func (self Attr) Uint64() (uint64, error) {
	if len(self.Payload) != 8 {
		return 0, self.malformed("u64")
	}
	return self.order().Uint64(self.Payload), nil
}

// Str returns the payload up to the first NUL.
func (self Attr) Str() string {
	if i := bytes.IndexByte(self.Payload, 0); i >= 0 {
		return string(self.Payload[:i])
	}
	return string(self.Payload)
}

func (self Attr) Bytes() []byte {
	return self.Payload
}

// List decodes the payload as a sequence of attributes, keeping order.
func (self Attr) List() (AttrList, error) {
	return ParseAttrs(self.Payload)
}

// AttrList keeps attributes in wire order, duplicates included.
type AttrList []Attr

// Get returns the first attribute of the type.
func (self AttrList) Get(typ uint16) (Attr, bool) {
	for _, attr := range self {
		if attr.Type == typ {
			return attr, true
		}
	}
	return Attr{}, false
}

// Index folds the list into an index. Later duplicates overwrite earlier
// ones and types above maxType are dropped, as nla_parse does.
func (self AttrList) Index(maxType uint16) AttrIndex {
	ret := make(AttrIndex)
	for _, attr := range self {
		if attr.Type <= maxType {
			ret[attr.Type] = attr
		}
	}
	return ret
}

// AttrIndex maps attribute types to attributes.
type AttrIndex map[uint16]Attr

// Get reports whether the attribute is present. Absence is not an error.
func (self AttrIndex) Get(typ uint16) (Attr, bool) {
	attr, ok := self[typ]
	return attr, ok
}

// ParseAttrs scans b for a flat sequence of attributes. Trailing bytes
// shorter than an attribute header are ignored.
func ParseAttrs(b []byte) (AttrList, error) {
	var ret AttrList
	for len(b) >= NLA_HDRLEN {
		length := int(nlenc.Uint16(b[0:2]))
		typ := nlenc.Uint16(b[2:4])
		if length < NLA_HDRLEN || length > len(b) {
			return nil, errors.Wrapf(ErrMalformedAttribute, "attribute %d declares %d bytes, %d left", typ&NLA_TYPE_MASK, length, len(b))
		}
		ret = append(ret, Attr{
			Type:         typ & NLA_TYPE_MASK,
			Nested:       typ&unix.NLA_F_NESTED != 0,
			NetByteOrder: typ&unix.NLA_F_NET_BYTEORDER != 0,
			Payload:      b[NLA_HDRLEN:length],
		})
		if next := NLA_ALIGN(length); next < len(b) {
			b = b[next:]
		} else {
			b = nil
		}
	}
	return ret, nil
}

// DecodeAttrs builds an index of the attributes in b with types up to
// maxType.
func DecodeAttrs(b []byte, maxType uint16) (AttrIndex, error) {
	if attrs, err := ParseAttrs(b); err != nil {
		return nil, err
	} else {
		return attrs.Index(maxType), nil
	}
}

// DecodeNested decodes the payload of attr in the inner type space the
// caller names; the wire carries no description of it.
func DecodeNested(attr Attr, maxInner uint16) (AttrIndex, error) {
	return DecodeAttrs(attr.Payload, maxInner)
}

// EncodeAttr appends one attribute record to b. v is one of uint8, uint16,
// uint32, uint64, string (sent with a terminating NUL) or []byte.
func EncodeAttr(b []byte, typ uint16, v interface{}) ([]byte, error) {
	if payload, err := attrPayload(v); err != nil {
		return b, errors.Wrapf(err, "attribute %d", typ)
	} else {
		return appendAttr(b, typ, payload)
	}
}

func attrPayload(v interface{}) ([]byte, error) {
	switch value := v.(type) {
	case uint8:
		return nlenc.Uint8Bytes(value), nil
	case uint16:
		return nlenc.Uint16Bytes(value), nil
	case uint32:
		return nlenc.Uint32Bytes(value), nil
	case uint64:
		return nlenc.Uint64Bytes(value), nil
	case string:
		return append([]byte(value), 0), nil
	case []byte:
		return value, nil
	}
	return nil, errors.Wrapf(ErrInvalidArgument, "unsupported attribute value %T", v)
}

func appendAttr(b []byte, typ uint16, payload []byte) ([]byte, error) {
	length := NLA_HDRLEN + len(payload)
	if length > math.MaxUint16 {
		return b, errors.Wrapf(ErrEncodingOverflow, "attribute %d needs %d bytes", typ&NLA_TYPE_MASK, length)
	}
	off := len(b)
	b = append(b, make([]byte, NLA_ALIGN(length))...)
	nlenc.PutUint16(b[off:off+2], uint16(length))
	nlenc.PutUint16(b[off+2:off+4], typ)
	copy(b[off+NLA_HDRLEN:], payload)
	return b, nil
}
