//go:build linux
// +build linux

package genl

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Kind is the payload shape an attribute of a family is expected to have.
type Kind uint16

const (
	NLA_UNSPEC Kind = iota
	NLA_U8
	NLA_U16
	NLA_U32
	NLA_U64
	NLA_STRING
	NLA_FLAG
	NLA_MSECS
	NLA_NESTED
	NLA_NESTED_COMPAT
	NLA_NUL_STRING
	NLA_BINARY
	NLA_S8
	NLA_S16
	NLA_S32
	NLA_S64
)

func (self Kind) validate(attr Attr) error {
	switch self {
	case NLA_U8, NLA_S8:
		if len(attr.Payload) != 1 {
			return attr.malformed("u8")
		}
	case NLA_U16, NLA_S16:
		if len(attr.Payload) != 2 {
			return attr.malformed("u16")
		}
	case NLA_U32, NLA_S32:
		if len(attr.Payload) != 4 {
			return attr.malformed("u32")
		}
	case NLA_U64, NLA_S64, NLA_MSECS:
		if len(attr.Payload) != 8 {
			return attr.malformed("u64")
		}
	case NLA_FLAG:
		if len(attr.Payload) != 0 {
			return attr.malformed("a flag")
		}
	case NLA_NUL_STRING:
		if n := len(attr.Payload); n == 0 || attr.Payload[n-1] != 0 {
			return attr.malformed("NUL terminated")
		}
	case NLA_NESTED, NLA_NESTED_COMPAT:
		if _, err := ParseAttrs(attr.Payload); err != nil {
			return errors.Wrapf(err, "nested attribute %d", attr.Type)
		}
	}
	return nil
}

// Policy describes the type space of one attribute level: the highest type,
// the expected kind of each type, and names used by Dump. Types without a
// rule are accepted as opaque.
type Policy struct {
	Prefix  string
	MaxType uint16
	Names   map[uint16]string
	Rule    map[uint16]Kind
	Nested  map[uint16]Policy // inner policy of NLA_NESTED rules, optional
}

// Parse decodes b and validates every present attribute against its rule.
// A present but malformed attribute fails the whole parse.
func (self Policy) Parse(b []byte) (AttrIndex, error) {
	if idx, err := DecodeAttrs(b, self.MaxType); err != nil {
		return nil, err
	} else if err := self.Validate(idx); err != nil {
		return nil, err
	} else {
		return idx, nil
	}
}

func (self Policy) Validate(idx AttrIndex) error {
	for typ, attr := range idx {
		if kind, ok := self.Rule[typ]; ok {
			if err := kind.validate(attr); err != nil {
				return errors.Wrap(err, self.name(typ))
			}
		}
	}
	return nil
}

func (self Policy) name(typ uint16) string {
	if n, ok := self.Names[typ]; ok {
		return n
	}
	return fmt.Sprintf("%s_%d", self.Prefix, typ)
}

// Dump renders idx for logs.
func (self Policy) Dump(idx AttrIndex) string {
	var types []int
	for typ := range idx {
		types = append(types, int(typ))
	}
	sort.Ints(types)

	var comps []string
	for _, t := range types {
		typ := uint16(t)
		attr := idx[typ]
		comps = append(comps, fmt.Sprintf("%s: %s", self.name(typ), self.dumpValue(attr)))
	}
	return fmt.Sprintf("%s(%s)", self.Prefix, strings.Join(comps, ", "))
}

func (self Policy) dumpValue(attr Attr) string {
	switch self.Rule[attr.Type] {
	case NLA_U8:
		v, _ := attr.Uint8()
		return fmt.Sprint(v)
	case NLA_U16:
		v, _ := attr.Uint16()
		return fmt.Sprint(v)
	case NLA_U32:
		v, _ := attr.Uint32()
		return fmt.Sprint(v)
	case NLA_U64, NLA_MSECS:
		v, _ := attr.Uint64()
		return fmt.Sprint(v)
	case NLA_STRING, NLA_NUL_STRING:
		return fmt.Sprintf("%q", attr.Str())
	case NLA_FLAG:
		return "true"
	case NLA_NESTED, NLA_NESTED_COMPAT:
		if inner, ok := self.Nested[attr.Type]; ok {
			if idx, err := inner.Parse(attr.Payload); err == nil {
				return inner.Dump(idx)
			}
		}
		if list, err := attr.List(); err == nil {
			return fmt.Sprintf("[%d attrs]", len(list))
		}
	}
	return fmt.Sprintf("%x", attr.Payload)
}
