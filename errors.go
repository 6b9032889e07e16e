//go:build linux
// +build linux

package genl

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrorKind classifies every failure this package returns. Use KindOf or
// errors.Is to branch on it.
type ErrorKind int

const (
	ErrAllocation ErrorKind = iota + 1
	ErrTransport
	ErrFamilyNotFound
	ErrFamilyExists
	ErrSendFailed
	ErrMalformedAttribute
	ErrEncodingOverflow
	ErrMembershipFailed
	ErrInvalidState
	ErrRemote
	ErrInvalidArgument
	ErrTimeout
)

func (self ErrorKind) Error() string {
	switch self {
	default:
		return "Unspecific failure"
	case ErrAllocation:
		return "Allocation failure"
	case ErrTransport:
		return "Transport error"
	case ErrFamilyNotFound:
		return "Family not found"
	case ErrFamilyExists:
		return "Family exists"
	case ErrSendFailed:
		return "Send failed"
	case ErrMalformedAttribute:
		return "Malformed attribute"
	case ErrEncodingOverflow:
		return "Encoding overflow"
	case ErrMembershipFailed:
		return "Multicast membership failed"
	case ErrInvalidState:
		return "Invalid state"
	case ErrRemote:
		return "Kernel reported error"
	case ErrInvalidArgument:
		return "Invalid argument"
	case ErrTimeout:
		return "Timed out"
	}
}

// Error is a failure carrying an errno, either returned by a syscall or
// reported by the peer in an NLMSG_ERROR frame. Code is always positive.
type Error struct {
	Op   string
	Kind ErrorKind
	Code unix.Errno
	Err  error
}

func newError(op string, kind ErrorKind, err error) *Error {
	ret := &Error{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
	var inner *Error
	var errno unix.Errno
	if errors.As(err, &inner) && inner.Code != 0 {
		ret.Code = inner.Code
	} else if errors.As(err, &errno) {
		ret.Code = errno
	}
	return ret
}

func (self *Error) Error() string {
	s := self.Kind.Error()
	if self.Op != "" {
		s = self.Op + ": " + s
	}
	if self.Code != 0 {
		s += fmt.Sprintf(" code=%d (%s)", int(self.Code), self.Code.Error())
	}
	if self.Err != nil && !errors.Is(self.Err, self.Code) {
		s += ": " + self.Err.Error()
	}
	return s
}

// Unwrap exposes the kind first, then the cause, so both
// errors.Is(err, ErrSendFailed) and errors.As(err, &syscallErr) hold.
func (self *Error) Unwrap() []error {
	if self.Err == nil {
		return []error{self.Kind}
	}
	return []error{self.Kind, self.Err}
}

func (self *Error) Is(target error) bool {
	if errno, ok := target.(unix.Errno); ok && self.Code != 0 {
		return errno == self.Code
	}
	return false
}

// KindOf returns the kind of err, or zero for errors from elsewhere.
func KindOf(err error) ErrorKind {
	var kind ErrorKind
	if errors.As(err, &kind) {
		return kind
	}
	return 0
}
